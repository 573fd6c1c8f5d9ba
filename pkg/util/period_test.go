package util

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePeriod(t *testing.T) {
	cases := map[string]Period{
		"5d":  {N: 5, Unit: "d"},
		"1mo": {N: 1, Unit: "mo"},
		"2Y":  {N: 2, Unit: "y"},
		"max": {Unit: "max"},
	}
	for in, want := range cases {
		got, err := ParsePeriod(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, bad := range []string{"", "mo", "0d", "3q", "12"} {
		_, err := ParsePeriod(bad)
		assert.Error(t, err, bad)
	}
}

func TestPeriodStartAndDays(t *testing.T) {
	now := time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC)
	p, err := ParsePeriod("1mo")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 5, 30, 0, 0, 0, 0, time.UTC), p.Start(now))
	assert.Equal(t, 21, p.TradingDays())
	assert.Equal(t, "1mo", p.String())

	p, err = ParsePeriod("2y")
	require.NoError(t, err)
	assert.Equal(t, 504, p.TradingDays())
}
