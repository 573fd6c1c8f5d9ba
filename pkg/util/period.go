package util

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Period is a look-back window such as "5d", "1mo", "2y" or "max".
type Period struct {
	N    int
	Unit string // d, wk, mo, y, max
}

// ParsePeriod parses the provider-neutral period notation.
func ParsePeriod(s string) (Period, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "max" {
		return Period{Unit: "max"}, nil
	}
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i == 0 || i == len(s) {
		return Period{}, fmt.Errorf("invalid period %q", s)
	}
	n, err := strconv.Atoi(s[:i])
	if err != nil || n <= 0 {
		return Period{}, fmt.Errorf("invalid period %q", s)
	}
	unit := s[i:]
	switch unit {
	case "d", "wk", "mo", "y":
	default:
		return Period{}, fmt.Errorf("invalid period unit %q", unit)
	}
	return Period{N: n, Unit: unit}, nil
}

func (p Period) String() string {
	if p.Unit == "max" {
		return "max"
	}
	return strconv.Itoa(p.N) + p.Unit
}

// Start returns the beginning of the window ending at now.
// A "max" period has a zero start.
func (p Period) Start(now time.Time) time.Time {
	switch p.Unit {
	case "d":
		return now.AddDate(0, 0, -p.N)
	case "wk":
		return now.AddDate(0, 0, -7*p.N)
	case "mo":
		return now.AddDate(0, -p.N, 0)
	case "y":
		return now.AddDate(-p.N, 0, 0)
	default:
		return time.Time{}
	}
}

// TradingDays approximates how many daily bars the period spans.
func (p Period) TradingDays() int {
	switch p.Unit {
	case "d":
		return p.N
	case "wk":
		return 5 * p.N
	case "mo":
		return 21 * p.N
	case "y":
		return 252 * p.N
	default:
		return 1 << 20
	}
}
