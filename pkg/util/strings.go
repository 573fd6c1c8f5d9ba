package util

import (
	"strconv"
	"strings"
)

// ParseFloat parses a decimal string, tolerating surrounding spaces.
func ParseFloat(s string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
