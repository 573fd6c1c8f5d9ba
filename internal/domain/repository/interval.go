package repository

import "strings"

// Interval is the bar resolution requested from a provider.
type Interval string

const (
	Interval1h  Interval = "1h"
	Interval1d  Interval = "1d"
	Interval1wk Interval = "1wk"
)

// IsValidInterval returns true if iv is a supported interval.
func IsValidInterval(iv Interval) bool {
	switch iv {
	case Interval1h, Interval1d, Interval1wk:
		return true
	default:
		return false
	}
}

// DefaultInterval returns the default interval.
func DefaultInterval() Interval { return Interval1d }

// NormalizeInterval converts a raw string to a valid interval (or default).
func NormalizeInterval(s string) Interval {
	iv := Interval(strings.ToLower(strings.TrimSpace(s)))
	if IsValidInterval(iv) {
		return iv
	}
	return DefaultInterval()
}

// HistoryParams selects how much history to fetch. Period uses the
// provider-neutral form "5d", "1mo", "3mo", "1y", "2y".
type HistoryParams struct {
	Period   string
	Interval Interval
}

// Normalize fills defaults.
func (p HistoryParams) Normalize() HistoryParams {
	if p.Period == "" {
		p.Period = "1mo"
	}
	p.Interval = NormalizeInterval(string(p.Interval))
	return p
}
