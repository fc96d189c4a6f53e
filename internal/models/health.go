package models

import "time"

// DataFreshness describes how recent the live bus data is
type DataFreshness struct {
	LastPolledAt *time.Time `json:"lastPolledAt"`
	AgeSeconds   int        `json:"ageSeconds"`
	Status       string     `json:"status"` // "fresh", "stale", "unavailable"
	BusCount     int        `json:"busCount"`
}

// FreshnessStatus constants
const (
	FreshnessFresh       = "fresh"       // < 60s
	FreshnessStale       = "stale"       // 60s - 5min
	FreshnessUnavailable = "unavailable" // > 5min or no data
)

// CalculateFreshnessStatus returns the freshness status based on age
func CalculateFreshnessStatus(ageSeconds int) string {
	if ageSeconds < 0 {
		return FreshnessUnavailable
	}
	if ageSeconds < 60 {
		return FreshnessFresh
	}
	if ageSeconds < 300 {
		return FreshnessStale
	}
	return FreshnessUnavailable
}

// NewDataFreshness builds the freshness report for the latest snapshot
func NewDataFreshness(polledAt *time.Time, busCount int, now time.Time) DataFreshness {
	f := DataFreshness{LastPolledAt: polledAt, BusCount: busCount, AgeSeconds: -1}
	if polledAt != nil {
		f.AgeSeconds = int(now.Sub(*polledAt).Seconds())
	}
	f.Status = CalculateFreshnessStatus(f.AgeSeconds)
	return f
}
