package models

import (
	"fmt"
	"strings"
)

// RouteInfo is one usable entry of the static route dataset.
// Entries are immutable once loaded; a cache refresh replaces them wholesale.
type RouteInfo struct {
	RouteID   string `json:"routeId"`
	ShortName string `json:"shortName"`
	LongName  string `json:"longName"`
}

// DisplayName is the "{short} - {long}" form shown for buses on this route
func (r RouteInfo) DisplayName() string {
	return fmt.Sprintf("%s - %s", r.ShortName, r.LongName)
}

// Routable reports whether the record is good enough to label a bus with.
// Records with an empty name, a long name that only restates the short
// name ("Route 12"), or any "Unknown" placeholder are not.
func (r RouteInfo) Routable() bool {
	short := strings.TrimSpace(r.ShortName)
	long := strings.TrimSpace(r.LongName)

	if r.RouteID == "" || short == "" || long == "" {
		return false
	}
	if strings.EqualFold(long, short) || strings.EqualFold(long, "Route "+short) {
		return false
	}
	if containsUnknown(short) || containsUnknown(long) {
		return false
	}
	return true
}

// ValidRouteLabel checks a denormalised bus route label against the
// "{short} - {long}" contract.
func ValidRouteLabel(label string) bool {
	short, long, ok := strings.Cut(label, " - ")
	if !ok {
		return false
	}
	return RouteInfo{RouteID: "-", ShortName: short, LongName: long}.Routable()
}

func containsUnknown(s string) bool {
	return strings.Contains(strings.ToLower(s), "unknown")
}
