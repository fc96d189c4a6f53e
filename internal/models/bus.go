package models

import (
	"errors"
	"time"
)

// Bus is the live snapshot of one vehicle, keyed by its external label
type Bus struct {
	ID        int64  `json:"id"`
	BusNumber string `json:"busNumber"`
	RouteID   string `json:"routeId"`
	Route     string `json:"route"`

	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Speed     float64 `json:"speed"`
	Bearing   float64 `json:"bearing"`
	TripID    string  `json:"tripId,omitempty"`
	NextStop  string  `json:"nextStop,omitempty"`

	LastUpdated         time.Time `json:"lastUpdated"`
	DistanceToReference float64   `json:"distanceToReference"`
	IsActive            bool      `json:"isActive"`

	// Owned by the booking side; the updater never overwrites these
	Capacity        int     `json:"capacity"`
	Fare            float64 `json:"fare"`
	CurrentLocation string  `json:"currentLocation,omitempty"`
	RouteType       string  `json:"routeType,omitempty"`
	AgencyID        string  `json:"agencyId,omitempty"`
}

// Validate checks the invariants every stored or returned bus must hold
func (b *Bus) Validate() error {
	if b.BusNumber == "" {
		return errors.New("bus_number is required")
	}
	if b.RouteID == "" {
		return errors.New("route_id is required")
	}
	if !ValidRouteLabel(b.Route) {
		return errors.New("route must be \"{short} - {long}\"")
	}
	if b.Latitude < -90 || b.Latitude > 90 {
		return errors.New("latitude out of range")
	}
	if b.Longitude < -180 || b.Longitude > 180 {
		return errors.New("longitude out of range")
	}
	return nil
}
