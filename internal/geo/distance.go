// Package geo holds the distance math used to filter vehicles around a
// reference point.
package geo

import (
	"fmt"
	"math"
	"strings"
)

// earthRadiusKm is the WGS-84 mean radius
const earthRadiusKm = 6371.0088

const kmPerMile = 1.609344

// Unit is the display unit for distances (and the matching speed unit)
type Unit string

const (
	Kilometers Unit = "km"
	Miles      Unit = "mi"
)

// ParseUnit accepts "km"/"kilometers" and "mi"/"miles"
func ParseUnit(s string) (Unit, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "km", "kilometers", "kilometres":
		return Kilometers, nil
	case "mi", "mile", "miles":
		return Miles, nil
	}
	return "", fmt.Errorf("unknown distance unit %q", s)
}

// SpeedLabel returns the speed unit shown next to converted speeds
func (u Unit) SpeedLabel() string {
	if u == Miles {
		return "mph"
	}
	return "km/h"
}

// Point is a WGS-84 coordinate in decimal degrees
type Point struct {
	Lat float64 `json:"latitude" yaml:"latitude"`
	Lon float64 `json:"longitude" yaml:"longitude"`
}

// IsZero reports the feed convention for "no fix": both coordinates exactly zero
func (p Point) IsZero() bool {
	return p.Lat == 0 && p.Lon == 0
}

// Distance returns the great-circle distance between a and b in the given unit
func Distance(a, b Point, unit Unit) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	deltaLat := (b.Lat - a.Lat) * math.Pi / 180
	deltaLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*
			math.Sin(deltaLon/2)*math.Sin(deltaLon/2)

	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return fromKilometers(earthRadiusKm*c, unit)
}

// Destination returns the point reached by travelling dist (in unit) from p
// along the initial bearing (degrees clockwise from north).
func Destination(p Point, bearingDeg, dist float64, unit Unit) Point {
	delta := toKilometers(dist, unit) / earthRadiusKm
	theta := bearingDeg * math.Pi / 180
	lat1 := p.Lat * math.Pi / 180
	lon1 := p.Lon * math.Pi / 180

	lat2 := math.Asin(math.Sin(lat1)*math.Cos(delta) +
		math.Cos(lat1)*math.Sin(delta)*math.Cos(theta))
	lon2 := lon1 + math.Atan2(math.Sin(theta)*math.Sin(delta)*math.Cos(lat1),
		math.Cos(delta)-math.Sin(lat1)*math.Sin(lat2))

	return Point{Lat: lat2 * 180 / math.Pi, Lon: lon2 * 180 / math.Pi}
}

// KilometersToMiles converts kilometers to statute miles
func KilometersToMiles(km float64) float64 {
	return km / kmPerMile
}

// SpeedFromMetersPerSecond converts a feed speed (m/s) to km/h or mph
func SpeedFromMetersPerSecond(mps float64, unit Unit) float64 {
	kmh := mps * 3.6
	if unit == Miles {
		return KilometersToMiles(kmh)
	}
	return kmh
}

// Round2 rounds to two decimals for display
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func fromKilometers(km float64, unit Unit) float64 {
	if unit == Miles {
		return KilometersToMiles(km)
	}
	return km
}

func toKilometers(v float64, unit Unit) float64 {
	if unit == Miles {
		return v * kmPerMile
	}
	return v
}
