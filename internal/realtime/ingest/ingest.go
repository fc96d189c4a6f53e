// Package ingest turns raw vehicle position entities into the filtered,
// routed, distance-sorted bus snapshot the updater commits.
package ingest

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	gtfs "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/rs/zerolog/log"

	"github.com/campus-transit/transitbook/internal/geo"
	"github.com/campus-transit/transitbook/internal/models"
)

// VehicleSource supplies raw vehicle position entities
type VehicleSource interface {
	VehiclePositions(ctx context.Context) ([]*gtfs.FeedEntity, error)
}

// RouteLookup resolves route ids to usable routes
type RouteLookup interface {
	Get(routeID string) (models.RouteInfo, bool)
}

// refresher is implemented by route lookups that can reload themselves
type refresher interface {
	EnsureFresh(ctx context.Context)
}

// Stats counts what one snapshot kept and why the rest was dropped
type Stats struct {
	Entities    int
	Deleted     int
	Malformed   int
	NoFix       int
	OutOfRadius int
	Unroutable  int
	Duplicates  int
	Kept        int
}

// Ingester builds bus snapshots from a vehicle feed and a route lookup
type Ingester struct {
	source VehicleSource
	routes RouteLookup
	unit   geo.Unit
	now    func() time.Time

	// routes resolved by the last BuildSnapshot, keyed by route id
	mu       sync.Mutex
	resolved map[string]models.RouteInfo
}

// New creates an Ingester reporting distances and speeds in unit
func New(source VehicleSource, routes RouteLookup, unit geo.Unit) *Ingester {
	if unit == "" {
		unit = geo.Kilometers
	}
	return &Ingester{
		source: source,
		routes: routes,
		unit:   unit,
		now:    time.Now,
	}
}

type candidate struct {
	bus      models.Bus
	route    models.RouteInfo
	distance float64
}

// BuildSnapshot fetches vehicle positions and returns the buses within
// radius of ref (inclusive) whose route resolves, nearest first. Deleted
// entities, entities without a vehicle label and (0,0) fixes are dropped.
// When a label repeats, the later entity wins. Only a failed fetch is an
// error; every per-vehicle problem is a counted drop.
func (in *Ingester) BuildSnapshot(ctx context.Context, ref geo.Point, radius float64) ([]models.Bus, Stats, error) {
	var stats Stats

	entities, err := in.source.VehiclePositions(ctx)
	if err != nil {
		return nil, stats, err
	}
	stats.Entities = len(entities)

	// Once per snapshot, never per vehicle
	if r, ok := in.routes.(refresher); ok {
		r.EnsureFresh(ctx)
	}

	polledAt := in.now().UTC()
	byLabel := make(map[string]int)
	var kept []candidate

	for _, entity := range entities {
		if entity.GetIsDeleted() {
			stats.Deleted++
			continue
		}

		vehicle := entity.GetVehicle()
		label := strings.TrimSpace(vehicle.GetVehicle().GetLabel())
		if vehicle == nil || label == "" {
			stats.Malformed++
			continue
		}

		pos := vehicle.GetPosition()
		point := geo.Point{Lat: float64(pos.GetLatitude()), Lon: float64(pos.GetLongitude())}
		if pos == nil || point.IsZero() {
			stats.NoFix++
			continue
		}
		if !validCoordinate(point) {
			stats.Malformed++
			continue
		}

		distance := geo.Distance(ref, point, in.unit)
		if distance > radius {
			stats.OutOfRadius++
			continue
		}

		routeID := strings.TrimSpace(vehicle.GetTrip().GetRouteId())
		route, ok := in.routes.Get(routeID)
		if routeID == "" || !ok {
			stats.Unroutable++
			log.Debug().Str("bus_number", label).Str("route_id", routeID).Msg("Dropping unroutable vehicle")
			continue
		}

		lastUpdated := polledAt
		if ts := vehicle.GetTimestamp(); ts > 0 {
			lastUpdated = time.Unix(int64(ts), 0).UTC()
		}

		c := candidate{
			route:    route,
			distance: distance,
			bus: models.Bus{
				BusNumber:           label,
				RouteID:             route.RouteID,
				Route:               route.DisplayName(),
				Latitude:            point.Lat,
				Longitude:           point.Lon,
				Speed:               geo.Round2(geo.SpeedFromMetersPerSecond(float64(pos.GetSpeed()), in.unit)),
				Bearing:             float64(pos.GetBearing()),
				TripID:              vehicle.GetTrip().GetTripId(),
				NextStop:            vehicle.GetStopId(),
				LastUpdated:         lastUpdated,
				DistanceToReference: geo.Round2(distance),
				IsActive:            true,
			},
		}

		if i, seen := byLabel[label]; seen {
			stats.Duplicates++
			kept[i] = c
			continue
		}
		byLabel[label] = len(kept)
		kept = append(kept, c)
	}

	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].distance != kept[j].distance {
			return kept[i].distance < kept[j].distance
		}
		return kept[i].bus.BusNumber < kept[j].bus.BusNumber
	})

	buses := make([]models.Bus, len(kept))
	resolved := make(map[string]models.RouteInfo)
	for i, c := range kept {
		buses[i] = c.bus
		resolved[c.route.RouteID] = c.route
	}
	stats.Kept = len(buses)

	in.mu.Lock()
	in.resolved = resolved
	in.mu.Unlock()

	log.Debug().
		Int("entities", stats.Entities).
		Int("kept", stats.Kept).
		Int("deleted", stats.Deleted).
		Int("no_fix", stats.NoFix).
		Int("out_of_radius", stats.OutOfRadius).
		Int("unroutable", stats.Unroutable).
		Int("malformed", stats.Malformed).
		Msg("Snapshot built")

	return buses, stats, nil
}

func validCoordinate(p geo.Point) bool {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lon) {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lon >= -180 && p.Lon <= 180
}

// RoutesFor returns the distinct routes referenced by buses, in first-seen
// order. A route is taken as it was when the last snapshot was built, so a
// cache refresh in between cannot lose it; otherwise the lookup is asked.
// Routes known to neither are left out.
func (in *Ingester) RoutesFor(buses []models.Bus) []models.RouteInfo {
	in.mu.Lock()
	resolved := in.resolved
	in.mu.Unlock()

	seen := make(map[string]bool)
	var routes []models.RouteInfo
	for _, b := range buses {
		if seen[b.RouteID] {
			continue
		}
		seen[b.RouteID] = true

		if r, ok := resolved[b.RouteID]; ok {
			routes = append(routes, r)
			continue
		}
		if r, ok := in.routes.Get(b.RouteID); ok {
			routes = append(routes, r)
			continue
		}
		log.Warn().Str("route_id", b.RouteID).Str("bus_number", b.BusNumber).Msg("Route unknown when storing snapshot")
	}
	return routes
}
