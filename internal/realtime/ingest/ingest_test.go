package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	gtfs "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"

	"github.com/campus-transit/transitbook/internal/geo"
	"github.com/campus-transit/transitbook/internal/models"
)

var campus = geo.Point{Lat: 41.2927, Lon: -72.9606}

type stubSource struct {
	entities []*gtfs.FeedEntity
	err      error
}

func (s stubSource) VehiclePositions(context.Context) ([]*gtfs.FeedEntity, error) {
	return s.entities, s.err
}

type stubRoutes struct {
	routes    map[string]models.RouteInfo
	refreshes int
}

func (s *stubRoutes) Get(id string) (models.RouteInfo, bool) {
	r, ok := s.routes[id]
	return r, ok
}

func (s *stubRoutes) EnsureFresh(context.Context) { s.refreshes++ }

func newRoutes() *stubRoutes {
	return &stubRoutes{routes: map[string]models.RouteInfo{
		"R1": {RouteID: "R1", ShortName: "12", LongName: "Downtown Loop"},
		"R2": {RouteID: "R2", ShortName: "D", LongName: "Dixwell Avenue"},
	}}
}

// at places a point dist km from campus, snapped to the feed's float32 precision
func at(bearing, dist float64) geo.Point {
	p := geo.Destination(campus, bearing, dist, geo.Kilometers)
	return geo.Point{Lat: float64(float32(p.Lat)), Lon: float64(float32(p.Lon))}
}

func vehicle(label, routeID string, p geo.Point) *gtfs.FeedEntity {
	return &gtfs.FeedEntity{
		Id: proto.String("e-" + label),
		Vehicle: &gtfs.VehiclePosition{
			Trip:     &gtfs.TripDescriptor{RouteId: proto.String(routeID), TripId: proto.String("T-" + label)},
			Vehicle:  &gtfs.VehicleDescriptor{Label: proto.String(label)},
			Position: &gtfs.Position{Latitude: proto.Float32(float32(p.Lat)), Longitude: proto.Float32(float32(p.Lon)), Speed: proto.Float32(10)},
		},
	}
}

func newIngester(entities []*gtfs.FeedEntity, routes *stubRoutes) *Ingester {
	in := New(stubSource{entities: entities}, routes, geo.Kilometers)
	in.now = func() time.Time { return time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC) }
	return in
}

func TestBuildSnapshot_CampusScenario(t *testing.T) {
	routes := newRoutes()
	in := newIngester([]*gtfs.FeedEntity{
		vehicle("101", "R1", at(45, 3)),
		vehicle("102", "R1", at(180, 8)),
		vehicle("103", "R404", at(270, 1)),
	}, routes)

	buses, stats, err := in.BuildSnapshot(context.Background(), campus, 5)
	require.NoError(t, err)
	require.Len(t, buses, 1)

	bus := buses[0]
	assert.Equal(t, "101", bus.BusNumber)
	assert.Equal(t, "R1", bus.RouteID)
	assert.Equal(t, "12 - Downtown Loop", bus.Route)
	assert.Equal(t, 3.0, bus.DistanceToReference)
	assert.Equal(t, 36.0, bus.Speed, "10 m/s in km/h")
	assert.Equal(t, "T-101", bus.TripID)
	assert.True(t, bus.IsActive)
	assert.Equal(t, in.now(), bus.LastUpdated, "missing timestamp falls back to poll time")

	assert.Equal(t, 1, stats.OutOfRadius)
	assert.Equal(t, 1, stats.Unroutable)
	assert.Equal(t, 1, stats.Kept)
	assert.Equal(t, 1, routes.refreshes, "route cache checked once per snapshot")
}

func TestBuildSnapshot_RadiusBoundaryInclusive(t *testing.T) {
	edge := at(90, 5)
	radius := geo.Distance(campus, edge, geo.Kilometers)

	in := newIngester([]*gtfs.FeedEntity{vehicle("200", "R1", edge)}, newRoutes())

	buses, _, err := in.BuildSnapshot(context.Background(), campus, radius)
	require.NoError(t, err)
	assert.Len(t, buses, 1, "a vehicle exactly at the radius is included")

	buses, _, err = in.BuildSnapshot(context.Background(), campus, radius*(1-1e-9))
	require.NoError(t, err)
	assert.Empty(t, buses, "just beyond the radius is excluded")
}

func TestBuildSnapshot_RadiusMonotonic(t *testing.T) {
	in := newIngester([]*gtfs.FeedEntity{
		vehicle("1", "R1", at(0, 1)),
		vehicle("2", "R1", at(0, 2.5)),
		vehicle("3", "R1", at(0, 4)),
	}, newRoutes())

	for _, tc := range []struct {
		radius float64
		want   int
	}{{0.5, 0}, {1.5, 1}, {3, 2}, {10, 3}} {
		buses, _, err := in.BuildSnapshot(context.Background(), campus, tc.radius)
		require.NoError(t, err)
		assert.Len(t, buses, tc.want, "radius %v", tc.radius)
	}
}

func TestBuildSnapshot_Drops(t *testing.T) {
	deleted := vehicle("300", "R1", at(0, 1))
	deleted.IsDeleted = proto.Bool(true)

	noFix := vehicle("301", "R1", geo.Point{})
	noLabel := vehicle("", "R1", at(0, 1))
	noVehicle := &gtfs.FeedEntity{Id: proto.String("alert-only")}
	noRoute := vehicle("302", "", at(0, 1))

	in := newIngester([]*gtfs.FeedEntity{deleted, noFix, noLabel, noVehicle, noRoute, vehicle("303", "R2", at(0, 1))}, newRoutes())

	buses, stats, err := in.BuildSnapshot(context.Background(), campus, 5)
	require.NoError(t, err)
	require.Len(t, buses, 1)
	assert.Equal(t, "303", buses[0].BusNumber)

	assert.Equal(t, Stats{
		Entities:   6,
		Deleted:    1,
		Malformed:  2,
		NoFix:      1,
		Unroutable: 1,
		Kept:       1,
	}, stats)
}

func TestBuildSnapshot_DuplicateLabelLastWins(t *testing.T) {
	first := vehicle("400", "R1", at(0, 4))
	second := vehicle("400", "R2", at(0, 1))

	in := newIngester([]*gtfs.FeedEntity{first, vehicle("401", "R1", at(0, 2)), second}, newRoutes())

	buses, stats, err := in.BuildSnapshot(context.Background(), campus, 5)
	require.NoError(t, err)
	require.Len(t, buses, 2)
	assert.Equal(t, "400", buses[0].BusNumber)
	assert.Equal(t, "D - Dixwell Avenue", buses[0].Route)
	assert.Equal(t, 1.0, buses[0].DistanceToReference)
	assert.Equal(t, 1, stats.Duplicates)
}

func TestBuildSnapshot_SortedAndRoutesValid(t *testing.T) {
	var entities []*gtfs.FeedEntity
	for i, d := range []float64{4.5, 0.2, 3.3, 1.1, 2.7} {
		route := "R1"
		if i%2 == 0 {
			route = "R2"
		}
		entities = append(entities, vehicle(string(rune('a'+i)), route, at(float64(i*60), d)))
	}

	buses, _, err := newIngester(entities, newRoutes()).BuildSnapshot(context.Background(), campus, 5)
	require.NoError(t, err)
	require.Len(t, buses, 5)

	for i, b := range buses {
		assert.True(t, models.ValidRouteLabel(b.Route), b.Route)
		assert.NoError(t, b.Validate())
		if i > 0 {
			assert.LessOrEqual(t, buses[i-1].DistanceToReference, b.DistanceToReference)
		}
	}
}

func TestBuildSnapshot_FeedTimestampAndMiles(t *testing.T) {
	e := vehicle("500", "R1", at(0, 1.609344))
	e.Vehicle.Timestamp = proto.Uint64(1700000000)

	in := New(stubSource{entities: []*gtfs.FeedEntity{e}}, newRoutes(), geo.Miles)

	buses, _, err := in.BuildSnapshot(context.Background(), campus, 3)
	require.NoError(t, err)
	require.Len(t, buses, 1)
	assert.Equal(t, 1.0, buses[0].DistanceToReference)
	assert.Equal(t, 22.37, buses[0].Speed, "10 m/s in mph")
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), buses[0].LastUpdated)
}

func TestBuildSnapshot_FeedError(t *testing.T) {
	boom := errors.New("feed down")
	in := New(stubSource{err: boom}, newRoutes(), geo.Kilometers)

	_, _, err := in.BuildSnapshot(context.Background(), campus, 5)
	assert.ErrorIs(t, err, boom)
}

func TestReference(t *testing.T) {
	fallback := campus
	assert.Equal(t, fallback, Reference(context.Background(), nil, fallback))

	home := geo.Point{Lat: 41.3, Lon: -72.9}
	assert.Equal(t, home, Reference(context.Background(), FixedLocation(home), fallback))
	assert.Equal(t, fallback, Reference(context.Background(), FixedLocation{}, fallback))
}

func TestRoutesFor(t *testing.T) {
	routes := newRoutes()
	in := newIngester(nil, routes)

	buses := []models.Bus{
		{BusNumber: "1", RouteID: "R1", Route: "12 - Downtown Loop"},
		{BusNumber: "2", RouteID: "R2", Route: "D - Dixwell Avenue"},
		{BusNumber: "3", RouteID: "R1", Route: "12 - Downtown Loop"},
		{BusNumber: "4", RouteID: "R7", Route: "7 - Whalley Avenue"},
	}

	got := in.RoutesFor(buses)
	assert.Equal(t, []models.RouteInfo{
		routes.routes["R1"],
		routes.routes["R2"],
	}, got, "R7 is unknown to both the snapshot and the lookup")
}

func TestRoutesFor_KeepsSnapshotRouteAfterCacheDrop(t *testing.T) {
	routes := newRoutes()
	express := models.RouteInfo{RouteID: "R9", ShortName: "9 - Express", LongName: "Airport Shuttle"}
	routes.routes["R9"] = express

	in := newIngester([]*gtfs.FeedEntity{
		vehicle("901", "R9", at(0, 1)),
	}, routes)

	buses, _, err := in.BuildSnapshot(context.Background(), campus, 5)
	require.NoError(t, err)
	require.Len(t, buses, 1)
	assert.Equal(t, "9 - Express - Airport Shuttle", buses[0].Route)

	delete(routes.routes, "R9")

	assert.Equal(t, []models.RouteInfo{express}, in.RoutesFor(buses))
}
