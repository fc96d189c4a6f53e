// Package transit is the read side over live buses: the nearby-bus listing
// and per-route detail combining static info, stored buses and the trip
// update and alert feeds.
package transit

import (
	"context"
	"errors"
	"fmt"
	"time"

	gtfs "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"

	"github.com/campus-transit/transitbook/internal/db"
	"github.com/campus-transit/transitbook/internal/models"
)

// ErrRouteNotFound is returned when a route is neither cached, stored nor
// served by any bus
var ErrRouteNotFound = errors.New("route not found")

// Store is the read-only view of the bus table
type Store interface {
	ListActiveBuses(ctx context.Context, freshSince time.Time) ([]models.Bus, error)
	ListBusesByRoute(ctx context.Context, routeID string, freshSince time.Time) ([]models.Bus, error)
	GetBusByNumber(ctx context.Context, busNumber string) (*models.Bus, error)
	GetRoute(ctx context.Context, routeID string) (*models.RouteInfo, error)
}

// RouteLookup resolves cached static routes
type RouteLookup interface {
	Get(routeID string) (models.RouteInfo, bool)
}

// Feeds supplies the best-effort feeds used by route detail
type Feeds interface {
	TripUpdates(ctx context.Context) ([]*gtfs.FeedEntity, error)
	Alerts(ctx context.Context) ([]*gtfs.FeedEntity, error)
}

// Service answers bus and route queries
type Service struct {
	store      Store
	routes     RouteLookup
	feeds      Feeds
	staleAfter time.Duration
	now        func() time.Time
}

// NewService creates a read service. Buses not refreshed within staleAfter
// are left out of AvailableBuses; zero disables the window.
func NewService(store Store, routes RouteLookup, feeds Feeds, staleAfter time.Duration) *Service {
	return &Service{
		store:      store,
		routes:     routes,
		feeds:      feeds,
		staleAfter: staleAfter,
		now:        time.Now,
	}
}

// AvailableBuses lists active, recently refreshed buses, nearest first
func (s *Service) AvailableBuses(ctx context.Context) ([]models.Bus, error) {
	buses, err := s.store.ListActiveBuses(ctx, s.freshSince())
	if err != nil {
		return nil, fmt.Errorf("failed to list buses: %w", err)
	}
	return buses, nil
}

// freshSince is the staleness cutoff; zero when staleness is disabled
func (s *Service) freshSince() time.Time {
	if s.staleAfter <= 0 {
		return time.Time{}
	}
	return s.now().Add(-s.staleAfter)
}

// Bus returns one bus by number
func (s *Service) Bus(ctx context.Context, busNumber string) (*models.Bus, error) {
	return s.store.GetBusByNumber(ctx, busNumber)
}

// RouteDetail combines everything known about a route. Trip updates and
// alerts are fetched concurrently; a failing feed leaves its list empty.
func (s *Service) RouteDetail(ctx context.Context, routeID string) (*RouteDetail, error) {
	detail := &RouteDetail{
		RouteID:     routeID,
		TripUpdates: []TripUpdate{},
		Alerts:      []Alert{},
	}

	if info, ok := s.routes.Get(routeID); ok {
		detail.Route = &info
	} else if stored, err := s.store.GetRoute(ctx, routeID); err == nil {
		detail.Route = stored
	} else if !db.IsNotFound(err) {
		return nil, err
	}

	buses, err := s.store.ListBusesByRoute(ctx, routeID, s.freshSince())
	if err != nil {
		return nil, fmt.Errorf("failed to list buses for route %s: %w", routeID, err)
	}
	detail.ActiveBuses = buses

	if detail.Route == nil && len(buses) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrRouteNotFound, routeID)
	}
	if detail.Route != nil {
		detail.DisplayName = detail.Route.DisplayName()
	}

	if s.feeds == nil {
		return detail, nil
	}

	var wg conc.WaitGroup
	wg.Go(func() {
		entities, err := s.feeds.TripUpdates(ctx)
		if err != nil {
			log.Warn().Err(err).Str("route_id", routeID).Msg("Trip updates unavailable")
			return
		}
		detail.TripUpdates = tripUpdatesForRoute(entities, routeID)
	})
	wg.Go(func() {
		entities, err := s.feeds.Alerts(ctx)
		if err != nil {
			log.Warn().Err(err).Str("route_id", routeID).Msg("Alerts unavailable")
			return
		}
		detail.Alerts = alertsForRoute(entities, routeID)
	})
	wg.Wait()

	return detail, nil
}
