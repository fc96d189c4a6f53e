package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/campus-transit/transitbook/internal/config"
	"github.com/campus-transit/transitbook/internal/db"
	"github.com/campus-transit/transitbook/internal/geo"
	"github.com/campus-transit/transitbook/internal/realtime/feed"
	"github.com/campus-transit/transitbook/internal/realtime/ingest"
	"github.com/campus-transit/transitbook/internal/static"
	"github.com/campus-transit/transitbook/internal/updater"
)

// openStore opens a connection and makes sure the schema exists. Callers
// that write concurrently open one each.
func openStore(ctx context.Context, cfg *config.Config) (*db.DB, error) {
	database, err := db.Connect(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}
	if err := database.EnsureSchema(ctx); err != nil {
		database.Close()
		return nil, err
	}
	return database, nil
}

func newRouteCache(cfg *config.Config) *static.RouteCache {
	return static.NewRouteCache(static.Options{
		SourceURL:   cfg.GTFSStaticURL,
		CacheFile:   cfg.RouteCacheFile,
		ArchivePath: filepath.Join(cfg.CacheDir, "gtfs_static.zip"),
		TTL:         cfg.RouteCacheTTL,
	})
}

func newFeedClient(cfg *config.Config) *feed.Client {
	return feed.NewClient(feed.URLs{
		VehiclePositions: cfg.GTFSVehiclePositionsURL,
		TripUpdates:      cfg.GTFSTripUpdatesURL,
		Alerts:           cfg.GTFSAlertsURL,
	}, cfg.FeedTimeout)
}

func newUpdater(cfg *config.Config, store *db.DB, feeds *feed.Client, routes *static.RouteCache) (*updater.Updater, error) {
	unit, err := geo.ParseUnit(cfg.DistanceUnit)
	if err != nil {
		return nil, fmt.Errorf("invalid distance unit: %w", err)
	}

	reference := geo.Point{Lat: cfg.ReferenceLat, Lon: cfg.ReferenceLon}
	ingester := ingest.New(feeds, routes, unit)

	return updater.New(ingester, store, updater.Config{
		Interval:    cfg.PollInterval,
		MaxAttempts: cfg.CommitMaxAttempts,
		RetryDelay:  cfg.CommitRetryDelay,
		Retention:   cfg.RetentionDuration,
		Reference:   reference,
		Radius:      cfg.Radius,
		Location:    ingest.FixedLocation(reference),
		Defaults: db.BusDefaults{
			Capacity: cfg.DefaultCapacity,
			Fare:     cfg.DefaultFare,
		},
	}), nil
}
