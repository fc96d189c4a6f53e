package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/campus-transit/transitbook/internal/models"
)

// BusDefaults are the booking-side values given to a bus on first sighting
type BusDefaults struct {
	Capacity int
	Fare     float64
}

// Snapshot is one updater cycle's worth of filtered buses plus the routes
// they reference.
type Snapshot struct {
	PolledAt time.Time
	Routes   []models.RouteInfo
	Buses    []models.Bus
}

// CommitSnapshot writes a snapshot in a single transaction and returns the
// snapshot ID. Route rows are inserted if absent (buses reference them),
// then buses are upserted by bus_number. Existing rows only get their live
// telemetry replaced; capacity, fare and is_active belong to the booking side
// and are only set on insert. Any error rolls the whole snapshot back.
func (db *DB) CommitSnapshot(ctx context.Context, snap Snapshot, defaults BusDefaults) (string, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	snapshotID := uuid.New().String()
	polledAtStr := formatTime(snap.PolledAt)

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO rt_snapshots (snapshot_id, polled_at_utc, bus_count) VALUES (?, ?, ?)",
		snapshotID, polledAtStr, len(snap.Buses),
	); err != nil {
		return "", fmt.Errorf("failed to create snapshot: %w", err)
	}

	routeStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO routes (route_id, short_name, long_name, display_name)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (route_id) DO NOTHING
	`)
	if err != nil {
		return "", fmt.Errorf("failed to prepare route statement: %w", err)
	}
	defer routeStmt.Close()

	busStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO buses (
			bus_number, route_id, route, latitude, longitude, speed, bearing,
			trip_id, next_stop, distance, last_updated_utc, is_active,
			capacity, fare, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?, datetime('now'))
		ON CONFLICT (bus_number) DO UPDATE SET
			route_id = excluded.route_id,
			route = excluded.route,
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			speed = excluded.speed,
			bearing = excluded.bearing,
			trip_id = excluded.trip_id,
			next_stop = excluded.next_stop,
			distance = excluded.distance,
			last_updated_utc = excluded.last_updated_utc,
			updated_at = datetime('now')
	`)
	if err != nil {
		return "", fmt.Errorf("failed to prepare bus statement: %w", err)
	}
	defer busStmt.Close()

	historyStmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO bus_position_history (
			snapshot_id, bus_number, route_id, latitude, longitude, speed,
			distance, last_updated_utc, polled_at_utc
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return "", fmt.Errorf("failed to prepare history statement: %w", err)
	}
	defer historyStmt.Close()

	for _, r := range snap.Routes {
		if _, err := routeStmt.ExecContext(ctx, r.RouteID, r.ShortName, r.LongName, r.DisplayName()); err != nil {
			return "", fmt.Errorf("failed to ensure route %s: %w", r.RouteID, err)
		}
	}

	for _, b := range snap.Buses {
		if err := b.Validate(); err != nil {
			return "", fmt.Errorf("invalid bus %s: %w", b.BusNumber, err)
		}
		lastUpdated := formatTime(b.LastUpdated)

		if _, err := busStmt.ExecContext(ctx,
			b.BusNumber, b.RouteID, b.Route, b.Latitude, b.Longitude, b.Speed, b.Bearing,
			nullString(b.TripID), nullString(b.NextStop), b.DistanceToReference, lastUpdated,
			defaults.Capacity, defaults.Fare,
		); err != nil {
			return "", fmt.Errorf("failed to upsert bus %s: %w", b.BusNumber, err)
		}

		if _, err := historyStmt.ExecContext(ctx,
			snapshotID, b.BusNumber, b.RouteID, b.Latitude, b.Longitude, b.Speed,
			b.DistanceToReference, lastUpdated, polledAtStr,
		); err != nil {
			return "", fmt.Errorf("failed to insert history %s: %w", b.BusNumber, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit snapshot: %w", err)
	}
	return snapshotID, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
