package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/campus-transit/transitbook/internal/models"
)

// ErrNotFound is returned by single-row lookups that match nothing
var ErrNotFound = errors.New("not found")

// querier is satisfied by both *sql.DB and *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const busColumns = `
	id, bus_number, route_id, route, latitude, longitude, speed, bearing,
	trip_id, next_stop, distance, last_updated_utc, is_active, capacity, fare,
	current_location, route_type, agency_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBus(row rowScanner) (*models.Bus, error) {
	var b models.Bus
	var tripID, nextStop sql.NullString
	var lastUpdated string
	var active int

	err := row.Scan(
		&b.ID, &b.BusNumber, &b.RouteID, &b.Route, &b.Latitude, &b.Longitude, &b.Speed, &b.Bearing,
		&tripID, &nextStop, &b.DistanceToReference, &lastUpdated, &active, &b.Capacity, &b.Fare,
		&b.CurrentLocation, &b.RouteType, &b.AgencyID,
	)
	if err != nil {
		return nil, err
	}

	b.TripID = tripID.String
	b.NextStop = nextStop.String
	b.LastUpdated = parseTime(lastUpdated)
	b.IsActive = active != 0
	return &b, nil
}

func busByNumber(ctx context.Context, q querier, busNumber string) (*models.Bus, error) {
	row := q.QueryRowContext(ctx, "SELECT "+busColumns+" FROM buses WHERE bus_number = ?", busNumber)
	bus, err := scanBus(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("bus %s: %w", busNumber, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query bus %s: %w", busNumber, err)
	}
	return bus, nil
}

func queryBuses(ctx context.Context, q querier, query string, args ...any) ([]models.Bus, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query buses: %w", err)
	}
	defer rows.Close()

	buses := []models.Bus{}
	for rows.Next() {
		bus, err := scanBus(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan bus: %w", err)
		}
		buses = append(buses, *bus)
	}
	return buses, rows.Err()
}

// GetBusByNumber returns one bus by its external label
func (db *DB) GetBusByNumber(ctx context.Context, busNumber string) (*models.Bus, error) {
	return busByNumber(ctx, db.conn, busNumber)
}

// ListActiveBuses returns active buses ordered by distance to the reference
// point. A non-zero freshSince hides buses not refreshed since then.
func (db *DB) ListActiveBuses(ctx context.Context, freshSince time.Time) ([]models.Bus, error) {
	if freshSince.IsZero() {
		return queryBuses(ctx, db.conn,
			"SELECT "+busColumns+" FROM buses WHERE is_active = 1 ORDER BY distance, bus_number")
	}
	return queryBuses(ctx, db.conn,
		"SELECT "+busColumns+" FROM buses WHERE is_active = 1 AND last_updated_utc >= ? ORDER BY distance, bus_number",
		formatTime(freshSince))
}

// ListBusesByRoute returns the active buses last seen on the route, with the
// same freshSince cutoff as ListActiveBuses
func (db *DB) ListBusesByRoute(ctx context.Context, routeID string, freshSince time.Time) ([]models.Bus, error) {
	if freshSince.IsZero() {
		return queryBuses(ctx, db.conn,
			"SELECT "+busColumns+" FROM buses WHERE route_id = ? AND is_active = 1 ORDER BY distance, bus_number",
			routeID)
	}
	return queryBuses(ctx, db.conn,
		"SELECT "+busColumns+" FROM buses WHERE route_id = ? AND is_active = 1 AND last_updated_utc >= ? ORDER BY distance, bus_number",
		routeID, formatTime(freshSince))
}

// SetBusActive flips the is_active gate for a bus
func (db *DB) SetBusActive(ctx context.Context, busNumber string, active bool) error {
	return setBusColumn(ctx, db.conn, busNumber, "is_active", boolToInt(active))
}

// SetBusCapacity changes the seat capacity of a bus
func (db *DB) SetBusCapacity(ctx context.Context, busNumber string, capacity int) error {
	return setBusColumn(ctx, db.conn, busNumber, "capacity", capacity)
}

// SetBusActive flips the is_active gate inside the transaction
func (t *Tx) SetBusActive(ctx context.Context, busNumber string, active bool) error {
	return setBusColumn(ctx, t.tx, busNumber, "is_active", boolToInt(active))
}

// SetBusCapacity changes the capacity inside the transaction
func (t *Tx) SetBusCapacity(ctx context.Context, busNumber string, capacity int) error {
	return setBusColumn(ctx, t.tx, busNumber, "capacity", capacity)
}

// setBusColumn updates one booking-side column; column is never user input
func setBusColumn(ctx context.Context, q querier, busNumber, column string, value any) error {
	res, err := q.ExecContext(ctx,
		"UPDATE buses SET "+column+" = ?, updated_at = datetime('now') WHERE bus_number = ?",
		value, busNumber)
	if err != nil {
		return fmt.Errorf("failed to update bus %s: %w", busNumber, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("bus %s: %w", busNumber, ErrNotFound)
	}
	return nil
}

// GetRoute returns the stored route row
func (db *DB) GetRoute(ctx context.Context, routeID string) (*models.RouteInfo, error) {
	var r models.RouteInfo
	err := db.conn.QueryRowContext(ctx,
		"SELECT route_id, short_name, long_name FROM routes WHERE route_id = ?", routeID,
	).Scan(&r.RouteID, &r.ShortName, &r.LongName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("route %s: %w", routeID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query route %s: %w", routeID, err)
	}
	return &r, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
