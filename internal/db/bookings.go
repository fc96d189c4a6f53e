package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/campus-transit/transitbook/internal/models"
)

// Tx is a write transaction on the booking tables. BEGIN takes SQLite's
// write lock immediately (_txlock=immediate), so every read made through a
// Tx sees data no other writer can change before Commit.
type Tx struct {
	tx *sql.Tx
}

// InTx runs fn inside one transaction. fn's error (or a failed commit) rolls
// everything back.
func (db *DB) InTx(ctx context.Context, fn func(*Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&Tx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// BusByNumber reads a bus inside the transaction
func (t *Tx) BusByNumber(ctx context.Context, busNumber string) (*models.Bus, error) {
	return busByNumber(ctx, t.tx, busNumber)
}

// ConfirmedSeats sums seats over confirmed bookings for the bus
func (t *Tx) ConfirmedSeats(ctx context.Context, busID int64) (int, error) {
	return confirmedSeats(ctx, t.tx, busID)
}

// InsertBooking stores b and fills in its ID
func (t *Tx) InsertBooking(ctx context.Context, b *models.Booking) error {
	var departure any
	if b.DepartureTime != nil {
		departure = formatTime(*b.DepartureTime)
	}

	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO bookings (
			reference, user_id, bus_id, passenger_name, phone_number,
			seats, status, booking_time, departure_time
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		b.Reference, b.UserID, b.BusID, b.PassengerName, b.PhoneNumber,
		b.Seats, string(b.Status), formatTime(b.BookingTime), departure,
	)
	if err != nil {
		return fmt.Errorf("failed to insert booking: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read booking id: %w", err)
	}
	b.ID = id
	return nil
}

// BookingByID reads one booking inside the transaction
func (t *Tx) BookingByID(ctx context.Context, id int64) (*models.Booking, error) {
	bookings, err := listBookings(ctx, t.tx, "WHERE b.id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(bookings) == 0 {
		return nil, fmt.Errorf("booking %d: %w", id, ErrNotFound)
	}
	return &bookings[0], nil
}

// SetBookingStatus updates the status column of one booking
func (t *Tx) SetBookingStatus(ctx context.Context, id int64, status models.BookingStatus) error {
	res, err := t.tx.ExecContext(ctx, "UPDATE bookings SET status = ? WHERE id = ?", string(status), id)
	if err != nil {
		return fmt.Errorf("failed to update booking %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("booking %d: %w", id, ErrNotFound)
	}
	return nil
}

// ConfirmedSeats sums seats over confirmed bookings for the bus
func (db *DB) ConfirmedSeats(ctx context.Context, busID int64) (int, error) {
	return confirmedSeats(ctx, db.conn, busID)
}

func confirmedSeats(ctx context.Context, q querier, busID int64) (int, error) {
	var seats int
	err := q.QueryRowContext(ctx,
		"SELECT COALESCE(SUM(seats), 0) FROM bookings WHERE bus_id = ? AND status = ?",
		busID, string(models.StatusConfirmed),
	).Scan(&seats)
	if err != nil {
		return 0, fmt.Errorf("failed to sum booked seats for bus %d: %w", busID, err)
	}
	return seats, nil
}

// BookingFilter narrows ListBookings; zero fields match everything
type BookingFilter struct {
	UserID    *int64
	BusNumber string
	Status    models.BookingStatus
}

// ListBookings returns bookings joined with their bus, newest first
func (db *DB) ListBookings(ctx context.Context, filter BookingFilter) ([]models.Booking, error) {
	var where []string
	var args []any

	if filter.UserID != nil {
		where = append(where, "b.user_id = ?")
		args = append(args, *filter.UserID)
	}
	if filter.BusNumber != "" {
		where = append(where, "bus.bus_number = ?")
		args = append(args, filter.BusNumber)
	}
	if filter.Status != "" {
		where = append(where, "b.status = ?")
		args = append(args, string(filter.Status))
	}

	clause := ""
	if len(where) > 0 {
		clause = "WHERE " + strings.Join(where, " AND ")
	}
	return listBookings(ctx, db.conn, clause, args...)
}

func listBookings(ctx context.Context, q querier, clause string, args ...any) ([]models.Booking, error) {
	query := `
		SELECT
			b.id, b.reference, b.user_id, b.bus_id, b.passenger_name, b.phone_number,
			b.seats, b.status, b.booking_time, b.departure_time,
			bus.bus_number, bus.route
		FROM bookings b
		JOIN buses bus ON bus.id = b.bus_id
		` + clause + `
		ORDER BY b.booking_time DESC, b.id DESC`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bookings: %w", err)
	}
	defer rows.Close()

	bookings := []models.Booking{}
	for rows.Next() {
		var b models.Booking
		var userID sql.NullInt64
		var status, bookingTime string
		var departure sql.NullString

		if err := rows.Scan(
			&b.ID, &b.Reference, &userID, &b.BusID, &b.PassengerName, &b.PhoneNumber,
			&b.Seats, &status, &bookingTime, &departure,
			&b.BusNumber, &b.Route,
		); err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}

		if userID.Valid {
			id := userID.Int64
			b.UserID = &id
		}
		b.Status = models.BookingStatus(status)
		b.BookingTime = parseTime(bookingTime)
		b.DepartureTime = parseNullTime(departure)
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

// IsNotFound reports whether err came from a lookup that matched nothing
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
