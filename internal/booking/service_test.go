package booking

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campus-transit/transitbook/internal/db"
	"github.com/campus-transit/transitbook/internal/models"
)

var downtown = models.RouteInfo{RouteID: "R1", ShortName: "12", LongName: "Downtown Loop"}

var seenAt = time.Date(2026, 10, 1, 8, 30, 0, 0, time.UTC)

// setup creates a database with buses "101" and "102" of the given capacity
// and returns the path so tests can open more connections.
func setup(t *testing.T, capacity int) (*db.DB, string) {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "transit.db")

	database, err := db.Connect(path)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, database.EnsureSchema(ctx))

	var buses []models.Bus
	for _, n := range []string{"101", "102"} {
		buses = append(buses, models.Bus{
			BusNumber:   n,
			RouteID:     downtown.RouteID,
			Route:       downtown.DisplayName(),
			Latitude:    41.3,
			Longitude:   -72.93,
			LastUpdated: seenAt,
			IsActive:    true,
		})
	}
	_, err = database.CommitSnapshot(ctx, db.Snapshot{
		PolledAt: seenAt,
		Routes:   []models.RouteInfo{downtown},
		Buses:    buses,
	}, db.BusDefaults{Capacity: capacity, Fare: 2})
	require.NoError(t, err)

	return database, path
}

func request(bus string, seats int) Request {
	return Request{BusNumber: bus, PassengerName: "Ada Lovelace", PhoneNumber: "203-555-0100", Seats: seats}
}

func TestAvailableSeats(t *testing.T) {
	database, _ := setup(t, 30)
	svc := NewService(database)
	ctx := context.Background()

	seats, err := svc.AvailableSeats(ctx, "101")
	require.NoError(t, err)
	assert.Equal(t, 30, seats)

	_, err = svc.CreateBooking(ctx, request("101", 4))
	require.NoError(t, err)

	seats, err = svc.AvailableSeats(ctx, "101")
	require.NoError(t, err)
	assert.Equal(t, 26, seats)

	_, err = svc.AvailableSeats(ctx, "999")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateBooking(t *testing.T) {
	database, _ := setup(t, 30)
	svc := NewService(database)
	userID := int64(7)

	req := request("101", 0)
	req.UserID = &userID

	b, err := svc.CreateBooking(context.Background(), req)
	require.NoError(t, err)

	assert.NotZero(t, b.ID)
	assert.NotEmpty(t, b.Reference)
	assert.Equal(t, 1, b.Seats, "seats default to 1")
	assert.Equal(t, models.StatusConfirmed, b.Status)
	assert.Equal(t, "101", b.BusNumber)
	assert.Equal(t, "12 - Downtown Loop", b.Route)
	require.NotNil(t, b.DepartureTime)
	assert.Equal(t, seenAt, *b.DepartureTime)

	stored, err := svc.GetUserBookings(context.Background(), userID)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, b.Reference, stored[0].Reference)
	assert.Equal(t, b.BookingTime, stored[0].BookingTime)
}

func TestCreateBooking_Failures(t *testing.T) {
	database, _ := setup(t, 5)
	svc := NewService(database)
	ctx := context.Background()

	require.NoError(t, database.SetBusActive(ctx, "102", false))

	tests := []struct {
		name string
		req  Request
		want error
	}{
		{"missing bus", request("999", 1), ErrInvalidBus},
		{"inactive bus", request("102", 1), ErrInvalidBus},
		{"too many seats", request("101", 6), ErrSeatsUnavailable},
		{"negative seats", request("101", -2), ErrInvalidRequest},
		{"no passenger", Request{BusNumber: "101", PhoneNumber: "1", Seats: 1}, ErrInvalidRequest},
		{"no phone", Request{BusNumber: "101", PassengerName: "Ada", Seats: 1}, ErrInvalidRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.CreateBooking(ctx, tc.req)
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.want)

			var be *Error
			require.ErrorAs(t, err, &be)
			assert.NotEmpty(t, be.Reason)
		})
	}

	all, err := svc.GetAllBookings(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestCreateBooking_SeatsUnavailableNamesBusAndCount(t *testing.T) {
	database, _ := setup(t, 3)
	svc := NewService(database)

	_, err := svc.CreateBooking(context.Background(), request("101", 2))
	require.NoError(t, err)

	_, err = svc.CreateBooking(context.Background(), request("101", 2))
	require.ErrorIs(t, err, ErrSeatsUnavailable)
	assert.Equal(t, "seats_unavailable: bus 101: requested 2 seats, 1 available", err.Error())
}

func TestCreateBooking_ConcurrentRaceNeverOverbooks(t *testing.T) {
	const capacity = 10
	const requests = 25

	database, path := setup(t, capacity)

	// A second connection to the same file, like a second process would have
	other, err := db.Connect(path)
	require.NoError(t, err)
	defer other.Close()

	services := []*Service{NewService(database), NewService(other)}

	var (
		wg          sync.WaitGroup
		mu          sync.Mutex
		confirmed   int
		unavailable int
		unexpected  []error
	)
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := services[i%2].CreateBooking(context.Background(), request("101", 1))

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				confirmed++
			case errors.Is(err, ErrSeatsUnavailable):
				unavailable++
			default:
				unexpected = append(unexpected, err)
			}
		}(i)
	}
	wg.Wait()

	assert.Empty(t, unexpected)
	assert.Equal(t, capacity, confirmed)
	assert.Equal(t, requests-capacity, unavailable)

	seats, err := NewService(database).AvailableSeats(context.Background(), "101")
	require.NoError(t, err)
	assert.Equal(t, 0, seats)
}

func TestCancelBooking_FreesSeats(t *testing.T) {
	database, _ := setup(t, 10)
	svc := NewService(database)
	ctx := context.Background()

	b, err := svc.CreateBooking(ctx, request("101", 3))
	require.NoError(t, err)

	before, err := svc.AvailableSeats(ctx, "101")
	require.NoError(t, err)

	ok, err := svc.CancelBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	after, err := svc.AvailableSeats(ctx, "101")
	require.NoError(t, err)
	assert.Equal(t, before+3, after)

	ok, err = svc.CancelBooking(ctx, b.ID)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrAlreadyCancelled)

	_, err = svc.CancelBooking(ctx, 4242)
	assert.ErrorIs(t, err, ErrNotFound)

	again, err := svc.AvailableSeats(ctx, "101")
	require.NoError(t, err)
	assert.Equal(t, after, again, "a failed second cancel frees nothing")
}

func TestListings(t *testing.T) {
	database, _ := setup(t, 10)
	svc := NewService(database)
	ctx := context.Background()
	alice, bob := int64(1), int64(2)

	clock := seenAt
	svc.now = func() time.Time { clock = clock.Add(time.Minute); return clock }

	mk := func(bus string, user *int64) *models.Booking {
		req := request(bus, 1)
		req.UserID = user
		b, err := svc.CreateBooking(ctx, req)
		require.NoError(t, err)
		return b
	}
	a1 := mk("101", &alice)
	mk("102", &bob)
	a3 := mk("102", &alice)
	mk("101", nil)

	_, err := svc.CancelBooking(ctx, a1.ID)
	require.NoError(t, err)

	all, err := svc.GetAllBookings(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 4)

	mine, err := svc.GetUserBookings(ctx, alice)
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, a3.ID, mine[0].ID, "newest first")

	onBus, err := svc.GetBusBookings(ctx, "102")
	require.NoError(t, err)
	assert.Len(t, onBus, 2)

	active, err := svc.GetActiveBookings(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 3)
	for _, b := range active {
		assert.True(t, b.IsConfirmed())
	}
}

func TestUpdateBus(t *testing.T) {
	database, _ := setup(t, 10)
	svc := NewService(database)
	ctx := context.Background()

	_, err := svc.CreateBooking(ctx, request("101", 4))
	require.NoError(t, err)

	low := 3
	_, err = svc.UpdateBus(ctx, "101", BusUpdate{Capacity: &low})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	capacity, inactive := 20, false
	bus, err := svc.UpdateBus(ctx, "101", BusUpdate{Capacity: &capacity, Active: &inactive})
	require.NoError(t, err)
	assert.Equal(t, 20, bus.Capacity)
	assert.False(t, bus.IsActive)

	_, err = svc.CreateBooking(ctx, request("101", 1))
	assert.ErrorIs(t, err, ErrInvalidBus)

	_, err = svc.UpdateBus(ctx, "999", BusUpdate{Active: &inactive})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestExportCSV(t *testing.T) {
	database, _ := setup(t, 10)
	svc := NewService(database)
	ctx := context.Background()
	user := int64(9)

	req := request("101", 2)
	req.UserID = &user
	_, err := svc.CreateBooking(ctx, req)
	require.NoError(t, err)
	_, err = svc.CreateBooking(ctx, request("102", 1))
	require.NoError(t, err)

	var buf bytes.Buffer
	n, err := svc.ExportCSV(ctx, &buf, &user)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, []string{
		"booking_id", "reference", "user_id", "bus_number", "route", "passenger_name",
		"phone_number", "seats", "status", "booking_time", "departure_time",
	}, records[0])
	assert.Equal(t, "9", records[1][2])
	assert.Equal(t, "101", records[1][3])
	assert.Equal(t, "12 - Downtown Loop", records[1][4])
	assert.Equal(t, "2", records[1][7])
	assert.Equal(t, "confirmed", records[1][8])
	assert.Equal(t, seenAt.Format(time.RFC3339), records[1][10])

	buf.Reset()
	n, err = svc.ExportCSV(ctx, &buf, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

// busyStore fails every transaction as a locked database would
type busyStore struct{ Store }

func (busyStore) InTx(context.Context, func(*db.Tx) error) error {
	return errors.New("failed to begin transaction: database is locked (5) (SQLITE_BUSY)")
}

func TestCreateBooking_StoreBusyIsBookingFailed(t *testing.T) {
	svc := NewService(busyStore{})

	_, err := svc.CreateBooking(context.Background(), request("101", 1))
	require.ErrorIs(t, err, ErrBookingFailed)

	var be *Error
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "101", be.BusNumber)
	assert.Contains(t, be.Reason, "busy")
}

func TestErrorIsMatchesKind(t *testing.T) {
	err := error(&Error{Kind: KindSeatsUnavailable, BusNumber: "101"})
	assert.ErrorIs(t, err, ErrSeatsUnavailable)
	assert.NotErrorIs(t, err, ErrInvalidBus)
	assert.Equal(t, "invalid_bus", KindInvalidBus.String())
}
