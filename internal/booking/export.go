package booking

import (
	"context"
	"io"
	"strconv"
	"time"

	"github.com/gocarina/gocsv"

	"github.com/campus-transit/transitbook/internal/models"
)

// exportRow is one line of the bookings CSV
type exportRow struct {
	ID            int64  `csv:"booking_id"`
	Reference     string `csv:"reference"`
	UserID        string `csv:"user_id"`
	BusNumber     string `csv:"bus_number"`
	Route         string `csv:"route"`
	PassengerName string `csv:"passenger_name"`
	PhoneNumber   string `csv:"phone_number"`
	Seats         int    `csv:"seats"`
	Status        string `csv:"status"`
	BookingTime   string `csv:"booking_time"`
	DepartureTime string `csv:"departure_time"`
}

func toExportRow(b models.Booking) exportRow {
	row := exportRow{
		ID:            b.ID,
		Reference:     b.Reference,
		BusNumber:     b.BusNumber,
		Route:         b.Route,
		PassengerName: b.PassengerName,
		PhoneNumber:   b.PhoneNumber,
		Seats:         b.Seats,
		Status:        string(b.Status),
		BookingTime:   b.BookingTime.UTC().Format(time.RFC3339),
	}
	if b.UserID != nil {
		row.UserID = strconv.FormatInt(*b.UserID, 10)
	}
	if b.DepartureTime != nil {
		row.DepartureTime = b.DepartureTime.UTC().Format(time.RFC3339)
	}
	return row
}

// WriteCSV writes bookings as CSV with a header row
func WriteCSV(w io.Writer, bookings []models.Booking) error {
	rows := make([]exportRow, len(bookings))
	for i, b := range bookings {
		rows[i] = toExportRow(b)
	}
	return gocsv.Marshal(rows, w)
}

// ExportCSV writes all bookings, or one user's when userID is set
func (s *Service) ExportCSV(ctx context.Context, w io.Writer, userID *int64) (int, error) {
	var (
		bookings []models.Booking
		err      error
	)
	if userID != nil {
		bookings, err = s.GetUserBookings(ctx, *userID)
	} else {
		bookings, err = s.GetAllBookings(ctx)
	}
	if err != nil {
		return 0, err
	}

	if err := WriteCSV(w, bookings); err != nil {
		return 0, err
	}
	return len(bookings), nil
}
