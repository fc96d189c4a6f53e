package models

import "time"

// BookingStatus only ever moves confirmed -> cancelled
type BookingStatus string

const (
	StatusConfirmed BookingStatus = "confirmed"
	StatusCancelled BookingStatus = "cancelled"
)

// Booking is a seat reservation on a bus. Rows are never deleted.
type Booking struct {
	ID            int64         `json:"id"`
	Reference     string        `json:"reference"`
	UserID        *int64        `json:"userId,omitempty"`
	BusID         int64         `json:"busId"`
	PassengerName string        `json:"passengerName"`
	PhoneNumber   string        `json:"phoneNumber"`
	Seats         int           `json:"seats"`
	Status        BookingStatus `json:"status"`
	BookingTime   time.Time     `json:"bookingTime"`
	DepartureTime *time.Time    `json:"departureTime,omitempty"`

	// Joined from the bus row for listings and export
	BusNumber string `json:"busNumber,omitempty"`
	Route     string `json:"route,omitempty"`
}

// IsConfirmed reports whether the booking still holds seats
func (b *Booking) IsConfirmed() bool {
	return b.Status == StatusConfirmed
}
