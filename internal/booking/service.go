// Package booking owns seat reservations. Seat availability is always
// computed from confirmed bookings, and every check-then-write runs in one
// store transaction.
package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/campus-transit/transitbook/internal/db"
	"github.com/campus-transit/transitbook/internal/models"
)

// Store is the part of the database the service needs
type Store interface {
	GetBusByNumber(ctx context.Context, busNumber string) (*models.Bus, error)
	ConfirmedSeats(ctx context.Context, busID int64) (int, error)
	ListBookings(ctx context.Context, filter db.BookingFilter) ([]models.Booking, error)
	InTx(ctx context.Context, fn func(*db.Tx) error) error
}

// Request is a booking request. Seats defaults to 1.
type Request struct {
	BusNumber     string `json:"busNumber" validate:"required,max=32"`
	PassengerName string `json:"passengerName" validate:"required,max=100"`
	PhoneNumber   string `json:"phoneNumber" validate:"required,max=32"`
	Seats         int    `json:"seats" validate:"gte=0,lte=100"`
	UserID        *int64 `json:"userId,omitempty"`
}

// BusUpdate changes the booking-side fields of a bus; nil fields are left alone
type BusUpdate struct {
	Active   *bool `json:"isActive,omitempty"`
	Capacity *int  `json:"capacity,omitempty" validate:"omitempty,gte=1,lte=500"`
}

// Service implements seat inventory and bookings
type Service struct {
	store    Store
	validate *validator.Validate
	now      func() time.Time
}

// NewService creates a booking service on the foreground store connection
func NewService(store Store) *Service {
	return &Service{
		store:    store,
		validate: validator.New(),
		now:      time.Now,
	}
}

// AvailableSeats returns capacity minus confirmed seats for the bus
func (s *Service) AvailableSeats(ctx context.Context, busNumber string) (int, error) {
	bus, err := s.store.GetBusByNumber(ctx, busNumber)
	if err != nil {
		if db.IsNotFound(err) {
			return 0, &Error{Kind: KindNotFound, BusNumber: busNumber, Reason: "bus does not exist"}
		}
		return 0, storeFailure(busNumber, 0, err)
	}

	booked, err := s.store.ConfirmedSeats(ctx, bus.ID)
	if err != nil {
		return 0, storeFailure(busNumber, 0, err)
	}
	return max(bus.Capacity-booked, 0), nil
}

// CreateBooking reserves seats on an active bus. The availability check and
// the insert share one immediate-lock transaction, so concurrent requests
// can never book more seats than the bus has.
func (s *Service) CreateBooking(ctx context.Context, req Request) (*models.Booking, error) {
	req.BusNumber = strings.TrimSpace(req.BusNumber)
	req.PassengerName = strings.TrimSpace(req.PassengerName)
	req.PhoneNumber = strings.TrimSpace(req.PhoneNumber)
	if req.Seats == 0 {
		req.Seats = 1
	}

	if err := s.validate.Struct(req); err != nil {
		return nil, &Error{Kind: KindInvalidRequest, BusNumber: req.BusNumber, Reason: validationReason(err)}
	}

	var booking *models.Booking
	err := s.store.InTx(ctx, func(tx *db.Tx) error {
		bus, err := tx.BusByNumber(ctx, req.BusNumber)
		if err != nil {
			if db.IsNotFound(err) {
				return &Error{Kind: KindInvalidBus, BusNumber: req.BusNumber, Reason: "bus does not exist"}
			}
			return err
		}
		if !bus.IsActive {
			return &Error{Kind: KindInvalidBus, BusNumber: req.BusNumber, Reason: "bus is not active"}
		}

		booked, err := tx.ConfirmedSeats(ctx, bus.ID)
		if err != nil {
			return err
		}
		available := bus.Capacity - booked
		if req.Seats > available {
			return &Error{
				Kind:      KindSeatsUnavailable,
				BusNumber: req.BusNumber,
				Reason:    fmt.Sprintf("requested %d seats, %d available", req.Seats, max(available, 0)),
			}
		}

		b := &models.Booking{
			Reference:     uuid.New().String(),
			UserID:        req.UserID,
			BusID:         bus.ID,
			PassengerName: req.PassengerName,
			PhoneNumber:   req.PhoneNumber,
			Seats:         req.Seats,
			Status:        models.StatusConfirmed,
			BookingTime:   s.now().UTC().Truncate(time.Second),
			BusNumber:     bus.BusNumber,
			Route:         bus.Route,
		}
		if !bus.LastUpdated.IsZero() {
			departure := bus.LastUpdated
			b.DepartureTime = &departure
		}

		if err := tx.InsertBooking(ctx, b); err != nil {
			return err
		}
		booking = b
		return nil
	})
	if err != nil {
		return nil, asBookingError(req.BusNumber, 0, err)
	}

	log.Info().
		Int64("booking_id", booking.ID).
		Str("reference", booking.Reference).
		Str("bus_number", booking.BusNumber).
		Int("seats", booking.Seats).
		Msg("Booking confirmed")
	return booking, nil
}

// CancelBooking moves a confirmed booking to cancelled. The freed seats show
// up in the next AvailableSeats call.
func (s *Service) CancelBooking(ctx context.Context, bookingID int64) (bool, error) {
	err := s.store.InTx(ctx, func(tx *db.Tx) error {
		b, err := tx.BookingByID(ctx, bookingID)
		if err != nil {
			if db.IsNotFound(err) {
				return &Error{Kind: KindNotFound, BookingID: bookingID, Reason: "booking does not exist"}
			}
			return err
		}
		if !b.IsConfirmed() {
			return &Error{Kind: KindAlreadyCancelled, BookingID: bookingID, BusNumber: b.BusNumber}
		}
		return tx.SetBookingStatus(ctx, bookingID, models.StatusCancelled)
	})
	if err != nil {
		return false, asBookingError("", bookingID, err)
	}

	log.Info().Int64("booking_id", bookingID).Msg("Booking cancelled")
	return true, nil
}

// GetUserBookings lists one user's bookings, newest first
func (s *Service) GetUserBookings(ctx context.Context, userID int64) ([]models.Booking, error) {
	return s.list(ctx, db.BookingFilter{UserID: &userID})
}

// GetAllBookings lists every booking, newest first
func (s *Service) GetAllBookings(ctx context.Context) ([]models.Booking, error) {
	return s.list(ctx, db.BookingFilter{})
}

// GetBusBookings lists the bookings made on one bus
func (s *Service) GetBusBookings(ctx context.Context, busNumber string) ([]models.Booking, error) {
	return s.list(ctx, db.BookingFilter{BusNumber: busNumber})
}

// GetActiveBookings lists confirmed bookings only
func (s *Service) GetActiveBookings(ctx context.Context) ([]models.Booking, error) {
	return s.list(ctx, db.BookingFilter{Status: models.StatusConfirmed})
}

func (s *Service) list(ctx context.Context, filter db.BookingFilter) ([]models.Booking, error) {
	bookings, err := s.store.ListBookings(ctx, filter)
	if err != nil {
		return nil, storeFailure(filter.BusNumber, 0, err)
	}
	return bookings, nil
}

// UpdateBus changes a bus's active flag and capacity. Capacity cannot drop
// below the seats already confirmed on the bus.
func (s *Service) UpdateBus(ctx context.Context, busNumber string, update BusUpdate) (*models.Bus, error) {
	if err := s.validate.Struct(update); err != nil {
		return nil, &Error{Kind: KindInvalidRequest, BusNumber: busNumber, Reason: validationReason(err)}
	}

	var updated *models.Bus
	err := s.store.InTx(ctx, func(tx *db.Tx) error {
		bus, err := tx.BusByNumber(ctx, busNumber)
		if err != nil {
			if db.IsNotFound(err) {
				return &Error{Kind: KindNotFound, BusNumber: busNumber, Reason: "bus does not exist"}
			}
			return err
		}

		if update.Capacity != nil {
			booked, err := tx.ConfirmedSeats(ctx, bus.ID)
			if err != nil {
				return err
			}
			if *update.Capacity < booked {
				return &Error{
					Kind:      KindInvalidRequest,
					BusNumber: busNumber,
					Reason:    fmt.Sprintf("capacity %d is below %d confirmed seats", *update.Capacity, booked),
				}
			}
			if err := tx.SetBusCapacity(ctx, busNumber, *update.Capacity); err != nil {
				return err
			}
		}
		if update.Active != nil {
			if err := tx.SetBusActive(ctx, busNumber, *update.Active); err != nil {
				return err
			}
		}

		updated, err = tx.BusByNumber(ctx, busNumber)
		return err
	})
	if err != nil {
		return nil, asBookingError(busNumber, 0, err)
	}
	return updated, nil
}

// asBookingError passes *Error through and turns store failures into
// BookingFailed
func asBookingError(busNumber string, bookingID int64, err error) error {
	var be *Error
	if errors.As(err, &be) {
		return be
	}
	return storeFailure(busNumber, bookingID, err)
}

func storeFailure(busNumber string, bookingID int64, err error) error {
	reason := "store error"
	if db.IsBusy(err) {
		reason = "store busy, try again"
	}
	log.Error().Err(err).Str("bus_number", busNumber).Int64("booking_id", bookingID).Msg("Booking store failure")
	return &Error{Kind: KindBookingFailed, BusNumber: busNumber, BookingID: bookingID, Reason: reason, Err: err}
}

func validationReason(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s must satisfy %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			parts = append(parts, fmt.Sprintf("%s is %s", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}
