package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/campus-transit/transitbook/internal/booking"
	"github.com/campus-transit/transitbook/internal/models"
)

// UserIDHeader carries the caller's user id; it overrides userId in the body
const UserIDHeader = "X-User-ID"

// BookingService defines the booking operations exposed over HTTP
type BookingService interface {
	AvailableSeats(ctx context.Context, busNumber string) (int, error)
	CreateBooking(ctx context.Context, req booking.Request) (*models.Booking, error)
	CancelBooking(ctx context.Context, bookingID int64) (bool, error)
	GetUserBookings(ctx context.Context, userID int64) ([]models.Booking, error)
	GetAllBookings(ctx context.Context) ([]models.Booking, error)
	GetBusBookings(ctx context.Context, busNumber string) ([]models.Booking, error)
	GetActiveBookings(ctx context.Context) ([]models.Booking, error)
	UpdateBus(ctx context.Context, busNumber string, update booking.BusUpdate) (*models.Bus, error)
}

// BookingHandler handles HTTP requests for bookings
type BookingHandler struct {
	service BookingService
}

// NewBookingHandler creates a new handler with the given service
func NewBookingHandler(service BookingService) *BookingHandler {
	return &BookingHandler{service: service}
}

// BookingsResponse is the JSON response for booking listings
type BookingsResponse struct {
	Bookings []models.Booking `json:"bookings"`
	Count    int              `json:"count"`
}

// CancelResponse is the JSON response for a cancellation
type CancelResponse struct {
	BookingID int64 `json:"bookingId"`
	Cancelled bool  `json:"cancelled"`
}

// CreateBooking handles POST /api/bookings
func (h *BookingHandler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	var req booking.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", map[string]interface{}{
			"reason": err.Error(),
		})
		return
	}

	userID, err := userIDFromHeader(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid user id", map[string]interface{}{
			"header": UserIDHeader,
		})
		return
	}
	if userID != nil {
		req.UserID = userID
	}

	created, err := h.service.CreateBooking(r.Context(), req)
	if err != nil {
		writeBookingError(w, err)
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/api/bookings/%d", created.ID))
	writeJSON(w, http.StatusCreated, created)
}

// GetBookings handles GET /api/bookings
// ?status=confirmed narrows the list to bookings that still hold seats
func (h *BookingHandler) GetBookings(w http.ResponseWriter, r *http.Request) {
	var bookings []models.Booking
	var err error

	switch status := r.URL.Query().Get("status"); status {
	case "":
		bookings, err = h.service.GetAllBookings(r.Context())
	case string(models.StatusConfirmed):
		bookings, err = h.service.GetActiveBookings(r.Context())
	default:
		writeError(w, http.StatusBadRequest, "Invalid status filter", map[string]interface{}{
			"status":  status,
			"allowed": []string{string(models.StatusConfirmed)},
		})
		return
	}
	h.writeBookings(w, bookings, err)
}

// GetUserBookings handles GET /api/users/{userId}/bookings
func (h *BookingHandler) GetUserBookings(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "userId"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid user id", nil)
		return
	}

	bookings, err := h.service.GetUserBookings(r.Context(), userID)
	h.writeBookings(w, bookings, err)
}

// GetBusBookings handles GET /api/buses/{busNumber}/bookings
func (h *BookingHandler) GetBusBookings(w http.ResponseWriter, r *http.Request) {
	bookings, err := h.service.GetBusBookings(r.Context(), chi.URLParam(r, "busNumber"))
	h.writeBookings(w, bookings, err)
}

// CancelBooking handles POST /api/bookings/{bookingId}/cancel
func (h *BookingHandler) CancelBooking(w http.ResponseWriter, r *http.Request) {
	bookingID, err := strconv.ParseInt(chi.URLParam(r, "bookingId"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid booking id", nil)
		return
	}

	cancelled, err := h.service.CancelBooking(r.Context(), bookingID)
	if err != nil {
		writeBookingError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, CancelResponse{BookingID: bookingID, Cancelled: cancelled})
}

// ExportBookings handles GET /api/bookings/export
// Streams bookings as CSV; ?user_id= (or the user header) narrows to one user
func (h *BookingHandler) ExportBookings(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromHeader(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid user id", nil)
		return
	}
	if raw := r.URL.Query().Get("user_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid user id", nil)
			return
		}
		userID = &id
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	var bookings []models.Booking
	if userID != nil {
		bookings, err = h.service.GetUserBookings(ctx, *userID)
	} else {
		bookings, err = h.service.GetAllBookings(ctx)
	}
	if err != nil {
		writeBookingError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="bookings-%s.csv"`, time.Now().UTC().Format("20060102")))
	w.WriteHeader(http.StatusOK)

	if err := booking.WriteCSV(w, bookings); err != nil {
		// Status is already out
		log.Error().Err(err).Msg("Booking export failed")
		return
	}
	log.Debug().Int("rows", len(bookings)).Msg("Bookings exported")
}

func (h *BookingHandler) writeBookings(w http.ResponseWriter, bookings []models.Booking, err error) {
	if err != nil {
		writeBookingError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, BookingsResponse{Bookings: bookings, Count: len(bookings)})
}

// userIDFromHeader returns nil when the header is absent
func userIDFromHeader(r *http.Request) (*int64, error) {
	raw := r.Header.Get(UserIDHeader)
	if raw == "" {
		return nil, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, err
	}
	return &id, nil
}
