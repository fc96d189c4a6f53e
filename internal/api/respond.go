package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/campus-transit/transitbook/internal/booking"
)

// ErrorResponse is the JSON error response structure
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string, details map[string]interface{}) {
	writeJSON(w, status, ErrorResponse{Error: msg, Details: details})
}

var kindStatus = map[booking.Kind]int{
	booking.KindNotFound:         http.StatusNotFound,
	booking.KindInvalidBus:       http.StatusUnprocessableEntity,
	booking.KindSeatsUnavailable: http.StatusConflict,
	booking.KindAlreadyCancelled: http.StatusConflict,
	booking.KindInvalidRequest:   http.StatusBadRequest,
	booking.KindBookingFailed:    http.StatusServiceUnavailable,
}

// writeBookingError maps a booking error onto a status and a body naming the
// kind, bus, booking and reason
func writeBookingError(w http.ResponseWriter, err error) {
	var be *booking.Error
	if !errors.As(err, &be) {
		writeError(w, http.StatusInternalServerError, "Booking operation failed", map[string]interface{}{
			"internal": err.Error(),
		})
		return
	}

	status, ok := kindStatus[be.Kind]
	if !ok {
		status = http.StatusInternalServerError
	}

	details := map[string]interface{}{
		"kind": be.Kind.String(),
	}
	if be.BusNumber != "" {
		details["busNumber"] = be.BusNumber
	}
	if be.BookingID != 0 {
		details["bookingId"] = be.BookingID
	}
	if be.Reason != "" {
		details["reason"] = be.Reason
	}
	writeError(w, status, be.Error(), details)
}
