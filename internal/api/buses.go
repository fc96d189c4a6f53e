package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/campus-transit/transitbook/internal/booking"
	"github.com/campus-transit/transitbook/internal/db"
	"github.com/campus-transit/transitbook/internal/geo"
	"github.com/campus-transit/transitbook/internal/models"
	"github.com/campus-transit/transitbook/internal/transit"
)

// BusReader defines the read side over live buses and routes
type BusReader interface {
	AvailableBuses(ctx context.Context) ([]models.Bus, error)
	Bus(ctx context.Context, busNumber string) (*models.Bus, error)
	RouteDetail(ctx context.Context, routeID string) (*transit.RouteDetail, error)
}

// BusHandler handles HTTP requests for buses and routes
type BusHandler struct {
	buses    BusReader
	bookings BookingService
	unit     geo.Unit
}

// NewBusHandler creates a new handler with the given services
func NewBusHandler(buses BusReader, bookings BookingService, unit geo.Unit) *BusHandler {
	return &BusHandler{buses: buses, bookings: bookings, unit: unit}
}

// GetAvailableBusesResponse is the JSON response for GET /api/buses
type GetAvailableBusesResponse struct {
	Buses        []models.Bus `json:"buses"`
	Count        int          `json:"count"`
	DistanceUnit string       `json:"distanceUnit"`
	SpeedUnit    string       `json:"speedUnit"`
	LastChecked  time.Time    `json:"lastChecked"`
}

// SeatsResponse is the JSON response for GET /api/buses/{busNumber}/seats
type SeatsResponse struct {
	BusNumber      string `json:"busNumber"`
	AvailableSeats int    `json:"availableSeats"`
}

// GetAvailableBuses handles GET /api/buses
// Returns active buses near the reference point, nearest first
func (h *BusHandler) GetAvailableBuses(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	buses, err := h.buses.AvailableBuses(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list buses")
		writeError(w, http.StatusInternalServerError, "Failed to retrieve buses", nil)
		return
	}

	w.Header().Set("Cache-Control", "public, max-age=15, stale-while-revalidate=10")
	writeJSON(w, http.StatusOK, GetAvailableBusesResponse{
		Buses:        buses,
		Count:        len(buses),
		DistanceUnit: string(h.unit),
		SpeedUnit:    h.unit.SpeedLabel(),
		LastChecked:  time.Now().UTC(),
	})
}

// GetBus handles GET /api/buses/{busNumber}
func (h *BusHandler) GetBus(w http.ResponseWriter, r *http.Request) {
	busNumber := chi.URLParam(r, "busNumber")

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	bus, err := h.buses.Bus(ctx, busNumber)
	if err != nil {
		if db.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "Bus not found", map[string]interface{}{
				"busNumber": busNumber,
			})
			return
		}
		log.Error().Err(err).Str("bus_number", busNumber).Msg("Failed to get bus")
		writeError(w, http.StatusInternalServerError, "Failed to retrieve bus", nil)
		return
	}

	w.Header().Set("Cache-Control", "public, max-age=10, stale-while-revalidate=5")
	writeJSON(w, http.StatusOK, bus)
}

// GetAvailableSeats handles GET /api/buses/{busNumber}/seats
func (h *BusHandler) GetAvailableSeats(w http.ResponseWriter, r *http.Request) {
	busNumber := chi.URLParam(r, "busNumber")

	seats, err := h.bookings.AvailableSeats(r.Context(), busNumber)
	if err != nil {
		writeBookingError(w, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, SeatsResponse{BusNumber: busNumber, AvailableSeats: seats})
}

// UpdateBus handles PATCH /api/buses/{busNumber}
// Accepts {"isActive": bool, "capacity": int}; omitted fields are unchanged
func (h *BusHandler) UpdateBus(w http.ResponseWriter, r *http.Request) {
	busNumber := chi.URLParam(r, "busNumber")

	var update booking.BusUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", map[string]interface{}{
			"reason": err.Error(),
		})
		return
	}

	bus, err := h.bookings.UpdateBus(r.Context(), busNumber, update)
	if err != nil {
		writeBookingError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bus)
}

// GetRouteDetail handles GET /api/routes/{routeId}
// Returns the route, its buses, and live trip updates and alerts
func (h *BusHandler) GetRouteDetail(w http.ResponseWriter, r *http.Request) {
	routeID := chi.URLParam(r, "routeId")

	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	detail, err := h.buses.RouteDetail(ctx, routeID)
	if err != nil {
		if errors.Is(err, transit.ErrRouteNotFound) {
			writeError(w, http.StatusNotFound, "Route not found", map[string]interface{}{
				"routeId": routeID,
			})
			return
		}
		log.Error().Err(err).Str("route_id", routeID).Msg("Failed to get route detail")
		writeError(w, http.StatusInternalServerError, "Failed to retrieve route", nil)
		return
	}

	w.Header().Set("Cache-Control", "public, max-age=15, stale-while-revalidate=10")
	writeJSON(w, http.StatusOK, detail)
}
