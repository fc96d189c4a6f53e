// Package api exposes buses, routes and bookings over HTTP
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"

	"github.com/campus-transit/transitbook/internal/geo"
)

// Options configures the router
type Options struct {
	CORSOrigins []string
	Unit        geo.Unit
}

// NewRouter wires every handler onto a chi router
func NewRouter(buses BusReader, bookings BookingService, health HealthChecker, opts Options) http.Handler {
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"http://localhost:5173"}
	}
	if opts.Unit == "" {
		opts.Unit = geo.Kilometers
	}

	busHandler := NewBusHandler(buses, bookings, opts.Unit)
	bookingHandler := NewBookingHandler(bookings)
	healthHandler := NewHealthHandler(health)

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", UserIDHeader},
		AllowCredentials: true,
	}))

	r.Get("/health", healthHandler.GetHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/buses", busHandler.GetAvailableBuses)
		r.Get("/buses/{busNumber}", busHandler.GetBus)
		r.Patch("/buses/{busNumber}", busHandler.UpdateBus)
		r.Get("/buses/{busNumber}/seats", busHandler.GetAvailableSeats)
		r.Get("/buses/{busNumber}/bookings", bookingHandler.GetBusBookings)

		r.Get("/routes/{routeId}", busHandler.GetRouteDetail)

		r.Post("/bookings", bookingHandler.CreateBooking)
		r.Get("/bookings", bookingHandler.GetBookings)
		r.Get("/bookings/export", bookingHandler.ExportBookings)
		r.Post("/bookings/{bookingId}/cancel", bookingHandler.CancelBooking)
		r.Get("/users/{userId}/bookings", bookingHandler.GetUserBookings)
	})

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("took", time.Since(start)).
			Msg("HTTP request")
	})
}
