package router

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/consult-slots/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/consult-slots/internal/http/middleware"
	"github.com/wolfman30/consult-slots/internal/reservations"
	"github.com/wolfman30/consult-slots/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger             *logging.Logger
	Reservations       *reservations.Handler
	AdminBookings      *handlers.AdminBookingsHandler
	PaymentWebhook     *handlers.PaymentWebhookHandler
	LiveFeed           http.Handler
	HoldLimiter        *httpmiddleware.RateLimiter
	AdminAuthSecret    string
	MetricsHandler     http.Handler
	CORSAllowedOrigins []string

	// Ready reports whether backing stores are reachable (optional).
	Ready func(ctx context.Context) error
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	r.Use(httpmiddleware.RequestLogger(cfg.Logger))

	r.Get("/health", healthHandler(cfg.Ready))
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}
	if cfg.LiveFeed != nil {
		r.Get("/ws/slots", cfg.LiveFeed.ServeHTTP)
	}
	if cfg.PaymentWebhook != nil {
		r.Post("/webhooks/payments", cfg.PaymentWebhook.Handle)
	}

	if h := cfg.Reservations; h != nil {
		// Public booking flow
		r.Group(func(public chi.Router) {
			public.Use(middleware.Compress(5))
			public.Get("/appointments/published", h.ListPublished)
			public.Get("/appointments/{appointmentID}/slots", h.ListSlots)
			public.Get("/slots/{slotID}", h.GetSlot)
			public.With(httpmiddleware.RateLimit(cfg.HoldLimiter)).Post("/holds", h.AcquireHold)
			public.Post("/bookings/{bookingID}/confirm", h.ConfirmBooking)
		})
	}

	// Admin routes are only mounted when a signing secret is configured.
	if cfg.AdminAuthSecret != "" {
		r.Route("/admin", func(admin chi.Router) {
			admin.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret))

			if h := cfg.Reservations; h != nil {
				admin.Route("/appointments", func(appts chi.Router) {
					appts.Post("/", h.CreateConfiguration)
					appts.Get("/", h.ListConfigurations)
					appts.Route("/{appointmentID}", func(appt chi.Router) {
						appt.Get("/", h.GetConfiguration)
						appt.Put("/", h.EditConfiguration)
						appt.Delete("/", h.DeleteConfiguration)
						appt.Post("/publish", h.PublishConfiguration)
						appt.Get("/slots", h.ListSlots)
					})
				})
				admin.Route("/slots/{slotID}", func(slot chi.Router) {
					slot.Get("/", h.GetSlotAdmin)
					slot.Patch("/consultation-complete", h.CompleteConsultation)
					slot.Post("/cancel", h.CancelSlot)
				})
				admin.Post("/sweeps/holds", h.SweepHolds)
				admin.Post("/sweeps/configurations", h.SweepConfigurations)
			}
			if cfg.AdminBookings != nil {
				admin.Get("/bookings", cfg.AdminBookings.ListBookings)
				admin.Get("/bookings/stats", cfg.AdminBookings.GetBookingStats)
			}
		})
	}

	return r
}

func healthHandler(ready func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, code := "ok", http.StatusOK
		if ready != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := ready(ctx); err != nil {
				status, code = "degraded", http.StatusServiceUnavailable
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": status})
	}
}
