package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"pathway-backend/internal/handlers"
	"pathway-backend/internal/middleware"
)

func New(
	jwtAuth *middleware.JWTAuth,
	engagementHandler *handlers.EngagementHandler,
	wsHandler http.HandlerFunc,
	eventLimiter *middleware.RateLimiter,
	frontendURL string,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS(frontendURL))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api/v1", func(r chi.Router) {

		// ──── Engagement Routes ────
		r.Route("/engagement", func(r chi.Router) {
			r.Use(jwtAuth.Middleware)

			r.Route("/steps", func(r chi.Router) {
				r.Get("/", engagementHandler.ListSteps)
				r.Get("/{stepID}", engagementHandler.GetStep)
				r.Delete("/{stepID}", engagementHandler.Reset)
				r.Post("/{stepID}/time", engagementHandler.RecordTime)
				r.Post("/{stepID}/resources", engagementHandler.RecordResource)
				r.Post("/{stepID}/submissions", engagementHandler.RecordSubmission)
				r.Post("/{stepID}/complete", engagementHandler.Complete)
			})

			r.Get("/stats", engagementHandler.Stats)
			r.Get("/activity", engagementHandler.Activity)
			r.Post("/logins", engagementHandler.Login)
			r.Put("/reminders", engagementHandler.SetReminders)

			r.Group(func(r chi.Router) {
				if eventLimiter != nil {
					r.Use(eventLimiter.Middleware)
				}
				r.Post("/events", engagementHandler.Events)
			})
		})

		// ──── WebSocket ────
		if wsHandler != nil {
			r.Get("/ws", wsHandler)
		}
	})

	return r
}
