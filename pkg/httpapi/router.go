package httpapi

import (
	"log/slog"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/ubl-core/ubl/pkg/app"
	"github.com/ubl-core/ubl/pkg/config"
	"github.com/ubl-core/ubl/pkg/identity"
)

// NewRouter assembles the REST+SSE surface: CORS, request-id injection,
// per-IP rate limiting, identity verification, then idempotency replay
// for mutating routes, in front of the route table.
func NewRouter(a *app.App, cfg config.Config, keyFunc identity.KeyFunc, logger *slog.Logger) *chi.Mux {
	if logger == nil {
		logger = slog.Default()
	}
	srv := NewServer(a, logger)
	idem := NewIdempotencyStore(10 * time.Minute)
	limiter := NewRateLimiter(20, 40)

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   originsOrWildcard(cfg.AllowedOrigins),
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "Idempotency-Key", "X-Request-Id"},
		ExposedHeaders:   []string{"Retry-After", "X-Request-Id"},
		MaxAge:           86400,
		AllowCredentials: false,
	}))
	r.Use(RequestIDMiddleware)
	r.Use(TracingMiddleware)
	r.Use(limiter.Middleware)

	r.Get("/healthz", srv.HandleHealthz)

	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(keyFunc))
		r.Use(IdempotencyMiddleware(idem))

		r.Get("/api/whoami", srv.HandleWhoAmI)
		r.Get("/api/rooms", srv.HandleListRooms)
		r.Post("/api/rooms", srv.HandleCreateRoom)
		r.Get("/api/rooms/{roomID}/history", srv.HandleHistory)
		r.Post("/api/rooms/{roomID}/messages", srv.HandleSendMessage)
		r.Get("/api/events/rooms/{roomID}", srv.HandleRoomEvents)
		r.Get("/api/receipts/{seq}", srv.HandleReceipt)
	})

	return r
}

func originsOrWildcard(origins []string) []string {
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}
