package mcpserver

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ubl-core/ubl/pkg/app"
	"github.com/ubl-core/ubl/pkg/config"
	"github.com/ubl-core/ubl/pkg/httpapi"
	"github.com/ubl-core/ubl/pkg/identity"
)

// KeepaliveInterval is how often the GET /mcp stream writes a
// comment-only keepalive frame; this core offers no server-initiated
// notifications over it in MVP.
var KeepaliveInterval = 15 * time.Second

// Mount registers the JSON-RPC surface on r: POST /mcp for requests,
// GET /mcp for the keepalive-only companion stream. Both preserve or
// generate X-Request-Id the same way the REST surface does, then
// require identity.
func Mount(r chi.Router, a *app.App, cfg config.Config, keyFunc identity.KeyFunc, logger *slog.Logger) {
	srv := NewServer(a, cfg.AllowedOrigins, logger)

	r.Group(func(r chi.Router) {
		r.Use(httpapi.RequestIDMiddleware)
		r.Use(identity.Middleware(keyFunc))
		r.Post("/mcp", srv.ServeHTTP)
		r.Get("/mcp", handleStream)
	})
}

// handleStream implements GET /mcp?session_id: a keepalive-only SSE
// stream. No tool results are pushed over it in this core; session_id
// is accepted but not validated against initialize, since sessions are
// not persisted.
func handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(KeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			fmt.Fprint(w, ":keepalive\n\n")
			flusher.Flush()
		}
	}
}
