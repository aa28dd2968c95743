package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ubl-core/ubl/pkg/apierr"
)

// KeepaliveInterval is how often a live SSE connection writes a
// comment-only keepalive frame while idle.
var KeepaliveInterval = 15 * time.Second

// HandleRoomEvents implements GET /api/events/rooms/{roomID}.
func (s *Server) HandleRoomEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := s.identity(r)
	if !ok {
		s.writeError(w, r, apierr.New(apierr.CodeUnauthorized, "missing identity"))
		return
	}
	roomID := chi.URLParam(r, "roomID")

	var fromSeq *int64
	if raw := r.URL.Query().Get("from_seq"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			s.writeError(w, r, apierr.New(apierr.CodeValidationError, "from_seq must be an integer"))
			return
		}
		fromSeq = &v
	}

	sub, err := s.app.SubscribeSSE(r.Context(), id, roomID, fromSeq)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer sub.Close()

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, r, apierr.New(apierr.CodeInternal, "streaming unsupported"))
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
		case ev, open := <-sub.Events:
			if !open {
				return
			}
			data, err := json.Marshal(ev.Data)
			if err != nil {
				s.logger.Error("sse: failed to marshal event", "room_id", roomID, "err", err)
				continue
			}
			if ev.ID != 0 {
				fmt.Fprintf(w, "id: %d\n", ev.ID)
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Name, data)
			flusher.Flush()
		case <-ticker.C:
			fmt.Fprint(w, ":keepalive\n\n")
			flusher.Flush()
		}
	}
}
