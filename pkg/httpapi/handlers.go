package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ubl-core/ubl/pkg/apierr"
	"github.com/ubl-core/ubl/pkg/app"
	"github.com/ubl-core/ubl/pkg/identity"
	"github.com/ubl-core/ubl/pkg/room"
)

// Server holds the dependencies every handler closes over.
type Server struct {
	app    *app.App
	logger *slog.Logger
}

// NewServer constructs a Server.
func NewServer(a *app.App, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{app: a, logger: logger}
}

func (s *Server) identity(r *http.Request) (identity.Identity, bool) {
	return identity.FromContext(r.Context())
}

// envelope adds the two fields every response carries: request_id and
// server_time.
func (s *Server) envelope(r *http.Request, fields map[string]interface{}) map[string]interface{} {
	if fields == nil {
		fields = map[string]interface{}{}
	}
	fields["request_id"] = GetRequestID(r.Context())
	fields["server_time"] = time.Now().UTC().Format(time.RFC3339Nano)
	return fields
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, fields map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(s.envelope(r, fields))
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	apierr.WriteHTTP(w, r, s.logger, GetRequestID(r.Context()), err)
}

// HandleWhoAmI implements GET /api/whoami.
func (s *Server) HandleWhoAmI(w http.ResponseWriter, r *http.Request) {
	id, ok := s.identity(r)
	if !ok {
		s.writeError(w, r, apierr.New(apierr.CodeUnauthorized, "missing identity"))
		return
	}
	tenantID, role, err := s.app.WhoAmI(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"identity":  id,
		"tenant_id": tenantID,
		"role":      role,
	})
}

// HandleListRooms implements GET /api/rooms.
func (s *Server) HandleListRooms(w http.ResponseWriter, r *http.Request) {
	id, ok := s.identity(r)
	if !ok {
		s.writeError(w, r, apierr.New(apierr.CodeUnauthorized, "missing identity"))
		return
	}
	rooms, err := s.app.ListRooms(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, map[string]interface{}{"rooms": rooms})
}

type createRoomRequest struct {
	Name string `json:"name"`
}

// HandleCreateRoom implements POST /api/rooms.
func (s *Server) HandleCreateRoom(w http.ResponseWriter, r *http.Request) {
	id, ok := s.identity(r)
	if !ok {
		s.writeError(w, r, apierr.New(apierr.CodeUnauthorized, "missing identity"))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, 1<<16)
	var req createRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, apierr.Wrap(apierr.CodeValidationError, "invalid request body", err))
		return
	}
	if req.Name == "" {
		s.writeError(w, r, apierr.New(apierr.CodeValidationError, "name is required"))
		return
	}
	summary, err := s.app.CreateRoom(r.Context(), id, req.Name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusCreated, map[string]interface{}{"room_id": summary.RoomID})
}

// HandleHistory implements GET /api/rooms/{roomID}/history.
func (s *Server) HandleHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := s.identity(r)
	if !ok {
		s.writeError(w, r, apierr.New(apierr.CodeUnauthorized, "missing identity"))
		return
	}
	roomID := chi.URLParam(r, "roomID")

	var cursor *int64
	if raw := r.URL.Query().Get("cursor"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			s.writeError(w, r, apierr.New(apierr.CodeValidationError, "cursor must be an integer"))
			return
		}
		cursor = &v
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			s.writeError(w, r, apierr.New(apierr.CodeValidationError, "limit must be an integer"))
			return
		}
		limit = v
	}

	messages, next, err := s.app.GetHistory(r.Context(), id, roomID, cursor, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, map[string]interface{}{"messages": messages, "next_cursor": next})
}

type sendMessageRequest struct {
	Type            room.MessageType `json:"type"`
	Body            room.Body        `json:"body"`
	ReplyTo         *string          `json:"reply_to"`
	ClientRequestID string           `json:"client_request_id"`
}

// HandleSendMessage implements POST /api/rooms/{roomID}/messages.
func (s *Server) HandleSendMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := s.identity(r)
	if !ok {
		s.writeError(w, r, apierr.New(apierr.CodeUnauthorized, "missing identity"))
		return
	}
	roomID := chi.URLParam(r, "roomID")

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, apierr.Wrap(apierr.CodeValidationError, "invalid request body", err))
		return
	}

	msg, err := s.app.SendMessage(r.Context(), id, roomID, room.SendInput{
		Type:            req.Type,
		Body:            req.Body,
		ReplyTo:         req.ReplyTo,
		ClientRequestID: req.ClientRequestID,
	}, GetRequestID(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusCreated, map[string]interface{}{"message": msg})
}

// HandleReceipt implements GET /api/receipts/{seq}.
func (s *Server) HandleReceipt(w http.ResponseWriter, r *http.Request) {
	id, ok := s.identity(r)
	if !ok {
		s.writeError(w, r, apierr.New(apierr.CodeUnauthorized, "missing identity"))
		return
	}
	raw := chi.URLParam(r, "seq")
	seq, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		s.writeError(w, r, apierr.New(apierr.CodeValidationError, "seq must be an integer"))
		return
	}
	atoms, err := s.app.GetReceipt(r.Context(), id, seq)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, map[string]interface{}{"seq": seq, "atoms": atoms})
}

// HandleHealthz implements GET /healthz.
func (s *Server) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
