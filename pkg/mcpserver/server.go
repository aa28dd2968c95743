package mcpserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/ubl-core/ubl/pkg/apierr"
	"github.com/ubl-core/ubl/pkg/app"
	"github.com/ubl-core/ubl/pkg/httpapi"
	"github.com/ubl-core/ubl/pkg/identity"
	"github.com/ubl-core/ubl/pkg/observability"
)

// Server dispatches JSON-RPC 2.0 requests onto the same App the REST
// surface uses, so both surfaces see the same identity, tenant/room/
// ledger coordinators, and receipt shape.
type Server struct {
	app            *app.App
	logger         *slog.Logger
	allowedOrigins []string
	tools          map[string]tool
}

// NewServer constructs a Server. allowedOrigins empty means no
// allowlist is enforced (dev mode), matching pkg/httpapi's CORS
// default.
func NewServer(a *app.App, allowedOrigins []string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{app: a, logger: logger, allowedOrigins: allowedOrigins, tools: buildTools()}
}

// ToolDescriptors returns the static tools/list payload in the fixed
// order the protocol advertises.
func (s *Server) ToolDescriptors() []ToolDescriptor {
	out := make([]ToolDescriptor, 0, len(toolOrder))
	for _, name := range toolOrder {
		out = append(out, s.tools[name].descriptor)
	}
	return out
}

// originAllowed implements the DNS-rebinding defense from the external
// interfaces design: an absent Origin header is a non-browser client
// and is always allowed; an empty allowlist allows every Origin;
// otherwise a present Origin must match an allowlist entry
// (case-insensitively).
func (s *Server) originAllowed(origin string) bool {
	if origin == "" || len(s.allowedOrigins) == 0 {
		return true
	}
	for _, allowed := range s.allowedOrigins {
		if strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// ServeHTTP implements POST /mcp: it accepts exactly one JSON-RPC
// request object per call (batching is not offered in this core) and
// writes exactly one response object.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !s.originAllowed(r.Header.Get("Origin")) {
		s.writeResponse(w, s.apiErrorResponse(nil, apierr.New(apierr.CodeOriginNotAllowed, "origin not allowed")))
		return
	}

	id, hasIdentity := identity.FromContext(r.Context())

	var req Request
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(&req); err != nil {
		s.writeResponse(w, errorResponse(nil, rpcParseError, "invalid JSON-RPC request", nil))
		return
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		s.writeResponse(w, errorResponse(req.ID, rpcInvalidRequest, "request must be JSON-RPC 2.0 with a method", nil))
		return
	}

	ctx, span := observability.StartSpan(r.Context(), "mcp."+req.Method,
		attribute.String("rpc.method", req.Method),
		attribute.String("request_id", httpapi.GetRequestID(r.Context())),
	)
	defer span.End()

	resp := s.dispatch(ctx, req, id, hasIdentity)
	if resp.Error != nil {
		span.SetAttributes(attribute.Int("rpc.error_code", resp.Error.Code))
	}
	s.writeResponse(w, resp)
}

func (s *Server) writeResponse(w http.ResponseWriter, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) dispatch(ctx context.Context, req Request, id identity.Identity, hasIdentity bool) Response {
	switch req.Method {
	case "initialize":
		return resultResponse(req.ID, map[string]interface{}{
			"serverInfo":   map[string]interface{}{"name": "ubl-core", "version": "1.0.0"},
			"capabilities": map[string]interface{}{"tools": true, "streaming": true},
			"session_id":   "s:" + uuid.NewString(),
		})
	case "tools/list":
		return resultResponse(req.ID, map[string]interface{}{"tools": s.ToolDescriptors()})
	case "tools/call":
		return s.callTool(ctx, req, id, hasIdentity)
	default:
		return errorResponse(req.ID, rpcMethodNotFound, "unknown method: "+req.Method, nil)
	}
}

type callToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

func (s *Server) callTool(ctx context.Context, req Request, id identity.Identity, hasIdentity bool) Response {
	if !hasIdentity {
		return s.apiErrorResponse(req.ID, apierr.New(apierr.CodeUnauthorized, "missing identity"))
	}

	var params callToolParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errorResponse(req.ID, rpcInvalidParams, "params must be {name, arguments}", nil)
	}
	t, ok := s.tools[params.Name]
	if !ok {
		return errorResponse(req.ID, rpcMethodNotFound, "unknown tool: "+params.Name, nil)
	}

	args := map[string]interface{}{}
	if len(params.Arguments) > 0 {
		if err := json.Unmarshal(params.Arguments, &args); err != nil {
			return errorResponse(req.ID, rpcInvalidParams, "arguments must be a JSON object", nil)
		}
	}
	if err := t.schema.Validate(args); err != nil {
		return errorResponse(req.ID, rpcInvalidParams, "arguments failed schema validation: "+err.Error(), nil)
	}

	result, err := s.invoke(ctx, params.Name, args, id)
	if err != nil {
		return s.apiErrorResponse(req.ID, err)
	}
	return resultResponse(req.ID, map[string]interface{}{
		"content": []map[string]interface{}{{"type": "json", "json": result}},
	})
}

func (s *Server) apiErrorResponse(id json.RawMessage, err error) Response {
	e := apierr.AsError(err)
	if e.Code == apierr.CodeInternal {
		s.logger.Error("mcp: internal error", "err", e.Error())
	}
	return errorResponse(id, e.RPCCode(), e.Message, e.Data)
}
