// Package httpapi implements the REST+SSE surface: route registration,
// request-id propagation, idempotency-key replay, and the handlers that
// translate HTTP requests into pkg/app calls.
package httpapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/ubl-core/ubl/pkg/observability"
)

// TracingMiddleware starts a span named "METHOD /route-pattern" for
// every request, closing it with the eventual status code.
func TracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		ctx, span := observability.StartSpan(r.Context(), r.Method+" "+route,
			attribute.String("http.method", r.Method),
			attribute.String("http.route", route),
		)
		defer span.End()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type requestIDKey struct{}

// RequestIDMiddleware injects a unique X-Request-Id into every request
// context and response header, reusing the client-supplied value when
// present.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-Id")
		if requestID == "" {
			requestID = "req:" + uuid.New().String()
		}
		w.Header().Set("X-Request-Id", requestID)
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestID extracts the request id injected by RequestIDMiddleware.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}
