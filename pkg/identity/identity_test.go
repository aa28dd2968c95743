package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestResolveTenantIDDefaultsToEmailDomain(t *testing.T) {
	id := Identity{UserID: "u:alice", EmailDomain: "ex.com"}
	require.Equal(t, "t:ex.com", ResolveTenantID(id, []string{"ubl_core"}))
}

func TestResolveTenantIDPlatformDomain(t *testing.T) {
	id := Identity{UserID: "u:svc", EmailDomain: "ubl_core"}
	require.Equal(t, "t:ubl_core", ResolveTenantID(id, []string{"ubl_core", "ubl.dev"}))
}

func TestWithIdentityRoundTrips(t *testing.T) {
	id := Identity{UserID: "u:bob", Email: "bob@ex.com"}
	ctx := WithIdentity(context.Background(), id)
	got, ok := FromContext(ctx)
	require.True(t, ok)
	require.Equal(t, id, got)
}

func TestFromContextMissing(t *testing.T) {
	_, ok := FromContext(context.Background())
	require.False(t, ok)
}

func signToken(t *testing.T, secret []byte, claims Claims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := tok.SignedString(secret)
	require.NoError(t, err)
	return s
}

func TestMiddlewareRejectsMissingAuth(t *testing.T) {
	secret := []byte("test-secret")
	mw := Middleware(func(*jwt.Token) (interface{}, error) { return secret, nil })
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/whoami", nil)
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddlewareInjectsIdentityOnValidToken(t *testing.T) {
	secret := []byte("test-secret")
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u:alice",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Email:       "alice@ex.com",
		EmailDomain: "ex.com",
	}
	token := signToken(t, secret, claims)

	var captured Identity
	mw := Middleware(func(*jwt.Token) (interface{}, error) { return secret, nil })
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured, _ = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "u:alice", captured.UserID)
	require.Equal(t, "ex.com", captured.EmailDomain)
}

func TestMiddlewareAllowsPublicPathWithoutAuth(t *testing.T) {
	mw := Middleware(func(*jwt.Token) (interface{}, error) { return []byte("x"), nil })
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}
