package httpapi

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/ubl-core/ubl/pkg/app"
	"github.com/ubl-core/ubl/pkg/config"
	"github.com/ubl-core/ubl/pkg/identity"
)

var testSecret = []byte("test-secret")

func testKeyFunc(t *jwt.Token) (interface{}, error) { return testSecret, nil }

func signToken(t *testing.T, subject, email, domain string) string {
	t.Helper()
	claims := identity.Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: subject},
		Email:            email,
		EmailDomain:      domain,
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(testSecret)
	require.NoError(t, err)
	return signed
}

func testRouter(t *testing.T) http.Handler {
	t.Helper()
	cfg := config.Load()
	a := app.New(cfg, nil)
	return NewRouter(a, cfg, testKeyFunc, nil)
}

func TestHealthzIsPublic(t *testing.T) {
	router := testRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestWhoAmIRequiresAuth(t *testing.T) {
	router := testRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/api/whoami", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWhoAmIBootstrapsTenant(t *testing.T) {
	router := testRouter(t)
	token := signToken(t, "u:alice", "alice@ex.com", "ex.com")

	req := httptest.NewRequest(http.MethodGet, "/api/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"tenant_id":"t:ex.com"`)
	require.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestSendMessageAndFetchHistory(t *testing.T) {
	router := testRouter(t)
	token := signToken(t, "u:bob", "bob@ex.com", "ex.com")
	auth := func(req *http.Request) *http.Request {
		req.Header.Set("Authorization", "Bearer "+token)
		return req
	}

	whoami := httptest.NewRequest(http.MethodGet, "/api/whoami", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, auth(whoami))
	require.Equal(t, http.StatusOK, rec.Code)

	body := bytes.NewBufferString(`{"type":"text","body":{"text":"hello"}}`)
	send := httptest.NewRequest(http.MethodPost, "/api/rooms/r:general/messages", body)
	send.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, auth(send))
	require.Equal(t, http.StatusCreated, rec.Code)

	hist := httptest.NewRequest(http.MethodGet, "/api/rooms/r:general/history", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, auth(hist))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "hello")
}

func TestIdempotencyKeyReplaysResponse(t *testing.T) {
	router := testRouter(t)
	token := signToken(t, "u:carol", "carol@ex.com", "ex.com")
	auth := func(req *http.Request) *http.Request {
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Idempotency-Key", "fixed-key")
		return req
	}

	whoami := httptest.NewRequest(http.MethodGet, "/api/whoami", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, auth(whoami))

	req1 := httptest.NewRequest(http.MethodPost, "/api/rooms", bytes.NewBufferString(`{"name":"Ops"}`))
	req1.Header.Set("Content-Type", "application/json")
	rec1 := httptest.NewRecorder()
	router.ServeHTTP(rec1, auth(req1))
	require.Equal(t, http.StatusCreated, rec1.Code)

	req2 := httptest.NewRequest(http.MethodPost, "/api/rooms", bytes.NewBufferString(`{"name":"Something Else"}`))
	req2.Header.Set("Content-Type", "application/json")
	rec2 := httptest.NewRecorder()
	router.ServeHTTP(rec2, auth(req2))
	require.Equal(t, http.StatusCreated, rec2.Code)
	require.Equal(t, rec1.Body.String(), rec2.Body.String(), "replayed response must be byte-identical")
}

func TestRateLimiterBlocksBurst(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.RemoteAddr = "203.0.113.5:4000"

	rec1 := httptest.NewRecorder()
	handler.ServeHTTP(rec1, req)
	require.Equal(t, http.StatusOK, rec1.Code)

	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, req)
	require.Equal(t, http.StatusTooManyRequests, rec2.Code)
}
