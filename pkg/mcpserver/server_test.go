package mcpserver

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
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

func testRouter(t *testing.T, cfg config.Config) http.Handler {
	t.Helper()
	a := app.New(cfg, nil)
	r := chi.NewRouter()
	Mount(r, a, cfg, testKeyFunc, nil)
	return r
}

func rpcCall(t *testing.T, router http.Handler, token, method string, params interface{}) *httptest.ResponseRecorder {
	t.Helper()
	body := map[string]interface{}{"jsonrpc": "2.0", "id": 1, "method": method}
	if params != nil {
		body["params"] = params
	}
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestInitializeReturnsSessionID(t *testing.T) {
	router := testRouter(t, config.Load())
	token := signToken(t, "u:alice", "alice@ex.com", "ex.com")

	rec := rpcCall(t, router, token, "initialize", map[string]interface{}{})
	resp := decodeResponse(t, rec)
	require.Nil(t, resp.Error)

	result, ok := resp.Result.(map[string]interface{})
	require.True(t, ok)
	sessionID, ok := result["session_id"].(string)
	require.True(t, ok)
	require.Contains(t, sessionID, "s:")
}

func TestToolsListReturnsSevenTools(t *testing.T) {
	router := testRouter(t, config.Load())
	token := signToken(t, "u:alice", "alice@ex.com", "ex.com")

	rec := rpcCall(t, router, token, "tools/list", nil)
	resp := decodeResponse(t, rec)
	require.Nil(t, resp.Error)

	result, ok := resp.Result.(map[string]interface{})
	require.True(t, ok)
	tools, ok := result["tools"].([]interface{})
	require.True(t, ok)
	require.Len(t, tools, 7)
}

func TestUnknownMethodReturnsMethodNotFound(t *testing.T) {
	router := testRouter(t, config.Load())
	token := signToken(t, "u:alice", "alice@ex.com", "ex.com")

	rec := rpcCall(t, router, token, "bogus/method", nil)
	resp := decodeResponse(t, rec)
	require.NotNil(t, resp.Error)
	require.Equal(t, rpcMethodNotFound, resp.Error.Code)
}

func TestToolsCallListRoomsBootstrapsTenant(t *testing.T) {
	router := testRouter(t, config.Load())
	token := signToken(t, "u:alice", "alice@ex.com", "ex.com")

	rec := rpcCall(t, router, token, "tools/call", map[string]interface{}{
		"name":      "messenger.list_rooms",
		"arguments": map[string]interface{}{},
	})
	resp := decodeResponse(t, rec)
	require.Nil(t, resp.Error)
}

func TestNoBearerTokenRejectedByIdentityMiddleware(t *testing.T) {
	router := testRouter(t, config.Load())
	rec := rpcCall(t, router, "", "tools/list", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestToolsCallSendMessageRoundTrips(t *testing.T) {
	router := testRouter(t, config.Load())
	token := signToken(t, "u:bob", "bob@ex.com", "ex.com")

	whoami := rpcCall(t, router, token, "tools/call", map[string]interface{}{
		"name":      "messenger.list_rooms",
		"arguments": map[string]interface{}{},
	})
	require.Nil(t, decodeResponse(t, whoami).Error)

	rec := rpcCall(t, router, token, "tools/call", map[string]interface{}{
		"name": "messenger.send",
		"arguments": map[string]interface{}{
			"room_id": "r:general",
			"type":    "text",
			"body":    map[string]interface{}{"text": "hello from mcp"},
		},
	})
	resp := decodeResponse(t, rec)
	require.Nil(t, resp.Error)

	result, ok := resp.Result.(map[string]interface{})
	require.True(t, ok)
	content, ok := result["content"].([]interface{})
	require.True(t, ok)
	require.Len(t, content, 1)
}

func TestToolsCallInvalidArgumentsRejected(t *testing.T) {
	router := testRouter(t, config.Load())
	token := signToken(t, "u:carol", "carol@ex.com", "ex.com")

	rec := rpcCall(t, router, token, "tools/call", map[string]interface{}{
		"name": "messenger.send",
		"arguments": map[string]interface{}{
			"room_id": "not-a-valid-room-id",
			"type":    "text",
			"body":    map[string]interface{}{"text": "hello"},
		},
	})
	resp := decodeResponse(t, rec)
	require.NotNil(t, resp.Error)
	require.Equal(t, rpcInvalidParams, resp.Error.Code)
}

func TestToolsCallUnknownToolRejected(t *testing.T) {
	router := testRouter(t, config.Load())
	token := signToken(t, "u:dave", "dave@ex.com", "ex.com")

	rec := rpcCall(t, router, token, "tools/call", map[string]interface{}{
		"name":      "messenger.delete_everything",
		"arguments": map[string]interface{}{},
	})
	resp := decodeResponse(t, rec)
	require.NotNil(t, resp.Error)
	require.Equal(t, rpcMethodNotFound, resp.Error.Code)
}

func TestOriginMismatchIsRejected(t *testing.T) {
	cfg := config.Load()
	cfg.AllowedOrigins = []string{"https://trusted.example.com"}
	router := testRouter(t, cfg)
	token := signToken(t, "u:erin", "erin@ex.com", "ex.com")

	body := map[string]interface{}{"jsonrpc": "2.0", "id": 1, "method": "initialize", "params": map[string]interface{}{}}
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewReader(raw))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Origin", "https://evil.example.com")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	resp := decodeResponse(t, rec)
	require.NotNil(t, resp.Error)
	require.Equal(t, -32003, resp.Error.Code)
}

func TestXRequestIDIsPreservedWhenProvided(t *testing.T) {
	router := testRouter(t, config.Load())
	token := signToken(t, "u:henry", "henry@ex.com", "ex.com")

	body := map[string]interface{}{"jsonrpc": "2.0", "id": 1, "method": "initialize", "params": map[string]interface{}{}}
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewReader(raw))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Request-Id", "req:client-supplied")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, "req:client-supplied", rec.Header().Get("X-Request-Id"))
}

func TestXRequestIDIsGeneratedWhenAbsent(t *testing.T) {
	router := testRouter(t, config.Load())
	token := signToken(t, "u:iris", "iris@ex.com", "ex.com")

	rec := rpcCall(t, router, token, "initialize", map[string]interface{}{})

	require.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestOriginAbsentIsAllowed(t *testing.T) {
	cfg := config.Load()
	cfg.AllowedOrigins = []string{"https://trusted.example.com"}
	router := testRouter(t, cfg)
	token := signToken(t, "u:frank", "frank@ex.com", "ex.com")

	rec := rpcCall(t, router, token, "initialize", map[string]interface{}{})
	resp := decodeResponse(t, rec)
	require.Nil(t, resp.Error)
}

func TestToolsCallDocumentLifecycle(t *testing.T) {
	router := testRouter(t, config.Load())
	token := signToken(t, "u:grace", "grace@ex.com", "ex.com")

	create := rpcCall(t, router, token, "tools/call", map[string]interface{}{
		"name": "office.document.create",
		"arguments": map[string]interface{}{
			"workspace_id": "w:research",
			"title":        "Q3 Plan",
			"content":      "the quarterly plan",
		},
	})
	createResp := decodeResponse(t, create)
	require.Nil(t, createResp.Error)
	result := createResp.Result.(map[string]interface{})
	content := result["content"].([]interface{})[0].(map[string]interface{})
	doc := content["json"].(map[string]interface{})["document"].(map[string]interface{})
	docID := doc["document_id"].(string)
	require.Contains(t, docID, "d:")

	get := rpcCall(t, router, token, "tools/call", map[string]interface{}{
		"name": "office.document.get",
		"arguments": map[string]interface{}{
			"workspace_id": "w:research",
			"document_id":  docID,
		},
	})
	getResp := decodeResponse(t, get)
	require.Nil(t, getResp.Error)

	search := rpcCall(t, router, token, "tools/call", map[string]interface{}{
		"name": "office.document.search",
		"arguments": map[string]interface{}{
			"workspace_id": "w:research",
			"query":        "quarterly",
		},
	})
	searchResp := decodeResponse(t, search)
	require.Nil(t, searchResp.Error)

	complete := rpcCall(t, router, token, "tools/call", map[string]interface{}{
		"name": "office.llm.complete",
		"arguments": map[string]interface{}{
			"workspace_id": "w:research",
			"prompt":       "hello there friend",
		},
	})
	completeResp := decodeResponse(t, complete)
	require.Nil(t, completeResp.Error)
	completeResult := completeResp.Result.(map[string]interface{})
	completeContent := completeResult["content"].([]interface{})[0].(map[string]interface{})
	usage := completeContent["json"].(map[string]interface{})["usage"].(map[string]interface{})
	require.Equal(t, float64(3), usage["prompt_tokens"])
}
