package server

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"vidloop-live/internal/api"
	"vidloop-live/internal/live"
	"vidloop-live/internal/storage"

	"github.com/gorilla/websocket"
)

func newTestHandler(t *testing.T) (*api.Handler, *storage.Storage) {
	t.Helper()
	dir := t.TempDir()
	storePath := filepath.Join(dir, "store.json")
	store, err := storage.NewStorage(storePath)
	if err != nil {
		t.Fatalf("NewStorage error: %v", err)
	}
	return api.New(store, nil, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))), store
}

func TestNewReturnsErrorWhenHandlerNil(t *testing.T) {
	t.Parallel()

	srv, err := New(nil, Config{})
	if err == nil {
		t.Fatalf("expected error when handler is nil, got server: %#v", srv)
	}
}

func TestServerRoutesAuthRequests(t *testing.T) {
	handler, store := newTestHandler(t)
	srv, err := New(handler, Config{Addr: "127.0.0.1:0"})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	body, _ := json.Marshal(map[string]string{"username": "alice", "password": "correct-horse"})
	req := httptest.NewRequest(http.MethodPost, "/api/auth", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if _, ok := store.FindUserByUsername("alice"); !ok {
		t.Fatal("expected user to be created through the route")
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatal("expected request id header on response")
	}
}

func TestServerRoutesFeedRequests(t *testing.T) {
	handler, store := newTestHandler(t)
	owner, err := store.CreateUser(storage.CreateUserParams{Username: "owner"})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if _, err := store.CreateVideo(storage.CreateVideoParams{
		OwnerID: owner.ID,
		URL:     "https://cdn.example.com/clips/1.mp4",
	}); err != nil {
		t.Fatalf("CreateVideo: %v", err)
	}

	srv, err := New(handler, Config{Addr: "127.0.0.1:0"})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/videos", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var feed []storage.FeedItem
	if err := json.Unmarshal(rec.Body.Bytes(), &feed); err != nil {
		t.Fatalf("decode feed: %v", err)
	}
	if len(feed) != 1 {
		t.Fatalf("expected 1 feed item, got %d", len(feed))
	}
}

func TestServerUpgradesWebsocketThroughMiddleware(t *testing.T) {
	dir := t.TempDir()
	store, err := storage.NewStorage(filepath.Join(dir, "store.json"))
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}
	gateway := live.NewGateway(live.GatewayConfig{Store: store})
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	handler := api.New(store, gateway, logger)

	// Logger and audit logger force the full wrapper chain around /ws; the
	// upgrade only succeeds if every wrapper forwards Hijack.
	srv, err := New(handler, Config{Addr: "127.0.0.1:0", Logger: logger, AuditLogger: logger})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	user, err := store.CreateUser(storage.CreateUserParams{Username: "socket"})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	wsURL := strings.Replace(ts.URL, "http", "ws", 1) + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	if err := conn.WriteJSON(map[string]string{"type": "join-chat", "userId": user.ID}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("SetReadDeadline: %v", err)
	}
	var frame map[string]any
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if frame["type"] != "ack" {
		t.Fatalf("expected ack frame, got %v", frame)
	}

	// The connection must survive past the upgrade request; a second round
	// trip proves the server is still serving it.
	if err := conn.WriteJSON(map[string]string{"type": "nonsense"}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if frame["type"] != "error" {
		t.Fatalf("expected error frame for unknown command, got %v", frame)
	}
}

func TestRateLimitMiddlewareGlobalLimit(t *testing.T) {
	rl := newRateLimiter(RateLimitConfig{GlobalRPS: 1, GlobalBurst: 1})
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	chain := rateLimitMiddleware(rl, nil, next)

	req := httptest.NewRequest(http.MethodGet, "/api/videos", nil)
	rec := httptest.NewRecorder()
	chain.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected first request to pass, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	chain.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected second request throttled, got %d", rec.Code)
	}
}

func TestRateLimitMiddlewareThrottlesAuthAttempts(t *testing.T) {
	rl := newRateLimiter(RateLimitConfig{AuthLimit: 2, AuthWindow: time.Minute})
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	chain := rateLimitMiddleware(rl, nil, next)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/auth", nil)
		req.RemoteAddr = "203.0.113.7:1234"
		rec := httptest.NewRecorder()
		chain.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected attempt %d to pass, got %d", i+1, rec.Code)
		}
	}

	req := httptest.NewRequest(http.MethodPost, "/api/auth", nil)
	req.RemoteAddr = "203.0.113.7:1234"
	rec := httptest.NewRecorder()
	chain.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected third auth attempt throttled, got %d", rec.Code)
	}

	// Other endpoints stay unaffected by the auth budget.
	req = httptest.NewRequest(http.MethodGet, "/api/videos", nil)
	req.RemoteAddr = "203.0.113.7:1234"
	rec = httptest.NewRecorder()
	chain.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected non-auth request to pass, got %d", rec.Code)
	}
}

func TestAuditMiddlewareLogsMutations(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})
	chain := auditMiddleware(logger, next)

	req := httptest.NewRequest(http.MethodGet, "/api/videos", nil)
	chain.ServeHTTP(httptest.NewRecorder(), req)
	if buf.Len() != 0 {
		t.Fatalf("expected no audit entry for GET, got %s", buf.String())
	}

	req = httptest.NewRequest(http.MethodPost, "/api/follow", nil)
	chain.ServeHTTP(httptest.NewRecorder(), req)
	if buf.Len() == 0 {
		t.Fatal("expected audit entry for POST")
	}
	var payload map[string]any
	if err := json.Unmarshal(buf.Bytes(), &payload); err != nil {
		t.Fatalf("decode audit entry: %v", err)
	}
	if payload["path"] != "/api/follow" || payload["status"] != float64(http.StatusCreated) {
		t.Fatalf("unexpected audit entry: %v", payload)
	}
}

func TestExtractClientIPPrefersForwardedHeader(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:5000"
	if got := extractClientIP(req); got != "192.0.2.1" {
		t.Fatalf("expected remote addr host, got %q", got)
	}

	req.Header.Set("X-Real-IP", "198.51.100.9")
	if got := extractClientIP(req); got != "198.51.100.9" {
		t.Fatalf("expected X-Real-IP, got %q", got)
	}

	req.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
	if got := extractClientIP(req); got != "203.0.113.5" {
		t.Fatalf("expected first forwarded hop, got %q", got)
	}
}

func TestShouldAuditSkipsReads(t *testing.T) {
	t.Parallel()

	cases := []struct {
		method string
		path   string
		want   bool
	}{
		{http.MethodGet, "/api/videos", false},
		{http.MethodHead, "/api/videos", false},
		{http.MethodPost, "/api/follow", true},
		{http.MethodPost, "/healthz", false},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(tc.method, tc.path, nil)
		if got := shouldAudit(req); got != tc.want {
			t.Fatalf("shouldAudit(%s %s) = %v, want %v", tc.method, tc.path, got, tc.want)
		}
	}
}
