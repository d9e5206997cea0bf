package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dukerupert/earmark/internal/auth"
	"github.com/dukerupert/earmark/internal/backup"
	"github.com/dukerupert/earmark/internal/chat"
	"github.com/dukerupert/earmark/internal/content"
	"github.com/dukerupert/earmark/internal/database"
	"github.com/dukerupert/earmark/internal/entitlement"
	"github.com/dukerupert/earmark/internal/extract"
	"github.com/dukerupert/earmark/internal/library"
	"github.com/dukerupert/earmark/internal/llm"
	"github.com/dukerupert/earmark/internal/store"
	"github.com/dukerupert/earmark/internal/transcribe"
	ws "github.com/dukerupert/earmark/internal/websocket"
)

func setupServer(t *testing.T) http.Handler {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	kv := store.NewKVStore(db)
	hub := ws.NewHub(logger)
	engine := entitlement.New(kv, logger)
	contentStore := content.New(kv, logger, content.WithOnChange(hub.Publish))
	worker := transcribe.NewWorker(transcribe.NewClient(transcribe.Config{}), contentStore, logger)
	t.Cleanup(worker.Stop)

	srv := New(Deps{
		Auth:        auth.NewService(kv, "test-secret", 0, logger),
		Engine:      engine,
		Store:       contentStore,
		Library:     library.NewService(engine, contentStore, worker, extract.NewDocconv(logger, false), logger),
		Chat:        chat.NewService(contentStore, engine, llm.Disabled{}, logger),
		Backup:      backup.NewManager(backup.Config{}, kv, nil, nil, logger),
		Hub:         hub,
		CORSOrigins: []string{"http://localhost:5173"},
	}, logger)
	return srv.Router()
}

func signUp(t *testing.T, h http.Handler) string {
	t.Helper()
	body := `{"email":"owner@example.com","name":"Owner","password":"correct horse"}`
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("POST", "/api/auth/signup", strings.NewReader(body)))
	if rec.Code != http.StatusCreated {
		t.Fatalf("signup status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Token string `json:"token"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	return resp.Token
}

func TestHealth(t *testing.T) {
	h := setupServer(t)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID")
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	h := setupServer(t)
	for _, path := range []string{"/api/recordings", "/api/documents", "/api/chat/sessions", "/api/subscription", "/api/backup", "/api/push/vapid-key"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s: status = %d, want %d", path, rec.Code, http.StatusUnauthorized)
		}
	}
}

func TestAuthenticatedRequest(t *testing.T) {
	h := setupServer(t)
	token := signUp(t, h)

	req := httptest.NewRequest("GET", "/api/recordings", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("body = %q, want []", rec.Body.String())
	}
}

func TestPushDisabledWithoutKeys(t *testing.T) {
	h := setupServer(t)
	token := signUp(t, h)

	req := httptest.NewRequest("GET", "/api/push/vapid-key", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestChatWithoutModelReportsFailure(t *testing.T) {
	h := setupServer(t)
	token := signUp(t, h)

	do := func(method, path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	rec := do("POST", "/api/chat/general", "")
	var session struct {
		ID string `json:"id"`
	}
	json.Unmarshal(rec.Body.Bytes(), &session)

	rec = do("POST", "/api/chat/sessions/"+session.ID+"/messages", `{"content":"hello"}`)
	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadGateway)
	}
}

func TestSignInRateLimited(t *testing.T) {
	h := setupServer(t)

	var last int
	for i := 0; i < 11; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/api/auth/signin", strings.NewReader(`{"email":"x@example.com","password":"nope nope"}`))
		h.ServeHTTP(rec, req)
		last = rec.Code
	}
	if last != http.StatusTooManyRequests {
		t.Errorf("11th status = %d, want %d", last, http.StatusTooManyRequests)
	}
}

func TestCORSPreflight(t *testing.T) {
	h := setupServer(t)

	req := httptest.NewRequest("OPTIONS", "/api/recordings", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}

func TestOriginHosts(t *testing.T) {
	got := originHosts([]string{"http://localhost:5173", "https://app.example.com", "not a url", "*"})
	want := []string{"localhost:5173", "app.example.com", "*"}
	if len(got) != len(want) {
		t.Fatalf("originHosts = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("originHosts[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
