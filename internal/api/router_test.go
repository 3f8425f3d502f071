package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"halcyon/voice/internal/config"
	"halcyon/voice/internal/session"
	"halcyon/voice/internal/store"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	var cfg config.Config
	cfg.Turn.SessionIdleTTLMin = 5
	st, err := store.Open(filepath.Join(t.TempDir(), "turns.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	st.Insert(store.TurnRecord{ID: "t1", SessionID: "s1", StartedAt: time.Now(), Outcome: "completed"})
	mgr := session.NewManager(cfg, nil, nil, nil, nil)
	t.Cleanup(mgr.Shutdown)
	return NewRouter(NewHandlers(cfg, mgr, st))
}

func TestHealthz(t *testing.T) {
	r := newTestRouter(t)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestListSessions(t *testing.T) {
	r := newTestRouter(t)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Recorded []string `json:"recorded"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Recorded) != 1 || body.Recorded[0] != "s1" {
		t.Fatalf("expected recorded session s1, got %v", body.Recorded)
	}
}

func TestSessionTurns(t *testing.T) {
	r := newTestRouter(t)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions/s1/turns", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Turns []store.TurnRecord `json:"turns"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Turns) != 1 || body.Turns[0].ID != "t1" {
		t.Fatalf("expected turn t1, got %#v", body.Turns)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	r := newTestRouter(t)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sessions", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestUnknownRoute(t *testing.T) {
	r := newTestRouter(t)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions/s1/bogus", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
