package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"halcyon/voice/internal/config"
	"halcyon/voice/internal/health"
	"halcyon/voice/internal/session"
	"halcyon/voice/internal/store"
)

type Handlers struct {
	cfg   config.Config
	mgr   *session.Manager
	store *store.Store // nil when persistence is disabled
}

func NewHandlers(cfg config.Config, mgr *session.Manager, st *store.Store) *Handlers {
	return &Handlers{cfg: cfg, mgr: mgr, store: st}
}

func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("deep") == "" {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	status := health.CheckAll(ctx, h.cfg)
	w.Header().Set("Content-Type", "application/json")
	if !status.OK {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(status)
}

func (h *Handlers) HandleListSessions(w http.ResponseWriter, r *http.Request) {
	active := h.mgr.List()
	var recorded []string
	if h.store != nil {
		recorded, _ = h.store.SessionIDs()
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"active":   active,
		"recorded": recorded,
	})
}

func (h *Handlers) HandleSessionTurns(w http.ResponseWriter, r *http.Request, id string) {
	if h.store == nil {
		http.Error(w, "persistence disabled", http.StatusNotFound)
		return
	}
	turns, err := h.store.SessionTurns(id, 100)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"session_id": id,
		"turns":      turns,
	})
}
