package session

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"halcyon/voice/internal/config"
	"halcyon/voice/internal/protocol"
	"halcyon/voice/internal/rag"
	"halcyon/voice/internal/stt"
	"halcyon/voice/internal/turn"
)

// Session binds one client connection to its turn controller.
type Session struct {
	ID        string
	CreatedAt time.Time
	Ctrl      *turn.Controller

	emit turn.Emitter
}

// Info is the ops-surface view of a session.
type Info struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

// Manager owns session lifecycle: creation on connect, removal on
// disconnect, and an inactivity reaper. The LLM and TTS clients are
// process-wide (pooled connections); each session gets its own STT
// stream and controller.
type Manager struct {
	cfg       config.Config
	llm       turn.LLMStreamer
	tts       turn.TTSStreamer
	retriever rag.Retriever
	records   turn.RecordSink

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(cfg config.Config, lm turn.LLMStreamer, ts turn.TTSStreamer,
	retriever rag.Retriever, records turn.RecordSink) *Manager {

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:       cfg,
		llm:       lm,
		tts:       ts,
		retriever: retriever,
		records:   records,
		ctx:       ctx,
		cancel:    cancel,
		sessions:  make(map[string]*Session),
	}
	go m.reaper()
	return m
}

// Create opens a session: a fresh STT stream plus a controller wired to
// the client's outbound queue.
func (m *Manager) Create(emit turn.Emitter) *Session {
	id := uuid.New().String()
	sttConn := stt.Open(m.ctx, m.cfg)
	ctrl := turn.NewController(m.ctx, id, m.cfg, emit, sttConn, m.llm, m.tts, m.retriever, m.records)
	ctrl.Start()

	s := &Session{ID: id, CreatedAt: time.Now().UTC(), Ctrl: ctrl, emit: emit}
	m.mu.Lock()
	m.sessions[id] = s
	n := len(m.sessions)
	m.mu.Unlock()
	gaugeSessions.Set(float64(n))
	return s
}

func (m *Manager) Get(id string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[id]
}

func (m *Manager) Remove(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	n := len(m.sessions)
	m.mu.Unlock()
	gaugeSessions.Set(float64(n))
}

// List returns active sessions, for the ops surface.
func (m *Manager) List() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Info, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, Info{ID: s.ID, CreatedAt: s.CreatedAt})
	}
	return out
}

// Shutdown stops every session and the reaper.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()
	for _, s := range sessions {
		s.Ctrl.Stop("server shutdown")
	}
	m.cancel()
}

// reaper expires sessions with no client activity past the TTL.
func (m *Manager) reaper() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	ttl := time.Duration(m.cfg.Turn.SessionIdleTTLMin) * time.Minute
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.mu.Lock()
			var expired []*Session
			for _, s := range m.sessions {
				if s.Ctrl.IdleFor(ttl) {
					expired = append(expired, s)
				}
			}
			for _, s := range expired {
				delete(m.sessions, s.ID)
			}
			n := len(m.sessions)
			m.mu.Unlock()
			gaugeSessions.Set(float64(n))
			for _, s := range expired {
				log.Printf("[session] %s expired after %s idle", s.ID, ttl)
				metricExpired.Inc()
				s.emit.Send(protocol.NewError(protocol.CodeSessionExpired, "session expired due to inactivity", false))
				s.Ctrl.Stop("inactivity timeout")
			}
		}
	}
}
