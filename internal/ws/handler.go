package ws

import (
	"encoding/json"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"

	"halcyon/voice/internal/config"
	"halcyon/voice/internal/protocol"
	"halcyon/voice/internal/session"
)

const (
	pingInterval = 30 * time.Second
	pongDeadline = 60 * time.Second
)

// Server accepts client websocket connections and binds each one to a
// session. The read loop feeds the session's controller; the controller
// writes back through the bounded outbound queue.
type Server struct {
	Cfg      config.Config
	Sessions *session.Manager
}

func NewServer(cfg config.Config, mgr *session.Manager) *Server {
	return &Server{Cfg: cfg, Sessions: mgr}
}

func (s *Server) HandleClientWS(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		log.Printf("[ws] accept: %v", err)
		return
	}
	// audio chunks are sizeable base64 payloads
	c.SetReadLimit(1 << 20)

	out := NewOutbound(c, s.Cfg.Turn.OutboundQueue)
	sess := s.Sessions.Create(out)
	metricConnections.Inc()
	log.Printf("[ws] session %s connected", sess.ID)

	out.Send(protocol.NewSessionReady(sess.ID))

	var lastPong atomic.Int64
	lastPong.Store(time.Now().UnixNano())

	// heartbeat: ping every 30s, close if no pong within 60s
	hbDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-hbDone:
				return
			case <-ticker.C:
				if time.Since(time.Unix(0, lastPong.Load())) > pongDeadline {
					log.Printf("[ws] session %s heartbeat timeout", sess.ID)
					c.Close(websocket.StatusGoingAway, "heartbeat timeout")
					return
				}
				out.Send(protocol.NewPing())
			}
		}
	}()

	ctx := r.Context()
	for {
		typ, data, err := c.Read(ctx)
		if err != nil {
			break
		}
		if typ != websocket.MessageText && typ != websocket.MessageBinary {
			continue
		}
		var msg protocol.ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			out.Send(protocol.NewError(protocol.CodeWSProtocol, "malformed message: "+err.Error(), true))
			continue
		}
		switch msg.Type {
		case protocol.TypePong:
			lastPong.Store(time.Now().UnixNano())
		case protocol.TypeConnect:
			// session already established on accept; idempotent
			out.Send(protocol.NewSessionReady(sess.ID))
		default:
			sess.Ctrl.HandleClient(msg)
		}
		if msg.Type == protocol.TypeDisconnect {
			break
		}
	}

	close(hbDone)
	sess.Ctrl.Stop("connection closed")
	s.Sessions.Remove(sess.ID)
	out.Close()
	c.Close(websocket.StatusNormalClosure, "done")
	metricConnections.Dec()
	log.Printf("[ws] session %s disconnected", sess.ID)
}
