// Package session implements the Peer Session (spec.md §4.1) and the Local
// Client Table (spec.md §4.2). Session's read/write pumps are modeled
// directly on the teacher's internal/handlers/ws.go readPump/writePump:
// a buffered outbound channel owned by a single writer goroutine, ping
// deadlines refreshed on every inbound frame, and a sync.Once-guarded close.
package session

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/tariel-x/relaygate/internal/wire"
)

// MessageHandler receives every inbound peer frame that isn't a ping or a
// pong, handed off to the Response Router (spec.md §4.6).
type MessageHandler func(clientID string, msg wire.Raw)

// Metadata is the peer's handshake snapshot, mutated only by handshake and
// ping (spec.md §3).
type Metadata struct {
	WorldID         string
	WorldTitle      string
	FoundryVersion  string
	SystemID        string
	SystemTitle     string
	SystemVersion   string
	CustomName      string
	OriginURL       string
	ConnectedSince  time.Time
	LastSeen        time.Time
}

// Conn is the subset of *websocket.Conn the Session needs; satisfied by
// *websocket.Conn in production and fakeable in tests.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
	SetReadDeadline(t time.Time) error
	SetReadLimit(limit int64)
}

// Session is one WebSocket connection to one backend peer.
type Session struct {
	ClientID string
	APIKey   string
	// ConnID distinguishes successive connections for the same ClientID in
	// logs (a reconnect reuses ClientID; ConnID does not).
	ConnID string

	conn Conn
	send chan []byte

	mu       sync.RWMutex
	metadata Metadata

	closeOnce sync.Once
	closed    chan struct{}

	logger *slog.Logger
}

// New builds a Session. sendBuffer bounds the outbound queue; once full,
// Send reports failure rather than blocking (spec.md §5, back-pressure).
func New(clientID, apiKey string, conn Conn, meta Metadata, sendBuffer int, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	connID, err := gonanoid.New(10)
	if err != nil {
		logger.Warn("session connID generation failed", "client_id", clientID, "error", err)
	}
	return &Session{
		ClientID: clientID,
		APIKey:   apiKey,
		ConnID:   connID,
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		metadata: meta,
		closed:   make(chan struct{}),
		logger:   logger,
	}
}

// Metadata returns a copy of the session's current metadata snapshot.
func (s *Session) Metadata() Metadata {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.metadata
}

// Touch refreshes LastSeen; ReadPump calls it for every well-formed inbound
// frame, pings included (spec.md §4.1).
func (s *Session) Touch(now time.Time) {
	s.mu.Lock()
	s.metadata.LastSeen = now
	s.mu.Unlock()
}

// Send serializes msg to JSON and queues it for the writer goroutine.
// Returns false if the outbound buffer is saturated or the session is
// already closed — the caller (Dispatcher) must treat this as
// UpstreamUnavailable (spec.md §4.1, §5).
func (s *Session) Send(msg any) bool {
	payload, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error("session marshal failed", "client_id", s.ClientID, "error", err)
		return false
	}
	return s.enqueue(payload)
}

func (s *Session) enqueue(payload []byte) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	select {
	case <-s.closed:
		return false
	default:
	}
	select {
	case s.send <- payload:
		return true
	default:
		return false
	}
}

// Outbound exposes the write queue for the writer pump.
func (s *Session) Outbound() <-chan []byte { return s.send }

// IsClosed reports whether Close has been called.
func (s *Session) IsClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// Close closes the underlying connection with code and stops the writer
// pump. Safe to call more than once.
func (s *Session) Close(code int, reason string) {
	s.closeOnce.Do(func() {
		close(s.closed)
		msg := websocket.FormatCloseMessage(code, reason)
		_ = s.conn.WriteMessage(websocket.CloseMessage, msg)
		_ = s.conn.Close()
	})
}

// WritePump owns all writes to the connection; call it in its own
// goroutine. It exits when the session is closed.
func (s *Session) WritePump(writeWait time.Duration) {
	for {
		select {
		case payload, ok := <-s.send:
			if !ok {
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				s.logger.Debug("session write failed", "client_id", s.ClientID, "conn_id", s.ConnID, "error", err)
				s.Close(CloseInternalError, "write failed")
				return
			}
		case <-s.closed:
			return
		}
	}
}

// ReadPump owns all reads from the connection; call it in its own
// goroutine. Every well-formed frame refreshes LastSeen; ping frames are
// answered inline, pong frames are consumed, and every other frame is handed
// to onMessage (the Response Router). A malformed
// frame is logged and dropped without closing the session (spec.md §4.1).
// ReadPump returns when the connection errors or closes, leaving teardown
// of the session table entry to the caller.
func (s *Session) ReadPump(readWait time.Duration, onMessage MessageHandler) {
	for {
		_ = s.conn.SetReadDeadline(time.Now().Add(readWait))
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			s.logger.Debug("session read failed", "client_id", s.ClientID, "error", err)
			s.Close(CloseInternalError, "read failed")
			return
		}

		var msg wire.Raw
		if err := json.Unmarshal(payload, &msg); err != nil {
			s.logger.Warn("session dropped malformed frame", "client_id", s.ClientID, "error", err)
			continue
		}

		s.Touch(time.Now())

		switch msg.Type() {
		case "ping":
			s.Send(wire.Raw{"type": jsonString("pong")})
		case "pong":
			// keepalive ack, no-op beyond the Touch above
		default:
			if onMessage != nil {
				onMessage(s.ClientID, msg)
			}
		}
	}
}

func jsonString(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}
