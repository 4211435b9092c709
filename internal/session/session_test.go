package session

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/tariel-x/relaygate/internal/wire"
)

// queueConn feeds ReadMessage from a fixed list of frames, then returns
// errClosed forever, simulating a peer that sends a few frames and hangs up.
type queueConn struct {
	frames [][]byte
	pos    int
}

var errClosed = errors.New("queueConn: closed")

func (c *queueConn) WriteMessage(int, []byte) error   { return nil }
func (c *queueConn) Close() error                     { return nil }
func (c *queueConn) SetReadDeadline(time.Time) error   { return nil }
func (c *queueConn) SetReadLimit(int64)                {}

func (c *queueConn) ReadMessage() (int, []byte, error) {
	if c.pos >= len(c.frames) {
		return 0, nil, errClosed
	}
	f := c.frames[c.pos]
	c.pos++
	return 1, f, nil
}

func frame(m map[string]any) []byte {
	b, _ := json.Marshal(m)
	return b
}

func TestReadPumpAnswersPingInlineWithoutCallingHandler(t *testing.T) {
	conn := &queueConn{frames: [][]byte{frame(map[string]any{"type": "ping"})}}
	s := New("c1", "k1", conn, Metadata{}, 8, nil)

	called := false
	s.ReadPump(time.Second, func(clientID string, msg wire.Raw) { called = true })

	if called {
		t.Fatalf("expected onMessage not to be invoked for a ping frame")
	}
	select {
	case payload := <-s.Outbound():
		var got wire.Raw
		json.Unmarshal(payload, &got)
		if got.Type() != "pong" {
			t.Fatalf("expected pong reply, got %s", got.Type())
		}
	default:
		t.Fatalf("expected a pong reply queued on the outbound channel")
	}
}

func TestReadPumpHandsOffNonPingMessages(t *testing.T) {
	conn := &queueConn{frames: [][]byte{
		frame(map[string]any{"type": "roll-result", "requestId": "roll_a_1"}),
	}}
	s := New("c1", "k1", conn, Metadata{}, 8, nil)

	var gotClientID string
	var gotType string
	s.ReadPump(time.Second, func(clientID string, msg wire.Raw) {
		gotClientID = clientID
		gotType = msg.Type()
	})

	if gotClientID != "c1" || gotType != "roll-result" {
		t.Fatalf("expected handler invoked with c1/roll-result, got %s/%s", gotClientID, gotType)
	}
}

func TestReadPumpDropsMalformedFrameWithoutClosing(t *testing.T) {
	conn := &queueConn{frames: [][]byte{
		[]byte("not json"),
		frame(map[string]any{"type": "roll-result"}),
	}}
	s := New("c1", "k1", conn, Metadata{}, 8, nil)

	calls := 0
	s.ReadPump(time.Second, func(clientID string, msg wire.Raw) { calls++ })

	if calls != 1 {
		t.Fatalf("expected exactly one handler call after the malformed frame, got %d", calls)
	}
}

func TestReadPumpTouchesLastSeen(t *testing.T) {
	conn := &queueConn{frames: [][]byte{frame(map[string]any{"type": "ping"})}}
	s := New("c1", "k1", conn, Metadata{}, 8, nil)

	before := s.Metadata().LastSeen
	s.ReadPump(time.Second, nil)
	after := s.Metadata().LastSeen

	if !after.After(before) {
		t.Fatalf("expected LastSeen to advance after a frame, before=%v after=%v", before, after)
	}
}
