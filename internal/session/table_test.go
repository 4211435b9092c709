package session

import (
	"testing"
	"time"
)

func newTestSession(clientID, apiKey string) *Session {
	return New(clientID, apiKey, stubConn{}, Metadata{}, 8, nil)
}

type stubConn struct{}

func (stubConn) WriteMessage(int, []byte) error        { return nil }
func (stubConn) ReadMessage() (int, []byte, error)      { return 0, nil, nil }
func (stubConn) Close() error                           { return nil }
func (stubConn) SetReadDeadline(time.Time) error        { return nil }
func (stubConn) SetReadLimit(int64)                     {}

func TestTablePutEvictsPriorSessionForSameClientID(t *testing.T) {
	table := NewTable()
	first := newTestSession("c1", "k1")
	second := newTestSession("c1", "k1")

	if evicted := table.Put(first); evicted != nil {
		t.Fatalf("expected no eviction on first put, got %v", evicted)
	}
	evicted := table.Put(second)
	if evicted != first {
		t.Fatalf("expected first session evicted, got %v", evicted)
	}

	got, ok := table.Get("c1")
	if !ok || got != second {
		t.Fatalf("expected second session to occupy c1, got %v ok=%v", got, ok)
	}
}

func TestTableRemoveIsNoOpForStaleOccupant(t *testing.T) {
	table := NewTable()
	first := newTestSession("c1", "k1")
	second := newTestSession("c1", "k1")

	table.Put(first)
	table.Put(second)

	// A delayed disconnect handler for the evicted session must not remove
	// the newer occupant (invariant I2).
	table.Remove("c1", first)

	got, ok := table.Get("c1")
	if !ok || got != second {
		t.Fatalf("stale remove corrupted table: got %v ok=%v", got, ok)
	}
}

func TestTableAPIKeyIndexTracksOnlyOpenSessions(t *testing.T) {
	table := NewTable()
	s := newTestSession("c1", "k1")
	table.Put(s)

	ids := table.ListByAPIKey("k1")
	if len(ids) != 1 || ids[0] != "c1" {
		t.Fatalf("expected [c1], got %v", ids)
	}

	table.Remove("c1", s)
	if ids := table.ListByAPIKey("k1"); len(ids) != 0 {
		t.Fatalf("expected empty index after remove, got %v", ids)
	}
}

func TestTableLenReflectsLiveSessions(t *testing.T) {
	table := NewTable()
	table.Put(newTestSession("c1", "k1"))
	table.Put(newTestSession("c2", "k1"))

	if table.Len() != 2 {
		t.Fatalf("expected 2 sessions, got %d", table.Len())
	}
}
