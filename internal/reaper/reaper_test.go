package reaper

import (
	"context"
	"testing"
	"time"

	"github.com/tariel-x/relaygate/internal/directory"
	"github.com/tariel-x/relaygate/internal/prt"
	"github.com/tariel-x/relaygate/internal/session"
)

func TestSweepPRTDeliversTimeoutToExpiredWaiters(t *testing.T) {
	table := prt.NewTable("replica-a")
	now := time.Now()

	var delivered prt.Response
	calls := 0
	w := &prt.Waiter{
		RequestID: "roll_replica-a_1",
		Deadline:  now.Add(-time.Second),
		ResponseSink: prt.SinkFunc(func(resp prt.Response) {
			calls++
			delivered = resp
		}),
	}
	table.Register(w)

	r := &Reaper{PRT: table, Now: func() time.Time { return now }}
	r.sweepPRT()

	if calls != 1 {
		t.Fatalf("expected exactly one timeout delivery, got %d", calls)
	}
	if delivered.Status != 408 {
		t.Fatalf("expected status 408, got %d", delivered.Status)
	}
}

func TestSweepPRTIgnoresUnexpiredWaiters(t *testing.T) {
	table := prt.NewTable("replica-a")
	now := time.Now()

	calls := 0
	w := &prt.Waiter{
		RequestID:    "roll_replica-a_1",
		Deadline:     now.Add(time.Minute),
		ResponseSink: prt.SinkFunc(func(prt.Response) { calls++ }),
	}
	table.Register(w)

	r := &Reaper{PRT: table, Now: func() time.Time { return now }}
	r.sweepPRT()

	if calls != 0 {
		t.Fatalf("expected no delivery for unexpired waiter, got %d", calls)
	}
}

func TestSweepIdleSessionsClosesSessionsPastTheLimit(t *testing.T) {
	table := session.NewTable()
	conn := &fakeConn{}
	sess := session.New("c1", "k1", conn, session.Metadata{LastSeen: time.Now().Add(-time.Hour)}, 4, nil)
	table.Put(sess)

	r := &Reaper{Sessions: table, IdleSessionLimit: time.Minute, Now: time.Now}
	r.sweepIdleSessions()

	if !sess.IsClosed() {
		t.Fatalf("expected idle session to be closed")
	}
	if _, ok := table.Get("c1"); ok {
		t.Fatalf("expected idle session removed from the table")
	}
}

func TestSweepIdleSessionsLeavesActiveSessionsAlone(t *testing.T) {
	table := session.NewTable()
	conn := &fakeConn{}
	sess := session.New("c1", "k1", conn, session.Metadata{LastSeen: time.Now()}, 4, nil)
	table.Put(sess)

	r := &Reaper{Sessions: table, IdleSessionLimit: time.Hour, Now: time.Now}
	r.sweepIdleSessions()

	if sess.IsClosed() {
		t.Fatalf("expected active session to remain open")
	}
}

func TestRefreshDirectoryRenewsEverySession(t *testing.T) {
	table := session.NewTable()
	conn := &fakeConn{}
	sess := session.New("c1", "k1", conn, session.Metadata{}, 4, nil)
	table.Put(sess)

	now := time.Now()
	dir := directory.NewMemoryDirectory(func() time.Time { return now })
	dir.Put(context.Background(), "c1", "replica-a", directory.ClientRecord{}, time.Minute)

	r := &Reaper{Sessions: table, Directory: dir, DirectoryTTL: time.Minute}
	now = now.Add(50 * time.Second)
	r.refreshDirectory(context.Background())
	// 100s after Put: past the original one-minute lease, inside the renewed one.
	now = now.Add(50 * time.Second)

	if _, err := dir.Get(context.Background(), "c1"); err != nil {
		t.Fatalf("expected directory entry to remain resolvable after refresh, got %v", err)
	}
}

type fakeConn struct{}

func (*fakeConn) WriteMessage(int, []byte) error  { return nil }
func (*fakeConn) ReadMessage() (int, []byte, error) { return 0, nil, nil }
func (*fakeConn) Close() error                     { return nil }
func (*fakeConn) SetReadDeadline(time.Time) error   { return nil }
func (*fakeConn) SetReadLimit(int64)                {}
