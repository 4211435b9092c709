package prt

import (
	"testing"
	"time"

	"github.com/tariel-x/relaygate/internal/wire"
)

func TestRegisterRejectsDuplicateRequestID(t *testing.T) {
	table := NewTable("replica-a")
	w := &Waiter{RequestID: "roll_replica-a_1", Deadline: time.Now().Add(time.Second)}

	if !table.Register(w) {
		t.Fatalf("expected first register to succeed")
	}
	if table.Register(w) {
		t.Fatalf("expected duplicate register to fail (invariant I1)")
	}
}

func TestTakeIsAtomicAndIdempotent(t *testing.T) {
	table := NewTable("replica-a")
	w := &Waiter{RequestID: "roll_replica-a_1", Deadline: time.Now().Add(time.Second)}
	table.Register(w)

	first := table.Take(w.RequestID)
	if first != w {
		t.Fatalf("expected first take to return the waiter")
	}
	second := table.Take(w.RequestID)
	if second != nil {
		t.Fatalf("expected second take to return nil, got %v", second)
	}
}

func TestNewRequestIDIsUniquePerCall(t *testing.T) {
	table := NewTable("replica-a")
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		id := table.NewRequestID("roll")
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate request id generated: %s", id)
		}
		seen[id] = struct{}{}
	}
}

func TestSweepExpiredRemovesOnlyPastDeadline(t *testing.T) {
	table := NewTable("replica-a")
	now := time.Now()

	expired := &Waiter{RequestID: "r1", Deadline: now.Add(-time.Second)}
	fresh := &Waiter{RequestID: "r2", Deadline: now.Add(time.Minute)}
	table.Register(expired)
	table.Register(fresh)

	swept := table.SweepExpired(now)
	if len(swept) != 1 || swept[0].RequestID != "r1" {
		t.Fatalf("expected only r1 swept, got %v", swept)
	}
	if table.Take("r2") == nil {
		t.Fatalf("expected r2 to remain registered")
	}
}

func TestDeliverInvokedExactlyOnce(t *testing.T) {
	calls := 0
	sink := SinkFunc(func(resp Response) { calls++ })
	w := &Waiter{RequestID: "r1", ResponseSink: sink, Deadline: time.Now().Add(time.Second)}

	table := NewTable("replica-a")
	table.Register(w)

	taken := table.Take(w.RequestID)
	taken.ResponseSink.Deliver(Response{Status: 200, JSON: wire.Raw{}})

	if again := table.Take(w.RequestID); again != nil {
		t.Fatalf("expected no second waiter to take")
	}
	if calls != 1 {
		t.Fatalf("expected exactly one delivery, got %d", calls)
	}
}
