// Package prt implements the Pending Request Table (spec.md §4.3): the
// per-replica map from correlation ID to a suspended waiter, plus the
// correlation-ID generator. One lock, O(1) mutations, and an atomic Take
// that enforces invariant I4 (a waiter resolves exactly once) — the same
// "single lock, no I/O under it" shape as the teacher's CallStore in
// internal/handlers/store.go.
package prt

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tariel-x/relaygate/internal/wire"
)

// Response is what a waiter eventually resolves to: either a JSON body, or
// (for the download-file-result special handler, spec.md §4.6) raw decoded
// bytes with the headers needed to serve them directly.
type Response struct {
	Status int
	JSON   wire.Raw

	Binary              []byte
	ContentType         string
	ContentDisposition  string
}

// ResponseSink is whatever is required to deliver an eventual answer: an
// HTTP response handle for locally-issued requests, or a forwarder callback
// for requests that arrived over the IRF. Deliver is called exactly once.
type ResponseSink interface {
	Deliver(resp Response)
}

// SinkFunc adapts a function to ResponseSink.
type SinkFunc func(resp Response)

func (f SinkFunc) Deliver(resp Response) { f(resp) }

// Waiter is one entry in the PRT (spec.md §3).
type Waiter struct {
	RequestID      string
	Type           string
	OriginReplica  string
	TargetClientID string
	ResponseSink   ResponseSink
	CreatedAt      time.Time
	Deadline       time.Time
	ShapeHints     wire.ShapeHints
}

// Table is the Pending Request Table.
type Table struct {
	mu      sync.Mutex
	waiters map[string]*Waiter

	replicaID string
	counter   uint64
}

// NewTable builds an empty PRT bound to replicaID for correlation-ID
// generation.
func NewTable(replicaID string) *Table {
	return &Table{
		waiters:   make(map[string]*Waiter),
		replicaID: replicaID,
		counter:   uint64(time.Now().UnixNano()),
	}
}

// NewRequestID generates a correlation ID of the form
// "{type}_{replicaID}_{counter}", unique within this replica for its
// lifetime (spec.md §4.3, expanded in SPEC_FULL.md §4).
func (t *Table) NewRequestID(requestType string) string {
	n := atomic.AddUint64(&t.counter, 1)
	return fmt.Sprintf("%s_%s_%d", requestType, t.replicaID, n)
}

// Register inserts w. Returns false (and does not insert) if RequestID is
// already present, preserving invariant I1.
func (t *Table) Register(w *Waiter) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.waiters[w.RequestID]; exists {
		return false
	}
	t.waiters[w.RequestID] = w
	return true
}

// Take atomically removes and returns the waiter for requestID, or nil if
// absent. This is the single enforcement point for invariant I4: exactly
// one of {response, timeout, cancellation} ever observes a non-nil result.
func (t *Table) Take(requestID string) *Waiter {
	t.mu.Lock()
	defer t.mu.Unlock()
	w, ok := t.waiters[requestID]
	if !ok {
		return nil
	}
	delete(t.waiters, requestID)
	return w
}

// Cancel removes requestID without invoking its sink — used when the HTTP
// client has already disconnected and no one is left to deliver to.
func (t *Table) Cancel(requestID string) {
	t.mu.Lock()
	delete(t.waiters, requestID)
	t.mu.Unlock()
}

// Len reports the number of pending waiters, used by status/metrics.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.waiters)
}

// SweepExpired removes and returns every waiter whose deadline is at or
// before now, for the Reaper's periodic timeout sweep (spec.md §4.7).
func (t *Table) SweepExpired(now time.Time) []*Waiter {
	t.mu.Lock()
	defer t.mu.Unlock()
	var expired []*Waiter
	for id, w := range t.waiters {
		if !w.Deadline.After(now) {
			expired = append(expired, w)
			delete(t.waiters, id)
		}
	}
	return expired
}
