package session

import "sync"

// Table is the Local Client Table: a per-replica map from client ID to the
// Session that hosts it, plus an API-key secondary index (spec.md §4.2).
// Single reader/writer lock, no I/O under the lock, same shape as the
// teacher's WSHubV2 in internal/handlers/ws_hub.go.
type Table struct {
	mu       sync.RWMutex
	byClient map[string]*Session
	byAPIKey map[string]map[string]struct{} // apiKey -> set of clientIDs
}

// NewTable builds an empty Local Client Table.
func NewTable() *Table {
	return &Table{
		byClient: make(map[string]*Session),
		byAPIKey: make(map[string]map[string]struct{}),
	}
}

// Put inserts s, evicting and returning any prior session for the same
// client ID so the caller can close it (spec.md §4.1 step 1: "remove it
// from the LCT first" happens here, atomically with the insert).
func (t *Table) Put(s *Session) (evicted *Session) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if old, ok := t.byClient[s.ClientID]; ok {
		evicted = old
		t.untrackAPIKeyLocked(old.APIKey, old.ClientID)
	}
	t.byClient[s.ClientID] = s
	t.trackAPIKeyLocked(s.APIKey, s.ClientID)
	return evicted
}

// Get returns the session hosting clientID, if any.
func (t *Table) Get(clientID string) (*Session, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.byClient[clientID]
	return s, ok
}

// Remove deletes clientID from the table only if the current occupant is
// exactly s — this makes disconnect races (an evicted session's defer
// firing after a newer one already registered) a no-op, preserving
// invariant I2.
func (t *Table) Remove(clientID string, s *Session) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cur, ok := t.byClient[clientID]; ok && cur == s {
		delete(t.byClient, clientID)
		t.untrackAPIKeyLocked(s.APIKey, clientID)
	}
}

// ListByAPIKey returns the client IDs locally registered under apiKey
// (invariant I3).
func (t *Table) ListByAPIKey(apiKey string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	set, ok := t.byAPIKey[apiKey]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// Len returns the number of live sessions on this replica.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byClient)
}

// All returns a snapshot of every live session, used by the Reaper for the
// idle/directory-refresh sweeps.
func (t *Table) All() []*Session {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Session, 0, len(t.byClient))
	for _, s := range t.byClient {
		out = append(out, s)
	}
	return out
}

func (t *Table) trackAPIKeyLocked(apiKey, clientID string) {
	set, ok := t.byAPIKey[apiKey]
	if !ok {
		set = make(map[string]struct{})
		t.byAPIKey[apiKey] = set
	}
	set[clientID] = struct{}{}
}

func (t *Table) untrackAPIKeyLocked(apiKey, clientID string) {
	set, ok := t.byAPIKey[apiKey]
	if !ok {
		return
	}
	delete(set, clientID)
	if len(set) == 0 {
		delete(t.byAPIKey, apiKey)
	}
}
