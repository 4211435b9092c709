// Package directory implements the Global Directory (spec.md §4.2): the
// cross-replica map from client ID to owning replica, backed by an external
// key/value store with TTLs. The Redis implementation is grounded on the
// go-redis/v9 usage in USA-RedDragon-DMRHub and gravitational-teleport;
// Redis's per-key TTL is a direct match for the directory's lease
// semantics. When no store is configured, NullDirectory degrades the relay
// gracefully per spec.md §4.2.
package directory

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when clientID has no directory record.
var ErrNotFound = errors.New("directory: not found")

// ClientRecord is the metadata snapshot stored alongside a directory entry,
// the string-keyed layout from spec.md §6.
type ClientRecord struct {
	Instance       string
	LastSeen       time.Time
	ConnectedSince time.Time
	WorldID        string
	WorldTitle     string
	FoundryVersion string
	SystemID       string
	SystemTitle    string
	SystemVersion  string
	CustomName     string
}

// DirectoryEntry pairs a client ID with its metadata record, the full shape
// spec.md §4.2's listByApiKey operation specifies ("set<clientId> and
// per-client metadata") rather than bare IDs.
type DirectoryEntry struct {
	ClientID string
	Record   ClientRecord
}

// Directory is the Global Directory interface. Every operation carries its
// own deadline via ctx (spec.md §4.2: "all with short deadlines, 250ms
// default").
type Directory interface {
	// Put upserts clientID -> replicaID with record, refreshing TTL.
	Put(ctx context.Context, clientID, replicaID string, record ClientRecord, ttl time.Duration) error
	// Get resolves the owning replica for clientID. Returns ErrNotFound if
	// absent or the store is unavailable/unconfigured.
	Get(ctx context.Context, clientID string) (replicaID string, err error)
	// ListByAPIKey returns every client ID associated with apiKey across all
	// replicas, each paired with its metadata record (spec.md §4.2).
	ListByAPIKey(ctx context.Context, apiKey string) ([]DirectoryEntry, error)
	// Refresh extends the TTL of clientID's existing record.
	Refresh(ctx context.Context, clientID string, ttl time.Duration) error
	// Delete removes clientID's record, but only if replicaID is still the
	// current owner (conditional delete, spec.md §4.2).
	Delete(ctx context.Context, clientID, replicaID string) error
	// AddToAPIKeyIndex adds clientID to apiKey's client set.
	AddToAPIKeyIndex(ctx context.Context, apiKey, clientID string, ttl time.Duration) error
	// RemoveFromAPIKeyIndex removes clientID from apiKey's client set.
	RemoveFromAPIKeyIndex(ctx context.Context, apiKey, clientID string) error
}

// DefaultTimeout is the short per-operation deadline spec.md §4.2 calls for
// when a caller doesn't supply its own context deadline.
const DefaultTimeout = 250 * time.Millisecond
