package directory

import (
	"context"
	"time"
)

// NullDirectory is the no-op Directory used when REDIS_ADDR is unset.
// Every lookup reports ErrNotFound, which the Dispatcher interprets as
// "this replica is authoritative" per spec.md §4.2.
type NullDirectory struct{}

func (NullDirectory) Put(context.Context, string, string, ClientRecord, time.Duration) error {
	return nil
}
func (NullDirectory) Get(context.Context, string) (string, error)        { return "", ErrNotFound }
func (NullDirectory) ListByAPIKey(context.Context, string) ([]DirectoryEntry, error) { return nil, nil }
func (NullDirectory) Refresh(context.Context, string, time.Duration) error   { return nil }
func (NullDirectory) Delete(context.Context, string, string) error           { return nil }
func (NullDirectory) AddToAPIKeyIndex(context.Context, string, string, time.Duration) error {
	return nil
}
func (NullDirectory) RemoveFromAPIKeyIndex(context.Context, string, string) error { return nil }
