package directory

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisDirectory implements Directory on top of a *redis.Client. Keys
// follow the layout spec.md §6 specifies verbatim: client:{id}:instance,
// client:{id}:lastSeen, client:{id}:worldId, etc. as individual string
// keys (not a serialized blob), plus apikey:{apiKey}:clients as a Redis
// set.
type RedisDirectory struct {
	rdb *redis.Client
}

// NewRedisDirectory builds a RedisDirectory. addr is host:port; password
// and db follow the usual go-redis options, matching the connection style
// in gravitational-teleport's backend/lite Redis wiring.
func NewRedisDirectory(addr, password string, db int) *RedisDirectory {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisDirectory{rdb: rdb}
}

func instanceKey(clientID string) string       { return "client:" + clientID + ":instance" }
func lastSeenKey(clientID string) string       { return "client:" + clientID + ":lastSeen" }
func connectedSinceKey(clientID string) string { return "client:" + clientID + ":connectedSince" }
func worldIDKey(clientID string) string        { return "client:" + clientID + ":worldId" }
func worldTitleKey(clientID string) string     { return "client:" + clientID + ":worldTitle" }
func foundryVersionKey(clientID string) string { return "client:" + clientID + ":foundryVersion" }
func systemIDKey(clientID string) string       { return "client:" + clientID + ":systemId" }
func systemTitleKey(clientID string) string    { return "client:" + clientID + ":systemTitle" }
func systemVersionKey(clientID string) string  { return "client:" + clientID + ":systemVersion" }
func customNameKey(clientID string) string     { return "client:" + clientID + ":customName" }
func apiKeySetKey(apiKey string) string        { return "apikey:" + apiKey + ":clients" }

// recordFieldKeys lists every per-field metadata key for clientID, in the
// order Put/Refresh/Delete address them.
func recordFieldKeys(clientID string) []string {
	return []string{
		lastSeenKey(clientID),
		connectedSinceKey(clientID),
		worldIDKey(clientID),
		worldTitleKey(clientID),
		foundryVersionKey(clientID),
		systemIDKey(clientID),
		systemTitleKey(clientID),
		systemVersionKey(clientID),
		customNameKey(clientID),
	}
}

func (d *RedisDirectory) Put(ctx context.Context, clientID, replicaID string, record ClientRecord, ttl time.Duration) error {
	pipe := d.rdb.TxPipeline()
	pipe.Set(ctx, instanceKey(clientID), replicaID, ttl)
	pipe.Set(ctx, lastSeenKey(clientID), record.LastSeen.Format(time.RFC3339Nano), ttl)
	pipe.Set(ctx, connectedSinceKey(clientID), record.ConnectedSince.Format(time.RFC3339Nano), ttl)
	pipe.Set(ctx, worldIDKey(clientID), record.WorldID, ttl)
	pipe.Set(ctx, worldTitleKey(clientID), record.WorldTitle, ttl)
	pipe.Set(ctx, foundryVersionKey(clientID), record.FoundryVersion, ttl)
	pipe.Set(ctx, systemIDKey(clientID), record.SystemID, ttl)
	pipe.Set(ctx, systemTitleKey(clientID), record.SystemTitle, ttl)
	pipe.Set(ctx, systemVersionKey(clientID), record.SystemVersion, ttl)
	pipe.Set(ctx, customNameKey(clientID), record.CustomName, ttl)
	_, err := pipe.Exec(ctx)
	return err
}

func (d *RedisDirectory) Get(ctx context.Context, clientID string) (string, error) {
	replicaID, err := d.rdb.Get(ctx, instanceKey(clientID)).Result()
	if err == redis.Nil {
		return "", ErrNotFound
	}
	if err != nil {
		return "", ErrNotFound
	}
	return replicaID, nil
}

// getRecord reassembles a ClientRecord from its individual field keys.
// Missing fields (redis.Nil) resolve to their zero value rather than
// failing the whole lookup.
func (d *RedisDirectory) getRecord(ctx context.Context, clientID string) (ClientRecord, error) {
	pipe := d.rdb.Pipeline()
	lastSeen := pipe.Get(ctx, lastSeenKey(clientID))
	connectedSince := pipe.Get(ctx, connectedSinceKey(clientID))
	worldID := pipe.Get(ctx, worldIDKey(clientID))
	worldTitle := pipe.Get(ctx, worldTitleKey(clientID))
	foundryVersion := pipe.Get(ctx, foundryVersionKey(clientID))
	systemID := pipe.Get(ctx, systemIDKey(clientID))
	systemTitle := pipe.Get(ctx, systemTitleKey(clientID))
	systemVersion := pipe.Get(ctx, systemVersionKey(clientID))
	customName := pipe.Get(ctx, customNameKey(clientID))

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return ClientRecord{}, err
	}

	record := ClientRecord{
		WorldID:        worldID.Val(),
		WorldTitle:     worldTitle.Val(),
		FoundryVersion: foundryVersion.Val(),
		SystemID:       systemID.Val(),
		SystemTitle:    systemTitle.Val(),
		SystemVersion:  systemVersion.Val(),
		CustomName:     customName.Val(),
	}
	if t, err := time.Parse(time.RFC3339Nano, lastSeen.Val()); err == nil {
		record.LastSeen = t
	}
	if t, err := time.Parse(time.RFC3339Nano, connectedSince.Val()); err == nil {
		record.ConnectedSince = t
	}
	return record, nil
}

func (d *RedisDirectory) ListByAPIKey(ctx context.Context, apiKey string) ([]DirectoryEntry, error) {
	ids, err := d.rdb.SMembers(ctx, apiKeySetKey(apiKey)).Result()
	if err != nil {
		return nil, err
	}
	entries := make([]DirectoryEntry, 0, len(ids))
	for _, id := range ids {
		record, err := d.getRecord(ctx, id)
		if err != nil {
			continue
		}
		entries = append(entries, DirectoryEntry{ClientID: id, Record: record})
	}
	return entries, nil
}

func (d *RedisDirectory) Refresh(ctx context.Context, clientID string, ttl time.Duration) error {
	pipe := d.rdb.TxPipeline()
	pipe.Expire(ctx, instanceKey(clientID), ttl)
	for _, key := range recordFieldKeys(clientID) {
		pipe.Expire(ctx, key, ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// deleteIfOwnerScript conditionally deletes the instance key and every
// per-field metadata key only when the instance key's current value
// matches the caller's replica ID, making Delete a compare-and-delete
// instead of a blind delete (spec.md §4.2). KEYS[1] must be the instance
// key; the remaining KEYS are the metadata fields to drop alongside it.
var deleteIfOwnerScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	for i = 1, #KEYS do
		redis.call("DEL", KEYS[i])
	end
	return 1
end
return 0
`)

func (d *RedisDirectory) Delete(ctx context.Context, clientID, replicaID string) error {
	keys := append([]string{instanceKey(clientID)}, recordFieldKeys(clientID)...)
	return deleteIfOwnerScript.Run(ctx, d.rdb, keys, replicaID).Err()
}

func (d *RedisDirectory) AddToAPIKeyIndex(ctx context.Context, apiKey, clientID string, ttl time.Duration) error {
	pipe := d.rdb.TxPipeline()
	pipe.SAdd(ctx, apiKeySetKey(apiKey), clientID)
	pipe.Expire(ctx, apiKeySetKey(apiKey), ttl)
	_, err := pipe.Exec(ctx)
	return err
}

func (d *RedisDirectory) RemoveFromAPIKeyIndex(ctx context.Context, apiKey, clientID string) error {
	return d.rdb.SRem(ctx, apiKeySetKey(apiKey), clientID).Err()
}

// Close releases the underlying connection pool.
func (d *RedisDirectory) Close() error { return d.rdb.Close() }
