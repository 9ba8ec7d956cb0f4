package engine

import (
	"context"

	"github.com/dgraph-io/ristretto"

	"github.com/scrypster/docmem/internal/docjson"
	"github.com/scrypster/docmem/internal/storage"
	"github.com/scrypster/docmem/pkg/types"
)

// replayCache remembers the outcome of requests carrying an idempotency
// key. Entries cost 1 each, so the capacity is an entry count. Requests
// sharing a key run one at a time, so a concurrent retry waits for the
// first attempt and then replays it.
type replayCache struct {
	cache *ristretto.Cache
	locks *storage.KeyLocks
}

type replayEntry struct {
	fingerprint string
	record      types.DocumentRecord
}

func newReplayCache(size int) (*replayCache, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: int64(size) * 10,
		MaxCost:     int64(size),
		BufferItems: 64,

		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, err
	}
	return &replayCache{cache: cache, locks: storage.NewKeyLocks()}, nil
}

// acquire serializes requests carrying the same replay key.
func (r *replayCache) acquire(ctx context.Context, key string) (func(), error) {
	return r.locks.Lock(ctx, key)
}

func replayKey(tenantID, userID, idempotencyKey string) string {
	return tenantID + "/" + userID + "/" + idempotencyKey
}

// requestFingerprint hashes everything that defines a write request.
func requestFingerprint(operation string, key types.DocumentKey, req any) (string, error) {
	fp, err := storage.Fingerprint(struct {
		Operation string            `json:"operation"`
		Key       types.DocumentKey `json:"key"`
		Request   any               `json:"request"`
	}{operation, key, req})
	if err != nil {
		return "", types.Internal(types.CodeSerialization, "fingerprint request", err)
	}
	return fp, nil
}

// lookup returns the remembered record for a retried request. A key reused
// with a different request is a conflict.
func (r *replayCache) lookup(key, fingerprint string) (*types.DocumentRecord, error) {
	v, ok := r.cache.Get(key)
	if !ok {
		return nil, nil
	}
	entry := v.(replayEntry)
	if entry.fingerprint != fingerprint {
		return nil, types.Conflict(types.CodeIdempotencyKeyReused, "idempotency key was used for a different request")
	}
	rec := entry.record
	rec.Envelope.Content = docjson.DeepCopy(rec.Envelope.Content)
	return &rec, nil
}

func (r *replayCache) remember(key, fingerprint string, rec *types.DocumentRecord) {
	stored := *rec
	stored.Envelope.Content = docjson.DeepCopy(stored.Envelope.Content)
	r.cache.Set(key, replayEntry{fingerprint: fingerprint, record: stored}, 1)
	r.cache.Wait()
}

// clear drops every entry. ristretto cannot delete by prefix, so erasing
// one user clears the whole cache.
func (r *replayCache) clear() {
	r.cache.Clear()
}

func (r *replayCache) close() {
	r.cache.Close()
}
