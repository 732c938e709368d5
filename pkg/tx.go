package cache

// tx.go exposes the storage layer's transaction manager as a small
// public surface: batches of buffered Put/Remove calls that commit in
// order against the same durable backend a plain Put/Remove would use.
// Commit is per-operation atomic, not per-transaction isolated: each
// buffered operation still goes through its own WAL-append-then-rename
// commit, visible to concurrent readers as soon as it lands.
//
// © 2025 cachekit authors. MIT License.

import (
	"context"
	"time"

	"github.com/cachekit/cachekit/internal/model"
	"github.com/cachekit/cachekit/internal/storage"
)

// Tx batches Put/Remove calls for a single Commit/Rollback, mirroring
// the byte-oriented Cache API but bypassing the hot tier, fast path and
// eviction policy bookkeeping a plain Put/Remove would also update.
// Those are refreshed lazily on the next Get for any key touched by
// the transaction; Commit guarantees durable storage state and a
// consistent index, not hot-tier residency.
type Tx struct {
	c  *Cache
	tx *storage.Tx
}

// BeginTx opens a new transaction against the cache's durable backend.
func (c *Cache) BeginTx(ctx context.Context) (*Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Tx{c: c, tx: c.txManager().Begin()}, nil
}

// Put buffers a write for key to be applied when the transaction commits.
func (t *Tx) Put(key string, value []byte, ttl time.Duration) error {
	now := time.Now()
	meta := model.Metadata{
		SizeBytes:    uint64(len(value)),
		CreatedAt:    now,
		LastAccessed: now,
		CacheVersion: t.c.cfg.CacheVersion,
		ContentHash:  t.c.backend.Digest(key),
	}
	if ttl > 0 {
		meta.ExpiresAt = now.Add(ttl)
	}
	wire := t.c.codec.Wrap(value)
	return t.tx.Put(key, wire, meta)
}

// Remove buffers a removal for key to be applied when the transaction
// commits.
func (t *Tx) Remove(key string) error {
	return t.tx.Remove(key)
}

// Commit applies every buffered operation, in order, against the
// backend, then invalidates each touched key's hot-tier/fast-path
// residency so the next Get re-reads the committed state from disk,
// and reconciles the cache's index with the net effect per key.
func (t *Tx) Commit(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	effects := t.tx.Effects()
	if err := t.c.txManager().Commit(t.tx); err != nil {
		return err
	}
	for key, meta := range effects {
		t.c.hot.Remove(key)
		t.c.fast.Remove(key)
		t.c.policyRemove(key)
		if meta == nil {
			t.c.removeFromIndex(key)
		} else {
			t.c.commitIndex(key, *meta)
		}
	}
	return nil
}

// Rollback discards the transaction's buffered operations without
// applying any of them.
func (t *Tx) Rollback() {
	t.c.txManager().Rollback(t.tx)
}
