package cache

// cache_test.go exercises the Cache core's public contract end to end:
// round trips, expiry, capacity refusal, durability across reopen, and
// a handful of direct regression tests for behavior this package alone
// is responsible for (invalid-key recovery, streaming writer abort).
//
// © 2025 cachekit authors. MIT License.

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cachekit/cachekit/internal/cacheerr"
	"github.com/cachekit/cachekit/internal/evict"
	"github.com/cachekit/cachekit/internal/hottier"
)

func newTestCache(t *testing.T, opts ...Option) *Cache {
	t.Helper()
	c, err := New(context.Background(), t.TempDir(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return c
}

// A written value round-trips until it is removed.
func TestRoundTripUntilRemoved(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	require.NoError(t, c.Put(ctx, "key1", []byte("value1"), 0))
	v, ok, err := c.Get(ctx, "key1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("value1"), v)

	ok, err = c.Contains(ctx, "key1")
	require.NoError(t, err)
	require.True(t, ok)

	removed, err := c.Remove(ctx, "key1")
	require.NoError(t, err)
	require.True(t, removed)

	ok, err = c.Contains(ctx, "key1")
	require.NoError(t, err)
	require.False(t, ok)
}

// A second remove of the same key never reports true.
func TestRemoveIsIdempotent(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)
	require.NoError(t, c.Put(ctx, "k", []byte("v"), 0))

	first, err := c.Remove(ctx, "k")
	require.NoError(t, err)
	require.True(t, first)

	second, err := c.Remove(ctx, "k")
	require.NoError(t, err)
	require.False(t, second)
}

// After a clear, nothing written before it is observable.
func TestClearIsTerminal(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)
	require.NoError(t, c.Put(ctx, "key1", []byte("value1"), 0))
	require.NoError(t, c.Put(ctx, "key2", []byte("value2"), 0))
	require.NoError(t, c.Put(ctx, "key3", []byte("value3"), 0))

	require.NoError(t, c.Clear(ctx))

	stats, err := c.Statistics(ctx)
	require.NoError(t, err)
	require.Zero(t, stats.Entries)
	require.Zero(t, stats.TotalBytes)

	for _, k := range []string{"key1", "key2", "key3"} {
		_, ok, err := c.Get(ctx, k)
		require.NoError(t, err)
		require.False(t, ok)
	}
}

// Replacing an existing key does not change the entry count.
func TestReplaceKeepsEntryCountStable(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)
	require.NoError(t, c.Put(ctx, "k", []byte("v1"), 0))

	stats, err := c.Statistics(ctx)
	require.NoError(t, err)
	before := stats.Entries

	require.NoError(t, c.Put(ctx, "k", []byte("v2-longer-value"), 0))

	stats, err = c.Statistics(ctx)
	require.NoError(t, err)
	require.Equal(t, before, stats.Entries)

	v, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v2-longer-value"), v)
}

// A value with a TTL is gone once the TTL passes.
func TestTTLExpiry(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)
	require.NoError(t, c.Put(ctx, "expires", []byte("soon"), 50*time.Millisecond))

	ok, err := c.Contains(ctx, "expires")
	require.NoError(t, err)
	require.True(t, ok)

	time.Sleep(100 * time.Millisecond)

	_, ok, err = c.Get(ctx, "expires")
	require.NoError(t, err)
	require.False(t, ok)
}

// A successful Put survives reopen with no clean shutdown.
func TestWALDurabilityAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	c, err := New(ctx, dir)
	require.NoError(t, err)
	require.NoError(t, c.Put(ctx, "k", []byte("durable"), 0))
	// No Close: simulate a crash immediately after Put returned.

	c2, err := New(ctx, dir)
	require.NoError(t, err)
	defer c2.Close(ctx)

	v, ok, err := c2.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("durable"), v)
}

// The entry-count limit refuses new keys but allows replacement.
func TestMaxEntriesRefusesNewKeys(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, WithMaxEntries(5))

	for i := 0; i < 5; i++ {
		require.NoError(t, c.Put(ctx, fmt.Sprintf("key_%d", i), []byte("v"), 0))
	}

	err := c.Put(ctx, "key_6", []byte("v"), 0)
	require.Error(t, err)
	require.True(t, cacheerr.Is(err, cacheerr.KindCapacityExceeded))

	stats, err := c.Statistics(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(5), stats.Entries)

	// Replacing an existing key must still succeed at capacity.
	require.NoError(t, c.Put(ctx, "key_0", []byte("v2"), 0))
}

// Eviction under memory pressure keeps total bytes within a
// high-water mark of the configured budget.
func TestEvictionUnderPressure(t *testing.T) {
	ctx := context.Background()
	const budget = 1024
	c := newTestCache(t, WithMaxMemorySize(budget), WithEvictionPolicy(evict.LRU))

	for i := 0; i < 64; i++ {
		require.NoError(t, c.Put(ctx, fmt.Sprintf("k%d", i), make([]byte, 64), 0))
	}

	stats, err := c.Statistics(ctx)
	require.NoError(t, err)
	require.LessOrEqual(t, stats.TotalBytes, uint64(budget*2))
}

// Rejecting an invalid key leaves the cache fully usable.
func TestInvalidKeyRejectionIsRecoverable(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	err := c.Put(ctx, "", []byte("v"), 0)
	require.Error(t, err)
	require.True(t, cacheerr.Is(err, cacheerr.KindInvalidArgument))

	require.NoError(t, c.Put(ctx, "k", []byte("v"), 0))
	v, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v"), v)
}

// The byte budget applies to replacement too: swapping a small value
// for one that would push the projected total past the budget fails,
// while a replacement that fits (counting the freed bytes) succeeds.
func TestMaxSizeBytesChecksReplacementDelta(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, WithMaxSizeBytes(100))

	require.NoError(t, c.Put(ctx, "a", make([]byte, 40), 0))
	require.NoError(t, c.Put(ctx, "b", make([]byte, 40), 0))

	err := c.Put(ctx, "a", make([]byte, 70), 0)
	require.Error(t, err)
	require.True(t, cacheerr.Is(err, cacheerr.KindCapacityExceeded))

	// 40 freed + 60 added keeps the total at the budget.
	require.NoError(t, c.Put(ctx, "a", make([]byte, 60), 0))

	stats, err := c.Statistics(ctx)
	require.NoError(t, err)
	require.LessOrEqual(t, stats.TotalBytes, uint64(100))
}

func TestMaxKeyLenRejectsOversizeKeys(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, WithMaxKeyLen(4))

	err := c.Put(ctx, "toolong", []byte("v"), 0)
	require.Error(t, err)
	require.True(t, cacheerr.Is(err, cacheerr.KindInvalidArgument))

	require.NoError(t, c.Put(ctx, "ok", []byte("v"), 0))
}

// Clearing multiple live keys leaves none observable.
func TestConsistencyAfterClearMultipleKeys(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	values := map[string]string{"key1": "value1", "key2": "value2", "key3": "value3"}
	for k, v := range values {
		require.NoError(t, c.Put(ctx, k, []byte(v), 0))
	}
	for k, v := range values {
		got, ok, err := c.Get(ctx, k)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, v, string(got))
	}

	require.NoError(t, c.Clear(ctx))

	for k := range values {
		_, ok, err := c.Get(ctx, k)
		require.NoError(t, err)
		require.False(t, ok)
	}
}

func TestGetOrLoadPopulatesOnMiss(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	var loads int
	loader := func(ctx context.Context, key string) ([]byte, error) {
		loads++
		return []byte("loaded-" + key), nil
	}

	v, err := c.GetOrLoad(ctx, "k", time.Minute, loader)
	require.NoError(t, err)
	require.Equal(t, []byte("loaded-k"), v)
	require.Equal(t, 1, loads)

	// Second call hits the now-populated entry; loader must not rerun.
	v, err = c.GetOrLoad(ctx, "k", time.Minute, loader)
	require.NoError(t, err)
	require.Equal(t, []byte("loaded-k"), v)
	require.Equal(t, 1, loads)
}

func TestMetadataWithoutMaterializingPayload(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, WithSmallValueThreshold(0)) // skip the fast-path mirror
	require.NoError(t, c.Put(ctx, "k", []byte("hello"), 0))

	meta, ok, err := c.Metadata(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(5), meta.SizeBytes)
}

func TestStreamingWriterCommitAndAbort(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	w, err := c.GetWriter(ctx, "streamed", 0)
	require.NoError(t, err)
	_, err = w.Write([]byte("streamed-value"))
	require.NoError(t, err)
	require.NoError(t, w.Commit(ctx))

	v, ok, err := c.Get(ctx, "streamed")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("streamed-value"), v)

	w2, err := c.GetWriter(ctx, "aborted", 0)
	require.NoError(t, err)
	_, err = w2.Write([]byte("never published"))
	require.NoError(t, err)
	require.NoError(t, w2.Abort())

	_, ok, err = c.Get(ctx, "aborted")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestTypedPutGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)
	typed := NewTyped[string](c)

	val := "hello typed world"
	require.NoError(t, typed.Put(ctx, "k", &val, 0))

	got, ok, err := typed.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, val, *got)
}

func TestTransactionCommitAndRollback(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	tx, err := c.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Put("k1", []byte("v1"), 0))
	require.NoError(t, tx.Put("k2", []byte("v2"), 0))
	require.NoError(t, tx.Commit(ctx))

	v, ok, err := c.Get(ctx, "k1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v1"), v)

	tx2, err := c.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx2.Put("k3", []byte("v3"), 0))
	tx2.Rollback()

	_, ok, err = c.Get(ctx, "k3")
	require.NoError(t, err)
	require.False(t, ok)
}

// A large payload read cold from disk comes back as a memory-mapped
// hot-tier entry rather than an inline copy.
func TestColdReadMaterializesMappedEntry(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, WithCompression(false, 4<<10, 0))

	payload := make([]byte, 8<<10)
	for i := range payload {
		payload[i] = byte(i)
	}
	require.NoError(t, c.Put(ctx, "big", payload, 0))

	// Drop the hot-tier residency so the next Get takes the disk path.
	require.True(t, c.hot.Remove("big"))

	v, ok, err := c.Get(ctx, "big")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, payload, v)

	e, ok := c.hot.Get("big")
	require.True(t, ok)
	require.Equal(t, hottier.Mapped, e.Kind)
	require.NoError(t, e.Release())
}

func TestCloseIsIdempotent(t *testing.T) {
	ctx := context.Background()
	c, err := New(ctx, t.TempDir())
	require.NoError(t, err)

	require.NoError(t, c.Close(ctx))
	require.NoError(t, c.Close(ctx))
}

func TestConcurrentPutsToDistinctKeysAreAllObserved(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	const n = 64
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			errs <- c.Put(ctx, fmt.Sprintf("k%d", i), []byte(fmt.Sprintf("v%d", i)), 0)
		}()
	}
	for i := 0; i < n; i++ {
		require.NoError(t, <-errs)
	}

	for i := 0; i < n; i++ {
		v, ok, err := c.Get(ctx, fmt.Sprintf("k%d", i))
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, fmt.Sprintf("v%d", i), string(v))
	}
}

func TestContextCancellationIsRespected(t *testing.T) {
	c := newTestCache(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.Put(ctx, "k", []byte("v"), 0)
	require.Error(t, err)
	require.True(t, errors.Is(err, context.Canceled))
}
