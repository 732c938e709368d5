// Package cache is cachekit: a local, embeddable cache engine combining
// an in-process hot tier, a sharded on-disk content store behind a
// crash-recoverable write-ahead log, pluggable eviction, and streaming
// I/O. The core is byte-oriented; Typed[T] in typed.go layers typed
// call-site ergonomics on top as a thin wrapper.
//
// © 2025 cachekit authors. MIT License.
package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/cachekit/cachekit/internal/cacheerr"
	"github.com/cachekit/cachekit/internal/cleanup"
	"github.com/cachekit/cachekit/internal/codec"
	"github.com/cachekit/cachekit/internal/evict"
	"github.com/cachekit/cachekit/internal/fastpath"
	"github.com/cachekit/cachekit/internal/hottier"
	"github.com/cachekit/cachekit/internal/model"
	"github.com/cachekit/cachekit/internal/storage"
	"github.com/cachekit/cachekit/internal/streamio"
	"github.com/cachekit/cachekit/internal/warming"
)

// hotTierMmapThreshold is the boundary above which a hot-tier entry is
// backed by a memory-mapped view of its on-disk file instead of an
// inline copy. Unlike the fast-path threshold (a tunable knob, since it
// trades durability for latency), this one only chooses a backing
// strategy for an already-durable entry, so it is not exposed as config.
const hotTierMmapThreshold = 4 << 10

// walRotateThreshold is the active WAL size past which Put rotates the
// log to a timestamped archive. Every record's filesystem effect is
// already materialized by the time Put returns, so archived records are
// never needed for correctness — only the crash window since the last
// append matters — and an unbounded active log would make every reopen
// replay the cache's entire write history.
const walRotateThreshold = 64 << 20

// Cache is the top-level cache handle. The zero value is not usable;
// construct one with New.
type Cache struct {
	cfg     *Config
	baseDir string

	backend *storage.Backend
	hot     *hottier.Tier
	fast    *fastpath.Store
	codec   *codec.Codec
	loaders *loaderGroup

	policyMu sync.Mutex
	policy   evict.Policy

	metrics  metricsSink
	logger   *zap.Logger
	readSem  *semaphore.Weighted
	writeSem *semaphore.Weighted

	sweeper *cleanup.Sweeper
	warm    *warming.Tracker
	txMgr   *storage.TxManager

	mu         sync.RWMutex
	index      map[string]model.Metadata
	totalBytes uint64

	hits, misses, writes, removals, errs, fastPathHits atomic.Uint64
	walRecoveries                                      uint64
	startedAt                                           time.Time

	cancel    context.CancelFunc
	closeOnce sync.Once
}

// New opens (or creates) a cache rooted at baseDir, replaying its
// write-ahead log and warming the hot tier from whatever it recovers.
func New(ctx context.Context, baseDir string, opts ...Option) (*Cache, error) {
	if baseDir == "" {
		return nil, errors.New("cachekit: base dir required")
	}
	cfg, err := applyOptions(opts)
	if err != nil {
		return nil, cacheerr.New(cacheerr.KindConfiguration, "", nil, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("cachekit: mkdir base dir: %w", err)
	}

	backend, replay, err := storage.Open(baseDir, storage.Options{
		HashAlgorithm: cfg.HashAlgorithm,
		VersionSalt:   cfg.CacheVersion,
		Logger:        cfg.logger,
		MaxRecordSize: 10 << 20,
	})
	if err != nil {
		return nil, fmt.Errorf("cachekit: open storage: %w", err)
	}

	// Temp files left by streaming writers a crash interrupted are
	// orphans by definition: a writer only publishes via Commit.
	_ = os.RemoveAll(filepath.Join(baseDir, "objects", ".streaming"))

	fastMaxBytes := uint64(cfg.FastPathMaxEntries) * uint64(cfg.SmallValueThreshold+1)

	c := &Cache{
		cfg:       cfg,
		baseDir:   baseDir,
		backend:   backend,
		hot:       hottier.New(),
		fast:      fastpath.New(fastMaxBytes, cfg.FastPathMaxEntries),
		policy:    evict.New(cfg.EvictionPolicy, cfg.MaxMemorySize),
		codec:     codec.New(codec.Options{CompressionEnabled: cfg.CompressionEnabled, CompressionMinSize: cfg.CompressionMinSize, CompressionLevel: cfg.CompressionLevel}),
		metrics:   newMetricsSink(cfg.registry),
		logger:    cfg.logger,
		readSem:   semaphore.NewWeighted(cfg.ReadConcurrency),
		writeSem:  semaphore.NewWeighted(cfg.WriteConcurrency),
		loaders:   newLoaderGroup(),
		txMgr:     storage.NewTxManager(backend),
		index:     make(map[string]model.Metadata, len(replay.Writes)),
		startedAt: time.Now(),
		walRecoveries: uint64(replay.RecordsApplied),
	}

	for _, rec := range replay.Writes {
		c.index[rec.Key] = rec.Meta
		c.totalBytes += rec.Meta.SizeBytes
		c.warmHotTier(rec.Key, rec.Wire, rec.Meta)
		c.policy.Add(rec.Key, uint64(len(rec.Wire)))
	}
	for i := 0; i < replay.RecordsApplied; i++ {
		c.metrics.incWALRecovery()
	}
	if replay.TailTruncated {
		c.metrics.incChecksumFailure()
	}
	c.metrics.setEntries(float64(len(c.index)))
	c.metrics.setTotalBytes(float64(c.totalBytes))

	sweepInterval := cfg.CleanupInterval
	if sweepInterval <= 0 {
		sweepInterval = time.Hour
	}
	c.sweeper = cleanup.New(sweepSource{c}, sweepInterval, cfg.logger)

	if tr, werr := warming.Open(filepath.Join(baseDir, "warming", "history")); werr != nil {
		cfg.logger.Warn("cachekit: warming tracker unavailable, continuing without it", zap.Error(werr))
	} else {
		c.warm = tr
	}

	bgCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	if cfg.CleanupInterval > 0 {
		c.sweeper.Start(bgCtx)
	}
	if cfg.WarmOnOpen > 0 && c.warm != nil {
		c.warmOnOpen(bgCtx, cfg.WarmOnOpen)
	}

	return c, nil
}

// warmHotTier stores wire under key in the hot tier, choosing inline vs.
// mmap'd backing by size, falling back to inline if opening the mmap
// view fails for any reason.
func (c *Cache) warmHotTier(key string, wire []byte, meta model.Metadata) {
	if len(wire) <= hotTierMmapThreshold {
		c.hot.PutInline(key, wire, meta)
		return
	}
	view, err := hottier.OpenMmapView(c.backend.DataPath(key))
	if err != nil {
		c.logger.Warn("cachekit: mmap view failed, falling back to inline", zap.String("key", key), zap.Error(err))
		c.hot.PutInline(key, wire, meta)
		return
	}
	c.hot.PutMapped(key, view, meta)
}

func (c *Cache) warmOnOpen(ctx context.Context, n int) {
	ranked, err := c.warm.TopN(n)
	if err != nil {
		c.logger.Warn("cachekit: warm-on-open scan failed", zap.Error(err))
		return
	}
	for _, r := range ranked {
		if _, _, err := c.Get(ctx, r.Key); err != nil {
			c.logger.Warn("cachekit: warm-on-open get failed", zap.String("key", r.Key), zap.Error(err))
		}
	}
}

// txManager returns the cache's transaction manager, constructed once
// in New against the same backend every Put/Remove uses.
func (c *Cache) txManager() *storage.TxManager {
	return c.txMgr
}

func (c *Cache) policyAdd(key string, weight uint64) []evict.Victim {
	c.policyMu.Lock()
	defer c.policyMu.Unlock()
	return c.policy.Add(key, weight)
}

func (c *Cache) policyTouch(key string) {
	c.policyMu.Lock()
	c.policy.Touch(key)
	c.policyMu.Unlock()
}

func (c *Cache) policyRemove(key string) {
	c.policyMu.Lock()
	c.policy.Remove(key)
	c.policyMu.Unlock()
}

// Put stores value under key, expiring at ttl from now (ttl <= 0 means
// no expiry). Every value, regardless of size, is durably written
// through the WAL and the sharded disk store before being promoted
// into the hot tier; values at or below SmallValueThreshold are
// additionally mirrored into the in-memory fast path as a latency
// optimization, never as a substitute for that durable write. The
// ordering is WAL, disk, hot tier, then fast path.
func (c *Cache) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return cacheerr.New(cacheerr.KindInvalidArgument, key, nil, errors.New("empty key"))
	}
	if c.cfg.MaxKeyLen > 0 && len(key) > c.cfg.MaxKeyLen {
		return cacheerr.New(cacheerr.KindInvalidArgument, key, nil, fmt.Errorf("key length %d exceeds max_key_len %d", len(key), c.cfg.MaxKeyLen))
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	ctx, cancel := c.withOperationTimeout(ctx)
	defer cancel()

	now := time.Now()
	meta := model.Metadata{
		SizeBytes:    uint64(len(value)),
		CreatedAt:    now,
		LastAccessed: now,
		CacheVersion: c.cfg.CacheVersion,
	}
	if ttl > 0 {
		meta.ExpiresAt = now.Add(ttl)
	}

	c.mu.Lock()
	old, existed := c.index[key]
	if !existed && c.cfg.MaxEntries > 0 && len(c.index) >= c.cfg.MaxEntries {
		c.mu.Unlock()
		return c.fail(key, cacheerr.KindCapacityExceeded, cacheerr.IncreaseCapacity{Suggested: uint64(c.cfg.MaxEntries) + 1}, errors.New("max entries exceeded"))
	}
	if c.cfg.MaxSizeBytes > 0 {
		// Replacement frees the old entry's bytes, so the budget check is
		// against the projected total, not a blanket exemption.
		projected := c.totalBytes + meta.SizeBytes
		if existed {
			projected -= old.SizeBytes
		}
		if projected > c.cfg.MaxSizeBytes {
			c.mu.Unlock()
			return c.fail(key, cacheerr.KindCapacityExceeded, cacheerr.IncreaseCapacity{Suggested: projected}, errors.New("max size exceeded"))
		}
	}
	c.mu.Unlock()

	wire := c.codec.Wrap(value)
	meta.ContentHash = c.backend.Digest(key)

	if err := c.writeSem.Acquire(ctx, 1); err != nil {
		return c.failAcquire(key, err)
	}
	err := c.backend.Put(key, wire, meta)
	if err == nil && c.backend.WALSize() > walRotateThreshold {
		if rerr := c.backend.RotateWAL(); rerr != nil {
			c.logger.Warn("cachekit: wal rotation failed", zap.Error(rerr))
		}
	}
	c.writeSem.Release(1)
	if err != nil {
		return c.fail(key, cacheerr.KindIO, ioHint(err), err)
	}

	c.warmHotTier(key, wire, meta)
	c.commitIndex(key, meta)

	if len(value) <= c.cfg.SmallValueThreshold {
		cp := append([]byte(nil), value...)
		if !c.fast.Put(key, cp, meta) {
			c.fast.Remove(key)
		}
	} else {
		c.fast.Remove(key)
	}

	// Eviction runs after the index commit so that a victim (possibly
	// this very key, if it alone exceeds the policy budget) is removed
	// from every structure it was just added to.
	for _, v := range c.policyAdd(key, uint64(len(wire))) {
		c.evictVictim(v.Key)
	}

	c.writes.Add(1)
	c.metrics.incWrite()
	return nil
}

func (c *Cache) fail(key string, kind cacheerr.Kind, hint cacheerr.RecoveryHint, cause error) error {
	c.errs.Add(1)
	c.metrics.incError()
	return cacheerr.New(kind, key, hint, cause)
}

// withOperationTimeout derives a context bounded by cfg.OperationTimeout,
// a no-op when the timeout is unset (zero).
func (c *Cache) withOperationTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.cfg.OperationTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.cfg.OperationTimeout)
}

// failAcquire classifies a semaphore Acquire failure as a Timeout (the
// operation's deadline passed while waiting for a permit) or a
// ConcurrencyConflict (the caller's own context was canceled).
func (c *Cache) failAcquire(key string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return c.fail(key, cacheerr.KindTimeout, cacheerr.Retryable{}, err)
	}
	return c.fail(key, cacheerr.KindConcurrencyConflict, cacheerr.Retryable{}, err)
}

// ioHint classifies a filesystem error to pick the most useful recovery
// hint: a permission error points the caller at the offending path,
// while anything else is assumed transient and worth retrying.
func ioHint(err error) cacheerr.RecoveryHint {
	if errors.Is(err, os.ErrPermission) {
		var pe *os.PathError
		if errors.As(err, &pe) {
			return cacheerr.CheckPermissions{Path: pe.Path}
		}
		return cacheerr.CheckPermissions{}
	}
	return cacheerr.Retryable{}
}

func (c *Cache) commitIndex(key string, meta model.Metadata) {
	c.mu.Lock()
	if old, ok := c.index[key]; ok {
		c.totalBytes -= old.SizeBytes
	}
	c.index[key] = meta
	c.totalBytes += meta.SizeBytes
	n, tb := len(c.index), c.totalBytes
	c.mu.Unlock()
	c.metrics.setEntries(float64(n))
	c.metrics.setTotalBytes(float64(tb))
}

func (c *Cache) removeFromIndex(key string) {
	c.mu.Lock()
	if old, ok := c.index[key]; ok {
		c.totalBytes -= old.SizeBytes
		delete(c.index, key)
	}
	n, tb := len(c.index), c.totalBytes
	c.mu.Unlock()
	c.metrics.setEntries(float64(n))
	c.metrics.setTotalBytes(float64(tb))
}

// evictVictim drops key from every tier and the disk store, following a
// policy-driven eviction decision. Fast-path entries are not tracked by
// the policy, but the victim's fast-path copy is dropped along with it.
func (c *Cache) evictVictim(key string) {
	c.fast.Remove(key)
	c.hot.Remove(key)
	_, _ = c.backend.Remove(key)
	c.removeFromIndex(key)
	if c.warm != nil {
		if err := c.warm.Forget(key); err != nil {
			c.logger.Warn("cachekit: warming forget failed during eviction", zap.String("key", key), zap.Error(err))
		}
	}
	c.metrics.incEviction(c.cfg.EvictionPolicy.String())
}

func (c *Cache) recordWarm(key string) {
	if c.warm == nil {
		return
	}
	if err := c.warm.RecordAccess(key); err != nil {
		c.logger.Warn("cachekit: warming record access failed", zap.String("key", key), zap.Error(err))
	}
}

// diskLoad is the result collapsed across concurrent disk-path callers
// for the same key by loaderGroup.
type diskLoad struct {
	value []byte
}

// Get looks up key, checking the fast path, then the hot tier, then the
// durable on-disk store (deduplicating concurrent cold loads for the
// same key via singleflight), in that order.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	ctx, cancel := c.withOperationTimeout(ctx)
	defer cancel()
	now := time.Now()

	if data, meta, ok := c.fast.Get(key); ok {
		if meta.Expired(now) {
			c.fast.Remove(key)
			c.removeFromIndex(key)
		} else {
			c.hits.Add(1)
			c.fastPathHits.Add(1)
			c.metrics.incHit()
			c.metrics.incFastPathHit()
			c.recordWarm(key)
			return append([]byte(nil), data...), true, nil
		}
	}

	if entry, ok := c.hot.Get(key); ok {
		if entry.Meta.Expired(now) {
			entry.Release()
			c.hot.Remove(key)
			_, _ = c.backend.Remove(key)
			c.policyRemove(key)
			c.removeFromIndex(key)
		} else {
			wire := entry.Bytes()
			value, err := codec.Unwrap(wire)
			if err == nil && entry.Kind == hottier.Mapped && !codec.IsCompressed(wire) {
				// Unwrap of an uncompressed payload is a sub-slice of the
				// mapped region; copy before releasing the reference so the
				// caller's slice survives a later eviction unmapping it.
				value = append([]byte(nil), value...)
			}
			entry.Release()
			if err != nil {
				return nil, false, c.fail(key, cacheerr.KindCorrupted, cacheerr.TreatAsMiss{}, err)
			}
			c.hits.Add(1)
			c.metrics.incHit()
			c.policyTouch(key)
			c.recordWarm(key)
			return value, true, nil
		}
	}

	res, err, _ := c.loaders.do("get:"+key, func() (any, error) {
		return c.loadFromDisk(ctx, key)
	})
	if err != nil {
		if cacheerr.Is(err, cacheerr.KindNotFound) {
			c.misses.Add(1)
			c.metrics.incMiss()
			return nil, false, nil
		}
		c.errs.Add(1)
		c.metrics.incError()
		return nil, false, err
	}
	loaded := res.(diskLoad)
	c.hits.Add(1)
	c.metrics.incHit()
	c.recordWarm(key)
	return loaded.value, true, nil
}

func (c *Cache) loadFromDisk(ctx context.Context, key string) (diskLoad, error) {
	if err := c.readSem.Acquire(ctx, 1); err != nil {
		return diskLoad{}, c.failAcquire(key, err)
	}
	defer c.readSem.Release(1)

	meta, ok, err := c.backend.ReadMeta(key)
	if err != nil {
		return diskLoad{}, cacheerr.New(cacheerr.KindIO, key, ioHint(err), err)
	}
	if !ok {
		return diskLoad{}, cacheerr.New(cacheerr.KindNotFound, key, cacheerr.TreatAsMiss{}, errors.New("not found"))
	}
	if meta.Expired(time.Now()) {
		_, _ = c.backend.Remove(key)
		c.policyRemove(key)
		c.removeFromIndex(key)
		return diskLoad{}, cacheerr.New(cacheerr.KindNotFound, key, cacheerr.TreatAsMiss{}, errors.New("expired"))
	}

	wire, err := os.ReadFile(c.backend.DataPath(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return diskLoad{}, cacheerr.New(cacheerr.KindNotFound, key, cacheerr.TreatAsMiss{}, err)
		}
		return diskLoad{}, cacheerr.New(cacheerr.KindIO, key, cacheerr.Retryable{}, err)
	}

	value, err := codec.Unwrap(wire)
	if err != nil {
		return diskLoad{}, cacheerr.New(cacheerr.KindCorrupted, key, cacheerr.TreatAsMiss{}, err)
	}

	c.warmHotTier(key, wire, meta)
	// A cold hit may be an entry the index never learned about (its WAL
	// record was rotated away before this process opened the cache), so
	// repair the index while the metadata is in hand.
	c.commitIndex(key, meta)
	for _, v := range c.policyAdd(key, uint64(len(wire))) {
		c.evictVictim(v.Key)
	}

	return diskLoad{value: value}, nil
}

// GetOrLoad returns key's value, invoking loader to populate it (and
// storing the result with the given ttl) on a miss. Concurrent callers
// for the same missing key collapse into a single loader invocation.
func (c *Cache) GetOrLoad(ctx context.Context, key string, ttl time.Duration, loader LoaderFunc) ([]byte, error) {
	if value, ok, err := c.Get(ctx, key); err != nil {
		return nil, err
	} else if ok {
		return value, nil
	}

	res, err, _ := c.loaders.do("load:"+key, func() (any, error) {
		return loader(ctx, key)
	})
	if err != nil {
		return nil, err
	}
	value := res.([]byte)
	if err := c.Put(ctx, key, value, ttl); err != nil {
		return value, err
	}
	return value, nil
}

// Remove deletes key from every tier and the durable store, reporting
// whether it was present anywhere.
func (c *Cache) Remove(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	fastHad := c.fast.Remove(key)
	hotHad := c.hot.Remove(key)
	c.policyRemove(key)
	diskHad, err := c.backend.Remove(key)
	if err != nil {
		return false, c.fail(key, cacheerr.KindIO, cacheerr.Retryable{}, err)
	}
	existed := fastHad || hotHad || diskHad
	c.removeFromIndex(key)
	if c.warm != nil {
		if werr := c.warm.Forget(key); werr != nil {
			c.logger.Warn("cachekit: warming forget failed", zap.String("key", key), zap.Error(werr))
		}
	}
	if existed {
		c.removals.Add(1)
		c.metrics.incRemoval()
	}
	return existed, nil
}

// lookupMeta finds key's metadata in the index, falling back to the
// on-disk metadata file for entries the index never learned about
// (their WAL records were rotated away before this process opened the
// cache). A disk hit repairs the index.
func (c *Cache) lookupMeta(key string) (model.Metadata, bool, error) {
	c.mu.RLock()
	meta, ok := c.index[key]
	c.mu.RUnlock()
	if ok {
		return meta, true, nil
	}
	meta, ok, err := c.backend.ReadMeta(key)
	if err != nil || !ok {
		return model.Metadata{}, false, err
	}
	c.commitIndex(key, meta)
	return meta, true, nil
}

// Contains reports whether key is live, lazily reaping it first if its
// TTL has passed.
func (c *Cache) Contains(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	meta, ok, err := c.lookupMeta(key)
	if err != nil {
		return false, c.fail(key, cacheerr.KindIO, ioHint(err), err)
	}
	if !ok {
		return false, nil
	}
	if meta.Expired(time.Now()) {
		_, err := c.Remove(ctx, key)
		return false, err
	}
	return true, nil
}

// Metadata returns key's durable attribute set without reading its
// payload.
func (c *Cache) Metadata(ctx context.Context, key string) (model.Metadata, bool, error) {
	if err := ctx.Err(); err != nil {
		return model.Metadata{}, false, err
	}
	meta, ok, err := c.lookupMeta(key)
	if err != nil {
		return model.Metadata{}, false, c.fail(key, cacheerr.KindIO, ioHint(err), err)
	}
	if !ok {
		return model.Metadata{}, false, nil
	}
	if meta.Expired(time.Now()) {
		_, err := c.Remove(ctx, key)
		return model.Metadata{}, false, err
	}
	return meta, true, nil
}

// Clear empties every tier and the durable store.
func (c *Cache) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.fast.Clear()
	c.hot.Clear()

	c.policyMu.Lock()
	c.policy = evict.New(c.cfg.EvictionPolicy, c.cfg.MaxMemorySize)
	c.policyMu.Unlock()

	if err := c.backend.Clear(); err != nil {
		return c.fail("", cacheerr.KindIO, cacheerr.Retryable{}, err)
	}

	c.mu.Lock()
	c.index = make(map[string]model.Metadata)
	c.totalBytes = 0
	c.mu.Unlock()
	c.metrics.setEntries(0)
	c.metrics.setTotalBytes(0)
	return nil
}

// Statistics returns a snapshot of the cache's counters and gauges.
// Counters are read independently, not atomically across the set, per
// the concurrency model's relaxed-ordering statistics contract.
func (c *Cache) Statistics(ctx context.Context) (model.Stats, error) {
	if err := ctx.Err(); err != nil {
		return model.Stats{}, err
	}
	c.mu.RLock()
	entries, totalBytes := uint64(len(c.index)), c.totalBytes
	c.mu.RUnlock()
	c.metrics.setCompressionRatio(c.codec.CompressionRatio())

	return model.Stats{
		Hits:             c.hits.Load(),
		Misses:           c.misses.Load(),
		Writes:           c.writes.Load(),
		Removals:         c.removals.Load(),
		Errors:           c.errs.Load(),
		Entries:          entries,
		TotalBytes:       totalBytes,
		MaxBytes:         c.cfg.MaxSizeBytes,
		ExpiredCleanups:  c.sweeper.TotalReaped(),
		WALRecoveries:    c.walRecoveries,
		ChecksumFailures: c.backend.ChecksumFailures(),
		CompressionRatio: c.codec.CompressionRatio(),
		FastPathHits:     c.fastPathHits.Load(),
		Since:            c.startedAt,
	}, nil
}

// GetReader returns a streaming reader over key's value. When the value
// is resident in the hot tier as an uncompressed memory-mapped entry,
// the reader is zero-copy over the mapped bytes; otherwise it wraps a
// decoded in-memory copy.
func (c *Cache) GetReader(ctx context.Context, key string) (*streamio.Reader, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	now := time.Now()

	if data, meta, ok := c.fast.Get(key); ok && !meta.Expired(now) {
		c.hits.Add(1)
		c.fastPathHits.Add(1)
		c.metrics.incHit()
		c.metrics.incFastPathHit()
		c.recordWarm(key)
		return streamio.NewReader(append([]byte(nil), data...), nil), true, nil
	}

	if entry, ok := c.hot.Get(key); ok {
		if entry.Meta.Expired(now) {
			entry.Release()
			c.hot.Remove(key)
			_, _ = c.backend.Remove(key)
			c.policyRemove(key)
			c.removeFromIndex(key)
		} else {
			wire := entry.Bytes()
			if entry.Kind == hottier.Mapped && !codec.IsCompressed(wire) {
				c.hits.Add(1)
				c.metrics.incHit()
				c.policyTouch(key)
				c.recordWarm(key)
				return streamio.NewReader(wire[1:], entry.View), true, nil
			}
			value, err := codec.Unwrap(wire)
			entry.Release()
			if err != nil {
				return nil, false, c.fail(key, cacheerr.KindCorrupted, cacheerr.TreatAsMiss{}, err)
			}
			c.hits.Add(1)
			c.metrics.incHit()
			c.policyTouch(key)
			c.recordWarm(key)
			return streamio.NewReader(value, nil), true, nil
		}
	}

	value, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		return nil, ok, err
	}
	return streamio.NewReader(value, nil), true, nil
}

// GetStream is GetReader exposed as an io.ReadCloser, for callers that
// only need the standard streaming interface.
func (c *Cache) GetStream(ctx context.Context, key string) (io.ReadCloser, bool, error) {
	r, ok, err := c.GetReader(ctx, key)
	if err != nil || !ok {
		return nil, ok, err
	}
	return r, true, nil
}

// Writer is returned by GetWriter: callers stream bytes into it and
// call Commit to publish them under the writer's key, exactly as if
// Put had been called with the accumulated bytes.
type Writer struct {
	c    *Cache
	key  string
	ttl  time.Duration
	w    *streamio.Writer
	path string
	done bool
}

// GetWriter opens a streaming writer for key. Nothing is visible to
// readers until Commit succeeds.
func (c *Cache) GetWriter(ctx context.Context, key string, ttl time.Duration) (*Writer, error) {
	if key == "" {
		return nil, cacheerr.New(cacheerr.KindInvalidArgument, key, nil, errors.New("empty key"))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir := filepath.Join(c.baseDir, "objects", ".streaming")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cachekit: mkdir streaming dir: %w", err)
	}
	path := filepath.Join(dir, uuid.NewString()+".tmp")
	sw, err := streamio.NewWriter(path)
	if err != nil {
		return nil, err
	}
	return &Writer{c: c, key: key, ttl: ttl, w: sw, path: path}, nil
}

// Write implements io.Writer.
func (w *Writer) Write(p []byte) (int, error) { return w.w.Write(p) }

// ReadFrom implements io.ReaderFrom, streaming src in 64 KiB chunks
// rather than requiring the whole value in memory up front.
func (w *Writer) ReadFrom(src io.Reader) (int64, error) { return w.w.ReadFrom(src) }

// Size returns the number of bytes written so far.
func (w *Writer) Size() int64 { return w.w.Size() }

// Commit publishes the written bytes under the writer's key via
// Cache.Put, giving the value the same WAL-backed durability as a
// direct Put call.
func (w *Writer) Commit(ctx context.Context) error {
	if w.done {
		return errors.New("cachekit: writer already finished")
	}
	w.done = true
	if err := w.w.Commit(); err != nil {
		return err
	}
	defer os.Remove(w.path)

	data, err := os.ReadFile(w.path)
	if err != nil {
		return fmt.Errorf("cachekit: read committed stream: %w", err)
	}
	return w.c.Put(ctx, w.key, data, w.ttl)
}

// Abort discards whatever has been written without publishing it.
func (w *Writer) Abort() error {
	if w.done {
		return nil
	}
	w.done = true
	return w.w.Abort()
}

// PutStream copies src into the cache under key, streaming through a
// bounded buffer rather than requiring src's entire length up front.
func (c *Cache) PutStream(ctx context.Context, key string, src io.Reader, ttl time.Duration) (int64, error) {
	w, err := c.GetWriter(ctx, key, ttl)
	if err != nil {
		return 0, err
	}
	n, err := w.ReadFrom(src)
	if err != nil {
		_ = w.Abort()
		return n, err
	}
	if err := w.Commit(ctx); err != nil {
		return n, err
	}
	return n, nil
}

// sweepSource adapts Cache to cleanup.Source without widening Cache's
// public method set.
type sweepSource struct{ c *Cache }

func (s sweepSource) SweepCandidates() []string {
	s.c.mu.RLock()
	keys := make([]string, 0, len(s.c.index))
	for k, m := range s.c.index {
		if m.HasExpiry() {
			keys = append(keys, k)
		}
	}
	s.c.mu.RUnlock()
	return keys
}

func (s sweepSource) ExpireIfDue(key string, now time.Time) bool {
	s.c.mu.RLock()
	meta, ok := s.c.index[key]
	s.c.mu.RUnlock()
	if !ok || !meta.Expired(now) {
		return false
	}
	if _, err := s.c.Remove(context.Background(), key); err != nil {
		s.c.logger.Warn("cachekit: cleanup remove failed", zap.String("key", key), zap.Error(err))
		return false
	}
	s.c.metrics.incExpiredCleanup()
	return true
}

// Close stops the background cleanup/warming tasks and shuts down the
// WAL writer. Idempotent.
func (c *Cache) Close(ctx context.Context) error {
	var err error
	c.closeOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		if c.sweeper != nil {
			c.sweeper.Stop()
		}
		if c.warm != nil {
			if gerr := c.warm.RunGC(0.5); gerr != nil {
				c.logger.Warn("cachekit: warming history gc failed", zap.Error(gerr))
			}
			if werr := c.warm.Close(); werr != nil {
				c.logger.Warn("cachekit: warming close failed", zap.Error(werr))
			}
		}
		err = c.backend.Close()
	})
	return err
}
