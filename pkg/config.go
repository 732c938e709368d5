package cache

// config.go holds the functional-options configuration surface: a plain
// Config struct filled in by Option funcs, validated and defaulted in
// applyOptions.
//
// © 2025 cachekit authors. MIT License.

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/cachekit/cachekit/internal/evict"
	"github.com/cachekit/cachekit/internal/pathhash"
)

// Config bundles every knob that influences cache behavior. Fields are
// immutable once New returns; there is no live reconfiguration.
type Config struct {
	MaxSizeBytes   uint64 // 0 => unbounded
	MaxEntries     int    // 0 => unbounded
	MaxKeyLen      int    // 0 => unbounded
	MaxMemorySize  uint64 // 0 => no policy-driven eviction
	CleanupInterval time.Duration // 0 => disabled

	// OperationTimeout bounds how long a single filesystem-backed
	// operation waits for its read/write semaphore permit. The I/O
	// itself is not interrupted once the permit is held. Zero disables
	// the timeout; callers still get ctx cancellation.
	OperationTimeout time.Duration

	CompressionEnabled  bool
	CompressionLevel    int
	CompressionMinSize  int

	SmallValueThreshold int
	FastPathMaxEntries  int

	EvictionPolicy evict.Kind
	HashAlgorithm  pathhash.Algorithm
	CacheVersion   uint32

	ReadConcurrency  int64
	WriteConcurrency int64

	WarmOnOpen int // number of keys to proactively load from access history; 0 disables

	registry *prometheus.Registry
	logger   *zap.Logger
}

// Option is a functional option passed to New.
type Option func(*Config)

func defaultConfig() *Config {
	return &Config{
		MaxSizeBytes:        0,
		MaxEntries:          0,
		MaxMemorySize:       256 << 20,
		CleanupInterval:     time.Minute,
		CompressionEnabled:  true,
		CompressionLevel:    0,
		CompressionMinSize:  4 << 10,
		SmallValueThreshold: 2 << 10,
		FastPathMaxEntries:  4096,
		EvictionPolicy:      evict.LRU,
		HashAlgorithm:       pathhash.XXHash64,
		CacheVersion:        1,
		ReadConcurrency:     64,
		WriteConcurrency:    32,
		logger:              zap.NewNop(),
	}
}

// WithMaxSizeBytes caps the total live payload bytes the cache will
// hold before Put starts failing with CapacityExceeded.
func WithMaxSizeBytes(n uint64) Option {
	return func(c *Config) { c.MaxSizeBytes = n }
}

// WithMaxEntries caps the number of distinct live keys.
func WithMaxEntries(n int) Option {
	return func(c *Config) { c.MaxEntries = n }
}

// WithMaxKeyLen caps the byte length of keys accepted by Put. Zero (the
// default) leaves keys unbounded.
func WithMaxKeyLen(n int) Option {
	return func(c *Config) { c.MaxKeyLen = n }
}

// WithOperationTimeout bounds how long a single filesystem-backed
// operation may wait for its semaphore permit before failing with a
// Timeout error carrying a retry hint. The disk I/O that follows is
// not bounded by it and runs to completion. Zero (the
// default) disables the timeout; operations still respect ctx
// cancellation.
func WithOperationTimeout(d time.Duration) Option {
	return func(c *Config) { c.OperationTimeout = d }
}

// WithMaxMemorySize sets the eviction policy's tracked byte budget.
// Zero disables policy-driven eviction (entries are only ever removed
// explicitly, by TTL, or by MaxSizeBytes/MaxEntries refusal).
func WithMaxMemorySize(n uint64) Option {
	return func(c *Config) { c.MaxMemorySize = n }
}

// WithCleanupInterval sets the expiry-sweep cadence. Zero disables the
// background sweep entirely.
func WithCleanupInterval(d time.Duration) Option {
	return func(c *Config) { c.CleanupInterval = d }
}

// WithCompression toggles codec-level compression and its minimum-size
// threshold and level (0 = fast, >0 = better ratio via s2.EncodeBetter).
func WithCompression(enabled bool, minSize, level int) Option {
	return func(c *Config) {
		c.CompressionEnabled = enabled
		c.CompressionMinSize = minSize
		c.CompressionLevel = level
	}
}

// WithSmallValueThreshold sets the maximum byte size admissible to the
// fast path.
func WithSmallValueThreshold(n int) Option {
	return func(c *Config) { c.SmallValueThreshold = n }
}

// WithFastPathMaxEntries bounds the fast path's entry count
// independently of its byte budget.
func WithFastPathMaxEntries(n int) Option {
	return func(c *Config) { c.FastPathMaxEntries = n }
}

// WithEvictionPolicy selects LRU, LFU, or ARC.
func WithEvictionPolicy(kind evict.Kind) Option {
	return func(c *Config) { c.EvictionPolicy = kind }
}

// WithHashAlgorithm selects the key-hashing algorithm used to derive
// on-disk paths.
func WithHashAlgorithm(algo pathhash.Algorithm) Option {
	return func(c *Config) { c.HashAlgorithm = algo }
}

// WithCacheVersion sets the salt mixed into the hash; changing it
// invalidates on-disk data from a prior version.
func WithCacheVersion(v uint32) Option {
	return func(c *Config) { c.CacheVersion = v }
}

// WithConcurrency sets the read/write filesystem semaphore permits.
func WithConcurrency(read, write int64) Option {
	return func(c *Config) {
		if read > 0 {
			c.ReadConcurrency = read
		}
		if write > 0 {
			c.WriteConcurrency = write
		}
	}
}

// WithWarmOnOpen enables predictive warming: on New, the top-n
// historically hottest keys are proactively loaded into the hot tier.
func WithWarmOnOpen(n int) Option {
	return func(c *Config) { c.WarmOnOpen = n }
}

// WithMetrics enables Prometheus metrics collection. Passing nil
// disables metrics (default).
func WithMetrics(reg *prometheus.Registry) Option {
	return func(c *Config) { c.registry = reg }
}

// WithLogger plugs an external zap.Logger. The cache never logs on the
// hot path; only slow/background events (WAL rotation, sweep results,
// recovered corruption) are emitted.
func WithLogger(l *zap.Logger) Option {
	return func(c *Config) {
		if l != nil {
			c.logger = l
		}
	}
}

func applyOptions(opts []Option) (*Config, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.SmallValueThreshold < 0 {
		return nil, errInvalidThreshold
	}
	if cfg.ReadConcurrency <= 0 || cfg.WriteConcurrency <= 0 {
		return nil, errInvalidConcurrency
	}
	return cfg, nil
}

var (
	errInvalidThreshold   = errors.New("cachekit: small value threshold must be >= 0")
	errInvalidConcurrency = errors.New("cachekit: read/write concurrency must be > 0")
)
