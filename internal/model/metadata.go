// Package model holds the small, shared value types that cross package
// boundaries inside cachekit (Metadata, Stats) so that internal/storage,
// internal/hottier, internal/fastpath and internal/evict can all depend on
// them without creating import cycles back into pkg/cache.go.
//
// © 2025 cachekit authors. MIT License.
package model

import "time"

// Metadata is the durable attribute set kept for every cached entry.
type Metadata struct {
	SizeBytes     uint64
	CreatedAt     time.Time
	LastAccessed  time.Time
	ExpiresAt     time.Time // zero value means "never expires"
	AccessCount   uint64
	ContentHash   string // may be empty for fast-path entries
	CacheVersion  uint32
}

// HasExpiry reports whether ExpiresAt was set.
func (m Metadata) HasExpiry() bool {
	return !m.ExpiresAt.IsZero()
}

// Expired reports whether the entry is logically absent at instant now.
// An expired entry must never be served even if not yet physically
// removed.
func (m Metadata) Expired(now time.Time) bool {
	return m.HasExpiry() && !m.ExpiresAt.After(now)
}

// Stats is the free-running counter + gauge snapshot returned by
// Cache.Statistics.
type Stats struct {
	Hits             uint64
	Misses           uint64
	Writes           uint64
	Removals         uint64
	Errors           uint64
	Entries          uint64 // gauge
	TotalBytes       uint64 // gauge
	MaxBytes         uint64
	ExpiredCleanups  uint64
	WALRecoveries    uint64
	ChecksumFailures uint64
	CompressionRatio float64
	FastPathHits     uint64
	Since            time.Time
}
