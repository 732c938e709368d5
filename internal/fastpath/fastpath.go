// Package fastpath implements the small-value fast path: values at
// or below a configured size threshold are additionally mirrored into
// a bounded in-memory map after their durable WAL/disk write, so a hot,
// tiny, frequently-read key can be served without a hot-tier lookup.
// This store is never authoritative for durability — it is only ever
// populated alongside the durable write, never instead of it, and a
// process restart simply loses the mirror (the durable copy survives
// via the normal WAL replay, same as any other entry).
//
// © 2025 cachekit authors. MIT License.
package fastpath

import (
	"sync"

	"github.com/cachekit/cachekit/internal/model"
)

// Store is a bounded in-memory map guarded by a byte budget and an
// optional entry-count budget; once either would be exceeded, Put
// reports false and the value is simply not mirrored.
type Store struct {
	mu         sync.RWMutex
	data       map[string]entry
	totalBytes uint64
	maxBytes   uint64
	maxEntries int
}

type entry struct {
	value []byte
	meta  model.Metadata
}

// New constructs a fast-path store with the given byte and entry-count
// budgets. A zero maxEntries means unbounded entry count (only
// maxBytes is enforced).
func New(maxBytes uint64, maxEntries int) *Store {
	return &Store{
		data:       make(map[string]entry),
		maxBytes:   maxBytes,
		maxEntries: maxEntries,
	}
}

// Put stores value under key if doing so stays within budget. It
// returns false (without storing anything) when the budget would be
// exceeded; the caller's durable copy is then the only copy.
func (s *Store) Put(key string, value []byte, meta model.Metadata) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	prevSize := uint64(0)
	if old, ok := s.data[key]; ok {
		prevSize = uint64(len(old.value))
	} else if s.maxEntries > 0 && len(s.data) >= s.maxEntries {
		return false
	}

	newTotal := s.totalBytes - prevSize + uint64(len(value))
	if s.maxBytes > 0 && newTotal > s.maxBytes {
		return false
	}

	s.data[key] = entry{value: value, meta: meta}
	s.totalBytes = newTotal
	return true
}

// Get returns the value and metadata for key, if present.
func (s *Store) Get(key string) ([]byte, model.Metadata, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.data[key]
	if !ok {
		return nil, model.Metadata{}, false
	}
	return e.value, e.meta, true
}

// Contains reports whether key is present without copying its value.
func (s *Store) Contains(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.data[key]
	return ok
}

// Remove deletes key, reporting whether it was present.
func (s *Store) Remove(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.data[key]
	if !ok {
		return false
	}
	delete(s.data, key)
	s.totalBytes -= uint64(len(e.value))
	return true
}

// Clear empties the store.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = make(map[string]entry)
	s.totalBytes = 0
}

// Len returns the number of resident entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// TotalBytes returns the current tracked byte total.
func (s *Store) TotalBytes() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.totalBytes
}
