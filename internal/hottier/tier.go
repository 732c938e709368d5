// Package hottier implements the in-memory hot tier: a sharded
// concurrent map holding recently-used entries either inline (small
// values, copied into the process heap) or as a reference into a
// memory-mapped on-disk payload file (large values, avoiding a second
// copy). Entry replacement uses atomic.Pointer so a concurrent reader
// never observes a torn update.
//
// © 2025 cachekit authors. MIT License.
package hottier

import (
	"sync"
	"sync/atomic"

	"github.com/cachekit/cachekit/internal/model"
)

const shardCount = 64

// Kind distinguishes how an Entry's bytes are backed.
type Kind int

const (
	Inline Kind = iota
	Mapped
)

// Entry is one hot-tier resident value. Once constructed an Entry is
// immutable; updates replace the *Entry pointer rather than mutating
// fields in place.
type Entry struct {
	Kind     Kind
	Inline   []byte
	View     *MmapView
	Meta     model.Metadata
}

// Bytes returns the entry's payload bytes regardless of backing kind.
// For Mapped entries the caller must not retain the slice past a
// corresponding Release.
func (e *Entry) Bytes() []byte {
	if e.Kind == Mapped {
		return e.View.Bytes()
	}
	return e.Inline
}

// Release drops the entry's reference on its backing mmap view, a
// no-op for inline entries. Called once whenever an Entry stops being
// the tier's resident value for its key (replaced or evicted).
func (e *Entry) Release() error {
	if e.Kind == Mapped && e.View != nil {
		return e.View.Release()
	}
	return nil
}

type shard struct {
	mu   sync.RWMutex
	data map[string]*atomic.Pointer[Entry]
}

// Tier is the sharded hot-tier store.
type Tier struct {
	shards [shardCount]*shard
}

// New constructs an empty hot tier.
func New() *Tier {
	t := &Tier{}
	for i := range t.shards {
		t.shards[i] = &shard{data: make(map[string]*atomic.Pointer[Entry])}
	}
	return t
}

func (t *Tier) shardFor(key string) *shard {
	var h uint32
	for i := 0; i < len(key); i++ {
		h = h*31 + uint32(key[i])
	}
	return t.shards[h%shardCount]
}

// Get returns the resident entry for key, if any, along with an extra
// reference on its mmap view (if Mapped) that the caller must Release
// when done reading. The reference is taken while the shard lock is
// held: put/Remove drop the tier's own reference under the write lock,
// so the count can never reach zero between a reader's load and its
// Acquire.
func (t *Tier) Get(key string) (*Entry, bool) {
	s := t.shardFor(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	ptr, ok := s.data[key]
	if !ok {
		return nil, false
	}
	e := ptr.Load()
	if e == nil {
		return nil, false
	}
	if e.Kind == Mapped {
		e.View.Acquire()
	}
	return e, true
}

// PutInline stores a small value copied directly into the tier.
func (t *Tier) PutInline(key string, data []byte, meta model.Metadata) {
	t.put(key, &Entry{Kind: Inline, Inline: data, Meta: meta})
}

// PutMapped stores a large value as a reference into an already-open
// mmap view. The tier takes ownership of the passed-in reference (it
// does not Acquire an extra one); callers should pass a freshly
// acquired or opened view.
func (t *Tier) PutMapped(key string, view *MmapView, meta model.Metadata) {
	t.put(key, &Entry{Kind: Mapped, View: view, Meta: meta})
}

func (t *Tier) put(key string, next *Entry) {
	s := t.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	ptr, ok := s.data[key]
	if !ok {
		ptr = &atomic.Pointer[Entry]{}
		s.data[key] = ptr
	}
	old := ptr.Swap(next)
	if old != nil {
		_ = old.Release()
	}
}

// Remove deletes key's entry, releasing its mmap reference if any.
// Reports whether an entry was present.
func (t *Tier) Remove(key string) bool {
	s := t.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	ptr, ok := s.data[key]
	if !ok {
		return false
	}
	delete(s.data, key)
	if e := ptr.Load(); e != nil {
		_ = e.Release()
	}
	return true
}

// Clear empties the entire tier, releasing every mmap reference.
func (t *Tier) Clear() {
	for _, s := range t.shards {
		s.mu.Lock()
		for _, ptr := range s.data {
			if e := ptr.Load(); e != nil {
				_ = e.Release()
			}
		}
		s.data = make(map[string]*atomic.Pointer[Entry])
		s.mu.Unlock()
	}
}

// Len returns the total number of resident entries across all shards.
func (t *Tier) Len() int {
	n := 0
	for _, s := range t.shards {
		s.mu.RLock()
		n += len(s.data)
		s.mu.RUnlock()
	}
	return n
}
