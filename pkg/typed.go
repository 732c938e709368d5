package cache

// typed.go gives callers a generic, type-safe surface as a thin wrapper
// over the byte-oriented Cache core, gob-encoding through internal/codec.
// Values are typed at the call site; the disk format is not.
//
// © 2025 cachekit authors. MIT License.

import (
	"context"
	"time"

	"github.com/cachekit/cachekit/internal/codec"
)

// Typed adapts a byte-oriented Cache to a single Go type T via gob
// encoding. Multiple Typed[T] wrappers over different T may safely
// share one underlying *Cache as long as callers don't mix types under
// the same key.
type Typed[T any] struct {
	c *Cache
}

// NewTyped wraps an existing Cache for type T.
func NewTyped[T any](c *Cache) *Typed[T] {
	return &Typed[T]{c: c}
}

// Put gob-encodes v and stores it under key with the given ttl.
func (t *Typed[T]) Put(ctx context.Context, key string, v *T, ttl time.Duration) error {
	data, err := codec.EncodeValue(v)
	if err != nil {
		return err
	}
	return t.c.Put(ctx, key, data, ttl)
}

// Get decodes key's value into a *T, reporting false if absent.
func (t *Typed[T]) Get(ctx context.Context, key string) (*T, bool, error) {
	data, ok, err := t.c.Get(ctx, key)
	if err != nil || !ok {
		return nil, ok, err
	}
	var v T
	if err := codec.DecodeValue(data, &v); err != nil {
		return nil, true, err
	}
	return &v, true, nil
}

// Remove deletes key.
func (t *Typed[T]) Remove(ctx context.Context, key string) (bool, error) {
	return t.c.Remove(ctx, key)
}
