package cache

// loaderfunc.go defines LoaderFunc, the user-supplied callback GetOrLoad
// invokes on a miss. Kept in its own file so it can be referenced from
// both loader.go and cache.go.
//
// © 2025 cachekit authors. MIT License.

import "context"

// LoaderFunc produces the bytes to cache under key when GetOrLoad misses.
// It must not call back into the same Cache it serves; doing so can
// deadlock against the in-flight singleflight call for key. Implementations
// should honor ctx for cancellation.
type LoaderFunc func(ctx context.Context, key string) ([]byte, error)
