// Package bench provides reproducible micro-benchmarks for cachekit.
// Run via:  go test ./bench -bench=. -benchmem -cpu 1,4,16
//
// The benchmarks intentionally use a single key/value shape so results are
// comparable across versions:
//   - Key   - a fixed-width decimal string derived from a uint64 (cheap to
//     format, exercises the real string-keyed hot path)
//   - Value - a 64-byte payload (large enough to matter, small enough to
//     stay on cachekit's fast path with the default small-value threshold)
//
// We measure:
//  1. Put          - write-only workload
//  2. Get          - read-only workload (after warm-up)
//  3. GetParallel  - highly concurrent reads (b.RunParallel)
//  4. GetOrLoad    - 90% hits, 10% misses with loader cost
//
// Results are printed in ns/op + alloc/op so CI can diff via benchstat.
//
// NOTE: Unit tests live elsewhere; this file is only for performance.
//
// © 2025 cachekit authors. MIT License.
package bench

import (
	"context"
	"math/rand"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	cachekit "github.com/cachekit/cachekit/pkg"
)

const (
	ttl    = time.Minute
	numKeys = 1 << 16 // 64K keys for dataset; kept small enough for -short CI runs
)

var value64 = make([]byte, 64)

func newTestCache(b *testing.B) *cachekit.Cache {
	b.Helper()
	c, err := cachekit.New(context.Background(), b.TempDir(),
		cachekit.WithMaxSizeBytes(256<<20),
		cachekit.WithCleanupInterval(0),
	)
	if err != nil {
		b.Fatalf("cachekit.New: %v", err)
	}
	b.Cleanup(func() { _ = c.Close(context.Background()) })
	return c
}

// global dataset reused across benches to avoid reformatting keys per run.
var ds = func() []string {
	r := rand.New(rand.NewSource(42))
	arr := make([]string, numKeys)
	for i := range arr {
		arr[i] = strconv.FormatUint(r.Uint64(), 10)
	}
	return arr
}()

func BenchmarkPut(b *testing.B) {
	c := newTestCache(b)
	ctx := context.Background()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		key := ds[i&(numKeys-1)]
		if err := c.Put(ctx, key, value64, ttl); err != nil {
			b.Fatalf("Put: %v", err)
		}
	}
}

func BenchmarkGet(b *testing.B) {
	c := newTestCache(b)
	ctx := context.Background()
	for _, k := range ds {
		if err := c.Put(ctx, k, value64, ttl); err != nil {
			b.Fatalf("warm-up Put: %v", err)
		}
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		k := ds[i&(numKeys-1)]
		if _, _, err := c.Get(ctx, k); err != nil {
			b.Fatalf("Get: %v", err)
		}
	}
}

func BenchmarkGetParallel(b *testing.B) {
	c := newTestCache(b)
	ctx := context.Background()
	for _, k := range ds {
		if err := c.Put(ctx, k, value64, ttl); err != nil {
			b.Fatalf("warm-up Put: %v", err)
		}
	}
	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		idx := rand.Intn(numKeys)
		for pb.Next() {
			idx = (idx + 1) & (numKeys - 1)
			_, _, _ = c.Get(ctx, ds[idx])
		}
	})
}

func BenchmarkGetOrLoad(b *testing.B) {
	c := newTestCache(b)
	ctx := context.Background()
	// Preload 90% of keys to simulate a mixed hit/miss workload.
	for i, k := range ds {
		if i%10 != 0 {
			if err := c.Put(ctx, k, value64, ttl); err != nil {
				b.Fatalf("warm-up Put: %v", err)
			}
		}
	}
	var loaderCnt atomic.Uint64
	loader := func(ctx context.Context, key string) ([]byte, error) {
		loaderCnt.Add(1)
		return value64, nil
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		k := ds[i&(numKeys-1)]
		if _, err := c.GetOrLoad(ctx, k, ttl, loader); err != nil {
			b.Fatalf("GetOrLoad: %v", err)
		}
	}
	b.ReportMetric(float64(loaderCnt.Load())/float64(b.N)*100, "miss-%")
}
