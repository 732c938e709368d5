package cleanup

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu      sync.Mutex
	keys    []string
	expired map[string]bool
}

func (f *fakeSource) SweepCandidates() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.keys))
	copy(out, f.keys)
	return out
}

func (f *fakeSource) ExpireIfDue(key string, now time.Time) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.expired[key] {
		for i, k := range f.keys {
			if k == key {
				f.keys = append(f.keys[:i], f.keys[i+1:]...)
				break
			}
		}
		return true
	}
	return false
}

func TestSweeperReapsExpiredEntries(t *testing.T) {
	src := &fakeSource{keys: []string{"a", "b"}, expired: map[string]bool{"a": true}}
	s := New(src, 10*time.Millisecond, nil)
	s.Start(context.Background())
	defer s.Stop()

	require.Eventually(t, func() bool {
		return s.TotalReaped() >= 1
	}, time.Second, 5*time.Millisecond)
}

func TestStartIsIdempotent(t *testing.T) {
	src := &fakeSource{}
	s := New(src, time.Hour, nil)
	s.Start(context.Background())
	s.Start(context.Background())
	s.Stop()
}

func TestStopWithoutStartIsSafe(t *testing.T) {
	s := New(&fakeSource{}, time.Hour, nil)
	s.Stop()
}
