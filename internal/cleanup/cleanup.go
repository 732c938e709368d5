// Package cleanup runs the background expiry sweep: a ticker-driven
// loop that walks resident keys and evicts anything past its ExpiresAt,
// so TTL'd entries are reclaimed even if nobody ever calls Get on them
// again. Logging stays off the hot path; only background events are
// logged.
//
// © 2025 cachekit authors. MIT License.
package cleanup

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Source is the minimal surface cleanup needs from the cache core: a
// way to list candidate keys and expire one.
type Source interface {
	// SweepCandidates returns keys currently resident with a non-zero
	// expiry, for the sweeper to check.
	SweepCandidates() []string
	// ExpireIfDue removes key if it is expired as of now, reporting
	// whether it did so.
	ExpireIfDue(key string, now time.Time) bool
}

// Sweeper periodically scans a Source for expired entries.
type Sweeper struct {
	src      Source
	interval time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	total   uint64
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New constructs a Sweeper. interval must be positive.
func New(src Source, interval time.Duration, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{src: src, interval: interval, logger: logger}
}

// Start launches the background sweep loop. Calling Start twice
// without an intervening Stop is a no-op.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true

	go s.loop(ctx)
}

func (s *Sweeper) loop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce()
		}
	}
}

func (s *Sweeper) sweepOnce() {
	now := time.Now()
	var reaped uint64
	for _, key := range s.src.SweepCandidates() {
		if s.src.ExpireIfDue(key, now) {
			reaped++
		}
	}
	if reaped > 0 {
		s.mu.Lock()
		s.total += reaped
		s.mu.Unlock()
		s.logger.Debug("cleanup sweep reaped expired entries", zap.Uint64("count", reaped))
	}
}

// Stop cancels the background loop and waits for it to exit.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	cancel()
	<-done
}

// TotalReaped returns the cumulative count of entries this sweeper has
// expired, for Cache.Statistics' ExpiredCleanups counter.
func (s *Sweeper) TotalReaped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}
