/*
scheduler.go - Periodic cache maintenance

PURPOSE:
  Periodically prunes expired analysis results so the analysis cache
  shrinks even when nobody reads or refreshes it. Reads and writes
  already prune lazily; this only bounds how long expired entries sit
  on disk between requests.

DESIGN:
  - Runs a background goroutine with a configurable check interval
  - Runs once immediately on Start
  - Failures are logged and retried on the next tick

CONFIGURATION:
  - CheckInterval: How often to prune (default: 1 hour)
  - Enabled: Whether the scheduler is active (default: true)

USAGE:
  scheduler := NewMaintenanceScheduler(engine, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: CleanAnalysisCache endpoint (manual prune)
  - generic/cache.go: Prune
*/
package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/trade-ledger/generic"
)

// Pruner is the slice of the engine the scheduler drives.
type Pruner interface {
	PruneAnalysis(ctx context.Context) (generic.PruneResult, error)
}

// MaintenanceScheduler prunes the analysis cache on a timer.
type MaintenanceScheduler struct {
	Pruner        Pruner
	Logger        *zap.Logger
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewMaintenanceScheduler creates a new scheduler.
func NewMaintenanceScheduler(p Pruner, logger *zap.Logger) *MaintenanceScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MaintenanceScheduler{
		Pruner:        p,
		Logger:        logger,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
	}
}

// Start begins the scheduler. Calling Start twice is a no-op.
func (s *MaintenanceScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled || s.CheckInterval <= 0 {
		s.Logger.Info("cache maintenance disabled")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.stop = make(chan struct{})
	s.wg.Add(1)

	go s.run(s.ticker, s.stop)

	s.Logger.Info("cache maintenance started", zap.Duration("interval", s.CheckInterval))
}

// Stop stops the scheduler and waits for an in-flight prune.
func (s *MaintenanceScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.wg.Wait()
		s.ticker = nil
		s.Logger.Info("cache maintenance stopped")
	}
}

func (s *MaintenanceScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer s.wg.Done()

	s.RunOnce(context.Background())

	for {
		select {
		case <-ticker.C:
			s.RunOnce(context.Background())
		case <-stop:
			return
		}
	}
}

// RunOnce prunes once and reports how many entries were dropped.
func (s *MaintenanceScheduler) RunOnce(ctx context.Context) int {
	res, err := s.Pruner.PruneAnalysis(ctx)
	if err != nil {
		s.Logger.Error("analysis cache prune failed", zap.Error(err))
		return 0
	}
	if res.Removed() > 0 {
		s.Logger.Info("analysis cache pruned",
			zap.Int("removed", res.Removed()), zap.Int("remaining", res.NewSize))
	}
	return res.Removed()
}
