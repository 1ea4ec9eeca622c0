package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

type sweepTarget interface {
	ArchiveCompletedSessions(ctx context.Context, limit int) (int, error)
	ExpireStaleOffers(ctx context.Context, limit int) (int, error)
	ReconcilePromotions(ctx context.Context, limit int) (int, error)
}

// SweepReport counts what one sweep pass changed.
type SweepReport struct {
	Archived int
	Expired  int
	Promoted int
}

// Sweeper periodically archives finished sessions, expires stale waitlist
// offers and hands free seats to waiting students.
type Sweeper struct {
	target    sweepTarget
	interval  time.Duration
	batchSize int
	metrics   *MetricsService
	logger    *zap.Logger

	mu       sync.Mutex
	started  bool
	stopOnce sync.Once
	stopChan chan struct{}
	done     chan struct{}
}

// NewSweeper builds the background sweeper.
func NewSweeper(target sweepTarget, interval time.Duration, batchSize int, metrics *MetricsService, logger *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{
		target:    target,
		interval:  interval,
		batchSize: batchSize,
		metrics:   metrics,
		logger:    logger,
		stopChan:  make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start runs one sweep immediately and then on every tick.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.logger.Info("starting enrollment sweeper", zap.Duration("interval", s.interval))
	go s.run(ctx)
}

// Stop ends the loop and waits for a running pass to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		return
	}
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
	<-s.done
}

func (s *Sweeper) run(ctx context.Context) {
	defer close(s.done)
	s.SweepOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.SweepOnce(ctx)
		case <-s.stopChan:
			s.logger.Info("enrollment sweeper stopped")
			return
		case <-ctx.Done():
			s.logger.Info("enrollment sweeper cancelled")
			return
		}
	}
}

// SweepOnce runs every step once. A failing step is logged and does not stop the others.
func (s *Sweeper) SweepOnce(ctx context.Context) SweepReport {
	var report SweepReport
	var err error

	if report.Archived, err = s.target.ArchiveCompletedSessions(ctx, s.batchSize); err != nil {
		s.logger.Error("archive sweep failed", zap.Error(err))
	}
	s.metrics.RecordSweep("archive", report.Archived)

	if report.Expired, err = s.target.ExpireStaleOffers(ctx, s.batchSize); err != nil {
		s.logger.Error("offer expiry sweep failed", zap.Error(err))
	}
	s.metrics.RecordSweep("expire", report.Expired)

	if report.Promoted, err = s.target.ReconcilePromotions(ctx, s.batchSize); err != nil {
		s.logger.Error("promotion sweep failed", zap.Error(err))
	}
	s.metrics.RecordSweep("promote", report.Promoted)

	s.logger.Info("enrollment sweep completed",
		zap.Int("archived", report.Archived),
		zap.Int("expired", report.Expired),
		zap.Int("promoted", report.Promoted),
	)
	return report
}
