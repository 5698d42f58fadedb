package records

import (
	"context"
	"sync"
	"time"

	"beacon/internal/config"
	"beacon/internal/logger"
	"beacon/pkg/metrics"
)

// Sweeper periodically removes terminal records past the retention horizon.
type Sweeper struct {
	repo      Repository
	retention time.Duration
	interval  time.Duration
	logger    logger.Logger

	stopOnce sync.Once
	stop     chan struct{}
}

func NewSweeper(repo Repository, cfg config.RecordsConfig, log logger.Logger) *Sweeper {
	retention := time.Duration(cfg.RetentionHours) * time.Hour
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	interval := time.Duration(cfg.SweepIntervalMinutes) * time.Minute
	if interval <= 0 {
		interval = time.Hour
	}

	return &Sweeper{
		repo:      repo,
		retention: retention,
		interval:  interval,
		logger:    log,
		stop:      make(chan struct{}),
	}
}

func (s *Sweeper) Start() {
	go s.run()
}

func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
}

func (s *Sweeper) run() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweepOnce()
		case <-s.stop:
			return
		}
	}
}

func (s *Sweeper) sweepOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cutoff := time.Now().UTC().Add(-s.retention)
	swept, err := s.repo.Sweep(ctx, cutoff)
	if err != nil {
		s.logger.Warnw("Record sweep failed",
			"error", err,
		)
		return
	}
	if swept > 0 {
		metrics.RecordsSweptTotal.Add(float64(swept))
		s.logger.Infow("Swept expired notification records",
			"count", swept,
			"cutoff", cutoff,
		)
	}
}
