// Package scheduler runs the expiry sweep periodically.
package scheduler

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// SweepFunc writes off batches that have expired at now.
type SweepFunc func(ctx context.Context, now time.Time) (map[int64]int, error)

type Config struct {
	Interval time.Duration
	// RunOnStart sweeps once before the first tick so that batches which
	// expired while the process was down are caught up.
	RunOnStart bool
	// CatchUp, when set, runs the start-up sweep instead of the scheduled one.
	CatchUp SweepFunc
}

func DefaultConfig() Config {
	return Config{Interval: 24 * time.Hour, RunOnStart: true}
}

type Scheduler struct {
	sweep  SweepFunc
	cfg    Config
	logger *zap.Logger
	now    func() time.Time
}

func New(sweep SweepFunc, cfg Config, logger *zap.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	return &Scheduler{sweep: sweep, cfg: cfg, logger: logger, now: time.Now}
}

// Run sweeps on every tick until ctx is done. A failed sweep is logged and
// retried on the next tick.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("expiry scheduler starting",
		zap.Duration("interval", s.cfg.Interval),
		zap.Bool("run_on_start", s.cfg.RunOnStart),
	)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	if s.cfg.RunOnStart {
		catchUp := s.sweep
		if s.cfg.CatchUp != nil {
			catchUp = s.cfg.CatchUp
		}
		s.execute(ctx, catchUp)
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("expiry scheduler stopped")
			return nil
		case <-ticker.C:
			s.execute(ctx, s.sweep)
		}
	}
}

// RunNow sweeps once, outside the schedule.
func (s *Scheduler) RunNow(ctx context.Context) (map[int64]int, error) {
	return s.sweep(ctx, s.now())
}

func (s *Scheduler) execute(ctx context.Context, sweep SweepFunc) {
	totals, err := sweep(ctx, s.now())
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		s.logger.Error("scheduled sweep failed", zap.Error(err))
		return
	}
	if len(totals) == 0 {
		s.logger.Debug("scheduled sweep found no expired batches")
	}
}
