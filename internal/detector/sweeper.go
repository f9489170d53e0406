package detector

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"bundleradar/internal/scheduler"
)

// EvictFunc is told which tokens a sweep removed.
type EvictFunc func(evicted []string, remaining int)

// Sweeper periodically evicts idle tokens from an Engine.
type Sweeper struct {
	engine  *Engine
	ttl     time.Duration
	sched   *scheduler.Scheduler
	onEvict EvictFunc
	logger  zerolog.Logger
}

// NewSweeper wires an engine to a scheduler. onEvict may be nil.
func NewSweeper(engine *Engine, ttl time.Duration, sched *scheduler.Scheduler, onEvict EvictFunc, logger zerolog.Logger) *Sweeper {
	return &Sweeper{
		engine:  engine,
		ttl:     ttl,
		sched:   sched,
		onEvict: onEvict,
		logger:  logger.With().Str("component", "sweeper").Logger(),
	}
}

// Run blocks until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	return s.sched.Run(ctx, func(_ context.Context, at time.Time) error {
		s.SweepAt(at)
		return nil
	})
}

// SweepAt performs one eviction pass as of now.
func (s *Sweeper) SweepAt(now time.Time) []string {
	evicted := s.engine.Sweep(s.ttl, now)
	remaining := s.engine.Tracked()
	if len(evicted) > 0 {
		s.logger.Debug().Int("evicted", len(evicted)).Int("tracked", remaining).Msg("evicted idle tokens")
	}
	if s.onEvict != nil {
		s.onEvict(evicted, remaining)
	}
	return evicted
}
