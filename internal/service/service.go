package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"bundleradar/internal/detector"
	"bundleradar/internal/feed"
	"bundleradar/internal/metrics"
	"bundleradar/internal/normalize"
	"bundleradar/internal/scheduler"
	"bundleradar/internal/storage"
)

// Feed is the live event source. *feed.Client satisfies it.
type Feed interface {
	Run(ctx context.Context, handle feed.Handler) error
	Subscribe(mints ...string) error
	Unsubscribe(mints ...string) error
}

// AlertSink accepts detected alerts without blocking.
type AlertSink interface {
	Enqueue(alert detector.Alert) error
}

// Runner is a long-lived component started alongside the feed.
type Runner interface {
	Run(ctx context.Context) error
}

// Retainer prunes the alert audit log.
type Retainer interface {
	DeleteAlertsBefore(ctx context.Context, olderThan time.Time) (int64, error)
}

// Options configure the service loops.
type Options struct {
	SweepInterval time.Duration
	SweepTTL      time.Duration

	Retention         time.Duration
	RetentionInterval time.Duration
	AdvisoryLockKey   int64
}

// Service orchestrates the feed, the detector, the sweeper and delivery.
type Service struct {
	engine     *detector.Engine
	normalizer *normalize.Normalizer
	feed       Feed
	sink       AlertSink
	metrics    *metrics.Metrics
	sweeper    *detector.Sweeper
	retainer   Retainer
	locker     storage.AdvisoryLocker
	opts       Options
	runners    []Runner
	logger     zerolog.Logger
	clock      func() time.Time
}

// New constructs the watcher service. retainer may be nil; runners are
// started with the feed and stopped with it.
func New(engine *detector.Engine, normalizer *normalize.Normalizer, src Feed, sink AlertSink, m *metrics.Metrics, retainer Retainer, opts Options, logger zerolog.Logger, runners ...Runner) *Service {
	s := &Service{
		engine:     engine,
		normalizer: normalizer,
		feed:       src,
		sink:       sink,
		metrics:    m,
		retainer:   retainer,
		opts:       opts,
		runners:    runners,
		logger:     logger.With().Str("component", "service").Logger(),
		clock:      time.Now,
	}
	if l, ok := retainer.(storage.AdvisoryLocker); ok {
		s.locker = l
	}

	sched := scheduler.New(scheduler.Options{Name: "sweeper", Interval: opts.SweepInterval}, logger)
	s.sweeper = detector.NewSweeper(engine, opts.SweepTTL, sched, s.onEvict, logger)
	return s
}

// Run blocks until ctx is cancelled or a component fails.
func (s *Service) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.feed.Run(ctx, s.HandleRaw)
	})
	g.Go(func() error {
		return s.sweeper.Run(ctx)
	})
	if s.retainer != nil && s.opts.Retention > 0 && s.opts.RetentionInterval > 0 {
		sched := scheduler.New(scheduler.Options{
			Name:         "retention",
			Interval:     s.opts.RetentionInterval,
			AlignToStart: true,
		}, s.logger)
		g.Go(func() error {
			return sched.Run(ctx, s.PruneAlerts)
		})
	}
	for _, r := range s.runners {
		g.Go(func() error {
			return r.Run(ctx)
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return err
	}
	if err != nil {
		return fmt.Errorf("service: %w", err)
	}
	return nil
}

// HandleRaw processes one feed frame at the current time.
func (s *Service) HandleRaw(raw []byte) {
	s.HandleRawAt(raw, s.clock())
}

// HandleRawAt processes one feed frame as of now and returns the alert it
// produced, if any.
func (s *Service) HandleRawAt(raw []byte, now time.Time) *detector.Alert {
	msg, ok := normalize.Decode(raw)
	if !ok {
		s.metrics.EventsDropped.Inc()
		return nil
	}
	ev, ok := s.normalizer.Normalize(msg)
	if !ok {
		s.metrics.EventsDropped.Inc()
		return nil
	}
	s.metrics.EventsReceived.WithLabelValues(ev.Kind.String()).Inc()

	res := s.engine.Handle(ev, now)

	if res.Subscribe {
		s.subscribe(res.Mint)
	}
	if res.Recorded {
		s.metrics.TradesRecorded.Inc()
	}
	if res.Decision.Suppressed {
		s.metrics.AlertsSuppressed.Inc()
	}
	if res.Created {
		s.metrics.TrackedTokens.Set(float64(s.engine.Tracked()))
	}
	if res.Alert == nil {
		return nil
	}

	s.metrics.AlertsFired.WithLabelValues(res.Alert.Tier.String()).Inc()
	if s.sink != nil {
		// a full queue is logged and counted by the sink
		_ = s.sink.Enqueue(*res.Alert)
	}
	return res.Alert
}

// SweepAt runs one eviction pass outside the schedule.
func (s *Service) SweepAt(now time.Time) []string {
	return s.sweeper.SweepAt(now)
}

func (s *Service) subscribe(mint string) {
	err := s.feed.Subscribe(mint)
	switch {
	case err == nil:
	case errors.Is(err, feed.ErrNotConnected):
		s.logger.Debug().Str("mint", mint).Msg("feed offline, subscription queued for reconnect")
	default:
		s.logger.Warn().Err(err).Str("mint", mint).Msg("subscribe token trades failed")
	}
}

func (s *Service) onEvict(evicted []string, remaining int) {
	s.metrics.ObserveEviction(evicted, remaining)
	if len(evicted) == 0 {
		return
	}
	if err := s.feed.Unsubscribe(evicted...); err != nil && !errors.Is(err, feed.ErrNotConnected) {
		s.logger.Warn().Err(err).Int("count", len(evicted)).Msg("unsubscribe evicted tokens failed")
	}
}

// PruneAlerts deletes audit records older than the retention period.
func (s *Service) PruneAlerts(ctx context.Context, at time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("at", at).Msg("skip retention because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	cutoff := at.Add(-s.opts.Retention)
	deleted, err := s.retainer.DeleteAlertsBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("prune alerts: %w", err)
	}
	if deleted > 0 {
		s.logger.Info().Int64("deleted", deleted).Time("cutoff", cutoff).Msg("pruned alert records")
	}
	return nil
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.opts.AdvisoryLockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.opts.AdvisoryLockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
