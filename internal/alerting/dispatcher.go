package alerting

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"bundleradar/internal/detector"
)

// ErrQueueFull is returned by Enqueue when the backlog is at capacity.
var ErrQueueFull = errors.New("alerting: queue full")

// Archive persists delivered alerts.
type Archive interface {
	SaveAlert(ctx context.Context, alert detector.Alert, marketCapUSD decimal.Decimal) error
}

// Observer is told about delivery outcomes.
type Observer interface {
	ObserveDelivery(err error)
	ObserveDrop()
}

// DispatcherOptions configure a Dispatcher.
type DispatcherOptions struct {
	QueueSize int
	Workers   int
	Timeout   time.Duration
	SolUSD    decimal.Decimal
	LinkBase  string
	Mention   string
}

// Dispatcher moves alerts off the detection path. Enqueue never blocks;
// workers render, archive and deliver each alert once without retries.
type Dispatcher struct {
	opts     DispatcherOptions
	notifier Notifier
	archive  Archive
	observer Observer
	queue    chan detector.Alert
	logger   zerolog.Logger
}

// NewDispatcher builds a dispatcher. notifier, archive and observer may be nil.
func NewDispatcher(opts DispatcherOptions, notifier Notifier, archive Archive, observer Observer, logger zerolog.Logger) *Dispatcher {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &Dispatcher{
		opts:     opts,
		notifier: notifier,
		archive:  archive,
		observer: observer,
		queue:    make(chan detector.Alert, opts.QueueSize),
		logger:   logger.With().Str("component", "dispatcher").Logger(),
	}
}

// Enqueue hands an alert to the workers.
func (d *Dispatcher) Enqueue(alert detector.Alert) error {
	select {
	case d.queue <- alert:
		return nil
	default:
		d.logger.Warn().Str("mint", alert.Mint).
			Str("tier", alert.Tier.String()).
			Int("queue_size", d.opts.QueueSize).
			Msg("alert queue full, dropping alert")
		if d.observer != nil {
			d.observer.ObserveDrop()
		}
		return ErrQueueFull
	}
}

// Pending returns the number of queued alerts.
func (d *Dispatcher) Pending() int {
	return len(d.queue)
}

// Run starts the workers and blocks until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < d.opts.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			d.work(ctx, id)
		}(i)
	}
	wg.Wait()

	if n := len(d.queue); n > 0 {
		d.logger.Warn().Int("pending", n).Msg("dispatcher stopped with undelivered alerts")
	}
	return ctx.Err()
}

func (d *Dispatcher) work(ctx context.Context, id int) {
	for {
		select {
		case <-ctx.Done():
			return
		case alert := <-d.queue:
			if err := d.Deliver(ctx, alert); err != nil {
				d.logger.Error().Err(err).
					Int("worker", id).
					Str("mint", alert.Mint).
					Str("alert_id", alert.ID.String()).
					Msg("failed to dispatch alert")
			}
		}
	}
}

// Deliver archives and sends one alert synchronously. A panic while
// rendering or sending is returned as an error so the worker survives.
func (d *Dispatcher) Deliver(ctx context.Context, alert detector.Alert) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("deliver %s: panic: %v", alert.Mint, r)
		}
	}()

	note := NewNotification(alert, d.opts.SolUSD, d.opts.LinkBase, d.opts.Mention)

	ctx, cancel := context.WithTimeout(ctx, d.opts.Timeout)
	defer cancel()

	if d.archive != nil {
		if err := d.archive.SaveAlert(ctx, alert, note.MarketCapUSD); err != nil {
			d.logger.Error().Err(err).Str("mint", alert.Mint).Msg("failed to persist alert record")
		}
	}

	if d.notifier == nil {
		return nil
	}

	err = d.notifier.Notify(ctx, note)
	if d.observer != nil {
		d.observer.ObserveDelivery(err)
	}
	if err != nil {
		return fmt.Errorf("notify %s: %w", alert.Mint, err)
	}
	return nil
}
