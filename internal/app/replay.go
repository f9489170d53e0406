package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"

	"bundleradar/internal/alerting"
	"bundleradar/internal/detector"
	"bundleradar/internal/feed"
	"bundleradar/internal/metrics"
	"bundleradar/internal/service"
)

const maxReplayLine = 1 << 20

// ErrNoReplayFile is returned by Replay when no input file is named.
var ErrNoReplayFile = errors.New("replay: --file must be provided")

// ReplaySummary reports what a replay produced.
type ReplaySummary struct {
	Lines   int
	Alerts  []detector.Alert
	Evicted int
}

// Replay feeds recorded frames through a fresh engine on a virtual clock.
func (a *App) Replay(ctx context.Context, opts ReplayOptions) (ReplaySummary, error) {
	if opts.File == "" {
		return ReplaySummary{}, ErrNoReplayFile
	}
	f, err := os.Open(opts.File)
	if err != nil {
		return ReplaySummary{}, fmt.Errorf("open replay file: %w", err)
	}
	defer f.Close()

	summary, err := a.ReplayFrom(ctx, f, opts)
	if err != nil {
		return summary, err
	}
	printAlerts(os.Stdout, summary.Alerts)
	return summary, nil
}

// ReplayFrom is Replay over an arbitrary reader.
func (a *App) ReplayFrom(ctx context.Context, r io.Reader, opts ReplayOptions) (ReplaySummary, error) {
	if opts.Step <= 0 {
		return ReplaySummary{}, errors.New("--step must be greater than zero")
	}
	now := opts.Start
	if now.IsZero() {
		now = time.Now().UTC()
	}

	sink := &collectSink{}
	if opts.Dispatch {
		sink.deliver = a.newDispatcher(nil, nil)
		sink.ctx = ctx
		sink.logger = a.Logger
	}

	svc := service.New(a.newEngine(), a.newNormalizer(), offlineFeed{}, sink, metrics.New(a.Config.Metrics.Namespace), nil, service.Options{
		SweepInterval: a.Config.Sweeper.Interval,
		SweepTTL:      a.Config.Sweeper.TTL,
	}, a.Logger)

	summary := ReplaySummary{}
	lastSweep := now
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxReplayLine)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		summary.Lines++
		svc.HandleRawAt(line, now)

		now = now.Add(opts.Step)
		if now.Sub(lastSweep) >= a.Config.Sweeper.Interval {
			summary.Evicted += len(svc.SweepAt(now))
			lastSweep = now
		}
	}
	if err := scanner.Err(); err != nil {
		return summary, fmt.Errorf("read replay: %w", err)
	}

	summary.Alerts = sink.alerts
	a.Logger.Info().
		Int("lines", summary.Lines).
		Int("alerts", len(summary.Alerts)).
		Int("evicted", summary.Evicted).
		Msg("replay finished")
	return summary, nil
}

func printAlerts(w io.Writer, alerts []detector.Alert) {
	if len(alerts) == 0 {
		fmt.Fprintln(w, "no bundles detected")
		return
	}
	writer := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Detected (UTC)\tTier\tMint\tName\tTrades\tTotal SOL\tMax SOL\tDominance%")
	for _, alert := range alerts {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%d\t%.3f\t%.3f\t%.1f\n",
			alert.DetectedAt.UTC().Format(time.RFC3339Nano),
			alert.Tier.Label(),
			alert.Mint,
			sanitizeInline(alert.Name),
			alert.TradeCount,
			alert.TotalSol,
			alert.MaxSingleSol,
			alert.DominancePct,
		)
	}
	writer.Flush()
}

type collectSink struct {
	ctx     context.Context
	deliver *alerting.Dispatcher
	logger  zerolog.Logger
	alerts  []detector.Alert
}

func (s *collectSink) Enqueue(alert detector.Alert) error {
	s.alerts = append(s.alerts, alert)
	if s.deliver == nil {
		return nil
	}
	if err := s.deliver.Deliver(s.ctx, alert); err != nil {
		s.logger.Error().Err(err).Str("mint", alert.Mint).Msg("failed to dispatch replayed alert")
		return err
	}
	return nil
}

// offlineFeed stands in for the websocket during replays.
type offlineFeed struct{}

func (offlineFeed) Run(ctx context.Context, _ feed.Handler) error {
	<-ctx.Done()
	return ctx.Err()
}

func (offlineFeed) Subscribe(...string) error   { return nil }
func (offlineFeed) Unsubscribe(...string) error { return nil }
