package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"bundleradar/internal/alerting"
	"bundleradar/internal/config"
	"bundleradar/internal/detector"
	"bundleradar/internal/feed"
	"bundleradar/internal/metrics"
	"bundleradar/internal/normalize"
	"bundleradar/internal/service"
	"bundleradar/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newEngine() *detector.Engine {
	return detector.NewEngine(a.Config.DetectorSettings(), a.Logger)
}

func (a *App) newNormalizer() *normalize.Normalizer {
	return normalize.New(normalize.Options{StrictMints: a.Config.Feed.StrictMints})
}

func (a *App) newNotifier() alerting.Notifier {
	cfg := a.Config.Alerting
	if !cfg.Enabled {
		return nil
	}

	var fan alerting.Fanout
	if cfg.Discord.Enabled {
		fan = append(fan, alerting.NewDiscordNotifier(cfg.Discord.WebhookURL, cfg.Timeout, a.Logger))
	}
	if cfg.Telegram.Enabled {
		fan = append(fan, alerting.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.APIBase, cfg.Timeout, a.Logger))
	}
	switch len(fan) {
	case 0:
		return nil
	case 1:
		return fan[0]
	default:
		return fan
	}
}

func (a *App) newDispatcher(archive alerting.Archive, observer alerting.Observer) *alerting.Dispatcher {
	cfg := a.Config.Alerting
	return alerting.NewDispatcher(alerting.DispatcherOptions{
		QueueSize: cfg.QueueSize,
		Workers:   cfg.Workers,
		Timeout:   cfg.Timeout,
		SolUSD:    decimal.NewFromFloat(cfg.SolUSD),
		LinkBase:  cfg.LinkBase,
		Mention:   cfg.Mention,
	}, a.newNotifier(), archive, observer, a.Logger)
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		store.Close()
		return nil, nil, err
	}
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// Run executes the long-running watcher.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; alert audit log disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	m := metrics.New(a.Config.Metrics.Namespace)

	client := feed.NewClient(a.Config.FeedSettings(), a.Logger)
	client.OnConnect(func(reconnect bool) {
		if reconnect {
			m.FeedReconnects.Inc()
		}
	})

	var archive alerting.Archive
	var retainer service.Retainer
	if store != nil {
		archive = store
		retainer = store
	}

	dispatcher := a.newDispatcher(archive, m)
	if a.newNotifier() == nil {
		a.Logger.Warn().Msg("no alert channel enabled; detections are only logged")
	}

	runners := []service.Runner{dispatcher}
	if a.Config.Metrics.Enabled {
		runners = append(runners, metrics.NewServer(a.Config.Metrics.ListenAddr, m, a.Logger))
	}

	svc := service.New(a.newEngine(), a.newNormalizer(), client, dispatcher, m, retainer, service.Options{
		SweepInterval:     a.Config.Sweeper.Interval,
		SweepTTL:          a.Config.Sweeper.TTL,
		Retention:         a.Config.Database.Retention,
		RetentionInterval: a.Config.Database.RetentionInterval,
		AdvisoryLockKey:   a.Config.Database.AdvisoryLockKey,
	}, a.Logger, runners...)

	a.Logger.Info().
		Str("feed", a.Config.Feed.URL).
		Dur("window", a.Config.Detector.Window).
		Msg("starting bundle watcher")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("watcher terminated with error")
		return err
	}

	a.Logger.Info().Msg("bundle watcher stopped")
	return nil
}

// ExportOptions hold parameters for exporting persisted alerts.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// ReplayOptions configure an offline replay of recorded feed frames.
type ReplayOptions struct {
	File     string
	Step     time.Duration
	Start    time.Time
	Dispatch bool
}

// SimulateOptions describe a synthetic alert.
type SimulateOptions struct {
	Mint         string
	Name         string
	Tier         string
	TotalSol     float64
	MaxSingleSol float64
	TradeCount   int
	MarketCapSol float64
}
