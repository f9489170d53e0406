package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"bundleradar/internal/detector"
	"bundleradar/internal/feed"
	"bundleradar/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Logging  logging.Config `mapstructure:"logging"`
	Database DatabaseConfig `mapstructure:"database"`
	Feed     FeedConfig     `mapstructure:"feed"`
	Detector DetectorConfig `mapstructure:"detector"`
	Sweeper  SweeperConfig  `mapstructure:"sweeper"`
	Alerting AlertingConfig `mapstructure:"alerting"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Export   ExportConfig   `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity for the alert audit log.
type DatabaseConfig struct {
	DSN               string        `mapstructure:"dsn"`
	MaxOpenConns      int           `mapstructure:"max_open_conns"`
	MaxIdleConns      int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime   time.Duration `mapstructure:"conn_max_lifetime"`
	Retention         time.Duration `mapstructure:"retention"`
	RetentionInterval time.Duration `mapstructure:"retention_interval"`
	AdvisoryLockKey   int64         `mapstructure:"advisory_lock_key"`
}

// FeedConfig covers the PumpPortal websocket.
type FeedConfig struct {
	URL               string        `mapstructure:"url"`
	ReconnectDelay    time.Duration `mapstructure:"reconnect_delay"`
	MaxReconnectDelay time.Duration `mapstructure:"max_reconnect_delay"`
	PingInterval      time.Duration `mapstructure:"ping_interval"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	StrictMints       bool          `mapstructure:"strict_mints"`
}

// DetectorConfig holds window and gate thresholds.
type DetectorConfig struct {
	Window                     time.Duration       `mapstructure:"window"`
	MinTrades                  int                 `mapstructure:"min_trades"`
	MinTotalSol                float64             `mapstructure:"min_total_sol"`
	BigSingleBuySol            float64             `mapstructure:"big_single_buy_sol"`
	Tiers                      TierConfig          `mapstructure:"tiers"`
	MarketCapGate              MarketCapGateConfig `mapstructure:"marketcap_gate"`
	MarketCapReserveMultiplier float64             `mapstructure:"marketcap_reserve_multiplier"`
}

// TierConfig sets classification thresholds. Zero disables a rule.
type TierConfig struct {
	WhaleSingleSol float64 `mapstructure:"whale_single_sol"`
	LargeSingleSol float64 `mapstructure:"large_single_sol"`
	LargeTotalSol  float64 `mapstructure:"large_total_sol"`
	MediumTotalSol float64 `mapstructure:"medium_total_sol"`
}

// MarketCapGateConfig optionally suppresses alerts on small tokens.
type MarketCapGateConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	MinSol  float64 `mapstructure:"min_sol"`
}

// SweeperConfig governs idle eviction.
type SweeperConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// AlertingConfig defines delivery routing.
type AlertingConfig struct {
	Enabled   bool           `mapstructure:"enabled"`
	QueueSize int            `mapstructure:"queue_size"`
	Workers   int            `mapstructure:"workers"`
	Timeout   time.Duration  `mapstructure:"timeout"`
	SolUSD    float64        `mapstructure:"sol_usd"`
	LinkBase  string         `mapstructure:"link_base"`
	Mention   string         `mapstructure:"mention"`
	Discord   DiscordConfig  `mapstructure:"discord"`
	Telegram  TelegramConfig `mapstructure:"telegram"`
}

// DiscordConfig 描述 Discord webhook 参数。
type DiscordConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	WebhookURL string `mapstructure:"webhook_url"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
	Namespace  string `mapstructure:"namespace"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("BUNDLERADAR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "bundleradar")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.retention", "720h")
	v.SetDefault("database.retention_interval", "1h")
	v.SetDefault("database.advisory_lock_key", int64(0x62756e64))

	def := feed.DefaultConfig()
	v.SetDefault("feed.url", def.URL)
	v.SetDefault("feed.reconnect_delay", def.ReconnectDelay.String())
	v.SetDefault("feed.max_reconnect_delay", def.MaxReconnectDelay.String())
	v.SetDefault("feed.ping_interval", def.PingInterval.String())
	v.SetDefault("feed.read_timeout", def.ReadTimeout.String())
	v.SetDefault("feed.write_timeout", def.WriteTimeout.String())
	v.SetDefault("feed.strict_mints", false)

	tiers := detector.DefaultTierThresholds()
	v.SetDefault("detector.window", "3s")
	v.SetDefault("detector.min_trades", 2)
	v.SetDefault("detector.min_total_sol", 5.0)
	v.SetDefault("detector.big_single_buy_sol", 4.0)
	v.SetDefault("detector.tiers.whale_single_sol", tiers.WhaleSingleSol)
	v.SetDefault("detector.tiers.large_single_sol", tiers.LargeSingleSol)
	v.SetDefault("detector.tiers.large_total_sol", tiers.LargeTotalSol)
	v.SetDefault("detector.tiers.medium_total_sol", tiers.MediumTotalSol)
	v.SetDefault("detector.marketcap_gate.enabled", false)
	v.SetDefault("detector.marketcap_gate.min_sol", 0.0)
	v.SetDefault("detector.marketcap_reserve_multiplier", 2.0)

	v.SetDefault("sweeper.interval", "30s")
	v.SetDefault("sweeper.ttl", "2m")

	v.SetDefault("alerting.enabled", true)
	v.SetDefault("alerting.queue_size", 256)
	v.SetDefault("alerting.workers", 2)
	v.SetDefault("alerting.timeout", "10s")
	v.SetDefault("alerting.sol_usd", 0.0)
	v.SetDefault("alerting.link_base", "https://axiom.trade/t/")
	v.SetDefault("alerting.mention", "@everyone")
	v.SetDefault("alerting.discord.enabled", false)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen_addr", ":9102")
	v.SetDefault("metrics.namespace", "bundleradar")

	v.SetDefault("export.max_data_points", 100000)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Detector.Window <= 0 {
		return fmt.Errorf("detector.window must be greater than zero")
	}
	if c.Detector.MinTrades < 1 {
		return fmt.Errorf("detector.min_trades must be at least 1")
	}
	if c.Detector.MinTotalSol < 0 || c.Detector.BigSingleBuySol < 0 {
		return fmt.Errorf("detector thresholds cannot be negative")
	}
	if c.Detector.MarketCapReserveMultiplier < 0 {
		return fmt.Errorf("detector.marketcap_reserve_multiplier cannot be negative")
	}
	if c.Detector.MarketCapGate.Enabled && c.Detector.MarketCapGate.MinSol <= 0 {
		return fmt.Errorf("detector.marketcap_gate.min_sol must be greater than zero when the gate is enabled")
	}
	t := c.Detector.Tiers
	if t.WhaleSingleSol < 0 || t.LargeSingleSol < 0 || t.LargeTotalSol < 0 || t.MediumTotalSol < 0 {
		return fmt.Errorf("detector.tiers thresholds cannot be negative")
	}
	if t.WhaleSingleSol > 0 && t.LargeSingleSol > 0 && t.WhaleSingleSol < t.LargeSingleSol {
		return fmt.Errorf("detector.tiers.whale_single_sol must not be below large_single_sol")
	}
	if t.LargeTotalSol > 0 && t.MediumTotalSol > 0 && t.LargeTotalSol < t.MediumTotalSol {
		return fmt.Errorf("detector.tiers.large_total_sol must not be below medium_total_sol")
	}
	if c.Sweeper.Interval <= 0 {
		return fmt.Errorf("sweeper.interval must be greater than zero")
	}
	if c.Sweeper.TTL <= 0 {
		return fmt.Errorf("sweeper.ttl must be greater than zero")
	}
	if c.Feed.URL == "" {
		return fmt.Errorf("feed.url 必须配置")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Alerting.SolUSD < 0 {
		return fmt.Errorf("alerting.sol_usd cannot be negative")
	}
	if c.Alerting.Discord.Enabled && c.Alerting.Discord.WebhookURL == "" {
		return fmt.Errorf("alerting.discord.webhook_url 必须配置")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token 必须配置")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id 必须配置")
		}
	}
	return nil
}

// DetectorSettings converts the detector section into engine settings.
func (c *Config) DetectorSettings() detector.Config {
	d := c.Detector
	return detector.Config{
		Window: d.Window,
		Gate: detector.GateConfig{
			MinTrades:       d.MinTrades,
			MinTotalSol:     d.MinTotalSol,
			BigSingleBuySol: d.BigSingleBuySol,
			MarketCapGate:   d.MarketCapGate.Enabled,
			MinMarketCapSol: d.MarketCapGate.MinSol,
			Tiers: detector.TierThresholds{
				WhaleSingleSol: d.Tiers.WhaleSingleSol,
				LargeSingleSol: d.Tiers.LargeSingleSol,
				LargeTotalSol:  d.Tiers.LargeTotalSol,
				MediumTotalSol: d.Tiers.MediumTotalSol,
			},
		},
		MarketCapReserveMultiplier: d.MarketCapReserveMultiplier,
	}
}

// FeedSettings converts the feed section into client settings.
func (c *Config) FeedSettings() feed.Config {
	return feed.Config{
		URL:               c.Feed.URL,
		ReconnectDelay:    c.Feed.ReconnectDelay,
		MaxReconnectDelay: c.Feed.MaxReconnectDelay,
		PingInterval:      c.Feed.PingInterval,
		ReadTimeout:       c.Feed.ReadTimeout,
		WriteTimeout:      c.Feed.WriteTimeout,
	}
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
