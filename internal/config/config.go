package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"funding-bot/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App        AppConfig                 `mapstructure:"app"`
	Logging    logging.Config            `mapstructure:"logging"`
	Exchange   ExchangeConfig            `mapstructure:"exchange"`
	Database   DatabaseConfig            `mapstructure:"database"`
	Scheduler  SchedulerConfig           `mapstructure:"scheduler"`
	Tracker    TrackerConfig             `mapstructure:"tracker"`
	Lifecycle  LifecycleConfig           `mapstructure:"lifecycle"`
	Telegram   TelegramConfig            `mapstructure:"telegram"`
	Metrics    MetricsConfig             `mapstructure:"metrics"`
	Currencies map[string]CurrencyConfig `mapstructure:"currencies"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// ExchangeConfig covers the authenticated market API.
type ExchangeConfig struct {
	APIKey         string        `mapstructure:"api_key"`
	APISecret      string        `mapstructure:"api_secret"`
	BaseURL        string        `mapstructure:"base_url"`
	PublicBaseURL  string        `mapstructure:"public_base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity for the baseline store.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	// EventRetention bounds the offer-event audit table; zero disables pruning.
	EventRetention time.Duration `mapstructure:"event_retention"`
}

// SchedulerConfig governs the control-loop cadence.
type SchedulerConfig struct {
	CycleInterval time.Duration `mapstructure:"cycle_interval"`
	StartupDelay  time.Duration `mapstructure:"startup_delay"`
	WarmupSamples int           `mapstructure:"warmup_samples"`
}

// TrackerConfig tunes rate aggregation.
type TrackerConfig struct {
	WindowSize     int     `mapstructure:"window_size"`
	ShortTimeframe string  `mapstructure:"short_timeframe"`
	LongTimeframe  string  `mapstructure:"long_timeframe"`
	DiscountFactor float64 `mapstructure:"discount_factor"`
}

// LifecycleConfig governs submitted-offer handling.
type LifecycleConfig struct {
	OfferTimeout time.Duration `mapstructure:"offer_timeout"`
}

// TelegramConfig 描述 Telegram 通知参数。
type TelegramConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	BotToken   string `mapstructure:"bot_token"`
	ChatID     string `mapstructure:"chat_id"`
	APIBase    string `mapstructure:"api_base"`
	QueueLimit int    `mapstructure:"queue_limit"`
}

// MetricsConfig enables the Prometheus exposition endpoint.
type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
}

// CurrencyConfig holds per-currency lending parameters. Rates are annualized
// percentages; amounts are denominated in the funding currency itself.
type CurrencyConfig struct {
	MinAnnualRate    float64 `mapstructure:"min_annual_rate"`
	MaxLendingAmount float64 `mapstructure:"max_lending_amount"`
	MinOrderAmount   float64 `mapstructure:"min_order_amount"`
	InitialBalance   float64 `mapstructure:"initial_balance"`
	StartDate        string  `mapstructure:"start_date"`
}

// knownMinimums and knownBalances seed sensible per-symbol values so the
// common symbols work without spelling every field out.
var knownMinimums = map[string]float64{
	"fUSD": 50,
	"fETH": 0.5,
	"fBTC": 0.01,
}

var knownBalances = map[string]float64{
	"fUSD": 1000,
	"fETH": 1,
	"fBTC": 0.1,
}

const startDateLayout = "2006-01-02"

// Start parses the configured baseline start date.
func (c CurrencyConfig) Start() (time.Time, bool) {
	if c.StartDate == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(startDateLayout, c.StartDate)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FUNDINGBOT")
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

	cfg.applyCurrencyDefaults()

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
	v.SetDefault("app.name", "funding-bot")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("exchange.base_url", "https://api.bitfinex.com")
	v.SetDefault("exchange.public_base_url", "https://api-pub.bitfinex.com")
	v.SetDefault("exchange.request_timeout", "10s")

	v.SetDefault("scheduler.cycle_interval", "5s")
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.warmup_samples", 20)

	v.SetDefault("tracker.window_size", 15)
	v.SetDefault("tracker.short_timeframe", "5m")
	v.SetDefault("tracker.long_timeframe", "30m")
	v.SetDefault("tracker.discount_factor", 0.985)

	v.SetDefault("lifecycle.offer_timeout", "1h")

	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.api_base", "https://api.telegram.org")
	v.SetDefault("telegram.queue_limit", 100)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen_addr", ":9102")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.event_retention", "720h")
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

func (c *Config) applyCurrencyDefaults() {
	for symbol, cc := range c.Currencies {
		if cc.MinOrderAmount == 0 {
			cc.MinOrderAmount = knownMinimums[symbol]
		}
		if cc.InitialBalance == 0 {
			cc.InitialBalance = knownBalances[symbol]
		}
		c.Currencies[symbol] = cc
	}
}

// Validate performs the fail-fast startup checks. Any error here must abort
// the process before the control loop starts.
func (c *Config) Validate() error {
	if c.Exchange.APIKey == "" {
		return fmt.Errorf("exchange.api_key is required")
	}
	if c.Exchange.APISecret == "" {
		return fmt.Errorf("exchange.api_secret is required")
	}
	if len(c.Currencies) == 0 {
		return fmt.Errorf("at least one entry under currencies is required")
	}
	for symbol, cc := range c.Currencies {
		if !strings.HasPrefix(symbol, "f") {
			return fmt.Errorf("currencies.%s: funding symbols start with 'f'", symbol)
		}
		if cc.MinOrderAmount <= 0 {
			return fmt.Errorf("currencies.%s.min_order_amount must be greater than zero", symbol)
		}
		if cc.MinAnnualRate <= 0 {
			return fmt.Errorf("currencies.%s.min_annual_rate must be greater than zero", symbol)
		}
		if cc.MaxLendingAmount < 0 {
			return fmt.Errorf("currencies.%s.max_lending_amount cannot be negative", symbol)
		}
		if cc.StartDate != "" {
			if _, err := time.Parse(startDateLayout, cc.StartDate); err != nil {
				return fmt.Errorf("currencies.%s.start_date: expected YYYY-MM-DD: %w", symbol, err)
			}
		}
	}
	if c.Scheduler.CycleInterval <= 0 {
		return fmt.Errorf("scheduler.cycle_interval must be greater than zero")
	}
	if c.Tracker.WindowSize <= 0 {
		return fmt.Errorf("tracker.window_size must be greater than zero")
	}
	if c.Tracker.DiscountFactor < 0.98 || c.Tracker.DiscountFactor > 0.99 {
		return fmt.Errorf("tracker.discount_factor must lie within [0.98, 0.99]")
	}
	if c.Lifecycle.OfferTimeout <= 0 {
		return fmt.Errorf("lifecycle.offer_timeout must be greater than zero")
	}
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token 必须配置")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id 必须配置")
		}
	}
	return nil
}
