package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the complete process configuration.
type Config struct {
	Environment string           `mapstructure:"environment"`
	LogLevel    string           `mapstructure:"log_level"`
	Server      ServerConfig     `mapstructure:"server"`
	Redis       RedisConfig      `mapstructure:"redis"`
	Sentry      SentryConfig     `mapstructure:"sentry"`
	Engine      EngineConfig     `mapstructure:"engine"`
	Risk        RiskConfig       `mapstructure:"risk"`
	Discipline  DisciplineConfig `mapstructure:"discipline"`
	Position    PositionConfig   `mapstructure:"position"`
	Scanner     ScannerConfig    `mapstructure:"scanner"`
	RateLimit   RateLimitConfig  `mapstructure:"rate_limit"`
	Broker      BrokerConfig     `mapstructure:"broker"`
}

type ServerConfig struct {
	Port                   int `mapstructure:"port"`
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`

	// Per-client budget for the mutating control endpoints.
	ControlRequestsPerMinute int `mapstructure:"control_requests_per_minute"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns host:port.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type SentryConfig struct {
	DSN              string  `mapstructure:"dsn"`
	Environment      string  `mapstructure:"environment"`
	TracesSampleRate float64 `mapstructure:"traces_sample_rate"`
}

// EngineConfig holds the scheduler defaults. The runtime copy lives in the
// engine state file and may diverge after update_config calls.
type EngineConfig struct {
	StateFile                string   `mapstructure:"state_file"`
	Mode                     string   `mapstructure:"mode"`
	RiskPosture              string   `mapstructure:"risk_posture"`
	ScanIntervalSeconds      int      `mapstructure:"scan_interval_seconds"`
	OffHoursMultiplier       int      `mapstructure:"off_hours_multiplier"`
	MaxPositions             int      `mapstructure:"max_positions"`
	EnabledStrategies        []string `mapstructure:"enabled_strategies"`
	KeepaliveIntervalSeconds int      `mapstructure:"keepalive_interval_seconds"`
	MonitorIntervalSeconds   int      `mapstructure:"monitor_interval_seconds"`
	ErrorBackoffSeconds      int      `mapstructure:"error_backoff_seconds"`
	BrokerTimeoutSeconds     int      `mapstructure:"broker_timeout_seconds"`
	FetchConcurrency         int      `mapstructure:"fetch_concurrency"`
	BarDuration              string   `mapstructure:"bar_duration"`
	BarSize                  string   `mapstructure:"bar_size"`
	Timezone                 string   `mapstructure:"timezone"`
}

// Location resolves Timezone, falling back to UTC when it cannot be loaded.
func (e EngineConfig) Location() *time.Location {
	loc, err := time.LoadLocation(e.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

type RiskConfig struct {
	MaxPositionSizePercent  float64 `mapstructure:"max_position_size_percent"`
	MaxDailyLoss            float64 `mapstructure:"max_daily_loss"`
	MaxConcurrentPositions  int     `mapstructure:"max_concurrent_positions"`
	RiskPerTradePercent     float64 `mapstructure:"risk_per_trade_percent"`
	MaxTradesPerDay         int     `mapstructure:"max_trades_per_day"`
	MaxConsecutiveLosses    int     `mapstructure:"max_consecutive_losses"`
	MaxSpreadPercent        float64 `mapstructure:"max_spread_percent"`
	WarningThresholdPercent float64 `mapstructure:"warning_threshold_percent"`
}

type DisciplineConfig struct {
	BaseCooldownMinutes       int     `mapstructure:"base_cooldown_minutes"`
	MaxDailyWinners           int     `mapstructure:"max_daily_winners"`
	ProfitProtectionThreshold float64 `mapstructure:"profit_protection_threshold"`
	MaxDrawdownPercent        float64 `mapstructure:"max_drawdown_percent"`
}

type PositionConfig struct {
	StopMultiplier  float64   `mapstructure:"stop_multiplier"`
	TrailMultiplier float64   `mapstructure:"trail_multiplier"`
	RewardRatio     float64   `mapstructure:"reward_ratio"`
	LadderRMultiple []float64 `mapstructure:"ladder_r_multiples"`
	LadderFractions []float64 `mapstructure:"ladder_fractions"`
	ATRPeriod       int       `mapstructure:"atr_period"`
}

type ScannerConfig struct {
	MinAvgVolume      float64 `mapstructure:"min_avg_volume"`
	MinPrice          float64 `mapstructure:"min_price"`
	MaxPrice          float64 `mapstructure:"max_price"`
	MinVolatility     float64 `mapstructure:"min_volatility"`
	MinRelativeVolume float64 `mapstructure:"min_relative_volume"`
}

type RateLimitConfig struct {
	MinIntervalMs int `mapstructure:"min_interval_ms"`
	BackoffBaseMs int `mapstructure:"backoff_base_ms"`
	BackoffMaxMs  int `mapstructure:"backoff_max_ms"`
}

// BrokerConfig selects the Alpaca account and data feed. Empty credentials
// fall back to the APCA_API_KEY_ID and APCA_API_SECRET_KEY variables read by
// the Alpaca SDK itself.
type BrokerConfig struct {
	APIKey          string   `mapstructure:"api_key"`
	APISecret       string   `mapstructure:"api_secret"`
	BaseURL         string   `mapstructure:"base_url"`
	DataURL         string   `mapstructure:"data_url"`
	DataFeed        string   `mapstructure:"data_feed"`
	Watchlist       []string `mapstructure:"watchlist"`
	ProbeTTLSeconds int      `mapstructure:"probe_ttl_seconds"`
}

// Load reads configuration from defaults, an optional config file and the
// environment, in increasing order of precedence. Nested keys map to
// environment variables with dots replaced by underscores (RISK_MAX_DAILY_LOSS).
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".intraday"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Comma-separated env values arrive as a single element.
	cfg.Engine.EnabledStrategies = splitList(cfg.Engine.EnabledStrategies)
	cfg.Broker.Watchlist = splitList(cfg.Broker.Watchlist)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout_seconds", 10)
	v.SetDefault("server.control_requests_per_minute", 30)

	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("sentry.dsn", "")
	v.SetDefault("sentry.environment", "")
	v.SetDefault("sentry.traces_sample_rate", 0.1)

	v.SetDefault("engine.state_file", "data/engine_state.json")
	v.SetDefault("engine.mode", "ASSISTED")
	v.SetDefault("engine.risk_posture", "BALANCED")
	v.SetDefault("engine.scan_interval_seconds", 60)
	v.SetDefault("engine.off_hours_multiplier", 4)
	v.SetDefault("engine.max_positions", 5)
	v.SetDefault("engine.enabled_strategies", []string{})
	v.SetDefault("engine.keepalive_interval_seconds", 30)
	v.SetDefault("engine.monitor_interval_seconds", 10)
	v.SetDefault("engine.error_backoff_seconds", 30)
	v.SetDefault("engine.broker_timeout_seconds", 10)
	v.SetDefault("engine.fetch_concurrency", 4)
	v.SetDefault("engine.bar_duration", "2 D")
	v.SetDefault("engine.bar_size", "5 mins")
	v.SetDefault("engine.timezone", "America/New_York")

	v.SetDefault("risk.max_position_size_percent", 10.0)
	v.SetDefault("risk.max_daily_loss", 500.0)
	v.SetDefault("risk.max_concurrent_positions", 5)
	v.SetDefault("risk.risk_per_trade_percent", 1.0)
	v.SetDefault("risk.max_trades_per_day", 10)
	v.SetDefault("risk.max_consecutive_losses", 3)
	v.SetDefault("risk.max_spread_percent", 0.5)
	v.SetDefault("risk.warning_threshold_percent", 80.0)

	v.SetDefault("discipline.base_cooldown_minutes", 5)
	v.SetDefault("discipline.max_daily_winners", 5)
	v.SetDefault("discipline.profit_protection_threshold", 200.0)
	v.SetDefault("discipline.max_drawdown_percent", 50.0)

	v.SetDefault("position.stop_multiplier", 2.0)
	v.SetDefault("position.trail_multiplier", 1.5)
	v.SetDefault("position.reward_ratio", 2.0)
	v.SetDefault("position.ladder_r_multiples", []float64{1, 2, 3})
	v.SetDefault("position.ladder_fractions", []float64{0.5, 0.25, 0.25})
	v.SetDefault("position.atr_period", 14)

	v.SetDefault("scanner.min_avg_volume", 100000.0)
	v.SetDefault("scanner.min_price", 5.0)
	v.SetDefault("scanner.max_price", 500.0)
	v.SetDefault("scanner.min_volatility", 0.5)
	v.SetDefault("scanner.min_relative_volume", 1.2)

	v.SetDefault("rate_limit.min_interval_ms", 50)
	v.SetDefault("rate_limit.backoff_base_ms", 1000)
	v.SetDefault("rate_limit.backoff_max_ms", 60000)

	v.SetDefault("broker.api_key", "")
	v.SetDefault("broker.api_secret", "")
	v.SetDefault("broker.base_url", "https://paper-api.alpaca.markets")
	v.SetDefault("broker.data_url", "")
	v.SetDefault("broker.data_feed", "iex")
	v.SetDefault("broker.watchlist", []string{"SPY", "QQQ", "AAPL", "MSFT", "NVDA", "AMD", "TSLA", "META", "AMZN", "GOOGL"})
	v.SetDefault("broker.probe_ttl_seconds", 10)
}

func splitList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
