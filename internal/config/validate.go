package config

import (
	"fmt"
	"strings"
	"time"
)

// ConfigurationError lists every invalid field found during validation.
type ConfigurationError struct {
	Problems []string
}

func (e *ConfigurationError) Error() string {
	return "invalid configuration: " + strings.Join(e.Problems, "; ")
}

var (
	validModes    = []string{"ASSISTED", "SEMI_AUTO", "FULL_AUTO", "GOD_MODE"}
	validPostures = []string{"DEFENSIVE", "BALANCED", "AGGRESSIVE"}
	validFeeds    = []string{"iex", "sip"}
)

// Validate checks the configuration once at startup.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		add("server.port must be between 1 and 65535")
	}
	if c.Server.ControlRequestsPerMinute < 1 {
		add("server.control_requests_per_minute must be at least 1")
	}
	if c.Redis.Enabled && strings.TrimSpace(c.Redis.Host) == "" {
		add("redis.host is required when redis is enabled")
	}

	if !contains(validModes, strings.ToUpper(c.Engine.Mode)) {
		add("engine.mode must be one of %s", strings.Join(validModes, ", "))
	}
	if !contains(validPostures, strings.ToUpper(c.Engine.RiskPosture)) {
		add("engine.risk_posture must be one of %s", strings.Join(validPostures, ", "))
	}
	if c.Engine.ScanIntervalSeconds < 5 {
		add("engine.scan_interval_seconds must be at least 5")
	}
	if c.Engine.OffHoursMultiplier < 1 {
		add("engine.off_hours_multiplier must be at least 1")
	}
	if c.Engine.MaxPositions < 1 || c.Engine.MaxPositions > 50 {
		add("engine.max_positions must be between 1 and 50")
	}
	if c.Engine.FetchConcurrency < 1 {
		add("engine.fetch_concurrency must be at least 1")
	}
	if c.Engine.KeepaliveIntervalSeconds < 1 || c.Engine.MonitorIntervalSeconds < 1 {
		add("engine keepalive and monitor intervals must be positive")
	}
	if c.Engine.BrokerTimeoutSeconds < 1 {
		add("engine.broker_timeout_seconds must be positive")
	}
	if _, err := time.LoadLocation(c.Engine.Timezone); err != nil {
		add("engine.timezone %q is not a valid location", c.Engine.Timezone)
	}
	if strings.TrimSpace(c.Engine.StateFile) == "" {
		add("engine.state_file is required")
	}

	if c.Risk.MaxPositionSizePercent <= 0 || c.Risk.MaxPositionSizePercent > 100 {
		add("risk.max_position_size_percent must be in (0, 100]")
	}
	if c.Risk.MaxDailyLoss <= 0 {
		add("risk.max_daily_loss must be positive")
	}
	if c.Risk.MaxConcurrentPositions < 1 {
		add("risk.max_concurrent_positions must be at least 1")
	}
	if c.Risk.RiskPerTradePercent <= 0 || c.Risk.RiskPerTradePercent > 100 {
		add("risk.risk_per_trade_percent must be in (0, 100]")
	}
	if c.Risk.MaxTradesPerDay < 1 || c.Risk.MaxConsecutiveLosses < 1 {
		add("risk.max_trades_per_day and risk.max_consecutive_losses must be at least 1")
	}
	if c.Risk.WarningThresholdPercent <= 0 || c.Risk.WarningThresholdPercent >= 100 {
		add("risk.warning_threshold_percent must be in (0, 100)")
	}

	if c.Discipline.BaseCooldownMinutes < 0 {
		add("discipline.base_cooldown_minutes must not be negative")
	}
	if c.Discipline.MaxDailyWinners < 1 {
		add("discipline.max_daily_winners must be at least 1")
	}
	if c.Discipline.MaxDrawdownPercent <= 0 || c.Discipline.MaxDrawdownPercent > 100 {
		add("discipline.max_drawdown_percent must be in (0, 100]")
	}

	if c.Position.StopMultiplier <= 0 || c.Position.TrailMultiplier <= 0 || c.Position.RewardRatio <= 0 {
		add("position multipliers must be positive")
	}
	if len(c.Position.LadderRMultiple) == 0 || len(c.Position.LadderRMultiple) != len(c.Position.LadderFractions) {
		add("position.ladder_r_multiples and position.ladder_fractions must be non-empty and the same length")
	} else {
		sum := 0.0
		for i, f := range c.Position.LadderFractions {
			if f <= 0 {
				add("position.ladder_fractions[%d] must be positive", i)
			}
			sum += f
		}
		if sum > 1.0001 {
			add("position.ladder_fractions must not sum above 1")
		}
		for i := 1; i < len(c.Position.LadderRMultiple); i++ {
			if c.Position.LadderRMultiple[i] <= c.Position.LadderRMultiple[i-1] {
				add("position.ladder_r_multiples must be strictly ascending")
				break
			}
		}
	}
	if c.Position.ATRPeriod < 2 {
		add("position.atr_period must be at least 2")
	}

	if c.Scanner.MinPrice < 0 || c.Scanner.MaxPrice <= c.Scanner.MinPrice {
		add("scanner price band is invalid")
	}

	if c.RateLimit.MinIntervalMs < 0 || c.RateLimit.BackoffBaseMs <= 0 || c.RateLimit.BackoffMaxMs < c.RateLimit.BackoffBaseMs {
		add("rate_limit settings are invalid")
	}

	if len(c.Broker.Watchlist) == 0 {
		add("broker.watchlist must list at least one symbol")
	}
	if !contains(validFeeds, strings.ToLower(c.Broker.DataFeed)) {
		add("broker.data_feed must be one of %s", strings.Join(validFeeds, ", "))
	}
	if c.Broker.ProbeTTLSeconds < 1 {
		add("broker.probe_ttl_seconds must be positive")
	}

	if len(problems) > 0 {
		return &ConfigurationError{Problems: problems}
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// Seconds converts a whole-second setting to a duration.
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
