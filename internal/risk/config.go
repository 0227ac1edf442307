package risk

import (
	"time"

	"github.com/irfndi/neuratrade-intraday/internal/config"
	"github.com/shopspring/decimal"
)

// Config holds the account and order limits enforced by the Gate.
type Config struct {
	MaxPositionSizePercent decimal.Decimal `json:"max_position_size_percent"`
	MaxDailyLoss           decimal.Decimal `json:"max_daily_loss"`
	MaxConcurrentPositions int             `json:"max_concurrent_positions"`
	RiskPerTradePercent    decimal.Decimal `json:"risk_per_trade_percent"`
	MaxTradesPerDay        int             `json:"max_trades_per_day"`
	MaxConsecutiveLosses   int             `json:"max_consecutive_losses"`
	MaxSpreadPercent       decimal.Decimal `json:"max_spread_percent"`
	// WarningThresholdPercent is the share of a limit at which a passing
	// check starts emitting warnings.
	WarningThresholdPercent decimal.Decimal `json:"warning_threshold_percent"`
}

// DefaultConfig returns conservative defaults.
func DefaultConfig() Config {
	return Config{
		MaxPositionSizePercent:  decimal.NewFromInt(10),
		MaxDailyLoss:            decimal.NewFromInt(500),
		MaxConcurrentPositions:  5,
		RiskPerTradePercent:     decimal.NewFromInt(1),
		MaxTradesPerDay:         10,
		MaxConsecutiveLosses:    3,
		MaxSpreadPercent:        decimal.NewFromFloat(0.5),
		WarningThresholdPercent: decimal.NewFromInt(80),
	}
}

// ConfigFromSettings converts loaded settings.
func ConfigFromSettings(s config.RiskConfig) Config {
	return Config{
		MaxPositionSizePercent:  decimal.NewFromFloat(s.MaxPositionSizePercent),
		MaxDailyLoss:            decimal.NewFromFloat(s.MaxDailyLoss),
		MaxConcurrentPositions:  s.MaxConcurrentPositions,
		RiskPerTradePercent:     decimal.NewFromFloat(s.RiskPerTradePercent),
		MaxTradesPerDay:         s.MaxTradesPerDay,
		MaxConsecutiveLosses:    s.MaxConsecutiveLosses,
		MaxSpreadPercent:        decimal.NewFromFloat(s.MaxSpreadPercent),
		WarningThresholdPercent: decimal.NewFromFloat(s.WarningThresholdPercent),
	}
}

// DisciplineConfig holds the per-day behavioural limits.
type DisciplineConfig struct {
	MaxDailyLoss         decimal.Decimal
	MaxConsecutiveLosses int
	MaxDailyWinners      int
	MaxTradesPerDay      int
	BaseCooldown         time.Duration
	// ProfitProtectionThreshold is the daily peak P&L above which drawdown
	// from the peak is watched.
	ProfitProtectionThreshold decimal.Decimal
	MaxDrawdownPercent        decimal.Decimal
	Location                  *time.Location
}

// DefaultDisciplineConfig returns the default discipline limits in New York time.
func DefaultDisciplineConfig() DisciplineConfig {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		loc = time.UTC
	}
	return DisciplineConfig{
		MaxDailyLoss:              decimal.NewFromInt(500),
		MaxConsecutiveLosses:      3,
		MaxDailyWinners:           5,
		MaxTradesPerDay:           10,
		BaseCooldown:              5 * time.Minute,
		ProfitProtectionThreshold: decimal.NewFromInt(200),
		MaxDrawdownPercent:        decimal.NewFromInt(50),
		Location:                  loc,
	}
}

// DisciplineConfigFromSettings combines the risk and discipline settings.
func DisciplineConfigFromSettings(r config.RiskConfig, d config.DisciplineConfig, loc *time.Location) DisciplineConfig {
	if loc == nil {
		loc = time.UTC
	}
	return DisciplineConfig{
		MaxDailyLoss:              decimal.NewFromFloat(r.MaxDailyLoss),
		MaxConsecutiveLosses:      r.MaxConsecutiveLosses,
		MaxDailyWinners:           d.MaxDailyWinners,
		MaxTradesPerDay:           r.MaxTradesPerDay,
		BaseCooldown:              time.Duration(d.BaseCooldownMinutes) * time.Minute,
		ProfitProtectionThreshold: decimal.NewFromFloat(d.ProfitProtectionThreshold),
		MaxDrawdownPercent:        decimal.NewFromFloat(d.MaxDrawdownPercent),
		Location:                  loc,
	}
}
