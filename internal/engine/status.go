package engine

import (
	"context"
	"time"

	"github.com/irfndi/neuratrade-intraday/internal/marketdata"
	"github.com/irfndi/neuratrade-intraday/internal/position"
	"github.com/irfndi/neuratrade-intraday/internal/ratelimit"
	"github.com/irfndi/neuratrade-intraday/internal/risk"
	"github.com/irfndi/neuratrade-intraday/internal/scanner"
	"github.com/irfndi/neuratrade-intraday/internal/strategy"
	"github.com/irfndi/neuratrade-intraday/pkg/interfaces"
	"go.uber.org/zap"
)

const statusDecisionLimit = 20

// ActivePosition is a broker position with its scale plan, if any.
type ActivePosition struct {
	interfaces.BrokerPosition
	ScalePlan *position.PersistedPlan `json:"scale_plan,omitempty"`
}

// Status is a point-in-time view of the engine for dashboards.
type Status struct {
	Running               bool                          `json:"running"`
	Phase                 Phase                         `json:"phase"`
	Mode                  Mode                          `json:"mode"`
	RiskPosture           position.RiskPosture          `json:"risk_posture"`
	ScanIntervalSeconds   int                           `json:"scan_interval_seconds"`
	MaxPositions          int                           `json:"max_positions"`
	MarketOpen            bool                          `json:"market_open"`
	BrokerConnected       bool                          `json:"broker_connected"`
	LastScan              *time.Time                    `json:"last_scan"`
	ActivePositions       []ActivePosition              `json:"active_positions"`
	Decisions             []Decision                    `json:"decisions"`
	StrategyPerformance   map[string]StrategyStats      `json:"strategy_performance"`
	ScannerResults        []scanner.Opportunity         `json:"scanner_results"`
	AnalyzedOpportunities []strategy.AggregatedDecision `json:"analyzed_opportunities"`
	FilterSummary         scanner.Summary               `json:"filter_summary"`
	ActiveStrategies      []string                      `json:"active_strategies"`
	Discipline            risk.TradingState             `json:"discipline"`
	RiskMetrics           risk.GateMetrics              `json:"risk_metrics"`
	RateLimiter           ratelimit.Status              `json:"rate_limiter"`
	MarketDataCache       marketdata.CacheStats         `json:"market_data_cache"`
	Keepalive             KeepaliveMetrics              `json:"keepalive"`
	InFlightOrders        []string                      `json:"in_flight_orders"`
}

// Status assembles the current snapshot. Broker failures leave the position
// list empty rather than failing the call.
func (s *Scheduler) Status(ctx context.Context) Status {
	cfg := s.Config()
	opps, summary := s.state.ScannerResults()

	st := Status{
		Running:               s.Running(),
		Phase:                 s.state.Phase(),
		Mode:                  cfg.Mode,
		RiskPosture:           cfg.RiskPosture,
		ScanIntervalSeconds:   int(cfg.ScanInterval / time.Second),
		MaxPositions:          cfg.MaxPositions,
		MarketOpen:            s.settings.Hours.IsOpen(s.clock()),
		Decisions:             s.state.Decisions(statusDecisionLimit),
		StrategyPerformance:   s.state.Performance(),
		ScannerResults:        opps,
		AnalyzedOpportunities: s.state.Analyzed(),
		FilterSummary:         summary,
		ActiveStrategies:      s.activeStrategies(cfg),
		Discipline:            s.deps.Discipline.State(ctx),
		RiskMetrics:           s.deps.Gate.Metrics(),
		MarketDataCache:       s.deps.MarketData.Stats(),
		Keepalive:             s.keepalive.Metrics(),
		InFlightOrders:        s.state.InFlight(),
		ActivePositions:       []ActivePosition{},
	}
	if limiter := s.deps.MarketData.Limiter(); limiter != nil {
		st.RateLimiter = limiter.Status()
	}
	if last := s.state.LastScan(); !last.IsZero() {
		st.LastScan = &last
	}

	bctx, cancel := context.WithTimeout(ctx, s.settings.BrokerTimeout)
	defer cancel()
	st.BrokerConnected = s.deps.Broker.IsConnected(bctx)
	if st.BrokerConnected {
		held, err := s.deps.Broker.GetPositions(bctx)
		if err != nil {
			s.logger.Warn("Failed to load positions for status", zap.Error(err))
		}
		for _, p := range held {
			ap := ActivePosition{BrokerPosition: p}
			if plan, ok := s.deps.Positions.Get(p.Symbol); ok {
				ap.ScalePlan = &plan
			}
			st.ActivePositions = append(st.ActivePositions, ap)
		}
	}
	return st
}

func (s *Scheduler) activeStrategies(cfg Config) []string {
	evaluators := s.deps.Aggregator.Registry().Select(cfg.EnabledStrategies)
	names := make([]string, 0, len(evaluators))
	for _, e := range evaluators {
		names = append(names, e.Name())
	}
	return names
}

// Decisions returns the newest entries of the decision log.
func (s *Scheduler) Decisions(limit int) []Decision {
	return s.state.Decisions(limit)
}
