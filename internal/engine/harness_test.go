package engine

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/irfndi/neuratrade-intraday/internal/marketdata"
	"github.com/irfndi/neuratrade-intraday/internal/position"
	"github.com/irfndi/neuratrade-intraday/internal/ratelimit"
	"github.com/irfndi/neuratrade-intraday/internal/risk"
	"github.com/irfndi/neuratrade-intraday/internal/scanner"
	"github.com/irfndi/neuratrade-intraday/internal/strategy"
	"github.com/irfndi/neuratrade-intraday/internal/testutil"
	"github.com/irfndi/neuratrade-intraday/pkg/interfaces"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// testNow is a Tuesday, 10:00 in New York.
var testNow = time.Date(2024, 3, 5, 15, 0, 0, 0, time.UTC)

type stubEvaluator struct {
	name       string
	action     strategy.Action
	confidence float64
	panics     bool
}

func (s stubEvaluator) Name() string { return s.name }

func (s stubEvaluator) Evaluate(string, []interfaces.Bar) *strategy.Signal {
	if s.panics {
		panic("evaluator exploded")
	}
	if s.action == "" {
		return nil
	}
	return &strategy.Signal{Action: s.action, Confidence: s.confidence, Reason: "stub " + s.name}
}

type harness struct {
	sched  *Scheduler
	md     *testutil.FakeMarketData
	broker *testutil.FakeBroker
	store  *ConfigStore
	disc   *risk.Discipline
	plans  *position.Manager
	logs   *observer.ObservedLogs
}

func newHarness(t *testing.T, mutate ...func(*Dependencies, *Settings)) *harness {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)

	md := testutil.NewFakeMarketData()
	md.Universe = []string{"AAPL", "MSFT"}
	from := testNow.Add(-5 * time.Hour)
	for _, sym := range md.Universe {
		md.SetBars(sym, testutil.LinearBars(60, 94, 0.1, 200000, from, 5*time.Minute))
		md.SetSnapshot(&interfaces.Snapshot{Symbol: sym, Price: 100, Bid: 99.99, Ask: 100.01})
	}
	broker := testutil.NewFakeBroker()

	registry := strategy.NewRegistry()
	require.NoError(t, registry.Register(stubEvaluator{name: "alpha", action: strategy.ActionBuy, confidence: 0.8}))
	require.NoError(t, registry.Register(stubEvaluator{name: "beta", action: strategy.ActionBuy, confidence: 0.6}))
	require.NoError(t, registry.Register(stubEvaluator{name: "gamma", action: strategy.ActionSell, confidence: 0.5}))

	limiter := ratelimit.NewLimiter(ratelimit.Config{
		MinInterval: time.Millisecond,
		BackoffBase: time.Second,
		BackoffMax:  time.Minute,
	}, logger)

	dcfg := risk.DefaultDisciplineConfig()
	dcfg.Location = time.UTC
	disc := risk.NewDiscipline(dcfg, risk.NewMemoryStateStore(), logger)
	disc.SetClock(func() time.Time { return testNow })

	plans := position.NewManager(position.DefaultLadderConfig(), decimal.NewFromFloat(1.5), position.NewMemoryPlanStore(), logger)
	store := NewConfigStore(filepath.Join(t.TempDir(), "engine_state.json"), DefaultConfig(), logger)

	deps := Dependencies{
		MarketData: marketdata.NewGateway(md, limiter, 4, logger),
		Broker:     broker,
		Aggregator: strategy.NewAggregator(registry, logger),
		Scanner: scanner.NewScanner(scanner.Config{
			MinPrice:  1,
			MaxPrice:  1000,
			ATRPeriod: 14,
		}, time.UTC),
		Gate:       risk.NewGate(risk.DefaultConfig(), broker, logger),
		Discipline: disc,
		Positions:  plans,
		Store:      store,
	}
	settings := DefaultSettings()
	settings.ErrorBackoff = 10 * time.Millisecond
	settings.MonitorInterval = 10 * time.Millisecond
	settings.KeepaliveInterval = 10 * time.Millisecond
	settings.BrokerTimeout = 200 * time.Millisecond
	settings.Keepalive.RetryDelay = time.Millisecond
	for _, m := range mutate {
		m(&deps, &settings)
	}

	sched, err := New(deps, settings, logger)
	require.NoError(t, err)
	sched.SetClock(func() time.Time { return testNow })

	return &harness{
		sched:  sched,
		md:     md,
		broker: broker,
		store:  store,
		disc:   disc,
		plans:  plans,
		logs:   logs,
	}
}

func (h *harness) setMode(t *testing.T, m Mode) {
	t.Helper()
	mode := string(m)
	_, err := h.sched.UpdateConfig(ConfigUpdate{Mode: &mode})
	require.NoError(t, err)
}

func decisionsOf(ds []Decision, typ DecisionType) []Decision {
	var out []Decision
	for _, d := range ds {
		if d.Type == typ {
			out = append(out, d)
		}
	}
	return out
}

func buyDecision(symbol string) *strategy.AggregatedDecision {
	return &strategy.AggregatedDecision{
		Symbol:        symbol,
		Action:        strategy.ActionBuy,
		Confidence:    0.7,
		AgreeingCount: 2,
		Strategies:    []string{"alpha", "beta"},
		Price:         100,
	}
}
