package engine

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/irfndi/neuratrade-intraday/internal/config"
	"github.com/irfndi/neuratrade-intraday/internal/strategy"
	"github.com/irfndi/neuratrade-intraday/pkg/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunOnce_AssistedModeOnlyRecords(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.sched.RunOnce(ctx))

	assert.Empty(t, h.broker.PlacedOrders())
	scans := decisionsOf(h.sched.Decisions(0), DecisionScan)
	require.Len(t, scans, 1)
	assert.Equal(t, "scan_only", scans[0].Status)
	assert.Equal(t, "Scanned 2 symbols: 2 passed filters, 2 candidates", scans[0].Message)

	analyzed := h.sched.State().Analyzed()
	require.Len(t, analyzed, 2)
	assert.Equal(t, "AAPL", analyzed[0].Symbol)
	assert.Equal(t, strategy.ActionBuy, analyzed[0].Action)
	assert.Equal(t, 2, analyzed[0].AgreeingCount)
	assert.InDelta(t, 0.7, analyzed[0].Confidence, 1e-9)

	perf := h.sched.State().Performance()
	assert.Equal(t, int64(2), perf["alpha"].Signals)
	assert.Equal(t, int64(2), perf["alpha"].Agreements)
	assert.Equal(t, int64(0), perf["gamma"].Agreements)
	assert.Equal(t, PhaseIdle, h.sched.State().Phase())
}

func TestRunOnce_FullAutoExecutesRankedCandidates(t *testing.T) {
	h := newHarness(t)
	h.setMode(t, ModeFullAuto)

	require.NoError(t, h.sched.RunOnce(context.Background()))

	orders := h.broker.PlacedOrders()
	require.Len(t, orders, 2)
	for _, o := range orders {
		assert.Equal(t, interfaces.OrderSideBuy, o.Side)
		assert.Equal(t, int64(100), o.Quantity)
	}
	assert.ElementsMatch(t, []string{"AAPL", "MSFT"}, h.plans.Symbols())

	trades := decisionsOf(h.sched.Decisions(0), DecisionTrade)
	require.Len(t, trades, 2)
	for _, d := range trades {
		assert.Equal(t, "submitted", d.Status)
	}
	assert.Equal(t, int64(2), h.sched.State().Performance()["alpha"].Trades)
}

func TestRunOnce_MaxPositionsLimitsCandidates(t *testing.T) {
	h := newHarness(t)
	h.setMode(t, ModeGodMode)
	_, err := h.sched.UpdateConfig(ConfigUpdate{MaxPositions: ptr(1)})
	require.NoError(t, err)

	require.NoError(t, h.sched.RunOnce(context.Background()))

	orders := h.broker.PlacedOrders()
	require.Len(t, orders, 1)
	assert.Equal(t, "AAPL", orders[0].Symbol)
}

func TestRunOnce_NoOrdersOutsideMarketHours(t *testing.T) {
	h := newHarness(t)
	h.setMode(t, ModeFullAuto)
	saturday := time.Date(2024, 3, 9, 15, 0, 0, 0, time.UTC)
	h.sched.SetClock(func() time.Time { return saturday })

	require.NoError(t, h.sched.RunOnce(context.Background()))

	assert.Empty(t, h.broker.PlacedOrders())
	scans := decisionsOf(h.sched.Decisions(0), DecisionScan)
	require.Len(t, scans, 1)
	assert.Equal(t, "scan_only", scans[0].Status)
	assert.Equal(t, 4*time.Minute, h.sched.scanInterval(), "off-hours interval is stretched")
}

func TestRunOnce_SkipsSymbolsThatFailToLoad(t *testing.T) {
	h := newHarness(t)
	h.md.SymbolErrs["MSFT"] = errors.New("vendor timeout")

	require.NoError(t, h.sched.RunOnce(context.Background()))

	results, summary := h.sched.State().ScannerResults()
	require.Len(t, results, 1)
	assert.Equal(t, "AAPL", results[0].Symbol)
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 1, summary.NoData)
	assert.Len(t, h.sched.State().Analyzed(), 1)
}

func TestRunOnce_UniverseFailureIsTransient(t *testing.T) {
	h := newHarness(t)
	h.md.SetRateLimited(true)

	err := h.sched.RunOnce(context.Background())
	assert.ErrorIs(t, err, ErrTransientData)
}

func TestRunOnce_PanickingEvaluatorIsContained(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.sched.deps.Aggregator.Registry().Register(stubEvaluator{name: "delta", panics: true}))

	require.NoError(t, h.sched.RunOnce(context.Background()))
	assert.Len(t, h.sched.State().Analyzed(), 2)
	assert.Positive(t, h.logs.FilterMessage("Evaluator panicked").Len())
}

func TestStartStop(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, h.sched.Start(ctx))
	assert.True(t, h.sched.Running())
	assert.ErrorIs(t, h.sched.Start(ctx), ErrAlreadyRunning)

	// loops survive the caller's context
	cancel()
	require.Eventually(t, func() bool {
		return len(decisionsOf(h.sched.Decisions(0), DecisionScan)) > 0
	}, 2*time.Second, 10*time.Millisecond)

	snap, err := h.store.Load()
	require.NoError(t, err)
	assert.True(t, snap.Config.Enabled)

	h.sched.Stop()
	h.sched.Stop()
	waitCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
	defer done()
	require.NoError(t, h.sched.Wait(waitCtx))

	assert.False(t, h.sched.Running())
	assert.Equal(t, PhaseIdle, h.sched.State().Phase())
	snap, err = h.store.Load()
	require.NoError(t, err)
	assert.False(t, snap.Config.Enabled)

	system := decisionsOf(h.sched.Decisions(0), DecisionSystem)
	require.NotEmpty(t, system)
	assert.Equal(t, "Engine stopped", system[0].Message)

	// restart after a stop
	require.NoError(t, h.sched.Start(context.Background()))
	h.sched.Stop()
	require.NoError(t, h.sched.Wait(waitCtx))
}

func TestShutdown_KeepsEnabledForNextProcess(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.sched.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.sched.Shutdown(ctx))
	assert.False(t, h.sched.Running())

	snap, err := h.store.Load()
	require.NoError(t, err)
	assert.True(t, snap.Config.Enabled)

	system := decisionsOf(h.sched.Decisions(0), DecisionSystem)
	require.NotEmpty(t, system)
	assert.Equal(t, "Engine shutting down", system[0].Message)

	// already stopped: nothing to persist
	require.NoError(t, h.sched.Shutdown(ctx))
}

func TestSupervise_RecoversFromPanicAndBacksOff(t *testing.T) {
	h := newHarness(t)
	stopCh := make(chan struct{})
	var calls atomic.Int32

	task := &loopTask{
		name:     "test_loop",
		interval: func() time.Duration { return time.Hour },
		handler: func(context.Context) error {
			switch calls.Add(1) {
			case 1:
				panic("boom")
			case 2:
				return errors.New("broker said no")
			default:
				close(stopCh)
				return nil
			}
		},
	}

	h.sched.wg.Add(1)
	go h.sched.supervise(context.Background(), stopCh, task)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.sched.Wait(ctx))

	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, 0, task.errorCount)
	errs := decisionsOf(h.sched.Decisions(0), DecisionError)
	require.Len(t, errs, 2)
	assert.Contains(t, errs[0].Message, "broker said no")
	assert.Contains(t, errs[1].Message, "panic in test_loop: boom")
}

func TestUpdateConfig(t *testing.T) {
	h := newHarness(t)

	_, err := h.sched.UpdateConfig(ConfigUpdate{
		Mode:              ptr("BOGUS"),
		EnabledStrategies: ptr([]string{"alpha", "nope"}),
	})
	var cfgErr *config.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Len(t, cfgErr.Problems, 2)
	assert.Equal(t, ModeAssisted, h.sched.Config().Mode, "rejected update changes nothing")

	cfg, err := h.sched.UpdateConfig(ConfigUpdate{
		RiskPosture:         ptr("DEFENSIVE"),
		ScanIntervalSeconds: ptr(15),
		EnabledStrategies:   ptr([]string{"beta", "alpha"}),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta"}, cfg.EnabledStrategies)
	assert.Equal(t, 15*time.Second, h.sched.scanInterval())

	snap, err := h.store.Load()
	require.NoError(t, err)
	assert.Equal(t, cfg, snap.Config)

	// only enabled evaluators vote
	require.NoError(t, h.sched.RunOnce(context.Background()))
	perf := h.sched.State().Performance()
	assert.Zero(t, perf["gamma"].Signals)
}

func TestNew_RecoversFromCorruptStateFile(t *testing.T) {
	var path string
	h := newHarness(t, func(d *Dependencies, _ *Settings) {
		path = d.Store.Path()
		require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o644))
	})

	assert.Equal(t, DefaultConfig().Mode, h.sched.Config().Mode)
	system := decisionsOf(h.sched.Decisions(0), DecisionSystem)
	require.Len(t, system, 1)
	assert.Equal(t, "recovered", system[0].Status)
	assert.True(t, strings.HasPrefix(system[0].Message, "Engine state file unreadable"))
}

func TestNew_LoadsPersistedConfig(t *testing.T) {
	h := newHarness(t, func(d *Dependencies, _ *Settings) {
		cfg := DefaultConfig()
		cfg.Mode = ModeSemiAuto
		cfg.EnabledStrategies = []string{"alpha", "retired"}
		require.NoError(t, d.Store.Save(Snapshot{
			Config:      cfg,
			Performance: map[string]StrategyStats{"alpha": {Wins: 3}},
		}))
	})

	cfg := h.sched.Config()
	assert.Equal(t, ModeSemiAuto, cfg.Mode)
	assert.Equal(t, []string{"alpha"}, cfg.EnabledStrategies, "unknown strategies are dropped")
	assert.Equal(t, int64(3), h.sched.State().Performance()["alpha"].Wins)
}

func TestStatus(t *testing.T) {
	h := newHarness(t)
	h.setMode(t, ModeFullAuto)
	require.NoError(t, h.sched.RunOnce(context.Background()))

	st := h.sched.Status(context.Background())
	assert.False(t, st.Running)
	assert.Equal(t, ModeFullAuto, st.Mode)
	assert.True(t, st.MarketOpen)
	assert.True(t, st.BrokerConnected)
	require.NotNil(t, st.LastScan)
	assert.Len(t, st.ScannerResults, 2)
	assert.Len(t, st.AnalyzedOpportunities, 2)
	assert.Equal(t, []string{"alpha", "beta", "gamma"}, st.ActiveStrategies)
	require.Len(t, st.ActivePositions, 2)
	assert.NotNil(t, st.ActivePositions[0].ScalePlan)
	assert.Equal(t, 60, st.ScanIntervalSeconds)
	assert.Empty(t, st.InFlightOrders)

	h.broker.SetConnected(false)
	st = h.sched.Status(context.Background())
	assert.False(t, st.BrokerConnected)
	assert.Empty(t, st.ActivePositions)
}
