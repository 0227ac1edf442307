// Package engine runs the intraday decision loop: scan, analyze, rank,
// execute, then manage open positions until they are flat.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/irfndi/neuratrade-intraday/internal/config"
	"github.com/irfndi/neuratrade-intraday/internal/marketdata"
	"github.com/irfndi/neuratrade-intraday/internal/observability"
	"github.com/irfndi/neuratrade-intraday/internal/position"
	"github.com/irfndi/neuratrade-intraday/internal/risk"
	"github.com/irfndi/neuratrade-intraday/internal/scanner"
	"github.com/irfndi/neuratrade-intraday/internal/strategy"
	"github.com/irfndi/neuratrade-intraday/pkg/interfaces"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Settings are the static knobs of the loops. They come from process
// configuration and do not change at runtime.
type Settings struct {
	// OffHoursMultiplier stretches the scan interval outside market hours.
	OffHoursMultiplier int
	// KeepaliveInterval is the spacing of broker session checks.
	KeepaliveInterval time.Duration
	// MonitorInterval is the spacing of open position checks.
	MonitorInterval time.Duration
	// ErrorBackoff is the pause after a loop iteration fails or panics.
	ErrorBackoff time.Duration
	// BrokerTimeout bounds every order submission.
	BrokerTimeout time.Duration
	// BarDuration and BarSize select the history fetched per symbol, in the
	// "2 D" / "5 mins" notation of the market data port.
	BarDuration string
	BarSize     string
	// ATRPeriod is the lookback of the ATR behind stops and thresholds.
	ATRPeriod int
	// ATRCacheTTL is how long a computed ATR is reused.
	ATRCacheTTL time.Duration
	// StopMultiplier is the stop distance in ATRs.
	StopMultiplier float64
	// RewardRatio sets the posture target as a multiple of the stop.
	RewardRatio float64
	// Hours is the session in which orders may be placed.
	Hours MarketHours
	// Keepalive tunes reconnect attempts.
	Keepalive KeepaliveConfig
	// alertAfter is how many consecutive failures of one loop are reported
	// to Sentry.
	alertAfter int
}

// DefaultSettings returns the loop settings used when nothing is configured.
func DefaultSettings() Settings {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		loc = time.UTC
	}
	return Settings{
		OffHoursMultiplier: 4,
		KeepaliveInterval:  30 * time.Second,
		MonitorInterval:    10 * time.Second,
		ErrorBackoff:       30 * time.Second,
		BrokerTimeout:      10 * time.Second,
		BarDuration:        "2 D",
		BarSize:            "5 mins",
		ATRPeriod:          14,
		ATRCacheTTL:        5 * time.Minute,
		StopMultiplier:     2,
		RewardRatio:        2,
		Hours:              DefaultMarketHours(loc),
		Keepalive:          DefaultKeepaliveConfig(),
		alertAfter:         3,
	}
}

// SettingsFromConfig overlays the positive values of loaded configuration on
// DefaultSettings.
func SettingsFromConfig(cfg *config.Config) Settings {
	s := DefaultSettings()
	e := cfg.Engine
	if e.OffHoursMultiplier > 0 {
		s.OffHoursMultiplier = e.OffHoursMultiplier
	}
	if e.KeepaliveIntervalSeconds > 0 {
		s.KeepaliveInterval = config.Seconds(e.KeepaliveIntervalSeconds)
	}
	if e.MonitorIntervalSeconds > 0 {
		s.MonitorInterval = config.Seconds(e.MonitorIntervalSeconds)
	}
	if e.ErrorBackoffSeconds > 0 {
		s.ErrorBackoff = config.Seconds(e.ErrorBackoffSeconds)
	}
	if e.BrokerTimeoutSeconds > 0 {
		s.BrokerTimeout = config.Seconds(e.BrokerTimeoutSeconds)
	}
	if e.BarDuration != "" {
		s.BarDuration = e.BarDuration
	}
	if e.BarSize != "" {
		s.BarSize = e.BarSize
	}
	if cfg.Position.ATRPeriod > 0 {
		s.ATRPeriod = cfg.Position.ATRPeriod
	}
	if cfg.Position.StopMultiplier > 0 {
		s.StopMultiplier = cfg.Position.StopMultiplier
	}
	if cfg.Position.RewardRatio > 0 {
		s.RewardRatio = cfg.Position.RewardRatio
	}
	s.Hours = DefaultMarketHours(e.Location())
	return s
}

// Dependencies are the collaborators the scheduler drives. Locker may be nil,
// in which case only the in-process order guard applies.
type Dependencies struct {
	MarketData *marketdata.Gateway
	Broker     interfaces.BrokerPort
	Aggregator *strategy.Aggregator
	Scanner    *scanner.Scanner
	Gate       *risk.Gate
	Discipline *risk.Discipline
	Positions  *position.Manager
	Store      *ConfigStore
	Locker     OrderLocker
}

// loopTask is one supervised background loop.
type loopTask struct {
	name       string
	interval   func() time.Duration
	handler    func(ctx context.Context) error
	errorCount int
}

// Scheduler owns the runtime config and the three engine loops: scanning,
// position monitoring and broker keepalive.
type Scheduler struct {
	deps     Dependencies
	settings Settings
	state    *State
	logger   *zap.Logger

	executor  *Executor
	monitor   *PositionMonitor
	keepalive *Keepalive
	atr       *atrSource

	mu       sync.RWMutex
	config   Config
	running  bool
	restored bool
	stopCh   chan struct{}
	wg       sync.WaitGroup
	now      func() time.Time
}

// New wires the scheduler and loads the persisted runtime config. A corrupt
// state file is reported in the decision log and replaced by defaults.
func New(deps Dependencies, settings Settings, logger *zap.Logger) (*Scheduler, error) {
	if deps.MarketData == nil || deps.Broker == nil || deps.Aggregator == nil || deps.Scanner == nil ||
		deps.Gate == nil || deps.Discipline == nil || deps.Positions == nil || deps.Store == nil {
		return nil, errors.New("engine: missing dependency")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if settings.alertAfter == 0 {
		settings.alertAfter = 3
	}

	// The gate's setters are the one place the shared daily limits change.
	deps.Gate.OnChange(deps.Discipline.ApplyRiskLimits)

	state := NewState()
	s := &Scheduler{
		deps:     deps,
		settings: settings,
		state:    state,
		logger:   logger.With(zap.String("component", "scheduler")),
		now:      time.Now,
	}

	s.atr = &atrSource{
		marketData: deps.MarketData,
		state:      state,
		period:     settings.ATRPeriod,
		ttl:        settings.ATRCacheTTL,
		duration:   settings.BarDuration,
		barSize:    settings.BarSize,
	}
	s.executor = &Executor{
		broker:         deps.Broker,
		marketData:     deps.MarketData,
		gate:           deps.Gate,
		discipline:     deps.Discipline,
		positions:      deps.Positions,
		state:          state,
		atr:            s.atr,
		locker:         deps.Locker,
		timeout:        settings.BrokerTimeout,
		stopMultiplier: decimal.NewFromFloat(settings.StopMultiplier),
		logger:         logger.With(zap.String("component", "executor")),
	}
	s.monitor = &PositionMonitor{
		broker:     deps.Broker,
		positions:  deps.Positions,
		discipline: deps.Discipline,
		executor:   s.executor,
		state:      state,
		atr:        s.atr,
		params:     s.thresholdParams,
		logger:     logger.With(zap.String("component", "position_monitor")),
	}
	s.keepalive = NewKeepalive(settings.Keepalive, deps.Broker, state, logger.With(zap.String("component", "keepalive")))

	snap, err := deps.Store.Load()
	if err != nil && !errors.Is(err, ErrStateCorruption) {
		return nil, err
	}
	if err != nil {
		state.AddDecision(DecisionSystem, "Engine state file unreadable, defaults restored", "recovered",
			map[string]interface{}{"path": deps.Store.Path(), "error": err.Error()})
	}
	s.config = snap.Config
	s.config.EnabledStrategies = s.knownOnly(snap.Config.EnabledStrategies)
	state.RestorePerformance(snap.Performance)
	return s, nil
}

func (s *Scheduler) knownStrategy(name string) bool {
	_, ok := s.deps.Aggregator.Registry().Get(name)
	return ok
}

func (s *Scheduler) knownOnly(names []string) []string {
	var out []string
	for _, n := range names {
		if s.knownStrategy(n) {
			out = append(out, n)
		} else {
			s.logger.Warn("Ignoring unknown strategy", zap.String("strategy", n))
		}
	}
	return out
}

// SetClock replaces the time source of the scheduler and its state.
func (s *Scheduler) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
	s.state.SetClock(now)
}

func (s *Scheduler) clock() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.now()
}

// State exposes the shared engine state.
func (s *Scheduler) State() *State { return s.state }

// Config returns a copy of the runtime configuration.
func (s *Scheduler) Config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config.clone()
}

// Running reports whether the loops are started.
func (s *Scheduler) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *Scheduler) thresholdParams() position.ThresholdParams {
	return position.ThresholdParams{
		StopMultiplier: s.settings.StopMultiplier,
		RewardRatio:    s.settings.RewardRatio,
		Posture:        s.Config().RiskPosture,
	}
}

// scanInterval stretches the configured interval outside market hours.
func (s *Scheduler) scanInterval() time.Duration {
	interval := s.Config().ScanInterval
	if !s.settings.Hours.IsOpen(s.clock()) && s.settings.OffHoursMultiplier > 1 {
		interval *= time.Duration(s.settings.OffHoursMultiplier)
	}
	return interval
}

// Start launches the loops. The loops outlive ctx's cancellation and run
// until Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.running = true
	s.config.Enabled = true
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	restore := !s.restored
	s.restored = true
	s.mu.Unlock()

	loopCtx := context.WithoutCancel(ctx)
	if restore {
		if n, err := s.deps.Positions.Restore(loopCtx); err != nil {
			s.logger.Warn("Failed to restore scale plans", zap.Error(err))
		} else if n > 0 {
			s.state.AddDecision(DecisionSystem, fmt.Sprintf("Restored %d scale plan(s)", n), "restored", nil)
		}
	}

	tasks := []*loopTask{
		{name: "scan_loop", interval: s.scanInterval, handler: s.RunOnce},
		{name: "position_monitor", interval: func() time.Duration { return s.settings.MonitorInterval }, handler: s.monitor.RunOnce},
		{name: "keepalive", interval: func() time.Duration { return s.settings.KeepaliveInterval }, handler: s.keepalive.Check},
	}
	for _, t := range tasks {
		s.wg.Add(1)
		go s.supervise(loopCtx, stopCh, t)
	}

	cfg := s.Config()
	s.logger.Info("Engine started",
		zap.String("mode", string(cfg.Mode)),
		zap.String("risk_posture", string(cfg.RiskPosture)),
		zap.Duration("scan_interval", cfg.ScanInterval))
	s.state.AddDecision(DecisionSystem, "Engine started", "running",
		map[string]interface{}{"mode": cfg.Mode, "risk_posture": cfg.RiskPosture})
	s.persist()
	return nil
}

// Stop asks the loops to exit after their current iteration. It does not
// wait; use Wait for that.
func (s *Scheduler) Stop() {
	if s.halt(true) {
		s.state.AddDecision(DecisionSystem, "Engine stopped", "stopped", nil)
		s.persist()
	}
}

// Shutdown stops the loops for process exit and waits for them. The
// persisted enabled flag is left as is, so a running engine resumes on the
// next start of the process.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	if s.halt(false) {
		s.state.AddDecision(DecisionSystem, "Engine shutting down", "stopped", nil)
		s.persist()
	}
	return s.Wait(ctx)
}

func (s *Scheduler) halt(disable bool) bool {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return false
	}
	close(s.stopCh)
	s.running = false
	if disable {
		s.config.Enabled = false
	}
	s.mu.Unlock()

	s.state.SetPhase(PhaseIdle)
	s.logger.Info("Engine stopping", zap.Bool("disable", disable))
	return true
}

// Wait blocks until every loop has exited or ctx is done.
func (s *Scheduler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// supervise runs t until stopCh closes. Errors and panics are logged to the
// decision log and followed by the error backoff; the loop never dies.
func (s *Scheduler) supervise(ctx context.Context, stopCh <-chan struct{}, t *loopTask) {
	defer s.wg.Done()
	log := s.logger.With(zap.String("loop", t.name))
	log.Info("Loop started")

	for {
		select {
		case <-stopCh:
			log.Info("Loop stopped")
			return
		default:
		}

		wait := t.interval()
		if err := s.runGuarded(ctx, t); err != nil {
			t.errorCount++
			log.Error("Loop iteration failed", zap.Error(err), zap.Int("error_count", t.errorCount))
			s.state.AddDecision(DecisionError, fmt.Sprintf("%s: %v", t.name, err), "error",
				map[string]interface{}{"loop": t.name, "error_count": t.errorCount})
			if t.errorCount == s.settings.alertAfter {
				observability.CaptureException(ctx, err, map[string]string{"component": t.name})
			}
			wait = s.settings.ErrorBackoff
		} else {
			t.errorCount = 0
		}

		timer := time.NewTimer(wait)
		select {
		case <-stopCh:
			timer.Stop()
			log.Info("Loop stopped")
			return
		case <-timer.C:
		}
	}
}

func (s *Scheduler) runGuarded(ctx context.Context, t *loopTask) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = observability.RecoverPanic(ctx, r, t.name)
		}
	}()
	return t.handler(ctx)
}

// RunOnce performs a single scan iteration. Orders are placed only in an
// auto-executing mode while the market is open.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	cfg := s.Config()
	defer func() {
		if s.Running() {
			s.state.SetPhase(PhaseSleeping)
		} else {
			s.state.SetPhase(PhaseIdle)
		}
	}()

	s.state.SetPhase(PhaseScanning)
	universe, err := s.deps.MarketData.GetUniverse(ctx)
	if err != nil {
		return fmt.Errorf("%w: universe: %v", ErrTransientData, err)
	}

	fetched := s.deps.MarketData.FetchBars(ctx, universe, s.settings.BarDuration, s.settings.BarSize)
	for symbol, ferr := range fetched.Errors {
		s.logger.Debug("Skipping symbol without bars", zap.String("symbol", symbol), zap.Error(ferr))
	}
	opps, summary := s.deps.Scanner.Scan(fetched.Bars)
	summary.Total += len(fetched.Errors)
	summary.NoData += len(fetched.Errors)
	s.state.RecordScan(opps, summary)

	s.state.SetPhase(PhaseAnalyzing)
	passing := scanner.Passing(opps)
	decisions := make([]*strategy.AggregatedDecision, 0, len(passing))
	for _, o := range passing {
		bars := fetched.Bars[o.Symbol]
		s.atr.prime(o.Symbol, bars)
		d, signals := s.deps.Aggregator.Analyze(o.Symbol, bars, cfg.EnabledStrategies)
		s.state.RecordSignals(signals, d)
		if d != nil {
			decisions = append(decisions, d)
		}
	}

	s.state.SetPhase(PhaseRanking)
	ranked := strategy.Rank(decisions, cfg.MaxPositions)
	s.state.SetAnalyzed(ranked)

	execute := cfg.Mode.AutoExecutes() && s.settings.Hours.IsOpen(s.clock())
	status := "scan_only"
	if execute {
		status = "executing"
	}
	candidates := make([]string, 0, len(ranked))
	for _, d := range ranked {
		candidates = append(candidates, fmt.Sprintf("%s %s (%d, %.2f)", d.Action, d.Symbol, d.AgreeingCount, d.Confidence))
	}
	s.state.AddDecision(DecisionScan,
		fmt.Sprintf("Scanned %d symbols: %d passed filters, %d candidates", len(universe), summary.Passed, len(ranked)),
		status,
		map[string]interface{}{
			"universe":     len(universe),
			"fetch_errors": len(fetched.Errors),
			"passed":       summary.Passed,
			"candidates":   candidates,
			"mode":         cfg.Mode,
		})
	s.logger.Info("Scan complete",
		zap.Int("universe", len(universe)),
		zap.Int("passed", summary.Passed),
		zap.Int("candidates", len(ranked)),
		zap.Bool("execute", execute))

	if execute {
		s.state.SetPhase(PhaseExecuting)
		s.executeAll(ctx, ranked)
	}
	s.persist()
	return nil
}

func (s *Scheduler) executeAll(ctx context.Context, ranked []*strategy.AggregatedDecision) {
	for _, d := range ranked {
		_, err := s.executor.Execute(ctx, d)
		switch {
		case err == nil:
		case errors.Is(err, ErrTradingBlocked), errors.Is(err, ErrBrokerDisconnected):
			s.logger.Info("Execution paused", zap.Error(err))
			return
		default:
			s.logger.Warn("Candidate not executed", zap.String("symbol", d.Symbol), zap.Error(err))
		}
	}
}

// UpdateConfig validates and applies a partial update, then persists it.
func (s *Scheduler) UpdateConfig(u ConfigUpdate) (Config, error) {
	s.mu.Lock()
	next, err := s.config.Apply(u, s.knownStrategy)
	if err != nil {
		s.mu.Unlock()
		return Config{}, err
	}
	s.config = next
	s.mu.Unlock()

	s.logger.Info("Engine configuration updated",
		zap.String("mode", string(next.Mode)),
		zap.String("risk_posture", string(next.RiskPosture)),
		zap.Duration("scan_interval", next.ScanInterval),
		zap.Int("max_positions", next.MaxPositions),
		zap.Strings("enabled_strategies", next.EnabledStrategies))
	s.state.AddDecision(DecisionSystem, "Configuration updated", "updated",
		map[string]interface{}{
			"mode":                  next.Mode,
			"risk_posture":          next.RiskPosture,
			"scan_interval_seconds": int(next.ScanInterval / time.Second),
			"max_positions":         next.MaxPositions,
			"enabled_strategies":    next.EnabledStrategies,
		})
	s.persist()
	return next.clone(), nil
}

func (s *Scheduler) persist() {
	snap := Snapshot{
		Config:      s.Config(),
		Performance: s.state.Performance(),
		LastUpdated: s.clock().UTC(),
	}
	if err := s.deps.Store.Save(snap); err != nil {
		s.logger.Warn("Failed to persist engine state", zap.Error(err))
	}
}
