package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/irfndi/neuratrade-intraday/internal/observability"
	"github.com/irfndi/neuratrade-intraday/pkg/interfaces"
	"go.uber.org/zap"
)

// KeepaliveConfig tunes how a dropped broker session is reconnected.
type KeepaliveConfig struct {
	// MaxRetries is the number of Connect attempts per check.
	MaxRetries int
	// RetryDelay is the wait after the first failed attempt. It doubles
	// after each further failure.
	RetryDelay time.Duration
	// MaxRetryDelay caps the doubled delay.
	MaxRetryDelay time.Duration
	// FailureThreshold is the number of consecutive failed checks after which
	// the outage is reported to Sentry.
	FailureThreshold int
}

// DefaultKeepaliveConfig is three attempts from 1s up to 10s apart.
func DefaultKeepaliveConfig() KeepaliveConfig {
	return KeepaliveConfig{
		MaxRetries:       3,
		RetryDelay:       time.Second,
		MaxRetryDelay:    10 * time.Second,
		FailureThreshold: 3,
	}
}

// KeepaliveMetrics counts session checks since the process started.
type KeepaliveMetrics struct {
	// Checks counts every call to Check.
	Checks int64 `json:"checks"`
	// Reconnects counts sessions restored after a drop.
	Reconnects int64 `json:"reconnects"`
	// FailedReconnects counts checks whose every attempt failed.
	FailedReconnects int64 `json:"failed_reconnects"`
	// ConsecutiveFailures resets once the session is back.
	ConsecutiveFailures int `json:"consecutive_failures"`
	// LastCheck is when Check last ran.
	LastCheck time.Time `json:"last_check"`
	// Connected is the outcome of the last check.
	Connected bool `json:"connected"`
}

// Keepalive watches the broker session and reconnects it when it drops.
type Keepalive struct {
	config KeepaliveConfig
	broker interfaces.BrokerPort
	state  *State
	logger *zap.Logger

	mu      sync.RWMutex
	metrics KeepaliveMetrics
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewKeepalive creates a keepalive. MaxRetries below one is raised to one.
func NewKeepalive(config KeepaliveConfig, broker interfaces.BrokerPort, state *State, logger *zap.Logger) *Keepalive {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.MaxRetries < 1 {
		config.MaxRetries = 1
	}
	return &Keepalive{
		config: config,
		broker: broker,
		state:  state,
		logger: logger,
		sleep:  sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Connected reports the result of the last check.
func (k *Keepalive) Connected() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.metrics.Connected
}

// Metrics returns a snapshot of the counters.
func (k *Keepalive) Metrics() KeepaliveMetrics {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.metrics
}

// Check verifies the session and reconnects with exponential backoff when it
// is down. It returns ErrBrokerDisconnected when every attempt failed.
func (k *Keepalive) Check(ctx context.Context) error {
	k.mu.Lock()
	k.metrics.Checks++
	k.metrics.LastCheck = time.Now().UTC()
	wasConnected := k.metrics.Connected
	k.mu.Unlock()

	if k.broker.IsConnected(ctx) {
		k.setConnected(true)
		return nil
	}

	if wasConnected {
		k.logger.Warn("Broker session lost, reconnecting")
		k.state.AddDecision(DecisionSystem, "Broker disconnected, reconnecting", "disconnected", nil)
	}

	delay := k.config.RetryDelay
	var lastErr error
	for attempt := 1; attempt <= k.config.MaxRetries; attempt++ {
		ok, err := k.broker.Connect(ctx)
		if ok && err == nil {
			k.mu.Lock()
			k.metrics.Reconnects++
			k.mu.Unlock()
			k.setConnected(true)
			k.logger.Info("Broker reconnected", zap.Int("attempt", attempt))
			k.state.AddDecision(DecisionSystem, "Broker reconnected", "connected",
				map[string]interface{}{"attempt": attempt})
			return nil
		}
		lastErr = err
		k.logger.Warn("Broker reconnect attempt failed",
			zap.Int("attempt", attempt), zap.Int("max_retries", k.config.MaxRetries), zap.Error(err))

		if attempt == k.config.MaxRetries {
			break
		}
		if err := k.sleep(ctx, delay); err != nil {
			lastErr = err
			break
		}
		delay *= 2
		if k.config.MaxRetryDelay > 0 && delay > k.config.MaxRetryDelay {
			delay = k.config.MaxRetryDelay
		}
	}

	k.mu.Lock()
	k.metrics.Connected = false
	k.metrics.FailedReconnects++
	k.metrics.ConsecutiveFailures++
	failures := k.metrics.ConsecutiveFailures
	k.mu.Unlock()

	err := fmt.Errorf("%w: reconnect failed after %d attempts: %v", ErrBrokerDisconnected, k.config.MaxRetries, lastErr)
	if k.config.FailureThreshold > 0 && failures >= k.config.FailureThreshold {
		k.logger.Error("Broker unreachable", zap.Int("consecutive_failures", failures), zap.Error(err))
		observability.CaptureException(ctx, err, map[string]string{"component": "keepalive"})
	}
	return err
}

func (k *Keepalive) setConnected(v bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.metrics.Connected = v
	if v {
		k.metrics.ConsecutiveFailures = 0
	}
}
