// Package alpaca adapts the Alpaca trading and market data APIs to the
// engine's BrokerPort and MarketDataPort.
package alpaca

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/irfndi/neuratrade-intraday/internal/config"
	"github.com/irfndi/neuratrade-intraday/pkg/interfaces"
)

// tradingAPI is the subset of *alpaca.Client the broker uses.
type tradingAPI interface {
	GetClock() (*alpaca.Clock, error)
	GetAccount() (*alpaca.Account, error)
	GetPositions() ([]alpaca.Position, error)
	PlaceOrder(req alpaca.PlaceOrderRequest) (*alpaca.Order, error)
	CancelOrder(orderID string) error
}

// dataAPI is the subset of *marketdata.Client the feed uses.
type dataAPI interface {
	GetBars(symbol string, req marketdata.GetBarsRequest) ([]marketdata.Bar, error)
	GetSnapshots(symbols []string, req marketdata.GetSnapshotRequest) (map[string]*marketdata.Snapshot, error)
}

var (
	_ tradingAPI = (*alpaca.Client)(nil)
	_ dataAPI    = (*marketdata.Client)(nil)
)

// NewClients builds the SDK clients from configuration. Empty fields are
// left for the SDK to fill from its APCA_* environment variables.
func NewClients(cfg config.BrokerConfig) (*alpaca.Client, *marketdata.Client) {
	trading := alpaca.NewClient(alpaca.ClientOpts{
		APIKey:    cfg.APIKey,
		APISecret: cfg.APISecret,
		BaseURL:   cfg.BaseURL,
	})
	data := marketdata.NewClient(marketdata.ClientOpts{
		APIKey:    cfg.APIKey,
		APISecret: cfg.APISecret,
		BaseURL:   cfg.DataURL,
	})
	return trading, data
}

// call runs a blocking SDK request and gives up when ctx ends first. The SDK
// has no context support, so an abandoned request still completes in the
// background; its result is dropped.
func call[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn()
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		return r.v, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// mapError translates throttling answers into interfaces.ErrRateLimited so
// the shared limiter can back off.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	var apiErr *alpaca.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%s: %w", op, interfaces.ErrRateLimited)
	}
	if strings.Contains(strings.ToLower(err.Error()), "too many requests") {
		return fmt.Errorf("%s: %w", op, interfaces.ErrRateLimited)
	}
	return fmt.Errorf("%s: %w", op, err)
}
