package engine

import "errors"

var (
	// ErrTransientData marks a single fetch failure; the caller skips the
	// affected symbol and carries on.
	ErrTransientData = errors.New("transient market data error")
	// ErrBrokerDisconnected pauses execution until the keepalive reconnects.
	ErrBrokerDisconnected = errors.New("broker disconnected")
	// ErrOrderSubmission means the broker returned an error or nothing at all.
	// The order is never retried.
	ErrOrderSubmission = errors.New("order submission failed")
	// ErrStateCorruption means persisted state was unreadable and defaults
	// were used instead.
	ErrStateCorruption = errors.New("persisted engine state corrupt")

	ErrAlreadyRunning = errors.New("engine already running")
	ErrOrderInFlight  = errors.New("order already in flight for symbol")
	ErrTradingBlocked = errors.New("trading blocked by discipline")
)
