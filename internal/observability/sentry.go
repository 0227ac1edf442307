// Package observability reports errors and breadcrumbs to Sentry.
// Every helper is a no-op until Init succeeds with a DSN.
package observability

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/irfndi/neuratrade-intraday/internal/config"
)

var enabled atomic.Bool

// Init configures the global Sentry client. An empty DSN leaves reporting disabled.
func Init(cfg config.SentryConfig, environment, release string) error {
	enabled.Store(false)
	if cfg.DSN == "" {
		return nil
	}

	env := cfg.Environment
	if env == "" {
		env = environment
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.DSN,
		Environment:      env,
		Release:          release,
		EnableTracing:    cfg.TracesSampleRate > 0,
		TracesSampleRate: cfg.TracesSampleRate,
		AttachStacktrace: true,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize sentry: %w", err)
	}
	enabled.Store(true)
	return nil
}

// Enabled reports whether events are being sent.
func Enabled() bool {
	return enabled.Load()
}

// Flush waits for buffered events to be delivered.
func Flush(timeout time.Duration) {
	if Enabled() {
		sentry.Flush(timeout)
	}
}

func hubFromContext(ctx context.Context) *sentry.Hub {
	if ctx != nil {
		if hub := sentry.GetHubFromContext(ctx); hub != nil {
			return hub
		}
	}
	return sentry.CurrentHub()
}

// CaptureException reports err with optional tags.
func CaptureException(ctx context.Context, err error, tags ...map[string]string) {
	if err == nil || !Enabled() {
		return
	}
	hub := hubFromContext(ctx).Clone()
	hub.WithScope(func(scope *sentry.Scope) {
		for _, t := range tags {
			scope.SetTags(t)
		}
		hub.CaptureException(err)
	})
}

// AddBreadcrumb records a breadcrumb on the hub bound to ctx.
func AddBreadcrumb(ctx context.Context, category, message string, level sentry.Level) {
	if !Enabled() {
		return
	}
	hubFromContext(ctx).AddBreadcrumb(&sentry.Breadcrumb{
		Category:  category,
		Message:   message,
		Level:     level,
		Timestamp: time.Now(),
	}, nil)
}

// RecoverPanic converts a recovered value into an error and reports it.
// Callers use it from a deferred function:
//
//	defer func() { err = observability.RecoverPanic(ctx, recover(), "scan_loop") }()
func RecoverPanic(ctx context.Context, recovered interface{}, where string) error {
	if recovered == nil {
		return nil
	}
	err := fmt.Errorf("panic in %s: %v", where, recovered)
	CaptureException(ctx, err, map[string]string{"component": where})
	return err
}
