package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/getsentry/sentry-go"
	"github.com/irfndi/neuratrade-intraday/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_EmptyDSNDisables(t *testing.T) {
	require.NoError(t, Init(config.SentryConfig{}, "test", "v0"))
	assert.False(t, Enabled())

	// helpers must be safe while disabled
	CaptureException(context.Background(), errors.New("ignored"))
	AddBreadcrumb(context.Background(), "test", "ignored", sentry.LevelInfo)
	Flush(0)
}

func TestInit_InvalidDSN(t *testing.T) {
	err := Init(config.SentryConfig{DSN: "not a dsn"}, "test", "v0")
	assert.Error(t, err)
	assert.False(t, Enabled())
}

func TestRecoverPanic(t *testing.T) {
	assert.NoError(t, RecoverPanic(context.Background(), nil, "loop"))

	err := RecoverPanic(context.Background(), "boom", "scan_loop")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic in scan_loop: boom")
}
