package position

import (
	"context"
	"testing"

	"github.com/irfndi/neuratrade-intraday/internal/testutil"
	"github.com/irfndi/neuratrade-intraday/pkg/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestManager_OnPriceDrivesLadder(t *testing.T) {
	ctx := context.Background()
	m := NewManager(DefaultLadderConfig(), dec(1.5), nil, nil)

	_, err := m.Open(ctx, "AAPL", interfaces.OrderSideBuy, dec(100), 100, dec(2))
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL"}, m.Symbols())

	u, err := m.OnPrice(ctx, "AAPL", dec(104), dec(2))
	require.NoError(t, err)
	require.Len(t, u.ScaleActions, 1)
	assert.Equal(t, int64(50), u.ScaleActions[0].Quantity)
	assert.True(t, u.ScaleActions[0].StopMoved)
	assert.Equal(t, interfaces.OrderSideSell, u.CloseSide)
	assert.True(t, u.Stop.Equal(dec(96)), "stop moves only on commit")
	assert.Equal(t, int64(50), u.Remaining)

	plan, err := m.CommitScale(ctx, "AAPL", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(50), plan.RemainingQuantity)
	assert.True(t, plan.CurrentStop.Equal(dec(100)))

	u, err = m.OnPrice(ctx, "AAPL", dec(110), dec(2))
	require.NoError(t, err)
	require.Len(t, u.ScaleActions, 1)
	assert.True(t, u.ScaleActions[0].TrailingActivated)
	assert.False(t, u.StopRaised, "trailing starts once level two is committed")
	_, err = m.CommitScale(ctx, "AAPL", 1)
	require.NoError(t, err)

	u, err = m.OnPrice(ctx, "AAPL", dec(110), dec(2))
	require.NoError(t, err)
	assert.Empty(t, u.ScaleActions)
	assert.True(t, u.StopRaised)
	assert.True(t, u.Stop.Equal(dec(107)))

	u, err = m.OnPrice(ctx, "AAPL", dec(106.5), dec(2))
	require.NoError(t, err)
	assert.True(t, u.StopHit)

	u, err = m.OnPrice(ctx, "AAPL", dec(113), dec(2))
	require.NoError(t, err)
	assert.Equal(t, int64(0), u.Remaining)
	_, ok := m.Get("AAPL")
	assert.True(t, ok, "the last level is still pending")

	_, err = m.CommitScale(ctx, "AAPL", 2)
	require.NoError(t, err)
	_, ok = m.Get("AAPL")
	assert.False(t, ok, "fully scaled out plans are removed")
}

func TestManager_PendingLevelsWaitForCommit(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryPlanStore()
	m := NewManager(DefaultLadderConfig(), dec(1.5), store, nil)
	_, err := m.Open(ctx, "AAPL", interfaces.OrderSideBuy, dec(100), 100, dec(2))
	require.NoError(t, err)

	for range 2 {
		u, err := m.OnPrice(ctx, "AAPL", dec(104.5), dec(2))
		require.NoError(t, err)
		require.Len(t, u.ScaleActions, 1, "an uncommitted level is reported again")
		assert.Equal(t, 0, u.ScaleActions[0].Level)
	}

	plan, ok := m.Get("AAPL")
	require.True(t, ok)
	assert.Equal(t, int64(100), plan.RemainingQuantity)
	assert.False(t, plan.Levels[0].Executed)
	assert.False(t, plan.BreakevenActivated)
	assert.True(t, plan.CurrentStop.Equal(dec(96)))

	_, err = m.CommitScale(ctx, "AAPL", 0)
	require.NoError(t, err)
	_, err = m.CommitScale(ctx, "AAPL", 0)
	assert.ErrorContains(t, err, "not pending")
	_, err = m.CommitScale(ctx, "MSFT", 0)
	assert.Error(t, err)

	saved, err := store.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.True(t, saved[0].Levels[0].Executed)
	assert.Equal(t, int64(50), saved[0].RemainingQuantity)
}

func TestManager_UnknownSymbol(t *testing.T) {
	m := NewManager(DefaultLadderConfig(), dec(1.5), nil, nil)
	_, err := m.OnPrice(context.Background(), "NOPE", dec(1), dec(1))
	assert.Error(t, err)
}

func TestManager_RestoreFromRedis(t *testing.T) {
	client, _ := testutil.NewTestRedis(t)
	ctx := context.Background()
	store := NewRedisPlanStore(client)

	first := NewManager(DefaultLadderConfig(), dec(1.5), store, nil)
	_, err := first.Open(ctx, "AAPL", interfaces.OrderSideBuy, dec(100), 100, dec(2))
	require.NoError(t, err)
	_, err = first.Open(ctx, "MSFT", interfaces.OrderSideSell, dec(300), 10, dec(3))
	require.NoError(t, err)
	_, err = first.OnPrice(ctx, "AAPL", dec(104), dec(2))
	require.NoError(t, err)
	_, err = first.CommitScale(ctx, "AAPL", 0)
	require.NoError(t, err)

	second := NewManager(DefaultLadderConfig(), dec(1.5), store, nil)
	n, err := second.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	plan, ok := second.Get("AAPL")
	require.True(t, ok)
	assert.Equal(t, int64(50), plan.RemainingQuantity)
	assert.True(t, plan.Levels[0].Executed)
	assert.True(t, plan.BreakevenActivated)
	assert.True(t, plan.CurrentStop.Equal(dec(100)))
}

func TestManager_RestoreSkipsCorruptPlans(t *testing.T) {
	client, mr := testutil.NewTestRedis(t)
	ctx := context.Background()
	store := NewRedisPlanStore(client)

	first := NewManager(DefaultLadderConfig(), dec(1.5), store, nil)
	_, err := first.Open(ctx, "AAPL", interfaces.OrderSideBuy, dec(100), 100, dec(2))
	require.NoError(t, err)
	mr.HSet(planHashKey, "BROKEN", "{oops")

	core, logs := observer.New(zap.WarnLevel)
	second := NewManager(DefaultLadderConfig(), dec(1.5), store, zap.New(core))
	n, err := second.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, logs.FilterMessage("Some scale plans could not be read").Len())
}

func TestManager_Reconcile(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryPlanStore()
	m := NewManager(DefaultLadderConfig(), dec(1.5), store, nil)

	_, _ = m.Open(ctx, "AAPL", interfaces.OrderSideBuy, dec(100), 10, dec(2))
	_, _ = m.Open(ctx, "MSFT", interfaces.OrderSideBuy, dec(300), 10, dec(3))

	dropped := m.Reconcile(ctx, map[string]bool{"AAPL": true})
	assert.Equal(t, []string{"MSFT"}, dropped)
	assert.Equal(t, []string{"AAPL"}, m.Symbols())

	saved, err := store.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.Equal(t, "AAPL", saved[0].Symbol)

	require.NoError(t, m.Close(ctx, "AAPL"))
	assert.Empty(t, m.Symbols())
}
