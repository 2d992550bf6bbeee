package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sapling/core/internal/domain/entities"
)

func newDetachedView() *BalanceView {
	return &BalanceView{
		pending: make(map[DeltaHandle]*pendingDelta),
		changed: make(chan struct{}, 1),
	}
}

func TestBalanceViewOptimisticDelta(t *testing.T) {
	v := newDetachedView()
	v.Reconcile(entities.Ledger{Credits: 10, Version: 3})

	h := v.Apply(5)
	assert.Equal(t, int64(15), v.Balance())
	assert.Equal(t, int64(10), v.Committed().Credits)

	v.Settle(h, 4)
	assert.Equal(t, 1, v.Pending(), "kept until the committed snapshot catches up")
	assert.Equal(t, int64(15), v.Balance())

	v.Reconcile(entities.Ledger{Credits: 15, Version: 4})
	assert.Equal(t, 0, v.Pending())
	assert.Equal(t, int64(15), v.Balance())
}

func TestBalanceViewSettleAfterSnapshot(t *testing.T) {
	v := newDetachedView()
	h := v.Apply(2)

	v.Reconcile(entities.Ledger{Credits: 2, Version: 7})
	assert.Equal(t, int64(4), v.Balance(), "an unsettled delta still counts")

	v.Settle(h, 7)
	assert.Equal(t, 0, v.Pending())
	assert.Equal(t, int64(2), v.Balance())
}

func TestBalanceViewDiscardAndStaleSnapshot(t *testing.T) {
	v := newDetachedView()
	v.Reconcile(entities.Ledger{Credits: 9, Version: 5})

	h := v.Apply(-20)
	v.Discard(h)
	assert.Equal(t, int64(9), v.Balance())

	v.Reconcile(entities.Ledger{Credits: 1, Version: 2})
	assert.Equal(t, int64(9), v.Committed().Credits, "older snapshots are ignored")

	select {
	case <-v.Changed():
	default:
		t.Fatal("expected a change notification")
	}
}

func TestBalanceViewsConverge(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	account := env.register(t, "ada@example.com")

	first, err := NewBalanceView(ctx, env.svc.Ledger, account.ID)
	require.NoError(t, err)
	defer first.Close()
	second, err := NewBalanceView(ctx, env.svc.Ledger, account.ID)
	require.NoError(t, err)
	defer second.Close()

	_, err = first.Credit(ctx, 5)
	require.NoError(t, err)
	_, err = second.Debit(ctx, 2)
	require.NoError(t, err)

	_, err = second.Debit(ctx, 100)
	require.ErrorIs(t, err, entities.ErrInsufficientFunds)

	for _, v := range []*BalanceView{first, second} {
		assert.Eventually(t, func() bool {
			return v.Balance() == 3 && v.Pending() == 0 && v.Committed().Credits == 3
		}, 2*time.Second, 5*time.Millisecond)
	}

	assert.Equal(t, int64(3), env.balance(t, account.ID))
}

func TestBalanceViewSeesOtherWriters(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	account := env.register(t, "ada@example.com")

	view, err := NewBalanceView(ctx, env.svc.Ledger, account.ID)
	require.NoError(t, err)
	defer view.Close()

	env.fund(t, account.ID, 7)

	assert.Eventually(t, func() bool { return view.Balance() == 7 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, view.Close())
}
