package services

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sapling/core/internal/domain/entities"
)

func TestMintIsIdempotent(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	account := env.register(t, "ada@example.com")
	key := MintKey(account.ID, "task-1", "2024-01-01")

	ledger, minted, err := env.svc.Ledger.Mint(ctx, account.ID, key)
	require.NoError(t, err)
	assert.True(t, minted)
	assert.Equal(t, int64(1), ledger.Credits)
	assert.Equal(t, int64(1), ledger.CompletedTasks)

	ledger, minted, err = env.svc.Ledger.Mint(ctx, account.ID, key)
	require.NoError(t, err)
	assert.False(t, minted)
	assert.Equal(t, int64(1), ledger.Credits)

	_, minted, err = env.svc.Ledger.Mint(ctx, account.ID, MintKey(account.ID, "task-1", "2024-01-02"))
	require.NoError(t, err)
	assert.True(t, minted)
	assert.Equal(t, int64(2), env.balance(t, account.ID))
}

func TestMintReleasesKeyOnFailure(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	account := env.register(t, "ada@example.com")
	key := MintKey(account.ID, "task-1", "2024-01-01")

	env.store.FailUpdates("stats", 1)
	_, _, err := env.svc.Ledger.Mint(ctx, account.ID, key)
	require.ErrorIs(t, err, entities.ErrUnavailable)

	_, minted, err := env.svc.Ledger.Mint(ctx, account.ID, key)
	require.NoError(t, err)
	assert.True(t, minted)
	assert.Equal(t, int64(1), env.balance(t, account.ID))
}

func TestDebitNeverGoesNegative(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	account := env.register(t, "ada@example.com")
	env.fund(t, account.ID, 10)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.svc.Ledger.Debit(ctx, account.ID, 3)
			if err != nil {
				assert.ErrorIs(t, err, entities.ErrInsufficientFunds)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), env.balance(t, account.ID))
}

func TestCreditAndDebitRejectNonPositiveAmounts(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	account := env.register(t, "ada@example.com")

	for _, amount := range []int64{0, -5} {
		_, err := env.svc.Ledger.Credit(ctx, account.ID, amount)
		assert.ErrorIs(t, err, entities.ErrValidation)
		_, err = env.svc.Ledger.Debit(ctx, account.ID, amount)
		assert.ErrorIs(t, err, entities.ErrValidation)
	}
}

func TestDebitInsufficientFundsLeavesBalance(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	account := env.register(t, "ada@example.com")
	env.fund(t, account.ID, 4)

	_, err := env.svc.Ledger.Debit(ctx, account.ID, 5)
	require.ErrorIs(t, err, entities.ErrInsufficientFunds)
	assert.Equal(t, int64(4), env.balance(t, account.ID))

	ledger, err := env.svc.Ledger.Debit(ctx, account.ID, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(0), ledger.Credits)
}
