//go:build integration

package wallet

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voltmarket/voltmarket/internal/servicetype"
	"github.com/voltmarket/voltmarket/internal/testutil"
)

func setupPostgres(t *testing.T) (*Service, func()) {
	t.Helper()

	db, cleanup := testutil.PGTest(t)
	types := servicetype.NewRegistry(servicetype.NewPostgresStore(db))
	return NewService(NewPostgresStore(db, types)), cleanup
}

func TestPostgres_BalanceMatchesTransactionSum(t *testing.T) {
	svc, cleanup := setupPostgres(t)
	defer cleanup()
	ctx := context.Background()

	owner := "it-acct-1"
	_, _, err := svc.TopUp(ctx, owner, decimal.NewFromInt(1000), "seed", Ref{})
	require.NoError(t, err)
	_, _, err = svc.Deduct(ctx, owner, decimal.NewFromInt(250), servicetype.CodeBuyHold, "hold", Ref{Type: "order", ID: "o1"})
	require.NoError(t, err)
	_, _, err = svc.Refund(ctx, owner, decimal.NewFromInt(250), servicetype.CodeBuyRefund, "reject", Ref{Type: "order", ID: "o1"})
	require.NoError(t, err)

	cached, derived, consistent, err := svc.Audit(ctx, owner)
	require.NoError(t, err)
	assert.True(t, consistent, "cached %s derived %s", cached, derived)
	assert.True(t, cached.Equal(decimal.NewFromInt(1000)))
}

func TestPostgres_ConcurrentDeducts(t *testing.T) {
	svc, cleanup := setupPostgres(t)
	defer cleanup()
	ctx := context.Background()

	owner := "it-acct-2"
	_, _, err := svc.TopUp(ctx, owner, decimal.NewFromInt(100), "seed", Ref{})
	require.NoError(t, err)

	const workers = 20
	var wg sync.WaitGroup
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := svc.Deduct(ctx, owner, decimal.NewFromInt(10), servicetype.CodeBuyHold, "race", Ref{})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, ErrInsufficientBalance)
		}
	}
	assert.Equal(t, 10, succeeded)

	cached, _, consistent, err := svc.Audit(ctx, owner)
	require.NoError(t, err)
	assert.True(t, consistent)
	assert.True(t, cached.IsZero(), "balance is %s", cached)
}

func TestPostgres_DeductUnknownWallet(t *testing.T) {
	svc, cleanup := setupPostgres(t)
	defer cleanup()

	_, _, err := svc.Deduct(context.Background(), "it-missing", decimal.NewFromInt(1), servicetype.CodeBuyHold, "", Ref{})
	assert.ErrorIs(t, err, ErrInsufficientBalance)
}
