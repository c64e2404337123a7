package wallet

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voltmarket/voltmarket/internal/servicetype"
)

func newTestService() *Service {
	types := servicetype.NewRegistry(servicetype.NewMemoryStore())
	return NewService(NewMemoryStore(types))
}

func amt(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}

func TestTopUpAndBalance(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	w, txn, err := svc.TopUp(ctx, "acct-1", amt(t, "500000"), "initial top-up", Ref{})
	require.NoError(t, err)
	assert.Equal(t, "500000", w.Balance.String())
	assert.Equal(t, "500000", txn.Amount.String())
	assert.Equal(t, servicetype.CodeWalletTopUp, txn.ServiceTypeCode)

	bal, err := svc.Balance(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, "500000", bal.Balance.String())
}

func TestBalance_UnknownOwnerIsZero(t *testing.T) {
	svc := newTestService()

	bal, err := svc.Balance(context.Background(), "never-seen")
	require.NoError(t, err)
	assert.True(t, bal.Balance.IsZero())
}

func TestDeduct_Insufficient(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	_, _, err := svc.TopUp(ctx, "acct-1", amt(t, "100"), "", Ref{})
	require.NoError(t, err)

	_, _, err = svc.Deduct(ctx, "acct-1", amt(t, "101"), servicetype.CodeBuyHold, "hold", Ref{})
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	// Balance untouched after the failed deduct.
	bal, err := svc.Balance(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, "100", bal.Balance.String())
}

func TestDeduct_InvalidAmount(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	_, _, err := svc.Deduct(ctx, "acct-1", decimal.Zero, servicetype.CodeBuyHold, "", Ref{})
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, _, err = svc.Deduct(ctx, "acct-1", amt(t, "5").Neg(), servicetype.CodeBuyHold, "", Ref{})
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestRefund_CreditsBack(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	_, _, err := svc.TopUp(ctx, "acct-1", amt(t, "1000"), "", Ref{})
	require.NoError(t, err)
	_, _, err = svc.Deduct(ctx, "acct-1", amt(t, "400"), servicetype.CodeBuyHold, "hold", Ref{Type: "order", ID: "o1"})
	require.NoError(t, err)

	w, txn, err := svc.Refund(ctx, "acct-1", amt(t, "400"), servicetype.CodeBuyRefund, "seller rejected", Ref{Type: "order", ID: "o1"})
	require.NoError(t, err)
	assert.Equal(t, "1000", w.Balance.String())
	assert.Equal(t, servicetype.CodeBuyRefund, txn.ServiceTypeCode)
	assert.Equal(t, "order", txn.RelatedType)
}

func TestBalanceEqualsTransactionSum(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	_, _, err := svc.TopUp(ctx, "acct-1", amt(t, "1000"), "", Ref{})
	require.NoError(t, err)
	_, _, err = svc.Deduct(ctx, "acct-1", amt(t, "300"), servicetype.CodeBuyHold, "", Ref{})
	require.NoError(t, err)
	_, _, err = svc.Refund(ctx, "acct-1", amt(t, "300"), servicetype.CodeBuyRefund, "", Ref{})
	require.NoError(t, err)
	_, _, err = svc.Deduct(ctx, "acct-1", amt(t, "250"), servicetype.CodePostPayment, "", Ref{})
	require.NoError(t, err)

	cached, derived, consistent, err := svc.Audit(ctx, "acct-1")
	require.NoError(t, err)
	assert.True(t, consistent, "cached %s derived %s", cached, derived)
	assert.Equal(t, "750", cached.String())
}

func TestConcurrentDeducts_NoLostUpdate(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	// 100 in the wallet, 20 workers each trying to deduct 10: at most 10
	// may succeed and the balance must never go negative.
	_, _, err := svc.TopUp(ctx, "acct-1", amt(t, "100"), "", Ref{})
	require.NoError(t, err)

	const workers = 20
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := svc.Deduct(ctx, "acct-1", amt(t, "10"), servicetype.CodeBuyHold, "", Ref{})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, succeeded)

	cached, _, consistent, err := svc.Audit(ctx, "acct-1")
	require.NoError(t, err)
	assert.True(t, consistent)
	assert.True(t, cached.IsZero(), "balance is %s", cached)
}

func TestConcurrentMixedOps_SumHolds(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	_, _, err := svc.TopUp(ctx, "acct-1", amt(t, "10000"), "", Ref{})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _, _ = svc.TopUp(ctx, "acct-1", amt(t, "7"), "", Ref{})
		}()
		go func() {
			defer wg.Done()
			_, _, _ = svc.Deduct(ctx, "acct-1", amt(t, "13"), servicetype.CodeBuyHold, "", Ref{})
		}()
	}
	wg.Wait()

	_, _, consistent, err := svc.Audit(ctx, "acct-1")
	require.NoError(t, err)
	assert.True(t, consistent)
}

func TestHistory_MostRecentFirst(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	_, _, err := svc.TopUp(ctx, "acct-1", amt(t, "100"), "first", Ref{})
	require.NoError(t, err)
	_, _, err = svc.TopUp(ctx, "acct-1", amt(t, "200"), "second", Ref{})
	require.NoError(t, err)

	history, err := svc.History(ctx, "acct-1", 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "second", history[0].Description)
	assert.Equal(t, "first", history[1].Description)
}
