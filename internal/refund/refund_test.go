package refund

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voltmarket/voltmarket/internal/listing"
	"github.com/voltmarket/voltmarket/internal/policy"
	"github.com/voltmarket/voltmarket/internal/servicetype"
	"github.com/voltmarket/voltmarket/internal/wallet"
)

type stubFraud struct{ status FraudStatus }

func (s stubFraud) FraudStatus(ctx context.Context, postID string) (FraudStatus, error) {
	return s.status, nil
}

type stubChat struct{ active bool }

func (s stubChat) HasActivity(ctx context.Context, postID string) (bool, error) {
	return s.active, nil
}

type fixture struct {
	engine       *Engine
	store        *MemoryStore
	listings     *listing.Service
	listingStore *listing.MemoryStore
	wallets      *wallet.Service
	policies     *policy.Service
}

func newFixture(t *testing.T, fraud FraudChecker, chat ChatActivityChecker) *fixture {
	t.Helper()

	types := servicetype.NewRegistry(servicetype.NewMemoryStore())
	wallets := wallet.NewService(wallet.NewMemoryStore(types))
	listingStore := listing.NewMemoryStore()
	listings := listing.NewService(listingStore)
	policies := policy.NewService(policy.NewMemoryStore())
	store := NewMemoryStore()
	engine := NewEngine(store, listings, wallets, policies, fraud, chat)
	return &fixture{
		engine:       engine,
		store:        store,
		listings:     listings,
		listingStore: listingStore,
		wallets:      wallets,
		policies:     policies,
	}
}

// seedPaidPost creates a listing reviewed daysAgo days back with a collected
// posting fee of amountPaid.
func (f *fixture) seedPaidPost(t *testing.T, postID, sellerID string, amountPaid int64, daysAgo int, status listing.Status) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.listings.Create(ctx, &listing.Listing{
		ID:       postID,
		SellerID: sellerID,
		Title:    "paid post",
		Price:    decimal.NewFromInt(amountPaid * 20),
	}))
	require.NoError(t, f.listings.Publish(ctx, postID))
	f.listingStore.SetReviewedAt(postID, time.Now().AddDate(0, 0, -daysAgo))
	if status == listing.StatusArchived {
		require.NoError(t, f.listings.Archive(ctx, postID))
		f.listingStore.SetReviewedAt(postID, time.Now().AddDate(0, 0, -daysAgo))
	}
	require.NoError(t, f.store.CreatePostPayment(ctx, &PostPayment{
		PostID:              postID,
		AccountID:           sellerID,
		AmountPaid:          decimal.NewFromInt(amountPaid),
		WalletTransactionID: "txn-seed",
		CreatedAt:           time.Now(),
	}))
}

func (f *fixture) balance(t *testing.T, accountID string) decimal.Decimal {
	t.Helper()
	w, err := f.wallets.Balance(context.Background(), accountID)
	require.NoError(t, err)
	return w.Balance
}

func TestScan_CancelLate(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	// Archived 10 days after review, threshold 7, late rate 70.
	f.seedPaidPost(t, "p1", "seller", 100_000, 10, listing.StatusArchived)

	created, err := f.engine.ScanOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, created)

	r, err := f.engine.GetByPost(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, ScenarioCancelLate, r.Scenario)
	assert.Equal(t, int64(70), r.PolicyRatePercent)
	assert.Equal(t, "70000", r.AmountRefund.String())
	assert.Equal(t, StatusRefunded, r.Status)
	require.NotNil(t, r.RefundedAt)
	assert.NotEmpty(t, r.WalletTransactionID)

	assert.Equal(t, "70000", f.balance(t, "seller").String())
}

func TestScan_CancelEarly_FullRefund(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	f.seedPaidPost(t, "p1", "seller", 50_000, 3, listing.StatusArchived)

	_, err := f.engine.ScanOnce(ctx)
	require.NoError(t, err)

	r, err := f.engine.GetByPost(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, ScenarioCancelEarly, r.Scenario)
	assert.Equal(t, int64(100), r.PolicyRatePercent)
	assert.Equal(t, "50000", r.AmountRefund.String())
	assert.True(t, r.AmountRefund.Equal(r.AmountOriginal))
}

func TestScan_ExpiredPublished(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	// Still published 90 days after review, lifecycle 60, expired rate 50.
	f.seedPaidPost(t, "p1", "seller", 100_000, 90, listing.StatusPublished)

	_, err := f.engine.ScanOnce(ctx)
	require.NoError(t, err)

	r, err := f.engine.GetByPost(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, ScenarioExpired, r.Scenario)
	assert.Equal(t, "50000", r.AmountRefund.String())
}

func TestScan_FreshPublishedPostSkipped(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	f.seedPaidPost(t, "p1", "seller", 100_000, 5, listing.StatusPublished)

	created, err := f.engine.ScanOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, created)

	_, err = f.engine.GetByPost(ctx, "p1")
	assert.ErrorIs(t, err, ErrRefundNotFound)
}

func TestScan_ChatActivityOverridesTimeScenario(t *testing.T) {
	f := newFixture(t, nil, stubChat{active: true})
	ctx := context.Background()

	// Early archive would give 100%, chat activity pins it at 80%.
	f.seedPaidPost(t, "p1", "seller", 100_000, 2, listing.StatusArchived)

	_, err := f.engine.ScanOnce(ctx)
	require.NoError(t, err)

	r, err := f.engine.GetByPost(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, ScenarioChatActivity, r.Scenario)
	assert.Equal(t, int64(80), r.PolicyRatePercent)
	assert.Equal(t, "80000", r.AmountRefund.String())
}

func TestScan_FraudBlocksEverything(t *testing.T) {
	f := newFixture(t, stubFraud{status: FraudSuspected}, stubChat{active: true})
	ctx := context.Background()
	f.seedPaidPost(t, "p1", "seller", 100_000, 2, listing.StatusArchived)

	_, err := f.engine.ScanOnce(ctx)
	require.NoError(t, err)

	r, err := f.engine.GetByPost(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, ScenarioFraud, r.Scenario)
	assert.Zero(t, r.PolicyRatePercent)
	assert.True(t, r.AmountRefund.IsZero())
	assert.Equal(t, StatusRejected, r.Status)

	// No payout for fraud, but the decision is recorded so the post is
	// never scanned again.
	assert.True(t, f.balance(t, "seller").IsZero())
	created, err := f.engine.ScanOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, created)
}

func TestScan_OneRefundPerPost(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	f.seedPaidPost(t, "p1", "seller", 1000, 10, listing.StatusArchived)

	_, err := f.engine.ScanOnce(ctx)
	require.NoError(t, err)
	created, err := f.engine.ScanOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, created, "second scan must not refund again")

	_, err = f.engine.CreateManual(ctx, "p1", "", nil, false)
	assert.ErrorIs(t, err, ErrAlreadyRefunded)

	assert.Equal(t, "700", f.balance(t, "seller").String())
}

func TestScan_ConcurrentWithManual_SingleRefund(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	f.seedPaidPost(t, "p1", "seller", 10_000, 10, listing.StatusArchived)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.engine.ScanOnce(ctx)
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.engine.CreateManual(ctx, "p1", "", nil, false)
		}()
	}
	wg.Wait()

	// However the race resolves, the seller is credited at most once.
	got := f.balance(t, "seller")
	assert.True(t, got.LessThanOrEqual(decimal.NewFromInt(7000)),
		"seller balance %s exceeds a single refund", got)
}

func TestManual_DryRunDoesNotPersist(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	f.seedPaidPost(t, "p1", "seller", 100_000, 10, listing.StatusArchived)

	preview, err := f.engine.CreateManual(ctx, "p1", "", nil, true)
	require.NoError(t, err)
	assert.Equal(t, ScenarioCancelLate, preview.Scenario)
	assert.Equal(t, "70000", preview.AmountRefund.String())

	_, err = f.engine.GetByPost(ctx, "p1")
	assert.ErrorIs(t, err, ErrRefundNotFound)
	assert.True(t, f.balance(t, "seller").IsZero())
}

func TestManual_PendingUntilApproved(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	f.seedPaidPost(t, "p1", "seller", 100_000, 10, listing.StatusArchived)

	r, err := f.engine.CreateManual(ctx, "p1", "", nil, false)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, r.Status)
	assert.True(t, f.balance(t, "seller").IsZero(), "manual refunds never auto-execute")

	r, err = f.engine.Approve(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRefunded, r.Status)
	assert.Equal(t, "70000", f.balance(t, "seller").String())

	_, err = f.engine.Approve(ctx, r.ID)
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestManual_Reject(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	f.seedPaidPost(t, "p1", "seller", 100_000, 10, listing.StatusArchived)

	r, err := f.engine.CreateManual(ctx, "p1", "", nil, false)
	require.NoError(t, err)

	r, err = f.engine.Reject(ctx, r.ID, "seller relisted the item")
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, r.Status)
	assert.Equal(t, "seller relisted the item", r.Reason)
	assert.True(t, f.balance(t, "seller").IsZero())

	_, err = f.engine.Approve(ctx, r.ID)
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestManual_ScenarioOverrideAndCustomRate(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	f.seedPaidPost(t, "p1", "seller", 100_000, 2, listing.StatusPublished)

	// The post itself is not eligible yet; the override forces a scenario.
	r, err := f.engine.CreateManual(ctx, "p1", ScenarioExpired, nil, true)
	require.NoError(t, err)
	assert.Equal(t, int64(50), r.PolicyRatePercent)

	rate := int64(25)
	r, err = f.engine.CreateManual(ctx, "p1", ScenarioExpired, &rate, true)
	require.NoError(t, err)
	assert.Equal(t, int64(25), r.PolicyRatePercent)
	assert.Equal(t, "25000", r.AmountRefund.String())

	bad := int64(150)
	_, err = f.engine.CreateManual(ctx, "p1", "", &bad, true)
	assert.ErrorIs(t, err, ErrInvalidRate)
}

func TestManual_UnknownPost(t *testing.T) {
	f := newFixture(t, nil, nil)
	_, err := f.engine.CreateManual(context.Background(), "nope", "", nil, false)
	assert.ErrorIs(t, err, ErrPostPaymentNotFound)
}

func TestCollectPostingFee(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	require.NoError(t, f.listings.Create(ctx, &listing.Listing{
		ID:       "p1",
		SellerID: "seller",
		Title:    "battery pack",
		Price:    decimal.NewFromInt(200_000),
	}))
	require.NoError(t, f.listings.Publish(ctx, "p1"))
	_, _, err := f.wallets.TopUp(ctx, "seller", decimal.NewFromInt(50_000), "seed", wallet.Ref{})
	require.NoError(t, err)

	_, err = f.engine.CollectPostingFee(ctx, "p1", "not-the-seller")
	assert.ErrorIs(t, err, ErrForbidden)

	// Flat commission rate 5% of 200,000.
	p, err := f.engine.CollectPostingFee(ctx, "p1", "seller")
	require.NoError(t, err)
	assert.Equal(t, "10000", p.AmountPaid.String())
	assert.Equal(t, "seller", p.AccountID)
	assert.NotEmpty(t, p.WalletTransactionID)
	assert.Equal(t, "40000", f.balance(t, "seller").String())

	_, err = f.engine.CollectPostingFee(ctx, "p1", "seller")
	assert.ErrorIs(t, err, ErrPostPaymentExists)
}

func TestCollectPostingFee_InsufficientBalance(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	require.NoError(t, f.listings.Create(ctx, &listing.Listing{
		ID:       "p1",
		SellerID: "seller",
		Title:    "scooter",
		Price:    decimal.NewFromInt(200_000),
	}))
	require.NoError(t, f.listings.Publish(ctx, "p1"))

	_, err := f.engine.CollectPostingFee(ctx, "p1", "seller")
	assert.ErrorIs(t, err, wallet.ErrInsufficientBalance)

	_, err = f.store.GetPostPayment(ctx, "p1")
	assert.ErrorIs(t, err, ErrPostPaymentNotFound)
}

type failingWallet struct{ err error }

func (w failingWallet) Deduct(ctx context.Context, ownerID string, amount decimal.Decimal, serviceTypeCode, description string, related wallet.Ref) (*wallet.Wallet, *wallet.Transaction, error) {
	return nil, nil, w.err
}

func (w failingWallet) Refund(ctx context.Context, ownerID string, amount decimal.Decimal, serviceTypeCode, description string, related wallet.Ref) (*wallet.Wallet, *wallet.Transaction, error) {
	return nil, nil, w.err
}

func TestExecute_LedgerFailureMarksFailed(t *testing.T) {
	ctx := context.Background()
	listingStore := listing.NewMemoryStore()
	listings := listing.NewService(listingStore)
	policies := policy.NewService(policy.NewMemoryStore())
	store := NewMemoryStore()
	engine := NewEngine(store, listings, failingWallet{err: errors.New("ledger offline")}, policies, nil, nil)

	require.NoError(t, listings.Create(ctx, &listing.Listing{
		ID: "p1", SellerID: "seller", Title: "paid post", Price: decimal.NewFromInt(1000),
	}))
	require.NoError(t, listings.Publish(ctx, "p1"))
	listingStore.SetReviewedAt("p1", time.Now().AddDate(0, 0, -10))
	require.NoError(t, listings.Archive(ctx, "p1"))
	require.NoError(t, store.CreatePostPayment(ctx, &PostPayment{
		PostID: "p1", AccountID: "seller", AmountPaid: decimal.NewFromInt(100_000),
		WalletTransactionID: "txn-seed", CreatedAt: time.Now(),
	}))

	r, err := engine.CreateManual(ctx, "p1", "", nil, false)
	require.NoError(t, err)

	got, err := engine.Approve(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Contains(t, got.Reason, "ledger offline")

	// The row stays FAILED for manual follow up, never retried by the scan.
	created, err := engine.ScanOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, created)
}

func TestScan_HonorsConfiguredEarlyCancelWindow(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	// Widen the early window past the archive age; the same 10 day old
	// archive that defaults to CANCEL_LATE now refunds in full.
	cfg := policy.Defaults()
	cfg.EarlyCancelDays = 14
	_, err := f.policies.Update(ctx, cfg)
	require.NoError(t, err)

	f.seedPaidPost(t, "p1", "seller", 100_000, 10, listing.StatusArchived)

	created, err := f.engine.ScanOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, created)

	r, err := f.engine.GetByPost(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, ScenarioCancelEarly, r.Scenario)
	assert.Equal(t, int64(100), r.PolicyRatePercent)
	assert.Equal(t, "100000", f.balance(t, "seller").String())
}

func TestApprove_ConcurrentApproversPayOnce(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	f.seedPaidPost(t, "p1", "seller", 100_000, 10, listing.StatusArchived)

	r, err := f.engine.CreateManual(ctx, "p1", "", nil, false)
	require.NoError(t, err)
	require.Equal(t, StatusPending, r.Status)

	const approvers = 8
	errs := make([]error, approvers)
	var wg sync.WaitGroup
	for i := 0; i < approvers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, errs[n] = f.engine.Approve(ctx, r.ID)
		}(i)
	}
	wg.Wait()

	settled := 0
	for _, err := range errs {
		if err == nil {
			settled++
			continue
		}
		assert.ErrorIs(t, err, ErrInvalidStatus)
	}
	assert.Equal(t, 1, settled)

	got, err := f.engine.GetByPost(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, StatusRefunded, got.Status)
	assert.Equal(t, "70000", f.balance(t, "seller").String())
}

func TestApprove_RetriesFailedRefund(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	f.seedPaidPost(t, "p1", "seller", 100_000, 10, listing.StatusArchived)

	r, err := f.engine.CreateManual(ctx, "p1", "", nil, false)
	require.NoError(t, err)

	f.engine.wallets = failingWallet{err: errors.New("ledger offline")}
	got, err := f.engine.Approve(ctx, r.ID)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, got.Status)

	// A failed payout moved no funds, so the row may be settled again
	// once the ledger is back.
	f.engine.wallets = f.wallets
	got, err = f.engine.Approve(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRefunded, got.Status)
	assert.NotEmpty(t, got.WalletTransactionID)
	assert.Equal(t, "70000", f.balance(t, "seller").String())

	// Settled rows cannot be approved a second time.
	_, err = f.engine.Approve(ctx, r.ID)
	assert.ErrorIs(t, err, ErrInvalidStatus)
}
