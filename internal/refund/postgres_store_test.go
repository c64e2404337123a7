//go:build integration

package refund

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voltmarket/voltmarket/internal/listing"
	"github.com/voltmarket/voltmarket/internal/testutil"
)

type pgFixture struct {
	store    *PostgresStore
	listings *listing.Service
}

func setupPostgres(t *testing.T) (*pgFixture, func()) {
	t.Helper()

	db, cleanup := testutil.PGTest(t)
	return &pgFixture{
		store:    NewPostgresStore(db),
		listings: listing.NewService(listing.NewPostgresStore(db)),
	}, cleanup
}

// seedPost creates the listing row post_payments points at.
func (f *pgFixture) seedPost(t *testing.T, sellerID string) string {
	t.Helper()
	l := &listing.Listing{
		ID:       "lst_" + uuid.NewString(),
		SellerID: sellerID,
		Title:    "integration post",
		Price:    decimal.NewFromInt(100000),
	}
	require.NoError(t, f.listings.Create(context.Background(), l))
	return l.ID
}

func (f *pgFixture) seedPayment(t *testing.T, postID, sellerID string) {
	t.Helper()
	require.NoError(t, f.store.CreatePostPayment(context.Background(), &PostPayment{
		PostID:              postID,
		AccountID:           sellerID,
		AmountPaid:          decimal.NewFromInt(5000),
		WalletTransactionID: "tx_" + uuid.NewString(),
		CreatedAt:           time.Now().UTC(),
	}))
}

func TestPostgres_DuplicatePostPayment(t *testing.T) {
	f, cleanup := setupPostgres(t)
	defer cleanup()

	postID := f.seedPost(t, "it-seller-1")
	f.seedPayment(t, postID, "it-seller-1")

	err := f.store.CreatePostPayment(context.Background(), &PostPayment{
		PostID:     postID,
		AccountID:  "it-seller-1",
		AmountPaid: decimal.NewFromInt(5000),
	})
	assert.ErrorIs(t, err, ErrPostPaymentExists)
}

func TestPostgres_SecondRefundRejected(t *testing.T) {
	f, cleanup := setupPostgres(t)
	defer cleanup()
	ctx := context.Background()

	postID := f.seedPost(t, "it-seller-2")
	f.seedPayment(t, postID, "it-seller-2")

	first := &Refund{
		ID:                "ref_" + uuid.NewString(),
		PostID:            postID,
		AccountID:         "it-seller-2",
		Scenario:          ScenarioCancelLate,
		PolicyRatePercent: 70,
		AmountOriginal:    decimal.NewFromInt(5000),
		AmountRefund:      decimal.NewFromInt(3500),
		Status:            StatusPending,
		CreatedAt:         time.Now().UTC(),
		UpdatedAt:         time.Now().UTC(),
	}
	require.NoError(t, f.store.CreateRefund(ctx, first))

	second := *first
	second.ID = "ref_" + uuid.NewString()
	assert.ErrorIs(t, f.store.CreateRefund(ctx, &second), ErrAlreadyRefunded)

	got, err := f.store.GetRefundByPost(ctx, postID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)
}

// The UNIQUE constraint on post_id is what keeps a scanner and a manual
// reviewer from both settling the same post.
func TestPostgres_ConcurrentRefundInserts(t *testing.T) {
	f, cleanup := setupPostgres(t)
	defer cleanup()
	ctx := context.Background()

	postID := f.seedPost(t, "it-seller-3")
	f.seedPayment(t, postID, "it-seller-3")

	const workers = 10
	var wg sync.WaitGroup
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- f.store.CreateRefund(ctx, &Refund{
				ID:                "ref_" + uuid.NewString(),
				PostID:            postID,
				AccountID:         "it-seller-3",
				Scenario:          ScenarioExpired,
				PolicyRatePercent: 50,
				AmountOriginal:    decimal.NewFromInt(5000),
				AmountRefund:      decimal.NewFromInt(2500),
				Status:            StatusPending,
				CreatedAt:         time.Now().UTC(),
				UpdatedAt:         time.Now().UTC(),
			})
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, ErrAlreadyRefunded)
		}
	}
	assert.Equal(t, 1, succeeded)
}

func TestPostgres_UpdateRefundRoundTrip(t *testing.T) {
	f, cleanup := setupPostgres(t)
	defer cleanup()
	ctx := context.Background()

	postID := f.seedPost(t, "it-seller-4")
	f.seedPayment(t, postID, "it-seller-4")

	r := &Refund{
		ID:                "ref_" + uuid.NewString(),
		PostID:            postID,
		AccountID:         "it-seller-4",
		Scenario:          ScenarioCancelEarly,
		PolicyRatePercent: 100,
		AmountOriginal:    decimal.NewFromInt(5000),
		AmountRefund:      decimal.NewFromInt(5000),
		Status:            StatusPending,
		CreatedAt:         time.Now().UTC(),
		UpdatedAt:         time.Now().UTC(),
	}
	require.NoError(t, f.store.CreateRefund(ctx, r))

	now := time.Now().UTC()
	r.Status = StatusRefunded
	r.WalletTransactionID = "tx_settled"
	r.RefundedAt = &now
	require.NoError(t, f.store.UpdateRefund(ctx, r))

	got, err := f.store.GetRefund(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRefunded, got.Status)
	assert.Equal(t, "tx_settled", got.WalletTransactionID)
	require.NotNil(t, got.RefundedAt)
	assert.WithinDuration(t, now, *got.RefundedAt, time.Second)

	missing := &Refund{ID: "ref_missing", PostID: postID}
	assert.ErrorIs(t, f.store.UpdateRefund(ctx, missing), ErrRefundNotFound)
}

func TestPostgres_ListUnrefundedPostIDs(t *testing.T) {
	f, cleanup := setupPostgres(t)
	defer cleanup()
	ctx := context.Background()

	refunded := f.seedPost(t, "it-seller-5")
	open := f.seedPost(t, "it-seller-5")
	f.seedPayment(t, refunded, "it-seller-5")
	f.seedPayment(t, open, "it-seller-5")

	require.NoError(t, f.store.CreateRefund(ctx, &Refund{
		ID:             "ref_" + uuid.NewString(),
		PostID:         refunded,
		AccountID:      "it-seller-5",
		Scenario:       ScenarioCancelLate,
		AmountOriginal: decimal.NewFromInt(5000),
		AmountRefund:   decimal.NewFromInt(3500),
		Status:         StatusRefunded,
		CreatedAt:      time.Now().UTC(),
		UpdatedAt:      time.Now().UTC(),
	}))

	ids, err := f.store.ListUnrefundedPostIDs(ctx, 100)
	require.NoError(t, err)
	assert.Contains(t, ids, open)
	assert.NotContains(t, ids, refunded)
}
