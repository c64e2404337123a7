package listing

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPublished(t *testing.T, svc *Service, id string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, svc.Create(ctx, &Listing{
		ID:       id,
		SellerID: "seller-1",
		Title:    "VinFast Klara S",
		Price:    decimal.NewFromInt(1_000_000),
	}))
	require.NoError(t, svc.Publish(ctx, id))
}

func TestLock_OnlyFromPublished(t *testing.T) {
	svc := NewService(NewMemoryStore())
	ctx := context.Background()
	newPublished(t, svc, "l1")

	require.NoError(t, svc.Lock(ctx, "l1"))

	// Second lock fails: the listing is already LOCKED.
	assert.ErrorIs(t, svc.Lock(ctx, "l1"), ErrNotAvailable)

	l, err := svc.Get(ctx, "l1")
	require.NoError(t, err)
	assert.Equal(t, StatusLocked, l.Status)
}

func TestConcurrentLock_SingleWinner(t *testing.T) {
	svc := NewService(NewMemoryStore())
	newPublished(t, svc, "l1")

	const buyers = 10
	var wg sync.WaitGroup
	wins := make(chan struct{}, buyers)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := svc.Lock(context.Background(), "l1"); err == nil {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	assert.Len(t, wins, 1, "exactly one buyer may lock a listing")
}

func TestUnlockAndSold(t *testing.T) {
	svc := NewService(NewMemoryStore())
	ctx := context.Background()
	newPublished(t, svc, "l1")

	require.NoError(t, svc.Lock(ctx, "l1"))
	require.NoError(t, svc.Unlock(ctx, "l1"))

	l, _ := svc.Get(ctx, "l1")
	assert.Equal(t, StatusPublished, l.Status)

	require.NoError(t, svc.Lock(ctx, "l1"))
	require.NoError(t, svc.MarkSold(ctx, "l1"))

	l, _ = svc.Get(ctx, "l1")
	assert.Equal(t, StatusSold, l.Status)

	// Sold is terminal for this core.
	assert.ErrorIs(t, svc.Lock(ctx, "l1"), ErrNotAvailable)
	assert.ErrorIs(t, svc.Unlock(ctx, "l1"), ErrNotAvailable)
}

func TestArchive_StampsArchivedAt(t *testing.T) {
	svc := NewService(NewMemoryStore())
	ctx := context.Background()
	newPublished(t, svc, "l1")

	require.NoError(t, svc.Archive(ctx, "l1"))
	l, err := svc.Get(ctx, "l1")
	require.NoError(t, err)
	assert.Equal(t, StatusArchived, l.Status)
	require.NotNil(t, l.ArchivedAt)
	require.NotNil(t, l.ReviewedAt)
}

func TestGet_Missing(t *testing.T) {
	svc := NewService(NewMemoryStore())
	_, err := svc.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}
