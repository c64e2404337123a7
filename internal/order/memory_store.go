package order

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory order store for demo/development mode.
type MemoryStore struct {
	mu     sync.RWMutex
	orders map[string]*Order
}

// NewMemoryStore creates a new in-memory order store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{orders: make(map[string]*Order)}
}

func (m *MemoryStore) Create(ctx context.Context, o *Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *o
	m.orders[o.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	o, ok := m.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *MemoryStore) Update(ctx context.Context, o *Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.orders[o.ID]; !ok {
		return ErrOrderNotFound
	}
	cp := *o
	m.orders[o.ID] = &cp
	return nil
}

func (m *MemoryStore) HasActiveForListing(ctx context.Context, listingID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, o := range m.orders {
		if o.ListingID == listingID &&
			(o.Status == StatusWaitingSellerConfirm || o.Status == StatusProcessing) {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) ListByAccount(ctx context.Context, accountID, role string, limit int) ([]*Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Order
	for _, o := range m.orders {
		match := false
		switch role {
		case "buyer":
			match = o.BuyerID == accountID
		case "seller":
			match = o.SellerID == accountID
		default:
			match = o.BuyerID == accountID || o.SellerID == accountID
		}
		if match {
			cp := *o
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}
