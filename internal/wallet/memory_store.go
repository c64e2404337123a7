package wallet

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/voltmarket/voltmarket/internal/servicetype"
)

// MemoryStore is an in-memory wallet store for demo/development mode.
// A single mutex gives the same atomicity the Postgres store gets from
// row locks: check and write never interleave between two debits.
type MemoryStore struct {
	mu      sync.Mutex
	wallets map[string]*Wallet
	txns    map[string][]*Transaction
	types   *servicetype.Registry
}

// NewMemoryStore creates a new in-memory wallet store.
func NewMemoryStore(types *servicetype.Registry) *MemoryStore {
	return &MemoryStore{
		wallets: make(map[string]*Wallet),
		txns:    make(map[string][]*Transaction),
		types:   types,
	}
}

func (m *MemoryStore) Get(ctx context.Context, ownerID string) (*Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.wallets[ownerID]
	if !ok {
		return nil, ErrWalletNotFound
	}
	cp := *w
	return &cp, nil
}

func (m *MemoryStore) Credit(ctx context.Context, ownerID string, amount decimal.Decimal, serviceTypeCode, description string, related Ref) (*Wallet, *Transaction, error) {
	st, err := m.types.Ensure(ctx, serviceTypeCode)
	if err != nil {
		return nil, nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.wallets[ownerID]
	if !ok {
		w = &Wallet{OwnerID: ownerID, Balance: decimal.Zero}
		m.wallets[ownerID] = w
	}
	w.Balance = w.Balance.Add(amount)
	w.UpdatedAt = time.Now()

	txn := m.append(ownerID, amount, st, description, related)
	cp := *w
	return &cp, txn, nil
}

func (m *MemoryStore) Debit(ctx context.Context, ownerID string, amount decimal.Decimal, serviceTypeCode, description string, related Ref) (*Wallet, *Transaction, error) {
	st, err := m.types.Ensure(ctx, serviceTypeCode)
	if err != nil {
		return nil, nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.wallets[ownerID]
	if !ok || w.Balance.LessThan(amount) {
		return nil, nil, ErrInsufficientBalance
	}
	w.Balance = w.Balance.Sub(amount)
	w.UpdatedAt = time.Now()

	txn := m.append(ownerID, amount.Neg(), st, description, related)
	cp := *w
	return &cp, txn, nil
}

// append writes a ledger entry; callers hold the lock.
func (m *MemoryStore) append(ownerID string, amount decimal.Decimal, st *servicetype.ServiceType, description string, related Ref) *Transaction {
	txn := &Transaction{
		ID:              uuid.NewString(),
		OwnerID:         ownerID,
		Amount:          amount,
		ServiceTypeID:   st.ID,
		ServiceTypeCode: st.Code,
		Description:     description,
		RelatedType:     related.Type,
		RelatedID:       related.ID,
		CreatedAt:       time.Now(),
	}
	m.txns[ownerID] = append(m.txns[ownerID], txn)
	cp := *txn
	return &cp
}

func (m *MemoryStore) History(ctx context.Context, ownerID string, limit int) ([]*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	all := m.txns[ownerID]
	var result []*Transaction
	for i := len(all) - 1; i >= 0 && len(result) < limit; i-- {
		cp := *all[i]
		result = append(result, &cp)
	}
	return result, nil
}

func (m *MemoryStore) SumTransactions(ctx context.Context, ownerID string) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sum := decimal.Zero
	for _, t := range m.txns[ownerID] {
		sum = sum.Add(t.Amount)
	}
	return sum, nil
}
