// Package wallet is the marketplace balance and transaction ledger.
//
// Flow:
//  1. Account tops up wallet (external payment, out of scope) → credit
//  2. Buy-now places an escrow hold → debit tagged BUY_HOLD
//  3. Order completion pays out the seller → credit tagged SALE_PAYOUT
//  4. Refund engine returns deposits → credit tagged POST_REFUND
//
// The cached balance column always equals the signed sum of the wallet's
// transactions; transactions are append-only and never mutated. Every debit
// checks the balance and writes the ledger entry inside one atomic unit so
// two concurrent debits cannot both pass a stale check.
package wallet

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/voltmarket/voltmarket/internal/metrics"
	"github.com/voltmarket/voltmarket/internal/servicetype"
)

var (
	ErrWalletNotFound      = errors.New("wallet: not found")
	ErrInsufficientBalance = errors.New("wallet: insufficient balance")
	ErrInvalidAmount       = errors.New("wallet: invalid amount")
)

// Wallet holds one account's cached balance.
type Wallet struct {
	OwnerID   string          `json:"ownerId"`
	Balance   decimal.Decimal `json:"balance"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Transaction is one immutable ledger entry. Amount is signed: credits are
// positive, debits negative.
type Transaction struct {
	ID              string          `json:"id"`
	OwnerID         string          `json:"ownerId"`
	Amount          decimal.Decimal `json:"amount"`
	ServiceTypeID   int64           `json:"serviceTypeId"`
	ServiceTypeCode string          `json:"serviceTypeCode"`
	Description     string          `json:"description,omitempty"`
	RelatedType     string          `json:"relatedType,omitempty"`
	RelatedID       string          `json:"relatedId,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
}

// Ref back-references the entity a transaction was written for. It is an
// audit pointer, never an ownership link.
type Ref struct {
	Type string
	ID   string
}

// Store persists wallets and their transaction log. Credit and Debit must be
// atomic: balance update and ledger insert commit together or not at all.
type Store interface {
	Get(ctx context.Context, ownerID string) (*Wallet, error)
	// Credit adds funds, lazily creating the wallet row.
	Credit(ctx context.Context, ownerID string, amount decimal.Decimal, serviceTypeCode, description string, related Ref) (*Wallet, *Transaction, error)
	// Debit removes funds, failing with ErrInsufficientBalance when the
	// wallet cannot cover the amount. The check and the write happen under
	// a write lock on the wallet row.
	Debit(ctx context.Context, ownerID string, amount decimal.Decimal, serviceTypeCode, description string, related Ref) (*Wallet, *Transaction, error)
	History(ctx context.Context, ownerID string, limit int) ([]*Transaction, error)
	// SumTransactions recomputes the balance from the log, for audits.
	SumTransactions(ctx context.Context, ownerID string) (decimal.Decimal, error)
}

// Service is the wallet ledger engine.
type Service struct {
	store Store
}

// NewService creates a new wallet service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// TopUp credits an account's wallet. Credits cannot be insufficient; the
// wallet row is created on first use.
func (s *Service) TopUp(ctx context.Context, ownerID string, amount decimal.Decimal, description string, related Ref) (*Wallet, *Transaction, error) {
	return s.Credit(ctx, ownerID, amount, servicetype.CodeWalletTopUp, description, related)
}

// Credit adds funds under an explicit service-type tag (seller payouts,
// platform commission).
func (s *Service) Credit(ctx context.Context, ownerID string, amount decimal.Decimal, serviceTypeCode, description string, related Ref) (*Wallet, *Transaction, error) {
	if !amount.IsPositive() {
		return nil, nil, ErrInvalidAmount
	}
	w, tx, err := s.store.Credit(ctx, ownerID, amount, serviceTypeCode, description, related)
	if err == nil {
		metrics.WalletTransactionsTotal.WithLabelValues(serviceTypeCode).Inc()
	}
	return w, tx, err
}

// Deduct debits an account's wallet under the store's atomicity contract.
func (s *Service) Deduct(ctx context.Context, ownerID string, amount decimal.Decimal, serviceTypeCode, description string, related Ref) (*Wallet, *Transaction, error) {
	if !amount.IsPositive() {
		return nil, nil, ErrInvalidAmount
	}
	w, tx, err := s.store.Debit(ctx, ownerID, amount, serviceTypeCode, description, related)
	if err == nil {
		metrics.WalletTransactionsTotal.WithLabelValues(serviceTypeCode).Inc()
	}
	return w, tx, err
}

// Refund credits funds back. Semantically a top-up restricted to refund
// callers, tagged with the caller's service type.
func (s *Service) Refund(ctx context.Context, ownerID string, amount decimal.Decimal, serviceTypeCode, description string, related Ref) (*Wallet, *Transaction, error) {
	return s.Credit(ctx, ownerID, amount, serviceTypeCode, description, related)
}

// Balance returns the wallet for an account, zero-valued when the account
// has never transacted.
func (s *Service) Balance(ctx context.Context, ownerID string) (*Wallet, error) {
	w, err := s.store.Get(ctx, ownerID)
	if errors.Is(err, ErrWalletNotFound) {
		return &Wallet{OwnerID: ownerID, Balance: decimal.Zero, UpdatedAt: time.Now()}, nil
	}
	return w, err
}

// History returns a wallet's most recent transactions.
func (s *Service) History(ctx context.Context, ownerID string, limit int) ([]*Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	return s.store.History(ctx, ownerID, limit)
}

// Audit recomputes a wallet's balance from its transaction log and reports
// whether the cached balance matches.
func (s *Service) Audit(ctx context.Context, ownerID string) (cached, derived decimal.Decimal, consistent bool, err error) {
	w, err := s.Balance(ctx, ownerID)
	if err != nil {
		return decimal.Zero, decimal.Zero, false, err
	}
	sum, err := s.store.SumTransactions(ctx, ownerID)
	if err != nil {
		return decimal.Zero, decimal.Zero, false, err
	}
	return w.Balance, sum, w.Balance.Equal(sum), nil
}
