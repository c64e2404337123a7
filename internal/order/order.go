// Package order models the escrow purchase of a listing.
//
// Flow:
//  1. Buyer hits buy-now → wallet hold, listing locked, order created
//  2. Seller accepts → PROCESSING, or rejects → hold refunded, listing back up
//  3. Buyer confirms receipt → seller paid out minus commission, listing sold
//  4. Buyer cancels before seller acts → full refund
//  5. Either party disputes during PROCESSING → frozen for manual resolution
//
// Transitions are a strict DAG: WAITING_SELLER_CONFIRM → {PROCESSING,
// CANCELLED}; PROCESSING → {COMPLETED, DISPUTE}; nothing leaves a terminal
// state. Every transition that moves money aborts wholesale when the ledger
// write fails.
package order

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/voltmarket/voltmarket/internal/listing"
	"github.com/voltmarket/voltmarket/internal/metrics"
	"github.com/voltmarket/voltmarket/internal/money"
	"github.com/voltmarket/voltmarket/internal/servicetype"
	"github.com/voltmarket/voltmarket/internal/wallet"
)

var (
	ErrOrderNotFound       = errors.New("order: not found")
	ErrForbidden           = errors.New("order: caller is not a party to this operation")
	ErrInvalidState        = errors.New("order: invalid status for this operation")
	ErrSelfPurchase        = errors.New("order: buyer and seller cannot be the same account")
	ErrListingBusy         = errors.New("order: listing already has an active order")
	ErrListingNotAvailable = errors.New("order: listing is not published")
)

// Status is the order's position in the escrow lifecycle.
type Status string

const (
	StatusWaitingSellerConfirm Status = "WAITING_SELLER_CONFIRM"
	StatusProcessing           Status = "PROCESSING"
	StatusCompleted            Status = "COMPLETED"
	StatusCancelled            Status = "CANCELLED"
	StatusDispute              Status = "DISPUTE"
)

// Order is one escrow purchase. Cancelled orders are kept for audit, never
// deleted.
type Order struct {
	ID                  string          `json:"id"`
	Code                string          `json:"code"`
	BuyerID             string          `json:"buyerId"`
	SellerID            string          `json:"sellerId"`
	ListingID           string          `json:"listingId"`
	Amount              decimal.Decimal `json:"amount"`
	CommissionFee       decimal.Decimal `json:"commissionFee"`
	SellerReceiveAmount decimal.Decimal `json:"sellerReceiveAmount"`
	Status              Status          `json:"status"`
	Note                string          `json:"note,omitempty"`
	ConfirmedAt         *time.Time      `json:"confirmedAt,omitempty"`
	CompletedAt         *time.Time      `json:"completedAt,omitempty"`
	CancelledAt         *time.Time      `json:"cancelledAt,omitempty"`
	CreatedAt           time.Time       `json:"createdAt"`
	UpdatedAt           time.Time       `json:"updatedAt"`
}

// IsTerminal reports whether no further transition is allowed.
func (o *Order) IsTerminal() bool {
	switch o.Status {
	case StatusCompleted, StatusCancelled, StatusDispute:
		return true
	}
	return false
}

// Store persists orders.
type Store interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	Update(ctx context.Context, o *Order) error
	// HasActiveForListing reports whether a WAITING_SELLER_CONFIRM or
	// PROCESSING order exists for the listing.
	HasActiveForListing(ctx context.Context, listingID string) (bool, error)
	// ListByAccount returns orders where the account is buyer ("buyer"),
	// seller ("seller"), or either ("").
	ListByAccount(ctx context.Context, accountID, role string, limit int) ([]*Order, error)
}

// ListingService is the slice of the listing package the order machine
// needs: reads plus the status flips tied to order transitions.
type ListingService interface {
	Get(ctx context.Context, id string) (*listing.Listing, error)
	Lock(ctx context.Context, id string) error
	Unlock(ctx context.Context, id string) error
	MarkSold(ctx context.Context, id string) error
}

// WalletService moves the money for order transitions.
type WalletService interface {
	Deduct(ctx context.Context, ownerID string, amount decimal.Decimal, serviceTypeCode, description string, related wallet.Ref) (*wallet.Wallet, *wallet.Transaction, error)
	Credit(ctx context.Context, ownerID string, amount decimal.Decimal, serviceTypeCode, description string, related wallet.Ref) (*wallet.Wallet, *wallet.Transaction, error)
	Refund(ctx context.Context, ownerID string, amount decimal.Decimal, serviceTypeCode, description string, related wallet.Ref) (*wallet.Wallet, *wallet.Transaction, error)
}

// FeePolicy supplies the commission rate for an order amount.
type FeePolicy interface {
	CommissionRateFor(ctx context.Context, price decimal.Decimal) (int64, error)
}

// Service implements the order state machine.
type Service struct {
	store           Store
	listings        ListingService
	wallets         WalletService
	fees            FeePolicy
	platformAccount string
	locks           sync.Map // per-order ID locks serializing transitions
}

// NewService creates an order service. platformAccount is the account
// credited with commission fees; it is injected configuration, never a
// compile-time constant.
func NewService(store Store, listings ListingService, wallets WalletService, fees FeePolicy, platformAccount string) *Service {
	return &Service{
		store:           store,
		listings:        listings,
		wallets:         wallets,
		fees:            fees,
		platformAccount: platformAccount,
	}
}

// orderLock returns a mutex for the given order ID.
func (s *Service) orderLock(id string) *sync.Mutex {
	v, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// Create runs buy-now: hold the buyer's funds, lock the listing, insert the
// order. The conditional listing lock is the serialization point; of two
// concurrent buyers exactly one wins it, and every later step unwinds all
// earlier ones on failure so no partial hold survives.
func (s *Service) Create(ctx context.Context, buyerID, listingID, note string) (*Order, error) {
	l, err := s.listings.Get(ctx, listingID)
	if err != nil {
		if errors.Is(err, listing.ErrNotFound) {
			return nil, listing.ErrNotFound
		}
		return nil, err
	}
	if l.SellerID == buyerID {
		return nil, ErrSelfPurchase
	}
	if l.Status != listing.StatusPublished {
		if l.Status == listing.StatusLocked {
			return nil, ErrListingBusy
		}
		return nil, ErrListingNotAvailable
	}

	active, err := s.store.HasActiveForListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if active {
		return nil, ErrListingBusy
	}

	if err := s.listings.Lock(ctx, listingID); err != nil {
		if errors.Is(err, listing.ErrNotAvailable) {
			return nil, ErrListingBusy
		}
		return nil, fmt.Errorf("failed to lock listing: %w", err)
	}

	now := time.Now()
	o := &Order{
		ID:                  generateOrderID(),
		Code:                generateOrderCode(),
		BuyerID:             buyerID,
		SellerID:            l.SellerID,
		ListingID:           listingID,
		Amount:              l.Price,
		CommissionFee:       decimal.Zero,
		SellerReceiveAmount: decimal.Zero,
		Status:              StatusWaitingSellerConfirm,
		Note:                note,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	_, _, err = s.wallets.Deduct(ctx, buyerID, o.Amount, servicetype.CodeBuyHold,
		fmt.Sprintf("escrow hold for order %s", o.Code), wallet.Ref{Type: "order", ID: o.ID})
	if err != nil {
		// Give the listing back before surfacing the failure.
		_ = s.listings.Unlock(ctx, listingID)
		return nil, err
	}

	if err := s.store.Create(ctx, o); err != nil {
		_, _, refundErr := s.wallets.Refund(ctx, buyerID, o.Amount, servicetype.CodeBuyRefund,
			fmt.Sprintf("unwound hold for order %s", o.Code), wallet.Ref{Type: "order", ID: o.ID})
		if refundErr != nil {
			log.Printf("CRITICAL: order %s hold taken but insert failed and refund failed: %v / %v",
				o.ID, err, refundErr)
		}
		_ = s.listings.Unlock(ctx, listingID)
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	metrics.OrderTransitionsTotal.WithLabelValues(string(o.Status)).Inc()
	return o, nil
}

// SellerConfirm handles the seller's accept/reject decision on a fresh order.
func (s *Service) SellerConfirm(ctx context.Context, orderID, callerID string, accept bool) (*Order, error) {
	mu := s.orderLock(orderID)
	mu.Lock()
	defer mu.Unlock()

	o, err := s.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.SellerID != callerID {
		return nil, ErrForbidden
	}
	if o.Status != StatusWaitingSellerConfirm {
		return nil, ErrInvalidState
	}

	now := time.Now()
	if accept {
		o.Status = StatusProcessing
		o.ConfirmedAt = &now
		o.UpdatedAt = now
		if err := s.store.Update(ctx, o); err != nil {
			return nil, err
		}
		metrics.OrderTransitionsTotal.WithLabelValues(string(o.Status)).Inc()
		return o, nil
	}

	// Reject: give the buyer their hold back, then unwind the order.
	_, _, err = s.wallets.Refund(ctx, o.BuyerID, o.Amount, servicetype.CodeBuyRefund,
		fmt.Sprintf("seller rejected order %s", o.Code), wallet.Ref{Type: "order", ID: o.ID})
	if err != nil {
		return nil, fmt.Errorf("failed to refund buyer: %w", err)
	}

	o.Status = StatusCancelled
	o.CancelledAt = &now
	o.UpdatedAt = now
	if err := s.store.Update(ctx, o); err != nil {
		// Funds already moved; persist the state change or flag for manual fix.
		if retryErr := s.store.Update(ctx, o); retryErr != nil {
			log.Printf("CRITICAL: order %s buyer refunded but status update failed: %v", o.ID, retryErr)
			return nil, fmt.Errorf("failed to update order after refund (requires manual resolution): %w", err)
		}
	}
	if err := s.listings.Unlock(ctx, o.ListingID); err != nil {
		log.Printf("order %s cancelled but listing %s unlock failed: %v", o.ID, o.ListingID, err)
	}
	metrics.OrderTransitionsTotal.WithLabelValues(string(o.Status)).Inc()
	return o, nil
}

// Complete is the buyer confirming receipt: split the held amount into
// commission and seller payout, credit both, mark the listing sold.
func (s *Service) Complete(ctx context.Context, orderID, callerID string) (*Order, error) {
	mu := s.orderLock(orderID)
	mu.Lock()
	defer mu.Unlock()

	o, err := s.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.BuyerID != callerID {
		return nil, ErrForbidden
	}
	if o.Status != StatusProcessing {
		return nil, ErrInvalidState
	}

	rate, err := s.fees.CommissionRateFor(ctx, o.Amount)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve commission rate: %w", err)
	}
	fee, payout := money.SplitCommission(o.Amount, rate)

	_, _, err = s.wallets.Credit(ctx, o.SellerID, payout, servicetype.CodeSalePayout,
		fmt.Sprintf("payout for order %s", o.Code), wallet.Ref{Type: "order", ID: o.ID})
	if err != nil {
		return nil, fmt.Errorf("failed to pay out seller: %w", err)
	}

	if fee.IsPositive() {
		_, _, err = s.wallets.Credit(ctx, s.platformAccount, fee, servicetype.CodeCommissionFee,
			fmt.Sprintf("commission for order %s", o.Code), wallet.Ref{Type: "order", ID: o.ID})
		if err != nil {
			log.Printf("CRITICAL: order %s seller paid but commission credit failed: %v", o.ID, err)
			return nil, fmt.Errorf("failed to credit commission (requires manual resolution): %w", err)
		}
	}

	now := time.Now()
	o.CommissionFee = fee
	o.SellerReceiveAmount = payout
	o.Status = StatusCompleted
	o.CompletedAt = &now
	o.UpdatedAt = now
	if err := s.store.Update(ctx, o); err != nil {
		if retryErr := s.store.Update(ctx, o); retryErr != nil {
			log.Printf("CRITICAL: order %s paid out but status update failed: %v", o.ID, retryErr)
			return nil, fmt.Errorf("failed to update order after payout (requires manual resolution): %w", err)
		}
	}
	if err := s.listings.MarkSold(ctx, o.ListingID); err != nil {
		log.Printf("order %s completed but listing %s sold flip failed: %v", o.ID, o.ListingID, err)
	}
	metrics.OrderTransitionsTotal.WithLabelValues(string(o.Status)).Inc()
	return o, nil
}

// Cancel is the buyer backing out before the seller has confirmed.
func (s *Service) Cancel(ctx context.Context, orderID, callerID string) (*Order, error) {
	mu := s.orderLock(orderID)
	mu.Lock()
	defer mu.Unlock()

	o, err := s.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.BuyerID != callerID {
		return nil, ErrForbidden
	}
	if o.Status != StatusWaitingSellerConfirm {
		return nil, ErrInvalidState
	}

	_, _, err = s.wallets.Refund(ctx, o.BuyerID, o.Amount, servicetype.CodeBuyRefund,
		fmt.Sprintf("buyer cancelled order %s", o.Code), wallet.Ref{Type: "order", ID: o.ID})
	if err != nil {
		return nil, fmt.Errorf("failed to refund buyer: %w", err)
	}

	now := time.Now()
	o.Status = StatusCancelled
	o.CancelledAt = &now
	o.UpdatedAt = now
	if err := s.store.Update(ctx, o); err != nil {
		if retryErr := s.store.Update(ctx, o); retryErr != nil {
			log.Printf("CRITICAL: order %s buyer refunded but status update failed: %v", o.ID, retryErr)
			return nil, fmt.Errorf("failed to update order after refund (requires manual resolution): %w", err)
		}
	}
	if err := s.listings.Unlock(ctx, o.ListingID); err != nil {
		log.Printf("order %s cancelled but listing %s unlock failed: %v", o.ID, o.ListingID, err)
	}
	metrics.OrderTransitionsTotal.WithLabelValues(string(o.Status)).Inc()
	return o, nil
}

// Dispute freezes a PROCESSING order for manual resolution. No funds move.
func (s *Service) Dispute(ctx context.Context, orderID, callerID, reason string) (*Order, error) {
	mu := s.orderLock(orderID)
	mu.Lock()
	defer mu.Unlock()

	o, err := s.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.BuyerID != callerID && o.SellerID != callerID {
		return nil, ErrForbidden
	}
	if o.Status != StatusProcessing {
		return nil, ErrInvalidState
	}

	now := time.Now()
	o.Status = StatusDispute
	if reason != "" {
		o.Note = reason
	}
	o.UpdatedAt = now
	if err := s.store.Update(ctx, o); err != nil {
		return nil, err
	}
	metrics.OrderTransitionsTotal.WithLabelValues(string(o.Status)).Inc()
	return o, nil
}

// Get returns an order by ID.
func (s *Service) Get(ctx context.Context, id string) (*Order, error) {
	return s.store.Get(ctx, id)
}

// ListByAccount returns orders involving an account.
func (s *Service) ListByAccount(ctx context.Context, accountID, role string, limit int) ([]*Order, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	return s.store.ListByAccount(ctx, accountID, role, limit)
}

const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

func generateOrderID() string {
	return "ord_" + uuid.NewString()
}

// generateOrderCode returns the human-readable code shown to both parties.
func generateOrderCode() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	for i := range b {
		b[i] = codeAlphabet[int(b[i])%len(codeAlphabet)]
	}
	return "ORD-" + string(b)
}
