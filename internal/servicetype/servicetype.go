// Package servicetype tags wallet transactions with their business purpose.
//
// Service types are auto-provisioned: the first ledger write that references
// a code creates the row. Creation is find-or-create under a row lock so two
// concurrent writers racing on the same code both end up with the one row.
package servicetype

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound  = errors.New("servicetype: not found")
	ErrCodeTaken = errors.New("servicetype: code already exists")
)

// Well-known codes used by the wallet, order, and refund engines.
const (
	CodeWalletTopUp   = "WALLET_TOPUP"
	CodeBuyHold       = "BUY_HOLD"
	CodeBuyRefund     = "BUY_REFUND"
	CodeSalePayout    = "SALE_PAYOUT"
	CodeCommissionFee = "COMMISSION_FEE"
	CodePostPayment   = "POST_PAYMENT"
	CodePostRefund    = "POST_REFUND"
)

// displayNames supplies default metadata for auto-provisioned codes.
var displayNames = map[string]string{
	CodeWalletTopUp:   "Wallet top-up",
	CodeBuyHold:       "Buy-now escrow hold",
	CodeBuyRefund:     "Buy-now refund",
	CodeSalePayout:    "Sale payout",
	CodeCommissionFee: "Platform commission",
	CodePostPayment:   "Post service fee",
	CodePostRefund:    "Post service fee refund",
}

// ServiceType describes one transaction purpose.
type ServiceType struct {
	ID          int64     `json:"id"`
	Code        string    `json:"code"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	IsActive    bool      `json:"isActive"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Store persists service types.
type Store interface {
	GetByCode(ctx context.Context, code string) (*ServiceType, error)
	// EnsureByCode returns the row for code, creating it if absent. A
	// concurrent creator losing the insert race must re-read and return
	// the winner's row, never a duplicate-key error.
	EnsureByCode(ctx context.Context, code string) (*ServiceType, error)
	Create(ctx context.Context, st *ServiceType) error
	List(ctx context.Context) ([]*ServiceType, error)
}

// Registry is the lookup service consulted by the wallet ledger.
type Registry struct {
	store Store
}

// NewRegistry creates a service-type registry.
func NewRegistry(store Store) *Registry {
	return &Registry{store: store}
}

// Ensure resolves a code to its service type, provisioning it on first use.
func (r *Registry) Ensure(ctx context.Context, code string) (*ServiceType, error) {
	return r.store.EnsureByCode(ctx, code)
}

// Get looks up a code without provisioning.
func (r *Registry) Get(ctx context.Context, code string) (*ServiceType, error) {
	return r.store.GetByCode(ctx, code)
}

// Create registers a code with explicit display metadata, for codes added
// by operators rather than auto-provisioned by the ledger.
func (r *Registry) Create(ctx context.Context, st *ServiceType) error {
	return r.store.Create(ctx, st)
}

// List returns all registered service types.
func (r *Registry) List(ctx context.Context) ([]*ServiceType, error) {
	return r.store.List(ctx)
}

// defaultName returns display metadata for a code.
func defaultName(code string) string {
	if name, ok := displayNames[code]; ok {
		return name
	}
	return code
}
