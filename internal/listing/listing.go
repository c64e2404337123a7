// Package listing holds the catalog state the order machine and refund
// engine act on. Content management (titles, media, taxonomy) lives in the
// surrounding CRUD layer; this package only models price, ownership, and the
// status transitions money-moving code depends on.
package listing

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound     = errors.New("listing: not found")
	ErrNotAvailable = errors.New("listing: not available")
)

// Status is the lifecycle state of a listing.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusPublished Status = "PUBLISHED"
	StatusLocked    Status = "LOCKED" // an escrow order holds this listing
	StatusSold      Status = "SOLD"
	StatusArchived  Status = "ARCHIVED" // seller took it down
)

// Listing is one catalog item.
type Listing struct {
	ID         string          `json:"id"`
	SellerID   string          `json:"sellerId"`
	Title      string          `json:"title"`
	Price      decimal.Decimal `json:"price"`
	Status     Status          `json:"status"`
	ReviewedAt *time.Time      `json:"reviewedAt,omitempty"`
	ArchivedAt *time.Time      `json:"archivedAt,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

// Store persists listings. The conditional transitions (Lock, Unlock,
// MarkSold) succeed only from the expected prior status; that conditional
// update is the serialization point that keeps two buyers from locking the
// same listing.
type Store interface {
	Create(ctx context.Context, l *Listing) error
	Get(ctx context.Context, id string) (*Listing, error)
	// Lock flips PUBLISHED → LOCKED, ErrNotAvailable otherwise.
	Lock(ctx context.Context, id string) error
	// Unlock flips LOCKED → PUBLISHED.
	Unlock(ctx context.Context, id string) error
	// MarkSold flips LOCKED → SOLD.
	MarkSold(ctx context.Context, id string) error
	// Archive flips PUBLISHED → ARCHIVED and stamps archivedAt.
	Archive(ctx context.Context, id string) error
	// Publish flips DRAFT → PUBLISHED and stamps reviewedAt.
	Publish(ctx context.Context, id string) error
}

// Service exposes listing state to the rest of the core.
type Service struct {
	store Store
}

// NewService creates a listing service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

func (s *Service) Create(ctx context.Context, l *Listing) error {
	if l.Status == "" {
		l.Status = StatusDraft
	}
	now := time.Now()
	l.CreatedAt = now
	l.UpdatedAt = now
	return s.store.Create(ctx, l)
}

func (s *Service) Get(ctx context.Context, id string) (*Listing, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) Publish(ctx context.Context, id string) error {
	return s.store.Publish(ctx, id)
}

func (s *Service) Lock(ctx context.Context, id string) error {
	return s.store.Lock(ctx, id)
}

func (s *Service) Unlock(ctx context.Context, id string) error {
	return s.store.Unlock(ctx, id)
}

func (s *Service) MarkSold(ctx context.Context, id string) error {
	return s.store.MarkSold(ctx, id)
}

func (s *Service) Archive(ctx context.Context, id string) error {
	return s.store.Archive(ctx, id)
}
