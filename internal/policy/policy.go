// Package policy holds the marketplace's money-moving configuration: refund
// scenario rates, day thresholds, listing lifecycle, and the commission fee
// bands. One near-singleton config row plus a small fee-tier table, mutated
// only through the admin endpoints.
package policy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var ErrNotFound = errors.New("policy: not found")

// Config is the refund/lifecycle policy row.
type Config struct {
	// CommissionRatePercent is the flat commission fallback when no fee
	// tier matches the order amount.
	CommissionRatePercent int64 `json:"commissionRatePercent"`

	// EarlyCancelDays separates CANCEL_EARLY from CANCEL_LATE, measured
	// in days since the listing passed review.
	EarlyCancelDays         int   `json:"earlyCancelDays"`
	CancelEarlyRatePercent  int64 `json:"cancelEarlyRatePercent"`
	CancelLateRatePercent   int64 `json:"cancelLateRatePercent"`
	ExpiredRatePercent      int64 `json:"expiredRatePercent"`
	ChatActivityRatePercent int64 `json:"chatActivityRatePercent"`

	// LifecycleDays is how long a published listing stays fresh before it
	// counts as expired for refund purposes.
	LifecycleDays int `json:"lifecycleDays"`

	UpdatedAt time.Time `json:"updatedAt"`
}

// Defaults returns the stock policy.
func Defaults() Config {
	return Config{
		CommissionRatePercent:   5,
		EarlyCancelDays:         7,
		CancelEarlyRatePercent:  100,
		CancelLateRatePercent:   70,
		ExpiredRatePercent:      50,
		ChatActivityRatePercent: 80,
		LifecycleDays:           60,
	}
}

// Validate rejects rates outside 0..100 and non-positive thresholds.
func (c Config) Validate() error {
	rates := map[string]int64{
		"commissionRatePercent":   c.CommissionRatePercent,
		"cancelEarlyRatePercent":  c.CancelEarlyRatePercent,
		"cancelLateRatePercent":   c.CancelLateRatePercent,
		"expiredRatePercent":      c.ExpiredRatePercent,
		"chatActivityRatePercent": c.ChatActivityRatePercent,
	}
	for name, r := range rates {
		if r < 0 || r > 100 {
			return fmt.Errorf("policy: %s must be 0..100, got %d", name, r)
		}
	}
	if c.EarlyCancelDays <= 0 {
		return fmt.Errorf("policy: earlyCancelDays must be positive")
	}
	if c.LifecycleDays <= 0 {
		return fmt.Errorf("policy: lifecycleDays must be positive")
	}
	return nil
}

// FeeTier is one commission band: orders whose amount falls inside
// [MinPrice, MaxPrice) pay RatePercent instead of the flat rate. A nil
// MaxPrice means the band is open-ended.
type FeeTier struct {
	ID          int64            `json:"id"`
	MinPrice    decimal.Decimal  `json:"minPrice"`
	MaxPrice    *decimal.Decimal `json:"maxPrice,omitempty"`
	RatePercent int64            `json:"ratePercent"`
}

// Store persists the config row and fee tiers.
type Store interface {
	GetConfig(ctx context.Context) (Config, error)
	UpdateConfig(ctx context.Context, cfg Config) error
	ListFeeTiers(ctx context.Context) ([]FeeTier, error)
	ReplaceFeeTiers(ctx context.Context, tiers []FeeTier) error
}

// Service reads and mutates policy configuration.
type Service struct {
	store Store
}

// NewService creates a policy service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Current returns the active config, falling back to defaults when the row
// has never been written.
func (s *Service) Current(ctx context.Context) (Config, error) {
	cfg, err := s.store.GetConfig(ctx)
	if errors.Is(err, ErrNotFound) {
		return Defaults(), nil
	}
	return cfg, err
}

// Update validates and persists a new config.
func (s *Service) Update(ctx context.Context, cfg Config) (Config, error) {
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	cfg.UpdatedAt = time.Now()
	if err := s.store.UpdateConfig(ctx, cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// CommissionRateFor picks the fee-tier band covering price, falling back to
// the flat commission rate when no band matches.
func (s *Service) CommissionRateFor(ctx context.Context, price decimal.Decimal) (int64, error) {
	tiers, err := s.store.ListFeeTiers(ctx)
	if err != nil {
		return 0, err
	}
	for _, t := range tiers {
		if price.LessThan(t.MinPrice) {
			continue
		}
		if t.MaxPrice != nil && !price.LessThan(*t.MaxPrice) {
			continue
		}
		return t.RatePercent, nil
	}
	cfg, err := s.Current(ctx)
	if err != nil {
		return 0, err
	}
	return cfg.CommissionRatePercent, nil
}

// FeeTiers returns the configured bands.
func (s *Service) FeeTiers(ctx context.Context) ([]FeeTier, error) {
	return s.store.ListFeeTiers(ctx)
}

// ReplaceFeeTiers swaps the full band set.
func (s *Service) ReplaceFeeTiers(ctx context.Context, tiers []FeeTier) error {
	for _, t := range tiers {
		if t.RatePercent < 0 || t.RatePercent > 100 {
			return fmt.Errorf("policy: fee tier rate must be 0..100, got %d", t.RatePercent)
		}
		if t.MaxPrice != nil && !t.MinPrice.LessThan(*t.MaxPrice) {
			return fmt.Errorf("policy: fee tier minPrice must be below maxPrice")
		}
	}
	return s.store.ReplaceFeeTiers(ctx, tiers)
}
