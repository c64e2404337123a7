package policy

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// PostgresStore implements Store with PostgreSQL. The config lives in a
// single-row table keyed by id = 1; fee tiers are replaced wholesale inside
// one transaction.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed policy store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) GetConfig(ctx context.Context) (Config, error) {
	var cfg Config
	err := p.db.QueryRowContext(ctx, `
		SELECT commission_rate_percent, early_cancel_days,
		       cancel_early_rate_percent, cancel_late_rate_percent,
		       expired_rate_percent, chat_activity_rate_percent,
		       lifecycle_days, updated_at
		FROM refund_policies WHERE id = 1
	`).Scan(&cfg.CommissionRatePercent, &cfg.EarlyCancelDays,
		&cfg.CancelEarlyRatePercent, &cfg.CancelLateRatePercent,
		&cfg.ExpiredRatePercent, &cfg.ChatActivityRatePercent,
		&cfg.LifecycleDays, &cfg.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Config{}, ErrNotFound
	}
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (p *PostgresStore) UpdateConfig(ctx context.Context, cfg Config) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO refund_policies
			(id, commission_rate_percent, early_cancel_days,
			 cancel_early_rate_percent, cancel_late_rate_percent,
			 expired_rate_percent, chat_activity_rate_percent,
			 lifecycle_days, updated_at)
		VALUES (1, $1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (id) DO UPDATE SET
			commission_rate_percent    = $1,
			early_cancel_days          = $2,
			cancel_early_rate_percent  = $3,
			cancel_late_rate_percent   = $4,
			expired_rate_percent       = $5,
			chat_activity_rate_percent = $6,
			lifecycle_days             = $7,
			updated_at                 = NOW()
	`, cfg.CommissionRatePercent, cfg.EarlyCancelDays,
		cfg.CancelEarlyRatePercent, cfg.CancelLateRatePercent,
		cfg.ExpiredRatePercent, cfg.ChatActivityRatePercent, cfg.LifecycleDays)
	if err != nil {
		return fmt.Errorf("failed to update refund policy: %w", err)
	}
	return nil
}

func (p *PostgresStore) ListFeeTiers(ctx context.Context) ([]FeeTier, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, min_price, max_price, rate_percent
		FROM fee_tiers ORDER BY min_price
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []FeeTier
	for rows.Next() {
		var t FeeTier
		var maxPrice decimal.NullDecimal
		if err := rows.Scan(&t.ID, &t.MinPrice, &maxPrice, &t.RatePercent); err != nil {
			return nil, err
		}
		if maxPrice.Valid {
			mp := maxPrice.Decimal
			t.MaxPrice = &mp
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

func (p *PostgresStore) ReplaceFeeTiers(ctx context.Context, tiers []FeeTier) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM fee_tiers`); err != nil {
		return fmt.Errorf("failed to clear fee tiers: %w", err)
	}
	for _, t := range tiers {
		var maxPrice any
		if t.MaxPrice != nil {
			maxPrice = *t.MaxPrice
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO fee_tiers (min_price, max_price, rate_percent)
			VALUES ($1, $2, $3)
		`, t.MinPrice, maxPrice, t.RatePercent); err != nil {
			return fmt.Errorf("failed to insert fee tier: %w", err)
		}
	}
	return tx.Commit()
}
