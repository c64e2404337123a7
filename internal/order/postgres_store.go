package order

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// PostgresStore implements Store with PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed order store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, o *Order) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO orders
			(id, code, buyer_id, seller_id, listing_id, amount, commission_fee,
			 seller_receive_amount, status, note, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULLIF($10, ''), $11, $12)
	`, o.ID, o.Code, o.BuyerID, o.SellerID, o.ListingID, o.Amount, o.CommissionFee,
		o.SellerReceiveAmount, o.Status, o.Note, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Order, error) {
	return scanOrder(p.db.QueryRowContext(ctx, `
		SELECT id, code, buyer_id, seller_id, listing_id, amount, commission_fee,
		       seller_receive_amount, status, note, confirmed_at, completed_at,
		       cancelled_at, created_at, updated_at
		FROM orders WHERE id = $1
	`, id))
}

func (p *PostgresStore) Update(ctx context.Context, o *Order) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE orders SET
			commission_fee        = $2,
			seller_receive_amount = $3,
			status                = $4,
			note                  = NULLIF($5, ''),
			confirmed_at          = $6,
			completed_at          = $7,
			cancelled_at          = $8,
			updated_at            = $9
		WHERE id = $1
	`, o.ID, o.CommissionFee, o.SellerReceiveAmount, o.Status, o.Note,
		o.ConfirmedAt, o.CompletedAt, o.CancelledAt, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update order: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrOrderNotFound
	}
	return nil
}

func (p *PostgresStore) HasActiveForListing(ctx context.Context, listingID string) (bool, error) {
	var count int
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM orders
		WHERE listing_id = $1 AND status IN ('WAITING_SELLER_CONFIRM', 'PROCESSING')
	`, listingID).Scan(&count)
	return count > 0, err
}

func (p *PostgresStore) ListByAccount(ctx context.Context, accountID, role string, limit int) ([]*Order, error) {
	query := `
		SELECT id, code, buyer_id, seller_id, listing_id, amount, commission_fee,
		       seller_receive_amount, status, note, confirmed_at, completed_at,
		       cancelled_at, created_at, updated_at
		FROM orders WHERE `
	switch role {
	case "buyer":
		query += `buyer_id = $1`
	case "seller":
		query += `seller_id = $1`
	default:
		query += `(buyer_id = $1 OR seller_id = $1)`
	}
	query += ` ORDER BY created_at DESC LIMIT $2`

	rows, err := p.db.QueryContext(ctx, query, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, o)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*Order, error) {
	o := &Order{}
	var note sql.NullString
	var confirmedAt, completedAt, cancelledAt sql.NullTime
	err := row.Scan(&o.ID, &o.Code, &o.BuyerID, &o.SellerID, &o.ListingID, &o.Amount,
		&o.CommissionFee, &o.SellerReceiveAmount, &o.Status, &note,
		&confirmedAt, &completedAt, &cancelledAt, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	o.Note = note.String
	if confirmedAt.Valid {
		o.ConfirmedAt = &confirmedAt.Time
	}
	if completedAt.Valid {
		o.CompletedAt = &completedAt.Time
	}
	if cancelledAt.Valid {
		o.CancelledAt = &cancelledAt.Time
	}
	return o, nil
}
