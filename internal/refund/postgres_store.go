package refund

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

const pgUniqueViolation = "23505"

// PostgresStore persists post payments and refunds. The refunds table carries
// a unique constraint on post_id, which is what makes the one-refund-per-post
// guard hold across concurrent scanners and admins.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) CreatePostPayment(ctx context.Context, p *PostPayment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO post_payments (post_id, account_id, amount_paid, wallet_transaction_id, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		p.PostID, p.AccountID, p.AmountPaid, p.WalletTransactionID, p.CreatedAt)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation {
		return ErrPostPaymentExists
	}
	if err != nil {
		return fmt.Errorf("insert post payment: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPostPayment(ctx context.Context, postID string) (*PostPayment, error) {
	var p PostPayment
	err := s.db.QueryRowContext(ctx, `
		SELECT post_id, account_id, amount_paid, wallet_transaction_id, created_at
		FROM post_payments WHERE post_id = $1`, postID).
		Scan(&p.PostID, &p.AccountID, &p.AmountPaid, &p.WalletTransactionID, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPostPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get post payment: %w", err)
	}
	return &p, nil
}

func (s *PostgresStore) CreateRefund(ctx context.Context, r *Refund) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refunds (id, post_id, account_id, scenario, policy_rate_percent,
			amount_original, amount_refund, status, reason, wallet_transaction_id,
			refunded_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), NULLIF($10, ''), $11, $12, $13)`,
		r.ID, r.PostID, r.AccountID, string(r.Scenario), r.PolicyRatePercent,
		r.AmountOriginal, r.AmountRefund, string(r.Status), r.Reason, r.WalletTransactionID,
		r.RefundedAt, r.CreatedAt, r.UpdatedAt)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation {
		return ErrAlreadyRefunded
	}
	if err != nil {
		return fmt.Errorf("insert refund: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetRefund(ctx context.Context, id string) (*Refund, error) {
	return s.scanOne(s.db.QueryRowContext(ctx, selectRefund+` WHERE id = $1`, id))
}

func (s *PostgresStore) GetRefundByPost(ctx context.Context, postID string) (*Refund, error) {
	return s.scanOne(s.db.QueryRowContext(ctx, selectRefund+` WHERE post_id = $1`, postID))
}

func (s *PostgresStore) UpdateRefund(ctx context.Context, r *Refund) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE refunds
		SET status = $2, reason = NULLIF($3, ''), wallet_transaction_id = NULLIF($4, ''),
			refunded_at = $5, updated_at = $6
		WHERE id = $1`,
		r.ID, string(r.Status), r.Reason, r.WalletTransactionID, r.RefundedAt, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update refund: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update refund: %w", err)
	}
	if n == 0 {
		return ErrRefundNotFound
	}
	return nil
}

func (s *PostgresStore) UpdateRefundIf(ctx context.Context, r *Refund, from Status) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE refunds
		SET status = $2, reason = NULLIF($3, ''), wallet_transaction_id = NULLIF($4, ''),
			refunded_at = $5, updated_at = $6
		WHERE id = $1 AND status = $7`,
		r.ID, string(r.Status), r.Reason, r.WalletTransactionID, r.RefundedAt, r.UpdatedAt,
		string(from))
	if err != nil {
		return fmt.Errorf("update refund: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update refund: %w", err)
	}
	if n == 0 {
		var cur string
		err := s.db.QueryRowContext(ctx, `SELECT status FROM refunds WHERE id = $1`, r.ID).Scan(&cur)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrRefundNotFound
		}
		if err != nil {
			return fmt.Errorf("update refund: %w", err)
		}
		return ErrInvalidStatus
	}
	return nil
}

func (s *PostgresStore) ListRefunds(ctx context.Context, status Status, limit int) ([]*Refund, error) {
	query := selectRefund
	args := []any{limit}
	if status != "" {
		query += ` WHERE status = $2`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC LIMIT $1`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list refunds: %w", err)
	}
	defer rows.Close()

	var out []*Refund
	for rows.Next() {
		r, err := s.scanOne(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListUnrefundedPostIDs(ctx context.Context, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT pp.post_id
		FROM post_payments pp
		LEFT JOIN refunds r ON r.post_id = pp.post_id
		WHERE r.id IS NULL
		ORDER BY pp.created_at
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list unrefunded posts: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan post id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

const selectRefund = `
	SELECT id, post_id, account_id, scenario, policy_rate_percent,
		amount_original, amount_refund, status, reason, wallet_transaction_id,
		refunded_at, created_at, updated_at
	FROM refunds`

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *PostgresStore) scanOne(row rowScanner) (*Refund, error) {
	var r Refund
	var reason, txID sql.NullString
	var refundedAt sql.NullTime
	err := row.Scan(&r.ID, &r.PostID, &r.AccountID, &r.Scenario, &r.PolicyRatePercent,
		&r.AmountOriginal, &r.AmountRefund, &r.Status, &reason, &txID,
		&refundedAt, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRefundNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan refund: %w", err)
	}
	r.Reason = reason.String
	r.WalletTransactionID = txID.String
	if refundedAt.Valid {
		r.RefundedAt = &refundedAt.Time
	}
	return &r, nil
}
