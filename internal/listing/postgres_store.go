package listing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// PostgresStore implements Store with PostgreSQL. Conditional transitions
// use single UPDATE ... WHERE status = $from statements; a zero row count
// means the listing was missing or in the wrong state.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed listing store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, l *Listing) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO listings (id, seller_id, title, price, status, reviewed_at, archived_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
	`, l.ID, l.SellerID, l.Title, l.Price, l.Status, l.ReviewedAt, l.ArchivedAt)
	if err != nil {
		return fmt.Errorf("failed to create listing: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Listing, error) {
	l := &Listing{}
	var reviewedAt, archivedAt sql.NullTime
	err := p.db.QueryRowContext(ctx, `
		SELECT id, seller_id, title, price, status, reviewed_at, archived_at, created_at, updated_at
		FROM listings WHERE id = $1
	`, id).Scan(&l.ID, &l.SellerID, &l.Title, &l.Price, &l.Status, &reviewedAt, &archivedAt, &l.CreatedAt, &l.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if reviewedAt.Valid {
		l.ReviewedAt = &reviewedAt.Time
	}
	if archivedAt.Valid {
		l.ArchivedAt = &archivedAt.Time
	}
	return l, nil
}

func (p *PostgresStore) transition(ctx context.Context, id string, from, to Status, extraSet string) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE listings SET status = $3, updated_at = NOW()`+extraSet+`
		WHERE id = $1 AND status = $2
	`, id, from, to)
	if err != nil {
		return fmt.Errorf("failed to transition listing: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		// Distinguish missing from wrong-state for callers mapping to 404 vs 409.
		if _, err := p.Get(ctx, id); errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return ErrNotAvailable
	}
	return nil
}

func (p *PostgresStore) Lock(ctx context.Context, id string) error {
	return p.transition(ctx, id, StatusPublished, StatusLocked, "")
}

func (p *PostgresStore) Unlock(ctx context.Context, id string) error {
	return p.transition(ctx, id, StatusLocked, StatusPublished, "")
}

func (p *PostgresStore) MarkSold(ctx context.Context, id string) error {
	return p.transition(ctx, id, StatusLocked, StatusSold, "")
}

func (p *PostgresStore) Archive(ctx context.Context, id string) error {
	return p.transition(ctx, id, StatusPublished, StatusArchived, ", archived_at = NOW()")
}

func (p *PostgresStore) Publish(ctx context.Context, id string) error {
	return p.transition(ctx, id, StatusDraft, StatusPublished, ", reviewed_at = NOW()")
}
