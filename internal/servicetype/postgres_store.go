package servicetype

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

const pgUniqueViolation = "23505"

// PostgresStore implements Store with PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed service-type store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) GetByCode(ctx context.Context, code string) (*ServiceType, error) {
	return scanOne(p.db.QueryRowContext(ctx, `
		SELECT id, code, name, description, is_active, created_at
		FROM service_types WHERE code = $1
	`, code))
}

// EnsureByCode is the insert-or-fetch primitive: the row is locked when it
// exists, inserted when it doesn't, and a lost insert race falls back to
// re-reading the winner's row.
func (p *PostgresStore) EnsureByCode(ctx context.Context, code string) (*ServiceType, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	st, err := scanOne(tx.QueryRowContext(ctx, `
		SELECT id, code, name, description, is_active, created_at
		FROM service_types WHERE code = $1
		FOR UPDATE
	`, code))
	if err == nil {
		return st, tx.Commit()
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	st, err = scanOne(tx.QueryRowContext(ctx, `
		INSERT INTO service_types (code, name, is_active, created_at)
		VALUES ($1, $2, TRUE, NOW())
		RETURNING id, code, name, description, is_active, created_at
	`, code, defaultName(code)))
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == pgUniqueViolation {
			// A concurrent caller won the insert; their row is the answer.
			_ = tx.Rollback()
			return p.GetByCode(ctx, code)
		}
		return nil, fmt.Errorf("failed to provision service type %s: %w", code, err)
	}

	return st, tx.Commit()
}

func (p *PostgresStore) Create(ctx context.Context, st *ServiceType) error {
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO service_types (code, name, description, is_active, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		RETURNING id, created_at
	`, st.Code, st.Name, st.Description, st.IsActive).Scan(&st.ID, &st.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == pgUniqueViolation {
			return ErrCodeTaken
		}
		return fmt.Errorf("failed to create service type: %w", err)
	}
	return nil
}

func (p *PostgresStore) List(ctx context.Context) ([]*ServiceType, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, code, name, description, is_active, created_at
		FROM service_types ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*ServiceType
	for rows.Next() {
		st := &ServiceType{}
		var desc sql.NullString
		if err := rows.Scan(&st.ID, &st.Code, &st.Name, &desc, &st.IsActive, &st.CreatedAt); err != nil {
			return nil, err
		}
		st.Description = desc.String
		result = append(result, st)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOne(row rowScanner) (*ServiceType, error) {
	st := &ServiceType{}
	var desc sql.NullString
	err := row.Scan(&st.ID, &st.Code, &st.Name, &desc, &st.IsActive, &st.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	st.Description = desc.String
	return st, nil
}
