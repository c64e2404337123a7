package wallet

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/voltmarket/voltmarket/internal/servicetype"
)

// PostgresStore implements Store with PostgreSQL.
//
// Debits lock the wallet row with SELECT ... FOR UPDATE before checking the
// balance, so the check and the write are one atomic unit. The NUMERIC
// CHECK (balance >= 0) constraint backstops the application-level check.
type PostgresStore struct {
	db    *sql.DB
	types *servicetype.Registry
}

// NewPostgresStore creates a new PostgreSQL-backed wallet store.
func NewPostgresStore(db *sql.DB, types *servicetype.Registry) *PostgresStore {
	return &PostgresStore{db: db, types: types}
}

func (p *PostgresStore) Get(ctx context.Context, ownerID string) (*Wallet, error) {
	w := &Wallet{OwnerID: ownerID}
	err := p.db.QueryRowContext(ctx, `
		SELECT balance, updated_at FROM wallets WHERE owner_id = $1
	`, ownerID).Scan(&w.Balance, &w.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrWalletNotFound
	}
	if err != nil {
		return nil, err
	}
	return w, nil
}

func (p *PostgresStore) Credit(ctx context.Context, ownerID string, amount decimal.Decimal, serviceTypeCode, description string, related Ref) (*Wallet, *Transaction, error) {
	st, err := p.types.Ensure(ctx, serviceTypeCode)
	if err != nil {
		return nil, nil, err
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()

	w := &Wallet{OwnerID: ownerID}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO wallets (owner_id, balance, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (owner_id) DO UPDATE SET
			balance    = wallets.balance + $2,
			updated_at = NOW()
		RETURNING balance, updated_at
	`, ownerID, amount).Scan(&w.Balance, &w.UpdatedAt)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to credit wallet: %w", err)
	}

	txn, err := p.insertTransaction(ctx, tx, ownerID, amount, st, description, related)
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}
	return w, txn, nil
}

func (p *PostgresStore) Debit(ctx context.Context, ownerID string, amount decimal.Decimal, serviceTypeCode, description string, related Ref) (*Wallet, *Transaction, error) {
	st, err := p.types.Ensure(ctx, serviceTypeCode)
	if err != nil {
		return nil, nil, err
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()

	// Lock the row; the balance check below sees no stale reads.
	var balance decimal.Decimal
	err = tx.QueryRowContext(ctx, `
		SELECT balance FROM wallets WHERE owner_id = $1 FOR UPDATE
	`, ownerID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, ErrInsufficientBalance
	}
	if err != nil {
		return nil, nil, err
	}
	if balance.LessThan(amount) {
		return nil, nil, ErrInsufficientBalance
	}

	w := &Wallet{OwnerID: ownerID}
	err = tx.QueryRowContext(ctx, `
		UPDATE wallets SET
			balance    = balance - $2,
			updated_at = NOW()
		WHERE owner_id = $1
		RETURNING balance, updated_at
	`, ownerID, amount).Scan(&w.Balance, &w.UpdatedAt)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to debit wallet: %w", err)
	}

	txn, err := p.insertTransaction(ctx, tx, ownerID, amount.Neg(), st, description, related)
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}
	return w, txn, nil
}

func (p *PostgresStore) insertTransaction(ctx context.Context, tx *sql.Tx, ownerID string, amount decimal.Decimal, st *servicetype.ServiceType, description string, related Ref) (*Transaction, error) {
	txn := &Transaction{
		ID:              uuid.NewString(),
		OwnerID:         ownerID,
		Amount:          amount,
		ServiceTypeID:   st.ID,
		ServiceTypeCode: st.Code,
		Description:     description,
		RelatedType:     related.Type,
		RelatedID:       related.ID,
	}
	err := tx.QueryRowContext(ctx, `
		INSERT INTO wallet_transactions
			(id, owner_id, amount, service_type_id, description, related_type, related_id, created_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), NOW())
		RETURNING created_at
	`, txn.ID, ownerID, amount, st.ID, description, related.Type, related.ID).Scan(&txn.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to record transaction: %w", err)
	}
	return txn, nil
}

func (p *PostgresStore) History(ctx context.Context, ownerID string, limit int) ([]*Transaction, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT t.id, t.owner_id, t.amount, t.service_type_id, s.code,
		       t.description, t.related_type, t.related_id, t.created_at
		FROM wallet_transactions t
		JOIN service_types s ON s.id = t.service_type_id
		WHERE t.owner_id = $1
		ORDER BY t.created_at DESC
		LIMIT $2
	`, ownerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*Transaction
	for rows.Next() {
		t := &Transaction{}
		var desc, relType, relID sql.NullString
		if err := rows.Scan(&t.ID, &t.OwnerID, &t.Amount, &t.ServiceTypeID, &t.ServiceTypeCode,
			&desc, &relType, &relID, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Description = desc.String
		t.RelatedType = relType.String
		t.RelatedID = relID.String
		result = append(result, t)
	}
	return result, rows.Err()
}

func (p *PostgresStore) SumTransactions(ctx context.Context, ownerID string) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := p.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM wallet_transactions WHERE owner_id = $1
	`, ownerID).Scan(&sum)
	return sum, err
}
