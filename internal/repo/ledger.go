package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// applyLedger mutates the wallet balance inside the caller's transaction.
// The balance is re-read under a row lock, so the computed
// balance_before/balance_after pair is never stale even under concurrent
// mutations for the same user.
func applyLedger(ctx context.Context, tx pgx.Tx, uid, direction, source string, amount float64, description, reference string) (*LedgerEntry, error) {
	var balance float64
	err := tx.QueryRow(ctx, `SELECT wallet_balance FROM users WHERE uid = $1 FOR UPDATE`, uid).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("lock wallet: %w", err)
	}

	var after float64
	switch direction {
	case DirectionCredit:
		after = balance + amount
	case DirectionDebit:
		if balance < amount {
			return nil, ErrInsufficientFunds
		}
		after = balance - amount
	default:
		return nil, fmt.Errorf("unknown ledger direction %q", direction)
	}

	if _, err := tx.Exec(ctx, `UPDATE users SET wallet_balance = $2, updated_at = NOW() WHERE uid = $1`, uid, after); err != nil {
		return nil, fmt.Errorf("update wallet balance: %w", err)
	}

	entry := &LedgerEntry{
		ID:            uuid.NewString(),
		UID:           uid,
		Direction:     direction,
		Source:        source,
		Amount:        amount,
		BalanceBefore: balance,
		BalanceAfter:  after,
		Description:   description,
		Reference:     reference,
	}

	const q = `
INSERT INTO wallet_transactions (id, uid, direction, source, amount, balance_before, balance_after, description, reference)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING created_at;
`
	if err := tx.QueryRow(ctx, q,
		entry.ID, entry.UID, entry.Direction, entry.Source, entry.Amount,
		entry.BalanceBefore, entry.BalanceAfter, entry.Description, entry.Reference,
	).Scan(&entry.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert ledger entry: %w", err)
	}
	return entry, nil
}

// AppendLedgerEntry applies a single balance mutation in its own atomic
// transaction. This is the only sanctioned way to move wallet funds outside
// the recharge saga's combined envelopes.
func (r *Repository) AppendLedgerEntry(ctx context.Context, uid, direction, source string, amount float64, description, reference string) (*LedgerEntry, error) {
	var entry *LedgerEntry
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		var txErr error
		entry, txErr = applyLedger(ctx, tx, uid, direction, source, amount, description, reference)
		return txErr
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// ListLedgerEntries returns the newest ledger rows for a user.
func (r *Repository) ListLedgerEntries(ctx context.Context, uid string, limit int) ([]LedgerEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	const q = `
SELECT id, uid, direction, source, amount, balance_before, balance_after, description, reference, created_at
FROM wallet_transactions
WHERE uid = $1
ORDER BY created_at DESC
LIMIT $2;
`
	rows, err := r.pool.Query(ctx, q, uid, limit)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []LedgerEntry
	for rows.Next() {
		var e LedgerEntry
		if err := rows.Scan(&e.ID, &e.UID, &e.Direction, &e.Source, &e.Amount,
			&e.BalanceBefore, &e.BalanceAfter, &e.Description, &e.Reference, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger entries: %w", err)
	}
	return entries, nil
}
