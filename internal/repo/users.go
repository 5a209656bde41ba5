package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// GetUser returns the user directory row for uid.
func (r *Repository) GetUser(ctx context.Context, uid string) (*User, error) {
	const q = `
SELECT uid, display_name, phone_number, account_state, verified,
       wallet_balance, wallet_locked, created_at, updated_at
FROM users
WHERE uid = $1
LIMIT 1;
`
	row := r.pool.QueryRow(ctx, q, uid)
	var u User
	if err := row.Scan(&u.UID, &u.DisplayName, &u.PhoneNumber, &u.AccountState, &u.Verified,
		&u.WalletBalance, &u.WalletLocked, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// UpsertUser stores or updates a user directory row for the admin
// directory-sync endpoint. Balance is only set on first insert; conflicts
// keep the ledger-managed balance.
func (r *Repository) UpsertUser(ctx context.Context, user User) (*User, error) {
	const q = `
INSERT INTO users (uid, display_name, phone_number, account_state, verified, wallet_balance, wallet_locked, updated_at)
VALUES ($1, $2, $3, COALESCE(NULLIF($4, ''), 'active'), $5, $6, $7, NOW())
ON CONFLICT (uid) DO UPDATE SET
    display_name = COALESCE(EXCLUDED.display_name, users.display_name),
    phone_number = COALESCE(EXCLUDED.phone_number, users.phone_number),
    account_state = EXCLUDED.account_state,
    verified = EXCLUDED.verified,
    wallet_locked = EXCLUDED.wallet_locked,
    updated_at = NOW()
RETURNING uid, display_name, phone_number, account_state, verified, wallet_balance, wallet_locked, created_at, updated_at;
`
	row := r.pool.QueryRow(ctx, q,
		user.UID,
		user.DisplayName,
		user.PhoneNumber,
		user.AccountState,
		user.Verified,
		user.WalletBalance,
		user.WalletLocked,
	)

	var u User
	if err := row.Scan(&u.UID, &u.DisplayName, &u.PhoneNumber, &u.AccountState, &u.Verified,
		&u.WalletBalance, &u.WalletLocked, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}
	return &u, nil
}
