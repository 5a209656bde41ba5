package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const rechargeColumns = `
refid, uid, type, phone, operator, operator_name, number_type, number_type_name,
amount, offer, cashback_amount, cashback_percent, cashback_source, cashback_credited,
provider_trx_id, provider_recharge_trx_id, provider_last_message, provider_status, poll_count,
balance_before, balance_after_debit, balance_after_cashback,
status, error_code, error_message, wallet_transaction_id, cashback_transaction_id,
submitted_at, completed_at, created_at, updated_at`

func scanRecharge(row pgx.Row) (*RechargeTransaction, error) {
	var t RechargeTransaction
	var offerJSON []byte
	if err := row.Scan(
		&t.RefID, &t.UID, &t.Type, &t.Phone, &t.Operator, &t.OperatorName, &t.NumberType, &t.NumberTypeName,
		&t.Amount, &offerJSON, &t.Cashback.Amount, &t.Cashback.Percent, &t.Cashback.Source, &t.Cashback.Credited,
		&t.Provider.TrxID, &t.Provider.RechargeTrxID, &t.Provider.LastMessage, &t.Provider.RawStatus, &t.Provider.PollCount,
		&t.Wallet.BalanceBefore, &t.Wallet.BalanceAfterDebit, &t.Wallet.BalanceAfterCashback,
		&t.Status, &t.ErrorCode, &t.ErrorMessage, &t.WalletTransactionID, &t.CashbackTransactionID,
		&t.SubmittedAt, &t.CompletedAt, &t.CreatedAt, &t.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if len(offerJSON) > 0 {
		var offer OfferDetails
		if err := json.Unmarshal(offerJSON, &offer); err != nil {
			return nil, fmt.Errorf("decode offer details: %w", err)
		}
		t.Offer = &offer
	}
	return &t, nil
}

// ReserveFunds is the single point of truth for "money has left the
// wallet": inside one transaction it re-reads the live balance under a row
// lock, re-checks sufficiency, debits the wallet, appends the debit ledger
// row and creates the recharge transaction in state initiated. The refid
// primary-key insert doubles as the idempotency reservation; a duplicate
// aborts the whole unit.
func (r *Repository) ReserveFunds(ctx context.Context, txn *RechargeTransaction, description string) (*RechargeTransaction, error) {
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		entry, err := applyLedger(ctx, tx, txn.UID, DirectionDebit, SourceRechargeDebit, txn.Amount, description, txn.RefID)
		if err != nil {
			return err
		}

		txn.Status = StatusInitiated
		txn.Wallet = WalletSnapshot{
			BalanceBefore:     entry.BalanceBefore,
			BalanceAfterDebit: entry.BalanceAfter,
		}
		txn.WalletTransactionID = &entry.ID

		var offerJSON []byte
		if txn.Offer != nil {
			offerJSON, err = json.Marshal(txn.Offer)
			if err != nil {
				return fmt.Errorf("encode offer details: %w", err)
			}
		}

		const q = `
INSERT INTO recharge_transactions (
    refid, uid, type, phone, operator, operator_name, number_type, number_type_name,
    amount, offer, cashback_amount, cashback_percent, cashback_source,
    balance_before, balance_after_debit, status, wallet_transaction_id
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
RETURNING created_at, updated_at;
`
		err = tx.QueryRow(ctx, q,
			txn.RefID, txn.UID, txn.Type, txn.Phone, txn.Operator, txn.OperatorName, txn.NumberType, txn.NumberTypeName,
			txn.Amount, offerJSON, txn.Cashback.Amount, txn.Cashback.Percent, txn.Cashback.Source,
			txn.Wallet.BalanceBefore, txn.Wallet.BalanceAfterDebit, txn.Status, txn.WalletTransactionID,
		).Scan(&txn.CreatedAt, &txn.UpdatedAt)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				return ErrRefIDTaken
			}
			return fmt.Errorf("insert recharge transaction: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return txn, nil
}

// MarkSubmitted records provider acceptance of the submission.
func (r *Repository) MarkSubmitted(ctx context.Context, refid, providerTrxID, message, rawStatus string) error {
	const q = `
UPDATE recharge_transactions
SET status = $2,
    provider_trx_id = NULLIF($3, ''),
    provider_last_message = $4,
    provider_status = $5,
    submitted_at = NOW(),
    updated_at = NOW()
WHERE refid = $1;
`
	ct, err := r.pool.Exec(ctx, q, refid, StatusSubmitted, providerTrxID, message, rawStatus)
	if err != nil {
		return fmt.Errorf("mark submitted: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrRechargeNotFound
	}
	return nil
}

// RecordPoll persists the outcome of one status poll attempt regardless of
// what it returned, so the latest known provider state is always visible.
func (r *Repository) RecordPoll(ctx context.Context, refid, message, rawStatus string, processing bool) error {
	const q = `
UPDATE recharge_transactions
SET poll_count = poll_count + 1,
    provider_last_message = $2,
    provider_status = NULLIF($3, ''),
    status = CASE WHEN $4 THEN $5 ELSE status END,
    updated_at = NOW()
WHERE refid = $1;
`
	ct, err := r.pool.Exec(ctx, q, refid, message, rawStatus, processing, StatusProcessing)
	if err != nil {
		return fmt.Errorf("record poll: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrRechargeNotFound
	}
	return nil
}

// SettleCashback finishes a provider-confirmed top-up: inside one
// transaction it credits the cashback, marks it credited and moves the
// transaction to success. A transaction already terminal is rejected, which
// is what makes settlement at-most-once even under admin re-checks.
func (r *Repository) SettleCashback(ctx context.Context, refid, providerRechargeTrxID, message, rawStatus string) (*RechargeTransaction, error) {
	var settled *RechargeTransaction
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		txn, err := lockRecharge(ctx, tx, refid)
		if err != nil {
			return err
		}
		if IsTerminal(txn.Status) {
			return ErrTerminalState
		}

		var cashbackTxID *string
		var balanceAfterCashback float64
		if txn.Cashback.Amount > 0 {
			entry, err := applyLedger(ctx, tx, txn.UID, DirectionCredit, txn.Cashback.Source, txn.Cashback.Amount,
				cashbackDescription(txn), txn.RefID)
			if err != nil {
				return err
			}
			cashbackTxID = &entry.ID
			balanceAfterCashback = entry.BalanceAfter
		} else {
			var current float64
			if err := tx.QueryRow(ctx, `SELECT wallet_balance FROM users WHERE uid = $1`, txn.UID).Scan(&current); err != nil {
				return fmt.Errorf("read wallet balance: %w", err)
			}
			balanceAfterCashback = current
		}

		const q = `
UPDATE recharge_transactions
SET status = $2,
    cashback_credited = TRUE,
    cashback_transaction_id = $3,
    balance_after_cashback = $4,
    provider_recharge_trx_id = NULLIF($5, ''),
    provider_last_message = $6,
    provider_status = NULLIF($7, ''),
    completed_at = NOW(),
    updated_at = NOW()
WHERE refid = $1;
`
		if _, err := tx.Exec(ctx, q, refid, StatusSuccess, cashbackTxID, balanceAfterCashback,
			providerRechargeTrxID, message, rawStatus); err != nil {
			return fmt.Errorf("settle recharge: %w", err)
		}

		txn.Status = StatusSuccess
		txn.Cashback.Credited = true
		txn.CashbackTransactionID = cashbackTxID
		txn.Wallet.BalanceAfterCashback = &balanceAfterCashback
		if providerRechargeTrxID != "" {
			txn.Provider.RechargeTrxID = &providerRechargeTrxID
		}
		txn.Provider.LastMessage = message
		settled = txn
		return nil
	})
	if err != nil {
		return nil, err
	}
	return settled, nil
}

// RefundPrincipal compensates a failed top-up: inside one transaction it
// credits back the original debited amount (never the cashback) and moves
// the transaction to refunded with the error recorded. Terminal
// transactions are rejected.
func (r *Repository) RefundPrincipal(ctx context.Context, refid, errCode, errMessage string) (*RechargeTransaction, error) {
	var refunded *RechargeTransaction
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		txn, err := lockRecharge(ctx, tx, refid)
		if err != nil {
			return err
		}
		if IsTerminal(txn.Status) {
			return ErrTerminalState
		}

		description := fmt.Sprintf("Refund for failed %s: %s", txn.Type, txn.RefID)
		if _, err := applyLedger(ctx, tx, txn.UID, DirectionCredit, SourceRechargeRefund, txn.Amount, description, txn.RefID); err != nil {
			return err
		}

		const q = `
UPDATE recharge_transactions
SET status = $2,
    error_code = $3,
    error_message = $4,
    completed_at = NOW(),
    updated_at = NOW()
WHERE refid = $1;
`
		if _, err := tx.Exec(ctx, q, refid, StatusRefunded, errCode, errMessage); err != nil {
			return fmt.Errorf("refund recharge: %w", err)
		}

		txn.Status = StatusRefunded
		txn.ErrorCode = &errCode
		txn.ErrorMessage = &errMessage
		refunded = txn
		return nil
	})
	if err != nil {
		return nil, err
	}
	return refunded, nil
}

// MarkPendingVerification parks an exhausted transaction for manual
// reconciliation. The debited funds stay reserved.
func (r *Repository) MarkPendingVerification(ctx context.Context, refid string) error {
	const q = `
UPDATE recharge_transactions
SET status = $2, updated_at = NOW()
WHERE refid = $1 AND status NOT IN ($3, $4);
`
	ct, err := r.pool.Exec(ctx, q, refid, StatusPendingVerification, StatusSuccess, StatusRefunded)
	if err != nil {
		return fmt.Errorf("mark pending verification: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrTerminalState
	}
	return nil
}

// GetRecharge retrieves a recharge transaction by refid.
func (r *Repository) GetRecharge(ctx context.Context, refid string) (*RechargeTransaction, error) {
	q := `SELECT ` + rechargeColumns + ` FROM recharge_transactions WHERE refid = $1 LIMIT 1;`
	txn, err := scanRecharge(r.pool.QueryRow(ctx, q, refid))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRechargeNotFound
		}
		return nil, fmt.Errorf("get recharge: %w", err)
	}
	return txn, nil
}

// CountRechargesSince counts transactions of a type created by the user at
// or after the cutoff. Used by the daily rate limiter.
func (r *Repository) CountRechargesSince(ctx context.Context, uid, rechargeType string, since time.Time) (int, error) {
	const q = `
SELECT COUNT(*)
FROM recharge_transactions
WHERE uid = $1 AND type = $2 AND created_at >= $3;
`
	var count int
	if err := r.pool.QueryRow(ctx, q, uid, rechargeType, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("count recharges: %w", err)
	}
	return count, nil
}

// ListRechargesByUser returns the user's newest transactions, optionally
// continuing before a previous page's oldest created_at.
func (r *Repository) ListRechargesByUser(ctx context.Context, uid string, limit int, before *time.Time) ([]RechargeTransaction, error) {
	if limit <= 0 {
		limit = 20
	}
	q := `SELECT ` + rechargeColumns + `
FROM recharge_transactions
WHERE uid = $1 AND ($2::timestamptz IS NULL OR created_at < $2)
ORDER BY created_at DESC
LIMIT $3;`
	rows, err := r.pool.Query(ctx, q, uid, before, limit)
	if err != nil {
		return nil, fmt.Errorf("list recharges: %w", err)
	}
	defer rows.Close()
	return collectRecharges(rows)
}

// ListRecharges returns transactions matching the admin filter, newest
// first.
func (r *Repository) ListRecharges(ctx context.Context, filter AdminListFilter) ([]RechargeTransaction, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	q := `SELECT ` + rechargeColumns + `
FROM recharge_transactions
WHERE ($1 = '' OR uid = $1)
  AND ($2 = '' OR type = $2)
  AND ($3 = '' OR status = $3)
  AND ($4::timestamptz IS NULL OR created_at >= $4)
  AND ($5::timestamptz IS NULL OR created_at < $5)
ORDER BY created_at DESC
LIMIT $6;`
	rows, err := r.pool.Query(ctx, q, filter.UID, filter.Type, filter.Status, filter.Since, filter.Until, limit)
	if err != nil {
		return nil, fmt.Errorf("list recharges (admin): %w", err)
	}
	defer rows.Close()
	return collectRecharges(rows)
}

// GetRechargeStats aggregates transactions created at or after the cutoff.
func (r *Repository) GetRechargeStats(ctx context.Context, since time.Time) (*RechargeStats, error) {
	const q = `
SELECT status,
       COUNT(*),
       COALESCE(SUM(amount), 0),
       COALESCE(SUM(cashback_amount) FILTER (WHERE cashback_credited), 0),
       COALESCE(SUM(amount) FILTER (WHERE status = 'refunded'), 0)
FROM recharge_transactions
WHERE created_at >= $1
GROUP BY status;
`
	rows, err := r.pool.Query(ctx, q, since)
	if err != nil {
		return nil, fmt.Errorf("recharge stats: %w", err)
	}
	defer rows.Close()

	stats := &RechargeStats{ByStatus: map[string]int{}}
	for rows.Next() {
		var status string
		var count int
		var amount, cashback, refunded float64
		if err := rows.Scan(&status, &count, &amount, &cashback, &refunded); err != nil {
			return nil, fmt.Errorf("scan recharge stats: %w", err)
		}
		stats.ByStatus[status] = count
		stats.Total += count
		stats.TotalAmount += amount
		stats.TotalCashback += cashback
		stats.TotalRefunded += refunded
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recharge stats: %w", err)
	}
	return stats, nil
}

func lockRecharge(ctx context.Context, tx pgx.Tx, refid string) (*RechargeTransaction, error) {
	q := `SELECT ` + rechargeColumns + ` FROM recharge_transactions WHERE refid = $1 FOR UPDATE;`
	txn, err := scanRecharge(tx.QueryRow(ctx, q, refid))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRechargeNotFound
		}
		return nil, fmt.Errorf("lock recharge: %w", err)
	}
	return txn, nil
}

func collectRecharges(rows pgx.Rows) ([]RechargeTransaction, error) {
	var txns []RechargeTransaction
	for rows.Next() {
		txn, err := scanRecharge(rows)
		if err != nil {
			return nil, fmt.Errorf("scan recharge: %w", err)
		}
		txns = append(txns, *txn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recharges: %w", err)
	}
	return txns, nil
}

func cashbackDescription(txn *RechargeTransaction) string {
	if txn.Type == TypeDriveOffer {
		return fmt.Sprintf("Drive offer cashback for %s", txn.RefID)
	}
	if txn.Cashback.Percent != nil {
		return fmt.Sprintf("Cashback %.2f%% on recharge %s", *txn.Cashback.Percent, txn.RefID)
	}
	return fmt.Sprintf("Cashback on recharge %s", txn.RefID)
}
