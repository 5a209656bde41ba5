// Package wallet exposes the ledger primitives. Every balance mutation in
// the system goes through Debit or Credit (or the saga's combined
// envelopes built on the same storage helper); nothing else writes the
// balance field.
package wallet

import (
	"context"
	"fmt"
	"log/slog"

	"recharge-core/internal/metrics"
	"recharge-core/internal/repo"
)

// Store is the storage surface the ledger needs.
type Store interface {
	AppendLedgerEntry(ctx context.Context, uid, direction, source string, amount float64, description, reference string) (*repo.LedgerEntry, error)
	ListLedgerEntries(ctx context.Context, uid string, limit int) ([]repo.LedgerEntry, error)
}

// Ledger applies atomic wallet mutations with an append-only log row per
// mutation.
type Ledger struct {
	store   Store
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New creates a Ledger.
func New(store Store, metricRegistry *metrics.Metrics, logger *slog.Logger) *Ledger {
	return &Ledger{
		store:   store,
		metrics: metricRegistry,
		logger:  logger.With("component", "wallet"),
	}
}

// Debit removes amount from the user's balance. Fails with
// repo.ErrInsufficientFunds when the live balance, re-read inside the
// atomic unit, is short.
func (l *Ledger) Debit(ctx context.Context, uid string, amount float64, source, description, reference string) (*repo.LedgerEntry, error) {
	return l.apply(ctx, uid, repo.DirectionDebit, source, amount, description, reference)
}

// Credit adds amount to the user's balance.
func (l *Ledger) Credit(ctx context.Context, uid string, amount float64, source, description, reference string) (*repo.LedgerEntry, error) {
	return l.apply(ctx, uid, repo.DirectionCredit, source, amount, description, reference)
}

// History returns the newest ledger rows for a user.
func (l *Ledger) History(ctx context.Context, uid string, limit int) ([]repo.LedgerEntry, error) {
	return l.store.ListLedgerEntries(ctx, uid, limit)
}

func (l *Ledger) apply(ctx context.Context, uid, direction, source string, amount float64, description, reference string) (*repo.LedgerEntry, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("ledger amount must be positive, got %v", amount)
	}
	entry, err := l.store.AppendLedgerEntry(ctx, uid, direction, source, amount, description, reference)
	if err != nil {
		return nil, err
	}
	if l.metrics != nil {
		l.metrics.WalletMutations.WithLabelValues(direction, source).Inc()
	}
	l.logger.Info("wallet mutated",
		"uid", uid, "direction", direction, "source", source,
		"amount", amount, "balance_after", entry.BalanceAfter, "reference", reference)
	return entry, nil
}
