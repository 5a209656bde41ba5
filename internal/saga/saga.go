// Package saga orchestrates the recharge flow: reserve funds, submit to
// the provider, poll until a terminal answer, then settle with cashback or
// refund the principal. Every step is persisted before the next one runs,
// so a crash leaves a reconcilable record rather than lost money.
package saga

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"recharge-core/internal/audit"
	"recharge-core/internal/config"
	"recharge-core/internal/ecare"
	"recharge-core/internal/metrics"
	"recharge-core/internal/offers"
	"recharge-core/internal/repo"
	"recharge-core/internal/telco"
)

// Error codes persisted on failed transactions. Synchronous rejections
// carry the provider's own rejection code (for example LOWBALANCE);
// CodeProviderRejected is the fallback when the provider sends none.
const (
	CodeProviderUnreachable = "ECARE_UNREACHABLE"
	CodeProviderRejected    = "ECARE_REJECTED"
	CodeProviderFailed      = "ECARE_FAILED"
)

var (
	// ErrInvalidRequest marks requests rejected before any side effect.
	ErrInvalidRequest = errors.New("invalid recharge request")
	// ErrNotEligible marks users whose account state blocks transactions.
	ErrNotEligible = errors.New("user not eligible for recharge")
)

// Request is one recharge or drive-offer purchase attempt.
type Request struct {
	UID        string
	Type       string
	Phone      string
	Operator   string
	NumberType string
	Amount     float64
}

// Store is the persistence surface the orchestrator drives.
type Store interface {
	GetUser(ctx context.Context, uid string) (*repo.User, error)
	ReserveFunds(ctx context.Context, txn *repo.RechargeTransaction, description string) (*repo.RechargeTransaction, error)
	MarkSubmitted(ctx context.Context, refid, providerTrxID, message, rawStatus string) error
	RecordPoll(ctx context.Context, refid, message, rawStatus string, processing bool) error
	SettleCashback(ctx context.Context, refid, providerRechargeTrxID, message, rawStatus string) (*repo.RechargeTransaction, error)
	RefundPrincipal(ctx context.Context, refid, errCode, errMessage string) (*repo.RechargeTransaction, error)
	MarkPendingVerification(ctx context.Context, refid string) error
	GetRecharge(ctx context.Context, refid string) (*repo.RechargeTransaction, error)
}

// Provider is the upstream top-up API.
type Provider interface {
	Submit(ctx context.Context, operator, numberType, phone string, amount float64, refid string) (*ecare.SubmitResult, error)
	Status(ctx context.Context, refid string) (*ecare.StatusResult, error)
}

// RateLimiter gates transaction starts per user and type.
type RateLimiter interface {
	Allow(ctx context.Context, uid, txnType string) error
}

// OfferLookup resolves drive-offer amounts against the live catalogue.
type OfferLookup interface {
	FindOffer(ctx context.Context, operator string, amount float64) *offers.Offer
}

// Auditor records audit rows and operational alerts.
type Auditor interface {
	Record(ctx context.Context, entry repo.AuditEntry) string
	Alert(ctx context.Context, action string, targetRef string, metadata map[string]any)
}

// Orchestrator runs the recharge saga end to end.
type Orchestrator struct {
	store    Store
	provider Provider
	limiter  RateLimiter
	offers   OfferLookup
	auditor  Auditor
	settings func() config.Settings
	metrics  *metrics.Metrics
	logger   *slog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates an Orchestrator.
func New(store Store, provider Provider, limiter RateLimiter, offerLookup OfferLookup, auditor Auditor,
	settings func() config.Settings, metricRegistry *metrics.Metrics, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		store:    store,
		provider: provider,
		limiter:  limiter,
		offers:   offerLookup,
		auditor:  auditor,
		settings: settings,
		metrics:  metricRegistry,
		logger:   logger.With("component", "saga"),
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

// Initiate runs one transaction from validation to a terminal or parked
// state and returns the final persisted record. The wallet is only touched
// after validation, authorization and rate limiting all pass.
func (o *Orchestrator) Initiate(ctx context.Context, req Request) (*repo.RechargeTransaction, error) {
	offer, err := o.validate(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := o.authorize(ctx, req.UID); err != nil {
		return nil, err
	}
	if err := o.limiter.Allow(ctx, req.UID, req.Type); err != nil {
		return nil, err
	}

	txn := o.buildTransaction(req, offer)
	log := o.logger.With("refid", txn.RefID, "uid", req.UID, "type", req.Type, "amount", req.Amount)

	if _, err := o.store.ReserveFunds(ctx, txn, reserveDescription(txn)); err != nil {
		return nil, err
	}
	log.Info("funds reserved", "balance_after", txn.Wallet.BalanceAfterDebit)

	sub, err := o.provider.Submit(ctx, txn.Operator, txn.NumberType, txn.Phone, txn.Amount, txn.RefID)
	if err != nil {
		log.Error("provider submit failed", "error", err)
		return o.refund(ctx, txn.RefID, CodeProviderUnreachable, err.Error())
	}
	if !sub.Accepted {
		log.Warn("provider rejected submission", "raw_status", sub.RawStatus, "message", sub.Message)
		o.checkLowFloat(ctx, txn.RefID, sub.RawStatus, sub.Message)
		// The provider's own rejection code is the persisted error code.
		return o.refund(ctx, txn.RefID, nonEmpty(sub.RawStatus, CodeProviderRejected), nonEmpty(sub.Message, sub.RawStatus))
	}

	if err := o.store.MarkSubmitted(ctx, txn.RefID, sub.ProviderTrxID, sub.Message, sub.RawStatus); err != nil {
		return nil, err
	}
	log.Info("submitted to provider", "provider_trx_id", sub.ProviderTrxID)

	return o.poll(ctx, txn.RefID, 0)
}

// poll drives the bounded status loop starting from the given attempt
// index. A transport error consumes the attempt like any other outcome.
// Exhausting the budget parks the transaction for manual verification; it
// never auto-refunds, because the top-up may still land.
func (o *Orchestrator) poll(ctx context.Context, refid string, startAttempt int) (*repo.RechargeTransaction, error) {
	s := o.settings()
	log := o.logger.With("refid", refid)

	for attempt := startAttempt; attempt < s.MaxPolls; attempt++ {
		if err := o.sleep(ctx, s.PollDelay(attempt)); err != nil {
			log.Warn("poll loop interrupted, parking for verification", "attempt", attempt, "error", err)
			return o.park(context.WithoutCancel(ctx), refid)
		}
		if o.metrics != nil {
			o.metrics.RechargePolls.Inc()
		}

		res, err := o.provider.Status(ctx, refid)
		if err != nil {
			log.Warn("status poll failed", "attempt", attempt, "error", err)
			if recErr := o.store.RecordPoll(ctx, refid, err.Error(), "", false); recErr != nil {
				return nil, recErr
			}
			continue
		}

		processing := res.Terminal == ecare.TerminalNone
		if err := o.store.RecordPoll(ctx, refid, res.Message, res.RawStatus, processing); err != nil {
			return nil, err
		}

		switch res.Terminal {
		case ecare.TerminalSuccess:
			return o.settle(ctx, refid, res)
		case ecare.TerminalFailed:
			log.Info("provider reported failure", "raw_status", res.RawStatus, "message", res.Message)
			return o.refund(ctx, refid, CodeProviderFailed, nonEmpty(res.Message, res.RawStatus))
		}
		log.Debug("still processing", "attempt", attempt, "raw_status", res.RawStatus)
	}

	log.Warn("poll budget exhausted", "max_polls", s.MaxPolls)
	return o.park(ctx, refid)
}

// settle finishes a confirmed top-up: cashback credit and success state in
// one atomic step. A concurrent settlement loses the row lock race and
// surfaces as already-terminal, which is treated as settled.
func (o *Orchestrator) settle(ctx context.Context, refid string, res *ecare.StatusResult) (*repo.RechargeTransaction, error) {
	txn, err := o.store.SettleCashback(ctx, refid, res.ProviderRechargeTrxID, res.Message, res.RawStatus)
	if err != nil {
		if errors.Is(err, repo.ErrTerminalState) {
			return o.store.GetRecharge(ctx, refid)
		}
		return nil, err
	}

	if o.metrics != nil {
		o.metrics.RechargeOutcomes.WithLabelValues(txn.Type, repo.StatusSuccess).Inc()
	}
	o.auditor.Record(ctx, repo.AuditEntry{
		Action:    successAction(txn.Type),
		TargetUID: txn.UID,
		TargetRef: txn.RefID,
		Metadata: map[string]any{
			"amount":   txn.Amount,
			"cashback": txn.Cashback.Amount,
			"operator": txn.Operator,
		},
	})
	o.logger.Info("recharge settled", "refid", refid, "uid", txn.UID, "cashback", txn.Cashback.Amount)
	return txn, nil
}

// refund compensates a failed transaction with the principal only.
func (o *Orchestrator) refund(ctx context.Context, refid, errCode, errMessage string) (*repo.RechargeTransaction, error) {
	txn, err := o.store.RefundPrincipal(ctx, refid, errCode, errMessage)
	if err != nil {
		if errors.Is(err, repo.ErrTerminalState) {
			return o.store.GetRecharge(ctx, refid)
		}
		return nil, err
	}

	if o.metrics != nil {
		o.metrics.RechargeOutcomes.WithLabelValues(txn.Type, repo.StatusRefunded).Inc()
	}
	o.auditor.Record(ctx, repo.AuditEntry{
		Action:    refundAction(txn.Type),
		TargetUID: txn.UID,
		TargetRef: txn.RefID,
		Metadata: map[string]any{
			"amount":        txn.Amount,
			"error_code":    errCode,
			"error_message": errMessage,
		},
	})
	o.logger.Info("recharge refunded", "refid", refid, "uid", txn.UID, "error_code", errCode)
	return txn, nil
}

// park moves an unresolved transaction to pending_verification with the
// debit still in place.
func (o *Orchestrator) park(ctx context.Context, refid string) (*repo.RechargeTransaction, error) {
	if err := o.store.MarkPendingVerification(ctx, refid); err != nil {
		if errors.Is(err, repo.ErrTerminalState) {
			return o.store.GetRecharge(ctx, refid)
		}
		return nil, err
	}
	txn, err := o.store.GetRecharge(ctx, refid)
	if err != nil {
		return nil, err
	}
	if o.metrics != nil {
		o.metrics.RechargeOutcomes.WithLabelValues(txn.Type, repo.StatusPendingVerification).Inc()
	}
	o.auditor.Record(ctx, repo.AuditEntry{
		Action:    failedAction(txn.Type),
		TargetUID: txn.UID,
		TargetRef: txn.RefID,
		Metadata: map[string]any{
			"amount":     txn.Amount,
			"poll_count": txn.Provider.PollCount,
		},
	})
	return txn, nil
}

// authorize checks the user directory gates that must all hold before any
// money moves.
func (o *Orchestrator) authorize(ctx context.Context, uid string) error {
	user, err := o.store.GetUser(ctx, uid)
	if err != nil {
		return err
	}
	if user.AccountState != repo.AccountStateActive {
		return fmt.Errorf("%w: account is %s", ErrNotEligible, user.AccountState)
	}
	if !user.Verified {
		return fmt.Errorf("%w: account not verified", ErrNotEligible)
	}
	if user.WalletLocked {
		return fmt.Errorf("%w: wallet is locked", ErrNotEligible)
	}
	return nil
}

func (o *Orchestrator) buildTransaction(req Request, offer *offers.Offer) *repo.RechargeTransaction {
	txn := &repo.RechargeTransaction{
		RefID:          newRefID(o.now()),
		UID:            req.UID,
		Type:           req.Type,
		Phone:          req.Phone,
		Operator:       req.Operator,
		OperatorName:   telco.OperatorName(req.Operator),
		NumberType:     req.NumberType,
		NumberTypeName: telco.NumberTypes[req.NumberType],
		Amount:         req.Amount,
	}

	if req.Type == repo.TypeDriveOffer && offer != nil {
		txn.Offer = &repo.OfferDetails{
			OfferType:        offer.OfferType,
			OfferTypeName:    offer.OfferTypeName,
			MinutePack:       offer.MinutePack,
			InternetPack:     offer.InternetPack,
			SMSPack:          offer.SMSPack,
			CallratePack:     offer.CallratePack,
			Validity:         offer.Validity,
			CommissionAmount: offer.CommissionAmount,
		}
		txn.Cashback = repo.Cashback{
			Amount: offer.CommissionAmount,
			Source: repo.SourceDriveOfferCashback,
		}
		return txn
	}

	pct := o.settings().CashbackPercent
	txn.Cashback = repo.Cashback{
		Amount:  cashbackAmount(req.Amount, pct),
		Percent: &pct,
		Source:  repo.SourceRechargeCashback,
	}
	return txn
}

// checkLowFloat raises an operator alert when the provider signals its
// merchant float ran dry. The user still gets a normal refund; the alert
// is for operations.
func (o *Orchestrator) checkLowFloat(ctx context.Context, refid, rawStatus, message string) {
	combined := strings.ToUpper(rawStatus + " " + message)
	if strings.Contains(combined, "LOWBALANCE") || strings.Contains(combined, "LOW BALANCE") {
		o.auditor.Alert(ctx, audit.ActionProviderLowFloat, refid, map[string]any{
			"raw_status": rawStatus,
			"message":    message,
		})
	}
}

// cashbackAmount computes percent of amount rounded to two decimals.
func cashbackAmount(amount, percent float64) float64 {
	return math.Round(amount*percent) / 100
}

func reserveDescription(txn *repo.RechargeTransaction) string {
	if txn.Type == repo.TypeDriveOffer {
		return fmt.Sprintf("Drive offer %s %.2f BDT to %s", txn.OperatorName, txn.Amount, txn.Phone)
	}
	return fmt.Sprintf("Recharge %s %.2f BDT to %s", txn.OperatorName, txn.Amount, txn.Phone)
}

func successAction(txnType string) string {
	if txnType == repo.TypeDriveOffer {
		return audit.ActionDriveOfferSuccess
	}
	return audit.ActionRechargeSuccess
}

func refundAction(txnType string) string {
	if txnType == repo.TypeDriveOffer {
		return audit.ActionDriveOfferRefund
	}
	return audit.ActionRechargeRefund
}

func failedAction(txnType string) string {
	if txnType == repo.TypeDriveOffer {
		return audit.ActionDriveOfferFailed
	}
	return audit.ActionRechargeFailed
}

func nonEmpty(val, fallback string) string {
	if strings.TrimSpace(val) != "" {
		return val
	}
	return fallback
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
