package saga

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"testing"
	"time"

	"recharge-core/internal/audit"
	"recharge-core/internal/config"
	"recharge-core/internal/ecare"
	"recharge-core/internal/offers"
	"recharge-core/internal/repo"
)

type fakeStore struct {
	user    *repo.User
	balance float64
	txns    map[string]*repo.RechargeTransaction

	reserveCalls int
}

func newFakeStore(balance float64) *fakeStore {
	return &fakeStore{
		user: &repo.User{
			UID:           "user-1",
			AccountState:  repo.AccountStateActive,
			Verified:      true,
			WalletBalance: balance,
		},
		balance: balance,
		txns:    map[string]*repo.RechargeTransaction{},
	}
}

func (s *fakeStore) GetUser(_ context.Context, uid string) (*repo.User, error) {
	if s.user == nil || s.user.UID != uid {
		return nil, repo.ErrUserNotFound
	}
	u := *s.user
	u.WalletBalance = s.balance
	return &u, nil
}

func (s *fakeStore) ReserveFunds(_ context.Context, txn *repo.RechargeTransaction, _ string) (*repo.RechargeTransaction, error) {
	s.reserveCalls++
	if _, exists := s.txns[txn.RefID]; exists {
		return nil, repo.ErrRefIDTaken
	}
	if s.balance < txn.Amount {
		return nil, repo.ErrInsufficientFunds
	}
	before := s.balance
	s.balance -= txn.Amount
	txn.Status = repo.StatusInitiated
	txn.Wallet = repo.WalletSnapshot{BalanceBefore: before, BalanceAfterDebit: s.balance}
	stored := *txn
	s.txns[txn.RefID] = &stored
	return txn, nil
}

func (s *fakeStore) MarkSubmitted(_ context.Context, refid, providerTrxID, message, rawStatus string) error {
	txn, ok := s.txns[refid]
	if !ok {
		return repo.ErrRechargeNotFound
	}
	txn.Status = repo.StatusSubmitted
	if providerTrxID != "" {
		txn.Provider.TrxID = &providerTrxID
	}
	txn.Provider.LastMessage = message
	txn.Provider.RawStatus = &rawStatus
	return nil
}

func (s *fakeStore) RecordPoll(_ context.Context, refid, message, rawStatus string, processing bool) error {
	txn, ok := s.txns[refid]
	if !ok {
		return repo.ErrRechargeNotFound
	}
	txn.Provider.PollCount++
	txn.Provider.LastMessage = message
	if rawStatus != "" {
		txn.Provider.RawStatus = &rawStatus
	}
	if processing {
		txn.Status = repo.StatusProcessing
	}
	return nil
}

func (s *fakeStore) SettleCashback(_ context.Context, refid, providerRechargeTrxID, message, _ string) (*repo.RechargeTransaction, error) {
	txn, ok := s.txns[refid]
	if !ok {
		return nil, repo.ErrRechargeNotFound
	}
	if repo.IsTerminal(txn.Status) {
		return nil, repo.ErrTerminalState
	}
	s.balance += txn.Cashback.Amount
	after := s.balance
	txn.Status = repo.StatusSuccess
	txn.Cashback.Credited = true
	txn.Wallet.BalanceAfterCashback = &after
	if providerRechargeTrxID != "" {
		txn.Provider.RechargeTrxID = &providerRechargeTrxID
	}
	txn.Provider.LastMessage = message
	out := *txn
	return &out, nil
}

func (s *fakeStore) RefundPrincipal(_ context.Context, refid, errCode, errMessage string) (*repo.RechargeTransaction, error) {
	txn, ok := s.txns[refid]
	if !ok {
		return nil, repo.ErrRechargeNotFound
	}
	if repo.IsTerminal(txn.Status) {
		return nil, repo.ErrTerminalState
	}
	s.balance += txn.Amount
	txn.Status = repo.StatusRefunded
	txn.ErrorCode = &errCode
	txn.ErrorMessage = &errMessage
	out := *txn
	return &out, nil
}

func (s *fakeStore) MarkPendingVerification(_ context.Context, refid string) error {
	txn, ok := s.txns[refid]
	if !ok {
		return repo.ErrTerminalState
	}
	if repo.IsTerminal(txn.Status) {
		return repo.ErrTerminalState
	}
	txn.Status = repo.StatusPendingVerification
	return nil
}

func (s *fakeStore) GetRecharge(_ context.Context, refid string) (*repo.RechargeTransaction, error) {
	txn, ok := s.txns[refid]
	if !ok {
		return nil, repo.ErrRechargeNotFound
	}
	out := *txn
	return &out, nil
}

type fakeProvider struct {
	submitResult *ecare.SubmitResult
	submitErr    error

	statusResults []*ecare.StatusResult
	statusErrs    []error
	statusCalls   int
}

func (p *fakeProvider) Submit(context.Context, string, string, string, float64, string) (*ecare.SubmitResult, error) {
	if p.submitErr != nil {
		return nil, p.submitErr
	}
	return p.submitResult, nil
}

func (p *fakeProvider) Status(context.Context, string) (*ecare.StatusResult, error) {
	idx := p.statusCalls
	p.statusCalls++
	if idx < len(p.statusErrs) && p.statusErrs[idx] != nil {
		return nil, p.statusErrs[idx]
	}
	if idx < len(p.statusResults) {
		return p.statusResults[idx], nil
	}
	// Past the script: keep reporting in-flight.
	return &ecare.StatusResult{Terminal: ecare.TerminalNone, RawStatus: "PROCESSING"}, nil
}

type fakeLimiter struct{ err error }

func (l *fakeLimiter) Allow(context.Context, string, string) error { return l.err }

type fakeOfferLookup struct{ offer *offers.Offer }

func (f *fakeOfferLookup) FindOffer(context.Context, string, float64) *offers.Offer {
	return f.offer
}

type fakeAuditor struct {
	actions []string
	alerts  []string
}

func (a *fakeAuditor) Record(_ context.Context, entry repo.AuditEntry) string {
	a.actions = append(a.actions, entry.Action)
	return "audit-id"
}

func (a *fakeAuditor) Alert(_ context.Context, action string, _ string, _ map[string]any) {
	a.alerts = append(a.alerts, action)
}

func testSettings() config.Settings {
	s := config.DefaultSettings()
	s.MaxPolls = 3
	s.PollDelays = []time.Duration{time.Millisecond}
	return s
}

func newTestOrchestrator(store Store, provider Provider, limiter RateLimiter, lookup OfferLookup, auditor Auditor) *Orchestrator {
	o := New(store, provider, limiter, lookup, auditor, testSettings, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	o.sleep = func(context.Context, time.Duration) error { return nil }
	return o
}

func validRequest() Request {
	return Request{
		UID:        "user-1",
		Type:       repo.TypeRecharge,
		Phone:      "01712345678",
		Operator:   "1",
		NumberType: "1",
		Amount:     100,
	}
}

func TestInitiateSuccessCreditsCashback(t *testing.T) {
	store := newFakeStore(500)
	provider := &fakeProvider{
		submitResult: &ecare.SubmitResult{Accepted: true, RawStatus: "RECEIVED", ProviderTrxID: "TRX1"},
		statusResults: []*ecare.StatusResult{
			{Terminal: ecare.TerminalNone, RawStatus: "PROCESSING"},
			{Terminal: ecare.TerminalSuccess, RawStatus: "SUCCESS", ProviderRechargeTrxID: "RTX1"},
		},
	}
	auditor := &fakeAuditor{}
	o := newTestOrchestrator(store, provider, &fakeLimiter{}, &fakeOfferLookup{}, auditor)

	txn, err := o.Initiate(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if txn.Status != repo.StatusSuccess {
		t.Fatalf("expected success, got %s", txn.Status)
	}
	if txn.Cashback.Amount != 1.5 {
		t.Fatalf("expected 1.5 cashback on 100 at 1.5%%, got %v", txn.Cashback.Amount)
	}
	if !txn.Cashback.Credited {
		t.Fatal("expected cashback credited")
	}
	if store.balance != 401.5 {
		t.Fatalf("expected balance 401.5, got %v", store.balance)
	}
	if txn.Provider.PollCount != 2 {
		t.Fatalf("expected 2 polls recorded, got %d", txn.Provider.PollCount)
	}
	if len(auditor.actions) != 1 || auditor.actions[0] != audit.ActionRechargeSuccess {
		t.Fatalf("expected recharge.success audit, got %v", auditor.actions)
	}
}

func TestInitiateRefundsWhenProviderReportsFailure(t *testing.T) {
	store := newFakeStore(500)
	provider := &fakeProvider{
		submitResult: &ecare.SubmitResult{Accepted: true, RawStatus: "RECEIVED"},
		statusResults: []*ecare.StatusResult{
			{Terminal: ecare.TerminalFailed, RawStatus: "FAILED", Message: "number blocked"},
		},
	}
	auditor := &fakeAuditor{}
	o := newTestOrchestrator(store, provider, &fakeLimiter{}, &fakeOfferLookup{}, auditor)

	txn, err := o.Initiate(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if txn.Status != repo.StatusRefunded {
		t.Fatalf("expected refunded, got %s", txn.Status)
	}
	if txn.ErrorCode == nil || *txn.ErrorCode != CodeProviderFailed {
		t.Fatalf("expected error code %s, got %v", CodeProviderFailed, txn.ErrorCode)
	}
	if store.balance != 500 {
		t.Fatalf("expected principal restored to 500, got %v", store.balance)
	}
	if txn.Cashback.Credited {
		t.Fatal("cashback must never be part of a refund")
	}
	if len(auditor.actions) != 1 || auditor.actions[0] != audit.ActionRechargeRefund {
		t.Fatalf("expected recharge.refund audit, got %v", auditor.actions)
	}
}

func TestInitiateRefundsWhenProviderUnreachable(t *testing.T) {
	store := newFakeStore(500)
	provider := &fakeProvider{submitErr: errors.New("connection refused")}
	o := newTestOrchestrator(store, provider, &fakeLimiter{}, &fakeOfferLookup{}, &fakeAuditor{})

	txn, err := o.Initiate(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if txn.Status != repo.StatusRefunded {
		t.Fatalf("expected refunded, got %s", txn.Status)
	}
	if txn.ErrorCode == nil || *txn.ErrorCode != CodeProviderUnreachable {
		t.Fatalf("expected error code %s, got %v", CodeProviderUnreachable, txn.ErrorCode)
	}
	if store.balance != 500 {
		t.Fatalf("expected balance restored, got %v", store.balance)
	}
}

func TestInitiateAlertsOnProviderLowFloat(t *testing.T) {
	store := newFakeStore(500)
	provider := &fakeProvider{
		submitResult: &ecare.SubmitResult{Accepted: false, RawStatus: "LOWBALANCE", Message: "merchant balance low"},
	}
	auditor := &fakeAuditor{}
	o := newTestOrchestrator(store, provider, &fakeLimiter{}, &fakeOfferLookup{}, auditor)

	txn, err := o.Initiate(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if txn.Status != repo.StatusRefunded {
		t.Fatalf("expected refunded, got %s", txn.Status)
	}
	if txn.ErrorCode == nil || *txn.ErrorCode != "LOWBALANCE" {
		t.Fatalf("expected the provider rejection code LOWBALANCE, got %v", txn.ErrorCode)
	}
	if len(auditor.alerts) != 1 || auditor.alerts[0] != audit.ActionProviderLowFloat {
		t.Fatalf("expected low float alert, got %v", auditor.alerts)
	}
}

func TestRejectionWithoutProviderCodeFallsBack(t *testing.T) {
	store := newFakeStore(500)
	provider := &fakeProvider{
		submitResult: &ecare.SubmitResult{Accepted: false, Message: "request refused"},
	}
	o := newTestOrchestrator(store, provider, &fakeLimiter{}, &fakeOfferLookup{}, &fakeAuditor{})

	txn, err := o.Initiate(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if txn.Status != repo.StatusRefunded {
		t.Fatalf("expected refunded, got %s", txn.Status)
	}
	if txn.ErrorCode == nil || *txn.ErrorCode != CodeProviderRejected {
		t.Fatalf("expected fallback code %s, got %v", CodeProviderRejected, txn.ErrorCode)
	}
}

func TestPollExhaustionParksWithoutRefund(t *testing.T) {
	store := newFakeStore(500)
	provider := &fakeProvider{
		submitResult: &ecare.SubmitResult{Accepted: true, RawStatus: "RECEIVED"},
	}
	o := newTestOrchestrator(store, provider, &fakeLimiter{}, &fakeOfferLookup{}, &fakeAuditor{})

	txn, err := o.Initiate(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if txn.Status != repo.StatusPendingVerification {
		t.Fatalf("expected pending_verification, got %s", txn.Status)
	}
	if txn.Provider.PollCount != 3 {
		t.Fatalf("expected poll count to equal the budget of 3, got %d", txn.Provider.PollCount)
	}
	// Outcome unknown, so the debit stays in place.
	if store.balance != 400 {
		t.Fatalf("expected balance to stay debited at 400, got %v", store.balance)
	}
}

func TestTransportErrorConsumesPollAttempt(t *testing.T) {
	store := newFakeStore(500)
	provider := &fakeProvider{
		submitResult: &ecare.SubmitResult{Accepted: true, RawStatus: "RECEIVED"},
		statusErrs:   []error{errors.New("timeout"), errors.New("timeout"), errors.New("timeout")},
	}
	o := newTestOrchestrator(store, provider, &fakeLimiter{}, &fakeOfferLookup{}, &fakeAuditor{})

	txn, err := o.Initiate(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if txn.Status != repo.StatusPendingVerification {
		t.Fatalf("expected pending_verification, got %s", txn.Status)
	}
	if txn.Provider.PollCount != 3 {
		t.Fatalf("expected every failed poll persisted, got count %d", txn.Provider.PollCount)
	}
	if provider.statusCalls != 3 {
		t.Fatalf("expected exactly 3 status calls, got %d", provider.statusCalls)
	}
}

func TestValidationRejectsWithoutSideEffects(t *testing.T) {
	cases := []Request{
		{UID: "user-1", Type: "bonus", Phone: "01712345678", Operator: "1", NumberType: "1", Amount: 100},
		{UID: "user-1", Type: repo.TypeRecharge, Phone: "0171234567", Operator: "1", NumberType: "1", Amount: 100},
		{UID: "user-1", Type: repo.TypeRecharge, Phone: "02712345678", Operator: "1", NumberType: "1", Amount: 100},
		{UID: "user-1", Type: repo.TypeRecharge, Phone: "01712345678", Operator: "9", NumberType: "1", Amount: 100},
		{UID: "user-1", Type: repo.TypeRecharge, Phone: "01712345678", Operator: "1", NumberType: "7", Amount: 100},
		{UID: "user-1", Type: repo.TypeRecharge, Phone: "01712345678", Operator: "1", NumberType: "1", Amount: 10},
		{UID: "user-1", Type: repo.TypeRecharge, Phone: "01712345678", Operator: "1", NumberType: "1", Amount: 9000},
		{UID: "user-1", Type: repo.TypeRecharge, Phone: "01712345678", Operator: "1", NumberType: "1", Amount: 25},
		{UID: "user-1", Type: repo.TypeRecharge, Phone: "01712345678", Operator: "1", NumberType: "1", Amount: 105},
	}

	for i, req := range cases {
		store := newFakeStore(500)
		o := newTestOrchestrator(store, &fakeProvider{}, &fakeLimiter{}, &fakeOfferLookup{}, &fakeAuditor{})
		_, err := o.Initiate(context.Background(), req)
		if !errors.Is(err, ErrInvalidRequest) {
			t.Fatalf("case %d: expected ErrInvalidRequest, got %v", i, err)
		}
		if store.reserveCalls != 0 || store.balance != 500 {
			t.Fatalf("case %d: validation must not touch the wallet", i)
		}
	}
}

func TestIneligibleUserRejected(t *testing.T) {
	store := newFakeStore(500)
	store.user.Verified = false
	o := newTestOrchestrator(store, &fakeProvider{}, &fakeLimiter{}, &fakeOfferLookup{}, &fakeAuditor{})

	_, err := o.Initiate(context.Background(), validRequest())
	if !errors.Is(err, ErrNotEligible) {
		t.Fatalf("expected ErrNotEligible, got %v", err)
	}
	if store.reserveCalls != 0 {
		t.Fatal("ineligible user must not reach the wallet")
	}
}

func TestInsufficientFundsRejected(t *testing.T) {
	store := newFakeStore(50)
	o := newTestOrchestrator(store, &fakeProvider{}, &fakeLimiter{}, &fakeOfferLookup{}, &fakeAuditor{})

	_, err := o.Initiate(context.Background(), validRequest())
	if !errors.Is(err, repo.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if store.balance != 50 {
		t.Fatalf("expected untouched balance, got %v", store.balance)
	}
}

func TestRateLimitBlocksBeforeReserve(t *testing.T) {
	store := newFakeStore(500)
	limitErr := fmt.Errorf("limit: %w", errors.New("exceeded"))
	o := newTestOrchestrator(store, &fakeProvider{}, &fakeLimiter{err: limitErr}, &fakeOfferLookup{}, &fakeAuditor{})

	_, err := o.Initiate(context.Background(), validRequest())
	if !errors.Is(err, limitErr) {
		t.Fatalf("expected limiter error, got %v", err)
	}
	if store.reserveCalls != 0 {
		t.Fatal("rate limited request must not reserve funds")
	}
}

func TestDriveOfferUsesCommissionCashback(t *testing.T) {
	store := newFakeStore(500)
	provider := &fakeProvider{
		submitResult: &ecare.SubmitResult{Accepted: true, RawStatus: "RECEIVED"},
		statusResults: []*ecare.StatusResult{
			{Terminal: ecare.TerminalSuccess, RawStatus: "SUCCESS"},
		},
	}
	lookup := &fakeOfferLookup{offer: &offers.Offer{
		Operator:         "1",
		OfferType:        "I",
		InternetPack:     "2GB",
		Validity:         "7 days",
		Amount:           149,
		CommissionAmount: 6,
	}}
	auditor := &fakeAuditor{}
	o := newTestOrchestrator(store, provider, &fakeLimiter{}, lookup, auditor)

	req := validRequest()
	req.Type = repo.TypeDriveOffer
	req.Amount = 149

	txn, err := o.Initiate(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if txn.Status != repo.StatusSuccess {
		t.Fatalf("expected success, got %s", txn.Status)
	}
	if txn.Cashback.Amount != 6 || txn.Cashback.Source != repo.SourceDriveOfferCashback {
		t.Fatalf("expected commission cashback of 6, got %+v", txn.Cashback)
	}
	if txn.Offer == nil || txn.Offer.InternetPack != "2GB" {
		t.Fatalf("expected offer details persisted, got %+v", txn.Offer)
	}
	if len(auditor.actions) != 1 || auditor.actions[0] != audit.ActionDriveOfferSuccess {
		t.Fatalf("expected drive_offer.success audit, got %v", auditor.actions)
	}
}

func TestDriveOfferRequiresCatalogueMatch(t *testing.T) {
	store := newFakeStore(500)
	o := newTestOrchestrator(store, &fakeProvider{}, &fakeLimiter{}, &fakeOfferLookup{}, &fakeAuditor{})

	req := validRequest()
	req.Type = repo.TypeDriveOffer
	req.Amount = 149

	_, err := o.Initiate(context.Background(), req)
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for unknown offer amount, got %v", err)
	}
}

func TestForceStatusCheckSettlesOnce(t *testing.T) {
	store := newFakeStore(400)
	store.txns["SHR_1_abcdef"] = &repo.RechargeTransaction{
		RefID:    "SHR_1_abcdef",
		UID:      "user-1",
		Type:     repo.TypeRecharge,
		Amount:   100,
		Cashback: repo.Cashback{Amount: 1.5, Source: repo.SourceRechargeCashback},
		Status:   repo.StatusPendingVerification,
	}
	provider := &fakeProvider{
		statusResults: []*ecare.StatusResult{
			{Terminal: ecare.TerminalSuccess, RawStatus: "SUCCESS"},
		},
	}
	o := newTestOrchestrator(store, provider, &fakeLimiter{}, &fakeOfferLookup{}, &fakeAuditor{})

	txn, err := o.ForceStatusCheck(context.Background(), "ops-1", "SHR_1_abcdef")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if txn.Status != repo.StatusSuccess {
		t.Fatalf("expected success, got %s", txn.Status)
	}
	if store.balance != 401.5 {
		t.Fatalf("expected cashback credited once, balance %v", store.balance)
	}

	// Second check must refuse: the transaction is terminal now.
	_, err = o.ForceStatusCheck(context.Background(), "ops-1", "SHR_1_abcdef")
	if !errors.Is(err, repo.ErrTerminalState) {
		t.Fatalf("expected ErrTerminalState, got %v", err)
	}
	if store.balance != 401.5 {
		t.Fatalf("balance must not move on repeated checks, got %v", store.balance)
	}
}

func TestRetryRejectsTerminalTransaction(t *testing.T) {
	store := newFakeStore(400)
	store.txns["SHR_1_refund"] = &repo.RechargeTransaction{
		RefID:  "SHR_1_refund",
		UID:    "user-1",
		Type:   repo.TypeRecharge,
		Amount: 100,
		Status: repo.StatusRefunded,
	}
	o := newTestOrchestrator(store, &fakeProvider{}, &fakeLimiter{}, &fakeOfferLookup{}, &fakeAuditor{})

	_, err := o.Retry(context.Background(), "ops-1", "SHR_1_refund")
	if !errors.Is(err, repo.ErrTerminalState) {
		t.Fatalf("expected ErrTerminalState, got %v", err)
	}
}

func TestRetryResumesPolling(t *testing.T) {
	store := newFakeStore(400)
	store.txns["SHR_1_parked"] = &repo.RechargeTransaction{
		RefID:    "SHR_1_parked",
		UID:      "user-1",
		Type:     repo.TypeRecharge,
		Amount:   100,
		Cashback: repo.Cashback{Amount: 1.5, Source: repo.SourceRechargeCashback},
		Status:   repo.StatusPendingVerification,
		Provider: repo.ProviderState{PollCount: 3},
	}
	provider := &fakeProvider{
		statusResults: []*ecare.StatusResult{
			{Terminal: ecare.TerminalNone, RawStatus: "PROCESSING"},
			{Terminal: ecare.TerminalFailed, RawStatus: "FAILED", Message: "expired"},
		},
	}
	auditor := &fakeAuditor{}
	o := newTestOrchestrator(store, provider, &fakeLimiter{}, &fakeOfferLookup{}, auditor)

	txn, err := o.Retry(context.Background(), "ops-1", "SHR_1_parked")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if txn.Status != repo.StatusRefunded {
		t.Fatalf("expected refunded after retry, got %s", txn.Status)
	}
	if store.balance != 500 {
		t.Fatalf("expected principal back, got %v", store.balance)
	}
}

func TestCashbackRounding(t *testing.T) {
	cases := []struct {
		amount, percent, want float64
	}{
		{100, 1.5, 1.5},
		{500, 1.5, 7.5},
		{33, 1.5, 0.5},
		{20, 1.5, 0.3},
	}
	for _, c := range cases {
		if got := cashbackAmount(c.amount, c.percent); got != c.want {
			t.Fatalf("cashback(%v, %v) = %v, want %v", c.amount, c.percent, got, c.want)
		}
	}
}

func TestRefIDFormat(t *testing.T) {
	pattern := regexp.MustCompile(`^SHR_\d{13}_[a-z0-9]{6}$`)
	now := time.UnixMilli(1724800000000)
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id := newRefID(now)
		if !pattern.MatchString(id) {
			t.Fatalf("refid %q does not match format", id)
		}
		seen[id] = true
	}
	if len(seen) < 90 {
		t.Fatalf("expected refids to be mostly unique, got %d distinct of 100", len(seen))
	}
}
