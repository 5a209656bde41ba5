package repo

import (
	"errors"
	"time"
)

// Recharge transaction types.
const (
	TypeRecharge   = "recharge"
	TypeDriveOffer = "drive_offer"
)

// Recharge saga states. Success, refunded and pending_verification are
// terminal for the automated path; pending_verification may still be
// resolved through admin reconciliation.
const (
	StatusInitiated           = "initiated"
	StatusSubmitted           = "submitted"
	StatusProcessing          = "processing"
	StatusSuccess             = "success"
	StatusRefunded            = "refunded"
	StatusPendingVerification = "pending_verification"
)

// Ledger directions and sources.
const (
	DirectionCredit = "credit"
	DirectionDebit  = "debit"

	SourceRechargeDebit      = "recharge_debit"
	SourceRechargeRefund     = "recharge_refund"
	SourceRechargeCashback   = "recharge_cashback"
	SourceDriveOfferCashback = "drive_offer_cashback"
)

// Account states a user may be in.
const (
	AccountStateActive      = "active"
	AccountStateSuspended   = "suspended"
	AccountStateUnderReview = "under_review"
	AccountStateBanned      = "banned"
	AccountStateDeleted     = "deleted"
)

var (
	ErrUserNotFound      = errors.New("user not found")
	ErrInsufficientFunds = errors.New("insufficient wallet balance")
	ErrRechargeNotFound  = errors.New("recharge transaction not found")
	ErrRefIDTaken        = errors.New("refid already reserved")
	ErrTerminalState     = errors.New("recharge transaction already terminal")
)

// IsTerminal reports whether a saga status admits no further settlement or
// refund.
func IsTerminal(status string) bool {
	switch status {
	case StatusSuccess, StatusRefunded:
		return true
	default:
		return false
	}
}

// User mirrors the user directory row consumed by the saga. Balance and
// lock state live on the row so ledger mutations can take a row lock.
type User struct {
	UID           string
	DisplayName   *string
	PhoneNumber   *string
	AccountState  string
	Verified      bool
	WalletBalance float64
	WalletLocked  bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// LedgerEntry is one append-only wallet_transactions row.
type LedgerEntry struct {
	ID            string
	UID           string
	Direction     string
	Source        string
	Amount        float64
	BalanceBefore float64
	BalanceAfter  float64
	Description   string
	Reference     string
	CreatedAt     time.Time
}

// OfferDetails carries the provider-quoted pack for a drive offer.
type OfferDetails struct {
	OfferType        string  `json:"offerType"`
	OfferTypeName    string  `json:"offerTypeName"`
	MinutePack       string  `json:"minutePack"`
	InternetPack     string  `json:"internetPack"`
	SMSPack          string  `json:"smsPack"`
	CallratePack     string  `json:"callratePack"`
	Validity         string  `json:"validity"`
	CommissionAmount float64 `json:"commissionAmount"`
}

// Cashback is the bonus credit applied only on provider-confirmed success.
type Cashback struct {
	Amount   float64
	Percent  *float64
	Source   string
	Credited bool
}

// ProviderState is mutable scratch space updated after every provider
// interaction.
type ProviderState struct {
	TrxID         *string
	RechargeTrxID *string
	LastMessage   string
	RawStatus     *string
	PollCount     int
}

// WalletSnapshot is the point-in-time audit trail independent of the live
// ledger.
type WalletSnapshot struct {
	BalanceBefore        float64
	BalanceAfterDebit    float64
	BalanceAfterCashback *float64
}

// RechargeTransaction is the permanent record of one recharge attempt,
// keyed by refid.
type RechargeTransaction struct {
	RefID          string
	UID            string
	Type           string
	Phone          string
	Operator       string
	OperatorName   string
	NumberType     string
	NumberTypeName string
	Amount         float64
	Offer          *OfferDetails
	Cashback       Cashback
	Provider       ProviderState
	Wallet         WalletSnapshot
	Status         string
	ErrorCode      *string
	ErrorMessage   *string

	WalletTransactionID   *string
	CashbackTransactionID *string

	SubmittedAt *time.Time
	CompletedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// AuditEntry is one audit_logs row.
type AuditEntry struct {
	ActorUID  string
	ActorRole string
	Action    string
	TargetUID string
	TargetRef string
	Metadata  map[string]any
}

// AdminListFilter narrows the admin transaction listing.
type AdminListFilter struct {
	UID    string
	Type   string
	Status string
	Since  *time.Time
	Until  *time.Time
	Limit  int
}

// RechargeStats aggregates transactions over a period.
type RechargeStats struct {
	Total         int
	ByStatus      map[string]int
	TotalAmount   float64
	TotalCashback float64
	TotalRefunded float64
}
