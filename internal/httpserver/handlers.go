package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"recharge-core/internal/offers"
	"recharge-core/internal/ratelimit"
	"recharge-core/internal/repo"
	"recharge-core/internal/saga"
)

// rechargeRequest is the public API payload for starting a transaction.
type rechargeRequest struct {
	UID        string  `json:"uid"`
	Type       string  `json:"type"`
	Phone      string  `json:"phone"`
	Operator   string  `json:"operator"`
	NumberType string  `json:"numberType"`
	Amount     float64 `json:"amount"`
}

// rechargeView is the API rendering of a recharge transaction.
type rechargeView struct {
	RefID          string             `json:"refid"`
	UID            string             `json:"uid"`
	Type           string             `json:"type"`
	Phone          string             `json:"phone"`
	Operator       string             `json:"operator"`
	OperatorName   string             `json:"operatorName"`
	NumberType     string             `json:"numberType"`
	NumberTypeName string             `json:"numberTypeName"`
	Amount         float64            `json:"amount"`
	Offer          *repo.OfferDetails `json:"offer,omitempty"`
	Cashback       cashbackView       `json:"cashback"`
	Status         string             `json:"status"`
	PollCount      int                `json:"pollCount"`
	ProviderTrxID  *string            `json:"providerTrxId,omitempty"`
	LastMessage    string             `json:"lastMessage,omitempty"`
	ErrorCode      *string            `json:"errorCode,omitempty"`
	ErrorMessage   *string            `json:"errorMessage,omitempty"`
	BalanceAfter   float64            `json:"balanceAfter"`
	SubmittedAt    *time.Time         `json:"submittedAt,omitempty"`
	CompletedAt    *time.Time         `json:"completedAt,omitempty"`
	CreatedAt      time.Time          `json:"createdAt"`
}

type cashbackView struct {
	Amount   float64  `json:"amount"`
	Percent  *float64 `json:"percent,omitempty"`
	Credited bool     `json:"credited"`
}

func viewOf(txn *repo.RechargeTransaction) rechargeView {
	balanceAfter := txn.Wallet.BalanceAfterDebit
	if txn.Wallet.BalanceAfterCashback != nil {
		balanceAfter = *txn.Wallet.BalanceAfterCashback
	}
	return rechargeView{
		RefID:          txn.RefID,
		UID:            txn.UID,
		Type:           txn.Type,
		Phone:          txn.Phone,
		Operator:       txn.Operator,
		OperatorName:   txn.OperatorName,
		NumberType:     txn.NumberType,
		NumberTypeName: txn.NumberTypeName,
		Amount:         txn.Amount,
		Offer:          txn.Offer,
		Cashback: cashbackView{
			Amount:   txn.Cashback.Amount,
			Percent:  txn.Cashback.Percent,
			Credited: txn.Cashback.Credited,
		},
		Status:        txn.Status,
		PollCount:     txn.Provider.PollCount,
		ProviderTrxID: txn.Provider.TrxID,
		LastMessage:   txn.Provider.LastMessage,
		ErrorCode:     txn.ErrorCode,
		ErrorMessage:  txn.ErrorMessage,
		BalanceAfter:  balanceAfter,
		SubmittedAt:   txn.SubmittedAt,
		CompletedAt:   txn.CompletedAt,
		CreatedAt:     txn.CreatedAt,
	}
}

func viewsOf(txns []repo.RechargeTransaction) []rechargeView {
	views := make([]rechargeView, 0, len(txns))
	for i := range txns {
		views = append(views, viewOf(&txns[i]))
	}
	return views
}

// handleRecharge starts a recharge or drive-offer transaction and blocks
// until the saga reaches a terminal or parked state.
func (s *Server) handleRecharge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req rechargeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	txn, err := s.deps.Saga.Initiate(r.Context(), saga.Request{
		UID:        req.UID,
		Type:       req.Type,
		Phone:      req.Phone,
		Operator:   req.Operator,
		NumberType: req.NumberType,
		Amount:     req.Amount,
	})
	if err != nil {
		s.writeSagaError(w, err)
		return
	}
	writeData(w, http.StatusOK, viewOf(txn))
}

func (s *Server) writeSagaError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, saga.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, saga.ErrNotEligible):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, ratelimit.ErrLimitExceeded):
		writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, repo.ErrInsufficientFunds):
		writeError(w, http.StatusPaymentRequired, err.Error())
	case errors.Is(err, repo.ErrUserNotFound), errors.Is(err, repo.ErrRechargeNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, repo.ErrRefIDTaken):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, repo.ErrTerminalState):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) handleRechargeStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	refid := r.URL.Query().Get("refid")
	if refid == "" {
		writeError(w, http.StatusBadRequest, "refid is required")
		return
	}
	txn, err := s.deps.Repository.GetRecharge(r.Context(), refid)
	if err != nil {
		s.writeSagaError(w, err)
		return
	}
	writeData(w, http.StatusOK, viewOf(txn))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	uid := r.URL.Query().Get("uid")
	if uid == "" {
		writeError(w, http.StatusBadRequest, "uid is required")
		return
	}
	limit := s.clampHistoryLimit(queryInt(r, "limit", 20))
	var before *time.Time
	if raw := r.URL.Query().Get("before"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "before must be RFC3339")
			return
		}
		before = &parsed
	}

	txns, err := s.deps.Repository.ListRechargesByUser(r.Context(), uid, limit, before)
	if err != nil {
		s.writeSagaError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{
		"transactions": viewsOf(txns),
		"count":        len(txns),
	})
}

func (s *Server) handleWalletHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	uid := r.URL.Query().Get("uid")
	if uid == "" {
		writeError(w, http.StatusBadRequest, "uid is required")
		return
	}
	entries, err := s.deps.Wallet.History(r.Context(), uid, s.clampHistoryLimit(queryInt(r, "limit", 20)))
	if err != nil {
		s.writeSagaError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}

func (s *Server) handleOffers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	filter := offers.Filter{
		Operator:  r.URL.Query().Get("operator"),
		OfferType: r.URL.Query().Get("offerType"),
		MinAmount: queryFloat(r, "minAmount"),
		MaxAmount: queryFloat(r, "maxAmount"),
	}
	cat, err := s.deps.Offers.GetOffers(r.Context(), filter)
	if err != nil {
		s.writeSagaError(w, err)
		return
	}
	writeData(w, http.StatusOK, cat)
}

func (s *Server) handleOfferSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	amount := queryFloat(r, "amount")
	if amount == nil {
		writeError(w, http.StatusBadRequest, "amount is required")
		return
	}
	cat, err := s.deps.Offers.SearchOffers(r.Context(), *amount,
		r.URL.Query().Get("operator"), r.URL.Query().Get("offerType"))
	if err != nil {
		s.writeSagaError(w, err)
		return
	}
	writeData(w, http.StatusOK, cat)
}

func (s *Server) clampHistoryLimit(limit int) int {
	max := 50
	if s.deps.Settings != nil {
		if configured := s.deps.Settings().HistoryMaxLimit; configured > 0 {
			max = configured
		}
	}
	if limit <= 0 || limit > max {
		return max
	}
	return limit
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return val
}

func queryFloat(r *http.Request, key string) *float64 {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return nil
	}
	val, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil
	}
	return &val
}
