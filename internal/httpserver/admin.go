package httpserver

import (
	"encoding/json"
	"net/http"
	"time"

	"recharge-core/internal/repo"
)

func (s *Server) handleProviderBalance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	bal, err := s.deps.Provider.Balance(r.Context())
	if err != nil {
		s.logger.Error("provider balance failed", "error", err)
		writeError(w, http.StatusBadGateway, "provider balance unavailable")
		return
	}
	writeData(w, http.StatusOK, map[string]any{
		"mainBalance":    bal.MainBalance,
		"stockBalance":   bal.StockBalance,
		"commissionType": bal.CommissionType,
		"commissionRate": bal.CommissionRate,
	})
}

func (s *Server) handleForceStatusCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	refid := r.URL.Query().Get("refid")
	if refid == "" {
		writeError(w, http.StatusBadRequest, "refid is required")
		return
	}
	txn, err := s.deps.Saga.ForceStatusCheck(r.Context(), adminActor(r), refid)
	if err != nil {
		s.writeSagaError(w, err)
		return
	}
	writeData(w, http.StatusOK, viewOf(txn))
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	refid := r.URL.Query().Get("refid")
	if refid == "" {
		writeError(w, http.StatusBadRequest, "refid is required")
		return
	}
	txn, err := s.deps.Saga.Retry(r.Context(), adminActor(r), refid)
	if err != nil {
		s.writeSagaError(w, err)
		return
	}
	writeData(w, http.StatusOK, viewOf(txn))
}

func (s *Server) handleAdminList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	filter := repo.AdminListFilter{
		UID:    r.URL.Query().Get("uid"),
		Type:   r.URL.Query().Get("type"),
		Status: r.URL.Query().Get("status"),
		Limit:  queryInt(r, "limit", 50),
	}
	if since := queryTime(r, "since"); since != nil {
		filter.Since = since
	}
	if until := queryTime(r, "until"); until != nil {
		filter.Until = until
	}

	txns, err := s.deps.Repository.ListRecharges(r.Context(), filter)
	if err != nil {
		s.writeSagaError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{
		"transactions": viewsOf(txns),
		"count":        len(txns),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	since := time.Now().AddDate(0, 0, -1)
	if parsed := queryTime(r, "since"); parsed != nil {
		since = *parsed
	}
	stats, err := s.deps.Repository.GetRechargeStats(r.Context(), since)
	if err != nil {
		s.writeSagaError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{
		"since":         since,
		"total":         stats.Total,
		"byStatus":      stats.ByStatus,
		"totalAmount":   stats.TotalAmount,
		"totalCashback": stats.TotalCashback,
		"totalRefunded": stats.TotalRefunded,
	})
}

func (s *Server) handleOfferRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	cat, err := s.deps.Offers.Refresh(r.Context())
	if err != nil {
		s.logger.Error("offer refresh failed", "error", err)
		writeError(w, http.StatusBadGateway, "offer refresh failed")
		return
	}
	writeData(w, http.StatusOK, map[string]any{
		"totalOffers": cat.TotalOffers,
		"fetchedAt":   cat.FetchedAt,
		"expiresAt":   cat.ExpiresAt,
	})
}

type upsertUserRequest struct {
	UID           string  `json:"uid"`
	DisplayName   *string `json:"displayName"`
	PhoneNumber   *string `json:"phoneNumber"`
	AccountState  string  `json:"accountState"`
	Verified      bool    `json:"verified"`
	WalletBalance float64 `json:"walletBalance"`
	WalletLocked  bool    `json:"walletLocked"`
}

type userView struct {
	UID           string    `json:"uid"`
	DisplayName   *string   `json:"displayName,omitempty"`
	PhoneNumber   *string   `json:"phoneNumber,omitempty"`
	AccountState  string    `json:"accountState"`
	Verified      bool      `json:"verified"`
	WalletBalance float64   `json:"walletBalance"`
	WalletLocked  bool      `json:"walletLocked"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// handleUpsertUser is the directory-sync entry point: the upstream user
// directory pushes account state here. The initial walletBalance only
// applies on first insert; existing balances move through the ledger only.
func (s *Server) handleUpsertUser(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req upsertUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.UID == "" {
		writeError(w, http.StatusBadRequest, "uid is required")
		return
	}

	user, err := s.deps.Repository.UpsertUser(r.Context(), repo.User{
		UID:           req.UID,
		DisplayName:   req.DisplayName,
		PhoneNumber:   req.PhoneNumber,
		AccountState:  req.AccountState,
		Verified:      req.Verified,
		WalletBalance: req.WalletBalance,
		WalletLocked:  req.WalletLocked,
	})
	if err != nil {
		s.logger.Error("user upsert failed", "uid", req.UID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeData(w, http.StatusOK, userView{
		UID:           user.UID,
		DisplayName:   user.DisplayName,
		PhoneNumber:   user.PhoneNumber,
		AccountState:  user.AccountState,
		Verified:      user.Verified,
		WalletBalance: user.WalletBalance,
		WalletLocked:  user.WalletLocked,
		CreatedAt:     user.CreatedAt,
		UpdatedAt:     user.UpdatedAt,
	})
}

// adminActor identifies the admin caller for audit rows. Header optional;
// the shared token does not carry identity.
func adminActor(r *http.Request) string {
	if actor := r.Header.Get("X-Admin-Actor"); actor != "" {
		return actor
	}
	return "admin"
}

func queryTime(r *http.Request, key string) *time.Time {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return nil
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil
	}
	return &parsed
}
