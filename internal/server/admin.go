package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"swapsmith/internal/core"
	"swapsmith/internal/storage"
	apperrors "swapsmith/pkg/errors"

	"github.com/shopspring/decimal"
)

type adjustCoinsRequest struct {
	TargetUserID string `json:"targetUserId"`
	Action       string `json:"action"`
	Amount       string `json:"amount"`
	Note         string `json:"note"`
}

// handleAdjustCoins applies one admin balance action. The balance change
// and its ledger row land in one transaction; the audit row records the
// privileged action itself.
func (s *Server) handleAdjustCoins(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFrom(r.Context())

	var req adjustCoinsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, &apperrors.ValidationError{Fields: []string{"body"}, Message: "invalid JSON body"})
		return
	}

	var bad []string
	if req.TargetUserID == "" {
		bad = append(bad, "targetUserId")
	}
	switch req.Action {
	case storage.CoinActionGift, storage.CoinActionDeduct:
	case storage.CoinActionReset:
		req.Amount = "0" // amount is derived from the wiped balance
	default:
		bad = append(bad, "action")
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || (req.Action != storage.CoinActionReset && amount.Sign() <= 0) {
		bad = append(bad, "amount")
	}
	if len(bad) > 0 {
		writeError(w, &apperrors.ValidationError{Fields: bad, Message: "missing or invalid fields"})
		return
	}

	newBalance, err := s.store.AdjustCoins(r.Context(), identity.UserID, req.TargetUserID, req.Action, amount, req.Note)
	if err != nil {
		writeError(w, err)
		return
	}

	s.audit(r, identity.UserID, "coins."+req.Action, req.TargetUserID,
		fmt.Sprintf("amount=%s note=%s", amount, req.Note))

	writeJSON(w, http.StatusOK, map[string]string{
		"targetUserId": req.TargetUserID,
		"newBalance":   newBalance.String(),
	})
}

// handleCoinStats returns the global supply overview.
func (s *Server) handleCoinStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetCoinStats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"totalBalance": stats.TotalBalance.String(),
		"userCount":    stats.UserCount,
		"giftedTotal":  stats.GiftedTotal.String(),
		"deductTotal":  stats.DeductTotal.String(),
		"ledgerRows":   stats.LedgerRows,
	})
}

type giftAllRequest struct {
	Amount string `json:"amount"`
	Note   string `json:"note"`
}

// handleGiftAll credits every user in one transaction.
func (s *Server) handleGiftAll(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFrom(r.Context())

	var req giftAllRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, &apperrors.ValidationError{Fields: []string{"body"}, Message: "invalid JSON body"})
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || amount.Sign() <= 0 {
		writeError(w, &apperrors.ValidationError{Fields: []string{"amount"}, Message: "must be a positive decimal"})
		return
	}

	credited, err := s.store.GiftAllCoins(r.Context(), identity.UserID, amount, req.Note)
	if err != nil {
		writeError(w, err)
		return
	}

	s.audit(r, identity.UserID, "coins.gift_all", "",
		fmt.Sprintf("amount=%s credited=%d note=%s", amount, credited, req.Note))

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"credited": credited,
		"amount":   amount.String(),
	})
}

// audit writes one immutable admin action row. Audit failures are logged
// loudly but do not roll back the action the admin already saw succeed.
func (s *Server) audit(r *http.Request, adminID, action, targetID, detail string) {
	err := s.store.AppendAuditEntry(r.Context(), &core.AuditEntry{
		AdminID:  adminID,
		Action:   action,
		TargetID: targetID,
		Detail:   detail,
	})
	if err != nil {
		s.logger.Error("Failed to write admin audit entry",
			"admin_id", adminID, "action", action, "error", err)
	}
}
