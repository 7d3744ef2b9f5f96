package server

import (
	"io"
	"net/http"
	"time"

	"swapsmith/internal/core"
	"swapsmith/internal/intent"
	apperrors "swapsmith/pkg/errors"
)

// handleIntent is the structured-intent entry point. The body carries a
// tagged intent; the handler dispatches on the tag.
func (s *Server) handleIntent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<16))
	if err != nil {
		writeError(w, &apperrors.ValidationError{Fields: []string{"body"}, Message: "unreadable body"})
		return
	}

	parsed, err := intent.Parse(body)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := requireSelf(r, parsed.UserID()); err != nil {
		writeError(w, err)
		return
	}

	switch parsed.Kind {
	case intent.KindSwap:
		s.executeSwap(w, r, parsed.Swap)
	case intent.KindDCA:
		s.createPlan(w, r, parsed.DCA)
	case intent.KindLimitOrder:
		s.armLimitOrder(w, r, parsed.LimitOrder)
	case intent.KindCheckout:
		s.createCheckout(w, r, parsed.Checkout)
	case intent.KindPortfolio:
		s.portfolioSummary(w, r, parsed.Portfolio)
	case intent.KindYieldScout:
		// Yield scouting has no aggregator endpoint yet.
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"opportunities": []interface{}{},
			"note":          "yield scouting is not available for this asset yet",
		})
	}
}

// executeSwap runs the full quote-confirm-track pipeline for a one-shot
// swap intent.
func (s *Server) executeSwap(w http.ResponseWriter, r *http.Request, in *intent.SwapIntent) {
	ctx := r.Context()

	user, err := s.store.GetUser(ctx, in.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	if user.SettleAddress == "" {
		writeError(w, &apperrors.ValidationError{
			Fields:  []string{"settleAddress"},
			Message: "set a settlement address before swapping",
		})
		return
	}

	quote, err := s.client.GetQuote(ctx, in.FromAsset, in.FromNetwork, in.ToAsset, in.ToNetwork, in.Amount)
	if err != nil {
		writeError(w, err)
		return
	}

	created, err := s.client.CreateOrder(ctx, quote.ID, user.SettleAddress, user.RefundAddress)
	if err != nil {
		writeError(w, err)
		return
	}

	order := &core.Order{
		ExternalID:     created.ID,
		UserID:         in.UserID,
		FromAsset:      in.FromAsset,
		FromNetwork:    in.FromNetwork,
		FromAmount:     in.Amount,
		ToAsset:        in.ToAsset,
		ToNetwork:      in.ToNetwork,
		SettleAmount:   quote.SettleAmount,
		DepositAddress: created.DepositAddress,
		DepositMemo:    created.DepositMemo,
		Status:         core.StatusPending,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.store.InsertOrder(ctx, order); err != nil {
		writeError(w, err)
		return
	}
	if err := s.tracker.Track(ctx, order.ExternalID, order.UserID, order.CreatedAt); err != nil {
		s.logger.Error("Failed to register order with monitor", "order_id", order.ExternalID, "error", err)
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"orderId":        order.ExternalID,
		"depositAddress": order.DepositAddress,
		"depositMemo":    order.DepositMemo,
		"settleAmount":   order.SettleAmount.String(),
	})
}

// createPlan persists a recurring plan; the first execution fires on the
// next scheduler tick.
func (s *Server) createPlan(w http.ResponseWriter, r *http.Request, in *intent.DCAIntent) {
	plan := &core.DCAPlan{
		UserID:          in.UserID,
		FromAsset:       in.FromAsset,
		FromNetwork:     in.FromNetwork,
		ToAsset:         in.ToAsset,
		ToNetwork:       in.ToNetwork,
		Amount:          in.Amount,
		IntervalHours:   in.IntervalHours,
		NextExecutionAt: time.Now().UTC(),
		IsActive:        true,
	}
	if err := s.store.InsertPlan(r.Context(), plan); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"planId": plan.ID})
}

// armLimitOrder persists an armed price-conditioned intent.
func (s *Server) armLimitOrder(w http.ResponseWriter, r *http.Request, in *intent.LimitOrderIntent) {
	lo := &core.LimitOrder{
		UserID:      in.UserID,
		FromAsset:   in.FromAsset,
		FromNetwork: in.FromNetwork,
		ToAsset:     in.ToAsset,
		ToNetwork:   in.ToNetwork,
		Amount:      in.Amount,
		TargetPrice: in.TargetPrice,
		Condition:   in.Condition,
		RefAsset:    in.RefAsset,
		RefChain:    in.RefChain,
	}
	if err := s.store.InsertLimitOrder(r.Context(), lo); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"limitOrderId": lo.ID})
}

// portfolioSummary returns the user's recent orders grouped by settled
// destination asset.
func (s *Server) portfolioSummary(w http.ResponseWriter, r *http.Request, in *intent.PortfolioIntent) {
	orders, err := s.store.ListOrdersByUser(r.Context(), in.UserID, 100, 0)
	if err != nil {
		writeError(w, err)
		return
	}

	totals := make(map[string]string)
	acc := make(map[string]core.Order)
	for _, o := range orders {
		if o.Status != core.StatusSettled {
			continue
		}
		prev := acc[o.ToAsset]
		prev.SettleAmount = prev.SettleAmount.Add(o.SettleAmount)
		acc[o.ToAsset] = prev
	}
	for asset, o := range acc {
		totals[asset] = o.SettleAmount.String()
	}

	views := make([]orderView, 0, len(orders))
	for i := range orders {
		views = append(views, toOrderView(&orders[i]))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"settledTotals": totals,
		"orders":        views,
	})
}

// createCheckout returns a hosted pay link.
func (s *Server) createCheckout(w http.ResponseWriter, r *http.Request, in *intent.CheckoutIntent) {
	checkout, err := s.client.CreateCheckout(r.Context(), in.ToAsset, in.ToNetwork, in.SettleAddress, in.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"checkoutId": checkout.ID,
		"url":        checkout.URL,
	})
}
