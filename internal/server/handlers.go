package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"swapsmith/internal/core"
	"swapsmith/internal/storage"
	apperrors "swapsmith/pkg/errors"

	"github.com/shopspring/decimal"
)

type orderView struct {
	ExternalID     string `json:"orderId"`
	FromAsset      string `json:"fromAsset"`
	FromNetwork    string `json:"fromNetwork"`
	FromAmount     string `json:"fromAmount"`
	ToAsset        string `json:"toAsset"`
	ToNetwork      string `json:"toNetwork"`
	SettleAmount   string `json:"settleAmount"`
	DepositAddress string `json:"depositAddress,omitempty"`
	Status         string `json:"status"`
	CreatedAt      string `json:"createdAt"`
}

func toOrderView(o *core.Order) orderView {
	return orderView{
		ExternalID:     o.ExternalID,
		FromAsset:      o.FromAsset,
		FromNetwork:    o.FromNetwork,
		FromAmount:     o.FromAmount.String(),
		ToAsset:        o.ToAsset,
		ToNetwork:      o.ToNetwork,
		SettleAmount:   o.SettleAmount.String(),
		DepositAddress: o.DepositAddress,
		Status:         string(o.Status),
		CreatedAt:      o.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func queryInt(r *http.Request, key, fallback string) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		raw = fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return n
}

// handlePublicConfig serves the guard-checked runtime values the
// front-end needs. No auth: nothing here is sensitive.
func (s *Server) handlePublicConfig(w http.ResponseWriter, r *http.Request) {
	cfg := s.cfg.PublicConfig
	if cfg == nil {
		cfg = map[string]string{}
	}
	writeJSON(w, http.StatusOK, cfg)
}

// handleSwapHistory returns the caller's paginated order history.
func (s *Server) handleSwapHistory(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if err := requireSelf(r, userID); err != nil {
		writeError(w, err)
		return
	}

	limit := queryInt(r, "limit", "20")
	offset := queryInt(r, "offset", "0")
	orders, err := s.store.ListOrdersByUser(r.Context(), userID, limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}

	views := make([]orderView, 0, len(orders))
	for i := range orders {
		views = append(views, toOrderView(&orders[i]))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"orders": views})
}

type appendChatRequest struct {
	UserID  string `json:"userId"`
	Role    string `json:"role"`
	Content string `json:"content"`
}

// handleAppendChat appends one message to the caller's conversation.
// Contended appends retry the version compare-and-set a few times before
// surfacing a conflict.
func (s *Server) handleAppendChat(w http.ResponseWriter, r *http.Request) {
	var req appendChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, &apperrors.ValidationError{Fields: []string{"body"}, Message: "invalid JSON body"})
		return
	}
	if err := requireSelf(r, req.UserID); err != nil {
		writeError(w, err)
		return
	}

	var missing []string
	if req.Role != "user" && req.Role != "assistant" {
		missing = append(missing, "role")
	}
	if req.Content == "" {
		missing = append(missing, "content")
	}
	if len(missing) > 0 {
		writeError(w, &apperrors.ValidationError{Fields: missing, Message: "missing or invalid fields"})
		return
	}

	// First contact may precede any swap; the user row must exist before
	// a conversation can reference it.
	if err := s.store.EnsureUser(r.Context(), req.UserID); err != nil {
		writeError(w, err)
		return
	}

	msg := core.ChatMessage{UserID: req.UserID, Role: req.Role, Content: req.Content}
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		conv, err := s.store.GetConversation(r.Context(), req.UserID)
		if err != nil {
			writeError(w, err)
			return
		}
		err = s.store.UpdateConversation(r.Context(), conv, []core.ChatMessage{msg})
		if err == nil {
			writeJSON(w, http.StatusCreated, map[string]interface{}{"conversationId": conv.ID})
			return
		}
		if !errors.Is(err, storage.ErrVersionConflict) {
			writeError(w, err)
			return
		}
		lastErr = err
	}
	writeError(w, lastErr)
}

// handleListChat returns the caller's chat history, oldest first.
func (s *Server) handleListChat(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if err := requireSelf(r, userID); err != nil {
		writeError(w, err)
		return
	}

	messages, err := s.store.ListChatMessages(r.Context(), userID, queryInt(r, "limit", "50"), queryInt(r, "offset", "0"))
	if err != nil {
		writeError(w, err)
		return
	}

	type messageView struct {
		Role      string `json:"role"`
		Content   string `json:"content"`
		CreatedAt string `json:"createdAt"`
	}
	views := make([]messageView, 0, len(messages))
	for _, m := range messages {
		views = append(views, messageView{
			Role:      m.Role,
			Content:   m.Content,
			CreatedAt: m.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"messages": views})
}

type settingsView struct {
	UserID            string `json:"userId"`
	SlippageTolerance string `json:"slippageTolerance"` // fixed-point decimal, never a float
	DefaultNetwork    string `json:"defaultNetwork"`
	NotifyOnSettle    bool   `json:"notifyOnSettle"`
}

// handleGetSettings returns the caller's settings.
func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if err := requireSelf(r, userID); err != nil {
		writeError(w, err)
		return
	}

	settings, err := s.store.GetSettings(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settingsView{
		UserID:            settings.UserID,
		SlippageTolerance: settings.SlippageTolerance.String(),
		DefaultNetwork:    settings.DefaultNetwork,
		NotifyOnSettle:    settings.NotifyOnSettle,
	})
}

type putSettingsRequest struct {
	UserID            string `json:"userId"`
	SlippageTolerance string `json:"slippageTolerance"`
	DefaultNetwork    string `json:"defaultNetwork"`
	NotifyOnSettle    bool   `json:"notifyOnSettle"`
}

// handlePutSettings replaces the caller's settings.
func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var req putSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, &apperrors.ValidationError{Fields: []string{"body"}, Message: "invalid JSON body"})
		return
	}
	if err := requireSelf(r, req.UserID); err != nil {
		writeError(w, err)
		return
	}

	slippage, err := decimal.NewFromString(req.SlippageTolerance)
	if err != nil || slippage.Sign() < 0 || slippage.GreaterThan(decimal.NewFromInt(1)) {
		writeError(w, &apperrors.ValidationError{
			Fields:  []string{"slippageTolerance"},
			Message: "must be a decimal fraction between 0 and 1",
		})
		return
	}

	err = s.store.UpsertSettings(r.Context(), &core.UserSettings{
		UserID:            req.UserID,
		SlippageTolerance: slippage,
		DefaultNetwork:    req.DefaultNetwork,
		NotifyOnSettle:    req.NotifyOnSettle,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

type discussionRequest struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

func (s *Server) handleCreateDiscussion(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFrom(r.Context())
	var req discussionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Title == "" {
		writeError(w, &apperrors.ValidationError{Fields: []string{"title"}, Message: "title is required"})
		return
	}

	d := &storage.Discussion{UserID: identity.UserID, Title: req.Title, Body: req.Body}
	if err := s.store.InsertDiscussion(r.Context(), d); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"id": d.ID})
}

func (s *Server) handleListDiscussions(w http.ResponseWriter, r *http.Request) {
	ds, err := s.store.ListDiscussions(r.Context(), queryInt(r, "limit", "20"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"discussions": ds})
}
