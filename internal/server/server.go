// Package server implements the REST facade: user-facing history and
// settings endpoints, the intent entry point, and the admin console API.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"swapsmith/internal/core"
	"swapsmith/internal/storage"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/shopspring/decimal"
)

// Store is the persistence surface the facade consumes.
type Store interface {
	core.UserStore
	EnsureUser(ctx context.Context, userID string) error
	UpsertSettings(ctx context.Context, st *core.UserSettings) error

	ListOrdersByUser(ctx context.Context, userID string, limit, offset int) ([]core.Order, error)

	GetConversation(ctx context.Context, userID string) (*core.Conversation, error)
	UpdateConversation(ctx context.Context, c *core.Conversation, messages []core.ChatMessage) error
	ListChatMessages(ctx context.Context, userID string, limit, offset int) ([]core.ChatMessage, error)

	AdjustCoins(ctx context.Context, adminID, targetUserID, action string, amount decimal.Decimal, note string) (decimal.Decimal, error)
	GiftAllCoins(ctx context.Context, adminID string, amount decimal.Decimal, note string) (int64, error)
	GetCoinStats(ctx context.Context) (*storage.CoinStats, error)
	AppendAuditEntry(ctx context.Context, e *core.AuditEntry) error

	InsertPlan(ctx context.Context, p *core.DCAPlan) error
	InsertLimitOrder(ctx context.Context, lo *core.LimitOrder) error
	InsertOrder(ctx context.Context, o *core.Order) error

	InsertDiscussion(ctx context.Context, d *storage.Discussion) error
	ListDiscussions(ctx context.Context, limit int) ([]storage.Discussion, error)
}

// Config holds facade settings.
type Config struct {
	Port           int
	AllowedOrigins []string
	PublicConfig   map[string]string // guard-checked keys safe for the front-end
}

// Server is the HTTP facade.
type Server struct {
	cfg      Config
	store    Store
	client   core.IAggregatorClient
	tracker  core.Tracker
	verifier *Verifier
	logger   core.ILogger

	httpServer *http.Server
	isRunning  atomic.Bool
}

// New builds the facade.
func New(cfg Config, store Store, client core.IAggregatorClient, tracker core.Tracker, verifier *Verifier, logger core.ILogger) *Server {
	if cfg.Port <= 0 {
		cfg.Port = 8080
	}
	s := &Server{
		cfg:      cfg,
		store:    store,
		client:   client,
		tracker:  tracker,
		verifier: verifier,
		logger:   logger.WithField("component", "http_server"),
	}
	return s
}

// Router builds the route table. Exposed for handler tests.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/config", s.handlePublicConfig).Methods(http.MethodGet)

	api.HandleFunc("/swap-history", s.authenticate(s.handleSwapHistory)).Methods(http.MethodGet)
	api.HandleFunc("/chat/history", s.authenticate(s.handleAppendChat)).Methods(http.MethodPost)
	api.HandleFunc("/chat/history", s.authenticate(s.handleListChat)).Methods(http.MethodGet)
	api.HandleFunc("/user/settings", s.authenticate(s.handleGetSettings)).Methods(http.MethodGet)
	api.HandleFunc("/user/settings", s.authenticate(s.handlePutSettings)).Methods(http.MethodPut)
	api.HandleFunc("/intent", s.authenticate(s.handleIntent)).Methods(http.MethodPost)

	api.HandleFunc("/discussions", s.authenticate(s.handleListDiscussions)).Methods(http.MethodGet)
	api.HandleFunc("/discussions", s.authenticate(s.handleCreateDiscussion)).Methods(http.MethodPost)

	api.HandleFunc("/admin/coins/adjust", s.requireAdmin(s.handleAdjustCoins)).Methods(http.MethodPost)
	api.HandleFunc("/admin/coins/stats", s.requireAdmin(s.handleCoinStats)).Methods(http.MethodGet)
	api.HandleFunc("/admin/coins/gift-all", s.requireAdmin(s.handleGiftAll)).Methods(http.MethodPost)

	c := cors.New(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	})
	return c.Handler(requestID(r))
}

// requestID tags every response with a correlation ID, minting one when
// the caller did not send its own.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r)
	})
}

// Start begins serving. Idempotent.
func (s *Server) Start(ctx context.Context) error {
	if !s.isRunning.CompareAndSwap(false, true) {
		return nil
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Port),
		Handler:      s.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		s.logger.Info("HTTP server listening", "port", s.cfg.Port)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server failed", "error", err)
		}
	}()
	return nil
}

// Stop drains in-flight requests, bounded by 10s.
func (s *Server) Stop() error {
	if !s.isRunning.CompareAndSwap(true, false) {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	s.logger.Info("HTTP server stopped")
	return nil
}
