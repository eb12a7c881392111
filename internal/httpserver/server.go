// Package httpserver exposes the storefront over HTTP: a public catalogue,
// an authenticated customer API and the admin back office.
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sub-shop/internal/affiliate"
	"sub-shop/internal/auth"
	"sub-shop/internal/errs"
	"sub-shop/internal/ledger"
	"sub-shop/internal/metrics"
	"sub-shop/internal/repo"
)

// CatalogueCache holds the quoted public listing between requests. A nil
// cache disables caching; the server then quotes on every request.
type CatalogueCache interface {
	Get(ctx context.Context, dest any) (bool, error)
	Set(ctx context.Context, v any) error
	Invalidate(ctx context.Context) error
}

// Server wraps an http.Server with the storefront routes.
type Server struct {
	httpServer *http.Server
	store      repo.Store
	ledger     *ledger.Engine
	affiliate  *affiliate.Engine
	tokens     *auth.TokenManager
	catalogue  CatalogueCache
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// New builds the server listening on addr. catalogue may be nil.
func New(addr string, store repo.Store, led *ledger.Engine, aff *affiliate.Engine, tokens *auth.TokenManager, catalogue CatalogueCache, logger *slog.Logger, m *metrics.Metrics) *Server {
	s := &Server{
		store:     store,
		ledger:    led,
		affiliate: aff,
		tokens:    tokens,
		catalogue: catalogue,
		logger:    logger.With("component", "http"),
		metrics:   m,
	}

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Router assembles the route tree. Exposed for tests.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.StripSlashes)
	r.Use(s.logMiddleware)
	r.Use(s.referralMiddleware)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/api/auth/register", s.handleRegister)
	r.Post("/api/auth/login", s.handleLogin)
	r.Get("/api/products", s.handleListProducts)
	r.Get("/api/notifications", s.handleListNotifications)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Post("/api/products/{id}/purchase", s.handlePurchase)
		r.Get("/api/me", s.handleProfile)
		r.Get("/api/me/balance", s.handleBalance)
		r.Get("/api/me/orders", s.handleMyOrders)
		r.Get("/api/me/orders/{id}", s.handleMyOrder)
		r.Get("/api/me/transactions", s.handleMyTransactions)
		r.Post("/api/me/deposit", s.handleDepositRequest)
		r.Post("/api/me/withdraw", s.handleWithdraw)
		r.Get("/api/me/withdrawals", s.handleMyWithdrawals)
		r.Get("/api/me/affiliate", s.handleAffiliateStats)

		r.Group(func(r chi.Router) {
			r.Use(s.adminOnly)

			r.Post("/api/admin/products", s.handleCreateProduct)
			r.Get("/api/admin/products", s.handleAdminProducts)
			r.Delete("/api/admin/products/{id}", s.handleDeleteProduct)
			r.Get("/api/admin/orders", s.handleAdminOrders)
			r.Get("/api/admin/users", s.handleAdminUsers)
			r.Post("/api/admin/users/{id}/adjust", s.handleAdjustWallet)
			r.Post("/api/admin/withdrawals/{id}/settle", s.handleSettleWithdrawal)
			r.Post("/api/admin/sweep", s.handleRetentionSweep)
			r.Post("/api/admin/notifications", s.handleCreateNotification)
			r.Get("/api/admin/notifications", s.handleAdminNotifications)
			r.Patch("/api/admin/notifications/{id}", s.handleToggleNotification)
			r.Delete("/api/admin/notifications/{id}", s.handleDeleteNotification)
		})
	})

	return r
}

// Start begins listening for incoming HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server listen: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "store unreachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{Success: status < 400, Data: data}); err != nil {
		http.Error(w, "failed to encode json", http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(envelope{Success: false, Message: message})
}

// writeDomainError maps domain sentinels onto HTTP statuses.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errs.ErrUserNotFound),
		errors.Is(err, errs.ErrProductNotFound),
		errors.Is(err, errs.ErrOrderNotFound),
		errors.Is(err, errs.ErrTransactionNotFound),
		errors.Is(err, errs.ErrNotificationNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, errs.ErrUsernameTaken),
		errors.Is(err, errs.ErrEmailTaken),
		errors.Is(err, errs.ErrProductUnavailable),
		errors.Is(err, errs.ErrVersionConflict),
		errors.Is(err, errs.ErrNotSettleable):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, errs.ErrInsufficientFunds):
		writeError(w, http.StatusPaymentRequired, err.Error())
	case errors.Is(err, errs.ErrBelowMinimumThreshold),
		errors.Is(err, errs.ErrInvalidReferralCode):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, errs.ErrInvalidToken):
		writeError(w, http.StatusUnauthorized, err.Error())
	default:
		s.logger.Error("request failed", "error", err)
		s.metrics.Errors.WithLabelValues("http").Inc()
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
