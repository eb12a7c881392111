package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"sub-shop/internal/auth"
	"sub-shop/internal/errs"
	"sub-shop/internal/model"
	"sub-shop/internal/pricing"
)

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	Token string      `json:"token"`
	User  *model.User `json:"user"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)
	if req.Username == "" || req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username, email and password are required")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	code, err := s.affiliate.AssignCode(r.Context(), req.Username)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	user, err := s.store.CreateUser(r.Context(), model.User{
		ID:            uuid.NewString(),
		Username:      req.Username,
		Email:         req.Email,
		PasswordHash:  hash,
		Role:          model.RoleUser,
		AffiliateCode: code,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, authResponse{Token: token, User: user})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	user, err := s.store.GetUserByUsername(r.Context(), req.Username)
	if err != nil || !auth.CheckPassword(user.PasswordHash, req.Password) {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, authResponse{Token: token, User: user})
}

// listedProduct is the public catalogue view: pricing without credentials.
type listedProduct struct {
	ID          string        `json:"id"`
	ServiceType string        `json:"service_type"`
	EndDate     time.Time     `json:"end_date"`
	Quote       pricing.Quote `json:"quote"`
}

func (s *Server) handleListProducts(w http.ResponseWriter, r *http.Request) {
	if s.catalogue != nil {
		var cached []listedProduct
		hit, err := s.catalogue.Get(r.Context(), &cached)
		if err != nil {
			s.logger.Warn("catalogue cache read failed", "error", err)
		} else if hit {
			writeJSON(w, http.StatusOK, cached)
			return
		}
	}

	status := model.ProductAvailable
	products, err := s.store.ListProducts(r.Context(), &status)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	now := time.Now()
	listed := make([]listedProduct, 0, len(products))
	for _, p := range products {
		quote := pricing.QuoteAt(p.OriginalPrice, p.StartDate, p.EndDate, now)
		if quote.IsExpired {
			continue
		}
		listed = append(listed, listedProduct{
			ID:          p.ID,
			ServiceType: p.ServiceType,
			EndDate:     p.EndDate,
			Quote:       quote,
		})
	}

	if s.catalogue != nil {
		if err := s.catalogue.Set(r.Context(), listed); err != nil {
			s.logger.Warn("catalogue cache write failed", "error", err)
		}
	}
	writeJSON(w, http.StatusOK, listed)
}

// invalidateCatalogue drops the cached listing after the product set or a
// product's availability changed.
func (s *Server) invalidateCatalogue(ctx context.Context) {
	if s.catalogue == nil {
		return
	}
	if err := s.catalogue.Invalidate(ctx); err != nil {
		s.logger.Warn("catalogue cache invalidation failed", "error", err)
	}
}

func (s *Server) handlePurchase(w http.ResponseWriter, r *http.Request) {
	user, _ := userFrom(r.Context())
	productID := chi.URLParam(r, "id")

	order, err := s.ledger.Purchase(r.Context(), user.ID, productID, time.Now())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.invalidateCatalogue(r.Context())

	// Referral crediting never blocks a completed sale.
	visitor := s.visitorKey(w, r)
	if err := s.affiliate.TrackPurchase(r.Context(), visitor, order.ID, order.PricePaid); err != nil {
		if errors.Is(err, errs.ErrInvalidReferralCode) {
			s.logger.Warn("held referral code is invalid", "order_id", order.ID)
		} else {
			s.logger.Error("track purchase failed", "order_id", order.ID, "error", err)
			s.metrics.Errors.WithLabelValues("affiliate").Inc()
		}
	}

	writeJSON(w, http.StatusCreated, order)
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	user, _ := userFrom(r.Context())
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	user, _ := userFrom(r.Context())
	writeJSON(w, http.StatusOK, model.WalletBalance{
		Deposit:    user.DepositWallet,
		Commission: user.CommissionWallet,
	})
}

func (s *Server) handleMyOrders(w http.ResponseWriter, r *http.Request) {
	user, _ := userFrom(r.Context())
	orders, err := s.store.ListOrdersByUser(r.Context(), user.ID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

func (s *Server) handleMyOrder(w http.ResponseWriter, r *http.Request) {
	user, _ := userFrom(r.Context())
	order, err := s.store.GetOrderByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if order.UserID != user.ID && user.Role != model.RoleAdmin {
		writeError(w, http.StatusNotFound, errs.ErrOrderNotFound.Error())
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (s *Server) handleMyTransactions(w http.ResponseWriter, r *http.Request) {
	user, _ := userFrom(r.Context())

	var types []model.TxType
	if raw := r.URL.Query().Get("type"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			types = append(types, model.TxType(strings.TrimSpace(part)))
		}
	}

	txs, err := s.store.ListTransactionsByUser(r.Context(), user.ID, types...)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, txs)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	user, _ := userFrom(r.Context())

	var req struct {
		Amount  int64  `json:"amount"`
		Method  string `json:"method"`
		Details string `json:"details"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, "method is required")
		return
	}

	tx, err := s.ledger.Withdraw(r.Context(), user.ID, req.Amount, req.Method, req.Details)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

func (s *Server) handleDepositRequest(w http.ResponseWriter, r *http.Request) {
	user, _ := userFrom(r.Context())

	var req struct {
		Amount int64 `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	tx, err := s.ledger.RequestDeposit(r.Context(), user.ID, req.Amount)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

func (s *Server) handleMyWithdrawals(w http.ResponseWriter, r *http.Request) {
	user, _ := userFrom(r.Context())
	txs, err := s.store.ListTransactionsByUser(r.Context(), user.ID, model.TxWithdrawal, model.TxConversion)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, txs)
}

func (s *Server) handleAffiliateStats(w http.ResponseWriter, r *http.Request) {
	user, _ := userFrom(r.Context())
	stats, err := s.affiliate.Stats(r.Context(), user.ID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	notes, err := s.store.ListNotifications(r.Context(), true)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, notes)
}

type createProductRequest struct {
	ServiceType   string    `json:"service_type"`
	Username      string    `json:"username"`
	Password      string    `json:"password"`
	Cookie        string    `json:"cookie"`
	LocalStorage  string    `json:"local_storage"`
	StartDate     time.Time `json:"start_date"`
	EndDate       time.Time `json:"end_date"`
	OriginalPrice int64     `json:"original_price"`
}

func (s *Server) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var req createProductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.ServiceType == "" || req.OriginalPrice < 0 || req.EndDate.IsZero() || req.StartDate.IsZero() {
		writeError(w, http.StatusBadRequest, "service_type, start_date, end_date and original_price are required")
		return
	}
	if !req.EndDate.After(req.StartDate) {
		writeError(w, http.StatusBadRequest, "end_date must be after start_date")
		return
	}

	product, err := s.store.CreateProduct(r.Context(), model.Product{
		ID:            uuid.NewString(),
		ServiceType:   req.ServiceType,
		Username:      req.Username,
		Password:      req.Password,
		Cookie:        req.Cookie,
		LocalStorage:  req.LocalStorage,
		StartDate:     req.StartDate,
		EndDate:       req.EndDate,
		OriginalPrice: req.OriginalPrice,
		Status:        model.ProductAvailable,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.invalidateCatalogue(r.Context())
	writeJSON(w, http.StatusCreated, product)
}

// adminProduct is the back-office view: the full row plus its live quote.
type adminProduct struct {
	model.Product
	Quote pricing.Quote `json:"quote"`
}

func (s *Server) handleAdminProducts(w http.ResponseWriter, r *http.Request) {
	var status *model.ProductStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		st := model.ProductStatus(raw)
		status = &st
	}
	products, err := s.store.ListProducts(r.Context(), status)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	now := time.Now()
	listed := make([]adminProduct, 0, len(products))
	for _, p := range products {
		listed = append(listed, adminProduct{
			Product: p,
			Quote:   pricing.QuoteAt(p.OriginalPrice, p.StartDate, p.EndDate, now),
		})
	}
	writeJSON(w, http.StatusOK, listed)
}

func (s *Server) handleDeleteProduct(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteProduct(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.invalidateCatalogue(r.Context())
	writeJSON(w, http.StatusOK, nil)
}

func (s *Server) handleAdminOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := s.store.ListOrders(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	var revenue int64
	for _, o := range orders {
		revenue += o.PricePaid
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"orders":        orders,
		"total_revenue": revenue,
	})
}

func (s *Server) handleAdminUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.store.ListUsers(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (s *Server) handleAdjustWallet(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Wallet model.WalletKind `json:"wallet"`
		Amount int64            `json:"amount"`
		Reason string           `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.Reason == "" {
		writeError(w, http.StatusBadRequest, "reason is required")
		return
	}

	user, err := s.ledger.AdminAdjust(r.Context(), chi.URLParam(r, "id"), req.Wallet, req.Amount, req.Reason)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleSettleWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Approve bool `json:"approve"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	tx, err := s.ledger.SettleWithdrawal(r.Context(), chi.URLParam(r, "id"), req.Approve)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

func (s *Server) handleRetentionSweep(w http.ResponseWriter, r *http.Request) {
	removed, err := s.ledger.RetentionSweep(r.Context(), time.Now())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"removed": removed})
}

func (s *Server) handleCreateNotification(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message string `json:"message"`
		Active  *bool  `json:"active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}

	note, err := s.store.CreateNotification(r.Context(), model.Notification{
		ID:      uuid.NewString(),
		Message: req.Message,
		Active:  active,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, note)
}

func (s *Server) handleAdminNotifications(w http.ResponseWriter, r *http.Request) {
	notes, err := s.store.ListNotifications(r.Context(), false)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, notes)
}

func (s *Server) handleToggleNotification(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Active bool `json:"active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if err := s.store.SetNotificationActive(r.Context(), chi.URLParam(r, "id"), req.Active); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (s *Server) handleDeleteNotification(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteNotification(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}
