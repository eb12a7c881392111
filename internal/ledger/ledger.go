// Package ledger owns every wallet mutation: purchases, admin adjustments,
// withdrawals, commission credits and the retention sweep. All amounts are
// integer currency units and both wallets stay at or above zero.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"sub-shop/internal/errs"
	"sub-shop/internal/metrics"
	"sub-shop/internal/model"
	"sub-shop/internal/pricing"
	"sub-shop/internal/repo"
)

// MethodConvertToDeposit moves commission funds into the deposit wallet
// instead of paying out externally.
const MethodConvertToDeposit = "convert_to_deposit"

// retentionDays is how long settled ledger entries are kept before the sweep
// removes them. Pending withdrawals are exempt.
const retentionDays = 30

// Engine executes wallet operations against the store. Per-entity locks plus
// the store's version tokens keep concurrent mutations serialised.
type Engine struct {
	store         repo.Store
	logger        *slog.Logger
	metrics       *metrics.Metrics
	minWithdrawal int64
	minDeposit    int64
	userLocks     *keyedLocks
	productLocks  *keyedLocks
}

// NewEngine wires a ledger engine.
func NewEngine(store repo.Store, logger *slog.Logger, m *metrics.Metrics, minWithdrawal, minDeposit int64) *Engine {
	return &Engine{
		store:         store,
		logger:        logger.With("component", "ledger"),
		metrics:       m,
		minWithdrawal: minWithdrawal,
		minDeposit:    minDeposit,
		userLocks:     newKeyedLocks(),
		productLocks:  newKeyedLocks(),
	}
}

// Purchase sells a product to the buyer at the price quoted as of now,
// paid from the deposit wallet. On any validation failure nothing is
// written: money, product and ledger stay untouched.
func (e *Engine) Purchase(ctx context.Context, buyerID, productID string, now time.Time) (*model.Order, error) {
	unlockProduct := e.productLocks.Lock(productID)
	defer unlockProduct()
	unlockUser := e.userLocks.Lock(buyerID)
	defer unlockUser()

	product, err := e.store.GetProductByID(ctx, productID)
	if err != nil {
		e.metrics.Purchases.WithLabelValues("not_found").Inc()
		return nil, err
	}
	if product.Status != model.ProductAvailable {
		e.metrics.Purchases.WithLabelValues("unavailable").Inc()
		return nil, errs.ErrProductUnavailable
	}

	quote := pricing.QuoteAt(product.OriginalPrice, product.StartDate, product.EndDate, now)
	if quote.IsExpired {
		e.metrics.Purchases.WithLabelValues("expired").Inc()
		return nil, errs.ErrProductUnavailable
	}

	buyer, err := e.store.GetUserByID(ctx, buyerID)
	if err != nil {
		e.metrics.Purchases.WithLabelValues("no_buyer").Inc()
		return nil, err
	}

	// Purchases spend the deposit wallet only; commission funds must be
	// converted first.
	price := quote.SellingPrice
	if buyer.DepositWallet < price {
		e.metrics.Purchases.WithLabelValues("insufficient_funds").Inc()
		return nil, errs.ErrInsufficientFunds
	}

	// Claim the product first. A crash after this point leaves a claimed
	// product with no money moved, never the reverse.
	if err := e.store.MarkProductSold(ctx, product.ID, buyer.ID, now, product.Version); err != nil {
		if errors.Is(err, errs.ErrVersionConflict) {
			e.metrics.Purchases.WithLabelValues("conflict").Inc()
			return nil, errs.ErrProductUnavailable
		}
		return nil, fmt.Errorf("claim product: %w", err)
	}

	if _, err := e.store.UpdateUserWallets(ctx, buyer.ID, buyer.DepositWallet-price, buyer.CommissionWallet, buyer.Version); err != nil {
		e.metrics.Purchases.WithLabelValues("wallet_error").Inc()
		return nil, fmt.Errorf("debit buyer: %w", err)
	}

	order := model.Order{
		ID:            uuid.NewString(),
		UserID:        buyer.ID,
		ProductID:     product.ID,
		ServiceType:   product.ServiceType,
		Username:      product.Username,
		Password:      product.Password,
		Cookie:        product.Cookie,
		LocalStorage:  product.LocalStorage,
		PricePaid:     price,
		DaysRemaining: quote.RemainingDays,
		EndDate:       product.EndDate,
	}
	created, err := e.store.CreateOrder(ctx, order)
	if err != nil {
		return nil, fmt.Errorf("record order: %w", err)
	}

	_, err = e.store.CreateTransaction(ctx, model.Transaction{
		ID:          uuid.NewString(),
		UserID:      buyer.ID,
		Type:        model.TxPurchase,
		Amount:      -price,
		Status:      model.TxCompleted,
		Description: fmt.Sprintf("Purchase %s (%d days)", product.ServiceType, quote.RemainingDays),
		OrderID:     created.ID,
		OrderValue:  price,
		CreatedAt:   now.UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("record purchase entry: %w", err)
	}

	e.metrics.Purchases.WithLabelValues("completed").Inc()
	e.metrics.PurchaseValue.Add(float64(price))
	e.logger.Info("purchase completed",
		"user_id", buyer.ID,
		"product_id", product.ID,
		"order_id", created.ID,
		"price", price,
		"days_remaining", quote.RemainingDays)

	return created, nil
}

// AdminAdjust applies a signed delta to one wallet of a user. The balance is
// clamped at zero and the ledger entry always records the requested delta.
func (e *Engine) AdminAdjust(ctx context.Context, userID string, wallet model.WalletKind, delta int64, reason string) (*model.User, error) {
	unlock := e.userLocks.Lock(userID)
	defer unlock()

	user, err := e.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	deposit := user.DepositWallet
	commission := user.CommissionWallet
	switch wallet {
	case model.WalletCommission:
		commission += delta
		if commission < 0 {
			commission = 0
		}
	default:
		deposit += delta
		if deposit < 0 {
			deposit = 0
		}
	}

	updated, err := e.store.UpdateUserWallets(ctx, user.ID, deposit, commission, user.Version)
	if err != nil {
		return nil, fmt.Errorf("adjust wallet: %w", err)
	}

	_, err = e.store.CreateTransaction(ctx, model.Transaction{
		ID:          uuid.NewString(),
		UserID:      user.ID,
		Type:        model.TxAdminAdjustment,
		Amount:      delta,
		Status:      model.TxCompleted,
		Description: "Admin: " + reason,
		Wallet:      wallet,
		CreatedAt:   time.Now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("record adjustment: %w", err)
	}

	e.metrics.WalletAdjusts.WithLabelValues(string(wallet)).Inc()
	e.logger.Info("wallet adjusted", "user_id", user.ID, "wallet", wallet, "delta", delta)
	return updated, nil
}

// Withdraw moves funds out of the commission wallet. The convert_to_deposit
// method settles immediately into the deposit wallet; any other method debits
// the wallet and leaves a pending entry for admin settlement.
func (e *Engine) Withdraw(ctx context.Context, userID string, amount int64, method, details string) (*model.Transaction, error) {
	unlock := e.userLocks.Lock(userID)
	defer unlock()

	if amount < e.minWithdrawal {
		e.metrics.Withdrawals.WithLabelValues(method, "below_minimum").Inc()
		return nil, errs.ErrBelowMinimumThreshold
	}

	user, err := e.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.CommissionWallet < amount {
		e.metrics.Withdrawals.WithLabelValues(method, "insufficient_funds").Inc()
		return nil, errs.ErrInsufficientFunds
	}

	deposit := user.DepositWallet
	commission := user.CommissionWallet - amount
	txType := model.TxWithdrawal
	status := model.TxPending
	description := fmt.Sprintf("Withdrawal via %s", method)
	if method == MethodConvertToDeposit {
		deposit += amount
		txType = model.TxConversion
		status = model.TxCompleted
		description = "Converted commission to deposit balance"
	}

	if _, err := e.store.UpdateUserWallets(ctx, user.ID, deposit, commission, user.Version); err != nil {
		return nil, fmt.Errorf("debit commission wallet: %w", err)
	}

	tx, err := e.store.CreateTransaction(ctx, model.Transaction{
		ID:          uuid.NewString(),
		UserID:      user.ID,
		Type:        txType,
		Amount:      amount,
		Status:      status,
		Description: description,
		Wallet:      model.WalletCommission,
		Method:      method,
		Details:     details,
		CreatedAt:   time.Now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("record withdrawal: %w", err)
	}

	e.metrics.Withdrawals.WithLabelValues(method, string(status)).Inc()
	e.logger.Info("withdrawal requested", "user_id", user.ID, "amount", amount, "method", method, "status", status)
	return tx, nil
}

// RequestDeposit records a pending deposit intent: a ledger entry carrying
// a payment code the user transfers against. No wallet moves until an admin
// confirms the payment with an adjustment.
func (e *Engine) RequestDeposit(ctx context.Context, userID string, amount int64) (*model.Transaction, error) {
	if amount < e.minDeposit {
		return nil, errs.ErrBelowMinimumThreshold
	}
	user, err := e.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	code := "DEP-" + strings.ToUpper(uuid.NewString()[:8])
	tx, err := e.store.CreateTransaction(ctx, model.Transaction{
		ID:          uuid.NewString(),
		UserID:      user.ID,
		Type:        model.TxDeposit,
		Amount:      amount,
		Status:      model.TxPending,
		Description: "Deposit request " + code,
		Wallet:      model.WalletDeposit,
		Details:     code,
		CreatedAt:   time.Now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("record deposit request: %w", err)
	}

	e.logger.Info("deposit requested", "user_id", user.ID, "amount", amount, "code", code)
	return tx, nil
}

// SettleWithdrawal finalises a pending withdrawal. Approval marks it
// completed; rejection marks it failed and refunds the commission wallet.
func (e *Engine) SettleWithdrawal(ctx context.Context, txID string, approve bool) (*model.Transaction, error) {
	tx, err := e.store.GetTransactionByID(ctx, txID)
	if err != nil {
		return nil, err
	}

	unlock := e.userLocks.Lock(tx.UserID)
	defer unlock()

	// Re-read under the lock: a concurrent settlement of the same entry may
	// have finished between the lookup and acquiring the lock, and a rejected
	// withdrawal must refund exactly once.
	tx, err = e.store.GetTransactionByID(ctx, txID)
	if err != nil {
		return nil, err
	}
	if tx.Type != model.TxWithdrawal || tx.Status != model.TxPending {
		return nil, errs.ErrNotSettleable
	}

	status := model.TxCompleted
	if !approve {
		status = model.TxFailed
		user, err := e.store.GetUserByID(ctx, tx.UserID)
		if err != nil {
			return nil, err
		}
		if _, err := e.store.UpdateUserWallets(ctx, user.ID, user.DepositWallet, user.CommissionWallet+tx.Amount, user.Version); err != nil {
			return nil, fmt.Errorf("refund commission wallet: %w", err)
		}
	}

	if err := e.store.UpdateTransactionStatus(ctx, tx.ID, status); err != nil {
		return nil, fmt.Errorf("settle withdrawal: %w", err)
	}
	tx.Status = status

	e.metrics.Withdrawals.WithLabelValues(tx.Method, string(status)).Inc()
	e.logger.Info("withdrawal settled", "tx_id", tx.ID, "user_id", tx.UserID, "status", status)
	return tx, nil
}

// CreditCommission credits a commission into the beneficiary's commission
// wallet. Crediting is idempotent per order: a repeat call for the same order
// returns the original entry with no new money moved.
func (e *Engine) CreditCommission(ctx context.Context, userID string, amount int64, orderID string, orderValue int64) (*model.Transaction, error) {
	unlock := e.userLocks.Lock(userID)
	defer unlock()

	if existing, err := e.store.FindCommissionByOrder(ctx, orderID); err == nil {
		e.metrics.Commissions.WithLabelValues("duplicate").Inc()
		return existing, nil
	} else if !errors.Is(err, errs.ErrTransactionNotFound) {
		return nil, err
	}

	user, err := e.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	if _, err := e.store.UpdateUserWallets(ctx, user.ID, user.DepositWallet, user.CommissionWallet+amount, user.Version); err != nil {
		e.metrics.Commissions.WithLabelValues("wallet_error").Inc()
		return nil, fmt.Errorf("credit commission wallet: %w", err)
	}

	tx, err := e.store.CreateTransaction(ctx, model.Transaction{
		ID:          uuid.NewString(),
		UserID:      user.ID,
		Type:        model.TxCommission,
		Amount:      amount,
		Status:      model.TxCompleted,
		Description: "Affiliate commission",
		Wallet:      model.WalletCommission,
		OrderID:     orderID,
		OrderValue:  orderValue,
		CreatedAt:   time.Now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("record commission: %w", err)
	}

	e.metrics.Commissions.WithLabelValues("completed").Inc()
	e.metrics.CommissionValue.Add(float64(amount))
	e.logger.Info("commission credited", "user_id", user.ID, "order_id", orderID, "amount", amount)
	return tx, nil
}

// RetentionSweep removes settled ledger entries older than the retention
// window as of now. Pending withdrawals survive regardless of age.
func (e *Engine) RetentionSweep(ctx context.Context, now time.Time) (int64, error) {
	cutoff := now.UTC().AddDate(0, 0, -retentionDays)
	removed, err := e.store.PurgeTransactionsBefore(ctx, cutoff)
	if err != nil {
		e.metrics.Errors.WithLabelValues("retention_sweep").Inc()
		return 0, fmt.Errorf("retention sweep: %w", err)
	}
	if removed > 0 {
		e.metrics.SweepDeleted.Add(float64(removed))
	}
	e.logger.Info("retention sweep finished", "cutoff", cutoff, "removed", removed)
	return removed, nil
}
