package ledger

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sub-shop/internal/errs"
	"sub-shop/internal/metrics"
	"sub-shop/internal/model"
	"sub-shop/internal/repo"
)

func newTestEngine(t *testing.T) (*Engine, *repo.MemoryStore) {
	t.Helper()
	store := repo.NewMemory()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewEngine(store, logger, metrics.Registry("test"), 50000, 10000), store
}

func seedUser(t *testing.T, store *repo.MemoryStore, deposit, commission int64) *model.User {
	t.Helper()
	u, err := store.CreateUser(context.Background(), model.User{
		ID:       uuid.NewString(),
		Username: "buyer-" + uuid.NewString()[:8],
		Email:    uuid.NewString() + "@example.com",
		Role:     model.RoleUser,
	})
	require.NoError(t, err)
	if deposit != 0 || commission != 0 {
		u, err = store.UpdateUserWallets(context.Background(), u.ID, deposit, commission, u.Version)
		require.NoError(t, err)
	}
	return u
}

func seedProduct(t *testing.T, store *repo.MemoryStore, price int64, start, end time.Time) *model.Product {
	t.Helper()
	p, err := store.CreateProduct(context.Background(), model.Product{
		ID:            uuid.NewString(),
		ServiceType:   "streaming",
		Username:      "acct@example.com",
		Password:      "secret",
		StartDate:     start,
		EndDate:       end,
		OriginalPrice: price,
		Status:        model.ProductAvailable,
	})
	require.NoError(t, err)
	return p
}

func TestPurchaseDebitsDepositAndSellsProduct(t *testing.T) {
	e, store := newTestEngine(t)
	ctx := context.Background()

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)
	now := time.Date(2026, 1, 11, 0, 0, 0, 0, time.UTC)

	buyer := seedUser(t, store, 4_000_000, 0)
	product := seedProduct(t, store, 3_650_000, start, end)

	order, err := e.Purchase(ctx, buyer.ID, product.ID, now)
	require.NoError(t, err)
	assert.Equal(t, int64(3_550_000), order.PricePaid)
	assert.Equal(t, 355, order.DaysRemaining)
	assert.Equal(t, "acct@example.com", order.Username)

	updated, err := store.GetUserByID(ctx, buyer.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(450_000), updated.DepositWallet)

	sold, err := store.GetProductByID(ctx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ProductSold, sold.Status)

	txs, err := store.ListTransactionsByUser(ctx, buyer.ID, model.TxPurchase)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, int64(-3_550_000), txs[0].Amount)
	assert.Equal(t, model.TxCompleted, txs[0].Status)
	assert.Equal(t, order.ID, txs[0].OrderID)
}

func TestPurchaseSpendsDepositWalletOnly(t *testing.T) {
	e, store := newTestEngine(t)
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	// Plenty of commission funds, not enough deposit.
	buyer := seedUser(t, store, 30_000, 500_000)
	product := seedProduct(t, store, 100_000, now.AddDate(0, 0, -5), now.AddDate(0, 0, 95))

	_, err := e.Purchase(ctx, buyer.ID, product.ID, now)
	assert.ErrorIs(t, err, errs.ErrInsufficientFunds)

	updated, err := store.GetUserByID(ctx, buyer.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(30_000), updated.DepositWallet)
	assert.Equal(t, int64(500_000), updated.CommissionWallet)
}

func TestPurchaseInsufficientFundsLeavesEverythingUntouched(t *testing.T) {
	e, store := newTestEngine(t)
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	buyer := seedUser(t, store, 1_000, 0)
	product := seedProduct(t, store, 100_000, now.AddDate(0, 0, -1), now.AddDate(0, 0, 30))

	_, err := e.Purchase(ctx, buyer.ID, product.ID, now)
	assert.ErrorIs(t, err, errs.ErrInsufficientFunds)

	updated, err := store.GetUserByID(ctx, buyer.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1_000), updated.DepositWallet)

	p, err := store.GetProductByID(ctx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ProductAvailable, p.Status)

	txs, err := store.ListTransactionsByUser(ctx, buyer.ID)
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestPurchaseRejectsSoldAndExpiredProducts(t *testing.T) {
	e, store := newTestEngine(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	buyer := seedUser(t, store, 1_000_000, 0)
	rival := seedUser(t, store, 1_000_000, 0)

	product := seedProduct(t, store, 90_000, now.AddDate(0, 0, -10), now.AddDate(0, 0, 20))
	_, err := e.Purchase(ctx, rival.ID, product.ID, now)
	require.NoError(t, err)

	_, err = e.Purchase(ctx, buyer.ID, product.ID, now)
	assert.ErrorIs(t, err, errs.ErrProductUnavailable)

	expired := seedProduct(t, store, 90_000, now.AddDate(0, -2, 0), now.AddDate(0, -1, 0))
	_, err = e.Purchase(ctx, buyer.ID, expired.ID, now)
	assert.ErrorIs(t, err, errs.ErrProductUnavailable)
}

func TestAdminAdjustClampsAtZero(t *testing.T) {
	e, store := newTestEngine(t)
	ctx := context.Background()
	user := seedUser(t, store, 10_000, 0)

	updated, err := e.AdminAdjust(ctx, user.ID, model.WalletDeposit, -25_000, "chargeback")
	require.NoError(t, err)
	assert.Equal(t, int64(0), updated.DepositWallet)

	txs, err := store.ListTransactionsByUser(ctx, user.ID, model.TxAdminAdjustment)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, int64(-25_000), txs[0].Amount, "the entry records the requested delta, not the clamped effect")
	assert.Equal(t, "Admin: chargeback", txs[0].Description)
}

func TestAdminAdjustCreditsCommissionWallet(t *testing.T) {
	e, store := newTestEngine(t)
	ctx := context.Background()
	user := seedUser(t, store, 0, 5_000)

	updated, err := e.AdminAdjust(ctx, user.ID, model.WalletCommission, 15_000, "promo bonus")
	require.NoError(t, err)
	assert.Equal(t, int64(20_000), updated.CommissionWallet)
	assert.Equal(t, int64(0), updated.DepositWallet)
}

func TestWithdrawBelowMinimumFails(t *testing.T) {
	e, store := newTestEngine(t)
	ctx := context.Background()
	user := seedUser(t, store, 0, 1_065_000)

	_, err := e.Withdraw(ctx, user.ID, 40_000, "bank_transfer", "BCA 123")
	assert.ErrorIs(t, err, errs.ErrBelowMinimumThreshold)

	updated, err := store.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1_065_000), updated.CommissionWallet)
}

func TestWithdrawConvertToDepositSettlesImmediately(t *testing.T) {
	e, store := newTestEngine(t)
	ctx := context.Background()
	user := seedUser(t, store, 0, 1_065_000)

	tx, err := e.Withdraw(ctx, user.ID, 100_000, MethodConvertToDeposit, "")
	require.NoError(t, err)
	assert.Equal(t, model.TxConversion, tx.Type)
	assert.Equal(t, model.TxCompleted, tx.Status)

	updated, err := store.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(965_000), updated.CommissionWallet)
	assert.Equal(t, int64(100_000), updated.DepositWallet)
}

func TestWithdrawExternalStaysPending(t *testing.T) {
	e, store := newTestEngine(t)
	ctx := context.Background()
	user := seedUser(t, store, 0, 200_000)

	tx, err := e.Withdraw(ctx, user.ID, 150_000, "bank_transfer", "BCA 123456")
	require.NoError(t, err)
	assert.Equal(t, model.TxWithdrawal, tx.Type)
	assert.Equal(t, model.TxPending, tx.Status)

	updated, err := store.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(50_000), updated.CommissionWallet)

	_, err = e.Withdraw(ctx, user.ID, 60_000, "bank_transfer", "BCA 123456")
	assert.ErrorIs(t, err, errs.ErrInsufficientFunds)
}

func TestSettleWithdrawalApproveAndReject(t *testing.T) {
	e, store := newTestEngine(t)
	ctx := context.Background()
	user := seedUser(t, store, 0, 300_000)

	first, err := e.Withdraw(ctx, user.ID, 100_000, "bank_transfer", "")
	require.NoError(t, err)
	second, err := e.Withdraw(ctx, user.ID, 100_000, "bank_transfer", "")
	require.NoError(t, err)

	settled, err := e.SettleWithdrawal(ctx, first.ID, true)
	require.NoError(t, err)
	assert.Equal(t, model.TxCompleted, settled.Status)

	rejected, err := e.SettleWithdrawal(ctx, second.ID, false)
	require.NoError(t, err)
	assert.Equal(t, model.TxFailed, rejected.Status)

	updated, err := store.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(200_000), updated.CommissionWallet, "the rejected amount is refunded")

	_, err = e.SettleWithdrawal(ctx, settled.ID, true)
	assert.ErrorIs(t, err, errs.ErrNotSettleable)
}

// stallingSettleStore pauses the first status update so a second settlement
// of the same entry can race the one in flight.
type stallingSettleStore struct {
	repo.Store
	mu      sync.Mutex
	stalled bool
	entered chan struct{}
	release chan struct{}
}

func (s *stallingSettleStore) UpdateTransactionStatus(ctx context.Context, id string, status model.TxStatus) error {
	s.mu.Lock()
	first := !s.stalled
	s.stalled = true
	s.mu.Unlock()
	if first {
		close(s.entered)
		<-s.release
	}
	return s.Store.UpdateTransactionStatus(ctx, id, status)
}

func TestSettleWithdrawalConcurrentRejectRefundsOnce(t *testing.T) {
	store := repo.NewMemory()
	stalling := &stallingSettleStore{
		Store:   store,
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	e := NewEngine(stalling, logger, metrics.Registry("test"), 50000, 10000)
	ctx := context.Background()

	user := seedUser(t, store, 0, 200_000)
	tx, err := e.Withdraw(ctx, user.ID, 100_000, "bank_transfer", "BCA 123")
	require.NoError(t, err)

	firstErr := make(chan error, 1)
	go func() {
		_, err := e.SettleWithdrawal(ctx, tx.ID, false)
		firstErr <- err
	}()
	<-stalling.entered

	// The first rejection holds the user lock mid-settlement; the second one
	// must wait for it and then find the entry already settled.
	secondErr := make(chan error, 1)
	go func() {
		_, err := e.SettleWithdrawal(ctx, tx.ID, false)
		secondErr <- err
	}()

	close(stalling.release)
	require.NoError(t, <-firstErr)
	require.ErrorIs(t, <-secondErr, errs.ErrNotSettleable)

	updated, err := store.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(200_000), updated.CommissionWallet, "the rejected amount is refunded exactly once")
}

func TestCreditCommissionIsIdempotentPerOrder(t *testing.T) {
	e, store := newTestEngine(t)
	ctx := context.Background()
	referrer := seedUser(t, store, 0, 0)

	orderID := uuid.NewString()
	tx, err := e.CreditCommission(ctx, referrer.ID, 1_065_000, orderID, 3_550_000)
	require.NoError(t, err)
	assert.Equal(t, int64(1_065_000), tx.Amount)

	again, err := e.CreditCommission(ctx, referrer.ID, 1_065_000, orderID, 3_550_000)
	require.NoError(t, err)
	assert.Equal(t, tx.ID, again.ID)

	updated, err := store.GetUserByID(ctx, referrer.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1_065_000), updated.CommissionWallet, "money moves once per order")
}

func TestRequestDeposit(t *testing.T) {
	e, store := newTestEngine(t)
	ctx := context.Background()
	user := seedUser(t, store, 0, 0)

	_, err := e.RequestDeposit(ctx, user.ID, 5_000)
	assert.ErrorIs(t, err, errs.ErrBelowMinimumThreshold)

	tx, err := e.RequestDeposit(ctx, user.ID, 50_000)
	require.NoError(t, err)
	assert.Equal(t, model.TxDeposit, tx.Type)
	assert.Equal(t, model.TxPending, tx.Status)
	assert.Contains(t, tx.Details, "DEP-")

	// The intent records no money movement.
	updated, err := store.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), updated.DepositWallet)
}

func TestRetentionSweepKeepsPendingWithdrawals(t *testing.T) {
	e, store := newTestEngine(t)
	ctx := context.Background()
	user := seedUser(t, store, 0, 0)

	now := time.Now().UTC()
	old := now.AddDate(0, 0, -40)

	purchase, err := store.CreateTransaction(ctx, model.Transaction{
		ID: uuid.NewString(), UserID: user.ID, Type: model.TxPurchase,
		Amount: -10_000, Status: model.TxCompleted, CreatedAt: old,
	})
	require.NoError(t, err)

	pending, err := store.CreateTransaction(ctx, model.Transaction{
		ID: uuid.NewString(), UserID: user.ID, Type: model.TxWithdrawal,
		Amount: 60_000, Status: model.TxPending, CreatedAt: old,
	})
	require.NoError(t, err)

	removed, err := e.RetentionSweep(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	_, err = store.GetTransactionByID(ctx, purchase.ID)
	assert.ErrorIs(t, err, errs.ErrTransactionNotFound)
	_, err = store.GetTransactionByID(ctx, pending.ID)
	assert.NoError(t, err)
}
