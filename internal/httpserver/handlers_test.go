package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sub-shop/internal/affiliate"
	"sub-shop/internal/auth"
	"sub-shop/internal/ledger"
	"sub-shop/internal/metrics"
	"sub-shop/internal/model"
	"sub-shop/internal/repo"
)

type testEnv struct {
	server *Server
	store  *repo.MemoryStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := repo.NewMemory()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.Registry("test")
	led := ledger.NewEngine(store, logger, m, 50000, 10000)
	sessions := affiliate.NewMemorySessions(time.Hour)
	aff := affiliate.NewEngine(store, led, sessions, logger, m, "https://shop.example.com")
	tokens := auth.NewTokenManager("test-secret", time.Hour)
	return &testEnv{
		server: New(":0", store, led, aff, tokens, nil, logger, m),
		store:  store,
	}
}

func (env *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	env.server.Router().ServeHTTP(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, dest any) {
	t.Helper()
	var env struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	if dest != nil {
		require.NoError(t, json.Unmarshal(env.Data, dest))
	}
}

func (env *testEnv) register(t *testing.T, username string) (token string, userID string) {
	t.Helper()
	rec := env.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"username": username,
		"email":    username + "@example.com",
		"password": "s3cret",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp struct {
		Token string     `json:"token"`
		User  model.User `json:"user"`
	}
	decodeData(t, rec, &resp)
	return resp.Token, resp.User.ID
}

func (env *testEnv) registerAdmin(t *testing.T) string {
	t.Helper()
	hash, err := auth.HashPassword("admin-pass")
	require.NoError(t, err)
	_, err = env.store.CreateUser(context.Background(), model.User{
		ID:            uuid.NewString(),
		Username:      "root",
		Email:         "root@example.com",
		PasswordHash:  hash,
		Role:          model.RoleAdmin,
		AffiliateCode: "ROOT-000000",
	})
	require.NoError(t, err)

	rec := env.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"username": "root", "password": "admin-pass",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Token string `json:"token"`
	}
	decodeData(t, rec, &resp)
	return resp.Token
}

func (env *testEnv) seedProduct(t *testing.T, price int64, start, end time.Time) *model.Product {
	t.Helper()
	p, err := env.store.CreateProduct(context.Background(), model.Product{
		ID:            uuid.NewString(),
		ServiceType:   "streaming",
		Username:      "acct@example.com",
		Password:      "hunter2",
		StartDate:     start,
		EndDate:       end,
		OriginalPrice: price,
		Status:        model.ProductAvailable,
	})
	require.NoError(t, err)
	return p
}

func TestRegisterLoginFlow(t *testing.T) {
	env := newTestEnv(t)

	token, _ := env.register(t, "budi")
	require.NotEmpty(t, token)

	rec := env.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"username": "budi", "email": "other@example.com", "password": "x",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"username": "budi", "password": "wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/me", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var me model.User
	decodeData(t, rec, &me)
	assert.Equal(t, "budi", me.Username)
	assert.NotEmpty(t, me.AffiliateCode)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/me", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCatalogueHidesCredentialsAndExpired(t *testing.T) {
	env := newTestEnv(t)
	now := time.Now()

	env.seedProduct(t, 365_000, now.AddDate(0, 0, -10), now.AddDate(0, 0, 355))
	env.seedProduct(t, 100_000, now.AddDate(0, -2, 0), now.AddDate(0, -1, 0))

	rec := env.do(t, http.MethodGet, "/api/products", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.NotContains(t, rec.Body.String(), "hunter2")
	assert.NotContains(t, rec.Body.String(), "acct@example.com")

	var listed []listedProduct
	decodeData(t, rec, &listed)
	require.Len(t, listed, 1, "expired products are not listed")
	assert.False(t, listed[0].Quote.IsExpired)
	assert.Positive(t, listed[0].Quote.SellingPrice)
}

// memoryCatalogue is a single-entry CatalogueCache for tests.
type memoryCatalogue struct {
	mu   sync.Mutex
	data []byte
	sets int
	hits int
}

func (c *memoryCatalogue) Get(_ context.Context, dest any) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.data == nil {
		return false, nil
	}
	c.hits++
	return true, json.Unmarshal(c.data, dest)
}

func (c *memoryCatalogue) Set(_ context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.data = data
	c.sets++
	c.mu.Unlock()
	return nil
}

func (c *memoryCatalogue) Invalidate(context.Context) error {
	c.mu.Lock()
	c.data = nil
	c.mu.Unlock()
	return nil
}

func TestCatalogueCacheServesAndInvalidates(t *testing.T) {
	env := newTestEnv(t)
	catalogue := &memoryCatalogue{}
	env.server.catalogue = catalogue
	now := time.Now()

	env.seedProduct(t, 365_000, now.AddDate(0, 0, -10), now.AddDate(0, 0, 355))

	rec := env.do(t, http.MethodGet, "/api/products", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, catalogue.sets)

	// A product seeded behind the cache's back stays invisible until the
	// cache is dropped.
	env.seedProduct(t, 100_000, now.AddDate(0, 0, -1), now.AddDate(0, 0, 30))
	rec = env.do(t, http.MethodGet, "/api/products", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed []listedProduct
	decodeData(t, rec, &listed)
	assert.Len(t, listed, 1)
	assert.Equal(t, 1, catalogue.hits)

	// Creating a product through the API drops the cache.
	admin := env.registerAdmin(t)
	rec = env.do(t, http.MethodPost, "/api/admin/products", admin, map[string]any{
		"service_type":   "music",
		"original_price": 120_000,
		"start_date":     now.Format(time.RFC3339),
		"end_date":       now.AddDate(0, 0, 60).Format(time.RFC3339),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/api/products", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	listed = nil
	decodeData(t, rec, &listed)
	assert.Len(t, listed, 3)
}

func TestRequestMetricsUseNumericStatusCode(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/products", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	count := testutil.ToFloat64(env.server.metrics.HTTPRequests.WithLabelValues("/api/products", "200"))
	assert.GreaterOrEqual(t, count, float64(1))
}

func TestPurchaseEndpoint(t *testing.T) {
	env := newTestEnv(t)
	now := time.Now()

	token, userID := env.register(t, "buyer")
	admin := env.registerAdmin(t)
	rec := env.do(t, http.MethodPost, "/api/admin/users/"+userID+"/adjust", admin, map[string]any{
		"wallet": "deposit", "amount": 4_000_000, "reason": "manual top-up",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	product := env.seedProduct(t, 3_650_000, now.AddDate(0, 0, -10), now.AddDate(0, 0, 355))

	rec = env.do(t, http.MethodPost, "/api/products/"+product.ID+"/purchase", token, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var order model.Order
	decodeData(t, rec, &order)
	assert.Equal(t, "hunter2", order.Password, "the buyer receives the credentials")
	assert.Positive(t, order.PricePaid)

	rec = env.do(t, http.MethodPost, "/api/products/"+product.ID+"/purchase", token, nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "a sold product cannot be bought twice")

	rec = env.do(t, http.MethodGet, "/api/me/orders", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var orders []model.Order
	decodeData(t, rec, &orders)
	assert.Len(t, orders, 1)
}

func TestPurchaseInsufficientFunds(t *testing.T) {
	env := newTestEnv(t)
	now := time.Now()

	token, _ := env.register(t, "broke")
	product := env.seedProduct(t, 3_650_000, now.AddDate(0, 0, -10), now.AddDate(0, 0, 355))

	rec := env.do(t, http.MethodPost, "/api/products/"+product.ID+"/purchase", token, nil)
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
}

func TestReferralFlowOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	now := time.Now()

	_, referrerID := env.register(t, "referrer")
	referrer, err := env.store.GetUserByID(context.Background(), referrerID)
	require.NoError(t, err)

	buyerToken, buyerID := env.register(t, "buyer")
	admin := env.registerAdmin(t)
	rec := env.do(t, http.MethodPost, "/api/admin/users/"+buyerID+"/adjust", admin, map[string]any{
		"wallet": "deposit", "amount": 5_000_000, "reason": "top-up",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	product := env.seedProduct(t, 3_650_000, now.AddDate(0, 0, -10), now.AddDate(0, 0, 355))

	ts := httptest.NewServer(env.server.Router())
	defer ts.Close()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	client := &http.Client{Jar: jar}

	// The visit with ?ref= plants the cookie and holds the code.
	resp, err := client.Get(ts.URL + "/api/products?ref=" + referrer.AffiliateCode)
	require.NoError(t, err)
	resp.Body.Close()

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/products/"+product.ID+"/purchase", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+buyerToken)
	resp, err = client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	updated, err := env.store.GetUserByID(context.Background(), referrerID)
	require.NoError(t, err)
	assert.Equal(t, affiliate.CommissionFor(3_550_000), updated.CommissionWallet)
}

func TestWithdrawEndpoint(t *testing.T) {
	env := newTestEnv(t)

	token, userID := env.register(t, "earner")
	admin := env.registerAdmin(t)
	rec := env.do(t, http.MethodPost, "/api/admin/users/"+userID+"/adjust", admin, map[string]any{
		"wallet": "commission", "amount": 1_065_000, "reason": "backfill",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/me/withdraw", token, map[string]any{
		"amount": 40_000, "method": "bank_transfer",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/me/withdraw", token, map[string]any{
		"amount": 100_000, "method": "convert_to_deposit",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var tx model.Transaction
	decodeData(t, rec, &tx)
	assert.Equal(t, model.TxConversion, tx.Type)
	assert.Equal(t, model.TxCompleted, tx.Status)

	rec = env.do(t, http.MethodGet, "/api/me/balance", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var balance model.WalletBalance
	decodeData(t, rec, &balance)
	assert.Equal(t, int64(100_000), balance.Deposit)
	assert.Equal(t, int64(965_000), balance.Commission)
}

func TestDepositRequestEndpoint(t *testing.T) {
	env := newTestEnv(t)
	token, _ := env.register(t, "saver")

	rec := env.do(t, http.MethodPost, "/api/me/deposit", token, map[string]any{
		"amount": 5_000,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/me/deposit", token, map[string]any{
		"amount": 50_000,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var tx model.Transaction
	decodeData(t, rec, &tx)
	assert.Equal(t, model.TxDeposit, tx.Type)
	assert.Equal(t, model.TxPending, tx.Status)

	// No money moves until an admin confirms the payment.
	rec = env.do(t, http.MethodGet, "/api/me/balance", token, nil)
	var balance model.WalletBalance
	decodeData(t, rec, &balance)
	assert.Equal(t, int64(0), balance.Deposit)
}

func TestSettleWithdrawalEndpoint(t *testing.T) {
	env := newTestEnv(t)

	token, userID := env.register(t, "earner")
	admin := env.registerAdmin(t)
	rec := env.do(t, http.MethodPost, "/api/admin/users/"+userID+"/adjust", admin, map[string]any{
		"wallet": "commission", "amount": 200_000, "reason": "backfill",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/me/withdraw", token, map[string]any{
		"amount": 150_000, "method": "bank_transfer", "details": "BCA 123",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var tx model.Transaction
	decodeData(t, rec, &tx)
	require.Equal(t, model.TxPending, tx.Status)

	rec = env.do(t, http.MethodPost, "/api/admin/withdrawals/"+tx.ID+"/settle", admin, map[string]any{
		"approve": false,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var settled model.Transaction
	decodeData(t, rec, &settled)
	assert.Equal(t, model.TxFailed, settled.Status)

	rec = env.do(t, http.MethodGet, "/api/me/balance", token, nil)
	var balance model.WalletBalance
	decodeData(t, rec, &balance)
	assert.Equal(t, int64(200_000), balance.Commission, "rejection refunds the wallet")
}

func TestCreateProductRejectsInvertedDates(t *testing.T) {
	env := newTestEnv(t)
	admin := env.registerAdmin(t)
	now := time.Now()

	rec := env.do(t, http.MethodPost, "/api/admin/products", admin, map[string]any{
		"service_type":   "streaming",
		"original_price": 100_000,
		"start_date":     now.Format(time.RFC3339),
		"end_date":       now.AddDate(0, 0, -30).Format(time.RFC3339),
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	products, err := env.store.ListProducts(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, products)
}

func TestAdminProductListingCarriesQuotes(t *testing.T) {
	env := newTestEnv(t)
	admin := env.registerAdmin(t)
	now := time.Now()
	env.seedProduct(t, 365_000, now.AddDate(0, 0, -10), now.AddDate(0, 0, 355))

	rec := env.do(t, http.MethodGet, "/api/admin/products", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var listed []adminProduct
	decodeData(t, rec, &listed)
	require.Len(t, listed, 1)
	assert.Positive(t, listed[0].Quote.SellingPrice)
	assert.Equal(t, 355, listed[0].Quote.RemainingDays)
}

func TestAdminRoutesForbiddenForUsers(t *testing.T) {
	env := newTestEnv(t)
	token, _ := env.register(t, "pleb")

	rec := env.do(t, http.MethodGet, "/api/admin/users", token, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/admin/sweep", token, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestNotificationsLifecycle(t *testing.T) {
	env := newTestEnv(t)
	admin := env.registerAdmin(t)

	rec := env.do(t, http.MethodPost, "/api/admin/notifications", admin, map[string]any{
		"message": "Maintenance tonight",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var note model.Notification
	decodeData(t, rec, &note)

	rec = env.do(t, http.MethodGet, "/api/notifications", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Maintenance tonight")

	rec = env.do(t, http.MethodPatch, fmt.Sprintf("/api/admin/notifications/%s", note.ID), admin, map[string]any{
		"active": false,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/notifications", "", nil)
	assert.NotContains(t, rec.Body.String(), "Maintenance tonight")
}

func TestRetentionSweepEndpoint(t *testing.T) {
	env := newTestEnv(t)
	admin := env.registerAdmin(t)

	_, userID := env.register(t, "olduser")
	_, err := env.store.CreateTransaction(context.Background(), model.Transaction{
		ID: uuid.NewString(), UserID: userID, Type: model.TxPurchase,
		Amount: -5_000, Status: model.TxCompleted,
		CreatedAt: time.Now().UTC().AddDate(0, 0, -45),
	})
	require.NoError(t, err)

	rec := env.do(t, http.MethodPost, "/api/admin/sweep", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var result map[string]int64
	decodeData(t, rec, &result)
	assert.Equal(t, int64(1), result["removed"])
}
