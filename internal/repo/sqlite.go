package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"sub-shop/internal/errs"
	"sub-shop/internal/model"
)

// SQLiteStore provides access to a local SQLite database for single-node
// deployments.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLite opens a connection to the SQLite database at path.
func NewSQLite(ctx context.Context, databasePath string, logger *slog.Logger) (*SQLiteStore, error) {
	path := strings.TrimSpace(databasePath)
	if path == "" {
		return nil, fmt.Errorf("sqlite database path is empty")
	}

	dsn := path
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	// Busy timeout and WAL mode are recommended for SQLite concurrency.
	dsn = fmt.Sprintf("%s%s_pragma=busy_timeout=10000&_pragma=journal_mode=WAL&_pragma=foreign_keys=ON", dsn, sep)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		logger: logger.With("component", "repo_sqlite"),
	}, nil
}

// Close releases the database connection.
func (s *SQLiteStore) Close() {
	if s.db != nil {
		s.db.Close()
	}
}

// Ping ensures the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// RunMigrations applies the SQLite flavour of the schema.
func (s *SQLiteStore) RunMigrations(ctx context.Context, filesystem fs.FS) error {
	sqlContent, err := fs.ReadFile(filesystem, "sqlite/001_init.sql")
	if err != nil {
		return fmt.Errorf("read migration: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, string(sqlContent)); err != nil {
		return fmt.Errorf("apply migration: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *SQLiteStore) scanUser(row rowScanner) (*model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Role,
		&u.DepositWallet, &u.CommissionWallet, &u.AffiliateCode, &u.Version,
		&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.ErrUserNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}

const sqliteUserColumns = `id, username, email, password_hash, role, deposit_wallet, commission_wallet, affiliate_code, version, created_at, updated_at`

// CreateUser inserts a new user row.
func (s *SQLiteStore) CreateUser(ctx context.Context, user model.User) (*model.User, error) {
	const q = `
INSERT INTO users (id, username, email, password_hash, role, deposit_wallet, commission_wallet, affiliate_code, version, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
RETURNING ` + sqliteUserColumns + `;
`
	now := time.Now().UTC()
	row := s.db.QueryRowContext(ctx, q,
		user.ID, user.Username, user.Email, user.PasswordHash, user.Role,
		user.DepositWallet, user.CommissionWallet, user.AffiliateCode, now, now)

	created, err := s.scanUser(row)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: users.email") {
			return nil, errs.ErrEmailTaken
		}
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, errs.ErrUsernameTaken
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return created, nil
}

// GetUserByID returns a user by internal identifier.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	const q = `SELECT ` + sqliteUserColumns + ` FROM users WHERE id = ? LIMIT 1;`
	return s.scanUser(s.db.QueryRowContext(ctx, q, id))
}

// GetUserByUsername returns a user by login name.
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	const q = `SELECT ` + sqliteUserColumns + ` FROM users WHERE username = ? LIMIT 1;`
	return s.scanUser(s.db.QueryRowContext(ctx, q, username))
}

// GetUserByAffiliateCode resolves a referral code to its owner.
func (s *SQLiteStore) GetUserByAffiliateCode(ctx context.Context, code string) (*model.User, error) {
	const q = `SELECT ` + sqliteUserColumns + ` FROM users WHERE affiliate_code = ? LIMIT 1;`
	return s.scanUser(s.db.QueryRowContext(ctx, q, code))
}

// ListUsers returns every registered user, oldest first.
func (s *SQLiteStore) ListUsers(ctx context.Context) ([]model.User, error) {
	const q = `SELECT ` + sqliteUserColumns + ` FROM users ORDER BY created_at ASC;`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		u, err := s.scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return users, nil
}

// UpdateUserWallets writes both wallet balances, guarded by the optimistic
// version token.
func (s *SQLiteStore) UpdateUserWallets(ctx context.Context, id string, deposit, commission, version int64) (*model.User, error) {
	const q = `
UPDATE users
SET deposit_wallet = ?, commission_wallet = ?, version = version + 1, updated_at = ?
WHERE id = ? AND version = ?
RETURNING ` + sqliteUserColumns + `;
`
	updated, err := s.scanUser(s.db.QueryRowContext(ctx, q, deposit, commission, time.Now().UTC(), id, version))
	if err != nil {
		if errors.Is(err, errs.ErrUserNotFound) {
			if _, lookupErr := s.GetUserByID(ctx, id); lookupErr == nil {
				return nil, errs.ErrVersionConflict
			}
			return nil, errs.ErrUserNotFound
		}
		return nil, fmt.Errorf("update user wallets: %w", err)
	}
	return updated, nil
}

const sqliteProductColumns = `id, service_type, username, password, cookie, local_storage, start_date, end_date, original_price, status, sold_to, sold_at, version, created_at`

func (s *SQLiteStore) scanProduct(row rowScanner) (*model.Product, error) {
	var p model.Product
	var soldTo sql.NullString
	var soldAt sql.NullTime
	err := row.Scan(&p.ID, &p.ServiceType, &p.Username, &p.Password, &p.Cookie,
		&p.LocalStorage, &p.StartDate, &p.EndDate, &p.OriginalPrice, &p.Status,
		&soldTo, &soldAt, &p.Version, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.ErrProductNotFound
		}
		return nil, fmt.Errorf("scan product: %w", err)
	}
	if soldTo.Valid {
		p.SoldTo = &soldTo.String
	}
	if soldAt.Valid {
		p.SoldAt = &soldAt.Time
	}
	return &p, nil
}

// CreateProduct inserts a new product listing.
func (s *SQLiteStore) CreateProduct(ctx context.Context, product model.Product) (*model.Product, error) {
	const q = `
INSERT INTO products (id, service_type, username, password, cookie, local_storage, start_date, end_date, original_price, status, version, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?)
RETURNING ` + sqliteProductColumns + `;
`
	row := s.db.QueryRowContext(ctx, q,
		product.ID, product.ServiceType, product.Username, product.Password,
		product.Cookie, product.LocalStorage, product.StartDate, product.EndDate,
		product.OriginalPrice, product.Status, time.Now().UTC())
	created, err := s.scanProduct(row)
	if err != nil {
		return nil, fmt.Errorf("insert product: %w", err)
	}
	return created, nil
}

// GetProductByID returns a product by identifier.
func (s *SQLiteStore) GetProductByID(ctx context.Context, id string) (*model.Product, error) {
	const q = `SELECT ` + sqliteProductColumns + ` FROM products WHERE id = ? LIMIT 1;`
	return s.scanProduct(s.db.QueryRowContext(ctx, q, id))
}

// ListProducts returns products, optionally filtered by status, newest first.
func (s *SQLiteStore) ListProducts(ctx context.Context, status *model.ProductStatus) ([]model.Product, error) {
	q := `SELECT ` + sqliteProductColumns + ` FROM products ORDER BY created_at DESC;`
	args := []any{}
	if status != nil {
		q = `SELECT ` + sqliteProductColumns + ` FROM products WHERE status = ? ORDER BY created_at DESC;`
		args = append(args, *status)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var products []model.Product
	for rows.Next() {
		p, err := s.scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}
	return products, nil
}

// MarkProductSold flips an available product to sold.
func (s *SQLiteStore) MarkProductSold(ctx context.Context, id, buyerID string, soldAt time.Time, version int64) error {
	const q = `
UPDATE products
SET status = ?, sold_to = ?, sold_at = ?, version = version + 1
WHERE id = ? AND version = ? AND status = ?;
`
	res, err := s.db.ExecContext(ctx, q, model.ProductSold, buyerID, soldAt, id, version, model.ProductAvailable)
	if err != nil {
		return fmt.Errorf("mark product sold: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, lookupErr := s.GetProductByID(ctx, id); lookupErr != nil {
			return errs.ErrProductNotFound
		}
		return errs.ErrVersionConflict
	}
	return nil
}

// DeleteProduct removes a listing.
func (s *SQLiteStore) DeleteProduct(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM products WHERE id = ?;`, id)
	if err != nil {
		return fmt.Errorf("delete product: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.ErrProductNotFound
	}
	return nil
}

const sqliteOrderColumns = `id, user_id, product_id, service_type, username, password, cookie, local_storage, price_paid, days_remaining, end_date, created_at`

func (s *SQLiteStore) scanOrder(row rowScanner) (*model.Order, error) {
	var o model.Order
	err := row.Scan(&o.ID, &o.UserID, &o.ProductID, &o.ServiceType, &o.Username,
		&o.Password, &o.Cookie, &o.LocalStorage, &o.PricePaid, &o.DaysRemaining,
		&o.EndDate, &o.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.ErrOrderNotFound
		}
		return nil, fmt.Errorf("scan order: %w", err)
	}
	return &o, nil
}

// CreateOrder stores an immutable purchase snapshot.
func (s *SQLiteStore) CreateOrder(ctx context.Context, order model.Order) (*model.Order, error) {
	const q = `
INSERT INTO orders (id, user_id, product_id, service_type, username, password, cookie, local_storage, price_paid, days_remaining, end_date, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
RETURNING ` + sqliteOrderColumns + `;
`
	row := s.db.QueryRowContext(ctx, q,
		order.ID, order.UserID, order.ProductID, order.ServiceType, order.Username,
		order.Password, order.Cookie, order.LocalStorage, order.PricePaid,
		order.DaysRemaining, order.EndDate, time.Now().UTC())
	created, err := s.scanOrder(row)
	if err != nil {
		return nil, fmt.Errorf("insert order: %w", err)
	}
	return created, nil
}

// GetOrderByID returns an order by identifier.
func (s *SQLiteStore) GetOrderByID(ctx context.Context, id string) (*model.Order, error) {
	const q = `SELECT ` + sqliteOrderColumns + ` FROM orders WHERE id = ? LIMIT 1;`
	return s.scanOrder(s.db.QueryRowContext(ctx, q, id))
}

// ListOrdersByUser returns a user's purchase history, newest first.
func (s *SQLiteStore) ListOrdersByUser(ctx context.Context, userID string) ([]model.Order, error) {
	const q = `SELECT ` + sqliteOrderColumns + ` FROM orders WHERE user_id = ? ORDER BY created_at DESC;`
	return s.queryOrders(ctx, q, userID)
}

// ListOrders returns every order, newest first.
func (s *SQLiteStore) ListOrders(ctx context.Context) ([]model.Order, error) {
	const q = `SELECT ` + sqliteOrderColumns + ` FROM orders ORDER BY created_at DESC;`
	return s.queryOrders(ctx, q)
}

func (s *SQLiteStore) queryOrders(ctx context.Context, q string, args ...any) ([]model.Order, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		o, err := s.scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}
	return orders, nil
}

const sqliteTxColumns = `id, user_id, type, amount, status, description, wallet, method, details, order_id, order_value, created_at`

func (s *SQLiteStore) scanTransaction(row rowScanner) (*model.Transaction, error) {
	var t model.Transaction
	err := row.Scan(&t.ID, &t.UserID, &t.Type, &t.Amount, &t.Status,
		&t.Description, &t.Wallet, &t.Method, &t.Details, &t.OrderID,
		&t.OrderValue, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("scan transaction: %w", err)
	}
	return &t, nil
}

// CreateTransaction appends a ledger entry.
func (s *SQLiteStore) CreateTransaction(ctx context.Context, tx model.Transaction) (*model.Transaction, error) {
	const q = `
INSERT INTO transactions (id, user_id, type, amount, status, description, wallet, method, details, order_id, order_value, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
RETURNING ` + sqliteTxColumns + `;
`
	row := s.db.QueryRowContext(ctx, q,
		tx.ID, tx.UserID, tx.Type, tx.Amount, tx.Status, tx.Description,
		tx.Wallet, tx.Method, tx.Details, tx.OrderID, tx.OrderValue, tx.CreatedAt)
	created, err := s.scanTransaction(row)
	if err != nil {
		return nil, fmt.Errorf("insert transaction: %w", err)
	}
	return created, nil
}

// GetTransactionByID returns a ledger entry by identifier.
func (s *SQLiteStore) GetTransactionByID(ctx context.Context, id string) (*model.Transaction, error) {
	const q = `SELECT ` + sqliteTxColumns + ` FROM transactions WHERE id = ? LIMIT 1;`
	return s.scanTransaction(s.db.QueryRowContext(ctx, q, id))
}

// ListTransactionsByUser returns a user's ledger entries, newest first,
// optionally restricted to the given types.
func (s *SQLiteStore) ListTransactionsByUser(ctx context.Context, userID string, types ...model.TxType) ([]model.Transaction, error) {
	q := `SELECT ` + sqliteTxColumns + ` FROM transactions WHERE user_id = ?`
	args := []any{userID}
	if len(types) > 0 {
		placeholders := make([]string, len(types))
		for i, tp := range types {
			placeholders[i] = "?"
			args = append(args, string(tp))
		}
		q += ` AND type IN (` + strings.Join(placeholders, ", ") + `)`
	}
	q += ` ORDER BY created_at DESC;`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var list []model.Transaction
	for rows.Next() {
		t, err := s.scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}
	return list, nil
}

// FindCommissionByOrder locates the commission entry credited for an order.
func (s *SQLiteStore) FindCommissionByOrder(ctx context.Context, orderID string) (*model.Transaction, error) {
	const q = `SELECT ` + sqliteTxColumns + ` FROM transactions WHERE type = ? AND order_id = ? LIMIT 1;`
	return s.scanTransaction(s.db.QueryRowContext(ctx, q, model.TxCommission, orderID))
}

// UpdateTransactionStatus moves a ledger entry to a new status.
func (s *SQLiteStore) UpdateTransactionStatus(ctx context.Context, id string, status model.TxStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE transactions SET status = ? WHERE id = ?;`, status, id)
	if err != nil {
		return fmt.Errorf("update transaction status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.ErrTransactionNotFound
	}
	return nil
}

// PurgeTransactionsBefore deletes entries older than cutoff, keeping pending
// withdrawals regardless of age.
func (s *SQLiteStore) PurgeTransactionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	const q = `
DELETE FROM transactions
WHERE created_at < ?
  AND NOT (type = ? AND status = ?);
`
	res, err := s.db.ExecContext(ctx, q, cutoff, model.TxWithdrawal, model.TxPending)
	if err != nil {
		return 0, fmt.Errorf("purge transactions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge transactions rows affected: %w", err)
	}
	return n, nil
}

// CreateNotification inserts a storefront announcement.
func (s *SQLiteStore) CreateNotification(ctx context.Context, n model.Notification) (*model.Notification, error) {
	const q = `
INSERT INTO notifications (id, message, active, created_at)
VALUES (?, ?, ?, ?)
RETURNING id, message, active, created_at;
`
	var created model.Notification
	err := s.db.QueryRowContext(ctx, q, n.ID, n.Message, n.Active, time.Now().UTC()).
		Scan(&created.ID, &created.Message, &created.Active, &created.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert notification: %w", err)
	}
	return &created, nil
}

// ListNotifications returns announcements, newest first.
func (s *SQLiteStore) ListNotifications(ctx context.Context, activeOnly bool) ([]model.Notification, error) {
	q := `SELECT id, message, active, created_at FROM notifications ORDER BY created_at DESC;`
	if activeOnly {
		q = `SELECT id, message, active, created_at FROM notifications WHERE active ORDER BY created_at DESC;`
	}
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var list []model.Notification
	for rows.Next() {
		var n model.Notification
		if err := rows.Scan(&n.ID, &n.Message, &n.Active, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		list = append(list, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return list, nil
}

// SetNotificationActive toggles an announcement.
func (s *SQLiteStore) SetNotificationActive(ctx context.Context, id string, active bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE notifications SET active = ? WHERE id = ?;`, active, id)
	if err != nil {
		return fmt.Errorf("update notification: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.ErrNotificationNotFound
	}
	return nil
}

// DeleteNotification removes an announcement.
func (s *SQLiteStore) DeleteNotification(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM notifications WHERE id = ?;`, id)
	if err != nil {
		return fmt.Errorf("delete notification: %w", err)
	}
	return nil
}
