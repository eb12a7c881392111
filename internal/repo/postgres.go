package repo

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"sub-shop/internal/errs"
	"sub-shop/internal/model"
)

// uniqueViolation is the Postgres SQLSTATE for unique constraint breaches.
const uniqueViolation = "23505"

// PostgresStore provides typed access to Postgres-backed collections.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgres opens a connection pool and verifies the database is reachable.
func NewPostgres(ctx context.Context, databaseURL string, logger *slog.Logger) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	s := &PostgresStore{
		pool:   pool,
		logger: logger.With("component", "repo"),
	}

	if err := s.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping ensures the database is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// RunMigrations applies schema migrations on the connected database.
func (s *PostgresStore) RunMigrations(ctx context.Context, filesystem fs.FS) error {
	return applyPostgresMigrations(ctx, s.pool, filesystem)
}

const userColumns = `id, username, email, password_hash, role, deposit_wallet, commission_wallet, affiliate_code, version, created_at, updated_at`

func scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Role,
		&u.DepositWallet, &u.CommissionWallet, &u.AffiliateCode, &u.Version,
		&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrUserNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}

// CreateUser inserts a new user row.
func (s *PostgresStore) CreateUser(ctx context.Context, user model.User) (*model.User, error) {
	const q = `
INSERT INTO users (id, username, email, password_hash, role, deposit_wallet, commission_wallet, affiliate_code)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING ` + userColumns + `;
`
	row := s.pool.QueryRow(ctx, q,
		user.ID, user.Username, user.Email, user.PasswordHash, user.Role,
		user.DepositWallet, user.CommissionWallet, user.AffiliateCode)

	created, err := scanUser(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			switch pgErr.ConstraintName {
			case "users_email_key":
				return nil, errs.ErrEmailTaken
			default:
				return nil, errs.ErrUsernameTaken
			}
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return created, nil
}

// GetUserByID returns a user by internal identifier.
func (s *PostgresStore) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	const q = `SELECT ` + userColumns + ` FROM users WHERE id = $1 LIMIT 1;`
	return scanUser(s.pool.QueryRow(ctx, q, id))
}

// GetUserByUsername returns a user by login name.
func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	const q = `SELECT ` + userColumns + ` FROM users WHERE username = $1 LIMIT 1;`
	return scanUser(s.pool.QueryRow(ctx, q, username))
}

// GetUserByAffiliateCode resolves a referral code to its owner.
func (s *PostgresStore) GetUserByAffiliateCode(ctx context.Context, code string) (*model.User, error) {
	const q = `SELECT ` + userColumns + ` FROM users WHERE affiliate_code = $1 LIMIT 1;`
	return scanUser(s.pool.QueryRow(ctx, q, code))
}

// ListUsers returns every registered user, oldest first.
func (s *PostgresStore) ListUsers(ctx context.Context) ([]model.User, error) {
	const q = `SELECT ` + userColumns + ` FROM users ORDER BY created_at ASC;`
	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		u, err := scanUser(rows)
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
func (s *PostgresStore) UpdateUserWallets(ctx context.Context, id string, deposit, commission, version int64) (*model.User, error) {
	const q = `
UPDATE users
SET deposit_wallet = $2, commission_wallet = $3, version = version + 1, updated_at = NOW()
WHERE id = $1 AND version = $4
RETURNING ` + userColumns + `;
`
	updated, err := scanUser(s.pool.QueryRow(ctx, q, id, deposit, commission, version))
	if err != nil {
		if errors.Is(err, errs.ErrUserNotFound) {
			// Either the row is gone or another writer advanced the version.
			if _, lookupErr := s.GetUserByID(ctx, id); lookupErr == nil {
				return nil, errs.ErrVersionConflict
			}
			return nil, errs.ErrUserNotFound
		}
		return nil, fmt.Errorf("update user wallets: %w", err)
	}
	return updated, nil
}

const productColumns = `id, service_type, username, password, cookie, local_storage, start_date, end_date, original_price, status, sold_to, sold_at, version, created_at`

func scanProduct(row pgx.Row) (*model.Product, error) {
	var p model.Product
	err := row.Scan(&p.ID, &p.ServiceType, &p.Username, &p.Password, &p.Cookie,
		&p.LocalStorage, &p.StartDate, &p.EndDate, &p.OriginalPrice, &p.Status,
		&p.SoldTo, &p.SoldAt, &p.Version, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrProductNotFound
		}
		return nil, fmt.Errorf("scan product: %w", err)
	}
	return &p, nil
}

// CreateProduct inserts a new product listing.
func (s *PostgresStore) CreateProduct(ctx context.Context, product model.Product) (*model.Product, error) {
	const q = `
INSERT INTO products (id, service_type, username, password, cookie, local_storage, start_date, end_date, original_price, status)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING ` + productColumns + `;
`
	row := s.pool.QueryRow(ctx, q,
		product.ID, product.ServiceType, product.Username, product.Password,
		product.Cookie, product.LocalStorage, product.StartDate, product.EndDate,
		product.OriginalPrice, product.Status)
	created, err := scanProduct(row)
	if err != nil {
		return nil, fmt.Errorf("insert product: %w", err)
	}
	return created, nil
}

// GetProductByID returns a product by identifier.
func (s *PostgresStore) GetProductByID(ctx context.Context, id string) (*model.Product, error) {
	const q = `SELECT ` + productColumns + ` FROM products WHERE id = $1 LIMIT 1;`
	return scanProduct(s.pool.QueryRow(ctx, q, id))
}

// ListProducts returns products, optionally filtered by status, newest first.
func (s *PostgresStore) ListProducts(ctx context.Context, status *model.ProductStatus) ([]model.Product, error) {
	q := `SELECT ` + productColumns + ` FROM products ORDER BY created_at DESC;`
	args := []any{}
	if status != nil {
		q = `SELECT ` + productColumns + ` FROM products WHERE status = $1 ORDER BY created_at DESC;`
		args = append(args, *status)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var products []model.Product
	for rows.Next() {
		p, err := scanProduct(rows)
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

// MarkProductSold flips an available product to sold. The status predicate in
// the WHERE clause makes the transition one-way even without the version check.
func (s *PostgresStore) MarkProductSold(ctx context.Context, id, buyerID string, soldAt time.Time, version int64) error {
	const q = `
UPDATE products
SET status = $2, sold_to = $3, sold_at = $4, version = version + 1
WHERE id = $1 AND version = $5 AND status = $6;
`
	ct, err := s.pool.Exec(ctx, q, id, model.ProductSold, buyerID, soldAt, version, model.ProductAvailable)
	if err != nil {
		return fmt.Errorf("mark product sold: %w", err)
	}
	if ct.RowsAffected() == 0 {
		if _, lookupErr := s.GetProductByID(ctx, id); lookupErr != nil {
			return errs.ErrProductNotFound
		}
		return errs.ErrVersionConflict
	}
	return nil
}

// DeleteProduct removes a listing.
func (s *PostgresStore) DeleteProduct(ctx context.Context, id string) error {
	ct, err := s.pool.Exec(ctx, `DELETE FROM products WHERE id = $1;`, id)
	if err != nil {
		return fmt.Errorf("delete product: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return errs.ErrProductNotFound
	}
	return nil
}

const orderColumns = `id, user_id, product_id, service_type, username, password, cookie, local_storage, price_paid, days_remaining, end_date, created_at`

func scanOrder(row pgx.Row) (*model.Order, error) {
	var o model.Order
	err := row.Scan(&o.ID, &o.UserID, &o.ProductID, &o.ServiceType, &o.Username,
		&o.Password, &o.Cookie, &o.LocalStorage, &o.PricePaid, &o.DaysRemaining,
		&o.EndDate, &o.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrOrderNotFound
		}
		return nil, fmt.Errorf("scan order: %w", err)
	}
	return &o, nil
}

// CreateOrder stores an immutable purchase snapshot.
func (s *PostgresStore) CreateOrder(ctx context.Context, order model.Order) (*model.Order, error) {
	const q = `
INSERT INTO orders (id, user_id, product_id, service_type, username, password, cookie, local_storage, price_paid, days_remaining, end_date)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
RETURNING ` + orderColumns + `;
`
	row := s.pool.QueryRow(ctx, q,
		order.ID, order.UserID, order.ProductID, order.ServiceType, order.Username,
		order.Password, order.Cookie, order.LocalStorage, order.PricePaid,
		order.DaysRemaining, order.EndDate)
	created, err := scanOrder(row)
	if err != nil {
		return nil, fmt.Errorf("insert order: %w", err)
	}
	return created, nil
}

// GetOrderByID returns an order by identifier.
func (s *PostgresStore) GetOrderByID(ctx context.Context, id string) (*model.Order, error) {
	const q = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1 LIMIT 1;`
	return scanOrder(s.pool.QueryRow(ctx, q, id))
}

// ListOrdersByUser returns a user's purchase history, newest first.
func (s *PostgresStore) ListOrdersByUser(ctx context.Context, userID string) ([]model.Order, error) {
	const q = `SELECT ` + orderColumns + ` FROM orders WHERE user_id = $1 ORDER BY created_at DESC;`
	return s.queryOrders(ctx, q, userID)
}

// ListOrders returns every order, newest first.
func (s *PostgresStore) ListOrders(ctx context.Context) ([]model.Order, error) {
	const q = `SELECT ` + orderColumns + ` FROM orders ORDER BY created_at DESC;`
	return s.queryOrders(ctx, q)
}

func (s *PostgresStore) queryOrders(ctx context.Context, q string, args ...any) ([]model.Order, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
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

const txColumns = `id, user_id, type, amount, status, description, wallet, method, details, order_id, order_value, created_at`

func scanTransaction(row pgx.Row) (*model.Transaction, error) {
	var t model.Transaction
	err := row.Scan(&t.ID, &t.UserID, &t.Type, &t.Amount, &t.Status,
		&t.Description, &t.Wallet, &t.Method, &t.Details, &t.OrderID,
		&t.OrderValue, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("scan transaction: %w", err)
	}
	return &t, nil
}

// CreateTransaction appends a ledger entry.
func (s *PostgresStore) CreateTransaction(ctx context.Context, tx model.Transaction) (*model.Transaction, error) {
	const q = `
INSERT INTO transactions (id, user_id, type, amount, status, description, wallet, method, details, order_id, order_value, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
RETURNING ` + txColumns + `;
`
	row := s.pool.QueryRow(ctx, q,
		tx.ID, tx.UserID, tx.Type, tx.Amount, tx.Status, tx.Description,
		tx.Wallet, tx.Method, tx.Details, tx.OrderID, tx.OrderValue, tx.CreatedAt)
	created, err := scanTransaction(row)
	if err != nil {
		return nil, fmt.Errorf("insert transaction: %w", err)
	}
	return created, nil
}

// GetTransactionByID returns a ledger entry by identifier.
func (s *PostgresStore) GetTransactionByID(ctx context.Context, id string) (*model.Transaction, error) {
	const q = `SELECT ` + txColumns + ` FROM transactions WHERE id = $1 LIMIT 1;`
	return scanTransaction(s.pool.QueryRow(ctx, q, id))
}

// ListTransactionsByUser returns a user's ledger entries, newest first,
// optionally restricted to the given types.
func (s *PostgresStore) ListTransactionsByUser(ctx context.Context, userID string, types ...model.TxType) ([]model.Transaction, error) {
	q := `SELECT ` + txColumns + ` FROM transactions WHERE user_id = $1 ORDER BY created_at DESC;`
	args := []any{userID}
	if len(types) > 0 {
		q = `SELECT ` + txColumns + ` FROM transactions WHERE user_id = $1 AND type = ANY($2) ORDER BY created_at DESC;`
		typeStrings := make([]string, len(types))
		for i, tp := range types {
			typeStrings[i] = string(tp)
		}
		args = append(args, typeStrings)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var list []model.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
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

// FindCommissionByOrder locates the commission entry credited for an order,
// if any. Used to keep commission crediting idempotent.
func (s *PostgresStore) FindCommissionByOrder(ctx context.Context, orderID string) (*model.Transaction, error) {
	const q = `SELECT ` + txColumns + ` FROM transactions WHERE type = $1 AND order_id = $2 LIMIT 1;`
	return scanTransaction(s.pool.QueryRow(ctx, q, model.TxCommission, orderID))
}

// UpdateTransactionStatus moves a ledger entry to a new status.
func (s *PostgresStore) UpdateTransactionStatus(ctx context.Context, id string, status model.TxStatus) error {
	ct, err := s.pool.Exec(ctx, `UPDATE transactions SET status = $2 WHERE id = $1;`, id, status)
	if err != nil {
		return fmt.Errorf("update transaction status: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return errs.ErrTransactionNotFound
	}
	return nil
}

// PurgeTransactionsBefore deletes entries older than cutoff, keeping pending
// withdrawals regardless of age.
func (s *PostgresStore) PurgeTransactionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	const q = `
DELETE FROM transactions
WHERE created_at < $1
  AND NOT (type = $2 AND status = $3);
`
	ct, err := s.pool.Exec(ctx, q, cutoff, model.TxWithdrawal, model.TxPending)
	if err != nil {
		return 0, fmt.Errorf("purge transactions: %w", err)
	}
	return ct.RowsAffected(), nil
}

// CreateNotification inserts a storefront announcement.
func (s *PostgresStore) CreateNotification(ctx context.Context, n model.Notification) (*model.Notification, error) {
	const q = `
INSERT INTO notifications (id, message, active)
VALUES ($1, $2, $3)
RETURNING id, message, active, created_at;
`
	var created model.Notification
	err := s.pool.QueryRow(ctx, q, n.ID, n.Message, n.Active).
		Scan(&created.ID, &created.Message, &created.Active, &created.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert notification: %w", err)
	}
	return &created, nil
}

// ListNotifications returns announcements, newest first.
func (s *PostgresStore) ListNotifications(ctx context.Context, activeOnly bool) ([]model.Notification, error) {
	q := `SELECT id, message, active, created_at FROM notifications ORDER BY created_at DESC;`
	if activeOnly {
		q = `SELECT id, message, active, created_at FROM notifications WHERE active ORDER BY created_at DESC;`
	}
	rows, err := s.pool.Query(ctx, q)
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
func (s *PostgresStore) SetNotificationActive(ctx context.Context, id string, active bool) error {
	ct, err := s.pool.Exec(ctx, `UPDATE notifications SET active = $2 WHERE id = $1;`, id, active)
	if err != nil {
		return fmt.Errorf("update notification: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return errs.ErrNotificationNotFound
	}
	return nil
}

// DeleteNotification removes an announcement.
func (s *PostgresStore) DeleteNotification(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM notifications WHERE id = $1;`, id)
	if err != nil {
		return fmt.Errorf("delete notification: %w", err)
	}
	return nil
}
