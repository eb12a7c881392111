package repo

import (
	"context"
	"io/fs"
	"time"

	"sub-shop/internal/model"
)

// Store defines the persistence contract consumed by the engines. Each method
// touches a single entity collection; cross-entity operations are sequenced
// by the callers, which also hold per-entity write locks. Wallet and product
// writes carry the caller's last-seen version and fail with
// errs.ErrVersionConflict when another writer got there first.
type Store interface {
	// Lifecycle
	Close()
	Ping(ctx context.Context) error
	RunMigrations(ctx context.Context, filesystem fs.FS) error

	// Users
	CreateUser(ctx context.Context, user model.User) (*model.User, error)
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	GetUserByUsername(ctx context.Context, username string) (*model.User, error)
	GetUserByAffiliateCode(ctx context.Context, code string) (*model.User, error)
	ListUsers(ctx context.Context) ([]model.User, error)
	UpdateUserWallets(ctx context.Context, id string, deposit, commission, version int64) (*model.User, error)

	// Products
	CreateProduct(ctx context.Context, product model.Product) (*model.Product, error)
	GetProductByID(ctx context.Context, id string) (*model.Product, error)
	ListProducts(ctx context.Context, status *model.ProductStatus) ([]model.Product, error)
	MarkProductSold(ctx context.Context, id, buyerID string, soldAt time.Time, version int64) error
	DeleteProduct(ctx context.Context, id string) error

	// Orders
	CreateOrder(ctx context.Context, order model.Order) (*model.Order, error)
	GetOrderByID(ctx context.Context, id string) (*model.Order, error)
	ListOrdersByUser(ctx context.Context, userID string) ([]model.Order, error)
	ListOrders(ctx context.Context) ([]model.Order, error)

	// Transactions
	CreateTransaction(ctx context.Context, tx model.Transaction) (*model.Transaction, error)
	GetTransactionByID(ctx context.Context, id string) (*model.Transaction, error)
	ListTransactionsByUser(ctx context.Context, userID string, types ...model.TxType) ([]model.Transaction, error)
	FindCommissionByOrder(ctx context.Context, orderID string) (*model.Transaction, error)
	UpdateTransactionStatus(ctx context.Context, id string, status model.TxStatus) error
	PurgeTransactionsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Notifications
	CreateNotification(ctx context.Context, n model.Notification) (*model.Notification, error)
	ListNotifications(ctx context.Context, activeOnly bool) ([]model.Notification, error)
	SetNotificationActive(ctx context.Context, id string, active bool) error
	DeleteNotification(ctx context.Context, id string) error
}
