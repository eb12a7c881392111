package repo

import (
	"context"
	"io/fs"
	"sort"
	"sync"
	"time"

	"sub-shop/internal/errs"
	"sub-shop/internal/model"
)

// MemoryStore keeps everything in process memory. It backs tests and the
// zero-config development mode. It honours the same version semantics as
// the SQL stores.
type MemoryStore struct {
	mu            sync.RWMutex
	users         map[string]*model.User
	products      map[string]*model.Product
	orders        map[string]*model.Order
	transactions  map[string]*model.Transaction
	notifications map[string]*model.Notification
}

// NewMemory returns an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		users:         make(map[string]*model.User),
		products:      make(map[string]*model.Product),
		orders:        make(map[string]*model.Order),
		transactions:  make(map[string]*model.Transaction),
		notifications: make(map[string]*model.Notification),
	}
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() {}

// Ping always succeeds.
func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

// RunMigrations is a no-op for the in-memory store.
func (s *MemoryStore) RunMigrations(ctx context.Context, filesystem fs.FS) error { return nil }

func (s *MemoryStore) CreateUser(ctx context.Context, user model.User) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.users {
		if existing.Username == user.Username {
			return nil, errs.ErrUsernameTaken
		}
		if existing.Email == user.Email {
			return nil, errs.ErrEmailTaken
		}
	}

	now := time.Now().UTC()
	u := user
	u.Version = 1
	u.CreatedAt = now
	u.UpdatedAt = now
	s.users[u.ID] = &u

	out := u
	return &out, nil
}

func (s *MemoryStore) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, errs.ErrUserNotFound
	}
	out := *u
	return &out, nil
}

func (s *MemoryStore) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if u.Username == username {
			out := *u
			return &out, nil
		}
	}
	return nil, errs.ErrUserNotFound
}

func (s *MemoryStore) GetUserByAffiliateCode(ctx context.Context, code string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if u.AffiliateCode == code {
			out := *u
			return &out, nil
		}
	}
	return nil, errs.ErrUserNotFound
}

func (s *MemoryStore) ListUsers(ctx context.Context) ([]model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]model.User, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, *u)
	}
	sort.Slice(users, func(i, j int) bool {
		return users[i].CreatedAt.Before(users[j].CreatedAt)
	})
	return users, nil
}

func (s *MemoryStore) UpdateUserWallets(ctx context.Context, id string, deposit, commission, version int64) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return nil, errs.ErrUserNotFound
	}
	if u.Version != version {
		return nil, errs.ErrVersionConflict
	}

	u.DepositWallet = deposit
	u.CommissionWallet = commission
	u.Version++
	u.UpdatedAt = time.Now().UTC()

	out := *u
	return &out, nil
}

func (s *MemoryStore) CreateProduct(ctx context.Context, product model.Product) (*model.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := product
	p.Version = 1
	p.CreatedAt = time.Now().UTC()
	s.products[p.ID] = &p

	out := p
	return &out, nil
}

func (s *MemoryStore) GetProductByID(ctx context.Context, id string) (*model.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[id]
	if !ok {
		return nil, errs.ErrProductNotFound
	}
	out := *p
	return &out, nil
}

func (s *MemoryStore) ListProducts(ctx context.Context, status *model.ProductStatus) ([]model.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]model.Product, 0, len(s.products))
	for _, p := range s.products {
		if status != nil && p.Status != *status {
			continue
		}
		products = append(products, *p)
	}
	sort.Slice(products, func(i, j int) bool {
		return products[i].CreatedAt.After(products[j].CreatedAt)
	})
	return products, nil
}

func (s *MemoryStore) MarkProductSold(ctx context.Context, id, buyerID string, soldAt time.Time, version int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[id]
	if !ok {
		return errs.ErrProductNotFound
	}
	if p.Version != version || p.Status != model.ProductAvailable {
		return errs.ErrVersionConflict
	}

	buyer := buyerID
	sold := soldAt
	p.Status = model.ProductSold
	p.SoldTo = &buyer
	p.SoldAt = &sold
	p.Version++
	return nil
}

func (s *MemoryStore) DeleteProduct(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[id]; !ok {
		return errs.ErrProductNotFound
	}
	delete(s.products, id)
	return nil
}

func (s *MemoryStore) CreateOrder(ctx context.Context, order model.Order) (*model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o := order
	o.CreatedAt = time.Now().UTC()
	s.orders[o.ID] = &o

	out := o
	return &out, nil
}

func (s *MemoryStore) GetOrderByID(ctx context.Context, id string) (*model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, errs.ErrOrderNotFound
	}
	out := *o
	return &out, nil
}

func (s *MemoryStore) ListOrdersByUser(ctx context.Context, userID string) ([]model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var orders []model.Order
	for _, o := range s.orders {
		if o.UserID == userID {
			orders = append(orders, *o)
		}
	}
	sortOrders(orders)
	return orders, nil
}

func (s *MemoryStore) ListOrders(ctx context.Context) ([]model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	orders := make([]model.Order, 0, len(s.orders))
	for _, o := range s.orders {
		orders = append(orders, *o)
	}
	sortOrders(orders)
	return orders, nil
}

func sortOrders(orders []model.Order) {
	sort.Slice(orders, func(i, j int) bool {
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})
}

func (s *MemoryStore) CreateTransaction(ctx context.Context, tx model.Transaction) (*model.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := tx
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	s.transactions[t.ID] = &t

	out := t
	return &out, nil
}

func (s *MemoryStore) GetTransactionByID(ctx context.Context, id string) (*model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.transactions[id]
	if !ok {
		return nil, errs.ErrTransactionNotFound
	}
	out := *t
	return &out, nil
}

func (s *MemoryStore) ListTransactionsByUser(ctx context.Context, userID string, types ...model.TxType) ([]model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var list []model.Transaction
	for _, t := range s.transactions {
		if t.UserID != userID {
			continue
		}
		if len(types) > 0 && !containsType(types, t.Type) {
			continue
		}
		list = append(list, *t)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
	return list, nil
}

func containsType(types []model.TxType, t model.TxType) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}

func (s *MemoryStore) FindCommissionByOrder(ctx context.Context, orderID string) (*model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, t := range s.transactions {
		if t.Type == model.TxCommission && t.OrderID == orderID {
			out := *t
			return &out, nil
		}
	}
	return nil, errs.ErrTransactionNotFound
}

func (s *MemoryStore) UpdateTransactionStatus(ctx context.Context, id string, status model.TxStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.transactions[id]
	if !ok {
		return errs.ErrTransactionNotFound
	}
	t.Status = status
	return nil
}

func (s *MemoryStore) PurgeTransactionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for id, t := range s.transactions {
		if !t.CreatedAt.Before(cutoff) {
			continue
		}
		if t.Type == model.TxWithdrawal && t.Status == model.TxPending {
			continue
		}
		delete(s.transactions, id)
		removed++
	}
	return removed, nil
}

func (s *MemoryStore) CreateNotification(ctx context.Context, n model.Notification) (*model.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	note := n
	note.CreatedAt = time.Now().UTC()
	s.notifications[note.ID] = &note

	out := note
	return &out, nil
}

func (s *MemoryStore) ListNotifications(ctx context.Context, activeOnly bool) ([]model.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var list []model.Notification
	for _, n := range s.notifications {
		if activeOnly && !n.Active {
			continue
		}
		list = append(list, *n)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
	return list, nil
}

func (s *MemoryStore) SetNotificationActive(ctx context.Context, id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.notifications[id]
	if !ok {
		return errs.ErrNotificationNotFound
	}
	n.Active = active
	return nil
}

func (s *MemoryStore) DeleteNotification(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.notifications, id)
	return nil
}
