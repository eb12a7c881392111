package model

import "time"

// Role distinguishes back-office operators from regular customers.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// WalletKind names one of the two balances every user carries.
type WalletKind string

const (
	WalletDeposit    WalletKind = "deposit"
	WalletCommission WalletKind = "commission"
)

// User represents a registered customer or admin. Wallet amounts are integer
// currency units and never go negative. Version is the optimistic concurrency
// token advanced on every wallet write.
type User struct {
	ID               string     `json:"id"`
	Username         string     `json:"username"`
	Email            string     `json:"email"`
	PasswordHash     string     `json:"-"`
	Role             Role       `json:"role"`
	DepositWallet    int64      `json:"deposit_wallet"`
	CommissionWallet int64      `json:"commission_wallet"`
	AffiliateCode    string     `json:"affiliate_code"`
	Version          int64      `json:"-"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// WalletBalance reports the two live balances of a user.
type WalletBalance struct {
	Deposit    int64 `json:"deposit"`
	Commission int64 `json:"commission"`
}

// ProductStatus is the product state machine: available transitions to sold
// exactly once, there is no way back.
type ProductStatus string

const (
	ProductAvailable ProductStatus = "available"
	ProductSold      ProductStatus = "sold"
)

// Product is a time-boxed subscription credential listed for resale.
type Product struct {
	ID            string        `json:"id"`
	ServiceType   string        `json:"service_type"`
	Username      string        `json:"username"`
	Password      string        `json:"password"`
	Cookie        string        `json:"cookie"`
	LocalStorage  string        `json:"local_storage"`
	StartDate     time.Time     `json:"start_date"`
	EndDate       time.Time     `json:"end_date"`
	OriginalPrice int64         `json:"original_price"`
	Status        ProductStatus `json:"status"`
	SoldTo        *string       `json:"sold_to,omitempty"`
	SoldAt        *time.Time    `json:"sold_at,omitempty"`
	Version       int64         `json:"-"`
	CreatedAt     time.Time     `json:"created_at"`
}

// Order is the immutable snapshot taken at purchase time. It carries the
// credential payload so the buyer keeps access even after the product row
// is archived.
type Order struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	ProductID     string    `json:"product_id"`
	ServiceType   string    `json:"service_type"`
	Username      string    `json:"username"`
	Password      string    `json:"password"`
	Cookie        string    `json:"cookie"`
	LocalStorage  string    `json:"local_storage"`
	PricePaid     int64     `json:"price_paid"`
	DaysRemaining int       `json:"days_remaining"`
	EndDate       time.Time `json:"end_date"`
	CreatedAt     time.Time `json:"created_at"`
}

// TxType enumerates ledger entry kinds.
type TxType string

const (
	TxPurchase        TxType = "purchase"
	TxCommission      TxType = "commission"
	TxAdminAdjustment TxType = "admin_adjustment"
	TxWithdrawal      TxType = "withdrawal"
	TxConversion      TxType = "conversion"
	TxDeposit         TxType = "deposit"
)

// TxStatus enumerates ledger entry states. Only a withdrawal ever leaves
// pending, by an explicit admin settlement.
type TxStatus string

const (
	TxCompleted TxStatus = "completed"
	TxPending   TxStatus = "pending"
	TxFailed    TxStatus = "failed"
)

// Transaction is an append-mostly ledger entry. Amount is signed: purchases
// are negative, everything else positive.
type Transaction struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	Type        TxType     `json:"type"`
	Amount      int64      `json:"amount"`
	Status      TxStatus   `json:"status"`
	Description string     `json:"description,omitempty"`
	Wallet      WalletKind `json:"wallet,omitempty"`
	Method      string     `json:"method,omitempty"`
	Details     string     `json:"details,omitempty"`
	OrderID     string     `json:"order_id,omitempty"`
	OrderValue  int64      `json:"order_value,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Notification is a storefront announcement toggled by admins.
type Notification struct {
	ID        string    `json:"id"`
	Message   string    `json:"message"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}
