package errs

import "errors"

var (
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrProductUnavailable    = errors.New("product already sold or expired")
	ErrBelowMinimumThreshold = errors.New("amount below minimum withdrawal")
	ErrInvalidReferralCode   = errors.New("invalid referral code")
	ErrUserNotFound          = errors.New("user not found")
	ErrProductNotFound       = errors.New("product not found")
	ErrOrderNotFound         = errors.New("order not found")
	ErrTransactionNotFound   = errors.New("transaction not found")
	ErrNotificationNotFound  = errors.New("notification not found")
	ErrUsernameTaken         = errors.New("username already exists")
	ErrEmailTaken            = errors.New("email already registered")
	ErrVersionConflict       = errors.New("concurrent modification detected")
	ErrNotSettleable         = errors.New("transaction is not a pending withdrawal")
	ErrInvalidToken          = errors.New("invalid token")
)
