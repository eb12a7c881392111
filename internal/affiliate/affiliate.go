// Package affiliate implements the referral program: code derivation,
// session capture of ?ref= visits and commission crediting on purchases
// made by referred buyers.
package affiliate

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"strings"

	"sub-shop/internal/errs"
	"sub-shop/internal/metrics"
	"sub-shop/internal/model"
	"sub-shop/internal/repo"
)

// CommissionRate is the referrer's share of a referred order's value.
const CommissionRate = 0.30

const codeAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
const codeSuffixLen = 6

// assignAttempts bounds the retry loop when a derived code collides.
const assignAttempts = 5

// CommissionLedger credits commissions into a wallet. Crediting must be
// idempotent per order.
type CommissionLedger interface {
	CreditCommission(ctx context.Context, userID string, amount int64, orderID string, orderValue int64) (*model.Transaction, error)
}

// ReferralSessions holds the referral code a visitor arrived with until
// their first purchase consumes it.
type ReferralSessions interface {
	Hold(ctx context.Context, visitorKey, code string) error
	Peek(ctx context.Context, visitorKey string) (string, error)
	Clear(ctx context.Context, visitorKey string) error
}

// Stats is the referrer-facing dashboard summary.
type Stats struct {
	AffiliateCode    string `json:"affiliate_code"`
	ReferralLink     string `json:"referral_link"`
	TotalReferrals   int    `json:"total_referrals"`
	TotalEarnings    int64  `json:"total_earnings"`
	TotalWithdrawn   int64  `json:"total_withdrawn"`
	AvailableBalance int64  `json:"available_balance"`
}

// Engine drives the referral program.
type Engine struct {
	store    repo.Store
	ledger   CommissionLedger
	sessions ReferralSessions
	logger   *slog.Logger
	metrics  *metrics.Metrics
	baseURL  string
}

// NewEngine wires an affiliate engine. baseURL is the public storefront URL
// referral links point at.
func NewEngine(store repo.Store, ledger CommissionLedger, sessions ReferralSessions, logger *slog.Logger, m *metrics.Metrics, baseURL string) *Engine {
	return &Engine{
		store:    store,
		ledger:   ledger,
		sessions: sessions,
		logger:   logger.With("component", "affiliate"),
		metrics:  m,
		baseURL:  strings.TrimRight(baseURL, "/"),
	}
}

// CommissionFor returns the commission for an order value, rounded half-up.
// Non-positive order values earn nothing.
func CommissionFor(orderValue int64) int64 {
	if orderValue <= 0 {
		return 0
	}
	return int64(math.Floor(CommissionRate*float64(orderValue) + 0.5))
}

// DeriveCode builds a referral code from the username: the upper-cased name
// joined to a random six character suffix.
func DeriveCode(username string) (string, error) {
	buf := make([]byte, codeSuffixLen)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random suffix: %w", err)
	}
	for i := range buf {
		buf[i] = codeAlphabet[int(buf[i])%len(codeAlphabet)]
	}
	return strings.ToUpper(username) + "-" + string(buf), nil
}

// AssignCode derives a code guaranteed unique among existing users. The
// random suffix makes collisions vanishingly rare, so a handful of attempts
// suffices.
func (e *Engine) AssignCode(ctx context.Context, username string) (string, error) {
	for i := 0; i < assignAttempts; i++ {
		code, err := DeriveCode(username)
		if err != nil {
			return "", err
		}
		_, err = e.store.GetUserByAffiliateCode(ctx, code)
		if errors.Is(err, errs.ErrUserNotFound) {
			return code, nil
		}
		if err != nil {
			return "", err
		}
	}
	return "", fmt.Errorf("assign affiliate code for %s: exhausted attempts", username)
}

// Resolve maps a referral code to its owner.
func (e *Engine) Resolve(ctx context.Context, code string) (*model.User, error) {
	if code == "" {
		return nil, errs.ErrInvalidReferralCode
	}
	user, err := e.store.GetUserByAffiliateCode(ctx, code)
	if errors.Is(err, errs.ErrUserNotFound) {
		return nil, errs.ErrInvalidReferralCode
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// CaptureReferral stores the code a visitor arrived with. The code is kept
// verbatim; validity is checked when a purchase tries to consume it.
func (e *Engine) CaptureReferral(ctx context.Context, visitorKey, code string) error {
	if code == "" {
		return nil
	}
	if err := e.sessions.Hold(ctx, visitorKey, code); err != nil {
		return fmt.Errorf("hold referral code: %w", err)
	}
	e.logger.Debug("referral captured", "visitor", visitorKey, "code", code)
	return nil
}

// TrackPurchase credits the referrer's commission for a referred order.
// An invalid held code reports ErrInvalidReferralCode and stays held; the
// code is cleared only once a commission lands.
func (e *Engine) TrackPurchase(ctx context.Context, visitorKey, orderID string, orderValue int64) error {
	code, err := e.sessions.Peek(ctx, visitorKey)
	if err != nil || code == "" {
		return nil
	}

	referrer, err := e.Resolve(ctx, code)
	if err != nil {
		if errors.Is(err, errs.ErrInvalidReferralCode) {
			e.metrics.Commissions.WithLabelValues("invalid_code").Inc()
			return errs.ErrInvalidReferralCode
		}
		return err
	}

	amount := CommissionFor(orderValue)
	if _, err := e.ledger.CreditCommission(ctx, referrer.ID, amount, orderID, orderValue); err != nil {
		return fmt.Errorf("credit referrer: %w", err)
	}

	if err := e.sessions.Clear(ctx, visitorKey); err != nil {
		e.logger.Warn("clear referral session failed", "visitor", visitorKey, "error", err)
	}
	return nil
}

// ReferralLink is the storefront URL carrying the given code.
func (e *Engine) ReferralLink(code string) string {
	return e.baseURL + "/?ref=" + url.QueryEscape(code)
}

// Stats summarises a referrer's program standing from their ledger history.
func (e *Engine) Stats(ctx context.Context, userID string) (*Stats, error) {
	user, err := e.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	txs, err := e.store.ListTransactionsByUser(ctx, userID, model.TxCommission, model.TxWithdrawal)
	if err != nil {
		return nil, err
	}

	// The four figures are tracked independently and are not guaranteed to
	// reconcile: adjustments and conversions move the wallet with no
	// matching earnings or withdrawal entry.
	stats := &Stats{
		AffiliateCode:    user.AffiliateCode,
		ReferralLink:     e.ReferralLink(user.AffiliateCode),
		AvailableBalance: user.CommissionWallet,
	}
	for _, tx := range txs {
		switch tx.Type {
		case model.TxCommission:
			stats.TotalReferrals++
			stats.TotalEarnings += tx.Amount
		case model.TxWithdrawal:
			stats.TotalWithdrawn += tx.Amount
		}
	}
	return stats, nil
}
