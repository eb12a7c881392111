// Package pricing implements the anti-loss pricing rules for resold
// subscription credentials: a subscription bought for its full validity
// window is resold at a per-day rate for the entire remaining period,
// never a part of it.
package pricing

import (
	"math"
	"time"
)

const hoursPerDay = 24

// Quote is the pricing breakdown for a product at a given moment.
// DailyPrice and SellingPrice are rounded once, at the end, half-up to the
// nearest integer currency unit.
type Quote struct {
	DailyPrice    int64 `json:"daily_price"`
	RemainingDays int   `json:"remaining_days"`
	SellingPrice  int64 `json:"selling_price"`
	OriginalPrice int64 `json:"original_price"`
	IsExpired     bool  `json:"is_expired"`
}

// TotalDays returns the length of the validity window in days, rounded up.
func TotalDays(start, end time.Time) int {
	diff := end.Sub(start)
	if diff < 0 {
		diff = -diff
	}
	return int(math.Ceil(diff.Hours() / hoursPerDay))
}

// DailyPrice returns the unrounded per-day rate. A zero-length window yields
// a zero rate rather than a division fault.
func DailyPrice(originalPrice int64, start, end time.Time) float64 {
	total := TotalDays(start, end)
	if total == 0 {
		return 0
	}
	return float64(originalPrice) / float64(total)
}

// RemainingDays counts whole days left until end, both sides truncated to the
// start of day. Anything at or past end counts as zero.
func RemainingDays(end, now time.Time) int {
	diff := startOfDay(end).Sub(startOfDay(now))
	days := int(math.Ceil(diff.Hours() / hoursPerDay))
	if days < 0 {
		return 0
	}
	return days
}

// QuoteAt computes the full pricing record for a product as of now.
func QuoteAt(originalPrice int64, start, end, now time.Time) Quote {
	daily := DailyPrice(originalPrice, start, end)
	remaining := RemainingDays(end, now)

	return Quote{
		DailyPrice:    roundHalfUp(daily),
		RemainingDays: remaining,
		SellingPrice:  roundHalfUp(daily * float64(remaining)),
		OriginalPrice: originalPrice,
		IsExpired:     remaining == 0,
	}
}

// ValidateFullPeriod enforces the anti-loss rule: a buyer takes every
// remaining day or nothing.
func ValidateFullPeriod(requestedDays, remainingDays int) bool {
	return requestedDays == remainingDays
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func roundHalfUp(v float64) int64 {
	return int64(math.Floor(v + 0.5))
}
