package pricing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestTotalDays(t *testing.T) {
	tests := []struct {
		name  string
		start time.Time
		end   time.Time
		want  int
	}{
		{"full year", date(2026, 1, 1), date(2027, 1, 1), 365},
		{"half year", date(2026, 1, 10), date(2026, 7, 10), 181},
		{"reversed dates", date(2027, 1, 1), date(2026, 1, 1), 365},
		{"same day", date(2026, 1, 1), date(2026, 1, 1), 0},
		{"partial day rounds up", date(2026, 1, 1), time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC), 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TotalDays(tt.start, tt.end))
		})
	}
}

func TestDailyPriceZeroWindow(t *testing.T) {
	assert.Zero(t, DailyPrice(1000000, date(2026, 1, 1), date(2026, 1, 1)))
}

func TestRemainingDays(t *testing.T) {
	end := date(2027, 1, 1)

	assert.Equal(t, 355, RemainingDays(end, date(2026, 1, 11)))
	assert.Equal(t, 1, RemainingDays(end, date(2026, 12, 31)))
	assert.Equal(t, 0, RemainingDays(end, date(2027, 1, 1)))
	assert.Equal(t, 0, RemainingDays(end, date(2027, 3, 1)))

	// Time of day on either side must not matter.
	lateEvening := time.Date(2026, 1, 11, 23, 59, 0, 0, time.UTC)
	assert.Equal(t, 355, RemainingDays(end, lateEvening))
}

func TestRemainingDaysNonIncreasing(t *testing.T) {
	end := date(2026, 6, 1)
	prev := RemainingDays(end, date(2026, 1, 1))
	for now := date(2026, 1, 2); now.Before(date(2026, 7, 1)); now = now.AddDate(0, 0, 1) {
		cur := RemainingDays(end, now)
		assert.GreaterOrEqual(t, prev, cur)
		assert.GreaterOrEqual(t, cur, 0)
		prev = cur
	}
}

func TestQuoteAtFullYearScenario(t *testing.T) {
	q := QuoteAt(3650000, date(2026, 1, 1), date(2027, 1, 1), date(2026, 1, 11))

	assert.Equal(t, int64(10000), q.DailyPrice)
	assert.Equal(t, 355, q.RemainingDays)
	assert.Equal(t, int64(3550000), q.SellingPrice)
	assert.Equal(t, int64(3650000), q.OriginalPrice)
	assert.False(t, q.IsExpired)
}

func TestQuoteAtExpired(t *testing.T) {
	q := QuoteAt(1200000, date(2026, 1, 1), date(2026, 6, 1), date(2026, 8, 1))

	assert.True(t, q.IsExpired)
	assert.Equal(t, 0, q.RemainingDays)
	assert.Zero(t, q.SellingPrice)
}

func TestQuoteRoundsHalfUp(t *testing.T) {
	// 1000 / 3 days = 333.33.. per day; 1 remaining day sells for 333.
	q := QuoteAt(1000, date(2026, 1, 1), date(2026, 1, 4), date(2026, 1, 3))
	assert.Equal(t, int64(333), q.DailyPrice)
	assert.Equal(t, int64(333), q.SellingPrice)

	// 1001 / 2 days = 500.5 per day rounds to 501.
	q = QuoteAt(1001, date(2026, 1, 1), date(2026, 1, 3), date(2026, 1, 2))
	assert.Equal(t, int64(501), q.DailyPrice)
}

func TestSellingPriceNeverExceedsOriginal(t *testing.T) {
	start := date(2026, 1, 1)
	end := date(2026, 12, 31)
	for now := start; now.Before(end.AddDate(0, 0, 10)); now = now.AddDate(0, 0, 7) {
		q := QuoteAt(1234567, start, end, now)
		assert.LessOrEqual(t, q.SellingPrice, q.OriginalPrice,
			"selling price must not exceed original at %s", now)
	}
}

func TestDailyPriceTimesTotalRoundsBack(t *testing.T) {
	prices := []int64{3650000, 1200000, 780000, 999999, 1}
	for _, p := range prices {
		start, end := date(2026, 1, 1), date(2026, 7, 10)
		total := TotalDays(start, end)
		back := roundHalfUp(DailyPrice(p, start, end) * float64(total))
		assert.InDelta(t, p, back, 1, "price %d should round back within one unit", p)
	}
}

func TestValidateFullPeriod(t *testing.T) {
	assert.True(t, ValidateFullPeriod(355, 355))
	assert.False(t, ValidateFullPeriod(354, 355))
	assert.False(t, ValidateFullPeriod(0, 355))
}
