package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const referralKeyPrefix = "referral:"

// ReferralSessions stores the referral code each visitor arrived with,
// keyed by visitor, expiring after the configured TTL. It satisfies the
// affiliate engine's session interface.
type ReferralSessions struct {
	redis *Redis
	ttl   time.Duration
}

// NewReferralSessions returns a Redis-backed referral session store.
func NewReferralSessions(r *Redis, ttl time.Duration) *ReferralSessions {
	return &ReferralSessions{redis: r, ttl: ttl}
}

// Hold records the code for a visitor, refreshing the TTL.
func (s *ReferralSessions) Hold(ctx context.Context, visitorKey, code string) error {
	if err := s.redis.client.Set(ctx, referralKeyPrefix+visitorKey, code, s.ttl).Err(); err != nil {
		return fmt.Errorf("hold referral %s: %w", visitorKey, err)
	}
	return nil
}

// Peek returns the held code, or empty when none is held.
func (s *ReferralSessions) Peek(ctx context.Context, visitorKey string) (string, error) {
	code, err := s.redis.client.Get(ctx, referralKeyPrefix+visitorKey).Result()
	if err != nil {
		if err == redis.Nil {
			return "", nil
		}
		return "", fmt.Errorf("peek referral %s: %w", visitorKey, err)
	}
	return code, nil
}

// Clear drops the held code.
func (s *ReferralSessions) Clear(ctx context.Context, visitorKey string) error {
	if err := s.redis.client.Del(ctx, referralKeyPrefix+visitorKey).Err(); err != nil {
		return fmt.Errorf("clear referral %s: %w", visitorKey, err)
	}
	return nil
}
