package affiliate

import (
	"context"
	"sync"
	"time"
)

type sessionEntry struct {
	code      string
	expiresAt time.Time
}

// MemorySessions is a process-local ReferralSessions implementation used in
// tests and when no Redis is configured.
type MemorySessions struct {
	mu      sync.Mutex
	entries map[string]sessionEntry
	ttl     time.Duration
}

// NewMemorySessions returns an in-memory session store. Entries expire after
// ttl; a zero ttl means they never expire.
func NewMemorySessions(ttl time.Duration) *MemorySessions {
	return &MemorySessions{
		entries: make(map[string]sessionEntry),
		ttl:     ttl,
	}
}

func (s *MemorySessions) Hold(ctx context.Context, visitorKey, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := sessionEntry{code: code}
	if s.ttl > 0 {
		entry.expiresAt = time.Now().Add(s.ttl)
	}
	s.entries[visitorKey] = entry
	return nil
}

func (s *MemorySessions) Peek(ctx context.Context, visitorKey string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[visitorKey]
	if !ok {
		return "", nil
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		delete(s.entries, visitorKey)
		return "", nil
	}
	return entry.code, nil
}

func (s *MemorySessions) Clear(ctx context.Context, visitorKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, visitorKey)
	return nil
}
