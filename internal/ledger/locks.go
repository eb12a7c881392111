package ledger

import "sync"

// keyedLocks serialises wallet mutations per entity. Lock ordering is the
// caller's responsibility when more than one key is held.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{locks: make(map[string]*sync.Mutex)}
}

func (k *keyedLocks) get(key string) *sync.Mutex {
	k.mu.Lock()
	defer k.mu.Unlock()

	l, ok := k.locks[key]
	if !ok {
		l = &sync.Mutex{}
		k.locks[key] = l
	}
	return l
}

// Lock acquires the mutex for key and returns its unlock function.
func (k *keyedLocks) Lock(key string) func() {
	l := k.get(key)
	l.Lock()
	return l.Unlock
}
