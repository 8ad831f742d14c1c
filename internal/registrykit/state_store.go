package registrykit

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"sync"
	"time"
)

// StateStore issues single-use CSRF state tokens for the OAuth handshake.
type StateStore interface {
	// Issue creates a new state token with the configured TTL.
	Issue(ctx context.Context) (string, error)
	// Consume validates and invalidates an issued state token. A state is
	// consumed on any callback outcome, success or failure.
	Consume(ctx context.Context, state string) error
}

type memoryStateStore struct {
	mutex     sync.Mutex
	entries   map[string]time.Time
	ttl       time.Duration
	now       func() time.Time
	tokenSize int
}

// NewMemoryStateStore constructs an in-memory StateStore with the provided TTL.
func NewMemoryStateStore(ttl time.Duration) StateStore {
	return &memoryStateStore{
		entries:   make(map[string]time.Time),
		ttl:       ttl,
		now:       time.Now,
		tokenSize: 32,
	}
}

func (store *memoryStateStore) Issue(ctx context.Context) (string, error) {
	state, err := store.randomState()
	if err != nil {
		return "", err
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.purgeExpiredLocked()
	store.entries[state] = store.now().Add(store.ttl)
	return state, nil
}

func (store *memoryStateStore) Consume(ctx context.Context, state string) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	expiry, ok := store.entries[state]
	if !ok {
		store.purgeExpiredLocked()
		return ErrInvalidState
	}
	delete(store.entries, state)
	if store.now().After(expiry) {
		store.purgeExpiredLocked()
		return ErrStateExpired
	}
	store.purgeExpiredLocked()
	return nil
}

func (store *memoryStateStore) purgeExpiredLocked() {
	if len(store.entries) == 0 {
		return
	}
	now := store.now()
	for state, expiry := range store.entries {
		if now.After(expiry) {
			delete(store.entries, state)
		}
	}
}

func (store *memoryStateStore) randomState() (string, error) {
	buffer := make([]byte, store.tokenSize)
	if _, err := rand.Read(buffer); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buffer), nil
}
