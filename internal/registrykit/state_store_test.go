package registrykit

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStateStoreIssueAndConsume(t *testing.T) {
	t.Parallel()
	store := NewMemoryStateStore(2 * time.Minute).(*memoryStateStore)
	store.now = func() time.Time { return time.Unix(1000, 0) }

	state, err := store.Issue(context.Background())
	if err != nil {
		t.Fatalf("issue state: %v", err)
	}
	if state == "" {
		t.Fatalf("expected state token")
	}

	if err := store.Consume(context.Background(), state); err != nil {
		t.Fatalf("consume state: %v", err)
	}

	if err := store.Consume(context.Background(), state); err != ErrInvalidState {
		t.Fatalf("expected ErrInvalidState on second consume, got %v", err)
	}
}

func TestMemoryStateStoreRejectsUnknownState(t *testing.T) {
	t.Parallel()
	store := NewMemoryStateStore(time.Minute)

	if err := store.Consume(context.Background(), "never-issued"); err != ErrInvalidState {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestMemoryStateStoreExpiry(t *testing.T) {
	t.Parallel()
	store := NewMemoryStateStore(time.Minute).(*memoryStateStore)
	current := time.Unix(1000, 0)
	store.now = func() time.Time { return current }

	state, err := store.Issue(context.Background())
	if err != nil {
		t.Fatalf("issue state: %v", err)
	}

	current = current.Add(2 * time.Minute)

	err = store.Consume(context.Background(), state)
	if err != ErrStateExpired {
		t.Fatalf("expected ErrStateExpired, got %v", err)
	}
}

func TestMemoryStateStorePurgesExpiredEntries(t *testing.T) {
	t.Parallel()
	store := NewMemoryStateStore(time.Minute).(*memoryStateStore)
	current := time.Unix(1000, 0)
	store.now = func() time.Time { return current }

	if _, err := store.Issue(context.Background()); err != nil {
		t.Fatalf("issue state: %v", err)
	}
	if _, err := store.Issue(context.Background()); err != nil {
		t.Fatalf("issue state: %v", err)
	}

	current = current.Add(time.Hour)
	if _, err := store.Issue(context.Background()); err != nil {
		t.Fatalf("issue state: %v", err)
	}

	store.mutex.Lock()
	remaining := len(store.entries)
	store.mutex.Unlock()
	if remaining != 1 {
		t.Fatalf("expected expired entries to be purged, got %d entries", remaining)
	}
}
