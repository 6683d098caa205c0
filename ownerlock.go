package engram

import (
	"context"
	"sync"
)

// ownerLocks serializes the check-then-act dedup sequence within a single
// owner partition. Writes for different owners never contend.
type ownerLocks struct {
	mu     sync.Mutex
	owners map[string]chan struct{}
}

func newOwnerLocks() *ownerLocks {
	return &ownerLocks{owners: make(map[string]chan struct{})}
}

func (l *ownerLocks) get(ownerID string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	ch, ok := l.owners[ownerID]
	if !ok {
		ch = make(chan struct{}, 1)
		l.owners[ownerID] = ch
	}
	return ch
}

// acquire blocks until the owner lock is held or ctx ends. A caller timeout
// surfaces as ErrConcurrentConflict, which is safe to retry.
func (l *ownerLocks) acquire(ctx context.Context, ownerID string) error {
	ch := l.get(ownerID)
	select {
	case ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ErrConcurrentConflict
	}
}

func (l *ownerLocks) release(ownerID string) {
	<-l.get(ownerID)
}
