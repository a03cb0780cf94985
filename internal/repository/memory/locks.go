package memory

import (
	"context"
	"sync"
)

// keyedMutex hands out one lock per key. Entries are never evicted; the key
// space is bounded by the number of accounts and transfers held in memory.
type keyedMutex struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{slots: make(map[string]chan struct{})}
}

// Lock blocks until key is free or ctx is done, and returns the unlock func.
func (k *keyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	slot, ok := k.slots[key]
	if !ok {
		slot = make(chan struct{}, 1)
		k.slots[key] = slot
	}
	k.mu.Unlock()

	select {
	case slot <- struct{}{}:
		return func() { <-slot }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
