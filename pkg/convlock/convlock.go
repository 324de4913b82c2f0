// Package convlock serializes writers on a single conversation. Turn
// persistence and compaction must not interleave on the same conversation id
// or summaryUpToIndex can drift past appended-but-unsummarized messages.
package convlock

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// Locker acquires an exclusive lock for a key. The returned release function
// must be called exactly once.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// KeyedMutex is the in-process Locker. Each key gets a one-slot semaphore so
// acquisition can honor context cancellation, which a sync.Mutex cannot.
type KeyedMutex struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

var _ Locker = &KeyedMutex{}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{slots: map[string]chan struct{}{}}
}

func (k *KeyedMutex) Acquire(ctx context.Context, key string) (func(), error) {
	if key == "" {
		return nil, errors.New("convlock: empty key")
	}
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
		return nil, errors.Wrap(ctx.Err(), "convlock: acquire")
	}
}
