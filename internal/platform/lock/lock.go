// Package lock provides per-account mutual exclusion for check-then-act
// sequences over the subscription slot. Two implementations: an in-process
// keyed mutex for tests and single-node runs, and a Redis lock for
// multi-instance deployments.
package lock

import (
	"context"
	"errors"
	"sync"

	id "clinicore/pkg/domain"
)

var ErrNotAcquired = errors.New("account lock not acquired")

// Locker serializes critical sections keyed by account.
type Locker interface {
	WithAccountLock(ctx context.Context, accountID id.AccountID, fn func(ctx context.Context) error) error
}

// KeyedMutex is an in-process Locker. Calls for the same account block until
// the holder releases; calls for different accounts proceed independently.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[id.AccountID]*sync.Mutex
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[id.AccountID]*sync.Mutex)}
}

func (k *KeyedMutex) WithAccountLock(ctx context.Context, accountID id.AccountID, fn func(ctx context.Context) error) error {
	k.mu.Lock()
	m := k.locks[accountID]
	if m == nil {
		m = &sync.Mutex{}
		k.locks[accountID] = m
	}
	k.mu.Unlock()

	m.Lock()
	defer m.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx)
}
