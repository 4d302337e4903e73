package lock

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "clinicore/pkg/domain"
)

func TestKeyedMutexSerializesSameAccount(t *testing.T) {
	locker := NewKeyedMutex()
	accountID := id.AccountID(uuid.New())

	const workers = 20
	counter := 0

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := locker.WithAccountLock(context.Background(), accountID, func(ctx context.Context) error {
				// Non-atomic increment; only correct under mutual exclusion.
				v := counter
				counter = v + 1
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, workers, counter)
}

func TestKeyedMutexRespectsCanceledContext(t *testing.T) {
	locker := NewKeyedMutex()
	accountID := id.AccountID(uuid.New())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := locker.WithAccountLock(ctx, accountID, func(ctx context.Context) error {
		t.Fatal("critical section must not run after cancellation")
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
}
