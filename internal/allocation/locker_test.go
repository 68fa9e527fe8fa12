package allocation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestItemLocker_SerializesSameItem(t *testing.T) {
	l := newItemLocker()
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.lock(ctx, "item-1")
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			inside++
			maxSeen = max(maxSeen, inside)
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen)
	assert.Equal(t, 0, l.size())
}

func TestItemLocker_IndependentItems(t *testing.T) {
	l := newItemLocker()
	ctx := context.Background()

	unlockA, err := l.lock(ctx, "item-a")
	require.NoError(t, err)
	defer unlockA()

	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	unlockB, err := l.lock(ctx, "item-b")
	require.NoError(t, err, "a held lock on one item must not block another")
	unlockB()

	assert.Equal(t, 1, l.size())
}

func TestItemLocker_ContextDone(t *testing.T) {
	l := newItemLocker()

	unlock, err := l.lock(context.Background(), "item-1")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = l.lock(ctx, "item-1")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, l.size())

	unlock()
	assert.Equal(t, 0, l.size())

	again, err := l.lock(context.Background(), "item-1")
	require.NoError(t, err)
	again()
}
