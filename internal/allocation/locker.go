package allocation

import (
	"context"
	"sync"
)

// itemLocker hands out one lock per item ID. Locks for different items are
// independent; an entry is dropped once nobody holds or waits for it.
type itemLocker struct {
	mu    sync.Mutex
	locks map[string]*itemLock
}

type itemLock struct {
	sem  chan struct{}
	refs int
}

func newItemLocker() *itemLocker {
	return &itemLocker{locks: make(map[string]*itemLock)}
}

// lock blocks until the item's lock is held or ctx is done. The returned
// function releases it.
func (l *itemLocker) lock(ctx context.Context, itemID string) (func(), error) {
	l.mu.Lock()
	il, ok := l.locks[itemID]
	if !ok {
		il = &itemLock{sem: make(chan struct{}, 1)}
		l.locks[itemID] = il
	}
	il.refs++
	l.mu.Unlock()

	select {
	case il.sem <- struct{}{}:
		return func() {
			<-il.sem
			l.release(itemID, il)
		}, nil
	case <-ctx.Done():
		l.release(itemID, il)
		return nil, ctx.Err()
	}
}

func (l *itemLocker) release(itemID string, il *itemLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	il.refs--
	if il.refs == 0 {
		delete(l.locks, itemID)
	}
}

// size returns the number of live entries.
func (l *itemLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
