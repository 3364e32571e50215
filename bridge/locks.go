package bridge

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/semaphore"
)

// accountLocks serializes transaction submission per (chain, account).
// Entries are dropped once nobody holds or waits for them.
type accountLocks struct {
	mu    sync.Mutex
	locks map[string]*accountLock
}

type accountLock struct {
	sem  *semaphore.Weighted
	refs int
}

func newAccountLocks() *accountLocks {
	return &accountLocks{locks: make(map[string]*accountLock)}
}

func lockKey(chainID int, account common.Address) string {
	return fmt.Sprintf("%d:%s", chainID, strings.ToLower(account.Hex()))
}

// Acquire blocks until the account is free on chainID or ctx ends
func (l *accountLocks) Acquire(ctx context.Context, chainID int, account common.Address) (func(), error) {
	key := lockKey(chainID, account)

	l.mu.Lock()
	entry, ok := l.locks[key]
	if !ok {
		entry = &accountLock{sem: semaphore.NewWeighted(1)}
		l.locks[key] = entry
	}
	entry.refs++
	l.mu.Unlock()

	if err := entry.sem.Acquire(ctx, 1); err != nil {
		l.drop(key, entry)
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			entry.sem.Release(1)
			l.drop(key, entry)
		})
	}, nil
}

func (l *accountLocks) drop(key string, entry *accountLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry.refs--
	if entry.refs == 0 {
		delete(l.locks, key)
	}
}

func (l *accountLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
