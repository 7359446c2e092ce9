package build

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// errLockTimeout is returned by Acquire; the installer turns it into a
// LockTimeoutError naming the node.
var errLockTimeout = errors.New("lock timeout")

// LockTable hands out exclusive locks keyed by dag hash. Share one table
// between installers that write the same database.
type LockTable struct {
	mu    sync.Mutex
	locks map[string]*semaphore.Weighted
}

// NewLockTable creates an empty table.
func NewLockTable() *LockTable {
	return &LockTable{locks: make(map[string]*semaphore.Weighted)}
}

func (t *LockTable) sem(hash string) *semaphore.Weighted {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.locks[hash]
	if !ok {
		s = semaphore.NewWeighted(1)
		t.locks[hash] = s
	}
	return s
}

// Acquire takes the lock for hash, waiting at most timeout (zero waits
// until ctx ends). It returns ctx.Err() if ctx ends first and
// errLockTimeout if the timeout does.
func (t *LockTable) Acquire(ctx context.Context, hash string, timeout time.Duration) (release func(), err error) {
	s := t.sem(hash)
	wait := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		wait, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := s.Acquire(wait, 1); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errLockTimeout
	}
	var once sync.Once
	return func() { once.Do(func() { s.Release(1) }) }, nil
}

// TryAcquire takes the lock for hash only if it is free.
func (t *LockTable) TryAcquire(hash string) (release func(), ok bool) {
	s := t.sem(hash)
	if !s.TryAcquire(1) {
		return nil, false
	}
	var once sync.Once
	return func() { once.Do(func() { s.Release(1) }) }, true
}
