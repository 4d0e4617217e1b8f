package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

const defaultSubjectLockTTL = 30 * time.Second

// MemorySubjectLocker serializes refreshes per subject within one process.
// Deployments with multiple replicas back this with a keyed distributed
// lock; the contract is the same.
type MemorySubjectLocker struct {
	mu    sync.Mutex
	cond  *sync.Cond
	locks map[string]time.Time
	nowFn func() time.Time
}

func NewMemorySubjectLocker() *MemorySubjectLocker {
	locker := &MemorySubjectLocker{
		locks: make(map[string]time.Time),
		nowFn: func() time.Time { return time.Now().UTC() },
	}
	locker.cond = sync.NewCond(&locker.mu)
	return locker
}

// Acquire blocks until the subject lock is free or the context is done.
// Blocking (rather than failing) lets concurrent refresh-gate callers queue
// behind a single refresh and then observe the refreshed credential.
func (l *MemorySubjectLocker) Acquire(ctx context.Context, subjectID string, ttl time.Duration) (LockHandle, error) {
	if l == nil {
		return nil, fmt.Errorf("core: subject locker is not configured")
	}
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return nil, fmt.Errorf("core: subject id is required for lock acquisition")
	}
	if ttl <= 0 {
		ttl = defaultSubjectLockTTL
	}
	if ctx == nil {
		ctx = context.Background()
	}

	stop := context.AfterFunc(ctx, func() {
		l.mu.Lock()
		l.cond.Broadcast()
		l.mu.Unlock()
	})
	defer stop()

	l.mu.Lock()
	defer l.mu.Unlock()
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		now := l.nowFn()
		until, held := l.locks[subjectID]
		if !held || now.After(until) {
			l.locks[subjectID] = now.Add(ttl)
			return &memoryLockHandle{locker: l, subjectID: subjectID}, nil
		}
		l.cond.Wait()
	}
}

type memoryLockHandle struct {
	locker    *MemorySubjectLocker
	subjectID string
	once      sync.Once
}

func (h *memoryLockHandle) Unlock(context.Context) error {
	if h == nil || h.locker == nil {
		return nil
	}
	h.once.Do(func() {
		h.locker.mu.Lock()
		delete(h.locker.locks, h.subjectID)
		h.locker.cond.Broadcast()
		h.locker.mu.Unlock()
	})
	return nil
}
