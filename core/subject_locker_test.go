package core

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMemorySubjectLockerSerializesSameSubject(t *testing.T) {
	locker := NewMemorySubjectLocker()
	ctx := context.Background()

	handle, err := locker.Acquire(ctx, "subject-a", time.Minute)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	acquired := make(chan struct{})
	go func() {
		second, err := locker.Acquire(ctx, "subject-a", time.Minute)
		if err != nil {
			t.Errorf("second Acquire: %v", err)
			close(acquired)
			return
		}
		second.Unlock(ctx)
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second acquire should block while lock is held")
	case <-time.After(50 * time.Millisecond):
	}

	handle.Unlock(ctx)
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second acquire should proceed after unlock")
	}
}

func TestMemorySubjectLockerAllowsDifferentSubjects(t *testing.T) {
	locker := NewMemorySubjectLocker()
	ctx := context.Background()

	first, err := locker.Acquire(ctx, "subject-a", time.Minute)
	if err != nil {
		t.Fatalf("Acquire subject-a: %v", err)
	}
	defer first.Unlock(ctx)

	done := make(chan error, 1)
	go func() {
		second, err := locker.Acquire(ctx, "subject-b", time.Minute)
		if err == nil {
			second.Unlock(ctx)
		}
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Acquire subject-b: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("different subjects must not contend")
	}
}

func TestMemorySubjectLockerRespectsContext(t *testing.T) {
	locker := NewMemorySubjectLocker()

	handle, err := locker.Acquire(context.Background(), "subject-a", time.Minute)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer handle.Unlock(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := locker.Acquire(ctx, "subject-a", time.Minute); err == nil {
		t.Fatal("expected context deadline error while lock is held")
	}
}

func TestMemorySubjectLockerExpiredLockIsReclaimable(t *testing.T) {
	clock := newTestClock()
	locker := NewMemorySubjectLocker()
	locker.nowFn = clock.Now

	if _, err := locker.Acquire(context.Background(), "subject-a", time.Second); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	// Holder never unlocked; the TTL guards against a stuck refresh
	// wedging the subject forever.
	clock.Advance(2 * time.Second)
	handle, err := locker.Acquire(context.Background(), "subject-a", time.Second)
	if err != nil {
		t.Fatalf("Acquire after TTL: %v", err)
	}
	handle.Unlock(context.Background())
}

func TestMemorySubjectLockerUnlockIsIdempotent(t *testing.T) {
	locker := NewMemorySubjectLocker()
	ctx := context.Background()

	handle, err := locker.Acquire(ctx, "subject-a", time.Minute)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			handle.Unlock(ctx)
		}()
	}
	wg.Wait()

	next, err := locker.Acquire(ctx, "subject-a", time.Minute)
	if err != nil {
		t.Fatalf("Acquire after unlock: %v", err)
	}
	next.Unlock(ctx)
}
