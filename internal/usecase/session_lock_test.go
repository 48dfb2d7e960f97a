package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestSessionLockerBasic(t *testing.T) {
	sl := NewSessionLocker()

	unlock, err := sl.Lock(context.Background(), "thread-1")
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if sl.ActiveCount() != 1 {
		t.Errorf("ActiveCount = %d, want 1", sl.ActiveCount())
	}

	unlock()
	unlock() // second call is a no-op

	if sl.ActiveCount() != 0 {
		t.Errorf("ActiveCount after unlock = %d, want 0", sl.ActiveCount())
	}
}

func TestSessionLockerSerializesSameKey(t *testing.T) {
	sl := NewSessionLocker()

	unlock1, err := sl.Lock(context.Background(), "thread-1")
	if err != nil {
		t.Fatalf("Lock1: %v", err)
	}

	order := make(chan int, 2)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		unlock2, err := sl.Lock(context.Background(), "thread-1")
		if err != nil {
			t.Errorf("Lock2: %v", err)
			return
		}
		order <- 2
		unlock2()
	}()

	time.Sleep(50 * time.Millisecond)
	order <- 1
	unlock1()

	wg.Wait()
	close(order)

	var vals []int
	for v := range order {
		vals = append(vals, v)
	}
	if len(vals) != 2 || vals[0] != 1 || vals[1] != 2 {
		t.Errorf("order = %v, want [1 2]", vals)
	}
	if sl.ActiveCount() != 0 {
		t.Errorf("ActiveCount = %d, want 0", sl.ActiveCount())
	}
}

func TestSessionLockerDifferentKeys(t *testing.T) {
	sl := NewSessionLocker()

	unlockA, err := sl.Lock(context.Background(), "a")
	if err != nil {
		t.Fatal(err)
	}
	defer unlockA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unlockB, err := sl.Lock(ctx, "b")
	if err != nil {
		t.Fatalf("lock on a different key should not block: %v", err)
	}
	unlockB()
}

func TestSessionLockerContextCancelled(t *testing.T) {
	sl := NewSessionLocker()

	unlock, err := sl.Lock(context.Background(), "thread-1")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = sl.Lock(ctx, "thread-1")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
	if sl.ActiveCount() != 1 {
		t.Errorf("ActiveCount = %d, want 1 (held lock only)", sl.ActiveCount())
	}

	unlock()
	if sl.ActiveCount() != 0 {
		t.Errorf("ActiveCount = %d, want 0", sl.ActiveCount())
	}

	// The lock is reusable after a cancelled waiter.
	unlock, err = sl.Lock(context.Background(), "thread-1")
	if err != nil {
		t.Fatalf("relock: %v", err)
	}
	unlock()
}
