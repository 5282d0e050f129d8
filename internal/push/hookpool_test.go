package push

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestHookPoolRunsDispatchedTasks(t *testing.T) {
	pool := NewHookPool(2, 8, zerolog.Nop(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(5)
	for i := 0; i < 5; i++ {
		pool.Dispatch(func() { wg.Done() })
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("not all dispatched tasks ran")
	}
	pool.Stop()
}

func TestHookPoolRecoversPanics(t *testing.T) {
	pool := NewHookPool(1, 4, zerolog.Nop(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)
	defer cancel()

	pool.Dispatch(func() { panic("boom") })

	var ran bool
	done := make(chan struct{})
	pool.Dispatch(func() { ran = true; close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not survive a panicking task")
	}
	if !ran {
		t.Error("task after the panic never ran")
	}
	pool.Stop()
}

func TestHookPoolDropsOnFullQueue(t *testing.T) {
	pool := NewHookPool(1, 1, zerolog.Nop(), nil) // Start is never called: nothing drains the queue

	pool.Dispatch(func() {}) // fills the one buffered slot
	pool.Dispatch(func() {}) // no room: dropped
	pool.Dispatch(func() {}) // no room: dropped

	if got := pool.Dropped(); got != 2 {
		t.Errorf("Dropped() = %d, want 2", got)
	}
}
