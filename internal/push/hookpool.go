package push

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// hookTask is a zero-argument callback, same shape as the teacher's
// worker_pool.go Task.
type hookTask func()

// HookPool runs Hooks callbacks on a small fixed pool of goroutines so
// that the Registry's on_connect/on_disconnect never execute on the
// caller's goroutine and never while the Registry's client-map lock is
// held (spec §9). Adapted from the
// teacher's worker_pool.go: fixed worker count, buffered task queue,
// drop-and-count on overflow instead of blocking the caller, panic
// recovery per task.
type HookPool struct {
	workerCount int
	taskQueue   chan hookTask
	logger      zerolog.Logger
	dropped     int64
	onDrop      func() // optional metrics callback

	wg sync.WaitGroup
}

// NewHookPool creates a pool with workerCount goroutines and a task
// queue of the given size. onDrop, if non-nil, is called once per
// dropped task (e.g. to increment a Prometheus counter).
func NewHookPool(workerCount, queueSize int, logger zerolog.Logger, onDrop func()) *HookPool {
	if workerCount < 1 {
		workerCount = 1
	}
	return &HookPool{
		workerCount: workerCount,
		taskQueue:   make(chan hookTask, queueSize),
		logger:      logger,
		onDrop:      onDrop,
	}
}

// Start launches the worker goroutines. ctx cancellation stops the
// workers once their current task finishes; tasks still queued at that
// point are not run.
func (p *HookPool) Start(ctx context.Context) {
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
}

func (p *HookPool) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case task, ok := <-p.taskQueue:
			if !ok {
				return
			}
			p.run(task)
		case <-ctx.Done():
			return
		}
	}
}

func (p *HookPool) run(task hookTask) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("hook panic recovered")
		}
	}()
	task()
}

// Dispatch enqueues a hook invocation. If the queue is full the task
// is dropped (never blocks the caller) and counted.
func (p *HookPool) Dispatch(task hookTask) {
	select {
	case p.taskQueue <- task:
	default:
		atomic.AddInt64(&p.dropped, 1)
		if p.onDrop != nil {
			p.onDrop()
		}
	}
}

// Dropped returns the number of hook invocations dropped so far.
func (p *HookPool) Dropped() int64 {
	return atomic.LoadInt64(&p.dropped)
}

// Stop closes the task queue and waits for the workers to exit; workers
// whose ctx is still live drain the queue first.
func (p *HookPool) Stop() {
	close(p.taskQueue)
	p.wg.Wait()
}
