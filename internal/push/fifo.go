package push

import (
	"sync"
	"time"
)

// wake is the sentinel inbox entry meaning "return immediately with no
// data" — spec §3's ClientRecord.inbox element that isn't a message
// body. A distinct unexported type keeps it from ever colliding with a
// legitimate (if empty) string payload.
type wake struct{}

// fifo is an unbounded, multi-producer/single-consumer blocking queue.
// push never blocks; pop blocks until an item is available or the
// given timeout elapses. This is the "native timed blocking primitive"
// spec §9 allows in place of the literal timer-that-enqueues-a-
// sentinel scheme — push/pop observe the same external contract
// (receive returns the next payload, or empty after receive_timeout)
// without needing a real sentinel write-back for the timeout case.
type fifo struct {
	mu     sync.Mutex
	items  []any
	notify chan struct{} // buffered(1); signalled whenever an item is appended
}

func newFIFO() *fifo {
	return &fifo{notify: make(chan struct{}, 1)}
}

// push appends item and wakes one blocked pop, if any. Never blocks.
func (f *fifo) push(item any) {
	f.mu.Lock()
	f.items = append(f.items, item)
	f.mu.Unlock()

	select {
	case f.notify <- struct{}{}:
	default:
	}
}

// pop waits up to timeout for the next item. ok is false only if the
// timeout elapsed with nothing enqueued; a popped wake sentinel is
// still ok=true (the caller distinguishes it from a real payload).
func (f *fifo) pop(timeout time.Duration) (item any, ok bool) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		f.mu.Lock()
		if len(f.items) > 0 {
			item = f.items[0]
			f.items = f.items[1:]
			f.mu.Unlock()
			return item, true
		}
		f.mu.Unlock()

		select {
		case <-f.notify:
			continue
		case <-deadline.C:
			return nil, false
		}
	}
}
