package store

// run is the domain's single goroutine: every meta-message is handled
// one at a time, in arrival order (spec §5 "serialized executor"). It
// returns when handle reports termination — either an explicit
// shutdown, or the subscriber set emptying out after processing some
// other message. After a shutdown, messages already queued are still
// handled, and the worker exits once the queue is empty; the shutdown
// message's done channel is closed only after the store is closed.
//
// Termination itself is guarded by d.mu, the same lock enqueue takes
// (domain.go): before committing to exit, run re-checks workQueue
// under that lock. A message that lands between handle's decision and
// this check was accepted by an enqueue call that correctly observed
// the worker still live, so it must be drained rather than abandoned;
// terminated is only set once the queue is confirmed empty, so no
// enqueue can ever succeed against a worker that has already stopped
// reading.
func (d *Domain) run() {
	var shutdownWaiters []chan struct{}
	defer func() {
		for _, c := range shutdownWaiters {
			close(c)
		}
	}()
	defer close(d.done)
	defer d.close()

	shuttingDown := false
	for m := range d.workQueue {
		if m.kind == metaShutdown {
			shuttingDown = true
		}
		terminate := d.handle(m) || shuttingDown
		if m.done != nil {
			shutdownWaiters = append(shutdownWaiters, m.done)
		}
		if !terminate {
			continue
		}

		d.mu.Lock()
		if len(d.workQueue) > 0 {
			d.mu.Unlock()
			continue
		}
		d.terminated = true
		d.mu.Unlock()
		return
	}
}
