package push

import (
	"sync"
	"time"

	"github.com/calfeld/heron/internal/monitoring"
)

// Record is one connected push client — spec §3's ClientRecord.
// Registry owns every Record; other components only ever hold the
// client_id string and resolve it back through the Registry (spec §3:
// "other components hold only a weak handle").
type Record struct {
	id    string
	inbox *fifo

	hbMu           sync.Mutex
	lastHeartbeat  time.Time
	watchdogTimer  *time.Timer

	receiveMu sync.Mutex // at most one in-flight receive per client (spec §4.2)
}

// touch refreshes the heartbeat and (re)arms the watchdog timer to
// fire onExpire after timeout of further silence.
func (r *Record) touch(timeout time.Duration, onExpire func()) {
	r.hbMu.Lock()
	defer r.hbMu.Unlock()

	r.lastHeartbeat = time.Now()
	if r.watchdogTimer == nil {
		r.watchdogTimer = time.AfterFunc(timeout, onExpire)
		return
	}
	r.watchdogTimer.Reset(timeout)
}

func (r *Record) stopWatchdog() {
	r.hbMu.Lock()
	defer r.hbMu.Unlock()
	if r.watchdogTimer != nil {
		r.watchdogTimer.Stop()
	}
}

// Heartbeat returns the last time this client's heartbeat was
// refreshed (by connect-refresh or receive).
func (r *Record) Heartbeat() time.Time {
	r.hbMu.Lock()
	defer r.hbMu.Unlock()
	return r.lastHeartbeat
}

// Registry is Component A: it creates/destroys Records, and answers
// concurrent-safe lookup and presence queries. The client_id -> Record
// map is guarded by a single lock (spec §5's "Shared resource policy");
// every hook invocation below happens after that lock is released.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*Record

	clientTimeout time.Duration
	hooks         Hooks
	hookPool      *HookPool
	metrics       *monitoring.Metrics
}

// NewRegistry constructs a Registry. clientTimeout is the watchdog
// period from spec §6 (client_timeout). metrics may be nil.
func NewRegistry(clientTimeout time.Duration, hooks Hooks, hookPool *HookPool, metrics *monitoring.Metrics) *Registry {
	if hooks == nil {
		hooks = NoopHooks{}
	}
	return &Registry{
		clients:       make(map[string]*Record),
		clientTimeout: clientTimeout,
		hooks:         hooks,
		hookPool:      hookPool,
		metrics:       metrics,
	}
}

// Connect registers a new client, or refreshes the heartbeat of an
// already-registered one without creating a duplicate (spec §4.1).
func (reg *Registry) Connect(id string) {
	reg.mu.RLock()
	existing, ok := reg.clients[id]
	reg.mu.RUnlock()

	if ok {
		existing.touch(reg.clientTimeout, func() { reg.watchdogExpire(id) })
		return
	}

	reg.mu.Lock()
	// Re-check under the write lock: another goroutine may have
	// created it between the RLock release above and here.
	if existing, ok = reg.clients[id]; ok {
		reg.mu.Unlock()
		existing.touch(reg.clientTimeout, func() { reg.watchdogExpire(id) })
		return
	}

	rec := &Record{id: id, inbox: newFIFO()}
	reg.clients[id] = rec
	reg.mu.Unlock()

	rec.touch(reg.clientTimeout, func() { reg.watchdogExpire(id) })

	if reg.metrics != nil {
		reg.metrics.ClientsConnected.Inc()
		reg.metrics.ClientsTotal.Inc()
	}

	reg.hookPool.Dispatch(func() { reg.hooks.OnConnect(id) })
}

// watchdogExpire is the watchdog's fire callback: client_timeout of
// silence elapsed without a refreshed heartbeat, so disconnect.
func (reg *Registry) watchdogExpire(id string) {
	reg.Disconnect(id)
}

// Disconnect removes id's record if present, cancels its watchdog,
// wakes any blocked receiver, and invokes on_disconnect. Unknown ids
// succeed silently, and a second call is indistinguishable from the
// first (spec §4.1, §8 "Idempotent disconnect").
func (reg *Registry) Disconnect(id string) {
	reg.mu.Lock()
	rec, ok := reg.clients[id]
	if !ok {
		reg.mu.Unlock()
		return
	}
	delete(reg.clients, id)
	reg.mu.Unlock()

	rec.stopWatchdog()
	rec.inbox.push(wake{})

	if reg.metrics != nil {
		reg.metrics.ClientsConnected.Dec()
	}

	reg.hookPool.Dispatch(func() { reg.hooks.OnDisconnect(id) })
}

// Present reports whether id currently has a registered record.
func (reg *Registry) Present(id string) bool {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	_, ok := reg.clients[id]
	return ok
}

// Iterate returns a snapshot of currently connected client ids.
func (reg *Registry) Iterate() []string {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	ids := make([]string, 0, len(reg.clients))
	for id := range reg.clients {
		ids = append(ids, id)
	}
	return ids
}

// lookup resolves id to its Record, for use by push.go's Queue/Receive/Flush.
func (reg *Registry) lookup(id string) (*Record, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	rec, ok := reg.clients[id]
	return rec, ok
}

// Count returns the number of currently registered clients.
func (reg *Registry) Count() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.clients)
}
