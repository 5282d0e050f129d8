// Package push implements the long-poll push channel: Component A
// (Client Registry) and Component B (Push Core) of the spec.
package push

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/calfeld/heron/internal/monitoring"
	"github.com/calfeld/heron/internal/protocol"
)

var errReceiveTimeoutTooLarge = errors.New("receive_timeout must be less than client_timeout")

// Push is Component B. It delegates client lifecycle to a Registry and
// owns the queue/receive/flush operations browsers drive over
// /comet/*.
type Push struct {
	registry       *Registry
	hookPool       *HookPool
	receiveTimeout time.Duration
	metrics        *monitoring.Metrics
	logger         zerolog.Logger
}

// Config configures a Push instance. ClientTimeout must exceed
// ReceiveTimeout (spec §4.1's configuration invariant); New returns an
// error otherwise.
type Config struct {
	ClientTimeout  time.Duration
	ReceiveTimeout time.Duration
	Hooks          Hooks
	HookPoolSize   int
	HookQueueSize  int
	Metrics        *monitoring.Metrics
	Logger         zerolog.Logger
}

// New constructs a Push instance and starts its hook dispatch pool.
// Callers must call Shutdown when done.
func New(cfg Config) (*Push, error) {
	if cfg.ReceiveTimeout >= cfg.ClientTimeout {
		return nil, &protocol.Error{Kind: protocol.MalformedMessage, Op: "push.New",
			Err: errReceiveTimeoutTooLarge}
	}

	var onDrop func()
	if cfg.Metrics != nil {
		onDrop = cfg.Metrics.HooksDropped.Inc
	}

	pool := NewHookPool(cfg.HookPoolSize, cfg.HookQueueSize, cfg.Logger, onDrop)
	reg := NewRegistry(cfg.ClientTimeout, cfg.Hooks, pool, cfg.Metrics)

	return &Push{
		registry:       reg,
		hookPool:       pool,
		receiveTimeout: cfg.ReceiveTimeout,
		metrics:        cfg.Metrics,
		logger:         cfg.Logger,
	}, nil
}

// Start launches the hook dispatch pool. ctx cancellation stops the
// pool's workers without running hooks still queued; callers should
// still call Shutdown.
func (p *Push) Start(ctx context.Context) {
	p.hookPool.Start(ctx)
}

// Connect registers (or refreshes) a client.
func (p *Push) Connect(id string) {
	p.registry.Connect(id)
}

// Disconnect removes a client if present; idempotent.
func (p *Push) Disconnect(id string) {
	p.registry.Disconnect(id)
}

// Present reports whether id is currently a registered push client.
func (p *Push) Present(id string) bool {
	return p.registry.Present(id)
}

// Iterate returns a snapshot of connected client ids.
func (p *Push) Iterate() []string {
	return p.registry.Iterate()
}

// Queue appends payload to id's inbox. Non-blocking; fails with
// UnknownClient if id isn't registered.
func (p *Push) Queue(id, payload string) error {
	rec, ok := p.registry.lookup(id)
	if !ok {
		return &protocol.Error{Kind: protocol.UnknownClient, Op: "push.Queue"}
	}
	rec.inbox.push(payload)
	return nil
}

// Receive implements spec §4.2's receive algorithm: refresh heartbeat,
// serialize against concurrent receives for the same id, block for the
// next payload or receive_timeout, whichever comes first.
func (p *Push) Receive(id string) (payload string, ok bool, err error) {
	rec, found := p.registry.lookup(id)
	if !found {
		return "", false, &protocol.Error{Kind: protocol.UnknownClient, Op: "push.Receive"}
	}

	rec.receiveMu.Lock()
	defer rec.receiveMu.Unlock()

	rec.touch(p.registry.clientTimeout, func() { p.registry.watchdogExpire(id) })

	started := time.Now()
	item, gotItem := rec.inbox.pop(p.receiveTimeout)

	if p.metrics != nil {
		p.metrics.ReceiveWaitSeconds.Observe(time.Since(started).Seconds())
	}

	if !gotItem {
		if p.metrics != nil {
			p.metrics.ReceiveTimeouts.Inc()
		}
		return "", false, nil
	}
	if _, isWake := item.(wake); isWake {
		return "", false, nil
	}
	return item.(string), true, nil
}

// Flush wakes any in-flight receive for id immediately; future
// receives proceed normally.
func (p *Push) Flush(id string) error {
	rec, ok := p.registry.lookup(id)
	if !ok {
		return &protocol.Error{Kind: protocol.UnknownClient, Op: "push.Flush"}
	}
	rec.inbox.push(wake{})
	return nil
}

// ClientCount returns the number of currently registered clients.
func (p *Push) ClientCount() int {
	return p.registry.Count()
}

// Shutdown stops the hook dispatch pool. Queued hooks are run first
// only if the context passed to Start has not been cancelled.
func (p *Push) Shutdown() {
	p.hookPool.Stop()
}
