// Package store implements Component C (Domain Worker) and Component D
// (Store Core) of the spec: a replicated, per-domain key/value store
// with optimistic-concurrency collision detection and subscribe-time
// replay, fanned out to clients through the push package.
package store

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/calfeld/heron/internal/monitoring"
	"github.com/calfeld/heron/internal/protocol"
	"github.com/calfeld/heron/internal/push"
)

var errDomainUnavailable = errors.New("domain worker unavailable after retry")

// Config configures a Store.
type Config struct {
	DBPath      string
	CheckPeriod time.Duration
	Push        *push.Push
	Hooks       push.Hooks
	Metrics     *monitoring.Metrics
	Logger      zerolog.Logger
}

// Store is Component D: it owns the domain-name -> Domain map, lazily
// (re)creating a domain's worker on demand, and runs the periodic
// liveness sweep that prunes stale subscribers.
type Store struct {
	mu      sync.Mutex
	domains map[string]*Domain

	dbPath      string
	checkPeriod time.Duration
	push        *push.Push
	hooks       push.Hooks
	metrics     *monitoring.Metrics
	logger      zerolog.Logger

	stop     chan struct{}
	sweepWG  sync.WaitGroup
}

// New constructs a Store and starts its liveness sweep goroutine.
func New(cfg Config) *Store {
	hooks := cfg.Hooks
	if hooks == nil {
		hooks = push.NoopHooks{}
	}
	s := &Store{
		domains:     make(map[string]*Domain),
		dbPath:      cfg.DBPath,
		checkPeriod: cfg.CheckPeriod,
		push:        cfg.Push,
		hooks:       hooks,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
		stop:        make(chan struct{}),
	}
	s.sweepWG.Add(1)
	go s.sweepLoop()
	return s
}

// sweepLoop enqueues check_clients on every currently known domain once
// per check_period, per spec §4.4's liveness sweep.
func (s *Store) sweepLoop() {
	defer s.sweepWG.Done()
	ticker := time.NewTicker(s.checkPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			for _, d := range s.snapshotLive() {
				d.enqueue(metaMessage{kind: metaCheckClients})
			}
		case <-s.stop:
			return
		}
	}
}

// snapshotLive returns the domains currently believed live, without
// creating any new ones.
func (s *Store) snapshotLive() []*Domain {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Domain, 0, len(s.domains))
	for _, d := range s.domains {
		out = append(out, d)
	}
	return out
}

// getOrCreate returns the live Domain for name, creating and starting a
// fresh worker if none exists or the previous one has already
// terminated. Done entirely under s.mu so "create-if-absent-or-dead" is
// atomic with respect to other callers to getOrCreate; termination
// itself is checked via isTerminated, which shares a lock with
// enqueue (domain.go/worker.go), so the two halves of spec §9's
// "dispatchers must atomically create-if-absent-or-dead, enqueue"
// never observe an inconsistent state between them. Waiting on
// d.done's closure here (rather than isTerminated) would reopen that
// race: done only closes after the worker's (potentially slow) cleanup
// runs, well after it has already stopped accepting work.
func (s *Store) getOrCreate(name string) (*Domain, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if d, ok := s.domains[name]; ok {
		if !d.isTerminated() {
			return d, nil
		}
		delete(s.domains, name)
	}

	d, err := newDomain(name, s.dbPath, s.push, s.hooks, s.metrics, s.logger)
	if err != nil {
		return nil, err
	}
	s.domains[name] = d
	go d.run()
	if s.metrics != nil {
		s.metrics.DomainWorkersTotal.Inc()
		s.metrics.DomainWorkersActive.Inc()
	}
	go func() {
		<-d.done
		if s.metrics != nil {
			s.metrics.DomainWorkersActive.Dec()
		}
	}()

	return d, nil
}

// dispatch resolves name to a live domain and enqueues m, retrying once
// if the domain self-terminated in the race between resolution and
// enqueue.
func (s *Store) dispatch(name string, m metaMessage) error {
	for attempt := 0; attempt < 2; attempt++ {
		d, err := s.getOrCreate(name)
		if err != nil {
			return err
		}
		if d.enqueue(m) {
			return nil
		}
	}
	return &protocol.Error{Kind: protocol.BadDomain, Op: "store.dispatch", Err: errDomainUnavailable}
}

func (s *Store) badDomain(op, domain string) error {
	err := &protocol.Error{Kind: protocol.BadDomain, Op: op}
	s.hooks.OnError(op, err)
	return err
}

// Subscribe enqueues a subscribe meta-message on domain's worker.
func (s *Store) Subscribe(clientID, domain string) error {
	if !ValidDomainName(domain) {
		return s.badDomain("store.Subscribe", domain)
	}
	return s.dispatch(domain, metaMessage{kind: metaSubscribe, clientID: clientID})
}

// Disconnected enqueues an unsubscribe meta-message for clientID on
// every domain this store currently knows about, per spec §4.4.
func (s *Store) Disconnected(clientID string) {
	for _, d := range s.snapshotLive() {
		d.enqueue(metaMessage{kind: metaUnsubscribe, clientID: clientID})
	}
}

// Messages parses payload as a JSON array of Messages, partitions them
// by domain, and enqueues one messages meta-message per domain. A
// message with no domain field can't be routed to any worker and is
// rejected via on_error directly; per-message field/command validation
// beyond that happens inside the domain worker (spec §4.3), so that a
// single malformed entry never discards the rest of the batch.
func (s *Store) Messages(clientID, payload string) error {
	var msgs []protocol.Message
	if err := json.Unmarshal([]byte(payload), &msgs); err != nil {
		wrapped := &protocol.Error{Kind: protocol.MalformedMessage, Op: "store.Messages", Err: err}
		s.hooks.OnError("store.Messages", wrapped)
		return wrapped
	}

	partitions := make(map[string][]protocol.Message)
	order := make([]string, 0)
	for _, m := range msgs {
		if m.Domain == "" {
			s.hooks.OnError("store.Messages", &protocol.Error{Kind: protocol.MalformedMessage, Op: "store.Messages"})
			if s.metrics != nil {
				s.metrics.MessagesRejected.WithLabelValues("malformed_message").Inc()
			}
			continue
		}
		if _, seen := partitions[m.Domain]; !seen {
			order = append(order, m.Domain)
		}
		partitions[m.Domain] = append(partitions[m.Domain], m)
	}

	for _, domain := range order {
		if !ValidDomainName(domain) {
			s.badDomain("store.Messages", domain)
			continue
		}
		if err := s.dispatch(domain, metaMessage{
			kind:     metaMessages,
			from:     origin{clientID: clientID},
			messages: partitions[domain],
		}); err != nil {
			s.hooks.OnError("store.Messages", err)
		}
	}
	return nil
}

// mutate builds a single-element, server-originated batch and enqueues
// it, backing Create/Update/Delete below.
func (s *Store) mutate(domain string, msg protocol.Message) error {
	if !ValidDomainName(domain) {
		return s.badDomain("store.mutate", domain)
	}
	return s.dispatch(domain, metaMessage{
		kind:     metaMessages,
		from:     origin{isServer: true},
		messages: []protocol.Message{msg},
	})
}

// Create performs a server-origin create of (domain, key) with the
// given value and version. Per spec §9's resolved open question,
// version is mandatory even for server-origin mutations.
func (s *Store) Create(domain, key, value, version string) error {
	return s.mutate(domain, protocol.Message{
		Command: protocol.Create, Domain: domain, Key: key, Value: value, Version: version,
	})
}

// Update performs a server-origin update of (domain, key), guarded by
// previousVersion matching the stored version.
func (s *Store) Update(domain, key, value, version, previousVersion string) error {
	return s.mutate(domain, protocol.Message{
		Command: protocol.Update, Domain: domain, Key: key, Value: value,
		Version: version, PreviousVersion: previousVersion,
	})
}

// Delete performs a server-origin delete of (domain, key).
func (s *Store) Delete(domain, key string) error {
	return s.mutate(domain, protocol.Message{Command: protocol.Delete, Domain: domain, Key: key})
}

// Shutdown enqueues a shutdown meta-message on every known domain and
// waits for each worker to terminate, then stops the liveness sweep.
// Cooperative: each worker finishes its in-flight cycle first, per spec
// §5 "global shutdown is cooperative."
func (s *Store) Shutdown() {
	domains := s.snapshotLive()

	var wg sync.WaitGroup
	for _, d := range domains {
		wg.Add(1)
		go func(d *Domain) {
			defer wg.Done()
			done := make(chan struct{})
			if d.enqueue(metaMessage{kind: metaShutdown, done: done}) {
				<-done
			}
		}(d)
	}
	wg.Wait()

	close(s.stop)
	s.sweepWG.Wait()
}
