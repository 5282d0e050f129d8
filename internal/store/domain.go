package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/calfeld/heron/internal/monitoring"
	"github.com/calfeld/heron/internal/protocol"
	"github.com/calfeld/heron/internal/push"
)

// metaKind enumerates the work_queue entry shapes a domain worker
// consumes, per spec §4.3's state machine.
type metaKind int

const (
	metaSubscribe metaKind = iota
	metaUnsubscribe
	metaMessages
	metaCheckClients
	metaShutdown
)

// origin identifies who a batch of messages came from. A client origin
// is excluded from the resulting broadcast; a server origin (isServer)
// excludes no one.
type origin struct {
	clientID string
	isServer bool
}

// metaMessage is one entry of a domain's work_queue.
type metaMessage struct {
	kind     metaKind
	clientID string // subscribe / unsubscribe
	from     origin // messages
	messages []protocol.Message
	done     chan struct{} // shutdown: closed once the worker has exited
}

// Domain is Component C's DomainState: one single-threaded worker per
// subscribed-to domain, exactly as the teacher dedicates one goroutine
// per shard in ws/server.go. Everything below this point in a Domain's
// lifetime runs exclusively on domain.run's goroutine; other goroutines
// touch only workQueue, done, and terminated (under mu).
type Domain struct {
	name  string
	store *domainStore

	entries    map[string]entry // in-memory mirror of the durable map
	subscribers map[string]struct{}

	workQueue chan metaMessage
	done      chan struct{} // closed when the worker goroutine returns

	mu         sync.Mutex // guards terminated; shared critical section with enqueue
	terminated bool       // set by run() the instant it commits to exiting

	push    *push.Push
	hooks   push.Hooks
	metrics *monitoring.Metrics
	logger  zerolog.Logger
}

// newDomain opens the domain's durable store, loads its snapshot into
// memory, and returns a Domain ready to have its worker started.
func newDomain(name, dbDir string, p *push.Push, hooks push.Hooks, metrics *monitoring.Metrics, logger zerolog.Logger) (*Domain, error) {
	ds, err := openDomainStore(dbDir, name)
	if err != nil {
		return nil, err
	}
	entries, err := ds.snapshot(context.Background())
	if err != nil {
		ds.close()
		return nil, err
	}

	return &Domain{
		name:        name,
		store:       ds,
		entries:     entries,
		subscribers: make(map[string]struct{}),
		workQueue:   make(chan metaMessage, 256),
		done:        make(chan struct{}),
		push:        p,
		hooks:       hooks,
		metrics:     metrics,
		logger:      logger.With().Str("domain", name).Logger(),
	}, nil
}

// enqueue submits m to the domain's work_queue. mu makes this atomic
// with run's termination decision (worker.go): if the worker has
// already committed to exiting, enqueue fails rather than placing m in
// a channel nobody will ever drain again. The caller (Store Core)
// lazily re-creates the domain and retries, per spec §9's "dispatchers
// must atomically create-if-absent-or-dead, enqueue".
func (d *Domain) enqueue(m metaMessage) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.terminated {
		return false
	}
	d.workQueue <- m
	return true
}

// isTerminated reports whether this domain's worker has committed to
// exiting. Store Core treats a terminated domain the same as one it
// has never seen, per getOrCreate's "create-if-absent-or-dead" check.
func (d *Domain) isTerminated() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.terminated
}

// handle processes one work_queue entry and reports whether the domain
// should terminate afterward (subscribers became empty, or shutdown).
func (d *Domain) handle(m metaMessage) (terminate bool) {
	switch m.kind {
	case metaSubscribe:
		d.handleSubscribe(m.clientID)
	case metaUnsubscribe:
		d.handleUnsubscribe(m.clientID)
	case metaMessages:
		d.handleMessages(m.from, m.messages)
	case metaCheckClients:
		d.handleCheckClients()
	case metaShutdown:
		return true
	}
	return len(d.subscribers) == 0
}

// handleSubscribe implements spec §4.3's replay-on-subscribe: the new
// subscriber receives every persisted key as a synthetic create,
// followed by _clients and _synced meta-keys; other subscribers are
// then told about the newcomer via a broadcast _subscribe.
func (d *Domain) handleSubscribe(clientID string) {
	d.subscribers[clientID] = struct{}{}
	d.hooks.OnSubscribe(clientID, d.name)

	keys := make([]string, 0, len(d.entries))
	for k := range d.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	batch := make([]protocol.Message, 0, len(keys)+2)
	for _, k := range keys {
		e := d.entries[k]
		batch = append(batch, protocol.Message{
			Command: protocol.Create, Domain: d.name, Key: k, Value: e.value, Version: e.version,
		})
	}

	clientIDs := make([]string, 0, len(d.subscribers))
	for id := range d.subscribers {
		clientIDs = append(clientIDs, id)
	}
	sort.Strings(clientIDs)
	clientsJSON, _ := json.Marshal(clientIDs)

	batch = append(batch,
		protocol.Message{Command: protocol.Create, Domain: d.name, Key: protocol.KeyClients, Value: string(clientsJSON)},
		protocol.Message{Command: protocol.Create, Domain: d.name, Key: protocol.KeySynced, Value: "true"},
	)

	d.deliverOne(clientID, batch)

	d.broadcast(origin{clientID: clientID}, []protocol.Message{
		{Command: protocol.Create, Domain: d.name, Key: protocol.KeySubscribe, Value: clientID},
	})
}

// handleUnsubscribe removes clientID and tells the remaining
// subscribers via a broadcast _unsubscribe.
func (d *Domain) handleUnsubscribe(clientID string) {
	if _, ok := d.subscribers[clientID]; !ok {
		return
	}
	delete(d.subscribers, clientID)
	d.broadcast(origin{isServer: true}, []protocol.Message{
		{Command: protocol.Create, Domain: d.name, Key: protocol.KeyUnsubscribe, Value: clientID},
	})
}

// handleCheckClients prunes subscribers the push layer no longer knows
// about (disconnected without an explicit unsubscribe), per spec
// §4.3's periodic liveness sweep. Silent: no notification is broadcast
// for a prune discovered this way.
func (d *Domain) handleCheckClients() {
	for id := range d.subscribers {
		if !d.push.Present(id) {
			delete(d.subscribers, id)
		}
	}
}

// handleMessages validates and applies a client- or server-originated
// batch in order, per spec §4.3's apply algorithm: ephemeral keys
// (protocol.IsEphemeral) bypass persistence and collision checks
// entirely; everything else is checked against d.entries (which also
// reflects earlier messages from the same batch) and, if accepted,
// staged for one transactional write. Accepted messages are broadcast
// to every subscriber but the originator.
func (d *Domain) handleMessages(from origin, messages []protocol.Message) {
	accepted := make([]protocol.Message, 0, len(messages))
	var ops []persistOp

	for _, msg := range messages {
		if err := msg.Validate(); err != nil {
			d.reject(err, "malformed_message")
			continue
		}

		if protocol.IsEphemeral(msg.Key) {
			accepted = append(accepted, msg)
			continue
		}

		switch msg.Command {
		case protocol.Create:
			if msg.Value == "" || msg.Version == "" {
				d.reject(&protocol.Error{Kind: protocol.MalformedMessage, Op: "create"}, "malformed_message")
				continue
			}
			if _, exists := d.entries[msg.Key]; exists {
				d.rejectCollision(protocol.CollisionCreate, msg.Key)
				continue
			}
			d.entries[msg.Key] = entry{value: msg.Value, version: msg.Version}
			ops = append(ops, persistOp{kind: opUpsert, key: msg.Key, value: msg.Value, version: msg.Version})
			accepted = append(accepted, msg)

		case protocol.Update:
			if msg.Value == "" || msg.Version == "" || msg.PreviousVersion == "" {
				d.reject(&protocol.Error{Kind: protocol.MalformedMessage, Op: "update"}, "malformed_message")
				continue
			}
			cur, exists := d.entries[msg.Key]
			if !exists || cur.version != msg.PreviousVersion {
				d.rejectCollision(protocol.CollisionUpdate, msg.Key)
				continue
			}
			d.entries[msg.Key] = entry{value: msg.Value, version: msg.Version}
			ops = append(ops, persistOp{kind: opUpsert, key: msg.Key, value: msg.Value, version: msg.Version})
			accepted = append(accepted, msg)

		case protocol.Delete:
			if _, exists := d.entries[msg.Key]; !exists {
				d.rejectCollision(protocol.CollisionDelete, msg.Key)
				continue
			}
			delete(d.entries, msg.Key)
			ops = append(ops, persistOp{kind: opDelete, key: msg.Key})
			accepted = append(accepted, msg)
		}
	}

	if len(ops) > 0 {
		if err := d.store.applyBatch(context.Background(), ops); err != nil {
			d.hooks.OnError("store.applyBatch", err)
		}
	}

	if len(accepted) > 0 {
		if d.metrics != nil {
			d.metrics.MessagesApplied.Add(float64(len(accepted)))
		}
		d.broadcast(from, accepted)
	}
}

func (d *Domain) reject(err error, reason string) {
	d.hooks.OnError("store.validate", err)
	if d.metrics != nil {
		d.metrics.MessagesRejected.WithLabelValues(reason).Inc()
	}
}

func (d *Domain) rejectCollision(kind protocol.Kind, key string) {
	d.hooks.OnCollision(kind, d.name, key)
	if d.metrics != nil {
		d.metrics.MessagesRejected.WithLabelValues(kind.String()).Inc()
	}
}

// broadcast delivers messages to every subscriber except from's client
// (a server origin excludes no one).
func (d *Domain) broadcast(from origin, messages []protocol.Message) {
	for id := range d.subscribers {
		if !from.isServer && id == from.clientID {
			continue
		}
		d.deliverOne(id, messages)
	}
}

// deliverOne marshals messages as a JSON batch and queues it for id.
// If id has already disconnected from the push layer (a race between
// this domain's subscriber set and Registry eviction), it is dropped
// from subscribers and the loss is told to the remaining subscribers
// via a broadcast _unsubscribe, same as an explicit unsubscribe.
func (d *Domain) deliverOne(id string, messages []protocol.Message) {
	payload, err := json.Marshal(messages)
	if err != nil {
		d.hooks.OnError("store.marshal", err)
		return
	}

	if err := d.push.Queue(id, string(payload)); err != nil {
		if protocol.IsKind(err, protocol.UnknownClient) {
			delete(d.subscribers, id)
			if d.metrics != nil {
				d.metrics.BroadcastsLost.Inc()
			}
			d.broadcast(origin{isServer: true}, []protocol.Message{
				{Command: protocol.Create, Domain: d.name, Key: protocol.KeyUnsubscribe, Value: id},
			})
			return
		}
		d.hooks.OnError("push.Queue", err)
		return
	}
	if d.metrics != nil {
		d.metrics.BroadcastsQueued.Inc()
	}
}

// close releases the domain's durable store handle. Called from run's
// deferred cleanup as the worker goroutine exits, before done closes.
func (d *Domain) close() {
	if err := d.store.close(); err != nil {
		d.hooks.OnError("store.close", err)
	}
}
