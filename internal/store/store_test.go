package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/calfeld/heron/internal/protocol"
	"github.com/calfeld/heron/internal/push"
)

type capturingHooks struct {
	mu         sync.Mutex
	collisions []string
}

func (h *capturingHooks) OnConnect(string)                  {}
func (h *capturingHooks) OnDisconnect(string)                {}
func (h *capturingHooks) OnSubscribe(string, string)         {}
func (h *capturingHooks) OnVerbose(string)                   {}
func (h *capturingHooks) OnError(string, error)              {}
func (h *capturingHooks) OnCollision(kind protocol.Kind, domain, key string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.collisions = append(h.collisions, kind.String()+":"+domain+":"+key)
}

func (h *capturingHooks) seen(want string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.collisions {
		if c == want {
			return true
		}
	}
	return false
}

func newTestStore(t *testing.T, hooks push.Hooks) (*Store, *push.Push) {
	t.Helper()
	if hooks == nil {
		hooks = push.NoopHooks{}
	}

	p, err := push.New(push.Config{
		ClientTimeout:  time.Minute,
		ReceiveTimeout: 300 * time.Millisecond,
		Hooks:          push.NoopHooks{},
		HookPoolSize:   2,
		HookQueueSize:  32,
		Logger:         zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("push.New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	p.Start(ctx)
	t.Cleanup(p.Shutdown)

	s := New(Config{
		DBPath:      t.TempDir(),
		CheckPeriod: time.Hour, // long enough to stay out of the way of these tests
		Push:        p,
		Hooks:       hooks,
		Logger:      zerolog.Nop(),
	})
	t.Cleanup(s.Shutdown)

	return s, p
}

func receiveMessages(t *testing.T, p *push.Push, clientID string) []protocol.Message {
	t.Helper()
	payload, ok, err := p.Receive(clientID)
	if err != nil {
		t.Fatalf("Receive(%s): %v", clientID, err)
	}
	if !ok {
		t.Fatalf("Receive(%s): timed out with nothing queued", clientID)
	}
	var msgs []protocol.Message
	if err := json.Unmarshal([]byte(payload), &msgs); err != nil {
		t.Fatalf("unmarshal %q: %v", payload, err)
	}
	return msgs
}

func TestBasicPubSub(t *testing.T) {
	s, p := newTestStore(t, nil)
	p.Connect("alice")

	if err := s.Subscribe("alice", "chat"); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	receiveMessages(t, p, "alice") // replay batch (empty store: just _clients/_synced)

	if err := s.Create("chat", "greeting", "hello", "v1"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	msgs := receiveMessages(t, p, "alice")
	if len(msgs) != 1 || msgs[0].Key != "greeting" || msgs[0].Value != "hello" {
		t.Errorf("unexpected broadcast: %+v", msgs)
	}
}

func TestReplayCompleteness(t *testing.T) {
	s, p := newTestStore(t, nil)
	if err := s.Create("chat", "a", "1", "v1"); err != nil {
		t.Fatal(err)
	}
	if err := s.Create("chat", "b", "2", "v1"); err != nil {
		t.Fatal(err)
	}

	p.Connect("bob")
	if err := s.Subscribe("bob", "chat"); err != nil {
		t.Fatal(err)
	}

	msgs := receiveMessages(t, p, "bob")
	if len(msgs) != 4 {
		t.Fatalf("got %d replay messages, want 4 (a, b, _clients, _synced): %+v", len(msgs), msgs)
	}
	last := msgs[len(msgs)-1]
	if last.Key != protocol.KeySynced || last.Value != "true" {
		t.Errorf("last replay message should be _synced=true, got %+v", last)
	}
}

func TestDomainIsolation(t *testing.T) {
	s, p := newTestStore(t, nil)
	p.Connect("erin")
	if err := s.Subscribe("erin", "roomA"); err != nil {
		t.Fatal(err)
	}
	receiveMessages(t, p, "erin") // drain roomA's replay batch

	if err := s.Create("roomB", "k", "v", "v1"); err != nil {
		t.Fatal(err)
	}

	_, ok, err := p.Receive("erin")
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if ok {
		t.Error("received a broadcast from a domain erin never subscribed to")
	}
}

func TestCreateCollisionIsRejectedNotApplied(t *testing.T) {
	hooks := &capturingHooks{}
	s, p := newTestStore(t, hooks)

	if err := s.Create("chat", "k", "first", "v1"); err != nil {
		t.Fatal(err)
	}
	if err := s.Create("chat", "k", "second", "v2"); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(time.Second)
	for !hooks.seen("collision_create:chat:k") && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if !hooks.seen("collision_create:chat:k") {
		t.Error("expected OnCollision(collision_create, chat, k)")
	}

	p.Connect("dan")
	if err := s.Subscribe("dan", "chat"); err != nil {
		t.Fatal(err)
	}
	msgs := receiveMessages(t, p, "dan")
	for _, m := range msgs {
		if m.Key == "k" && m.Value != "first" {
			t.Errorf("collision create overwrote the original value: got %q want %q", m.Value, "first")
		}
	}
}

func TestUpdateVersionGuard(t *testing.T) {
	hooks := &capturingHooks{}
	s, p := newTestStore(t, hooks)

	if err := s.Create("chat", "k", "v1", "ver1"); err != nil {
		t.Fatal(err)
	}
	// wrong previous_version: must be rejected, not applied
	if err := s.Update("chat", "k", "v2", "ver2", "wrong-prev"); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(time.Second)
	for !hooks.seen("collision_update:chat:k") && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if !hooks.seen("collision_update:chat:k") {
		t.Error("expected OnCollision(collision_update, chat, k)")
	}

	p.Connect("dan")
	if err := s.Subscribe("dan", "chat"); err != nil {
		t.Fatal(err)
	}
	msgs := receiveMessages(t, p, "dan")
	for _, m := range msgs {
		if m.Key == "k" && m.Version != "ver1" {
			t.Errorf("rejected update was applied anyway: %+v", m)
		}
	}
}

func TestRoundTripCreateUpdateDelete(t *testing.T) {
	s, p := newTestStore(t, nil)
	if err := s.Create("notes", "n1", "v1", "ver1"); err != nil {
		t.Fatal(err)
	}
	if err := s.Update("notes", "n1", "v2", "ver2", "ver1"); err != nil {
		t.Fatal(err)
	}

	p.Connect("frank")
	if err := s.Subscribe("frank", "notes"); err != nil {
		t.Fatal(err)
	}
	msgs := receiveMessages(t, p, "frank")
	found := false
	for _, m := range msgs {
		if m.Key == "n1" {
			found = true
			if m.Value != "v2" || m.Version != "ver2" {
				t.Errorf("replay has a stale n1: %+v", m)
			}
		}
	}
	if !found {
		t.Fatal("n1 missing from replay")
	}

	if err := s.Delete("notes", "n1"); err != nil {
		t.Fatal(err)
	}

	p.Connect("grace")
	if err := s.Subscribe("grace", "notes"); err != nil {
		t.Fatal(err)
	}
	msgs = receiveMessages(t, p, "grace")
	for _, m := range msgs {
		if m.Key == "n1" {
			t.Errorf("deleted key reappeared in replay: %+v", m)
		}
	}
}

func TestDisconnectBroadcastsUnsubscribe(t *testing.T) {
	s, p := newTestStore(t, nil)
	p.Connect("henry")
	p.Connect("ivy")

	if err := s.Subscribe("henry", "team"); err != nil {
		t.Fatal(err)
	}
	receiveMessages(t, p, "henry") // henry's own replay, no one else subscribed yet

	if err := s.Subscribe("ivy", "team"); err != nil {
		t.Fatal(err)
	}
	receiveMessages(t, p, "ivy")               // ivy's own replay
	subMsgs := receiveMessages(t, p, "henry")  // the _subscribe broadcast about ivy
	if subMsgs[0].Key != protocol.KeySubscribe || subMsgs[0].Value != "ivy" {
		t.Fatalf("expected a _subscribe=ivy broadcast, got %+v", subMsgs)
	}

	p.Disconnect("ivy")
	s.Disconnected("ivy")

	msgs := receiveMessages(t, p, "henry")
	foundUnsub := false
	for _, m := range msgs {
		if m.Key == protocol.KeyUnsubscribe && m.Value == "ivy" {
			foundUnsub = true
		}
	}
	if !foundUnsub {
		t.Errorf("expected an _unsubscribe=ivy broadcast, got %+v", msgs)
	}
}

func TestMessagesRejectsMalformedJSON(t *testing.T) {
	s, p := newTestStore(t, nil)
	p.Connect("mallory")

	err := s.Messages("mallory", "not json")
	if !protocol.IsKind(err, protocol.MalformedMessage) {
		t.Errorf("Messages() with invalid JSON = %v, want MalformedMessage", err)
	}
}

func TestSubscribeRejectsBadDomainName(t *testing.T) {
	s, _ := newTestStore(t, nil)
	err := s.Subscribe("nancy", "_")
	if !protocol.IsKind(err, protocol.BadDomain) {
		t.Errorf("Subscribe() with a reserved domain name = %v, want BadDomain", err)
	}
}

func TestDomainRecreatesAfterGoingEmpty(t *testing.T) {
	s, p := newTestStore(t, nil)
	p.Connect("ursula")

	if err := s.Subscribe("ursula", "lobby"); err != nil {
		t.Fatal(err)
	}
	receiveMessages(t, p, "ursula") // drain replay

	// ursula leaves; with no other subscriber, lobby's worker
	// terminates itself once this unsubscribe is processed.
	s.Disconnected("ursula")

	// A fresh subscribe to the same domain name must succeed by
	// lazily re-creating the worker, never silently stranding the
	// client even if it raced the previous worker's termination.
	p.Connect("ursula")
	if err := s.Subscribe("ursula", "lobby"); err != nil {
		t.Fatalf("Subscribe after domain went empty: %v", err)
	}
	receiveMessages(t, p, "ursula")
}

// TestConcurrentSubscribeUnsubscribeNeverLosesAClient drives a single
// domain's subscriber set to empty and back up hundreds of times
// concurrently, the exact condition under which a worker's
// termination can race an in-flight enqueue (spec §9). Every
// Subscribe must either succeed or return a real error; it must never
// silently strand a client.
func TestConcurrentSubscribeUnsubscribeNeverLosesAClient(t *testing.T) {
	s, p := newTestStore(t, nil)

	const n = 200
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("client-%d", i)
			p.Connect(id)
			if err := s.Subscribe(id, "hotspot"); err != nil {
				t.Errorf("Subscribe(%s): %v", id, err)
				return
			}
			s.Disconnected(id)
		}(i)
	}
	wg.Wait()
}

func TestValidDomainName(t *testing.T) {
	cases := map[string]bool{
		"chat":       true,
		"chat.room1": true,
		"chat_room":  true,
		"_":          false,
		"chat room":  false,
		"":           false,
	}
	for name, want := range cases {
		if got := ValidDomainName(name); got != want {
			t.Errorf("ValidDomainName(%q) = %v, want %v", name, got, want)
		}
	}
}
