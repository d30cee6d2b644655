package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/mahaj/chatkit/pkg/auth"
	"github.com/mahaj/chatkit/pkg/blob"
	"github.com/mahaj/chatkit/pkg/model"
	"github.com/mahaj/chatkit/pkg/transport"
)

// fakeRealtime hands out one fakeChannel per room id and remembers them
// for inspection.
type fakeRealtime struct {
	mu       sync.Mutex
	channels map[string]*fakeChannel
}

func newFakeRealtime() *fakeRealtime {
	return &fakeRealtime{channels: make(map[string]*fakeChannel)}
}

func (f *fakeRealtime) Channel(roomID string) transport.Channel {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ch, ok := f.channels[roomID]; ok {
		return ch
	}
	ch := &fakeChannel{roomID: roomID}
	f.channels[roomID] = ch
	return ch
}

func (f *fakeRealtime) channel(roomID string) *fakeChannel {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.channels[roomID]
}

type published struct {
	kind    model.EventKind
	payload any
}

type fakeChannel struct {
	roomID string

	mu           sync.Mutex
	handlers     []func(model.Event)
	subscribed   bool
	unsubscribed bool

	backlog     []model.Event
	backlogErr  error
	backlogGate chan struct{} // when non-nil, Messages blocks until closed

	published  []published
	publishErr error
}

func (c *fakeChannel) Subscribe(ctx context.Context, opts transport.SubscribeOptions) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribed = true
	return nil
}

func (c *fakeChannel) Messages(ctx context.Context, limit int) ([]model.Event, error) {
	c.mu.Lock()
	gate := c.backlogGate
	c.mu.Unlock()
	if gate != nil {
		<-gate
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.backlogErr != nil {
		return nil, c.backlogErr
	}
	out := make([]model.Event, len(c.backlog))
	copy(out, c.backlog)
	return out, nil
}

func (c *fakeChannel) OnMessage(fn func(model.Event)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, fn)
}

func (c *fakeChannel) Publish(ctx context.Context, kind model.EventKind, payload any, opts transport.PublishOptions) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.publishErr != nil {
		return c.publishErr
	}
	c.published = append(c.published, published{kind: kind, payload: payload})
	return nil
}

func (c *fakeChannel) Unsubscribe() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unsubscribed = true
	return nil
}

// push delivers one live event to every registered handler.
func (c *fakeChannel) push(ev model.Event) {
	c.mu.Lock()
	handlers := make([]func(model.Event), len(c.handlers))
	copy(handlers, c.handlers)
	c.mu.Unlock()
	for _, fn := range handlers {
		fn(ev)
	}
}

func (c *fakeChannel) isSubscribed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscribed
}

func (c *fakeChannel) isUnsubscribed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unsubscribed
}

func (c *fakeChannel) publishedEvents() []published {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]published, len(c.published))
	copy(out, c.published)
	return out
}

func chatEvent(id, userID, content string, ts time.Time) model.Event {
	ev, _ := model.NewEvent(model.KindChat, "", userID, model.Metadata{DisplayName: userID}, model.ChatData{Content: content})
	ev.ID = id
	ev.Timestamp = ts
	return ev
}

func typingEvent(userID, name, state string) model.Event {
	ev, _ := model.NewEvent(model.KindTyping, "", userID, model.Metadata{DisplayName: name}, model.TypingData{State: state})
	return ev
}

func newTestManager(t *testing.T, rt transport.Realtime, store blob.Store) *Manager {
	t.Helper()
	mgr := NewManager(context.Background(), Config{
		Realtime:       rt,
		Blob:           store,
		Logger:         zerolog.Nop(),
		TypingDebounce: 25 * time.Millisecond,
		TypingExpiry:   50 * time.Millisecond,
	})
	t.Cleanup(mgr.Close)
	return mgr
}

func signIn(mgr *Manager, userID string) {
	mgr.HandleAuthState(auth.State{User: &model.User{ID: userID, DisplayName: userID}})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestNoSubscriptionWithoutRoomOrUser(t *testing.T) {
	rt := newFakeRealtime()
	mgr := newTestManager(t, rt, nil)

	signIn(mgr, "alice")
	if mgr.Active() != nil {
		t.Fatal("no room selected, expected no session")
	}

	mgr2 := newTestManager(t, rt, nil)
	mgr2.SelectChannel("general")
	if mgr2.Active() != nil {
		t.Fatal("no user yet, expected no session")
	}

	// Loading states are ignored outright.
	mgr2.HandleAuthState(auth.State{IsLoading: true})
	if mgr2.Active() != nil {
		t.Fatal("loading state should not open a session")
	}
}

func TestSubscribeWhenUserAndRoomPresent(t *testing.T) {
	rt := newFakeRealtime()
	mgr := newTestManager(t, rt, nil)

	signIn(mgr, "alice")
	mgr.SelectChannel("general")

	r := mgr.Active()
	if r == nil {
		t.Fatal("expected an active session")
	}
	if r.ID() != "channel-general" {
		t.Fatalf("unexpected room id %q", r.ID())
	}
	if r.Phase() != Live {
		t.Fatalf("expected live phase, got %v", r.Phase())
	}
	if ch := rt.channel("channel-general"); ch == nil || !ch.isSubscribed() {
		t.Fatal("transport channel not subscribed")
	}
}

func TestLiveDeduplication(t *testing.T) {
	rt := newFakeRealtime()
	mgr := newTestManager(t, rt, nil)
	signIn(mgr, "alice")
	mgr.SelectChannel("general")

	r := mgr.Active()
	ch := rt.channel("channel-general")
	waitFor(t, "live phase", func() bool { return r.Phase() == Live })

	ev := chatEvent("m1", "bob", "hello", time.Now())
	ch.push(ev)
	ch.push(ev) // transport re-delivery

	waitFor(t, "first delivery", func() bool { return len(r.Transcript()) >= 1 })
	time.Sleep(20 * time.Millisecond)
	if got := len(r.Transcript()); got != 1 {
		t.Fatalf("expected exactly one message, got %d", got)
	}
}

func TestBacklogMergeKeepsOrderAndDedups(t *testing.T) {
	rt := newFakeRealtime()
	mgr := newTestManager(t, rt, nil)

	base := time.Now().Add(-time.Hour)
	gate := make(chan struct{})
	pre := &fakeChannel{roomID: "channel-general", backlogGate: gate}
	pre.backlog = []model.Event{
		chatEvent("m1", "bob", "first", base),
		chatEvent("m2", "bob", "second", base.Add(time.Minute)),
	}
	rt.channels["channel-general"] = pre

	signIn(mgr, "alice")
	mgr.SelectChannel("general")
	r := mgr.Active()

	// A live event races ahead of the backlog, duplicating m2.
	pre.push(chatEvent("m2", "bob", "second", base.Add(time.Minute)))
	pre.push(chatEvent("m3", "bob", "third", base.Add(2*time.Minute)))
	close(gate)

	waitFor(t, "backlog merge", func() bool { return len(r.Transcript()) == 3 })
	got := r.Transcript()
	for i, want := range []string{"m1", "m2", "m3"} {
		if got[i].ID != want {
			t.Fatalf("position %d: expected %s, got %s", i, want, got[i].ID)
		}
	}
}

func TestBacklogFailureFallsBackToWelcome(t *testing.T) {
	rt := newFakeRealtime()
	pre := &fakeChannel{roomID: "channel-general", backlogErr: errors.New("boom")}
	rt.channels["channel-general"] = pre

	mgr := newTestManager(t, rt, nil)
	signIn(mgr, "alice")
	mgr.SelectChannel("general")
	r := mgr.Active()

	waitFor(t, "welcome fallback", func() bool { return len(r.Transcript()) == 1 })
	msg := r.Transcript()[0]
	if msg.Author.Name != "system" {
		t.Fatalf("expected system-authored welcome, got author %q", msg.Author.Name)
	}
}

func TestRoomSwitchDropsInFlightBacklog(t *testing.T) {
	rt := newFakeRealtime()
	gate := make(chan struct{})
	stale := &fakeChannel{roomID: "channel-one", backlogGate: gate}
	stale.backlog = []model.Event{chatEvent("old", "bob", "stale history", time.Now())}
	rt.channels["channel-one"] = stale

	mgr := newTestManager(t, rt, nil)
	signIn(mgr, "alice")
	mgr.SelectChannel("one")
	first := mgr.Active()

	mgr.SelectChannel("two")
	second := mgr.Active()
	if second == nil || second.ID() != "channel-two" {
		t.Fatal("expected session for channel-two")
	}
	if !stale.isUnsubscribed() {
		t.Fatal("old subscription should be released on switch")
	}

	// The old room's backlog lands only now.
	close(gate)
	time.Sleep(30 * time.Millisecond)

	if got := len(second.Transcript()); got != 0 {
		t.Fatalf("stale backlog leaked into new room: %d messages", got)
	}
	if got := len(first.Transcript()); got != 0 {
		t.Fatalf("closed session should hold nothing, got %d", got)
	}
}

func TestCloseWithBacklogStillInFlight(t *testing.T) {
	rt := newFakeRealtime()
	gate := make(chan struct{})
	pre := &fakeChannel{roomID: "channel-general", backlogGate: gate}
	pre.backlog = []model.Event{chatEvent("m1", "bob", "hi", time.Now())}
	rt.channels["channel-general"] = pre

	mgr := newTestManager(t, rt, nil)
	signIn(mgr, "alice")
	mgr.SelectChannel("general")
	r := mgr.Active()

	// Teardown lands while the backlog goroutine is still out.
	mgr.Close()
	close(gate)
	time.Sleep(30 * time.Millisecond)

	if got := len(r.Transcript()); got != 0 {
		t.Fatalf("late backlog must not revive a closed session, got %d messages", got)
	}
	if r.Phase() != Unsubscribed {
		t.Fatalf("expected unsubscribed phase, got %v", r.Phase())
	}
}

func TestForeignRoomEventsStayOut(t *testing.T) {
	rt := newFakeRealtime()
	mgr := newTestManager(t, rt, nil)
	signIn(mgr, "alice")
	mgr.SelectChannel("general")
	r := mgr.Active()
	ch := rt.channel("channel-general")

	// A DM frame routed through this connection while alice views the
	// channel.
	dm := chatEvent("d1", "bob", "private dm", time.Now())
	dm.RoomID = "dm-alice-bob"
	ch.push(dm)

	foreignTyping := typingEvent("bob", "Bob", model.TypingStart)
	foreignTyping.RoomID = "dm-alice-bob"
	ch.push(foreignTyping)

	time.Sleep(20 * time.Millisecond)
	if got := len(r.Transcript()); got != 0 {
		t.Fatalf("foreign-room chat leaked into the transcript: %d messages", got)
	}
	if got := r.Typing(); len(got) != 0 {
		t.Fatalf("foreign-room typing leaked into the roster: %v", got)
	}

	// Frames for this room, tagged or untagged, still land.
	own := chatEvent("c1", "bob", "hello", time.Now())
	own.RoomID = "channel-general"
	ch.push(own)
	ch.push(chatEvent("c2", "bob", "again", time.Now()))

	waitFor(t, "same-room delivery", func() bool { return len(r.Transcript()) == 2 })
}

func TestTeardownClearsState(t *testing.T) {
	rt := newFakeRealtime()
	mgr := newTestManager(t, rt, nil)
	signIn(mgr, "alice")
	mgr.SelectChannel("general")
	r := mgr.Active()
	ch := rt.channel("channel-general")

	ch.push(chatEvent("m1", "bob", "hello", time.Now()))
	ch.push(typingEvent("bob", "Bob", model.TypingStart))
	waitFor(t, "message and typing", func() bool {
		return len(r.Transcript()) >= 1 && len(r.Typing()) == 1
	})
	r.Composer().SetInput("draft")

	mgr.Close()

	if len(r.Transcript()) != 0 {
		t.Fatal("transcript should be cleared on teardown")
	}
	if len(r.Typing()) != 0 {
		t.Fatal("typing state should be cleared on teardown")
	}
	if r.Composer().Input() != "" {
		t.Fatal("composer input should be cleared on teardown")
	}
	if !ch.isUnsubscribed() {
		t.Fatal("subscription should be released on teardown")
	}
	if r.Phase() != Unsubscribed {
		t.Fatalf("expected unsubscribed phase, got %v", r.Phase())
	}
}

func TestReceivedTypingRoster(t *testing.T) {
	rt := newFakeRealtime()
	mgr := newTestManager(t, rt, nil)
	signIn(mgr, "alice")
	mgr.SelectChannel("general")
	r := mgr.Active()
	ch := rt.channel("channel-general")

	ch.push(typingEvent("bob", "Bob", model.TypingStart))
	waitFor(t, "bob typing", func() bool { return len(r.Typing()) == 1 })

	// Own typing echoes never show.
	ch.push(typingEvent("alice", "alice", model.TypingStart))
	time.Sleep(10 * time.Millisecond)
	if got := r.Typing(); len(got) != 1 || got[0] != "Bob" {
		t.Fatalf("unexpected roster %v", got)
	}

	// Explicit stop removes immediately.
	ch.push(typingEvent("bob", "Bob", model.TypingStop))
	waitFor(t, "bob stopped", func() bool { return len(r.Typing()) == 0 })
}

func TestTypingAutoExpiry(t *testing.T) {
	rt := newFakeRealtime()
	mgr := newTestManager(t, rt, nil)
	signIn(mgr, "alice")
	mgr.SelectChannel("general")
	r := mgr.Active()
	ch := rt.channel("channel-general")

	// A start with no stop: the peer may have disconnected mid-type.
	ch.push(typingEvent("bob", "Bob", model.TypingStart))
	waitFor(t, "bob typing", func() bool { return len(r.Typing()) == 1 })
	waitFor(t, "auto expiry", func() bool { return len(r.Typing()) == 0 })
}
