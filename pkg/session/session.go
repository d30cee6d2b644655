// Package session turns the realtime event stream into a consistent,
// de-duplicated, chronologically grouped transcript, coordinated with
// optimistic local sends, typing-indicator debouncing, and attachment
// staging. All hard delivery work belongs to the transport; everything here
// is client state management.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mahaj/chatkit/pkg/auth"
	"github.com/mahaj/chatkit/pkg/blob"
	"github.com/mahaj/chatkit/pkg/model"
	"github.com/mahaj/chatkit/pkg/room"
	"github.com/mahaj/chatkit/pkg/transport"
)

// Phase is the subscription state of a room session.
type Phase int

const (
	Unsubscribed Phase = iota
	Subscribing
	Live
)

func (p Phase) String() string {
	switch p {
	case Subscribing:
		return "subscribing"
	case Live:
		return "live"
	default:
		return "unsubscribed"
	}
}

const (
	DefaultBacklogLimit   = 50
	DefaultTypingDebounce = 1000 * time.Millisecond
	DefaultTypingExpiry   = 3000 * time.Millisecond
	DefaultNotifyDismiss  = 4000 * time.Millisecond
)

// Config wires a session to its collaborators. Zero durations and limits
// take the defaults above; tests shorten them.
type Config struct {
	Realtime transport.Realtime
	Blob     blob.Store
	Logger   zerolog.Logger

	BacklogLimit   int
	TypingDebounce time.Duration
	TypingExpiry   time.Duration

	// OnChange, when set, is invoked after every observable state change.
	// The UI uses it as its render hook.
	OnChange func()
}

func (c Config) withDefaults() Config {
	if c.BacklogLimit <= 0 {
		c.BacklogLimit = DefaultBacklogLimit
	}
	if c.TypingDebounce <= 0 {
		c.TypingDebounce = DefaultTypingDebounce
	}
	if c.TypingExpiry <= 0 {
		c.TypingExpiry = DefaultTypingExpiry
	}
	return c
}

// Room is one room's live session: the held transcript, the typing roster,
// and the composer. A Room is created subscribed and is single-use; room
// switches close it and open a fresh one, so late results from a closed
// room can never leak into the next one.
type Room struct {
	cfg  Config
	self model.User
	id   string

	mu       sync.Mutex
	phase    Phase
	ch       transport.Channel
	messages []model.Message
	seen     map[string]struct{}
	closed   bool

	typing   *roster
	composer *Composer
}

func openRoom(ctx context.Context, cfg Config, self model.User, roomID string) (*Room, error) {
	r := &Room{
		cfg:   cfg,
		self:  self,
		id:    roomID,
		phase: Subscribing,
		seen:  make(map[string]struct{}),
	}
	r.typing = newRoster(cfg.TypingExpiry, r.notifyChange)
	r.composer = newComposer(r)

	ch := cfg.Realtime.Channel(roomID)
	ch.OnMessage(r.intake)
	if err := ch.Subscribe(ctx, transport.SubscribeOptions{UserID: self.ID, Metadata: self.Meta()}); err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.ch = ch
	r.phase = Live
	r.mu.Unlock()

	go r.fetchBacklog(ctx)
	return r, nil
}

func (r *Room) ID() string { return r.id }

func (r *Room) Phase() Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

// Transcript returns a copy of the held message sequence, oldest first.
func (r *Room) Transcript() []model.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Message, len(r.messages))
	copy(out, r.messages)
	return out
}

// Typing returns the display names currently typing, excluding the session
// user.
func (r *Room) Typing() []string { return r.typing.names() }

// TypingText renders the typing roster for display.
func (r *Room) TypingText() string { return TypingText(r.typing.names()) }

// Composer returns the room's composer.
func (r *Room) Composer() *Composer { return r.composer }

// intake handles one live event. Chat events append to the transcript with
// an id-dedup check; duplicate delivery from the transport or overlap with
// a local echo is discarded. Typing events only touch the roster.
func (r *Room) intake(ev model.Event) {
	// The gateway routes DM events to every connection of both
	// participants, so a frame tagged for another room can arrive here.
	// It must never touch this room's transcript or roster.
	if ev.RoomID != "" && ev.RoomID != r.id {
		return
	}

	switch ev.Type {
	case model.KindChat:
		msg, err := model.MessageFromEvent(ev, r.self.ID)
		if err != nil {
			r.cfg.Logger.Warn().Err(err).Msg("dropping undecodable chat event")
			return
		}
		if r.append(msg) {
			r.notifyChange()
		}

	case model.KindTyping:
		if ev.UserID == r.self.ID {
			return
		}
		data, err := ev.TypingData()
		if err != nil {
			r.cfg.Logger.Warn().Err(err).Msg("dropping undecodable typing event")
			return
		}
		name := ev.Metadata.DisplayName
		if name == "" {
			name = ev.UserID
		}
		if data.State == model.TypingStop {
			r.typing.stop(name)
		} else {
			r.typing.start(name)
		}
	}
}

// append adds one message unless the room is closed or the id was already
// seen. Reports whether the transcript changed.
func (r *Room) append(msg model.Message) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	if _, dup := r.seen[msg.ID]; dup {
		return false
	}
	r.seen[msg.ID] = struct{}{}
	r.messages = append(r.messages, msg)
	return true
}

// fetchBacklog runs once per session. The session it was issued for is its
// tag: a backlog landing after Close is dropped, so a room switch cannot
// inject the old room's history into the new view.
func (r *Room) fetchBacklog(ctx context.Context) {
	r.mu.Lock()
	ch := r.ch
	if r.closed || ch == nil {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	events, err := ch.Messages(ctx, r.cfg.BacklogLimit)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}

	if err != nil {
		r.cfg.Logger.Warn().Err(err).Str("room_id", r.id).Msg("backlog fetch failed, using welcome fallback")
		if len(r.messages) == 0 {
			w := welcomeMessage()
			r.seen[w.ID] = struct{}{}
			r.messages = []model.Message{w}
		}
		r.mu.Unlock()
		r.notifyChange()
		return
	}

	// Backlog first, then any live messages that raced ahead of it and
	// are not already in the backlog.
	merged := make([]model.Message, 0, len(events)+len(r.messages))
	seen := make(map[string]struct{}, len(events)+len(r.messages))
	for _, ev := range events {
		if ev.Type != model.KindChat {
			continue
		}
		msg, err := model.MessageFromEvent(ev, r.self.ID)
		if err != nil {
			continue
		}
		if _, dup := seen[msg.ID]; dup {
			continue
		}
		seen[msg.ID] = struct{}{}
		merged = append(merged, msg)
	}
	for _, msg := range r.messages {
		if _, dup := seen[msg.ID]; dup {
			continue
		}
		seen[msg.ID] = struct{}{}
		merged = append(merged, msg)
	}
	r.messages = merged
	r.seen = seen
	r.mu.Unlock()
	r.notifyChange()
}

func welcomeMessage() model.Message {
	return model.Message{
		ID:        "welcome",
		Content:   "Welcome! Messages sent in this room will appear here.",
		Author:    model.Author{Name: "system"},
		Timestamp: time.Now(),
	}
}

func (r *Room) publishTyping(state string) {
	r.mu.Lock()
	ch := r.ch
	closed := r.closed
	r.mu.Unlock()
	if closed || ch == nil {
		return
	}
	err := ch.Publish(context.Background(), model.KindTyping, model.TypingData{State: state},
		transport.PublishOptions{UserID: r.self.ID, Metadata: r.self.Meta()})
	if err != nil {
		r.cfg.Logger.Debug().Err(err).Msg("typing publish failed")
	}
}

func (r *Room) notifyChange() {
	if r.cfg.OnChange != nil {
		r.cfg.OnChange()
	}
}

// Close tears the session down: the subscription is released and the
// transcript, attachment stage, and typing state are cleared so nothing
// stale survives into the next room. Idempotent.
func (r *Room) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.phase = Unsubscribed
	ch := r.ch
	r.ch = nil
	r.messages = nil
	r.seen = make(map[string]struct{})
	r.mu.Unlock()

	r.composer.reset()
	r.typing.clear()
	if ch != nil {
		if err := ch.Unsubscribe(); err != nil {
			r.cfg.Logger.Debug().Err(err).Str("room_id", r.id).Msg("unsubscribe failed")
		}
	}
}

// Manager owns the one active room session of a transcript view. It reacts
// to auth-state changes and room selection, opening a session when both a
// user identity and a target room exist and replacing it (old one torn
// down first) on every room change.
type Manager struct {
	cfg Config
	ctx context.Context

	mu     sync.Mutex
	user   *model.User
	sel    room.Selection
	active *Room
}

func NewManager(ctx context.Context, cfg Config) *Manager {
	return &Manager{cfg: cfg.withDefaults(), ctx: ctx}
}

// HandleAuthState is wired to auth.Watcher.OnAuthStateChanged.
func (m *Manager) HandleAuthState(st auth.State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st.IsLoading {
		return
	}
	m.user = st.User
	m.reconcile()
}

// SelectChannel targets a named channel, clearing any DM selection.
func (m *Manager) SelectChannel(channelID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sel.SetChannel(channelID)
	m.reconcile()
}

// SelectDM targets the direct-message pair with peerID, clearing any
// channel selection.
func (m *Manager) SelectDM(peerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sel.SetDMPeer(peerID)
	m.reconcile()
}

// Active returns the current room session, nil when unsubscribed.
func (m *Manager) Active() *Room {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Close tears down the active session.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != nil {
		m.active.Close()
		m.active = nil
	}
}

// reconcile opens or replaces the session to match (user, selection).
// Caller holds m.mu.
func (m *Manager) reconcile() {
	var target string
	if m.user != nil {
		target, _ = room.Resolve(m.user.ID, m.sel)
	}

	if m.active != nil && m.active.id == target && m.user != nil && m.active.self.ID == m.user.ID {
		return
	}
	if m.active != nil {
		m.active.Close()
		m.active = nil
	}
	if target == "" {
		return
	}

	r, err := openRoom(m.ctx, m.cfg, *m.user, target)
	if err != nil {
		m.cfg.Logger.Error().Err(err).Str("room_id", target).Msg("subscribe failed")
		return
	}
	m.active = r
	m.cfg.Logger.Info().Str("room_id", target).Msg("room subscribed")
}
