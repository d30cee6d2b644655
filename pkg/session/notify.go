package session

import (
	"sync"
	"time"
)

// Notification is one transient notice shown to the user.
type Notification struct {
	ID   int
	Text string
	At   time.Time
}

// Notifier holds the visible notifications, each with its own auto-dismiss
// timer.
type Notifier struct {
	ttl      time.Duration
	onChange func()

	mu      sync.Mutex
	seq     int
	entries []Notification
	timers  map[int]*time.Timer
}

func NewNotifier(ttl time.Duration, onChange func()) *Notifier {
	if ttl <= 0 {
		ttl = DefaultNotifyDismiss
	}
	return &Notifier{ttl: ttl, onChange: onChange, timers: make(map[int]*time.Timer)}
}

// Push adds a notification and arms its dismiss timer. Returns the id.
func (n *Notifier) Push(text string) int {
	n.mu.Lock()
	n.seq++
	id := n.seq
	n.entries = append(n.entries, Notification{ID: id, Text: text, At: time.Now()})
	n.timers[id] = time.AfterFunc(n.ttl, func() { n.Dismiss(id) })
	n.mu.Unlock()

	if n.onChange != nil {
		n.onChange()
	}
	return id
}

// Dismiss removes one notification early or on timer expiry.
func (n *Notifier) Dismiss(id int) {
	n.mu.Lock()
	t, ok := n.timers[id]
	if !ok {
		n.mu.Unlock()
		return
	}
	t.Stop()
	delete(n.timers, id)
	for i, e := range n.entries {
		if e.ID == id {
			n.entries = append(n.entries[:i], n.entries[i+1:]...)
			break
		}
	}
	n.mu.Unlock()

	if n.onChange != nil {
		n.onChange()
	}
}

// Active returns the visible notifications, oldest first.
func (n *Notifier) Active() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Notification, len(n.entries))
	copy(out, n.entries)
	return out
}

// Close stops every dismiss timer. Notifications disappear silently.
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, t := range n.timers {
		t.Stop()
	}
	n.timers = make(map[int]*time.Timer)
	n.entries = nil
}
