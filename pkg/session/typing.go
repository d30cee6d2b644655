package session

import (
	"strings"
	"sync"
	"time"

	"github.com/mahaj/chatkit/pkg/model"
)

// Debouncer collapses a burst of composer keystrokes into one typing start
// signal followed by exactly one stop signal sent after the burst ends.
type Debouncer struct {
	delay   time.Duration
	publish func(state string)

	mu    sync.Mutex
	timer *time.Timer
	gen   uint64 // bumped on every arm/disarm so a stale fire aborts
}

func NewDebouncer(delay time.Duration, publish func(state string)) *Debouncer {
	return &Debouncer{delay: delay, publish: publish}
}

// Keystroke records one composer keystroke. The first keystroke of a burst
// publishes a start signal; every keystroke re-arms the single stop timer.
func (d *Debouncer) Keystroke() {
	d.mu.Lock()
	armed := d.timer != nil
	if armed {
		d.timer.Stop()
	}
	d.gen++
	gen := d.gen
	d.timer = time.AfterFunc(d.delay, func() { d.fire(gen) })
	d.mu.Unlock()

	if !armed {
		d.publish(model.TypingStart)
	}
}

// fire publishes the stop unless the timer that scheduled it was disarmed
// or replaced after the callback was already on its way.
func (d *Debouncer) fire(gen uint64) {
	d.mu.Lock()
	if gen != d.gen || d.timer == nil {
		d.mu.Unlock()
		return
	}
	d.timer = nil
	d.mu.Unlock()
	d.publish(model.TypingStop)
}

// Flush forces the stop signal out immediately if a start is outstanding.
// Sending a message implicitly ends typing.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	armed := d.timer != nil
	if armed {
		d.timer.Stop()
		d.timer = nil
		d.gen++
	}
	d.mu.Unlock()

	if armed {
		d.publish(model.TypingStop)
	}
}

// Cancel disarms the timer without publishing anything. Used on teardown so
// the timer cannot fire against released state.
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
		d.gen++
	}
	d.mu.Unlock()
}

// roster is the receive side of typing indicators: the display names
// currently typing in the room, each with an independent expiry so a peer
// that disconnects mid-type still disappears.
type roster struct {
	expiry   time.Duration
	onChange func()

	mu     sync.Mutex
	order  []string
	timers map[string]*time.Timer
}

func newRoster(expiry time.Duration, onChange func()) *roster {
	return &roster{
		expiry:   expiry,
		onChange: onChange,
		timers:   make(map[string]*time.Timer),
	}
}

func (r *roster) start(name string) {
	r.mu.Lock()
	if t, ok := r.timers[name]; ok {
		t.Stop()
	} else {
		r.order = append(r.order, name)
	}
	r.timers[name] = time.AfterFunc(r.expiry, func() { r.stop(name) })
	r.mu.Unlock()

	if r.onChange != nil {
		r.onChange()
	}
}

func (r *roster) stop(name string) {
	r.mu.Lock()
	t, ok := r.timers[name]
	if !ok {
		r.mu.Unlock()
		return
	}
	t.Stop()
	delete(r.timers, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.mu.Unlock()

	if r.onChange != nil {
		r.onChange()
	}
}

func (r *roster) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// clear stops every expiry timer and empties the roster without notifying.
func (r *roster) clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.timers {
		t.Stop()
	}
	r.timers = make(map[string]*time.Timer)
	r.order = nil
}

// TypingText renders the typing roster for display. One name reads
// "name is typing…"; several join with commas and a final "and".
func TypingText(names []string) string {
	switch len(names) {
	case 0:
		return ""
	case 1:
		return names[0] + " is typing…"
	default:
		head := strings.Join(names[:len(names)-1], ", ")
		return head + " and " + names[len(names)-1] + " are typing…"
	}
}
