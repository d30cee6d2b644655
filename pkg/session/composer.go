package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mahaj/chatkit/pkg/blob"
	"github.com/mahaj/chatkit/pkg/model"
	"github.com/mahaj/chatkit/pkg/transport"
)

var (
	ErrNothingToSend    = errors.New("session: nothing to send")
	ErrUploadInProgress = errors.New("session: upload in progress")
	ErrNotLive          = errors.New("session: room is not live")
)

// Composer owns outgoing-message construction for one room: the text
// input, the staged attachments, and the send path with its optimistic
// local fallback.
type Composer struct {
	room     *Room
	debounce *Debouncer

	mu      sync.Mutex
	input   string
	stage   []model.FileAttachment
	uploads int
}

func newComposer(r *Room) *Composer {
	c := &Composer{room: r}
	c.debounce = NewDebouncer(r.cfg.TypingDebounce, r.publishTyping)
	return c
}

// SetInput replaces the composer text. Any edit counts as a keystroke for
// the typing indicator.
func (c *Composer) SetInput(text string) {
	c.mu.Lock()
	changed := text != c.input
	c.input = text
	c.mu.Unlock()

	if changed {
		c.debounce.Keystroke()
	}
	c.room.notifyChange()
}

func (c *Composer) Input() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.input
}

// Keystroke feeds the typing debouncer without touching the input, for
// hosts that track text themselves.
func (c *Composer) Keystroke() { c.debounce.Keystroke() }

// Uploading reports whether any upload is still in flight. While true,
// send and attach are disabled.
func (c *Composer) Uploading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.uploads > 0
}

// Stage returns a copy of the staged attachments in completion order.
func (c *Composer) Stage() []model.FileAttachment {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.FileAttachment, len(c.stage))
	copy(out, c.stage)
	return out
}

// RemoveAttachment drops one staged entry by position before send.
func (c *Composer) RemoveAttachment(i int) {
	c.mu.Lock()
	if i >= 0 && i < len(c.stage) {
		c.stage = append(c.stage[:i], c.stage[i+1:]...)
	}
	c.mu.Unlock()
	c.room.notifyChange()
}

// Attach uploads one file to blob storage and stages it on success.
// Concurrent calls are allowed; entries land in completion order. A failed
// upload is logged and leaves the stage unchanged.
func (c *Composer) Attach(ctx context.Context, name, mimeType string, data []byte) error {
	c.mu.Lock()
	c.uploads++
	c.mu.Unlock()
	c.room.notifyChange()

	path := "uploads/" + c.room.id + "/" + uuid.NewString() + "-" + name
	res, err := c.room.cfg.Blob.Upload(ctx, data, path, blob.UploadOptions{Upsert: true, ContentType: mimeType})

	c.mu.Lock()
	c.uploads--
	if err != nil {
		c.mu.Unlock()
		c.room.cfg.Logger.Warn().Err(err).Str("name", name).Msg("attachment upload failed")
		c.room.notifyChange()
		return err
	}
	c.stage = append(c.stage, model.FileAttachment{
		Name:      name,
		URL:       res.PublicURL,
		MimeType:  mimeType,
		SizeBytes: int64(len(data)),
	})
	c.mu.Unlock()
	c.room.notifyChange()
	return nil
}

// CanSend reports the send precondition: trimmed content or a non-empty
// stage, no upload in flight, and a live subscription.
func (c *Composer) CanSend() bool {
	c.mu.Lock()
	ready := (strings.TrimSpace(c.input) != "" || len(c.stage) > 0) && c.uploads == 0
	c.mu.Unlock()
	return ready && c.room.Phase() == Live
}

// Send publishes the composed message. On publish failure the message is
// echoed locally as an own-authored transcript entry instead of being
// retried, so the user's intent survives a degraded transport. Input and
// stage are cleared on both paths.
func (c *Composer) Send(ctx context.Context) error {
	c.mu.Lock()
	content := strings.TrimSpace(c.input)
	if c.uploads > 0 {
		c.mu.Unlock()
		return ErrUploadInProgress
	}
	if content == "" && len(c.stage) == 0 {
		c.mu.Unlock()
		return ErrNothingToSend
	}
	attachments := make([]model.FileAttachment, len(c.stage))
	copy(attachments, c.stage)
	c.mu.Unlock()

	r := c.room
	r.mu.Lock()
	ch := r.ch
	live := r.phase == Live && !r.closed
	r.mu.Unlock()
	if !live || ch == nil {
		return ErrNotLive
	}

	payload := model.ChatData{Content: content, Attachments: attachments}
	err := ch.Publish(ctx, model.KindChat, payload,
		transport.PublishOptions{UserID: r.self.ID, Metadata: r.self.Meta()})
	if err != nil {
		r.cfg.Logger.Warn().Err(err).Str("room_id", r.id).Msg("publish failed, echoing locally")
		echo := model.Message{
			ID:          uuid.NewString(),
			Content:     content,
			Author:      model.Author{Name: r.self.DisplayName, AvatarURL: r.self.AvatarURL},
			Timestamp:   time.Now(),
			IsOwn:       true,
			Attachments: attachments,
		}
		if echo.Author.Name == "" {
			echo.Author.Name = r.self.ID
		}
		r.append(echo)
	}

	c.mu.Lock()
	c.input = ""
	c.stage = nil
	c.mu.Unlock()

	c.debounce.Flush()
	r.notifyChange()
	return nil
}

// reset clears input and stage and disarms the typing timer. Teardown only.
func (c *Composer) reset() {
	c.mu.Lock()
	c.input = ""
	c.stage = nil
	c.mu.Unlock()
	c.debounce.Cancel()
}
