package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mahaj/chatkit/pkg/blob"
	"github.com/mahaj/chatkit/pkg/model"
)

type fakeBlob struct {
	mu      sync.Mutex
	uploads []string
	gate    chan struct{} // when non-nil, Upload blocks until closed
	err     error
}

func (b *fakeBlob) Upload(ctx context.Context, data []byte, path string, opts blob.UploadOptions) (blob.UploadResult, error) {
	b.mu.Lock()
	gate := b.gate
	b.mu.Unlock()
	if gate != nil {
		<-gate
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return blob.UploadResult{}, b.err
	}
	b.uploads = append(b.uploads, path)
	return blob.UploadResult{PublicURL: "https://files.example.com/" + path}, nil
}

func liveComposer(t *testing.T, rt *fakeRealtime, store blob.Store) (*Room, *fakeChannel) {
	t.Helper()
	mgr := newTestManager(t, rt, store)
	signIn(mgr, "alice")
	mgr.SelectChannel("general")
	r := mgr.Active()
	if r == nil {
		t.Fatal("expected an active session")
	}
	return r, rt.channel("channel-general")
}

func TestSendPublishesContentAndClearsInput(t *testing.T) {
	rt := newFakeRealtime()
	r, ch := liveComposer(t, rt, nil)
	c := r.Composer()

	c.SetInput("  hello there  ")
	if !c.CanSend() {
		t.Fatal("expected sendable state")
	}
	if err := c.Send(context.Background()); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	pubs := ch.publishedEvents()
	var chats []published
	for _, p := range pubs {
		if p.kind == model.KindChat {
			chats = append(chats, p)
		}
	}
	if len(chats) != 1 {
		t.Fatalf("expected one chat publish, got %d", len(chats))
	}
	data, ok := chats[0].payload.(model.ChatData)
	if !ok {
		t.Fatalf("unexpected payload type %T", chats[0].payload)
	}
	if data.Content != "hello there" {
		t.Fatalf("expected trimmed content, got %q", data.Content)
	}
	if c.Input() != "" {
		t.Fatal("input should be cleared after send")
	}
}

func TestSendPreconditions(t *testing.T) {
	rt := newFakeRealtime()
	r, _ := liveComposer(t, rt, nil)
	c := r.Composer()

	if err := c.Send(context.Background()); !errors.Is(err, ErrNothingToSend) {
		t.Fatalf("empty composer: expected ErrNothingToSend, got %v", err)
	}

	c.SetInput("   \t  ")
	if c.CanSend() {
		t.Fatal("whitespace-only input should not be sendable")
	}
	if err := c.Send(context.Background()); !errors.Is(err, ErrNothingToSend) {
		t.Fatalf("whitespace input: expected ErrNothingToSend, got %v", err)
	}
}

func TestSendBlockedWhileUploadInFlight(t *testing.T) {
	rt := newFakeRealtime()
	store := &fakeBlob{gate: make(chan struct{})}
	r, _ := liveComposer(t, rt, store)
	c := r.Composer()

	done := make(chan error, 1)
	go func() { done <- c.Attach(context.Background(), "pic.png", "image/png", []byte("img")) }()
	waitFor(t, "upload in flight", c.Uploading)

	c.SetInput("hello")
	if c.CanSend() {
		t.Fatal("send must be disabled while an upload is in flight")
	}
	if err := c.Send(context.Background()); !errors.Is(err, ErrUploadInProgress) {
		t.Fatalf("expected ErrUploadInProgress, got %v", err)
	}

	close(store.gate)
	if err := <-done; err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	if !c.CanSend() {
		t.Fatal("expected sendable state once the upload settled")
	}
}

func TestSendAttachmentsOnly(t *testing.T) {
	rt := newFakeRealtime()
	store := &fakeBlob{}
	r, ch := liveComposer(t, rt, store)
	c := r.Composer()

	if err := c.Attach(context.Background(), "notes.txt", "text/plain", []byte("n")); err != nil {
		t.Fatalf("attach failed: %v", err)
	}
	if !c.CanSend() {
		t.Fatal("staged attachment alone should be sendable")
	}
	if err := c.Send(context.Background()); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	var data model.ChatData
	for _, p := range ch.publishedEvents() {
		if p.kind == model.KindChat {
			data = p.payload.(model.ChatData)
		}
	}
	if len(data.Attachments) != 1 || data.Attachments[0].Name != "notes.txt" {
		t.Fatalf("unexpected attachments %+v", data.Attachments)
	}
	if len(c.Stage()) != 0 {
		t.Fatal("stage should be cleared after send")
	}
}

func TestSendFailureEchoesLocally(t *testing.T) {
	rt := newFakeRealtime()
	r, ch := liveComposer(t, rt, nil)
	c := r.Composer()

	ch.mu.Lock()
	ch.publishErr = errors.New("broker unavailable")
	ch.mu.Unlock()

	c.SetInput("hello")
	if err := c.Send(context.Background()); err != nil {
		t.Fatalf("send should swallow the publish failure, got %v", err)
	}

	got := r.Transcript()
	if len(got) != 1 {
		t.Fatalf("expected one echoed message, got %d", len(got))
	}
	if !got[0].IsOwn || got[0].Content != "hello" {
		t.Fatalf("unexpected echo %+v", got[0])
	}
	if c.Input() != "" {
		t.Fatal("input should be cleared even when delivery failed")
	}
}

func TestAttachStagesInCompletionOrder(t *testing.T) {
	rt := newFakeRealtime()
	first := &fakeBlob{gate: make(chan struct{})}
	r, _ := liveComposer(t, rt, &orderedBlob{slow: first})
	c := r.Composer()

	done := make(chan struct{})
	go func() {
		c.Attach(context.Background(), "slow.bin", "application/octet-stream", []byte("s"))
		close(done)
	}()
	waitFor(t, "slow upload started", c.Uploading)

	if err := c.Attach(context.Background(), "fast.txt", "text/plain", []byte("f")); err != nil {
		t.Fatalf("fast attach failed: %v", err)
	}
	close(first.gate)
	<-done

	stage := c.Stage()
	if len(stage) != 2 {
		t.Fatalf("expected two staged files, got %d", len(stage))
	}
	if stage[0].Name != "fast.txt" || stage[1].Name != "slow.bin" {
		t.Fatalf("expected completion order, got %s then %s", stage[0].Name, stage[1].Name)
	}
}

// orderedBlob routes names starting with "slow" through the gated store and
// everything else through an immediate one.
type orderedBlob struct {
	slow *fakeBlob
	fast fakeBlob
}

func (b *orderedBlob) Upload(ctx context.Context, data []byte, path string, opts blob.UploadOptions) (blob.UploadResult, error) {
	if len(data) > 0 && data[0] == 's' {
		return b.slow.Upload(ctx, data, path, opts)
	}
	return b.fast.Upload(ctx, data, path, opts)
}

func TestAttachFailureLeavesStageUnchanged(t *testing.T) {
	rt := newFakeRealtime()
	store := &fakeBlob{err: errors.New("storage full")}
	r, _ := liveComposer(t, rt, store)
	c := r.Composer()

	if err := c.Attach(context.Background(), "big.iso", "application/octet-stream", []byte("x")); err == nil {
		t.Fatal("expected upload error")
	}
	if len(c.Stage()) != 0 {
		t.Fatal("failed upload must not stage anything")
	}
	if c.Uploading() {
		t.Fatal("upload counter should settle after failure")
	}
}

func TestRemoveAttachment(t *testing.T) {
	rt := newFakeRealtime()
	store := &fakeBlob{}
	r, _ := liveComposer(t, rt, store)
	c := r.Composer()

	for i := 0; i < 3; i++ {
		name := fmt.Sprintf("f%d.txt", i)
		if err := c.Attach(context.Background(), name, "text/plain", []byte("x")); err != nil {
			t.Fatalf("attach %s failed: %v", name, err)
		}
	}

	c.RemoveAttachment(1)
	stage := c.Stage()
	if len(stage) != 2 || stage[0].Name != "f0.txt" || stage[1].Name != "f2.txt" {
		t.Fatalf("unexpected stage after removal %+v", stage)
	}

	// Out-of-range indices are ignored.
	c.RemoveAttachment(-1)
	c.RemoveAttachment(9)
	if len(c.Stage()) != 2 {
		t.Fatal("out-of-range removal must be a no-op")
	}
}

func TestSendFlushesTypingStop(t *testing.T) {
	rt := newFakeRealtime()
	r, ch := liveComposer(t, rt, nil)
	c := r.Composer()

	c.SetInput("h")
	waitFor(t, "typing start", func() bool {
		for _, p := range ch.publishedEvents() {
			if p.kind == model.KindTyping {
				return true
			}
		}
		return false
	})

	if err := c.Send(context.Background()); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	var states []string
	for _, p := range ch.publishedEvents() {
		if p.kind == model.KindTyping {
			states = append(states, p.payload.(model.TypingData).State)
		}
	}
	if len(states) != 2 || states[0] != model.TypingStart || states[1] != model.TypingStop {
		t.Fatalf("expected start then stop, got %v", states)
	}

	// The timer is disarmed: no trailing stop fires later.
	time.Sleep(60 * time.Millisecond)
	var after []string
	for _, p := range ch.publishedEvents() {
		if p.kind == model.KindTyping {
			after = append(after, p.payload.(model.TypingData).State)
		}
	}
	if len(after) != 2 {
		t.Fatalf("expected no further typing events, got %v", after)
	}
}
