// Package transport defines the realtime pub/sub contract the client core
// consumes, and implements it over the gateway websocket plus the api
// history endpoint.
package transport

import (
	"context"
	"errors"

	"github.com/mahaj/chatkit/pkg/model"
)

var (
	ErrNotSubscribed     = errors.New("transport: channel is not subscribed")
	ErrAlreadySubscribed = errors.New("transport: channel is already subscribed")
)

// SubscribeOptions identify the subscriber and the display metadata stamped
// onto its outgoing events.
type SubscribeOptions struct {
	UserID   string
	Metadata model.Metadata
}

// PublishOptions tag an outgoing event with its sender.
type PublishOptions struct {
	UserID   string
	Metadata model.Metadata
}

// Realtime hands out channel handles keyed by room id.
type Realtime interface {
	Channel(roomID string) Channel
}

// Channel is one room's pub/sub handle. A handle is single-use: after
// Unsubscribe it cannot be reused.
type Channel interface {
	// Subscribe opens the live event stream for the room.
	Subscribe(ctx context.Context, opts SubscribeOptions) error

	// Messages fetches up to limit of the most recent backlog events,
	// ordered oldest first.
	Messages(ctx context.Context, limit int) ([]model.Event, error)

	// OnMessage registers a callback for live events. Must be called
	// before Subscribe.
	OnMessage(fn func(model.Event))

	// Publish sends one event of the given kind through the room.
	Publish(ctx context.Context, kind model.EventKind, payload any, opts PublishOptions) error

	// Unsubscribe closes the live stream and releases the handle.
	Unsubscribe() error
}
