package model

import (
	"encoding/json"
	"fmt"
	"time"
)

type EventKind string

const (
	KindChat     EventKind = "chat"
	KindTyping   EventKind = "typing"
	KindPresence EventKind = "presence"
)

// Typing signal states carried in TypingData.
const (
	TypingStart = "start"
	TypingStop  = "stop"
)

// Metadata is the display information a sender attaches to every event so
// receivers can render the author without a user-directory lookup.
type Metadata struct {
	DisplayName string `json:"display_name,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// FileAttachment is a file already uploaded to blob storage and referenced
// by its resolved public URL.
type FileAttachment struct {
	Name      string `json:"name"`
	URL       string `json:"url"`
	MimeType  string `json:"mime_type"`
	SizeBytes int64  `json:"size_bytes"`
}

// ChatData is the payload of a "chat" event.
type ChatData struct {
	Content     string           `json:"content"`
	Attachments []FileAttachment `json:"attachments,omitempty"`
}

// TypingData is the payload of a "typing" event.
type TypingData struct {
	State string `json:"state"`
}

// PresenceData is the payload of a "presence" event ("joined" or "left").
type PresenceData struct {
	Status string `json:"status"`
}

// Event is the envelope shared by the gateway, the realtime transport and
// the client core. Type discriminates the Data payload.
type Event struct {
	ID        string          `json:"id,omitempty"`
	Type      EventKind       `json:"type"`
	RoomID    string          `json:"room_id"`
	UserID    string          `json:"user_id"`
	Metadata  Metadata        `json:"metadata,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEvent builds an event with a marshaled payload.
func NewEvent(kind EventKind, roomID, userID string, meta Metadata, payload any) (Event, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return Event{}, fmt.Errorf("marshal %s payload: %w", kind, err)
		}
		raw = b
	}
	return Event{
		Type:      kind,
		RoomID:    roomID,
		UserID:    userID,
		Metadata:  meta,
		Data:      raw,
		Timestamp: time.Now(),
	}, nil
}

// ChatData decodes the event payload as chat content. An event with no
// payload decodes to an empty ChatData, which is a legal received state.
func (e Event) ChatData() (ChatData, error) {
	var d ChatData
	if len(e.Data) == 0 {
		return d, nil
	}
	if err := json.Unmarshal(e.Data, &d); err != nil {
		return ChatData{}, fmt.Errorf("decode chat payload: %w", err)
	}
	return d, nil
}

// TypingData decodes the event payload as a typing signal.
func (e Event) TypingData() (TypingData, error) {
	var d TypingData
	if len(e.Data) == 0 {
		return d, nil
	}
	if err := json.Unmarshal(e.Data, &d); err != nil {
		return TypingData{}, fmt.Errorf("decode typing payload: %w", err)
	}
	return d, nil
}

// User is the authenticated identity, owned by the auth collaborator and
// read-only everywhere else.
type User struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
	Email       string `json:"email,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// Meta returns the display metadata this user attaches to outgoing events.
func (u User) Meta() Metadata {
	return Metadata{DisplayName: u.DisplayName, AvatarURL: u.AvatarURL}
}

// Author is the rendered identity of a message sender.
type Author struct {
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// Message is one transcript entry. Messages are immutable after creation
// and dropped wholesale when the active room changes.
type Message struct {
	ID          string           `json:"id"`
	Content     string           `json:"content"`
	Author      Author           `json:"author"`
	Timestamp   time.Time        `json:"timestamp"`
	IsOwn       bool             `json:"is_own"`
	Attachments []FileAttachment `json:"attachments,omitempty"`
}

// MessageFromEvent maps a "chat" event to a transcript message. selfID
// decides the IsOwn alignment.
func MessageFromEvent(e Event, selfID string) (Message, error) {
	if e.Type != KindChat {
		return Message{}, fmt.Errorf("event %q is not a chat event", e.Type)
	}
	data, err := e.ChatData()
	if err != nil {
		return Message{}, err
	}
	name := e.Metadata.DisplayName
	if name == "" {
		name = e.UserID
	}
	return Message{
		ID:          e.ID,
		Content:     data.Content,
		Author:      Author{Name: name, AvatarURL: e.Metadata.AvatarURL},
		Timestamp:   e.Timestamp,
		IsOwn:       e.UserID == selfID,
		Attachments: data.Attachments,
	}, nil
}
