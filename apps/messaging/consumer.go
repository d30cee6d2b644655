package main

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/mahaj/chatkit/pkg/db"
	"github.com/mahaj/chatkit/pkg/metrics"
	"github.com/mahaj/chatkit/pkg/model"
	"github.com/mahaj/chatkit/pkg/room"
)

type Consumer struct {
	reader *kafka.Reader
	db     *db.Session
	log    zerolog.Logger
}

func NewConsumer(brokers []string, topic string, groupID string, session *db.Session, logger zerolog.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})

	return &Consumer{reader: r, db: session, log: logger}
}

func (c *Consumer) Consume(ctx context.Context) {
	for {
		m, err := c.reader.ReadMessage(ctx)
		if err != nil {
			c.log.Error().Err(err).Msg("broker read failed, retrying in 1s")
			time.Sleep(1 * time.Second)
			continue
		}

		var ev model.Event
		if err := json.Unmarshal(m.Value, &ev); err != nil {
			c.log.Warn().Err(err).Msg("skipping malformed event")
			continue
		}

		// Typing and presence are ephemeral; only chat events reach the
		// history store.
		if ev.Type != model.KindChat {
			continue
		}

		if err := c.persist(ev); err != nil {
			c.log.Error().Err(err).Str("id", ev.ID).Msg("persist failed")
			continue
		}
		metrics.MessagesPersisted.Inc()

		if a, b, ok := room.DMParticipants(ev.RoomID); ok {
			c.updateConversations(ev, a, b)
		}
	}
}

func (c *Consumer) persist(ev model.Event) error {
	data, err := ev.ChatData()
	if err != nil {
		return err
	}

	var attachments string
	if len(data.Attachments) > 0 {
		raw, err := json.Marshal(data.Attachments)
		if err != nil {
			return err
		}
		attachments = string(raw)
	}

	query := `INSERT INTO messages (room_id, id, user_id, display_name, avatar_url, content, attachments, ts)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	return c.db.Query(query,
		ev.RoomID, ev.ID, ev.UserID,
		ev.Metadata.DisplayName, ev.Metadata.AvatarURL,
		data.Content, attachments, ev.Timestamp,
	).Exec()
}

// updateConversations keeps the DM inbox fresh: one row per direction plus
// an unread counter bump for the recipient.
func (c *Consumer) updateConversations(ev model.Event, u1, u2 string) {
	q := `INSERT INTO user_conversations (user_id, other_user_id, last_updated) VALUES (?, ?, ?)`
	if err := c.db.Query(q, u1, u2, ev.Timestamp).Exec(); err != nil {
		c.log.Warn().Err(err).Str("user_id", u1).Msg("conversation update failed")
	}
	if err := c.db.Query(q, u2, u1, ev.Timestamp).Exec(); err != nil {
		c.log.Warn().Err(err).Str("user_id", u2).Msg("conversation update failed")
	}

	recipient := u1
	if ev.UserID == u1 {
		recipient = u2
	}
	qCounter := `UPDATE conversation_counters SET unread_count = unread_count + 1 WHERE user_id = ? AND other_user_id = ?`
	if err := c.db.Query(qCounter, recipient, ev.UserID).Exec(); err != nil {
		c.log.Warn().Err(err).Str("user_id", recipient).Msg("unread counter bump failed")
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
