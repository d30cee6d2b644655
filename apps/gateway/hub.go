package main

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/mahaj/chatkit/pkg/metrics"
	"github.com/mahaj/chatkit/pkg/model"
	"github.com/mahaj/chatkit/pkg/room"
	"github.com/mahaj/chatkit/pkg/snowflake"
)

// Hub tracks subscribed clients per room and moves events between them and
// the broker. Everything a client publishes goes through kafka; fanout
// happens on the consumer side so every gateway instance sees every event.
type Hub struct {
	rooms       map[string]map[*Client]bool // room_id -> clients
	userClients map[string]map[*Client]bool // user_id -> clients, for DM routing
	broadcast   chan *model.Event
	register    chan *Client
	unregister  chan *Client
	mu          sync.RWMutex
	producer    *kafka.Writer
	redis       *redis.Client
	snowflake   *snowflake.Node
	log         zerolog.Logger
}

func NewHub(kafkaBrokers []string, topic string, redisAddr string, logger zerolog.Logger) *Hub {
	producer := &kafka.Writer{
		Addr:     kafka.TCP(kafkaBrokers...),
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
	}

	rdb := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	// Unique group id per instance: fanout needs every gateway to read
	// every event.
	consumer := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     kafkaBrokers,
		Topic:       topic,
		GroupID:     "gateway-group-" + time.Now().Format(time.RFC3339Nano),
		StartOffset: kafka.LastOffset,
		MinBytes:    10e3,
		MaxBytes:    10e6,
	})

	node, err := snowflake.NewNode(1)
	if err != nil {
		logger.Fatal().Err(err).Msg("snowflake node init failed")
	}

	h := &Hub{
		rooms:       make(map[string]map[*Client]bool),
		userClients: make(map[string]map[*Client]bool),
		broadcast:   make(chan *model.Event),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		producer:    producer,
		redis:       rdb,
		snowflake:   node,
		log:         logger,
	}

	go h.consume(consumer)
	return h
}

func (h *Hub) consume(consumer *kafka.Reader) {
	defer consumer.Close()
	for {
		m, err := consumer.ReadMessage(context.Background())
		if err != nil {
			h.log.Error().Err(err).Msg("gateway consumer stopped")
			return
		}

		var ev model.Event
		if err := json.Unmarshal(m.Value, &ev); err != nil {
			h.log.Warn().Err(err).Msg("skipping malformed broker event")
			continue
		}

		h.route(&ev, m.Value)
	}
}

// route fans one broker frame out to its subscribers. DMs go to every
// connection of both participants globally, so a peer currently viewing
// another room still receives it; everything else stays within its room.
func (h *Hub) route(ev *model.Event, frame []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if a, b, ok := room.DMParticipants(ev.RoomID); ok {
		// A self-DM has one participant; walking both sides would
		// deliver every frame twice.
		targets := []string{a}
		if b != a {
			targets = append(targets, b)
		}
		for _, userID := range targets {
			for client := range h.userClients[userID] {
				h.deliver(client, frame)
			}
		}
		return
	}
	for client := range h.rooms[ev.RoomID] {
		h.deliver(client, frame)
	}
}

// deliver pushes one frame to a client, dropping the client when its send
// buffer is full. Caller holds the lock.
func (h *Hub) deliver(c *Client, frame []byte) {
	select {
	case c.send <- frame:
		metrics.EventsFannedOut.Inc()
	default:
		close(c.send)
		h.removeLocked(c)
	}
}

// removeLocked drops a client from both maps. Caller holds the lock.
func (h *Hub) removeLocked(c *Client) {
	if clients, ok := h.rooms[c.RoomID]; ok {
		delete(clients, c)
		if len(clients) == 0 {
			delete(h.rooms, c.RoomID)
		}
	}
	if clients, ok := h.userClients[c.UserID]; ok {
		delete(clients, c)
		if len(clients) == 0 {
			delete(h.userClients, c.UserID)
		}
	}
}

func (h *Hub) Run() {
	defer h.producer.Close()
	defer h.redis.Close()

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if h.rooms[client.RoomID] == nil {
				h.rooms[client.RoomID] = make(map[*Client]bool)
			}
			h.rooms[client.RoomID][client] = true

			if h.userClients[client.UserID] == nil {
				h.userClients[client.UserID] = make(map[*Client]bool)
			}
			h.userClients[client.UserID][client] = true
			h.mu.Unlock()

			metrics.ActiveConnections.Inc()
			if err := h.redis.SAdd(context.Background(), presenceKey(client.RoomID), client.UserID).Err(); err != nil {
				h.log.Warn().Err(err).Str("user_id", client.UserID).Msg("presence add failed")
			}
			h.log.Info().Str("user_id", client.UserID).Str("room_id", client.RoomID).Msg("client subscribed")

			go h.publishPresence(client, "joined")

		case client := <-h.unregister:
			h.mu.Lock()
			clients, ok := h.rooms[client.RoomID]
			if !ok {
				h.mu.Unlock()
				continue
			}
			if _, ok := clients[client]; !ok {
				h.mu.Unlock()
				continue
			}
			close(client.send)
			h.removeLocked(client)
			h.mu.Unlock()

			metrics.ActiveConnections.Dec()
			if err := h.redis.SRem(context.Background(), presenceKey(client.RoomID), client.UserID).Err(); err != nil {
				h.log.Warn().Err(err).Str("user_id", client.UserID).Msg("presence remove failed")
			}
			h.log.Info().Str("user_id", client.UserID).Str("room_id", client.RoomID).Msg("client unsubscribed")

			go h.publishPresence(client, "left")

		case ev := <-h.broadcast:
			if ev.ID == "" {
				ev.ID = h.snowflake.GenerateString()
			}
			if ev.Timestamp.IsZero() {
				ev.Timestamp = time.Now()
			}

			frame, err := json.Marshal(ev)
			if err != nil {
				h.log.Error().Err(err).Msg("event marshal failed")
				continue
			}

			err = h.producer.WriteMessages(context.Background(), kafka.Message{
				Value: frame,
				Time:  time.Now(),
			})
			if err != nil {
				h.log.Error().Err(err).Str("room_id", ev.RoomID).Msg("broker write failed")
			} else {
				metrics.EventsPublished.WithLabelValues(string(ev.Type)).Inc()
			}
		}
	}
}

func (h *Hub) publishPresence(c *Client, status string) {
	ev, err := model.NewEvent(model.KindPresence, c.RoomID, c.UserID, c.Metadata, model.PresenceData{Status: status})
	if err != nil {
		return
	}
	h.broadcast <- &ev
}

func presenceKey(roomID string) string {
	return "room:" + roomID + ":users"
}
