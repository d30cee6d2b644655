package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/mahaj/chatkit/pkg/auth"
	"github.com/mahaj/chatkit/pkg/model"
	"github.com/mahaj/chatkit/pkg/room"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. Chat events carry
	// attachment references, not attachment bytes.
	maxMessageSize = 16 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for now
	},
}

// Client is a middleman between one websocket connection and the hub.
type Client struct {
	hub *Hub

	conn *websocket.Conn

	// Buffered channel of outbound frames.
	send chan []byte

	UserID   string
	RoomID   string
	Metadata model.Metadata

	log zerolog.Logger
}

// readPump pumps events from the websocket connection to the hub. The
// identity fields of every event are server-authoritative: whatever the
// client claims is overwritten from its token.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn().Err(err).Msg("read error")
			}
			break
		}

		var ev model.Event
		if err := json.Unmarshal(frame, &ev); err != nil {
			c.log.Warn().Err(err).Msg("dropping malformed client frame")
			continue
		}

		switch ev.Type {
		case model.KindChat, model.KindTyping:
		default:
			c.log.Warn().Str("type", string(ev.Type)).Msg("dropping unsupported client event")
			continue
		}

		ev.RoomID = c.RoomID
		ev.UserID = c.UserID
		ev.Metadata = c.Metadata
		if ev.Timestamp.IsZero() {
			ev.Timestamp = time.Now()
		}

		c.hub.broadcast <- &ev
	}
}

// writePump pumps frames from the hub to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// serveWs authenticates the subscriber and attaches it to the hub.
func serveWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	tokenString := r.Header.Get("Authorization")
	if tokenString == "" {
		// Query param fallback for websocket clients that cannot set
		// headers.
		tokenString = r.URL.Query().Get("token")
	}

	if tokenString == "" {
		hub.log.Warn().Msg("unauthorized: no token provided")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	if len(tokenString) > 7 && tokenString[:7] == "Bearer " {
		tokenString = tokenString[7:]
	}

	claims, err := auth.ValidateToken(tokenString)
	if err != nil {
		hub.log.Warn().Err(err).Msg("unauthorized: invalid token")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	roomID := r.URL.Query().Get("room")
	if roomID == "" {
		roomID = room.ChannelID("general")
	}

	// DM rooms are only joinable by their two participants.
	if room.IsDM(roomID) && !room.DMHasParticipant(roomID, claims.UserID) {
		http.Error(w, "Unauthorized to join this DM", http.StatusForbidden)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.log.Error().Err(err).Msg("upgrade failed")
		return
	}

	client := &Client{
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, 256),
		UserID:   claims.UserID,
		RoomID:   roomID,
		Metadata: model.Metadata{DisplayName: claims.DisplayName, AvatarURL: claims.AvatarURL},
		log:      hub.log.With().Str("user_id", claims.UserID).Str("room_id", roomID).Logger(),
	}
	client.hub.register <- client

	go client.writePump()
	go client.readPump()
}
