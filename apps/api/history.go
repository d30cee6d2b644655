package main

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/mahaj/chatkit/pkg/db"
	"github.com/mahaj/chatkit/pkg/metrics"
	"github.com/mahaj/chatkit/pkg/model"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

type HistoryHandler struct {
	db  *db.Session
	log zerolog.Logger
}

func NewHistoryHandler(session *db.Session, logger zerolog.Logger) *HistoryHandler {
	return &HistoryHandler{db: session, log: logger}
}

// ServeHTTP returns the most recent chat events of a room, oldest first.
// The messages table clusters by timestamp descending, so LIMIT picks the
// newest rows and the response is reversed before encoding.
func (h *HistoryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("room_id")
	if roomID == "" {
		http.Error(w, "room_id is required", http.StatusBadRequest)
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = min(n, maxHistoryLimit)
		}
	}

	iter := h.db.Query(
		`SELECT id, user_id, display_name, avatar_url, content, attachments, ts
		 FROM messages WHERE room_id = ? LIMIT ?`, roomID, limit).Iter()

	var events []model.Event
	var id, userID, displayName, avatarURL, content, attachments string
	var ts time.Time

	for iter.Scan(&id, &userID, &displayName, &avatarURL, &content, &attachments, &ts) {
		data := model.ChatData{Content: content}
		if attachments != "" {
			if err := json.Unmarshal([]byte(attachments), &data.Attachments); err != nil {
				h.log.Warn().Err(err).Str("id", id).Msg("bad attachments column")
			}
		}
		raw, err := json.Marshal(data)
		if err != nil {
			continue
		}
		events = append(events, model.Event{
			ID:        id,
			Type:      model.KindChat,
			RoomID:    roomID,
			UserID:    userID,
			Metadata:  model.Metadata{DisplayName: displayName, AvatarURL: avatarURL},
			Data:      raw,
			Timestamp: ts,
		})
	}

	if err := iter.Close(); err != nil {
		h.log.Error().Err(err).Str("room_id", roomID).Msg("history query failed")
		metrics.HistoryRequests.WithLabelValues("error").Inc()
		http.Error(w, "Failed to retrieve history", http.StatusInternalServerError)
		return
	}

	// Newest-first from the store, oldest-first on the wire.
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}

	metrics.HistoryRequests.WithLabelValues("ok").Inc()
	w.Header().Set("Content-Type", "application/json")
	if events == nil {
		events = []model.Event{}
	}
	json.NewEncoder(w).Encode(events)
}
