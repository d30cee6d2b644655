package main

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type PresenceHandler struct {
	redis *redis.Client
	log   zerolog.Logger
}

func NewPresenceHandler(redisAddr string, logger zerolog.Logger) *PresenceHandler {
	rdb := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})
	return &PresenceHandler{redis: rdb, log: logger}
}

// ServeHTTP lists the user ids currently subscribed to a room. The gateway
// maintains the redis set on register/unregister.
func (h *PresenceHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")

	users, err := h.redis.SMembers(r.Context(), "room:"+roomID+":users").Result()
	if err != nil {
		h.log.Error().Err(err).Str("room_id", roomID).Msg("presence lookup failed")
		http.Error(w, "Failed to fetch presence", http.StatusInternalServerError)
		return
	}

	if users == nil {
		users = []string{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(users)
}
