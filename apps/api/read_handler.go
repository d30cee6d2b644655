package main

import (
	"encoding/json"
	"net/http"

	"github.com/mahaj/chatkit/pkg/auth"
	"github.com/mahaj/chatkit/pkg/db"
)

type ReadRequest struct {
	OtherUserID string `json:"other_user_id"`
}

// ReadHandler marks a DM conversation read by resetting its unread
// counter. Deleting the counter row is how ScyllaDB counters reset.
func ReadHandler(session *db.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := r.Context().Value(auth.UserKey).(*auth.Claims)
		if !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		var req ReadRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OtherUserID == "" {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}

		query := `DELETE FROM conversation_counters WHERE user_id = ? AND other_user_id = ?`
		if err := session.Query(query, claims.UserID, req.OtherUserID).Exec(); err != nil {
			http.Error(w, "Failed to reset unread count", http.StatusInternalServerError)
			return
		}

		w.WriteHeader(http.StatusOK)
	}
}
