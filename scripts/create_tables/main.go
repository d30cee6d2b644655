package main

import (
	"log"

	"github.com/mahaj/chatkit/pkg/config"
	"github.com/mahaj/chatkit/pkg/db"
)

func main() {
	cfg := config.Load()

	session, err := db.NewSession(cfg.ScyllaHosts, cfg.Keyspace)
	if err != nil {
		log.Fatalf("Failed to connect to ScyllaDB: %v", err)
	}
	defer session.Close()

	statements := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			room_id text,
			id text,
			user_id text,
			display_name text,
			avatar_url text,
			content text,
			attachments text,
			ts timestamp,
			PRIMARY KEY (room_id, ts, id)
		) WITH CLUSTERING ORDER BY (ts DESC, id DESC)`,
		`CREATE TABLE IF NOT EXISTS user_conversations (
			user_id text,
			other_user_id text,
			last_updated timestamp,
			PRIMARY KEY (user_id, other_user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS conversation_counters (
			user_id text,
			other_user_id text,
			unread_count counter,
			PRIMARY KEY (user_id, other_user_id)
		)`,
	}

	for _, stmt := range statements {
		if err := session.Query(stmt).Exec(); err != nil {
			log.Fatal(err)
		}
	}

	log.Println("Tables created successfully")
}
