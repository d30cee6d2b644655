package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/mahaj/chatkit/pkg/config"
	"github.com/mahaj/chatkit/pkg/db"
)

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg.IsDevelopment() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Str("service", "messaging").
			Logger()
	}
	return zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", "messaging").
		Logger()
}

func main() {
	cfg := config.Load()
	logger := newLogger(cfg)

	// Schema bootstrap. In production this belongs to a migration tool;
	// for local development the consumer owns its tables.
	sysSession, err := db.NewSession(cfg.ScyllaHosts, "system")
	if err != nil {
		logger.Fatal().Err(err).Msg("scylla system keyspace connection failed")
	}

	err = sysSession.Query(`CREATE KEYSPACE IF NOT EXISTS ` + cfg.Keyspace +
		` WITH REPLICATION = { 'class' : 'SimpleStrategy', 'replication_factor' : 1 }`).Exec()
	if err != nil {
		logger.Fatal().Err(err).Msg("keyspace creation failed")
	}
	sysSession.Close()

	session, err := db.NewSession(cfg.ScyllaHosts, cfg.Keyspace)
	if err != nil {
		logger.Fatal().Err(err).Msg("scylla connection failed")
	}
	defer session.Close()

	err = session.Query(`CREATE TABLE IF NOT EXISTS messages (
		room_id text,
		id text,
		user_id text,
		display_name text,
		avatar_url text,
		content text,
		attachments text,
		ts timestamp,
		PRIMARY KEY (room_id, ts, id)
	) WITH CLUSTERING ORDER BY (ts DESC, id DESC)`).Exec()
	if err != nil {
		logger.Fatal().Err(err).Msg("messages table creation failed")
	}

	err = session.Query(`CREATE TABLE IF NOT EXISTS user_conversations (
		user_id text,
		other_user_id text,
		last_updated timestamp,
		PRIMARY KEY (user_id, other_user_id)
	)`).Exec()
	if err != nil {
		logger.Fatal().Err(err).Msg("user_conversations table creation failed")
	}

	err = session.Query(`CREATE TABLE IF NOT EXISTS conversation_counters (
		user_id text,
		other_user_id text,
		unread_count counter,
		PRIMARY KEY (user_id, other_user_id)
	)`).Exec()
	if err != nil {
		logger.Fatal().Err(err).Msg("conversation_counters table creation failed")
	}

	go func() {
		http.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(":2112", nil); err != nil {
			logger.Warn().Err(err).Msg("metrics listener failed")
		}
	}()

	consumer := NewConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, "messaging-service-group", session, logger)
	defer consumer.Close()

	logger.Info().Msg("messaging consumer starting")
	consumer.Consume(context.Background())
}
