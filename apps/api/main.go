package main

import (
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
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
			Str("service", "api").
			Logger()
	}
	return zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", "api").
		Logger()
}

func main() {
	cfg := config.Load()
	logger := newLogger(cfg)

	session, err := db.NewSession(cfg.ScyllaHosts, cfg.Keyspace)
	if err != nil {
		logger.Fatal().Err(err).Msg("scylla connection failed")
	}
	defer session.Close()
	logger.Info().Msg("connected to ScyllaDB")

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	files := NewFilesHandler(cfg.FilesDir, cfg.PublicBaseURL, logger)
	history := NewHistoryHandler(session, logger)
	presence := NewPresenceHandler(cfg.RedisAddr, logger)

	// Public endpoints
	r.Post("/login", LoginHandler(logger))
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/files/*", files.Serve)

	// Authenticated endpoints
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(logger))

		r.Get("/history", history.ServeHTTP)
		r.Get("/rooms/{id}/users", presence.ServeHTTP)
		r.Get("/conversations", ConversationsHandler(session))
		r.Post("/conversations/read", ReadHandler(session))
		r.Post("/files/*", files.Upload)
	})

	logger.Info().Str("port", cfg.APIPort).Msg("api service starting")
	if err := http.ListenAndServe(":"+cfg.APIPort, r); err != nil {
		logger.Fatal().Err(err).Msg("api server failed")
	}
}
