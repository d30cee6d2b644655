package main

import (
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/mahaj/chatkit/pkg/config"
)

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg.IsDevelopment() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Str("service", "gateway").
			Logger()
	}
	return zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", "gateway").
		Logger()
}

func main() {
	cfg := config.Load()
	logger := newLogger(cfg)

	hub := NewHub(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.RedisAddr, logger)
	go hub.Run()

	http.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		serveWs(hub, w, r)
	})
	http.Handle("/metrics", promhttp.Handler())

	logger.Info().Str("port", cfg.GatewayPort).Msg("gateway service starting")
	if err := http.ListenAndServe(":"+cfg.GatewayPort, nil); err != nil {
		logger.Fatal().Err(err).Msg("gateway server failed")
	}
}
