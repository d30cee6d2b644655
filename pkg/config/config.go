// Package config reads service configuration from the environment, with a
// .env file honored in development.
package config

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds the settings shared by the gateway, api, and messaging
// services.
type Config struct {
	Env string

	GatewayPort string
	APIPort     string

	KafkaBrokers []string
	KafkaTopic   string

	ScyllaHosts []string
	Keyspace    string

	RedisAddr string

	// FilesDir is where the api service stores uploaded blobs.
	FilesDir string
	// PublicBaseURL prefixes the public URLs handed back for uploads.
	PublicBaseURL string
}

// Load reads configuration from environment variables, falling back to
// local-development defaults.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Env:           getEnv("ENV", "development"),
		GatewayPort:   getEnv("GATEWAY_PORT", "8080"),
		APIPort:       getEnv("API_PORT", "8081"),
		KafkaBrokers:  splitEnv("KAFKA_BROKERS", "localhost:19092"),
		KafkaTopic:    getEnv("KAFKA_TOPIC", "chat-events"),
		ScyllaHosts:   splitEnv("SCYLLA_HOSTS", "localhost:9042"),
		Keyspace:      getEnv("SCYLLA_KEYSPACE", "chat"),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		FilesDir:      getEnv("FILES_DIR", "./files"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", "http://localhost:8081"),
	}
}

// IsDevelopment reports whether the service runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitEnv(key, defaultValue string) []string {
	raw := getEnv(key, defaultValue)
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
