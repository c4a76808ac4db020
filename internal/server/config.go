package server

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds the server's environment-driven settings.
type Config struct {
	// Addr is the listen address.
	Addr string `envconfig:"ADDR" default:":8080"`

	// AllowedOrigin restricts websocket upgrades to one Origin header
	// value. Empty allows any origin.
	AllowedOrigin string `envconfig:"ALLOWED_ORIGIN" default:""`
}

// LoadConfig reads configuration from the environment, with an optional
// .env file for local development.
func LoadConfig() (Config, error) {
	// Missing .env is fine; the environment wins either way.
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("signaling", &cfg); err != nil {
		return Config{}, fmt.Errorf("load server config: %w", err)
	}
	return cfg, nil
}
