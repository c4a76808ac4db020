// Package config loads client configuration with the priority
// CLI flags > environment > defaults.
package config

import (
	"fmt"
	"os"
)

// Default configuration values.
const (
	DefaultServerURL = "ws://localhost:8080/ws"
	DefaultSTUN      = "stun:stun.l.google.com:19302"
	DefaultTURN      = "" // optional, empty by default
	DefaultTURNUser  = ""
	DefaultTURNPass  = ""
)

// Config holds client configuration.
type Config struct {
	// ServerURL is the signaling server websocket endpoint.
	ServerURL string

	// Traversal servers for the peer transport.
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string
}

// Options carries CLI flag overrides into Load.
type Options struct {
	ServerURL  string
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string
}

func firstNonEmpty(flag, env, fallback string) string {
	if flag != "" {
		return flag
	}
	if v := os.Getenv(env); v != "" {
		return v
	}
	return fallback
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options)
// 2. Environment variables
// 3. Defaults
func Load(opts Options) (*Config, error) {
	return &Config{
		ServerURL:  firstNonEmpty(opts.ServerURL, "SIGNALING_URL", DefaultServerURL),
		STUNServer: firstNonEmpty(opts.STUNServer, "STUN_SERVER", DefaultSTUN),
		TURNServer: firstNonEmpty(opts.TURNServer, "TURN_SERVER", DefaultTURN),
		TURNUser:   firstNonEmpty(opts.TURNUser, "TURN_USERNAME", DefaultTURNUser),
		TURNPass:   firstNonEmpty(opts.TURNPass, "TURN_PASSWORD", DefaultTURNPass),
	}, nil
}

// GetSTUNServers returns STUN server URLs.
func (c *Config) GetSTUNServers() []string {
	return []string{c.STUNServer}
}

// GetTURNServers returns TURN server URLs if configured.
func (c *Config) GetTURNServers() []string {
	if c.TURNServer == "" {
		return nil
	}
	return []string{
		fmt.Sprintf("%s:3478?transport=udp", c.TURNServer),
		fmt.Sprintf("%s:3478?transport=tcp", c.TURNServer),
		fmt.Sprintf("turns:%s:5349?transport=tcp", c.TURNServer),
	}
}

// GetTURNCredentials returns the TURN username and password.
func (c *Config) GetTURNCredentials() (string, string) {
	return c.TURNUser, c.TURNPass
}
