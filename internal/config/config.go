// Package config holds the two configuration structs pipboy-go's two entry
// points take: SessionConfig for a direct client session, RelayConfig for the
// relay binary. Loading follows this package's original pattern — decode an
// optional JSON file over hardcoded defaults, rejecting unknown fields so a
// typo in the file surfaces immediately instead of being silently ignored.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// SessionConfig controls a single Client session (spec §4.D, §6).
type SessionConfig struct {
	// Host is the Pip-Boy host's address. Empty means "discover first".
	Host string `json:"host"`
	Port int    `json:"port"`

	DiscoveryBroadcastAddr string        `json:"discoveryBroadcastAddr"`
	DiscoveryPort          int           `json:"discoveryPort"`
	DiscoveryTimeout       time.Duration `json:"discoveryTimeout"`

	ConnectTimeout time.Duration `json:"connectTimeout"`
	LogLevel       string        `json:"logLevel"`
}

// DefaultSessionConfig mirrors the protocol's well-known defaults (spec §3).
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Port:                   27000,
		DiscoveryBroadcastAddr: "255.255.255.255",
		DiscoveryPort:          28000,
		DiscoveryTimeout:       3 * time.Second,
		ConnectTimeout:         10 * time.Second,
		LogLevel:               "info",
	}
}

// RelayConfig controls the relay binary (spec §4.G).
type RelayConfig struct {
	// UpstreamHost/UpstreamPort address the real Pip-Boy host the relay
	// attaches to as an ordinary client.
	UpstreamHost string `json:"upstreamHost"`
	UpstreamPort int    `json:"upstreamPort"`

	// ListenPort is the TCP port downstream clients connect to.
	ListenPort int `json:"listenPort"`
	// DiscoveryPort is the UDP port the relay answers autodiscover on.
	DiscoveryPort int `json:"discoveryPort"`

	KeepAliveInterval time.Duration `json:"keepAliveInterval"`
	LogLevel          string        `json:"logLevel"`
}

// DefaultRelayConfig mirrors the well-known ports the game host itself uses,
// so a relay is a drop-in replacement on its own network segment.
func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		UpstreamPort:      27000,
		ListenPort:        27000,
		DiscoveryPort:     28000,
		KeepAliveInterval: time.Second,
		LogLevel:          "info",
	}
}

// LoadSessionConfig reads path (if it exists) and decodes it over the
// defaults. A missing file is not an error; the defaults apply unchanged.
func LoadSessionConfig(path string) (SessionConfig, error) {
	cfg := DefaultSessionConfig()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("config: decode %s: %w", path, err)
	}
	return cfg, nil
}

// LoadRelayConfig reads path (if it exists) and decodes it over the defaults.
func LoadRelayConfig(path string) (RelayConfig, error) {
	cfg := DefaultRelayConfig()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("config: decode %s: %w", path, err)
	}
	return cfg, nil
}
