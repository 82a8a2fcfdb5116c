// Package config provides configuration loading and management for the
// nossacarteira sync agent.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	ssconfig "github.com/c360studio/semstreams/config"
	"gopkg.in/yaml.v3"
)

// Config represents the complete agent configuration
type Config struct {
	NATS    NATSConfig    `yaml:"nats"`
	Store   StoreConfig   `yaml:"store"`
	Session SessionConfig `yaml:"session"`
	Sync    SyncConfig    `yaml:"sync"`
	API     APIConfig     `yaml:"api"`
	Log     LogConfig     `yaml:"log"`
}

// NATSConfig configures the NATS connection
type NATSConfig struct {
	// URL is the NATS server URL (empty = use embedded server)
	URL string `yaml:"url"`
	// Embedded indicates whether to use embedded NATS
	Embedded bool `yaml:"embedded"`
	// StoreDir is the JetStream directory of the embedded server
	// (empty = a directory under the OS temp dir)
	StoreDir string `yaml:"store_dir"`
}

// StoreConfig configures the JetStream KV buckets
type StoreConfig struct {
	CollectionsBucket string `yaml:"collections_bucket"`
	DocumentsBucket   string `yaml:"documents_bucket"`
	// History is the number of revisions kept per key (1-64)
	History int `yaml:"history"`
}

// SessionConfig configures the session token file
type SessionConfig struct {
	// TokenFile is the watched token path (empty = user config dir)
	TokenFile string `yaml:"token_file"`
	// Secret signs and verifies session tokens
	Secret string `yaml:"secret"`
	// Debounce coalesces bursts of file events
	Debounce time.Duration `yaml:"debounce"`
}

// SyncConfig configures the sync indicator
type SyncConfig struct {
	// BusyFloor is the minimum time the indicator stays busy
	BusyFloor time.Duration `yaml:"busy_floor"`
}

// APIConfig configures the local HTTP API
type APIConfig struct {
	Addr string `yaml:"addr"`
}

// LogConfig configures logging
type LogConfig struct {
	// Level is one of debug, info, warn, error
	Level string `yaml:"level"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		NATS: NATSConfig{
			URL:      "",
			Embedded: true,
		},
		Store: StoreConfig{
			CollectionsBucket: "NC_COLLECTIONS",
			DocumentsBucket:   "NC_TRANSACOES",
			History:           5,
		},
		Session: SessionConfig{
			Debounce: 100 * time.Millisecond,
		},
		Sync: SyncConfig{
			BusyFloor: time.Second,
		},
		API: APIConfig{
			Addr: "127.0.0.1:8420",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if !c.NATS.Embedded && c.NATS.URL == "" {
		return fmt.Errorf("nats.url is required when nats.embedded is false")
	}
	if c.Store.CollectionsBucket == "" || c.Store.DocumentsBucket == "" {
		return fmt.Errorf("store buckets are required")
	}
	if c.Store.CollectionsBucket == c.Store.DocumentsBucket {
		return fmt.Errorf("store.collections_bucket and store.documents_bucket must differ")
	}
	if c.Store.History < 1 || c.Store.History > 64 {
		return fmt.Errorf("store.history must be between 1 and 64")
	}
	if c.Session.Secret == "" {
		return fmt.Errorf("session.secret is required (or set %s)", EnvSessionSecret)
	}
	if c.Session.Debounce < 0 {
		return fmt.Errorf("session.debounce must not be negative")
	}
	if c.Sync.BusyFloor < 0 {
		return fmt.Errorf("sync.busy_floor must not be negative")
	}
	if c.API.Addr == "" {
		return fmt.Errorf("api.addr is required")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error")
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file over the defaults.
// Environment variables are expanded before parsing; ${VAR:-default}
// supplies a fallback.
func LoadFromFile(path string) (*Config, error) {
	config := DefaultConfig()
	if err := config.Overlay(path); err != nil {
		return nil, err
	}
	return config, nil
}

// Overlay applies a YAML file on top of c. Only keys present in the file
// change; a nats.url without nats.embedded selects the external server.
func (c *Config) Overlay(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := []byte(ssconfig.ExpandEnvWithDefaults(string(data)))

	var present struct {
		NATS struct {
			URL      *string `yaml:"url"`
			Embedded *bool   `yaml:"embedded"`
		} `yaml:"nats"`
	}
	if err := yaml.Unmarshal(expanded, &present); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	next := *c
	if err := yaml.Unmarshal(expanded, &next); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	if present.NATS.URL != nil && *present.NATS.URL != "" && present.NATS.Embedded == nil {
		next.NATS.Embedded = false
	}
	*c = next
	return nil
}

// SaveToFile saves configuration to a YAML file. The file holds the session
// secret, so it is written owner-only.
func (c *Config) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for non-zero values).
// File layers go through Overlay; Merge carries the environment layer.
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	// NATS
	if other.NATS.URL != "" {
		c.NATS.URL = other.NATS.URL
		c.NATS.Embedded = false
	}
	if other.NATS.StoreDir != "" {
		c.NATS.StoreDir = other.NATS.StoreDir
	}

	// Store
	if other.Store.CollectionsBucket != "" {
		c.Store.CollectionsBucket = other.Store.CollectionsBucket
	}
	if other.Store.DocumentsBucket != "" {
		c.Store.DocumentsBucket = other.Store.DocumentsBucket
	}
	if other.Store.History != 0 {
		c.Store.History = other.Store.History
	}

	// Session
	if other.Session.TokenFile != "" {
		c.Session.TokenFile = other.Session.TokenFile
	}
	if other.Session.Secret != "" {
		c.Session.Secret = other.Session.Secret
	}
	if other.Session.Debounce != 0 {
		c.Session.Debounce = other.Session.Debounce
	}

	// Sync
	if other.Sync.BusyFloor != 0 {
		c.Sync.BusyFloor = other.Sync.BusyFloor
	}

	// API
	if other.API.Addr != "" {
		c.API.Addr = other.API.Addr
	}

	// Log
	if other.Log.Level != "" {
		c.Log.Level = other.Log.Level
	}
}
