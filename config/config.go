// Package config loads and validates the bridge configuration: JSON file
// layered under environment overrides, defaults first the way a demo setup
// expects.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvPrefix roots every environment override variable.
const EnvPrefix = "OPCBRIDGE"

// Config is the complete application configuration.
type Config struct {
	Server  ServerConfig  `json:"server"`
	Client  ClientConfig  `json:"client"`
	NATS    NATSConfig    `json:"nats"`
	Metrics MetricsConfig `json:"metrics"`
	Logging LoggingConfig `json:"logging"`
}

// ServerConfig drives the provisioning side: endpoint, namespace, the CSV
// source and the JSON alias destination.
type ServerConfig struct {
	Endpoint       string  `json:"endpoint"`
	Namespace      string  `json:"namespace"`
	FilesDir       string  `json:"files_dir"`
	InputFile      string  `json:"input_file"`
	OutputFile     string  `json:"output_file"`
	RootFolder     string  `json:"root_folder,omitempty"`
	Retries        int     `json:"retries"`
	BackoffSeconds float64 `json:"backoff_seconds"`
	Delimiter      string  `json:"delimiter,omitempty"`
	Charset        string  `json:"charset,omitempty"`
}

// Backoff returns the base retry delay.
func (c ServerConfig) Backoff() time.Duration {
	return time.Duration(c.BackoffSeconds * float64(time.Second))
}

// ClientConfig drives the consumer side.
type ClientConfig struct {
	Endpoint       string  `json:"endpoint"`
	Retries        int     `json:"retries"`
	BackoffSeconds float64 `json:"backoff_seconds"`
}

// Backoff returns the base retry delay.
func (c ClientConfig) Backoff() time.Duration {
	return time.Duration(c.BackoffSeconds * float64(time.Second))
}

// NATSConfig drives the change-event publisher. Disabled means the bridge
// runs without NATS entirely.
type NATSConfig struct {
	Enabled       bool   `json:"enabled"`
	URL           string `json:"url"`
	SubjectPrefix string `json:"subject_prefix,omitempty"`
}

// MetricsConfig drives the Prometheus scrape endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Port    int    `json:"port"`
	Path    string `json:"path,omitempty"`
}

// LoggingConfig selects level and sink. An empty File logs to stdout.
type LoggingConfig struct {
	Level string `json:"level"`
	File  string `json:"file,omitempty"`
}

// DefaultConfig returns the configuration a local demo runs with.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Endpoint:       "opc.tcp://127.0.0.1:4841",
			Namespace:      "OPCUA_SERVER_Cafersa",
			FilesDir:       "files",
			InputFile:      "nodes.csv",
			OutputFile:     "nodes.json",
			Retries:        3,
			BackoffSeconds: 2,
		},
		Client: ClientConfig{
			Endpoint:       "opc.tcp://127.0.0.1:4841",
			Retries:        3,
			BackoffSeconds: 2,
		},
		NATS: NATSConfig{
			URL: "nats://localhost:4222",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load builds the configuration from defaults, the optional JSON file at
// path, and environment overrides, then validates the result.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the cross-field rules a running bridge depends on.
func (c *Config) Validate() error {
	if !strings.HasPrefix(c.Server.Endpoint, "opc.tcp://") {
		return fmt.Errorf("server.endpoint %q must begin with opc.tcp://", c.Server.Endpoint)
	}
	if c.Server.Namespace == "" {
		return fmt.Errorf("server.namespace must not be empty")
	}
	if c.Server.Retries < 1 {
		return fmt.Errorf("server.retries must be >= 1, got %d", c.Server.Retries)
	}
	if c.Server.BackoffSeconds <= 0 {
		return fmt.Errorf("server.backoff_seconds must be > 0, got %v", c.Server.BackoffSeconds)
	}
	if c.Client.Endpoint != "" && !strings.HasPrefix(c.Client.Endpoint, "opc.tcp://") {
		return fmt.Errorf("client.endpoint %q must begin with opc.tcp://", c.Client.Endpoint)
	}
	if c.NATS.Enabled && c.NATS.URL == "" {
		return fmt.Errorf("nats.url must be set when nats is enabled")
	}
	if c.Metrics.Enabled && (c.Metrics.Port < 1 || c.Metrics.Port > 65535) {
		return fmt.Errorf("metrics.port %d out of range", c.Metrics.Port)
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q not one of debug, info, warn, error", c.Logging.Level)
	}
	return nil
}

// SaveToFile writes the configuration as pretty-printed JSON.
func (c *Config) SaveToFile(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv(EnvPrefix + "_ENDPOINT"); val != "" {
		cfg.Server.Endpoint = val
	}
	if val := os.Getenv(EnvPrefix + "_NAMESPACE"); val != "" {
		cfg.Server.Namespace = val
	}
	if val := os.Getenv(EnvPrefix + "_FILES_DIR"); val != "" {
		cfg.Server.FilesDir = val
	}
	if val := os.Getenv(EnvPrefix + "_RETRIES"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Server.Retries = n
		}
	}
	if val := os.Getenv(EnvPrefix + "_NATS_URL"); val != "" {
		cfg.NATS.URL = val
		cfg.NATS.Enabled = true
	}
	if val := os.Getenv(EnvPrefix + "_METRICS_PORT"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Metrics.Port = n
		}
	}
	if val := os.Getenv(EnvPrefix + "_LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
	if val := os.Getenv(EnvPrefix + "_LOG_FILE"); val != "" {
		cfg.Logging.File = val
	}
}
