package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Analysis AnalysisConfig `yaml:"analysis"`
	Relay    RelayConfig    `yaml:"relay"`
	HTTP     HTTPConfig     `yaml:"http"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig contains the inbound websocket endpoint configuration
type ServerConfig struct {
	BindAddress    string `yaml:"bind_address"`
	Port           int    `yaml:"port"`
	WSPath         string `yaml:"ws_path"`
	MaxMessageSize int64  `yaml:"max_message_size"` // bytes
	WriteTimeout   int    `yaml:"write_timeout"`    // seconds
}

// AnalysisConfig contains the outbound analysis-service configuration
type AnalysisConfig struct {
	Endpoint       string `yaml:"endpoint"`
	ConnectTimeout int    `yaml:"connect_timeout"` // seconds
	ResultTimeout  int    `yaml:"result_timeout"`  // seconds
}

// RelayConfig contains media buffering and session retention parameters
type RelayConfig struct {
	BufferMaxChunks    int `yaml:"buffer_max_chunks"`
	BufferRetainChunks int `yaml:"buffer_retain_chunks"`
	RetentionSeconds   int `yaml:"retention_seconds"`
}

// HTTPConfig contains HTTP introspection API configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	// The analysis endpoint is the one value routinely overridden per
	// deployment, so the environment wins over the file when set.
	if env := os.Getenv("ANALYSIS_ENDPOINT"); env != "" {
		config.Analysis.Endpoint = env
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.Analysis.Validate(); err != nil {
		return fmt.Errorf("analysis config: %w", err)
	}

	if err := c.Relay.Validate(); err != nil {
		return fmt.Errorf("relay config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", s.Port)
	}

	if s.BindAddress == "" {
		return fmt.Errorf("bind_address cannot be empty")
	}

	if !strings.HasPrefix(s.WSPath, "/") {
		return fmt.Errorf("ws_path must start with '/', got %q", s.WSPath)
	}

	if s.MaxMessageSize < 1024 {
		return fmt.Errorf("max_message_size must be at least 1024 bytes, got %d", s.MaxMessageSize)
	}

	if s.WriteTimeout < 1 {
		return fmt.Errorf("write_timeout must be at least 1 second, got %d", s.WriteTimeout)
	}

	return nil
}

// Validate validates analysis-service configuration
func (a *AnalysisConfig) Validate() error {
	if a.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	if !strings.HasPrefix(a.Endpoint, "ws://") && !strings.HasPrefix(a.Endpoint, "wss://") {
		return fmt.Errorf("endpoint must be a ws:// or wss:// URL, got %q", a.Endpoint)
	}

	if a.ConnectTimeout < 1 {
		return fmt.Errorf("connect_timeout must be at least 1 second, got %d", a.ConnectTimeout)
	}

	if a.ResultTimeout < 1 {
		return fmt.Errorf("result_timeout must be at least 1 second, got %d", a.ResultTimeout)
	}

	return nil
}

// Validate validates relay configuration
func (r *RelayConfig) Validate() error {
	if r.BufferMaxChunks < 1 {
		return fmt.Errorf("buffer_max_chunks must be at least 1, got %d", r.BufferMaxChunks)
	}

	if r.BufferRetainChunks < 1 {
		return fmt.Errorf("buffer_retain_chunks must be at least 1, got %d", r.BufferRetainChunks)
	}

	if r.BufferRetainChunks > r.BufferMaxChunks {
		return fmt.Errorf("buffer_retain_chunks (%d) must not exceed buffer_max_chunks (%d)",
			r.BufferRetainChunks, r.BufferMaxChunks)
	}

	if r.RetentionSeconds < 1 {
		return fmt.Errorf("retention_seconds must be at least 1, got %d", r.RetentionSeconds)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// GetWriteTimeoutDuration returns the websocket write timeout as a time.Duration
func (s *ServerConfig) GetWriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// GetConnectTimeoutDuration returns the analysis connect timeout as a time.Duration
func (a *AnalysisConfig) GetConnectTimeoutDuration() time.Duration {
	return time.Duration(a.ConnectTimeout) * time.Second
}

// GetResultTimeoutDuration returns the finalize result timeout as a time.Duration
func (a *AnalysisConfig) GetResultTimeoutDuration() time.Duration {
	return time.Duration(a.ResultTimeout) * time.Second
}

// GetRetentionDuration returns the terminal-session retention delay as a time.Duration
func (r *RelayConfig) GetRetentionDuration() time.Duration {
	return time.Duration(r.RetentionSeconds) * time.Second
}
