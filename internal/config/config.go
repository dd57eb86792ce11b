package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Control ControlConfig `yaml:"control"`
	HTTP    HTTPConfig    `yaml:"http"`
	Audio   AudioConfig   `yaml:"audio"`
	Speech  SpeechConfig  `yaml:"speech"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig contains UDP audio server configuration
type ServerConfig struct {
	UDPPort     int    `yaml:"udp_port"`
	BindAddress string `yaml:"bind_address"`
	BufferSize  int    `yaml:"buffer_size"`
	Workers     int    `yaml:"workers"`
	QueueSize   int    `yaml:"queue_size"`
}

// ControlConfig contains the websocket control channel configuration
type ControlConfig struct {
	Port         int    `yaml:"port"`
	Address      string `yaml:"address"`
	WriteTimeout int    `yaml:"write_timeout"` // seconds
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// AudioConfig contains audio frame parameters
type AudioConfig struct {
	ChunkMs     int `yaml:"chunk_ms"`
	CaptureRate int `yaml:"capture_rate"` // Hz
	TargetRate  int `yaml:"target_rate"`  // Hz
}

// SpeechConfig contains the recognition service configuration
type SpeechConfig struct {
	Endpoint    string `yaml:"endpoint"`
	APIKey      string `yaml:"api_key"`
	DialTimeout int    `yaml:"dial_timeout"`  // seconds
	StopTimeout int    `yaml:"stop_timeout"`  // milliseconds
	EventBuffer int    `yaml:"event_buffer"`
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

	if err := c.Control.Validate(); err != nil {
		return fmt.Errorf("control config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Speech.Validate(); err != nil {
		return fmt.Errorf("speech config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	if s.UDPPort < 1 || s.UDPPort > 65535 {
		return fmt.Errorf("udp_port must be between 1 and 65535, got %d", s.UDPPort)
	}

	if s.BindAddress == "" {
		return fmt.Errorf("bind_address cannot be empty")
	}

	if s.BufferSize < 1024 {
		return fmt.Errorf("buffer_size must be at least 1024 bytes, got %d", s.BufferSize)
	}

	if s.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", s.Workers)
	}

	if s.QueueSize < 1 {
		return fmt.Errorf("queue_size must be at least 1, got %d", s.QueueSize)
	}

	return nil
}

// Validate validates control channel configuration
func (c *ControlConfig) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("control port must be between 1 and 65535, got %d", c.Port)
	}

	if c.Address == "" {
		return fmt.Errorf("control address cannot be empty")
	}

	if c.WriteTimeout < 1 {
		return fmt.Errorf("write_timeout must be at least 1 second, got %d", c.WriteTimeout)
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

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.ChunkMs < 10 || a.ChunkMs > 100 {
		return fmt.Errorf("chunk_ms must be between 10 and 100, got %d", a.ChunkMs)
	}

	if a.CaptureRate < 8000 {
		return fmt.Errorf("capture_rate must be at least 8000 Hz, got %d", a.CaptureRate)
	}

	if a.TargetRate < 8000 {
		return fmt.Errorf("target_rate must be at least 8000 Hz, got %d", a.TargetRate)
	}

	if a.CaptureRate%a.TargetRate != 0 {
		return fmt.Errorf("capture_rate %d must be an integer multiple of target_rate %d",
			a.CaptureRate, a.TargetRate)
	}

	return nil
}

// Validate validates speech recognition configuration
func (s *SpeechConfig) Validate() error {
	if s.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	if s.APIKey == "" {
		return fmt.Errorf("api_key cannot be empty")
	}

	if s.DialTimeout < 1 {
		return fmt.Errorf("dial_timeout must be at least 1 second, got %d", s.DialTimeout)
	}

	if s.StopTimeout < 1 {
		return fmt.Errorf("stop_timeout must be at least 1 millisecond, got %d", s.StopTimeout)
	}

	if s.EventBuffer < 1 {
		return fmt.Errorf("event_buffer must be at least 1, got %d", s.EventBuffer)
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

// GetWriteTimeoutDuration returns the control write timeout as a time.Duration
func (c *ControlConfig) GetWriteTimeoutDuration() time.Duration {
	return time.Duration(c.WriteTimeout) * time.Second
}

// GetDialTimeoutDuration returns the speech dial timeout as a time.Duration
func (s *SpeechConfig) GetDialTimeoutDuration() time.Duration {
	return time.Duration(s.DialTimeout) * time.Second
}

// GetStopTimeoutDuration returns the session stop timeout as a time.Duration
func (s *SpeechConfig) GetStopTimeoutDuration() time.Duration {
	return time.Duration(s.StopTimeout) * time.Millisecond
}
