// ABOUTME: Client configuration with defaults, YAML file, .env and environment overrides
// ABOUTME: Validate checks the fixed audio formats and backoff ranges
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Config represents the complete client configuration
type Config struct {
	Endpoint     string             `yaml:"endpoint"`
	Audio        AudioConfig        `yaml:"audio"`
	Reconnect    ReconnectConfig    `yaml:"reconnect"`
	Session      SessionConfig      `yaml:"session"`
	Experimental ExperimentalConfig `yaml:"experimental"`
	Export       ExportConfig       `yaml:"export"`
	Discovery    DiscoveryConfig    `yaml:"discovery"`
	Metrics      MetricsConfig      `yaml:"metrics"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// AudioConfig selects formats and device backends
type AudioConfig struct {
	InputSampleRate  int    `yaml:"input_sample_rate"`
	OutputSampleRate int    `yaml:"output_sample_rate"`
	Output           string `yaml:"output"`  // malgo, oto or null
	Capture          string `yaml:"capture"` // malgo or null
}

// ReconnectConfig holds the backoff parameters
type ReconnectConfig struct {
	BaseDelay  time.Duration `yaml:"base_delay"`
	MaxDelay   time.Duration `yaml:"max_delay"`
	Multiplier float64       `yaml:"multiplier"`
}

// SessionConfig holds session behaviour
type SessionConfig struct {
	SubtitleCap int           `yaml:"subtitle_cap"`
	HapticPulse time.Duration `yaml:"haptic_pulse"`
	Context     string        `yaml:"context"`
}

// ExperimentalConfig holds the runtime-togglable flags
type ExperimentalConfig struct {
	BufferAllAudio bool `yaml:"buffer_all_audio"`
	AutoExport     bool `yaml:"auto_export"`
}

// ExportConfig controls WAV export
type ExportConfig struct {
	Dir string `yaml:"dir"`
}

// DiscoveryConfig controls mDNS lookup of a local bridge
type DiscoveryConfig struct {
	Enabled bool          `yaml:"enabled"`
	Timeout time.Duration `yaml:"timeout"`
}

// MetricsConfig controls the Prometheus endpoint. Empty address disables it.
type MetricsConfig struct {
	Address string `yaml:"address"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Endpoint: "ws://localhost:8765",
		Audio: AudioConfig{
			InputSampleRate:  16000,
			OutputSampleRate: 24000,
			Output:           "malgo",
			Capture:          "malgo",
		},
		Reconnect: ReconnectConfig{
			BaseDelay:  time.Second,
			MaxDelay:   30 * time.Second,
			Multiplier: 2,
		},
		Session: SessionConfig{
			SubtitleCap: 10,
			HapticPulse: 50 * time.Millisecond,
		},
		Export: ExportConfig{
			Dir: ".",
		},
		Discovery: DiscoveryConfig{
			Timeout: 3 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			File:   "walkie.log",
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file, a
// .env file in the working directory and environment variables
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	// Load .env file if it exists
	_ = godotenv.Load()
	cfg.ApplyEnv()

	return cfg, nil
}

// ApplyEnv overrides fields from WALKIE_* environment variables
func (c *Config) ApplyEnv() {
	c.Endpoint = getEnv("WALKIE_ENDPOINT", c.Endpoint)
	c.Experimental.BufferAllAudio = getEnvBool("WALKIE_BUFFER_ALL_AUDIO", c.Experimental.BufferAllAudio)
	c.Experimental.AutoExport = getEnvBool("WALKIE_AUTO_EXPORT", c.Experimental.AutoExport)
	c.Logging.Level = getEnv("WALKIE_LOG_LEVEL", c.Logging.Level)
	c.Session.Context = getEnv("WALKIE_CONTEXT", c.Session.Context)
	c.Metrics.Address = getEnv("WALKIE_METRICS_ADDR", c.Metrics.Address)
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	boolValue, err := strconv.ParseBool(value)
	if err != nil {
		log.Warn().Str("key", key).Err(err).Msg("failed to parse bool, using default")
		return defaultValue
	}
	return boolValue
}

// Validate performs validation of the configuration
func (c *Config) Validate() error {
	if !strings.HasPrefix(c.Endpoint, "ws://") && !strings.HasPrefix(c.Endpoint, "wss://") {
		return fmt.Errorf("endpoint must be a ws:// or wss:// URL, got %q", c.Endpoint)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Reconnect.Validate(); err != nil {
		return fmt.Errorf("reconnect config: %w", err)
	}

	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.InputSampleRate != 16000 {
		return fmt.Errorf("input_sample_rate must be 16000 Hz, got %d", a.InputSampleRate)
	}

	if a.OutputSampleRate != 24000 {
		return fmt.Errorf("output_sample_rate must be 24000 Hz, got %d", a.OutputSampleRate)
	}

	switch a.Output {
	case "malgo", "oto", "null":
	default:
		return fmt.Errorf("output must be malgo, oto or null, got %q", a.Output)
	}

	switch a.Capture {
	case "malgo", "null":
	default:
		return fmt.Errorf("capture must be malgo or null, got %q", a.Capture)
	}

	return nil
}

// Validate validates backoff parameters
func (r *ReconnectConfig) Validate() error {
	if r.BaseDelay <= 0 {
		return fmt.Errorf("base_delay must be positive, got %v", r.BaseDelay)
	}

	if r.MaxDelay < r.BaseDelay {
		return fmt.Errorf("max_delay (%v) must not be less than base_delay (%v)", r.MaxDelay, r.BaseDelay)
	}

	if r.Multiplier < 1 {
		return fmt.Errorf("multiplier must be at least 1, got %v", r.Multiplier)
	}

	return nil
}

// Validate validates session configuration
func (s *SessionConfig) Validate() error {
	if s.SubtitleCap < 1 {
		return fmt.Errorf("subtitle_cap must be at least 1, got %d", s.SubtitleCap)
	}

	if s.HapticPulse < 0 {
		return fmt.Errorf("haptic_pulse must not be negative, got %v", s.HapticPulse)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	switch l.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("level must be debug, info, warn or error, got %q", l.Level)
	}

	switch l.Format {
	case "json", "console":
	default:
		return fmt.Errorf("format must be json or console, got %q", l.Format)
	}

	return nil
}
