// Package config loads, validates, and applies the SkillPath client configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the complete client configuration
type Config struct {
	API      APIConfig      `yaml:"api"`
	Realtime RealtimeConfig `yaml:"realtime"`
	GenAI    GenAIConfig    `yaml:"genai"`
	Storage  StorageConfig  `yaml:"storage"`
	Log      LogConfig      `yaml:"log"`
}

// APIConfig defines how to reach the SkillPath backend
type APIConfig struct {
	BaseURL        string `yaml:"base_url"`        // Backend base URL (e.g. "http://localhost:8080")
	RequestTimeout int    `yaml:"request_timeout"` // Timeout for ordinary API calls in seconds
	AuthTimeout    int    `yaml:"auth_timeout"`    // Timeout for signin/refresh calls in seconds
}

// RealtimeConfig defines the live metrics subscription settings
type RealtimeConfig struct {
	URL              string `yaml:"url"`               // Websocket endpoint (e.g. "ws://localhost:8080/ws")
	ReconnectDelay   int    `yaml:"reconnect_delay"`   // Fixed delay between reconnect attempts in seconds
	HandshakeTimeout int    `yaml:"handshake_timeout"` // Websocket handshake timeout in seconds
	DialsPerMinute   int    `yaml:"dials_per_minute"`  // Hard cap on dial attempts per minute
}

// GenAIConfig defines the generative-AI service used for roadmap, tutor,
// and lab generation. The API key is normally supplied via the
// SKILLPATH_GENAI_API_KEY environment variable rather than the config file.
type GenAIConfig struct {
	Endpoint string `yaml:"endpoint"` // Generative API base URL
	Model    string `yaml:"model"`    // Model identifier
	APIKey   string `yaml:"api_key"`  // API key (prefer the env override)
	Timeout  int    `yaml:"timeout"`  // Request timeout in seconds
}

// StorageConfig defines where the client persists local state
type StorageConfig struct {
	Dir string `yaml:"dir"` // Directory for the session record and preferences
}

// LogConfig defines logging settings
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	// Read file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse YAML
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Apply environment variable overrides
	cfg.applyEnvOverrides()

	// Validate
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault loads the configuration file if it exists, otherwise returns
// the default configuration with environment overrides applied. This lets the
// CLI run without a config file present.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
		return cfg, nil
	}
	return Load(path)
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:        "http://localhost:8080",
			RequestTimeout: 15,
			AuthTimeout:    10,
		},
		Realtime: RealtimeConfig{
			URL:              "ws://localhost:8080/ws",
			ReconnectDelay:   5,
			HandshakeTimeout: 10,
			DialsPerMinute:   30,
		},
		GenAI: GenAIConfig{
			Endpoint: "https://generativelanguage.googleapis.com",
			Model:    "gemini-3-flash-preview",
			Timeout:  60,
		},
		Storage: StorageConfig{
			Dir: defaultStorageDir(),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// defaultStorageDir returns the per-user state directory. Falls back to a
// dot-directory in the working directory when the user config dir cannot
// be determined.
func defaultStorageDir() string {
	base, err := os.UserConfigDir()
	if err != nil {
		return ".skillpath"
	}
	return filepath.Join(base, "skillpath")
}

// applyEnvOverrides applies environment variable overrides
func (c *Config) applyEnvOverrides() {
	// API overrides
	if v := os.Getenv("SKILLPATH_API_BASE_URL"); v != "" {
		c.API.BaseURL = v
	}

	// Realtime overrides
	if v := os.Getenv("SKILLPATH_REALTIME_URL"); v != "" {
		c.Realtime.URL = v
	}

	// GenAI overrides
	if v := os.Getenv("SKILLPATH_GENAI_API_KEY"); v != "" {
		c.GenAI.APIKey = v
	}
	if v := os.Getenv("SKILLPATH_GENAI_ENDPOINT"); v != "" {
		c.GenAI.Endpoint = v
	}
	if v := os.Getenv("SKILLPATH_GENAI_MODEL"); v != "" {
		c.GenAI.Model = v
	}

	// Storage overrides
	if v := os.Getenv("SKILLPATH_STORAGE_DIR"); v != "" {
		c.Storage.Dir = v
	}

	// Log overrides
	if v := os.Getenv("SKILLPATH_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("SKILLPATH_LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	// Validate API config
	if c.API.BaseURL == "" {
		return fmt.Errorf("api.base_url is required")
	}
	if !strings.HasPrefix(c.API.BaseURL, "http://") && !strings.HasPrefix(c.API.BaseURL, "https://") {
		return fmt.Errorf("api.base_url must be a valid HTTP(S) URL")
	}
	if c.API.RequestTimeout <= 0 {
		return fmt.Errorf("api.request_timeout must be positive")
	}
	if c.API.AuthTimeout <= 0 {
		return fmt.Errorf("api.auth_timeout must be positive")
	}

	// Validate realtime config
	if c.Realtime.URL == "" {
		return fmt.Errorf("realtime.url is required")
	}
	if !strings.HasPrefix(c.Realtime.URL, "ws://") && !strings.HasPrefix(c.Realtime.URL, "wss://") {
		return fmt.Errorf("realtime.url must be a valid ws(s) URL")
	}
	if c.Realtime.ReconnectDelay <= 0 {
		return fmt.Errorf("realtime.reconnect_delay must be positive")
	}
	if c.Realtime.HandshakeTimeout <= 0 {
		return fmt.Errorf("realtime.handshake_timeout must be positive")
	}
	if c.Realtime.DialsPerMinute <= 0 {
		return fmt.Errorf("realtime.dials_per_minute must be positive")
	}

	// Validate genai config
	if c.GenAI.Endpoint == "" {
		return fmt.Errorf("genai.endpoint is required")
	}
	if !strings.HasPrefix(c.GenAI.Endpoint, "http://") && !strings.HasPrefix(c.GenAI.Endpoint, "https://") {
		return fmt.Errorf("genai.endpoint must be a valid HTTP(S) URL")
	}
	if c.GenAI.Model == "" {
		return fmt.Errorf("genai.model is required")
	}
	if c.GenAI.Timeout <= 0 {
		return fmt.Errorf("genai.timeout must be positive")
	}

	// Validate storage config
	if c.Storage.Dir == "" {
		return fmt.Errorf("storage.dir is required")
	}

	// Validate log config
	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("log.level must be one of: debug, info, warn, error")
	}

	validFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("log.format must be one of: json, text")
	}

	return nil
}

// SetupLogging configures the global slog logger based on the LogConfig.
func SetupLogging(cfg *LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	default:
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	slog.SetDefault(slog.New(handler))
}
