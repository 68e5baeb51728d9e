package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.API.BaseURL != "http://localhost:8080" {
		t.Errorf("expected base URL http://localhost:8080, got %s", cfg.API.BaseURL)
	}

	if cfg.API.RequestTimeout != 15 {
		t.Errorf("expected request timeout 15, got %d", cfg.API.RequestTimeout)
	}

	if cfg.Realtime.ReconnectDelay != 5 {
		t.Errorf("expected reconnect delay 5, got %d", cfg.Realtime.ReconnectDelay)
	}

	if cfg.Log.Level != "info" {
		t.Errorf("expected log level info, got %s", cfg.Log.Level)
	}

	if cfg.Storage.Dir == "" {
		t.Error("expected a default storage dir")
	}
}

func TestLoadConfig(t *testing.T) {
	tests := []struct {
		name        string
		configYAML  string
		wantErr     bool
		errContains string
	}{
		{
			name: "valid config",
			configYAML: `
api:
  base_url: "https://api.skillpath.example"
  request_timeout: 20
  auth_timeout: 10
realtime:
  url: "wss://api.skillpath.example/ws"
  reconnect_delay: 5
  handshake_timeout: 10
  dials_per_minute: 30
genai:
  endpoint: "https://generativelanguage.googleapis.com"
  model: "gemini-3-flash-preview"
  timeout: 60
storage:
  dir: "/tmp/skillpath-test"
log:
  level: "info"
  format: "json"
`,
			wantErr: false,
		},
		{
			name: "missing base_url",
			configYAML: `
api:
  base_url: ""
`,
			wantErr:     true,
			errContains: "base_url is required",
		},
		{
			name: "base_url without scheme",
			configYAML: `
api:
  base_url: "localhost:8080"
`,
			wantErr:     true,
			errContains: "must be a valid HTTP(S) URL",
		},
		{
			name: "realtime url with wrong scheme",
			configYAML: `
realtime:
  url: "http://localhost:8080/ws"
`,
			wantErr:     true,
			errContains: "must be a valid ws(s) URL",
		},
		{
			name: "zero reconnect delay",
			configYAML: `
realtime:
  reconnect_delay: 0
`,
			wantErr:     true,
			errContains: "reconnect_delay must be positive",
		},
		{
			name: "invalid log level",
			configYAML: `
log:
  level: "verbose"
`,
			wantErr:     true,
			errContains: "log.level must be one of",
		},
		{
			name: "invalid log format",
			configYAML: `
log:
  format: "xml"
`,
			wantErr:     true,
			errContains: "log.format must be one of",
		},
		{
			name:        "invalid yaml",
			configYAML:  "api: [not a mapping",
			wantErr:     true,
			errContains: "failed to parse",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(tt.configYAML), 0o600); err != nil {
				t.Fatalf("failed to write config file: %v", err)
			}

			_, err := Load(path)

			if tt.wantErr {
				if err == nil {
					t.Fatal("Load should have failed")
				}
				if tt.errContains != "" && !strings.Contains(err.Error(), tt.errContains) {
					t.Errorf("error = %v, want it to contain %q", err, tt.errContains)
				}
				return
			}
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err == nil {
		t.Error("Load should fail for a missing file")
	}
}

func TestLoadOrDefaultMissingFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("LoadOrDefault failed: %v", err)
	}

	if cfg.API.BaseURL != "http://localhost:8080" {
		t.Errorf("expected default base URL, got %s", cfg.API.BaseURL)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SKILLPATH_API_BASE_URL", "https://staging.skillpath.example")
	t.Setenv("SKILLPATH_REALTIME_URL", "wss://staging.skillpath.example/ws")
	t.Setenv("SKILLPATH_GENAI_API_KEY", "test-key")
	t.Setenv("SKILLPATH_LOG_LEVEL", "debug")

	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadOrDefault failed: %v", err)
	}

	if cfg.API.BaseURL != "https://staging.skillpath.example" {
		t.Errorf("base URL = %s, env override not applied", cfg.API.BaseURL)
	}
	if cfg.Realtime.URL != "wss://staging.skillpath.example/ws" {
		t.Errorf("realtime URL = %s, env override not applied", cfg.Realtime.URL)
	}
	if cfg.GenAI.APIKey != "test-key" {
		t.Errorf("genai api key = %s, env override not applied", cfg.GenAI.APIKey)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log level = %s, env override not applied", cfg.Log.Level)
	}
}

func TestEnvOverridesBeatFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
api:
  base_url: "https://file.skillpath.example"
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	t.Setenv("SKILLPATH_API_BASE_URL", "https://env.skillpath.example")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.API.BaseURL != "https://env.skillpath.example" {
		t.Errorf("base URL = %s, want the env value to win", cfg.API.BaseURL)
	}
}
