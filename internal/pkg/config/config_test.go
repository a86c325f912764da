package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	t.Run("defaults without file", func(t *testing.T) {
		cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}

		if cfg.Server.Port != 8080 {
			t.Errorf("Load() port = %v, want 8080", cfg.Server.Port)
		}
		if cfg.Provider.Namespace != "OneAPI" {
			t.Errorf("Load() namespace = %q, want OneAPI", cfg.Provider.Namespace)
		}
		if cfg.Commands.CredentialPrefix != "sk-" {
			t.Errorf("Load() credential prefix = %q, want sk-", cfg.Commands.CredentialPrefix)
		}
		if cfg.Documents.ProviderPath != "data/config/provider.json" {
			t.Errorf("Load() provider path = %q", cfg.Documents.ProviderPath)
		}
		if !cfg.Reload.AutoAfterUpdate {
			t.Error("Load() auto_after_update = false, want true")
		}
	})

	t.Run("file values", func(t *testing.T) {
		path := writeConfig(t, `
server:
  port: 9100
provider:
  namespace: Relay
  api_url: https://relay.example/v1
commands:
  start: /setup
reload:
  auto_after_update: false
`)
		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}

		if cfg.Server.Port != 9100 {
			t.Errorf("port = %d, want 9100", cfg.Server.Port)
		}
		if cfg.Provider.Namespace != "Relay" {
			t.Errorf("namespace = %q, want Relay", cfg.Provider.Namespace)
		}
		if cfg.Provider.APIURL != "https://relay.example/v1" {
			t.Errorf("api_url = %q", cfg.Provider.APIURL)
		}
		if cfg.Commands.Start != "/setup" {
			t.Errorf("start = %q, want /setup", cfg.Commands.Start)
		}
		// Untouched keys keep their defaults.
		if cfg.Commands.FullSetup != "1" {
			t.Errorf("full_setup = %q, want 1", cfg.Commands.FullSetup)
		}
		if cfg.Reload.AutoAfterUpdate {
			t.Error("auto_after_update = true, want false")
		}
	})

	t.Run("env var port override", func(t *testing.T) {
		t.Setenv("KEYCONF_SERVER__PORT", "9000")

		cfg, err := Load("")
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}

		if cfg.Server.Port != 9000 {
			t.Errorf("Load() port = %v, want 9000", cfg.Server.Port)
		}
	})

	t.Run("malformed file", func(t *testing.T) {
		path := writeConfig(t, "server: [unterminated")
		if _, err := Load(path); err == nil {
			t.Fatal("Load() error = nil, want parse error")
		}
	})

	t.Run("token substitution", func(t *testing.T) {
		t.Setenv("LANGBOT_TOKEN", "secret-token")
		path := writeConfig(t, `
reload:
  token: ${LANGBOT_TOKEN}
notify:
  headers:
    Authorization: Bearer ${LANGBOT_TOKEN}
`)
		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if cfg.Reload.Token != "secret-token" {
			t.Errorf("token = %q, want secret-token", cfg.Reload.Token)
		}
		if got := cfg.Notify.Headers["Authorization"]; got != "Bearer secret-token" {
			t.Errorf("Authorization header = %q", got)
		}
	})
}

func TestSubstituteEnvVars(t *testing.T) {
	t.Setenv("TEST_VAR", "test-value")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "simple substitution",
			input: "${TEST_VAR}",
			want:  "test-value",
		},
		{
			name:  "substitution in string",
			input: "prefix-${TEST_VAR}-suffix",
			want:  "prefix-test-value-suffix",
		},
		{
			name:  "no substitution",
			input: "plain-string",
			want:  "plain-string",
		},
		{
			name:  "undefined var",
			input: "${UNDEFINED_VAR}",
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := substituteEnvVars(tt.input)
			if got != tt.want {
				t.Errorf("substituteEnvVars() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"", 5 * time.Second},
		{"250ms", 250 * time.Millisecond},
		{"soon", 5 * time.Second},
		{"-1s", 5 * time.Second},
		{"0s", 0},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseDuration(tt.in, 5*time.Second); got != tt.want {
				t.Errorf("ParseDuration(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
