package config

import (
	"errors"
	"io/fs"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix of environment variables that override file config.
// Nested keys are separated by a double underscore: KEYCONF_SERVER__PORT.
const EnvPrefix = "KEYCONF_"

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Storage   StorageConfig   `koanf:"storage"`
	Documents DocumentsConfig `koanf:"documents"`
	Provider  ProviderConfig  `koanf:"provider"`
	Commands  CommandsConfig  `koanf:"commands"`
	Reload    ReloadConfig    `koanf:"reload"`
	Notify    NotifyConfig    `koanf:"notify"`
}

type ServerConfig struct {
	Port    int    `koanf:"port"`
	Timeout string `koanf:"timeout"` // Duration string like "30s"
	// AdminKeys guard /admin. Empty leaves the admin routes open.
	AdminKeys []AdminKeyConfig `koanf:"admin_keys"`
}

type AdminKeyConfig struct {
	Name    string `koanf:"name"`
	KeyHash string `koanf:"key_hash"` // hex SHA-256, see cmd/keygen
}

type StorageConfig struct {
	Type   string       `koanf:"type"` // sqlite, none
	SQLite SQLiteConfig `koanf:"sqlite"`
}

type SQLiteConfig struct {
	Path string `koanf:"path"`
}

// DocumentsConfig locates the two documents the updater owns.
type DocumentsConfig struct {
	ProviderPath string `koanf:"provider_path"`
	RegistryPath string `koanf:"registry_path"`
}

// ProviderConfig describes how an update is written into the documents.
type ProviderConfig struct {
	APIURL        string `koanf:"api_url"`        // base URL written on full setup
	Namespace     string `koanf:"namespace"`      // managed registry prefix, e.g. OneAPI
	Kind          string `koanf:"kind"`           // requester.<kind>.base-url
	CredentialKey string `koanf:"credential_key"` // keys.<credential_key>
}

// CommandsConfig is the trigger vocabulary. All matches are exact and
// case-sensitive.
type CommandsConfig struct {
	Start            string `koanf:"start"`
	FullSetup        string `koanf:"full_setup"`
	ModelOnly        string `koanf:"model_only"`
	CredentialPrefix string `koanf:"credential_prefix"`
	ReloadPlugins    string `koanf:"reload_plugins"`
	ReloadPlatform   string `koanf:"reload_platform"`
	ReloadProviders  string `koanf:"reload_providers"`
}

type ReloadConfig struct {
	BaseURL         string `koanf:"base_url"` // empty disables the HTTP reloader
	Token           string `koanf:"token"`
	Timeout         string `koanf:"timeout"`
	AutoAfterUpdate bool   `koanf:"auto_after_update"`
	Delay           string `koanf:"delay"`
}

type NotifyConfig struct {
	CallbackURL string            `koanf:"callback_url"` // empty logs notifications instead
	Timeout     string            `koanf:"timeout"`
	Headers     map[string]string `koanf:"headers"`
	PublicOnly  bool              `koanf:"public_only"` // refuse private callback addresses
}

var defaults = map[string]any{
	"server.port":                8080,
	"server.timeout":             "30s",
	"storage.type":               "sqlite",
	"storage.sqlite.path":        "./data/keyconf.db",
	"documents.provider_path":    "data/config/provider.json",
	"documents.registry_path":    "data/metadata/llm-models.json",
	"provider.api_url":           "https://ai.thelazy.top/v1",
	"provider.namespace":         "OneAPI",
	"provider.kind":              "openai-chat-completions",
	"provider.credential_key":    "openai",
	"commands.start":             "/一键修改",
	"commands.full_setup":        "1",
	"commands.model_only":        "2",
	"commands.credential_prefix": "sk-",
	"commands.reload_plugins":    "/reload plugins",
	"commands.reload_platform":   "/reload platform",
	"commands.reload_providers":  "/reload providers",
	"reload.timeout":             "10s",
	"reload.auto_after_update":   true,
	"reload.delay":               "3s",
	"notify.timeout":             "10s",
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads the YAML file at path (a missing file is not an error), applies
// KEYCONF_ environment overrides and fills in defaults.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			// File not found is OK, we'll use env vars
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, err
			}
		}
	}

	// Load environment variables (can override file config)
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	for key, value := range defaults {
		if !k.Exists(key) {
			k.Set(key, value)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	// Substitute environment variables in secrets
	cfg.Reload.Token = substituteEnvVars(cfg.Reload.Token)
	for name, value := range cfg.Notify.Headers {
		cfg.Notify.Headers[name] = substituteEnvVars(value)
	}

	return &cfg, nil
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// ParseDuration parses a duration string, returning fallback when s is empty
// or invalid.
func ParseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return fallback
	}
	return d
}
