package runtime

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/tjfontaine/polyglot-keyconf/internal/adapters/config/file"
	"github.com/tjfontaine/polyglot-keyconf/internal/adapters/storage/sqlite"
	"github.com/tjfontaine/polyglot-keyconf/internal/core/ports"
)

const (
	defaultServerTimeout = 30 * time.Second
	defaultReloadTimeout = 10 * time.Second
	defaultReloadDelay   = 3 * time.Second
	defaultNotifyTimeout = 10 * time.Second
)

// Option is a functional option for configuring a Service.
type Option func(*Service) error

// WithFileConfig uses file-based configuration with hot-reload (default).
// The path should point to a config.yaml file that will be watched for changes.
// Apply WithLogger first for the watcher to share the service logger.
func WithFileConfig(path string) Option {
	return func(s *Service) error {
		provider, err := file.NewProvider(path, file.WithLogger(s.logger))
		if err != nil {
			return fmt.Errorf("create file config provider: %w", err)
		}
		s.config = provider
		return nil
	}
}

// WithConfigProvider sets a custom config provider.
func WithConfigProvider(provider ports.ConfigProvider) Option {
	return func(s *Service) error {
		s.config = provider
		return nil
	}
}

// WithSQLite records updates in the SQLite database at path, overriding the
// storage section of the configuration.
func WithSQLite(path string) Option {
	return func(s *Service) error {
		store, err := sqlite.New(path)
		if err != nil {
			return fmt.Errorf("create sqlite storage: %w", err)
		}
		s.audit = store
		s.ownsAudit = true
		return nil
	}
}

// WithAuditStore sets a custom audit store. The caller keeps ownership and
// closes it.
func WithAuditStore(store ports.AuditStore) Option {
	return func(s *Service) error {
		s.audit = store
		return nil
	}
}

// WithReloader sets the host reload hook, overriding the reload section of
// the configuration.
func WithReloader(r ports.Reloader) Option {
	return func(s *Service) error {
		s.reloader = r
		return nil
	}
}

// WithNotifier sets where asynchronous reload results are delivered.
func WithNotifier(n ports.Notifier) Option {
	return func(s *Service) error {
		s.notifier = n
		return nil
	}
}

// WithListenAddr overrides the configured port. Use "127.0.0.1:0" in tests.
func WithListenAddr(addr string) Option {
	return func(s *Service) error {
		s.addr = addr
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) error {
		if logger == nil {
			return fmt.Errorf("logger must not be nil")
		}
		s.logger = logger
		return nil
	}
}
