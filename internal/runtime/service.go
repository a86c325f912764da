// Package runtime provides the Service struct and lifecycle management for
// the keyconf service.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/tjfontaine/polyglot-keyconf/internal/adapters/auth/apikey"
	"github.com/tjfontaine/polyglot-keyconf/internal/adapters/notify/logging"
	"github.com/tjfontaine/polyglot-keyconf/internal/adapters/notify/webhook"
	"github.com/tjfontaine/polyglot-keyconf/internal/adapters/reload/langbot"
	"github.com/tjfontaine/polyglot-keyconf/internal/adapters/storage/sqlite"
	"github.com/tjfontaine/polyglot-keyconf/internal/core/ports"
	"github.com/tjfontaine/polyglot-keyconf/internal/engine"
	"github.com/tjfontaine/polyglot-keyconf/internal/pkg/config"
	"github.com/tjfontaine/polyglot-keyconf/internal/reload"
	"github.com/tjfontaine/polyglot-keyconf/internal/server"
	"github.com/tjfontaine/polyglot-keyconf/internal/updater"
)

// Service runs the conversation engine behind its HTTP conduit.
// It can be embedded in a larger application or run standalone.
type Service struct {
	// Dependencies (injected via options)
	config   ports.ConfigProvider
	audit    ports.AuditStore
	reloader ports.Reloader
	notifier ports.Notifier
	logger   *slog.Logger
	addr     string

	// Built on Start
	engine    *engine.Engine
	scheduler *reload.Scheduler
	auth      *apikey.Provider
	handler   http.Handler
	server    *http.Server
	listener  net.Listener
	ownsAudit bool

	// Lifecycle management
	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.RWMutex
}

// New creates a Service with the given options.
func New(opts ...Option) (*Service, error) {
	s := &Service{
		logger: slog.Default(),
	}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}

	if s.config == nil {
		return nil, fmt.Errorf("config provider required (use WithFileConfig or WithConfigProvider)")
	}
	return s, nil
}

// Start loads the configuration, builds the components and starts serving.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return errors.New("service already started")
	}

	s.ctx, s.cancel = context.WithCancel(ctx)

	cfg, err := s.config.Load(s.ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := s.build(cfg); err != nil {
		return err
	}

	addr := s.addr
	if addr == "" {
		addr = fmt.Sprintf(":%d", cfg.Server.Port)
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	s.listener = ln

	timeout := config.ParseDuration(cfg.Server.Timeout, defaultServerTimeout)
	s.server = &http.Server{
		Handler:      s.handler,
		ReadTimeout:  timeout,
		WriteTimeout: timeout + timeout/2,
	}

	go func() {
		s.logger.Info("HTTP server listening", slog.String("addr", ln.Addr().String()))
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("server error", slog.String("error", err.Error()))
		}
	}()

	go s.watchConfig()

	s.logger.Info("keyconf started",
		slog.String("addr", ln.Addr().String()),
		slog.String("provider_path", cfg.Documents.ProviderPath),
		slog.String("registry_path", cfg.Documents.RegistryPath),
		slog.Bool("audit", s.audit != nil))

	return nil
}

// build wires the components from cfg. Dependencies injected through options
// take precedence over the ones the configuration describes.
func (s *Service) build(cfg *config.Config) error {
	u, err := updater.New(updater.Config{
		ProviderPath:  cfg.Documents.ProviderPath,
		RegistryPath:  cfg.Documents.RegistryPath,
		Namespace:     cfg.Provider.Namespace,
		Kind:          cfg.Provider.Kind,
		CredentialKey: cfg.Provider.CredentialKey,
	}, updater.WithLogger(s.logger))
	if err != nil {
		return fmt.Errorf("create updater: %w", err)
	}

	if s.audit == nil && cfg.Storage.Type == "sqlite" {
		store, err := sqlite.New(cfg.Storage.SQLite.Path)
		if err != nil {
			return fmt.Errorf("create sqlite audit store: %w", err)
		}
		s.audit = store
		s.ownsAudit = true
	}

	if s.reloader == nil {
		if cfg.Reload.BaseURL == "" {
			s.logger.Info("no reload endpoint configured, reload commands will ask for a manual restart")
			s.reloader = langbot.Noop{}
		} else {
			r, err := langbot.New(langbot.Config{
				BaseURL: cfg.Reload.BaseURL,
				Token:   cfg.Reload.Token,
				Timeout: config.ParseDuration(cfg.Reload.Timeout, defaultReloadTimeout),
			})
			if err != nil {
				return fmt.Errorf("create reloader: %w", err)
			}
			s.reloader = r
		}
	}

	if s.notifier == nil {
		if cfg.Notify.CallbackURL == "" {
			s.notifier = logging.New(s.logger)
		} else {
			n, err := webhook.New(webhook.Config{
				URL:        cfg.Notify.CallbackURL,
				Timeout:    config.ParseDuration(cfg.Notify.Timeout, defaultNotifyTimeout),
				Headers:    cfg.Notify.Headers,
				PublicOnly: cfg.Notify.PublicOnly,
			})
			if err != nil {
				return fmt.Errorf("create notifier: %w", err)
			}
			s.notifier = n
		}
	}

	s.scheduler = reload.NewScheduler(reload.SchedulerConfig{
		Reloader: s.reloader,
		Notifier: s.notifier,
		Delay:    config.ParseDuration(cfg.Reload.Delay, defaultReloadDelay),
		Timeout:  config.ParseDuration(cfg.Reload.Timeout, defaultReloadTimeout),
		Logger:   s.logger,
	})

	s.engine, err = engine.New(engine.Config{
		Settings:  engine.SettingsFromConfig(cfg),
		Updater:   u,
		Reloader:  s.reloader,
		Scheduler: s.scheduler,
		Audit:     s.audit,
		Logger:    s.logger,
	})
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}

	srvCfg := server.Config{
		Timeout: config.ParseDuration(cfg.Server.Timeout, defaultServerTimeout),
		Logger:  s.logger,
		Engine:  s.engine,
		Audit:   s.audit,
	}
	if len(cfg.Server.AdminKeys) > 0 {
		s.auth, err = apikey.NewProvider(cfg.Server.AdminKeys)
		if err != nil {
			return fmt.Errorf("create admin auth: %w", err)
		}
		srvCfg.Auth = s.auth
	} else if s.audit != nil {
		s.logger.Warn("no admin keys configured, /admin is unauthenticated")
	}
	s.handler = server.New(srvCfg)
	return nil
}

// Addr returns the address the server listens on, or "" before Start.
func (s *Service) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Engine returns the conversation engine, or nil before Start.
func (s *Service) Engine() *engine.Engine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// Handler returns the HTTP handler for embedding in another server, or nil
// before Start.
func (s *Service) Handler() http.Handler {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.handler
}

// Shutdown stops accepting messages, cancels pending reloads and releases
// resources.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Info("shutting down keyconf")

	if s.cancel != nil {
		s.cancel()
	}

	var errs []error
	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			s.logger.Error("failed to shutdown server", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	if s.scheduler != nil {
		if err := s.scheduler.Shutdown(ctx); err != nil {
			s.logger.Error("failed to stop reload tasks", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	if s.audit != nil && s.ownsAudit {
		if err := s.audit.Close(); err != nil {
			s.logger.Error("failed to close audit store", slog.String("error", err.Error()))
		}
	}

	if err := s.config.Close(); err != nil {
		s.logger.Error("failed to close config", slog.String("error", err.Error()))
	}

	s.logger.Info("keyconf shutdown complete")
	return errors.Join(errs...)
}

// watchConfig applies configuration changes to the engine and the admin
// keys. Document paths, storage, the listen address and whether /admin is
// guarded at all are fixed at Start.
func (s *Service) watchConfig() {
	onChange := func(cfg *config.Config) {
		s.logger.Info("config changed, reloading")
		if err := s.reload(cfg); err != nil {
			s.logger.Error("failed to reload", slog.String("error", err.Error()))
		}
	}

	if err := s.config.Watch(s.ctx, onChange); err != nil {
		if !errors.Is(err, context.Canceled) {
			s.logger.Error("config watch failed", slog.String("error", err.Error()))
		}
	}
}

// reload applies cfg to the running engine.
func (s *Service) reload(cfg *config.Config) error {
	s.mu.RLock()
	eng, auth := s.engine, s.auth
	s.mu.RUnlock()

	if eng == nil {
		return errors.New("service not started")
	}
	if err := eng.Reconfigure(engine.SettingsFromConfig(cfg)); err != nil {
		return fmt.Errorf("reconfigure engine: %w", err)
	}
	if auth != nil {
		if err := auth.ReloadFromConfig(cfg); err != nil {
			return fmt.Errorf("reload admin keys: %w", err)
		}
	}
	return nil
}
