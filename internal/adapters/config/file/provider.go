// Package file provides file-based configuration with hot-reload.
package file

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/tjfontaine/polyglot-keyconf/internal/core/ports"
	"github.com/tjfontaine/polyglot-keyconf/internal/pkg/config"
)

// Provider implements ports.ConfigProvider using file-based configuration.
// It watches the config file for changes and triggers reload callbacks.
type Provider struct {
	path    string
	watcher *fsnotify.Watcher
	logger  *slog.Logger
	mu      sync.RWMutex
	current *config.Config
}

// Option configures a Provider.
type Option func(*Provider)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Provider) {
		p.logger = logger
	}
}

// NewProvider creates a new file-based config provider.
func NewProvider(path string, opts ...Option) (*Provider, error) {
	if path == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}

	p := &Provider{
		path:   filepath.Clean(path),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Load loads the configuration from the file.
func (p *Provider) Load(ctx context.Context) (*config.Config, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cfg, err := config.Load(p.path)
	if err != nil {
		return nil, fmt.Errorf("load config from %s: %w", p.path, err)
	}

	p.current = cfg
	p.logger.Info("config loaded", slog.String("path", p.path))

	return cfg, nil
}

// Current returns the last successfully loaded configuration.
func (p *Provider) Current() *config.Config {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

// Watch watches the config file for changes and calls onChange when the file
// is modified. The parent directory is watched so that editors which replace
// the file by rename are noticed too.
func (p *Provider) Watch(ctx context.Context, onChange func(*config.Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	p.mu.Lock()
	p.watcher = watcher
	p.mu.Unlock()

	dir := filepath.Dir(p.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	p.logger.Info("watching config file for changes", slog.String("path", p.path))

	go func() {
		defer watcher.Close()

		for {
			select {
			case <-ctx.Done():
				p.logger.Debug("config watch stopped")
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != p.path {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}

				p.logger.Info("config file changed, reloading", slog.String("path", event.Name))

				cfg, err := config.Load(p.path)
				if err != nil {
					p.logger.Error("failed to reload config",
						slog.String("error", err.Error()),
						slog.String("path", p.path))
					continue
				}

				p.mu.Lock()
				p.current = cfg
				p.mu.Unlock()

				onChange(cfg)

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				p.logger.Error("config watch error", slog.String("error", err.Error()))
			}
		}
	}()

	return nil
}

// Close stops watching the config file.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.watcher != nil {
		return p.watcher.Close()
	}

	return nil
}

var _ ports.ConfigProvider = (*Provider)(nil)
