package ports

import (
	"context"

	"github.com/tjfontaine/polyglot-keyconf/internal/core/domain"
	"github.com/tjfontaine/polyglot-keyconf/internal/pkg/config"
)

// ConfigProvider loads and watches the service configuration.
// Implementations: file-based (default).
type ConfigProvider interface {
	Load(ctx context.Context) (*config.Config, error)
	Watch(ctx context.Context, onChange func(*config.Config)) error
	Close() error
}

// Updater applies a configuration update to the provider and registry
// documents.
type Updater interface {
	Apply(ctx context.Context, req domain.UpdateRequest) (*domain.UpdateOutcome, error)

	// CurrentAPIKey returns the authoritative credential of the current
	// provider document. It is a read, not part of any pending update.
	CurrentAPIKey(ctx context.Context) (string, error)
}

// Reloader triggers reloads in the host that consumes the documents.
// Implementations: LangBot HTTP API, no-op.
type Reloader interface {
	ReloadPlugins(ctx context.Context) error
	ReloadPlatform(ctx context.Context) error
	ReloadProviders(ctx context.Context) error
}

// Notifier delivers replies that are produced outside a request, such as the
// result of a background reload.
// Implementations: webhook callback, structured log.
type Notifier interface {
	Notify(ctx context.Context, userID, text string) error
}
