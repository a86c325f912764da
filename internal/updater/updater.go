// Package updater applies a configuration update to the provider and model
// registry documents as one backed-up, ordered transaction.
//
// The steps are: back up both documents, read the provider document, merge the
// model into the registry and replace it atomically, then edit and atomically
// replace the provider document. A failure at any step aborts the remaining
// steps. Nothing is retried.
package updater

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tjfontaine/polyglot-keyconf/internal/core/domain"
	"github.com/tjfontaine/polyglot-keyconf/internal/core/ports"
	"github.com/tjfontaine/polyglot-keyconf/internal/documents"
)

// Config locates the documents and describes the fields an update writes.
type Config struct {
	ProviderPath  string
	RegistryPath  string
	Namespace     string // managed registry prefix, without the trailing slash
	Kind          string // requester.<Kind>.base-url
	CredentialKey string // keys.<CredentialKey>
}

// Updater implements ports.Updater on the local filesystem. Updates are
// serialised by a mutex so concurrent sessions cannot interleave their
// writes to the same documents.
type Updater struct {
	cfg    Config
	mu     sync.Mutex
	now    func() time.Time
	logger *slog.Logger
	tracer trace.Tracer
	write  func(path string, data []byte) error
}

// Option configures an Updater.
type Option func(*Updater)

// WithClock sets the clock used to name backups.
func WithClock(now func() time.Time) Option {
	return func(u *Updater) {
		u.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(u *Updater) {
		u.logger = logger
	}
}

// New creates an Updater.
func New(cfg Config, opts ...Option) (*Updater, error) {
	if cfg.ProviderPath == "" || cfg.RegistryPath == "" {
		return nil, fmt.Errorf("provider and registry paths are required")
	}
	if cfg.Namespace == "" {
		return nil, fmt.Errorf("namespace is required")
	}
	if cfg.Kind == "" {
		cfg.Kind = "openai-chat-completions"
	}
	if cfg.CredentialKey == "" {
		cfg.CredentialKey = "openai"
	}

	u := &Updater{
		cfg:    cfg,
		now:    time.Now,
		logger: slog.Default(),
		tracer: otel.Tracer("github.com/tjfontaine/polyglot-keyconf/internal/updater"),
		write:  documents.WriteAtomic,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u, nil
}

// ModelRef returns the provider `model` value for modelName.
func (u *Updater) ModelRef(modelName string) string {
	return u.cfg.Namespace + "/" + modelName
}

// CurrentAPIKey returns the first credential of the current provider document.
func (u *Updater) CurrentAPIKey(ctx context.Context) (string, error) {
	doc, err := documents.LoadProvider(u.cfg.ProviderPath)
	if err != nil {
		return "", readError(u.cfg.ProviderPath, err)
	}
	creds := doc.Credentials(u.cfg.CredentialKey)
	if len(creds) == 0 || creds[0] == "" {
		return "", domain.NewConfigError(domain.ErrorKindConfigRead, "read credentials", u.cfg.ProviderPath,
			fmt.Errorf("keys.%s is empty", u.cfg.CredentialKey))
	}
	return creds[0], nil
}

// Apply runs the update transaction.
func (u *Updater) Apply(ctx context.Context, req domain.UpdateRequest) (*domain.UpdateOutcome, error) {
	ctx, span := u.tracer.Start(ctx, "updater.Apply", trace.WithAttributes(
		attribute.String("keyconf.mode", req.Mode.String()),
		attribute.String("keyconf.model", req.ModelName),
	))
	defer span.End()

	out, err := u.apply(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		u.logger.Error("config update failed",
			slog.String("user_id", req.UserID),
			slog.String("mode", req.Mode.String()),
			slog.String("model", req.ModelName),
			slog.String("error", err.Error()))
		return nil, err
	}

	span.SetAttributes(attribute.Bool("keyconf.model_existed", out.ModelExisted))
	u.logger.Info("config updated",
		slog.String("user_id", req.UserID),
		slog.String("mode", req.Mode.String()),
		slog.String("model", out.ModelRef),
		slog.Bool("model_existed", out.ModelExisted),
		slog.String("registry_backup", out.RegistryBackup),
		slog.String("provider_backup", out.ProviderBackup))
	return out, nil
}

func (u *Updater) apply(ctx context.Context, req domain.UpdateRequest) (*domain.UpdateOutcome, error) {
	switch req.Mode {
	case domain.ModeFullSetup:
		if req.APIKey == "" {
			return nil, domain.NewConfigError(domain.ErrorKindInputFormat, "validate", "", errors.New("api key is required"))
		}
	case domain.ModeModelOnly:
	default:
		return nil, domain.NewConfigError(domain.ErrorKindInputFormat, "validate", "", fmt.Errorf("unknown mode %q", req.Mode))
	}
	if req.ModelName == "" {
		return nil, domain.NewConfigError(domain.ErrorKindInputFormat, "validate", "", errors.New("model name is required"))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	out := &domain.UpdateOutcome{
		Mode:      req.Mode,
		ModelName: req.ModelName,
		ModelRef:  u.ModelRef(req.ModelName),
	}

	// 1. Backups. An existing document that cannot be copied stops the
	// update before anything is written.
	now := u.now()
	var err error
	if out.RegistryBackup, err = documents.Backup(u.cfg.RegistryPath, now); err != nil {
		return nil, domain.NewConfigError(domain.ErrorKindBackup, "backup", u.cfg.RegistryPath, err)
	}
	if out.ProviderBackup, err = documents.Backup(u.cfg.ProviderPath, now); err != nil {
		return nil, domain.NewConfigError(domain.ErrorKindBackup, "backup", u.cfg.ProviderPath, err)
	}
	fail := func(err *domain.ConfigError) (*domain.UpdateOutcome, error) {
		return nil, err.WithBackup(out.ProviderBackup)
	}

	// 2. Read the provider document before touching the registry so that a
	// model-only update against a missing document mutates nothing.
	provider, err := documents.LoadProvider(u.cfg.ProviderPath)
	switch {
	case err == nil:
	case errors.Is(err, fs.ErrNotExist) && req.Mode == domain.ModeFullSetup:
		provider = documents.NewProviderDocument()
		out.ProviderCreated = true
	default:
		return fail(readError(u.cfg.ProviderPath, err))
	}

	// 3-5. Merge the model into the registry and replace it.
	registry, err := documents.LoadRegistry(u.cfg.RegistryPath)
	if err != nil {
		return fail(domain.NewConfigError(domain.ErrorKindConfigRead, "read registry", u.cfg.RegistryPath, err))
	}
	if registry.Reset != "" {
		u.logger.Warn("model registry unusable, starting from an empty list",
			slog.String("path", u.cfg.RegistryPath),
			slog.String("reason", registry.Reset))
	}

	rec, existed, err := registry.AddManaged(u.cfg.Namespace, req.ModelName)
	if err != nil {
		return fail(domain.NewConfigError(domain.ErrorKindWrite, "merge registry", u.cfg.RegistryPath, err))
	}
	out.DisplayName = rec.DisplayName
	out.ModelExisted = existed

	data, err := registry.Bytes()
	if err != nil {
		return fail(domain.NewConfigError(domain.ErrorKindWrite, "encode registry", u.cfg.RegistryPath, err))
	}
	if err := u.write(u.cfg.RegistryPath, data); err != nil {
		return fail(domain.NewConfigError(domain.ErrorKindWrite, "write registry", u.cfg.RegistryPath, err))
	}
	if existed {
		out.Changes = append(out.Changes, domain.Change{Document: "registry", Field: "list", Detail: rec.DisplayName + " already existed in the model registry"})
	} else {
		out.Changes = append(out.Changes, domain.Change{Document: "registry", Field: "list", Detail: "added " + rec.DisplayName + " to the model registry"})
	}

	// 6. Edit the provider document.
	if req.Mode == domain.ModeFullSetup {
		if err := provider.SetCredentials(u.cfg.CredentialKey, []string{req.APIKey}); err != nil {
			return fail(domain.NewConfigError(domain.ErrorKindWrite, "set credentials", u.cfg.ProviderPath, err))
		}
		out.Changes = append(out.Changes, domain.Change{Document: "provider", Field: "keys." + u.cfg.CredentialKey, Detail: "API key set"})

		if err := provider.SetBaseURL(u.cfg.Kind, req.APIURL); err != nil {
			return fail(domain.NewConfigError(domain.ErrorKindWrite, "set base url", u.cfg.ProviderPath, err))
		}
		out.Changes = append(out.Changes, domain.Change{Document: "provider", Field: "requester." + u.cfg.Kind + ".base-url", Detail: "base URL set to " + req.APIURL})
	}
	if err := provider.SetModel(out.ModelRef); err != nil {
		return fail(domain.NewConfigError(domain.ErrorKindWrite, "set model", u.cfg.ProviderPath, err))
	}
	out.Changes = append(out.Changes, domain.Change{Document: "provider", Field: "model", Detail: "default model set to " + out.ModelRef})

	// 7. Replace the provider document.
	if err := u.write(u.cfg.ProviderPath, provider.Bytes()); err != nil {
		return fail(domain.NewConfigError(domain.ErrorKindWrite, "write provider", u.cfg.ProviderPath, err))
	}

	return out, nil
}

func readError(path string, err error) *domain.ConfigError {
	if errors.Is(err, fs.ErrNotExist) {
		return domain.NewConfigError(domain.ErrorKindConfigRead, "read provider", path, domain.ErrProviderMissing)
	}
	return domain.NewConfigError(domain.ErrorKindConfigRead, "read provider", path, err)
}

var _ ports.Updater = (*Updater)(nil)
