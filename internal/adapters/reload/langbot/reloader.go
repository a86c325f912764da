// Package langbot triggers reloads in a LangBot host through its HTTP API.
package langbot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tjfontaine/polyglot-keyconf/internal/core/ports"
)

// ReloadPath is the host endpoint that performs reloads.
const ReloadPath = "/api/v1/system/reload"

// Reloader implements ports.Reloader against a LangBot host.
type Reloader struct {
	endpoint string
	token    string
	client   *http.Client
	tracer   trace.Tracer
}

// Config configures a Reloader.
type Config struct {
	BaseURL string
	Token   string // sent as a bearer token when set
	Timeout time.Duration
}

// Option configures a Reloader.
type Option func(*Reloader)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Reloader) {
		r.client = c
	}
}

// New creates a Reloader.
func New(cfg Config, opts ...Option) (*Reloader, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("langbot: base URL is required")
	}

	r := &Reloader{
		endpoint: strings.TrimRight(cfg.BaseURL, "/") + ReloadPath,
		token:    cfg.Token,
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		tracer: otel.Tracer("github.com/tjfontaine/polyglot-keyconf/internal/adapters/reload/langbot"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func (r *Reloader) ReloadPlugins(ctx context.Context) error {
	return r.reload(ctx, "plugin")
}

func (r *Reloader) ReloadPlatform(ctx context.Context) error {
	return r.reload(ctx, "platform")
}

func (r *Reloader) ReloadProviders(ctx context.Context) error {
	return r.reload(ctx, "provider")
}

type reloadRequest struct {
	Scope string `json:"scope"`
}

type reloadResponse struct {
	Code *int   `json:"code"`
	Msg  string `json:"msg"`
}

func (r *Reloader) reload(ctx context.Context, scope string) error {
	ctx, span := r.tracer.Start(ctx, "langbot.reload", trace.WithAttributes(attribute.String("keyconf.reload_scope", scope)))
	defer span.End()

	if err := r.doRequest(ctx, scope); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (r *Reloader) doRequest(ctx context.Context, scope string) error {
	body, err := json.Marshal(reloadRequest{Scope: scope})
	if err != nil {
		return fmt.Errorf("marshal reload request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("reload %s request failed: %w", scope, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("reload %s returned status %d: %s", scope, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	// An empty or non-JSON 2xx body counts as success.
	var out reloadResponse
	if len(bytes.TrimSpace(respBody)) == 0 || json.Unmarshal(respBody, &out) != nil {
		return nil
	}
	if out.Code != nil && *out.Code != 0 {
		return fmt.Errorf("reload %s failed with code %d: %s", scope, *out.Code, out.Msg)
	}
	return nil
}

var _ ports.Reloader = (*Reloader)(nil)

// Noop is a Reloader for hosts without a reload API. Every call fails so the
// user is told to restart by hand.
type Noop struct{}

// ErrNotConfigured is returned by Noop.
var ErrNotConfigured = errors.New("no reload endpoint is configured; restart the host to apply changes")

func (Noop) ReloadPlugins(context.Context) error   { return ErrNotConfigured }
func (Noop) ReloadPlatform(context.Context) error  { return ErrNotConfigured }
func (Noop) ReloadProviders(context.Context) error { return ErrNotConfigured }

var _ ports.Reloader = Noop{}
