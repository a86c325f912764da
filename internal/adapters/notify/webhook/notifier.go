// Package webhook delivers asynchronous replies to a chat bridge over HTTP.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tjfontaine/polyglot-keyconf/internal/core/ports"
	"github.com/tjfontaine/polyglot-keyconf/internal/pkg/safehttp"
)

// Notifier POSTs {"user_id", "text"} to a callback URL.
type Notifier struct {
	url     string
	headers map[string]string
	client  *http.Client
}

// Config configures a Notifier.
type Config struct {
	URL     string
	Timeout time.Duration
	Headers map[string]string
	// PublicOnly refuses callbacks that resolve to private addresses.
	PublicOnly bool
}

// New creates a Notifier.
func New(cfg Config) (*Notifier, error) {
	if cfg.URL == "" {
		return nil, errors.New("webhook: callback URL is required")
	}
	base := http.DefaultTransport
	if cfg.PublicOnly {
		base = safehttp.NewTransport(cfg.Timeout)
	}
	return &Notifier{
		url:     cfg.URL,
		headers: cfg.Headers,
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(base),
		},
	}, nil
}

type payload struct {
	UserID string `json:"user_id"`
	Text   string `json:"text"`
}

func (n *Notifier) Notify(ctx context.Context, userID, text string) error {
	body, err := json.Marshal(payload{UserID: userID, Text: text})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range n.headers {
		req.Header.Set(k, v)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("notification request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("callback returned status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

var _ ports.Notifier = (*Notifier)(nil)
