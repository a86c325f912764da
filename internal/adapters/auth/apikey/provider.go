// Package apikey provides API key-based authentication for admin endpoints.
package apikey

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"github.com/tjfontaine/polyglot-keyconf/internal/core/ports"
	"github.com/tjfontaine/polyglot-keyconf/internal/pkg/config"
)

// ErrInvalidKey is returned for unknown or empty keys.
var ErrInvalidKey = errors.New("invalid API key")

// Provider implements ports.AuthProvider over SHA-256 key hashes.
type Provider struct {
	mu         sync.RWMutex
	keyHashMap map[string]string // keyHash -> principal
}

// NewProvider creates a provider for the configured admin keys.
func NewProvider(keys []config.AdminKeyConfig) (*Provider, error) {
	p := &Provider{}
	if err := p.load(keys); err != nil {
		return nil, err
	}
	return p, nil
}

// Authenticate validates an API key and returns the principal it belongs to.
func (p *Provider) Authenticate(ctx context.Context, token string) (*ports.AuthContext, error) {
	if token == "" {
		return nil, ErrInvalidKey
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	principal, ok := p.keyHashMap[HashAPIKey(token)]
	if !ok {
		return nil, ErrInvalidKey
	}
	return &ports.AuthContext{Principal: principal}, nil
}

// Len returns the number of configured keys.
func (p *Provider) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.keyHashMap)
}

// ReloadFromConfig replaces the key set. On error the previous keys stay.
func (p *Provider) ReloadFromConfig(cfg *config.Config) error {
	return p.load(cfg.Server.AdminKeys)
}

func (p *Provider) load(keys []config.AdminKeyConfig) error {
	m := make(map[string]string, len(keys))
	for i, k := range keys {
		if len(k.KeyHash) != sha256.Size*2 {
			return fmt.Errorf("admin key %d: key_hash must be a hex SHA-256 digest", i)
		}
		if _, err := hex.DecodeString(k.KeyHash); err != nil {
			return fmt.Errorf("admin key %d: %w", i, err)
		}
		name := k.Name
		if name == "" {
			name = fmt.Sprintf("key-%d", i)
		}
		m[k.KeyHash] = name
	}

	p.mu.Lock()
	p.keyHashMap = m
	p.mu.Unlock()
	return nil
}

// HashAPIKey creates a SHA-256 hash of an API key for storage.
func HashAPIKey(apiKey string) string {
	hash := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(hash[:])
}

var _ ports.AuthProvider = (*Provider)(nil)
