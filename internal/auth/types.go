package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Common errors returned by the authentication subsystem.
var (
	ErrDisabled         = errors.New("authentication disabled")
	ErrMissingKey       = errors.New("missing api key")
	ErrInvalidKey       = errors.New("invalid api key")
	ErrPermissionDenied = errors.New("permission denied")
	ErrKeyRevoked       = errors.New("api key is disabled")
)

// Store abstracts the persistent API key catalogue used by the
// authentication service. Implementations must be safe for concurrent use.
type Store interface {
	FindKey(ctx context.Context, key string) (*Principal, error)
}

// SeedWriter is implemented by stores that can upsert seed keys for
// bootstrapping.
type SeedWriter interface {
	ApplySeed(ctx context.Context, seed Seed) error
}

// Principal identifies the caller behind an API key and is passed to
// request handlers via context.
type Principal struct {
	Name     string
	Scopes   []string
	Disabled bool

	scopeSet map[string]struct{}
}

// normalise prepares the lookup set for scope checks.
func (p *Principal) normalise() {
	if p == nil {
		return
	}
	if p.scopeSet == nil {
		p.scopeSet = make(map[string]struct{}, len(p.Scopes))
		for _, scope := range p.Scopes {
			p.scopeSet[strings.ToLower(strings.TrimSpace(scope))] = struct{}{}
		}
	}
}

// HasScope reports whether the principal carries the specified scope.
func (p *Principal) HasScope(scope string) bool {
	if p == nil {
		return false
	}
	p.normalise()
	_, ok := p.scopeSet[strings.ToLower(strings.TrimSpace(scope))]
	return ok
}

// Authorize ensures the principal has all required scopes.
func (p *Principal) Authorize(scopes ...string) error {
	if p == nil {
		return ErrInvalidKey
	}
	if p.Disabled {
		return ErrKeyRevoked
	}
	for _, scope := range scopes {
		if scope == "" {
			continue
		}
		if !p.HasScope(scope) {
			return fmt.Errorf("%w: missing %s", ErrPermissionDenied, scope)
		}
	}
	return nil
}

// Clone creates a shallow copy of the principal.
func (p *Principal) Clone() *Principal {
	if p == nil {
		return nil
	}
	clone := &Principal{
		Name:     p.Name,
		Scopes:   append([]string(nil), p.Scopes...),
		Disabled: p.Disabled,
	}
	clone.normalise()
	return clone
}

// Config configures the authentication service.
type Config struct {
	Mode  Mode
	Seeds []Seed
}

// Mode enumerates the supported authentication providers.
type Mode string

const (
	ModeDisabled Mode = "disabled"
	ModeAPIKey   Mode = "apikey"
)

// Seed defines an initial API key to bootstrap.
type Seed struct {
	Key      string
	Name     string
	Scopes   []string
	Disabled bool
}
