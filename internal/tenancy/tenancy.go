// Package tenancy resolves owners to vault tokens.
//
// Resolvers implement vault.TokenResolver and vault.AsyncTokenResolver. The
// async form never blocks the caller: lookups that may block, like the OS
// keyring, run on their own goroutine.
package tenancy

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/zalando/go-keyring"

	"github.com/systmms/seccat/pkg/effect"
	"github.com/systmms/seccat/pkg/vault"
)

// ErrUnknownOwner is returned when a resolver has no token for an owner.
var ErrUnknownOwner = errors.New("unknown owner")

var (
	_ vault.AsyncTokenResolver = (*StaticResolver)(nil)
	_ vault.AsyncTokenResolver = (*KeyringResolver)(nil)
	_ vault.AsyncTokenResolver = (*ChainResolver)(nil)
)

// StaticResolver serves tokens from a fixed map, usually from configuration.
type StaticResolver struct {
	tokens map[string]string
}

// NewStaticResolver copies tokens into a new resolver.
func NewStaticResolver(tokens map[string]string) *StaticResolver {
	copied := make(map[string]string, len(tokens))
	for owner, token := range tokens {
		copied[owner] = token
	}
	return &StaticResolver{tokens: copied}
}

// ResolveVaultToken implements vault.TokenResolver.
func (r *StaticResolver) ResolveVaultToken(ctx context.Context, owner string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	token, ok := r.tokens[owner]
	if !ok || token == "" {
		return "", fmt.Errorf("%w: %s", ErrUnknownOwner, owner)
	}
	return token, nil
}

// ResolveVaultTokenAsync implements vault.AsyncTokenResolver. The map lookup
// completes immediately.
func (r *StaticResolver) ResolveVaultTokenAsync(ctx context.Context, owner string) *effect.Future[string] {
	token, err := r.ResolveVaultToken(ctx, owner)
	if err != nil {
		return effect.Failed[string](err)
	}
	return effect.Resolved(token)
}

// Owners returns the configured owners, sorted.
func (r *StaticResolver) Owners() []string {
	owners := make([]string, 0, len(r.tokens))
	for owner := range r.tokens {
		owners = append(owners, owner)
	}
	sort.Strings(owners)
	return owners
}

// DefaultKeyringService is the keyring service name tokens are stored under.
const DefaultKeyringService = "seccat"

// KeyringResolver reads tokens from the OS keyring, one entry per owner under
// a shared service name.
type KeyringResolver struct {
	service string
}

// NewKeyringResolver creates a resolver for service. An empty service uses
// DefaultKeyringService.
func NewKeyringResolver(service string) *KeyringResolver {
	if service == "" {
		service = DefaultKeyringService
	}
	return &KeyringResolver{service: service}
}

// ResolveVaultToken implements vault.TokenResolver.
func (r *KeyringResolver) ResolveVaultToken(ctx context.Context, owner string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	token, err := keyring.Get(r.service, owner)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", fmt.Errorf("%w: %s", ErrUnknownOwner, owner)
		}
		return "", fmt.Errorf("keyring lookup failed: %w", err)
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", fmt.Errorf("%w: %s has an empty keyring entry", ErrUnknownOwner, owner)
	}
	return token, nil
}

// ResolveVaultTokenAsync implements vault.AsyncTokenResolver. Keyring access
// goes over D-Bus or the Keychain API and may block, so it runs on its own
// goroutine.
func (r *KeyringResolver) ResolveVaultTokenAsync(ctx context.Context, owner string) *effect.Future[string] {
	return effect.Effect[string](func(ctx context.Context) (string, error) {
		return r.ResolveVaultToken(ctx, owner)
	}).Start(ctx)
}

// Store saves token for owner in the keyring.
func (r *KeyringResolver) Store(owner, token string) error {
	if err := keyring.Set(r.service, owner, token); err != nil {
		return fmt.Errorf("failed to store token in keyring: %w", err)
	}
	return nil
}

// ChainResolver asks each resolver in turn. The first one that knows the
// owner wins; any other failure stops the chain.
type ChainResolver struct {
	resolvers []vault.TokenResolver
}

// NewChainResolver creates a chain over resolvers.
func NewChainResolver(resolvers ...vault.TokenResolver) *ChainResolver {
	return &ChainResolver{resolvers: resolvers}
}

// ResolveVaultToken implements vault.TokenResolver.
func (c *ChainResolver) ResolveVaultToken(ctx context.Context, owner string) (string, error) {
	for _, r := range c.resolvers {
		token, err := r.ResolveVaultToken(ctx, owner)
		if err == nil {
			return token, nil
		}
		if !errors.Is(err, ErrUnknownOwner) {
			return "", err
		}
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownOwner, owner)
}

// ResolveVaultTokenAsync implements vault.AsyncTokenResolver. Each link is
// resolved through its own async path when it has one.
func (c *ChainResolver) ResolveVaultTokenAsync(ctx context.Context, owner string) *effect.Future[string] {
	return effect.Effect[string](func(ctx context.Context) (string, error) {
		for _, r := range c.resolvers {
			var lookup *effect.Future[string]
			if async, ok := r.(vault.AsyncTokenResolver); ok {
				lookup = async.ResolveVaultTokenAsync(ctx, owner)
			} else {
				r := r
				lookup = effect.Effect[string](func(ctx context.Context) (string, error) {
					return r.ResolveVaultToken(ctx, owner)
				}).Start(ctx)
			}

			token, err := lookup.Await(ctx)
			if err == nil {
				return token, nil
			}
			if !errors.Is(err, ErrUnknownOwner) {
				return "", err
			}
		}
		return "", fmt.Errorf("%w: %s", ErrUnknownOwner, owner)
	}).Start(ctx)
}
