package vault

import (
	"context"
	"fmt"

	"github.com/systmms/seccat/internal/logging"
	"github.com/systmms/seccat/internal/metrics"
	"github.com/systmms/seccat/internal/secure"
	"github.com/systmms/seccat/pkg/effect"
)

// AsyncTokenResolver is implemented by resolvers that can look up a token
// without blocking the caller. Resolvers that only implement TokenResolver are
// run on a background goroutine instead.
type AsyncTokenResolver interface {
	TokenResolver
	ResolveVaultTokenAsync(ctx context.Context, owner string) *effect.Future[string]
}

// Factory builds tenant-scoped clients.
type Factory struct {
	backend  Backend
	resolver TokenResolver
	logger   *logging.Logger
	metrics  *metrics.Recorder
}

// FactoryOption configures a Factory.
type FactoryOption func(*Factory)

// WithLogger sets the logger handed to every client.
func WithLogger(l *logging.Logger) FactoryOption {
	return func(f *Factory) {
		f.logger = l
	}
}

// NewFactory creates a factory for backend, resolving tokens through resolver.
func NewFactory(backend Backend, resolver TokenResolver, opts ...FactoryOption) *Factory {
	f := &Factory{
		backend:  backend,
		resolver: resolver,
		logger:   logging.Discard(),
		metrics:  metrics.NewRecorder(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// ForOwner resolves owner's token on the calling goroutine and returns a
// client bound to it. Failures wrap ErrResolution.
func (f *Factory) ForOwner(ctx context.Context, owner string) (*Client, error) {
	lookup := effect.Effect[string](func(ctx context.Context) (string, error) {
		return f.resolver.ResolveVaultToken(ctx, owner)
	})
	return f.bind(owner, lookup).Run(ctx)
}

// ForOwnerAsync starts resolving owner's token and returns immediately. The
// token is always looked up through the non-blocking path.
func (f *Factory) ForOwnerAsync(ctx context.Context, owner string) *effect.Future[*Client] {
	if owner == "" {
		return effect.Failed[*Client](resolutionError(owner, fmt.Errorf("owner is empty")))
	}

	var pending *effect.Future[string]
	if async, ok := f.resolver.(AsyncTokenResolver); ok {
		pending = async.ResolveVaultTokenAsync(ctx, owner)
	} else {
		pending = effect.Effect[string](func(ctx context.Context) (string, error) {
			return f.resolver.ResolveVaultToken(ctx, owner)
		}).Start(ctx)
	}
	return f.bind(owner, effect.FromFuture(pending)).Start(ctx)
}

func (f *Factory) bind(owner string, lookup effect.Effect[string]) effect.Effect[*Client] {
	return func(ctx context.Context) (*Client, error) {
		if owner == "" {
			return nil, resolutionError(owner, fmt.Errorf("owner is empty"))
		}

		token, err := lookup(ctx)
		if err != nil {
			return nil, resolutionError(owner, err)
		}
		sealed, err := secure.Seal(token)
		if err != nil {
			return nil, resolutionError(owner, err)
		}

		f.logger.Debug("Resolved %s vault client for %s", f.backend.Name(), owner)
		return &Client{
			owner:   owner,
			token:   sealed,
			backend: f.backend,
			logger:  f.logger,
			metrics: f.metrics,
		}, nil
	}
}

func resolutionError(owner string, err error) error {
	return fmt.Errorf("%w for owner %q: %w", ErrResolution, owner, err)
}
