package commands

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/systmms/seccat/internal/config"
	dserrors "github.com/systmms/seccat/internal/errors"
	"github.com/systmms/seccat/internal/logging"
	"github.com/systmms/seccat/internal/metrics"
	"github.com/systmms/seccat/internal/store"
	"github.com/systmms/seccat/pkg/catalog"
	"github.com/systmms/seccat/pkg/secretstore"
	"github.com/systmms/seccat/pkg/secrettype"
	"github.com/systmms/seccat/pkg/vault"
)

// Env carries the configuration and the services opened from it to every
// command. Services are opened on first use and shared by later commands run
// against the same Env.
type Env struct {
	Config *config.Config

	mu      sync.Mutex
	store   store.Store
	types   *secrettype.Registry
	catalog *catalog.Catalog
	secrets *secretstore.Store

	// backend replaces the configured vault backend when set.
	backend vault.Backend
}

// NewEnv creates an Env for cfg. Nothing is opened until a command needs it.
func NewEnv(cfg *config.Config) *Env {
	return &Env{Config: cfg}
}

func (e *Env) logger() *logging.Logger {
	if e.Config.Logger == nil {
		e.Config.Logger = logging.New(false, false)
	}
	return e.Config.Logger
}

func (e *Env) load() error {
	if e.Config.Definition != nil {
		return nil
	}
	return e.Config.Load()
}

// Store opens the metadata store without touching its schema.
func (e *Env) Store(ctx context.Context) (store.Store, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.openStore(ctx)
}

func (e *Env) openStore(ctx context.Context) (store.Store, error) {
	if e.store != nil {
		return e.store, nil
	}
	if err := e.load(); err != nil {
		return nil, err
	}
	metrics.InitMetrics()

	s, err := e.Config.OpenStore(ctx)
	if err != nil {
		return nil, err
	}
	if e.Config.Definition.Catalog.Driver == config.DriverMemory {
		if err := s.Migrate(ctx); err != nil {
			return nil, err
		}
	}
	e.store = s
	return s, nil
}

// Catalog opens the type registry and the catalog, making sure the configured
// built-in types exist.
func (e *Env) Catalog(ctx context.Context) (*secrettype.Registry, *catalog.Catalog, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.openCatalog(ctx)
}

func (e *Env) openCatalog(ctx context.Context) (*secrettype.Registry, *catalog.Catalog, error) {
	if e.catalog != nil {
		return e.types, e.catalog, nil
	}
	s, err := e.openStore(ctx)
	if err != nil {
		return nil, nil, err
	}

	logger := e.logger()
	types := secrettype.NewRegistry(s, secrettype.WithLogger(logger))
	if err := ensureBuiltins(ctx, e.Config, types); err != nil {
		return nil, nil, err
	}

	e.types = types
	e.catalog = catalog.New(s, types, catalog.WithLogger(logger))
	return e.types, e.catalog, nil
}

// Secrets opens everything Catalog does plus the vault side.
func (e *Env) Secrets(ctx context.Context) (*secretstore.Store, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.secrets != nil {
		return e.secrets, nil
	}
	types, cat, err := e.openCatalog(ctx)
	if err != nil {
		return nil, err
	}

	backend := e.backend
	if backend == nil {
		backend, err = e.Config.NewBackend(ctx)
		if err != nil {
			return nil, err
		}
	}
	resolver, err := e.Config.NewResolver()
	if err != nil {
		return nil, err
	}

	logger := e.logger()
	factory := vault.NewFactory(backend, resolver, vault.WithLogger(logger))
	e.secrets = secretstore.New(cat, types, factory, secretstore.WithLogger(logger))
	return e.secrets, nil
}

// Close releases the metadata store.
func (e *Env) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.store != nil {
		_ = e.store.Close()
		e.store = nil
	}
}

func ensureBuiltins(ctx context.Context, cfg *config.Config, types *secrettype.Registry) error {
	defs, err := cfg.Definition.BuiltinDefinitions()
	if err != nil {
		return err
	}
	if len(defs) == 0 {
		return nil
	}
	if _, err := types.EnsureBuiltins(ctx, defs); err != nil {
		if errors.Is(err, secrettype.ErrSchemaInvalid) {
			return err
		}
		return dserrors.UserError{
			Message:    "Failed to register built-in secret types",
			Details:    err.Error(),
			Suggestion: "Run 'seccat migrate' to create the catalog tables",
			Err:        fmt.Errorf("ensure builtins: %w", err),
		}
	}
	return nil
}
