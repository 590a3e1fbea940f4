package secrettype

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/systmms/seccat/internal/logging"
	"github.com/systmms/seccat/internal/metrics"
)

// Registry owns the catalog of secret types.
type Registry struct {
	store   Store
	logger  *logging.Logger
	metrics *metrics.Recorder
	now     func() time.Time
	newID   func() string
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(l *logging.Logger) Option {
	return func(r *Registry) {
		r.logger = l
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// NewRegistry creates a registry backed by store.
func NewRegistry(store Store, opts ...Option) *Registry {
	r := &Registry{
		store:   store,
		logger:  logging.Discard(),
		metrics: metrics.NewRecorder(),
		now:     func() time.Time { return time.Now().UTC() },
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Define validates fieldsSchema and stores a new type for owner. It never
// reuses an existing type; see FindOrDefine.
func (r *Registry) Define(ctx context.Context, owner, name string, fieldsSchema json.RawMessage) (*SecretType, error) {
	t, err := r.define(ctx, owner, name, fieldsSchema)
	r.metrics.CatalogOperation("define_type", outcome(err))
	return t, err
}

func (r *Registry) define(ctx context.Context, owner, name string, fieldsSchema json.RawMessage) (*SecretType, error) {
	if owner == "" {
		return nil, fmt.Errorf("owner is required to define a secret type")
	}
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if err := ValidateSchema(fieldsSchema); err != nil {
		return nil, err
	}
	hash, err := SchemaHash(fieldsSchema)
	if err != nil {
		return nil, &SchemaError{Reasons: []string{err.Error()}}
	}

	now := r.now()
	t := &SecretType{
		ID:           r.newID(),
		Owner:        owner,
		Name:         name,
		FieldsSchema: append(json.RawMessage(nil), fieldsSchema...),
		SchemaHash:   hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := r.store.CreateType(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to store secret type: %w", err)
	}

	r.logger.Debug("Defined secret type %s (%s) for %s", t.ID, t.Name, owner)
	return t, nil
}

// Get returns the type with the given id.
func (r *Registry) Get(ctx context.Context, id string) (*SecretType, error) {
	t, err := r.store.GetType(ctx, id)
	r.metrics.CatalogOperation("get_type", outcome(err))
	return t, err
}

// List returns owner's types together with the built-ins.
func (r *Registry) List(ctx context.Context, owner string) ([]*SecretType, error) {
	owners := []string{BuiltinOwner}
	if owner != "" && owner != BuiltinOwner {
		owners = append(owners, owner)
	}
	types, err := r.store.ListTypes(ctx, owners...)
	r.metrics.CatalogOperation("list_types", outcome(err))
	return types, err
}

// Delete removes one of owner's types. Types still referenced by secrets are
// kept and ErrInUse is returned; vault material is never touched here.
func (r *Registry) Delete(ctx context.Context, owner, id string) error {
	err := r.delete(ctx, owner, id)
	r.metrics.CatalogOperation("delete_type", outcome(err))
	return err
}

func (r *Registry) delete(ctx context.Context, owner, id string) error {
	t, err := r.store.GetType(ctx, id)
	if err != nil {
		return err
	}
	if t.IsBuiltin() && owner != BuiltinOwner {
		return ErrForbidden
	}
	if t.Owner != owner {
		// Indistinguishable from a missing type.
		return ErrNotFound
	}
	if err := r.store.DeleteType(ctx, id); err != nil {
		return err
	}
	r.logger.Debug("Deleted secret type %s", id)
	return nil
}

// FindOrDefine returns an existing type visible to owner whose canonical
// schema matches fieldsSchema, preferring owner's own types over built-ins.
// Otherwise it defines a new type. The boolean is true when a type was created.
func (r *Registry) FindOrDefine(ctx context.Context, owner, name string, fieldsSchema json.RawMessage) (*SecretType, bool, error) {
	if err := ValidateSchema(fieldsSchema); err != nil {
		return nil, false, err
	}
	hash, err := SchemaHash(fieldsSchema)
	if err != nil {
		return nil, false, &SchemaError{Reasons: []string{err.Error()}}
	}

	matches, err := r.store.FindTypesByHash(ctx, hash, owner, BuiltinOwner)
	if err != nil {
		return nil, false, fmt.Errorf("failed to look up secret types by schema: %w", err)
	}
	if t := preferOwned(matches, owner); t != nil {
		r.logger.Debug("Reusing secret type %s for schema %s", t.ID, hash[:12])
		return t, false, nil
	}

	t, err := r.Define(ctx, owner, name, fieldsSchema)
	if err != nil {
		return nil, false, err
	}
	return t, true, nil
}

func preferOwned(types []*SecretType, owner string) *SecretType {
	var builtin *SecretType
	for _, t := range types {
		if t.Owner == owner {
			return t
		}
		if t.IsBuiltin() && builtin == nil {
			builtin = t
		}
	}
	return builtin
}

// EnsureBuiltins installs the given built-in types. A definition is skipped
// when a built-in with the same name and schema already exists.
func (r *Registry) EnsureBuiltins(ctx context.Context, defs []BuiltinDefinition) ([]*SecretType, error) {
	out := make([]*SecretType, 0, len(defs))
	for _, def := range defs {
		if err := ValidateSchema(def.FieldsSchema); err != nil {
			return nil, fmt.Errorf("built-in type %q: %w", def.Name, err)
		}
		hash, err := SchemaHash(def.FieldsSchema)
		if err != nil {
			return nil, fmt.Errorf("built-in type %q: %w", def.Name, err)
		}

		existing, err := r.store.FindTypesByHash(ctx, hash, BuiltinOwner)
		if err != nil {
			return nil, fmt.Errorf("failed to look up built-in type %q: %w", def.Name, err)
		}
		var found *SecretType
		for _, t := range existing {
			if t.Name == def.Name {
				found = t
				break
			}
		}
		if found == nil {
			found, err = r.Define(ctx, BuiltinOwner, def.Name, def.FieldsSchema)
			if err != nil {
				return nil, fmt.Errorf("built-in type %q: %w", def.Name, err)
			}
			r.logger.Info("Installed built-in secret type %s", def.Name)
		}
		out = append(out, found)
	}
	return out, nil
}

// ValidateName checks a display name.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: name is empty", ErrInvalidName)
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidName, MaxNameLength)
	}
	return nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrSchemaInvalid):
		return "schema_invalid"
	case errors.Is(err, ErrInUse):
		return "in_use"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrInvalidName):
		return "invalid_name"
	default:
		return "error"
	}
}
