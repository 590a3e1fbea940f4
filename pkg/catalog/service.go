package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/systmms/seccat/internal/logging"
	"github.com/systmms/seccat/internal/metrics"
	"github.com/systmms/seccat/pkg/secrettype"
)

// TypeLookup resolves secret types. *secrettype.Registry implements it.
type TypeLookup interface {
	Get(ctx context.Context, id string) (*secrettype.SecretType, error)
}

// Catalog provides owner-scoped access to catalog entries.
type Catalog struct {
	store   Store
	types   TypeLookup
	logger  *logging.Logger
	metrics *metrics.Recorder
	now     func() time.Time
	newID   func() string
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithLogger sets the catalog logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Catalog) {
		c.logger = l
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Catalog) {
		c.now = now
	}
}

// WithIDGenerator overrides the identifier source, for tests.
func WithIDGenerator(newID func() string) Option {
	return func(c *Catalog) {
		c.newID = newID
	}
}

// New creates a catalog over store, resolving types through types.
func New(store Store, types TypeLookup, opts ...Option) *Catalog {
	c := &Catalog{
		store:   store,
		types:   types,
		logger:  logging.Discard(),
		metrics: metrics.NewRecorder(),
		now:     func() time.Time { return time.Now().UTC() },
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Create registers a new, empty entry. Material is written separately at the
// returned entry's Path.
func (c *Catalog) Create(ctx context.Context, owner, typeID, name string) (*Secret, error) {
	s, err := c.create(ctx, owner, typeID, name)
	c.record("create", err)
	return s, err
}

func (c *Catalog) create(ctx context.Context, owner, typeID, name string) (*Secret, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	t, err := c.types.Get(ctx, typeID)
	if err != nil {
		if errors.Is(err, secrettype.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrTypeNotFound, typeID)
		}
		return nil, fmt.Errorf("failed to look up secret type: %w", err)
	}
	if !t.VisibleTo(owner) {
		return nil, ErrForbidden
	}

	now := c.now()
	s := &Secret{
		ID:        c.newID(),
		Owner:     owner,
		TypeID:    t.ID,
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := c.store.CreateSecret(ctx, s); err != nil {
		if errors.Is(err, ErrTypeNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to store secret: %w", err)
	}

	c.logger.Debug("Created secret %s of type %s for %s", s.ID, s.TypeID, owner)
	return s, nil
}

// Get returns owner's entry with the given id.
func (c *Catalog) Get(ctx context.Context, owner, id string) (*Secret, error) {
	s, err := c.get(ctx, owner, id)
	c.record("get", err)
	return s, err
}

func (c *Catalog) get(ctx context.Context, owner, id string) (*Secret, error) {
	s, err := c.store.GetSecret(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.Owner != owner {
		if IsPrivileged(ctx) {
			return nil, ErrForbidden
		}
		return nil, ErrNotFound
	}
	return s, nil
}

// List returns owner's entries ordered by creation time, optionally limited
// to one type.
func (c *Catalog) List(ctx context.Context, owner, typeID string) ([]*Secret, error) {
	secrets, err := c.store.ListSecrets(ctx, owner, typeID)
	c.record("list", err)
	return secrets, err
}

// Rename changes the display name of owner's entry.
func (c *Catalog) Rename(ctx context.Context, owner, id, newName string) (*Secret, error) {
	s, err := c.rename(ctx, owner, id, newName)
	c.record("rename", err)
	return s, err
}

func (c *Catalog) rename(ctx context.Context, owner, id, newName string) (*Secret, error) {
	if err := validateName(newName); err != nil {
		return nil, err
	}
	s, err := c.get(ctx, owner, id)
	if err != nil {
		return nil, err
	}

	updated := *s
	updated.Name = newName
	updated.UpdatedAt = c.now()
	if err := c.store.UpdateSecret(ctx, &updated); err != nil {
		return nil, err
	}

	c.logger.Debug("Renamed secret %s", id)
	return &updated, nil
}

// Touch bumps UpdatedAt after the entry's material was rewritten.
func (c *Catalog) Touch(ctx context.Context, s *Secret) (*Secret, error) {
	updated := *s
	updated.UpdatedAt = c.now()
	err := c.store.UpdateSecret(ctx, &updated)
	c.record("touch", err)
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// Delete removes owner's entry and returns it. Only metadata is removed; the
// vault is not contacted.
func (c *Catalog) Delete(ctx context.Context, owner, id string) (*Secret, error) {
	s, err := c.delete(ctx, owner, id)
	c.record("delete", err)
	return s, err
}

func (c *Catalog) delete(ctx context.Context, owner, id string) (*Secret, error) {
	s, err := c.get(ctx, owner, id)
	if err != nil {
		return nil, err
	}
	if err := c.store.DeleteSecret(ctx, id); err != nil {
		return nil, err
	}
	c.logger.Debug("Deleted secret %s", id)
	return s, nil
}

func (c *Catalog) record(op string, err error) {
	c.metrics.CatalogOperation(op, Outcome(err))
}

// Outcome classifies err into a metrics label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrTypeNotFound):
		return "type_not_found"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrInvalidName):
		return "invalid_name"
	default:
		return "error"
	}
}

func validateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: name is empty", ErrInvalidName)
	}
	if utf8.RuneCountInString(name) > secrettype.MaxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidName, secrettype.MaxNameLength)
	}
	return nil
}
