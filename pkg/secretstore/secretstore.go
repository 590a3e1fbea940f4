package secretstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/systmms/seccat/internal/logging"
	"github.com/systmms/seccat/internal/metrics"
	"github.com/systmms/seccat/pkg/catalog"
	"github.com/systmms/seccat/pkg/effect"
	"github.com/systmms/seccat/pkg/secrettype"
	"github.com/systmms/seccat/pkg/vault"
)

// ErrVerifyMismatch is returned by Verify when the stored material differs
// from the expected fields.
var ErrVerifyMismatch = errors.New("stored material does not match")

// Material is a secret together with its vault fields.
type Material struct {
	Secret *catalog.Secret
	Fields vault.Fields
}

// DeleteResult describes what Delete removed.
type DeleteResult struct {
	Secret *catalog.Secret

	// MaterialDeleted is true when the vault no longer holds material for the
	// secret, including when there was none to begin with.
	MaterialDeleted bool

	// MaterialErr is the vault failure when MaterialDeleted is false.
	MaterialErr error
}

// Partial reports whether the catalog entry was removed but its material was not.
func (r *DeleteResult) Partial() bool {
	return r != nil && !r.MaterialDeleted
}

// Store runs the secret workflow for any owner.
type Store struct {
	catalog *catalog.Catalog
	types   catalog.TypeLookup
	vaults  *vault.Factory
	logger  *logging.Logger
	metrics *metrics.Recorder
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// New creates a Store over an existing catalog, type lookup and vault factory.
func New(cat *catalog.Catalog, types catalog.TypeLookup, vaults *vault.Factory, opts ...Option) *Store {
	s := &Store{
		catalog: cat,
		types:   types,
		vaults:  vaults,
		logger:  logging.Discard(),
		metrics: metrics.NewRecorder(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create validates fields against the type, creates the catalog entry and
// writes its material. If the write fails, any material it applied and the
// entry are removed and the write error returned.
func (s *Store) Create(ctx context.Context, owner, typeID, name string, fields vault.Fields) (*catalog.Secret, error) {
	return s.createEffect(owner, typeID, name, fields, metrics.ModeSync).Run(ctx)
}

// CreateAsync is the non-blocking form of Create.
func (s *Store) CreateAsync(ctx context.Context, owner, typeID, name string, fields vault.Fields) *effect.Future[*catalog.Secret] {
	return s.createEffect(owner, typeID, name, fields, metrics.ModeAsync).Start(ctx)
}

func (s *Store) createEffect(owner, typeID, name string, fields vault.Fields, mode string) effect.Effect[*catalog.Secret] {
	payload := fields.Clone()
	return func(ctx context.Context) (*catalog.Secret, error) {
		t, err := s.visibleType(ctx, owner, typeID)
		if err != nil {
			return nil, err
		}
		if err := secrettype.ValidateFields(t, payload); err != nil {
			return nil, err
		}

		client, err := s.client(ctx, owner, mode)
		if err != nil {
			return nil, err
		}
		defer client.Close()

		sec, err := s.catalog.Create(ctx, owner, t.ID, name)
		if err != nil {
			return nil, err
		}

		if _, err := client.WriteEffect(sec.Path(), payload, mode)(ctx); err != nil {
			s.rollbackCreate(ctx, client, sec, mode)
			return nil, err
		}

		s.logger.Debug("Created secret %s with material at %s", sec.ID, sec.Path())
		return sec, nil
	}
}

// rollbackCreate undoes a create whose write failed. A failed write may still
// have reached the vault, so material is deleted before the catalog entry.
// The caller's context may be what failed the write.
func (s *Store) rollbackCreate(ctx context.Context, client *vault.Client, sec *catalog.Secret, mode string) {
	ctx = context.WithoutCancel(ctx)

	if _, err := client.DeleteEffect(sec.Path(), mode)(ctx); err != nil && !errors.Is(err, vault.ErrNotFound) {
		s.metrics.OrphanedMaterial(vault.Outcome(err))
		s.logger.Warn("Abandoned secret %s may have left material at %s: %v", sec.ID, sec.Path(), err)
	}
	if _, err := s.catalog.Delete(ctx, sec.Owner, sec.ID); err != nil {
		s.logger.Error("Failed to remove catalog entry %s after material write failed: %v", sec.ID, err)
	}
}

// Read returns owner's secret and its material.
func (s *Store) Read(ctx context.Context, owner, id string) (*Material, error) {
	return s.readEffect(owner, id, metrics.ModeSync).Run(ctx)
}

// ReadAsync is the non-blocking form of Read.
func (s *Store) ReadAsync(ctx context.Context, owner, id string) *effect.Future[*Material] {
	return s.readEffect(owner, id, metrics.ModeAsync).Start(ctx)
}

func (s *Store) readEffect(owner, id, mode string) effect.Effect[*Material] {
	return func(ctx context.Context) (*Material, error) {
		sec, err := s.catalog.Get(ctx, owner, id)
		if err != nil {
			return nil, err
		}

		client, err := s.client(ctx, owner, mode)
		if err != nil {
			return nil, err
		}
		defer client.Close()

		fields, err := client.ReadEffect(sec.Path(), mode)(ctx)
		if err != nil {
			return nil, err
		}
		return &Material{Secret: sec, Fields: fields}, nil
	}
}

// Write validates fields against the secret's type, replaces its material and
// bumps UpdatedAt.
func (s *Store) Write(ctx context.Context, owner, id string, fields vault.Fields) (*catalog.Secret, error) {
	return s.writeEffect(owner, id, fields, metrics.ModeSync).Run(ctx)
}

// WriteAsync is the non-blocking form of Write. A canceled write may still
// have been applied; use Verify to find out.
func (s *Store) WriteAsync(ctx context.Context, owner, id string, fields vault.Fields) *effect.Future[*catalog.Secret] {
	return s.writeEffect(owner, id, fields, metrics.ModeAsync).Start(ctx)
}

func (s *Store) writeEffect(owner, id string, fields vault.Fields, mode string) effect.Effect[*catalog.Secret] {
	payload := fields.Clone()
	return func(ctx context.Context) (*catalog.Secret, error) {
		sec, err := s.catalog.Get(ctx, owner, id)
		if err != nil {
			return nil, err
		}
		t, err := s.types.Get(ctx, sec.TypeID)
		if err != nil {
			return nil, fmt.Errorf("failed to look up type of secret %s: %w", sec.ID, err)
		}
		if err := secrettype.ValidateFields(t, payload); err != nil {
			return nil, err
		}

		client, err := s.client(ctx, owner, mode)
		if err != nil {
			return nil, err
		}
		defer client.Close()

		if _, err := client.WriteEffect(sec.Path(), payload, mode)(ctx); err != nil {
			return nil, err
		}
		return s.catalog.Touch(ctx, sec)
	}
}

// Delete removes the secret's material and then its catalog entry. The entry
// is removed even when the material delete fails; the result then reports
// partial success. An error is returned only when the catalog entry was not
// removed.
func (s *Store) Delete(ctx context.Context, owner, id string) (*DeleteResult, error) {
	return s.deleteEffect(owner, id, metrics.ModeSync).Run(ctx)
}

// DeleteAsync is the non-blocking form of Delete.
func (s *Store) DeleteAsync(ctx context.Context, owner, id string) *effect.Future[*DeleteResult] {
	return s.deleteEffect(owner, id, metrics.ModeAsync).Start(ctx)
}

func (s *Store) deleteEffect(owner, id, mode string) effect.Effect[*DeleteResult] {
	return func(ctx context.Context) (*DeleteResult, error) {
		sec, err := s.catalog.Get(ctx, owner, id)
		if err != nil {
			return nil, err
		}

		result := &DeleteResult{Secret: sec}
		result.MaterialErr = s.deleteMaterial(ctx, owner, sec.Path(), mode)
		if result.MaterialErr == nil || errors.Is(result.MaterialErr, vault.ErrNotFound) {
			result.MaterialDeleted = true
			result.MaterialErr = nil
		}

		if _, err := s.catalog.Delete(ctx, owner, id); err != nil {
			return result, err
		}

		if result.Partial() {
			s.metrics.OrphanedMaterial(vault.Outcome(result.MaterialErr))
			s.logger.Warn("Deleted secret %s but its material at %s remains: %v", sec.ID, sec.Path(), result.MaterialErr)
		}
		return result, nil
	}
}

func (s *Store) deleteMaterial(ctx context.Context, owner, path, mode string) error {
	client, err := s.client(ctx, owner, mode)
	if err != nil {
		return err
	}
	defer client.Close()

	_, err = client.DeleteEffect(path, mode)(ctx)
	return err
}

// Verify reads the secret's material back and compares it with fields. It
// returns ErrVerifyMismatch when they differ.
func (s *Store) Verify(ctx context.Context, owner, id string, fields vault.Fields) error {
	m, err := s.Read(ctx, owner, id)
	if err != nil {
		return err
	}

	want, err := canonical(fields)
	if err != nil {
		return err
	}
	got, err := canonical(m.Fields)
	if err != nil {
		return err
	}
	if want != got {
		return fmt.Errorf("%w: secret %s", ErrVerifyMismatch, id)
	}
	return nil
}

// canonical encodes fields so numbers compare equal regardless of Go type.
func canonical(fields vault.Fields) (string, error) {
	if fields == nil {
		fields = vault.Fields{}
	}
	b, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("failed to encode fields: %w", err)
	}
	return string(b), nil
}

// visibleType returns the type with id when owner may use it, with the same
// errors catalog.Create reports.
func (s *Store) visibleType(ctx context.Context, owner, typeID string) (*secrettype.SecretType, error) {
	t, err := s.types.Get(ctx, typeID)
	if err != nil {
		if errors.Is(err, secrettype.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", catalog.ErrTypeNotFound, typeID)
		}
		return nil, fmt.Errorf("failed to look up secret type: %w", err)
	}
	if !t.VisibleTo(owner) {
		return nil, catalog.ErrForbidden
	}
	return t, nil
}

// client resolves a fresh vault client for owner. Clients are never reused
// across operations.
func (s *Store) client(ctx context.Context, owner, mode string) (*vault.Client, error) {
	if mode == metrics.ModeAsync {
		return s.vaults.ForOwnerAsync(ctx, owner).Await(ctx)
	}
	return s.vaults.ForOwner(ctx, owner)
}
