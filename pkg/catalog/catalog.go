// Package catalog implements the owner-scoped catalog of secret entries.
//
// A catalog entry binds an owner, a secret type and a display name. It never
// carries secret material: the material lives in the vault at the entry's
// derived path, which is computed by Path and by nothing else.
package catalog

import (
	"context"
	"time"
)

// Secret is a catalog entry.
type Secret struct {
	ID        string    `json:"id" yaml:"id"`
	Owner     string    `json:"owner" yaml:"owner"`
	TypeID    string    `json:"type_id" yaml:"type_id"`
	Name      string    `json:"name" yaml:"name"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}

// Path returns the vault path of the secret's material.
func (s *Secret) Path() string {
	return Path(s.TypeID, s.ID)
}

// Path derives the vault path for a secret of type typeID with id.
func Path(typeID, id string) string {
	return typeID + "/" + id
}

// Store persists catalog entries. Implementations must be safe for concurrent
// use and treat each call as a single-row transaction.
type Store interface {
	// CreateSecret inserts a new row. It returns ErrTypeNotFound when the
	// referenced type no longer exists.
	CreateSecret(ctx context.Context, s *Secret) error

	// GetSecret returns ErrNotFound when no row has the id.
	GetSecret(ctx context.Context, id string) (*Secret, error)

	// ListSecrets returns owner's rows ordered by creation time. An empty
	// typeID disables the type filter.
	ListSecrets(ctx context.Context, owner, typeID string) ([]*Secret, error)

	// UpdateSecret stores Name and UpdatedAt. It returns ErrNotFound when the
	// row is gone.
	UpdateSecret(ctx context.Context, s *Secret) error

	// DeleteSecret returns ErrNotFound when no row has the id.
	DeleteSecret(ctx context.Context, id string) error
}

type privilegedKey struct{}

// WithPrivileged marks ctx as belonging to an administrative caller. Privileged
// callers are told when an entry exists but belongs to someone else.
func WithPrivileged(ctx context.Context) context.Context {
	return context.WithValue(ctx, privilegedKey{}, true)
}

// IsPrivileged reports whether ctx was marked with WithPrivileged.
func IsPrivileged(ctx context.Context) bool {
	v, _ := ctx.Value(privilegedKey{}).(bool)
	return v
}
