// Package secrettype implements the registry of secret types.
//
// A secret type names a shape of secret material: a JSON Schema describing a
// flat object whose properties are all scalars, for example
//
//	{
//	  "type": "object",
//	  "properties": {
//	    "access_key": {"type": "string"},
//	    "secret_key": {"type": "string"}
//	  },
//	  "required": ["access_key", "secret_key"]
//	}
//
// Types are pure metadata. The registry never talks to the vault.
package secrettype

import (
	"context"
	"encoding/json"
	"time"
)

// BuiltinOwner is the owner sentinel for process-wide built-in types.
const BuiltinOwner = "__builtin__"

// MaxNameLength bounds type and secret display names.
const MaxNameLength = 100

// SecretType declares the fields a secret of this type must supply.
type SecretType struct {
	ID    string `json:"id" yaml:"id"`
	Owner string `json:"owner" yaml:"owner"`
	Name  string `json:"name" yaml:"name"`

	// FieldsSchema is kept byte-for-byte as it was defined.
	FieldsSchema json.RawMessage `json:"fields_schema" yaml:"-"`

	// SchemaHash is the hex SHA-256 of the canonicalized schema.
	SchemaHash string `json:"schema_hash" yaml:"schema_hash"`

	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}

// IsBuiltin reports whether the type is shared by every owner.
func (t *SecretType) IsBuiltin() bool {
	return t.Owner == BuiltinOwner
}

// VisibleTo reports whether owner may reference this type.
func (t *SecretType) VisibleTo(owner string) bool {
	return t.IsBuiltin() || t.Owner == owner
}

// Store persists secret types. Implementations must be safe for concurrent use.
type Store interface {
	// CreateType inserts a new row.
	CreateType(ctx context.Context, t *SecretType) error

	// GetType returns ErrNotFound when no row has the id.
	GetType(ctx context.Context, id string) (*SecretType, error)

	// ListTypes returns the types of any of the given owners ordered by name.
	ListTypes(ctx context.Context, owners ...string) ([]*SecretType, error)

	// FindTypesByHash returns types of the given owners with a matching schema hash.
	FindTypesByHash(ctx context.Context, hash string, owners ...string) ([]*SecretType, error)

	// DeleteType returns ErrNotFound or ErrInUse.
	DeleteType(ctx context.Context, id string) error
}

// BuiltinDefinition describes a built-in type loaded from configuration.
type BuiltinDefinition struct {
	Name         string          `yaml:"name" json:"name"`
	FieldsSchema json.RawMessage `yaml:"-" json:"fields_schema"`
}
