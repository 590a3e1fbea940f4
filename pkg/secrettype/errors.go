package secrettype

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors returned by the registry. Match them with errors.Is.
var (
	// ErrSchemaInvalid is returned when a fields schema is malformed or describes
	// anything other than a flat object of scalar fields.
	ErrSchemaInvalid = errors.New("invalid fields schema")

	// ErrNotFound is returned when no secret type has the requested id.
	ErrNotFound = errors.New("secret type not found")

	// ErrInUse is returned when deleting a type that secrets still reference.
	ErrInUse = errors.New("secret type is referenced by secrets")

	// ErrForbidden is returned when a caller tries to modify a type it does not own.
	ErrForbidden = errors.New("secret type belongs to another owner")

	// ErrInvalidName is returned for empty or overlong type names.
	ErrInvalidName = errors.New("invalid secret type name")

	// ErrSchemaMismatch is returned when a material payload does not match the
	// fields schema of its type.
	ErrSchemaMismatch = errors.New("fields do not match secret type schema")
)

// SchemaError lists every reason a fields schema was rejected.
type SchemaError struct {
	Reasons []string
}

func (e *SchemaError) Error() string {
	if len(e.Reasons) == 0 {
		return ErrSchemaInvalid.Error()
	}
	return fmt.Sprintf("%s: %s", ErrSchemaInvalid, strings.Join(e.Reasons, "; "))
}

func (e *SchemaError) Unwrap() error {
	return ErrSchemaInvalid
}

// FieldsError lists every reason a material payload was rejected.
type FieldsError struct {
	TypeID  string
	Reasons []string
}

func (e *FieldsError) Error() string {
	return fmt.Sprintf("%s %s: %s", ErrSchemaMismatch, e.TypeID, strings.Join(e.Reasons, "; "))
}

func (e *FieldsError) Unwrap() error {
	return ErrSchemaMismatch
}
