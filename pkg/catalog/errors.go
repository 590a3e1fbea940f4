package catalog

import "errors"

// Sentinel errors returned by the catalog. Match them with errors.Is.
var (
	// ErrNotFound is returned for missing entries and, unless the caller is
	// privileged, for entries owned by someone else.
	ErrNotFound = errors.New("secret not found")

	// ErrTypeNotFound is returned when creating a secret of an unknown type.
	ErrTypeNotFound = errors.New("secret type not found")

	// ErrForbidden is returned when the referenced type belongs to another
	// owner, or to privileged callers looking at a foreign entry.
	ErrForbidden = errors.New("access to secret is forbidden")

	// ErrInvalidName is returned for empty or overlong display names.
	ErrInvalidName = errors.New("invalid secret name")
)
