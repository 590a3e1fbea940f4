package vault

import (
	"context"
	"errors"
	"fmt"
)

// Error taxonomy for vault operations. Backends classify their failures into
// these sentinels; callers match them with errors.Is.
var (
	// ErrNotFound means no material exists at the path for this tenant.
	ErrNotFound = errors.New("secret material not found")

	// ErrVaultUnavailable covers network and backend failures. It is the only
	// class worth retrying, and retrying is the caller's decision.
	ErrVaultUnavailable = errors.New("vault unavailable")

	// ErrPermissionDenied means the tenant token is valid but the backend ACL
	// rejected the operation.
	ErrPermissionDenied = errors.New("vault permission denied")

	// ErrResolution means the tenancy collaborator could not produce a token.
	ErrResolution = errors.New("could not resolve vault token")

	// ErrInvalidPath means the path is not of the form typeId/secretId.
	ErrInvalidPath = errors.New("invalid vault path")

	// ErrClosed means the client was used after Close.
	ErrClosed = errors.New("vault client is closed")

	// ErrMalformed means the stored material cannot be decoded as fields.
	// Retrying returns the same result.
	ErrMalformed = errors.New("vault material is malformed")
)

// OpError records a failed vault operation.
type OpError struct {
	Op   string
	Path string
	Err  error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("vault %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err is a transient vault failure. No code in
// this module retries; the answer is for callers that do.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrVaultUnavailable)
}

// classify makes sure err carries a taxonomy sentinel. Errors a backend left
// unclassified are treated as backend failures.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrVaultUnavailable),
		errors.Is(err, ErrPermissionDenied),
		errors.Is(err, ErrInvalidPath),
		errors.Is(err, ErrClosed),
		errors.Is(err, ErrMalformed),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return fmt.Errorf("%w: %w", ErrVaultUnavailable, err)
	}
}

// Outcome classifies err into a metrics label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, ErrVaultUnavailable):
		return "unavailable"
	case errors.Is(err, ErrResolution):
		return "resolution"
	case errors.Is(err, ErrInvalidPath):
		return "invalid_path"
	case errors.Is(err, ErrClosed):
		return "closed"
	case errors.Is(err, ErrMalformed):
		return "malformed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}
