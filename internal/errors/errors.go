package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/systmms/seccat/pkg/catalog"
	"github.com/systmms/seccat/pkg/secrettype"
	"github.com/systmms/seccat/pkg/vault"
)

// UserError represents an error that should be shown to the user with helpful context
type UserError struct {
	Message    string
	Suggestion string
	Details    string
	Err        error
}

func (e UserError) Error() string {
	var parts []string

	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}

	if e.Details != "" {
		parts = append(parts, "\n  Details: "+e.Details)
	}

	if e.Suggestion != "" {
		parts = append(parts, "\n  💡 Try: "+e.Suggestion)
	}

	return strings.Join(parts, "")
}

func (e UserError) Unwrap() error {
	return e.Err
}

// ConfigError represents a configuration error with helpful context
type ConfigError struct {
	Field      string
	Value      interface{}
	Message    string
	Suggestion string
}

func (e ConfigError) Error() string {
	msg := "Configuration error"
	if e.Field != "" {
		msg += fmt.Sprintf(" in field '%s'", e.Field)
	}
	if e.Value != nil {
		msg += fmt.Sprintf(" (value: %v)", e.Value)
	}
	msg += ": " + e.Message

	if e.Suggestion != "" {
		msg += "\n  💡 " + e.Suggestion
	}

	return msg
}

// suggestion pairs a sentinel with the message and hint shown for it.
type suggestion struct {
	target  error
	message string
	hint    string
}

// Order matters: the first sentinel found in the chain wins.
var suggestions = []suggestion{
	{secrettype.ErrSchemaInvalid, "The fields schema was rejected",
		"Use a JSON Schema with type \"object\" whose properties are string, number, integer or boolean"},
	{secrettype.ErrSchemaMismatch, "The fields do not match the secret type",
		"Inspect the type with 'seccat types get <id>' and supply every required field"},
	{secrettype.ErrInUse, "The secret type is still used by secrets",
		"Delete the secrets of this type first. List them with 'seccat secrets list --type <id>'"},
	{secrettype.ErrForbidden, "Secret type is not owned by this owner",
		"Built-in types cannot be deleted. Other owners' types cannot be changed"},
	{secrettype.ErrNotFound, "Secret type not found",
		"List visible types with 'seccat types list --owner <owner>'"},
	{catalog.ErrTypeNotFound, "Secret type not found",
		"List visible types with 'seccat types list --owner <owner>'"},
	{catalog.ErrForbidden, "The secret type belongs to another owner",
		"Define your own type or use a built-in type"},
	{catalog.ErrNotFound, "Secret not found",
		"List your secrets with 'seccat secrets list --owner <owner>'"},
	{vault.ErrResolution, "Could not resolve the owner's vault credentials",
		"Add the owner to tenancy.static or store a token with the keyring resolver"},
	{vault.ErrPermissionDenied, "The vault refused the owner's credentials",
		"Check that the tenant token is valid and its policy covers the secret path"},
	{vault.ErrNotFound, "No material stored for this secret",
		"Write material with 'seccat secrets write <id> --field key=value'"},
	{vault.ErrVaultUnavailable, "The vault is unavailable",
		"Check the vault address and network, then retry"},
	{vault.ErrInvalidPath, "Invalid vault path", ""},
	{vault.ErrMalformed, "The stored material is not a JSON object",
		"Overwrite it with 'seccat secrets write <id> --field key=value'"},
	{context.DeadlineExceeded, "The operation timed out",
		"Check your network connection and try again"},
}

// Explain wraps a domain error in a UserError carrying a suggestion.
// Errors that are already user facing, and errors outside the taxonomy,
// are returned unchanged.
func Explain(err error) error {
	if err == nil {
		return nil
	}

	var userErr UserError
	if errors.As(err, &userErr) {
		return err
	}
	var configErr ConfigError
	if errors.As(err, &configErr) {
		return err
	}

	for _, s := range suggestions {
		if errors.Is(err, s.target) {
			return UserError{
				Message:    s.message,
				Details:    err.Error(),
				Suggestion: s.hint,
				Err:        err,
			}
		}
	}
	return SimplifyError(err)
}

// IsRetryable reports whether the operation behind err may succeed when
// repeated unchanged. seccat never retries on its own.
func IsRetryable(err error) bool {
	return vault.IsRetryable(err)
}

// SimplifyError simplifies complex error messages for users
func SimplifyError(err error) error {
	if err == nil {
		return nil
	}

	// Unwrap to get the root cause
	rootErr := err
	for {
		unwrapped := errors.Unwrap(rootErr)
		if unwrapped == nil {
			break
		}
		rootErr = unwrapped
	}

	errStr := rootErr.Error()

	if strings.Contains(errStr, "yaml:") {
		return ConfigError{
			Message:    "Invalid YAML format",
			Suggestion: "Check for indentation errors and missing quotes",
		}
	}

	if strings.Contains(errStr, "json:") || strings.Contains(errStr, "invalid character") {
		return UserError{
			Message:    "Invalid JSON",
			Suggestion: "Validate the document with 'jq . <file>'",
			Err:        err,
		}
	}

	if strings.Contains(errStr, "permission denied") {
		return UserError{
			Message:    "Permission denied",
			Suggestion: "Check file permissions or run with appropriate privileges",
			Err:        err,
		}
	}

	if strings.Contains(errStr, "no such file or directory") {
		return UserError{
			Message:    "File or directory not found",
			Suggestion: "Verify the path exists and is spelled correctly",
			Err:        err,
		}
	}

	if strings.Contains(errStr, "connection refused") || strings.Contains(errStr, "no such host") {
		return UserError{
			Message:    "Unable to connect",
			Suggestion: "Check the catalog DSN and that the database is running",
			Err:        err,
		}
	}

	return err
}
