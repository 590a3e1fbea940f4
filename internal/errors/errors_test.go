package errors_test

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/seccat/internal/errors"
	"github.com/systmms/seccat/pkg/catalog"
	"github.com/systmms/seccat/pkg/secrettype"
	"github.com/systmms/seccat/pkg/vault"
)

// TestUserErrorFormatting verifies UserError displays properly
func TestUserErrorFormatting(t *testing.T) {
	t.Parallel()

	err := errors.UserError{
		Message:    "Operation failed",
		Details:    "Connection timeout",
		Suggestion: "Check network connectivity",
	}

	errMsg := err.Error()

	assert.Contains(t, errMsg, "Operation failed")
	assert.Contains(t, errMsg, "Connection timeout")
	assert.Contains(t, errMsg, "Check network connectivity")
	assert.Contains(t, errMsg, "💡")
}

// TestConfigErrorFormatting verifies ConfigError displays with context
func TestConfigErrorFormatting(t *testing.T) {
	t.Parallel()

	err := errors.ConfigError{
		Field:      "vault.hashicorp.kv_version",
		Value:      3,
		Message:    "unsupported KV version",
		Suggestion: "Use 1 or 2",
	}

	errMsg := err.Error()

	assert.Contains(t, errMsg, "vault.hashicorp.kv_version")
	assert.Contains(t, errMsg, "(value: 3)")
	assert.Contains(t, errMsg, "unsupported KV version")
	assert.Contains(t, errMsg, "Use 1 or 2")
}

func TestExplain(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		err         error
		wantMessage string
		wantHint    string
	}{
		{
			name:        "schema invalid",
			err:         &secrettype.SchemaError{Reasons: []string{"nested object"}},
			wantMessage: "fields schema was rejected",
			wantHint:    "JSON Schema",
		},
		{
			name:        "schema mismatch",
			err:         &secrettype.FieldsError{TypeID: "t1", Reasons: []string{"password is required"}},
			wantMessage: "do not match",
			wantHint:    "seccat types get",
		},
		{
			name:        "type in use",
			err:         fmt.Errorf("delete type t1: %w", secrettype.ErrInUse),
			wantMessage: "still used",
			wantHint:    "seccat secrets list",
		},
		{
			name:        "secret not found",
			err:         catalog.ErrNotFound,
			wantMessage: "Secret not found",
			wantHint:    "seccat secrets list",
		},
		{
			name:        "vault op error",
			err:         &vault.OpError{Op: "read", Path: "t/s", Err: vault.ErrVaultUnavailable},
			wantMessage: "vault is unavailable",
			wantHint:    "retry",
		},
		{
			name:        "resolution",
			err:         fmt.Errorf("%w for owner %q: %w", vault.ErrResolution, "mallory", stderrors.New("unknown owner")),
			wantMessage: "resolve",
			wantHint:    "tenancy.static",
		},
		{
			name:        "timeout",
			err:         fmt.Errorf("list: %w", context.DeadlineExceeded),
			wantMessage: "timed out",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			explained := errors.Explain(tt.err)

			var userErr errors.UserError
			require.True(t, stderrors.As(explained, &userErr))
			assert.Contains(t, userErr.Message, tt.wantMessage)
			assert.Contains(t, userErr.Suggestion, tt.wantHint)
			assert.ErrorIs(t, explained, tt.err)
		})
	}
}

func TestExplainLeavesPresentedErrorsAlone(t *testing.T) {
	t.Parallel()

	cfgErr := errors.ConfigError{Field: "catalog.driver", Message: "unsupported"}
	assert.Equal(t, cfgErr, errors.Explain(cfgErr))

	userErr := errors.UserError{Message: "already explained", Err: catalog.ErrNotFound}
	assert.Equal(t, userErr, errors.Explain(userErr))

	plain := stderrors.New("something else")
	assert.Equal(t, plain, errors.Explain(plain))
}

// TestSimplifyError verifies error simplification for common cases
func TestSimplifyError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		inputError    error
		expectedType  string
		expectedInMsg string
	}{
		{
			name:          "yaml_error",
			inputError:    fmt.Errorf("yaml: line 5: mapping values are not allowed"),
			expectedType:  "ConfigError",
			expectedInMsg: "Invalid YAML",
		},
		{
			name:          "json_error",
			inputError:    fmt.Errorf("invalid character 'x' looking for beginning of value"),
			expectedType:  "UserError",
			expectedInMsg: "Invalid JSON",
		},
		{
			name:          "permission_denied",
			inputError:    fmt.Errorf("open seccat.yaml: permission denied"),
			expectedType:  "UserError",
			expectedInMsg: "Permission denied",
		},
		{
			name:          "file_not_found",
			inputError:    fmt.Errorf("no such file or directory"),
			expectedType:  "UserError",
			expectedInMsg: "not found",
		},
		{
			name:          "connection_refused",
			inputError:    fmt.Errorf("dial tcp 127.0.0.1:5432: connect: connection refused"),
			expectedType:  "UserError",
			expectedInMsg: "Unable to connect",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			simplified := errors.SimplifyError(tt.inputError)

			errMsg := simplified.Error()
			assert.Contains(t, errMsg, tt.expectedInMsg)

			switch tt.expectedType {
			case "ConfigError":
				_, ok := simplified.(errors.ConfigError)
				assert.True(t, ok, "Should be ConfigError type")
			case "UserError":
				_, ok := simplified.(errors.UserError)
				assert.True(t, ok, "Should be UserError type")
			}
		})
	}
}

// TestUserErrorUnwrap verifies error unwrapping works correctly
func TestUserErrorUnwrap(t *testing.T) {
	t.Parallel()

	baseErr := fmt.Errorf("base error")
	userErr := errors.UserError{
		Message: "wrapped error",
		Err:     baseErr,
	}

	assert.Equal(t, baseErr, userErr.Unwrap())
}

func TestIsRetryable(t *testing.T) {
	t.Parallel()

	assert.True(t, errors.IsRetryable(&vault.OpError{Op: "write", Path: "t/s", Err: vault.ErrVaultUnavailable}))
	assert.False(t, errors.IsRetryable(&vault.OpError{Op: "write", Path: "t/s", Err: vault.ErrPermissionDenied}))
	assert.False(t, errors.IsRetryable(catalog.ErrNotFound))
}

// TestNilErrorHandling verifies nil errors are handled gracefully
func TestNilErrorHandling(t *testing.T) {
	t.Parallel()

	assert.False(t, errors.IsRetryable(nil))
	assert.Nil(t, errors.SimplifyError(nil))
	assert.Nil(t, errors.Explain(nil))
}
