// Package vault provides tenant-scoped access to secret material held in an
// external vault.
//
// A Factory resolves an owner's vault token through the tenancy collaborator
// and binds it to a Client. A Client never serves another owner, and a new
// one is resolved per logical operation rather than cached.
//
// Every Client operation exists in two forms. Read, Write and Delete block the
// calling goroutine. ReadAsync, WriteAsync and DeleteAsync return an
// effect.Future immediately. Both forms run the same effect, so they succeed
// and fail identically.
//
// Nothing in this package retries. A network failure surfaces as
// ErrVaultUnavailable; IsRetryable lets callers decide.
package vault

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Fields is a flat mapping of field names to scalar values.
type Fields map[string]interface{}

// Clone returns a shallow copy of f.
func (f Fields) Clone() Fields {
	if f == nil {
		return nil
	}
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Backend is the external key-value secret store. The token is opaque and
// scopes every call to one tenant's namespace. Implementations classify
// failures with the sentinels of this package.
type Backend interface {
	// Name identifies the backend in logs.
	Name() string

	Read(ctx context.Context, token, path string) (Fields, error)
	Write(ctx context.Context, token, path string, fields Fields) error
	Delete(ctx context.Context, token, path string) error
}

// TokenResolver maps an owner to its vault token.
type TokenResolver interface {
	ResolveVaultToken(ctx context.Context, owner string) (string, error)
}

// ValidatePath checks that path has the form typeId/secretId.
func ValidatePath(path string) error {
	if !utf8.ValidString(path) {
		return fmt.Errorf("%w: not valid UTF-8", ErrInvalidPath)
	}
	parts := strings.Split(path, "/")
	if len(parts) != 2 {
		return fmt.Errorf("%w: %q must have exactly two segments", ErrInvalidPath, path)
	}
	for _, p := range parts {
		if strings.TrimSpace(p) == "" || p == "." || p == ".." {
			return fmt.Errorf("%w: %q has an empty or relative segment", ErrInvalidPath, path)
		}
	}
	return nil
}

// NormalizeFields converts json.Number values, as produced by decoders using
// UseNumber, into int64 or float64.
func NormalizeFields(data map[string]interface{}) Fields {
	out := make(Fields, len(data))
	for k, v := range data {
		n, ok := v.(json.Number)
		if !ok {
			out[k] = v
			continue
		}
		if i, err := n.Int64(); err == nil {
			out[k] = i
		} else if f, err := n.Float64(); err == nil {
			out[k] = f
		} else {
			out[k] = n.String()
		}
	}
	return out
}
