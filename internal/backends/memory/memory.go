// Package memory provides an in-process vault backend.
//
// Material is keyed by (token, path), so two tenants never see each other's
// entries even under an identical path. The backend serves the "memory"
// vault mode and doubles as a configurable fake for tests.
//
// Example usage:
//
//	backend := memory.New().
//	    WithFailure(memory.OpDelete, vault.ErrVaultUnavailable).
//	    WithDelay(50 * time.Millisecond)
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/systmms/seccat/pkg/vault"
)

// Operation names used for fault injection and call counting.
const (
	OpRead   = "read"
	OpWrite  = "write"
	OpDelete = "delete"
)

type key struct {
	token string
	path  string
}

// Backend implements vault.Backend in memory.
type Backend struct {
	mu   sync.RWMutex
	data map[key]vault.Fields

	// Behavior control
	failOn    map[string]error
	lostOn    map[string]error
	denied    map[string]bool
	delay     time.Duration
	callCount map[string]int
}

var _ vault.Backend = (*Backend)(nil)

// New creates an empty backend.
func New() *Backend {
	return &Backend{
		data:      make(map[key]vault.Fields),
		failOn:    make(map[string]error),
		lostOn:    make(map[string]error),
		denied:    make(map[string]bool),
		callCount: make(map[string]int),
	}
}

// WithFailure makes every call of op fail with err.
func (b *Backend) WithFailure(op string, err error) *Backend {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failOn[op] = err
	return b
}

// WithLostResponse applies every call of op and then reports err, like a
// request that reached the vault but whose response never arrived.
func (b *Backend) WithLostResponse(op string, err error) *Backend {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lostOn[op] = err
	return b
}

// ClearFailures removes all injected failures.
func (b *Backend) ClearFailures() *Backend {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failOn = make(map[string]error)
	b.lostOn = make(map[string]error)
	return b
}

// WithDeniedToken rejects every call made with token as PermissionDenied.
func (b *Backend) WithDeniedToken(token string) *Backend {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.denied[token] = true
	return b
}

// WithDelay adds artificial latency to every call. The delay honors context
// cancellation.
func (b *Backend) WithDelay(d time.Duration) *Backend {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.delay = d
	return b
}

// Name implements vault.Backend.
func (b *Backend) Name() string {
	return "memory"
}

// Read implements vault.Backend.
func (b *Backend) Read(ctx context.Context, token, path string) (vault.Fields, error) {
	if err := b.enter(ctx, OpRead, token); err != nil {
		return nil, err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	fields, ok := b.data[key{token, path}]
	if !ok {
		return nil, vault.ErrNotFound
	}
	return fields.Clone(), nil
}

// Write implements vault.Backend.
func (b *Backend) Write(ctx context.Context, token, path string, fields vault.Fields) error {
	if err := b.enter(ctx, OpWrite, token); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.data[key{token, path}] = fields.Clone()
	return b.lostOn[OpWrite]
}

// Delete implements vault.Backend.
func (b *Backend) Delete(ctx context.Context, token, path string) error {
	if err := b.enter(ctx, OpDelete, token); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	k := key{token, path}
	if _, ok := b.data[k]; !ok {
		return vault.ErrNotFound
	}
	delete(b.data, k)
	return b.lostOn[OpDelete]
}

func (b *Backend) enter(ctx context.Context, op, token string) error {
	b.mu.Lock()
	b.callCount[op]++
	delay := b.delay
	failure := b.failOn[op]
	denied := b.denied[token]
	b.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if denied {
		return fmt.Errorf("%w: token may not %s", vault.ErrPermissionDenied, op)
	}
	return failure
}

// CallCount returns how many times op was invoked.
func (b *Backend) CallCount(op string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.callCount[op]
}

// Paths returns the paths stored under token, sorted.
func (b *Backend) Paths(token string) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var paths []string
	for k := range b.data {
		if k.token == token {
			paths = append(paths, k.path)
		}
	}
	sort.Strings(paths)
	return paths
}

// Snapshot returns a copy of all material, keyed by token then path.
func (b *Backend) Snapshot() map[string]map[string]vault.Fields {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make(map[string]map[string]vault.Fields)
	for k, v := range b.data {
		if out[k.token] == nil {
			out[k.token] = make(map[string]vault.Fields)
		}
		out[k.token][k.path] = v.Clone()
	}
	return out
}
