package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/systmms/seccat/pkg/catalog"
	"github.com/systmms/seccat/pkg/secrettype"
)

// MemoryStore keeps catalog metadata in process. It enforces the same
// referential rules as SQLStore and is used by tests and the memory mode.
type MemoryStore struct {
	mu      sync.RWMutex
	types   map[string]*secrettype.SecretType
	secrets map[string]*memorySecret
	seq     uint64
}

type memorySecret struct {
	secret catalog.Secret
	seq    uint64
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		types:   make(map[string]*secrettype.SecretType),
		secrets: make(map[string]*memorySecret),
	}
}

// CreateType implements secrettype.Store.
func (m *MemoryStore) CreateType(ctx context.Context, t *secrettype.SecretType) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.types[t.ID]; exists {
		return fmt.Errorf("secret type %s already exists", t.ID)
	}
	m.types[t.ID] = copyType(t)
	return nil
}

// GetType implements secrettype.Store.
func (m *MemoryStore) GetType(ctx context.Context, id string) (*secrettype.SecretType, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.types[id]
	if !ok {
		return nil, secrettype.ErrNotFound
	}
	return copyType(t), nil
}

// ListTypes implements secrettype.Store.
func (m *MemoryStore) ListTypes(ctx context.Context, owners ...string) ([]*secrettype.SecretType, error) {
	return m.filterTypes(ctx, func(t *secrettype.SecretType) bool { return true }, owners)
}

// FindTypesByHash implements secrettype.Store.
func (m *MemoryStore) FindTypesByHash(ctx context.Context, hash string, owners ...string) ([]*secrettype.SecretType, error) {
	return m.filterTypes(ctx, func(t *secrettype.SecretType) bool { return t.SchemaHash == hash }, owners)
}

func (m *MemoryStore) filterTypes(ctx context.Context, keep func(*secrettype.SecretType) bool, owners []string) ([]*secrettype.SecretType, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	allowed := make(map[string]bool, len(owners))
	for _, o := range owners {
		allowed[o] = true
	}

	m.mu.RLock()
	out := make([]*secrettype.SecretType, 0)
	for _, t := range m.types {
		if allowed[t.Owner] && keep(t) {
			out = append(out, copyType(t))
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// DeleteType implements secrettype.Store.
func (m *MemoryStore) DeleteType(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.types[id]; !ok {
		return secrettype.ErrNotFound
	}
	for _, s := range m.secrets {
		if s.secret.TypeID == id {
			return secrettype.ErrInUse
		}
	}
	delete(m.types, id)
	return nil
}

// CreateSecret implements catalog.Store.
func (m *MemoryStore) CreateSecret(ctx context.Context, s *catalog.Secret) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.types[s.TypeID]; !ok {
		return catalog.ErrTypeNotFound
	}
	if _, exists := m.secrets[s.ID]; exists {
		return fmt.Errorf("secret %s already exists", s.ID)
	}
	m.seq++
	m.secrets[s.ID] = &memorySecret{secret: *s, seq: m.seq}
	return nil
}

// GetSecret implements catalog.Store.
func (m *MemoryStore) GetSecret(ctx context.Context, id string) (*catalog.Secret, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.secrets[id]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	out := s.secret
	return &out, nil
}

// ListSecrets implements catalog.Store.
func (m *MemoryStore) ListSecrets(ctx context.Context, owner, typeID string) ([]*catalog.Secret, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	rows := make([]*memorySecret, 0)
	for _, s := range m.secrets {
		if s.secret.Owner != owner {
			continue
		}
		if typeID != "" && s.secret.TypeID != typeID {
			continue
		}
		row := *s
		rows = append(rows, &row)
	}
	m.mu.RUnlock()

	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if !a.secret.CreatedAt.Equal(b.secret.CreatedAt) {
			return a.secret.CreatedAt.Before(b.secret.CreatedAt)
		}
		return a.seq < b.seq
	})

	out := make([]*catalog.Secret, len(rows))
	for i, r := range rows {
		s := r.secret
		out[i] = &s
	}
	return out, nil
}

// UpdateSecret implements catalog.Store.
func (m *MemoryStore) UpdateSecret(ctx context.Context, s *catalog.Secret) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.secrets[s.ID]
	if !ok {
		return catalog.ErrNotFound
	}
	row.secret.Name = s.Name
	row.secret.UpdatedAt = s.UpdatedAt
	return nil
}

// DeleteSecret implements catalog.Store.
func (m *MemoryStore) DeleteSecret(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.secrets[id]; !ok {
		return catalog.ErrNotFound
	}
	delete(m.secrets, id)
	return nil
}

// Migrate is a no-op kept so both stores satisfy the same interface.
func (m *MemoryStore) Migrate(ctx context.Context) error {
	return nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error {
	return nil
}

func copyType(t *secrettype.SecretType) *secrettype.SecretType {
	out := *t
	out.FieldsSchema = append([]byte(nil), t.FieldsSchema...)
	return &out
}
