package catalog_test

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/seccat/internal/store"
	"github.com/systmms/seccat/pkg/catalog"
	"github.com/systmms/seccat/pkg/secrettype"
)

const tokenSchema = `{"type":"object","properties":{"token":{"type":"string"}}}`

type fixture struct {
	store    *store.MemoryStore
	registry *secrettype.Registry
	catalog  *catalog.Catalog
}

func newFixture(t *testing.T, opts ...catalog.Option) *fixture {
	t.Helper()
	st := store.NewMemoryStore()
	reg := secrettype.NewRegistry(st)
	return &fixture{
		store:    st,
		registry: reg,
		catalog:  catalog.New(st, reg, opts...),
	}
}

func (f *fixture) defineType(t *testing.T, owner string) *secrettype.SecretType {
	t.Helper()
	typ, err := f.registry.Define(context.Background(), owner, "Token", json.RawMessage(tokenSchema))
	require.NoError(t, err)
	return typ
}

func TestPathDerivation(t *testing.T) {
	t.Parallel()

	s := &catalog.Secret{ID: "s-1", TypeID: "t-1"}
	assert.Equal(t, "t-1/s-1", s.Path())
	assert.Equal(t, catalog.Path("t-1", "s-1"), s.Path())
}

func TestCreateThenGet(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	typ := f.defineType(t, "alice")

	created, err := f.catalog.Create(ctx, "alice", typ.ID, "GitHub personal")
	require.NoError(t, err)
	assert.Equal(t, typ.ID+"/"+created.ID, created.Path())
	assert.Equal(t, created.CreatedAt, created.UpdatedAt)

	got, err := f.catalog.Get(ctx, "alice", created.ID)
	require.NoError(t, err)
	assert.Equal(t, created, got)
}

func TestCreateErrors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	bobs := f.defineType(t, "bob")

	tests := []struct {
		name    string
		typeID  string
		secName string
		wantErr error
	}{
		{"unknown type", "missing", "x", catalog.ErrTypeNotFound},
		{"foreign type", bobs.ID, "x", catalog.ErrForbidden},
		{"empty name", bobs.ID, "", catalog.ErrInvalidName},
		{"long name", bobs.ID, strings.Repeat("n", secrettype.MaxNameLength+1), catalog.ErrInvalidName},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := f.catalog.Create(ctx, "alice", tt.typeID, tt.secName)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestCreateWithBuiltinType(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	builtins, err := f.registry.EnsureBuiltins(ctx, []secrettype.BuiltinDefinition{
		{Name: "Token", FieldsSchema: json.RawMessage(tokenSchema)},
	})
	require.NoError(t, err)

	for _, owner := range []string{"alice", "bob"} {
		s, err := f.catalog.Create(ctx, owner, builtins[0].ID, "shared shape")
		require.NoError(t, err)
		assert.Equal(t, owner, s.Owner)
	}
}

func TestGetForeignSecretIsIndistinguishableFromMissing(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	typ := f.defineType(t, "alice")

	s, err := f.catalog.Create(ctx, "alice", typ.ID, "prod")
	require.NoError(t, err)

	_, foreignErr := f.catalog.Get(ctx, "mallory", s.ID)
	_, missingErr := f.catalog.Get(ctx, "mallory", "does-not-exist")

	assert.ErrorIs(t, foreignErr, catalog.ErrNotFound)
	assert.ErrorIs(t, missingErr, catalog.ErrNotFound)
	assert.Equal(t, missingErr.Error(), foreignErr.Error())

	_, err = f.catalog.Get(catalog.WithPrivileged(ctx), "admin", s.ID)
	assert.ErrorIs(t, err, catalog.ErrForbidden)

	_, err = f.catalog.Get(catalog.WithPrivileged(ctx), "admin", "does-not-exist")
	assert.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestListFiltersByOwnerAndType(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	base := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	f := newFixture(t, catalog.WithClock(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}))

	typA := f.defineType(t, "alice")
	typB := f.defineType(t, "alice")

	a1, err := f.catalog.Create(ctx, "alice", typA.ID, "a1")
	require.NoError(t, err)
	b1, err := f.catalog.Create(ctx, "alice", typB.ID, "b1")
	require.NoError(t, err)
	a2, err := f.catalog.Create(ctx, "alice", typA.ID, "a2")
	require.NoError(t, err)

	all, err := f.catalog.List(ctx, "alice", "")
	require.NoError(t, err)
	assert.Equal(t, []string{a1.ID, b1.ID, a2.ID}, ids(all))

	onlyA, err := f.catalog.List(ctx, "alice", typA.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{a1.ID, a2.ID}, ids(onlyA))

	none, err := f.catalog.List(ctx, "bob", "")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestRename(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	f := newFixture(t, catalog.WithClock(func() time.Time { return now }))
	typ := f.defineType(t, "alice")

	s, err := f.catalog.Create(ctx, "alice", typ.ID, "old")
	require.NoError(t, err)

	now = now.Add(time.Hour)
	renamed, err := f.catalog.Rename(ctx, "alice", s.ID, "new")
	require.NoError(t, err)
	assert.Equal(t, "new", renamed.Name)
	assert.Equal(t, s.Path(), renamed.Path())
	assert.True(t, renamed.UpdatedAt.After(s.CreatedAt))

	got, err := f.catalog.Get(ctx, "alice", s.ID)
	require.NoError(t, err)
	assert.Equal(t, "new", got.Name)

	_, err = f.catalog.Rename(ctx, "bob", s.ID, "stolen")
	assert.ErrorIs(t, err, catalog.ErrNotFound)

	_, err = f.catalog.Rename(ctx, "alice", s.ID, "")
	assert.ErrorIs(t, err, catalog.ErrInvalidName)
}

func TestDeleteRemovesMetadataOnly(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	typ := f.defineType(t, "alice")

	s, err := f.catalog.Create(ctx, "alice", typ.ID, "prod")
	require.NoError(t, err)

	_, err = f.catalog.Delete(ctx, "bob", s.ID)
	assert.ErrorIs(t, err, catalog.ErrNotFound)

	deleted, err := f.catalog.Delete(ctx, "alice", s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.Path(), deleted.Path())

	_, err = f.catalog.Get(ctx, "alice", s.ID)
	assert.ErrorIs(t, err, catalog.ErrNotFound)

	_, err = f.catalog.Delete(ctx, "alice", s.ID)
	assert.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestConcurrentCreateYieldsDistinctEntries(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	typ := f.defineType(t, "alice")

	const workers = 2
	results := make([]*catalog.Secret, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.catalog.Create(ctx, "alice", typ.ID, "same name")
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.NotEqual(t, results[0].ID, results[1].ID)
	assert.NotEqual(t, results[0].Path(), results[1].Path())

	listed, err := f.catalog.List(ctx, "alice", typ.ID)
	require.NoError(t, err)
	assert.Len(t, listed, workers)
}

func TestManyCreationsNeverCollide(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	typ := f.defineType(t, "alice")

	const n = 2000
	paths := make(map[string]struct{}, n)
	for i := 0; i < n; i++ {
		s, err := f.catalog.Create(ctx, "alice", typ.ID, fmt.Sprintf("secret %d", i))
		require.NoError(t, err)
		_, dup := paths[s.Path()]
		require.False(t, dup, "path collision at %d", i)
		paths[s.Path()] = struct{}{}
	}
	assert.Len(t, paths, n)
}

func TestIDGeneratorOption(t *testing.T) {
	t.Parallel()
	f := newFixture(t, catalog.WithIDGenerator(func() string { return "fixed" }))
	typ := f.defineType(t, "alice")

	s, err := f.catalog.Create(context.Background(), "alice", typ.ID, "x")
	require.NoError(t, err)
	assert.Equal(t, typ.ID+"/fixed", s.Path())
}

func ids(secrets []*catalog.Secret) []string {
	out := make([]string, len(secrets))
	for i, s := range secrets {
		out[i] = s.ID
	}
	return out
}
