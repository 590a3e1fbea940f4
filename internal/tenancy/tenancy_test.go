package tenancy

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

func TestMain(m *testing.M) {
	keyring.MockInit()
	os.Exit(m.Run())
}

func TestStaticResolver(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r := NewStaticResolver(map[string]string{"alice": "tok-a", "bob": "tok-b", "empty": ""})

	tests := []struct {
		owner   string
		want    string
		wantErr error
	}{
		{owner: "alice", want: "tok-a"},
		{owner: "bob", want: "tok-b"},
		{owner: "mallory", wantErr: ErrUnknownOwner},
		{owner: "empty", wantErr: ErrUnknownOwner},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.owner, func(t *testing.T) {
			t.Parallel()

			syncTok, syncErr := r.ResolveVaultToken(ctx, tt.owner)
			asyncTok, asyncErr := r.ResolveVaultTokenAsync(ctx, tt.owner).Await(ctx)

			assert.Equal(t, tt.want, syncTok)
			assert.Equal(t, tt.want, asyncTok)
			if tt.wantErr != nil {
				assert.ErrorIs(t, syncErr, tt.wantErr)
				assert.ErrorIs(t, asyncErr, tt.wantErr)
			} else {
				assert.NoError(t, syncErr)
				assert.NoError(t, asyncErr)
			}
		})
	}

	assert.Equal(t, []string{"alice", "bob", "empty"}, r.Owners())
}

func TestStaticResolverCopiesInput(t *testing.T) {
	t.Parallel()
	tokens := map[string]string{"alice": "tok-a"}
	r := NewStaticResolver(tokens)
	tokens["alice"] = "changed"

	got, err := r.ResolveVaultToken(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "tok-a", got)
}

func TestKeyringResolver(t *testing.T) {
	ctx := context.Background()
	r := NewKeyringResolver("seccat-test")

	require.NoError(t, r.Store("alice", "  tok-from-keyring\n"))

	got, err := r.ResolveVaultToken(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "tok-from-keyring", got)

	got, err = r.ResolveVaultTokenAsync(ctx, "alice").Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok-from-keyring", got)

	_, err = r.ResolveVaultToken(ctx, "nobody")
	assert.ErrorIs(t, err, ErrUnknownOwner)

	_, err = r.ResolveVaultTokenAsync(ctx, "nobody").Await(ctx)
	assert.ErrorIs(t, err, ErrUnknownOwner)

	assert.Equal(t, DefaultKeyringService, NewKeyringResolver("").service)
}

// failingResolver only implements the blocking lookup.
type failingResolver struct{ err error }

func (f failingResolver) ResolveVaultToken(ctx context.Context, owner string) (string, error) {
	return "", f.err
}

func TestChainResolver(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	outage := errors.New("tenancy service down")

	tests := []struct {
		name    string
		chain   *ChainResolver
		owner   string
		want    string
		wantErr error
	}{
		{
			name: "first link wins",
			chain: NewChainResolver(
				NewStaticResolver(map[string]string{"alice": "first"}),
				NewStaticResolver(map[string]string{"alice": "second"}),
			),
			owner: "alice",
			want:  "first",
		},
		{
			name: "falls through unknown owner",
			chain: NewChainResolver(
				NewStaticResolver(map[string]string{}),
				NewStaticResolver(map[string]string{"alice": "second"}),
			),
			owner: "alice",
			want:  "second",
		},
		{
			name: "hard failure stops the chain",
			chain: NewChainResolver(
				failingResolver{err: outage},
				NewStaticResolver(map[string]string{"alice": "second"}),
			),
			owner:   "alice",
			wantErr: outage,
		},
		{
			name:    "nobody knows the owner",
			chain:   NewChainResolver(NewStaticResolver(nil)),
			owner:   "alice",
			wantErr: ErrUnknownOwner,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			syncTok, syncErr := tt.chain.ResolveVaultToken(ctx, tt.owner)
			asyncTok, asyncErr := tt.chain.ResolveVaultTokenAsync(ctx, tt.owner).Await(ctx)

			assert.Equal(t, tt.want, syncTok)
			assert.Equal(t, tt.want, asyncTok)
			if tt.wantErr != nil {
				assert.ErrorIs(t, syncErr, tt.wantErr)
				assert.ErrorIs(t, asyncErr, tt.wantErr)
			}
		})
	}
}
