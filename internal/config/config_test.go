package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/seccat/internal/backends/hashivault"
	"github.com/systmms/seccat/internal/backends/memory"
	dserrors "github.com/systmms/seccat/internal/errors"
	"github.com/systmms/seccat/internal/logging"
	"github.com/systmms/seccat/internal/store"
	"github.com/systmms/seccat/internal/tenancy"
	"github.com/systmms/seccat/pkg/secrettype"
)

const fullConfig = `
version: 0
catalog:
  driver: postgres
  dsn: postgres://seccat@localhost/seccat?sslmode=disable
vault:
  backend: hashicorp
  hashicorp:
    address: https://vault.example.com:8200
    mount: kv
    kv_version: 1
  aws:
    region: eu-west-1
tenancy:
  static:
    alice: token-alice
  keyring:
    service: seccat-test
builtin_types:
  - name: Database credentials
    schema:
      type: object
      properties:
        username: {type: string}
        password: {type: string}
      required: [username, password]
  - name: API key
    schema: '{"type":"object","properties":{"key":{"type":"string"}}}'
metrics:
  enabled: true
  listen: ":9191"
`

func TestParseFullConfig(t *testing.T) {
	def, err := Parse([]byte(fullConfig))
	require.NoError(t, err)

	assert.Equal(t, "postgres", def.Catalog.Driver)
	assert.Equal(t, BackendHashiCorp, def.Vault.Backend)
	assert.Equal(t, hashivault.Config{
		Address:   "https://vault.example.com:8200",
		Namespace: os.Getenv("VAULT_NAMESPACE"),
		Mount:     "kv",
		KVVersion: 1,
	}, def.Vault.HashiCorp)
	assert.Equal(t, "eu-west-1", def.Vault.AWS.Region)
	assert.Equal(t, map[string]string{"alice": "token-alice"}, def.Tenancy.Static)
	assert.Equal(t, "seccat-test", def.Tenancy.Keyring.Service)
	assert.Equal(t, []string{ResolverStatic, ResolverKeyring}, def.Tenancy.Order)
	assert.True(t, def.Metrics.Enabled)
	assert.Equal(t, ":9191", def.Metrics.Listen)
	assert.Equal(t, "/metrics", def.Metrics.Path, "unset metrics fields keep their defaults")

	defs, err := def.BuiltinDefinitions()
	require.NoError(t, err)
	require.Len(t, defs, 2)
	assert.Equal(t, "Database credentials", defs[0].Name)
	assert.JSONEq(t, `{"type":"object","properties":{"username":{"type":"string"},"password":{"type":"string"}},"required":["username","password"]}`, string(defs[0].FieldsSchema))
	assert.Equal(t, `{"type":"object","properties":{"key":{"type":"string"}}}`, string(defs[1].FieldsSchema))
}

func TestParseDefaults(t *testing.T) {
	def, err := Parse([]byte("version: 0\n"))
	require.NoError(t, err)

	assert.Equal(t, DriverMemory, def.Catalog.Driver)
	assert.Equal(t, BackendMemory, def.Vault.Backend)
	assert.Nil(t, def.Tenancy.Keyring)
	assert.False(t, def.Metrics.Enabled)
}

func TestParseEnvOverrides(t *testing.T) {
	t.Setenv("SECCAT_DSN", "mysql://from-env")
	t.Setenv("VAULT_ADDR", "http://127.0.0.1:8200")

	def, err := Parse([]byte(`
version: 0
catalog:
  driver: mysql
  dsn: mysql://from-file
vault:
  backend: hashicorp
`))
	require.NoError(t, err)
	assert.Equal(t, "mysql://from-env", def.Catalog.DSN)
	assert.Equal(t, "http://127.0.0.1:8200", def.Vault.HashiCorp.Address)
}

func TestParseErrors(t *testing.T) {
	t.Setenv("SECCAT_DSN", "")

	tests := []struct {
		name  string
		yaml  string
		field string
	}{
		{name: "bad yaml", yaml: "version: [", field: ""},
		{name: "version", yaml: "version: 2", field: "version"},
		{name: "driver", yaml: "catalog: {driver: sqlite}", field: "catalog.driver"},
		{name: "missing dsn", yaml: "catalog: {driver: postgres}", field: "catalog.dsn"},
		{name: "backend", yaml: "vault: {backend: gcp}", field: "vault.backend"},
		{name: "kv version", yaml: "vault: {backend: hashicorp, hashicorp: {kv_version: 3}}", field: "vault.hashicorp.kv_version"},
		{name: "resolver", yaml: "tenancy: {order: [ldap]}", field: "tenancy.order[0]"},
		{name: "builtin name", yaml: "builtin_types: [{name: '', schema: {type: object}}]", field: "builtin_types[0].name"},
		{
			name:  "builtin duplicate",
			yaml:  "builtin_types: [{name: A, schema: {type: object}}, {name: A, schema: {type: object}}]",
			field: "builtin_types[1].name",
		},
		{name: "builtin missing schema", yaml: "builtin_types: [{name: A}]", field: "builtin_types[0].schema"},
		{
			name:  "builtin nested schema",
			yaml:  "builtin_types: [{name: A, schema: {type: object, properties: {inner: {type: object}}}}]",
			field: "builtin_types[0].schema",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)

			var cfgErr dserrors.ConfigError
			require.True(t, errors.As(err, &cfgErr), "got %T", err)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	c := &Config{Path: filepath.Join(t.TempDir(), "seccat.yaml"), Logger: logging.Discard()}
	err := c.Load()

	var cfgErr dserrors.ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "path", cfgErr.Field)
	assert.Contains(t, cfgErr.Suggestion, "--config")
}

func TestLoadFromFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "seccat.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: 0\ntenancy:\n  static:\n    alice: t\n"), 0o600))

	c := &Config{Path: path, Logger: logging.Discard()}
	require.NoError(t, c.Load())
	require.NotNil(t, c.Definition)
	assert.Equal(t, "t", c.Definition.Tenancy.Static["alice"])
}

func TestBuildersForMemoryMode(t *testing.T) {
	t.Parallel()

	def, err := Parse([]byte("version: 0\ntenancy:\n  static:\n    alice: token-alice\n"))
	require.NoError(t, err)
	c := &Config{Logger: logging.Discard(), Definition: def}
	ctx := context.Background()

	s, err := c.OpenStore(ctx)
	require.NoError(t, err)
	assert.IsType(t, &store.MemoryStore{}, s)

	b, err := c.NewBackend(ctx)
	require.NoError(t, err)
	assert.IsType(t, &memory.Backend{}, b)

	r, err := c.NewResolver()
	require.NoError(t, err)
	assert.IsType(t, &tenancy.StaticResolver{}, r)

	token, err := r.ResolveVaultToken(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "token-alice", token)
}

func TestNewResolverChainsInOrder(t *testing.T) {
	t.Parallel()

	def, err := Parse([]byte(`
tenancy:
  static: {alice: token-alice}
  keyring: {}
  order: [keyring, static]
`))
	require.NoError(t, err)
	assert.Equal(t, tenancy.DefaultKeyringService, def.Tenancy.Keyring.Service)

	c := &Config{Logger: logging.Discard(), Definition: def}
	r, err := c.NewResolver()
	require.NoError(t, err)
	assert.IsType(t, &tenancy.ChainResolver{}, r)
}

func TestNewResolverRequiresOne(t *testing.T) {
	t.Parallel()

	def, err := Parse([]byte("version: 0\n"))
	require.NoError(t, err)
	c := &Config{Logger: logging.Discard(), Definition: def}

	_, err = c.NewResolver()
	var cfgErr dserrors.ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "tenancy", cfgErr.Field)
}

func TestNewBackendHashiCorpRequiresAddress(t *testing.T) {
	t.Setenv("VAULT_ADDR", "")

	def, err := Parse([]byte("vault: {backend: hashicorp}"))
	require.NoError(t, err)
	c := &Config{Logger: logging.Discard(), Definition: def}

	_, err = c.NewBackend(context.Background())
	var cfgErr dserrors.ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "vault.hashicorp", cfgErr.Field)
}

func TestBuiltinSchemaRulesMatchRegistry(t *testing.T) {
	t.Parallel()

	def, err := Parse([]byte("builtin_types: [{name: Token, schema: '{\"type\":\"object\"}'}]"))
	require.NoError(t, err)

	defs, err := def.BuiltinDefinitions()
	require.NoError(t, err)
	require.NoError(t, secrettype.ValidateSchema(defs[0].FieldsSchema))
}
