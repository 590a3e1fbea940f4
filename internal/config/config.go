// Package config loads seccat.yaml and builds the collaborators it describes.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/systmms/seccat/internal/backends/awssm"
	"github.com/systmms/seccat/internal/backends/hashivault"
	"github.com/systmms/seccat/internal/backends/memory"
	dserrors "github.com/systmms/seccat/internal/errors"
	"github.com/systmms/seccat/internal/logging"
	"github.com/systmms/seccat/internal/metrics"
	"github.com/systmms/seccat/internal/store"
	"github.com/systmms/seccat/internal/tenancy"
	"github.com/systmms/seccat/pkg/secrettype"
	"github.com/systmms/seccat/pkg/vault"
)

// DefaultPath is the configuration file used when --config is not given.
const DefaultPath = "seccat.yaml"

// Recognized values for catalog.driver, vault.backend and tenancy.order.
const (
	DriverMemory = "memory"

	BackendMemory    = "memory"
	BackendHashiCorp = "hashicorp"
	BackendAWS       = "aws"

	ResolverStatic  = "static"
	ResolverKeyring = "keyring"
)

// Config holds the runtime configuration
type Config struct {
	Path       string
	Logger     *logging.Logger
	Definition *Definition
}

// Definition represents the seccat.yaml structure
type Definition struct {
	Version      int                  `yaml:"version"`
	Catalog      CatalogConfig        `yaml:"catalog"`
	Vault        VaultConfig          `yaml:"vault"`
	Tenancy      TenancyConfig        `yaml:"tenancy"`
	BuiltinTypes []BuiltinType        `yaml:"builtin_types,omitempty"`
	Metrics      metrics.ServerConfig `yaml:"metrics"`
}

// CatalogConfig selects the metadata store.
type CatalogConfig struct {
	Driver string `yaml:"driver"` // memory, postgres or mysql
	DSN    string `yaml:"dsn"`    // overridden by SECCAT_DSN
}

// VaultConfig selects the vault backend. Only the section named by Backend
// is read.
type VaultConfig struct {
	Backend   string            `yaml:"backend"`
	HashiCorp hashivault.Config `yaml:"hashicorp"`
	AWS       awssm.Config      `yaml:"aws"`
}

// TenancyConfig describes how owners map to vault tokens.
type TenancyConfig struct {
	// Static maps owners to tokens. Convenient for development, but the
	// tokens sit in the file in clear text.
	Static map[string]string `yaml:"static,omitempty"`

	Keyring *KeyringConfig `yaml:"keyring,omitempty"`

	// Order lists resolvers to consult in turn. Defaults to static, keyring.
	Order []string `yaml:"order,omitempty"`
}

// KeyringConfig enables the OS keyring resolver.
type KeyringConfig struct {
	Service string `yaml:"service"`
}

// BuiltinType is a type every owner can use. Schema may be written as a YAML
// mapping or as a JSON string.
type BuiltinType struct {
	Name   string    `yaml:"name"`
	Schema yaml.Node `yaml:"schema"`
}

// Load reads and parses the seccat.yaml file
func (c *Config) Load() error {
	if c.Path == "" {
		c.Path = DefaultPath
	}

	data, err := os.ReadFile(c.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return dserrors.ConfigError{
				Field:      "path",
				Value:      c.Path,
				Message:    "configuration file not found",
				Suggestion: "Create seccat.yaml in the current directory or pass --config",
			}
		}
		return dserrors.UserError{
			Message:    "Failed to read configuration file",
			Details:    err.Error(),
			Suggestion: "Check file permissions and path",
			Err:        err,
		}
	}

	def, err := Parse(data)
	if err != nil {
		return err
	}
	c.Definition = def
	return nil
}

// Parse decodes a seccat.yaml document, applies environment overrides and
// defaults, and validates the result.
func Parse(data []byte) (*Definition, error) {
	def := Definition{Metrics: metrics.DefaultServerConfig()}
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, dserrors.ConfigError{
			Message:    "invalid YAML syntax in configuration file",
			Suggestion: "Check for indentation errors, missing quotes, or invalid characters. Use a YAML validator",
		}
	}

	if def.Version != 0 {
		return nil, dserrors.ConfigError{
			Field:      "version",
			Value:      def.Version,
			Message:    "unsupported configuration version",
			Suggestion: "Set 'version: 0' at the top of your seccat.yaml file",
		}
	}

	def.applyEnv()
	def.applyDefaults()
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// applyEnv lets deployments keep connection secrets out of the file.
// SECCAT_DSN replaces the configured DSN; VAULT_ADDR and VAULT_NAMESPACE
// only fill fields left empty.
func (d *Definition) applyEnv() {
	if dsn := os.Getenv("SECCAT_DSN"); dsn != "" {
		d.Catalog.DSN = dsn
	}
	if d.Vault.HashiCorp.Address == "" {
		d.Vault.HashiCorp.Address = os.Getenv("VAULT_ADDR")
	}
	if d.Vault.HashiCorp.Namespace == "" {
		d.Vault.HashiCorp.Namespace = os.Getenv("VAULT_NAMESPACE")
	}
}

func (d *Definition) applyDefaults() {
	if d.Catalog.Driver == "" {
		d.Catalog.Driver = DriverMemory
	}
	d.Catalog.Driver = strings.ToLower(d.Catalog.Driver)
	if d.Vault.Backend == "" {
		d.Vault.Backend = BackendMemory
	}
	d.Vault.Backend = strings.ToLower(d.Vault.Backend)
	if d.Tenancy.Keyring != nil && d.Tenancy.Keyring.Service == "" {
		d.Tenancy.Keyring.Service = tenancy.DefaultKeyringService
	}
	if len(d.Tenancy.Order) == 0 {
		d.Tenancy.Order = []string{ResolverStatic, ResolverKeyring}
	}
}

// Validate checks the definition for settings that cannot work.
func (d *Definition) Validate() error {
	switch d.Catalog.Driver {
	case DriverMemory:
	case "postgres", "postgresql", "mysql", "mariadb":
		if d.Catalog.DSN == "" {
			return dserrors.ConfigError{
				Field:      "catalog.dsn",
				Message:    "a DSN is required for driver " + d.Catalog.Driver,
				Suggestion: "Set catalog.dsn or the SECCAT_DSN environment variable",
			}
		}
	default:
		return dserrors.ConfigError{
			Field:      "catalog.driver",
			Value:      d.Catalog.Driver,
			Message:    "unsupported catalog driver",
			Suggestion: "Use one of: memory, postgres, mysql",
		}
	}

	switch d.Vault.Backend {
	case BackendMemory, BackendAWS:
	case BackendHashiCorp:
		if kv := d.Vault.HashiCorp.KVVersion; kv != 0 && kv != 1 && kv != 2 {
			return dserrors.ConfigError{
				Field:      "vault.hashicorp.kv_version",
				Value:      kv,
				Message:    "unsupported KV version",
				Suggestion: "Use 1 or 2",
			}
		}
	default:
		return dserrors.ConfigError{
			Field:      "vault.backend",
			Value:      d.Vault.Backend,
			Message:    "unsupported vault backend",
			Suggestion: "Use one of: memory, hashicorp, aws",
		}
	}

	for i, name := range d.Tenancy.Order {
		if name != ResolverStatic && name != ResolverKeyring {
			return dserrors.ConfigError{
				Field:      fmt.Sprintf("tenancy.order[%d]", i),
				Value:      name,
				Message:    "unknown token resolver",
				Suggestion: "Use static or keyring",
			}
		}
	}

	seen := make(map[string]bool, len(d.BuiltinTypes))
	for i, bt := range d.BuiltinTypes {
		field := fmt.Sprintf("builtin_types[%d]", i)
		if err := secrettype.ValidateName(bt.Name); err != nil {
			return dserrors.ConfigError{
				Field:      field + ".name",
				Value:      bt.Name,
				Message:    err.Error(),
				Suggestion: "Give every built-in type a name of 1 to 100 characters",
			}
		}
		if seen[bt.Name] {
			return dserrors.ConfigError{
				Field:      field + ".name",
				Value:      bt.Name,
				Message:    "duplicate built-in type name",
				Suggestion: "Built-in type names must be unique in the configuration",
			}
		}
		seen[bt.Name] = true
		if _, err := bt.FieldsSchema(); err != nil {
			return dserrors.ConfigError{
				Field:      field + ".schema",
				Message:    err.Error(),
				Suggestion: "Describe a flat object, e.g. {type: object, properties: {password: {type: string}}}",
			}
		}
	}
	return nil
}

// FieldsSchema returns the schema as JSON and checks it with the same rules
// the registry applies.
func (b BuiltinType) FieldsSchema() (json.RawMessage, error) {
	var raw json.RawMessage
	switch b.Schema.Kind {
	case 0:
		return nil, fmt.Errorf("schema is required")
	case yaml.ScalarNode:
		raw = json.RawMessage(b.Schema.Value)
	default:
		var doc interface{}
		if err := b.Schema.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode schema: %w", err)
		}
		encoded, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("schema cannot be expressed as JSON: %w", err)
		}
		raw = encoded
	}
	if err := secrettype.ValidateSchema(raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// BuiltinDefinitions converts builtin_types for secrettype.Registry.EnsureBuiltins.
func (d *Definition) BuiltinDefinitions() ([]secrettype.BuiltinDefinition, error) {
	defs := make([]secrettype.BuiltinDefinition, 0, len(d.BuiltinTypes))
	for _, bt := range d.BuiltinTypes {
		raw, err := bt.FieldsSchema()
		if err != nil {
			return nil, fmt.Errorf("builtin type %s: %w", bt.Name, err)
		}
		defs = append(defs, secrettype.BuiltinDefinition{Name: bt.Name, FieldsSchema: raw})
	}
	return defs, nil
}

// OpenStore connects to the configured metadata store.
func (c *Config) OpenStore(ctx context.Context) (store.Store, error) {
	def := c.Definition
	if def.Catalog.Driver == DriverMemory {
		c.Logger.Debug("Using in-memory catalog")
		return store.NewMemoryStore(), nil
	}

	c.Logger.Debug("Connecting to %s catalog", def.Catalog.Driver)
	s, err := store.OpenSQL(ctx, def.Catalog.Driver, def.Catalog.DSN, store.WithLogger(c.Logger))
	if err != nil {
		return nil, err
	}
	return s, nil
}

// NewBackend creates the configured vault backend.
func (c *Config) NewBackend(ctx context.Context) (vault.Backend, error) {
	def := c.Definition
	switch def.Vault.Backend {
	case BackendHashiCorp:
		b, err := hashivault.New(def.Vault.HashiCorp, hashivault.WithLogger(c.Logger))
		if err != nil {
			return nil, dserrors.ConfigError{
				Field:      "vault.hashicorp",
				Message:    err.Error(),
				Suggestion: "Set vault.hashicorp.address or VAULT_ADDR",
			}
		}
		return b, nil
	case BackendAWS:
		b, err := awssm.New(ctx, def.Vault.AWS, awssm.WithLogger(c.Logger))
		if err != nil {
			return nil, dserrors.UserError{
				Message:    "Failed to initialize AWS Secrets Manager backend",
				Details:    err.Error(),
				Suggestion: "Configure AWS credentials: 'aws configure' or set AWS_PROFILE",
				Err:        err,
			}
		}
		return b, nil
	default:
		c.Logger.Warn("Using in-memory vault backend: material is lost when the process exits")
		return memory.New(), nil
	}
}

// NewResolver builds the owner to token resolver described by tenancy.
func (c *Config) NewResolver() (vault.TokenResolver, error) {
	def := c.Definition
	var resolvers []vault.TokenResolver
	for _, name := range def.Tenancy.Order {
		switch name {
		case ResolverStatic:
			if len(def.Tenancy.Static) > 0 {
				resolvers = append(resolvers, tenancy.NewStaticResolver(def.Tenancy.Static))
			}
		case ResolverKeyring:
			if def.Tenancy.Keyring != nil {
				resolvers = append(resolvers, tenancy.NewKeyringResolver(def.Tenancy.Keyring.Service))
			}
		}
	}

	switch len(resolvers) {
	case 0:
		return nil, dserrors.ConfigError{
			Field:      "tenancy",
			Message:    "no token resolver configured",
			Suggestion: "Add tenancy.static owner tokens or enable tenancy.keyring",
		}
	case 1:
		return resolvers[0], nil
	default:
		return tenancy.NewChainResolver(resolvers...), nil
	}
}
