// Package hashivault implements the vault backend on HashiCorp Vault's KV
// secrets engine.
//
// Each call runs on a clone of a shared API client carrying the tenant's
// token. Every path is prefixed with the token's identity entity id, so two
// tenants writing the same logical path land on different Vault keys. Tokens
// without an identity entity are rejected.
package hashivault

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/vault/api"

	"github.com/systmms/seccat/internal/logging"
	"github.com/systmms/seccat/pkg/vault"
)

const (
	DefaultMount     = "secret"
	DefaultKVVersion = 2
	DefaultTimeout   = 30 * time.Second
)

// Config holds Vault-specific configuration.
type Config struct {
	Address       string        `yaml:"address"`         // Vault server address
	Namespace     string        `yaml:"namespace"`       // Vault namespace (Vault Enterprise)
	Mount         string        `yaml:"mount"`           // KV mount path
	KVVersion     int           `yaml:"kv_version"`      // 1 or 2
	Timeout       time.Duration `yaml:"timeout"`

	// Optional TLS settings
	CACert  string `yaml:"ca_cert"`  // Path to CA certificate
	TLSSkip bool   `yaml:"tls_skip"` // Skip TLS verification (not recommended)
}

// Backend implements vault.Backend against HashiCorp Vault.
type Backend struct {
	config Config
	client *api.Client
	logger *logging.Logger
}

var _ vault.Backend = (*Backend)(nil)

// Option configures a Backend.
type Option func(*Backend)

// WithLogger sets the backend logger.
func WithLogger(l *logging.Logger) Option {
	return func(b *Backend) {
		b.logger = l
	}
}

// New creates a backend. Empty fields fall back to VAULT_ADDR and
// VAULT_NAMESPACE, then to the package defaults.
func New(cfg Config, opts ...Option) (*Backend, error) {
	if cfg.Address == "" {
		cfg.Address = os.Getenv("VAULT_ADDR")
	}
	if cfg.Namespace == "" {
		cfg.Namespace = os.Getenv("VAULT_NAMESPACE")
	}
	if cfg.Mount == "" {
		cfg.Mount = DefaultMount
	}
	cfg.Mount = strings.Trim(cfg.Mount, "/")
	if cfg.KVVersion == 0 {
		cfg.KVVersion = DefaultKVVersion
	}
	if cfg.KVVersion != 1 && cfg.KVVersion != 2 {
		return nil, fmt.Errorf("unsupported kv_version %d: must be 1 or 2", cfg.KVVersion)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Address == "" {
		return nil, fmt.Errorf("vault address is required (set vault.hashicorp.address or VAULT_ADDR)")
	}

	apiCfg := api.DefaultConfig()
	if apiCfg.Error != nil {
		return nil, fmt.Errorf("failed to read vault environment: %w", apiCfg.Error)
	}
	apiCfg.Address = cfg.Address
	apiCfg.Timeout = cfg.Timeout
	// Retry policy belongs to callers.
	apiCfg.MaxRetries = 0
	if cfg.CACert != "" || cfg.TLSSkip {
		if err := apiCfg.ConfigureTLS(&api.TLSConfig{CACert: cfg.CACert, Insecure: cfg.TLSSkip}); err != nil {
			return nil, fmt.Errorf("failed to configure vault TLS: %w", err)
		}
	}

	client, err := api.NewClient(apiCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	// Never fall back to a process-wide VAULT_TOKEN.
	client.ClearToken()
	if cfg.Namespace != "" {
		client.SetNamespace(cfg.Namespace)
	}

	b := &Backend{
		config: cfg,
		client: client,
		logger: logging.Discard(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Name implements vault.Backend.
func (b *Backend) Name() string {
	return "hashicorp"
}

// Read implements vault.Backend.
func (b *Backend) Read(ctx context.Context, token, path string) (vault.Fields, error) {
	client, path, err := b.scoped(ctx, token, path)
	if err != nil {
		return nil, err
	}

	secret, err := client.Logical().ReadWithContext(ctx, b.dataPath(path))
	if err != nil {
		return nil, classify(err)
	}
	if secret == nil || secret.Data == nil {
		return nil, vault.ErrNotFound
	}

	data := secret.Data
	if b.config.KVVersion == 2 {
		inner, ok := secret.Data["data"].(map[string]interface{})
		if !ok {
			// Soft-deleted or destroyed version.
			return nil, vault.ErrNotFound
		}
		data = inner
	}
	return vault.NormalizeFields(data), nil
}

// Write implements vault.Backend.
func (b *Backend) Write(ctx context.Context, token, path string, fields vault.Fields) error {
	client, path, err := b.scoped(ctx, token, path)
	if err != nil {
		return err
	}

	payload := map[string]interface{}(fields.Clone())
	if b.config.KVVersion == 2 {
		payload = map[string]interface{}{"data": payload}
	}
	if _, err := client.Logical().WriteWithContext(ctx, b.dataPath(path), payload); err != nil {
		return classify(err)
	}
	return nil
}

// Delete implements vault.Backend. On KV v2 all versions and metadata are
// removed.
func (b *Backend) Delete(ctx context.Context, token, path string) error {
	client, path, err := b.scoped(ctx, token, path)
	if err != nil {
		return err
	}

	// Vault deletes are idempotent; look first so a missing path reports
	// NotFound. A policy may grant delete without read, in which case the
	// delete goes ahead unchecked.
	target := b.dataPath(path)
	if b.config.KVVersion == 2 {
		target = b.metadataPath(path)
	}
	existing, err := client.Logical().ReadWithContext(ctx, target)
	switch {
	case err == nil:
		if existing == nil || existing.Data == nil {
			return vault.ErrNotFound
		}
	case errors.Is(classify(err), vault.ErrPermissionDenied):
		b.logger.Debug("Token may not read %s, deleting without existence check", target)
	default:
		return classify(err)
	}

	if _, err := client.Logical().DeleteWithContext(ctx, target); err != nil {
		return classify(err)
	}
	return nil
}

// scoped returns a client carrying token and the tenant's path under the
// token's identity entity.
func (b *Backend) scoped(ctx context.Context, token, path string) (*api.Client, string, error) {
	client, err := b.client.Clone()
	if err != nil {
		return nil, "", fmt.Errorf("failed to clone vault client: %w", err)
	}
	client.SetToken(token)
	if b.config.Namespace != "" {
		client.SetNamespace(b.config.Namespace)
	}

	self, err := client.Auth().Token().LookupSelfWithContext(ctx)
	if err != nil {
		return nil, "", classify(err)
	}
	entityID := ""
	if self != nil && self.Data != nil {
		entityID, _ = self.Data["entity_id"].(string)
	}
	if entityID == "" {
		return nil, "", fmt.Errorf("%w: token has no identity entity", vault.ErrPermissionDenied)
	}
	b.logger.Debug("Scoping vault path to entity %s", entityID)
	return client, entityID + "/" + path, nil
}

func (b *Backend) dataPath(path string) string {
	if b.config.KVVersion == 2 {
		return b.config.Mount + "/data/" + path
	}
	return b.config.Mount + "/" + path
}

func (b *Backend) metadataPath(path string) string {
	return b.config.Mount + "/metadata/" + path
}

// classify maps Vault API failures onto the vault error taxonomy.
func classify(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var respErr *api.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.StatusCode {
		case http.StatusNotFound:
			return fmt.Errorf("%w: %s", vault.ErrNotFound, strings.Join(respErr.Errors, ", "))
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: %s", vault.ErrPermissionDenied, strings.Join(respErr.Errors, ", "))
		}
		return fmt.Errorf("%w: vault returned status %d: %s", vault.ErrVaultUnavailable, respErr.StatusCode, strings.Join(respErr.Errors, ", "))
	}
	return fmt.Errorf("%w: %w", vault.ErrVaultUnavailable, err)
}
