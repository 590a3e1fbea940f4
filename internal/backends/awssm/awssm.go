// Package awssm implements the vault backend on AWS Secrets Manager.
//
// The tenant token is the ARN of an IAM role. Every call runs with
// credentials obtained by assuming that role, and material is stored under
// {prefix}{roleName}/{path}, so IAM policies on the role confine each tenant
// to its own name prefix.
package awssm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/arn"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go"

	"github.com/systmms/seccat/internal/logging"
	"github.com/systmms/seccat/pkg/vault"
)

const (
	DefaultRegion      = "us-east-1"
	DefaultPrefix      = "seccat/"
	DefaultSessionName = "seccat"
)

// Config holds AWS-specific configuration.
type Config struct {
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"` // Optional custom endpoint for LocalStack or testing
	Prefix      string `yaml:"prefix"`   // Prepended to every secret name
	ExternalID  string `yaml:"external_id"`
	SessionName string `yaml:"session_name"`

	// Optional static base credentials for LocalStack/testing
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// SecretsManagerAPI is the subset of the Secrets Manager client the backend
// uses. It allows for fakes in tests.
type SecretsManagerAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
	PutSecretValue(ctx context.Context, params *secretsmanager.PutSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error)
	CreateSecret(ctx context.Context, params *secretsmanager.CreateSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.CreateSecretOutput, error)
	DeleteSecret(ctx context.Context, params *secretsmanager.DeleteSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.DeleteSecretOutput, error)
}

// ClientProvider returns a Secrets Manager client acting as roleARN.
type ClientProvider func(ctx context.Context, roleARN string) (SecretsManagerAPI, error)

// Backend implements vault.Backend on AWS Secrets Manager.
type Backend struct {
	config  Config
	clients ClientProvider
	logger  *logging.Logger

	mu    sync.Mutex
	cache map[string]SecretsManagerAPI
}

var _ vault.Backend = (*Backend)(nil)

// Option is a functional option for configuring the backend.
type Option func(*Backend)

// WithClientProvider replaces the STS-backed client provider (for testing).
func WithClientProvider(p ClientProvider) Option {
	return func(b *Backend) {
		b.clients = p
	}
}

// WithLogger sets the backend logger.
func WithLogger(l *logging.Logger) Option {
	return func(b *Backend) {
		b.logger = l
	}
}

// New creates a backend. Unless a client provider is injected, the default
// AWS credential chain is loaded once and used to assume tenant roles.
func New(ctx context.Context, cfg Config, opts ...Option) (*Backend, error) {
	if cfg.Region == "" {
		cfg.Region = DefaultRegion
	}
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	if cfg.SessionName == "" {
		cfg.SessionName = DefaultSessionName
	}

	b := &Backend{
		config: cfg,
		logger: logging.Discard(),
		cache:  make(map[string]SecretsManagerAPI),
	}
	for _, opt := range opts {
		opt(b)
	}

	if b.clients == nil {
		provider, err := stsClientProvider(ctx, cfg)
		if err != nil {
			return nil, err
		}
		b.clients = provider
	}
	return b, nil
}

func stsClientProvider(ctx context.Context, cfg Config) (ClientProvider, error) {
	configOpts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
		// Retry policy belongs to callers.
		config.WithRetryMaxAttempts(1),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		configOpts = append(configOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	base, err := config.LoadDefaultConfig(ctx, configOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	stsClient := sts.NewFromConfig(base, func(o *sts.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return func(ctx context.Context, roleARN string) (SecretsManagerAPI, error) {
		assumed := stscreds.NewAssumeRoleProvider(stsClient, roleARN, func(o *stscreds.AssumeRoleOptions) {
			o.RoleSessionName = cfg.SessionName
			if cfg.ExternalID != "" {
				o.ExternalID = aws.String(cfg.ExternalID)
			}
		})
		return secretsmanager.NewFromConfig(base, func(o *secretsmanager.Options) {
			o.Credentials = aws.NewCredentialsCache(assumed)
			if cfg.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Endpoint)
			}
		}), nil
	}, nil
}

// Name implements vault.Backend.
func (b *Backend) Name() string {
	return "aws-secretsmanager"
}

// Read implements vault.Backend.
func (b *Backend) Read(ctx context.Context, token, path string) (vault.Fields, error) {
	client, name, err := b.target(ctx, token, path)
	if err != nil {
		return nil, err
	}

	out, err := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(name),
	})
	if err != nil {
		return nil, classify(err)
	}

	var raw []byte
	switch {
	case out.SecretString != nil:
		raw = []byte(*out.SecretString)
	case out.SecretBinary != nil:
		raw = out.SecretBinary
	default:
		return nil, vault.ErrNotFound
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var data map[string]interface{}
	if err := dec.Decode(&data); err != nil {
		return nil, fmt.Errorf("%w: secret %s does not hold a JSON object: %v", vault.ErrMalformed, name, err)
	}
	return vault.NormalizeFields(data), nil
}

// Write implements vault.Backend. The secret is created on first write.
func (b *Backend) Write(ctx context.Context, token, path string, fields vault.Fields) error {
	client, name, err := b.target(ctx, token, path)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("failed to encode fields: %w", err)
	}

	_, err = client.PutSecretValue(ctx, &secretsmanager.PutSecretValueInput{
		SecretId:     aws.String(name),
		SecretString: aws.String(string(payload)),
	})
	if err == nil {
		return nil
	}
	if !isNotFound(err) {
		return classify(err)
	}

	b.logger.Debug("Creating AWS secret %s", name)
	_, err = client.CreateSecret(ctx, &secretsmanager.CreateSecretInput{
		Name:         aws.String(name),
		SecretString: aws.String(string(payload)),
		Tags: []types.Tag{
			{Key: aws.String("managed-by"), Value: aws.String("seccat")},
		},
	})
	if err != nil {
		return classify(err)
	}
	return nil
}

// Delete implements vault.Backend. Secrets are removed without a recovery
// window.
func (b *Backend) Delete(ctx context.Context, token, path string) error {
	client, name, err := b.target(ctx, token, path)
	if err != nil {
		return err
	}

	_, err = client.DeleteSecret(ctx, &secretsmanager.DeleteSecretInput{
		SecretId:                   aws.String(name),
		ForceDeleteWithoutRecovery: aws.Bool(true),
	})
	if err != nil {
		return classify(err)
	}
	return nil
}

// target returns the client acting as token and the secret name for path.
func (b *Backend) target(ctx context.Context, token, path string) (SecretsManagerAPI, string, error) {
	tenant, err := roleName(token)
	if err != nil {
		return nil, "", err
	}

	b.mu.Lock()
	client, ok := b.cache[token]
	b.mu.Unlock()
	if !ok {
		client, err = b.clients(ctx, token)
		if err != nil {
			return nil, "", fmt.Errorf("%w: %w", vault.ErrVaultUnavailable, err)
		}
		b.mu.Lock()
		b.cache[token] = client
		b.mu.Unlock()
	}

	return client, b.config.Prefix + tenant + "/" + path, nil
}

// roleName extracts the role name from an IAM role ARN.
func roleName(token string) (string, error) {
	parsed, err := arn.Parse(token)
	if err != nil {
		return "", fmt.Errorf("%w: tenant token is not an ARN", vault.ErrPermissionDenied)
	}
	if parsed.Service != "iam" || !strings.HasPrefix(parsed.Resource, "role/") {
		return "", fmt.Errorf("%w: tenant token is not an IAM role ARN", vault.ErrPermissionDenied)
	}
	name := parsed.Resource[strings.LastIndex(parsed.Resource, "/")+1:]
	if name == "" {
		return "", fmt.Errorf("%w: tenant role ARN has no role name", vault.ErrPermissionDenied)
	}
	return name, nil
}

func isNotFound(err error) bool {
	var resourceNotFound *types.ResourceNotFoundException
	return errors.As(err, &resourceNotFound)
}

// classify maps AWS API failures onto the vault error taxonomy.
func classify(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if isNotFound(err) {
		return fmt.Errorf("%w: %w", vault.ErrNotFound, err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDeniedException", "AccessDenied", "UnrecognizedClientException",
			"ExpiredTokenException", "InvalidClientTokenId":
			return fmt.Errorf("%w: %s", vault.ErrPermissionDenied, apiErr.ErrorMessage())
		}
	}
	return fmt.Errorf("%w: %w", vault.ErrVaultUnavailable, err)
}
