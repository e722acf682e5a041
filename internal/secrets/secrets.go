// Package secrets resolves operator key material. Keys live either in AWS
// Secrets Manager or in the process environment as a comma-separated list of
// hex-encoded private keys; secret values never appear in logs or errors.
package secrets

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"os"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"

	"github.com/giwa-labs/bridge-runner/internal/eth"
)

// Key source names accepted by NewProvider.
const (
	SourceEnv = "env"
	SourceAWS = "aws"
)

var (
	ErrInvalidConfig = errors.New("secrets: invalid config")
	ErrNotFound      = errors.New("secrets: not found")
)

// Provider fetches one secret value by name. The name is an env var for the
// env source and a secret id or ARN for the aws source.
type Provider interface {
	Get(ctx context.Context, key string) (string, error)
}

// NewProvider selects the provider for a key source flag value. An empty
// source means env.
func NewProvider(ctx context.Context, source string) (Provider, error) {
	switch strings.TrimSpace(strings.ToLower(source)) {
	case SourceEnv, "":
		return NewEnv(), nil
	case SourceAWS:
		return NewAWS(ctx)
	default:
		return nil, fmt.Errorf("%w: unsupported key source %q", ErrInvalidConfig, source)
	}
}

// OperatorKeys fetches the secret at key and parses it as a private key
// list. The first key is the source account in distribution flows; the rest
// are worker accounts.
func OperatorKeys(ctx context.Context, p Provider, key string) ([]*ecdsa.PrivateKey, error) {
	raw, err := p.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	keys, err := eth.ParsePrivateKeys(raw)
	if err != nil {
		return nil, fmt.Errorf("secrets: parse operator keys from %q: %w", key, err)
	}
	return keys, nil
}

type awsClient interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// AWSProvider reads secrets from AWS Secrets Manager.
type AWSProvider struct {
	client awsClient
}

func NewAWS(ctx context.Context) (*AWSProvider, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: load aws config: %v", ErrInvalidConfig, err)
	}
	return NewAWSWithClient(secretsmanager.NewFromConfig(cfg))
}

func NewAWSWithClient(client awsClient) (*AWSProvider, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: nil secretsmanager client", ErrInvalidConfig)
	}
	return &AWSProvider{client: client}, nil
}

func (p *AWSProvider) Get(ctx context.Context, key string) (string, error) {
	if p == nil || p.client == nil {
		return "", fmt.Errorf("%w: nil aws provider", ErrInvalidConfig)
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", fmt.Errorf("%w: empty secret id", ErrInvalidConfig)
	}

	out, err := p.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: &key,
	})
	if err != nil {
		return "", fmt.Errorf("secrets: fetch %q: %w", key, err)
	}
	// Key lists are stored as strings; binary is accepted for secrets
	// migrated from raw blobs.
	if out.SecretString != nil {
		if v := strings.TrimSpace(*out.SecretString); v != "" {
			return v, nil
		}
	}
	if len(out.SecretBinary) > 0 {
		return string(out.SecretBinary), nil
	}
	return "", fmt.Errorf("%w: secret %q has no value", ErrNotFound, key)
}

// EnvProvider reads secrets from the process environment, for development
// and CI runs.
type EnvProvider struct{}

func NewEnv() *EnvProvider {
	return &EnvProvider{}
}

func (p *EnvProvider) Get(_ context.Context, key string) (string, error) {
	if p == nil {
		return "", fmt.Errorf("%w: nil env provider", ErrInvalidConfig)
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", fmt.Errorf("%w: empty env key", ErrInvalidConfig)
	}
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return "", fmt.Errorf("%w: env %s is empty", ErrNotFound, key)
	}
	return v, nil
}
