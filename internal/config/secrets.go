package config

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

const (
	ssmRefPrefix            = "ssm:"
	secretsManagerRefPrefix = "secretsmanager:"
)

// SecretResolver turns a secret reference such as "ssm:/gate/anon-key" into its value.
type SecretResolver interface {
	Resolve(ctx context.Context, ref string) (string, error)
}

// IsSecretRef reports whether v names a secret instead of holding one.
func IsSecretRef(v string) bool {
	return strings.HasPrefix(v, ssmRefPrefix) || strings.HasPrefix(v, secretsManagerRefPrefix)
}

// AWSSecretResolver resolves ssm: and secretsmanager: references. AWS clients are
// only built when a reference of that kind is first seen.
type AWSSecretResolver struct {
	SSM     *SSMLoader
	Secrets *AWSSecretsLoader

	mu sync.Mutex
}

func (r *AWSSecretResolver) Resolve(ctx context.Context, ref string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case strings.HasPrefix(ref, ssmRefPrefix):
		if r.SSM == nil {
			l, err := NewSSMLoader(ctx)
			if err != nil {
				return "", err
			}
			r.SSM = l
		}
		return r.SSM.GetParameter(ctx, strings.TrimPrefix(ref, ssmRefPrefix))
	case strings.HasPrefix(ref, secretsManagerRefPrefix):
		if r.Secrets == nil {
			l, err := NewAWSSecretsLoader(ctx)
			if err != nil {
				return "", err
			}
			r.Secrets = l
		}
		return r.Secrets.GetSecret(ctx, strings.TrimPrefix(ref, secretsManagerRefPrefix))
	default:
		return ref, nil
	}
}

func resolveSecrets(ctx context.Context, cfg *Config, resolver SecretResolver) error {
	fields := map[string]*string{
		"database_url":       &cfg.App.DatabaseURL,
		"leads.anon_key":     &cfg.Leads.AnonKey,
		"gate.cookie_secret": &cfg.Gate.CookieSecret,
		"gate.csrf_key":      &cfg.Gate.CSRFKey,
	}
	for name, field := range fields {
		if !IsSecretRef(*field) {
			continue
		}
		v, err := resolver.Resolve(ctx, *field)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", name, err)
		}
		*field = v
	}
	return nil
}
