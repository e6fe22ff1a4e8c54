package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
env: staging
port: 9090
logger:
  level: debug
  encoding: json
gate:
  flag_store: cookie
  cookie_secret: ${TEST_COOKIE_SECRET}
leads:
  service_url: https://leads.example.com
  anon_key: ssm:/gate/anon-key
  timeout: 4s
routes:
  - path: /deck
    context: pitch
    content_dir: ./public/deck
  - path: /demo
    upstream: http://localhost:3000
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

type mapResolver map[string]string

func (m mapResolver) Resolve(_ context.Context, ref string) (string, error) {
	v, ok := m[ref]
	if !ok {
		return "", errors.New("unknown secret " + ref)
	}
	return v, nil
}

func TestLoadConfigWithResolver(t *testing.T) {
	t.Setenv("TEST_COOKIE_SECRET", "cookie-secret")
	t.Setenv("PORT", "7070")
	path := writeConfig(t, sampleConfig)

	cfg, err := LoadConfigWithResolver(context.Background(), path, mapResolver{"ssm:/gate/anon-key": "anon-123"})
	require.NoError(t, err)

	assert.Equal(t, "staging", cfg.App.Env)
	assert.Equal(t, 7070, cfg.App.Port, "env overrides yaml")
	assert.Equal(t, "debug", cfg.Logger.Level)
	assert.Equal(t, "cookie-secret", cfg.Gate.CookieSecret)
	assert.Equal(t, "anon-123", cfg.Leads.AnonKey)
	assert.Equal(t, 4*time.Second, cfg.Leads.Timeout)
	assert.True(t, cfg.RemoteLeadsEnabled())

	require.Len(t, cfg.Routes, 2)
	assert.Equal(t, "pitch", cfg.Routes[0].Context)
	assert.Equal(t, "prototype", cfg.Routes[1].Context, "routes default to the default context")
}

func TestLoadConfigEnvOverridesLeadService(t *testing.T) {
	t.Setenv("TEST_COOKIE_SECRET", "cookie-secret")
	t.Setenv("GATE_SERVICE_URL", "https://other.example.com")
	path := writeConfig(t, sampleConfig)

	cfg, err := LoadConfigWithResolver(context.Background(), path, mapResolver{"ssm:/gate/anon-key": "anon-123"})
	require.NoError(t, err)
	assert.Equal(t, "https://other.example.com", cfg.Leads.ServiceURL)
}

func TestLoadConfigWithoutAnonKeyDisablesRemoteLeads(t *testing.T) {
	path := writeConfig(t, `
gate:
  flag_store: memory
leads:
  service_url: https://leads.example.com
routes:
  - path: /deck
    content_dir: ./public
`)

	cfg, err := LoadConfigWithResolver(context.Background(), path, nil)
	require.NoError(t, err)
	assert.False(t, cfg.RemoteLeadsEnabled())
	assert.Equal(t, FlagStoreMemory, cfg.Gate.FlagStore)
}

func TestLoadConfigResolverError(t *testing.T) {
	t.Setenv("TEST_COOKIE_SECRET", "cookie-secret")
	path := writeConfig(t, sampleConfig)

	_, err := LoadConfigWithResolver(context.Background(), path, mapResolver{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "leads.anon_key")
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfigWithResolver(context.Background(), filepath.Join(t.TempDir(), "nope.yaml"), nil)
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := &Config{Gate: GateConfig{FlagStore: "disk", CSRFKey: "short"}}
	cfg.Routes = []RouteConfig{{Path: "deck"}}
	cfg.Telemetry.Kafka.Enabled = true

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, `gate.flag_store "disk"`)
	assert.Contains(t, msg, "csrf_key")
	assert.Contains(t, msg, "must start with /")
	assert.Contains(t, msg, "exactly one of content_dir or upstream")
	assert.Contains(t, msg, "kafka.brokers")
}

func TestValidateRejectsUnaddressableContext(t *testing.T) {
	for _, name := range []string{"my deck", "deck/v2", "", strings.Repeat("x", 65)} {
		cfg := &Config{Gate: GateConfig{FlagStore: FlagStoreMemory}}
		cfg.Routes = []RouteConfig{{Path: "/deck", Context: name, ContentDir: "."}}

		err := cfg.Validate()
		require.Error(t, err, "context %q", name)
		assert.Contains(t, err.Error(), "routes[0].context")
	}

	cfg := &Config{Gate: GateConfig{FlagStore: FlagStoreMemory}}
	cfg.Routes = []RouteConfig{{Path: "/deck", Context: "investor-memo_2", ContentDir: "."}}
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfigRejectsContextWithSpace(t *testing.T) {
	path := writeConfig(t, `
gate:
  flag_store: memory
routes:
  - path: /deck
    context: my deck
    content_dir: .
`)
	_, err := LoadConfigWithResolver(context.Background(), path, mapResolver{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"my deck"`)
}

func TestValidateRedisStoreNeedsURL(t *testing.T) {
	cfg := &Config{Gate: GateConfig{FlagStore: FlagStoreRedis}}
	cfg.Routes = []RouteConfig{{Path: "/deck", Context: "pitch", ContentDir: "."}}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis.url")

	cfg.Redis.URL = "redis://localhost:6379/0"
	assert.NoError(t, cfg.Validate())
}

type fakeSSM struct{ value *string }

func (f fakeSSM) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	if !aws.ToBool(in.WithDecryption) {
		return nil, errors.New("expected decryption")
	}
	return &ssm.GetParameterOutput{Parameter: &ssmtypes.Parameter{Value: f.value}}, nil
}

type fakeSecrets struct{ err error }

func (f fakeSecrets) GetSecretValue(_ context.Context, in *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &secretsmanager.GetSecretValueOutput{SecretString: aws.String("secret:" + aws.ToString(in.SecretId))}, nil
}

func TestAWSSecretResolver(t *testing.T) {
	r := &AWSSecretResolver{
		SSM:     NewSSMLoaderWithClient(fakeSSM{value: aws.String("from-ssm")}),
		Secrets: NewAWSSecretsLoaderWithClient(fakeSecrets{}),
	}
	ctx := context.Background()

	v, err := r.Resolve(ctx, "ssm:/gate/key")
	require.NoError(t, err)
	assert.Equal(t, "from-ssm", v)

	v, err = r.Resolve(ctx, "secretsmanager:gate/csrf")
	require.NoError(t, err)
	assert.Equal(t, "secret:gate/csrf", v)

	v, err = r.Resolve(ctx, "plain-value")
	require.NoError(t, err)
	assert.Equal(t, "plain-value", v)
}

func TestAWSSecretResolverErrors(t *testing.T) {
	r := &AWSSecretResolver{
		SSM:     NewSSMLoaderWithClient(fakeSSM{}),
		Secrets: NewAWSSecretsLoaderWithClient(fakeSecrets{err: errors.New("denied")}),
	}
	ctx := context.Background()

	_, err := r.Resolve(ctx, "ssm:/gate/key")
	assert.ErrorContains(t, err, "has no value")

	_, err = r.Resolve(ctx, "secretsmanager:gate/csrf")
	assert.ErrorContains(t, err, "denied")
}
