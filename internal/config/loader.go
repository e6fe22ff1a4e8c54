package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

const (
	FlagStoreCookie = "cookie"
	FlagStoreRedis  = "redis"
	FlagStoreMemory = "memory"
)

// ContextNamePattern is what a gate context must look like to be addressable
// under /_gate/{context}.
var ContextNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// LoadConfig loads configuration from YAML and environment variables. Secret
// references are resolved against AWS on first use.
func LoadConfig(path string) (*Config, error) {
	return LoadConfigWithResolver(context.Background(), path, &AWSSecretResolver{})
}

// LoadConfigWithResolver is LoadConfig with an explicit secret resolver. A nil
// resolver leaves secret references untouched.
func LoadConfigWithResolver(ctx context.Context, path string, resolver SecretResolver) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		// Expand environment variables in YAML
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	}

	// Only the scalar sections take env overrides; routes come from YAML alone.
	for _, section := range []any{&cfg.App, &cfg.Logger, &cfg.Gate, &cfg.Leads, &cfg.Redis, &cfg.Telemetry.Kafka, &cfg.RateLimit} {
		if err := env.Parse(section); err != nil {
			return nil, fmt.Errorf("failed to apply env overrides: %w", err)
		}
	}

	if resolver != nil {
		if err := resolveSecrets(ctx, cfg, resolver); err != nil {
			return nil, err
		}
	}

	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == 0 {
		cfg.App.Port = 8080
	}
	if cfg.Logger.Level == "" {
		cfg.Logger.Level = "info"
	}
	if cfg.Logger.Encoding == "" {
		cfg.Logger.Encoding = "console"
	}
	if cfg.Gate.DefaultContext == "" {
		cfg.Gate.DefaultContext = "prototype"
	}
	if cfg.Gate.FlagStore == "" {
		cfg.Gate.FlagStore = FlagStoreCookie
	}
	if cfg.Gate.CookieMaxAge <= 0 {
		cfg.Gate.CookieMaxAge = 365 * 24 * time.Hour
	}
	for i := range cfg.Routes {
		if cfg.Routes[i].Context == "" {
			cfg.Routes[i].Context = cfg.Gate.DefaultContext
		}
	}
	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = "gate:"
	}
	if cfg.Telemetry.Kafka.Topic == "" {
		cfg.Telemetry.Kafka.Topic = "gate-audit"
	}
	if cfg.Security.HSTSMaxAge == 0 {
		cfg.Security.HSTSMaxAge = 63072000
	}
	if len(cfg.Security.ExcludedPaths) == 0 {
		cfg.Security.ExcludedPaths = []string{"/healthz"}
	}
	if cfg.RateLimit.RatePerInterval <= 0 {
		cfg.RateLimit.RatePerInterval = 10
	}
	if cfg.RateLimit.Interval <= 0 {
		cfg.RateLimit.Interval = time.Minute
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = cfg.RateLimit.RatePerInterval
	}
}

// Validate reports configuration the server cannot start with.
func (c *Config) Validate() error {
	var errs []error
	switch c.Gate.FlagStore {
	case FlagStoreCookie:
		if c.Gate.CookieSecret == "" {
			errs = append(errs, errors.New("gate.cookie_secret is required for the cookie flag store"))
		}
	case FlagStoreRedis:
		if c.Redis.URL == "" {
			errs = append(errs, errors.New("redis.url is required for the redis flag store"))
		}
	case FlagStoreMemory:
	default:
		errs = append(errs, fmt.Errorf("gate.flag_store %q: must be cookie, redis or memory", c.Gate.FlagStore))
	}
	if len(c.Gate.CSRFKey) != 0 && len(c.Gate.CSRFKey) != 32 {
		errs = append(errs, errors.New("gate.csrf_key must be exactly 32 bytes"))
	}
	if len(c.Routes) == 0 {
		errs = append(errs, errors.New("routes must list at least one gated route"))
	}
	for i, r := range c.Routes {
		if !strings.HasPrefix(r.Path, "/") {
			errs = append(errs, fmt.Errorf("routes[%d].path %q must start with /", i, r.Path))
		}
		if !ContextNamePattern.MatchString(r.Context) {
			errs = append(errs, fmt.Errorf("routes[%d].context %q: use 1-64 letters, digits, '-' or '_'", i, r.Context))
		}
		if (r.ContentDir == "") == (r.Upstream == "") {
			errs = append(errs, fmt.Errorf("routes[%d]: exactly one of content_dir or upstream is required", i))
		}
	}
	if c.Telemetry.Kafka.Enabled && len(c.Telemetry.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("telemetry.kafka.brokers is required when kafka is enabled"))
	}
	return errors.Join(errs...)
}

// RemoteLeadsEnabled reports whether both remote lead settings are present.
func (c *Config) RemoteLeadsEnabled() bool {
	return c.Leads.ServiceURL != "" && c.Leads.AnonKey != ""
}
