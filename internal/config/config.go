package config

import "time"

type Config struct {
	App AppConfig `yaml:",inline"`

	Logger    LoggerConfig    `yaml:"logger"`
	Gate      GateConfig      `yaml:"gate"`
	Leads     LeadsConfig     `yaml:"leads"`
	Redis     RedisConfig     `yaml:"redis"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Security  SecurityConfig  `yaml:"security"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Routes    []RouteConfig   `yaml:"routes"`
}

type AppConfig struct {
	Env         string `yaml:"env" env:"APP_ENV"`
	Port        int    `yaml:"port" env:"PORT"`
	DatabaseURL string `yaml:"database_url" env:"DATABASE_URL"`
}

type LoggerConfig struct {
	Level    string `yaml:"level" env:"LOG_LEVEL"`
	Encoding string `yaml:"encoding" env:"LOG_ENCODING"`
	Output   string `yaml:"output"`
}

// GateConfig controls how gated content is served and where access flags live.
type GateConfig struct {
	DefaultContext string        `yaml:"default_context" env:"GATE_DEFAULT_CONTEXT"`
	FlagStore      string        `yaml:"flag_store" env:"GATE_FLAG_STORE"` // cookie, redis, memory
	CookieSecret   string        `yaml:"cookie_secret" env:"GATE_COOKIE_SECRET"`
	CookieMaxAge   time.Duration `yaml:"cookie_max_age" env:"GATE_COOKIE_MAX_AGE"`
	SecureCookies  bool          `yaml:"secure_cookies" env:"GATE_SECURE_COOKIES"`
	CSRFKey        string        `yaml:"csrf_key" env:"GATE_CSRF_KEY"`
}

// RouteConfig maps a path prefix to a gate context and the content it protects.
// Exactly one of ContentDir or Upstream is set.
type RouteConfig struct {
	Path       string `yaml:"path"`
	Context    string `yaml:"context"`
	ContentDir string `yaml:"content_dir"`
	Upstream   string `yaml:"upstream"`
}

// LeadsConfig holds the remote lead service settings. Leaving either the URL or the
// anonymous key empty disables remote lead writes.
type LeadsConfig struct {
	ServiceURL string        `yaml:"service_url" env:"GATE_SERVICE_URL"`
	AnonKey    string        `yaml:"anon_key" env:"GATE_SERVICE_ANON_KEY"`
	Timeout    time.Duration `yaml:"timeout" env:"GATE_SERVICE_TIMEOUT"`
}

type RedisConfig struct {
	URL       string `yaml:"url" env:"REDIS_URL"`
	KeyPrefix string `yaml:"key_prefix"`
	PoolSize  int    `yaml:"pool_size"`
}

type TelemetryConfig struct {
	Kafka KafkaAuditConfig `yaml:"kafka"`
}

type KafkaAuditConfig struct {
	Enabled       bool          `yaml:"enabled" env:"KAFKA_AUDIT_ENABLED"`
	Brokers       []string      `yaml:"brokers" env:"KAFKA_BROKERS" envSeparator:","`
	Topic         string        `yaml:"topic" env:"KAFKA_AUDIT_TOPIC"`
	BatchSize     int           `yaml:"batch_size"`
	FlushEvery    time.Duration `yaml:"flush_every"`
	QueueCapacity int           `yaml:"queue_capacity"`
	DialTimeout   time.Duration `yaml:"dial_timeout"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
	TLS           bool          `yaml:"tls"`
}

type SecurityConfig struct {
	HSTSMaxAge            int      `yaml:"hsts_max_age"`
	ContentSecurityPolicy string   `yaml:"csp"`
	ExcludedPaths         []string `yaml:"excluded_paths"`
}

// RateLimitConfig throttles gate submissions per client IP.
type RateLimitConfig struct {
	Enabled         bool          `yaml:"enabled" env:"RATE_LIMIT_ENABLED"`
	RatePerInterval int           `yaml:"rate_per_interval"`
	Interval        time.Duration `yaml:"interval"`
	Burst           int           `yaml:"burst"`
}
