package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/gatekeeper/pkg/observability"
	"github.com/platinummonkey/gatekeeper/pkg/ratelimit"
	"github.com/platinummonkey/gatekeeper/pkg/storage"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// minSecretLength mirrors the shortest HS256 secret the token signer accepts
const minSecretLength = 32

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig `yaml:"server"`

	// Storage configuration
	Storage storage.Config `yaml:"storage"`

	// Observability configuration
	Observability ObservabilityConfig `yaml:"observability"`

	Auth      AuthConfig      `yaml:"auth"`
	RBAC      RBACConfig      `yaml:"rbac"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Sessions  SessionsConfig  `yaml:"sessions"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`

	// Health/metrics server (separate port for k8s probes)
	HealthPort string `yaml:"health_port"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel `yaml:"log_level"`

	// Metrics
	MetricsEnabled bool `yaml:"metrics_enabled"`

	// OpenTelemetry
	OTelEnabled        bool    `yaml:"otel_enabled"`
	OTelEndpoint       string  `yaml:"otel_endpoint"`
	OTelServiceName    string  `yaml:"otel_service_name"`
	OTelServiceVersion string  `yaml:"otel_service_version"`
	OTelInsecure       bool    `yaml:"otel_insecure"` // Use insecure gRPC connection
	OTelSampleRatio    float64 `yaml:"otel_sample_ratio"`
}

// OTel converts the settings for observability.InitOTel
func (c ObservabilityConfig) OTel() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        c.OTelEnabled,
		Endpoint:       c.OTelEndpoint,
		ServiceName:    c.OTelServiceName,
		ServiceVersion: c.OTelServiceVersion,
		Insecure:       c.OTelInsecure,
		SampleRatio:    c.OTelSampleRatio,
	}
}

// Signing schemes
const (
	SchemeHMAC = "hmac"
	SchemeRSA  = "rsa"
)

// AuthConfig selects the token signing scheme and token lifetimes
type AuthConfig struct {
	SigningScheme string `yaml:"signing_scheme"` // "hmac" or "rsa"

	// HMAC
	Secret string `yaml:"secret"`

	// RSA: the active private key and its id, plus a directory of
	// <kid>.pem public keys accepted for verification
	PrivateKeyPath string `yaml:"private_key_path"`
	KeyID          string `yaml:"key_id"`
	KeyringDir     string `yaml:"keyring_dir"`
	WatchKeyring   bool   `yaml:"watch_keyring"`

	Issuer     string        `yaml:"issuer"`
	AccessTTL  time.Duration `yaml:"access_ttl"`
	RefreshTTL time.Duration `yaml:"refresh_ttl"`
}

// RBACConfig holds resolver and endpoint sync settings
type RBACConfig struct {
	// EnforceUsage refuses to delete roles and permissions that are in use
	EnforceUsage bool          `yaml:"enforce_usage"`
	CacheTTL     time.Duration `yaml:"cache_ttl"`
	CacheSize    int           `yaml:"cache_size"`

	// DefaultRolePolicy is "none", "suffix" or "static"
	DefaultRolePolicy string            `yaml:"default_role_policy"`
	DefaultRoleSuffix string            `yaml:"default_role_suffix"`
	DefaultRoles      map[string]string `yaml:"default_roles"`
}

// RateLimitConfig holds the fixed-window limits per bucket type
type RateLimitConfig struct {
	Enabled  bool `yaml:"enabled"`
	FailOpen bool `yaml:"fail_open"`

	IPLimit        int64         `yaml:"ip_limit"`
	IPWindow       time.Duration `yaml:"ip_window"`
	UserLimit      int64         `yaml:"user_limit"`
	UserWindow     time.Duration `yaml:"user_window"`
	EndpointLimit  int64         `yaml:"endpoint_limit"`
	EndpointWindow time.Duration `yaml:"endpoint_window"`
}

// Rules converts the limits for ratelimit.NewLimiter
func (c RateLimitConfig) Rules() map[ratelimit.Type]ratelimit.Rule {
	return map[ratelimit.Type]ratelimit.Rule{
		ratelimit.TypeIP:       {Type: ratelimit.TypeIP, Limit: c.IPLimit, Window: c.IPWindow},
		ratelimit.TypeUser:     {Type: ratelimit.TypeUser, Limit: c.UserLimit, Window: c.UserWindow},
		ratelimit.TypeEndpoint: {Type: ratelimit.TypeEndpoint, Limit: c.EndpointLimit, Window: c.EndpointWindow},
	}
}

// SessionsConfig holds refresh session housekeeping settings
type SessionsConfig struct {
	// ReapSchedule is a cron spec for deleting expired sessions
	ReapSchedule string `yaml:"reap_schedule"`
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	rules := ratelimit.DefaultRules()
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			RequestTimeout:  10 * time.Second,
			MaxBodyBytes:    1 << 20,
			HealthPort:      "9090",
		},
		Storage: storage.DefaultConfig(),
		Observability: ObservabilityConfig{
			LogLevel:           observability.InfoLevel,
			MetricsEnabled:     true,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "gatekeeper",
			OTelServiceVersion: "1.0.0",
			OTelInsecure:       true,
			OTelSampleRatio:    1,
		},
		Auth: AuthConfig{
			SigningScheme: SchemeHMAC,
			Issuer:        "gatekeeper",
			AccessTTL:     time.Hour,
			RefreshTTL:    14 * 24 * time.Hour,
		},
		RBAC: RBACConfig{
			EnforceUsage:      true,
			CacheSize:         10000,
			DefaultRolePolicy: "none",
			DefaultRoleSuffix: "_default",
		},
		RateLimit: RateLimitConfig{
			Enabled:        true,
			FailOpen:       false,
			IPLimit:        rules[ratelimit.TypeIP].Limit,
			IPWindow:       rules[ratelimit.TypeIP].Window,
			UserLimit:      rules[ratelimit.TypeUser].Limit,
			UserWindow:     rules[ratelimit.TypeUser].Window,
			EndpointLimit:  rules[ratelimit.TypeEndpoint].Limit,
			EndpointWindow: rules[ratelimit.TypeEndpoint].Window,
		},
		Sessions: SessionsConfig{
			ReapSchedule: "@every 1h",
		},
	}
}

// LoadConfig builds the configuration from defaults, the YAML file named by
// GATEKEEPER_CONFIG_FILE (if any) and GATEKEEPER_* environment variables, in
// that order, and validates the result
func LoadConfig() (*Config, error) {
	cfg := Default()

	if path := getEnv("GATEKEEPER_CONFIG_FILE", ""); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadFile overlays a YAML file. Unknown keys are rejected.
func (c *Config) loadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.applyServerEnv()
	c.applyStorageEnv()
	c.applyObservabilityEnv()
	c.applyAuthEnv()
	c.applyRBACEnv()
	c.applyRateLimitEnv()
	c.Sessions.ReapSchedule = getEnv("GATEKEEPER_SESSION_REAP_SCHEDULE", c.Sessions.ReapSchedule)
}

func (c *Config) applyServerEnv() {
	s := &c.Server
	s.Host = getEnv("GATEKEEPER_HOST", s.Host)
	s.Port = getEnv("GATEKEEPER_PORT", s.Port)
	s.ReadTimeout = getEnvDuration("GATEKEEPER_READ_TIMEOUT", s.ReadTimeout)
	s.WriteTimeout = getEnvDuration("GATEKEEPER_WRITE_TIMEOUT", s.WriteTimeout)
	s.IdleTimeout = getEnvDuration("GATEKEEPER_IDLE_TIMEOUT", s.IdleTimeout)
	s.ShutdownTimeout = getEnvDuration("GATEKEEPER_SHUTDOWN_TIMEOUT", s.ShutdownTimeout)
	s.RequestTimeout = getEnvDuration("GATEKEEPER_REQUEST_TIMEOUT", s.RequestTimeout)
	s.MaxBodyBytes = getEnvInt64("GATEKEEPER_MAX_BODY_BYTES", s.MaxBodyBytes)
	s.HealthPort = getEnv("GATEKEEPER_HEALTH_PORT", s.HealthPort)
}

func (c *Config) applyStorageEnv() {
	s := &c.Storage
	s.Driver = getEnv("GATEKEEPER_DB_DRIVER", s.Driver)
	s.DatabaseURL = getEnv("GATEKEEPER_DATABASE_URL", s.DatabaseURL)
	if replicas := getEnv("GATEKEEPER_DATABASE_REPLICA_URLS", ""); replicas != "" {
		s.ReplicaURLs = splitList(replicas)
	}
	if maxConns := getEnvInt("GATEKEEPER_DB_MAX_CONNS", 0); maxConns > 0 {
		s.MaxConns = maxConns
	}
	if minConns := getEnvInt("GATEKEEPER_DB_MIN_CONNS", 0); minConns > 0 {
		s.MinConns = minConns
	}
	if timeout := getEnvDuration("GATEKEEPER_DB_TIMEOUT", 0); timeout > 0 {
		s.Timeout = timeout
	}
	s.AutoMigrate = getEnvBool("GATEKEEPER_AUTO_MIGRATE", s.AutoMigrate)

	// Redis config
	s.RedisURL = getEnv("GATEKEEPER_REDIS_URL", s.RedisURL)
	s.RedisPassword = getEnv("GATEKEEPER_REDIS_PASSWORD", s.RedisPassword)
	if redisDB := getEnvInt("GATEKEEPER_REDIS_DB", -1); redisDB >= 0 {
		s.RedisDB = redisDB
	}
	if redisMaxRetries := getEnvInt("GATEKEEPER_REDIS_MAX_RETRIES", 0); redisMaxRetries > 0 {
		s.RedisMaxRetries = redisMaxRetries
	}
	if redisPoolSize := getEnvInt("GATEKEEPER_REDIS_POOL_SIZE", 0); redisPoolSize > 0 {
		s.RedisPoolSize = redisPoolSize
	}
}

func (c *Config) applyObservabilityEnv() {
	o := &c.Observability
	if level := getEnv("GATEKEEPER_LOG_LEVEL", ""); level != "" {
		o.LogLevel = observability.ParseLogLevel(level)
	}
	o.MetricsEnabled = getEnvBool("GATEKEEPER_METRICS_ENABLED", o.MetricsEnabled)
	o.OTelEnabled = getEnvBool("GATEKEEPER_OTEL_ENABLED", o.OTelEnabled)
	o.OTelEndpoint = getEnv("GATEKEEPER_OTEL_ENDPOINT", o.OTelEndpoint)
	o.OTelServiceName = getEnv("GATEKEEPER_OTEL_SERVICE_NAME", o.OTelServiceName)
	o.OTelServiceVersion = getEnv("GATEKEEPER_OTEL_SERVICE_VERSION", o.OTelServiceVersion)
	o.OTelInsecure = getEnvBool("GATEKEEPER_OTEL_INSECURE", o.OTelInsecure)
	o.OTelSampleRatio = getEnvFloat("GATEKEEPER_OTEL_SAMPLE_RATIO", o.OTelSampleRatio)
}

func (c *Config) applyAuthEnv() {
	a := &c.Auth
	a.SigningScheme = strings.ToLower(getEnv("GATEKEEPER_SIGNING_SCHEME", a.SigningScheme))
	a.Secret = getEnv("GATEKEEPER_JWT_SECRET", a.Secret)
	a.PrivateKeyPath = getEnv("GATEKEEPER_JWT_PRIVATE_KEY", a.PrivateKeyPath)
	a.KeyID = getEnv("GATEKEEPER_JWT_KEY_ID", a.KeyID)
	a.KeyringDir = getEnv("GATEKEEPER_JWT_KEYRING_DIR", a.KeyringDir)
	a.WatchKeyring = getEnvBool("GATEKEEPER_JWT_WATCH_KEYRING", a.WatchKeyring)
	a.Issuer = getEnv("GATEKEEPER_JWT_ISSUER", a.Issuer)
	a.AccessTTL = getEnvDuration("GATEKEEPER_ACCESS_TTL", a.AccessTTL)
	a.RefreshTTL = getEnvDuration("GATEKEEPER_REFRESH_TTL", a.RefreshTTL)
}

func (c *Config) applyRBACEnv() {
	r := &c.RBAC
	r.EnforceUsage = getEnvBool("GATEKEEPER_RBAC_ENFORCE_USAGE", r.EnforceUsage)
	r.CacheTTL = getEnvDuration("GATEKEEPER_RBAC_CACHE_TTL", r.CacheTTL)
	if size := getEnvInt("GATEKEEPER_RBAC_CACHE_SIZE", 0); size > 0 {
		r.CacheSize = size
	}
	r.DefaultRolePolicy = strings.ToLower(getEnv("GATEKEEPER_DEFAULT_ROLE_POLICY", r.DefaultRolePolicy))
	r.DefaultRoleSuffix = getEnv("GATEKEEPER_DEFAULT_ROLE_SUFFIX", r.DefaultRoleSuffix)
	if mapping := getEnv("GATEKEEPER_DEFAULT_ROLES", ""); mapping != "" {
		r.DefaultRoles = parseMapping(mapping)
	}
}

func (c *Config) applyRateLimitEnv() {
	r := &c.RateLimit
	r.Enabled = getEnvBool("GATEKEEPER_RATELIMIT_ENABLED", r.Enabled)
	r.FailOpen = getEnvBool("GATEKEEPER_RATELIMIT_FAIL_OPEN", r.FailOpen)
	r.IPLimit = getEnvInt64("GATEKEEPER_RATELIMIT_IP_LIMIT", r.IPLimit)
	r.IPWindow = getEnvDuration("GATEKEEPER_RATELIMIT_IP_WINDOW", r.IPWindow)
	r.UserLimit = getEnvInt64("GATEKEEPER_RATELIMIT_USER_LIMIT", r.UserLimit)
	r.UserWindow = getEnvDuration("GATEKEEPER_RATELIMIT_USER_WINDOW", r.UserWindow)
	r.EndpointLimit = getEnvInt64("GATEKEEPER_RATELIMIT_ENDPOINT_LIMIT", r.EndpointLimit)
	r.EndpointWindow = getEnvDuration("GATEKEEPER_RATELIMIT_ENDPOINT_WINDOW", r.EndpointWindow)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	// Validate storage config based on driver
	switch c.Storage.Driver {
	case storage.DriverPostgres, storage.DriverSQLite:
		if c.Storage.DatabaseURL == "" {
			return fmt.Errorf("database URL is required for %s storage", c.Storage.Driver)
		}
	default:
		return fmt.Errorf("invalid database driver: %s (must be postgres or sqlite)", c.Storage.Driver)
	}
	if c.Storage.RedisURL == "" {
		return fmt.Errorf("redis URL is required")
	}

	if err := c.Auth.validate(); err != nil {
		return err
	}

	switch c.RBAC.DefaultRolePolicy {
	case "", "none", "suffix":
	case "static":
		if len(c.RBAC.DefaultRoles) == 0 {
			return fmt.Errorf("default roles are required for the static default role policy")
		}
	default:
		return fmt.Errorf("invalid default role policy: %s (must be none, suffix, or static)", c.RBAC.DefaultRolePolicy)
	}

	for t, rule := range c.RateLimit.Rules() {
		if rule.Limit <= 0 || rule.Window <= 0 {
			return fmt.Errorf("rate limit for %s needs a positive limit and window", t)
		}
	}

	if _, err := cron.ParseStandard(c.Sessions.ReapSchedule); err != nil {
		return fmt.Errorf("invalid session reap schedule %q: %w", c.Sessions.ReapSchedule, err)
	}

	// Validate OpenTelemetry config
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

func (a AuthConfig) validate() error {
	switch a.SigningScheme {
	case SchemeHMAC:
		if len(a.Secret) < minSecretLength {
			return fmt.Errorf("JWT secret must be at least %d bytes for hmac signing", minSecretLength)
		}
	case SchemeRSA:
		if a.PrivateKeyPath == "" || a.KeyID == "" {
			return fmt.Errorf("private key path and key id are required for rsa signing")
		}
	default:
		return fmt.Errorf("invalid signing scheme: %s (must be hmac or rsa)", a.SigningScheme)
	}
	if a.AccessTTL <= 0 || a.RefreshTTL <= 0 {
		return fmt.Errorf("token lifetimes must be positive")
	}
	if a.RefreshTTL < a.AccessTTL {
		return fmt.Errorf("refresh TTL must not be shorter than access TTL")
	}
	return nil
}

// splitList splits a comma-separated value and drops empty items
func splitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// parseMapping parses "a=x,b=y"; malformed pairs are skipped
func parseMapping(value string) map[string]string {
	out := make(map[string]string)
	for _, pair := range splitList(value) {
		k, v, ok := strings.Cut(pair, "=")
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if !ok || k == "" || v == "" {
			continue
		}
		out[k] = v
	}
	return out
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
