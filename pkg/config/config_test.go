package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/platinummonkey/gatekeeper/pkg/observability"
	"github.com/platinummonkey/gatekeeper/pkg/ratelimit"
	"github.com/platinummonkey/gatekeeper/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func writeConfigFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gatekeeper.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestGetEnv(t *testing.T) {
	t.Setenv("TEST_VAR", "custom")

	assert.Equal(t, "custom", getEnv("TEST_VAR", "default"))
	assert.Equal(t, "default", getEnv("TEST_VAR_NOT_SET", "default"))
}

func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		name         string
		envValue     string
		defaultValue bool
		want         bool
	}{
		{name: "true", envValue: "true", want: true},
		{name: "TRUE", envValue: "TRUE", want: true},
		{name: "one", envValue: "1", want: true},
		{name: "false", envValue: "false", defaultValue: true, want: false},
		{name: "anything else", envValue: "yes", defaultValue: true, want: false},
		{name: "unset keeps default", envValue: "", defaultValue: true, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_BOOL", tt.envValue)
			assert.Equal(t, tt.want, getEnvBool("TEST_BOOL", tt.defaultValue))
		})
	}
}

func TestGetEnvNumbers(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	t.Setenv("TEST_INT64", "9000000000")
	t.Setenv("TEST_FLOAT", "0.25")
	t.Setenv("TEST_DURATION", "90s")
	t.Setenv("TEST_BAD", "nope")

	assert.Equal(t, 42, getEnvInt("TEST_INT", 1))
	assert.Equal(t, 1, getEnvInt("TEST_BAD", 1))
	assert.Equal(t, int64(9000000000), getEnvInt64("TEST_INT64", 1))
	assert.Equal(t, int64(7), getEnvInt64("TEST_BAD", 7))
	assert.Equal(t, 0.25, getEnvFloat("TEST_FLOAT", 1))
	assert.Equal(t, 1.0, getEnvFloat("TEST_BAD", 1))
	assert.Equal(t, 90*time.Second, getEnvDuration("TEST_DURATION", time.Second))
	assert.Equal(t, time.Second, getEnvDuration("TEST_BAD", time.Second))
}

func TestParseMapping(t *testing.T) {
	got := parseMapping("billing=billing_admin, orders = orders_admin,broken,=x,y=")
	assert.Equal(t, map[string]string{
		"billing": "billing_admin",
		"orders":  "orders_admin",
	}, got)
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("GATEKEEPER_JWT_SECRET", testSecret)

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "9090", cfg.Server.HealthPort)
	assert.Equal(t, 10*time.Second, cfg.Server.RequestTimeout)
	assert.Equal(t, storage.DriverPostgres, cfg.Storage.Driver)
	assert.Equal(t, SchemeHMAC, cfg.Auth.SigningScheme)
	assert.Equal(t, time.Hour, cfg.Auth.AccessTTL)
	assert.Equal(t, 1209600*time.Second, cfg.Auth.RefreshTTL)
	assert.Equal(t, "none", cfg.RBAC.DefaultRolePolicy)
	assert.Equal(t, "@every 1h", cfg.Sessions.ReapSchedule)
	assert.Equal(t, observability.InfoLevel, cfg.Observability.LogLevel)
	assert.Equal(t, ratelimit.DefaultRules(), cfg.RateLimit.Rules())
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("GATEKEEPER_JWT_SECRET", testSecret)
	t.Setenv("GATEKEEPER_PORT", "8443")
	t.Setenv("GATEKEEPER_DB_DRIVER", "sqlite")
	t.Setenv("GATEKEEPER_DATABASE_URL", "file::memory:?cache=shared")
	t.Setenv("GATEKEEPER_DATABASE_REPLICA_URLS", "postgres://r1, postgres://r2")
	t.Setenv("GATEKEEPER_LOG_LEVEL", "debug")
	t.Setenv("GATEKEEPER_ACCESS_TTL", "15m")
	t.Setenv("GATEKEEPER_DEFAULT_ROLE_POLICY", "STATIC")
	t.Setenv("GATEKEEPER_DEFAULT_ROLES", "billing=billing_admin")
	t.Setenv("GATEKEEPER_RATELIMIT_USER_LIMIT", "50")
	t.Setenv("GATEKEEPER_RATELIMIT_USER_WINDOW", "10s")
	t.Setenv("GATEKEEPER_RATELIMIT_FAIL_OPEN", "true")
	t.Setenv("GATEKEEPER_SESSION_REAP_SCHEDULE", "*/15 * * * *")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8443", cfg.Server.Port)
	assert.Equal(t, storage.DriverSQLite, cfg.Storage.Driver)
	assert.Equal(t, []string{"postgres://r1", "postgres://r2"}, cfg.Storage.ReplicaURLs)
	assert.Equal(t, observability.DebugLevel, cfg.Observability.LogLevel)
	assert.Equal(t, 15*time.Minute, cfg.Auth.AccessTTL)
	assert.Equal(t, "static", cfg.RBAC.DefaultRolePolicy)
	assert.Equal(t, map[string]string{"billing": "billing_admin"}, cfg.RBAC.DefaultRoles)
	assert.True(t, cfg.RateLimit.FailOpen)
	assert.Equal(t, ratelimit.Rule{Type: ratelimit.TypeUser, Limit: 50, Window: 10 * time.Second},
		cfg.RateLimit.Rules()[ratelimit.TypeUser])
	assert.Equal(t, "*/15 * * * *", cfg.Sessions.ReapSchedule)
}

func TestLoadConfigFile(t *testing.T) {
	path := writeConfigFile(t, `
server:
  port: "8081"
  request_timeout: 5s
storage:
  driver: sqlite
  database_url: /var/lib/gatekeeper/gatekeeper.db
observability:
  log_level: warn
auth:
  signing_scheme: hmac
  secret: `+testSecret+`
  refresh_ttl: 48h
rbac:
  default_role_policy: suffix
  default_role_suffix: _owner
ratelimit:
  ip_limit: 200
  ip_window: 30s
`)
	t.Setenv("GATEKEEPER_CONFIG_FILE", path)
	t.Setenv("GATEKEEPER_PORT", "8082")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	// env wins over the file
	assert.Equal(t, "8082", cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Server.RequestTimeout)
	assert.Equal(t, storage.DriverSQLite, cfg.Storage.Driver)
	assert.Equal(t, "/var/lib/gatekeeper/gatekeeper.db", cfg.Storage.DatabaseURL)
	assert.Equal(t, observability.WarnLevel, cfg.Observability.LogLevel)
	assert.Equal(t, testSecret, cfg.Auth.Secret)
	assert.Equal(t, 48*time.Hour, cfg.Auth.RefreshTTL)
	assert.Equal(t, time.Hour, cfg.Auth.AccessTTL)
	assert.Equal(t, "_owner", cfg.RBAC.DefaultRoleSuffix)
	assert.Equal(t, int64(200), cfg.RateLimit.IPLimit)
	assert.Equal(t, 30*time.Second, cfg.RateLimit.IPWindow)
	assert.Equal(t, int64(1000), cfg.RateLimit.UserLimit)
}

func TestLoadConfigFileErrors(t *testing.T) {
	t.Setenv("GATEKEEPER_JWT_SECRET", testSecret)

	t.Run("missing file", func(t *testing.T) {
		t.Setenv("GATEKEEPER_CONFIG_FILE", filepath.Join(t.TempDir(), "absent.yaml"))
		_, err := LoadConfig()
		assert.ErrorContains(t, err, "failed to open config file")
	})

	t.Run("unknown key", func(t *testing.T) {
		t.Setenv("GATEKEEPER_CONFIG_FILE", writeConfigFile(t, "server:\n  prot: \"80\"\n"))
		_, err := LoadConfig()
		assert.ErrorContains(t, err, "failed to parse config file")
	})

	t.Run("empty file", func(t *testing.T) {
		t.Setenv("GATEKEEPER_CONFIG_FILE", writeConfigFile(t, ""))
		_, err := LoadConfig()
		assert.NoError(t, err)
	})
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.Auth.Secret = testSecret
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{
			name:    "missing port",
			mutate:  func(c *Config) { c.Server.Port = "" },
			wantErr: "server port is required",
		},
		{
			name:    "same ports",
			mutate:  func(c *Config) { c.Server.HealthPort = c.Server.Port },
			wantErr: "must be different",
		},
		{
			name:    "unknown driver",
			mutate:  func(c *Config) { c.Storage.Driver = "mysql" },
			wantErr: "invalid database driver",
		},
		{
			name:    "missing database url",
			mutate:  func(c *Config) { c.Storage.DatabaseURL = "" },
			wantErr: "database URL is required",
		},
		{
			name:    "missing redis url",
			mutate:  func(c *Config) { c.Storage.RedisURL = "" },
			wantErr: "redis URL is required",
		},
		{
			name:    "short secret",
			mutate:  func(c *Config) { c.Auth.Secret = "short" },
			wantErr: "at least 32 bytes",
		},
		{
			name:    "rsa without key",
			mutate:  func(c *Config) { c.Auth.SigningScheme = SchemeRSA },
			wantErr: "private key path and key id are required",
		},
		{
			name: "rsa with key",
			mutate: func(c *Config) {
				c.Auth.SigningScheme = SchemeRSA
				c.Auth.PrivateKeyPath = "/keys/signing.pem"
				c.Auth.KeyID = "k1"
			},
		},
		{
			name:    "unknown scheme",
			mutate:  func(c *Config) { c.Auth.SigningScheme = "none" },
			wantErr: "invalid signing scheme",
		},
		{
			name:    "refresh shorter than access",
			mutate:  func(c *Config) { c.Auth.RefreshTTL = time.Minute },
			wantErr: "refresh TTL must not be shorter",
		},
		{
			name:    "static policy without roles",
			mutate:  func(c *Config) { c.RBAC.DefaultRolePolicy = "static" },
			wantErr: "default roles are required",
		},
		{
			name:    "unknown policy",
			mutate:  func(c *Config) { c.RBAC.DefaultRolePolicy = "prefix" },
			wantErr: "invalid default role policy",
		},
		{
			name:    "zero rate limit",
			mutate:  func(c *Config) { c.RateLimit.EndpointLimit = 0 },
			wantErr: "rate limit for ENDPOINT",
		},
		{
			name:    "bad reap schedule",
			mutate:  func(c *Config) { c.Sessions.ReapSchedule = "sometimes" },
			wantErr: "invalid session reap schedule",
		},
		{
			name: "otel without endpoint",
			mutate: func(c *Config) {
				c.Observability.OTelEnabled = true
				c.Observability.OTelEndpoint = ""
			},
			wantErr: "OpenTelemetry endpoint is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestObservabilityOTel(t *testing.T) {
	cfg := Default().Observability
	cfg.OTelEnabled = true
	cfg.OTelSampleRatio = 0.5

	otelCfg := cfg.OTel()
	assert.True(t, otelCfg.Enabled)
	assert.Equal(t, "gatekeeper", otelCfg.ServiceName)
	assert.Equal(t, "localhost:4317", otelCfg.Endpoint)
	assert.Equal(t, 0.5, otelCfg.SampleRatio)
}
