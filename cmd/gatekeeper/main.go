package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/platinummonkey/gatekeeper/pkg/api"
	"github.com/platinummonkey/gatekeeper/pkg/audit"
	"github.com/platinummonkey/gatekeeper/pkg/auth"
	"github.com/platinummonkey/gatekeeper/pkg/config"
	"github.com/platinummonkey/gatekeeper/pkg/endpoints"
	"github.com/platinummonkey/gatekeeper/pkg/identity"
	"github.com/platinummonkey/gatekeeper/pkg/observability"
	"github.com/platinummonkey/gatekeeper/pkg/ratelimit"
	"github.com/platinummonkey/gatekeeper/pkg/rbac"
	"github.com/platinummonkey/gatekeeper/pkg/sessions"
	"github.com/platinummonkey/gatekeeper/pkg/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	// A missing .env file is fine; the environment may be set some other way
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).
		WithField("service", "gatekeeper").
		WithField("version", version)

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("Gatekeeper stopped with an error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	providers, err := observability.InitOTel(ctx, cfg.Observability.OTel(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	// Storage
	conns, err := storage.NewConnectionManager(cfg.Storage, logger.Logrus())
	if err != nil {
		return err
	}
	db := conns.Primary()

	if cfg.Storage.AutoMigrate {
		applied, err := storage.Migrate(ctx, db)
		if err != nil {
			return fmt.Errorf("failed to migrate database: %w", err)
		}
		logger.WithField("applied", applied).Info("Database migrations complete")
	}

	redisClient, err := storage.NewRedisClient(cfg.Storage)
	if err != nil {
		return err
	}

	// Metrics
	var registry *prometheus.Registry
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		registry = prometheus.NewRegistry()
		metrics = observability.NewMetrics(registry)
		if providers != nil {
			otelMetrics, err := observability.NewOTelMetrics()
			if err != nil {
				logger.WithError(err).Warn("OpenTelemetry metrics unavailable, exporting Prometheus only")
			} else {
				metrics.MirrorToOTel(otelMetrics)
			}
		}
	}

	auditLogger := audit.NewLogrusLogger(os.Stdout)

	// RBAC and endpoint registry
	users := identity.NewStore(db)
	manager := rbac.NewManager(db, users, auditLogger, rbac.Config{
		CacheTTL:     cfg.RBAC.CacheTTL,
		CacheSize:    cfg.RBAC.CacheSize,
		EnforceUsage: cfg.RBAC.EnforceUsage,
		GuardRoutes:  true,
	})
	if err := manager.Initialize(ctx); err != nil {
		return err
	}

	policy, err := endpoints.PolicyFromConfig(cfg.RBAC.DefaultRolePolicy, cfg.RBAC.DefaultRoleSuffix, cfg.RBAC.DefaultRoles)
	if err != nil {
		return err
	}
	endpointRegistry := endpoints.NewRegistry(endpoints.NewStore(db), manager.GetResolver(), policy).WithMetrics(metrics)

	// Tokens and sessions
	scheme, err := signingScheme(ctx, cfg.Auth, logger)
	if err != nil {
		return err
	}
	blacklist := sessions.NewBlacklist(redisClient)
	sessionStore := sessions.NewStore(db, redisClient)
	issuer := auth.NewIssuer(scheme, auth.IssuerConfig{
		Issuer:     cfg.Auth.Issuer,
		AccessTTL:  cfg.Auth.AccessTTL,
		RefreshTTL: cfg.Auth.RefreshTTL,
	}).WithBlacklist(blacklist).WithMetrics(metrics)
	coordinator := auth.NewCoordinator(users, manager.GetResolver(), issuer, sessionStore, blacklist).WithMetrics(metrics)

	reaper, err := sessions.NewReaper(sessionStore, cfg.Sessions.ReapSchedule, logger)
	if err != nil {
		return err
	}
	reaper.Start()

	var limiter *ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		limiter = ratelimit.NewLimiter(redisClient, cfg.RateLimit.Rules())
	}

	server := api.NewServer(api.Dependencies{
		RBAC:        manager,
		Registry:    endpointRegistry,
		Coordinator: coordinator,
		Limiter:     limiter,
		Audit:       auditLogger,
		Logger:      logger,
		Metrics:     metrics,
	}, api.Options{
		RequestTimeout:    cfg.Server.RequestTimeout,
		MaxBodyBytes:      cfg.Server.MaxBodyBytes,
		RateLimitFailOpen: cfg.RateLimit.FailOpen,
	})

	var handler http.Handler = server
	if providers != nil {
		handler = otelhttp.NewHandler(server, "gatekeeper")
	}

	httpServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	healthServer := &http.Server{
		Addr:    net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler: api.NewHealthRouter(db, redisClient, registry, metrics, version),
	}

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout, httpServer, healthServer)
	shutdown.RegisterShutdownFunc("session-reaper", reaper.Stop)
	shutdown.RegisterShutdownFunc("redis", func(context.Context) error { return redisClient.Close() })
	shutdown.RegisterShutdownFunc("database", func(context.Context) error { return conns.Close() })
	shutdown.RegisterShutdownFunc("otel", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, providers, logger)
	})

	serveErr := make(chan error, 2)
	for _, srv := range []*http.Server{httpServer, healthServer} {
		srv := srv
		go func() {
			logger.WithField("addr", srv.Addr).Info("Listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- fmt.Errorf("server %s: %w", srv.Addr, err)
				cancel()
			}
		}()
	}

	shutdown.WaitForSignal(ctx)

	err = shutdown.Shutdown()
	select {
	case listenErr := <-serveErr:
		return errors.Join(listenErr, err)
	default:
		return err
	}
}

// signingScheme builds the configured token signer. For RSA the keyring
// directory is loaded once and optionally watched for rotated keys.
func signingScheme(ctx context.Context, cfg config.AuthConfig, logger *observability.Logger) (auth.SigningScheme, error) {
	if cfg.SigningScheme == config.SchemeHMAC {
		return auth.NewHMACScheme(cfg.Secret)
	}

	keyring := auth.NewKeyring()
	if cfg.KeyringDir != "" {
		loaded, err := keyring.LoadDir(cfg.KeyringDir)
		if err != nil {
			logger.WithError(err).Warn("Some verification keys failed to load")
		}
		logger.WithField("keys", loaded).Info("Verification keyring loaded")

		if cfg.WatchKeyring {
			if err := keyring.Watch(ctx, cfg.KeyringDir, logger); err != nil {
				return nil, err
			}
		}
	}
	return auth.LoadRSAScheme(cfg.PrivateKeyPath, cfg.KeyID, keyring)
}
