package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/timeout"
	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/restoreassist/trial-engine/internal/devices"
	"github.com/restoreassist/trial-engine/internal/fraud"
	"github.com/restoreassist/trial-engine/internal/payments"
	"github.com/restoreassist/trial-engine/internal/trial"
	"github.com/restoreassist/trial-engine/internal/users"
	"github.com/restoreassist/trial-engine/pkg/common"
	"github.com/restoreassist/trial-engine/pkg/config"
	"github.com/restoreassist/trial-engine/pkg/database"
	"github.com/restoreassist/trial-engine/pkg/eventbus"
	"github.com/restoreassist/trial-engine/pkg/health"
	"github.com/restoreassist/trial-engine/pkg/logger"
	"github.com/restoreassist/trial-engine/pkg/middleware"
	"github.com/restoreassist/trial-engine/pkg/ratelimit"
	"github.com/restoreassist/trial-engine/pkg/redis"
	"github.com/restoreassist/trial-engine/pkg/secrets"
	"github.com/restoreassist/trial-engine/pkg/tracing"
)

const (
	serviceName    = "trial-engine"
	defaultVersion = "1.0.0"
)

func main() {
	cfg, err := config.Load(serviceName)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := logger.Init(cfg.Server.Environment); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	if err := resolveSecrets(cfg); err != nil {
		logger.Get().Fatal("failed to resolve secrets", zap.Error(err))
	}

	version := getEnv("SERVICE_VERSION", defaultVersion)

	if cfg.Sentry.Enabled {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.Sentry.DSN,
			Environment:      cfg.Server.Environment,
			Release:          serviceName + "@" + version,
			TracesSampleRate: cfg.Sentry.TracesSampleRate,
		}); err != nil {
			logger.Get().Fatal("failed to initialize sentry", zap.Error(err))
		}
		defer sentry.Flush(2 * time.Second)
	}

	if cfg.Tracing.Enabled {
		shutdownTracing, err := tracing.Init(serviceName, cfg.Tracing.Endpoint)
		if err != nil {
			logger.Get().Fatal("failed to initialize tracing", zap.Error(err))
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTracing(ctx); err != nil {
				logger.Get().Warn("failed to shut down tracer", zap.Error(err))
			}
		}()
	}

	mode := trial.StoreMode(cfg.Trial.Store)
	if mode != trial.StoreModePostgres && mode != trial.StoreModeMemory {
		logger.Get().Fatal("invalid TRIAL_STORE value", zap.String("store", cfg.Trial.Store))
	}
	trial.RecordStoreMode(mode)

	var bus eventbus.Publisher = eventbus.Noop{}
	if cfg.NATS.Enabled {
		natsBus, err := eventbus.Connect(cfg.NATS)
		if err != nil {
			logger.Get().Fatal("failed to connect to NATS", zap.Error(err))
		}
		defer natsBus.Close()
		bus = natsBus
	}

	policy := fraud.PolicyFromConfig(cfg.Fraud, cfg.Trial)
	readiness := make(map[string]func() error)

	var (
		svc        *trial.Service
		devService *devices.Service
	)

	switch mode {
	case trial.StoreModePostgres:
		if cfg.Database.RunMigrations {
			if err := database.RunMigrations(&cfg.Database); err != nil {
				logger.Get().Fatal("failed to run migrations", zap.Error(err))
			}
			logger.Get().Info("database migrations applied")
		}

		dbPool, err := database.NewDBPool(&cfg.Database, "trial_engine")
		if err != nil {
			logger.Get().Fatal("failed to connect to postgres", zap.Error(err))
		}
		defer dbPool.Close()
		pool := dbPool.GetPrimary()

		db, err := sql.Open("postgres", cfg.Database.DSN())
		if err != nil {
			logger.Get().Fatal("failed to open database handle", zap.Error(err))
		}
		defer db.Close()
		if err := db.Ping(); err != nil {
			logger.Get().Fatal("failed to ping database", zap.Error(err))
		}
		readiness["database"] = readinessProbe(health.DatabaseChecker(db))

		devService = devices.NewService(devices.NewRepository(pool), bus)
		tokenStore := trial.NewRepository(pool).WithExecutor(dbPool)

		var stripeClient payments.StripeClientInterface
		if cfg.Stripe.Enabled && cfg.Stripe.APIKey != "" {
			stripeClient = payments.NewStripeClient(cfg.Stripe.APIKey)
		} else {
			logger.Get().Warn("stripe disabled, card reuse signal limited to local verifications")
		}
		verifier := payments.NewVerifier(payments.NewRepository(pool), stripeClient)

		detector := fraud.NewDetector(policy, tokenStore, verifier)
		scorer := fraud.NewScorer(policy)
		manager := trial.NewTokenManager(tokenStore, devService, policy)
		svc = trial.NewService(mode, policy, tokenStore, manager, devService,
			users.NewDirectory(db), detector, scorer, bus)

	case trial.StoreModeMemory:
		// Reduced pipeline: nothing persists, every activation grants, so
		// the evaluators and the user directory are never consulted.
		tokenStore := trial.NewMemoryStore()
		devService = devices.NewService(devices.NewMemoryStore(), bus)
		manager := trial.NewTokenManager(tokenStore, devService, policy)
		svc = trial.NewService(mode, policy, tokenStore, manager, devService, nil, nil, nil, bus)
	}

	var limiter *ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		redisClient, err := redis.NewRedisClient(&cfg.Redis)
		if err != nil {
			logger.Get().Fatal("failed to connect to redis", zap.Error(err))
		}
		defer redisClient.Close()
		readiness["redis"] = readinessProbe(health.RedisChecker(redisClient.Client))
		limiter = ratelimit.NewLimiter(redisClient.Client, cfg.RateLimit)
	}

	router := buildRouter(cfg, version, svc, devService, limiter, readiness)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Get().Info("trial engine listening",
			zap.String("port", cfg.Server.Port),
			zap.String("store_mode", string(mode)),
			zap.String("environment", cfg.Server.Environment))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Get().Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	grace := time.Duration(getEnvAsInt("SHUTDOWN_GRACE_SECONDS", 15)) * time.Second
	logger.Get().Info("shutting down", zap.Duration("grace", grace))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Get().Error("forced shutdown", zap.Error(err))
	}
}

func buildRouter(
	cfg *config.Config,
	version string,
	svc *trial.Service,
	devService *devices.Service,
	limiter *ratelimit.Limiter,
	readiness map[string]func() error,
) *gin.Engine {
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(middleware.CorrelationID())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.Metrics(serviceName))
	router.Use(middleware.MaxBodySize(cfg.Server.MaxBodySizeByte))
	if cfg.Sentry.Enabled {
		router.Use(sentrygin.New(sentrygin.Options{Repanic: true}))
	}
	if cfg.Tracing.Enabled {
		router.Use(tracing.Middleware(serviceName))
	}

	corsConfig := cors.DefaultConfig()
	if cfg.Server.CORSOrigins == "*" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = strings.Split(cfg.Server.CORSOrigins, ",")
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Correlation-ID"}
	router.Use(cors.New(corsConfig))

	router.GET("/healthz", common.HealthCheck(serviceName, version))
	router.GET("/health/live", common.HealthCheck(serviceName, version))
	router.GET("/health/ready", common.HealthCheckWithDeps(serviceName, version, readiness))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	var activateGuards []gin.HandlerFunc
	if limiter != nil {
		activateGuards = append(activateGuards, ratelimit.Middleware(limiter))
	}
	activateGuards = append(activateGuards, requestTimeout(cfg.Server.RequestTimeout))

	trial.NewHandler(svc).RegisterRoutes(router, cfg.JWT.Secret, activateGuards...)
	devices.NewHandler(devService).RegisterRoutes(router, cfg.JWT.Secret)

	return router
}

// requestTimeout caps handler latency for the activation endpoint, which
// fans out to Stripe and the fraud evaluators.
func requestTimeout(seconds int) gin.HandlerFunc {
	return timeout.New(
		timeout.WithTimeout(time.Duration(seconds)*time.Second),
		timeout.WithHandler(func(c *gin.Context) { c.Next() }),
		timeout.WithResponse(timeoutResponse),
	)
}

func timeoutResponse(c *gin.Context) {
	c.JSON(http.StatusRequestTimeout, gin.H{"error": "request timed out"})
}

// readinessProbe caches a dependency probe between scrapes and bounds how
// long a hung dependency can stall the readiness endpoint.
func readinessProbe(check health.Checker) func() error {
	cached := health.NewCachedChecker(check, 5*time.Second)
	return health.AsyncChecker(cached.Check, 3*time.Second)
}

// resolveSecrets swaps configured secret references for values fetched from
// the external secret manager. With no provider configured the plain
// environment values stand.
func resolveSecrets(cfg *config.Config) error {
	sc := cfg.Secrets
	if sc.Provider == "" {
		return nil
	}

	mgr, err := secrets.NewManager(secrets.Config{
		Provider:     secrets.ProviderType(sc.Provider),
		CacheTTL:     time.Duration(sc.CacheTTLSeconds) * time.Second,
		AuditEnabled: sc.AuditEnabled,
		Vault: secrets.VaultConfig{
			Address:   sc.VaultAddress,
			Token:     sc.VaultToken,
			Namespace: sc.VaultNamespace,
			MountPath: sc.VaultMountPath,
		},
		AWS: secrets.AWSConfig{
			Region:   sc.AWSRegion,
			Endpoint: sc.AWSEndpoint,
		},
		GCP: secrets.GCPConfig{
			ProjectID:       sc.GCPProjectID,
			CredentialsFile: sc.GCPCredentialsFile,
		},
		Kubernetes: secrets.KubernetesConfig{
			BasePath: sc.KubernetesBasePath,
		},
	})
	if err != nil {
		return fmt.Errorf("unable to initialize secrets provider %q: %w", sc.Provider, err)
	}
	defer mgr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if sc.DatabasePasswordRef != "" {
		ref, err := secrets.ParseReference("database-password", secrets.SecretDatabase, sc.DatabasePasswordRef)
		if err != nil {
			return fmt.Errorf("invalid database password reference: %w", err)
		}
		value, err := mgr.GetString(ctx, ref)
		if err != nil {
			return fmt.Errorf("unable to resolve database password: %w", err)
		}
		cfg.Database.Password = value
	}

	if sc.StripeAPIKeyRef != "" {
		ref, err := secrets.ParseReference("stripe-api-key", secrets.SecretStripe, sc.StripeAPIKeyRef)
		if err != nil {
			return fmt.Errorf("invalid stripe api key reference: %w", err)
		}
		value, err := mgr.GetString(ctx, ref)
		if err != nil {
			return fmt.Errorf("unable to resolve stripe api key: %w", err)
		}
		cfg.Stripe.APIKey = value
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
