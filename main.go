package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/davidleathers/sar-claim-pipeline/internal/api/rest"
	"github.com/davidleathers/sar-claim-pipeline/internal/infrastructure/archive"
	"github.com/davidleathers/sar-claim-pipeline/internal/infrastructure/auth"
	"github.com/davidleathers/sar-claim-pipeline/internal/infrastructure/cache"
	"github.com/davidleathers/sar-claim-pipeline/internal/infrastructure/config"
	"github.com/davidleathers/sar-claim-pipeline/internal/infrastructure/database"
	"github.com/davidleathers/sar-claim-pipeline/internal/infrastructure/memory"
	"github.com/davidleathers/sar-claim-pipeline/internal/infrastructure/telemetry"
	"github.com/davidleathers/sar-claim-pipeline/internal/metrics"
	"github.com/davidleathers/sar-claim-pipeline/internal/service"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := telemetry.NewLogger(cfg.LogLevel, cfg.Environment)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to setup logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("application failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	logger.Info("starting sar claim pipeline",
		zap.String("version", cfg.Version),
		zap.String("environment", cfg.Environment),
		zap.String("deployment", cfg.Pipeline.Environment),
		zap.Int("port", cfg.Server.Port))

	telCfg := telemetry.DefaultConfig(cfg.Pipeline.ServiceName, cfg.Version)
	telCfg.Deployment = cfg.Pipeline.Environment
	telCfg.Enabled = cfg.Telemetry.Enabled
	telCfg.SamplingRate = cfg.Telemetry.SamplingRate
	if cfg.Telemetry.OTLPEndpoint != "" {
		telCfg.OTLPEndpoint = cfg.Telemetry.OTLPEndpoint
	}
	provider, err := telemetry.InitializeOpenTelemetry(ctx, telCfg)
	if err != nil {
		return fmt.Errorf("initialize telemetry: %w", err)
	}
	defer func() {
		if err := provider.Shutdown(context.Background()); err != nil {
			logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	registry, err := metrics.NewRegistry(cfg.Pipeline.ServiceName)
	if err != nil {
		return fmt.Errorf("create metrics: %w", err)
	}

	health := map[string]rest.HealthChecker{}
	opts := []service.FactoryOption{service.WithMetrics(registry)}

	var store service.Store
	if cfg.Database.URL != "" {
		pool, err := database.Connect(ctx, &cfg.Database, logger.Named("database"))
		if err != nil {
			return err
		}
		pg := database.NewStore(pool, logger.Named("database"))
		defer pg.Close()
		health["postgres"] = pg
		store = pg
	} else {
		logger.Warn("database.url not set, claims and audit events are kept in memory")
		store = memory.NewStore()
	}

	if cfg.Redis.Address != "" {
		client, err := cache.NewRedisClient(ctx, &cfg.Redis, logger.Named("redis"))
		if err != nil {
			return err
		}
		defer client.Close()
		claimCache, err := cache.NewClaimCache(client, logger.Named("cache"), cache.ClaimCacheConfig{TTL: cfg.Redis.ClaimTTL})
		if err != nil {
			return err
		}
		health["redis"] = rest.PingFunc(func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})
		opts = append(opts, service.WithClaimCache(claimCache))
	}

	svcs := service.NewServiceFactories(cfg, store, logger, opts...).Build()

	restCfg := rest.DefaultConfig()
	restCfg.Version = cfg.Version
	restCfg.RequestsPerSecond = cfg.Server.RateLimit.RequestsPerSecond
	restCfg.BurstSize = cfg.Server.RateLimit.BurstSize

	deps := rest.Dependencies{
		Normalizer: svcs.Normalizer,
		Engine:     svcs.Engine,
		Scorer:     svcs.Scorer,
		Generator:  svcs.Generator,
		Claims:     svcs.Claims,
		Filings:    svcs.Finalizer,
		Pipeline:   svcs.Pipeline,
		Trail:      svcs.Trail,
		Metrics:    registry,
		Health:     health,
	}

	if cfg.Server.Auth.JWTSecret != "" {
		authSvc, err := auth.NewService(auth.Config{
			Secret:   []byte(cfg.Server.Auth.JWTSecret),
			Issuer:   cfg.Server.Auth.Issuer,
			TokenTTL: cfg.Server.Auth.TokenTTL,
		})
		if err != nil {
			return err
		}
		deps.Auth = authSvc
		restCfg.AllowedRoles = cfg.Pipeline.RBACRoles
	} else {
		logger.Warn("server.auth.jwt_secret not set, /v1 routes are unauthenticated")
	}

	if cfg.Archive.Bucket != "" {
		objects, err := archive.NewS3Store(ctx, &cfg.Archive)
		if err != nil {
			return err
		}
		deps.Archiver = archive.NewArchiver(objects, svcs.Trail, svcs.Claims, svcs.Finalizer, archive.Config{
			Prefix:        cfg.Archive.Prefix,
			RetentionDays: cfg.Archive.RetentionDays,
		}, logger.Named("archive"))
		logger.Info("case archiving enabled", zap.String("bucket", cfg.Archive.Bucket))
	}

	server := rest.NewServer(deps, restCfg, logger.Named("api"))

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	if err := server.ListenAndServe(ctx, addr, cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout); err != nil {
		return err
	}
	logger.Info("shut down gracefully")
	return nil
}
