package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/auxora-tech/casa-saas/internal/audit"
	"github.com/auxora-tech/casa-saas/internal/auth"
	"github.com/auxora-tech/casa-saas/internal/config"
	"github.com/auxora-tech/casa-saas/internal/httpapi"
	"github.com/auxora-tech/casa-saas/internal/notify"
	"github.com/auxora-tech/casa-saas/internal/obs"
	"github.com/auxora-tech/casa-saas/internal/redisstore"
	"github.com/auxora-tech/casa-saas/internal/signature"
	"github.com/auxora-tech/casa-saas/internal/store/memory"
	"github.com/auxora-tech/casa-saas/internal/store/pg"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "casa-api: %v\n", err)
		os.Exit(1)
	}
}

// authStore is the persistence the binary needs beyond auth.Store.
type authStore interface {
	auth.Store
	audit.Sink
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := obs.NewLogger(cfg.LogLevel, cfg.LogDev)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	obs.SetLogger(logger)
	obs.Init()
	obs.InitBuildInfo(version, commit)

	probe := httpapi.ReadyProbe{Checks: map[string]httpapi.Pinger{}}

	var (
		store          authStore
		agreementStore signature.Store
	)
	if cfg.PostgresDSN != "" {
		db, err := pg.Open(cfg.PostgresDSN, pg.Pool{
			MaxOpenConns:    cfg.PGMaxOpenConns,
			MaxIdleConns:    cfg.PGMaxIdleConns,
			ConnMaxLifetime: cfg.PGConnLifetime,
		})
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		defer func() { _ = db.Close() }()
		store, agreementStore = db, db.Agreements()
		probe.Checks["postgres"] = db
	} else {
		if cfg.IsProduction() {
			return errors.New("CASA_PG_DSN is required in production")
		}
		logger.Warn("CASA_PG_DSN not set, using the in-memory store")
		store, agreementStore = memory.New(), signature.NewMemoryStore()
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer func() { _ = rdb.Close() }()
	probe.Checks["redis"] = redisstore.NewPinger(rdb)

	var notifier auth.Notifier
	if len(cfg.KafkaBrokers) > 0 {
		kn := notify.NewKafkaNotifier(notify.NewKafkaWriter(cfg.KafkaBrokers), cfg.NotificationTopic,
			notify.DefaultBreakerConfig("kafka-notifications"), logger)
		defer func() { _ = kn.Close() }()
		notifier = kn
	} else {
		logger.Warn("KAFKA_BROKERS not set, magic links are only logged")
		notifier = notify.NewLogNotifier(logger)
	}

	tokens, err := auth.NewTokenIssuer(cfg.JWTSecret, redisstore.NewRevocationList(rdb, "casa:revoked:"),
		auth.WithIssuer(cfg.JWTIssuer),
		auth.WithAccessTTL(cfg.AccessTTL),
		auth.WithRefreshTTL(cfg.RefreshTTL),
	)
	if err != nil {
		return err
	}
	svc, err := auth.NewService(store, tokens, auth.NewRateLimiter(redisstore.NewCounter(rdb, "casa:rl:")),
		auth.WithNotifier(notifier),
		auth.WithAuditor(audit.NewRecorder(store, logger)),
		auth.WithLogger(logger),
		auth.WithFrontendURL(cfg.FrontendURL),
		auth.WithDefaultTenant(cfg.DefaultTenantName),
	)
	if err != nil {
		return err
	}

	bootCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	tenant, err := svc.EnsureDefaultTenant(bootCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("default tenant: %w", err)
	}
	logger.Info("default tenant ready", zap.String("tenant_id", tenant.ID), zap.String("name", tenant.Name))

	agreements, err := signature.NewProcessor(agreementStore, signature.WithLogger(logger))
	if err != nil {
		return err
	}

	proxies, err := httpapi.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return err
	}

	api := httpapi.New(svc, probe,
		httpapi.WithVersion(version),
		httpapi.WithLogger(logger),
		httpapi.WithAllowedOrigins(cfg.FrontendURL),
		httpapi.WithMaxBodyBytes(cfg.MaxBodyBytes),
		httpapi.WithThrottle(cfg.ThrottleRPS, cfg.ThrottleBurst),
		httpapi.WithTrustedProxies(proxies),
		httpapi.WithAgreements(agreements),
		httpapi.WithWebhookSecrets(cfg.ZohoWebhookSecret, cfg.PandaDocWebhookSecret),
	)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	grpcListener, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(httpapi.UnaryLogging(logger)))
	httpapi.NewGRPCServer(probe, logger).Register(grpcServer)

	errCh := make(chan error, 2)
	go func() {
		logger.Info("http listening", zap.String("addr", srv.Addr), zap.String("version", version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http: %w", err)
		}
	}()
	go func() {
		logger.Info("grpc listening", zap.String("addr", cfg.GRPCAddr))
		if err := grpcServer.Serve(grpcListener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errCh <- fmt.Errorf("grpc: %w", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-stop:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case runErr = <-errCh:
		logger.Error("server failed", zap.Error(runErr))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	grpcServer.GracefulStop()
	logger.Info("stopped")
	return runErr
}
