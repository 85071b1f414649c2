package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/inquirylab/fathom/internal/activities"
	authpkg "github.com/inquirylab/fathom/internal/auth"
	cfgpkg "github.com/inquirylab/fathom/internal/config"
	"github.com/inquirylab/fathom/internal/db"
	"github.com/inquirylab/fathom/internal/health"
	"github.com/inquirylab/fathom/internal/httpapi"
	"github.com/inquirylab/fathom/internal/jobs"
	"github.com/inquirylab/fathom/internal/streaming"
	temporalpkg "github.com/inquirylab/fathom/internal/temporal"
	"github.com/inquirylab/fathom/internal/tracing"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("fathom: %v", err)
	}
}

func run() error {
	// Configuration first so the logger honors the configured level.
	cfgMgr, err := cfgpkg.NewManager(zap.NewNop())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg := cfgMgr.Get()

	logger, err := buildLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	if err := cfgMgr.Watch(); err != nil {
		logger.Warn("Config hot reload unavailable", zap.Error(err))
	}
	defer cfgMgr.Stop()

	if err := tracing.Initialize(tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		ServiceName:  cfg.Tracing.ServiceName,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
	}, logger); err != nil {
		logger.Warn("Tracing initialization failed", zap.Error(err))
	}

	// Health endpoints come up early so probes respond while the rest of
	// the process is still connecting.
	healthMgr := health.NewManager(30*time.Second, logger)
	adminMux := http.NewServeMux()
	health.NewHTTPHandler(healthMgr, logger).RegisterRoutes(adminMux)
	adminMux.Handle("GET /metrics", promhttp.Handler())
	adminSrv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Service.MetricsPort),
		Handler:      adminMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("Admin server listening", zap.Int("port", cfg.Service.MetricsPort))
		if err := adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Admin server failed", zap.Error(err))
		}
	}()

	// Durable store. Optional so a dev instance can run memory-only.
	var store *db.Client
	if cfg.Database.Host != "" {
		store, err = db.NewClient(&db.Config{
			Host:            cfg.Database.Host,
			Port:            cfg.Database.Port,
			User:            cfg.Database.User,
			Password:        cfg.Database.Password,
			Database:        cfg.Database.Database,
			SSLMode:         cfg.Database.SSLMode,
			MaxConnections:  cfg.Database.MaxConnections,
			IdleConnections: cfg.Database.IdleConnections,
			MaxLifetime:     cfg.Database.MaxLifetime,
		}, logger)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer store.Close()
		if err := healthMgr.Register(health.NewDatabaseChecker(store)); err != nil {
			return err
		}
	} else {
		logger.Warn("No database configured, jobs are memory-only")
	}

	// Event streaming with optional Redis mirroring for multi-instance
	// fan-out.
	stream := streaming.NewManager(cfg.Streaming.RingCapacity)
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		stream.SetMirror(streaming.NewRedisMirror(rdb, logger))
		if err := healthMgr.Register(health.NewRedisChecker(rdb)); err != nil {
			return err
		}
	}

	temporalClient, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
		Logger:    temporalpkg.NewZapAdapter(logger.Named("temporal")),
	})
	if err != nil {
		return fmt.Errorf("connect temporal: %w", err)
	}
	defer temporalClient.Close()
	if err := healthMgr.Register(health.NewTemporalChecker(temporalClient)); err != nil {
		return err
	}

	if url := cfg.Research.LLMServiceURL; url != "" {
		if err := healthMgr.Register(health.NewServiceChecker("llm_service", url, false)); err != nil {
			return err
		}
	}
	if url := cfg.Research.SearchServiceURL; url != "" {
		if err := healthMgr.Register(health.NewServiceChecker("search_service", url, false)); err != nil {
			return err
		}
	}
	healthMgr.Start()
	defer healthMgr.Stop()

	jobMgr := jobs.NewManager(cfgMgr, temporalClient, store, stream, logger.Named("jobs"))
	jobMgr.Start()
	defer jobMgr.Stop()

	secret := cfg.Auth.ResumeSecret
	if secret == "" {
		secret = os.Getenv("RESUME_TOKEN_SECRET")
	}
	if secret == "" {
		return fmt.Errorf("resume token secret not configured (auth.resume_secret or RESUME_TOKEN_SECRET)")
	}
	tokens := authpkg.NewResumeTokens(secret, cfg.Auth.ResumeTokenTTL)
	authSvc := authpkg.NewService(cfg.Auth.SkipAuth, cfg.Auth.RateLimitPerSec, cfg.Auth.RateLimitBurst, logger.Named("auth"))

	acts := activities.New(cfgMgr, jobMgr, stream, tokens, logger.Named("activities"))
	wrk := temporalpkg.NewWorker(temporalClient, cfg.Temporal.TaskQueue, acts)
	if err := wrk.Start(); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	defer wrk.Stop()
	logger.Info("Worker started", zap.String("task_queue", cfg.Temporal.TaskQueue))

	apiSrv := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Service.Port),
		Handler:     httpapi.NewServer(jobMgr, stream, authSvc, tokens, logger.Named("http")).Routes(),
		ReadTimeout: cfg.Service.ReadTimeout,
		// No WriteTimeout: SSE and WebSocket connections stay open for
		// the life of a job.
	}
	go func() {
		logger.Info("API server listening", zap.Int("port", cfg.Service.Port))
		if err := apiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("API server failed", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	logger.Info("Shutting down", zap.String("signal", s.String()))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Service.GracefulTimeout)
	defer cancel()
	if err := apiSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("API server shutdown", zap.Error(err))
	}
	if err := adminSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Admin server shutdown", zap.Error(err))
	}
	return nil
}

func buildLogger(cfg cfgpkg.LoggingConfig) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.Set(cfg.Level); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
	}
	var zc zap.Config
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
