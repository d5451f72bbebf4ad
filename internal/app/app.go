// Package app wires every component into a running process: config,
// infrastructure connections, the domain services, and the HTTP server,
// then drives the graceful shutdown sequence on context cancellation.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/wisbric/apitracker/internal/auth"
	"github.com/wisbric/apitracker/internal/config"
	"github.com/wisbric/apitracker/internal/httpserver"
	"github.com/wisbric/apitracker/internal/kv"
	"github.com/wisbric/apitracker/internal/platform"
	"github.com/wisbric/apitracker/internal/telemetry"
	"github.com/wisbric/apitracker/pkg/activity"
	"github.com/wisbric/apitracker/pkg/analytics"
	"github.com/wisbric/apitracker/pkg/caller"
	"github.com/wisbric/apitracker/pkg/ratelimit"
	"github.com/wisbric/apitracker/pkg/stream"
)

const shutdownDeadline = 10 * time.Second

// Run reads config, connects to infrastructure, wires every component, and
// serves until ctx is cancelled, then drives graceful shutdown.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)
	logger.Info("starting apitracker", "listen", cfg.ListenAddr())

	batchInterval, err := time.ParseDuration(cfg.BatchInterval)
	if err != nil {
		return fmt.Errorf("parsing BATCH_INTERVAL: %w", err)
	}
	overflowMaxAge, err := time.ParseDuration(cfg.OverflowMaxAge)
	if err != nil {
		return fmt.Errorf("parsing OVERFLOW_MAX_AGE: %w", err)
	}
	cacheTTLDaily, err := time.ParseDuration(cfg.CacheTTLDaily)
	if err != nil {
		return fmt.Errorf("parsing CACHE_TTL_DAILY: %w", err)
	}
	cacheTTLTop, err := time.ParseDuration(cfg.CacheTTLTop)
	if err != nil {
		return fmt.Errorf("parsing CACHE_TTL_TOP: %w", err)
	}
	rateWindow := time.Duration(cfg.RateLimitWindowS) * time.Second

	db, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	if err := platform.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("migrations applied")

	replicaURL := cfg.RedisReplicaURL
	if replicaURL == "" {
		replicaURL = cfg.RedisURL
	}
	gateway, err := kv.New(ctx, cfg.RedisURL, replicaURL, logger)
	if err != nil {
		return fmt.Errorf("connecting to kv gateway: %w", err)
	}
	defer gateway.Close()

	metricsReg := telemetry.NewRegistry()

	tokenIssuer, err := auth.NewTokenIssuer(cfg.JWTSecret)
	if err != nil {
		return fmt.Errorf("building token issuer: %w", err)
	}
	encryptor, err := auth.NewEncryptor(cfg.EncryptionKey)
	if err != nil {
		return fmt.Errorf("building encryptor: %w", err)
	}

	// --- Caller registry ---
	callerStore := caller.NewStore(db)
	callerService := caller.NewService(callerStore, tokenIssuer, encryptor, cfg.DefaultRateLimit)
	callerHandler := caller.NewHandler(callerService, logger)

	// --- Activity ingestion: C2 durable store, C4 overflow, C5 pipeline ---
	activityStore := activity.NewStore(db)
	overflow := activity.NewOverflow(cfg.OverflowMaxSize, overflowMaxAge, logger)
	pipeline := activity.NewPipeline(activityStore, overflow, cfg.BatchSize, batchInterval, logger)

	// --- Event fan-out (C10) ---
	fanout := stream.New(gateway, logger)
	activityHandler := activity.NewHandler(pipeline, fanout, logger)

	// --- Rate limiting (C6) ---
	limiter := ratelimit.New(gateway, cfg.DefaultRateLimit, rateWindow, logger)

	// --- Analytics (C7), hit tracking (C8), pre-warming (C9) ---
	hits := analytics.NewHitTracker(gateway, cfg.HitTrackingEnabled, logger)
	analyticsService := analytics.New(gateway, activityStore, callerStore, hits, cacheTTLDaily, cacheTTLTop, cfg.CacheVersion, logger)
	analyticsHandler := analytics.NewHandler(analyticsService, logger)
	prewarmer := analytics.NewPrewarmer(analyticsService, hits, logger)

	streamHandler := stream.NewHandler(fanout, tokenIssuer, callerStore,
		func() (any, error) { return analyticsService.Daily(context.Background(), 7) },
		func() (any, error) { return analyticsService.Top(context.Background(), 24, 3) },
		logger,
	)

	authRequireAPIKey := auth.RequireAPIKey(callerStore, logger)
	authRequireJWTOrAPIKey := auth.RequireJWTOrAPIKey(tokenIssuer, callerStore, logger)
	rateLimited := ratelimit.Middleware(limiter, callerStore, rateWindow)

	srv := httpserver.NewServer(httpserver.ServerConfig{
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
	}, logger, db, gateway, metricsReg, httpserver.Deps{
		Register:    callerHandler.Register,
		SubmitLog:   authRequireAPIKey(rateLimited(http.HandlerFunc(activityHandler.Submit))),
		UsageDaily:  authRequireJWTOrAPIKey(rateLimited(http.HandlerFunc(analyticsHandler.Daily))),
		UsageTop:    authRequireJWTOrAPIKey(rateLimited(http.HandlerFunc(analyticsHandler.Top))),
		UsageStream: streamHandler.ServeHTTP,
	})

	// --- Background loops ---
	bgCtx, cancelBG := context.WithCancel(context.Background())
	defer cancelBG()

	go pipeline.Run(bgCtx)

	overflowDone := make(chan struct{})
	go overflow.RunCleanupLoop(overflowDone)

	fallbackDone := make(chan struct{})
	go limiter.RunFallbackSweep(fallbackDone)

	if cfg.PrewarmOnStartup {
		prewarmer.RunStartup(ctx)
	}
	prewarmDone := make(chan struct{})
	if cfg.PrewarmCronEnabled {
		go prewarmer.RunScheduledLoop(bgCtx, prewarmDone)
	}

	go fanout.Run(bgCtx)

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      srv,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		return shutdown(httpSrv, pipeline, gateway, db, cancelBG, overflowDone, fallbackDone, prewarmDone, logger)
	case err := <-errCh:
		return err
	}
}

// shutdown drives the seven-step graceful shutdown sequence under a hard
// overall deadline: if any step stalls past it, the process exits anyway.
func shutdown(
	httpSrv *http.Server,
	pipeline *activity.Pipeline,
	gateway *kv.Gateway,
	db interface{ Close() },
	cancelBG context.CancelFunc,
	overflowDone, fallbackDone, prewarmDone chan struct{},
	logger *slog.Logger,
) error {
	logger.Info("graceful shutdown starting")
	done := make(chan error, 1)

	go func() {
		// 1. Stop accepting new requests.
		httpSrv.SetKeepAlivesEnabled(false)

		// 2. Stop the pre-warmer timer.
		close(prewarmDone)

		// 3. Close the live subscriber server: cancel the fan-out subscribe
		// loop's context, then stop the overflow/fallback cleanup timers.
		cancelBG()
		close(overflowDone)
		close(fallbackDone)

		// 4. Stop the HTTP listener, draining in-flight requests.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownDeadline)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown", "error", err)
		}

		// 5. Stop the ingestion timer and flush once.
		pipeline.Shutdown(shutdownCtx)

		// 6. Close KV and DB connections.
		if err := gateway.Close(); err != nil {
			logger.Error("closing kv gateway", "error", err)
		}
		db.Close()

		done <- nil
	}()

	select {
	case err := <-done:
		logger.Info("graceful shutdown complete")
		return err
	case <-time.After(shutdownDeadline):
		logger.Error("graceful shutdown deadline exceeded, forcing exit")
		os.Exit(1)
		return nil
	}
}
