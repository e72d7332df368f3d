package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/echoscribe/echoscribe/cmd/server/internal/api"
	"github.com/echoscribe/echoscribe/cmd/server/internal/config"
	"github.com/echoscribe/echoscribe/cmd/server/internal/dispatch"
	"github.com/echoscribe/echoscribe/cmd/server/internal/engine"
	"github.com/echoscribe/echoscribe/cmd/server/internal/jobs"
	"github.com/echoscribe/echoscribe/cmd/server/internal/middleware"
	"github.com/echoscribe/echoscribe/cmd/server/internal/pipeline"
	"github.com/echoscribe/echoscribe/cmd/server/internal/quota"
	"github.com/echoscribe/echoscribe/cmd/server/internal/segment"
	"github.com/echoscribe/echoscribe/cmd/server/internal/stitch"
	"github.com/echoscribe/echoscribe/pkg/logger"
	"github.com/echoscribe/echoscribe/pkg/metrics"
)

func main() {
	cfg, err := config.LoadConfig(os.Getenv("CONFIG_FILE"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}
	if err := config.ValidateConfig(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logInstance, err := logger.Init(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		WithSource: !cfg.IsProduction(),
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	appLogger := logInstance.With("component", "server")
	appLogger.Info("configuration loaded", "env", cfg.Server.Env, "port", cfg.Server.Port)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	// Probe the inference engine; a dead engine degrades to the mock so
	// the API stays up and reports its state via /healthz.
	var eng engine.Engine = engine.NewHTTPEngine(
		cfg.Engine.BaseURL,
		time.Duration(cfg.Engine.TimeoutSeconds*float64(time.Second)),
	)
	probeCtx, cancelProbe := context.WithTimeout(context.Background(), 5*time.Second)
	ready, herr := eng.HealthCheck(probeCtx)
	cancelProbe()
	metrics.SetEngineReady(ready && herr == nil)
	if herr != nil || !ready {
		appLogger.Warn("inference engine unreachable, running degraded",
			"base_url", cfg.Engine.BaseURL, "error", herr)
		eng = engine.NewMockEngine()
	} else {
		appLogger.Info("inference engine ready", "base_url", cfg.Engine.BaseURL)
	}

	store, err := jobs.NewFileStore(cfg.Data.JobStatePath, logInstance.With("component", "jobs"))
	if err != nil {
		appLogger.Error("job store init failed", "error", err)
		os.Exit(1)
	}

	checker := quota.NewChecker(cfg.Quota.Tiers, store, logInstance.With("component", "quota"))

	pipe := pipeline.New(eng, store, checker, pipeline.Config{
		Segmenter: segment.Config{
			TargetChunkSeconds:    cfg.Segmenter.TargetChunkSeconds,
			SmartSplitting:        cfg.Segmenter.SmartSplitting,
			BoundaryWindowSeconds: cfg.Segmenter.BoundaryWindowSeconds,
			OverlapSeconds:        cfg.Segmenter.OverlapSeconds,
		},
		Dispatch: dispatch.Config{
			MaxConcurrency: cfg.Dispatch.MaxConcurrency,
			CallTimeout:    time.Duration(cfg.Engine.TimeoutSeconds * float64(time.Second)),
			MaxRetries:     cfg.Dispatch.MaxRetries,
			RetryBaseDelay: time.Duration(cfg.Dispatch.RetryBaseDelay * float64(time.Second)),
		},
		Stitch: stitch.Config{
			MergeGapSeconds: cfg.Stitch.MergeGapSeconds,
		},
		SpeakerStrategy:  cfg.Speaker.Strategy,
		SpeakerThreshold: cfg.Stitch.SpeakerThreshold,
		ResultsDir:       cfg.Data.ResultsDir,
	}, logInstance.With("component", "pipeline"))

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger())

	api.NewHandler(pipe, store, eng, logInstance.With("component", "api")).RegisterRoutes(r)

	srv := &http.Server{
		Addr:    cfg.GetServerAddr(),
		Handler: r,
	}

	go func() {
		appLogger.Info("server starting", "addr", srv.Addr, "env", cfg.Server.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	<-quit
	appLogger.Info("shutdown signal received, shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}
	appLogger.Info("server shutdown complete")
}
