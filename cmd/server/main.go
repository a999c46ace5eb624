// Package main is the entry point for the SpatialBridge server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/spatialbridge/server/internal/annostore"
	"github.com/spatialbridge/server/internal/api"
	"github.com/spatialbridge/server/internal/cache"
	"github.com/spatialbridge/server/internal/config"
	"github.com/spatialbridge/server/internal/scatter"
	"github.com/spatialbridge/server/internal/sdata"
	"github.com/spatialbridge/server/internal/session"
	"github.com/spatialbridge/server/internal/viewer"
)

func main() {
	configPath := flag.String("config", "config/server.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Log.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting SpatialBridge server", zap.Int("port", cfg.Server.Port))

	registry := sdata.NewRegistry()
	for _, path := range cfg.Data.Snapshots {
		d, err := sdata.Load(path)
		if err != nil {
			logger.Fatal("failed to load snapshot", zap.String("path", path), zap.Error(err))
		}
		registry.Add(d)
		logger.Info("loaded dataset",
			zap.String("name", d.Name()),
			zap.String("path", path),
			zap.Int("elements", len(d.Elements())),
			zap.Strings("coordinate_systems", d.CoordinateSystems()))
	}
	if registry.Len() == 0 {
		logger.Warn("no snapshots configured, starting with an empty registry")
	}

	cacheManager, err := cache.NewManager(cache.Config{
		PlotCacheSizeMB: cfg.Cache.PlotSizeMB,
		PlotTTL:         time.Duration(cfg.Cache.PlotTTLMinutes) * time.Minute,
		VectorCacheSize: cfg.Cache.VectorEntries,
	})
	if err != nil {
		logger.Fatal("failed to initialize cache", zap.Error(err))
	}
	defer cacheManager.Close()

	plotter := scatter.NewPlotter(scatter.Config{
		Width:           cfg.Plot.Width,
		Height:          cfg.Plot.Height,
		PointRadius:     cfg.Plot.PointRadius,
		DefaultColormap: cfg.Plot.DefaultColormap,
		Logger:          logger,
	})

	var annotations *annostore.Store
	if cfg.Annotation.DBPath != "" {
		annotations, err = annostore.NewStore(cfg.Annotation.DBPath)
		if err != nil {
			logger.Fatal("failed to open annotation store",
				zap.String("path", cfg.Annotation.DBPath), zap.Error(err))
		}
		defer annotations.Close()
		logger.Info("annotation store ready", zap.String("path", cfg.Annotation.DBPath))
	}

	sess := session.New(session.Config{
		Registry: registry,
		Limits: viewer.Limits{
			MaxPoints:         cfg.Limits.MaxPoints,
			MaxShapes:         cfg.Limits.MaxShapes,
			SimplifyTolerance: cfg.Limits.SimplifyTolerance,
			MaxCircles:        cfg.Limits.MaxCircles,
			SubsampleSeed:     cfg.Limits.SubsampleSeed,
		},
		Plotter: plotter,
		Caches:  cacheManager,
		Logger:  logger,
	})

	router := api.NewRouter(api.RouterConfig{
		Session:     sess,
		Annotations: annotations,
		CORSOrigins: cfg.Server.CORSOrigins,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server forced to shutdown", zap.Error(err))
	}

	if cfg.Data.SaveDir != "" {
		saveSnapshots(sess, cfg.Data.SaveDir, logger)
	}

	logger.Info("server stopped")
}

// saveSnapshots writes every registered dataset back out so tracked edits
// survive a restart.
func saveSnapshots(sess *session.Session, dir string, logger *zap.Logger) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		logger.Error("failed to create save directory", zap.String("dir", dir), zap.Error(err))
		return
	}
	for _, d := range sess.Datasets() {
		path := filepath.Join(dir, d.Name()+".sbz")
		if err := sdata.Save(d, path); err != nil {
			logger.Error("failed to save dataset",
				zap.String("name", d.Name()), zap.Error(err))
			continue
		}
		logger.Info("saved dataset", zap.String("name", d.Name()), zap.String("path", path))
	}
}

func newLogger(level string) (*zap.Logger, error) {
	lvl := zapcore.InfoLevel
	if level != "" {
		parsed, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
		lvl = parsed
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	return zcfg.Build()
}
