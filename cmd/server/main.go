// Package main is the entry point for the grid-crop server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gridcrop/server/internal/api"
	"github.com/gridcrop/server/internal/cache"
	"github.com/gridcrop/server/internal/catalog"
	"github.com/gridcrop/server/internal/config"
	"github.com/gridcrop/server/internal/engine/regrid"
	"github.com/gridcrop/server/internal/jobstore"
	"github.com/gridcrop/server/internal/render"
	"github.com/gridcrop/server/internal/service"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config/server.yaml", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	log.Printf("Starting grid-crop server on port %d", cfg.Server.Port)

	if err := os.MkdirAll(cfg.Data.DataDir, 0o755); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}
	if err := os.MkdirAll(cfg.Data.OutputDir, 0o755); err != nil {
		log.Fatalf("Failed to create output directory: %v", err)
	}

	// Initialize the file catalog
	cat, err := catalog.Open(cfg.Data.CatalogDB)
	if err != nil {
		log.Fatalf("Failed to open catalog: %v", err)
	}
	defer cat.Close()
	log.Printf("Catalog: %s", cfg.Data.CatalogDB)

	// Initialize cache manager
	cacheManager, err := cache.NewManager(cache.Config{
		PreviewCacheSizeMB: cfg.Cache.PreviewSizeMB,
		PreviewTTL:         time.Duration(cfg.Cache.PreviewTTLMinutes) * time.Minute,
		StructureCacheSize: cfg.Cache.StructureEntries,
	})
	if err != nil {
		log.Fatalf("Failed to initialize cache: %v", err)
	}
	defer cacheManager.Close()

	// Initialize preview renderer
	previewRenderer := render.NewPreviewRenderer(render.Config{
		MaxPixels:       cfg.Render.MaxPixels,
		DefaultColormap: cfg.Render.DefaultColormap,
	})

	// Initialize job manager with SQLite persistence
	jobManager, err := api.NewJobManager(api.JobManagerConfig{
		MaxConcurrent: cfg.Jobs.MaxConcurrent,
		SQLitePath:    cfg.Data.JobsDB,
		RetentionDays: cfg.Jobs.RetentionDays,
		CleanupPeriod: time.Duration(cfg.Jobs.CleanupMinutes) * time.Minute,
	})
	if err != nil {
		log.Fatalf("Failed to initialize job manager: %v", err)
	}
	log.Printf("Job manager: max_concurrent=%d, retention_days=%d, sqlite=%s",
		cfg.Jobs.MaxConcurrent, cfg.Jobs.RetentionDays, cfg.Data.JobsDB)

	// Wire up the engines as job executors
	interpParams := regrid.Params{
		MaxNeighbors:      cfg.Interp.MaxNeighbors,
		MinNeighbors:      cfg.Interp.MinNeighbors,
		Power:             cfg.Interp.Power,
		MaxDistance:       cfg.Interp.MaxDistance,
		BlockSize:         cfg.Interp.BlockSize,
		MaxPointsPerBlock: cfg.Interp.MaxPointsPerBlock,
		Workers:           cfg.Interp.Workers,
	}
	cropService := service.NewCropService(cat, cfg.Data.OutputDir)
	interpService := service.NewInterpService(cat, cfg.Data.OutputDir, interpParams)
	jobManager.RegisterExecutor(jobstore.JobKindCrop, cropService.ExecuteCropJob)
	jobManager.RegisterExecutor(jobstore.JobKindInterpolate, interpService.ExecuteInterpJob)

	jobManager.Start()
	defer jobManager.Stop()

	// Set up HTTP router
	router := api.NewRouter(api.RouterConfig{
		Catalog:     cat,
		JobManager:  jobManager,
		Cache:       cacheManager,
		Renderer:    previewRenderer,
		CORSOrigins: cfg.Server.CORSOrigins,
		DataDir:     cfg.Data.DataDir,
		OutputDir:   cfg.Data.OutputDir,
		MaxUploadMB: cfg.Server.MaxUploadMB,
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server listening on http://localhost:%d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
