package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/nicktill/rfiscope/pkg/config"
	"github.com/nicktill/rfiscope/pkg/explore"
	"github.com/nicktill/rfiscope/pkg/server"
	"github.com/nicktill/rfiscope/pkg/server/monitor"
)

const (
	serverReadTimeout = 10 * time.Second
	// plots may take up to config.PlotTimeout to build
	serverWriteTimeout = config.PlotTimeout + 30*time.Second
	shutdownTimeout    = 30 * time.Second
)

func main() {
	log.Println("🚀 Starting RFI Scope server...")

	cfg := server.LoadConfig()
	maxStorageBytes := cfg.MaxStorageGB * 1024 * 1024 * 1024
	log.Printf("⚙️  Configuration: Storage limit = %d GB, Memory limit = %d MB, Data directory = %s",
		cfg.MaxStorageGB, cfg.MaxMemoryMB, cfg.DataDir)

	policy, err := server.LoadPolicy(cfg)
	if err != nil {
		log.Fatalf("❌ Failed to load receiver policy: %v", err)
	}

	store, err := server.InitializeStorage(cfg)
	if err != nil {
		log.Fatalf("❌ Failed to initialize storage: %v", err)
	}
	defer store.Close()

	if err := server.CheckCoverage(context.Background(), store, policy); err != nil {
		log.Fatalf("❌ Receiver policy is incomplete: %v", err)
	}

	storageMonitor := monitor.NewStorageMonitor(cfg.DataDir, maxStorageBytes)
	registry := explore.NewRegistry(config.ExploreIdleTTL, config.MaxExplorations)
	handlers := server.InitializeHandlers(store, policy, storageMonitor, registry)

	backfiller, backfillMonitor, err := server.InitializeBackfill(store, policy, cfg.BackfillInterval)
	if err != nil {
		log.Fatalf("❌ Failed to initialize backfill: %v", err)
	}
	runner := server.NewBackfillRunner(backfiller, backfillMonitor)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		handlers.Hub.Run(ctx)
	}()
	log.Println("📡 WebSocket hub started for session updates")

	wg.Add(1)
	go func() {
		defer wg.Done()
		registry.Run(ctx, config.ExploreSweepInterval)
	}()

	stopBackfill := make(chan bool)
	wg.Add(1)
	go server.RunBackfill(runner, cfg.BackfillInterval, runtime.NumCPU(), stopBackfill, &wg)

	stopGC := make(chan bool)
	wg.Add(1)
	go server.RunBadgerGC(store, stopGC, &wg)

	router := mux.NewRouter()
	server.SetupRoutes(router, handlers, storageMonitor, backfillMonitor, runner, cfg.Port)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
	}

	go func() {
		log.Printf("🌐 Server starting on http://localhost:%s", cfg.Port)
		log.Println("📡 API endpoints:")
		log.Println("   POST /v1/ingest          - Ingest scan samples")
		log.Println("   GET  /v1/plot            - Plot descriptors for a form")
		log.Println("   POST /v1/explore         - Open an interactive exploration")
		log.Println("   POST /v1/backfill        - Rebuild view levels")
		log.Println("   GET  /metrics            - Prometheus endpoint")
		log.Println("✅ Server ready to accept requests")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("❌ Server failed to start: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("🛑 Shutdown signal received...")

	// Cancel before wg.Wait so the hub and sweeper return
	cancel()
	close(stopBackfill)
	close(stopGC)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	log.Println("🔄 Gracefully shutting down server...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("⚠️  Server shutdown warning: %v", err)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("✅ All background tasks stopped cleanly")
	case <-time.After(5 * time.Second):
		log.Println("⚠️  Some background tasks did not stop in time (forcing exit)")
	}

	log.Println("👋 RFI Scope server exited cleanly")
}
