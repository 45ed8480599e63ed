package server

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/nicktill/rfiscope/pkg/config"
	"github.com/nicktill/rfiscope/pkg/explore"
	"github.com/nicktill/rfiscope/pkg/export"
	"github.com/nicktill/rfiscope/pkg/ingest"
	"github.com/nicktill/rfiscope/pkg/server/monitor"
	"github.com/nicktill/rfiscope/pkg/storage"
	"github.com/nicktill/rfiscope/pkg/storage/badger"
	"github.com/nicktill/rfiscope/pkg/tiering"
)

// Config holds server configuration.
type Config struct {
	MaxStorageGB int64
	MaxMemoryMB  int64
	DataDir      string
	Port         string

	// PolicyPath is the receiver policy file; empty uses the built-in policy
	PolicyPath string

	// BackfillInterval schedules the stale-only backfill; zero disables it
	BackfillInterval time.Duration
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() Config {
	dataDir := getEnv("RFISCOPE_DATA_DIR", config.DefaultDataDir)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}

	return Config{
		MaxStorageGB:     getEnvInt64("RFISCOPE_MAX_STORAGE_GB", config.DefaultMaxStorageGB),
		MaxMemoryMB:      getEnvInt64("RFISCOPE_MAX_MEMORY_MB", config.DefaultMaxMemoryMB),
		DataDir:          dataDir,
		Port:             getEnv("PORT", config.DefaultPort),
		PolicyPath:       os.Getenv("RFISCOPE_CONFIG"),
		BackfillInterval: getEnvDuration("RFISCOPE_BACKFILL_INTERVAL", config.DefaultBackfillInterval),
	}
}

// LoadPolicy reads the receiver policy named by the config.
func LoadPolicy(cfg Config) (*config.Policy, error) {
	if cfg.PolicyPath == "" {
		log.Println("No RFISCOPE_CONFIG set, using built-in receiver policy")
		return config.DefaultPolicy(), nil
	}
	policy, err := config.LoadPolicy(cfg.PolicyPath)
	if err != nil {
		return nil, err
	}
	log.Printf("Loaded receiver policy from %s (%d receivers, strategy %s)", cfg.PolicyPath, len(policy.Receivers), policy.Strategy)
	return policy, nil
}

// InitializeStorage opens BadgerDB storage with the given configuration.
func InitializeStorage(cfg Config) (storage.Storage, error) {
	log.Printf("Opening BadgerDB storage at %s...", cfg.DataDir)
	store, err := badger.New(badger.Config{
		Path:        cfg.DataDir,
		MaxMemoryMB: cfg.MaxMemoryMB,
	})
	if err != nil {
		return nil, err
	}
	log.Println("BadgerDB storage initialized successfully")
	return store, nil
}

// CheckCoverage fails when the store holds sessions for receivers the policy
// does not know, since their prominence could not be resolved.
func CheckCoverage(ctx context.Context, store storage.Storage, policy *config.Policy) error {
	sessions, err := store.Sessions(ctx, storage.SessionFilter{})
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}

	seen := make(map[string]bool)
	var receivers []string
	for _, s := range sessions {
		if !seen[s.Receiver] {
			seen[s.Receiver] = true
			receivers = append(receivers, s.Receiver)
		}
	}
	sort.Strings(receivers)

	if err := policy.CoversReceivers(receivers); err != nil {
		return err
	}
	log.Printf("Receiver policy covers all %d stored receivers", len(receivers))
	return nil
}

// Handlers groups the request handlers the router serves.
type Handlers struct {
	Ingest  *ingest.Handler
	Export  *export.Handler
	Explore *explore.Handler
	Plot    *PlotHandler
	Hub     *ingest.SessionHub
}

// InitializeHandlers creates and configures all request handlers.
func InitializeHandlers(
	store storage.Storage,
	policy *config.Policy,
	storageMonitor *monitor.StorageMonitor,
	registry *explore.Registry,
) Handlers {
	hub := ingest.NewSessionHub()

	ingestHandler := ingest.NewHandler(store, policy)
	ingestHandler.SetStorageChecker(storageMonitor)
	ingestHandler.SetHub(hub)
	log.Println("Ingest handler created with sample validation & storage limits")

	exportHandler := export.NewHandler(store, policy)
	log.Println("Export/Import handler created (JSON & CSV backup support)")

	exploreHandler := explore.NewHandler(store, policy, registry)
	log.Printf("Exploration handler created (idle TTL %v, max %d)", config.ExploreIdleTTL, config.MaxExplorations)

	plotHandler := NewPlotHandler(store, policy)
	log.Println("Plot handler created")

	return Handlers{
		Ingest:  ingestHandler,
		Export:  exportHandler,
		Explore: exploreHandler,
		Plot:    plotHandler,
		Hub:     hub,
	}
}

// InitializeBackfill creates the tier backfiller with health monitoring.
func InitializeBackfill(store storage.Storage, policy *config.Policy, interval time.Duration) (*tiering.Backfiller, *monitor.BackfillMonitor, error) {
	backfiller, err := tiering.NewBackfiller(store, policy)
	if err != nil {
		return nil, nil, err
	}
	backfillMonitor := monitor.NewBackfillMonitor(interval)
	if interval > 0 {
		log.Printf("Tier backfill ready (stale sessions every %v, strategy %s)", interval, policy.Strategy)
	} else {
		log.Printf("Tier backfill ready (on demand only, strategy %s)", policy.Strategy)
	}
	return backfiller, backfillMonitor, nil
}

func getEnv(key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultValue
}

// getEnvInt64 gets an int64 from environment variable or returns default.
func getEnvInt64(key string, defaultValue int64) int64 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseInt(val, 10, 64); err == nil {
			return parsed
		}
		log.Printf("Invalid value for %s: %q, using default %d", key, val, defaultValue)
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil && parsed >= 0 {
			return parsed
		}
		log.Printf("Invalid value for %s: %q, using default %v", key, val, defaultValue)
	}
	return defaultValue
}
