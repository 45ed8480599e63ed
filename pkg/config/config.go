package config

import "time"

// Server defaults
const (
	DefaultPort         = "8080"
	DefaultDataDir      = "./data/rfiscope"
	DefaultMaxStorageGB = 1
	DefaultMaxMemoryMB  = 48
)

// Background task intervals
const (
	BadgerGCInterval = 10 * time.Minute

	// DefaultBackfillInterval of zero disables the scheduled stale-only backfill
	DefaultBackfillInterval = 0 * time.Hour
	BackfillTimeout         = 2 * time.Hour
)

// Query caps and timeouts
const (
	MaxQueryRows    = 3_000_000
	MaxPointsToPlot = 550_000
	MaxQuerySpan    = 365 * 24 * time.Hour
	QueryTimeout    = 30 * time.Second
	PlotTimeout     = 60 * time.Second
)

// Reduction defaults
const (
	DefaultPixelWidth          = 1080
	MaxPixelWidth              = 16384
	DefaultThresholdMultiplier = 5.0
	DefaultPadFraction         = 0.5
	DerivedPointsPerPixel      = 2
)

// Ingest limits
const (
	IngestTimeout        = 5 * time.Second
	MaxSamplesPerRequest = 10000
	MaxSessionNameLength = 256
)

// Exploration sessions
const (
	ExploreIdleTTL       = 30 * time.Minute
	ExploreSweepInterval = 1 * time.Minute
	MaxExplorations      = 256
)

// Export defaults and limits
const (
	DefaultExportWindow = 24 * time.Hour
	MaxExportWindow     = 30 * 24 * time.Hour
	MaxImportBatchSize  = 5000
)

// WebSocket configuration
const (
	WSReadBufferSize  = 1024
	WSWriteBufferSize = 4096
	WSWriteDeadline   = 10 * time.Second
	WSReadDeadline    = 60 * time.Second
	WSPingInterval    = 30 * time.Second
	WSChannelBuffer   = 16
	WSBroadcastBuffer = 64
	WSMaxMessageBytes = 64 * 1024
)
