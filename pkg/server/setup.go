// Package server wires configuration, storage, the query service, and the
// HTTP surface together.
package server

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/OlenaSrost/MCCircadianQueries/pkg/config"
	"github.com/OlenaSrost/MCCircadianQueries/pkg/export"
	"github.com/OlenaSrost/MCCircadianQueries/pkg/ingest"
	"github.com/OlenaSrost/MCCircadianQueries/pkg/query"
	"github.com/OlenaSrost/MCCircadianQueries/pkg/server/monitor"
	"github.com/OlenaSrost/MCCircadianQueries/pkg/source/file"
	memsource "github.com/OlenaSrost/MCCircadianQueries/pkg/source/memory"
	"github.com/OlenaSrost/MCCircadianQueries/pkg/storage"
	"github.com/OlenaSrost/MCCircadianQueries/pkg/storage/badger"
	memstore "github.com/OlenaSrost/MCCircadianQueries/pkg/storage/memory"
)

// Store backends
const (
	StoreBadger = "badger"
	StoreMemory = "memory"
)

// Config holds server configuration.
type Config struct {
	Port        string
	DataDir     string
	MaxMemoryMB int64
	Store       string
	SeedFile    string
	Location    *time.Location
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (Config, error) {
	cfg := Config{
		Port:        getPort(),
		DataDir:     getEnv("CIRCADIAN_DATA_DIR", config.DefaultDataDir),
		MaxMemoryMB: getEnvInt64("CIRCADIAN_MAX_MEMORY_MB", config.DefaultMaxMemoryMB),
		Store:       getEnv("CIRCADIAN_STORE", config.DefaultStore),
		SeedFile:    os.Getenv("CIRCADIAN_SEED_FILE"),
		Location:    time.Local,
	}

	if tz := os.Getenv("CIRCADIAN_TZ"); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return Config{}, fmt.Errorf("invalid CIRCADIAN_TZ %q: %w", tz, err)
		}
		cfg.Location = loc
	}

	switch cfg.Store {
	case StoreBadger:
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return Config{}, fmt.Errorf("failed to create data directory: %w", err)
		}
	case StoreMemory:
	default:
		return Config{}, fmt.Errorf("unknown CIRCADIAN_STORE %q (want %s or %s)", cfg.Store, StoreBadger, StoreMemory)
	}

	return cfg, nil
}

// InitializeStore opens the cache store selected by the configuration.
func InitializeStore(cfg Config) (storage.Store, error) {
	if cfg.Store == StoreMemory {
		log.Println("Using in-memory cache store (entries are lost on restart)")
		return memstore.New(), nil
	}

	log.Println("Initializing BadgerDB cache store with Snappy compression...")
	store, err := badger.New(badger.Config{
		Path:        cfg.DataDir,
		MaxMemoryMB: cfg.MaxMemoryMB,
	})
	if err != nil {
		return nil, err
	}
	log.Printf("BadgerDB cache store initialized at %s", cfg.DataDir)
	return store, nil
}

// InitializeSource creates the sample source, seeded from the configured
// YAML file when there is one.
func InitializeSource(cfg Config) (*memsource.Source, error) {
	src := memsource.New()
	if cfg.SeedFile == "" {
		return src, nil
	}

	samples, err := file.Load(cfg.SeedFile)
	if err != nil {
		return nil, fmt.Errorf("seed samples: %w", err)
	}
	src.Add(samples...)
	log.Printf("Seeded %d samples from %s", len(samples), cfg.SeedFile)
	return src, nil
}

// Components are the constructed pieces the routes and tasks need.
type Components struct {
	Service        *query.Service
	QueryHandler   *query.Handler
	IngestHandler  *ingest.Handler
	ExportHandler  *export.Handler
	Hub            *ingest.InvalidationHub
	SweepMonitor   *monitor.SweepMonitor
	StorageMonitor *monitor.StorageMonitor
}

// InitializeComponents creates the service, handlers, hub, and monitors.
// Cache entries left in the store by a previous run are purged.
func InitializeComponents(cfg Config, src *memsource.Source, store storage.Store) *Components {
	svc := query.NewService(src, store, query.WithLocation(cfg.Location))
	log.Printf("Query service created (calendar days in %s)", cfg.Location)

	// The sample source lives in memory and is rebuilt on every start, so
	// entries a durable store kept from a previous run may describe samples
	// that no longer exist.
	if n, err := svc.PurgeCache(context.Background(), ""); err != nil {
		log.Printf("Failed to purge cache entries from a previous run: %v", err)
	} else if n > 0 {
		log.Printf("Purged %d cache entries from a previous run", n)
	}

	var reporter monitor.SizeReporter
	dataDir := ""
	if bs, ok := store.(*badger.Store); ok {
		reporter = bs
		dataDir = cfg.DataDir
	}

	return &Components{
		Service:        svc,
		QueryHandler:   query.NewHandler(svc),
		IngestHandler:  ingest.NewHandler(src, svc),
		ExportHandler:  export.NewHandler(svc, cfg.Location),
		Hub:            ingest.NewInvalidationHub(),
		SweepMonitor:   monitor.NewSweepMonitor(config.CacheSweepInterval),
		StorageMonitor: monitor.NewStorageMonitor(dataDir, reporter),
	}
}

// getEnv gets a string from environment variable or returns default.
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

// getPort gets the server port from CIRCADIAN_PORT or PORT, or returns default.
func getPort() string {
	if port := os.Getenv("CIRCADIAN_PORT"); port != "" {
		return port
	}
	if port := os.Getenv("PORT"); port != "" {
		return port
	}
	return config.DefaultPort
}
