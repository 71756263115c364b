package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/OlenaSrost/MCCircadianQueries/pkg/config"
	"github.com/OlenaSrost/MCCircadianQueries/pkg/server"
)

const (
	serverReadTimeout  = 10 * time.Second
	serverWriteTimeout = config.QueryTimeout + 5*time.Second
	shutdownTimeout    = 30 * time.Second
)

func main() {
	log.Println("Starting circadian timeline server...")

	cfg, err := server.LoadConfig()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	log.Printf("Configuration: store = %s, data dir = %s, memory limit = %d MB, time zone = %s",
		cfg.Store, cfg.DataDir, cfg.MaxMemoryMB, cfg.Location)

	store, err := server.InitializeStore(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize cache store: %v", err)
	}
	defer store.Close()

	src, err := server.InitializeSource(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize sample source: %v", err)
	}

	c := server.InitializeComponents(cfg, src, store)
	defer c.Service.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup

	// Invalidation events flow broker -> hub -> websocket clients
	events, unsubscribe := c.Service.Broker().Subscribe(config.InvalidationBuffer)
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.Hub.Run(ctx, events)
	}()
	log.Println("WebSocket hub started for invalidation events")

	stopSweep := make(chan bool)
	wg.Add(1)
	go server.RunCacheSweep(c.Service, c.SweepMonitor, stopSweep, &wg)

	stopGC := make(chan bool)
	wg.Add(1)
	go server.RunBadgerGC(store, stopGC, &wg)

	router := mux.NewRouter()
	server.SetupRoutes(router, c, cfg.Port)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
	}

	go func() {
		log.Printf("Server starting on http://localhost:%s", cfg.Port)
		log.Println("API endpoints:")
		log.Println("   GET    /v1/timeline                  - Canonical timeline")
		log.Println("   GET    /v1/stats/eating              - Eating time per day")
		log.Println("   GET    /v1/stats/fasting/max         - Longest fast per day")
		log.Println("   GET    /v1/stats/fasting/variability - Fasting variability")
		log.Println("   GET    /v1/stats/split               - Category split")
		log.Println("   POST   /v1/samples                   - Ingest samples")
		log.Println("   DELETE /v1/cache                     - Purge cache")
		log.Println("   GET    /metrics                      - Prometheus endpoint")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutdown signal received...")

	// Stop goroutines before waiting on them
	cancel()
	unsubscribe()
	close(stopSweep)
	close(stopGC)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown warning: %v", err)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("All background tasks stopped cleanly")
	case <-time.After(5 * time.Second):
		log.Println("Some background tasks did not stop in time (forcing exit)")
	}

	log.Println("Server exited cleanly")
}
