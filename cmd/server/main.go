/*
main.go - Application entry point

STARTUP SEQUENCE:
  1. Parse flags / environment config
  2. Connect Postgres (pgx pool) and Redis
  3. Load the store registry
  4. Register queues, wire processors, start scheduler + workers
  5. Start the HTTP trigger surface

GRACEFUL SHUTDOWN (SIGINT/SIGTERM):
  1. Stop the HTTP server
  2. Stop workers first - each waits for its current job to finish
  3. Close queues
  4. Close Redis and the database pool
  5. Exit 0; exit 1 if any close step errored
*/
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

	"github.com/redis/go-redis/v9"

	"github.com/warp/pos-ledger/api"
	"github.com/warp/pos-ledger/cache"
	"github.com/warp/pos-ledger/config"
	"github.com/warp/pos-ledger/jobs"
	"github.com/warp/pos-ledger/pos"
	"github.com/warp/pos-ledger/registry"
	"github.com/warp/pos-ledger/store/postgres"
)

func main() {
	cfg := config.FromEnv()
	port := flag.Int("port", cfg.HTTPPort, "HTTP server port")
	exportDir := flag.String("export-dir", cfg.ExportDir, "journal output directory")
	flag.Parse()

	ctx := context.Background()

	db, err := postgres.New(ctx, cfg.PostgresURL)
	if err != nil {
		log.Fatalf("Failed to connect to Postgres: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("Failed to connect to Redis at %s: %v", cfg.RedisAddr, err)
	}
	kv := cache.NewRedis(rdb)

	reg := registry.New(db)
	if err := reg.Load(ctx); err != nil {
		// The scheduler still runs; jobs surface ErrNoActiveStores until
		// the registry loads (banner-sync retries the load).
		log.Printf("Warning: store registry load failed: %v", err)
	}

	manager := jobs.NewManager(kv, jobs.Events{
		Completed: func(queue, jobID string, result interface{}) {
			log.Printf("[Worker:%s] job %s completed", queue, jobID)
		},
		Failed: func(queue, jobID string, err error, willRetry bool) {
			log.Printf("[Worker:%s] job %s failed (retry=%v): %v", queue, jobID, willRetry, err)
		},
		Stalled: func(queue, jobID string) {
			log.Printf("[Worker:%s] job %s stalled", queue, jobID)
		},
		Error: func(err error) {
			log.Printf("[Worker] error: %v", err)
		},
	})
	jobs.RegisterDefaults(manager)
	manager.UpdateContext(&jobs.ProcContext{
		Registry:  reg,
		POS:       pos.NewClient(cfg.PosBaseURL),
		DB:        db,
		Cache:     kv,
		Refresher: cache.NewRefresher(db, kv),
		ExportDir: *exportDir,
	})

	if err := manager.Start(ctx); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}

	handler := &api.Handler{
		Jobs:      manager,
		Cache:     kv,
		Registry:  reg,
		ExportDir: *exportDir,
	}
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      api.NewRouter(handler),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("🚀 POS ledger service on http://localhost:%d/api", *port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	failed := false
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP shutdown error: %v", err)
		failed = true
	}
	if err := manager.Shutdown(shutdownCtx); err != nil {
		log.Printf("Scheduler shutdown error: %v", err)
		failed = true
	}
	if err := rdb.Close(); err != nil {
		log.Printf("Redis close error: %v", err)
		failed = true
	}
	db.Close()

	if failed {
		os.Exit(1)
	}
	log.Println("Stopped")
}
