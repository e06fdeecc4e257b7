package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"bypasskv/internal/api"
	"bypasskv/internal/region"
)

func main() {
	addr := envOrDefault("KV_HTTP_ADDR", "127.0.0.1:8080")
	dataDir := os.Getenv("KV_DATA_DIR")
	capacity, err := strconv.Atoi(envOrDefault("KV_REGION_CAPACITY", strconv.Itoa(region.DefaultCapacity)))
	if err != nil || capacity <= 0 {
		log.Fatalf("KV_REGION_CAPACITY must be a positive integer")
	}
	if dataDir != "" {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			log.Fatalf("create data dir: %v", err)
		}
	}

	tables := api.NewServer(api.ServerOptions{DataDir: dataDir, Capacity: capacity})
	srv := &http.Server{
		Addr:              addr,
		Handler:           tables,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("shutdown: %v", err)
		}
	}()

	log.Printf("starting region server on %s (data dir %q)", addr, dataDir)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server failed: %v", err)
	}
	if err := tables.Close(); err != nil {
		log.Printf("closing tables: %v", err)
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
