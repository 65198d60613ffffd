package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/tendant/visual-assistant/internal/config"
	"github.com/tendant/visual-assistant/pkg/runner"
)

// Headless worker: dequeues jobs from the DBOS queue and executes them.
// It shares the upload and audio directories with the API server.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// DBOS is required here
	if cfg.DBOS.DatabaseURL == "" {
		log.Fatalf("DBOS_SYSTEM_DATABASE_URL is required")
	}

	httpAddr := os.Getenv("WORKER_HTTP_ADDR")
	if httpAddr == "" {
		httpAddr = ":8081"
	}

	r, err := runner.New(context.Background(), cfg)
	if err != nil {
		log.Fatalf("Failed to initialize worker: %v", err)
	}
	defer r.Shutdown(10 * time.Second)

	asyncHandler := r.AsyncHandler()

	mux := chi.NewRouter()
	mux.Use(middleware.RequestID)
	mux.Use(middleware.Logger)
	mux.Use(middleware.Recoverer)
	mux.Get("/health", handleHealth)
	mux.Method(http.MethodGet, "/metrics", r.Metrics().Handler())
	mux.Post("/v1/process", asyncHandler.HandleProcessAsync)
	mux.Get("/v1/runs/{runID}", asyncHandler.HandleStatus)

	log.Printf("✓ Registered async endpoints")

	server := &http.Server{
		Addr:              httpAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Visual assistant worker starting on %s", httpAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down worker...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Worker stopped")
}

// handleHealth returns health status
func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status": "healthy",
		"mode":   "worker",
	})
}
