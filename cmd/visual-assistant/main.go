package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/tendant/visual-assistant/internal/config"
	"github.com/tendant/visual-assistant/pkg/runner"
)

// Visual assistant API server.
//
//	visual-assistant              serve the HTTP API
//	visual-assistant speak <text> synthesize text and play it locally
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if len(os.Args) > 1 && os.Args[1] == "speak" {
		speak(cfg, strings.Join(os.Args[2:], " "))
		return
	}

	log.Printf("Visual Assistant")
	log.Printf("  HTTP address: %s", cfg.HTTP.Addr)

	ctx := context.Background()
	r, err := runner.New(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	defer r.Shutdown(10 * time.Second)

	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      3 * time.Minute,
		IdleTimeout:       2 * time.Minute,
	}

	// Start server in goroutine
	go func() {
		log.Printf("✓ Visual assistant ready on %s", cfg.HTTP.Addr)
		log.Printf("")
		log.Printf("Available endpoints:")
		log.Printf("  GET  /                    - Web interface")
		log.Printf("  GET  /health              - Health check")
		log.Printf("  GET  /metrics             - Prometheus metrics")
		log.Printf("  POST /upload              - Upload an image")
		log.Printf("  POST /describe            - Describe an uploaded image")
		log.Printf("  POST /extract-text        - Read text in an uploaded image")
		log.Printf("  POST /answer-question     - Answer a question about an uploaded image")
		log.Printf("  GET  /audio/{filename}    - Fetch a spoken result")
		log.Printf("  GET  /voices              - List speech voices")
		if r.AsyncEnabled() {
			log.Printf("  POST /v1/process          - Enqueue a job")
			log.Printf("  GET  /v1/runs/{runID}     - Job status")
		}
		log.Printf("")

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
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}

func speak(cfg *config.Config, text string) {
	if strings.TrimSpace(text) == "" {
		log.Fatalf("usage: visual-assistant speak <text>")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	svc, closeEngine, err := runner.NewSpeechService(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize speech: %v", err)
	}
	defer closeEngine()

	if !svc.SpeakText(ctx, text) {
		closeEngine()
		os.Exit(1)
	}
	svc.WaitForPlayback()
}
