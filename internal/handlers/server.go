package handlers

import (
	"context"
	"embed"
	"encoding/json"
	"io/fs"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/tendant/visual-assistant/internal/apperr"
	"github.com/tendant/visual-assistant/internal/metrics"
	"github.com/tendant/visual-assistant/internal/speech"
	"github.com/tendant/visual-assistant/internal/storage"
	"github.com/tendant/visual-assistant/internal/workflows"
	"github.com/tendant/visual-assistant/pkg/pipeline"
)

//go:embed static
var staticFiles embed.FS

// UploadStore is the upload directory
type UploadStore interface {
	storage.Store
	BaseDir() string
}

// VoiceLister lists speech voices
type VoiceLister interface {
	ListVoices(ctx context.Context) ([]speech.Voice, error)
}

// SeenCounter records repeated job submissions
type SeenCounter interface {
	Record(ctx context.Context, filename, job string) (int, error)
}

// Handler holds dependencies for HTTP handlers
type Handler struct {
	uploads        UploadStore
	audio          storage.ReaderWithMetadata
	workflowRunner *workflows.WorkflowRunner
	voices         VoiceLister
	metrics        *metrics.Metrics
	maxUploadBytes int64
	maxImagePixels int64
}

// Options configures NewRouter
type Options struct {
	Uploads        UploadStore
	Audio          storage.ReaderWithMetadata
	Runner         *workflows.WorkflowRunner
	Voices         VoiceLister
	Tracker        SeenCounter
	Metrics        *metrics.Metrics
	MaxUploadBytes int64
	MaxImagePixels int64
}

// NewRouter builds the HTTP API
func NewRouter(opts Options) http.Handler {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 20 << 20
	}

	h := &Handler{
		uploads:        opts.Uploads,
		audio:          opts.Audio,
		workflowRunner: opts.Runner,
		voices:         opts.Voices,
		metrics:        opts.Metrics,
		maxUploadBytes: opts.MaxUploadBytes,
		maxImagePixels: opts.MaxImagePixels,
	}
	async := NewAsyncHandler(opts.Runner, opts.Tracker)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(h.observe)

	static, _ := fs.Sub(staticFiles, "static")
	r.Get("/", serveIndex(static))
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(static))))

	r.Get("/health", handleHealth)
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics.Handler())
	}

	r.Post("/upload", h.HandleUpload)
	r.Post("/describe", h.HandleDescribe)
	r.Post("/extract-text", h.HandleExtractText)
	r.Post("/answer-question", h.HandleAnswerQuestion)
	r.Get("/audio/{filename}", h.HandleAudio)
	r.Get("/voices", h.HandleVoices)

	r.Post("/v1/process", async.HandleProcessAsync)
	r.Get("/v1/runs/{runID}", async.HandleStatus)

	return r
}

func serveIndex(static fs.FS) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page, err := fs.ReadFile(static, "index.html")
		if err != nil {
			http.Error(w, "index page missing", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write(page)
	}
}

// observe records request counts and latency per route pattern
func (h *Handler) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		h.metrics.ObserveHTTP(route, status, time.Since(start))
	})
}

// handleHealth returns health status
func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

// writeError maps err onto a status code and the {"detail", "kind"} body
func writeError(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	writeJSON(w, apperr.HTTPStatus(kind), pipeline.ErrorResponse{
		Detail: apperr.MessageOf(err),
		Kind:   string(kind),
	})
}
