package runner

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/visual-assistant/internal/config"
	"github.com/tendant/visual-assistant/internal/dbosruntime"
	"github.com/tendant/visual-assistant/internal/dedupe"
	"github.com/tendant/visual-assistant/internal/handlers"
	"github.com/tendant/visual-assistant/internal/metrics"
	"github.com/tendant/visual-assistant/internal/ocr"
	"github.com/tendant/visual-assistant/internal/ocr/tesseract"
	"github.com/tendant/visual-assistant/internal/speech"
	"github.com/tendant/visual-assistant/internal/storage"
	"github.com/tendant/visual-assistant/internal/vision"
	"github.com/tendant/visual-assistant/internal/workerpool"
	"github.com/tendant/visual-assistant/internal/workflows"
	"github.com/tendant/visual-assistant/pkg/pipeline"
)

// Runner owns every long-lived component of the service: storage, engines,
// the inference pool, the workflow runner and, when configured, DBOS
type Runner struct {
	cfg     *config.Config
	metrics *metrics.Metrics
	uploads *storage.FilesystemStorage
	audio   *storage.FilesystemStorage
	pool    *workerpool.Pool
	speech  *speech.Service
	runtime *dbosruntime.Runtime
	tracker *dedupe.Tracker
	runner  *workflows.WorkflowRunner
	closers []func() error
}

// New builds the service from cfg. When cfg.DBOS.DatabaseURL is set the DBOS
// runtime is created and launched, and async processing becomes available.
func New(ctx context.Context, cfg *config.Config) (*Runner, error) {
	r := &Runner{
		cfg:     cfg,
		metrics: metrics.New(),
	}

	var err error
	if r.uploads, err = storage.NewFilesystemStorage(cfg.Storage.UploadDir); err != nil {
		return nil, fmt.Errorf("failed to initialize upload storage: %w", err)
	}
	if r.audio, err = storage.NewFilesystemStorage(cfg.Storage.AudioDir); err != nil {
		return nil, fmt.Errorf("failed to initialize audio storage: %w", err)
	}
	log.Printf("✓ Storage ready (uploads=%s, audio=%s)", r.uploads.BaseDir(), r.audio.BaseDir())

	r.pool = workerpool.New(cfg.Inference.Concurrency, cfg.Inference.QueueTimeout, r.metrics)
	log.Printf("✓ Inference pool ready (size=%d, queue_timeout=%s)", r.pool.Size(), cfg.Inference.QueueTimeout)

	speechSvc, closeSpeech, err := NewSpeechService(ctx, cfg)
	if err != nil {
		return nil, err
	}
	r.speech = speechSvc
	r.closers = append(r.closers, closeSpeech)

	if cfg.Vision.APIKey == "" {
		log.Printf("Warning: OPENAI_API_KEY is not set, describe and answer-question will fail")
	}
	model := vision.NewOpenAIModel(cfg.Vision.APIKey, cfg.Vision.BaseURL, cfg.Vision.Model)
	visionOpts := vision.Options{
		MaxTokens:   cfg.Vision.MaxTokens,
		Temperature: cfg.Vision.Temperature,
		MaxEdge:     cfg.Vision.MaxEdge,
		MaxPixels:   cfg.HTTP.MaxImagePixels,
	}
	log.Printf("✓ Vision model: %s", model.Name())

	extractor := ocr.NewExtractor(tesseract.New(nil),
		ocr.WithLanguage(cfg.OCR.Language),
		ocr.WithMorphKernel(cfg.OCR.MorphKernel),
		ocr.WithMaxPixels(cfg.HTTP.MaxImagePixels),
	)

	dbosCfg := dbosruntime.Config{
		DatabaseURL:        cfg.DBOS.DatabaseURL,
		QueueName:          cfg.DBOS.QueueName,
		Concurrency:        cfg.DBOS.Concurrency,
		ApplicationVersion: cfg.DBOS.ApplicationVersion,
	}
	var ledger workflows.ResultLedger
	if dbosCfg.Enabled() {
		if r.runtime, err = dbosruntime.NewRuntime(ctx, dbosCfg); err != nil {
			r.close()
			return nil, fmt.Errorf("failed to initialize DBOS: %w", err)
		}
		if r.tracker, err = dedupe.NewTracker(ctx, r.runtime.DB()); err != nil {
			r.runtime.Shutdown(time.Second)
			r.close()
			return nil, fmt.Errorf("failed to initialize dedupe tracker: %w", err)
		}
		ledger = r.tracker
	} else {
		log.Printf("DBOS_SYSTEM_DATABASE_URL not set, async processing disabled")
	}

	// Workflows must be registered before DBOS is launched
	r.runner = workflows.NewWorkflowRunner(r.runtime, ledger)

	deps := workflows.Deps{
		Uploads:        r.uploads,
		Audio:          r.audio,
		Pool:           r.pool,
		Speech:         r.speech,
		Metrics:        r.metrics,
		MaxImagePixels: cfg.HTTP.MaxImagePixels,
	}
	register := []struct {
		job      string
		workflow workflows.Workflow
	}{
		{pipeline.JobDescribe, workflows.NewDescribeWorkflow(deps, vision.NewDescriber(model, visionOpts))},
		{pipeline.JobExtractText, workflows.NewExtractTextWorkflow(deps, extractor)},
		{pipeline.JobAnswerQuestion, workflows.NewAnswerWorkflow(deps, vision.NewAnswerer(model, visionOpts))},
	}
	for _, reg := range register {
		r.runner.Register(reg.job, reg.workflow)
		log.Printf("✓ Registered workflow: %s for job: %s", reg.workflow.Name(), reg.job)
	}

	if r.runtime != nil {
		if err := r.runtime.Launch(); err != nil {
			r.runtime.Shutdown(time.Second)
			r.close()
			return nil, err
		}
		log.Printf("✓ DBOS runtime launched (queue=%s, concurrency=%d)", r.runtime.QueueName(), r.runtime.Concurrency())
	}

	return r, nil
}

// NewSpeechService builds the configured speech engine. The returned func
// releases engine resources.
func NewSpeechService(ctx context.Context, cfg *config.Config) (*speech.Service, func() error, error) {
	var synth speech.Synthesizer
	closeFn := func() error { return nil }

	switch cfg.Speech.Engine {
	case "", "openai":
		synth = speech.NewOpenAISynthesizer(cfg.Vision.APIKey, cfg.Speech.BaseURL, cfg.Speech.Model)
	case "google":
		languages := cfg.Speech.Languages
		defaultLanguage := "en"
		if len(languages) > 0 {
			defaultLanguage = languages[0]
		}
		g, err := speech.NewGoogleSynthesizer(ctx, defaultLanguage)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize Google TTS: %w", err)
		}
		synth = g
		closeFn = g.Close
	default:
		return nil, nil, fmt.Errorf("unknown speech engine %q", cfg.Speech.Engine)
	}

	svc := speech.NewService(synth,
		speech.WithVoice(cfg.Speech.Voice),
		speech.WithRate(cfg.Speech.Rate),
		speech.WithLanguageDetector(speech.NewLanguageDetector(cfg.Speech.Languages)),
		speech.WithPlayer(cfg.Speech.Player),
	)
	log.Printf("✓ Speech engine: %s (voice=%s, rate=%.2f)", svc.EngineName(), cfg.Speech.Voice, cfg.Speech.Rate)
	return svc, closeFn, nil
}

// Handler returns the full HTTP API
func (r *Runner) Handler() http.Handler {
	opts := handlers.Options{
		Uploads:        r.uploads,
		Audio:          r.audio,
		Runner:         r.runner,
		Voices:         r.speech,
		Metrics:        r.metrics,
		MaxUploadBytes: r.cfg.HTTP.MaxUploadBytes,
		MaxImagePixels: r.cfg.HTTP.MaxImagePixels,
	}
	if r.tracker != nil {
		opts.Tracker = r.tracker
	}
	return handlers.NewRouter(opts)
}

// AsyncHandler returns the handlers for /v1/process and /v1/runs/{runID}
func (r *Runner) AsyncHandler() *handlers.AsyncHandler {
	if r.tracker != nil {
		return handlers.NewAsyncHandler(r.runner, r.tracker)
	}
	return handlers.NewAsyncHandler(r.runner, nil)
}

// AsyncEnabled reports whether DBOS is running
func (r *Runner) AsyncEnabled() bool {
	return r.runner.AsyncEnabled()
}

// Metrics returns the service metrics
func (r *Runner) Metrics() *metrics.Metrics {
	return r.metrics
}

// Speech returns the speech service
func (r *Runner) Speech() *speech.Service {
	return r.speech
}

// Process runs a job synchronously and returns its result
func (r *Runner) Process(ctx context.Context, req pipeline.ProcessRequest) (*pipeline.JobResult, error) {
	runID := uuid.New().String()
	result, err := r.runner.Run(&workflows.WorkflowContext{
		Ctx:     ctx,
		Request: req,
		RunID:   runID,
	})
	if err != nil {
		return nil, err
	}
	return &result.Outputs, nil
}

// Enqueue submits a job for async execution and returns its run ID
func (r *Runner) Enqueue(ctx context.Context, req pipeline.ProcessRequest) (string, error) {
	return r.runner.RunAsync(ctx, req)
}

// Status reports the state of an async run
func (r *Runner) Status(ctx context.Context, runID string) (*pipeline.RunStatus, error) {
	return r.runner.GetStatus(ctx, runID)
}

// Shutdown stops DBOS, waiting up to timeout for running jobs, and releases engines
func (r *Runner) Shutdown(timeout time.Duration) {
	if r.runtime != nil {
		r.runtime.Shutdown(timeout)
	}
	r.close()
}

func (r *Runner) close() {
	for _, c := range r.closers {
		if err := c(); err != nil {
			log.Printf("Failed to release engine: %v", err)
		}
	}
	r.closers = nil
}
