package workflows

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/tendant/visual-assistant/internal/apperr"
	"github.com/tendant/visual-assistant/internal/fileutil"
	"github.com/tendant/visual-assistant/internal/metrics"
	"github.com/tendant/visual-assistant/internal/storage"
	"github.com/tendant/visual-assistant/pkg/pipeline"
)

// ImageStore is the upload directory as seen by workflows
type ImageStore interface {
	Exists(ctx context.Context, key string) (bool, error)
	Path(key string) (string, error)
}

// ArtifactStore is the audio directory as seen by workflows
type ArtifactStore interface {
	Path(key string) (string, error)
}

// Limiter bounds concurrent engine calls
type Limiter interface {
	Do(ctx context.Context, fn func(ctx context.Context) error) error
}

// SpeechWriter renders text to an audio file
type SpeechWriter interface {
	SaveToFile(ctx context.Context, text, outputPath string) (string, error)
}

// Deps are the collaborators shared by every image workflow
type Deps struct {
	Uploads ImageStore
	Audio   ArtifactStore
	Pool    Limiter
	Speech  SpeechWriter
	Metrics *metrics.Metrics

	// MaxImagePixels bounds decoded image size; 0 uses the fileutil default
	MaxImagePixels int64
}

// imageJob carries the steps common to every job:
// Received -> Validated -> Processed -> Responded
type imageJob struct {
	Deps
	job    string
	prefix string
}

// resolveImage validates the request file and returns its path on disk
func (j *imageJob) resolveImage(wctx *WorkflowContext) (string, error) {
	op := j.job + ".validate"
	filename := strings.TrimSpace(wctx.Request.Filename)
	if filename == "" {
		return "", apperr.Wrap(apperr.KindInvalidInput, op, "filename is required", ErrInvalidRequest)
	}

	path, err := j.Uploads.Path(filename)
	if errors.Is(err, storage.ErrInvalidKey) {
		return "", apperr.Wrap(apperr.KindInvalidInput, op, "invalid filename", err)
	}
	if err != nil {
		return "", apperr.Wrap(apperr.KindInternal, op, "failed to resolve file", err)
	}

	exists, err := j.Uploads.Exists(wctx.Ctx, filename)
	if err != nil {
		return "", apperr.Wrap(apperr.KindInternal, op, "file check failed", err)
	}
	if !exists {
		log.Printf("[%s] Source image not found: %s", wctx.RunID, filename)
		return "", apperr.NotFound(op, "File not found")
	}

	if !fileutil.IsValidImage(path, j.MaxImagePixels) {
		log.Printf("[%s] Source is not a decodable image: %s", wctx.RunID, filename)
		return "", apperr.InvalidInput(op, "Not a valid image file")
	}

	log.Printf("[%s] Source image validated: %s", wctx.RunID, filename)
	return path, nil
}

// infer runs fn inside the inference pool
func (j *imageJob) infer(wctx *WorkflowContext, fn func(ctx context.Context) (string, error)) (string, error) {
	var out string
	err := j.Pool.Do(wctx.Ctx, func(ctx context.Context) error {
		var err error
		out, err = fn(ctx)
		return err
	})
	return out, err
}

// speak synthesizes text into the job's artifact. Failures are reported in
// the result, never as a workflow error.
func (j *imageJob) speak(wctx *WorkflowContext, text string) (audioFile, audioErr string) {
	name := pipeline.ArtifactName(j.prefix, wctx.Request.Filename)
	path, err := j.Audio.Path(name)
	if err != nil {
		j.Metrics.SpeechFailed()
		log.Printf("[%s] Invalid artifact name %s: %v", wctx.RunID, name, err)
		return "", apperr.MessageOf(err)
	}

	err = j.Pool.Do(wctx.Ctx, func(ctx context.Context) error {
		_, err := j.Speech.SaveToFile(ctx, text, path)
		return err
	})
	if err != nil {
		j.Metrics.SpeechFailed()
		log.Printf("[%s] Speech synthesis failed: %v", wctx.RunID, err)
		return "", apperr.MessageOf(err)
	}

	log.Printf("[%s] Audio written: %s", wctx.RunID, name)
	return name, ""
}

func (j *imageJob) fail(wctx *WorkflowContext, err error) (*WorkflowResult, error) {
	kind := apperr.KindOf(err)
	j.Metrics.PipelineFailed(j.job, string(kind))
	log.Printf("[%s] %s workflow failed (%s): %v", wctx.RunID, j.job, kind, err)

	return &WorkflowResult{
		Success: false,
		Outputs: failedOutputs(wctx.Request, err),
	}, err
}

func (j *imageJob) succeed(wctx *WorkflowContext, start time.Time, out pipeline.JobResult) (*WorkflowResult, error) {
	j.Metrics.ObservePipeline(j.job, time.Since(start))
	log.Printf("[%s] %s workflow completed in %s", wctx.RunID, j.job, time.Since(start).Round(time.Millisecond))

	out.Job = j.job
	out.Filename = wctx.Request.Filename
	return &WorkflowResult{
		Success: true,
		Outputs: out,
	}, nil
}
