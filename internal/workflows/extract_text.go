package workflows

import (
	"context"
	"log"
	"time"

	"github.com/tendant/visual-assistant/pkg/pipeline"
)

// TextExtractor reads printed text from an image
type TextExtractor interface {
	ExtractText(ctx context.Context, imagePath string, preprocess bool, lang string) (string, error)
}

// ExtractTextWorkflow runs OCR on an uploaded image and speaks the text
type ExtractTextWorkflow struct {
	imageJob
	extractor TextExtractor
}

// NewExtractTextWorkflow creates a new OCR workflow
func NewExtractTextWorkflow(deps Deps, extractor TextExtractor) *ExtractTextWorkflow {
	return &ExtractTextWorkflow{
		imageJob:  imageJob{Deps: deps, job: pipeline.JobExtractText, prefix: pipeline.ArtifactPrefixText},
		extractor: extractor,
	}
}

// Name returns the workflow name
func (w *ExtractTextWorkflow) Name() string {
	return "ExtractTextWorkflow"
}

// Execute runs the OCR workflow
func (w *ExtractTextWorkflow) Execute(wctx *WorkflowContext) (*WorkflowResult, error) {
	req := wctx.Request
	log.Printf("[%s] Starting extract_text workflow for filename=%s preprocess=%t lang=%q",
		wctx.RunID, req.Filename, req.PreprocessEnabled(), req.Language)
	start := time.Now()

	// Step 1: Validate the source image
	imagePath, err := w.resolveImage(wctx)
	if err != nil {
		return w.fail(wctx, err)
	}

	// Step 2: Recognize text
	text, err := w.infer(wctx, func(ctx context.Context) (string, error) {
		return w.extractor.ExtractText(ctx, imagePath, req.PreprocessEnabled(), req.Language)
	})
	if err != nil {
		return w.fail(wctx, err)
	}
	log.Printf("[%s] Text extracted (%d chars)", wctx.RunID, len(text))

	// Step 3: Speak it
	audioFile, audioErr := w.speak(wctx, text)

	return w.succeed(wctx, start, pipeline.JobResult{
		Text:       text,
		AudioFile:  audioFile,
		AudioError: audioErr,
	})
}
