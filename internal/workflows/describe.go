package workflows

import (
	"context"
	"log"
	"time"

	"github.com/tendant/visual-assistant/pkg/pipeline"
)

// Describer produces a description of an image
type Describer interface {
	GenerateDescription(ctx context.Context, imagePath string) (string, error)
}

// DescribeWorkflow describes an uploaded image and speaks the description
type DescribeWorkflow struct {
	imageJob
	describer Describer
}

// NewDescribeWorkflow creates a new describe workflow
func NewDescribeWorkflow(deps Deps, describer Describer) *DescribeWorkflow {
	return &DescribeWorkflow{
		imageJob:  imageJob{Deps: deps, job: pipeline.JobDescribe, prefix: pipeline.ArtifactPrefixDescribe},
		describer: describer,
	}
}

// Name returns the workflow name
func (w *DescribeWorkflow) Name() string {
	return "DescribeWorkflow"
}

// Execute runs the describe workflow
func (w *DescribeWorkflow) Execute(wctx *WorkflowContext) (*WorkflowResult, error) {
	log.Printf("[%s] Starting describe workflow for filename=%s", wctx.RunID, wctx.Request.Filename)
	start := time.Now()

	// Step 1: Validate the source image
	imagePath, err := w.resolveImage(wctx)
	if err != nil {
		return w.fail(wctx, err)
	}

	// Step 2: Generate the description
	description, err := w.infer(wctx, func(ctx context.Context) (string, error) {
		return w.describer.GenerateDescription(ctx, imagePath)
	})
	if err != nil {
		return w.fail(wctx, err)
	}
	log.Printf("[%s] Description generated (%d chars)", wctx.RunID, len(description))

	// Step 3: Speak it
	audioFile, audioErr := w.speak(wctx, description)

	return w.succeed(wctx, start, pipeline.JobResult{
		Text:       description,
		AudioFile:  audioFile,
		AudioError: audioErr,
	})
}
