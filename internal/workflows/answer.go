package workflows

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/tendant/visual-assistant/internal/apperr"
	"github.com/tendant/visual-assistant/pkg/pipeline"
)

// QuestionAnswerer answers a question about an image
type QuestionAnswerer interface {
	AnswerQuestion(ctx context.Context, imagePath, question string) (string, error)
}

// AnswerWorkflow answers a question about an uploaded image and speaks the answer
type AnswerWorkflow struct {
	imageJob
	answerer QuestionAnswerer
}

// NewAnswerWorkflow creates a new question answering workflow
func NewAnswerWorkflow(deps Deps, answerer QuestionAnswerer) *AnswerWorkflow {
	return &AnswerWorkflow{
		imageJob: imageJob{Deps: deps, job: pipeline.JobAnswerQuestion, prefix: pipeline.ArtifactPrefixAnswer},
		answerer: answerer,
	}
}

// Name returns the workflow name
func (w *AnswerWorkflow) Name() string {
	return "AnswerWorkflow"
}

// Execute runs the question answering workflow
func (w *AnswerWorkflow) Execute(wctx *WorkflowContext) (*WorkflowResult, error) {
	question := strings.TrimSpace(wctx.Request.Question)
	log.Printf("[%s] Starting answer_question workflow for filename=%s", wctx.RunID, wctx.Request.Filename)
	start := time.Now()

	// Step 1: Validate the source image, then the question
	imagePath, err := w.resolveImage(wctx)
	if err != nil {
		return w.fail(wctx, err)
	}
	if question == "" {
		return w.fail(wctx, apperr.Wrap(apperr.KindInvalidInput, "answer_question.validate", "question is required", ErrInvalidRequest))
	}

	// Step 2: Answer
	answer, err := w.infer(wctx, func(ctx context.Context) (string, error) {
		return w.answerer.AnswerQuestion(ctx, imagePath, question)
	})
	if err != nil {
		return w.fail(wctx, err)
	}
	log.Printf("[%s] Answer generated (%d chars)", wctx.RunID, len(answer))

	// Step 3: Speak it
	audioFile, audioErr := w.speak(wctx, answer)

	return w.succeed(wctx, start, pipeline.JobResult{
		Text:       answer,
		Question:   question,
		AudioFile:  audioFile,
		AudioError: audioErr,
	})
}
