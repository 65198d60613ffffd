package vision

import (
	"context"
	"fmt"
	"strings"

	"github.com/tendant/visual-assistant/internal/apperr"
)

// DescribePrompt is sent with every description request
const DescribePrompt = "Describe this image in detail for a blind person: "

// CouldNotProcessImage is the message used when the image cannot be prepared for the model
const CouldNotProcessImage = "Could not process the image."

// QuestionPrompt builds the prompt for a free-form question
func QuestionPrompt(question string) string {
	return fmt.Sprintf("Based on the image, answer this question: %s\nAnswer: ", question)
}

// Describer produces a natural-language description of an image
type Describer struct {
	model Model
	opts  Options
}

// NewDescriber creates a describer backed by model
func NewDescriber(model Model, opts Options) *Describer {
	return &Describer{model: model, opts: opts}
}

// GenerateDescription describes the image at imagePath
func (d *Describer) GenerateDescription(ctx context.Context, imagePath string) (string, error) {
	const op = "vision.GenerateDescription"

	img, mime, err := EncodeForModel(imagePath, d.opts.MaxEdge, d.opts.MaxPixels)
	if err != nil {
		return "", apperr.Wrap(apperr.KindInvalidInput, op, "could not process the image", err)
	}

	out, err := d.model.Generate(ctx, Request{
		Prompt:      DescribePrompt,
		Image:       img,
		ImageMIME:   mime,
		MaxTokens:   d.opts.MaxTokens,
		Temperature: d.opts.Temperature,
	})
	if err != nil {
		return "", apperr.Wrap(apperr.KindEngineFailure, op, "error generating description", err)
	}

	return StripPromptEcho(out, DescribePrompt), nil
}

// Answerer answers free-form questions about an image
type Answerer struct {
	model Model
	opts  Options
}

// NewAnswerer creates an answerer backed by model
func NewAnswerer(model Model, opts Options) *Answerer {
	return &Answerer{model: model, opts: opts}
}

// AnswerQuestion answers question about the image at imagePath
func (a *Answerer) AnswerQuestion(ctx context.Context, imagePath, question string) (string, error) {
	const op = "vision.AnswerQuestion"

	question = strings.TrimSpace(question)
	if question == "" {
		return "", apperr.InvalidInput(op, "question is required")
	}

	img, mime, err := EncodeForModel(imagePath, a.opts.MaxEdge, a.opts.MaxPixels)
	if err != nil {
		return "", apperr.Wrap(apperr.KindInvalidInput, op, CouldNotProcessImage, err)
	}

	prompt := QuestionPrompt(question)
	out, err := a.model.Generate(ctx, Request{
		Prompt:      prompt,
		Image:       img,
		ImageMIME:   mime,
		MaxTokens:   a.opts.MaxTokens,
		Temperature: a.opts.Temperature,
	})
	if err != nil {
		return "", apperr.Wrap(apperr.KindEngineFailure, op, "error answering question", err)
	}

	return StripPromptEcho(out, prompt), nil
}

// StripPromptEcho removes a repeated prompt from model output and trims it
func StripPromptEcho(out, prompt string) string {
	out = strings.ReplaceAll(out, prompt, "")
	if trimmed := strings.TrimSpace(prompt); trimmed != "" {
		out = strings.ReplaceAll(out, trimmed, "")
	}
	return strings.TrimSpace(out)
}
