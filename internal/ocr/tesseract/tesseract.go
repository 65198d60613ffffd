package tesseract

import (
	"context"
	"fmt"

	"github.com/otiai10/gosseract/v2"
)

// Engine implements ocr.Engine with the gosseract client.
// Each call gets its own client, so concurrent calls do not share state.
type Engine struct {
	clientFactory func() *gosseract.Client
	variables     map[string]string
}

// New constructs a Tesseract-backed OCR engine.
// variables are passed to Tesseract as-is (e.g. "tessedit_pageseg_mode").
func New(variables map[string]string) *Engine {
	return &Engine{clientFactory: gosseract.NewClient, variables: variables}
}

func (e *Engine) Name() string { return "tesseract" }

// Recognize runs Tesseract on an encoded image.
// Recognition itself cannot be interrupted; ctx is checked before it starts.
func (e *Engine) Recognize(ctx context.Context, img []byte, languages ...string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	c := e.clientFactory()
	defer c.Close()

	if err := c.SetImageFromBytes(img); err != nil {
		return "", fmt.Errorf("set image: %w", err)
	}
	if len(languages) > 0 {
		if err := c.SetLanguage(languages...); err != nil {
			return "", fmt.Errorf("set languages: %w", err)
		}
	}
	for k, v := range e.variables {
		if err := c.SetVariable(gosseract.SettableVariable(k), v); err != nil {
			return "", fmt.Errorf("set variable %s: %w", k, err)
		}
	}

	text, err := c.Text()
	if err != nil {
		return "", fmt.Errorf("recognize text: %w", err)
	}
	return text, nil
}
