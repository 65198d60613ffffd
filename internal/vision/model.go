package vision

import "context"

// Request is one multimodal generation call: a text prompt conditioned on an image
type Request struct {
	Prompt      string
	Image       []byte
	ImageMIME   string
	MaxTokens   int
	Temperature float32
}

// Model generates text from a prompt and an image
type Model interface {
	// Name identifies the model in logs
	Name() string

	// Generate returns the model's completion for req
	Generate(ctx context.Context, req Request) (string, error)
}

// Options bounds generation and image size
type Options struct {
	// MaxTokens caps the completion length
	MaxTokens int

	// Temperature is the sampling temperature
	Temperature float32

	// MaxEdge downsizes images whose longer side exceeds it; 0 keeps the original size
	MaxEdge int

	// MaxPixels rejects images over this many pixels before decoding; 0 uses the fileutil default
	MaxPixels int64
}

// DefaultOptions returns the generation settings used when nothing is configured
func DefaultOptions() Options {
	return Options{
		MaxTokens:   150,
		Temperature: 0.7,
		MaxEdge:     1024,
	}
}
