package speech

import "context"

// Utterance is a single piece of text to render as audio
type Utterance struct {
	Text string
	// Language is an ISO 639-1 code, empty when unknown
	Language string
	Voice    string
	Rate     float64
}

// Voice describes a voice offered by a synthesizer
type Voice struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Languages []string `json:"languages,omitempty"`
	Gender    string   `json:"gender,omitempty"`
}

// Synthesizer renders text to MP3 audio
type Synthesizer interface {
	Name() string
	Synthesize(ctx context.Context, u Utterance) ([]byte, error)
	Voices(ctx context.Context) ([]Voice, error)
}
