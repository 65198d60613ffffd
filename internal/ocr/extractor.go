package ocr

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"log"
	"strings"

	"github.com/tendant/visual-assistant/internal/apperr"
	"github.com/tendant/visual-assistant/internal/fileutil"
)

// NoTextDetected is returned in place of an empty recognition result
const NoTextDetected = "No text detected in the image."

// DefaultLanguage is the Tesseract language used when none is configured
const DefaultLanguage = "eng"

// Engine recognizes text in an encoded image
type Engine interface {
	// Name identifies the engine in logs
	Name() string

	// Recognize returns the raw text found in img (PNG bytes)
	Recognize(ctx context.Context, img []byte, languages ...string) (string, error)
}

// Extractor runs the OCR pipeline: load, optional preprocessing, recognition
type Extractor struct {
	engine      Engine
	language    string
	morphKernel int
	maxPixels   int64
}

// Option configures an Extractor
type Option func(*Extractor)

// WithLanguage sets the default recognition language(s), e.g. "eng" or "eng+deu"
func WithLanguage(lang string) Option {
	return func(e *Extractor) {
		if lang != "" {
			e.language = lang
		}
	}
}

// WithMorphKernel sets the opening kernel size used during preprocessing
func WithMorphKernel(size int) Option {
	return func(e *Extractor) {
		if size > 0 {
			e.morphKernel = size
		}
	}
}

// WithMaxPixels rejects images over this many pixels before decoding
func WithMaxPixels(n int64) Option {
	return func(e *Extractor) { e.maxPixels = n }
}

// NewExtractor creates an extractor backed by engine
func NewExtractor(engine Engine, opts ...Option) *Extractor {
	e := &Extractor{
		engine:      engine,
		language:    DefaultLanguage,
		morphKernel: 1,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExtractText recognizes printed text in the image at imagePath.
// An empty lang selects the configured default.
func (e *Extractor) ExtractText(ctx context.Context, imagePath string, preprocess bool, lang string) (string, error) {
	const op = "ocr.ExtractText"

	img, err := fileutil.LoadImage(imagePath, e.maxPixels)
	if err != nil {
		return "", apperr.Wrap(apperr.KindInvalidInput, op, "error extracting text", err)
	}

	var src image.Image = img
	if preprocess {
		src = Preprocess(img, e.morphKernel)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, src); err != nil {
		return "", apperr.Wrap(apperr.KindInternal, op, "error extracting text", err)
	}

	if lang == "" {
		lang = e.language
	}
	text, err := e.engine.Recognize(ctx, buf.Bytes(), SplitLanguages(lang)...)
	if err != nil {
		return "", apperr.Wrap(apperr.KindEngineFailure, op, "error extracting text", err)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		log.Printf("%s: %s found no text in %s", op, e.engine.Name(), fileutil.StemOf(imagePath))
		return NoTextDetected, nil
	}
	return text, nil
}

// SplitLanguages splits "eng+deu" or "eng,deu" into separate language codes
func SplitLanguages(lang string) []string {
	fields := strings.FieldsFunc(lang, func(r rune) bool {
		return r == '+' || r == ',' || r == ' '
	})
	if len(fields) == 0 {
		return []string{DefaultLanguage}
	}
	return fields
}
