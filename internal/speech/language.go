package speech

import (
	"strings"

	"github.com/pemistahl/lingua-go"
)

// LanguageDetector guesses the language of a text among a fixed candidate set
type LanguageDetector struct {
	detector lingua.LanguageDetector
}

// NewLanguageDetector builds a detector over the given ISO 639-1 codes.
// Unknown codes are skipped. Returns nil when fewer than two languages
// remain, since there is nothing to choose between.
func NewLanguageDetector(codes []string) *LanguageDetector {
	byCode := make(map[string]lingua.Language)
	for _, lang := range lingua.AllLanguages() {
		byCode[lang.IsoCode639_1().String()] = lang
	}

	var languages []lingua.Language
	seen := make(map[lingua.Language]bool)
	for _, code := range codes {
		lang, ok := byCode[strings.ToUpper(strings.TrimSpace(code))]
		if !ok || seen[lang] {
			continue
		}
		seen[lang] = true
		languages = append(languages, lang)
	}
	if len(languages) < 2 {
		return nil
	}

	return &LanguageDetector{
		detector: lingua.NewLanguageDetectorBuilder().FromLanguages(languages...).Build(),
	}
}

// Detect returns the lower-case ISO 639-1 code of text, or "" when unsure
func (d *LanguageDetector) Detect(text string) string {
	if d == nil || strings.TrimSpace(text) == "" {
		return ""
	}
	lang, ok := d.detector.DetectLanguageOf(text)
	if !ok {
		return ""
	}
	return strings.ToLower(lang.IsoCode639_1().String())
}
