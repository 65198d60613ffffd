package speech

import (
	"context"
	"fmt"
	"strings"

	texttospeech "cloud.google.com/go/texttospeech/apiv1"
	"cloud.google.com/go/texttospeech/apiv1/texttospeechpb"
)

// regional defaults for ISO 639-1 codes lingua reports
var googleLocales = map[string]string{
	"en": "en-US",
	"fr": "fr-FR",
	"de": "de-DE",
	"es": "es-ES",
	"it": "it-IT",
	"pt": "pt-BR",
	"nl": "nl-NL",
	"ja": "ja-JP",
}

// GoogleSynthesizer uses Google Cloud Text-to-Speech. Credentials come from
// the environment (GOOGLE_APPLICATION_CREDENTIALS or workload identity).
type GoogleSynthesizer struct {
	client *texttospeech.Client
	// fallback language when the utterance has none
	language string
}

// NewGoogleSynthesizer dials the Text-to-Speech API
func NewGoogleSynthesizer(ctx context.Context, defaultLanguage string) (*GoogleSynthesizer, error) {
	client, err := texttospeech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create text-to-speech client: %w", err)
	}
	if defaultLanguage == "" {
		defaultLanguage = "en"
	}
	return &GoogleSynthesizer{client: client, language: defaultLanguage}, nil
}

func (s *GoogleSynthesizer) Name() string { return "google" }

// Close releases the underlying gRPC connection
func (s *GoogleSynthesizer) Close() error {
	return s.client.Close()
}

// Synthesize implements Synthesizer
func (s *GoogleSynthesizer) Synthesize(ctx context.Context, u Utterance) ([]byte, error) {
	lang := u.Language
	if lang == "" {
		lang = s.language
	}

	voice := &texttospeechpb.VoiceSelectionParams{
		LanguageCode: LocaleFor(lang),
		SsmlGender:   texttospeechpb.SsmlVoiceGender_NEUTRAL,
	}
	// voice names carry their locale, so the language must follow the voice
	if u.Voice != "" && strings.Count(u.Voice, "-") >= 2 {
		voice.Name = u.Voice
		parts := strings.SplitN(u.Voice, "-", 3)
		voice.LanguageCode = parts[0] + "-" + parts[1]
	}

	rate := u.Rate
	if rate <= 0 {
		rate = 1.0
	}

	resp, err := s.client.SynthesizeSpeech(ctx, &texttospeechpb.SynthesizeSpeechRequest{
		Input: &texttospeechpb.SynthesisInput{
			InputSource: &texttospeechpb.SynthesisInput_Text{Text: u.Text},
		},
		Voice: voice,
		AudioConfig: &texttospeechpb.AudioConfig{
			AudioEncoding: texttospeechpb.AudioEncoding_MP3,
			SpeakingRate:  rate,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("synthesize speech: %w", err)
	}
	return resp.GetAudioContent(), nil
}

// Voices lists every voice the API offers
func (s *GoogleSynthesizer) Voices(ctx context.Context) ([]Voice, error) {
	resp, err := s.client.ListVoices(ctx, &texttospeechpb.ListVoicesRequest{})
	if err != nil {
		return nil, fmt.Errorf("list voices: %w", err)
	}

	voices := make([]Voice, 0, len(resp.GetVoices()))
	for _, v := range resp.GetVoices() {
		voices = append(voices, Voice{
			ID:        v.GetName(),
			Name:      v.GetName(),
			Languages: v.GetLanguageCodes(),
			Gender:    strings.ToLower(v.GetSsmlGender().String()),
		})
	}
	return voices, nil
}

// LocaleFor maps an ISO 639-1 code to a BCP-47 locale. Codes that already
// carry a region pass through unchanged.
func LocaleFor(lang string) string {
	lang = strings.TrimSpace(lang)
	if strings.Contains(lang, "-") {
		return lang
	}
	if locale, ok := googleLocales[strings.ToLower(lang)]; ok {
		return locale
	}
	return strings.ToLower(lang)
}
