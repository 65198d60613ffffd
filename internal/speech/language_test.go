package speech

import (
	"context"
	"path/filepath"
	"testing"
)

func TestLanguageDetector(t *testing.T) {
	d := NewLanguageDetector([]string{"en", "fr", "de", "es"})
	if d == nil {
		t.Fatal("NewLanguageDetector() = nil")
	}

	cases := []struct{ text, want string }{
		{"The kitchen table is covered with fresh vegetables and a large bowl of soup.", "en"},
		{"La table de la cuisine est couverte de légumes frais et d'un grand bol.", "fr"},
		{"Der Küchentisch ist mit frischem Gemüse und einer großen Schüssel bedeckt.", "de"},
		{"La mesa de la cocina está cubierta de verduras frescas y un gran tazón.", "es"},
	}
	for _, c := range cases {
		if got := d.Detect(c.text); got != c.want {
			t.Errorf("Detect(%q) = %q, want %q", c.text, got, c.want)
		}
	}
	if got := d.Detect("   "); got != "" {
		t.Errorf("Detect(blank) = %q, want empty", got)
	}
}

func TestLanguageDetectorNeedsTwoLanguages(t *testing.T) {
	for _, codes := range [][]string{nil, {"en"}, {"en", "EN"}, {"en", "zz"}} {
		if d := NewLanguageDetector(codes); d != nil {
			t.Errorf("NewLanguageDetector(%v) != nil", codes)
		}
	}

	var d *LanguageDetector
	if got := d.Detect("hello there"); got != "" {
		t.Errorf("nil detector Detect() = %q", got)
	}
}

func TestServiceUsesDetectedLanguage(t *testing.T) {
	var lang string
	synth := &MockSynthesizer{SynthesizeFunc: func(ctx context.Context, u Utterance) ([]byte, error) {
		lang = u.Language
		return fakeMP3, nil
	}}
	svc := NewService(synth, WithLanguageDetector(NewLanguageDetector([]string{"en", "fr"})))

	if _, err := svc.SaveToFile(context.Background(), "Bonjour, je suis très content de vous voir aujourd'hui.", filepath.Join(t.TempDir(), "fr.mp3")); err != nil {
		t.Fatal(err)
	}
	if lang != "fr" {
		t.Errorf("language = %q, want fr", lang)
	}
}

func TestLocaleFor(t *testing.T) {
	cases := map[string]string{
		"en":    "en-US",
		"FR":    "fr-FR",
		"pt":    "pt-BR",
		"en-GB": "en-GB",
		"sv":    "sv",
	}
	for in, want := range cases {
		if got := LocaleFor(in); got != want {
			t.Errorf("LocaleFor(%q) = %q, want %q", in, got, want)
		}
	}
}
