package speech

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/tendant/visual-assistant/internal/apperr"
)

// ErrEmptyText is returned for empty or whitespace-only input
var ErrEmptyText = errors.New("text is empty")

// Service turns pipeline output into audio
type Service struct {
	synth    Synthesizer
	detector *LanguageDetector
	voice    string
	rate     float64
	player   []string
	playing  sync.WaitGroup
}

// Option configures a Service
type Option func(*Service)

// WithVoice sets the voice passed to the synthesizer
func WithVoice(voice string) Option {
	return func(s *Service) { s.voice = voice }
}

// WithRate sets the speaking rate, 1.0 is normal speed
func WithRate(rate float64) Option {
	return func(s *Service) {
		if rate > 0 {
			s.rate = rate
		}
	}
}

// WithLanguageDetector enables per-utterance language detection
func WithLanguageDetector(d *LanguageDetector) Option {
	return func(s *Service) { s.detector = d }
}

// WithPlayer sets the command used by SpeakText, e.g. "ffplay -nodisp -autoexit".
// The audio path is appended as the last argument.
func WithPlayer(command string) Option {
	return func(s *Service) { s.player = strings.Fields(command) }
}

// NewService creates a speech service around synth
func NewService(synth Synthesizer, opts ...Option) *Service {
	s := &Service{synth: synth, rate: 1.0}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EngineName reports the active synthesizer
func (s *Service) EngineName() string {
	return s.synth.Name()
}

func (s *Service) utterance(text string) Utterance {
	return Utterance{
		Text:     text,
		Language: s.detector.Detect(text),
		Voice:    s.voice,
		Rate:     s.rate,
	}
}

// SaveToFile synthesizes text and writes the MP3 to outputPath, replacing any
// previous file. It returns the absolute path of the written file.
func (s *Service) SaveToFile(ctx context.Context, text, outputPath string) (string, error) {
	const op = "speech.SaveToFile"

	text = strings.TrimSpace(text)
	if text == "" {
		return "", apperr.Wrap(apperr.KindInvalidInput, op, "no text to speak", ErrEmptyText)
	}

	absPath, err := filepath.Abs(outputPath)
	if err != nil {
		return "", apperr.Wrap(apperr.KindInternal, op, "invalid output path", err)
	}

	audio, err := s.synth.Synthesize(ctx, s.utterance(text))
	if err != nil {
		return "", apperr.Wrap(apperr.KindEngineFailure, op, "error synthesizing speech", err)
	}
	if len(audio) == 0 {
		return "", apperr.New(apperr.KindEngineFailure, op, "synthesizer returned no audio")
	}

	if err := writeFileAtomic(absPath, audio); err != nil {
		return "", apperr.Wrap(apperr.KindInternal, op, "error saving audio", err)
	}
	return absPath, nil
}

// SpeakText synthesizes text and plays it in the background. It returns
// false if there is nothing to play or synthesis fails.
func (s *Service) SpeakText(ctx context.Context, text string) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}
	if len(s.player) == 0 {
		log.Printf("speech: no player configured")
		return false
	}

	tmp, err := os.CreateTemp("", "speak-*.mp3")
	if err != nil {
		log.Printf("speech: failed to create temp file: %v", err)
		return false
	}
	tmp.Close()

	path, err := s.SaveToFile(ctx, text, tmp.Name())
	if err != nil {
		os.Remove(tmp.Name())
		log.Printf("speech: %v", err)
		return false
	}

	args := append(append([]string{}, s.player[1:]...), path)
	cmd := exec.Command(s.player[0], args...)
	if err := cmd.Start(); err != nil {
		os.Remove(path)
		log.Printf("speech: failed to start player %s: %v", s.player[0], err)
		return false
	}

	s.playing.Add(1)
	go func() {
		defer s.playing.Done()
		defer os.Remove(path)
		if err := cmd.Wait(); err != nil {
			log.Printf("speech: player exited: %v", err)
		}
	}()
	return true
}

// WaitForPlayback blocks until every player started by SpeakText has exited
func (s *Service) WaitForPlayback() {
	s.playing.Wait()
}

// ListVoices returns the voices offered by the active synthesizer
func (s *Service) ListVoices(ctx context.Context) ([]Voice, error) {
	voices, err := s.synth.Voices(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindEngineFailure, "speech.ListVoices", "error listing voices", err)
	}
	return voices, nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write audio: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to chmod audio: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to move audio into place: %w", err)
	}
	return nil
}
