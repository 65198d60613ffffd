package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the complete service configuration. Values come from an optional
// YAML file first, then environment variables override them.
type Config struct {
	HTTP struct {
		Addr           string `yaml:"addr"`
		MaxUploadBytes int64  `yaml:"max_upload_bytes"`
		MaxImagePixels int64  `yaml:"max_image_pixels"`
	} `yaml:"http"`

	Storage struct {
		UploadDir string `yaml:"upload_dir"`
		AudioDir  string `yaml:"audio_dir"`
	} `yaml:"storage"`

	OCR struct {
		Language    string `yaml:"language"`
		MorphKernel int    `yaml:"morph_kernel"`
	} `yaml:"ocr"`

	Vision struct {
		APIKey      string  `yaml:"api_key"`
		Model       string  `yaml:"model"`
		BaseURL     string  `yaml:"base_url"`
		MaxTokens   int     `yaml:"max_tokens"`
		Temperature float32 `yaml:"temperature"`
		MaxEdge     int     `yaml:"max_edge"`
	} `yaml:"vision"`

	Speech struct {
		Engine    string   `yaml:"engine"`
		Model     string   `yaml:"model"`
		BaseURL   string   `yaml:"base_url"`
		Voice     string   `yaml:"voice"`
		Rate      float64  `yaml:"rate"`
		Languages []string `yaml:"languages"`
		Player    string   `yaml:"player"`
	} `yaml:"speech"`

	Inference struct {
		Concurrency  int           `yaml:"concurrency"`
		QueueTimeout time.Duration `yaml:"queue_timeout"`
	} `yaml:"inference"`

	DBOS struct {
		DatabaseURL        string `yaml:"database_url"`
		QueueName          string `yaml:"queue_name"`
		ApplicationVersion string `yaml:"application_version"`
		Concurrency        int    `yaml:"concurrency"`
	} `yaml:"dbos"`
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	cfg := &Config{}
	cfg.HTTP.Addr = ":8000"
	cfg.HTTP.MaxUploadBytes = 20 << 20
	cfg.HTTP.MaxImagePixels = 50_000_000
	cfg.Storage.UploadDir = "./uploads"
	cfg.Storage.AudioDir = "./audio_outputs"
	cfg.OCR.Language = "eng"
	cfg.OCR.MorphKernel = 1
	cfg.Vision.Model = "gpt-4o-mini"
	cfg.Vision.MaxTokens = 150
	cfg.Vision.Temperature = 0.7
	cfg.Vision.MaxEdge = 1024
	cfg.Speech.Engine = "openai"
	cfg.Speech.Model = "tts-1"
	cfg.Speech.Voice = "alloy"
	cfg.Speech.Rate = 1.0
	cfg.Speech.Languages = []string{"en", "fr", "de", "es", "it", "pt"}
	cfg.Speech.Player = "ffplay -nodisp -autoexit"
	cfg.Inference.Concurrency = 2
	cfg.Inference.QueueTimeout = 30 * time.Second
	cfg.DBOS.QueueName = "default"
	cfg.DBOS.Concurrency = 4
	return cfg
}

// Load reads .env (if present), the YAML file named by CONFIG_PATH or
// ./config.yaml (if present), then applies environment overrides.
func Load() (*Config, error) {
	// Missing .env is fine
	_ = godotenv.Load()

	cfg := Default()

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	absPath, _ := filepath.Abs(path)
	log.Printf("Loading config from %s", absPath)

	if err := yaml.NewDecoder(f).Decode(c); err != nil {
		return fmt.Errorf("failed to decode config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	setString(&c.HTTP.Addr, "VA_HTTP_ADDR")
	setString(&c.Storage.UploadDir, "VA_UPLOAD_DIR")
	setString(&c.Storage.AudioDir, "VA_AUDIO_DIR")
	setString(&c.OCR.Language, "VA_OCR_LANG")
	setString(&c.Vision.APIKey, "OPENAI_API_KEY")
	setString(&c.Vision.Model, "VA_VISION_MODEL")
	setString(&c.Vision.BaseURL, "VA_VISION_BASE_URL")
	setString(&c.Speech.Engine, "VA_SPEECH_ENGINE")
	setString(&c.Speech.Model, "VA_SPEECH_MODEL")
	setString(&c.Speech.BaseURL, "VA_SPEECH_BASE_URL")
	setString(&c.Speech.Voice, "VA_SPEECH_VOICE")
	setString(&c.Speech.Player, "VA_SPEECH_PLAYER")
	setString(&c.DBOS.DatabaseURL, "DBOS_SYSTEM_DATABASE_URL")
	setString(&c.DBOS.QueueName, "DBOS_QUEUE_NAME")
	setString(&c.DBOS.ApplicationVersion, "DBOS_APPLICATION_VERSION")

	if v := os.Getenv("VA_SPEECH_LANGUAGES"); v != "" {
		c.Speech.Languages = splitList(v)
	}

	int64s := []struct {
		key string
		dst *int64
	}{
		{"VA_MAX_UPLOAD_BYTES", &c.HTTP.MaxUploadBytes},
		{"VA_MAX_IMAGE_PIXELS", &c.HTTP.MaxImagePixels},
	}
	for _, e := range int64s {
		if v := os.Getenv(e.key); v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid %s %q: %w", e.key, v, err)
			}
			*e.dst = n
		}
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"VA_OCR_MORPH_KERNEL", &c.OCR.MorphKernel},
		{"VA_VISION_MAX_TOKENS", &c.Vision.MaxTokens},
		{"VA_VISION_MAX_EDGE", &c.Vision.MaxEdge},
		{"VA_INFERENCE_CONCURRENCY", &c.Inference.Concurrency},
		{"DBOS_CONCURRENCY", &c.DBOS.Concurrency},
	}
	for _, e := range ints {
		if v := os.Getenv(e.key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid %s %q: %w", e.key, v, err)
			}
			*e.dst = n
		}
	}

	if v := os.Getenv("VA_VISION_TEMPERATURE"); v != "" {
		f, err := strconv.ParseFloat(v, 32)
		if err != nil {
			return fmt.Errorf("invalid VA_VISION_TEMPERATURE %q: %w", v, err)
		}
		c.Vision.Temperature = float32(f)
	}
	if v := os.Getenv("VA_SPEECH_RATE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid VA_SPEECH_RATE %q: %w", v, err)
		}
		c.Speech.Rate = f
	}
	if v := os.Getenv("VA_INFERENCE_QUEUE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid VA_INFERENCE_QUEUE_TIMEOUT %q: %w", v, err)
		}
		c.Inference.QueueTimeout = d
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
