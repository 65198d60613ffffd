package pipeline

import (
	"path/filepath"
	"strings"
	"time"
)

// ProcessRequest represents a request to run one job against an uploaded image
type ProcessRequest struct {
	Filename string `json:"filename"`
	Job      string `json:"job"` // describe, extract_text, answer_question
	Question string `json:"question,omitempty"`
	// Preprocess defaults to true when nil (extract_text only)
	Preprocess *bool  `json:"preprocess,omitempty"`
	Language   string `json:"lang,omitempty"`
}

// PreprocessEnabled reports whether OCR preprocessing should run
func (r ProcessRequest) PreprocessEnabled() bool {
	return r.Preprocess == nil || *r.Preprocess
}

// ProcessResponse represents the response from enqueueing a job
type ProcessResponse struct {
	RunID           string `json:"run_id"`
	DedupeSeenCount int    `json:"dedupe_seen_count"`
}

// JobType constants
const (
	JobDescribe       = "describe"
	JobExtractText    = "extract_text"
	JobAnswerQuestion = "answer_question"
)

// Artifact prefixes, one per job
const (
	ArtifactPrefixDescribe = "desc"
	ArtifactPrefixText     = "text"
	ArtifactPrefixAnswer   = "answer"
)

// ArtifactName returns the audio file name for an operation on an image:
// <prefix>_<image stem>.mp3
func ArtifactName(prefix, imageFilename string) string {
	base := filepath.Base(imageFilename)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return prefix + "_" + stem + ".mp3"
}

// UploadResponse is returned by POST /upload
type UploadResponse struct {
	Filename string `json:"filename"`
	Path     string `json:"path"`
}

// DescribeResponse is returned by POST /describe
type DescribeResponse struct {
	Description string `json:"description"`
	AudioFile   string `json:"audio_file"`
	AudioError  string `json:"audio_error,omitempty"`
}

// ExtractTextResponse is returned by POST /extract-text
type ExtractTextResponse struct {
	Text       string `json:"text"`
	AudioFile  string `json:"audio_file"`
	AudioError string `json:"audio_error,omitempty"`
}

// AnswerResponse is returned by POST /answer-question
type AnswerResponse struct {
	Question   string `json:"question"`
	Answer     string `json:"answer"`
	AudioFile  string `json:"audio_file"`
	AudioError string `json:"audio_error,omitempty"`
}

// ErrorResponse is the body of every non-2xx API response
type ErrorResponse struct {
	Detail string `json:"detail"`
	Kind   string `json:"kind"`
}

// Voice is a speech voice offered by the server
type Voice struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Languages []string `json:"languages,omitempty"`
	Gender    string   `json:"gender,omitempty"`
}

// JobResult is the outcome of one job
type JobResult struct {
	Job        string `json:"job"`
	Filename   string `json:"filename"`
	Text       string `json:"text,omitempty"`
	Question   string `json:"question,omitempty"`
	AudioFile  string `json:"audio_file,omitempty"`
	AudioError string `json:"audio_error,omitempty"`
	Error      string `json:"error,omitempty"`
	ErrorKind  string `json:"error_kind,omitempty"`
}

// Run states reported by GET /v1/runs/{runID}
const (
	RunStateEnqueued  = "enqueued"
	RunStateRunning   = "running"
	RunStateSucceeded = "succeeded"
	RunStateFailed    = "failed"
	RunStateCancelled = "cancelled"
)

// RunStatus is returned by GET /v1/runs/{runID}
type RunStatus struct {
	RunID     string     `json:"run_id"`
	State     string     `json:"state"`
	Workflow  string     `json:"workflow,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	Result    *JobResult `json:"result,omitempty"`

	// DedupeSeenCount is how often the run's job was submitted for its image
	DedupeSeenCount int `json:"dedupe_seen_count,omitempty"`
}
