package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/tendant/visual-assistant/pkg/pipeline"
)

// APIError is a non-2xx response from the server
type APIError struct {
	StatusCode int
	Detail     string
	Kind       string
}

func (e *APIError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("unexpected status %d (%s): %s", e.StatusCode, e.Kind, e.Detail)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Detail)
}

// Client is an HTTP client for the visual assistant API
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a new client. Engine calls can take a while, so the timeout
// is generous.
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 2 * time.Minute,
		},
	}
}

// NewWithHTTPClient creates a new client with a custom HTTP client
func NewWithHTTPClient(baseURL string, httpClient *http.Client) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

// Upload sends an image and returns the name the server stored it under.
// contentType must start with "image/".
func (c *Client) Upload(ctx context.Context, name, contentType string, r io.Reader) (*pipeline.UploadResponse, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filepath.Base(name)))
	hdr.Set("Content-Type", contentType)
	part, err := mw.CreatePart(hdr)
	if err != nil {
		return nil, fmt.Errorf("failed to create form part: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish form: %w", err)
	}

	var out pipeline.UploadResponse
	if err := c.do(ctx, http.MethodPost, "/upload", mw.FormDataContentType(), &body, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Describe asks for a description of an uploaded image
func (c *Client) Describe(ctx context.Context, filename string) (*pipeline.DescribeResponse, error) {
	var out pipeline.DescribeResponse
	err := c.postForm(ctx, "/describe", url.Values{"filename": {filename}}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ExtractText runs OCR on an uploaded image. lang may be empty.
func (c *Client) ExtractText(ctx context.Context, filename string, preprocess bool, lang string) (*pipeline.ExtractTextResponse, error) {
	form := url.Values{
		"filename":   {filename},
		"preprocess": {strconv.FormatBool(preprocess)},
	}
	if lang != "" {
		form.Set("lang", lang)
	}

	var out pipeline.ExtractTextResponse
	if err := c.postForm(ctx, "/extract-text", form, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AnswerQuestion asks a question about an uploaded image
func (c *Client) AnswerQuestion(ctx context.Context, filename, question string) (*pipeline.AnswerResponse, error) {
	var out pipeline.AnswerResponse
	err := c.postForm(ctx, "/answer-question", url.Values{"filename": {filename}, "question": {question}}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// DownloadAudio copies an audio artifact into w
func (c *Client) DownloadAudio(ctx context.Context, audioFile string, w io.Writer) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/audio/"+url.PathEscape(audioFile), nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, decodeAPIError(resp)
	}
	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("failed to read audio: %w", err)
	}
	return n, nil
}

// Voices lists the voices offered by the server's speech engine
func (c *Client) Voices(ctx context.Context) ([]pipeline.Voice, error) {
	var out []pipeline.Voice
	if err := c.do(ctx, http.MethodGet, "/voices", "", nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Process enqueues a job for asynchronous execution
func (c *Client) Process(ctx context.Context, req pipeline.ProcessRequest) (*pipeline.ProcessResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var out pipeline.ProcessResponse
	if err := c.do(ctx, http.MethodPost, "/v1/process", "application/json", bytes.NewReader(body), http.StatusAccepted, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RunStatus reports the state of an async run and its result once finished
func (c *Client) RunStatus(ctx context.Context, runID string) (*pipeline.RunStatus, error) {
	var out pipeline.RunStatus
	if err := c.do(ctx, http.MethodGet, "/v1/runs/"+url.PathEscape(runID), "", nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// WaitForRun polls RunStatus until the run leaves the enqueued and running states
func (c *Client) WaitForRun(ctx context.Context, runID string, interval time.Duration) (*pipeline.RunStatus, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		status, err := c.RunStatus(ctx, runID)
		if err != nil {
			return nil, err
		}
		if status.State != pipeline.RunStateEnqueued && status.State != pipeline.RunStateRunning {
			return status, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) postForm(ctx context.Context, path string, form url.Values, out interface{}) error {
	return c.do(ctx, http.MethodPost, path, "application/x-www-form-urlencoded",
		strings.NewReader(form.Encode()), http.StatusOK, out)
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader, want int, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		return decodeAPIError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	bodyBytes, _ := io.ReadAll(resp.Body)
	apiErr := &APIError{StatusCode: resp.StatusCode}

	var e pipeline.ErrorResponse
	if err := json.Unmarshal(bodyBytes, &e); err == nil && e.Detail != "" {
		apiErr.Detail = e.Detail
		apiErr.Kind = e.Kind
	} else {
		apiErr.Detail = strings.TrimSpace(string(bodyBytes))
	}
	return apiErr
}
