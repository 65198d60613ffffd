package handlers

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/tendant/visual-assistant/internal/metrics"
	"github.com/tendant/visual-assistant/internal/speech"
	"github.com/tendant/visual-assistant/internal/storage"
	"github.com/tendant/visual-assistant/internal/workerpool"
	"github.com/tendant/visual-assistant/internal/workflows"
	"github.com/tendant/visual-assistant/pkg/pipeline"
)

type MockDescriber struct {
	GenerateDescriptionFunc func(ctx context.Context, imagePath string) (string, error)
}

func (m *MockDescriber) GenerateDescription(ctx context.Context, imagePath string) (string, error) {
	return m.GenerateDescriptionFunc(ctx, imagePath)
}

type MockExtractor struct {
	ExtractTextFunc func(ctx context.Context, imagePath string, preprocess bool, lang string) (string, error)
}

func (m *MockExtractor) ExtractText(ctx context.Context, imagePath string, preprocess bool, lang string) (string, error) {
	return m.ExtractTextFunc(ctx, imagePath, preprocess, lang)
}

type MockAnswerer struct {
	AnswerQuestionFunc func(ctx context.Context, imagePath, question string) (string, error)
}

func (m *MockAnswerer) AnswerQuestion(ctx context.Context, imagePath, question string) (string, error) {
	return m.AnswerQuestionFunc(ctx, imagePath, question)
}

type MockSpeech struct {
	SaveToFileFunc func(ctx context.Context, text, outputPath string) (string, error)
	ListVoicesFunc func(ctx context.Context) ([]speech.Voice, error)
}

func (m *MockSpeech) SaveToFile(ctx context.Context, text, outputPath string) (string, error) {
	return m.SaveToFileFunc(ctx, text, outputPath)
}

func (m *MockSpeech) ListVoices(ctx context.Context) ([]speech.Voice, error) {
	return m.ListVoicesFunc(ctx)
}

type testServer struct {
	*httptest.Server
	uploads *storage.FilesystemStorage
	audio   *storage.FilesystemStorage
	pool    *workerpool.Pool

	lastPreprocess bool
	lastLang       string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	uploads, err := storage.NewFilesystemStorage(filepath.Join(t.TempDir(), "uploads"))
	if err != nil {
		t.Fatal(err)
	}
	audio, err := storage.NewFilesystemStorage(filepath.Join(t.TempDir(), "audio"))
	if err != nil {
		t.Fatal(err)
	}

	ts := &testServer{uploads: uploads, audio: audio}
	m := metrics.New()
	ts.pool = workerpool.New(1, 0, m)

	sp := &MockSpeech{
		SaveToFileFunc: func(ctx context.Context, text, outputPath string) (string, error) {
			return outputPath, os.WriteFile(outputPath, []byte("ID3 "+text), 0644)
		},
		ListVoicesFunc: func(ctx context.Context) ([]speech.Voice, error) {
			return []speech.Voice{{ID: "alloy", Name: "alloy"}, {ID: "nova", Name: "nova"}}, nil
		},
	}
	deps := workflows.Deps{Uploads: uploads, Audio: audio, Pool: ts.pool, Speech: sp, Metrics: m}

	runner := workflows.NewWorkflowRunner(nil, nil)
	runner.Register(pipeline.JobDescribe, workflows.NewDescribeWorkflow(deps, &MockDescriber{
		GenerateDescriptionFunc: func(ctx context.Context, p string) (string, error) {
			return "A black dot on white paper.", nil
		},
	}))
	runner.Register(pipeline.JobExtractText, workflows.NewExtractTextWorkflow(deps, &MockExtractor{
		ExtractTextFunc: func(ctx context.Context, p string, preprocess bool, lang string) (string, error) {
			ts.lastPreprocess, ts.lastLang = preprocess, lang
			return "STOP", nil
		},
	}))
	runner.Register(pipeline.JobAnswerQuestion, workflows.NewAnswerWorkflow(deps, &MockAnswerer{
		AnswerQuestionFunc: func(ctx context.Context, p, q string) (string, error) {
			return "One dot.", nil
		},
	}))

	ts.Server = httptest.NewServer(NewRouter(Options{
		Uploads:        uploads,
		Audio:          audio,
		Runner:         runner,
		Voices:         sp,
		Metrics:        m,
		MaxUploadBytes: 1 << 20,
	}))
	t.Cleanup(ts.Close)
	return ts
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 8, 8))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	img.SetGray(4, 4, color.Gray{Y: 0})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// hugePNGBytes returns a tiny PNG whose header declares width x height
func hugePNGBytes(t *testing.T, width, height uint32) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, 1, 1))); err != nil {
		t.Fatal(err)
	}
	data := buf.Bytes()
	binary.BigEndian.PutUint32(data[16:], width)
	binary.BigEndian.PutUint32(data[20:], height)
	binary.BigEndian.PutUint32(data[29:], crc32.ChecksumIEEE(data[12:29]))
	return data
}

func (ts *testServer) upload(t *testing.T, name, contentType string, data []byte) *http.Response {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	hdr := make(textproto.MIMEHeader)
	quoted := strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(name)
	hdr.Set("Content-Disposition", `form-data; name="file"; filename="`+quoted+`"`)
	hdr.Set("Content-Type", contentType)
	part, err := mw.CreatePart(hdr)
	if err != nil {
		t.Fatal(err)
	}
	part.Write(data)
	mw.Close()

	resp, err := http.Post(ts.URL+"/upload", mw.FormDataContentType(), &body)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func (ts *testServer) uploadImage(t *testing.T) string {
	t.Helper()
	resp := ts.upload(t, "Photo.PNG", "image/png", pngBytes(t))
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("upload status = %d", resp.StatusCode)
	}
	var up pipeline.UploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&up); err != nil {
		t.Fatal(err)
	}
	return up.Filename
}

func postForm(t *testing.T, u string, form url.Values) *http.Response {
	t.Helper()
	resp, err := http.PostForm(u, form)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func decodeError(t *testing.T, resp *http.Response) pipeline.ErrorResponse {
	t.Helper()
	defer resp.Body.Close()
	var e pipeline.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&e); err != nil {
		t.Fatalf("error body is not JSON: %v", err)
	}
	return e
}

func TestUpload(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.upload(t, "Photo.PNG", "image/png", pngBytes(t))
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var up pipeline.UploadResponse
	json.NewDecoder(resp.Body).Decode(&up)

	if !strings.HasSuffix(up.Filename, ".png") || strings.Contains(up.Filename, "Photo") {
		t.Errorf("filename = %s, want generated name with lower-case extension", up.Filename)
	}
	if ok, _ := ts.uploads.Exists(context.Background(), up.Filename); !ok {
		t.Error("upload not stored")
	}
	if !filepath.IsAbs(up.Path) {
		t.Errorf("path = %s", up.Path)
	}
}

func TestUploadRejectsDisguisedText(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.upload(t, "notes.jpg", "image/jpeg", []byte("this is a shopping list, not a photo"))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if e := decodeError(t, resp); e.Detail != "Not a valid image file" || e.Kind != "invalid_input" {
		t.Errorf("error = %+v", e)
	}

	entries, _ := os.ReadDir(ts.uploads.BaseDir())
	if len(entries) != 0 {
		t.Errorf("rejected upload left %d files behind", len(entries))
	}
}

func TestUploadRejectsOversizedDimensions(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.upload(t, "huge.png", "image/png", hugePNGBytes(t, 20000, 20000))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if e := decodeError(t, resp); e.Detail != "Not a valid image file" || e.Kind != "invalid_input" {
		t.Errorf("error = %+v", e)
	}

	entries, err := os.ReadDir(ts.uploads.BaseDir())
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("rejected upload left %d file(s) behind", len(entries))
	}
}

func TestUploadOddExtension(t *testing.T) {
	ts := newTestServer(t)

	for _, name := range []string{`photo.j\pg`, "photo." + strings.Repeat("p", 300), "photo.%%"} {
		resp := ts.upload(t, name, "image/png", pngBytes(t))
		if resp.StatusCode != http.StatusOK {
			e := decodeError(t, resp)
			t.Errorf("upload %q status = %d (%+v), want 200", name, resp.StatusCode, e)
			continue
		}
		var up pipeline.UploadResponse
		json.NewDecoder(resp.Body).Decode(&up)
		resp.Body.Close()

		if ok, _ := ts.uploads.Exists(context.Background(), up.Filename); !ok {
			t.Errorf("upload %q not stored as %q", name, up.Filename)
		}
		if len(up.Filename) > 64 || strings.ContainsAny(up.Filename, `\%`) {
			t.Errorf("upload %q stored under unsafe name %q", name, up.Filename)
		}
	}
}

func TestUploadRejectsNonImageContentType(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.upload(t, "notes.txt", "text/plain", []byte("hello"))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if e := decodeError(t, resp); e.Detail != "Uploaded file is not an image" {
		t.Errorf("detail = %q", e.Detail)
	}
}

func TestUploadTooLarge(t *testing.T) {
	ts := newTestServer(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", `form-data; name="file"; filename="huge.png"`)
	hdr.Set("Content-Type", "image/png")
	part, _ := mw.CreatePart(hdr)
	part.Write(make([]byte, 2<<20))
	mw.Close()

	// served in-process so the early response cannot race the request upload
	req := httptest.NewRequest(http.MethodPost, "/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	ts.Config.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	entries, _ := os.ReadDir(ts.uploads.BaseDir())
	if len(entries) != 0 {
		t.Errorf("oversized upload left %d files behind", len(entries))
	}
}

func TestDescribeUnknownFile(t *testing.T) {
	ts := newTestServer(t)

	resp := postForm(t, ts.URL+"/describe", url.Values{"filename": {"does-not-exist.jpg"}})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	if e := decodeError(t, resp); e.Detail != "File not found" || e.Kind != "not_found" {
		t.Errorf("error = %+v", e)
	}
}

func TestDescribeThenFetchAudio(t *testing.T) {
	ts := newTestServer(t)
	filename := ts.uploadImage(t)

	resp := postForm(t, ts.URL+"/describe", url.Values{"filename": {filename}})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var out pipeline.DescribeResponse
	json.NewDecoder(resp.Body).Decode(&out)

	stem := strings.TrimSuffix(filename, ".png")
	if out.Description != "A black dot on white paper." || out.AudioFile != "desc_"+stem+".mp3" {
		t.Errorf("response = %+v", out)
	}

	audio, err := http.Get(ts.URL + "/audio/" + out.AudioFile)
	if err != nil {
		t.Fatal(err)
	}
	defer audio.Body.Close()
	if audio.StatusCode != http.StatusOK || audio.Header.Get("Content-Type") != "audio/mpeg" {
		t.Fatalf("audio status = %d type = %s", audio.StatusCode, audio.Header.Get("Content-Type"))
	}
	data, _ := io.ReadAll(audio.Body)
	if string(data) != "ID3 A black dot on white paper." {
		t.Errorf("audio body = %q", data)
	}
}

func TestExtractTextForm(t *testing.T) {
	ts := newTestServer(t)
	filename := ts.uploadImage(t)

	resp := postForm(t, ts.URL+"/extract-text", url.Values{"filename": {filename}})
	var out pipeline.ExtractTextResponse
	json.NewDecoder(resp.Body).Decode(&out)
	resp.Body.Close()
	if out.Text != "STOP" || !strings.HasPrefix(out.AudioFile, "text_") {
		t.Errorf("response = %+v", out)
	}
	if !ts.lastPreprocess || ts.lastLang != "" {
		t.Errorf("defaults: preprocess=%t lang=%q", ts.lastPreprocess, ts.lastLang)
	}

	resp = postForm(t, ts.URL+"/extract-text", url.Values{"filename": {filename}, "preprocess": {"false"}, "lang": {"deu"}})
	resp.Body.Close()
	if ts.lastPreprocess || ts.lastLang != "deu" {
		t.Errorf("preprocess=%t lang=%q, want false deu", ts.lastPreprocess, ts.lastLang)
	}

	resp = postForm(t, ts.URL+"/extract-text", url.Values{"filename": {filename}, "preprocess": {"maybe"}})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad preprocess status = %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestAnswerQuestion(t *testing.T) {
	ts := newTestServer(t)
	filename := ts.uploadImage(t)

	resp := postForm(t, ts.URL+"/answer-question", url.Values{"filename": {filename}})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing question status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = postForm(t, ts.URL+"/answer-question", url.Values{"filename": {"nope.png"}})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown file without question status = %d, want 404", resp.StatusCode)
	}
	resp.Body.Close()

	resp = postForm(t, ts.URL+"/answer-question", url.Values{"filename": {filename}, "question": {"How many dots?"}})
	defer resp.Body.Close()
	var out pipeline.AnswerResponse
	json.NewDecoder(resp.Body).Decode(&out)
	if out.Question != "How many dots?" || out.Answer != "One dot." || !strings.HasPrefix(out.AudioFile, "answer_") {
		t.Errorf("response = %+v", out)
	}
}

func TestBusyReturns503(t *testing.T) {
	ts := newTestServer(t)
	filename := ts.uploadImage(t)

	hold := make(chan struct{})
	held := make(chan struct{})
	go ts.pool.Do(context.Background(), func(ctx context.Context) error {
		close(held)
		<-hold
		return nil
	})
	<-held
	defer close(hold)

	resp := postForm(t, ts.URL+"/describe", url.Values{"filename": {filename}})
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
	if e := decodeError(t, resp); e.Kind != "busy" {
		t.Errorf("kind = %s", e.Kind)
	}
}

func TestAudioNotFound(t *testing.T) {
	ts := newTestServer(t)

	for _, name := range []string{"missing.mp3", "..%2Fsecret.mp3"} {
		resp, err := http.Get(ts.URL + "/audio/" + name)
		if err != nil {
			t.Fatal(err)
		}
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("%s: status = %d, want 404", name, resp.StatusCode)
		}
		resp.Body.Close()
	}
}

func TestVoices(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/voices")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var voices []pipeline.Voice
	json.NewDecoder(resp.Body).Decode(&voices)
	if len(voices) != 2 || voices[1].ID != "nova" {
		t.Errorf("voices = %+v", voices)
	}
}

func TestAsyncUnavailable(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/v1/process", "application/json",
		strings.NewReader(`{"filename":"a.png","job":"describe"}`))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("process status = %d, want 503", resp.StatusCode)
	}
	if e := decodeError(t, resp); e.Kind != "unavailable" {
		t.Errorf("kind = %s", e.Kind)
	}

	resp, err = http.Get(ts.URL + "/v1/runs/describe-a-1")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status endpoint = %d, want 503", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestIndexHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t)

	get := func(path string) (int, string, string) {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, resp.Header.Get("Content-Type"), string(body)
	}

	if code, ctype, body := get("/"); code != http.StatusOK || !strings.HasPrefix(ctype, "text/html") || !strings.Contains(body, "Visual Assistant") {
		t.Errorf("index: %d %s", code, ctype)
	}
	if code, _, _ := get("/static/app.js"); code != http.StatusOK {
		t.Errorf("static asset status = %d", code)
	}
	if code, _, body := get("/health"); code != http.StatusOK || !strings.Contains(body, "healthy") {
		t.Errorf("health: %d %s", code, body)
	}
	if code, _, body := get("/metrics"); code != http.StatusOK || !strings.Contains(body, `visual_assistant_http_requests_total{code="200",route="/health"}`) {
		t.Errorf("metrics: %d\n%s", code, body)
	}
}

func TestParseFormBool(t *testing.T) {
	for in, want := range map[string]bool{"true": true, "1": true, "on": true, "Yes": true, "false": false, "0": false, "off": false, "no": false} {
		got, err := parseFormBool(in)
		if err != nil || got != want {
			t.Errorf("parseFormBool(%q) = %t, %v", in, got, err)
		}
	}
	if _, err := parseFormBool("maybe"); !errors.Is(err, strconv.ErrSyntax) {
		t.Errorf("parseFormBool(maybe) err = %v", err)
	}
}
