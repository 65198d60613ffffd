package workflows

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tendant/visual-assistant/internal/apperr"
	"github.com/tendant/visual-assistant/internal/storage"
	"github.com/tendant/visual-assistant/internal/workerpool"
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
}

func (m *MockSpeech) SaveToFile(ctx context.Context, text, outputPath string) (string, error) {
	return m.SaveToFileFunc(ctx, text, outputPath)
}

// writingSpeech writes the text itself as the "audio"
func writingSpeech() *MockSpeech {
	return &MockSpeech{SaveToFileFunc: func(ctx context.Context, text, outputPath string) (string, error) {
		return outputPath, os.WriteFile(outputPath, []byte(text), 0644)
	}}
}

type fixture struct {
	deps    Deps
	uploads *storage.FilesystemStorage
	audio   *storage.FilesystemStorage
}

func newFixture(t *testing.T, speech SpeechWriter) *fixture {
	t.Helper()
	uploads, err := storage.NewFilesystemStorage(filepath.Join(t.TempDir(), "uploads"))
	if err != nil {
		t.Fatal(err)
	}
	audio, err := storage.NewFilesystemStorage(filepath.Join(t.TempDir(), "audio"))
	if err != nil {
		t.Fatal(err)
	}
	return &fixture{
		deps: Deps{
			Uploads: uploads,
			Audio:   audio,
			Pool:    workerpool.New(2, 0, nil),
			Speech:  speech,
		},
		uploads: uploads,
		audio:   audio,
	}
}

func (f *fixture) addImage(t *testing.T, name string) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for i := 0; i < 16; i++ {
		img.Set(i, i, color.Black)
	}
	path, err := f.uploads.Path(name)
	if err != nil {
		t.Fatal(err)
	}
	out, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer out.Close()
	if err := png.Encode(out, img); err != nil {
		t.Fatal(err)
	}
	return path
}

func run(w Workflow, req pipeline.ProcessRequest) (*WorkflowResult, error) {
	return w.Execute(&WorkflowContext{Ctx: context.Background(), Request: req, RunID: "test-run"})
}

func TestDescribeWorkflow(t *testing.T) {
	f := newFixture(t, writingSpeech())
	imagePath := f.addImage(t, "abc123.png")

	var gotPath string
	wf := NewDescribeWorkflow(f.deps, &MockDescriber{GenerateDescriptionFunc: func(ctx context.Context, p string) (string, error) {
		gotPath = p
		return "A diagonal black line.", nil
	}})

	res, err := run(wf, pipeline.ProcessRequest{Filename: "abc123.png", Job: pipeline.JobDescribe})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if gotPath != imagePath {
		t.Errorf("describer got %s, want %s", gotPath, imagePath)
	}
	if !res.Success || res.Outputs.Text != "A diagonal black line." {
		t.Errorf("result = %+v", res)
	}
	if res.Outputs.AudioFile != "desc_abc123.mp3" || res.Outputs.AudioError != "" {
		t.Errorf("audio = %q / %q", res.Outputs.AudioFile, res.Outputs.AudioError)
	}
	if res.Outputs.Job != pipeline.JobDescribe || res.Outputs.Filename != "abc123.png" {
		t.Errorf("outputs = %+v", res.Outputs)
	}

	ok, _ := f.audio.Exists(context.Background(), "desc_abc123.mp3")
	if !ok {
		t.Error("artifact not written to the audio directory")
	}
}

func TestWorkflowValidation(t *testing.T) {
	f := newFixture(t, writingSpeech())
	f.addImage(t, "good.png")
	badPath, _ := f.uploads.Path("fake.jpg")
	if err := os.WriteFile(badPath, []byte("just some text"), 0644); err != nil {
		t.Fatal(err)
	}

	wf := NewDescribeWorkflow(f.deps, &MockDescriber{GenerateDescriptionFunc: func(ctx context.Context, p string) (string, error) {
		t.Fatal("describer must not run for invalid input")
		return "", nil
	}})

	cases := []struct {
		filename string
		kind     apperr.Kind
		msg      string
	}{
		{"missing.png", apperr.KindNotFound, "File not found"},
		{"fake.jpg", apperr.KindInvalidInput, "Not a valid image file"},
		{"", apperr.KindInvalidInput, "filename is required"},
		{"../good.png", apperr.KindInvalidInput, "invalid filename"},
	}
	for _, c := range cases {
		res, err := run(wf, pipeline.ProcessRequest{Filename: c.filename, Job: pipeline.JobDescribe})
		if !apperr.Is(err, c.kind) {
			t.Errorf("%q: kind = %s, want %s (%v)", c.filename, apperr.KindOf(err), c.kind, err)
			continue
		}
		if !strings.HasPrefix(apperr.MessageOf(err), c.msg) {
			t.Errorf("%q: message = %q, want prefix %q", c.filename, apperr.MessageOf(err), c.msg)
		}
		if res == nil || res.Success || res.Outputs.ErrorKind != string(c.kind) {
			t.Errorf("%q: result = %+v", c.filename, res)
		}
	}
}

func TestSpeechFailureDoesNotFailWorkflow(t *testing.T) {
	speech := &MockSpeech{SaveToFileFunc: func(ctx context.Context, text, outputPath string) (string, error) {
		return "", apperr.Wrap(apperr.KindEngineFailure, "speech.SaveToFile", "error synthesizing speech", errors.New("quota"))
	}}
	f := newFixture(t, speech)
	f.addImage(t, "pic.png")

	wf := NewDescribeWorkflow(f.deps, &MockDescriber{GenerateDescriptionFunc: func(ctx context.Context, p string) (string, error) {
		return "A picture.", nil
	}})
	res, err := run(wf, pipeline.ProcessRequest{Filename: "pic.png", Job: pipeline.JobDescribe})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !res.Success || res.Outputs.AudioFile != "" {
		t.Errorf("result = %+v", res)
	}
	if res.Outputs.AudioError != "error synthesizing speech: quota" {
		t.Errorf("audio error = %q", res.Outputs.AudioError)
	}
}

func TestEngineFailureKeepsKind(t *testing.T) {
	f := newFixture(t, writingSpeech())
	f.addImage(t, "pic.png")

	engineErr := apperr.Wrap(apperr.KindEngineFailure, "vision.GenerateDescription", "error generating description", errors.New("timeout"))
	wf := NewDescribeWorkflow(f.deps, &MockDescriber{GenerateDescriptionFunc: func(ctx context.Context, p string) (string, error) {
		return "", engineErr
	}})
	res, err := run(wf, pipeline.ProcessRequest{Filename: "pic.png", Job: pipeline.JobDescribe})
	if !apperr.Is(err, apperr.KindEngineFailure) {
		t.Fatalf("kind = %s", apperr.KindOf(err))
	}
	if res.Outputs.Error != "error generating description: timeout" {
		t.Errorf("error = %q", res.Outputs.Error)
	}
}

func TestExtractTextWorkflow(t *testing.T) {
	f := newFixture(t, writingSpeech())
	f.addImage(t, "scan.png")

	var gotPreprocess bool
	var gotLang string
	wf := NewExtractTextWorkflow(f.deps, &MockExtractor{ExtractTextFunc: func(ctx context.Context, p string, preprocess bool, lang string) (string, error) {
		gotPreprocess, gotLang = preprocess, lang
		return "EXIT", nil
	}})

	res, err := run(wf, pipeline.ProcessRequest{Filename: "scan.png", Job: pipeline.JobExtractText, Language: "eng+deu"})
	if err != nil {
		t.Fatal(err)
	}
	if !gotPreprocess || gotLang != "eng+deu" {
		t.Errorf("preprocess=%t lang=%q, want true eng+deu", gotPreprocess, gotLang)
	}
	if res.Outputs.Text != "EXIT" || res.Outputs.AudioFile != "text_scan.mp3" {
		t.Errorf("outputs = %+v", res.Outputs)
	}

	off := false
	if _, err := run(wf, pipeline.ProcessRequest{Filename: "scan.png", Job: pipeline.JobExtractText, Preprocess: &off}); err != nil {
		t.Fatal(err)
	}
	if gotPreprocess {
		t.Error("preprocess=false was not passed through")
	}
}

func TestAnswerWorkflow(t *testing.T) {
	f := newFixture(t, writingSpeech())
	f.addImage(t, "room.png")

	calls := 0
	wf := NewAnswerWorkflow(f.deps, &MockAnswerer{AnswerQuestionFunc: func(ctx context.Context, p, q string) (string, error) {
		calls++
		return "Two chairs.", nil
	}})

	_, err := run(wf, pipeline.ProcessRequest{Filename: "room.png", Job: pipeline.JobAnswerQuestion, Question: "  "})
	if !apperr.Is(err, apperr.KindInvalidInput) || calls != 0 {
		t.Errorf("blank question: err = %v, calls = %d", err, calls)
	}

	_, err = run(wf, pipeline.ProcessRequest{Filename: "missing.png", Job: pipeline.JobAnswerQuestion, Question: ""})
	if !apperr.Is(err, apperr.KindNotFound) || calls != 0 {
		t.Errorf("missing file with blank question: err = %v, want not_found", err)
	}

	res, err := run(wf, pipeline.ProcessRequest{Filename: "room.png", Job: pipeline.JobAnswerQuestion, Question: " How many chairs? "})
	if err != nil {
		t.Fatal(err)
	}
	if res.Outputs.Question != "How many chairs?" || res.Outputs.Text != "Two chairs." {
		t.Errorf("outputs = %+v", res.Outputs)
	}
	if res.Outputs.AudioFile != "answer_room.mp3" {
		t.Errorf("audio = %s", res.Outputs.AudioFile)
	}
}

func TestWorkflowBusy(t *testing.T) {
	f := newFixture(t, writingSpeech())
	f.addImage(t, "pic.png")
	pool := workerpool.New(1, 0, nil)
	f.deps.Pool = pool

	wf := NewDescribeWorkflow(f.deps, &MockDescriber{GenerateDescriptionFunc: func(ctx context.Context, p string) (string, error) {
		return "never", nil
	}})

	hold := make(chan struct{})
	held := make(chan struct{})
	go pool.Do(context.Background(), func(ctx context.Context) error {
		close(held)
		<-hold
		return nil
	})
	<-held
	defer close(hold)

	_, err := run(wf, pipeline.ProcessRequest{Filename: "pic.png", Job: pipeline.JobDescribe})
	if !apperr.Is(err, apperr.KindBusy) || !errors.Is(err, workerpool.ErrBusy) {
		t.Errorf("err = %v, want busy", err)
	}
}
