package handlers

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/tendant/visual-assistant/internal/apperr"
	"github.com/tendant/visual-assistant/internal/fileutil"
	"github.com/tendant/visual-assistant/internal/workflows"
	"github.com/tendant/visual-assistant/pkg/pipeline"
)

// HandleUpload handles POST /upload
func (h *Handler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	const op = "upload"

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, apperr.InvalidInput(op, fmt.Sprintf("Uploaded file exceeds %d bytes", h.maxUploadBytes)))
			return
		}
		writeError(w, apperr.Wrap(apperr.KindInvalidInput, op, "multipart field \"file\" is required", err))
		return
	}
	defer file.Close()

	if !strings.HasPrefix(header.Header.Get("Content-Type"), "image/") {
		writeError(w, apperr.InvalidInput(op, "Uploaded file is not an image"))
		return
	}

	filename, err := fileutil.GenerateUniqueFilenameIn(h.uploads.BaseDir(), header.Filename)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.KindInternal, op, "failed to name upload", err))
		return
	}

	path, err := h.uploads.Put(r.Context(), filename, file)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.KindInternal, op, "failed to save upload", err))
		return
	}

	// The declared content type is not trusted: the bytes must decode
	if !fileutil.IsValidImage(path, h.maxImagePixels) {
		if err := h.uploads.Delete(r.Context(), filename); err != nil {
			log.Printf("Failed to delete rejected upload %s: %v", filename, err)
		}
		writeError(w, apperr.InvalidInput(op, "Not a valid image file"))
		return
	}

	log.Printf("Upload stored: filename=%s original=%q size=%d", filename, header.Filename, header.Size)

	writeJSON(w, http.StatusOK, pipeline.UploadResponse{
		Filename: filename,
		Path:     path,
	})
}

// HandleDescribe handles POST /describe
func (h *Handler) HandleDescribe(w http.ResponseWriter, r *http.Request) {
	result, ok := h.run(w, r, pipeline.ProcessRequest{
		Filename: r.FormValue("filename"),
		Job:      pipeline.JobDescribe,
	})
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, pipeline.DescribeResponse{
		Description: result.Text,
		AudioFile:   result.AudioFile,
		AudioError:  result.AudioError,
	})
}

// HandleExtractText handles POST /extract-text
func (h *Handler) HandleExtractText(w http.ResponseWriter, r *http.Request) {
	req := pipeline.ProcessRequest{
		Filename: r.FormValue("filename"),
		Job:      pipeline.JobExtractText,
		Language: strings.TrimSpace(r.FormValue("lang")),
	}
	if v := r.FormValue("preprocess"); v != "" {
		preprocess, err := parseFormBool(v)
		if err != nil {
			writeError(w, apperr.Wrap(apperr.KindInvalidInput, "extract_text", "preprocess must be a boolean", err))
			return
		}
		req.Preprocess = &preprocess
	}

	result, ok := h.run(w, r, req)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, pipeline.ExtractTextResponse{
		Text:       result.Text,
		AudioFile:  result.AudioFile,
		AudioError: result.AudioError,
	})
}

// HandleAnswerQuestion handles POST /answer-question
func (h *Handler) HandleAnswerQuestion(w http.ResponseWriter, r *http.Request) {
	question := r.FormValue("question")
	result, ok := h.run(w, r, pipeline.ProcessRequest{
		Filename: r.FormValue("filename"),
		Job:      pipeline.JobAnswerQuestion,
		Question: question,
	})
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, pipeline.AnswerResponse{
		Question:   question,
		Answer:     result.Text,
		AudioFile:  result.AudioFile,
		AudioError: result.AudioError,
	})
}

// run executes one job synchronously, writing the error response on failure
func (h *Handler) run(w http.ResponseWriter, r *http.Request, req pipeline.ProcessRequest) (pipeline.JobResult, bool) {
	runID := uuid.New().String()

	result, err := h.workflowRunner.Run(&workflows.WorkflowContext{
		Ctx:     r.Context(),
		Request: req,
		RunID:   runID,
	})
	if err != nil {
		log.Printf("[%s] Workflow execution failed: %v", runID, err)
		writeError(w, err)
		return pipeline.JobResult{}, false
	}

	return result.Outputs, true
}

// parseFormBool accepts the spellings HTML forms and curl users send
func parseFormBool(v string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "yes", "on":
		return true, nil
	case "no", "off":
		return false, nil
	}
	return strconv.ParseBool(strings.TrimSpace(v))
}
