package handlers

import (
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/tendant/visual-assistant/internal/apperr"
	"github.com/tendant/visual-assistant/internal/storage"
	"github.com/tendant/visual-assistant/pkg/pipeline"
)

// HandleAudio handles GET /audio/{filename}
func (h *Handler) HandleAudio(w http.ResponseWriter, r *http.Request) {
	const op = "audio"
	filename := chi.URLParam(r, "filename")

	meta, err := h.audio.GetMetadata(r.Context(), filename)
	if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrInvalidKey) {
		writeError(w, apperr.NotFound(op, "Audio file not found"))
		return
	}
	if err != nil {
		writeError(w, apperr.Wrap(apperr.KindInternal, op, "failed to read audio file", err))
		return
	}

	reader, err := h.audio.GetReader(r.Context(), filename)
	if err != nil {
		writeError(w, apperr.NotFound(op, "Audio file not found"))
		return
	}
	defer reader.Close()

	etag := `"` + meta.ETag + `"`
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Content-Length", strconv.FormatInt(meta.Size, 10))
	w.Header().Set("ETag", etag)
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, reader); err != nil {
		log.Printf("Failed to stream audio %s: %v", filename, err)
	}
}

// HandleVoices handles GET /voices
func (h *Handler) HandleVoices(w http.ResponseWriter, r *http.Request) {
	if h.voices == nil {
		writeJSON(w, http.StatusOK, []pipeline.Voice{})
		return
	}

	voices, err := h.voices.ListVoices(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]pipeline.Voice, 0, len(voices))
	for _, v := range voices {
		out = append(out, pipeline.Voice{
			ID:        v.ID,
			Name:      v.Name,
			Languages: v.Languages,
			Gender:    v.Gender,
		})
	}
	writeJSON(w, http.StatusOK, out)
}
