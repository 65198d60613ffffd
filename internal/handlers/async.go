package handlers

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/tendant/visual-assistant/internal/apperr"
	"github.com/tendant/visual-assistant/internal/workflows"
	"github.com/tendant/visual-assistant/pkg/pipeline"
)

// AsyncHandler handles asynchronous workflow requests
type AsyncHandler struct {
	workflowRunner *workflows.WorkflowRunner
	tracker        SeenCounter
}

// NewAsyncHandler creates a new async handler. tracker may be nil.
func NewAsyncHandler(runner *workflows.WorkflowRunner, tracker SeenCounter) *AsyncHandler {
	return &AsyncHandler{
		workflowRunner: runner,
		tracker:        tracker,
	}
}

// HandleProcessAsync handles POST /v1/process - enqueues workflow and returns immediately
func (h *AsyncHandler) HandleProcessAsync(w http.ResponseWriter, r *http.Request) {
	const op = "process"

	if !h.workflowRunner.AsyncEnabled() {
		writeError(w, apperr.Wrap(apperr.KindUnavailable, op, "async processing is not configured", workflows.ErrAsyncUnavailable))
		return
	}

	var req pipeline.ProcessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.Wrap(apperr.KindInvalidInput, op, "invalid request", err))
		return
	}
	if err := h.workflowRunner.Validate(req); err != nil {
		writeError(w, err)
		return
	}

	log.Printf("Enqueueing workflow: filename=%s, job=%s", req.Filename, req.Job)

	// Enqueue workflow (non-blocking)
	runID, err := h.workflowRunner.RunAsync(r.Context(), req)
	if err != nil {
		log.Printf("Failed to enqueue workflow: %v", err)
		writeError(w, err)
		return
	}

	seen := 0
	if h.tracker != nil {
		if seen, err = h.tracker.Record(r.Context(), req.Filename, req.Job); err != nil {
			log.Printf("[%s] Failed to record dedupe: %v", runID, err)
		}
	}

	log.Printf("Workflow enqueued successfully: run_id=%s seen_count=%d", runID, seen)

	// Return immediately with 202 Accepted
	writeJSON(w, http.StatusAccepted, pipeline.ProcessResponse{
		RunID:           runID,
		DedupeSeenCount: seen,
	})
}

// HandleStatus handles GET /v1/runs/{runID} - returns workflow status
func (h *AsyncHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	status, err := h.workflowRunner.GetStatus(r.Context(), runID)
	if err != nil {
		log.Printf("Failed to get workflow status for %s: %v", runID, err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, status)
}
