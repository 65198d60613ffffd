package workflows

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/dbos-inc/dbos-transact-golang/dbos"
	"github.com/tendant/visual-assistant/internal/apperr"
	"github.com/tendant/visual-assistant/internal/dbosruntime"
	"github.com/tendant/visual-assistant/internal/fileutil"
	"github.com/tendant/visual-assistant/pkg/pipeline"
)

// WorkflowContext contains context for workflow execution
type WorkflowContext struct {
	Ctx     context.Context
	Request pipeline.ProcessRequest
	RunID   string
}

// WorkflowResult contains the result of workflow execution.
// It holds plain values only so DBOS can checkpoint it.
type WorkflowResult struct {
	Success bool               `json:"success"`
	Outputs pipeline.JobResult `json:"outputs"`
}

// Workflow defines the interface for processing workflows
type Workflow interface {
	// Execute runs the workflow
	Execute(wctx *WorkflowContext) (*WorkflowResult, error)

	// Name returns the workflow name
	Name() string
}

// ResultLedger persists async results so they can be served after the run
type ResultLedger interface {
	SaveResult(ctx context.Context, runID, job, filename string, result []byte) error
	GetResult(ctx context.Context, runID string) ([]byte, error)
	GetSeenCount(ctx context.Context, filename, job string) (int, error)
}

type statusSource interface {
	GetWorkflowStatus(ctx context.Context, workflowUUID string) (*dbosruntime.WorkflowStatusInfo, error)
}

// WorkflowRunner executes workflows
type WorkflowRunner struct {
	workflows   map[string]Workflow
	dbosRuntime *dbosruntime.Runtime
	statuses    statusSource
	ledger      ResultLedger
}

// NewWorkflowRunner creates a new workflow runner. dbosRuntime may be nil,
// in which case only synchronous execution is available.
func NewWorkflowRunner(dbosRuntime *dbosruntime.Runtime, ledger ResultLedger) *WorkflowRunner {
	runner := &WorkflowRunner{
		workflows:   make(map[string]Workflow),
		dbosRuntime: dbosRuntime,
		ledger:      ledger,
	}

	// Register the DBOS workflow function
	if dbosRuntime != nil {
		runner.statuses = dbosRuntime
		dbos.RegisterWorkflow(dbosRuntime.Context(), runner.executeWorkflowDBOS)
	}

	return runner
}

// Register registers a workflow
func (r *WorkflowRunner) Register(job string, workflow Workflow) {
	r.workflows[job] = workflow
}

// Jobs returns the registered job names
func (r *WorkflowRunner) Jobs() []string {
	jobs := make([]string, 0, len(r.workflows))
	for job := range r.workflows {
		jobs = append(jobs, job)
	}
	return jobs
}

// AsyncEnabled reports whether RunAsync and GetStatus are available
func (r *WorkflowRunner) AsyncEnabled() bool {
	return r.dbosRuntime != nil
}

// Run executes a workflow for the given job type synchronously
func (r *WorkflowRunner) Run(wctx *WorkflowContext) (*WorkflowResult, error) {
	workflow, err := r.lookup(wctx.Request.Job)
	if err != nil {
		return &WorkflowResult{
			Success: false,
			Outputs: failedOutputs(wctx.Request, err),
		}, err
	}

	return workflow.Execute(wctx)
}

// Validate checks a request before it is enqueued
func (r *WorkflowRunner) Validate(req pipeline.ProcessRequest) error {
	const op = "workflows.Validate"

	if _, err := r.lookup(req.Job); err != nil {
		return err
	}
	if strings.TrimSpace(req.Filename) == "" {
		return apperr.Wrap(apperr.KindInvalidInput, op, "filename is required", ErrInvalidRequest)
	}
	if req.Job == pipeline.JobAnswerQuestion && strings.TrimSpace(req.Question) == "" {
		return apperr.Wrap(apperr.KindInvalidInput, op, "question is required", ErrInvalidRequest)
	}
	return nil
}

// RunAsync enqueues a workflow for async execution via DBOS
func (r *WorkflowRunner) RunAsync(ctx context.Context, req pipeline.ProcessRequest) (string, error) {
	const op = "workflows.RunAsync"

	if r.dbosRuntime == nil {
		return "", apperr.Wrap(apperr.KindUnavailable, op, "async processing is not configured", ErrAsyncUnavailable)
	}
	if err := r.Validate(req); err != nil {
		return "", err
	}

	// Generate workflow ID for exactly-once semantics
	workflowID := fmt.Sprintf("%s-%s-%d", req.Job, fileutil.StemOf(req.Filename), time.Now().UnixNano())

	// Enqueue workflow with DBOS (generic function with type parameters)
	handle, err := dbos.RunWorkflow[pipeline.ProcessRequest, *WorkflowResult](
		r.dbosRuntime.Context(),
		r.executeWorkflowDBOS,
		req,
		dbos.WithWorkflowID(workflowID),
		dbos.WithQueue(r.dbosRuntime.QueueName()),
	)
	if err != nil {
		return "", apperr.Wrap(apperr.KindInternal, op, "failed to enqueue workflow", err)
	}

	return handle.GetWorkflowID(), nil
}

// executeWorkflowDBOS is the DBOS workflow function that wraps existing workflows
func (r *WorkflowRunner) executeWorkflowDBOS(dbosCtx dbos.DBOSContext, req pipeline.ProcessRequest) (*WorkflowResult, error) {
	// Get workflow ID from DBOS context
	workflowID, err := dbosCtx.GetWorkflowID()
	if err != nil {
		return &WorkflowResult{
			Success: false,
			Outputs: failedOutputs(req, err),
		}, err
	}

	// DBOSContext implements context.Context
	result, err := r.Run(&WorkflowContext{
		Ctx:     dbosCtx,
		Request: req,
		RunID:   workflowID,
	})
	r.saveResult(dbosCtx, workflowID, req, result)

	return result, err
}

func (r *WorkflowRunner) saveResult(ctx context.Context, runID string, req pipeline.ProcessRequest, result *WorkflowResult) {
	if r.ledger == nil || result == nil {
		return
	}

	outputs := result.Outputs
	if outputs.Job == "" {
		outputs.Job = req.Job
	}
	if outputs.Filename == "" {
		outputs.Filename = req.Filename
	}

	data, err := json.Marshal(outputs)
	if err != nil {
		log.Printf("[%s] Failed to encode result: %v", runID, err)
		return
	}
	if err := r.ledger.SaveResult(ctx, runID, req.Job, req.Filename, data); err != nil {
		log.Printf("[%s] Failed to save result: %v", runID, err)
	}
}

// GetStatus retrieves the status of a workflow execution and, once it has
// finished, its stored result
func (r *WorkflowRunner) GetStatus(ctx context.Context, runID string) (*pipeline.RunStatus, error) {
	const op = "workflows.GetStatus"

	if r.statuses == nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, op, "status tracking is not configured", ErrAsyncUnavailable)
	}

	info, err := r.statuses.GetWorkflowStatus(ctx, runID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound(op, "Workflow not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, op, "failed to read workflow status", err)
	}

	status := &pipeline.RunStatus{
		RunID:     info.WorkflowUUID,
		State:     runState(info.Status),
		Workflow:  info.Name,
		CreatedAt: time.UnixMilli(info.CreatedAt).UTC(),
		UpdatedAt: time.UnixMilli(info.UpdatedAt).UTC(),
	}

	if r.ledger != nil {
		data, err := r.ledger.GetResult(ctx, runID)
		if err != nil {
			log.Printf("[%s] Failed to load result: %v", runID, err)
		} else if data != nil {
			var res pipeline.JobResult
			if err := json.Unmarshal(data, &res); err != nil {
				log.Printf("[%s] Failed to decode result: %v", runID, err)
			} else {
				status.Result = &res
				seen, err := r.ledger.GetSeenCount(ctx, res.Filename, res.Job)
				if err != nil {
					log.Printf("[%s] Failed to load seen count: %v", runID, err)
				}
				status.DedupeSeenCount = seen
			}
		}
	}

	return status, nil
}

func (r *WorkflowRunner) lookup(job string) (Workflow, error) {
	workflow, ok := r.workflows[job]
	if !ok {
		msg := "job is required"
		if job != "" {
			msg = fmt.Sprintf("unknown job %q", job)
		}
		return nil, apperr.Wrap(apperr.KindInvalidInput, "workflows.Run", msg, ErrWorkflowNotFound)
	}
	return workflow, nil
}

// runState maps DBOS workflow statuses onto API run states
func runState(status string) string {
	switch status {
	case "ENQUEUED":
		return pipeline.RunStateEnqueued
	case "PENDING":
		return pipeline.RunStateRunning
	case "SUCCESS":
		return pipeline.RunStateSucceeded
	case "CANCELLED":
		return pipeline.RunStateCancelled
	case "ERROR", "RETRIES_EXCEEDED", "MAX_RECOVERY_ATTEMPTS_EXCEEDED":
		return pipeline.RunStateFailed
	default:
		return strings.ToLower(status)
	}
}

func failedOutputs(req pipeline.ProcessRequest, err error) pipeline.JobResult {
	return pipeline.JobResult{
		Job:       req.Job,
		Filename:  req.Filename,
		Question:  req.Question,
		Error:     apperr.MessageOf(err),
		ErrorKind: string(apperr.KindOf(err)),
	}
}
