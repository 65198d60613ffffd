package dbosruntime

import (
	"context"
	"fmt"
)

// WorkflowStatusInfo is one row of the DBOS workflow status table
type WorkflowStatusInfo struct {
	WorkflowUUID string
	Status       string
	Name         string
	// CreatedAt and UpdatedAt are epoch milliseconds
	CreatedAt int64
	UpdatedAt int64
}

// GetWorkflowStatus reads the status of a workflow from the DBOS status table.
// A missing workflow yields an error wrapping sql.ErrNoRows.
func (r *Runtime) GetWorkflowStatus(ctx context.Context, workflowUUID string) (*WorkflowStatusInfo, error) {
	query := `
		SELECT workflow_uuid, status, name, created_at, updated_at
		FROM dbos.workflow_status
		WHERE workflow_uuid = $1
	`

	var info WorkflowStatusInfo
	err := r.db.QueryRowContext(ctx, query, workflowUUID).Scan(
		&info.WorkflowUUID,
		&info.Status,
		&info.Name,
		&info.CreatedAt,
		&info.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflow status: %w", err)
	}

	return &info, nil
}
