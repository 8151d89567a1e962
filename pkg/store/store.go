// Package store defines persistence for workflows, executions,
// credentials and step checkpoints.
package store

import (
	"context"
	"time"

	"github.com/common-fate/rheoma/pkg/step"
	"github.com/common-fate/rheoma/pkg/workflow"
)

// Outcome is the terminal update applied to an execution.
type Outcome struct {
	Status      workflow.Status
	CompletedAt time.Time
	Output      map[string]any
	Error       string
	ErrorStack  string
}

type Store interface {
	PutWorkflow(ctx context.Context, w *workflow.Workflow) error
	GetWorkflow(ctx context.Context, id string) (*workflow.Workflow, error)
	// LoadGraph returns the workflow if it exists and is owned by ownerID.
	LoadGraph(ctx context.Context, workflowID, ownerID string) (*workflow.Workflow, error)

	// CreateExecution inserts e unless an execution already exists for
	// e.EventID, in which case the existing record is returned and
	// created is false.
	CreateExecution(ctx context.Context, e workflow.Execution) (exec *workflow.Execution, created bool, err error)
	// FinalizeExecution applies the outcome to a RUNNING execution.
	// An execution which is already terminal is returned unchanged.
	FinalizeExecution(ctx context.Context, eventID string, o Outcome) (*workflow.Execution, error)
	GetExecution(ctx context.Context, id string) (*workflow.Execution, error)
	GetExecutionByEvent(ctx context.Context, eventID string) (*workflow.Execution, error)
	ListExecutions(ctx context.Context, workflowID string) ([]workflow.Execution, error)

	PutCredential(ctx context.Context, c *workflow.Credential) error
	GetCredential(ctx context.Context, id string) (*workflow.Credential, error)

	step.Checkpoints
}

// Apply sets the outcome fields on an execution.
func (o Outcome) Apply(e *workflow.Execution) {
	completed := o.CompletedAt
	e.Status = o.Status
	e.CompletedAt = &completed
	e.Output = o.Output
	e.Error = o.Error
	e.ErrorStack = o.ErrorStack
}
