package rheoma

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/common-fate/clio"
	"github.com/common-fate/rheoma/pkg/dialect"
	"github.com/common-fate/rheoma/pkg/dispatch"
	"github.com/common-fate/rheoma/pkg/executor"
	"github.com/common-fate/rheoma/pkg/realtime"
	"github.com/common-fate/rheoma/pkg/step"
	"github.com/common-fate/rheoma/pkg/store"
	"github.com/common-fate/rheoma/pkg/workflow"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

// ExecuteEventName is the dispatcher event which runs a workflow.
const ExecuteEventName = "workflows/execute.workflow"

var tracer = otel.Tracer("github.com/common-fate/rheoma")

// Event triggers a workflow execution. The event ID is the idempotency
// key: delivering the same event twice never creates two executions.
type Event struct {
	ID         string `json:"id"`
	WorkflowID string `json:"workflowId"`
	// UserID is the user who triggered the run. When set, the workflow
	// must be owned by them. Webhook triggers leave it empty and run as
	// the workflow's owner.
	UserID      string         `json:"userId,omitempty"`
	InitialData map[string]any `json:"initialData,omitempty"`
}

// ExecutePayload is the dispatcher payload for ExecuteEventName.
type ExecutePayload struct {
	WorkflowID  string         `json:"workflowId"`
	UserID      string         `json:"userId,omitempty"`
	InitialData map[string]any `json:"initialData,omitempty"`
}

// Engine runs workflows.
type Engine struct {
	Store       store.Store
	Dialect     dialect.Dialect
	Publisher   realtime.Publisher
	Resolver    executor.Resolver
	Credentials executor.Credentials
	// Retry is the retry policy for every step in an execution.
	Retry step.Policy

	// Now returns the current time. Overridden in tests.
	Now func() time.Time
	// Sleep waits between step retries. Overridden in tests.
	Sleep func(ctx context.Context, d time.Duration) error

	// inflight runs at most one execution per event ID at a time.
	// A delivery which arrives while the same event is running waits
	// for that run and shares its result.
	inflight singleflight.Group
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// Execute runs the workflow named by the event and records the result.
//
// The returned execution is always the stored record. If the run
// fails, the execution is FAILED and the run error is returned along
// with it. If an execution for the event is already terminal it is
// returned without running anything.
func (e *Engine) Execute(ctx context.Context, ev Event) (*workflow.Execution, error) {
	if ev.ID == "" {
		return nil, errors.New("event ID is missing")
	}
	if ev.WorkflowID == "" {
		return nil, errors.New("workflow ID is missing")
	}

	v, err, shared := e.inflight.Do(ev.ID, func() (any, error) {
		return e.execute(ctx, ev)
	})
	if shared {
		clio.Debugf("event %s was delivered while already running", ev.ID)
	}
	exec, _ := v.(*workflow.Execution)
	return exec, err
}

func (e *Engine) execute(ctx context.Context, ev Event) (*workflow.Execution, error) {
	ctx, span := tracer.Start(ctx, "execute workflow", trace.WithAttributes(
		attribute.String("rheoma.event_id", ev.ID),
		attribute.String("rheoma.workflow_id", ev.WorkflowID),
	))
	defer span.End()

	exec, created, err := e.Store.CreateExecution(ctx, workflow.Execution{
		ID:         uuid.NewString(),
		WorkflowID: ev.WorkflowID,
		EventID:    ev.ID,
		Status:     workflow.Running,
		StartedAt:  e.now(),
	})
	if err != nil {
		return nil, errors.Wrap(err, "creating execution")
	}
	if !created {
		if exec.Status.Terminal() {
			clio.Debugf("event %s was already executed (execution %s is %s)", ev.ID, exec.ID, exec.Status)
			return exec, nil
		}
		clio.Infof("resuming execution %s for event %s", exec.ID, ev.ID)
	}

	runner := step.New(ev.ID, e.Store, e.Retry)
	if e.Sleep != nil {
		runner.Sleep = e.Sleep
	}

	output, runErr := e.run(ctx, runner, ev)

	// a cancelled run stays RUNNING so that redelivery can resume it.
	if runErr != nil && ctx.Err() != nil {
		span.RecordError(runErr)
		return exec, runErr
	}

	outcome := store.Outcome{
		Status:      workflow.Success,
		CompletedAt: e.now(),
		Output:      output,
	}
	if runErr != nil {
		outcome = store.Outcome{
			Status:      workflow.Failed,
			CompletedAt: e.now(),
			Error:       runErr.Error(),
			ErrorStack:  fmt.Sprintf("%+v", runErr),
		}
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
		clio.Errorf("execution %s of workflow %s failed: %s", exec.ID, ev.WorkflowID, runErr)
	} else {
		clio.Infof("execution %s of workflow %s succeeded", exec.ID, ev.WorkflowID)
	}

	final, err := e.Store.FinalizeExecution(ctx, ev.ID, outcome)
	if err != nil {
		return nil, errors.Wrap(err, "finalizing execution")
	}
	return final, runErr
}

// run loads, sorts and folds the workflow, returning the final context.
func (e *Engine) run(ctx context.Context, runner *step.Durable, ev Event) (map[string]any, error) {
	w, err := step.Run(ctx, runner, "prepare-workflow", func(ctx context.Context) (*workflow.Workflow, error) {
		if ev.UserID != "" {
			return e.Store.LoadGraph(ctx, ev.WorkflowID, ev.UserID)
		}
		return e.Store.GetWorkflow(ctx, ev.WorkflowID)
	})
	if err != nil {
		return nil, err
	}

	sorted, err := Sort(w)
	if err != nil {
		return nil, err
	}

	// every node type must be runnable before anything runs.
	executors := make([]executor.Executor, len(sorted))
	for i, n := range sorted {
		executors[i], err = e.Dialect.Lookup(n.Type)
		if err != nil {
			return nil, errors.WithMessagef(err, "node %s", n.ID)
		}
	}

	vars := map[string]any{}
	for k, v := range ev.InitialData {
		vars[k] = v
	}

	for i, n := range sorted {
		clio.Debugf("running node %s (%s)", n.ID, n.Type)
		next, err := e.runNode(ctx, executors[i], executor.Params{
			NodeID:      n.ID,
			Type:        n.Type,
			Data:        n.Data,
			Context:     vars,
			UserID:      w.UserID,
			Steps:       runner,
			Publisher:   e.Publisher,
			Resolver:    e.Resolver,
			Credentials: e.Credentials,
		})
		if err != nil {
			return nil, err
		}
		if next != nil {
			vars = next
		}
	}
	return vars, nil
}

func (e *Engine) runNode(ctx context.Context, ex executor.Executor, p executor.Params) (map[string]any, error) {
	ctx, span := tracer.Start(ctx, "run node", trace.WithAttributes(
		attribute.String("rheoma.node_id", p.NodeID),
		attribute.String("rheoma.node_type", p.Type.String()),
	))
	defer span.End()

	next, err := ex.Execute(ctx, p)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, errors.WithStack(err)
	}
	return next, nil
}

// Handle runs an execute event from the dispatcher. It only returns an
// error when the execution could not be recorded, so that the event is
// delivered again. Workflow failures are recorded on the execution.
func (e *Engine) Handle(ctx context.Context, de dispatch.Event) error {
	var payload ExecutePayload
	if err := json.Unmarshal(de.Data, &payload); err != nil {
		clio.Errorf("dropping event %s: invalid payload: %s", de.ID, err)
		return nil
	}
	if payload.WorkflowID == "" {
		clio.Errorf("dropping event %s: workflow ID is missing", de.ID)
		return nil
	}

	exec, err := e.Execute(ctx, Event{
		ID:          de.ID,
		WorkflowID:  payload.WorkflowID,
		UserID:      payload.UserID,
		InitialData: payload.InitialData,
	})
	if exec != nil && exec.Status.Terminal() {
		return nil
	}
	return err
}
