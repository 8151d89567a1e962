// Package storetest contains behaviour tests shared by every store implementation.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/common-fate/rheoma/pkg/node"
	"github.com/common-fate/rheoma/pkg/noderr"
	"github.com/common-fate/rheoma/pkg/store"
	"github.com/common-fate/rheoma/pkg/workflow"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Run the shared tests against the store returned by newStore.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Run("workflows", func(t *testing.T) { testWorkflows(t, newStore(t)) })
	t.Run("executions", func(t *testing.T) { testExecutions(t, newStore(t)) })
	t.Run("credentials", func(t *testing.T) { testCredentials(t, newStore(t)) })
	t.Run("checkpoints", func(t *testing.T) { testCheckpoints(t, newStore(t)) })
}

func isNotFound(err error) bool {
	var nf *noderr.NotFoundError
	return errors.As(err, &nf)
}

func testWorkflows(t *testing.T, s store.Store) {
	ctx := context.Background()
	w := &workflow.Workflow{
		ID:     "wf-1",
		UserID: "u1",
		Name:   "test",
		Nodes: []workflow.Node{
			{ID: "t", Type: node.ManualTrigger},
			{ID: "h", Type: node.HTTPRequest, Data: map[string]any{"endpoint": "https://x"}, Position: workflow.Position{X: 10}},
		},
		Connections: []workflow.Connection{{FromNodeID: "t", ToNodeID: "h", FromOutputSlot: "main", ToInputSlot: "main"}},
	}
	require.NoError(t, s.PutWorkflow(ctx, w))

	got, err := s.GetWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, w, got)

	got, err = s.LoadGraph(ctx, "wf-1", "u1")
	require.NoError(t, err)
	assert.Equal(t, "wf-1", got.ID)

	_, err = s.LoadGraph(ctx, "wf-1", "u2")
	assert.True(t, isNotFound(err), "workflow owned by another user must not load")

	_, err = s.GetWorkflow(ctx, "missing")
	assert.True(t, isNotFound(err))
}

func testExecutions(t *testing.T, s store.Store) {
	ctx := context.Background()
	started := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

	e := workflow.Execution{ID: "ex-1", WorkflowID: "wf-1", EventID: "evt-1", Status: workflow.Running, StartedAt: started}
	got, created, err := s.CreateExecution(ctx, e)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "ex-1", got.ID)

	// the same event must not create a second record
	dup := e
	dup.ID = "ex-2"
	got, created, err = s.CreateExecution(ctx, dup)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "ex-1", got.ID)

	_, err = s.GetExecution(ctx, "ex-2")
	assert.True(t, isNotFound(err))

	completed := started.Add(time.Minute)
	final, err := s.FinalizeExecution(ctx, "evt-1", store.Outcome{
		Status:      workflow.Success,
		CompletedAt: completed,
		Output:      map[string]any{"http1": map[string]any{"status": float64(200)}},
	})
	require.NoError(t, err)
	assert.Equal(t, workflow.Success, final.Status)
	require.NotNil(t, final.CompletedAt)
	assert.True(t, completed.Equal(*final.CompletedAt))
	assert.Equal(t, map[string]any{"http1": map[string]any{"status": float64(200)}}, final.Output)

	// finalization happens once
	again, err := s.FinalizeExecution(ctx, "evt-1", store.Outcome{Status: workflow.Failed, CompletedAt: completed, Error: "late"})
	require.NoError(t, err)
	assert.Equal(t, workflow.Success, again.Status)
	assert.Empty(t, again.Error)

	byID, err := s.GetExecution(ctx, "ex-1")
	require.NoError(t, err)
	assert.Equal(t, "evt-1", byID.EventID)

	_, _, err = s.CreateExecution(ctx, workflow.Execution{ID: "ex-3", WorkflowID: "wf-1", EventID: "evt-3", Status: workflow.Running, StartedAt: started.Add(time.Hour)})
	require.NoError(t, err)

	list, err := s.ListExecutions(ctx, "wf-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "ex-3", list[0].ID)
	assert.Equal(t, "ex-1", list[1].ID)
}

func testCredentials(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.PutCredential(ctx, &workflow.Credential{ID: "c1", UserID: "u1", Name: "openai", Type: "OPENAI", Value: "sealed"}))

	got, err := s.GetCredential(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, "sealed", got.Value)

	_, err = s.GetCredential(ctx, "c2")
	assert.True(t, isNotFound(err))
}

func testCheckpoints(t *testing.T, s store.Store) {
	ctx := context.Background()

	_, ok, err := s.LoadCheckpoint(ctx, "evt", "http-request:h")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SaveCheckpoint(ctx, "evt", "http-request:h", []byte(`{"status":200}`)))

	data, ok, err := s.LoadCheckpoint(ctx, "evt", "http-request:h")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.JSONEq(t, `{"status":200}`, string(data))

	_, ok, err = s.LoadCheckpoint(ctx, "other", "http-request:h")
	require.NoError(t, err)
	assert.False(t, ok)
}
