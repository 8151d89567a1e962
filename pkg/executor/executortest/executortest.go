// Package executortest builds executor parameters for node tests.
package executortest

import (
	"context"
	"testing"
	"time"

	"github.com/common-fate/rheoma/pkg/executor"
	"github.com/common-fate/rheoma/pkg/jsoncel"
	"github.com/common-fate/rheoma/pkg/node"
	"github.com/common-fate/rheoma/pkg/realtime"
	"github.com/common-fate/rheoma/pkg/step"
	"github.com/stretchr/testify/require"
)

// Harness holds the collaborators behind a test node.
type Harness struct {
	Params   executor.Params
	Recorder *realtime.Recorder
	Steps    *step.Durable
}

// New returns parameters for node 'n1' of type typ with a real template
// resolver, an in-memory step runner without retry delays, and a
// recording publisher.
func New(t *testing.T, typ node.Type, data, vars map[string]any) *Harness {
	t.Helper()

	resolver, err := jsoncel.NewResolver()
	require.NoError(t, err)

	steps := step.New("evt-test", step.NewMemory(), step.Policy{MaxRetries: 1, BaseDelay: time.Millisecond})
	steps.Sleep = func(ctx context.Context, d time.Duration) error { return nil }

	if vars == nil {
		vars = map[string]any{}
	}
	rec := &realtime.Recorder{}

	return &Harness{
		Params: executor.Params{
			NodeID:    "n1",
			Type:      typ,
			Data:      data,
			Context:   vars,
			UserID:    "user-1",
			Steps:     steps,
			Publisher: rec,
			Resolver:  resolver,
		},
		Recorder: rec,
		Steps:    steps,
	}
}

// Statuses returns the status events published for the node.
func (h *Harness) Statuses() []realtime.Status {
	return h.Recorder.Statuses(h.Params.NodeID)
}
