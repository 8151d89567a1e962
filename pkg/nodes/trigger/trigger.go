// Package trigger implements the start nodes of a workflow.
// Triggers don't call any integration: the event payload is already
// in the initial context, so they only report status and pass it on.
package trigger

import (
	"context"
	"strings"

	"github.com/common-fate/rheoma/pkg/executor"
	"github.com/common-fate/rheoma/pkg/node"
)

type Executor struct{}

// stepKind is the checkpoint name for a trigger type, e.g. "google-form-trigger".
func stepKind(t node.Type) string {
	return strings.TrimSuffix(t.Channel(), "-execution")
}

func (Executor) Execute(ctx context.Context, p executor.Params) (map[string]any, error) {
	return executor.WithStatus(ctx, p, func(ctx context.Context) (map[string]any, error) {
		return executor.Run(ctx, p, stepKind(p.Type), func(ctx context.Context) (map[string]any, error) {
			return p.Context, nil
		})
	})
}
