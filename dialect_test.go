package rheoma

import (
	"context"

	"github.com/common-fate/rheoma/pkg/dialect"
	"github.com/common-fate/rheoma/pkg/executor"
	"github.com/common-fate/rheoma/pkg/node"
)

// testDialect is a dialect used for internal tests.
//
// Triggers pass the context through, and HTTP_REQUEST nodes record
// their ID under the 'visited' key. Other node types are not supported.
var testDialect = *dialect.New().
	Register(executor.Func(passThrough), node.ManualTrigger, node.Initial).
	Register(executor.Func(visit), node.HTTPRequest)

func passThrough(ctx context.Context, p executor.Params) (map[string]any, error) {
	return p.Context, nil
}

func visit(ctx context.Context, p executor.Params) (map[string]any, error) {
	visited, _ := p.Context["visited"].([]any)
	return executor.Merge(p.Context, "visited", append(append([]any{}, visited...), p.NodeID)), nil
}
