// Package transform implements the LIMIT and SPLIT_OUT nodes, which
// reshape data already present in the execution context.
package transform

import (
	"encoding/json"

	"github.com/common-fate/rheoma/pkg/executor"
	"github.com/common-fate/rheoma/pkg/noderr"
)

// source renders the sourceData template and parses the result as JSON.
func source(p executor.Params, tpl string) (any, error) {
	rendered, err := p.Resolve(tpl)
	if err != nil {
		return nil, err
	}
	var v any
	if err := json.Unmarshal([]byte(rendered), &v); err != nil {
		return nil, noderr.Configf(p.NodeID, "%s node: source data did not resolve to valid JSON", p.Type.Label())
	}
	return v, nil
}
