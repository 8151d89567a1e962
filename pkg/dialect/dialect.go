// Package dialect contains the set of node types a workflow may use,
// along with the executor which runs each of them.
package dialect

import (
	"context"
	"fmt"
	"sort"

	"github.com/common-fate/rheoma/pkg/executor"
	"github.com/common-fate/rheoma/pkg/node"
	"github.com/common-fate/rheoma/pkg/noderr"
)

type contextKey int

const (
	dialectKey contextKey = iota
)

// Dialect maps node types to their executors.
// Workflows may only contain node types which are registered.
type Dialect struct {
	Executors map[node.Type]executor.Executor
}

// Context returns a copy of the parent context,
// with the dialect defined.
func Context(parent context.Context, d Dialect) context.Context {
	return context.WithValue(parent, dialectKey, d)
}

// FromContext loads the dialect from context.
// It returns false if the dialect does not exist in the context.
func FromContext(ctx context.Context) (Dialect, bool) {
	d, ok := ctx.Value(dialectKey).(Dialect)
	return d, ok
}

// New creates a new empty dialect.
func New() *Dialect {
	return &Dialect{
		Executors: map[node.Type]executor.Executor{},
	}
}

// Register sets the executor for one or more node types.
func (d *Dialect) Register(e executor.Executor, types ...node.Type) *Dialect {
	if d.Executors == nil {
		d.Executors = map[node.Type]executor.Executor{}
	}
	for _, t := range types {
		d.Executors[t] = e
	}
	return d
}

// Supports returns true if the node type has a registered executor.
func (d Dialect) Supports(t node.Type) bool {
	_, ok := d.Executors[t]
	return ok
}

// Lookup returns the executor for a node type, or a NotFoundError.
func (d Dialect) Lookup(t node.Type) (executor.Executor, error) {
	e, ok := d.Executors[t]
	if !ok || e == nil {
		return nil, noderr.NotFound("executor for node type", t.String())
	}
	return e, nil
}

// Types returns the registered node types in enumeration order.
func (d Dialect) Types() []node.Type {
	out := make([]node.Type, 0, len(d.Executors))
	for t := range d.Executors {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (d Dialect) Validate() error {
	if len(d.Executors) == 0 {
		return fmt.Errorf("dialect error: no node types are registered")
	}
	for t, e := range d.Executors {
		if !t.Valid() {
			return fmt.Errorf("dialect error: %s is not a valid node type", t)
		}
		if e == nil {
			return fmt.Errorf("dialect error: node type %s has no executor", t)
		}
	}
	return nil
}
