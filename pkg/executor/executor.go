// Package executor defines the contract between the execution engine
// and the node implementations.
package executor

import (
	"context"
	"strings"

	"github.com/common-fate/clio"
	"github.com/common-fate/rheoma/pkg/node"
	"github.com/common-fate/rheoma/pkg/noderr"
	"github.com/common-fate/rheoma/pkg/realtime"
	"github.com/common-fate/rheoma/pkg/step"
	"github.com/pkg/errors"
)

// Resolver renders {{ }} templates against the execution context.
type Resolver interface {
	Resolve(tpl string, vars map[string]any) (string, error)
}

// Credentials resolves a credential ID to its secret value.
type Credentials interface {
	// Lookup returns the sealed credential value, or a NotFoundError
	// if it doesn't exist or isn't owned by userID.
	Lookup(ctx context.Context, id, userID string) (string, error)
	Open(sealed string) (string, error)
}

// Params are passed to an executor for a single node.
type Params struct {
	NodeID string
	Type   node.Type
	// Data is the node's configuration.
	Data map[string]any
	// Context is the result of every node which ran before this one.
	// Executors must not modify it.
	Context map[string]any
	// UserID is the owner of the workflow being executed.
	UserID string

	Steps       step.Runner
	Publisher   realtime.Publisher
	Resolver    Resolver
	Credentials Credentials
}

// Executor runs a node and returns the next context.
type Executor interface {
	Execute(ctx context.Context, p Params) (map[string]any, error)
}

// Func adapts a function to the Executor interface.
type Func func(ctx context.Context, p Params) (map[string]any, error)

func (f Func) Execute(ctx context.Context, p Params) (map[string]any, error) {
	return f(ctx, p)
}

// Merge returns a copy of the context with key set to value.
func Merge(context map[string]any, key string, value any) map[string]any {
	out := make(map[string]any, len(context)+1)
	for k, v := range context {
		out[k] = v
	}
	out[key] = value
	return out
}

// WithStatus publishes 'loading' for the node, runs fn, and then
// publishes 'success' or 'error' depending on the result.
func WithStatus(ctx context.Context, p Params, fn func(ctx context.Context) (map[string]any, error)) (map[string]any, error) {
	channel := p.Type.Channel()
	realtime.PublishStatus(ctx, p.Publisher, channel, p.NodeID, realtime.Loading)

	out, err := fn(ctx)
	if err != nil {
		realtime.PublishStatus(ctx, p.Publisher, channel, p.NodeID, realtime.Error)
		return nil, err
	}

	realtime.PublishStatus(ctx, p.Publisher, channel, p.NodeID, realtime.Success)
	return out, nil
}

// StepName returns the stable checkpoint name for a node's step.
func StepName(kind, nodeID string) string {
	return kind + ":" + nodeID
}

// Run executes fn as the node's named step. Retried attempts publish
// 'loading' again for the node.
func Run[T any](ctx context.Context, p Params, kind string, fn func(ctx context.Context) (T, error)) (T, error) {
	attempt := 0
	return step.Run(ctx, p.Steps, StepName(kind, p.NodeID), func(ctx context.Context) (T, error) {
		if attempt > 0 {
			realtime.PublishStatus(ctx, p.Publisher, p.Type.Channel(), p.NodeID, realtime.Loading)
		}
		attempt++
		return fn(ctx)
	})
}

// Resolve renders a template against the node's context.
// An invalid template is a configuration error.
func (p Params) Resolve(tpl string) (string, error) {
	if tpl == "" {
		return "", nil
	}
	if p.Resolver == nil {
		return tpl, nil
	}
	out, err := p.Resolver.Resolve(tpl, p.Context)
	if err != nil {
		return "", noderr.Configf(p.NodeID, "%s node: %s", p.Type.Label(), err)
	}
	return out, nil
}

// ResolveURL renders a template which must produce an http or https URL.
// field names the configuration key in the error message.
func (p Params) ResolveURL(field, tpl string) (string, error) {
	out, err := p.Resolve(tpl)
	if err != nil {
		return "", err
	}
	out = strings.TrimSpace(out)
	if err := validatorInstance().Var(out, "required,http_url"); err != nil {
		return "", noderr.Configf(p.NodeID, "%s node: %s must be a valid URL, got %q", p.Type.Label(), field, out)
	}
	return out, nil
}

// Credential looks up and decrypts a credential owned by the workflow's user.
// The lookup is checkpointed in its sealed form.
func (p Params) Credential(ctx context.Context, id string) (string, error) {
	if id == "" {
		return "", noderr.Configf(p.NodeID, "%s node: credential is missing", p.Type.Label())
	}
	if p.Credentials == nil {
		return "", noderr.Configf(p.NodeID, "%s node: no credential store is configured", p.Type.Label())
	}

	sealed, err := Run(ctx, p, "get-credential", func(ctx context.Context) (string, error) {
		return p.Credentials.Lookup(ctx, id, p.UserID)
	})
	var nf *noderr.NotFoundError
	if errors.As(err, &nf) {
		return "", noderr.Configf(p.NodeID, "%s node: credential %s not found", p.Type.Label(), id)
	}
	if err != nil {
		return "", errors.Wrapf(err, "loading credential %s", id)
	}

	plain, err := p.Credentials.Open(sealed)
	if err != nil {
		clio.Debugf("opening credential %s: %s", id, err)
		return "", noderr.Configf(p.NodeID, "%s node: credential %s could not be decrypted", p.Type.Label(), id)
	}
	return plain, nil
}
