// Package noderr contains the error types raised while
// loading and executing a workflow.
package noderr

import (
	"errors"
	"fmt"

	"github.com/goccy/go-yaml"
	"github.com/goccy/go-yaml/ast"
)

// NodeError is a definition error attached to the YAML node it came from.
type NodeError struct {
	Node ast.Node
	Err  error
}

// PrettyPrint the error along with the YAML node.
func (ne NodeError) PrettyPrint(yml []byte) (string, error) {
	path, err := yaml.PathString(ne.Node.GetPath())
	if err != nil {
		return "", err
	}
	source, err := path.AnnotateSource(yml, true)
	if err != nil {
		return "", err
	}
	return string(source), nil
}

func (ne NodeError) Error() string {
	return ne.Err.Error()
}

func (ne NodeError) Unwrap() error {
	return ne.Err
}

// Wrap attaches a YAML node to err. Errors which already carry
// a node are returned unchanged so that the innermost path wins.
func Wrap(err error, node ast.Node) error {
	var ne NodeError
	if errors.As(err, &ne) {
		return err
	}
	return NodeError{Err: err, Node: node}
}

// ConfigurationError is raised when a node is missing required
// configuration or its templates resolve to the wrong shape.
// It is never retried.
type ConfigurationError struct {
	NodeID  string
	Message string
}

func (e *ConfigurationError) Error() string {
	return e.Message
}

// Configf builds a ConfigurationError for a node.
func Configf(nodeID string, format string, args ...any) error {
	return &ConfigurationError{NodeID: nodeID, Message: fmt.Sprintf(format, args...)}
}

// UpstreamError wraps a failed call to an external integration.
// It is retried by the step runner, unless the integration rejected
// the request with a client error (see Permanent).
type UpstreamError struct {
	NodeID     string
	Service    string
	StatusCode int
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s returned status %d: %s", e.Service, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Service, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// Permanent reports whether the integration rejected the request itself.
// A 4xx status other than 408 Request Timeout and 429 Too Many Requests
// will fail the same way if it is sent again.
func (e *UpstreamError) Permanent() bool {
	if e.StatusCode < 400 || e.StatusCode >= 500 {
		return false
	}
	return e.StatusCode != 408 && e.StatusCode != 429
}

// Upstream wraps err as an UpstreamError. A nil err returns nil.
func Upstream(nodeID, service string, err error) error {
	if err == nil {
		return nil
	}
	return &UpstreamError{NodeID: nodeID, Service: service, Err: err}
}

// CycleError is raised when the workflow connections do not form a DAG.
type CycleError struct {
	From string
	To   string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("workflow contains a cycle: connection %s -> %s closes a loop", e.From, e.To)
}

// NotFoundError is raised when a workflow, node type, credential or
// execution does not exist or is not owned by the caller.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// NotFound builds a NotFoundError.
func NotFound(kind, id string) error {
	return &NotFoundError{Kind: kind, ID: id}
}

// Retriable reports whether err may succeed if the failed unit of
// work is attempted again. Configuration, cycle and not found errors
// are permanent. Anything unclassified is treated as transient.
func Retriable(err error) bool {
	if err == nil {
		return false
	}
	var ce *ConfigurationError
	if errors.As(err, &ce) {
		return false
	}
	var cy *CycleError
	if errors.As(err, &cy) {
		return false
	}
	var nf *NotFoundError
	if errors.As(err, &nf) {
		return false
	}
	var ue *UpstreamError
	if errors.As(err, &ue) && ue.Permanent() {
		return false
	}
	var ne NodeError
	return !errors.As(err, &ne)
}
