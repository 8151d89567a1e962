// Package memstore is an in-memory store used by the CLI and in tests.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/common-fate/rheoma/pkg/noderr"
	"github.com/common-fate/rheoma/pkg/step"
	"github.com/common-fate/rheoma/pkg/store"
	"github.com/common-fate/rheoma/pkg/workflow"
)

type Store struct {
	*step.Memory

	mu          sync.RWMutex
	workflows   map[string]workflow.Workflow
	executions  map[string]*workflow.Execution // by event ID
	credentials map[string]workflow.Credential
}

var _ store.Store = &Store{}

func New() *Store {
	return &Store{
		Memory:      step.NewMemory(),
		workflows:   map[string]workflow.Workflow{},
		executions:  map[string]*workflow.Execution{},
		credentials: map[string]workflow.Credential{},
	}
}

func (s *Store) PutWorkflow(ctx context.Context, w *workflow.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workflows[w.ID] = *w
	return nil
}

func (s *Store) GetWorkflow(ctx context.Context, id string) (*workflow.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.workflows[id]
	if !ok {
		return nil, noderr.NotFound("workflow", id)
	}
	return &w, nil
}

func (s *Store) LoadGraph(ctx context.Context, workflowID, ownerID string) (*workflow.Workflow, error) {
	w, err := s.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if w.UserID != ownerID {
		return nil, noderr.NotFound("workflow", workflowID)
	}
	return w, nil
}

func (s *Store) CreateExecution(ctx context.Context, e workflow.Execution) (*workflow.Execution, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.executions[e.EventID]; ok {
		cp := *existing
		return &cp, false, nil
	}
	s.executions[e.EventID] = &e
	cp := e
	return &cp, true, nil
}

func (s *Store) FinalizeExecution(ctx context.Context, eventID string, o store.Outcome) (*workflow.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.executions[eventID]
	if !ok {
		return nil, noderr.NotFound("execution for event", eventID)
	}
	if !e.Status.Terminal() {
		o.Apply(e)
	}
	cp := *e
	return &cp, nil
}

func (s *Store) GetExecution(ctx context.Context, id string) (*workflow.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.executions {
		if e.ID == id {
			cp := *e
			return &cp, nil
		}
	}
	return nil, noderr.NotFound("execution", id)
}

func (s *Store) GetExecutionByEvent(ctx context.Context, eventID string) (*workflow.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.executions[eventID]
	if !ok {
		return nil, noderr.NotFound("execution for event", eventID)
	}
	cp := *e
	return &cp, nil
}

// ListExecutions returns executions for a workflow, most recent first.
func (s *Store) ListExecutions(ctx context.Context, workflowID string) ([]workflow.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []workflow.Execution
	for _, e := range s.executions {
		if e.WorkflowID == workflowID {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out, nil
}

func (s *Store) PutCredential(ctx context.Context, c *workflow.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credentials[c.ID] = *c
	return nil
}

func (s *Store) GetCredential(ctx context.Context, id string) (*workflow.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.credentials[id]
	if !ok {
		return nil, noderr.NotFound("credential", id)
	}
	return &c, nil
}
