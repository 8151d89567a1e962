// Package step provides named, checkpointed and retried units of work.
//
// Every step result is stored as JSON under the ID of the event which
// triggered the execution. If the same event is delivered again, steps
// which already finished return their stored result instead of running
// their side effects a second time.
package step

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/common-fate/clio"
	"github.com/common-fate/rheoma/pkg/noderr"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("github.com/common-fate/rheoma/pkg/step")

// Checkpoints persists step results.
type Checkpoints interface {
	LoadCheckpoint(ctx context.Context, eventID, name string) ([]byte, bool, error)
	SaveCheckpoint(ctx context.Context, eventID, name string, data []byte) error
}

// Runner runs a named step and returns its JSON-encoded result.
type Runner interface {
	Do(ctx context.Context, name string, fn func(ctx context.Context) (any, error)) ([]byte, error)
}

// Run executes fn as a step and decodes the result into T.
//
// The result always goes through a JSON round trip, so a replayed step
// and a fresh one return identical values (numbers decode as float64
// inside untyped maps).
func Run[T any](ctx context.Context, r Runner, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	raw, err := r.Do(ctx, name, func(ctx context.Context) (any, error) {
		return fn(ctx)
	})
	if err != nil {
		return out, err
	}
	err = json.Unmarshal(raw, &out)
	if err != nil {
		return out, errors.Wrapf(err, "decoding result of step %s", name)
	}
	return out, nil
}

// Durable is a Runner scoped to a single triggering event.
type Durable struct {
	EventID     string
	Checkpoints Checkpoints
	Policy      Policy

	// Sleep waits between attempts. Overridden in tests.
	Sleep func(ctx context.Context, d time.Duration) error

	mu   sync.Mutex
	seen map[string]int
}

func New(eventID string, cp Checkpoints, p Policy) *Durable {
	return &Durable{
		EventID:     eventID,
		Checkpoints: cp,
		Policy:      p,
		Sleep:       sleep,
		seen:        map[string]int{},
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// key returns a unique checkpoint key for a step name.
// A name used more than once in an execution gets a numeric suffix,
// which is stable as long as steps run in the same order.
func (d *Durable) key(name string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen == nil {
		d.seen = map[string]int{}
	}
	n := d.seen[name]
	d.seen[name]++
	if n == 0 {
		return name
	}
	return fmt.Sprintf("%s:%d", name, n)
}

func (d *Durable) Do(ctx context.Context, name string, fn func(ctx context.Context) (any, error)) ([]byte, error) {
	key := d.key(name)

	ctx, span := tracer.Start(ctx, "step "+key)
	defer span.End()
	span.SetAttributes(attribute.String("rheoma.event_id", d.EventID))

	data, ok, err := d.Checkpoints.LoadCheckpoint(ctx, d.EventID, key)
	if err != nil {
		return nil, errors.Wrapf(err, "loading checkpoint for step %s", key)
	}
	if ok {
		clio.Debugf("step %s: replaying checkpointed result", key)
		span.SetAttributes(attribute.Bool("rheoma.replayed", true))
		return data, nil
	}

	policy := d.Policy.normalized()
	wait := d.Sleep
	if wait == nil {
		wait = sleep
	}

	for attempt := 0; ; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			data, err = json.Marshal(result)
			if err != nil {
				return nil, errors.Wrapf(err, "encoding result of step %s", key)
			}
			err = d.Checkpoints.SaveCheckpoint(ctx, d.EventID, key, data)
			if err != nil {
				return nil, errors.Wrapf(err, "saving checkpoint for step %s", key)
			}
			return data, nil
		}

		if !noderr.Retriable(err) || attempt >= policy.MaxRetries {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}

		delay := policy.Backoff(attempt)
		clio.Warnf("step %s failed (attempt %d of %d), retrying in %s: %s", key, attempt+1, policy.MaxRetries+1, delay, err)

		if werr := wait(ctx, delay); werr != nil {
			return nil, errors.Wrapf(err, "step %s cancelled while waiting to retry", key)
		}
	}
}

// Memory is an in-memory Checkpoints implementation.
type Memory struct {
	mu   sync.Mutex
	data map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{data: map[string][]byte{}}
}

func (m *Memory) LoadCheckpoint(ctx context.Context, eventID, name string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.data[eventID+"/"+name]
	return b, ok, nil
}

func (m *Memory) SaveCheckpoint(ctx context.Context, eventID, name string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		m.data = map[string][]byte{}
	}
	m.data[eventID+"/"+name] = data
	return nil
}
