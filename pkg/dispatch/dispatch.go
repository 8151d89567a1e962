// Package dispatch delivers named events to handlers on a pool of
// workers. A handler which returns an error has its event delivered
// again, up to a limit.
package dispatch

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/common-fate/clio"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// ErrClosed is returned by Send once Close has been called.
var ErrClosed = errors.New("dispatcher is closed")

type Event struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Data json.RawMessage `json:"data"`
	// Attempt is 1 on the first delivery.
	Attempt int `json:"attempt"`
}

type Handler func(ctx context.Context, ev Event) error

type Config struct {
	// Workers is the number of events handled at the same time.
	Workers int
	// QueueSize is the number of events buffered before Send blocks.
	QueueSize int
	// MaxDeliveries is the number of times an event is handled
	// before it is dropped.
	MaxDeliveries int
	// RedeliveryDelay is the wait before a failed event is queued again.
	RedeliveryDelay time.Duration
}

var DefaultConfig = Config{
	Workers:         4,
	QueueSize:       64,
	MaxDeliveries:   3,
	RedeliveryDelay: time.Second,
}

type Dispatcher struct {
	cfg Config

	mu       sync.RWMutex
	handlers map[string]Handler
	closed   bool
	started  bool

	queue    chan Event
	sem      *semaphore.Weighted
	group    *errgroup.Group
	inflight sync.WaitGroup
	cancel   context.CancelFunc
}

func New(cfg Config) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig.QueueSize
	}
	if cfg.MaxDeliveries <= 0 {
		cfg.MaxDeliveries = DefaultConfig.MaxDeliveries
	}
	return &Dispatcher{
		cfg:      cfg,
		handlers: map[string]Handler{},
		queue:    make(chan Event, cfg.QueueSize),
		sem:      semaphore.NewWeighted(int64(cfg.Workers)),
	}
}

// Handle registers the handler for events with the given name.
func (d *Dispatcher) Handle(name string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[name] = h
}

// Start begins delivering queued events. Handlers receive a context
// derived from ctx.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return
	}
	d.started = true

	ctx, d.cancel = context.WithCancel(ctx)
	d.group, ctx = errgroup.WithContext(ctx)
	d.group.Go(func() error {
		for ev := range d.queue {
			if err := d.sem.Acquire(ctx, 1); err != nil {
				d.inflight.Done()
				continue
			}
			ev := ev
			d.group.Go(func() error {
				defer d.sem.Release(1)
				d.deliver(ctx, ev)
				return nil
			})
		}
		return nil
	})
}

// SendOption customises a sent event.
type SendOption func(ev *Event)

// WithID sets the event ID. Sending the same ID twice lets handlers
// recognise the duplicate.
func WithID(id string) SendOption {
	return func(ev *Event) {
		ev.ID = id
	}
}

// Send queues an event and returns its ID. The payload is encoded as JSON.
func (d *Dispatcher) Send(ctx context.Context, name string, payload any, opts ...SendOption) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", errors.Wrap(err, "encoding event payload")
	}
	ev := Event{ID: uuid.NewString(), Name: name, Data: data, Attempt: 1}
	for _, o := range opts {
		o(&ev)
	}

	d.mu.RLock()
	if d.closed {
		d.mu.RUnlock()
		return "", ErrClosed
	}
	d.inflight.Add(1)
	d.mu.RUnlock()

	select {
	case d.queue <- ev:
		clio.Debugf("queued event %s (%s)", ev.ID, ev.Name)
		return ev.ID, nil
	case <-ctx.Done():
		d.inflight.Done()
		return "", ctx.Err()
	}
}

func (d *Dispatcher) deliver(ctx context.Context, ev Event) {
	d.mu.RLock()
	h, ok := d.handlers[ev.Name]
	d.mu.RUnlock()
	if !ok {
		clio.Warnf("dropping event %s: no handler is registered for %s", ev.ID, ev.Name)
		d.inflight.Done()
		return
	}

	err := h(ctx, ev)
	if err == nil {
		d.inflight.Done()
		return
	}

	if ev.Attempt >= d.cfg.MaxDeliveries || ctx.Err() != nil {
		clio.Errorf("event %s (%s) failed after %d deliveries: %s", ev.ID, ev.Name, ev.Attempt, err)
		d.inflight.Done()
		return
	}

	clio.Warnf("event %s (%s) failed on delivery %d, delivering again: %s", ev.ID, ev.Name, ev.Attempt, err)
	ev.Attempt++
	go func() {
		if d.cfg.RedeliveryDelay > 0 {
			t := time.NewTimer(d.cfg.RedeliveryDelay)
			defer t.Stop()
			select {
			case <-ctx.Done():
				d.inflight.Done()
				return
			case <-t.C:
			}
		}
		// the queue stays open while this event is in flight.
		d.queue <- ev
	}()
}

// Close stops accepting events and waits until every queued event,
// including redeliveries, has been handled.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	started := d.started
	d.mu.Unlock()

	if !started {
		close(d.queue)
		return nil
	}

	d.inflight.Wait()
	close(d.queue)
	err := d.group.Wait()
	d.cancel()
	return err
}
