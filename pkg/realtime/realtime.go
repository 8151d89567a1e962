// Package realtime broadcasts live node status events.
// Delivery is best effort: a failed publish never affects an execution.
package realtime

import (
	"context"
	"sync"

	"github.com/common-fate/clio"
)

// StatusTopic is the topic every node channel carries.
const StatusTopic = "status"

type Status string

const (
	Loading Status = "loading"
	Success Status = "success"
	Error   Status = "error"
)

// NodeStatus is the payload of a status event.
type NodeStatus struct {
	NodeID string `json:"nodeId"`
	Status Status `json:"status"`
}

// Message is a single published event.
type Message struct {
	Channel string `json:"channel"`
	Topic   string `json:"topic"`
	Data    any    `json:"data"`
}

type Publisher interface {
	Publish(ctx context.Context, channel, topic string, data any) error
}

// PublishStatus publishes a node status event. Errors are logged and dropped.
func PublishStatus(ctx context.Context, pub Publisher, channel, nodeID string, status Status) {
	if pub == nil {
		return
	}
	err := pub.Publish(ctx, channel, StatusTopic, NodeStatus{NodeID: nodeID, Status: status})
	if err != nil {
		clio.Warnf("publishing %s status for node %s on %s: %s", status, nodeID, channel, err)
	}
}

// Recorder keeps every published message in memory.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
}

func (r *Recorder) Publish(ctx context.Context, channel, topic string, data any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, Message{Channel: channel, Topic: topic, Data: data})
	return nil
}

// Messages returns a copy of the recorded messages.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message{}, r.messages...)
}

// Statuses returns the recorded status events for a node, in publish order.
func (r *Recorder) Statuses(nodeID string) []Status {
	var out []Status
	for _, m := range r.Messages() {
		if ns, ok := m.Data.(NodeStatus); ok && ns.NodeID == nodeID {
			out = append(out, ns.Status)
		}
	}
	return out
}

// Multi publishes to several publishers, returning the first error.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, channel, topic string, data any) error {
	var first error
	for _, p := range m {
		if err := p.Publish(ctx, channel, topic, data); err != nil && first == nil {
			first = err
		}
	}
	return first
}
