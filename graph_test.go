package rheoma

import (
	"testing"

	"github.com/common-fate/rheoma/pkg/node"
	"github.com/common-fate/rheoma/pkg/noderr"
	"github.com/common-fate/rheoma/pkg/workflow"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func nodes(ids ...string) []workflow.Node {
	var out []workflow.Node
	for _, id := range ids {
		out = append(out, workflow.Node{ID: id, Type: node.ManualTrigger})
	}
	return out
}

func conn(from, to string) workflow.Connection {
	return workflow.Connection{FromNodeID: from, ToNodeID: to}
}

func ids(ns []workflow.Node) []string {
	var out []string
	for _, n := range ns {
		out = append(out, n.ID)
	}
	return out
}

func TestSort(t *testing.T) {
	tests := []struct {
		name      string
		give      workflow.Workflow
		want      []string
		wantCycle bool
		wantErr   bool
	}{
		{
			name: "no connections keeps stored order",
			give: workflow.Workflow{Nodes: nodes("c", "a", "b")},
			want: []string{"c", "a", "b"},
		},
		{
			name: "chain defined backwards",
			give: workflow.Workflow{
				Nodes:       nodes("c", "b", "a"),
				Connections: []workflow.Connection{conn("a", "b"), conn("b", "c")},
			},
			want: []string{"a", "b", "c"},
		},
		{
			name: "diamond breaks ties by definition order",
			give: workflow.Workflow{
				Nodes:       nodes("a", "c", "b", "d"),
				Connections: []workflow.Connection{conn("a", "b"), conn("a", "c"), conn("b", "d"), conn("c", "d")},
			},
			want: []string{"a", "c", "b", "d"},
		},
		{
			name: "isolated nodes run last in definition order",
			give: workflow.Workflow{
				Nodes:       nodes("x", "b", "y", "a"),
				Connections: []workflow.Connection{conn("a", "b")},
			},
			want: []string{"a", "b", "x", "y"},
		},
		{
			name: "duplicate connections on different slots",
			give: workflow.Workflow{
				Nodes: nodes("a", "b"),
				Connections: []workflow.Connection{
					conn("a", "b"),
					{FromNodeID: "a", ToNodeID: "b", FromOutputSlot: "true", ToInputSlot: "main"},
				},
			},
			want: []string{"a", "b"},
		},
		{
			name: "two node cycle",
			give: workflow.Workflow{
				Nodes:       nodes("a", "b"),
				Connections: []workflow.Connection{conn("a", "b"), conn("b", "a")},
			},
			wantCycle: true,
		},
		{
			name: "self loop",
			give: workflow.Workflow{
				Nodes:       nodes("a"),
				Connections: []workflow.Connection{conn("a", "a")},
			},
			wantCycle: true,
		},
		{
			name: "connection to unknown node",
			give: workflow.Workflow{
				Nodes:       nodes("a"),
				Connections: []workflow.Connection{conn("a", "missing")},
			},
			wantErr: true,
		},
		{
			name:    "duplicate node id",
			give:    workflow.Workflow{Nodes: nodes("a", "a")},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Sort(&tt.give)

			if tt.wantCycle {
				var ce *noderr.CycleError
				assert.True(t, errors.As(err, &ce), "expected a CycleError, got %v", err)
				return
			}
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			assert.Equal(t, tt.want, ids(got))
		})
	}
}

// every connection (a -> b) must place a before b.
func TestSort_RespectsConnections(t *testing.T) {
	w := workflow.Workflow{
		Nodes: nodes("f", "e", "d", "c", "b", "a", "z"),
		Connections: []workflow.Connection{
			conn("a", "c"), conn("b", "c"), conn("c", "d"),
			conn("a", "e"), conn("e", "f"), conn("d", "f"),
		},
	}
	got, err := Sort(&w)
	if err != nil {
		t.Fatal(err)
	}

	pos := map[string]int{}
	for i, n := range got {
		pos[n.ID] = i
	}
	for _, c := range w.Connections {
		assert.Less(t, pos[c.FromNodeID], pos[c.ToNodeID], "%s must run before %s", c.FromNodeID, c.ToNodeID)
	}
	assert.Equal(t, "z", got[len(got)-1].ID)
}
