package rheoma

import (
	"github.com/common-fate/rheoma/pkg/noderr"
	"github.com/common-fate/rheoma/pkg/workflow"
	"github.com/dominikbraun/graph"
	"github.com/pkg/errors"
)

// Graph is the directed graph built from a workflow's connections.
type Graph struct {
	// G is the underlying graph data structure.
	// It contains every node in the workflow, including isolated ones.
	G graph.Graph[string, workflow.Node]

	nodes []workflow.Node

	// index is the position of each node in the definition order.
	index map[string]int

	// connected contains the IDs of nodes which appear in at least one connection.
	connected map[string]bool
}

var nodeHash = func(n workflow.Node) string {
	return n.ID
}

// NewGraph builds the execution graph for a workflow.
// It returns a CycleError if the connections do not form a DAG.
func NewGraph(w *workflow.Workflow) (*Graph, error) {
	g := &Graph{
		G:         graph.New(nodeHash, graph.Directed(), graph.PreventCycles()),
		nodes:     w.Nodes,
		index:     map[string]int{},
		connected: map[string]bool{},
	}

	for i, n := range w.Nodes {
		if _, ok := g.index[n.ID]; ok {
			return nil, errors.Errorf("duplicate node id %s", n.ID)
		}
		g.index[n.ID] = i

		err := g.G.AddVertex(n, graph.VertexAttribute("label", n.ID+" ("+n.Type.String()+")"))
		if err != nil {
			return nil, err
		}
	}

	for _, c := range w.Connections {
		if _, ok := g.index[c.FromNodeID]; !ok {
			return nil, noderr.NotFound("node", c.FromNodeID)
		}
		if _, ok := g.index[c.ToNodeID]; !ok {
			return nil, noderr.NotFound("node", c.ToNodeID)
		}

		g.connected[c.FromNodeID] = true
		g.connected[c.ToNodeID] = true

		err := g.G.AddEdge(c.FromNodeID, c.ToNodeID)
		if errors.Is(err, graph.ErrEdgeCreatesCycle) {
			return nil, &noderr.CycleError{From: c.FromNodeID, To: c.ToNodeID}
		}
		// two connections between the same nodes on different slots
		// impose the same ordering constraint.
		if err != nil && !errors.Is(err, graph.ErrEdgeAlreadyExists) {
			return nil, err
		}
	}

	return g, nil
}

// Sort returns the nodes in execution order.
//
// Connected nodes are topologically sorted, with ties broken by
// definition order. Isolated nodes follow in definition order.
// A workflow without connections runs in its stored order.
func (g *Graph) Sort() ([]workflow.Node, error) {
	if len(g.connected) == 0 {
		return append([]workflow.Node{}, g.nodes...), nil
	}

	ids, err := graph.StableTopologicalSort(g.G, func(a, b string) bool {
		return g.index[a] < g.index[b]
	})
	if err != nil {
		return nil, errors.Wrap(err, "sorting workflow")
	}

	var sorted []workflow.Node
	for _, id := range ids {
		if g.connected[id] {
			sorted = append(sorted, g.nodes[g.index[id]])
		}
	}
	for _, n := range g.nodes {
		if !g.connected[n.ID] {
			sorted = append(sorted, n)
		}
	}
	return sorted, nil
}

// Sort is a convenience wrapper which builds the graph for w and sorts it.
func Sort(w *workflow.Workflow) ([]workflow.Node, error) {
	g, err := NewGraph(w)
	if err != nil {
		return nil, err
	}
	return g.Sort()
}
