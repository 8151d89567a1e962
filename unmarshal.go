package rheoma

import (
	"context"
	"encoding/json"

	"github.com/common-fate/rheoma/pkg/dialect"
	"github.com/common-fate/rheoma/pkg/node"
	"github.com/common-fate/rheoma/pkg/noderr"
	"github.com/common-fate/rheoma/pkg/workflow"
	"github.com/goccy/go-yaml"
	"github.com/goccy/go-yaml/ast"
	"github.com/pkg/errors"
)

// Unmarshal a workflow definition YAML file.
func Unmarshal(data []byte, d dialect.Dialect) (*Definition, error) {
	var def Definition
	ctx := Use(context.Background(), d)

	err := yaml.UnmarshalContext(ctx, data, &def)
	if err != nil {
		return nil, err
	}
	return &def, nil
}

// Definition is a workflow loaded from YAML.
//
//	id: scrape
//	userId: user-1
//	nodes:
//	  - id: t
//	    type: MANUAL_TRIGGER
//	  - id: h
//	    type: HTTP_REQUEST
//	    data: {endpoint: "https://example.com"}
//	connections:
//	  - from: t
//	    to: h
type Definition struct {
	Workflow workflow.Workflow
}

type nodeSpec struct {
	ID       string            `yaml:"id"`
	Type     string            `yaml:"type"`
	Position workflow.Position `yaml:"position"`
	Data     map[string]any    `yaml:"data"`
}

type connectionSpec struct {
	From       string `yaml:"from"`
	To         string `yaml:"to"`
	FromOutput string `yaml:"fromOutput"`
	ToInput    string `yaml:"toInput"`
}

func (def *Definition) UnmarshalYAML(ctx context.Context, b []byte) error {
	d, ok := dialect.FromContext(ctx)
	if !ok {
		return errors.New("dialect must be defined in context using rheoma.Use()")
	}
	if err := d.Validate(); err != nil {
		return err
	}

	var tmp struct {
		ID          string     `yaml:"id"`
		UserID      string     `yaml:"userId"`
		Name        string     `yaml:"name"`
		Nodes       []ast.Node `yaml:"nodes"`
		Connections []ast.Node `yaml:"connections"`
	}
	err := yaml.Unmarshal(b, &tmp)
	if err != nil {
		return err
	}

	w := workflow.Workflow{ID: tmp.ID, UserID: tmp.UserID, Name: tmp.Name}
	seen := map[string]bool{}

	for _, n := range tmp.Nodes {
		wn, err := parseNode(n, d, seen)
		if err != nil {
			return err
		}
		w.Nodes = append(w.Nodes, wn)
	}

	for _, n := range tmp.Connections {
		c, err := parseConnection(n, seen)
		if err != nil {
			return err
		}
		w.Connections = append(w.Connections, c)
	}

	def.Workflow = w
	return nil
}

// fields returns the keys of a mapping node. A missing key returns
// the mapping itself so that errors still point somewhere useful.
func fields(n ast.Node) (map[string]ast.Node, error) {
	var m map[string]ast.Node
	err := yaml.NodeToValue(n, &m)
	if err != nil {
		return nil, noderr.Wrap(err, n)
	}
	return m, nil
}

func field(m map[string]ast.Node, parent ast.Node, key string) ast.Node {
	if n, ok := m[key]; ok && n != nil {
		return n
	}
	return parent
}

func parseNode(n ast.Node, d dialect.Dialect, seen map[string]bool) (workflow.Node, error) {
	m, err := fields(n)
	if err != nil {
		return workflow.Node{}, err
	}

	var spec nodeSpec
	err = yaml.NodeToValue(n, &spec)
	if err != nil {
		return workflow.Node{}, noderr.Wrap(err, n)
	}

	if spec.ID == "" {
		return workflow.Node{}, noderr.Wrap(errors.New("node must have an 'id' field"), n)
	}
	if seen[spec.ID] {
		return workflow.Node{}, noderr.Wrap(errors.Errorf("duplicate node id %s", spec.ID), field(m, n, "id"))
	}
	seen[spec.ID] = true

	typ, err := node.Parse(spec.Type)
	if err != nil {
		return workflow.Node{}, noderr.Wrap(err, field(m, n, "type"))
	}
	if !d.Supports(typ) {
		return workflow.Node{}, noderr.Wrap(errors.Errorf("node type %s is not supported by this dialect", typ), field(m, n, "type"))
	}

	data, err := normalize(spec.Data)
	if err != nil {
		return workflow.Node{}, noderr.Wrap(err, field(m, n, "data"))
	}

	return workflow.Node{
		ID:       spec.ID,
		Type:     typ,
		Position: spec.Position,
		Data:     data,
	}, nil
}

func parseConnection(n ast.Node, seen map[string]bool) (workflow.Connection, error) {
	m, err := fields(n)
	if err != nil {
		return workflow.Connection{}, err
	}

	var spec connectionSpec
	err = yaml.NodeToValue(n, &spec)
	if err != nil {
		return workflow.Connection{}, noderr.Wrap(err, n)
	}

	for _, end := range []struct{ key, id string }{{"from", spec.From}, {"to", spec.To}} {
		if end.id == "" {
			return workflow.Connection{}, noderr.Wrap(errors.Errorf("connection must have a '%s' field", end.key), n)
		}
		if !seen[end.id] {
			return workflow.Connection{}, noderr.Wrap(noderr.NotFound("node", end.id), field(m, n, end.key))
		}
	}

	c := workflow.Connection{
		FromNodeID:     spec.From,
		ToNodeID:       spec.To,
		FromOutputSlot: spec.FromOutput,
		ToInputSlot:    spec.ToInput,
	}
	return c.Normalize(), nil
}

// normalize round trips node data through JSON so that a definition
// loaded from YAML holds the same value types as one loaded from a store.
func normalize(data map[string]any) (map[string]any, error) {
	if data == nil {
		return map[string]any{}, nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return nil, errors.Wrap(err, "node data must be representable as JSON")
	}
	var out map[string]any
	err = json.Unmarshal(b, &out)
	if err != nil {
		return nil, err
	}
	return out, nil
}
