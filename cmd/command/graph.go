package command

import (
	"os"
	"strconv"
	"strings"

	"github.com/common-fate/clio"
	"github.com/common-fate/rheoma"
	"github.com/common-fate/rheoma/pkg/dialect/standard"
	"github.com/dominikbraun/graph/draw"
	"github.com/urfave/cli/v2"
	"resty.dev/v3"
)

var Graph = cli.Command{
	Name:  "graph",
	Usage: "print the execution order of a workflow and render it in DOT format",
	Flags: []cli.Flag{
		&cli.PathFlag{Name: "file", Aliases: []string{"f"}, Usage: "the workflow YAML file", Required: true},
	},
	Action: func(c *cli.Context) error {
		client := resty.New()
		defer client.Close()

		w, err := loadWorkflow(c.Path("file"), standard.New(client))
		if err != nil {
			return err
		}

		g, err := rheoma.NewGraph(w)
		if err != nil {
			return err
		}
		sorted, err := g.Sort()
		if err != nil {
			return err
		}

		var order []string
		for i, n := range sorted {
			order = append(order, n.ID)

			// number the nodes in the order they run
			_, props, err := g.G.VertexWithProperties(n.ID)
			if err != nil {
				return err
			}
			props.Attributes["xlabel"] = strconv.Itoa(i + 1)
		}
		clio.Infof("execution order: %s", strings.Join(order, " -> "))

		return draw.DOT(g.G, os.Stdout)
	},
}
