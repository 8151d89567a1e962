package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/common-fate/clio"
	"github.com/common-fate/rheoma"
	"github.com/common-fate/rheoma/pkg/dialect/standard"
	"github.com/common-fate/rheoma/pkg/jsoncel"
	"github.com/common-fate/rheoma/pkg/realtime"
	"github.com/common-fate/rheoma/pkg/step"
	"github.com/common-fate/rheoma/pkg/store/memstore"
	"github.com/dominikbraun/graph/draw"
	"github.com/goccy/go-graphviz"
	"resty.dev/v3"
)

func main() {
	err := run(context.Background())
	if err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context) error {
	exampleFolder := "docs/examples"
	outputFolder := "docs/img"

	folders, err := os.ReadDir(exampleFolder)
	if err != nil {
		return err
	}

	client := resty.New()
	defer client.Close()
	d := standard.New(client)

	resolver, err := jsoncel.NewResolver()
	if err != nil {
		return err
	}

	for _, folder := range folders {
		if !folder.IsDir() {
			clio.Infof("skipping %s: not a folder", folder.Name())
			continue
		}

		workflowfile := filepath.Join(exampleFolder, folder.Name(), "workflow.yml")

		data, err := os.ReadFile(workflowfile)
		if err != nil {
			return err
		}

		def, err := rheoma.Unmarshal(data, d)
		if err != nil {
			return err
		}
		w := def.Workflow
		w.ID = folder.Name()

		g, err := rheoma.NewGraph(&w)
		if err != nil {
			return err
		}

		// might or might not have this
		inputFile := filepath.Join(exampleFolder, folder.Name(), "input.json")

		inputBytes, err := os.ReadFile(inputFile)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}

		// if we have input.json, run the actual workflow too
		if err == nil {
			var input map[string]any
			err = json.Unmarshal(inputBytes, &input)
			if err != nil {
				return err
			}

			ms := memstore.New()
			if err := ms.PutWorkflow(ctx, &w); err != nil {
				return err
			}
			rec := &realtime.Recorder{}
			engine := &rheoma.Engine{
				Store:     ms,
				Dialect:   d,
				Publisher: rec,
				Resolver:  resolver,
				Retry:     step.Policy{},
			}
			exec, err := engine.Execute(ctx, rheoma.Event{ID: "docs-" + folder.Name(), WorkflowID: w.ID, InitialData: input})
			if err != nil {
				return err
			}
			clio.Debugf("%s finished with status %s", folder.Name(), exec.Status)

			// shade nodes by their last status
			for _, n := range w.Nodes {
				statuses := rec.Statuses(n.ID)
				if len(statuses) == 0 {
					continue
				}
				_, props, err := g.G.VertexWithProperties(n.ID)
				if err != nil {
					return err
				}
				props.Attributes["style"] = "filled"

				switch statuses[len(statuses)-1] {
				case realtime.Success:
					props.Attributes["fillcolor"] = "#00FF00"
				case realtime.Loading:
					props.Attributes["fillcolor"] = "#89CFF0"
				case realtime.Error:
					props.Attributes["fillcolor"] = "#FF6961"
				}
			}
		}

		var buf bytes.Buffer

		err = draw.DOT(g.G, &buf)
		if err != nil {
			return err
		}

		graph, err := graphviz.ParseBytes(buf.Bytes())
		if err != nil {
			return err
		}
		gv := graphviz.New()

		outfile := filepath.Join(outputFolder, strings.ToLower(folder.Name())+".svg")
		err = gv.RenderFilename(graph, graphviz.SVG, outfile)
		if err != nil {
			return err
		}
		clio.Successf("rendered %s", outfile)
	}
	return nil
}
