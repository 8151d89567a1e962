package command

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/common-fate/clio"
	"github.com/common-fate/rheoma"
	"github.com/common-fate/rheoma/pkg/dialect"
	"github.com/common-fate/rheoma/pkg/noderr"
	"github.com/common-fate/rheoma/pkg/workflow"
)

// DefaultUserID owns workflows loaded from files without a userId.
const DefaultUserID = "local"

// loadWorkflow reads a workflow definition file. Definition errors are
// printed alongside the offending YAML.
func loadWorkflow(path string, d dialect.Dialect) (*workflow.Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	def, err := rheoma.Unmarshal(data, d)

	var ne noderr.NodeError
	if errors.As(err, &ne) {
		clio.Infof("node error at: %s", ne.Node.GetPath())
		source, printErr := ne.PrettyPrint(data)
		if printErr != nil {
			clio.Errorf("error pretty printing YAML path: %s", printErr)
		}
		fmt.Fprintf(os.Stderr, "%s\n", source)
	}
	if err != nil {
		return nil, err
	}

	w := def.Workflow
	if w.ID == "" {
		w.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if w.UserID == "" {
		w.UserID = DefaultUserID
	}
	return &w, nil
}
