package command

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/common-fate/clio"
	"github.com/common-fate/rheoma"
	"github.com/common-fate/rheoma/pkg/config"
	"github.com/common-fate/rheoma/pkg/dialect/standard"
	"github.com/common-fate/rheoma/pkg/jsoncel"
	"github.com/common-fate/rheoma/pkg/realtime"
	"github.com/common-fate/rheoma/pkg/secret"
	"github.com/common-fate/rheoma/pkg/store/memstore"
	"github.com/common-fate/rheoma/pkg/workflow"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"resty.dev/v3"
)

var Run = cli.Command{
	Name:  "run",
	Usage: "execute a workflow file once against an in-memory store",
	Flags: []cli.Flag{
		&cli.PathFlag{Name: "file", Aliases: []string{"f"}, Usage: "the workflow YAML file to run", Required: true},
		&cli.PathFlag{Name: "input", Aliases: []string{"i"}, Usage: "the initial data for the workflow, in JSON format"},
		&cli.StringSliceFlag{Name: "credential", Aliases: []string{"c"}, Usage: "a credential available to the workflow, as id=value"},
		&cli.PathFlag{Name: "config", Usage: "the config file"},
	},
	Action: func(c *cli.Context) error {
		ctx := c.Context

		cfg, err := config.Load(c.Path("config"))
		if err != nil {
			return err
		}

		client := resty.New().SetTimeout(cfg.HTTP.Timeout)
		defer client.Close()
		d := standard.New(client)

		w, err := loadWorkflow(c.Path("file"), d)
		if err != nil {
			return err
		}

		var initial map[string]any
		if f := c.Path("input"); f != "" {
			data, err := os.ReadFile(f)
			if err != nil {
				return err
			}
			if err := json.Unmarshal(data, &initial); err != nil {
				return errors.Wrapf(err, "parsing input file %s", f)
			}
		}

		ms := memstore.New()
		if err := ms.PutWorkflow(ctx, w); err != nil {
			return err
		}

		box, err := runBox(cfg.Secrets.MasterKey)
		if err != nil {
			return err
		}
		for _, kv := range c.StringSlice("credential") {
			id, value, ok := strings.Cut(kv, "=")
			if !ok || id == "" {
				return fmt.Errorf("invalid credential %q: expected id=value", kv)
			}
			sealed, err := box.Seal(value)
			if err != nil {
				return err
			}
			err = ms.PutCredential(ctx, &workflow.Credential{ID: id, UserID: w.UserID, Name: id, Value: sealed})
			if err != nil {
				return err
			}
		}

		resolver, err := jsoncel.NewResolver()
		if err != nil {
			return err
		}

		rec := &realtime.Recorder{}
		engine := &rheoma.Engine{
			Store:       ms,
			Dialect:     d,
			Publisher:   realtime.Multi{logPublisher{}, rec},
			Resolver:    resolver,
			Credentials: &secret.Vault{Store: ms, Box: box},
			Retry:       cfg.Policy(),
		}

		exec, runErr := engine.Execute(ctx, rheoma.Event{
			ID:          uuid.NewString(),
			WorkflowID:  w.ID,
			UserID:      w.UserID,
			InitialData: initial,
		})

		for _, n := range w.Nodes {
			statuses := rec.Statuses(n.ID)
			if len(statuses) == 0 {
				clio.Infof("%s: did not run", n.ID)
				continue
			}
			clio.Infof("%s: %s (%d status events)", n.ID, statuses[len(statuses)-1], len(statuses))
		}

		if exec != nil {
			out, err := json.MarshalIndent(exec, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
		}
		return runErr
	},
}

// runBox returns a Box for sealing command line credentials. Without a
// configured master key the credentials only live for this run, so a
// random key is used.
func runBox(masterKey string) (*secret.Box, error) {
	if masterKey == "" {
		key := make([]byte, secret.KeySize)
		if _, err := rand.Read(key); err != nil {
			return nil, err
		}
		masterKey = hex.EncodeToString(key)
	}
	return secret.NewBox(masterKey)
}

// logPublisher logs node status events.
type logPublisher struct{}

func (logPublisher) Publish(ctx context.Context, channel, topic string, data any) error {
	if ns, ok := data.(realtime.NodeStatus); ok {
		clio.Debugf("[%s] %s", ns.NodeID, ns.Status)
		return nil
	}
	clio.Debugf("%s %s: %v", channel, topic, data)
	return nil
}
