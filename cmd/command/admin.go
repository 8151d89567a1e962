package command

import (
	"github.com/common-fate/clio"
	"github.com/common-fate/rheoma/pkg/config"
	"github.com/common-fate/rheoma/pkg/dialect/standard"
	"github.com/common-fate/rheoma/pkg/secret"
	"github.com/common-fate/rheoma/pkg/store/sqlstore"
	"github.com/common-fate/rheoma/pkg/workflow"
	"github.com/urfave/cli/v2"
	"resty.dev/v3"
)

var PutWorkflow = cli.Command{
	Name:  "put-workflow",
	Usage: "validate a workflow file and save it to the database",
	Flags: []cli.Flag{
		&cli.PathFlag{Name: "file", Aliases: []string{"f"}, Usage: "the workflow YAML file", Required: true},
		&cli.PathFlag{Name: "config", Usage: "the config file"},
	},
	Action: func(c *cli.Context) error {
		ctx := c.Context

		cfg, err := config.Load(c.Path("config"))
		if err != nil {
			return err
		}

		client := resty.New()
		defer client.Close()

		w, err := loadWorkflow(c.Path("file"), standard.New(client))
		if err != nil {
			return err
		}

		db, err := sqlstore.Open(ctx, sqlstore.Config{Path: cfg.Database.Path})
		if err != nil {
			return err
		}
		defer db.Close()

		if err := db.PutWorkflow(ctx, w); err != nil {
			return err
		}
		clio.Infof("saved workflow %s (%d nodes, %d connections)", w.ID, len(w.Nodes), len(w.Connections))
		return nil
	},
}

var PutCredential = cli.Command{
	Name:  "put-credential",
	Usage: "encrypt a credential and save it to the database",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "id", Required: true},
		&cli.StringFlag{Name: "user", Usage: "the user who owns the credential", Value: DefaultUserID},
		&cli.StringFlag{Name: "name"},
		&cli.StringFlag{Name: "type", Usage: "the credential type, e.g. openai"},
		&cli.StringFlag{Name: "value", Usage: "the secret value", Required: true, EnvVars: []string{"RHEOMA_CREDENTIAL_VALUE"}},
		&cli.PathFlag{Name: "config", Usage: "the config file"},
	},
	Action: func(c *cli.Context) error {
		ctx := c.Context

		cfg, err := config.Load(c.Path("config"))
		if err != nil {
			return err
		}
		box, err := secret.NewBox(cfg.Secrets.MasterKey)
		if err != nil {
			return err
		}
		sealed, err := box.Seal(c.String("value"))
		if err != nil {
			return err
		}

		db, err := sqlstore.Open(ctx, sqlstore.Config{Path: cfg.Database.Path})
		if err != nil {
			return err
		}
		defer db.Close()

		name := c.String("name")
		if name == "" {
			name = c.String("id")
		}
		err = db.PutCredential(ctx, &workflow.Credential{
			ID:     c.String("id"),
			UserID: c.String("user"),
			Name:   name,
			Type:   c.String("type"),
			Value:  sealed,
		})
		if err != nil {
			return err
		}
		clio.Infof("saved credential %s for user %s", c.String("id"), c.String("user"))
		return nil
	},
}
