package main

import (
	"os"

	"github.com/common-fate/clio"
	"github.com/common-fate/rheoma/cmd/command"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "rheoma",
		Usage: "run workflow automations",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "verbose", Usage: "enable debug logging"},
		},
		Before: func(c *cli.Context) error {
			clio.SetLevelFromEnv("RHEOMA_LOG")
			if c.Bool("verbose") {
				clio.SetLevelFromString("debug")
			}
			return nil
		},
		Commands: []*cli.Command{
			&command.Graph,
			&command.Run,
			&command.Serve,
			&command.PutWorkflow,
			&command.PutCredential,
		},
	}
	err := app.Run(os.Args)
	if err != nil {
		clio.Error(err)
		os.Exit(1)
	}
}
