package command

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/common-fate/clio"
	"github.com/common-fate/rheoma"
	"github.com/common-fate/rheoma/pkg/config"
	"github.com/common-fate/rheoma/pkg/dialect/standard"
	"github.com/common-fate/rheoma/pkg/dispatch"
	"github.com/common-fate/rheoma/pkg/jsoncel"
	"github.com/common-fate/rheoma/pkg/realtime"
	"github.com/common-fate/rheoma/pkg/secret"
	"github.com/common-fate/rheoma/pkg/store/sqlstore"
	"github.com/common-fate/rheoma/pkg/webhook"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"resty.dev/v3"
)

const shutdownTimeout = 30 * time.Second

var Serve = cli.Command{
	Name:  "serve",
	Usage: "run the webhook server and execution workers",
	Flags: []cli.Flag{
		&cli.PathFlag{Name: "config", Usage: "the config file"},
	},
	Action: func(c *cli.Context) error {
		ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
		defer stop()

		cfg, err := config.Load(c.Path("config"))
		if err != nil {
			return err
		}

		db, err := sqlstore.Open(ctx, sqlstore.Config{Path: cfg.Database.Path})
		if err != nil {
			return err
		}
		defer db.Close()

		vault := &secret.Vault{Store: db}
		if cfg.Secrets.MasterKey != "" {
			vault.Box, err = secret.NewBox(cfg.Secrets.MasterKey)
			if err != nil {
				return err
			}
		} else {
			clio.Warnf("secrets.masterKey is not set: nodes which use credentials will fail")
		}

		resolver, err := jsoncel.NewResolver()
		if err != nil {
			return err
		}

		hub := realtime.NewHub()
		defer hub.Close()

		client := resty.New().SetTimeout(cfg.HTTP.Timeout)
		defer client.Close()

		engine := &rheoma.Engine{
			Store:       db,
			Dialect:     standard.New(client),
			Publisher:   hub,
			Resolver:    resolver,
			Credentials: vault,
			Retry:       cfg.Policy(),
		}

		d := dispatch.New(cfg.Dispatcher())
		d.Handle(rheoma.ExecuteEventName, engine.Handle)
		d.Start(ctx)
		defer d.Close()

		srv := &http.Server{
			Addr: cfg.Server.Addr,
			Handler: (&webhook.Server{
				Sender:     d,
				Executions: db,
				Realtime:   hub,
			}).Router(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		errs := make(chan error, 1)
		go func() {
			clio.Infof("listening on %s", cfg.Server.Addr)
			errs <- srv.ListenAndServe()
		}()

		select {
		case err := <-errs:
			if !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		case <-ctx.Done():
		}

		clio.Infof("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}
