package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"narci/internal/config"
	xlog "narci/internal/log"
	"narci/internal/server"
	"narci/internal/storage"
)

func serveCmd(a *app) *cobra.Command {
	var listen string

	c := &cobra.Command{
		Use:   "serve",
		Short: "Accept trigger events over HTTP and run the workflow for each",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := a.cfg
			if listen != "" {
				cfg.Listen = listen
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			workflows, err := config.NewWorkflowHolder(cfg.Workflow)
			if err != nil {
				return err
			}
			if err := workflows.StartWatcher(ctx); err != nil {
				return err
			}

			runner, led, err := newRunner(cfg)
			if err != nil {
				return err
			}
			ledgerKeys, err := cfg.LedgerTrustedKeys()
			if err != nil {
				return err
			}

			client, closeCache, err := newCacheClient(cfg)
			if err != nil {
				return err
			}
			defer closeCache()

			logger := xlog.WithComponent("cli")
			logger.Info().
				Str("workflow", displayPath(workflows.Path())).
				Str("ledger", led.Path()).
				Str("cache", client.BaseURL).
				Msg("starting server")

			srv := server.New(server.Config{
				Workflows:  workflows,
				Runner:     runner,
				Logs:       storage.NewLogStorage(cfg.LogDir),
				Ledger:     led,
				LedgerKeys: ledgerKeys,
				NarInfo:    client,
				Checks:     map[string]func(context.Context) error{"cache": client.HealthCheck},
				EventRate:  cfg.EventRate,
			})
			return srv.ListenAndServe(ctx, cfg.Listen)
		},
	}
	c.Flags().StringVarP(&listen, "listen", "l", "", "listen address (overrides config)")
	return c
}
