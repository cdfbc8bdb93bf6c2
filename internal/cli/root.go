// Package cli implements the narci command line.
package cli

import (
	"os"

	"github.com/spf13/cobra"

	"narci/internal/config"
	xlog "narci/internal/log"
)

func Execute() {
	cmd := newRootCmd()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// app carries state shared by subcommands once flags are parsed.
type app struct {
	configPath string
	logLevel   string
	cfg        config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:          "narci",
		Short:        "Run GitHub-style workflows locally and inspect Nix binary caches",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return err
			}
			if a.logLevel != "" {
				cfg.LogLevel = a.logLevel
			}
			a.cfg = cfg
			xlog.Configure(xlog.Config{Level: cfg.LogLevel, Output: cmd.ErrOrStderr()})
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "config file (default ./narci.yaml if present)")
	cmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")

	cmd.AddCommand(
		initCmd(a),
		validateCmd(a),
		runCmd(a),
		serveCmd(a),
		narinfoCmd(a),
		keygenCmd(),
		ledgerCmd(a),
	)
	return cmd
}
