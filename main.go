package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"guide-aggregator/config"
	"guide-aggregator/utils"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

// appContext carries the global flags and the lazily loaded configuration.
type appContext struct {
	configPath string
	logLevel   string

	cfg    *config.Config
	logger *utils.Logger
}

func (a *appContext) load() error {
	cfg, exists, err := config.Load(a.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if !exists {
		fmt.Fprintf(os.Stderr, "config file %s not found, using defaults and environment\n", a.configPath)
	}
	level := cfg.Logging.Level
	if a.logLevel != "" {
		level = a.logLevel
	}
	a.cfg = cfg
	a.logger = utils.NewLoggerTo(os.Stdout, utils.ParseLevel(level))
	return nil
}

func newRootCommand() *cobra.Command {
	app := &appContext{}

	root := &cobra.Command{
		Use:           "guidesync",
		Short:         "Aggregate restaurant guide spreadsheets into one listings tab per market",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Annotations["skipConfigLoad"] == "true" {
				return nil
			}
			return app.load()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	root.PersistentFlags().StringVarP(&app.configPath, "config", "c", "guidesync.toml", "Configuration file path")
	root.PersistentFlags().StringVar(&app.logLevel, "log-level", "", "Override logging.level (debug, info, warn, error)")

	root.AddCommand(newRunCommand(app))
	root.AddCommand(newStatusCommand(app))
	root.AddCommand(newConfigCommand())
	return root
}
