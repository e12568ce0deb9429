package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/osgeonepal/obe/internal/core/config"
	"github.com/osgeonepal/obe/internal/logger"
)

type globalFlags struct {
	logLevel   string
	logConsole bool
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:   "obe",
		Short: "Open Buildings Extractor",
		Long: `obe downloads building footprints that intersect an area of interest
from Google Open Buildings, Microsoft Global ML Building Footprints,
OpenStreetMap (Overpass) or Overture vector tiles.

Examples:
  obe download -s google -i area.geojson
  obe download -s microsoft -l Nepal -i area.geojson -f geopackage
  obe bbox area.geojson
  obe sources
  obe cache purge microsoft`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "log level (overrides LOG_LEVEL)")
	root.PersistentFlags().BoolVar(&g.logConsole, "log-console", false, "human readable logs on stderr")

	root.AddCommand(newDownloadCmd(g))
	root.AddCommand(newBBoxCmd())
	root.AddCommand(newSourcesCmd(g))
	root.AddCommand(newCacheCmd(g))
	return root
}

// loadConfig reads the environment and applies the global flags.
func (g *globalFlags) loadConfig(cmd *cobra.Command) config.Config {
	cfg := config.FromEnv()
	if g.logLevel != "" {
		cfg.LogLevel = g.logLevel
	}
	if cmd.Flags().Changed("log-console") {
		cfg.LogConsole = g.logConsole
	}
	return cfg
}

func (g *globalFlags) logger(cmd *cobra.Command, cfg config.Config) *slog.Logger {
	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		Component: "cli",
	}, cmd.ErrOrStderr())
	return logger.NewSlog(&zl)
}
