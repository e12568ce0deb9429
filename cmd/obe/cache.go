package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/osgeonepal/obe/internal/app"
	"github.com/osgeonepal/obe/internal/cache/keys"
	"github.com/osgeonepal/obe/internal/sources"
)

func newCacheCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the redis catalog cache",
	}
	cmd.AddCommand(newCachePurgeCmd(g))
	return cmd
}

func newCachePurgeCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "purge [source]",
		Short: "Delete cached catalogs of one source, or of all sources",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := g.loadConfig(cmd)
			source := ""
			if len(args) == 1 {
				if _, err := sources.New(args[0], sources.Deps{Config: cfg}); err != nil {
					return err
				}
				source = args[0]
			}

			c, err := app.OpenRedis(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer c.Close()

			n, err := c.Purge(cmd.Context(), keys.Pattern(source))
			if err != nil {
				return err
			}
			g.logger(cmd, cfg).Info("catalog cache purged", "source", source, "keys", n)
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "purged %d catalog entries\n", n)
			return err
		},
	}
}
