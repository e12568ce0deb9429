package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/osgeonepal/obe/internal/footprints"

	_ "github.com/osgeonepal/obe/internal/sources/all"
)

func newSourcesCmd(g *globalFlags) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "sources",
		Short: "List the supported building sources and their attributes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := g.loadConfig(cmd)
			// describing sources does no network I/O
			infos := footprints.New(cfg, g.logger(cmd, cfg), nil, nil).Sources()

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(infos)
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tGEOMETRY\tLOCATION\tCONFIGURED\tFIELDS")
			for _, in := range infos {
				fields := make([]string, 0, len(in.Fields))
				for _, f := range in.Fields {
					fields = append(fields, f.Name)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					in.Name, in.Geometry, yesNo(in.RequiresLocation), yesNo(in.Configured), strings.Join(fields, ","))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
