package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/osgeonepal/obe/internal/aoi"
)

func newBBoxCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "bbox <aoi.geojson>",
		Short: "Print the bounding box of an area of interest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			area, err := aoi.LoadFile(args[0])
			if err != nil {
				return err
			}
			b := area.Bound()
			out := cmd.OutOrStdout()
			if asJSON {
				return json.NewEncoder(out).Encode(map[string]any{
					"bbox":     []float64{b.Min.X(), b.Min.Y(), b.Max.X(), b.Max.Y()},
					"polygons": len(area.Polygons()),
					"crs":      area.CRS(),
				})
			}
			_, err = fmt.Fprintf(out, "%g,%g,%g,%g\n", b.Min.X(), b.Min.Y(), b.Max.X(), b.Max.Y())
			return err
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}
