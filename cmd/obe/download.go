package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/osgeonepal/obe/internal/aoi"
	"github.com/osgeonepal/obe/internal/app"
	"github.com/osgeonepal/obe/internal/footprints"
	"github.com/osgeonepal/obe/internal/output"
	"github.com/osgeonepal/obe/internal/sources"
)

type downloadFlags struct {
	source   string
	input    string
	output   string
	format   string
	location string
	workers  int
}

func newDownloadCmd(g *globalFlags) *cobra.Command {
	f := &downloadFlags{}
	cmd := &cobra.Command{
		Use:   "download",
		Short: "Download buildings inside an area of interest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDownload(cmd, g, f)
		},
	}
	cmd.Flags().StringVarP(&f.source, "source", "s", "", "google, microsoft, osm or overture")
	cmd.Flags().StringVarP(&f.input, "input", "i", "", "AOI GeoJSON file")
	cmd.Flags().StringVarP(&f.output, "output", "o", "", "output path (default <input>_<source>_buildings.<ext>)")
	cmd.Flags().StringVarP(&f.format, "format", "f", string(output.GeoJSON), "output format: "+formatList())
	cmd.Flags().StringVarP(&f.location, "location", "l", "", "country or region (microsoft)")
	cmd.Flags().IntVarP(&f.workers, "workers", "w", 0, "parallel partition fetches (overrides FETCH_WORKERS)")
	_ = cmd.MarkFlagRequired("source")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func formatList() string {
	var names []string
	for _, f := range output.Formats() {
		names = append(names, string(f))
	}
	return strings.Join(names, ", ")
}

func runDownload(cmd *cobra.Command, g *globalFlags, f *downloadFlags) error {
	ctx := cmd.Context()
	cfg := g.loadConfig(cmd)
	if f.workers > 0 {
		cfg.FetchWorkers = f.workers
	}
	lg := g.logger(cmd, cfg)

	format, err := output.ParseFormat(f.format)
	if err != nil {
		return err
	}
	area, err := aoi.LoadFile(f.input)
	if err != nil {
		return err
	}

	params := sources.Params{}
	if f.location != "" {
		params[sources.ParamLocation] = f.location
	}
	if err := sources.Check(f.source, cfg, params); err != nil {
		return err
	}

	a, err := app.Build(ctx, cfg, lg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			lg.Warn("shutdown", "err", err)
		}
	}()

	res, err := a.Service.Retrieve(ctx, footprints.Request{Source: f.source, AOI: area, Params: params})
	if err != nil {
		return err
	}

	path := f.output
	if path == "" {
		path = output.DefaultPath(f.input, res.Collection.Source, format)
	}
	if err := output.WriteFile(path, format, res.Collection); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	printSummary(cmd, res, path)
	return nil
}

func printSummary(cmd *cobra.Command, res *footprints.Result, path string) {
	out := cmd.OutOrStdout()
	s := res.Summary
	fmt.Fprintf(out, "%s: %d buildings from %d/%d partitions (%s) -> %s\n",
		res.Collection.Source, s.Records, s.Succeeded, s.Partitions, s.Duration.Round(time.Millisecond), path)
	for _, pe := range s.Failures {
		fmt.Fprintf(out, "  failed %s\n", pe)
	}
}
