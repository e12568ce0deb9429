package output

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"

	"github.com/osgeonepal/obe/internal/core/model"
)

func writeGeoJSON(w io.Writer, c *model.ResultCollection) error {
	fc := c.FeatureCollection()
	b, err := json.Marshal(fc)
	if err != nil {
		return fmt.Errorf("encode geojson: %w", err)
	}
	if _, err := w.Write(b); err != nil {
		return fmt.Errorf("write geojson: %w", err)
	}
	return nil
}

// writeGeoJSONSeq writes one feature per line (newline-delimited, no RS).
func writeGeoJSONSeq(w io.Writer, c *model.ResultCollection) error {
	bw := bufio.NewWriter(w)
	for _, f := range c.FeatureCollection().Features {
		b, err := f.MarshalJSON()
		if err != nil {
			return fmt.Errorf("encode feature: %w", err)
		}
		_, _ = bw.Write(b)
		_ = bw.WriteByte('\n')
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("write geojsonseq: %w", err)
	}
	return nil
}
