package microsoft

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/paulmach/orb/maptile"
)

// tileFromQuadkey decodes a Bing quadkey; its length is the zoom.
func tileFromQuadkey(qk string) (maptile.Tile, error) {
	z := len(qk)
	if z == 0 || z > 30 {
		return maptile.Tile{}, fmt.Errorf("quadkey %q: bad length", qk)
	}
	k, err := strconv.ParseUint(qk, 4, 64)
	if err != nil {
		return maptile.Tile{}, fmt.Errorf("quadkey %q: %w", qk, err)
	}
	return maptile.FromQuadkey(k, maptile.Zoom(z)), nil
}

func quadkeyOf(t maptile.Tile) string {
	return padQuadkey(strconv.FormatUint(t.Quadkey(), 4), int(t.Z))
}

// padQuadkey restores leading zeros lost when a catalog was written by a
// tool that read the column as an integer.
func padQuadkey(qk string, zoom int) string {
	qk = strings.TrimSpace(qk)
	if n := zoom - len(qk); n > 0 {
		return strings.Repeat("0", n) + qk
	}
	return qk
}
