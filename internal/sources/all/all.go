// Package all registers every built-in source adapter.
package all

import (
	_ "github.com/osgeonepal/obe/internal/sources/google"
	_ "github.com/osgeonepal/obe/internal/sources/microsoft"
	_ "github.com/osgeonepal/obe/internal/sources/osm"
	_ "github.com/osgeonepal/obe/internal/sources/overture"
)
