// Package sink loads combined tables into databases for downstream analysis.
// Every sink writes one row per combined row, tagged with the run ID and the
// download timestamp, creating the destination table on first use.
package sink

import (
	"strings"

	"github.com/tidemarkhq/gastitch/pkg/schema"
)

// columnNames strips the reporting prefix from dimension names for use as
// database column identifiers.
func columnNames(cols []schema.Dimension) []string {
	names := make([]string, len(cols))
	for i, d := range cols {
		names[i] = strings.TrimPrefix(d.Name, "ga:")
	}
	return names
}
