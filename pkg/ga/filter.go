package ga

import (
	"regexp"
	"strings"

	"github.com/tidemarkhq/gastitch/pkg/schema"
)

// Filter operators accepted by the reporting API.
var filterOperators = []string{"REGEXP", "BEGINS_WITH", "ENDS_WITH", "PARTIAL", "EXACT"}

var filterRE = regexp.MustCompile(`^ *(ga:\w+) +(` + strings.Join(filterOperators, "|") + `) (.*)$`)

// Filter is one dimension filter expression on the wire.
type Filter struct {
	DimensionName string   `json:"dimensionName"`
	Operator      string   `json:"operator"`
	Expressions   []string `json:"expressions"`
}

// FilterClause groups filters under one logical operator.
type FilterClause struct {
	Operator string   `json:"operator,omitempty"`
	Filters  []Filter `json:"filters"`
}

// ParseFilter parses a filter argument of the form
// "ga:dimension OPERATOR value", with multiple expressions joined by a single
// " AND " or " OR ". An empty argument means no filtering.
func ParseFilter(s string) (*FilterClause, error) {
	if s == "" {
		return nil, nil
	}

	clause := &FilterClause{}
	var parts []string
	switch {
	case strings.Contains(s, " AND "):
		clause.Operator = "AND"
		parts = strings.Split(s, " AND ")
	case strings.Contains(s, " OR "):
		clause.Operator = "OR"
		parts = strings.Split(s, " OR ")
	default:
		parts = []string{s}
	}

	for _, part := range parts {
		m := filterRE.FindStringSubmatch(part)
		if m == nil {
			return nil, schema.ConfigErrorf("invalid filter arguments: %s", s)
		}
		clause.Filters = append(clause.Filters, Filter{
			DimensionName: m[1],
			Operator:      m[2],
			Expressions:   []string{strings.TrimSpace(m[3])},
		})
	}
	return clause, nil
}
