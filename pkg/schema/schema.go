// Package schema models the dimension layout of a download run: which
// dimensions describe a user, which describe individual results, any extra
// batched groups, and the stitch dimensions shared by all of them.
package schema

import "fmt"

// Dimension is one reportable dimension: the API-native name (ga:-prefixed)
// plus the human-readable label used in output headers. When no translation is
// configured the label falls back to the name.
type Dimension struct {
	Name  string
	Label string
}

type GroupRole string

const (
	GroupUser       GroupRole = "user"
	GroupResults    GroupRole = "results"
	GroupAdditional GroupRole = "additional"
	GroupStitch     GroupRole = "stitch"
)

// DimensionGroup is an ordered set of dimensions tagged with its role. Order is
// the insertion order of the configuration section and is preserved through to
// output column ordering.
type DimensionGroup struct {
	Role    GroupRole
	Ordinal int // 1-based section number for additional groups, 0 otherwise
	Dims    []Dimension
}

// SectionName returns the configuration section the group came from, used in
// error and log messages.
func (g DimensionGroup) SectionName() string {
	switch g.Role {
	case GroupUser:
		return "user-dimensions"
	case GroupResults:
		return "results-dimensions"
	case GroupStitch:
		return "stitch-dimensions"
	case GroupAdditional:
		return fmt.Sprintf("batch-dimensions-%d", g.Ordinal)
	}
	return string(g.Role)
}

// Names returns the dimension names in group order.
func (g DimensionGroup) Names() []string {
	names := make([]string, len(g.Dims))
	for i, d := range g.Dims {
		names[i] = d.Name
	}
	return names
}

// Contains reports whether the group declares the named dimension.
func (g DimensionGroup) Contains(name string) bool {
	for _, d := range g.Dims {
		if d.Name == name {
			return true
		}
	}
	return false
}

// Schema is the validated dimension layout for one run.
type Schema struct {
	Stitch     DimensionGroup
	Users      DimensionGroup
	Results    DimensionGroup
	Additional []DimensionGroup

	// FillValue is written into combined rows when a left join finds no
	// matching row for a batch (INVALID_VALUE in the configuration).
	FillValue string
}

// Validate checks the structural completeness of the schema. Batch-level
// invariants (dimension cap, stitch subset, anchor rule) are enforced by the
// planner.
func (s *Schema) Validate() error {
	if len(s.Stitch.Dims) == 0 {
		return ConfigErrorf("stitch-dimensions must declare at least one dimension")
	}
	if len(s.Users.Dims) == 0 {
		return ConfigErrorf("user-dimensions must declare at least one dimension")
	}
	if len(s.Results.Dims) == 0 {
		return ConfigErrorf("results-dimensions must declare at least one dimension")
	}
	for _, g := range s.Additional {
		if len(g.Dims) == 0 {
			return ConfigErrorf("%s must declare at least one dimension", g.SectionName())
		}
	}
	return nil
}
