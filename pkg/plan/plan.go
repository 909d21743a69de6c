// Package plan turns a dimension schema into the batched report specs the
// reporting API will accept. The API caps dimensions per request, so the
// configured groups are fetched as separate reports and stitched back into a
// single table afterwards.
package plan

import (
	"fmt"
	"slices"

	"github.com/tidemarkhq/gastitch/pkg/schema"
)

// MaxDimensionsPerRequest is the reporting API's cap on dimensions in a
// single report request.
const MaxDimensionsPerRequest = 7

// Kind identifies the role a batch plays in the stitch.
type Kind string

const (
	KindUsers      Kind = "users"
	KindResults    Kind = "results"
	KindAdditional Kind = "additional"
)

// BatchSpec is one planned report request: an ordered dimension list plus the
// role its rows play downstream.
type BatchSpec struct {
	Kind       Kind
	Index      int // 1-based position for additional batches, zero otherwise
	Dimensions []schema.Dimension
}

// Names returns the dimension names in request order.
func (s BatchSpec) Names() []string {
	names := make([]string, len(s.Dimensions))
	for i, d := range s.Dimensions {
		names[i] = d.Name
	}
	return names
}

// Label names the batch in logs and errors.
func (s BatchSpec) Label() string {
	if s.Kind == KindAdditional {
		return fmt.Sprintf("batch-%d", s.Index)
	}
	return string(s.Kind)
}

// Plan is the ordered set of report requests for one run.
type Plan struct {
	Users      BatchSpec
	Results    BatchSpec
	Additional []BatchSpec

	// StitchNames is the join key for the additional batches, in the order
	// declared in the stitch-dimensions section.
	StitchNames []string
}

// Specs returns every batch in fetch order: users, results, then the
// additional batches in declaration order.
func (p *Plan) Specs() []BatchSpec {
	specs := make([]BatchSpec, 0, 2+len(p.Additional))
	specs = append(specs, p.Users, p.Results)
	specs = append(specs, p.Additional...)
	return specs
}

// Build validates the schema against the API's request constraints and lays
// out the batches. Additional batches are composed as the stitch dimensions
// followed by the group's own dimensions, so every additional result set
// carries the join key.
func Build(sch schema.Schema) (*Plan, error) {
	if err := sch.Validate(); err != nil {
		return nil, err
	}

	users := BatchSpec{Kind: KindUsers, Dimensions: slices.Clone(sch.Users.Dims)}
	results := BatchSpec{Kind: KindResults, Dimensions: slices.Clone(sch.Results.Dims)}

	if users.Dimensions[0].Name != results.Dimensions[0].Name {
		return nil, schema.ConfigErrorf("user-dimensions and results-dimensions must share their first dimension, got %s and %s",
			users.Dimensions[0].Name, results.Dimensions[0].Name)
	}
	for _, name := range sch.Stitch.Names() {
		if !sch.Users.Contains(name) {
			return nil, schema.ConfigErrorf("stitch dimension %s is not in user-dimensions", name)
		}
		if !sch.Results.Contains(name) {
			return nil, schema.ConfigErrorf("stitch dimension %s is not in results-dimensions", name)
		}
	}

	p := &Plan{Users: users, Results: results, StitchNames: sch.Stitch.Names()}
	for _, g := range sch.Additional {
		p.Additional = append(p.Additional, BatchSpec{
			Kind:       KindAdditional,
			Index:      g.Ordinal,
			Dimensions: compose(sch.Stitch, g),
		})
	}

	for _, spec := range p.Specs() {
		if len(spec.Dimensions) > MaxDimensionsPerRequest {
			return nil, schema.ConfigErrorf("%s needs %d dimensions, the reporting API allows at most %d per request",
				spec.Label(), len(spec.Dimensions), MaxDimensionsPerRequest)
		}
	}
	return p, nil
}

// compose prepends the stitch dimensions to a group, dropping duplicates from
// the group's own list.
func compose(stitch, g schema.DimensionGroup) []schema.Dimension {
	dims := slices.Clone(stitch.Dims)
	for _, d := range g.Dims {
		if stitch.Contains(d.Name) {
			continue
		}
		dims = append(dims, d)
	}
	return dims
}
