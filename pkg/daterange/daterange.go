// Package daterange resolves the date arguments accepted on the command line
// into the concrete calendar dates sent to the reporting API. Relative forms
// are resolved against a clock at startup so that every request in a run
// covers the same range.
package daterange

import (
	"regexp"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/tidemarkhq/gastitch/pkg/schema"
)

const layout = "2006-01-02"

var daysAgoRE = regexp.MustCompile(`^([0-9]+)daysAgo$`)

// Range is an inclusive span of calendar dates.
type Range struct {
	Start time.Time
	End   time.Time
}

// StartDate returns the range start formatted for the reporting API.
func (r Range) StartDate() string { return r.Start.Format(layout) }

// EndDate returns the range end formatted for the reporting API.
func (r Range) EndDate() string { return r.End.Format(layout) }

func (r Range) String() string {
	if r.Start.Equal(r.End) {
		return r.StartDate()
	}
	return r.StartDate() + ".." + r.EndDate()
}

// Resolve parses start and end date arguments. Each may be an explicit
// YYYY-MM-DD date, "today", "yesterday", or "NdaysAgo". An empty end collapses
// the range to the single start date.
func Resolve(clock clockwork.Clock, start, end string) (Range, error) {
	s, err := resolveOne(clock, start)
	if err != nil {
		return Range{}, err
	}
	e := s
	if end != "" {
		if e, err = resolveOne(clock, end); err != nil {
			return Range{}, err
		}
	}
	if e.Before(s) {
		return Range{}, schema.ConfigErrorf("end date %s is before start date %s", e.Format(layout), s.Format(layout))
	}
	return Range{Start: s, End: e}, nil
}

func resolveOne(clock clockwork.Clock, s string) (time.Time, error) {
	switch s {
	case "today":
		return midnight(clock.Now()), nil
	case "yesterday":
		return midnight(clock.Now().AddDate(0, 0, -1)), nil
	}
	if m := daysAgoRE.FindStringSubmatch(s); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return time.Time{}, schema.ConfigErrorf("invalid date %q: %v", s, err)
		}
		return midnight(clock.Now().AddDate(0, 0, -n)), nil
	}
	t, err := time.Parse(layout, s)
	if err != nil {
		return time.Time{}, schema.ConfigErrorf("invalid date %q: expected YYYY-MM-DD, today, yesterday, or NdaysAgo", s)
	}
	return t, nil
}

// midnight truncates a timestamp to its calendar date. Dates are compared and
// formatted only, so the location is normalized to UTC.
func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
