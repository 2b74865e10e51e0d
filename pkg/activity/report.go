package activity

import (
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/splitlink/pkg/connparams"
)

// Report describes one mode transition.
type Report struct {
	Mode   connparams.Mode
	Params connparams.Set

	// Results holds one entry per connection an update was requested for, in
	// iteration order. A nil value means the request succeeded; failures are
	// *link.ParameterUpdateFailedError.
	Results *orderedmap.OrderedMap[string, error]

	// Skipped counts connections left alone because they already had Params.
	Skipped int
}

func newReport(mode connparams.Mode) Report {
	return Report{
		Mode:    mode,
		Params:  connparams.ParametersFor(mode),
		Results: orderedmap.New[string, error](),
	}
}

// Applied returns the IDs of connections whose update succeeded.
func (r Report) Applied() []string {
	var ids []string
	for pair := r.Results.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Value == nil {
			ids = append(ids, pair.Key)
		}
	}
	return ids
}

// Failed returns the update errors in iteration order.
func (r Report) Failed() []error {
	var errs []error
	for pair := r.Results.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Value != nil {
			errs = append(errs, pair.Value)
		}
	}
	return errs
}

// Stats counts manager activity since creation.
type Stats struct {
	Events        uint64 // activity events handled
	Transitions   uint64 // mode changes
	Updates       uint64 // parameter update requests issued
	Failures      uint64 // parameter update requests that failed
	StaleExpiries uint64 // timer expiries discarded because the timer was reset
}
