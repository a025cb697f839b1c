// Package dropout corrects single spurious zero readings that some bikes
// emit while the rider is still pedalling.
package dropout

import (
	"github.com/lowaak/smart-trainer/bike-bridge/internal/cycling"
)

// Rules selects which fields are corrected.
type Rules struct {
	Power   bool
	Cadence bool
}

// Both corrects power and cadence.
var Both = Rules{Power: true, Cadence: true}

// Filter remembers the previous raw reading of one bike connection.
// It is not safe for concurrent use.
type Filter struct {
	rules    Rules
	previous *cycling.Reading
}

// New creates a Filter applying rules.
func New(rules Rules) *Filter {
	return &Filter{rules: rules}
}

// Apply returns r with a lone zero power (or cadence) replaced by the
// previous value, provided the other field shows the rider is active.
// The uncorrected r becomes the new previous reading, so a second zero in
// a row is passed through as real.
func (f *Filter) Apply(r cycling.Reading) cycling.Reading {
	fixed := r
	if prev := f.previous; prev != nil {
		if f.rules.Power && r.Power == 0 && r.Cadence > 0 && prev.Power > 0 {
			fixed.Power = prev.Power
		}
		if f.rules.Cadence && r.Cadence == 0 && r.Power > 0 && prev.Cadence > 0 {
			fixed.Cadence = prev.Cadence
		}
	}
	raw := r
	f.previous = &raw
	return fixed
}

// Reset forgets the previous reading.
func (f *Filter) Reset() {
	f.previous = nil
}
