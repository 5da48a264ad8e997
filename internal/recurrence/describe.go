package recurrence

import (
	"fmt"

	"github.com/username/session-planner/pkg/dateutil"
)

var cadenceLabels = map[Cadence]string{
	Daily:         "quotidien",
	EveryOtherDay: "un jour sur deux",
	Weekly:        "hebdomadaire",
}

// Label returns the French label of the cadence, or the raw value when unknown.
func (c Cadence) Label() string {
	if label, ok := cadenceLabels[c]; ok {
		return label
	}
	return string(c)
}

// Describe returns a one-line French summary of req. It assumes req passed
// validation.
func Describe(req Request) string {
	if end, ok := req.EndDate.Get(); ok {
		return fmt.Sprintf("Duplication %s jusqu'au %s", req.Cadence.Label(), dateutil.FormatShortFR(end))
	}
	return fmt.Sprintf("Duplication %s pour %d séances", req.Cadence.Label(), req.EffectiveCount())
}
