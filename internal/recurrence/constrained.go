package recurrence

import (
	"time"

	"github.com/username/session-planner/pkg/dateutil"
)

// GenerateConstrained runs Generate and filters the sequence.
//
// Weekend and explicit-date exclusions apply before the MaxSessions cap, so
// the cap counts surviving sessions only. An invalid base result is returned
// unchanged. A non-positive MaxSessions is ignored.
func GenerateConstrained(req Request, cs ConstraintSet) Result {
	base := Generate(req)
	if !base.IsValid {
		return base
	}

	dates := make([]time.Time, 0, len(base.Dates))
	for _, d := range base.Dates {
		if cs.ExcludeWeekends && dateutil.IsWeekend(d) {
			continue
		}
		if isExcluded(d, cs.ExcludeDates) {
			continue
		}
		dates = append(dates, d)
	}

	if limit, ok := cs.MaxSessions.Get(); ok && limit > 0 && len(dates) > limit {
		dates = dates[:limit]
	}

	return Result{
		Dates:      dates,
		TotalCount: len(dates),
		IsValid:    true,
		Errors:     []string{},
	}
}

func isExcluded(d time.Time, excluded []time.Time) bool {
	for _, ex := range excluded {
		if dateutil.IsSameDay(d, ex) {
			return true
		}
	}
	return false
}
