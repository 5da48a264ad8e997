package recurrence

import (
	"time"

	"github.com/username/session-planner/pkg/dateutil"
)

// Generate expands req into an ordered list of dates starting at StartDate.
//
// An invalid request yields IsValid=false, Dates=[StartDate] and the
// validation messages; nothing is generated in that case.
func Generate(req Request) Result {
	if v := Validate(req); !v.IsValid {
		return invalidResult(req.StartDate, v)
	}

	end, byEndDate := req.EndDate.Get()
	count := req.EffectiveCount()

	dates := []time.Time{req.StartDate}
	current := req.StartDate
	for {
		if !byEndDate && len(dates) >= count {
			break
		}

		next := req.Cadence.next(current)
		if byEndDate && dateutil.IsAfterDay(next, end) {
			break
		}

		dates = append(dates, next)
		current = next
	}

	return Result{
		Dates:      dates,
		TotalCount: len(dates),
		IsValid:    true,
		Errors:     []string{},
	}
}

func invalidResult(start time.Time, v Validation) Result {
	return Result{
		Dates:      []time.Time{start},
		TotalCount: 1,
		IsValid:    false,
		Errors:     v.Errors,
		errs:       v.errs,
	}
}
