package recurrence

import (
	"github.com/username/session-planner/pkg/dateutil"
)

// Validate checks a request without generating dates. Every rule is
// evaluated so a single pass reports all problems.
func Validate(req Request) Validation {
	var errs []error

	if req.StartDate.IsZero() {
		errs = append(errs, ErrStartDateRequired)
	}

	if !req.Cadence.IsValid() {
		errs = append(errs, ErrInvalidCadence)
	}

	count, hasCount := req.Count.Get()
	if hasCount && (count < MinCount || count > MaxCount) {
		errs = append(errs, ErrCountOutOfRange)
	}

	end, hasEnd := req.EndDate.Get()
	if hasEnd && hasCount {
		errs = append(errs, ErrBothBounds)
	}

	// Same calendar day is allowed and yields a single date.
	if hasEnd && !req.StartDate.IsZero() && dateutil.IsBeforeDay(end, req.StartDate) {
		errs = append(errs, ErrEndBeforeStart)
	}

	return newValidation(errs)
}
