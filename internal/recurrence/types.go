package recurrence

import (
	"errors"
	"fmt"
	"time"

	"github.com/samber/mo"
	"github.com/username/session-planner/pkg/dateutil"
)

// Cadence selects the step between two generated dates.
type Cadence string

const (
	Daily         Cadence = "daily"
	EveryOtherDay Cadence = "every-other-day"
	Weekly        Cadence = "weekly"
)

// Bounds on a count-bounded request.
const (
	DefaultCount = 7
	MinCount     = 1
	MaxCount     = 365
)

// Validation errors. Their messages are shown verbatim to the user.
var (
	ErrStartDateRequired = errors.New("start date required and must be valid")
	ErrInvalidCadence    = errors.New("duplication type must be daily, every-other-day or weekly")
	ErrCountOutOfRange   = errors.New("session count must be between 1 and 365")
	ErrBothBounds        = errors.New("cannot specify both an end date and a session count")
	ErrEndBeforeStart    = errors.New("end date must be after start date")
)

// ParseCadence converts user input into a Cadence.
func ParseCadence(s string) (Cadence, error) {
	c := Cadence(s)
	if !c.IsValid() {
		return "", fmt.Errorf("%w: got %q", ErrInvalidCadence, s)
	}
	return c, nil
}

// IsValid reports whether c is one of the known cadences.
func (c Cadence) IsValid() bool {
	switch c {
	case Daily, EveryOtherDay, Weekly:
		return true
	}
	return false
}

// StepDays returns the number of days between two generated dates,
// 0 for an unknown cadence.
func (c Cadence) StepDays() int {
	switch c {
	case Daily:
		return 1
	case EveryOtherDay:
		return 2
	case Weekly:
		return 7
	}
	return 0
}

// next returns the date following current. An unknown cadence is a
// programming error: requests are built through ParseCadence.
func (c Cadence) next(current time.Time) time.Time {
	switch c {
	case Daily:
		return dateutil.AddDays(current, 1)
	case EveryOtherDay:
		return dateutil.AddDays(current, 2)
	case Weekly:
		return dateutil.AddWeeks(current, 1)
	}
	panic(fmt.Sprintf("recurrence: unknown cadence %q", string(c)))
}

// Request describes how a session is duplicated.
// At most one of EndDate and Count is expected; with neither, DefaultCount applies.
type Request struct {
	StartDate time.Time
	Cadence   Cadence
	EndDate   mo.Option[time.Time]
	Count     mo.Option[int]
}

// NewRequest builds a count/end-date free request, rejecting unknown cadences.
func NewRequest(start time.Time, cadence string) (Request, error) {
	c, err := ParseCadence(cadence)
	if err != nil {
		return Request{}, err
	}
	return Request{
		StartDate: start,
		Cadence:   c,
		EndDate:   mo.None[time.Time](),
		Count:     mo.None[int](),
	}, nil
}

// WithEndDate returns a copy of r bounded by end.
func (r Request) WithEndDate(end time.Time) Request {
	r.EndDate = mo.Some(end)
	return r
}

// WithCount returns a copy of r bounded by n sessions.
func (r Request) WithCount(n int) Request {
	r.Count = mo.Some(n)
	return r
}

// EffectiveCount returns the count bound, DefaultCount when none was given.
func (r Request) EffectiveCount() int {
	return r.Count.OrElse(DefaultCount)
}

// Result is the output of Generate and GenerateConstrained.
type Result struct {
	Dates      []time.Time `json:"dates"`
	TotalCount int         `json:"total_count"`
	IsValid    bool        `json:"is_valid"`
	Errors     []string    `json:"errors"`

	errs []error
}

// Err joins the validation errors, nil for a valid result.
func (r Result) Err() error {
	return errors.Join(r.errs...)
}

// ConstraintSet post-filters a generated sequence.
type ConstraintSet struct {
	ExcludeWeekends bool
	ExcludeDates    []time.Time
	MaxSessions     mo.Option[int]
}

// Validation is the outcome of Validate.
type Validation struct {
	IsValid bool     `json:"is_valid"`
	Errors  []string `json:"errors"`

	errs []error
}

// Err joins the validation errors, nil when valid.
func (v Validation) Err() error {
	return errors.Join(v.errs...)
}

func newValidation(errs []error) Validation {
	messages := make([]string, 0, len(errs))
	for _, err := range errs {
		messages = append(messages, err.Error())
	}
	return Validation{
		IsValid: len(errs) == 0,
		Errors:  messages,
		errs:    errs,
	}
}
