package recurrence

import (
	"fmt"
	"time"

	"github.com/teambition/rrule-go"
)

// RRule returns the RFC 5545 equivalent of req, before any constraint is applied.
func (r Request) RRule() (*rrule.RRule, error) {
	if v := Validate(r); !v.IsValid {
		return nil, v.Err()
	}

	opt := rrule.ROption{
		Freq:    rrule.DAILY,
		Dtstart: r.StartDate,
	}
	switch r.Cadence {
	case EveryOtherDay:
		opt.Interval = 2
	case Weekly:
		opt.Freq = rrule.WEEKLY
	}

	if end, ok := r.EndDate.Get(); ok {
		// UNTIL is inclusive; the last accepted instant is the end of that calendar day.
		opt.Until = time.Date(end.Year(), end.Month(), end.Day(), 23, 59, 59, 0, r.StartDate.Location())
	} else {
		opt.Count = r.EffectiveCount()
	}

	rule, err := rrule.NewRRule(opt)
	if err != nil {
		return nil, fmt.Errorf("failed to build rrule: %w", err)
	}
	return rule, nil
}

// RRuleString returns the RRULE value (without DTSTART) for req.
func (r Request) RRuleString() (string, error) {
	rule, err := r.RRule()
	if err != nil {
		return "", err
	}
	return rule.OrigOptions.RRuleString(), nil
}
