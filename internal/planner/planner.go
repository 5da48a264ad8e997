package planner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samber/mo"
	"github.com/username/session-planner/internal/backend"
	"github.com/username/session-planner/internal/calendar"
	"github.com/username/session-planner/internal/config"
	"github.com/username/session-planner/internal/recurrence"
	"github.com/username/session-planner/pkg/dateutil"
	"go.uber.org/zap"
)

// SessionStore is the persistence service sessions are duplicated into
type SessionStore interface {
	GetSession(ctx context.Context, id string) (*backend.Session, error)
	ListSessions(ctx context.Context, patientID string, from, to time.Time) ([]backend.Session, error)
	CreateSession(ctx context.Context, req backend.CreateSessionRequest) (*backend.Session, error)
}

// Options are the planning constraints applied on top of a recurrence
type Options struct {
	ExcludeWeekends bool
	ExcludeHolidays bool
	ExcludeDates    []time.Time
	MaxSessions     int // 0 means no cap
	SkipExisting    bool
}

// OptionsFromConfig returns the configured planning defaults
func OptionsFromConfig(cfg config.PlanningConfig) Options {
	return Options{
		ExcludeWeekends: cfg.ExcludeWeekends,
		ExcludeHolidays: cfg.ExcludeHolidays,
		MaxSessions:     cfg.MaxSessions,
		SkipExisting:    cfg.SkipExisting,
	}
}

// Plan is a previewed duplication: the dates that would be created and why others were dropped
type Plan struct {
	Request     recurrence.Request
	Result      recurrence.Result
	BaseCount   int                // dates before constraints
	ClosedDays  []calendar.DayInfo // holidays and closures that removed a date
	Description string
	RRule       string
}

// ErrHorizonTooFar rejects an end date that would yield more base dates than
// an explicit count may ask for.
var ErrHorizonTooFar = fmt.Errorf("end date is too far: at most %d sessions can be planned", recurrence.MaxCount)

// ValidationError is returned for a recurrence request that does not validate
type ValidationError struct {
	Errors []string
	err    error
}

func (e *ValidationError) Error() string {
	return "invalid recurrence: " + strings.Join(e.Errors, "; ")
}

// Unwrap exposes the recurrence sentinel errors to errors.Is
func (e *ValidationError) Unwrap() error {
	return e.err
}

// Planner turns recurrence requests into sessions
type Planner struct {
	store    SessionStore
	calendar calendar.Calendar
	logger   *zap.Logger
	location *time.Location
}

// NewPlanner creates a new planner. cal may be nil when holidays are never excluded.
func NewPlanner(store SessionStore, cal calendar.Calendar, logger *zap.Logger) *Planner {
	if cal == nil {
		cal = calendar.NoClosures{}
	}
	return &Planner{
		store:    store,
		calendar: cal,
		logger:   logger,
		location: time.Local,
	}
}

// Preview computes the dates for req under opts without touching the backend
func (p *Planner) Preview(ctx context.Context, req recurrence.Request, opts Options) (*Plan, error) {
	if exceedsHorizon(req) {
		p.logger.Info("Recurrence request rejected",
			zap.Time("start", req.StartDate),
			zap.Time("end", req.EndDate.OrEmpty()))
		return nil, &ValidationError{Errors: []string{ErrHorizonTooFar.Error()}, err: ErrHorizonTooFar}
	}

	base := recurrence.Generate(req)
	if !base.IsValid {
		p.logger.Info("Recurrence request rejected",
			zap.Strings("errors", base.Errors))
		return nil, &ValidationError{Errors: base.Errors, err: base.Err()}
	}

	cs := recurrence.ConstraintSet{
		ExcludeWeekends: opts.ExcludeWeekends,
		ExcludeDates:    append([]time.Time(nil), opts.ExcludeDates...),
		MaxSessions:     mo.None[int](),
	}
	if opts.MaxSessions > 0 {
		cs.MaxSessions = mo.Some(opts.MaxSessions)
	}

	var hits []calendar.DayInfo
	if opts.ExcludeHolidays {
		first, last := base.Dates[0], base.Dates[len(base.Dates)-1]
		closed, err := p.calendar.ClosedDays(ctx, first, last)
		if err != nil {
			return nil, fmt.Errorf("failed to load closed days: %w", err)
		}

		for _, day := range closed {
			cs.ExcludeDates = append(cs.ExcludeDates, day.Date)
			if containsDay(base.Dates, day.Date) {
				hits = append(hits, day)
			}
		}
	}

	result := recurrence.GenerateConstrained(req, cs)

	rule, err := req.RRuleString()
	if err != nil {
		p.logger.Warn("Failed to build RRULE", zap.Error(err))
	}

	plan := &Plan{
		Request:     req,
		Result:      result,
		BaseCount:   base.TotalCount,
		ClosedDays:  hits,
		Description: recurrence.Describe(req),
		RRule:       rule,
	}

	p.logger.Info("Recurrence planned",
		zap.String("cadence", string(req.Cadence)),
		zap.Time("start", req.StartDate),
		zap.Int("base_count", plan.BaseCount),
		zap.Int("planned_count", result.TotalCount),
		zap.Int("closed_days", len(hits)))

	return plan, nil
}

// DayInfo returns how the calendar classifies the day of date
func (p *Planner) DayInfo(ctx context.Context, date time.Time) (*calendar.DayInfo, error) {
	info, err := p.calendar.GetDayInfo(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("failed to look up %s: %w", dateutil.FormatISODate(date), err)
	}
	return info, nil
}

// ClearCalendarCache drops cached holidays so the next lookup refetches them.
// It returns false when the calendar keeps no cache.
func (p *Planner) ClearCalendarCache() bool {
	c, ok := p.calendar.(calendar.CacheClearer)
	if !ok {
		return false
	}
	c.ClearCache()
	return true
}

// IsValidationError reports whether err comes from an invalid recurrence request
func IsValidationError(err error) bool {
	var vErr *ValidationError
	return errors.As(err, &vErr)
}

// exceedsHorizon reports whether an end-date bounded req spans more than
// MaxCount base dates. It counts calendar days instead of generating them.
func exceedsHorizon(req recurrence.Request) bool {
	end, ok := req.EndDate.Get()
	step := req.Cadence.StepDays()
	if !ok || req.Count.IsPresent() || req.StartDate.IsZero() || step == 0 {
		return false
	}

	days := dayNumber(end) - dayNumber(req.StartDate)
	return days >= 0 && days/int64(step)+1 > recurrence.MaxCount
}

// dayNumber counts days since the epoch for the calendar day of t in its own zone.
func dayNumber(t time.Time) int64 {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC).Unix() / 86400
}

func containsDay(dates []time.Time, day time.Time) bool {
	for _, d := range dates {
		if dateutil.IsSameDay(d, day) {
			return true
		}
	}
	return false
}
