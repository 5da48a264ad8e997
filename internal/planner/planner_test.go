package planner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/username/session-planner/internal/backend"
	"github.com/username/session-planner/internal/calendar"
	"github.com/username/session-planner/internal/config"
	"github.com/username/session-planner/internal/recurrence"
	"go.uber.org/zap"
)

// fakeStore is an in-memory SessionStore
type fakeStore struct {
	sessions map[string]backend.Session
	failOn   map[string]bool // session_date → CreateSession fails
	created  []backend.CreateSessionRequest
	nextID   int
}

func newFakeStore(template backend.Session) *fakeStore {
	return &fakeStore{
		sessions: map[string]backend.Session{template.ID.String(): template},
		failOn:   map[string]bool{},
		nextID:   100,
	}
}

func (f *fakeStore) GetSession(_ context.Context, id string) (*backend.Session, error) {
	s, ok := f.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", backend.ErrSessionNotFound, id)
	}
	return &s, nil
}

func (f *fakeStore) ListSessions(_ context.Context, patientID string, from, to time.Time) ([]backend.Session, error) {
	var out []backend.Session
	for _, s := range f.sessions {
		if s.PatientID.String() != patientID {
			continue
		}
		if s.SessionDate < from.Format(backend.DateLayout) || s.SessionDate > to.Format(backend.DateLayout) {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func (f *fakeStore) CreateSession(_ context.Context, req backend.CreateSessionRequest) (*backend.Session, error) {
	if f.failOn[req.SessionDate] {
		return nil, &backend.APIError{StatusCode: 500, Message: "boom"}
	}
	f.created = append(f.created, req)
	f.nextID++
	s := backend.Session{
		ID:          backend.FlexibleID(fmt.Sprint(f.nextID)),
		PatientID:   req.PatientID,
		SessionDate: req.SessionDate,
		StartTime:   req.StartTime,
		Status:      req.Status,
	}
	f.sessions[s.ID.String()] = s
	return &s, nil
}

// staticCalendar returns fixed closed days
type staticCalendar struct {
	days []calendar.DayInfo
	err  error
}

func (c staticCalendar) GetDayInfo(_ context.Context, date time.Time) (*calendar.DayInfo, error) {
	return &calendar.DayInfo{Date: date, Type: calendar.DayTypeWorkday}, c.err
}

func (c staticCalendar) ClosedDays(context.Context, time.Time, time.Time) ([]calendar.DayInfo, error) {
	return c.days, c.err
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.Local)
}

func isoDates(dates []time.Time) string {
	parts := make([]string, len(dates))
	for i, d := range dates {
		parts[i] = d.Format("2006-01-02")
	}
	return strings.Join(parts, ",")
}

func mustRequest(t *testing.T, start time.Time, cadence string) recurrence.Request {
	t.Helper()
	req, err := recurrence.NewRequest(start, cadence)
	if err != nil {
		t.Fatalf("NewRequest(%q) error = %v", cadence, err)
	}
	return req
}

func TestPreview(t *testing.T) {
	easterMonday := calendar.DayInfo{Date: day(2024, 4, 1), Type: calendar.DayTypeHoliday, Note: "Lundi de Pâques"}
	labourDay := calendar.DayInfo{Date: day(2024, 5, 1), Type: calendar.DayTypeHoliday, Note: "1er mai"}
	cal := staticCalendar{days: []calendar.DayInfo{easterMonday, labourDay}}

	tests := []struct {
		name       string
		req        recurrence.Request
		opts       Options
		wantDates  string
		wantClosed int
		wantDesc   string
	}{
		{
			name:      "Weekly without constraints",
			req:       mustRequest(t, day(2024, 3, 25), "weekly").WithCount(3),
			wantDates: "2024-03-25,2024-04-01,2024-04-08",
			wantDesc:  "Duplication hebdomadaire pour 3 séances",
		},
		{
			name:       "Weekly skipping Easter Monday",
			req:        mustRequest(t, day(2024, 3, 25), "weekly").WithCount(3),
			opts:       Options{ExcludeHolidays: true},
			wantDates:  "2024-03-25,2024-04-08",
			wantClosed: 1,
			wantDesc:   "Duplication hebdomadaire pour 3 séances",
		},
		{
			name:      "Daily to end date without weekends, capped",
			req:       mustRequest(t, day(2024, 3, 28), "daily").WithEndDate(day(2024, 4, 5)),
			opts:      Options{ExcludeWeekends: true, ExcludeHolidays: true, MaxSessions: 4},
			wantDates: "2024-03-28,2024-03-29,2024-04-02,2024-04-03",
			// Easter Monday is dropped before the cap
			wantClosed: 1,
			wantDesc:   "Duplication quotidien jusqu'au 05/04/2024",
		},
		{
			name:      "Explicit exclusion",
			req:       mustRequest(t, day(2024, 3, 4), "every-other-day").WithCount(4),
			opts:      Options{ExcludeDates: []time.Time{day(2024, 3, 6)}},
			wantDates: "2024-03-04,2024-03-08,2024-03-10",
			wantDesc:  "Duplication un jour sur deux pour 4 séances",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPlanner(nil, cal, zap.NewNop())

			plan, err := p.Preview(context.Background(), tt.req, tt.opts)
			if err != nil {
				t.Fatalf("Preview() error = %v", err)
			}

			if got := isoDates(plan.Result.Dates); got != tt.wantDates {
				t.Errorf("Preview() dates = %s, want %s", got, tt.wantDates)
			}
			if plan.Result.TotalCount != len(plan.Result.Dates) {
				t.Errorf("TotalCount = %d, want %d", plan.Result.TotalCount, len(plan.Result.Dates))
			}
			if len(plan.ClosedDays) != tt.wantClosed {
				t.Errorf("ClosedDays = %v, want %d entries", plan.ClosedDays, tt.wantClosed)
			}
			if plan.Description != tt.wantDesc {
				t.Errorf("Description = %q, want %q", plan.Description, tt.wantDesc)
			}
			if !strings.Contains(plan.RRule, "FREQ=") {
				t.Errorf("RRule = %q, want FREQ", plan.RRule)
			}
		})
	}
}

func TestPreview_InvalidRequest(t *testing.T) {
	p := NewPlanner(nil, nil, zap.NewNop())

	req := mustRequest(t, day(2024, 3, 4), "daily").WithCount(400)
	_, err := p.Preview(context.Background(), req, Options{})

	if !IsValidationError(err) {
		t.Fatalf("Preview() error = %v, want *ValidationError", err)
	}
	if !errors.Is(err, recurrence.ErrCountOutOfRange) {
		t.Errorf("Preview() error = %v, want to wrap ErrCountOutOfRange", err)
	}
}

func TestPreview_HorizonTooFar(t *testing.T) {
	start := day(2024, 1, 1)

	tests := []struct {
		name    string
		cadence string
		end     time.Time
		wantErr bool
	}{
		{"daily, last allowed day", "daily", day(2024, 12, 30), false},
		{"daily, one day past", "daily", day(2024, 12, 31), true},
		{"every other day, last allowed day", "every-other-day", start.AddDate(0, 0, 2*364+1), false},
		{"weekly, last allowed week", "weekly", start.AddDate(0, 0, 7*364), false},
		{"weekly, one week past", "weekly", start.AddDate(0, 0, 7*365), true},
		{"far future", "daily", time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPlanner(nil, nil, zap.NewNop())
			req := mustRequest(t, start, tt.cadence).WithEndDate(tt.end)

			plan, err := p.Preview(context.Background(), req, Options{})
			if tt.wantErr {
				if !IsValidationError(err) || !errors.Is(err, ErrHorizonTooFar) {
					t.Fatalf("Preview() error = %v, want ValidationError wrapping ErrHorizonTooFar", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Preview() error = %v", err)
			}
			if got := len(plan.Result.Dates); got != recurrence.MaxCount {
				t.Errorf("len(Dates) = %d, want %d", got, recurrence.MaxCount)
			}
		})
	}
}

func TestPreview_HorizonCheckedBeforeCalendar(t *testing.T) {
	p := NewPlanner(nil, staticCalendar{err: errors.New("api down")}, zap.NewNop())
	req := mustRequest(t, day(2024, 1, 15), "daily").WithEndDate(day(2030, 1, 1))

	_, err := p.Preview(context.Background(), req, Options{ExcludeHolidays: true})
	if !errors.Is(err, ErrHorizonTooFar) {
		t.Errorf("Preview() error = %v, want ErrHorizonTooFar before any calendar lookup", err)
	}
}

func TestPreview_CalendarError(t *testing.T) {
	p := NewPlanner(nil, staticCalendar{err: errors.New("api down")}, zap.NewNop())
	req := mustRequest(t, day(2024, 3, 4), "daily")

	if _, err := p.Preview(context.Background(), req, Options{ExcludeHolidays: true}); err == nil {
		t.Error("Preview() error = nil, want calendar error")
	}

	if _, err := p.Preview(context.Background(), req, Options{}); err != nil {
		t.Errorf("Preview() without holidays error = %v, want nil", err)
	}
}

func TestOptionsFromConfig(t *testing.T) {
	opts := OptionsFromConfig(config.PlanningConfig{ExcludeWeekends: true, SkipExisting: true, MaxSessions: 12})
	if !opts.ExcludeWeekends || opts.ExcludeHolidays || !opts.SkipExisting || opts.MaxSessions != 12 {
		t.Errorf("OptionsFromConfig() = %+v", opts)
	}
}

var template = backend.Session{
	ID:              "42",
	PatientID:       "p-1",
	SessionDate:     "2024-03-04",
	StartTime:       "09:30",
	DurationMinutes: 45,
	SessionType:     "rééducation genou",
	Status:          "done",
}

func TestDuplicate(t *testing.T) {
	store := newFakeStore(template)
	p := NewPlanner(store, nil, zap.NewNop())

	req := recurrence.Request{Cadence: recurrence.Weekly}.WithCount(4)
	summary, err := p.Duplicate(context.Background(), "42", req, Options{}, false)
	if err != nil {
		t.Fatalf("Duplicate() error = %v", err)
	}

	if got := isoDates(summary.Planned); got != "2024-03-11,2024-03-18,2024-03-25" {
		t.Errorf("Planned = %s, want the three weeks after the template", got)
	}
	if len(summary.Created) != 3 {
		t.Errorf("Created = %d sessions, want 3", len(summary.Created))
	}
	if len(summary.Skipped) != 1 || summary.Skipped[0].Reason != SkipTemplateDay {
		t.Errorf("Skipped = %+v, want template day only", summary.Skipped)
	}

	for _, c := range store.created {
		if c.StartTime != "09:30" || c.DurationMinutes != 45 || c.Status != backend.StatusPlanned {
			t.Errorf("created request = %+v, want template copy in planned status", c)
		}
	}
}

func TestDuplicate_DryRun(t *testing.T) {
	store := newFakeStore(template)
	p := NewPlanner(store, nil, zap.NewNop())

	req := recurrence.Request{Cadence: recurrence.Daily}.WithCount(3)
	summary, err := p.Duplicate(context.Background(), "42", req, Options{}, true)
	if err != nil {
		t.Fatalf("Duplicate() error = %v", err)
	}

	if len(summary.Planned) != 2 {
		t.Errorf("Planned = %d dates, want 2", len(summary.Planned))
	}
	if len(store.created) != 0 {
		t.Errorf("dry run created %d sessions, want 0", len(store.created))
	}
}

func TestDuplicate_SkipExisting(t *testing.T) {
	store := newFakeStore(template)
	store.sessions["7"] = backend.Session{ID: "7", PatientID: "p-1", SessionDate: "2024-03-06"}
	store.sessions["8"] = backend.Session{ID: "8", PatientID: "p-2", SessionDate: "2024-03-08"}
	p := NewPlanner(store, nil, zap.NewNop())

	req := recurrence.Request{Cadence: recurrence.EveryOtherDay}.WithCount(3)
	summary, err := p.Duplicate(context.Background(), "42", req, Options{SkipExisting: true}, false)
	if err != nil {
		t.Fatalf("Duplicate() error = %v", err)
	}

	if got := isoDates(summary.Planned); got != "2024-03-08" {
		t.Errorf("Planned = %s, want 2024-03-08 (other patient's session ignored)", got)
	}
	if len(summary.Skipped) != 2 || summary.Skipped[1].Reason != SkipExisting {
		t.Errorf("Skipped = %+v, want template and existing", summary.Skipped)
	}
}

func TestDuplicate_PartialFailure(t *testing.T) {
	store := newFakeStore(template)
	store.failOn["2024-03-05"] = true
	p := NewPlanner(store, nil, zap.NewNop())

	req := recurrence.Request{Cadence: recurrence.Daily}.WithCount(4)
	summary, err := p.Duplicate(context.Background(), "42", req, Options{}, false)

	if !errors.Is(err, ErrBatchFailed) {
		t.Fatalf("Duplicate() error = %v, want ErrBatchFailed", err)
	}
	if summary == nil {
		t.Fatal("Duplicate() summary = nil on partial failure")
	}
	if !summary.HasFailures() || len(summary.Failed) != 1 {
		t.Errorf("Failed = %+v, want one failure", summary.Failed)
	}
	// No rollback: the dates after the failure are still created
	if got := len(summary.Created); got != 2 {
		t.Errorf("Created = %d, want 2", got)
	}
}

func TestDuplicate_Errors(t *testing.T) {
	store := newFakeStore(template)
	p := NewPlanner(store, nil, zap.NewNop())

	_, err := p.Duplicate(context.Background(), "missing", recurrence.Request{Cadence: recurrence.Daily}, Options{}, false)
	if !errors.Is(err, backend.ErrSessionNotFound) {
		t.Errorf("Duplicate(missing) error = %v, want ErrSessionNotFound", err)
	}

	bad := recurrence.Request{Cadence: recurrence.Daily}.WithCount(2).WithEndDate(day(2024, 3, 10))
	_, err = p.Duplicate(context.Background(), "42", bad, Options{}, false)
	if !errors.Is(err, recurrence.ErrBothBounds) {
		t.Errorf("Duplicate(both bounds) error = %v, want ErrBothBounds", err)
	}
	if len(store.created) != 0 {
		t.Errorf("invalid request created %d sessions", len(store.created))
	}
}

// clearingCalendar counts cache clears
type clearingCalendar struct {
	staticCalendar
	cleared int
}

func (c *clearingCalendar) ClearCache() {
	c.cleared++
}

func TestPlanner_DayInfo(t *testing.T) {
	p := NewPlanner(nil, nil, zap.NewNop())

	info, err := p.DayInfo(context.Background(), day(2024, 3, 9))
	if err != nil {
		t.Fatalf("DayInfo() error = %v", err)
	}
	if info.Type != calendar.DayTypeWeekend || info.IsClosed() {
		t.Errorf("DayInfo(Saturday) = %+v, want an open weekend day", info)
	}

	p = NewPlanner(nil, staticCalendar{err: errors.New("api down")}, zap.NewNop())
	if _, err := p.DayInfo(context.Background(), day(2024, 3, 9)); err == nil {
		t.Error("DayInfo() error = nil, want calendar error")
	}
}

func TestPlanner_ClearCalendarCache(t *testing.T) {
	cal := &clearingCalendar{}
	p := NewPlanner(nil, cal, zap.NewNop())

	if !p.ClearCalendarCache() {
		t.Fatal("ClearCalendarCache() = false, want true for a caching calendar")
	}
	if cal.cleared != 1 {
		t.Errorf("cleared = %d, want 1", cal.cleared)
	}

	if NewPlanner(nil, staticCalendar{}, zap.NewNop()).ClearCalendarCache() {
		t.Error("ClearCalendarCache() = true, want false for a calendar without cache")
	}
}
