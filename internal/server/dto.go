package server

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/username/session-planner/internal/backend"
	"github.com/username/session-planner/internal/calendar"
	"github.com/username/session-planner/internal/planner"
	"github.com/username/session-planner/internal/recurrence"
	"github.com/username/session-planner/pkg/dateutil"
)

// recurrenceRequest is the duplication form as posted by the front end
type recurrenceRequest struct {
	StartDate string  `json:"start_date"`
	Cadence   string  `json:"cadence"`
	EndDate   *string `json:"end_date,omitempty"`
	Count     *int    `json:"count,omitempty"`

	ExcludeWeekends *bool    `json:"exclude_weekends,omitempty"`
	ExcludeHolidays *bool    `json:"exclude_holidays,omitempty"`
	ExcludeDates    []string `json:"exclude_dates,omitempty"`
	MaxSessions     *int     `json:"max_sessions,omitempty"`
	SkipExisting    *bool    `json:"skip_existing,omitempty"`
}

// toRequest converts the form. An empty or unparsable start date is left zero
// so that validation reports it like any other rule.
func (r recurrenceRequest) toRequest() (recurrence.Request, error) {
	req := recurrence.Request{Cadence: recurrence.Cadence(r.Cadence)}

	if r.StartDate != "" {
		if start, err := dateutil.ParseDate(r.StartDate); err == nil {
			req.StartDate = start
		}
	}

	if r.EndDate != nil {
		end, err := dateutil.ParseDate(*r.EndDate)
		if err != nil {
			return recurrence.Request{}, fmt.Errorf("invalid end_date: %w", err)
		}
		req = req.WithEndDate(end)
	}
	if r.Count != nil {
		req = req.WithCount(*r.Count)
	}

	return req, nil
}

// options overlays the form's constraints on the configured defaults
func (r recurrenceRequest) options(defaults planner.Options) (planner.Options, error) {
	opts := defaults
	opts.ExcludeDates = append([]time.Time(nil), defaults.ExcludeDates...)

	if r.ExcludeWeekends != nil {
		opts.ExcludeWeekends = *r.ExcludeWeekends
	}
	if r.ExcludeHolidays != nil {
		opts.ExcludeHolidays = *r.ExcludeHolidays
	}
	if r.MaxSessions != nil {
		opts.MaxSessions = *r.MaxSessions
	}
	if r.SkipExisting != nil {
		opts.SkipExisting = *r.SkipExisting
	}

	for _, s := range r.ExcludeDates {
		d, err := dateutil.ParseDate(s)
		if err != nil {
			return planner.Options{}, fmt.Errorf("invalid exclude_dates entry %q: %w", s, err)
		}
		opts.ExcludeDates = append(opts.ExcludeDates, d)
	}

	return opts, nil
}

type validationResponse struct {
	IsValid bool     `json:"is_valid"`
	Errors  []string `json:"errors"`
}

type closedDayResponse struct {
	Date string `json:"date"`
	Type string `json:"type"`
	Note string `json:"note,omitempty"`
}

type planResponse struct {
	Dates       []string            `json:"dates"`
	Starts      []time.Time         `json:"starts"`
	TotalCount  int                 `json:"total_count"`
	BaseCount   int                 `json:"base_count"`
	IsValid     bool                `json:"is_valid"`
	Errors      []string            `json:"errors"`
	ClosedDays  []closedDayResponse `json:"closed_days"`
	Description string              `json:"description"`
	RRule       string              `json:"rrule,omitempty"`
}

func newPlanResponse(p *planner.Plan) planResponse {
	resp := planResponse{
		Dates:       isoDates(p.Result.Dates),
		Starts:      p.Result.Dates,
		TotalCount:  p.Result.TotalCount,
		BaseCount:   p.BaseCount,
		IsValid:     p.Result.IsValid,
		Errors:      p.Result.Errors,
		ClosedDays:  make([]closedDayResponse, 0, len(p.ClosedDays)),
		Description: p.Description,
		RRule:       p.RRule,
	}
	if resp.Errors == nil {
		resp.Errors = []string{}
	}
	for _, d := range p.ClosedDays {
		resp.ClosedDays = append(resp.ClosedDays, newClosedDayResponse(d))
	}
	return resp
}

func newClosedDayResponse(d calendar.DayInfo) closedDayResponse {
	return closedDayResponse{Date: dateutil.FormatISODate(d.Date), Type: d.Type.String(), Note: d.Note}
}

type dayInfoResponse struct {
	closedDayResponse
	Closed bool `json:"closed"`
}

func newDayInfoResponse(d *calendar.DayInfo) dayInfoResponse {
	return dayInfoResponse{closedDayResponse: newClosedDayResponse(*d), Closed: d.IsClosed()}
}

type skippedResponse struct {
	Date   string `json:"date"`
	Reason string `json:"reason"`
}

type failureResponse struct {
	Date  string `json:"date"`
	Error string `json:"error"`
}

type duplicationResponse struct {
	TemplateID string            `json:"template_id"`
	DryRun     bool              `json:"dry_run"`
	Plan       planResponse      `json:"plan"`
	Planned    []string          `json:"planned"`
	Created    []backend.Session `json:"created"`
	Skipped    []skippedResponse `json:"skipped"`
	Failed     []failureResponse `json:"failed"`
}

func newDuplicationResponse(s *planner.DuplicationSummary) duplicationResponse {
	resp := duplicationResponse{
		TemplateID: s.TemplateID,
		DryRun:     s.DryRun,
		Plan:       newPlanResponse(s.Plan),
		Planned:    isoDates(s.Planned),
		Created:    s.Created,
		Skipped:    make([]skippedResponse, 0, len(s.Skipped)),
		Failed:     make([]failureResponse, 0, len(s.Failed)),
	}
	if resp.Created == nil {
		resp.Created = []backend.Session{}
	}
	for _, sk := range s.Skipped {
		resp.Skipped = append(resp.Skipped, skippedResponse{Date: dateutil.FormatISODate(sk.Date), Reason: sk.Reason})
	}
	for _, f := range s.Failed {
		resp.Failed = append(resp.Failed, failureResponse{Date: dateutil.FormatISODate(f.Date), Error: f.Err.Error()})
	}
	return resp
}

type saveDraftRequest struct {
	Kind    string          `json:"kind" binding:"required"`
	Payload json.RawMessage `json:"payload" binding:"required"`
}

type errorResponse struct {
	Error  string   `json:"error"`
	Errors []string `json:"errors,omitempty"`
}

func isoDates(dates []time.Time) []string {
	out := make([]string, 0, len(dates))
	for _, d := range dates {
		out = append(out, dateutil.FormatISODate(d))
	}
	return out
}
