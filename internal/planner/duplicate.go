package planner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/username/session-planner/internal/backend"
	"github.com/username/session-planner/internal/recurrence"
	"github.com/username/session-planner/pkg/dateutil"
	"go.uber.org/zap"
)

// ErrBatchFailed is returned by Duplicate when at least one date could not be created.
// Sessions created before and after the failure are kept.
var ErrBatchFailed = errors.New("session duplication partially failed")

// Skip reasons
const (
	SkipTemplateDay = "template"
	SkipExisting    = "existing"
)

// SkippedDate is a planned date for which no session was requested
type SkippedDate struct {
	Date   time.Time
	Reason string
}

// DateFailure is a planned date whose creation failed
type DateFailure struct {
	Date time.Time
	Err  error
}

// DuplicationSummary represents the result of a duplication
type DuplicationSummary struct {
	TemplateID string
	DryRun     bool
	Plan       *Plan
	Planned    []time.Time // dates sent (or, in dry run, that would be sent) to the backend
	Created    []backend.Session
	Skipped    []SkippedDate
	Failed     []DateFailure
	Duration   time.Duration
}

// HasFailures reports whether some dates could not be created
func (s *DuplicationSummary) HasFailures() bool {
	return len(s.Failed) > 0
}

// Duplicate copies the template session onto every date of the recurrence.
//
// A zero req.StartDate starts from the template's own date and time. The template
// day itself is never duplicated. Dates are created one by one; a failing date is
// recorded and the loop goes on, so the returned summary is always complete. The
// error wraps ErrBatchFailed when any date failed.
func (p *Planner) Duplicate(ctx context.Context, templateID string, req recurrence.Request, opts Options, dryRun bool) (*DuplicationSummary, error) {
	start := time.Now()

	p.logger.Info("Starting session duplication",
		zap.String("template_id", templateID),
		zap.Bool("dry_run", dryRun))

	template, err := p.store.GetSession(ctx, templateID)
	if err != nil {
		return nil, fmt.Errorf("failed to load template session: %w", err)
	}

	templateStart, err := template.Start(p.location)
	if err != nil {
		return nil, fmt.Errorf("failed to read template session: %w", err)
	}
	if req.StartDate.IsZero() {
		req.StartDate = templateStart
	}

	plan, err := p.Preview(ctx, req, opts)
	if err != nil {
		return nil, err
	}

	summary := &DuplicationSummary{
		TemplateID: templateID,
		DryRun:     dryRun,
		Plan:       plan,
	}

	dates := plan.Result.Dates
	if len(dates) == 0 {
		summary.Duration = time.Since(start)
		p.logger.Info("No date left to duplicate", zap.String("template_id", templateID))
		return summary, nil
	}

	existing := map[string]bool{}
	if opts.SkipExisting {
		sessions, err := p.store.ListSessions(ctx, template.PatientID.String(), dates[0], dates[len(dates)-1])
		if err != nil {
			return nil, fmt.Errorf("failed to list existing sessions: %w", err)
		}
		for _, s := range sessions {
			existing[s.SessionDate] = true
		}
	}

	for _, date := range dates {
		if dateutil.IsSameDay(date, templateStart) {
			summary.Skipped = append(summary.Skipped, SkippedDate{Date: date, Reason: SkipTemplateDay})
			continue
		}
		if existing[date.Format(backend.DateLayout)] {
			p.logger.Debug("Session already exists, skipping",
				zap.String("date", date.Format(backend.DateLayout)))
			summary.Skipped = append(summary.Skipped, SkippedDate{Date: date, Reason: SkipExisting})
			continue
		}

		summary.Planned = append(summary.Planned, date)
		if dryRun {
			continue
		}

		created, err := p.store.CreateSession(ctx, backend.NewDuplicateRequest(*template, date))
		if err != nil {
			p.logger.Error("Failed to create session",
				zap.String("template_id", templateID),
				zap.String("date", date.Format(backend.DateLayout)),
				zap.Error(err))
			summary.Failed = append(summary.Failed, DateFailure{Date: date, Err: err})
			continue
		}

		summary.Created = append(summary.Created, *created)
	}

	summary.Duration = time.Since(start)

	p.logger.Info("Session duplication completed",
		zap.String("template_id", templateID),
		zap.Int("planned", len(summary.Planned)),
		zap.Int("created", len(summary.Created)),
		zap.Int("skipped", len(summary.Skipped)),
		zap.Int("failed", len(summary.Failed)),
		zap.Bool("dry_run", dryRun),
		zap.Duration("duration", summary.Duration))

	if summary.HasFailures() {
		return summary, fmt.Errorf("%w: %d of %d dates failed", ErrBatchFailed, len(summary.Failed), len(summary.Planned))
	}

	return summary, nil
}
