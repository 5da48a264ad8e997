// Package icsexport writes planned session dates as an iCalendar file
// that can be imported into a practitioner's calendar application.
package icsexport

import (
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-ical"
	"github.com/google/uuid"
)

const (
	DefaultProductID = "-//session-planner//Session Planner//FR"
	DefaultDuration  = 30 * time.Minute
)

// uidNamespace scopes the name-based UIDs of exported events.
var uidNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:session-planner:sessions"))

// Options controls the exported events.
type Options struct {
	ProductID   string
	Summary     string        // event title, e.g. "Séance de kinésithérapie"
	Description string        // event body, e.g. the recurrence description
	Duration    time.Duration // defaults to DefaultDuration
	UIDSeed     string        // e.g. template session id; same seed and date give the same UID
	Stamp       time.Time     // DTSTAMP, defaults to now
}

// EventUID returns the stable UID of the event exported for date.
func EventUID(seed string, date time.Time) string {
	name := seed + "/" + date.Format("2006-01-02T15:04")
	return uuid.NewSHA1(uidNamespace, []byte(name)).String() + "@session-planner"
}

// Build returns the calendar holding one event per date.
func Build(dates []time.Time, opts Options) *ical.Calendar {
	if opts.ProductID == "" {
		opts.ProductID = DefaultProductID
	}
	if opts.Duration <= 0 {
		opts.Duration = DefaultDuration
	}
	if opts.Stamp.IsZero() {
		opts.Stamp = time.Now()
	}

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, opts.ProductID)

	for i, start := range dates {
		ev := ical.NewEvent()
		ev.Props.SetText(ical.PropUID, EventUID(opts.UIDSeed, start))
		ev.Props.SetDateTime(ical.PropDateTimeStamp, opts.Stamp.UTC())
		ev.Props.SetDateTime(ical.PropDateTimeStart, eventTime(start))
		ev.Props.SetDateTime(ical.PropDateTimeEnd, eventTime(start.Add(opts.Duration)))

		summary := opts.Summary
		if summary == "" {
			summary = fmt.Sprintf("Séance %d/%d", i+1, len(dates))
		}
		ev.Props.SetText(ical.PropSummary, summary)
		if opts.Description != "" {
			ev.Props.SetText(ical.PropDescription, opts.Description)
		}

		cal.Children = append(cal.Children, ev.Component)
	}

	return cal
}

// Encode writes the calendar for dates to w.
func Encode(w io.Writer, dates []time.Time, opts Options) error {
	if len(dates) == 0 {
		return fmt.Errorf("no date to export")
	}
	if err := ical.NewEncoder(w).Encode(Build(dates, opts)); err != nil {
		return fmt.Errorf("failed to encode calendar: %w", err)
	}
	return nil
}

// eventTime writes every instant in UTC. A TZID would need a matching
// VTIMEZONE component, and "Local" is not a zone other calendars know.
func eventTime(t time.Time) time.Time {
	return t.UTC()
}
