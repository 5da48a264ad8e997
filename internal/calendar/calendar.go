package calendar

import (
	"context"
	"time"

	"github.com/username/session-planner/pkg/dateutil"
)

// DayType represents the type of day
type DayType int

const (
	DayTypeWorkday DayType = iota + 1
	DayTypeWeekend
	DayTypeHoliday // public holiday
	DayTypeClosure // practice closed (vacation, training, ...)
)

func (t DayType) String() string {
	switch t {
	case DayTypeWorkday:
		return "workday"
	case DayTypeWeekend:
		return "weekend"
	case DayTypeHoliday:
		return "holiday"
	case DayTypeClosure:
		return "closure"
	}
	return "unknown"
}

// DayInfo represents information about a specific day
type DayInfo struct {
	Date time.Time
	Type DayType
	Note string
}

// IsClosed reports whether no session should be planned on this day.
// Weekends are handled by the planning constraints, not here.
func (d DayInfo) IsClosed() bool {
	return d.Type == DayTypeHoliday || d.Type == DayTypeClosure
}

// Calendar provides the days on which the practice does not hold sessions
type Calendar interface {
	// GetDayInfo returns detailed info for a specific day
	GetDayInfo(ctx context.Context, date time.Time) (*DayInfo, error)

	// ClosedDays returns holidays and closures between from and to, inclusive, ordered by date
	ClosedDays(ctx context.Context, from, to time.Time) ([]DayInfo, error)
}

// CacheClearer is implemented by calendars that cache upstream data
type CacheClearer interface {
	ClearCache()
}

func baseDayType(date time.Time) DayType {
	if dateutil.IsWeekend(date) {
		return DayTypeWeekend
	}
	return DayTypeWorkday
}

func dateKey(date time.Time) string {
	return dateutil.FormatISODate(date)
}

// NoClosures is a Calendar without any holiday, used when holiday exclusion is disabled
type NoClosures struct{}

// GetDayInfo returns a workday or weekend
func (NoClosures) GetDayInfo(_ context.Context, date time.Time) (*DayInfo, error) {
	return &DayInfo{Date: date, Type: baseDayType(date)}, nil
}

// ClosedDays always returns nothing
func (NoClosures) ClosedDays(context.Context, time.Time, time.Time) ([]DayInfo, error) {
	return nil, nil
}
