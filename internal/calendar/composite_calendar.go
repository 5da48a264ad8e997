package calendar

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// CompositeCalendar implements Calendar with fallback strategy
// Primary: PublicHolidayCalendar (API)
// Fallback: FileCalendar (local file)
type CompositeCalendar struct {
	primary  Calendar
	fallback Calendar
	logger   *zap.Logger
}

// NewCompositeCalendar creates a new CompositeCalendar
func NewCompositeCalendar(primary, fallback Calendar, logger *zap.Logger) *CompositeCalendar {
	return &CompositeCalendar{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

// GetDayInfo returns detailed info for a specific day
func (cc *CompositeCalendar) GetDayInfo(ctx context.Context, date time.Time) (*DayInfo, error) {
	dayInfo, err := cc.primary.GetDayInfo(ctx, date)
	if err == nil {
		return dayInfo, nil
	}

	cc.logger.Warn("Primary calendar failed, falling back to file",
		zap.Time("date", date),
		zap.Error(err))

	return cc.fallback.GetDayInfo(ctx, date)
}

// ClosedDays returns closed days from the primary calendar, or the fallback on error
func (cc *CompositeCalendar) ClosedDays(ctx context.Context, from, to time.Time) ([]DayInfo, error) {
	days, err := cc.primary.ClosedDays(ctx, from, to)
	if err == nil {
		return days, nil
	}

	cc.logger.Warn("Primary calendar failed, falling back to file",
		zap.Time("from", from),
		zap.Time("to", to),
		zap.Error(err))

	return cc.fallback.ClosedDays(ctx, from, to)
}

// LoadFallback loads the fallback calendar (if FileCalendar)
func (cc *CompositeCalendar) LoadFallback() error {
	if fc, ok := cc.fallback.(*FileCalendar); ok {
		if err := fc.Load(); err != nil {
			return fmt.Errorf("failed to load fallback calendar: %w", err)
		}
		cc.logger.Info("Fallback calendar loaded successfully")
	}
	return nil
}

// ClearCache clears the caches of both calendars, when they have one
func (cc *CompositeCalendar) ClearCache() {
	for _, cal := range []Calendar{cc.primary, cc.fallback} {
		if c, ok := cal.(CacheClearer); ok {
			c.ClearCache()
		}
	}
}
