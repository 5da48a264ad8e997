package calendar

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/username/session-planner/pkg/dateutil"
	"go.uber.org/zap"
)

// FileCalendar implements Calendar interface using a local text file
type FileCalendar struct {
	filePath string
	logger   *zap.Logger
	data     map[string]DayInfo // key: "YYYY-MM-DD"
}

// NewFileCalendar creates a new FileCalendar instance
func NewFileCalendar(filePath string, logger *zap.Logger) *FileCalendar {
	return &FileCalendar{
		filePath: filePath,
		logger:   logger,
		data:     make(map[string]DayInfo),
	}
}

// Load loads calendar data from file
func (fc *FileCalendar) Load() error {
	file, err := os.Open(fc.filePath)
	if err != nil {
		return fmt.Errorf("failed to open calendar file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Format: YYYY-MM-DD type [note]
		// Example: 2024-08-15 holiday Assomption
		parts := strings.SplitN(line, " ", 3)
		if len(parts) < 2 {
			fc.logger.Warn("Invalid line format", zap.String("line", line))
			continue
		}

		date, err := time.Parse("2006-01-02", parts[0])
		if err != nil {
			fc.logger.Warn("Failed to parse date", zap.String("date", parts[0]), zap.Error(err))
			continue
		}

		var dayType DayType
		switch parts[1] {
		case "holiday":
			dayType = DayTypeHoliday
		case "closure":
			dayType = DayTypeClosure
		default:
			fc.logger.Warn("Unknown day type", zap.String("type", parts[1]))
			continue
		}

		note := ""
		if len(parts) == 3 {
			note = strings.TrimSpace(parts[2])
		}

		fc.data[dateKey(date)] = DayInfo{Date: date, Type: dayType, Note: note}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading calendar file: %w", err)
	}

	fc.logger.Info("Calendar file loaded",
		zap.String("file", fc.filePath),
		zap.Int("closed_days", len(fc.data)))

	return nil
}

// GetDayInfo returns detailed info for a specific day
func (fc *FileCalendar) GetDayInfo(_ context.Context, date time.Time) (*DayInfo, error) {
	if info, ok := fc.data[dateKey(date)]; ok {
		return &info, nil
	}
	return &DayInfo{Date: dateutil.StartOfDay(date), Type: baseDayType(date)}, nil
}

// ClosedDays returns the listed days between from and to
func (fc *FileCalendar) ClosedDays(_ context.Context, from, to time.Time) ([]DayInfo, error) {
	var days []DayInfo
	for _, info := range fc.data {
		if dateutil.IsBeforeDay(info.Date, from) || dateutil.IsAfterDay(info.Date, to) {
			continue
		}
		days = append(days, info)
	}

	sort.Slice(days, func(i, j int) bool {
		return days[i].Date.Before(days[j].Date)
	})

	return days, nil
}
