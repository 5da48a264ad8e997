package calendar

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/username/session-planner/pkg/dateutil"
	"go.uber.org/zap"
)

const (
	defaultHTTPTimeout = 10 * time.Second
	defaultCacheTTL    = 24 * time.Hour
	cachedYears        = 16
	maxYearsPerCall    = 10 // one API request per year
)

// PublicHolidayCalendar implements Calendar using the French government
// public holiday API (calendrier.api.gouv.fr).
type PublicHolidayCalendar struct {
	httpClient *http.Client
	logger     *zap.Logger
	baseURL    string
	zone       string
	cache      *expirable.LRU[int, map[string]string] // year → date → holiday name
}

// NewPublicHolidayCalendar creates a new PublicHolidayCalendar instance.
// zone is one of the API zones, e.g. "metropole" or "alsace-moselle".
func NewPublicHolidayCalendar(baseURL, zone string, cacheTTL time.Duration, logger *zap.Logger) *PublicHolidayCalendar {
	if cacheTTL == 0 {
		cacheTTL = defaultCacheTTL
	}

	return &PublicHolidayCalendar{
		httpClient: &http.Client{
			Timeout: defaultHTTPTimeout,
		},
		logger:  logger,
		baseURL: strings.TrimRight(baseURL, "/"),
		zone:    zone,
		cache:   expirable.NewLRU[int, map[string]string](cachedYears, nil, cacheTTL),
	}
}

// GetDayInfo returns detailed info for a specific day
func (c *PublicHolidayCalendar) GetDayInfo(ctx context.Context, date time.Time) (*DayInfo, error) {
	holidays, err := c.holidaysForYear(ctx, date.Year())
	if err != nil {
		return nil, err
	}

	if name, ok := holidays[dateKey(date)]; ok {
		return &DayInfo{Date: dateutil.StartOfDay(date), Type: DayTypeHoliday, Note: name}, nil
	}
	return &DayInfo{Date: dateutil.StartOfDay(date), Type: baseDayType(date)}, nil
}

// ClosedDays returns public holidays between from and to
func (c *PublicHolidayCalendar) ClosedDays(ctx context.Context, from, to time.Time) ([]DayInfo, error) {
	if years := to.Year() - from.Year() + 1; years > maxYearsPerCall {
		return nil, fmt.Errorf("holiday range %d-%d spans %d years, at most %d allowed",
			from.Year(), to.Year(), years, maxYearsPerCall)
	}

	var days []DayInfo

	for year := from.Year(); year <= to.Year(); year++ {
		holidays, err := c.holidaysForYear(ctx, year)
		if err != nil {
			return nil, err
		}

		for key, name := range holidays {
			date, err := time.ParseInLocation("2006-01-02", key, from.Location())
			if err != nil {
				c.logger.Warn("Failed to parse holiday date", zap.String("date", key), zap.Error(err))
				continue
			}
			if dateutil.IsBeforeDay(date, from) || dateutil.IsAfterDay(date, to) {
				continue
			}
			days = append(days, DayInfo{Date: date, Type: DayTypeHoliday, Note: name})
		}
	}

	sort.Slice(days, func(i, j int) bool {
		return days[i].Date.Before(days[j].Date)
	})

	return days, nil
}

// holidaysForYear returns the holidays of a year, from cache when fresh
func (c *PublicHolidayCalendar) holidaysForYear(ctx context.Context, year int) (map[string]string, error) {
	if holidays, ok := c.cache.Get(year); ok {
		c.logger.Debug("Using cached holidays", zap.Int("year", year))
		return holidays, nil
	}

	holidays, err := c.fetchYear(ctx, year)
	if err != nil {
		return nil, err
	}

	c.cache.Add(year, holidays)
	return holidays, nil
}

// fetchYear fetches one year of holidays, e.g. GET /jours-feries/metropole/2024.json
func (c *PublicHolidayCalendar) fetchYear(ctx context.Context, year int) (map[string]string, error) {
	url := fmt.Sprintf("%s/%s/%d.json", c.baseURL, c.zone, year)

	c.logger.Debug("Fetching public holidays",
		zap.String("url", url),
		zap.Int("year", year))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch holidays: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("holiday API returned status %d", resp.StatusCode)
	}

	holidays := make(map[string]string)
	if err := json.NewDecoder(resp.Body).Decode(&holidays); err != nil {
		return nil, fmt.Errorf("failed to parse holiday JSON: %w", err)
	}

	c.logger.Info("Public holidays fetched",
		zap.Int("year", year),
		zap.String("zone", c.zone),
		zap.Int("count", len(holidays)))

	return holidays, nil
}

// ClearCache clears the cache
func (c *PublicHolidayCalendar) ClearCache() {
	c.cache.Purge()
	c.logger.Info("Calendar cache cleared")
}
