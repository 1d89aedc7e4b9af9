package calendar

import (
	"time"
)

const day = 24 * time.Hour

// Calendar measures elapsed time between instants, optionally skipping
// weekends and configured holidays
type Calendar struct {
	holidays map[dateKey]struct{}
	loc      *time.Location
}

type dateKey struct {
	year  int
	month time.Month
	day   int
}

// Option configures a Calendar
type Option func(*Calendar)

// WithHolidays marks whole dates as non-business days
func WithHolidays(dates ...time.Time) Option {
	return func(c *Calendar) {
		for _, d := range dates {
			c.holidays[keyOf(d.In(c.loc))] = struct{}{}
		}
	}
}

// WithLocation sets the zone in which day boundaries are computed. Defaults to UTC.
func WithLocation(loc *time.Location) Option {
	return func(c *Calendar) {
		if loc != nil {
			c.loc = loc
		}
	}
}

// New creates a Calendar. Location options must precede holiday options.
func New(opts ...Option) *Calendar {
	c := &Calendar{
		holidays: make(map[dateKey]struct{}),
		loc:      time.UTC,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ParseHolidays parses YYYY-MM-DD dates
func ParseHolidays(raw []string) ([]time.Time, error) {
	dates := make([]time.Time, 0, len(raw))
	for _, r := range raw {
		d, err := time.Parse("2006-01-02", r)
		if err != nil {
			return nil, err
		}
		dates = append(dates, d)
	}
	return dates, nil
}

func keyOf(t time.Time) dateKey {
	y, m, d := t.Date()
	return dateKey{y, m, d}
}

func (c *Calendar) isBusinessDay(t time.Time) bool {
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	_, holiday := c.holidays[keyOf(t)]
	return !holiday
}

func (c *Calendar) startOfDay(t time.Time) time.Time {
	y, m, d := t.In(c.loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, c.loc)
}

func (c *Calendar) nextDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, c.loc)
}

// Elapsed returns fractional days from start to end. With businessDaysOnly,
// time falling on weekends and holidays does not count. end before start yields 0.
func (c *Calendar) Elapsed(start, end time.Time, businessDaysOnly bool) float64 {
	return float64(c.elapsed(start, end, businessDaysOnly)) / float64(day)
}

// DaysBetween returns whole days elapsed from start to end
func (c *Calendar) DaysBetween(start, end time.Time, businessDaysOnly bool) int {
	return int(c.elapsed(start, end, businessDaysOnly) / day)
}

func (c *Calendar) elapsed(start, end time.Time, businessDaysOnly bool) time.Duration {
	if !end.After(start) {
		return 0
	}
	if !businessDaysOnly {
		return end.Sub(start)
	}

	var counted time.Duration
	cursor := start.In(c.loc)
	for cursor.Before(end) {
		boundary := c.nextDay(c.startOfDay(cursor))
		segmentEnd := boundary
		if end.Before(segmentEnd) {
			segmentEnd = end
		}
		if c.isBusinessDay(cursor) {
			counted += segmentEnd.Sub(cursor)
		}
		cursor = boundary
	}
	return counted
}

// AddDays returns the instant n days after start. With businessDaysOnly the
// result is the first instant at which n business days have elapsed.
func (c *Calendar) AddDays(start time.Time, n int, businessDaysOnly bool) time.Time {
	if n <= 0 {
		return start
	}
	if !businessDaysOnly {
		local := start.In(c.loc)
		return local.AddDate(0, 0, n)
	}

	remaining := time.Duration(n) * day
	cursor := start.In(c.loc)
	for {
		boundary := c.nextDay(c.startOfDay(cursor))
		if c.isBusinessDay(cursor) {
			available := boundary.Sub(cursor)
			if available >= remaining {
				return cursor.Add(remaining)
			}
			remaining -= available
		}
		cursor = boundary
	}
}

var defaultCalendar = New()

// Elapsed uses a weekend-only calendar in UTC
func Elapsed(start, end time.Time, businessDaysOnly bool) float64 {
	return defaultCalendar.Elapsed(start, end, businessDaysOnly)
}

// DaysBetween uses a weekend-only calendar in UTC
func DaysBetween(start, end time.Time, businessDaysOnly bool) int {
	return defaultCalendar.DaysBetween(start, end, businessDaysOnly)
}

// AddDays uses a weekend-only calendar in UTC
func AddDays(start time.Time, n int, businessDaysOnly bool) time.Time {
	return defaultCalendar.AddDays(start, n, businessDaysOnly)
}
