// Package reporting computes dashboard KPIs, time series and trainer roll-ups from source rows.
// All calendar bucketing happens here on raw timestamps so no storage backend date dialect is needed.
package reporting

import (
	"fmt"
	"time"
)

// HoursPerDay is the fixed cardinality of the hour-of-day histogram.
const HoursPerDay = 24

// Option configures time handling shared by the report generators.
type Option func(*settings)

type settings struct {
	now func() time.Time
	loc *time.Location
}

func newSettings(opts []Option) settings {
	s := settings{now: time.Now, loc: time.UTC}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLocation sets the timezone that defines days, weeks and calendar months.
func WithLocation(loc *time.Location) Option {
	return func(s *settings) {
		if loc != nil {
			s.loc = loc
		}
	}
}

func (s settings) localNow() time.Time {
	return s.now().In(s.loc)
}

// HourCount is one entry of the hour-of-day histogram.
type HourCount struct {
	Hour  int `json:"hour"`
	Count int `json:"count"`
}

// HourHistogram buckets timestamps by local hour of day. The result always has 24 entries.
func HourHistogram(times []time.Time, loc *time.Location) []HourCount {
	out := make([]HourCount, HoursPerDay)
	for hour := range out {
		out[hour].Hour = hour
	}
	for _, t := range times {
		out[t.In(loc).Hour()].Count++
	}
	return out
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}

func startOfMonth(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc)
}

// startOfISOWeek returns local midnight of the Monday starting t's ISO week.
func startOfISOWeek(t time.Time, loc *time.Location) time.Time {
	day := startOfDay(t, loc)
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}

// civilDay numbers local calendar days so day distances ignore DST-length days.
func civilDay(t time.Time, loc *time.Location) int {
	local := t.In(loc)
	utc := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
	return int(utc.Unix() / 86400)
}

type monthKey struct {
	year  int
	month time.Month
}

func monthOf(t time.Time, loc *time.Location) monthKey {
	local := t.In(loc)
	return monthKey{year: local.Year(), month: local.Month()}
}

func (k monthKey) before(other monthKey) bool {
	if k.year != other.year {
		return k.year < other.year
	}
	return k.month < other.month
}

func (k monthKey) label() string {
	return fmt.Sprintf("%s %d", k.month.String()[:3], k.year)
}
