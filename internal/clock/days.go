package clock

import (
	"fmt"
	"strings"
	"time"
)

const DayLayout = "2006-01-02"

// DayKey identifies a calendar day by the Unix millisecond timestamp of its
// local midnight.
type DayKey int64

// Key returns the day key of the day containing t, in t's location.
func Key(t time.Time) DayKey {
	return DayKey(DayStart(t).UnixMilli())
}

// Today is Key(c.Now()) evaluated in loc.
func Today(c Clock, loc *time.Location) DayKey {
	return Key(c.Now().In(loc))
}

func (k DayKey) Time(loc *time.Location) time.Time {
	return time.UnixMilli(int64(k)).In(loc)
}

// AddDays steps by calendar days, so a day with a DST shift still maps to
// the next local midnight rather than to midnight plus 24h.
func (k DayKey) AddDays(n int, loc *time.Location) DayKey {
	return Key(k.Time(loc).AddDate(0, 0, n))
}

func (k DayKey) Format(loc *time.Location) string {
	return k.Time(loc).Format(DayLayout)
}

func (k DayKey) String() string {
	return k.Format(time.Local)
}

// ParseDay parses a YYYY-MM-DD date in loc.
func ParseDay(s string, loc *time.Location) (DayKey, error) {
	t, err := time.ParseInLocation(DayLayout, strings.TrimSpace(s), loc)
	if err != nil {
		return 0, fmt.Errorf("clock.ParseDay: %w", err)
	}
	return Key(t), nil
}

func DayStart(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// WeekStart returns local midnight of the first day of the week containing t.
func WeekStart(t time.Time, first time.Weekday) time.Time {
	offset := (int(t.Weekday()) - int(first) + 7) % 7
	return DayStart(t).AddDate(0, 0, -offset)
}

func MonthStart(t time.Time) time.Time {
	y, m, _ := t.Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, t.Location())
}

func QuarterStart(t time.Time) time.Time {
	y, m, _ := t.Date()
	q := ((int(m)-1)/3)*3 + 1
	return time.Date(y, time.Month(q), 1, 0, 0, 0, 0, t.Location())
}

func YearStart(t time.Time) time.Time {
	return time.Date(t.Year(), time.January, 1, 0, 0, 0, 0, t.Location())
}

// Range is a half-open span of days [Start, End).
type Range struct {
	Start DayKey
	End   DayKey
}

func (r Range) Contains(k DayKey) bool {
	return k >= r.Start && k < r.End
}

// Days lists every day key in the range.
func (r Range) Days(loc *time.Location) []DayKey {
	var out []DayKey
	for k := r.Start; k < r.End; k = k.AddDays(1, loc) {
		out = append(out, k)
	}
	return out
}

func DayRange(t time.Time) Range {
	start := DayStart(t)
	return Range{Start: Key(start), End: Key(start.AddDate(0, 0, 1))}
}

func WeekRange(t time.Time, first time.Weekday) Range {
	start := WeekStart(t, first)
	return Range{Start: Key(start), End: Key(start.AddDate(0, 0, 7))}
}

func MonthRange(t time.Time) Range {
	start := MonthStart(t)
	return Range{Start: Key(start), End: Key(start.AddDate(0, 1, 0))}
}

func QuarterRange(t time.Time) Range {
	start := QuarterStart(t)
	return Range{Start: Key(start), End: Key(start.AddDate(0, 3, 0))}
}

func YearRange(t time.Time) Range {
	start := YearStart(t)
	return Range{Start: Key(start), End: Key(start.AddDate(1, 0, 0))}
}

// ParseWeekday accepts full or three-letter English day names.
func ParseWeekday(s string) (time.Weekday, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := strings.ToLower(d.String())
		if s == name || s == name[:3] {
			return d, nil
		}
	}
	return time.Sunday, fmt.Errorf("clock.ParseWeekday: unknown weekday %q", s)
}
