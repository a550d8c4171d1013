/*
Package localday resolves store-local business days against the UTC-only
POS fetch API.

PURPOSE:
  The fleet spans several US states and timezones (including Arizona, which
  does not observe DST). The POS transactions endpoint filters on UTC
  instants, but the authoritative attribution date for accounting is the
  store's civil calendar day. This package translates between the two.

THE PADDED-WINDOW DISCIPLINE:
  ExtendedWindow returns a fetch interval one full day wider on each side
  of the report date. That padding absorbs every US offset (UTC-4 through
  UTC-10) and every DST transition without offset arithmetic. Callers
  fetch wide and then filter precisely with LocalDate. This is the only
  approach that stays correct when transactionDateLocalTime is missing
  and the server's DST tables disagree with naive offset math.

SEE ALSO:
  - gl/aggregate.go: filters fetched transactions with LocalDate
  - hourly: maps local wall-clock hours back to UTC buckets
*/
package localday

import (
	"fmt"
	"time"
)

// Date is a civil calendar date in YYYY-MM-DD form. The string form is
// chosen deliberately: lexicographic comparison of YYYY-MM-DD equals
// chronological comparison, which keeps date predicates allocation-free.
type Date string

// ParseDate validates s as a YYYY-MM-DD date.
func ParseDate(s string) (Date, error) {
	if _, err := time.Parse("2006-01-02", s); err != nil {
		return "", fmt.Errorf("invalid date %q: %w", s, err)
	}
	return Date(s), nil
}

// DateOf returns the civil date of t in the given location.
func DateOf(t time.Time, loc *time.Location) Date {
	return Date(t.In(loc).Format("2006-01-02"))
}

// Time returns midnight UTC of the date. Invalid dates return the zero time.
func (d Date) Time() time.Time {
	t, err := time.Parse("2006-01-02", string(d))
	if err != nil {
		return time.Time{}
	}
	return t
}

// AddDays returns the date n calendar days later (n may be negative).
func (d Date) AddDays(n int) Date {
	return Date(d.Time().AddDate(0, 0, n).Format("2006-01-02"))
}

func (d Date) After(o Date) bool  { return d > o }
func (d Date) Before(o Date) bool { return d < o }
func (d Date) String() string     { return string(d) }

// Today returns the current civil date in loc.
func Today(loc *time.Location) Date {
	return DateOf(time.Now(), loc)
}

// ExtendedWindow returns the conservative UTC fetch window for report date d:
// [d-1 00:00:00 UTC, d+1 23:59:59 UTC]. The window is guaranteed to contain
// every transaction whose local date equals d for any US timezone, DST or
// not. Callers must filter post-fetch with LocalDate.
func ExtendedWindow(d Date) (from, to time.Time) {
	from = d.AddDays(-1).Time()
	to = d.AddDays(1).Time().Add(23*time.Hour + 59*time.Minute + 59*time.Second)
	return from, to
}

// RangeWindow is ExtendedWindow generalized to an inclusive date range.
func RangeWindow(start, end Date) (from, to time.Time) {
	from, _ = ExtendedWindow(start)
	_, to = ExtendedWindow(end)
	return from, to
}

// LocalDayWindow returns the exact UTC instants bounding local day d in loc:
// [local midnight, next local midnight). DST is handled by the timezone
// database; on spring-forward days the window is 23 hours long, on
// fall-back days 25.
func LocalDayWindow(d Date, loc *time.Location) (from, to time.Time) {
	t := d.Time()
	from = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc).UTC()
	n := d.AddDays(1).Time()
	to = time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, loc).UTC()
	return from, to
}

// LocalDate classifies a transaction instant to a store-local civil date.
// The POS reports a tz-naive local wall-clock string alongside the UTC
// instant; when present it is authoritative (the vendor computed it with
// the store's own setting). Otherwise the UTC instant is converted through
// the store's IANA zone.
//
// localTime is the raw transactionDateLocalTime value ("" when absent).
func LocalDate(localTime string, utc time.Time, loc *time.Location) Date {
	if len(localTime) >= 10 {
		return Date(localTime[:10])
	}
	return DateOf(utc, loc)
}

// UTCOffsetHours returns loc's UTC offset in whole hours at instant at.
// Arizona (America/Phoenix) yields -7 year-round; DST zones vary with at.
func UTCOffsetHours(loc *time.Location, at time.Time) int {
	_, secs := at.In(loc).Zone()
	return secs / 3600
}

// LocalHourToUTC maps a local (date, hour) pair to its UTC (date, hour),
// carrying day overflow in either direction. offsetHours is the zone's
// UTC offset (negative west of Greenwich).
func LocalHourToUTC(d Date, hour, offsetHours int) (Date, int) {
	h := hour - offsetHours
	switch {
	case h >= 24:
		return d.AddDays(1), h - 24
	case h < 0:
		return d.AddDays(-1), h + 24
	default:
		return d, h
	}
}

// LoadLocation resolves an IANA timezone name. Thin wrapper so callers get
// a consistent error shape for misconfigured store records.
func LoadLocation(name string) (*time.Location, error) {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("unknown timezone %q: %w", name, err)
	}
	return loc, nil
}
