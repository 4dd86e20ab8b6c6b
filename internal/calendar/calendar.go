// Package calendar maps the service's fixed +09:00 civil calendar to UTC
// window boundaries. All functions are pure: "now" is always an argument.
//
// One asymmetry is deliberate: the primary BTC daily market opens at UTC
// midnight so its windows line up with the upstream provider's native 1d
// bars, while every other market opens at 00:00 +09:00. See
// market.Market.UTCAligned.
package calendar

import (
	"fmt"
	"time"

	"pollmarket/internal/market"
)

// Offset is the civil calendar offset. The service does not observe DST.
var Offset = time.FixedZone("UTC+9", 9*60*60)

// CivilDate is a calendar date in the +09:00 civil calendar
// (or UTC for the UTC-aligned daily market).
type CivilDate struct {
	Year  int
	Month time.Month
	Day   int
}

func (d CivilDate) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

// ParseCivilDate parses "YYYY-MM-DD".
func ParseCivilDate(s string) (CivilDate, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return CivilDate{}, fmt.Errorf("poll date must be YYYY-MM-DD: %w", err)
	}
	return CivilDate{Year: t.Year(), Month: t.Month(), Day: t.Day()}, nil
}

// DateOf returns the civil date t falls on.
func DateOf(t time.Time) CivilDate {
	l := t.In(Offset)
	return CivilDate{Year: l.Year(), Month: l.Month(), Day: l.Day()}
}

// Slot addresses one sub-window within a civil day. Hour applies to hourly
// and 15-minute markets, Quarter (0-3) to 15-minute markets, FourHour (0-5)
// to 4-hour markets. Daily and coarser markets ignore it.
type Slot struct {
	Hour     int
	Quarter  int
	FourHour int
}

// WindowStart returns the UTC instant a market's window beginning on
// civilDate at the given slot opens. Out-of-range slots are a caller
// contract violation and are rejected, never clamped.
func WindowStart(m market.Market, d CivilDate, slot Slot) (time.Time, error) {
	switch m.Granularity() {
	case market.Gran15m:
		if slot.Hour < 0 || slot.Hour > 23 {
			return time.Time{}, fmt.Errorf("hour must be 0-23, got %d", slot.Hour)
		}
		if slot.Quarter < 0 || slot.Quarter > 3 {
			return time.Time{}, fmt.Errorf("quarter slot must be 0-3, got %d", slot.Quarter)
		}
		return civilInstant(d, slot.Hour, slot.Quarter*15), nil
	case market.Gran1h:
		if slot.Hour < 0 || slot.Hour > 23 {
			return time.Time{}, fmt.Errorf("hour must be 0-23, got %d", slot.Hour)
		}
		return civilInstant(d, slot.Hour, 0), nil
	case market.Gran4h:
		if slot.FourHour < 0 || slot.FourHour > 5 {
			return time.Time{}, fmt.Errorf("4h slot must be 0-5, got %d", slot.FourHour)
		}
		return civilInstant(d, slot.FourHour*4, 0), nil
	case market.Gran1w:
		return weekStart(d), nil
	case market.Gran1mo:
		return monthStart(d), nil
	case market.Gran1y:
		return yearStart(d), nil
	default:
		return dayStart(m, d), nil
	}
}

// WindowsForDay enumerates every window start belonging to one civil day,
// oldest first: 1 for daily, 6 for 4-hour, 24 for hourly, 96 for 15-minute.
// Weekly and coarser markets report the single window containing the date.
func WindowsForDay(m market.Market, d CivilDate) ([]time.Time, error) {
	switch m.Granularity() {
	case market.Gran15m:
		out := make([]time.Time, 0, 96)
		for h := 0; h < 24; h++ {
			for q := 0; q < 4; q++ {
				out = append(out, civilInstant(d, h, q*15))
			}
		}
		return out, nil
	case market.Gran1h:
		out := make([]time.Time, 0, 24)
		for h := 0; h < 24; h++ {
			out = append(out, civilInstant(d, h, 0))
		}
		return out, nil
	case market.Gran4h:
		out := make([]time.Time, 0, 6)
		for s := 0; s < 6; s++ {
			out = append(out, civilInstant(d, s*4, 0))
		}
		return out, nil
	case market.Gran1w:
		return []time.Time{weekStart(d)}, nil
	case market.Gran1mo:
		return []time.Time{monthStart(d)}, nil
	case market.Gran1y:
		return []time.Time{yearStart(d)}, nil
	default:
		return []time.Time{dayStart(m, d)}, nil
	}
}

// CurrentWindowStart returns the start of the window in progress at now.
func CurrentWindowStart(m market.Market, now time.Time) time.Time {
	switch m.Granularity() {
	case market.Gran15m:
		return now.UTC().Truncate(15 * time.Minute)
	case market.Gran1h:
		return now.UTC().Truncate(time.Hour)
	case market.Gran4h:
		// 4h slots are anchored to civil midnight, which sits at a
		// 1-hour UTC offset remainder, so truncate in civil time.
		l := now.In(Offset)
		return time.Date(l.Year(), l.Month(), l.Day(), (l.Hour()/4)*4, 0, 0, 0, Offset).UTC()
	case market.Gran1w:
		return weekStart(DateOf(now))
	case market.Gran1mo:
		return monthStart(DateOf(now))
	case market.Gran1y:
		return yearStart(DateOf(now))
	default:
		if m.UTCAligned() {
			u := now.UTC()
			return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
		}
		l := now.In(Offset)
		return time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, Offset).UTC()
	}
}

// RecentWindowStarts returns the count most recently closed window starts at
// now, oldest first. The window containing now is excluded: it has not
// closed yet.
func RecentWindowStarts(m market.Market, count int, now time.Time) []time.Time {
	if count <= 0 {
		return nil
	}
	out := make([]time.Time, count)
	cur := CurrentWindowStart(m, now)
	for i := count - 1; i >= 0; i-- {
		cur = previousWindowStart(m, cur)
		out[i] = cur
	}
	return out
}

func previousWindowStart(m market.Market, start time.Time) time.Time {
	switch m.Granularity() {
	case market.Gran15m:
		return start.Add(-15 * time.Minute)
	case market.Gran1h:
		return start.Add(-time.Hour)
	case market.Gran4h:
		return start.Add(-4 * time.Hour)
	case market.Gran1w:
		return start.AddDate(0, 0, -7)
	case market.Gran1mo:
		l := start.In(Offset)
		return time.Date(l.Year(), l.Month()-1, 1, 0, 0, 0, 0, Offset).UTC()
	case market.Gran1y:
		l := start.In(Offset)
		return time.Date(l.Year()-1, time.January, 1, 0, 0, 0, 0, Offset).UTC()
	default:
		return start.AddDate(0, 0, -1)
	}
}

// WindowEnd returns the close instant of the window opening at start.
func WindowEnd(m market.Market, start time.Time) time.Time {
	switch m.Granularity() {
	case market.Gran15m:
		return start.Add(15 * time.Minute)
	case market.Gran1h:
		return start.Add(time.Hour)
	case market.Gran4h:
		return start.Add(4 * time.Hour)
	case market.Gran1w:
		return start.AddDate(0, 0, 7)
	case market.Gran1mo:
		l := start.In(Offset)
		return time.Date(l.Year(), l.Month()+1, 1, 0, 0, 0, 0, Offset).UTC()
	case market.Gran1y:
		l := start.In(Offset)
		return time.Date(l.Year()+1, time.January, 1, 0, 0, 0, 0, Offset).UTC()
	default:
		return start.AddDate(0, 0, 1)
	}
}

func civilInstant(d CivilDate, hour, minute int) time.Time {
	return time.Date(d.Year, d.Month, d.Day, hour, minute, 0, 0, Offset).UTC()
}

func dayStart(m market.Market, d CivilDate) time.Time {
	if m.UTCAligned() {
		return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
	}
	return civilInstant(d, 0, 0)
}

// weekStart is the Monday 00:00 +09:00 on or before d. time.Date normalizes
// out-of-range days, so January dates roll back into the previous year
// correctly.
func weekStart(d CivilDate) time.Time {
	t := time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, Offset)
	back := (int(t.Weekday()) + 6) % 7 // Monday=0
	return t.AddDate(0, 0, -back).UTC()
}

func monthStart(d CivilDate) time.Time {
	return time.Date(d.Year, d.Month, 1, 0, 0, 0, 0, Offset).UTC()
}

func yearStart(d CivilDate) time.Time {
	return time.Date(d.Year, time.January, 1, 0, 0, 0, 0, Offset).UTC()
}
