// Package season derives the fixed quarterly seasons ranking statistics are
// scoped to. Season ids look like "2026-3". Derivation is pure so tests can
// supply any "now".
package season

import (
	"fmt"
	"time"

	"pollmarket/internal/calendar"
)

type ID string

// IDAt returns the season containing t, evaluated on the civil calendar.
func IDAt(t time.Time) ID {
	l := t.In(calendar.Offset)
	q := (int(l.Month())-1)/3 + 1
	return ID(fmt.Sprintf("%d-%d", l.Year(), q))
}

func Parse(s string) (ID, error) {
	var year, q int
	if _, err := fmt.Sscanf(s, "%d-%d", &year, &q); err != nil || q < 1 || q > 4 || year < 2000 {
		return "", fmt.Errorf("season id must be YYYY-Q, got %q", s)
	}
	return ID(fmt.Sprintf("%d-%d", year, q)), nil
}

func (id ID) parts() (year, q int) {
	fmt.Sscanf(string(id), "%d-%d", &year, &q)
	return
}

// DateRange returns the first and last civil dates of the season, inclusive.
func (id ID) DateRange() (start, end calendar.CivilDate) {
	year, q := id.parts()
	firstMonth := time.Month((q-1)*3 + 1)
	s := time.Date(year, firstMonth, 1, 0, 0, 0, 0, calendar.Offset)
	e := s.AddDate(0, 3, -1)
	return calendar.CivilDate{Year: s.Year(), Month: s.Month(), Day: s.Day()},
		calendar.CivilDate{Year: e.Year(), Month: e.Month(), Day: e.Day()}
}

// Prev returns the preceding season within the same year, or false for Q1.
// Cross-year carryover is intentionally absent.
func (id ID) Prev() (ID, bool) {
	year, q := id.parts()
	if q <= 1 {
		return "", false
	}
	return ID(fmt.Sprintf("%d-%d", year, q-1)), true
}
