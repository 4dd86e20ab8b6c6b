package season

import (
	"testing"
	"time"

	"pollmarket/internal/calendar"
)

func TestIDAt(t *testing.T) {
	cases := []struct {
		now  time.Time
		want ID
	}{
		{time.Date(2026, 1, 1, 0, 0, 0, 0, calendar.Offset), "2026-1"},
		{time.Date(2026, 3, 31, 23, 59, 0, 0, calendar.Offset), "2026-1"},
		{time.Date(2026, 4, 1, 0, 0, 0, 0, calendar.Offset), "2026-2"},
		{time.Date(2026, 12, 31, 23, 0, 0, 0, calendar.Offset), "2026-4"},
		// 2026-12-31 15:30 UTC is already 2027-01-01 +09:00.
		{time.Date(2026, 12, 31, 15, 30, 0, 0, time.UTC), "2027-1"},
	}
	for _, c := range cases {
		if got := IDAt(c.now); got != c.want {
			t.Fatalf("IDAt(%v)=%s want=%s", c.now, got, c.want)
		}
	}
}

func TestDateRange(t *testing.T) {
	start, end := ID("2026-3").DateRange()
	if start.String() != "2026-07-01" {
		t.Fatalf("start=%s", start)
	}
	if end.String() != "2026-09-30" {
		t.Fatalf("end=%s", end)
	}
}

func TestPrev(t *testing.T) {
	prev, ok := ID("2026-3").Prev()
	if !ok || prev != "2026-2" {
		t.Fatalf("prev=%s ok=%v", prev, ok)
	}
	if _, ok := ID("2026-1").Prev(); ok {
		t.Fatalf("Q1 must not have a previous season")
	}
}

func TestParse(t *testing.T) {
	if _, err := Parse("2026-3"); err != nil {
		t.Fatalf("err=%v", err)
	}
	for _, bad := range []string{"2026", "2026-5", "2026-0", "abc"} {
		if _, err := Parse(bad); err == nil {
			t.Fatalf("Parse(%q) expected error", bad)
		}
	}
}
