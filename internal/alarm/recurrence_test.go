package alarm

import (
	"errors"
	"testing"
	"time"
)

func at(y int, mo time.Month, d, h, m, s int) time.Time {
	return time.Date(y, mo, d, h, m, s, 0, time.UTC)
}

func TestNextOccurrence(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name   string
		kind   Kind
		pat    string
		now    time.Time
		future bool
		want   time.Time
	}{
		{"hourly later this hour", KindHourly, "30", at(2025, 3, 10, 14, 5, 0), false, at(2025, 3, 10, 14, 30, 0)},
		{"hourly passed rolls to next hour", KindHourly, "30", at(2025, 3, 10, 14, 31, 0), false, at(2025, 3, 10, 15, 30, 0)},
		{"hourly same minute current", KindHourly, "30", at(2025, 3, 10, 14, 30, 20), false, at(2025, 3, 10, 14, 30, 0)},
		{"hourly same minute future", KindHourly, "30", at(2025, 3, 10, 14, 30, 20), true, at(2025, 3, 10, 15, 30, 0)},
		{"hourly crosses midnight", KindHourly, "0", at(2025, 12, 31, 23, 10, 0), false, at(2026, 1, 1, 0, 0, 0)},

		{"daily before time", KindDaily, "07:30", at(2025, 3, 10, 6, 0, 0), false, at(2025, 3, 10, 7, 30, 0)},
		{"daily before time future", KindDaily, "07:30", at(2025, 3, 10, 6, 0, 0), true, at(2025, 3, 10, 7, 30, 0)},
		{"daily after time current stays today", KindDaily, "07:30", at(2025, 3, 10, 9, 0, 0), false, at(2025, 3, 10, 7, 30, 0)},
		{"daily after time future is tomorrow", KindDaily, "07:30", at(2025, 3, 10, 9, 0, 0), true, at(2025, 3, 11, 7, 30, 0)},
		{"daily exactly now future", KindDaily, "07:30", at(2025, 3, 10, 7, 30, 0), true, at(2025, 3, 11, 7, 30, 0)},
		{"daily month end", KindDaily, "00:15", at(2025, 1, 31, 12, 0, 0), true, at(2025, 2, 1, 0, 15, 0)},

		// 2025-03-10 is a Monday.
		{"weekly later this week", KindWeekly, "3@12:00", at(2025, 3, 10, 8, 0, 0), false, at(2025, 3, 12, 12, 0, 0)},
		{"weekly earlier weekday wraps", KindWeekly, "0@12:00", at(2025, 3, 10, 8, 0, 0), true, at(2025, 3, 16, 12, 0, 0)},

		{"monthly this month", KindMonthly, "15@09:00", at(2025, 3, 10, 8, 0, 0), true, at(2025, 3, 15, 9, 0, 0)},
		{"monthly passed current", KindMonthly, "5@09:00", at(2025, 3, 10, 8, 0, 0), false, at(2025, 3, 5, 9, 0, 0)},
		{"monthly passed future", KindMonthly, "5@09:00", at(2025, 3, 10, 8, 0, 0), true, at(2025, 4, 5, 9, 0, 0)},
		{"monthly december rolls year", KindMonthly, "1@00:00", at(2025, 12, 20, 8, 0, 0), true, at(2026, 1, 1, 0, 0, 0)},
		{"monthly day 31 clamps in april", KindMonthly, "31@09:00", at(2025, 4, 10, 8, 0, 0), false, at(2025, 4, 30, 9, 0, 0)},
		{"monthly day 31 clamps in february", KindMonthly, "31@09:00", at(2025, 1, 31, 10, 0, 0), true, at(2025, 2, 28, 9, 0, 0)},
		{"monthly day 30 leap february", KindMonthly, "30@09:00", at(2024, 2, 1, 0, 0, 0), false, at(2024, 2, 29, 9, 0, 0)},

		{"yearly this year", KindYearly, "12-25@08:00", at(2025, 3, 10, 8, 0, 0), true, at(2025, 12, 25, 8, 0, 0)},
		{"yearly passed future", KindYearly, "01-01@00:00", at(2025, 3, 10, 8, 0, 0), true, at(2026, 1, 1, 0, 0, 0)},
		{"yearly passed current", KindYearly, "01-01@00:00", at(2025, 3, 10, 8, 0, 0), false, at(2025, 1, 1, 0, 0, 0)},
		{"yearly feb 29 clamps", KindYearly, "02-29@12:00", at(2025, 1, 1, 0, 0, 0), false, at(2025, 2, 28, 12, 0, 0)},
		{"yearly feb 29 leap", KindYearly, "02-29@12:00", at(2024, 1, 1, 0, 0, 0), false, at(2024, 2, 29, 12, 0, 0)},

		{"oneshot", KindOneShot, "25-06-01@18:45", at(2025, 3, 10, 8, 0, 0), false, at(2025, 6, 1, 18, 45, 0)},
		{"oneshot future flag ignored", KindOneShot, "25-06-01@18:45", at(2025, 3, 10, 8, 0, 0), true, at(2025, 6, 1, 18, 45, 0)},
		{"oneshot 69 is 1969", KindOneShot, "69-07-20@20:17", at(2025, 3, 10, 8, 0, 0), false, at(1969, 7, 20, 20, 17, 0)},
		{"oneshot 68 is 2068", KindOneShot, "68-01-01@00:00", at(2025, 3, 10, 8, 0, 0), false, at(2068, 1, 1, 0, 0, 0)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NextOccurrence(Alarm{Kind: tc.kind, Pattern: tc.pat}, tc.now, tc.future)
			if err != nil {
				t.Fatalf("NextOccurrence(%s %q): %v", tc.kind, tc.pat, err)
			}
			if !got.Equal(tc.want) {
				t.Fatalf("NextOccurrence(%s %q, %s, %v) = %s, want %s", tc.kind, tc.pat, tc.now, tc.future, got, tc.want)
			}
		})
	}
}

func TestNextOccurrenceInvalid(t *testing.T) {
	t.Parallel()
	now := at(2025, 3, 10, 8, 0, 0)
	cases := []struct {
		kind Kind
		pat  string
	}{
		{KindHourly, "60"},
		{KindHourly, "x"},
		{KindDaily, "24:00"},
		{KindDaily, "7"},
		{KindWeekly, "7@10:00"},
		{KindWeekly, "1@10:60"},
		{KindMonthly, "0@10:00"},
		{KindMonthly, "32@10:00"},
		{KindYearly, "13-01@00:00"},
		{KindYearly, "02-30@00:00"},
		{KindYearly, "04-31@00:00"},
		{KindOneShot, "2025-01-01@00:00"},
		{KindOneShot, "25-02-29@00:00"},
		{KindOneShot, "25-01-01 00:00"},
	}
	for _, tc := range cases {
		_, err := NextOccurrence(Alarm{Kind: tc.kind, Pattern: tc.pat}, now, false)
		if !errors.Is(err, ErrInvalidPattern) {
			t.Fatalf("NextOccurrence(%s %q) err = %v, want ErrInvalidPattern", tc.kind, tc.pat, err)
		}
	}

	if _, err := NextOccurrence(Alarm{Kind: KindBoot, Pattern: "10"}, now, false); !errors.Is(err, ErrNotPolled) {
		t.Fatalf("boot err = %v, want ErrNotPolled", err)
	}
}

func TestDailyProperty(t *testing.T) {
	t.Parallel()
	day := at(2025, 7, 14, 0, 0, 0)
	for minute := 0; minute < 24*60; minute += 37 {
		now := day.Add(time.Duration(minute)*time.Minute + 13*time.Second)
		target := day.Add(12*time.Hour + 45*time.Minute)
		a := Alarm{Kind: KindDaily, Pattern: "12:45"}

		cur, _ := NextOccurrence(a, now, false)
		fut, _ := NextOccurrence(a, now, true)
		if now.Before(target) {
			if !cur.Equal(target) || !fut.Equal(target) {
				t.Fatalf("now %s: got %s / %s, want today %s", now, cur, fut, target)
			}
		} else if !fut.Equal(target.AddDate(0, 0, 1)) {
			t.Fatalf("now %s: future = %s, want tomorrow", now, fut)
		}
	}
}

func TestWeeklyProperty(t *testing.T) {
	t.Parallel()
	start := at(2025, 3, 9, 10, 0, 0) // Sunday
	for i := 0; i < 7; i++ {
		now := start.AddDate(0, 0, i)
		wd := int(now.Weekday())
		a := Alarm{Kind: KindWeekly, Pattern: string(rune('0'+wd)) + "@10:00"}

		cur, err := NextOccurrence(a, now, false)
		if err != nil {
			t.Fatalf("NextOccurrence: %v", err)
		}
		if !cur.Equal(now) {
			t.Fatalf("weekday %d: current = %s, want today %s", wd, cur, now)
		}
		fut, _ := NextOccurrence(a, now, true)
		if !fut.Equal(now.AddDate(0, 0, 7)) {
			t.Fatalf("weekday %d: future = %s, want exactly 7 days later", wd, fut)
		}
	}
}

func TestNextOccurrenceUsesLocationCalendar(t *testing.T) {
	t.Parallel()
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	// DST starts 2025-03-09 02:00 local.
	now := time.Date(2025, 3, 8, 9, 0, 0, 0, loc)
	got, err := NextOccurrence(Alarm{Kind: KindDaily, Pattern: "08:00"}, now, true)
	if err != nil {
		t.Fatalf("NextOccurrence: %v", err)
	}
	want := time.Date(2025, 3, 9, 8, 0, 0, 0, loc)
	if !got.Equal(want) || got.Hour() != 8 {
		t.Fatalf("got %s, want %s", got, want)
	}
}
