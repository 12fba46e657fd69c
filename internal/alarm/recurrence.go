package alarm

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	reHHMM    = regexp.MustCompile(`^(\d{1,2}):(\d{2})$`)
	reDayAt   = regexp.MustCompile(`^(\d{1,2})@(\d{1,2}):(\d{2})$`)
	reYearly  = regexp.MustCompile(`^(\d{1,2})-(\d{1,2})@(\d{1,2}):(\d{2})$`)
	reOneShot = regexp.MustCompile(`^(\d{2})-(\d{1,2})-(\d{1,2})@(\d{1,2}):(\d{2})$`)
)

// NextOccurrence computes the current-or-next occurrence of a (forceFuture
// false) or the strictly future one (forceFuture true). Every field is read
// in now.Location(); the result only depends on its arguments.
//
// Boot-relative alarms return ErrNotPolled. Any parse or range failure
// returns an error wrapping ErrInvalidPattern.
func NextOccurrence(a Alarm, now time.Time, forceFuture bool) (time.Time, error) {
	loc := now.Location()
	pattern := strings.TrimSpace(a.Pattern)
	y, mo, d := now.Date()

	switch a.Kind {
	case KindBoot:
		return time.Time{}, ErrNotPolled

	case KindOneShot:
		return parseOneShot(pattern, loc)

	case KindHourly:
		minute, err := strconv.Atoi(pattern)
		if err != nil || minute < 0 || minute > 59 {
			return time.Time{}, invalidPattern(a, "minute must be 0-59")
		}
		t := time.Date(y, mo, d, now.Hour(), minute, 0, 0, loc)
		if minute > now.Minute() || (minute == now.Minute() && !forceFuture) {
			return t, nil
		}
		return t.Add(time.Hour), nil

	case KindDaily:
		hh, mm, err := parseClock(pattern)
		if err != nil {
			return time.Time{}, invalidPattern(a, err.Error())
		}
		t := time.Date(y, mo, d, hh, mm, 0, 0, loc)
		if forceFuture && !t.After(now) {
			t = time.Date(y, mo, d+1, hh, mm, 0, 0, loc)
		}
		return t, nil

	case KindWeekly:
		wd, hh, mm, err := parseDayAt(pattern, 0, 6)
		if err != nil {
			return time.Time{}, invalidPattern(a, err.Error())
		}
		diff := (wd - int(now.Weekday()) + 7) % 7
		if diff == 0 && forceFuture {
			diff = 7
		}
		return time.Date(y, mo, d+diff, hh, mm, 0, 0, loc), nil

	case KindMonthly:
		day, hh, mm, err := parseDayAt(pattern, 1, 31)
		if err != nil {
			return time.Time{}, invalidPattern(a, err.Error())
		}
		t := clampedDate(y, mo, day, hh, mm, loc)
		if forceFuture && !t.After(now) {
			ny, nmo := y, mo+1
			if nmo > time.December {
				nmo = time.January
				ny++
			}
			t = clampedDate(ny, nmo, day, hh, mm, loc)
		}
		return t, nil

	case KindYearly:
		m := reYearly.FindStringSubmatch(pattern)
		if m == nil {
			return time.Time{}, invalidPattern(a, "expected MM-DD@HH:MM")
		}
		month, day, hh, mm := atoi(m[1]), atoi(m[2]), atoi(m[3]), atoi(m[4])
		if month < 1 || month > 12 {
			return time.Time{}, invalidPattern(a, "month must be 1-12")
		}
		// 2000 is a leap year, so 02-29 passes and is clamped in other years.
		if day < 1 || day > daysIn(2000, time.Month(month)) {
			return time.Time{}, invalidPattern(a, "day out of range for month")
		}
		if err := checkClock(hh, mm); err != nil {
			return time.Time{}, invalidPattern(a, err.Error())
		}
		t := clampedDate(y, time.Month(month), day, hh, mm, loc)
		if forceFuture && !t.After(now) {
			t = clampedDate(y+1, time.Month(month), day, hh, mm, loc)
		}
		return t, nil
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrUnknownKind, a.Kind.String())
}

func invalidPattern(a Alarm, detail string) error {
	return fmt.Errorf("%w: %s %q: %s", ErrInvalidPattern, a.Kind.Name(), a.Pattern, detail)
}

// parseOneShot reads YY-MM-DD@HH:MM. Two-digit years follow POSIX %y:
// 00-68 are 20YY, 69-99 are 19YY.
func parseOneShot(pattern string, loc *time.Location) (time.Time, error) {
	m := reOneShot.FindStringSubmatch(pattern)
	if m == nil {
		return time.Time{}, fmt.Errorf("%w: oneshot %q: expected YY-MM-DD@HH:MM", ErrInvalidPattern, pattern)
	}
	yy, month, day, hh, mm := atoi(m[1]), atoi(m[2]), atoi(m[3]), atoi(m[4]), atoi(m[5])
	year := 2000 + yy
	if yy >= 69 {
		year = 1900 + yy
	}
	if month < 1 || month > 12 || day < 1 || day > daysIn(year, time.Month(month)) {
		return time.Time{}, fmt.Errorf("%w: oneshot %q: no such date", ErrInvalidPattern, pattern)
	}
	if err := checkClock(hh, mm); err != nil {
		return time.Time{}, fmt.Errorf("%w: oneshot %q: %v", ErrInvalidPattern, pattern, err)
	}
	return time.Date(year, time.Month(month), day, hh, mm, 0, 0, loc), nil
}

func parseClock(s string) (hour, minute int, err error) {
	m := reHHMM.FindStringSubmatch(s)
	if m == nil {
		return 0, 0, fmt.Errorf("expected HH:MM")
	}
	hour, minute = atoi(m[1]), atoi(m[2])
	return hour, minute, checkClock(hour, minute)
}

func parseDayAt(s string, lo, hi int) (day, hour, minute int, err error) {
	m := reDayAt.FindStringSubmatch(s)
	if m == nil {
		return 0, 0, 0, fmt.Errorf("expected D@HH:MM")
	}
	day, hour, minute = atoi(m[1]), atoi(m[2]), atoi(m[3])
	if day < lo || day > hi {
		return 0, 0, 0, fmt.Errorf("day must be %d-%d", lo, hi)
	}
	return day, hour, minute, checkClock(hour, minute)
}

func checkClock(hour, minute int) error {
	if hour < 0 || hour > 23 {
		return fmt.Errorf("hour must be 0-23")
	}
	if minute < 0 || minute > 59 {
		return fmt.Errorf("minute must be 0-59")
	}
	return nil
}

// clampedDate builds the date, moving day back to the month's last day when
// the month is shorter.
func clampedDate(year int, month time.Month, day, hour, minute int, loc *time.Location) time.Time {
	if last := daysIn(year, month); day > last {
		day = last
	}
	return time.Date(year, month, day, hour, minute, 0, 0, loc)
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// atoi is only used on regexp-matched digit groups.
func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
