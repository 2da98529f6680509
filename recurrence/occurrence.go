package recurrence

import "time"

// dateOnly truncates t to midnight UTC. All occurrence arithmetic is
// day-granular; times of day never participate.
func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Occurrences returns the series' occurrence dates within [from, to],
// both bounds inclusive, in ascending order. The series' own bounds
// (StartDate, optional EndDate) are applied first. Monthly series keep
// the start date's day-of-month, clamped to shorter months, so a series
// started on the 31st lands on Feb 28/29 instead of skipping or
// spilling into March.
func (s *RecurringSeries) Occurrences(from, to time.Time) []time.Time {
	from = dateOnly(from)
	to = dateOnly(to)
	start := dateOnly(s.StartDate)

	if to.Before(from) || to.Before(start) {
		return nil
	}
	if s.EndDate != nil {
		end := dateOnly(*s.EndDate)
		if end.Before(to) {
			to = end
		}
		if to.Before(from) {
			return nil
		}
	}

	step := func(cur time.Time, n int) time.Time {
		switch s.Frequency {
		case FrequencyDaily:
			return start.AddDate(0, 0, n)
		case FrequencyWeekly:
			return start.AddDate(0, 0, n*7)
		case FrequencyMonthly:
			return addMonthsClamped(start, n)
		case FrequencyCustom:
			return start.AddDate(0, 0, n*s.IntervalDays)
		}
		return cur
	}

	if s.Frequency == FrequencyCustom && s.IntervalDays <= 0 {
		return nil
	}

	var dates []time.Time
	for n := 0; ; n++ {
		occ := step(start, n)
		if occ.After(to) {
			break
		}
		if !occ.Before(from) {
			dates = append(dates, occ)
		}
	}
	return dates
}

// addMonthsClamped advances base by n calendar months, clamping the day
// to the target month's length. time.AddDate alone would normalize
// Jan 31 + 1 month into March 3.
func addMonthsClamped(base time.Time, n int) time.Time {
	first := time.Date(base.Year(), base.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, n, 0)
	day := base.Day()
	if last := daysInMonth(first.Year(), first.Month()); day > last {
		day = last
	}
	return time.Date(first.Year(), first.Month(), day, 0, 0, 0, 0, time.UTC)
}

func daysInMonth(year int, month time.Month) int {
	// Day zero of the following month is the last day of this one.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
