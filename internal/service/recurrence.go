package service

import "time"

// WeeklyDates returns every date between start and end (inclusive) falling on
// the given weekday. If start itself falls on the weekday it is the first
// result. Dates are normalised to midnight UTC.
func WeeklyDates(start, end time.Time, weekday time.Weekday) []time.Time {
	start = truncateToDay(start)
	end = truncateToDay(end)
	if end.Before(start) {
		return nil
	}

	current := start
	for current.Weekday() != weekday {
		current = current.AddDate(0, 0, 1)
	}

	var dates []time.Time
	for !current.After(end) {
		dates = append(dates, current)
		current = current.AddDate(0, 0, 7)
	}
	return dates
}

// SubtractClosures filters out dates that coincide with an org-wide closure.
func SubtractClosures(dates, closures []time.Time) []time.Time {
	if len(closures) == 0 {
		return dates
	}

	closed := make(map[time.Time]struct{}, len(closures))
	for _, c := range closures {
		closed[truncateToDay(c)] = struct{}{}
	}

	result := make([]time.Time, 0, len(dates))
	for _, d := range dates {
		if _, ok := closed[truncateToDay(d)]; ok {
			continue
		}
		result = append(result, d)
	}
	return result
}

func truncateToDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
