package scheduler

import (
	"time"
)

// Schedule computes when a job should next run.
type Schedule interface {
	Next(after time.Time) time.Time
}

type every time.Duration

// Every runs a job at a fixed interval, first one interval after start.
func Every(d time.Duration) Schedule {
	if d <= 0 {
		panic("scheduler: interval must be positive")
	}
	return every(d)
}

func (e every) Next(after time.Time) time.Time {
	return after.Add(time.Duration(e))
}

func (e every) String() string { return "every " + time.Duration(e).String() }

type dailyAt struct {
	hour, minute int
	loc          *time.Location
}

// DailyAt runs a job once a day at hour:minute in loc.
func DailyAt(hour, minute int, loc *time.Location) Schedule {
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		panic("scheduler: invalid time of day")
	}
	if loc == nil {
		loc = time.UTC
	}
	return dailyAt{hour: hour, minute: minute, loc: loc}
}

func (d dailyAt) Next(after time.Time) time.Time {
	local := after.In(d.loc)
	y, m, day := local.Date()
	next := time.Date(y, m, day, d.hour, d.minute, 0, 0, d.loc)
	if !next.After(local) {
		next = time.Date(y, m, day+1, d.hour, d.minute, 0, 0, d.loc)
	}
	return next
}
