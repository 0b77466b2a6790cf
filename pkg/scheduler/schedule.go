package scheduler

import (
	"fmt"
	"time"
)

// Schedule determines when a periodic task should run
type Schedule interface {
	Next(from time.Time) time.Time
	String() string
}

// intervalSchedule runs at fixed intervals
type intervalSchedule struct {
	every time.Duration
}

func (s intervalSchedule) Next(from time.Time) time.Time {
	return from.Add(s.every)
}

func (s intervalSchedule) String() string {
	return fmt.Sprintf("every %v", s.every)
}

// hourlySchedule runs every hour at specified minute
type hourlySchedule struct {
	minute int
}

func (s hourlySchedule) Next(from time.Time) time.Time {
	next := time.Date(
		from.Year(), from.Month(), from.Day(),
		from.Hour(), s.minute, 0, 0, from.Location(),
	)
	if !next.After(from) {
		next = next.Add(time.Hour)
	}
	return next
}

func (s hourlySchedule) String() string {
	return fmt.Sprintf("hourly at :%02d", s.minute)
}

// dailySchedule runs once per day at specified time
type dailySchedule struct {
	hour   int
	minute int
}

func (s dailySchedule) Next(from time.Time) time.Time {
	next := time.Date(
		from.Year(), from.Month(), from.Day(),
		s.hour, s.minute, 0, 0, from.Location(),
	)
	if !next.After(from) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

func (s dailySchedule) String() string {
	return fmt.Sprintf("daily at %02d:%02d", s.hour, s.minute)
}

// Every creates a schedule that runs at fixed intervals.
// Non-positive durations fall back to one minute.
func Every(d time.Duration) Schedule {
	if d <= 0 {
		d = time.Minute
	}
	return intervalSchedule{every: d}
}

// HourlyAt creates a schedule that runs every hour at specified minute
func HourlyAt(minute int) Schedule {
	return hourlySchedule{minute: minute % 60}
}

// DailyAt creates a schedule that runs daily at specified time
func DailyAt(hour, minute int) Schedule {
	return dailySchedule{hour: hour % 24, minute: minute % 60}
}
