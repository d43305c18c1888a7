package scheduler

import (
	"fmt"
	"time"
)

// Schedule computes when a job should next run. Next returns false when the
// job never fires on its own.
type Schedule interface {
	Next(after time.Time) (time.Time, bool)
	Describe() string
}

// Daily fires once a day at the given wall-clock time.
type Daily struct {
	Hour   int
	Minute int
}

func (d Daily) Next(after time.Time) (time.Time, bool) {
	candidate := time.Date(after.Year(), after.Month(), after.Day(), d.Hour, d.Minute, 0, 0, after.Location())
	if !candidate.After(after) {
		candidate = candidate.AddDate(0, 0, 1)
	}
	return candidate, true
}

func (d Daily) Describe() string {
	return fmt.Sprintf("daily at %02d:%02d", d.Hour, d.Minute)
}

// Weekly fires once a week on the given weekday at the given wall-clock time.
type Weekly struct {
	Weekday time.Weekday
	Hour    int
	Minute  int
}

func (w Weekly) Next(after time.Time) (time.Time, bool) {
	candidate := time.Date(after.Year(), after.Month(), after.Day(), w.Hour, w.Minute, 0, 0, after.Location())
	for candidate.Weekday() != w.Weekday || !candidate.After(after) {
		candidate = candidate.AddDate(0, 0, 1)
	}
	return candidate, true
}

func (w Weekly) Describe() string {
	return fmt.Sprintf("weekly on %s at %02d:%02d", w.Weekday, w.Hour, w.Minute)
}

// Manual never fires on its own; the job only runs on demand.
type Manual struct{}

func (Manual) Next(after time.Time) (time.Time, bool) { return time.Time{}, false }

func (Manual) Describe() string { return "manual" }
