package model

import (
	"fmt"
	"time"
)

// TaskTemplate defines a recurring household chore.
// ActiveWeekdays uses Monday=0 ... Sunday=6.
type TaskTemplate struct {
	Key            string `yaml:"key"`
	DisplayName    string `yaml:"name"`
	Hour           int    `yaml:"hour"`
	Minute         int    `yaml:"minute"`
	ActiveWeekdays []int  `yaml:"days"`
	SupportsRain   bool   `yaml:"rain"`
}

// Weekday converts a time.Weekday into the template numbering.
func Weekday(d time.Weekday) int {
	return (int(d) + 6) % 7
}

// ActiveOn reports whether the template runs on the weekday of t.
func (t TaskTemplate) ActiveOn(day time.Time) bool {
	wd := Weekday(day.Weekday())
	for _, d := range t.ActiveWeekdays {
		if d == wd {
			return true
		}
	}
	return false
}

// TimeOfDay returns the "HH:MM" form of the template time.
func (t TaskTemplate) TimeOfDay() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// Validate checks ranges and weekday values.
func (t TaskTemplate) Validate() error {
	if t.Key == "" {
		return fmt.Errorf("template key is required")
	}
	if t.DisplayName == "" {
		return fmt.Errorf("template %q: name is required", t.Key)
	}
	if t.Hour < 0 || t.Hour > 23 {
		return fmt.Errorf("template %q: hour %d out of range", t.Key, t.Hour)
	}
	if t.Minute < 0 || t.Minute > 59 {
		return fmt.Errorf("template %q: minute %d out of range", t.Key, t.Minute)
	}
	if len(t.ActiveWeekdays) == 0 {
		return fmt.Errorf("template %q: at least one weekday is required", t.Key)
	}
	for _, d := range t.ActiveWeekdays {
		if d < 0 || d > 6 {
			return fmt.Errorf("template %q: weekday %d out of range", t.Key, d)
		}
	}
	return nil
}

// AllWeek is the weekday set of a daily chore.
func AllWeek() []int {
	return []int{0, 1, 2, 3, 4, 5, 6}
}
