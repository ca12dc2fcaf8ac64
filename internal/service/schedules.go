package service

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/teambition/rrule-go"

	"household-reminders/internal/model"
)

var ruleWeekdays = [7]rrule.Weekday{rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR, rrule.SA, rrule.SU}

// templateRule expresses a template as FREQ=WEEKLY;BYDAY=...;BYHOUR=h;BYMINUTE=m starting on the day of from.
func templateRule(t model.TaskTemplate, loc *time.Location, from time.Time) (*rrule.RRule, error) {
	days := make([]rrule.Weekday, 0, len(t.ActiveWeekdays))
	for _, d := range t.ActiveWeekdays {
		if d < 0 || d > 6 {
			return nil, fmt.Errorf("template %q: weekday %d out of range", t.Key, d)
		}
		days = append(days, ruleWeekdays[d])
	}
	rule, err := rrule.NewRRule(rrule.ROption{
		Freq:      rrule.WEEKLY,
		Dtstart:   model.StartOfDay(from, loc),
		Byweekday: days,
		Byhour:    []int{t.Hour},
		Byminute:  []int{t.Minute},
		Bysecond:  []int{0},
	})
	if err != nil {
		return nil, fmt.Errorf("build rule for %q: %w", t.Key, err)
	}
	return rule, nil
}

// ruleSchedule drives a cron entry from a recurrence rule.
type ruleSchedule struct {
	rule *rrule.RRule
}

func (s ruleSchedule) Next(t time.Time) time.Time {
	return s.rule.After(t, false)
}

// onceSchedule yields its instant once; a zero time tells cron the entry is done.
type onceSchedule struct {
	at time.Time
}

func (s onceSchedule) Next(t time.Time) time.Time {
	if t.Before(s.at) {
		return s.at
	}
	return time.Time{}
}

var (
	_ cron.Schedule = ruleSchedule{}
	_ cron.Schedule = onceSchedule{}
)
