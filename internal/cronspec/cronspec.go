// Package cronspec layers cron-expression recurring schedules on top of the
// job queue's fixed-interval recurrence, using robfig/cron's expression
// parser.
package cronspec

import (
	"time"

	"github.com/robfig/cron/v3"
)

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Schedule is a parsed cron expression that can compute the next eligible
// unix-second timestamp after a given one.
type Schedule struct {
	inner cron.Schedule
}

// Parse parses a standard five-field cron expression.
func Parse(expr string) (*Schedule, error) {
	s, err := parser.Parse(expr)
	if err != nil {
		return nil, err
	}
	return &Schedule{inner: s}, nil
}

// Next returns the next scheduled unix-second timestamp strictly after now.
func (s *Schedule) Next(now int64) int64 {
	return s.inner.Next(time.Unix(now, 0).UTC()).Unix()
}
