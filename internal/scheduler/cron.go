// ABOUTME: Cron expression parsing with per-task time zones
// ABOUTME: Wraps robfig/cron standard five-field schedules

package scheduler

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrInvalidSchedule indicates a cron expression or time zone did not parse.
var ErrInvalidSchedule = errors.New("invalid cron schedule")

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Schedule is a parsed cron expression bound to a time zone.
type Schedule struct {
	expr     string
	location *time.Location
	spec     cron.Schedule
}

// ParseSchedule parses a five-field expression ("*/15 9-17 * * 1-5") or a
// descriptor such as "@daily". An empty timezone means UTC.
func ParseSchedule(expr, timezone string) (*Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("%w: empty expression", ErrInvalidSchedule)
	}
	if strings.HasPrefix(expr, "TZ=") || strings.HasPrefix(expr, "CRON_TZ=") {
		return nil, fmt.Errorf("%w: set the timezone field instead of %q", ErrInvalidSchedule, expr)
	}

	loc := time.UTC
	if tz := strings.TrimSpace(timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("%w: unknown timezone %q", ErrInvalidSchedule, tz)
		}
		loc = l
	}

	spec, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchedule, err)
	}
	return &Schedule{expr: expr, location: loc, spec: spec}, nil
}

// Next returns the first activation strictly after t, in t's location.
func (s *Schedule) Next(t time.Time) time.Time {
	next := s.spec.Next(t.In(s.location))
	if next.IsZero() {
		return next
	}
	return next.In(t.Location())
}

// String returns the expression as written.
func (s *Schedule) String() string {
	return s.expr
}
