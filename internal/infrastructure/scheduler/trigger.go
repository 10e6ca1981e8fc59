package scheduler

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Trigger decides when a job fires next.
type Trigger interface {
	// Next returns the first fire time strictly after the given instant.
	Next(after time.Time) time.Time
	String() string
}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// CronTrigger fires on a five-field cron expression.
type CronTrigger struct {
	expr     string
	schedule cron.Schedule
	loc      *time.Location
}

var _ Trigger = (*CronTrigger)(nil)

// NewCronTrigger parses expr ("0 */6 * * *", "@daily", ...). A nil location
// means the local zone.
func NewCronTrigger(expr string, loc *time.Location) (*CronTrigger, error) {
	expr = strings.TrimSpace(expr)
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parse cron %q: %w", expr, err)
	}
	if loc == nil {
		loc = time.Local
	}
	return &CronTrigger{expr: expr, schedule: schedule, loc: loc}, nil
}

func (t *CronTrigger) Next(after time.Time) time.Time {
	return t.schedule.Next(after.In(t.loc))
}

func (t *CronTrigger) String() string {
	return t.expr
}

// IntervalTrigger fires a fixed duration after the previous evaluation.
type IntervalTrigger struct {
	every time.Duration
}

var _ Trigger = (*IntervalTrigger)(nil)

// NewIntervalTrigger returns a trigger firing every d.
func NewIntervalTrigger(d time.Duration) (*IntervalTrigger, error) {
	if d <= 0 {
		return nil, fmt.Errorf("interval must be positive, got %s", d)
	}
	return &IntervalTrigger{every: d}, nil
}

func (t *IntervalTrigger) Next(after time.Time) time.Time {
	return after.Add(t.every)
}

func (t *IntervalTrigger) String() string {
	return "every " + t.every.String()
}

// ParseTrigger builds a cron trigger from expr, or an interval trigger when
// expr is empty and every is set.
func ParseTrigger(expr string, every time.Duration, loc *time.Location) (Trigger, error) {
	if strings.TrimSpace(expr) != "" {
		return NewCronTrigger(expr, loc)
	}
	if every > 0 {
		return NewIntervalTrigger(every)
	}
	return nil, fmt.Errorf("either a cron expression or an interval is required")
}
