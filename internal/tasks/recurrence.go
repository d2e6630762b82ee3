package tasks

import (
	"fmt"
	"strings"
	"time"

	cronlib "github.com/robfig/cron/v3"
)

// cronParser accepts standard 5-field cron expressions (minute, hour,
// dom, month, dow).
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

// Validate checks the rule is well formed. Cron expressions are parsed
// eagerly so a bad rule is rejected at Add/Update time instead of when
// the series advances.
func (r Recurrence) Validate() error {
	switch r.Pattern {
	case RecurrenceDaily, RecurrenceWeekly, RecurrenceMonthly:
		return nil
	case RecurrenceCron:
		if strings.TrimSpace(r.Expr) == "" {
			return fmt.Errorf("cron recurrence requires an expression")
		}
		if _, err := cronParser.Parse(r.Expr); err != nil {
			return fmt.Errorf("parse cron expression %q: %w", r.Expr, err)
		}
		return nil
	default:
		return fmt.Errorf("unknown recurrence pattern %q", r.Pattern)
	}
}

// Next returns the next occurrence strictly after the given time, or the
// zero time when the rule has no further occurrence (past its end date).
func (r Recurrence) Next(after time.Time) time.Time {
	var next time.Time
	switch r.Pattern {
	case RecurrenceDaily:
		next = after.AddDate(0, 0, 1)
	case RecurrenceWeekly:
		next = after.AddDate(0, 0, 7)
	case RecurrenceMonthly:
		next = after.AddDate(0, 1, 0)
	case RecurrenceCron:
		sched, err := cronParser.Parse(r.Expr)
		if err != nil {
			return time.Time{}
		}
		next = sched.Next(after)
	default:
		return time.Time{}
	}
	if next.IsZero() {
		return time.Time{}
	}
	if r.EndDate != nil && next.After(*r.EndDate) {
		return time.Time{}
	}
	return next
}
