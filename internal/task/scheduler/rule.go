package scheduler

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// SecondOptional accepts both 5-field and 6-field (with seconds) expressions.
var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Rule is a parsed recurrence: a cron expression evaluated in a time zone.
type Rule struct {
	Expr     string
	Location *time.Location
	sched    cron.Schedule
}

// ParseRule parses a cron expression ("0 9 * * *", "@daily", "@every 1h")
// in the IANA zone tz. An empty tz means UTC.
func ParseRule(expr, tz string) (Rule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return Rule{}, errors.New("schedule required")
	}
	if strings.HasPrefix(expr, "TZ=") || strings.HasPrefix(expr, "CRON_TZ=") {
		return Rule{}, fmt.Errorf("schedule %q: set the time zone with the timezone field", expr)
	}

	tz = strings.TrimSpace(tz)
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return Rule{}, fmt.Errorf("timezone %q: %w", tz, err)
	}

	sched, err := parser.Parse("CRON_TZ=" + tz + " " + expr)
	if err != nil {
		return Rule{}, fmt.Errorf("schedule %q: %w", expr, err)
	}
	return Rule{Expr: expr, Location: loc, sched: sched}, nil
}

// Next returns the first activation strictly after t, or the zero time.
func (r Rule) Next(t time.Time) time.Time {
	if r.sched == nil {
		return time.Time{}
	}
	return r.sched.Next(t)
}

// NextN returns up to n activations after from, expressed in the rule's zone.
func (r Rule) NextN(from time.Time, n int) []time.Time {
	out := make([]time.Time, 0, max(n, 0))
	t := from
	for i := 0; i < n; i++ {
		t = r.Next(t)
		if t.IsZero() {
			break
		}
		out = append(out, t.In(r.Location))
	}
	return out
}

func (r Rule) String() string {
	if r.Location == nil {
		return r.Expr
	}
	return r.Expr + " (" + r.Location.String() + ")"
}

// previewNextRuns formats the next n activations for debug logs.
func previewNextRuns(r Rule, n int) string {
	var b strings.Builder
	for i, t := range r.NextN(time.Now(), n) {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(t.Format("2006-01-02 15:04:05 MST"))
	}
	return b.String()
}
