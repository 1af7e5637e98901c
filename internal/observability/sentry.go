package observability

import (
	"errors"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"

	"pushcron/internal/dispatch"
	"pushcron/internal/trigger"
)

// SentryOptions configures the reporter.
type SentryOptions struct {
	DSN         string
	Environment string
	Release     string
	SampleRate  float64
	// Transport replaces the HTTP transport (tests).
	Transport sentry.Transport
}

// Sentry reports failed dispatches. Rejected caller input is not reported.
type Sentry struct {
	hub *sentry.Hub
}

func NewSentry(opts SentryOptions) (*Sentry, error) {
	if opts.DSN == "" && opts.Transport == nil {
		return nil, errors.New("sentry dsn is empty")
	}
	rate := opts.SampleRate
	if rate <= 0 {
		rate = 1
	}
	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:              opts.DSN,
		Environment:      opts.Environment,
		Release:          opts.Release,
		SampleRate:       rate,
		Transport:        opts.Transport,
		AttachStacktrace: false,
	})
	if err != nil {
		return nil, fmt.Errorf("sentry: %w", err)
	}
	scope := sentry.NewScope()
	scope.SetTag("service", "pushcron")
	return &Sentry{hub: sentry.NewHub(client, scope)}, nil
}

// Observe implements trigger.Observer.
func (s *Sentry) Observe(ev trigger.Event) {
	if ev.Outcome.IsSent() || ev.Outcome.Reason == dispatch.ReasonInvalidTarget {
		return
	}
	s.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("job", ev.Job)
		scope.SetTag("source", string(ev.Source))
		scope.SetTag("reason", string(ev.Outcome.Reason))
		scope.SetFingerprint([]string{"dispatch", ev.Job, string(ev.Outcome.Reason)})
		scope.SetContext("dispatch", map[string]any{
			"id":     ev.ID,
			"title":  ev.Title,
			"target": ev.Target.String(),
		})

		e := sentry.NewEvent()
		e.Level = sentry.LevelError
		e.Message = fmt.Sprintf("dispatch %s failed: %s", ev.Job, ev.Outcome.Reason)
		if ev.Outcome.Err != nil {
			e.Exception = []sentry.Exception{{Type: "DispatchFailed", Value: ev.Outcome.Err.Error()}}
		}
		s.hub.CaptureEvent(e)
	})
}

// Flush waits for buffered events to be sent.
func (s *Sentry) Flush(timeout time.Duration) bool { return s.hub.Flush(timeout) }
