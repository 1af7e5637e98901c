package trigger

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"pushcron/internal/dispatch"
)

// Source names the entry point of a firing.
type Source string

const (
	SourceSchedule Source = "schedule"
	SourceFireNow  Source = "fire"
	SourceCustom   Source = "custom"
)

// CustomJobName labels custom sends in logs, events and metrics.
const CustomJobName = "custom"

// ErrUnknownJob is returned by FireNow for a name the registry does not know.
var ErrUnknownJob = errors.New("unknown job")

// Event describes one completed firing. It is delivered to every Observer.
type Event struct {
	ID      string
	Source  Source
	Job     string
	Title   string
	Target  dispatch.Target
	Outcome dispatch.Outcome
	At      time.Time
}

// Observer is notified after every firing that reached the dispatcher, and
// after firings rejected by target resolution.
type Observer interface {
	Observe(ev Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) Observe(ev Event) { f(ev) }

// DispatchError reports a delivery that did not happen.
type DispatchError struct {
	Job     string
	Outcome dispatch.Outcome
}

func (e *DispatchError) Error() string {
	if e.Outcome.Err != nil {
		return fmt.Sprintf("job %q: %s: %v", e.Job, e.Outcome, e.Outcome.Err)
	}
	return fmt.Sprintf("job %q: %s", e.Job, e.Outcome)
}

func (e *DispatchError) Unwrap() error { return e.Outcome.Err }

// InternalError is an unexpected fault inside the pipeline itself.
type InternalError struct {
	Job string
	Err error
}

func (e *InternalError) Error() string { return fmt.Sprintf("job %q: internal: %v", e.Job, e.Err) }
func (e *InternalError) Unwrap() error { return e.Err }

// CustomRequest is the caller-supplied content of a custom send.
type CustomRequest struct {
	Title   string `json:"title" validate:"required,max=256"`
	Body    string `json:"body" validate:"required,max=4096"`
	Screen  string `json:"screen,omitempty" validate:"max=128"`
	Feature string `json:"feature,omitempty" validate:"max=128"`
	UserID  string `json:"userId,omitempty"`
}

// Variant turns the request into the single message it carries. Empty
// screen and feature values are left out of the metadata.
func (r CustomRequest) Variant() dispatch.Variant {
	v := dispatch.Variant{Title: strings.TrimSpace(r.Title), Body: strings.TrimSpace(r.Body)}
	md := map[string]string{}
	if r.Screen != "" {
		md["screen"] = r.Screen
	}
	if r.Feature != "" {
		md["feature"] = r.Feature
	}
	if len(md) > 0 {
		v.Metadata = md
	}
	return v
}
