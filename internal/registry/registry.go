// Package registry turns the static job table of the configuration into
// immutable job definitions.
//
// A job that cannot be built is reported as a *dispatch.ConfigurationError and
// left out; the remaining jobs still load.
package registry

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"pushcron/internal/config"
	"pushcron/internal/dispatch"
	"pushcron/internal/task/scheduler"
)

const (
	PolicyBroadcast      = "broadcast"
	PolicyCallerSupplied = "caller_supplied"
)

// Job is one loaded job definition. It is never modified after Load.
type Job struct {
	Name string
	// Rule is the recurrence. It is the zero Rule for on-demand jobs.
	Rule      scheduler.Rule
	Scheduled bool
	Pool      *dispatch.Pool
	Policy    dispatch.TargetPolicy
}

// Registry is a read-only name -> job table.
type Registry struct {
	jobs   []*Job
	byName map[string]*Job
}

// New builds a registry from already constructed jobs. Duplicate or empty
// names are an error.
func New(jobs ...*Job) (*Registry, error) {
	r := &Registry{byName: make(map[string]*Job, len(jobs))}
	for _, j := range jobs {
		if err := r.add(j); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) add(j *Job) error {
	switch {
	case j == nil:
		return errors.New("job is nil")
	case strings.TrimSpace(j.Name) == "":
		return &dispatch.ConfigurationError{Field: "name", Err: errors.New("name required")}
	case j.Pool == nil:
		return &dispatch.ConfigurationError{Job: j.Name, Field: "pool", Err: errors.New("pool required")}
	case j.Policy == nil:
		return &dispatch.ConfigurationError{Job: j.Name, Field: "target", Err: errors.New("target policy required")}
	}
	if _, dup := r.byName[j.Name]; dup {
		return &dispatch.ConfigurationError{Job: j.Name, Err: errors.New("duplicate job name")}
	}
	r.jobs = append(r.jobs, j)
	r.byName[j.Name] = j
	return nil
}

// Load builds every job of cfg. Jobs that fail are skipped and their errors
// returned in table order; a nil registry is never returned.
func Load(cfg *config.Config) (*Registry, []error) {
	r := &Registry{byName: map[string]*Job{}}
	if cfg == nil {
		return r, nil
	}
	var errs []error
	for i, jc := range cfg.Jobs {
		if jc.Disabled {
			continue
		}
		j, err := buildJob(cfg, i, jc)
		if err == nil {
			err = r.add(j)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return r, errs
}

func buildJob(cfg *config.Config, idx int, jc config.JobConfig) (*Job, error) {
	name := strings.TrimSpace(jc.Name)
	if name == "" {
		return nil, &dispatch.ConfigurationError{Field: fmt.Sprintf("jobs[%d].name", idx), Err: errors.New("name required")}
	}
	cerr := func(field string, err error) error {
		return &dispatch.ConfigurationError{Job: name, Field: field, Err: err}
	}

	pool, err := buildPool(cfg, name, jc)
	if err != nil {
		var ce *dispatch.ConfigurationError
		if errors.As(err, &ce) {
			ce.Job = name
			return nil, ce
		}
		return nil, cerr("pool", err)
	}

	policy, err := buildPolicy(jc.Target)
	if err != nil {
		return nil, cerr("target", err)
	}

	j := &Job{Name: name, Pool: pool, Policy: policy}
	if strings.TrimSpace(jc.Schedule) == "" {
		return j, nil
	}

	// A recurring firing has no caller, so there is nothing to scope to.
	if _, ok := policy.(dispatch.BroadcastPolicy); !ok {
		return nil, cerr("target.policy", fmt.Errorf("scheduled jobs must use the %q policy", PolicyBroadcast))
	}
	tz := strings.TrimSpace(jc.Timezone)
	if tz == "" {
		tz = strings.TrimSpace(cfg.Scheduler.Timezone)
	}
	rule, err := scheduler.ParseRule(jc.Schedule, tz)
	if err != nil {
		return nil, cerr("schedule", err)
	}
	j.Rule, j.Scheduled = rule, true
	return j, nil
}

func buildPool(cfg *config.Config, job string, jc config.JobConfig) (*dispatch.Pool, error) {
	ref := strings.TrimSpace(jc.Pool)
	switch {
	case ref != "" && len(jc.Messages) > 0:
		return nil, errors.New("set either pool or messages, not both")
	case ref != "":
		msgs, ok := cfg.Pools[ref]
		if !ok {
			return nil, fmt.Errorf("pool %q is not defined", ref)
		}
		return dispatch.NewPool(ref, variantsOf(msgs))
	default:
		return dispatch.NewPool(job, variantsOf(jc.Messages))
	}
}

func variantsOf(msgs []config.MessageConfig) []dispatch.Variant {
	out := make([]dispatch.Variant, len(msgs))
	for i, m := range msgs {
		out[i] = dispatch.Variant{Title: m.Title, Body: m.Body, Metadata: m.Data}
	}
	return out
}

func buildPolicy(tc config.TargetConfig) (dispatch.TargetPolicy, error) {
	channel := strings.TrimSpace(tc.Channel)
	if channel == "" {
		channel = config.DefaultBroadcastChannel
	}
	switch strings.ToLower(strings.TrimSpace(tc.Policy)) {
	case "", PolicyBroadcast:
		return dispatch.NewBroadcastPolicy(channel)
	case PolicyCallerSupplied:
		prefix := tc.ScopedPrefix
		if prefix == "" {
			prefix = config.DefaultScopedPrefix
		}
		return dispatch.NewCallerSuppliedPolicy(channel, prefix)
	default:
		return nil, fmt.Errorf("unknown policy %q", tc.Policy)
	}
}

// Lookup returns the job called name.
func (r *Registry) Lookup(name string) (*Job, bool) {
	j, ok := r.byName[name]
	return j, ok
}

// Jobs returns all jobs in table order.
func (r *Registry) Jobs() []*Job { return slices.Clone(r.jobs) }

// Scheduled returns the jobs that have a recurrence rule.
func (r *Registry) Scheduled() []*Job {
	var out []*Job
	for _, j := range r.jobs {
		if j.Scheduled {
			out = append(out, j)
		}
	}
	return out
}

func (r *Registry) Len() int { return len(r.jobs) }

// Names returns the job names in table order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.jobs))
	for i, j := range r.jobs {
		out[i] = j.Name
	}
	return out
}
