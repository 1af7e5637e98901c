package trigger

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"pushcron/internal/config"
	"pushcron/internal/dispatch"
	"pushcron/internal/registry"
	logx "pushcron/pkg/logx"
)

// Gateway binds the registry to a dispatcher. It holds no per-firing state
// and is safe for concurrent use.
type Gateway struct {
	reg       *registry.Registry
	disp      *dispatch.Dispatcher
	sel       dispatch.Selector
	custom    dispatch.TargetPolicy
	log       logx.Logger
	observers []Observer
}

type Option func(*Gateway)

func WithSelector(s dispatch.Selector) Option { return func(g *Gateway) { g.sel = s } }

// WithCustomPolicy sets the policy used by SendCustom.
func WithCustomPolicy(p dispatch.TargetPolicy) Option { return func(g *Gateway) { g.custom = p } }

func WithLogger(l logx.Logger) Option { return func(g *Gateway) { g.log = l } }

func WithObserver(o Observer) Option {
	return func(g *Gateway) {
		if o != nil {
			g.observers = append(g.observers, o)
		}
	}
}

// New returns a gateway. Without WithCustomPolicy, SendCustom uses the
// configuration defaults for the broadcast channel and scoped prefix.
func New(reg *registry.Registry, disp *dispatch.Dispatcher, opts ...Option) *Gateway {
	g := &Gateway{
		reg:    reg,
		disp:   disp,
		sel:    dispatch.NewUniformSelector(),
		custom: dispatch.CallerSuppliedPolicy{Broadcast: config.DefaultBroadcastChannel, ScopedPrefix: config.DefaultScopedPrefix},
		log:    logx.Nop(),
	}
	for _, o := range opts {
		o(g)
	}
	if g.log.IsZero() {
		g.log = logx.Nop()
	}
	g.log = g.log.With(logx.String("comp", "trigger"))
	return g
}

// Registry returns the job table the gateway fires from.
func (g *Gateway) Registry() *registry.Registry { return g.reg }

// ScheduledTask adapts RunScheduled to a task body. The returned function
// always returns nil.
func (g *Gateway) ScheduledTask(name string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		g.RunScheduled(ctx, name)
		return nil
	}
}

// RunScheduled fires name for a recurrence. Every failure is logged with the
// job name, the selected title and the reason, and then absorbed. The
// returned outcome is informational only.
func (g *Gateway) RunScheduled(ctx context.Context, name string) dispatch.Outcome {
	job, ok := g.reg.Lookup(name)
	if !ok {
		g.log.Error("❌ scheduled job not registered", logx.String("job", name))
		return dispatch.Failed(dispatch.ReasonUnknown, ErrUnknownJob)
	}

	ev, err := g.fire(ctx, SourceSchedule, job.Name, g.selectFrom(job), job.Policy, dispatch.RequestContext{})
	if err != nil {
		out := outcomeOf(err)
		g.log.Error("❌ scheduled notification failed",
			logx.String("job", job.Name),
			logx.String("title", ev.Title),
			logx.String("outcome", out.String()),
			logx.Err(err),
		)
		return out
	}
	g.logOutcome(ev)
	return ev.Outcome
}

// FireNow runs name immediately with its configured pool and policy. rc is
// only consulted by caller-supplied policies. A nil error means Sent.
func (g *Gateway) FireNow(ctx context.Context, name string, rc dispatch.RequestContext) (Event, error) {
	job, ok := g.reg.Lookup(name)
	if !ok {
		return Event{Job: name, Source: SourceFireNow}, fmt.Errorf("%w: %q", ErrUnknownJob, name)
	}
	ev, err := g.fire(ctx, SourceFireNow, job.Name, g.selectFrom(job), job.Policy, rc)
	if err != nil {
		return ev, err
	}
	g.logOutcome(ev)
	if !ev.Outcome.IsSent() {
		return ev, &DispatchError{Job: job.Name, Outcome: ev.Outcome}
	}
	return ev, nil
}

// SendCustom delivers caller-supplied content through the custom policy.
// There is no retry: a failed send is returned to the caller as is.
func (g *Gateway) SendCustom(ctx context.Context, req CustomRequest) (Event, error) {
	v := req.Variant()
	if err := v.Validate(); err != nil {
		return Event{Job: CustomJobName, Source: SourceCustom}, &dispatch.ConfigurationError{Job: CustomJobName, Field: "request", Err: err}
	}
	pick := func() dispatch.Variant { return v }
	ev, err := g.fire(ctx, SourceCustom, CustomJobName, pick, g.custom, dispatch.RequestContext{EntityID: req.UserID})
	if err != nil {
		return ev, err
	}
	g.logOutcome(ev)
	if !ev.Outcome.IsSent() {
		return ev, &DispatchError{Job: CustomJobName, Outcome: ev.Outcome}
	}
	return ev, nil
}

func (g *Gateway) selectFrom(job *registry.Job) func() dispatch.Variant {
	return func() dispatch.Variant { return g.sel.Select(job.Pool) }
}

// fire runs one firing. The error is non-nil when target resolution rejected
// the request or the pipeline faulted; a failed send is reported through
// ev.Outcome only.
func (g *Gateway) fire(ctx context.Context, src Source, job string, pick func() dispatch.Variant, policy dispatch.TargetPolicy, rc dispatch.RequestContext) (ev Event, err error) {
	ev = Event{ID: uuid.NewString(), Source: src, Job: job, At: time.Now()}
	defer func() {
		if r := recover(); r != nil {
			g.log.Error("pipeline panic",
				logx.String("job", job),
				logx.Any("panic", r),
				logx.Stack(string(debug.Stack())),
			)
			err = &InternalError{Job: job, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	v := pick()
	ev.Title = v.Title

	target, err := dispatch.Resolve(policy, rc)
	if err != nil {
		ev.Outcome = outcomeOf(err)
		g.notify(ev)
		return ev, err
	}
	ev.Target = target

	env := dispatch.Build(v, target)
	g.log.Trace("dispatching", logx.String("job", job), logx.String("id", ev.ID), logx.String("target", target.String()))

	ev.Outcome = g.disp.Dispatch(ctx, env)
	g.notify(ev)
	return ev, nil
}

func (g *Gateway) notify(ev Event) {
	for _, o := range g.observers {
		o.Observe(ev)
	}
}

func (g *Gateway) logOutcome(ev Event) {
	if ev.Outcome.IsSent() {
		g.log.Info("✅ notification sent",
			logx.String("job", ev.Job),
			logx.String("source", string(ev.Source)),
			logx.String("title", ev.Title),
			logx.String("target", ev.Target.String()),
			logx.Duration("dur", ev.Outcome.Duration),
		)
		return
	}
	g.log.Error("❌ notification failed",
		logx.String("job", ev.Job),
		logx.String("source", string(ev.Source)),
		logx.String("title", ev.Title),
		logx.String("target", ev.Target.String()),
		logx.String("outcome", ev.Outcome.String()),
		logx.Err(ev.Outcome.Err),
	)
}

// outcomeOf maps a pre-dispatch error to the outcome it stands for.
func outcomeOf(err error) dispatch.Outcome {
	var ite *dispatch.InvalidTargetError
	if errors.As(err, &ite) {
		return dispatch.Failed(dispatch.ReasonInvalidTarget, err)
	}
	var ie *InternalError
	if errors.As(err, &ie) {
		return dispatch.Failed(dispatch.ReasonPanic, err)
	}
	return dispatch.Failed(dispatch.Classify(err), err)
}
