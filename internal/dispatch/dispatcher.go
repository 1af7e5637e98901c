package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"runtime/debug"
	"time"

	logx "pushcron/pkg/logx"
)

// Sender is the external delivery interface. Send is called once per
// envelope; a non-nil error means the notification was not delivered.
type Sender interface {
	Name() string
	Send(ctx context.Context, env Envelope) error
}

// Status of a dispatch.
type Status uint8

const (
	StatusSent Status = iota + 1
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusSent:
		return "sent"
	case StatusFailed:
		return "failed"
	}
	return "unknown"
}

// Outcome is Sent or Failed(Reason). Err keeps the underlying cause of a failure.
type Outcome struct {
	Status   Status
	Reason   Reason
	Err      error
	Duration time.Duration
}

func Sent(d time.Duration) Outcome { return Outcome{Status: StatusSent, Duration: d} }

func Failed(reason Reason, err error) Outcome {
	return Outcome{Status: StatusFailed, Reason: reason, Err: err}
}

func (o Outcome) IsSent() bool { return o.Status == StatusSent }

func (o Outcome) String() string {
	if o.Status == StatusFailed {
		return fmt.Sprintf("failed(%s)", o.Reason)
	}
	return o.Status.String()
}

// Dispatcher calls a Sender exactly once per envelope and classifies failures.
type Dispatcher struct {
	sender  Sender
	timeout time.Duration
	log     logx.Logger
}

type DispatcherOption func(*Dispatcher)

// WithSendTimeout bounds a single send. 0 leaves the caller's deadline alone.
func WithSendTimeout(d time.Duration) DispatcherOption {
	return func(x *Dispatcher) { x.timeout = d }
}

func WithDispatchLogger(log logx.Logger) DispatcherOption {
	return func(x *Dispatcher) { x.log = log }
}

func NewDispatcher(sender Sender, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{sender: sender, log: logx.Nop()}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Dispatch sends env. It never returns an error and never panics: every
// failure becomes a Failed outcome.
func (d *Dispatcher) Dispatch(ctx context.Context, env Envelope) Outcome {
	start := time.Now()
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	err := d.send(ctx, env)
	dur := time.Since(start)
	if err == nil {
		return Sent(dur)
	}

	out := Failed(Classify(err), err)
	out.Duration = dur
	d.log.Debug("send failed",
		logx.String("sender", d.sender.Name()),
		logx.String("target", env.Target.String()),
		logx.String("reason", string(out.Reason)),
		logx.Err(err),
	)
	return out
}

func (d *Dispatcher) send(ctx context.Context, env Envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("sender panicked",
				logx.String("sender", d.sender.Name()),
				logx.Any("panic", r),
				logx.Stack(string(debug.Stack())),
			)
			err = NewDeliveryError(d.sender.Name(), ReasonPanic, fmt.Errorf("panic: %v", r))
		}
	}()
	return d.sender.Send(ctx, env)
}

// Classify maps a send error to a Reason.
func Classify(err error) Reason {
	if err == nil {
		return ReasonNone
	}
	var de *DeliveryError
	if errors.As(err, &de) && de.Kind != ReasonNone {
		return de.Kind
	}
	var ite *InvalidTargetError
	if errors.As(err, &ite) {
		return ReasonInvalidTarget
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonTimeout
	}
	if errors.Is(err, context.Canceled) {
		return ReasonCanceled
	}
	var ne net.Error
	if errors.As(err, &ne) {
		if ne.Timeout() {
			return ReasonTimeout
		}
		return ReasonUnavailable
	}
	return ReasonUnknown
}
