package delivery

import (
	"context"
	"slices"
	"sync"

	"pushcron/internal/dispatch"
)

// Recorder keeps every envelope it is given instead of sending it. When Err
// is set every send is recorded and then fails with Err.
type Recorder struct {
	Err error

	mu    sync.Mutex
	calls []dispatch.Envelope
}

func (r *Recorder) Name() string { return "recorder" }

func (r *Recorder) Send(_ context.Context, env dispatch.Envelope) error {
	r.mu.Lock()
	r.calls = append(r.calls, env)
	err := r.Err
	r.mu.Unlock()
	return err
}

// Calls returns the recorded envelopes in send order.
func (r *Recorder) Calls() []dispatch.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.calls)
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	r.calls = nil
	r.mu.Unlock()
}

func (r *Recorder) Close(context.Context) error { return nil }
