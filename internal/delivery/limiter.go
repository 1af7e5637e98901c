package delivery

import (
	"context"

	"golang.org/x/time/rate"

	"pushcron/internal/dispatch"
)

// RateLimited throttles sends through a token bucket. A send that cannot get
// a token before its deadline fails with ReasonQuota and is not attempted.
type RateLimited struct {
	next    Provider
	limiter *rate.Limiter
}

// NewRateLimited allows perSec sends per second. burst <= 0 uses perSec.
func NewRateLimited(next Provider, perSec, burst int) *RateLimited {
	if burst <= 0 {
		burst = perSec
	}
	return &RateLimited{next: next, limiter: rate.NewLimiter(rate.Limit(perSec), burst)}
}

func (r *RateLimited) Name() string { return r.next.Name() }

func (r *RateLimited) Send(ctx context.Context, env dispatch.Envelope) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return dispatch.NewDeliveryError(r.next.Name(), dispatch.ReasonQuota, err)
	}
	return r.next.Send(ctx, env)
}

func (r *RateLimited) Close(ctx context.Context) error { return r.next.Close(ctx) }
