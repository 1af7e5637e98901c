package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"pushcron/internal/config"
	"pushcron/internal/dispatch"
	logx "pushcron/pkg/logx"
)

// NATS publishes each message to SubjectPrefix + channel and flushes so a
// broken connection surfaces as a send error.
type NATS struct {
	nc     *nats.Conn
	prefix string
}

func DialNATS(cfg config.NATSConfig, timeout time.Duration, log logx.Logger) (*NATS, error) {
	l := log.With(logx.String("comp", "delivery.nats"))
	nc, err := nats.Connect(cfg.URL,
		nats.Name("pushcron"),
		nats.Timeout(timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				l.Warn("nats disconnected", logx.Err(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) { l.Info("nats reconnected", logx.String("url", c.ConnectedUrlRedacted())) }),
	)
	if err != nil {
		return nil, err
	}
	return &NATS{nc: nc, prefix: cfg.SubjectPrefix}, nil
}

func (n *NATS) Name() string { return "nats" }

func (n *NATS) Send(ctx context.Context, env dispatch.Envelope) error {
	if n.nc.Status() != nats.CONNECTED {
		return dispatch.NewDeliveryError(n.Name(), dispatch.ReasonUnavailable, fmt.Errorf("connection %s", n.nc.Status()))
	}
	_, payload, err := encode(env)
	if err != nil {
		return dispatch.NewDeliveryError(n.Name(), dispatch.ReasonRejected, err)
	}
	if err := n.nc.Publish(n.prefix+env.Target.Channel, payload); err != nil {
		return natsError(n.Name(), err)
	}
	if err := n.nc.FlushWithContext(ctx); err != nil {
		return natsError(n.Name(), err)
	}
	return nil
}

func natsError(provider string, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, nats.ErrMaxPayload), errors.Is(err, nats.ErrBadSubject):
		return dispatch.NewDeliveryError(provider, dispatch.ReasonRejected, err)
	case errors.Is(err, nats.ErrAuthorization):
		return dispatch.NewDeliveryError(provider, dispatch.ReasonUnauthorized, err)
	}
	return dispatch.NewDeliveryError(provider, dispatch.ReasonUnavailable, err)
}

func (n *NATS) Close(context.Context) error {
	n.nc.Close()
	return nil
}
