package delivery

import (
	"context"

	"pushcron/internal/dispatch"
	logx "pushcron/pkg/logx"
)

// LogSender writes each message to the log instead of sending it.
type LogSender struct {
	log logx.Logger
}

func NewLogSender(log logx.Logger) *LogSender {
	return &LogSender{log: log.With(logx.String("comp", "delivery.log"))}
}

func (s *LogSender) Name() string { return "log" }

func (s *LogSender) Send(ctx context.Context, env dispatch.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m := NewMessage(env)
	s.log.Info("push",
		logx.String("id", m.ID),
		logx.String("target", env.Target.String()),
		logx.String("channel", env.Target.Channel),
		logx.String("title", env.Title),
		logx.String("body", env.Body),
		logx.Any("data", env.Data),
	)
	return nil
}

func (s *LogSender) Close(context.Context) error { return nil }
