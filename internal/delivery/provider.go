package delivery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"pushcron/internal/config"
	"pushcron/internal/dispatch"
	logx "pushcron/pkg/logx"
)

// Provider is a dispatch.Sender that owns a connection.
type Provider interface {
	dispatch.Sender
	Close(ctx context.Context) error
}

// Open builds the provider selected by cfg.Driver. Network drivers connect
// here so a bad address fails at startup rather than at the first firing.
func Open(ctx context.Context, cfg config.DeliveryConfig, log logx.Logger) (Provider, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	timeout := cfg.SendTimeout()

	var (
		p   Provider
		err error
	)
	switch driver {
	case "", "log":
		p = NewLogSender(log)
	case "webhook":
		if cfg.Webhook == nil {
			return nil, errors.New("delivery.webhook is required")
		}
		p, err = NewWebhook(*cfg.Webhook, &http.Client{Timeout: timeout})
	case "mqtt":
		if cfg.MQTT == nil {
			return nil, errors.New("delivery.mqtt is required")
		}
		p, err = DialMQTT(ctx, *cfg.MQTT, log)
	case "nats":
		if cfg.NATS == nil {
			return nil, errors.New("delivery.nats is required")
		}
		p, err = DialNATS(*cfg.NATS, timeout, log)
	case "redis":
		if cfg.Redis == nil {
			return nil, errors.New("delivery.redis is required")
		}
		p, err = DialRedis(ctx, *cfg.Redis)
	case "telegram":
		if cfg.Telegram == nil {
			return nil, errors.New("delivery.telegram is required")
		}
		p, err = NewTelegram(*cfg.Telegram, timeout)
	case "shoutrrr":
		if cfg.Shoutrrr == nil {
			return nil, errors.New("delivery.shoutrrr is required")
		}
		p, err = NewShoutrrr(*cfg.Shoutrrr, timeout)
	default:
		return nil, fmt.Errorf("unknown delivery driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("delivery %s: %w", driver, err)
	}

	if cfg.RatePerSec > 0 {
		p = NewRateLimited(p, cfg.RatePerSec, cfg.Burst)
	}
	log.Info("delivery ready", logx.String("driver", p.Name()), logx.Int("rate_per_sec", cfg.RatePerSec))
	return p, nil
}
