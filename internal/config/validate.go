package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks process-wide sections. Job rows are not checked here: a bad
// job is reported by the registry and skipped without rejecting the file.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	durations := []struct{ path, raw string }{
		{"http.read_timeout", cfg.HTTP.ReadTimeout},
		{"http.write_timeout", cfg.HTTP.WriteTimeout},
		{"http.idle_timeout", cfg.HTTP.IdleTimeout},
		{"http.shutdown_timeout", cfg.HTTP.ShutdownTimeout},
		{"delivery.timeout", cfg.Delivery.Timeout},
	}
	if cfg.TaskEngine != nil {
		durations = append(durations, struct{ path, raw string }{"task_engine.default_timeout", cfg.TaskEngine.DefaultTimeout})
	}
	if cfg.Storage != nil {
		durations = append(durations, struct{ path, raw string }{"storage.busy_timeout", cfg.Storage.BusyTimeout})
	}
	for _, d := range durations {
		if _, err := ParseDurationField(d.path, d.raw); err != nil {
			return err
		}
	}

	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("scheduler.timezone: %w", err)
		}
	}

	if addr := strings.TrimSpace(cfg.HTTP.Addr); addr != "" {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return fmt.Errorf("http.addr: %w", err)
		}
	}

	if err := validateDelivery(cfg.Delivery); err != nil {
		return err
	}

	if cfg.HTTP.Enabled && cfg.Custom.Enabled && strings.TrimSpace(cfg.HTTP.Auth.Secret) == "" {
		return errors.New("http.auth.secret is required when custom.enabled is true")
	}
	return nil
}

func validateDelivery(d DeliveryConfig) error {
	missing := func(section string) error {
		return fmt.Errorf("delivery.%s section is required for driver %q", section, d.Driver)
	}
	switch strings.ToLower(strings.TrimSpace(d.Driver)) {
	case "", "log":
	case "webhook":
		if d.Webhook == nil {
			return missing("webhook")
		}
	case "mqtt":
		if d.MQTT == nil {
			return missing("mqtt")
		}
	case "nats":
		if d.NATS == nil {
			return missing("nats")
		}
	case "redis":
		if d.Redis == nil {
			return missing("redis")
		}
	case "telegram":
		if d.Telegram == nil {
			return missing("telegram")
		}
	case "shoutrrr":
		if d.Shoutrrr == nil {
			return missing("shoutrrr")
		}
	}
	return nil
}
