package config

import (
	"fmt"
	"strings"
	"time"
)

const (
	DefaultHTTPAddr         = "127.0.0.1:8080"
	DefaultBroadcastChannel = "all_users"
	DefaultScopedPrefix     = "user_"
	DefaultSendTimeout      = 10 * time.Second
)

// ParseDurationField parses a Go duration string; empty means 0.
// path is only used to prefix errors.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

// durationOr is ParseDurationOrDefault for values Validate already accepted.
func durationOr(raw string, def time.Duration) time.Duration {
	d, err := ParseDurationOrDefault("", raw, def)
	if err != nil {
		return def
	}
	return d
}

func (h HTTPConfig) ListenAddr() string {
	if a := strings.TrimSpace(h.Addr); a != "" {
		return a
	}
	return DefaultHTTPAddr
}

func (h HTTPConfig) ReadTimeoutOr() time.Duration  { return durationOr(h.ReadTimeout, 10*time.Second) }
func (h HTTPConfig) WriteTimeoutOr() time.Duration { return durationOr(h.WriteTimeout, 30*time.Second) }
func (h HTTPConfig) IdleTimeoutOr() time.Duration  { return durationOr(h.IdleTimeout, 60*time.Second) }
func (h HTTPConfig) ShutdownTimeoutOr() time.Duration {
	return durationOr(h.ShutdownTimeout, 5*time.Second)
}

func (d DeliveryConfig) SendTimeout() time.Duration { return durationOr(d.Timeout, DefaultSendTimeout) }

func (c CustomConfig) Channel() string {
	if s := strings.TrimSpace(c.BroadcastChannel); s != "" {
		return s
	}
	return DefaultBroadcastChannel
}

func (c CustomConfig) Prefix() string {
	if c.ScopedPrefix != "" {
		return c.ScopedPrefix
	}
	return DefaultScopedPrefix
}
