package config

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Config is the on-disk configuration (JSON or YAML).
//
// Jobs and pools are static: they are read once at process start and a change
// to them only takes effect after a restart. Logging is applied live.
type Config struct {
	Logging    LoggingConfig     `json:"logging"`
	HTTP       HTTPConfig        `json:"http"`
	Scheduler  SchedulerConfig   `json:"scheduler"`
	TaskEngine *TaskEngineConfig `json:"task_engine,omitempty"`
	Delivery   DeliveryConfig    `json:"delivery"`
	Custom     CustomConfig      `json:"custom"`

	// Pools are named content pools a job may reference instead of inlining messages.
	Pools map[string][]MessageConfig `json:"pools,omitempty"`
	Jobs  []JobConfig                `json:"jobs"`

	Storage *StorageConfig `json:"storage,omitempty"`
	Sentry  *SentryConfig  `json:"sentry,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level" validate:"omitempty,oneof=trace debug info warn warning error TRACE DEBUG INFO WARN WARNING ERROR"`
	Format  string      `json:"format,omitempty" validate:"omitempty,oneof=console json"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// HTTPConfig controls the direct-trigger HTTP server.
//
// All durations are Go duration strings (e.g. "5s", "1m").
//
// Defaults:
//   - addr: "127.0.0.1:8080"
//   - read_timeout: "10s"
//   - write_timeout: "30s"
//   - idle_timeout: "60s"
//   - shutdown_timeout: "5s"
type HTTPConfig struct {
	Enabled         bool   `json:"enabled"`
	Addr            string `json:"addr,omitempty"`
	ReadTimeout     string `json:"read_timeout,omitempty"`
	WriteTimeout    string `json:"write_timeout,omitempty"`
	IdleTimeout     string `json:"idle_timeout,omitempty"`
	ShutdownTimeout string `json:"shutdown_timeout,omitempty"`

	CORSOrigins []string `json:"cors_origins,omitempty"`

	// Metrics exposes Prometheus metrics on /metrics.
	Metrics bool `json:"metrics,omitempty"`
	// Pprof mounts net/http/pprof under /debug. Only enable on loopback addresses.
	Pprof bool `json:"pprof,omitempty"`

	Auth AuthConfig `json:"auth"`
}

// AuthConfig configures HS256 bearer token verification for the custom endpoint.
type AuthConfig struct {
	Secret   string `json:"secret"` // never logged
	Issuer   string `json:"issuer,omitempty"`
	Audience string `json:"audience,omitempty"`
}

// SchedulerConfig controls the recurring trigger service.
type SchedulerConfig struct {
	Enabled bool `json:"enabled"`

	// Timezone is the default IANA zone for jobs that do not set one.
	Timezone string `json:"timezone,omitempty"`
}

// TaskEngineConfig controls the worker pool that executes scheduled firings.
//
// Defaults (when fields are omitted/zero):
//   - workers: 2
//   - queue_size: 64
//   - default_timeout: "30s"
//   - history_size: 100
//   - overlap: "allow"
type TaskEngineConfig struct {
	Workers        int    `json:"workers,omitempty" validate:"gte=0,lte=256"`
	QueueSize      int    `json:"queue_size,omitempty" validate:"gte=0"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
	HistorySize    int    `json:"history_size,omitempty" validate:"gte=0"`
	// Overlap is "allow" (default) or "skip" (drop a firing while the same job is still running).
	Overlap string `json:"overlap,omitempty" validate:"omitempty,oneof=allow skip"`
}

// DeliveryConfig selects and configures the outbound push transport.
type DeliveryConfig struct {
	// Driver is one of: log, webhook, mqtt, nats, redis, telegram, shoutrrr.
	Driver string `json:"driver" validate:"omitempty,oneof=log webhook mqtt nats redis telegram shoutrrr"`
	// Timeout bounds a single send (default "10s").
	Timeout string `json:"timeout,omitempty"`
	// RatePerSec throttles outbound sends; 0 disables the limiter.
	RatePerSec int `json:"rate_per_sec,omitempty" validate:"gte=0"`
	Burst      int `json:"burst,omitempty" validate:"gte=0"`

	Webhook  *WebhookConfig  `json:"webhook,omitempty"`
	MQTT     *MQTTConfig     `json:"mqtt,omitempty"`
	NATS     *NATSConfig     `json:"nats,omitempty"`
	Redis    *RedisConfig    `json:"redis,omitempty"`
	Telegram *TelegramConfig `json:"telegram,omitempty"`
	Shoutrrr *ShoutrrrConfig `json:"shoutrrr,omitempty"`
}

type WebhookConfig struct {
	URL         string            `json:"url" validate:"required,url"`
	Headers     map[string]string `json:"headers,omitempty"`
	BearerToken string            `json:"bearer_token,omitempty"`
}

type MQTTConfig struct {
	Broker      string `json:"broker" validate:"required"`
	ClientID    string `json:"client_id,omitempty"`
	Username    string `json:"username,omitempty"`
	Password    string `json:"password,omitempty"`
	TopicPrefix string `json:"topic_prefix,omitempty"`
	QoS         byte   `json:"qos,omitempty" validate:"lte=2"`
	Retain      bool   `json:"retain,omitempty"`
}

type NATSConfig struct {
	URL           string `json:"url" validate:"required"`
	SubjectPrefix string `json:"subject_prefix,omitempty"`
}

type RedisConfig struct {
	Addr          string `json:"addr" validate:"required"`
	Password      string `json:"password,omitempty"`
	DB            int    `json:"db,omitempty" validate:"gte=0"`
	ChannelPrefix string `json:"channel_prefix,omitempty"`
}

// TelegramConfig maps delivery channels to Telegram chats.
type TelegramConfig struct {
	Token string `json:"token" validate:"required"`
	// Chats maps a channel identifier (e.g. "all_users") to a chat id.
	Chats map[string]int64 `json:"chats,omitempty"`
	// ScopedAsChatID sends Scoped targets to the chat whose id is the entity id.
	ScopedAsChatID bool `json:"scoped_as_chat_id,omitempty"`
}

// ShoutrrrConfig maps delivery channels to shoutrrr service URLs.
type ShoutrrrConfig struct {
	URLs map[string][]string `json:"urls" validate:"required,min=1"`
}

// CustomConfig controls the authenticated custom-notification endpoint.
//
// Defaults:
//   - broadcast_channel: "all_users"
//   - scoped_prefix: "user_"
type CustomConfig struct {
	Enabled          bool   `json:"enabled"`
	BroadcastChannel string `json:"broadcast_channel,omitempty"`
	ScopedPrefix     string `json:"scoped_prefix,omitempty"`
}

// JobConfig is one row of the static job table.
//
// Schedule may be empty for jobs that only run through the fire-now endpoint.
// Exactly one of Pool (a key of Config.Pools) or Messages must be set.
type JobConfig struct {
	Name     string          `json:"name"`
	Schedule string          `json:"schedule,omitempty"`
	Timezone string          `json:"timezone,omitempty"`
	Pool     string          `json:"pool,omitempty"`
	Messages []MessageConfig `json:"messages,omitempty"`
	Target   TargetConfig    `json:"target"`
	Disabled bool            `json:"disabled,omitempty"`
}

type MessageConfig struct {
	Title string    `json:"title"`
	Body  string    `json:"body"`
	Data  StringMap `json:"data,omitempty"`
}

// StringMap is string metadata. Number and bool values are accepted and kept
// as their literal text, so `week: 12` reads as "12".
type StringMap map[string]string

func (m *StringMap) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if raw == nil {
		*m = nil
		return nil
	}
	out := make(StringMap, len(raw))
	for k, v := range raw {
		v = bytes.TrimSpace(v)
		switch {
		case len(v) > 0 && v[0] == '"':
			var s string
			if err := json.Unmarshal(v, &s); err != nil {
				return fmt.Errorf("data %q: %w", k, err)
			}
			out[k] = s
		case bytes.Equal(v, []byte("null")):
			out[k] = ""
		case bytes.Equal(v, []byte("true")), bytes.Equal(v, []byte("false")):
			out[k] = string(v)
		default:
			var n json.Number
			if err := json.Unmarshal(v, &n); err != nil {
				return fmt.Errorf("data %q: want a string, number or bool, got %s", k, v)
			}
			out[k] = n.String()
		}
	}
	*m = out
	return nil
}

// TargetConfig selects a job's target policy.
//
// Policy is "broadcast" (default) or "caller_supplied".
type TargetConfig struct {
	Policy       string `json:"policy,omitempty"`
	Channel      string `json:"channel,omitempty"`
	ScopedPrefix string `json:"scoped_prefix,omitempty"`
}

// StorageConfig controls the optional audit log of direct triggers.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./pushcron_store" }
type StorageConfig struct {
	Driver      string `json:"driver" validate:"omitempty,oneof=file sqlite"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// SentryConfig enables error reporting of failed dispatches and engine faults.
type SentryConfig struct {
	DSN         string  `json:"dsn"`
	Environment string  `json:"environment,omitempty"`
	SampleRate  float64 `json:"sample_rate,omitempty" validate:"gte=0,lte=1"`
}
