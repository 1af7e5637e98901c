package config

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
logging:
  level: debug
scheduler:
  enabled: true
  timezone: Asia/Kolkata
pools:
  tips:
    - title: a
      body: b
      data:
        1: one
jobs:
  - name: daily
    schedule: "0 9 * * *"
    pool: tips
`

func TestDecodeYAMLAndJSON(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("pushcron.yaml", []byte(sampleYAML))
	if err != nil {
		t.Fatalf("Decode yaml error: %v", err)
	}
	if cfg.Scheduler.Timezone != "Asia/Kolkata" || len(cfg.Jobs) != 1 || cfg.Jobs[0].Pool != "tips" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if got := cfg.Pools["tips"][0].Data["1"]; got != "one" {
		t.Fatalf("numeric data key = %q, want one", got)
	}

	cfg, err = Decode("pushcron.json", []byte(`{"jobs":[{"name":"x","messages":[{"title":"t","body":"b"}]}]}`))
	if err != nil {
		t.Fatalf("Decode json error: %v", err)
	}
	if cfg.Jobs[0].Messages[0].Title != "t" {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestDecodeScalarData(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		file string
		body string
	}{
		{"yaml", "c.yaml", "jobs:\n  - name: x\n    messages:\n      - title: t\n        body: b\n        data: { week: 12, ratio: 1.5, urgent: true, screen: tips, note: ~ }\n"},
		{"json", "c.json", `{"jobs":[{"name":"x","messages":[{"title":"t","body":"b","data":{"week":12,"ratio":1.5,"urgent":true,"screen":"tips","note":null}}]}]}`},
	}
	want := map[string]string{"week": "12", "ratio": "1.5", "urgent": "true", "screen": "tips", "note": ""}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg, err := Decode(tt.file, []byte(tt.body))
			if err != nil {
				t.Fatalf("Decode error: %v", err)
			}
			got := cfg.Jobs[0].Messages[0].Data
			if len(got) != len(want) {
				t.Fatalf("data = %v, want %v", got, want)
			}
			for k, v := range want {
				if got[k] != v {
					t.Fatalf("data[%s] = %q, want %q", k, got[k], v)
				}
			}
		})
	}
}

func TestDecodeRejects(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		file string
		body string
	}{
		{"unknown field", "c.json", `{"jobz":[]}`},
		{"trailing data", "c.json", `{} {}`},
		{"bad yaml", "c.yaml", "jobs: [\n"},
		{"unknown yaml field", "c.yml", "telegram:\n  token: x\n"},
		{"nested data value", "c.yaml", "jobs:\n  - name: x\n    messages:\n      - title: t\n        body: b\n        data: { week: [1, 2] }\n"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := Decode(tt.file, []byte(tt.body)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"ok", func(*Config) {}, ""},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "Level"},
		{"bad timezone", func(c *Config) { c.Scheduler.Timezone = "Mars/Olympus" }, "scheduler.timezone"},
		{"bad duration", func(c *Config) { c.Delivery.Timeout = "soon" }, "delivery.timeout"},
		{"negative duration", func(c *Config) { c.HTTP.ReadTimeout = "-1s" }, "http.read_timeout"},
		{"bad addr", func(c *Config) { c.HTTP.Addr = "localhost" }, "http.addr"},
		{"unknown driver", func(c *Config) { c.Delivery.Driver = "fax" }, "Driver"},
		{"driver section missing", func(c *Config) { c.Delivery.Driver = "webhook" }, "delivery.webhook"},
		{"webhook url", func(c *Config) {
			c.Delivery.Driver = "webhook"
			c.Delivery.Webhook = &WebhookConfig{URL: "not a url"}
		}, "URL"},
		{"custom without secret", func(c *Config) {
			c.HTTP.Enabled = true
			c.Custom.Enabled = true
		}, "http.auth.secret"},
		{"overlap", func(c *Config) { c.TaskEngine = &TaskEngineConfig{Overlap: "sometimes"} }, "Overlap"},
		{"sentry rate", func(c *Config) { c.Sentry = &SentryConfig{DSN: "x", SampleRate: 2} }, "SampleRate"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := &Config{Scheduler: SchedulerConfig{Enabled: true, Timezone: "UTC"}}
			tt.mutate(cfg)
			err := Validate(cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate error = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestDefaults(t *testing.T) {
	t.Parallel()
	var c Config
	if got := c.HTTP.ListenAddr(); got != DefaultHTTPAddr {
		t.Fatalf("ListenAddr = %q, want %q", got, DefaultHTTPAddr)
	}
	if got := c.Custom.Channel(); got != "all_users" {
		t.Fatalf("Channel = %q, want all_users", got)
	}
	if got := c.Custom.Prefix(); got != "user_" {
		t.Fatalf("Prefix = %q, want user_", got)
	}
	if got := c.Delivery.SendTimeout(); got != DefaultSendTimeout {
		t.Fatalf("SendTimeout = %v, want %v", got, DefaultSendTimeout)
	}
	c.HTTP.ShutdownTimeout = "2s"
	if got := c.HTTP.ShutdownTimeoutOr(); got != 2*time.Second {
		t.Fatalf("ShutdownTimeoutOr = %v, want 2s", got)
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	old := &Config{HTTP: HTTPConfig{Auth: AuthConfig{Secret: "a"}}}
	next := &Config{
		Logging: LoggingConfig{Level: "debug"},
		HTTP:    HTTPConfig{Auth: AuthConfig{Secret: "b"}},
		Jobs:    []JobConfig{{Name: "x"}},
	}
	ch := SummarizeConfigChange(old, next)
	if !slices.Equal(ch.Sections, []string{"logging", "jobs"}) {
		t.Fatalf("Sections = %v, want [logging jobs] (secret rotation is not a visible change)", ch.Sections)
	}
	if !slices.Equal(ch.RestartRequired, []string{"jobs"}) {
		t.Fatalf("RestartRequired = %v, want [jobs]", ch.RestartRequired)
	}
	if !SummarizeConfigChange(next, next).Empty() {
		t.Fatal("identical configs should produce an empty change")
	}
}

func TestWatchPublishesValidReloads(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "pushcron.yaml")
	if err := os.WriteFile(path, []byte("logging:\n  level: info\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	m := NewConfigManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load error: %v", err)
	}
	m.SetValidator(func(_ context.Context, c *Config) error { return Validate(c) })
	sub := m.Subscribe(4)
	defer m.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	// Give the watcher time to register the directory.
	time.Sleep(200 * time.Millisecond)

	if err := os.WriteFile(path, []byte("logging:\n  level: loud\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	select {
	case c := <-sub:
		t.Fatalf("invalid config published: %+v", c.Logging)
	case <-time.After(time.Second):
	}

	if err := os.WriteFile(path, []byte("logging:\n  level: debug\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	select {
	case c := <-sub:
		if c.Logging.Level != "debug" {
			t.Fatalf("published level = %q, want debug", c.Logging.Level)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("valid reload was not published")
	}
	if got := m.Get().Logging.Level; got != "debug" {
		t.Fatalf("Get().Logging.Level = %q, want debug", got)
	}
}
