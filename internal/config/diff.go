package config

import (
	"reflect"
	"strings"

	logx "pushcron/pkg/logx"
)

// Change describes what a config reload touched.
type Change struct {
	// Sections lists changed top-level sections in a stable order.
	Sections []string
	// Attrs are safe structured fields for logging (secrets are reduced to *_set flags).
	Attrs []logx.Field
	// RestartRequired lists changed sections that are only read at startup.
	RestartRequired []string
}

func (c Change) Empty() bool { return len(c.Sections) == 0 }

// SummarizeConfigChange compares two configs section by section.
func SummarizeConfigChange(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	var ch Change
	mark := func(section string, live bool, attrs ...logx.Field) {
		ch.Sections = append(ch.Sections, section)
		ch.Attrs = append(ch.Attrs, attrs...)
		if !live {
			ch.RestartRequired = append(ch.RestartRequired, section)
		}
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		mark("logging", true,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if !reflect.DeepEqual(redactHTTP(oldCfg.HTTP), redactHTTP(newCfg.HTTP)) {
		mark("http", false,
			logx.Bool("http.enabled", newCfg.HTTP.Enabled),
			logx.String("http.addr", strings.TrimSpace(newCfg.HTTP.Addr)),
			logx.Bool("http.auth_secret_set", strings.TrimSpace(newCfg.HTTP.Auth.Secret) != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler) || !reflect.DeepEqual(oldCfg.TaskEngine, newCfg.TaskEngine) {
		mark("scheduler", false,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.timezone", newCfg.Scheduler.Timezone),
		)
	}

	if !reflect.DeepEqual(oldCfg.Delivery, newCfg.Delivery) {
		mark("delivery", false,
			logx.String("delivery.driver", newCfg.Delivery.Driver),
			logx.Int("delivery.rate_per_sec", newCfg.Delivery.RatePerSec),
		)
	}

	if !reflect.DeepEqual(oldCfg.Custom, newCfg.Custom) {
		mark("custom", false, logx.Bool("custom.enabled", newCfg.Custom.Enabled))
	}

	if !reflect.DeepEqual(oldCfg.Jobs, newCfg.Jobs) || !reflect.DeepEqual(oldCfg.Pools, newCfg.Pools) {
		mark("jobs", false,
			logx.Int("jobs.count", len(newCfg.Jobs)),
			logx.Int("pools.count", len(newCfg.Pools)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		driver := ""
		if newCfg.Storage != nil {
			driver = newCfg.Storage.Driver
		}
		mark("storage", false, logx.String("storage.driver", driver))
	}

	if !reflect.DeepEqual(oldCfg.Sentry, newCfg.Sentry) {
		mark("sentry", false, logx.Bool("sentry.dsn_set", newCfg.Sentry != nil && newCfg.Sentry.DSN != ""))
	}

	return ch
}

func redactHTTP(h HTTPConfig) HTTPConfig {
	h.Auth.Secret = ""
	return h
}
