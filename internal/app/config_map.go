package app

import (
	"fmt"
	"strings"
	"time"

	"pushcron/internal/config"
	"pushcron/internal/storage"
	"pushcron/internal/task/engine"
	logx "pushcron/pkg/logx"
)

// engineSettings is the task engine config plus the overlap policy applied
// to every scheduled job.
type engineSettings struct {
	cfg         engine.Config
	skipOverlap bool
}

func (es engineSettings) taskOptions() engine.TaskOptions {
	if es.skipOverlap {
		return engine.TaskOptions{Overlap: engine.OverlapSkipIfRunning}
	}
	return engine.TaskOptions{}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "file":
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapTaskEngineConfig(cfg *config.Config) (engineSettings, error) {
	es := engineSettings{}
	es.cfg.Enabled = cfg.Scheduler.Enabled
	te := cfg.TaskEngine
	if te == nil {
		return es, nil
	}
	es.cfg.Workers = te.Workers
	es.cfg.QueueSize = te.QueueSize
	es.cfg.HistorySize = te.HistorySize
	d, err := config.ParseDurationField("task_engine.default_timeout", te.DefaultTimeout)
	if err != nil {
		return es, err
	}
	es.cfg.DefaultTimeout = d
	es.skipOverlap = strings.EqualFold(strings.TrimSpace(te.Overlap), "skip")
	return es, nil
}

func mapLogging(lc config.LoggingConfig) logx.Config {
	return logx.Config{
		Level:   lc.Level,
		Format:  lc.Format,
		Console: lc.Console,
		File:    logx.FileConfig{Enabled: lc.File.Enabled, Path: lc.File.Path},
	}
}
