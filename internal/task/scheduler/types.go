package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"pushcron/internal/task/engine"
	logx "pushcron/pkg/logx"
)

// Config controls the recurring trigger service.
type Config struct {
	Enabled bool
}

type scheduleDef struct {
	name    string
	rule    Rule
	timeout time.Duration
	job     func(ctx context.Context) error
	opt     engine.TaskOptions
	state   *engine.RunState
	entryID cron.EntryID
}

type Service struct {
	mu sync.Mutex

	log    logx.Logger
	cfg    Config
	engine *engine.Service

	c    *cron.Cron
	defs []scheduleDef

	// Enqueue error throttling, keyed by schedule name.
	enqMu       sync.Mutex
	lastEnqWarn map[string]time.Time
}

type ScheduleInfo struct {
	Name     string    `json:"name"`
	Spec     string    `json:"spec"`
	Timezone string    `json:"timezone"`
	Overlap  string    `json:"overlap"`
	Next     time.Time `json:"next,omitzero"`
	Prev     time.Time `json:"prev,omitzero"`
}

type Snapshot struct {
	Enabled   bool            `json:"enabled"`
	Running   bool            `json:"running"`
	Schedules []ScheduleInfo  `json:"schedules"`
	Engine    engine.Snapshot `json:"engine"`
}
