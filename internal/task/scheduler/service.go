package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"pushcron/internal/task/engine"
	logx "pushcron/pkg/logx"
)

func New(cfg Config, eng *engine.Service, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:         cfg,
		log:         log,
		engine:      eng,
		lastEnqWarn: map[string]time.Time{},
	}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Add registers job under name, replacing any schedule with the same name.
// Schedules added before Start are registered when Start runs.
func (s *Service) Add(name string, rule Rule, timeout time.Duration, opt engine.TaskOptions, job func(ctx context.Context) error) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("name required")
	}
	if rule.sched == nil {
		return fmt.Errorf("schedule %q: rule not parsed", name)
	}
	if job == nil {
		return fmt.Errorf("schedule %q: job is nil", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(name)
	s.defs = append(s.defs, scheduleDef{
		name:    name,
		rule:    rule,
		timeout: timeout,
		job:     job,
		opt:     opt,
		state:   &engine.RunState{},
	})
	if s.c != nil {
		s.registerLocked(&s.defs[len(s.defs)-1])
	}
	return nil
}

// Remove unschedules name. It reports whether something was removed.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := s.removeLocked(strings.TrimSpace(name))
	if removed {
		s.log.Debug("schedule removed", logx.String("name", name))
	}
	return removed
}

func (s *Service) removeLocked(name string) bool {
	n := 0
	removed := false
	for _, d := range s.defs {
		if d.name == name {
			if s.c != nil && d.entryID != 0 {
				s.c.Remove(d.entryID)
			}
			removed = true
			continue
		}
		s.defs[n] = d
		n++
	}
	clear(s.defs[n:])
	s.defs = s.defs[:n]
	return removed
}

// Start begins triggering. It is a no-op when disabled or already started.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.Enabled || s.c != nil {
		return
	}

	// Every rule carries its own zone; the cron clock itself runs in UTC.
	s.c = cron.New(cron.WithParser(parser), cron.WithLocation(time.UTC))
	for i := range s.defs {
		s.registerLocked(&s.defs[i])
	}
	s.c.Start()
	s.log.Info("scheduler started", logx.Int("schedules", len(s.defs)))
}

// Stop stops triggering. Firings already handed to the engine are not affected.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	for i := range s.defs {
		s.defs[i].entryID = 0
	}
	s.mu.Unlock()

	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("scheduler stopped")
}

// Trigger enqueues name as if its rule had just fired.
func (s *Service) Trigger(name string) error {
	s.mu.Lock()
	var def *scheduleDef
	for i := range s.defs {
		if s.defs[i].name == name {
			d := s.defs[i]
			def = &d
			break
		}
	}
	s.mu.Unlock()
	if def == nil {
		return fmt.Errorf("schedule %q not found", name)
	}
	return s.enqueue(def)
}

func (s *Service) registerLocked(d *scheduleDef) {
	def := *d
	d.entryID = s.c.Schedule(d.rule.sched, cron.FuncJob(func() {
		if err := s.enqueue(&def); err != nil {
			s.reportEnqueueError(def.name, err)
		}
	}))
	if s.log.Enabled(logx.LevelDebug) {
		s.log.Debug("schedule registered",
			logx.String("name", d.name),
			logx.String("rule", d.rule.String()),
			logx.String("next", previewNextRuns(d.rule, 3)),
		)
	}
}

func (s *Service) enqueue(d *scheduleDef) error {
	if s.engine == nil {
		return engine.ErrStopped
	}
	return s.engine.Enqueue(engine.Task{
		Name:    d.name,
		Timeout: d.timeout,
		Run:     d.job,
		Opt:     d.opt,
		State:   d.state,
	})
}
