package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"pushcron/internal/eventbus"
	logx "pushcron/pkg/logx"
)

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue <-chan queuedTask) {
	for {
		// A closed stopCh wins over queued work.
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case qt := <-queue:
			s.inFlight.Add(1)
			s.execOne(ctx, qt)
			s.inFlight.Add(-1)
		}
	}
}

// execOne runs a task exactly once. Panics become task errors.
func (s *Service) execOne(ctx context.Context, qt queuedTask) {
	if qt.track {
		defer qt.state.release()
	}

	start := time.Now()
	queueDelay := max(start.Sub(qt.enqueuedAt), 0)
	t := qt.task

	s.log.Debug("task.started", logx.String("task", t.Name), logx.Duration("queue_delay", queueDelay))
	s.publish(eventbus.TypeTaskStarted, TaskEvent{ID: t.ID, Name: t.Name, Started: start, QueueDelay: queueDelay})

	runCtx := ctx
	if qt.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, qt.timeout)
		defer cancel()
	}

	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
				s.log.Error("task.panic", logx.String("task", t.Name), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			}
		}()
		err = t.Run(runCtx)
	}()

	dur := time.Since(start)
	item := HistoryItem{ID: t.ID, Name: t.Name, Started: start, QueueDelay: queueDelay, Duration: dur}
	ev := TaskEvent{ID: t.ID, Name: t.Name, Started: start, QueueDelay: queueDelay, Duration: dur}
	if err != nil {
		item.Error = err.Error()
		ev.Error = item.Error
		s.log.Warn("task.failed", logx.String("task", t.Name), logx.Err(err), logx.Duration("dur", dur))
		s.publish(eventbus.TypeTaskFailed, ev)
	} else {
		s.log.Debug("task.completed", logx.String("task", t.Name), logx.Duration("dur", dur))
		s.publish(eventbus.TypeTaskFinished, ev)
	}
	s.record(item)
}
