// Package scheduler turns recurrence rules into task-engine submissions.
//
// The scheduler only computes trigger times and enqueues; execution,
// timeouts and overlap gating live in internal/task/engine.
package scheduler
