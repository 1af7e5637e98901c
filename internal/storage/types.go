package storage

import (
	"context"
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": append-only JSON Lines file
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// AuditEntry records one direct trigger: who asked for what, and whether a
// notification went out. Scheduled firings are not audited.
type AuditEntry struct {
	At        time.Time `json:"at"`
	RequestID string    `json:"request_id,omitempty"`
	Actor     string    `json:"actor,omitempty"`
	Remote    string    `json:"remote,omitempty"`
	Action    string    `json:"action"`
	Job       string    `json:"job"`
	Target    string    `json:"target,omitempty"`
	OK        bool      `json:"ok"`
	Reason    string    `json:"reason,omitempty"`
	Error     string    `json:"error,omitempty"`
	TookMS    int64     `json:"took_ms"`
}

// Store is the persistence API of the audit log.
type Store interface {
	AppendAudit(ctx context.Context, e AuditEntry) error
	// RecentAudit returns up to limit entries, newest first.
	RecentAudit(ctx context.Context, limit int) ([]AuditEntry, error)
	Close() error
}
