// Package storage persists the audit log of direct triggers.
//
// The file backend appends JSON Lines; the sqlite backend uses the pure-Go
// modernc.org/sqlite driver. Job definitions and dispatch outcomes are never
// read back by the engine.
package storage
