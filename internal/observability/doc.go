// Package observability turns firings into metrics, events and error reports.
//
// Each type here implements trigger.Observer and is attached to the gateway
// at startup.
package observability
