package dispatch

import (
	"errors"
	"fmt"
)

// ConfigurationError rejects one job definition at load time.
type ConfigurationError struct {
	Job   string
	Field string
	Err   error
}

func (e *ConfigurationError) Error() string {
	switch {
	case e.Job != "" && e.Field != "":
		return fmt.Sprintf("job %q: %s: %v", e.Job, e.Field, e.Err)
	case e.Job != "":
		return fmt.Sprintf("job %q: %v", e.Job, e.Err)
	case e.Field != "":
		return fmt.Sprintf("%s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("configuration: %v", e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// InvalidTargetError rejects a caller-supplied entity identifier that cannot
// be used as part of a channel name. Nothing is sent.
type InvalidTargetError struct {
	EntityID string
	Reason   string
}

func (e *InvalidTargetError) Error() string {
	return fmt.Sprintf("invalid target %q: %s", e.EntityID, e.Reason)
}

// Reason classifies why a dispatch failed.
type Reason string

const (
	ReasonNone          Reason = ""
	ReasonTimeout       Reason = "timeout"
	ReasonCanceled      Reason = "canceled"
	ReasonUnavailable   Reason = "unavailable"
	ReasonRejected      Reason = "rejected"
	ReasonUnauthorized  Reason = "unauthorized"
	ReasonQuota         Reason = "quota"
	ReasonUnknownTarget Reason = "unknown_target"
	ReasonInvalidTarget Reason = "invalid_target"
	ReasonPanic         Reason = "panic"
	ReasonUnknown       Reason = "unknown"
)

// DeliveryError is returned by a Sender when the transport refused or failed
// a send. Kind carries the sender's own classification.
type DeliveryError struct {
	Provider string
	Kind     Reason
	// Status is the transport status code when there is one (e.g. HTTP).
	Status int
	Err    error
}

func (e *DeliveryError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s (status %d): %v", e.Provider, e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// NewDeliveryError wraps err for provider with the given classification.
func NewDeliveryError(provider string, kind Reason, err error) *DeliveryError {
	if err == nil {
		err = errors.New(string(kind))
	}
	return &DeliveryError{Provider: provider, Kind: kind, Err: err}
}

// ReasonForStatus maps an HTTP-style status code to a Reason.
func ReasonForStatus(code int) Reason {
	switch {
	case code == 401 || code == 403:
		return ReasonUnauthorized
	case code == 404:
		return ReasonUnknownTarget
	case code == 408 || code == 504:
		return ReasonTimeout
	case code == 429:
		return ReasonQuota
	case code >= 500:
		return ReasonUnavailable
	case code >= 400:
		return ReasonRejected
	}
	return ReasonUnknown
}
