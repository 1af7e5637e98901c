package dispatch

import (
	"errors"
	"fmt"
	"regexp"
)

// TargetKind discriminates Target.
type TargetKind uint8

const (
	TargetBroadcast TargetKind = iota + 1
	TargetScoped
)

func (k TargetKind) String() string {
	switch k {
	case TargetBroadcast:
		return "broadcast"
	case TargetScoped:
		return "scoped"
	}
	return "unknown"
}

// Target is where an envelope goes. Channel is always set; EntityID only for
// scoped targets.
type Target struct {
	Kind     TargetKind `json:"kind"`
	Channel  string     `json:"channel"`
	EntityID string     `json:"entity_id,omitempty"`
}

func (t Target) String() string {
	if t.Kind == TargetScoped {
		return fmt.Sprintf("scoped(%s)", t.EntityID)
	}
	return fmt.Sprintf("broadcast(%s)", t.Channel)
}

// Broadcast returns the broadcast target for channel.
func Broadcast(channel string) Target {
	return Target{Kind: TargetBroadcast, Channel: channel}
}

// Scoped returns the per-entity target. The channel is prefix + entityID.
func Scoped(prefix, entityID string) Target {
	return Target{Kind: TargetScoped, Channel: prefix + entityID, EntityID: entityID}
}

// Channel names follow push topic naming rules.
var channelRe = regexp.MustCompile(`^[a-zA-Z0-9_.~%-]+$`)

const maxChannelLen = 900

// ValidChannel reports whether s can be used as a channel identifier.
func ValidChannel(s string) error {
	if s == "" {
		return errors.New("channel is empty")
	}
	if len(s) > maxChannelLen {
		return fmt.Errorf("channel longer than %d bytes", maxChannelLen)
	}
	if !channelRe.MatchString(s) {
		return errors.New("channel contains characters outside [a-zA-Z0-9-_.~%]")
	}
	return nil
}

// RequestContext carries what a caller supplied with a direct request.
type RequestContext struct {
	// EntityID is optional; empty means "not supplied".
	EntityID string
}

// TargetPolicy resolves the target of one firing.
type TargetPolicy interface {
	Resolve(rc RequestContext) (Target, error)
	// Describe is a short human-readable form for listings and logs.
	Describe() string
}

// Resolve applies policy to rc.
func Resolve(policy TargetPolicy, rc RequestContext) (Target, error) {
	return policy.Resolve(rc)
}

// BroadcastPolicy always resolves to the same broadcast channel.
type BroadcastPolicy struct {
	Channel string
}

func NewBroadcastPolicy(channel string) (BroadcastPolicy, error) {
	if err := ValidChannel(channel); err != nil {
		return BroadcastPolicy{}, err
	}
	return BroadcastPolicy{Channel: channel}, nil
}

func (p BroadcastPolicy) Resolve(RequestContext) (Target, error) {
	return Broadcast(p.Channel), nil
}

func (p BroadcastPolicy) Describe() string { return "broadcast:" + p.Channel }

// CallerSuppliedPolicy resolves to a scoped target when the caller names an
// entity and to the broadcast channel otherwise.
type CallerSuppliedPolicy struct {
	Broadcast    string
	ScopedPrefix string
}

func NewCallerSuppliedPolicy(broadcast, scopedPrefix string) (CallerSuppliedPolicy, error) {
	if err := ValidChannel(broadcast); err != nil {
		return CallerSuppliedPolicy{}, err
	}
	if scopedPrefix != "" && !channelRe.MatchString(scopedPrefix) {
		return CallerSuppliedPolicy{}, fmt.Errorf("scoped prefix %q contains characters outside [a-zA-Z0-9-_.~%%]", scopedPrefix)
	}
	return CallerSuppliedPolicy{Broadcast: broadcast, ScopedPrefix: scopedPrefix}, nil
}

func (p CallerSuppliedPolicy) Resolve(rc RequestContext) (Target, error) {
	if rc.EntityID == "" {
		return Broadcast(p.Broadcast), nil
	}
	t := Scoped(p.ScopedPrefix, rc.EntityID)
	if err := ValidChannel(t.Channel); err != nil {
		return Target{}, &InvalidTargetError{EntityID: rc.EntityID, Reason: err.Error()}
	}
	return t, nil
}

func (p CallerSuppliedPolicy) Describe() string {
	return fmt.Sprintf("caller_supplied:%s|%s<id>", p.Broadcast, p.ScopedPrefix)
}

func (k TargetKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *TargetKind) UnmarshalText(b []byte) error {
	switch string(b) {
	case "broadcast":
		*k = TargetBroadcast
	case "scoped":
		*k = TargetScoped
	default:
		return fmt.Errorf("unknown target kind %q", b)
	}
	return nil
}
