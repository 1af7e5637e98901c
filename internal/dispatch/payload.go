package dispatch

import "maps"

// Envelope is the unit handed to a Sender. It is built fresh per dispatch.
type Envelope struct {
	Title  string            `json:"title"`
	Body   string            `json:"body"`
	Data   map[string]string `json:"data,omitempty"`
	Target Target            `json:"target"`
}

// Build assembles an envelope from a selected variant and a resolved target.
// The variant's metadata is copied so the pool stays untouched.
func Build(v Variant, t Target) Envelope {
	env := Envelope{Title: v.Title, Body: v.Body, Target: t}
	if len(v.Metadata) > 0 {
		env.Data = maps.Clone(v.Metadata)
	}
	return env
}
