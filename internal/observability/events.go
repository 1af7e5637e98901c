package observability

import (
	"pushcron/internal/eventbus"
	"pushcron/internal/trigger"
)

// BusObserver republishes firings on the event bus.
type BusObserver struct {
	Bus eventbus.Bus
}

func (o BusObserver) Observe(ev trigger.Event) {
	if o.Bus == nil {
		return
	}
	typ := eventbus.TypeDispatchSent
	if !ev.Outcome.IsSent() {
		typ = eventbus.TypeDispatchFailed
	}
	o.Bus.Publish(eventbus.Event{Type: typ, Time: ev.At, Data: ev})
}
