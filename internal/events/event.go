package events

import (
	"time"

	"github.com/google/uuid"
)

const (
	TypeCreated   = "world.created"
	TypeActivated = "world.activated"
	TypeUnloaded  = "world.unloaded"
	TypeUpdated   = "world.updated"
)

// Event is a lifecycle notification. Delivery is fire-and-forget.
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	At        time.Time `json:"at"`
	WorldID   uuid.UUID `json:"world_id"`
	Name      string    `json:"name"`
	Slot      int32     `json:"slot"`
	Dimension string    `json:"dimension,omitempty"`
	Actor     string    `json:"actor,omitempty"`
}

type Sink interface {
	Notify(ev Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

func (f SinkFunc) Notify(ev Event) { f(ev) }

type nopSink struct{}

func (nopSink) Notify(Event) {}

// Nop discards every event.
var Nop Sink = nopSink{}

// Stamp fills ID and At when they are unset.
func Stamp(ev Event, now time.Time) Event {
	if ev.At.IsZero() {
		ev.At = now.UTC()
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	return ev
}

// Fanout delivers each event to every sink in order.
type Fanout []Sink

func (f Fanout) Notify(ev Event) {
	for _, s := range f {
		if s != nil {
			s.Notify(ev)
		}
	}
}

// Join builds a Fanout, skipping nil sinks. A single sink is returned as is.
func Join(sinks ...Sink) Sink {
	var out Fanout
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	switch len(out) {
	case 0:
		return Nop
	case 1:
		return out[0]
	}
	return out
}
