// Package router maps decoded server events onto the registry's typed apply
// methods. The dispatch table is the type switch below: adding a new message
// type to the protocol package forces a compile error here instead of a
// silently ignored string case.
package router

import (
	"log/slog"
	"time"

	"github.com/nickcrisci/PalPalette-2-sub000/internal/observability"
	"github.com/nickcrisci/PalPalette-2-sub000/internal/protocol"
)

// Sink is the single serialized mutation path for shared state. The registry
// implements it; nothing else mutates the status or authentication maps.
type Sink interface {
	ConnectionChanged(connected bool)
	UserActionRequired(protocol.UserActionRequired)
	DeviceStatus(protocol.DeviceStatus)
	LightingStatus(protocol.LightingStatus)
	Unknown(protocol.Unknown)
}

type Router struct {
	sink  Sink
	clock func() time.Time
}

func New(sink Sink) *Router {
	return &Router{sink: sink, clock: time.Now}
}

// NewWithClock is for tests that need deterministic timestamps.
func NewWithClock(sink Sink, clock func() time.Time) *Router {
	return &Router{sink: sink, clock: clock}
}

func (r *Router) HandleConnected()    { r.sink.ConnectionChanged(true) }
func (r *Router) HandleDisconnected() { r.sink.ConnectionChanged(false) }

func (r *Router) HandleEnvelope(env protocol.Envelope) {
	msg, err := protocol.Decode(env, r.clock().UTC())
	if err != nil {
		slog.Warn("notification dropped", "event", env.Event, "error", err)
		observability.EnvelopesDropped.Inc()
		return
	}
	observability.EnvelopesTotal.WithLabelValues(env.Event).Inc()

	switch m := msg.(type) {
	case protocol.UserActionRequired:
		if !m.Action.Known() {
			slog.Info("unrecognized action forwarded as-is", "device_id", m.DeviceID, "action", m.Action)
		}
		r.sink.UserActionRequired(m)
	case protocol.DeviceStatus:
		r.sink.DeviceStatus(m)
	case protocol.LightingStatus:
		r.sink.LightingStatus(m)
	case protocol.Unknown:
		slog.Debug("unknown event forwarded", "event", m.Event)
		r.sink.Unknown(m)
	}
}
