// Package authstate tracks per-device authentication progress derived from
// userActionRequired notifications.
package authstate

import (
	"sort"
	"sync"
	"time"

	"github.com/nickcrisci/PalPalette-2-sub000/internal/protocol"
)

// State is the client-derived authentication snapshot for one device.
type State struct {
	DeviceID         string          `json:"deviceId"`
	IsAuthenticating bool            `json:"isAuthenticating"`
	CurrentStep      protocol.Action `json:"currentStep"`
	Message          string          `json:"message"`
	PairingCode      string          `json:"pairingCode,omitempty"`
	LastUpdate       time.Time       `json:"lastUpdate"`
}

const (
	DefaultSuccessDismiss = 2 * time.Second
	DefaultFailureNotify  = 3 * time.Second
	DefaultStaleAfter     = 120 * time.Second
)

type Options struct {
	SuccessDismiss time.Duration // delay before a success state auto-dismisses
	FailureNotify  time.Duration // delay before the failure callback fires
	StaleAfter     time.Duration // read-time staleness threshold
	Clock          func() time.Time

	// OnSuccess and OnFailed fire on terminal transitions, from a timer
	// goroutine. OnDismiss fires whenever a device's state is removed,
	// including the success auto-dismiss.
	OnSuccess func(deviceID string)
	OnFailed  func(deviceID string)
	OnDismiss func(deviceID string)
}

// Machine holds one state entry per device. Every inbound notification
// unconditionally overwrites the device's state: the server is the source of
// truth and may legitimately skip or repeat steps, so the client never
// validates transition legality. Envelopes are applied in delivery order
// with no timestamp guard; LastUpdate is stamped from the local clock and
// only ever moves forward.
type Machine struct {
	opts Options

	mu     sync.Mutex
	states map[string]State
	timers map[string]*time.Timer
}

func New(opts Options) *Machine {
	if opts.SuccessDismiss <= 0 {
		opts.SuccessDismiss = DefaultSuccessDismiss
	}
	if opts.FailureNotify <= 0 {
		opts.FailureNotify = DefaultFailureNotify
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = DefaultStaleAfter
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Machine{
		opts:   opts,
		states: map[string]State{},
		timers: map[string]*time.Timer{},
	}
}

// Apply overwrites the device's state with the notification's content
// (last delivered wins) and schedules terminal side effects.
func (m *Machine) Apply(n protocol.UserActionRequired) State {
	m.mu.Lock()
	now := m.opts.Clock().UTC()
	if prev, ok := m.states[n.DeviceID]; ok && prev.LastUpdate.After(now) {
		now = prev.LastUpdate
	}
	st := State{
		DeviceID:         n.DeviceID,
		IsAuthenticating: true,
		CurrentStep:      n.Action,
		Message:          n.Message,
		PairingCode:      n.PairingCode,
		LastUpdate:       now,
	}
	m.states[n.DeviceID] = st
	m.cancelTimerLocked(n.DeviceID)

	switch {
	case n.Action.Succeeded():
		m.timers[n.DeviceID] = time.AfterFunc(m.opts.SuccessDismiss, func() {
			m.Dismiss(n.DeviceID)
			if m.opts.OnSuccess != nil {
				m.opts.OnSuccess(n.DeviceID)
			}
		})
	case n.Action.Failed():
		// Failure states stick around for an explicit retry; only the
		// callback is delayed.
		m.timers[n.DeviceID] = time.AfterFunc(m.opts.FailureNotify, func() {
			if m.opts.OnFailed != nil {
				m.opts.OnFailed(n.DeviceID)
			}
		})
	}
	m.mu.Unlock()
	return st
}

// Dismiss resets the device to idle. Safe to call for unknown devices.
func (m *Machine) Dismiss(deviceID string) {
	m.mu.Lock()
	_, existed := m.states[deviceID]
	delete(m.states, deviceID)
	m.cancelTimerLocked(deviceID)
	m.mu.Unlock()
	if existed && m.opts.OnDismiss != nil {
		m.opts.OnDismiss(deviceID)
	}
}

func (m *Machine) Get(deviceID string) (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[deviceID]
	return st, ok
}

// Authenticating lists every device with an in-flight flow, ordered by
// device id for stable output.
func (m *Machine) Authenticating() []State {
	m.mu.Lock()
	out := make([]State, 0, len(m.states))
	for _, st := range m.states {
		if st.IsAuthenticating {
			out = append(out, st)
		}
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}

// Stale reports whether a state is old enough that the underlying request
// may have expired. This is a read-time hint, not a transition: the state
// itself is untouched.
func (m *Machine) Stale(st State) bool {
	return m.opts.Clock().Sub(st.LastUpdate) > m.opts.StaleAfter
}

// Stop cancels all pending timers. States are kept so a subsequent observer
// can still read the last known progress.
func (m *Machine) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, t := range m.timers {
		t.Stop()
		delete(m.timers, id)
	}
}

func (m *Machine) cancelTimerLocked(deviceID string) {
	if t, ok := m.timers[deviceID]; ok {
		t.Stop()
		delete(m.timers, deviceID)
	}
}
