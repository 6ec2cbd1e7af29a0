// Package registry is the process-wide fan-out point: one transport channel,
// one set of status/authentication maps, any number of observers. It is
// constructed once by the composition root and injected wherever shared
// state is read.
package registry

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nickcrisci/PalPalette-2-sub000/internal/authstate"
	"github.com/nickcrisci/PalPalette-2-sub000/internal/protocol"
	"github.com/nickcrisci/PalPalette-2-sub000/internal/snapshot"
	"github.com/nickcrisci/PalPalette-2-sub000/internal/store"
	"github.com/nickcrisci/PalPalette-2-sub000/internal/transport"
)

// Channel is the transport surface the registry drives. *transport.Channel
// satisfies it; tests substitute a fake.
type Channel interface {
	Connect()
	Disconnect()
	Send(protocol.Envelope) bool
	State() transport.ConnectionState
}

// Hooks is a subscriber's callback set. Every field is optional; nil hooks
// are skipped. Callbacks run on the registry's apply goroutine and must not
// block.
type Hooks struct {
	OnConnection     func(transport.ConnectionState)
	OnDeviceStatus   func(protocol.DeviceStatus)
	OnLightingStatus func(protocol.LightingStatus)
	OnNotification   func(protocol.UserActionRequired)
	OnAuthState      func(authstate.State)
	OnAuthCleared    func(deviceID string)
	OnAuthSuccess    func(deviceID string)
	OnAuthFailed     func(deviceID string)
	OnUnknown        func(protocol.Unknown)
}

// Subscription is the cancellation handle returned by Subscribe. Dropping it
// without calling Cancel leaks the subscriber for the registry's lifetime,
// so UI surfaces cancel on unmount.
type Subscription struct {
	once sync.Once
	id   uuid.UUID
	reg  *Registry
}

func (s *Subscription) Cancel() {
	s.once.Do(func() { s.reg.unsubscribe(s.id) })
}

type Option func(*Registry)

// WithStore persists the device projection across restarts.
func WithStore(repo *store.Repository) Option {
	return func(g *Registry) { g.repo = repo }
}

// WithSnapshots mirrors status JSON into redis.
func WithSnapshots(cache *snapshot.Cache) Option {
	return func(g *Registry) { g.cache = cache }
}

// WithAuthOptions overrides state machine timings; callbacks set here are
// replaced by the registry's own fan-out wiring.
func WithAuthOptions(opts authstate.Options) Option {
	return func(g *Registry) { g.authOpts = opts }
}

type Registry struct {
	channel  Channel
	authOpts authstate.Options
	auth     *authstate.Machine
	repo     *store.Repository
	cache    *snapshot.Cache

	mu             sync.Mutex
	deviceStatus   map[string]protocol.DeviceStatus
	lightingStatus map[string]protocol.LightingStatus
	subs           map[uuid.UUID]Hooks
	closed         bool
}

func New(ch Channel, opts ...Option) *Registry {
	g := &Registry{
		channel:        ch,
		deviceStatus:   map[string]protocol.DeviceStatus{},
		lightingStatus: map[string]protocol.LightingStatus{},
		subs:           map[uuid.UUID]Hooks{},
	}
	for _, opt := range opts {
		opt(g)
	}
	g.authOpts.OnSuccess = func(id string) { g.notifyTerminal(id, true) }
	g.authOpts.OnFailed = func(id string) { g.notifyTerminal(id, false) }
	g.authOpts.OnDismiss = func(id string) { g.notifyAuthCleared(id) }
	g.auth = authstate.New(g.authOpts)
	return g
}

// Subscribe registers a listener and immediately replays the current
// connection state, status maps and authentication states so a late joiner
// never sits silent until the next event. The first subscriber brings the
// channel up.
func (g *Registry) Subscribe(h Hooks) *Subscription {
	g.mu.Lock()
	id := uuid.New()
	g.subs[id] = h
	first := len(g.subs) == 1 && !g.closed
	devices := make([]protocol.DeviceStatus, 0, len(g.deviceStatus))
	for _, s := range g.deviceStatus {
		devices = append(devices, s)
	}
	lighting := make([]protocol.LightingStatus, 0, len(g.lightingStatus))
	for _, s := range g.lightingStatus {
		lighting = append(lighting, s)
	}
	g.mu.Unlock()
	sort.Slice(devices, func(i, j int) bool { return devices[i].DeviceID < devices[j].DeviceID })
	sort.Slice(lighting, func(i, j int) bool { return lighting[i].DeviceID < lighting[j].DeviceID })

	if h.OnConnection != nil {
		h.OnConnection(g.channel.State())
	}
	for _, s := range devices {
		if h.OnDeviceStatus != nil {
			h.OnDeviceStatus(s)
		}
	}
	for _, s := range lighting {
		if h.OnLightingStatus != nil {
			h.OnLightingStatus(s)
		}
	}
	for _, st := range g.auth.Authenticating() {
		if h.OnAuthState != nil {
			h.OnAuthState(st)
		}
	}

	if first {
		g.channel.Connect()
	}
	return &Subscription{id: id, reg: g}
}

func (g *Registry) unsubscribe(id uuid.UUID) {
	g.mu.Lock()
	delete(g.subs, id)
	last := len(g.subs) == 0 && !g.closed
	g.mu.Unlock()
	// Only the departure of the last subscriber tears the shared channel
	// down; individual detaches must never interrupt the other observers.
	if last {
		g.channel.Disconnect()
	}
}

// Close is the explicit process-wide teardown.
func (g *Registry) Close() {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.closed = true
	g.subs = map[uuid.UUID]Hooks{}
	g.mu.Unlock()
	g.auth.Stop()
	g.channel.Disconnect()
}

// Reconnect re-arms the channel after the backoff curve gave up.
func (g *Registry) Reconnect() { g.channel.Connect() }

func (g *Registry) ConnectionState() transport.ConnectionState { return g.channel.State() }

func (g *Registry) DeviceStatuses() []protocol.DeviceStatus {
	g.mu.Lock()
	out := make([]protocol.DeviceStatus, 0, len(g.deviceStatus))
	for _, s := range g.deviceStatus {
		out = append(out, s)
	}
	g.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}

func (g *Registry) LightingStatuses() []protocol.LightingStatus {
	g.mu.Lock()
	out := make([]protocol.LightingStatus, 0, len(g.lightingStatus))
	for _, s := range g.lightingStatus {
		out = append(out, s)
	}
	g.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}

func (g *Registry) AuthState(deviceID string) (authstate.State, bool) { return g.auth.Get(deviceID) }

func (g *Registry) AuthStates() []authstate.State { return g.auth.Authenticating() }

// StaleAuth reports whether the given state is old enough that the request
// behind it may have expired.
func (g *Registry) StaleAuth(st authstate.State) bool { return g.auth.Stale(st) }

// DismissAuth resets a device's flow to idle on behalf of a UI surface.
func (g *Registry) DismissAuth(deviceID string) { g.auth.Dismiss(deviceID) }

// --- router.Sink ---
// These are the only mutation paths for the shared maps. Envelopes arrive on
// the transport's single read pump, so applications are serialized.

func (g *Registry) ConnectionChanged(bool) {
	state := g.channel.State()
	for _, h := range g.snapshotSubs() {
		if h.OnConnection != nil {
			h.OnConnection(state)
		}
	}
}

func (g *Registry) UserActionRequired(n protocol.UserActionRequired) {
	st := g.auth.Apply(n)
	for _, h := range g.snapshotSubs() {
		if h.OnNotification != nil {
			h.OnNotification(n)
		}
		if h.OnAuthState != nil {
			h.OnAuthState(st)
		}
	}
}

func (g *Registry) DeviceStatus(s protocol.DeviceStatus) {
	g.mu.Lock()
	g.deviceStatus[s.DeviceID] = s
	g.mu.Unlock()
	g.persistStatus(s)
	for _, h := range g.snapshotSubs() {
		if h.OnDeviceStatus != nil {
			h.OnDeviceStatus(s)
		}
	}
}

func (g *Registry) LightingStatus(s protocol.LightingStatus) {
	g.mu.Lock()
	g.lightingStatus[s.DeviceID] = s
	g.mu.Unlock()
	if g.repo != nil {
		if err := g.repo.UpsertLighting(context.Background(), s); err != nil {
			slog.Warn("lighting projection update failed", "device_id", s.DeviceID, "error", err)
		}
	}
	for _, h := range g.snapshotSubs() {
		if h.OnLightingStatus != nil {
			h.OnLightingStatus(s)
		}
	}
}

func (g *Registry) Unknown(u protocol.Unknown) {
	for _, h := range g.snapshotSubs() {
		if h.OnUnknown != nil {
			h.OnUnknown(u)
		}
	}
}

// persistStatus is best-effort: the in-memory map is authoritative for live
// observers, the store and cache only improve restarts and siblings.
func (g *Registry) persistStatus(s protocol.DeviceStatus) {
	if g.repo != nil {
		if err := g.repo.UpsertStatus(context.Background(), s); err != nil {
			slog.Warn("device projection update failed", "device_id", s.DeviceID, "error", err)
		}
	}
	if g.cache != nil {
		if b, err := json.Marshal(s); err == nil {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if err := g.cache.Set(ctx, s.DeviceID, b); err != nil {
				slog.Warn("snapshot cache write failed", "device_id", s.DeviceID, "error", err)
			}
			cancel()
		}
	}
}

func (g *Registry) notifyTerminal(deviceID string, success bool) {
	for _, h := range g.snapshotSubs() {
		if success && h.OnAuthSuccess != nil {
			h.OnAuthSuccess(deviceID)
		}
		if !success && h.OnAuthFailed != nil {
			h.OnAuthFailed(deviceID)
		}
	}
}

func (g *Registry) notifyAuthCleared(deviceID string) {
	for _, h := range g.snapshotSubs() {
		if h.OnAuthCleared != nil {
			h.OnAuthCleared(deviceID)
		}
	}
}

func (g *Registry) snapshotSubs() []Hooks {
	g.mu.Lock()
	out := make([]Hooks, 0, len(g.subs))
	for _, h := range g.subs {
		out = append(out, h)
	}
	g.mu.Unlock()
	return out
}
