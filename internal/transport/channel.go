// Package transport owns the single logical WebSocket connection to the
// palette server. Everything above it sees lifecycle callbacks and parsed
// envelopes; socket errors and reconnects stay in here.
package transport

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nickcrisci/PalPalette-2-sub000/internal/observability"
	"github.com/nickcrisci/PalPalette-2-sub000/internal/protocol"
)

// Handler receives channel lifecycle transitions and inbound envelopes.
// Callbacks are invoked from the channel's own goroutines, one envelope at a
// time, so implementations get a serialized apply path for free.
type Handler interface {
	HandleConnected()
	HandleDisconnected()
	HandleEnvelope(protocol.Envelope)
}

// ConnectionState is the externally visible connection summary.
type ConnectionState struct {
	IsConnected       bool `json:"isConnected"`
	ReconnectAttempts int  `json:"reconnectAttempts"`
}

type Options struct {
	URL   string
	Token func() string // bearer credential for the authenticate handshake

	Dialer      *websocket.Dialer
	BackoffUnit time.Duration // default 1s
	BackoffMax  time.Duration // default 60s
	MaxAttempts int           // default 5; after that, Connect must be called again
}

type Channel struct {
	opts    Options
	handler Handler

	// writeMu serializes writes; gorilla conns allow one writer at a time.
	writeMu sync.Mutex

	mu         sync.Mutex
	conn       *websocket.Conn
	connecting bool
	connected  bool
	quiesced   bool
	attempts   int
	reconnect  *time.Timer
	gen        uint64 // bumped on every teardown to invalidate stale pumps
}

func New(opts Options) *Channel {
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.BackoffUnit <= 0 {
		opts.BackoffUnit = time.Second
	}
	if opts.BackoffMax <= 0 {
		opts.BackoffMax = 60 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.Token == nil {
		opts.Token = func() string { return "" }
	}
	return &Channel{opts: opts}
}

// SetHandler must be called before Connect.
func (c *Channel) SetHandler(h Handler) {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
}

// Connect opens the socket if it is not already connecting or open. Calling
// it repeatedly is a no-op while a connection is in flight; duplicate sockets
// would split the notification stream. It also re-arms a channel that gave
// up after exhausting its reconnect attempts.
func (c *Channel) Connect() {
	c.mu.Lock()
	c.quiesced = false
	if c.connecting || c.connected {
		c.mu.Unlock()
		return
	}
	c.attempts = 0
	c.mu.Unlock()
	c.tryConnect()
}

// Disconnect closes the socket and cancels any pending reconnect timer.
// The channel stays quiescent until Connect is called again.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	c.quiesced = true
	c.gen++
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
	conn := c.conn
	wasConnected := c.connected
	c.conn = nil
	c.connected = false
	c.connecting = false
	c.attempts = 0
	h := c.handler
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	if wasConnected && h != nil {
		h.HandleDisconnected()
	}
}

// Send writes an envelope if the channel is open. Sends are best-effort:
// a false return means the message was not written and the caller should
// not expect delivery.
func (c *Channel) Send(env protocol.Envelope) bool {
	c.mu.Lock()
	conn := c.conn
	ok := c.connected
	c.mu.Unlock()
	if !ok || conn == nil {
		slog.Warn("ws send skipped, not connected", "event", env.Event)
		return false
	}
	c.writeMu.Lock()
	err := conn.WriteJSON(env)
	c.writeMu.Unlock()
	if err != nil {
		slog.Warn("ws send failed", "event", env.Event, "error", err)
		return false
	}
	return true
}

func (c *Channel) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ConnectionState{IsConnected: c.connected, ReconnectAttempts: c.attempts}
}

func (c *Channel) tryConnect() {
	c.mu.Lock()
	if c.connecting || c.connected {
		c.mu.Unlock()
		return
	}
	c.connecting = true
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
	gen := c.gen
	c.mu.Unlock()
	go c.dial(gen)
}

func (c *Channel) dial(gen uint64) {
	conn, _, err := c.opts.Dialer.Dial(c.opts.URL, nil)
	if err != nil {
		slog.Warn("ws dial failed", "url", c.opts.URL, "error", err)
		c.mu.Lock()
		if gen != c.gen {
			c.mu.Unlock()
			return
		}
		c.connecting = false
		c.scheduleReconnectLocked()
		c.mu.Unlock()
		return
	}

	c.mu.Lock()
	if gen != c.gen {
		// Disconnected while the dial was in flight.
		c.mu.Unlock()
		_ = conn.Close()
		return
	}
	c.conn = conn
	c.connected = true
	c.connecting = false
	c.attempts = 0
	h := c.handler
	c.mu.Unlock()

	slog.Info("ws connected", "url", c.opts.URL)
	c.authenticate()
	if h != nil {
		h.HandleConnected()
	}
	go c.readPump(conn, gen)
}

// authenticate sends the bearer credential as the first message on a fresh
// socket; the server drops unauthenticated connections after a grace period.
func (c *Channel) authenticate() {
	token := c.opts.Token()
	if token == "" {
		slog.Warn("ws connected without credential, skipping authenticate")
		return
	}
	data, err := json.Marshal(protocol.Authenticate{Token: token})
	if err != nil {
		return
	}
	c.Send(protocol.Envelope{Event: protocol.EventAuthenticate, Data: data})
}

func (c *Channel) readPump(conn *websocket.Conn, gen uint64) {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			c.dropConn(gen, err)
			return
		}
		var env protocol.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			slog.Warn("ws malformed frame dropped", "error", err)
			observability.EnvelopesDropped.Inc()
			continue
		}
		if h != nil {
			h.HandleEnvelope(env)
		}
	}
}

// dropConn folds any socket-level failure into the disconnected transition.
// Reconnecting is the only meaningful recovery, so errors are logged here
// and never propagated.
func (c *Channel) dropConn(gen uint64, cause error) {
	c.mu.Lock()
	if gen != c.gen {
		// An explicit Disconnect already tore this connection down.
		c.mu.Unlock()
		return
	}
	c.gen++
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.connected = false
	h := c.handler
	c.scheduleReconnectLocked()
	c.mu.Unlock()

	slog.Info("ws disconnected", "cause", cause)
	if h != nil {
		h.HandleDisconnected()
	}
}

func (c *Channel) scheduleReconnectLocked() {
	if c.quiesced || c.reconnect != nil {
		return
	}
	if c.attempts >= c.opts.MaxAttempts {
		slog.Error("ws reconnect attempts exhausted, waiting for manual reconnect", "attempts", c.attempts)
		return
	}
	c.attempts++
	delay := Backoff(c.attempts, c.opts.BackoffUnit, c.opts.BackoffMax)
	observability.ReconnectsTotal.Inc()
	slog.Info("ws reconnect scheduled", "attempt", c.attempts, "delay", delay)
	c.reconnect = time.AfterFunc(delay, func() {
		c.mu.Lock()
		c.reconnect = nil
		quiesced := c.quiesced
		c.mu.Unlock()
		if !quiesced {
			c.tryConnect()
		}
	})
}

// Backoff returns the delay before the given reconnect attempt (1-based):
// min(max, 2^attempt * unit).
func Backoff(attempt int, unit, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if unit <= 0 {
		unit = time.Second
	}
	d := unit
	for i := 0; i < attempt; i++ {
		d *= 2
		if max > 0 && d >= max {
			return max
		}
	}
	return d
}
