// Package realtime provides the long-lived bidirectional channel to the
// messaging server: one connection per authenticated session, JSON envelope
// events in both directions, and automatic reconnection with bounded backoff.
package realtime

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"
)

// State is the observable connection state. Connection errors are reported
// through state transitions, never by panicking into handlers.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	// StateErrored means automatic reconnection was exhausted; a fresh
	// Connect call is required to retry.
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Handler receives every inbound event of a subscribed name, in arrival
// order. Handlers run on the channel's single read loop and therefore never
// run concurrently with each other.
type Handler func(data json.RawMessage)

// Options configure a Channel.
type Options struct {
	// URL is the server base URL; http(s) schemes are rewritten to ws(s) and
	// the /ws path appended if missing.
	URL string

	// MaxReconnectAttempts bounds automatic reconnection; 0 means the
	// default. Attempts reset after a stable connection.
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	DialTimeout          time.Duration
	WriteTimeout         time.Duration
}

func (o *Options) defaults() {
	if o.MaxReconnectAttempts == 0 {
		o.MaxReconnectAttempts = 5
	}
	if o.ReconnectBaseDelay == 0 {
		o.ReconnectBaseDelay = time.Second
	}
	if o.ReconnectMaxDelay == 0 {
		o.ReconnectMaxDelay = 30 * time.Second
	}
	if o.DialTimeout == 0 {
		o.DialTimeout = 10 * time.Second
	}
	if o.WriteTimeout == 0 {
		o.WriteTimeout = 5 * time.Second
	}
}

// Channel is the process-wide realtime connection, shared by all open
// conversation views. It does not remember presence announcements or room
// membership across reconnects; observe OnStateChange(StateConnected) to
// re-announce.
type Channel struct {
	opts Options
	log  *zerolog.Logger

	mu          sync.Mutex
	conn        *websocket.Conn
	state       State
	token       string
	intentional bool
	cancel      context.CancelFunc
	handlers    map[string]Handler
	onState     []func(State)
	recon       *reconnector
}

// NewChannel builds a disconnected channel.
func NewChannel(opts Options, logger *zerolog.Logger) *Channel {
	opts.defaults()
	return &Channel{
		opts:     opts,
		log:      logger,
		state:    StateDisconnected,
		handlers: make(map[string]Handler),
		recon:    newReconnector(opts.ReconnectBaseDelay, opts.ReconnectMaxDelay, opts.MaxReconnectAttempts),
	}
}

// Connect establishes the connection asynchronously. Failures never surface
// as errors here: the channel moves through Connecting and lands in Errored
// once automatic reconnection is exhausted, so callers observe state instead
// of catching exceptions. Calling Connect while connecting or connected is a
// no-op.
func (c *Channel) Connect(ctx context.Context, sessionToken string) {
	c.mu.Lock()
	if c.state == StateConnected || c.state == StateConnecting {
		c.mu.Unlock()
		return
	}
	c.token = sessionToken
	c.intentional = false
	c.recon.reset()
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	go c.run(runCtx)
}

// Disconnect tears the connection down. Idempotent.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	c.intentional = true
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	c.setState(StateDisconnected)
}

// Publish sends an event fire-and-forget. When the channel is not connected
// the call is a no-op with a warning: it never queues and never blocks the
// caller on delivery.
func (c *Channel) Publish(event string, payload any) {
	c.mu.Lock()
	conn := c.conn
	state := c.state
	c.mu.Unlock()

	if state != StateConnected || conn == nil {
		c.log.Warn().Str("event", event).Stringer("state", state).Msg("channel not connected, dropping publish")
		return
	}

	env, err := NewEnvelope(event, payload)
	if err != nil {
		c.log.Error().Err(err).Str("event", event).Msg("encode publish")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.opts.WriteTimeout)
	defer cancel()
	if err := wsjson.Write(ctx, conn, env); err != nil {
		c.log.Warn().Err(err).Str("event", event).Msg("publish write failed")
	}
}

// Subscribe registers the handler for every inbound event of that name,
// replacing any previous handler.
func (c *Channel) Subscribe(event string, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = h
}

// Unsubscribe removes the handler for the event name.
func (c *Channel) Unsubscribe(event string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handlers, event)
}

// State returns the current connection state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OnStateChange registers an observer invoked on every state transition.
func (c *Channel) OnStateChange(f func(State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = append(c.onState, f)
}

func (c *Channel) run(ctx context.Context) {
	for {
		c.setState(StateConnecting)

		conn, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil || c.isIntentional() {
				c.setState(StateDisconnected)
				return
			}
			if !c.recon.shouldReconnect() {
				c.log.Error().Err(err).Msg("channel reconnection exhausted")
				c.setState(StateErrored)
				return
			}
			delay := c.recon.nextDelay()
			c.log.Warn().Err(err).Dur("retry_in", delay).Msg("channel dial failed")
			select {
			case <-time.After(delay):
				continue
			case <-ctx.Done():
				c.setState(StateDisconnected)
				return
			}
		}

		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()
		c.recon.markConnected()
		c.setState(StateConnected)

		readErr := c.readLoop(ctx, conn)
		_ = conn.Close(websocket.StatusNormalClosure, "closing")

		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()

		if ctx.Err() != nil || c.isIntentional() {
			c.setState(StateDisconnected)
			return
		}

		// Message loss during the disconnected window is accepted; the
		// caller re-fetches history if it needs gap repair.
		c.log.Warn().Err(readErr).Msg("channel connection lost")
		if !c.recon.shouldReconnect() {
			c.setState(StateErrored)
			return
		}
	}
}

func (c *Channel) dial(ctx context.Context) (*websocket.Conn, error) {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, c.opts.DialTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, wsURL(c.opts.URL, token), nil)
	return conn, err
}

func (c *Channel) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		var env Envelope
		if err := wsjson.Read(ctx, conn, &env); err != nil {
			return err
		}
		c.dispatch(env)
	}
}

func (c *Channel) dispatch(env Envelope) {
	c.mu.Lock()
	h := c.handlers[env.Event]
	c.mu.Unlock()

	if h == nil {
		c.log.Debug().Str("event", env.Event).Msg("no handler for inbound event")
		return
	}
	h(env.Data)
}

func (c *Channel) setState(s State) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	observers := append([]func(State){}, c.onState...)
	c.mu.Unlock()

	for _, f := range observers {
		f(s)
	}
}

func (c *Channel) isIntentional() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.intentional
}

func wsURL(base, token string) string {
	u := strings.Replace(base, "https://", "wss://", 1)
	u = strings.Replace(u, "http://", "ws://", 1)
	u = strings.TrimRight(u, "/")
	if !strings.HasSuffix(u, "/ws") {
		u += "/ws"
	}
	if token != "" {
		u += "?token=" + token
	}
	return u
}
