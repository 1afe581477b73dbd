// Package pushchan keeps one live push subscription per room and re-dials it
// after unexpected closes.
package pushchan

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"wevote/internal/events"
	"wevote/internal/metrics"
)

type State string

const (
	StateConnecting   = State("connecting")
	StateOpen         = State("open")
	StateReconnecting = State("reconnecting")
	StateClosed       = State("closed")
)

const DefaultReconnectDelay = 1 * time.Second

// Transport is one established push connection.
type Transport interface {
	Read(ctx context.Context) ([]byte, error)
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, roomID string) (Transport, error)
}

type Options struct {
	ReconnectDelay time.Duration
	// DialTimeout bounds one connection attempt. Zero means no bound.
	DialTimeout time.Duration
	Clock       clockwork.Clock
}

// Handlers are invoked on the connection's reader goroutine. OnConnect runs
// before the first inbound message of each established connection.
type Handlers struct {
	OnConnect func(c *Conn)
	OnEvent   func(c *Conn, action events.Action)
	OnState   func(c *Conn, state State)
}

// Registry owns at most one Conn per room id.
type Registry struct {
	dialer   Dialer
	opts     Options
	handlers Handlers

	mu    sync.Mutex
	conns map[string]*Conn
}

func NewRegistry(dialer Dialer, opts Options, handlers Handlers) *Registry {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &Registry{
		dialer:   dialer,
		opts:     opts,
		handlers: handlers,
		conns:    make(map[string]*Conn),
	}
}

// Conn is the handle for a room's subscription. Its fields are guarded by the
// owning registry's mutex.
type Conn struct {
	reg    *Registry
	roomID string

	state            State
	intentionalClose bool
	transport        Transport
	attempt          uint64
	reconnect        clockwork.Timer
	cancel           context.CancelFunc
}

func (c *Conn) RoomID() string {
	return c.roomID
}

func (c *Conn) State() State {
	c.reg.mu.Lock()
	defer c.reg.mu.Unlock()
	return c.state
}

// Open returns the room's connection, dialing only when no connection is open
// or already connecting. A handle that was closed, or is waiting to reconnect,
// is dialed again immediately.
func (r *Registry) Open(roomID string) *Conn {
	r.mu.Lock()
	c, ok := r.conns[roomID]
	if ok && (c.state == StateConnecting || c.state == StateOpen) {
		r.mu.Unlock()
		return c
	}
	if !ok {
		c = &Conn{reg: r, roomID: roomID}
		r.conns[roomID] = c
	}
	c.intentionalClose = false
	ctx, attempt := c.startLocked()
	r.mu.Unlock()

	r.emitState(c, StateConnecting)
	go c.run(ctx, attempt)
	return c
}

// Close tears the connection down without scheduling a reconnect. The handle
// stays registered and can be reopened.
func (r *Registry) Close(c *Conn) {
	r.mu.Lock()
	c.intentionalClose = true
	c.stopReconnectLocked()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	t := c.transport
	c.transport = nil
	wasClosed := c.state == StateClosed
	c.state = StateClosed
	r.mu.Unlock()

	if t != nil {
		if err := t.Close(); err != nil {
			log.Debug().Err(err).Str("room_id", c.roomID).Msg("closing push transport")
		}
	}
	if !wasClosed {
		log.Debug().Str("room_id", c.roomID).Msg("push channel closed")
		r.emitState(c, StateClosed)
	}
}

// CloseAll closes every registered connection.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	conns := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.Unlock()

	for _, c := range conns {
		r.Close(c)
	}
}

// startLocked begins a new attempt. The caller runs it once the lock is
// released.
func (c *Conn) startLocked() (context.Context, uint64) {
	c.stopReconnectLocked()
	if c.cancel != nil {
		c.cancel()
	}
	c.attempt++
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.state = StateConnecting
	return ctx, c.attempt
}

func (c *Conn) stopReconnectLocked() {
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
}

func (c *Conn) current(attempt uint64) bool {
	c.reg.mu.Lock()
	defer c.reg.mu.Unlock()
	return attempt == c.attempt && !c.intentionalClose
}

func (c *Conn) run(ctx context.Context, attempt uint64) {
	r := c.reg

	dialCtx := ctx
	if r.opts.DialTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, r.opts.DialTimeout)
		defer cancel()
	}
	t, err := r.dialer.Dial(dialCtx, c.roomID)
	if err != nil {
		log.Warn().Err(err).Str("room_id", c.roomID).Uint64("attempt", attempt).Msg("push channel dial failed")
		c.lost(attempt)
		return
	}

	r.mu.Lock()
	if attempt != c.attempt || c.intentionalClose {
		r.mu.Unlock()
		t.Close()
		return
	}
	c.transport = t
	c.state = StateOpen
	r.mu.Unlock()

	metrics.ChannelConnects.Inc()
	log.Debug().Str("room_id", c.roomID).Uint64("attempt", attempt).Msg("push channel open")
	r.emitState(c, StateOpen)
	if r.handlers.OnConnect != nil {
		r.handlers.OnConnect(c)
	}

	for {
		data, err := t.Read(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				log.Debug().Err(err).Str("room_id", c.roomID).Msg("push channel read ended")
			}
			c.lost(attempt)
			return
		}

		action, err := events.Decode(data)
		if errors.Is(err, events.ErrUnknownAction) {
			log.Debug().Err(err).Str("room_id", c.roomID).Msg("ignoring push message")
			continue
		}
		if err != nil {
			log.Warn().Err(err).Str("room_id", c.roomID).Msg("dropping malformed push message")
			continue
		}
		if !c.current(attempt) {
			return
		}
		if r.handlers.OnEvent != nil {
			r.handlers.OnEvent(c, action)
		}
	}
}

// lost handles the end of a connection attempt. Unless the close was
// requested, exactly one reconnect is scheduled.
func (c *Conn) lost(attempt uint64) {
	r := c.reg

	r.mu.Lock()
	if attempt != c.attempt {
		r.mu.Unlock()
		return
	}
	t := c.transport
	c.transport = nil
	if c.intentionalClose {
		c.state = StateClosed
		r.mu.Unlock()
		if t != nil {
			t.Close()
		}
		return
	}
	c.state = StateReconnecting
	c.stopReconnectLocked()
	c.reconnect = r.opts.Clock.AfterFunc(r.opts.ReconnectDelay, func() { c.redial(attempt) })
	r.mu.Unlock()

	if t != nil {
		t.Close()
	}
	metrics.ChannelReconnects.Inc()
	log.Info().Str("room_id", c.roomID).Dur("delay", r.opts.ReconnectDelay).Msg("push channel lost, reconnect scheduled")
	r.emitState(c, StateReconnecting)
}

// redial is the connection's reconnect task, scheduled after attempt was
// lost. A task whose attempt has been superseded does nothing.
func (c *Conn) redial(attempt uint64) {
	r := c.reg

	r.mu.Lock()
	if c.intentionalClose || c.state != StateReconnecting || attempt != c.attempt {
		r.mu.Unlock()
		return
	}
	c.reconnect = nil
	ctx, attempt := c.startLocked()
	r.mu.Unlock()

	r.emitState(c, StateConnecting)
	go c.run(ctx, attempt)
}

func (r *Registry) emitState(c *Conn, s State) {
	if r.handlers.OnState != nil {
		r.handlers.OnState(c, s)
	}
}
