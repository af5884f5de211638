// Package channel owns the persistent duplex connection to one
// namespace-scoped realtime endpoint. It reconnects on transport drops,
// re-announces identity on every successful (re)connect before any other
// traffic, and fans inbound events out to registered handlers.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/casualhall/gameroom/pkg/wire"
)

var ErrNotConnected = errors.New("channel not connected")
var ErrClosed = errors.New("channel closed")

// GlobalScope is the presence room announced on every (re)connect.
const GlobalScope = "global"

const (
	dialTimeout    = 10 * time.Second
	writeTimeout   = 3 * time.Second
	reconnectDelay = time.Second
)

type ConnState int

const (
	Connecting ConnState = iota
	Connected
)

func (s ConnState) String() string {
	if s == Connected {
		return "connected"
	}
	return "connecting"
}

type handlerEntry struct {
	id uint64
	fn func(json.RawMessage)
}

type stateSub struct {
	id uint64
	fn func(ConnState)
}

type Channel struct {
	url string
	log *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	reqID atomic.Uint64

	mu       sync.Mutex
	conn     *websocket.Conn
	state    ConnState
	identity wire.PlayerIdentity
	handlers map[string][]handlerEntry
	subs     []stateSub
	pending  map[uint64]chan wire.Envelope
	nextID   uint64
	opened   bool
	closed   bool
}

func New(url string, log *zap.Logger) *Channel {
	ctx, cancel := context.WithCancel(context.Background())
	return &Channel{
		url:      url,
		log:      log,
		ctx:      ctx,
		cancel:   cancel,
		handlers: make(map[string][]handlerEntry),
		pending:  make(map[uint64]chan wire.Envelope),
	}
}

// Open starts the connection lifecycle. Idempotent: a second call changes
// nothing. The channel stays in Connecting until the identity announcement
// is acknowledged; use WaitConnected or OnStateChange to observe that.
func (c *Channel) Open(identity wire.PlayerIdentity) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.opened {
		return nil
	}
	c.opened = true
	c.identity = identity
	go c.manage()
	return nil
}

// manage dials, announces, then pumps the read loop until the transport
// drops; repeat until Close.
func (c *Channel) manage() {
	for {
		if c.ctx.Err() != nil {
			return
		}

		dialCtx, cancel := context.WithTimeout(c.ctx, dialTimeout)
		conn, _, err := websocket.Dial(dialCtx, c.url, nil)
		cancel()
		if err != nil {
			c.log.Warn("dial failed", zap.String("url", c.url), zap.Error(err))
			select {
			case <-c.ctx.Done():
				return
			case <-time.After(reconnectDelay):
			}
			continue
		}

		c.runConn(conn)

		select {
		case <-c.ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

// runConn drives one transport session: announce first, mark connected,
// then read until the connection dies.
func (c *Channel) runConn(conn *websocket.Conn) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "bye")
		return
	}
	c.conn = conn
	name := c.identity.DisplayName
	c.mu.Unlock()

	done := make(chan struct{})
	go c.readLoop(conn, done)

	// Identity announcement must complete before anything else counts.
	announceCtx, cancel := context.WithTimeout(c.ctx, dialTimeout)
	var ack wire.InitAck
	err := c.requestOn(announceCtx, conn, wire.CmdInitConnection,
		wire.InitConnection{DisplayName: name, Room: GlobalScope}, &ack)
	cancel()
	if err != nil {
		c.log.Warn("identity announce failed", zap.Error(err))
		conn.Close(websocket.StatusProtocolError, "announce failed")
		<-done
		c.dropConn(conn)
		return
	}

	c.mu.Lock()
	c.identity.ConnectionID = ack.ConnectionID
	c.state = Connected
	subs := c.snapshotSubs()
	c.mu.Unlock()

	c.log.Info("connected", zap.String("connectionId", ack.ConnectionID))
	for _, s := range subs {
		s.fn(Connected)
	}

	<-done
	c.dropConn(conn)
}

func (c *Channel) dropConn(conn *websocket.Conn) {
	c.mu.Lock()
	wasConnected := c.state == Connected
	if c.conn == conn {
		c.conn = nil
	}
	c.state = Connecting
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	subs := c.snapshotSubs()
	closed := c.closed
	c.mu.Unlock()

	if wasConnected && !closed {
		c.log.Warn("disconnected")
		for _, s := range subs {
			s.fn(Connecting)
		}
	}
}

func (c *Channel) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		_, data, err := conn.Read(c.ctx)
		if err != nil {
			return
		}

		env, err := wire.Decode(data)
		if err != nil {
			c.log.Error("bad frame", zap.Error(err))
			continue
		}
		c.dispatch(env)
	}
}

// dispatch runs on the read loop goroutine, so handlers for one channel
// never run concurrently with each other.
func (c *Channel) dispatch(env wire.Envelope) {
	if env.ID != 0 {
		c.mu.Lock()
		ch, ok := c.pending[env.ID]
		if ok {
			delete(c.pending, env.ID)
		}
		c.mu.Unlock()
		if ok {
			ch <- env
		}
		return
	}

	c.mu.Lock()
	entries := append([]handlerEntry(nil), c.handlers[env.T]...)
	c.mu.Unlock()
	for _, e := range entries {
		e.fn(env.P)
	}
}

// On registers a handler for a named inbound event and returns its
// deregistration func. Handlers registered after Close never fire.
func (c *Channel) On(event string, fn func(json.RawMessage)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	c.handlers[event] = append(c.handlers[event], handlerEntry{id: id, fn: fn})

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		entries := c.handlers[event]
		for i, e := range entries {
			if e.id == id {
				c.handlers[event] = append(entries[:i:i], entries[i+1:]...)
				return
			}
		}
	}
}

// OnStateChange registers a connection-state observer. Consumers use this
// to gate input affordances while disconnected.
func (c *Channel) OnStateChange(fn func(ConnState)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	c.subs = append(c.subs, stateSub{id: id, fn: fn})

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, s := range c.subs {
			if s.id == id {
				c.subs = append(c.subs[:i:i], c.subs[i+1:]...)
				return
			}
		}
	}
}

func (c *Channel) snapshotSubs() []stateSub {
	return append([]stateSub(nil), c.subs...)
}

func (c *Channel) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Identity returns the current identity including the connection id
// assigned by the remote endpoint (empty until first connect).
func (c *Channel) Identity() wire.PlayerIdentity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

// UpdateIdentity renames the local player. When connected the rename is
// pushed immediately; when disconnected it only takes effect through the
// next reconnect announcement.
func (c *Channel) UpdateIdentity(name string) {
	c.mu.Lock()
	c.identity.DisplayName = name
	connected := c.state == Connected
	c.mu.Unlock()

	if !connected {
		c.log.Debug("rename while disconnected, deferred to next announce",
			zap.String("name", name))
		return
	}
	if err := c.Emit(c.ctx, wire.CmdSetUsername, wire.SetUsername{DisplayName: name}); err != nil {
		c.log.Warn("set-username failed", zap.Error(err))
	}
}

// Emit sends a fire-and-forget event. Fails when not connected; callers
// gate on connection state rather than queueing.
func (c *Channel) Emit(ctx context.Context, event string, payload any) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	conn := c.conn
	connected := c.state == Connected
	c.mu.Unlock()
	if !connected || conn == nil {
		return ErrNotConnected
	}
	return c.write(ctx, conn, event, 0, payload)
}

// Request sends an event carrying a correlation id and waits for the ack
// envelope echoing it, unmarshalling the ack payload into reply when reply
// is non-nil. There is no retry; cancellation is the caller's context.
func (c *Channel) Request(ctx context.Context, event string, payload, reply any) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	conn := c.conn
	connected := c.state == Connected
	c.mu.Unlock()
	if !connected || conn == nil {
		return ErrNotConnected
	}
	return c.requestOn(ctx, conn, event, payload, reply)
}

func (c *Channel) requestOn(ctx context.Context, conn *websocket.Conn, event string, payload, reply any) error {
	id := c.reqID.Add(1)
	ch := make(chan wire.Envelope, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.pending[id] = ch
	c.mu.Unlock()

	if err := c.write(ctx, conn, event, id, payload); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return err
	}

	select {
	case env, ok := <-ch:
		if !ok {
			return ErrNotConnected
		}
		if reply != nil && env.P != nil {
			if err := json.Unmarshal(env.P, reply); err != nil {
				return fmt.Errorf("%s ack: %w", event, err)
			}
		}
		return nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return ctx.Err()
	case <-c.ctx.Done():
		return ErrClosed
	}
}

func (c *Channel) write(ctx context.Context, conn *websocket.Conn, event string, id uint64, payload any) error {
	data, err := wire.Encode(event, id, payload)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := conn.Write(wctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("write %s: %w", event, err)
	}
	return nil
}

// WaitConnected blocks until the channel reaches Connected or ctx expires.
func (c *Channel) WaitConnected(ctx context.Context) error {
	ready := make(chan struct{}, 1)
	off := c.OnStateChange(func(s ConnState) {
		if s == Connected {
			select {
			case ready <- struct{}{}:
			default:
			}
		}
	})
	defer off()

	if c.State() == Connected {
		return nil
	}
	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.ctx.Done():
		return ErrClosed
	}
}

// Close tears the channel down on every exit path: transport released,
// handler registrations removed, pending requests failed. Responses that
// arrive after Close are ignored.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.handlers = make(map[string][]handlerEntry)
	c.subs = nil
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.mu.Unlock()

	c.cancel()
	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "bye")
	}
	return nil
}
