// Package chat is the global chat client: structurally the same flow as
// the game screens (connect, announce, exchange events) minus rooms.
package chat

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/casualhall/gameroom/pkg/wire"
)

// Conn is the slice of the session channel the chat needs.
type Conn interface {
	Emit(ctx context.Context, event string, payload any) error
	On(event string, fn func(json.RawMessage)) func()
	Identity() wire.PlayerIdentity
}

type Chat struct {
	conn Conn
	log  *zap.Logger
	offs []func()

	mu       sync.Mutex
	messages []wire.ChatMessage
	watchers []chan wire.ChatMessage
}

func New(conn Conn, log *zap.Logger) *Chat {
	c := &Chat{conn: conn, log: log}
	c.offs = append(c.offs,
		conn.On(wire.EvtNewMessage, c.receive(false)),
		conn.On(wire.EvtSystemMessage, c.receive(true)),
	)
	return c
}

func (c *Chat) receive(system bool) func(json.RawMessage) {
	return func(raw json.RawMessage) {
		var m wire.ChatMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			c.log.Error("malformed chat message", zap.Error(err))
			return
		}
		m.System = m.System || system

		c.mu.Lock()
		c.messages = append(c.messages, m)
		watchers := append([]chan wire.ChatMessage(nil), c.watchers...)
		c.mu.Unlock()

		for _, w := range watchers {
			select {
			case w <- m:
			default:
			}
		}
	}
}

// Send publishes a message to the global room. Attribution (id, username,
// timestamp) is filled by the server on the broadcast echo.
func (c *Chat) Send(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}
	return c.conn.Emit(ctx, wire.EvtNewMessage, wire.ChatMessage{Text: text})
}

// Mine reports whether a broadcast message was authored locally.
func (c *Chat) Mine(m wire.ChatMessage) bool {
	return !m.System && m.Username == c.conn.Identity().DisplayName
}

func (c *Chat) Messages() []wire.ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]wire.ChatMessage(nil), c.messages...)
}

func (c *Chat) Watch(out chan wire.ChatMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.watchers = append(c.watchers, out)
}

func (c *Chat) Close() {
	for _, off := range c.offs {
		off()
	}
}
