// Package devserver is a compliant implementation of the realtime event
// contract in pkg/wire, used by tests and local development. The
// production service it stands in for is external to this repository.
package devserver

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/casualhall/gameroom/internal/engine"
	"github.com/casualhall/gameroom/pkg/wire"
)

var errRoomFull = errors.New("room full")
var errRoomGone = errors.New("room not found")

const clientSendBuf = 16

type namespace string

const (
	nsGames namespace = "games"
	nsChat  namespace = "chat"
)

// client is one websocket connection. A writer goroutine drains out so the
// room loops never block on a slow peer.
type client struct {
	id  string
	ns  namespace
	out chan []byte

	mu   sync.Mutex
	name string
}

func (c *client) identity() wire.PlayerIdentity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return wire.PlayerIdentity{ConnectionID: c.id, DisplayName: c.name}
}

func (c *client) setName(name string) {
	c.mu.Lock()
	c.name = name
	c.mu.Unlock()
}

// send frames an event onto the client outbox, dropping it if the outbox
// is full (the writer goroutine or disconnect logic cleans up).
func (c *client) send(event string, id uint64, payload any) {
	data, err := wire.Encode(event, id, payload)
	if err != nil {
		return
	}
	select {
	case c.out <- data:
	default:
	}
}

type Server struct {
	log   *zap.Logger
	store *Store
	ctx   context.Context

	mu      sync.Mutex
	clients map[namespace]map[string]*client
	rooms   map[string]*room
}

// New builds a server. store may be nil; match history is then skipped.
func New(ctx context.Context, log *zap.Logger, store *Store) *Server {
	return &Server{
		log:   log,
		store: store,
		ctx:   ctx,
		clients: map[namespace]map[string]*client{
			nsGames: {},
			nsChat:  {},
		},
		rooms: make(map[string]*room),
	}
}

// Handler accepts websocket connections for one namespace.
func (s *Server) Handler(ns namespace) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		c := &client{id: uuid.NewString(), ns: ns, out: make(chan []byte, clientSendBuf)}

		writeCtx, writeCancel := context.WithCancel(s.ctx)
		defer writeCancel()
		go func() {
			for {
				select {
				case data := <-c.out:
					ctx, cancel := context.WithTimeout(writeCtx, 3*time.Second)
					_ = conn.Write(ctx, websocket.MessageText, data)
					cancel()
				case <-writeCtx.Done():
					return
				}
			}
		}()

		defer s.disconnect(c)

		for {
			_, data, err := conn.Read(s.ctx)
			if err != nil {
				return
			}
			env, err := wire.Decode(data)
			if err != nil {
				s.log.Warn("bad frame", zap.Error(err))
				continue
			}
			s.handle(c, env)
		}
	}
}

func (s *Server) handle(c *client, env wire.Envelope) {
	switch env.T {
	case wire.CmdInitConnection:
		var p wire.InitConnection
		if err := json.Unmarshal(env.P, &p); err != nil {
			return
		}
		c.setName(p.DisplayName)
		s.register(c)
		c.send(env.T, env.ID, wire.InitAck{ConnectionID: c.id})
		if c.ns == nsChat {
			s.systemMessage(c.name + " joined the chat")
		}

	case wire.CmdSetUsername:
		var p wire.SetUsername
		if err := json.Unmarshal(env.P, &p); err != nil {
			return
		}
		c.setName(p.DisplayName)

	case wire.CmdListRooms:
		c.send(env.T, env.ID, s.listSummaries())

	case wire.CmdCreateRoom:
		roomID := s.createRoom(c)
		c.send(env.T, env.ID, wire.CreateRoomAck{RoomID: roomID})

	case wire.CmdValidateRoom:
		var p wire.ValidateRoom
		if err := json.Unmarshal(env.P, &p); err != nil {
			return
		}
		ack := wire.ValidateRoomAck{}
		if r := s.getRoom(p.RoomID); r != nil {
			reply := make(chan wire.RoomSummary, 1)
			r.post(summaryReq{reply: reply})
			select {
			case sum := <-reply:
				ack.Exists = true
				ack.IsFull = sum.IsFull
			case <-r.ctx.Done():
			}
		}
		c.send(env.T, env.ID, ack)

	case wire.CmdJoinRoom:
		var p wire.JoinRoom
		if err := json.Unmarshal(env.P, &p); err != nil {
			return
		}
		ack := wire.JoinRoomAck{OK: true}
		if err := s.joinRoom(p.RoomID, c); err != nil {
			ack = wire.JoinRoomAck{OK: false, Error: err.Error()}
			c.send(wire.EvtJoinError, 0, wire.JoinError{Message: err.Error()})
		}
		c.send(env.T, env.ID, ack)

	case wire.CmdMove:
		var p wire.Move
		if err := json.Unmarshal(env.P, &p); err != nil {
			return
		}
		if r := s.getRoom(p.RoomID); r != nil {
			r.post(moveReq{from: c.id, column: p.Column})
		}

	case wire.CmdResyncRoom:
		var p wire.ResyncRoom
		if err := json.Unmarshal(env.P, &p); err != nil {
			return
		}
		if r := s.getRoom(p.RoomID); r != nil {
			r.post(resyncReq{from: c.id})
		}

	case wire.EvtNewMessage:
		var p wire.ChatMessage
		if err := json.Unmarshal(env.P, &p); err != nil {
			return
		}
		s.chatBroadcast(wire.EvtNewMessage, wire.ChatMessage{
			ID:        uuid.NewString(),
			Text:      p.Text,
			Username:  c.identity().DisplayName,
			Timestamp: time.Now().UnixMilli(),
		})

	default:
		s.log.Warn("unknown event", zap.String("event", env.T))
	}
}

func (s *Server) register(c *client) {
	s.mu.Lock()
	s.clients[c.ns][c.id] = c
	s.mu.Unlock()
}

func (s *Server) disconnect(c *client) {
	s.mu.Lock()
	delete(s.clients[c.ns], c.id)
	rooms := make([]*room, 0, len(s.rooms))
	for _, r := range s.rooms {
		rooms = append(rooms, r)
	}
	s.mu.Unlock()

	for _, r := range rooms {
		r.post(leaveRoom{clientID: c.id})
	}

	if c.ns == nsChat {
		if name := c.identity().DisplayName; name != "" {
			s.systemMessage(name + " left the chat")
		}
	}
}

func (s *Server) createRoom(creator *client) string {
	s.mu.Lock()
	var id string
	for {
		code, err := generateCode()
		if err != nil {
			s.mu.Unlock()
			s.log.Error("room code generation failed", zap.Error(err))
			return ""
		}
		if _, taken := s.rooms[code]; !taken {
			id = code
			break
		}
	}
	r := newRoom(s.ctx, s, id, engine.ConnectFour)
	s.rooms[id] = r
	s.mu.Unlock()

	reply := make(chan error, 1)
	r.post(joinRoom{c: creator, reply: reply})
	<-reply
	return id
}

func (s *Server) getRoom(id string) *room {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rooms[id]
}

func (s *Server) removeRoom(id string) {
	s.mu.Lock()
	delete(s.rooms, id)
	s.mu.Unlock()
	s.roomsChanged()
}

func (s *Server) joinRoom(id string, c *client) error {
	r := s.getRoom(id)
	if r == nil {
		return errRoomGone
	}
	reply := make(chan error, 1)
	r.post(joinRoom{c: c, reply: reply})
	select {
	case err := <-reply:
		return err
	case <-r.ctx.Done():
		return errRoomGone
	}
}

func (s *Server) listSummaries() []wire.RoomSummary {
	s.mu.Lock()
	rooms := make([]*room, 0, len(s.rooms))
	for _, r := range s.rooms {
		rooms = append(rooms, r)
	}
	s.mu.Unlock()

	summaries := make([]wire.RoomSummary, 0, len(rooms))
	for _, r := range rooms {
		reply := make(chan wire.RoomSummary, 1)
		r.post(summaryReq{reply: reply})
		select {
		case sum := <-reply:
			summaries = append(summaries, sum)
		case <-r.ctx.Done():
		}
	}
	return summaries
}

// roomsChanged pushes the directory invalidation signal to every games
// client; they re-fetch the listing themselves.
func (s *Server) roomsChanged() {
	s.mu.Lock()
	clients := make([]*client, 0, len(s.clients[nsGames]))
	for _, c := range s.clients[nsGames] {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		c.send(wire.EvtRoomsUpdated, 0, nil)
	}
}

func (s *Server) chatBroadcast(event string, m wire.ChatMessage) {
	s.mu.Lock()
	clients := make([]*client, 0, len(s.clients[nsChat]))
	for _, c := range s.clients[nsChat] {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		c.send(event, 0, m)
	}
}

func (s *Server) systemMessage(text string) {
	s.chatBroadcast(wire.EvtSystemMessage, wire.ChatMessage{
		ID:        uuid.NewString(),
		Text:      text,
		System:    true,
		Timestamp: time.Now().UnixMilli(),
	})
}

const codeCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func generateCode() (string, error) {
	code := make([]byte, 6)
	for i := range code {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(codeCharset))))
		if err != nil {
			return "", err
		}
		code[i] = codeCharset[num.Int64()]
	}
	return string(code), nil
}
