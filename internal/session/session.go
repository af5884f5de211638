// Package session holds the per-screen session context (identity, selected
// game) and drives room creation and joining. It owns the single
// user-visible join error slot: latest error wins, cleared on the next
// successful action.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/casualhall/gameroom/internal/engine"
	"github.com/casualhall/gameroom/pkg/wire"
)

var ErrRoomNotFound = errors.New("room not found")
var ErrRoomFull = errors.New("room full")
var ErrJoinRejected = errors.New("join rejected")
var ErrIdentityFrozen = errors.New("display name locked after entering a room")

type RoomStatus string

const (
	StatusWaiting RoomStatus = "waiting"
	StatusPlaying RoomStatus = "playing"
)

// CurrentRoom is the client's one active room. At most one exists per
// session.
type CurrentRoom struct {
	ID     string
	Status RoomStatus
}

// Conn is the slice of the session channel the controller needs.
type Conn interface {
	Request(ctx context.Context, event string, payload, reply any) error
	On(event string, fn func(json.RawMessage)) func()
	Identity() wire.PlayerIdentity
	UpdateIdentity(name string)
}

// Refresher repairs a stale directory after join failures.
type Refresher interface {
	Refresh(ctx context.Context) ([]wire.RoomSummary, error)
}

type Session struct {
	conn Conn
	dir  Refresher
	log  *zap.Logger
	off  func()

	mu      sync.Mutex
	game    engine.Kind
	frozen  bool
	current *CurrentRoom
	lastErr string
}

// New builds a session for one selected game kind. The join-error handler
// stays registered until Close: it fills the error slot and triggers a
// directory refresh, touching no room or board state.
func New(conn Conn, dir Refresher, game engine.Kind, log *zap.Logger) *Session {
	s := &Session{conn: conn, dir: dir, game: game, log: log}
	s.off = conn.On(wire.EvtJoinError, func(p json.RawMessage) {
		var je wire.JoinError
		if err := json.Unmarshal(p, &je); err != nil {
			log.Error("malformed join-error", zap.Error(err))
			return
		}
		s.setErr(je.Message)
		s.refreshDirectory()
	})
	return s
}

func (s *Session) Game() engine.Kind { return s.game }

// SetDisplayName renames the player. Allowed only before a room is
// entered; afterwards the identity is frozen for the match.
func (s *Session) SetDisplayName(name string) error {
	s.mu.Lock()
	if s.frozen {
		s.mu.Unlock()
		return ErrIdentityFrozen
	}
	s.mu.Unlock()

	s.conn.UpdateIdentity(name)
	return nil
}

// CreateRoom requests room creation. The new room starts waiting; only the
// server's game-started broadcast moves it to playing.
func (s *Session) CreateRoom(ctx context.Context) (string, error) {
	var ack wire.CreateRoomAck
	err := s.conn.Request(ctx, wire.CmdCreateRoom,
		wire.CreateRoom{DisplayName: s.conn.Identity().DisplayName}, &ack)
	if err != nil {
		s.setErr(err.Error())
		return "", err
	}

	s.mu.Lock()
	s.current = &CurrentRoom{ID: ack.RoomID, Status: StatusWaiting}
	s.frozen = true
	s.lastErr = ""
	s.mu.Unlock()
	return ack.RoomID, nil
}

// JoinRoom validates then joins. A room reported missing or full never
// produces a join request; a rejected join triggers a directory refresh to
// repair the stale listing that referenced it.
func (s *Session) JoinRoom(ctx context.Context, roomID string) error {
	var v wire.ValidateRoomAck
	if err := s.conn.Request(ctx, wire.CmdValidateRoom, wire.ValidateRoom{RoomID: roomID}, &v); err != nil {
		s.setErr(err.Error())
		return err
	}
	if !v.Exists {
		s.setErr(ErrRoomNotFound.Error())
		s.refreshDirectory()
		return ErrRoomNotFound
	}
	if v.IsFull {
		s.setErr(ErrRoomFull.Error())
		s.refreshDirectory()
		return ErrRoomFull
	}

	// Install the room before the join request goes out: the server's
	// game-started broadcast can arrive ahead of the join ack, and the
	// playing transition it carries must find the room in place.
	s.mu.Lock()
	prev, prevFrozen := s.current, s.frozen
	s.current = &CurrentRoom{ID: roomID, Status: StatusWaiting}
	s.frozen = true
	s.mu.Unlock()

	rollback := func() {
		s.mu.Lock()
		s.current, s.frozen = prev, prevFrozen
		s.mu.Unlock()
	}

	var ack wire.JoinRoomAck
	err := s.conn.Request(ctx, wire.CmdJoinRoom,
		wire.JoinRoom{RoomID: roomID, DisplayName: s.conn.Identity().DisplayName}, &ack)
	if err != nil {
		rollback()
		s.setErr(err.Error())
		return err
	}
	if !ack.OK {
		rollback()
		msg := ack.Error
		if msg == "" {
			msg = ErrJoinRejected.Error()
		}
		s.setErr(msg)
		s.refreshDirectory()
		return ErrJoinRejected
	}

	s.mu.Lock()
	s.lastErr = ""
	s.mu.Unlock()
	return nil
}

// MarkPlaying records the playing transition. Past this point the
// controller is inert for the room; the match owns all further mutation.
func (s *Session) MarkPlaying(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil && s.current.ID == roomID {
		s.current.Status = StatusPlaying
	}
}

// LeaveRoom discards the current room on reset or navigation away and
// unfreezes the identity.
func (s *Session) LeaveRoom() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = nil
	s.frozen = false
}

func (s *Session) Current() *CurrentRoom {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	cp := *s.current
	return &cp
}

// Err returns the current user-visible error message, empty when clear.
func (s *Session) Err() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// SetErr exposes the error slot to collaborators that surface failures
// through the session (the match on unassigned seats).
func (s *Session) SetErr(msg string) { s.setErr(msg) }

func (s *Session) setErr(msg string) {
	s.mu.Lock()
	s.lastErr = msg
	s.mu.Unlock()
	s.log.Info("session error", zap.String("message", msg))
}

func (s *Session) refreshDirectory() {
	if s.dir == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := s.dir.Refresh(ctx); err != nil {
			s.log.Warn("directory refresh after join failure", zap.Error(err))
		}
	}()
}

func (s *Session) Close() {
	if s.off != nil {
		s.off()
	}
}

const nameCharset = "abcdefghijklmnopqrstuvwxyz0123456789"

// RandomName generates the default display name assigned at process start.
func RandomName() string {
	b := make([]byte, 6)
	for i := range b {
		b[i] = nameCharset[rand.Intn(len(nameCharset))]
	}
	return "guest-" + string(b)
}
