// Package wire defines the event contract spoken over a game channel:
// event names, JSON payload shapes, and the envelope that carries them.
// Any compliant server implementation must satisfy these shapes and the
// ordering semantics documented on each type.
package wire

import (
	"encoding/json"

	"github.com/casualhall/gameroom/internal/engine"
)

// Server -> client events.
const (
	EvtRoomsUpdated  = "rooms-updated"
	EvtGameStarted   = "game-started"
	EvtMoveMade      = "move-made"
	EvtGameOver      = "game-over"
	EvtJoinError     = "join-error"
	EvtNewMessage    = "new-message"
	EvtSystemMessage = "system-message"
)

// Client -> server events. Requests carry a correlation id and expect an
// ack envelope echoing it; plain emits do not.
const (
	CmdInitConnection = "init-connection"
	CmdSetUsername    = "set-username"
	CmdListRooms      = "list-rooms"
	CmdCreateRoom     = "create-connect4"
	CmdValidateRoom   = "validate-room"
	CmdJoinRoom       = "join-connect4"
	CmdMove           = "connect4-move"
	CmdResyncRoom     = "resync-room"
)

// Envelope frames every message in both directions. ID is the correlation
// id for request/ack pairs; zero for broadcasts and fire-and-forget emits.
type Envelope struct {
	T  string          `json:"t"`
	ID uint64          `json:"id,omitempty"`
	P  json.RawMessage `json:"p,omitempty"`
}

// PlayerIdentity names a participant. ConnectionID is assigned by the
// remote endpoint on connect and is the unique key within a room.
type PlayerIdentity struct {
	ConnectionID string `json:"connectionId"`
	DisplayName  string `json:"displayName"`
}

// RoomSummary is a read-only directory snapshot entry, superseded
// wholesale on each refresh.
type RoomSummary struct {
	RoomID  string           `json:"roomId"`
	Players []PlayerIdentity `json:"players"`
	IsFull  bool             `json:"isFull"`
}

type InitConnection struct {
	DisplayName string `json:"displayName"`
	Room        string `json:"room"`
}

type InitAck struct {
	ConnectionID string `json:"connectionId"`
}

type SetUsername struct {
	DisplayName string `json:"displayName"`
}

type CreateRoom struct {
	DisplayName string `json:"displayName"`
}

type CreateRoomAck struct {
	RoomID string `json:"roomId"`
}

type ValidateRoom struct {
	RoomID string `json:"roomId"`
}

type ValidateRoomAck struct {
	Exists bool `json:"exists"`
	IsFull bool `json:"isFull"`
}

type JoinRoom struct {
	RoomID      string `json:"roomId"`
	DisplayName string `json:"displayName"`
}

type JoinRoomAck struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Move is ephemeral: sent and discarded, never stored. The server resolves
// the landing cell; the client never recomputes it for the online path.
type Move struct {
	RoomID string `json:"roomId"`
	Column int    `json:"column"`
}

type ResyncRoom struct {
	RoomID string `json:"roomId"`
}

// GameStarted carries the full initial room mirror. Seat order is the
// players order as given; CurrentPlayer is a connection id.
type GameStarted struct {
	RoomID        string           `json:"roomId"`
	Players       []PlayerIdentity `json:"players"`
	CurrentPlayer string           `json:"currentPlayer"`
	Board         engine.Board     `json:"board"`
}

// MoveMade is the authoritative echo of an accepted move. Row and Column
// are computed by the server.
type MoveMade struct {
	Row          int         `json:"row"`
	Column       int         `json:"column"`
	Marker       engine.Cell `json:"marker"`
	NextPlayerID string      `json:"nextPlayerId"`
}

// GameOver finalizes a match. Winner is nil on a draw; FinalBoard replaces
// the local mirror wholesale.
type GameOver struct {
	Winner     *PlayerIdentity `json:"winner,omitempty"`
	Draw       bool            `json:"draw"`
	FinalBoard engine.Board    `json:"finalBoard"`
}

type JoinError struct {
	Message string `json:"message"`
}

// ChatMessage doubles as the outbound send payload (Text only) and the
// broadcast shape (all fields set by the server).
type ChatMessage struct {
	ID        string `json:"id,omitempty"`
	Text      string `json:"text"`
	Username  string `json:"username,omitempty"`
	System    bool   `json:"system,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}
