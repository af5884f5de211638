package devserver

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/casualhall/gameroom/internal/engine"
	"github.com/casualhall/gameroom/pkg/wire"
)

const roomSeats = 2

type roomMsg interface{ isRoomMsg() }

type joinRoom struct {
	c     *client
	reply chan error
}

type leaveRoom struct{ clientID string }

type moveReq struct {
	from   string
	column int
}

type resyncReq struct{ from string }

type summaryReq struct{ reply chan wire.RoomSummary }

type shutdownRoom struct{}

func (joinRoom) isRoomMsg()     {}
func (leaveRoom) isRoomMsg()    {}
func (moveReq) isRoomMsg()      {}
func (resyncReq) isRoomMsg()    {}
func (summaryReq) isRoomMsg()   {}
func (shutdownRoom) isRoomMsg() {}

// room is the authoritative side of one match: it owns the board, resolves
// drop positions, advances the turn pointer, and broadcasts every
// state-changing event to its seats.
type room struct {
	id   string
	kind engine.Kind
	srv  *Server
	log  *zap.Logger

	inbox  chan roomMsg
	ctx    context.Context
	cancel context.CancelFunc

	// Owned by the loop goroutine.
	seats    []*client
	board    engine.Board
	current  int
	playing  bool
	finished bool
}

func newRoom(parent context.Context, srv *Server, id string, kind engine.Kind) *room {
	ctx, cancel := context.WithCancel(parent)
	r := &room{
		id:     id,
		kind:   kind,
		srv:    srv,
		log:    srv.log.With(zap.String("roomId", id)),
		inbox:  make(chan roomMsg, 64),
		ctx:    ctx,
		cancel: cancel,
	}
	go r.loop()
	return r
}

func (r *room) post(m roomMsg) {
	select {
	case r.inbox <- m:
	case <-r.ctx.Done():
	}
}

func (r *room) loop() {
	for {
		select {
		case <-r.ctx.Done():
			return

		case m := <-r.inbox:
			switch t := m.(type) {
			case joinRoom:
				t.reply <- r.join(t.c)
			case leaveRoom:
				r.leave(t.clientID)
			case moveReq:
				r.move(t.from, t.column)
			case resyncReq:
				r.resync(t.from)
			case summaryReq:
				t.reply <- r.summary()
			case shutdownRoom:
				r.cancel()
				return
			}
		}
	}
}

func (r *room) join(c *client) error {
	if r.finished {
		return errRoomGone
	}
	if len(r.seats) >= roomSeats {
		return errRoomFull
	}
	for _, s := range r.seats {
		if s.id == c.id {
			return nil
		}
	}

	r.seats = append(r.seats, c)
	r.srv.roomsChanged()

	if len(r.seats) == roomSeats {
		r.board = engine.NewBoard(r.kind)
		r.current = 0
		r.playing = true
		started := r.snapshot()
		for _, s := range r.seats {
			s.send(wire.EvtGameStarted, 0, started)
		}
		r.log.Info("game started")
	}
	return nil
}

func (r *room) leave(clientID string) {
	seat := -1
	for i, s := range r.seats {
		if s.id == clientID {
			seat = i
			break
		}
	}
	if seat < 0 {
		return
	}
	leaver := r.seats[seat]
	r.seats = append(r.seats[:seat:seat], r.seats[seat+1:]...)

	if r.playing && !r.finished {
		// Forfeit: the remaining seat wins with the board as it stands.
		r.finished = true
		r.playing = false
		if len(r.seats) > 0 {
			winner := r.seats[0].identity()
			r.broadcast(wire.EvtGameOver, wire.GameOver{Winner: &winner, FinalBoard: r.board})
			r.record(&winner, false)
		}
		r.log.Info("player left mid-game", zap.String("clientId", leaver.id))
	}

	r.srv.roomsChanged()
	if len(r.seats) == 0 {
		r.srv.removeRoom(r.id)
		r.cancel()
	}
}

func (r *room) move(from string, column int) {
	if !r.playing || r.finished {
		r.log.Info("move outside play, dropped", zap.String("clientId", from))
		return
	}
	if r.seats[r.current].id != from {
		r.log.Info("out-of-turn move dropped", zap.String("clientId", from))
		return
	}

	row, col, err := engine.Resolve(r.kind, r.board, column)
	if err != nil {
		r.log.Info("illegal move dropped", zap.Int("column", column), zap.Error(err))
		return
	}

	marker := seatMarker(r.current)
	r.board[row][col] = marker
	next := (r.current + 1) % len(r.seats)
	res := engine.Terminal(r.kind, r.board, row, col)
	if !res.Over {
		r.current = next
	}

	r.broadcast(wire.EvtMoveMade, wire.MoveMade{
		Row:          row,
		Column:       col,
		Marker:       marker,
		NextPlayerID: r.seats[r.current].id,
	})

	if res.Over {
		r.playing = false
		r.finished = true
		over := wire.GameOver{Draw: res.Winner == engine.Empty, FinalBoard: r.board}
		var winner *wire.PlayerIdentity
		if res.Winner != engine.Empty {
			w := r.seats[r.current].identity()
			winner = &w
			over.Winner = winner
		}
		r.broadcast(wire.EvtGameOver, over)
		r.record(winner, over.Draw)
		r.srv.roomsChanged()
	}
}

func (r *room) resync(from string) {
	if !r.playing {
		return
	}
	for _, s := range r.seats {
		if s.id == from {
			s.send(wire.EvtGameStarted, 0, r.snapshot())
			return
		}
	}
}

func (r *room) snapshot() wire.GameStarted {
	players := make([]wire.PlayerIdentity, len(r.seats))
	for i, s := range r.seats {
		players[i] = s.identity()
	}
	return wire.GameStarted{
		RoomID:        r.id,
		Players:       players,
		CurrentPlayer: r.seats[r.current].id,
		Board:         r.board.Clone(),
	}
}

func (r *room) summary() wire.RoomSummary {
	players := make([]wire.PlayerIdentity, len(r.seats))
	for i, s := range r.seats {
		players[i] = s.identity()
	}
	return wire.RoomSummary{
		RoomID:  r.id,
		Players: players,
		IsFull:  len(r.seats) >= roomSeats || r.finished,
	}
}

func (r *room) broadcast(event string, payload any) {
	for _, s := range r.seats {
		s.send(event, 0, payload)
	}
}

func (r *room) record(winner *wire.PlayerIdentity, draw bool) {
	if r.srv.store == nil {
		return
	}
	rec := MatchRecord{
		RoomID:     r.id,
		Kind:       string(r.kind),
		Draw:       draw,
		FinishedAt: time.Now(),
	}
	if winner != nil {
		rec.WinnerName = winner.DisplayName
	}
	go func() {
		if err := r.srv.store.RecordMatch(rec); err != nil {
			r.log.Warn("match record failed", zap.Error(err))
		}
	}()
}

func seatMarker(seat int) engine.Cell {
	if seat == 0 {
		return engine.MarkerA
	}
	return engine.MarkerB
}
