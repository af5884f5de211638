// Package match maintains the local mirror of one active online match.
// The mirror only advances by replaying authoritative server events; the
// move-submission path never writes the board, it requests a move and
// waits for the echo.
package match

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/casualhall/gameroom/internal/channel"
	"github.com/casualhall/gameroom/internal/engine"
	"github.com/casualhall/gameroom/pkg/wire"
)

type Status string

const (
	StatusWaiting  Status = "waiting"
	StatusPlaying  Status = "playing"
	StatusFinished Status = "finished"
)

// Terminal is the immutable outcome recorded on game-over. Winner nil
// means a draw.
type Terminal struct {
	Winner *wire.PlayerIdentity
	Board  engine.Board
}

// View is a race-free snapshot of the mirror, for screens and tests.
type View struct {
	RoomID  string
	Status  Status
	Players []wire.PlayerIdentity
	Current int
	Board   engine.Board
	Marker  engine.Cell
	Result  *Terminal
}

// Conn is the slice of the session channel the match needs.
type Conn interface {
	Emit(ctx context.Context, event string, payload any) error
	On(event string, fn func(json.RawMessage)) func()
	OnStateChange(fn func(channel.ConnState)) func()
	Identity() wire.PlayerIdentity
}

// Lifecycle receives the playing transition and seat-assignment failures.
// *session.Session satisfies it.
type Lifecycle interface {
	MarkPlaying(roomID string)
	SetErr(msg string)
}

type msg interface{ isMatchMsg() }

type evtStarted struct{ p wire.GameStarted }
type evtMove struct{ p wire.MoveMade }
type evtOver struct{ p wire.GameOver }
type submit struct{ target int }
type reset struct{}
type resync struct{}
type getView struct{ reply chan View }
type watch struct {
	id  string
	out chan View
}
type unwatch struct{ id string }

func (evtStarted) isMatchMsg() {}
func (evtMove) isMatchMsg()    {}
func (evtOver) isMatchMsg()    {}
func (submit) isMatchMsg()     {}
func (reset) isMatchMsg()      {}
func (resync) isMatchMsg()     {}
func (getView) isMatchMsg()    {}
func (watch) isMatchMsg()      {}
func (unwatch) isMatchMsg()    {}

type Match struct {
	conn   Conn
	life   Lifecycle
	kind   engine.Kind
	roomID string
	log    *zap.Logger

	inbox  chan msg
	ctx    context.Context
	cancel context.CancelFunc
	offs   []func()

	// Owned by the loop goroutine, never touched outside it.
	status   Status
	players  []wire.PlayerIdentity
	current  int
	board    engine.Board
	marker   engine.Cell
	result   *Terminal
	watchers map[string]chan View
}

// New starts the state machine for one room. life may be nil.
func New(parent context.Context, conn Conn, life Lifecycle, kind engine.Kind, roomID string, log *zap.Logger) *Match {
	ctx, cancel := context.WithCancel(parent)
	m := &Match{
		conn:     conn,
		life:     life,
		kind:     kind,
		roomID:   roomID,
		log:      log,
		inbox:    make(chan msg, 64),
		ctx:      ctx,
		cancel:   cancel,
		status:   StatusWaiting,
		current:  -1,
		watchers: make(map[string]chan View),
	}

	m.offs = append(m.offs,
		conn.On(wire.EvtGameStarted, decodeInto(m, log, func(p wire.GameStarted) msg { return evtStarted{p} })),
		conn.On(wire.EvtMoveMade, decodeInto(m, log, func(p wire.MoveMade) msg { return evtMove{p} })),
		conn.On(wire.EvtGameOver, decodeInto(m, log, func(p wire.GameOver) msg { return evtOver{p} })),
		conn.OnStateChange(func(s channel.ConnState) {
			if s == channel.Connected {
				m.post(resync{})
			}
		}),
	)

	go m.loop()
	return m
}

func decodeInto[T any](m *Match, log *zap.Logger, wrap func(T) msg) func(json.RawMessage) {
	return func(raw json.RawMessage) {
		var p T
		if err := json.Unmarshal(raw, &p); err != nil {
			log.Error("malformed event payload", zap.Error(err))
			return
		}
		m.post(wrap(p))
	}
}

func (m *Match) post(v msg) {
	select {
	case m.inbox <- v:
	case <-m.ctx.Done():
	}
}

// SubmitMove requests a move at the target column. Gated inside the loop
// by turn ownership; out-of-turn requests are dropped with a log line.
func (m *Match) SubmitMove(target int) { m.post(submit{target: target}) }

// Reset discards the room and board mirror, returning to the pre-start
// waiting state. The terminal result does not survive a reset.
func (m *Match) Reset() { m.post(reset{}) }

// View blocks for a consistent snapshot.
func (m *Match) View() View {
	reply := make(chan View, 1)
	select {
	case m.inbox <- getView{reply: reply}:
	case <-m.ctx.Done():
		return View{}
	}
	select {
	case v := <-reply:
		return v
	case <-m.ctx.Done():
		return View{}
	}
}

// Watch registers a snapshot outbox. A watcher that falls behind is
// dropped, its channel closed.
func (m *Match) Watch(id string, out chan View) { m.post(watch{id: id, out: out}) }

func (m *Match) Unwatch(id string) { m.post(unwatch{id: id}) }

// Close deregisters every handler so events arriving after teardown can
// never write to a discarded screen.
func (m *Match) Close() {
	for _, off := range m.offs {
		off()
	}
	m.cancel()
}

func (m *Match) loop() {
	for {
		select {
		case <-m.ctx.Done():
			for id, ch := range m.watchers {
				close(ch)
				delete(m.watchers, id)
			}
			return

		case v := <-m.inbox:
			switch t := v.(type) {
			case evtStarted:
				m.applyStarted(t.p)
			case evtMove:
				m.applyMove(t.p)
			case evtOver:
				m.applyOver(t.p)
			case submit:
				m.applySubmit(t.target)
			case reset:
				m.applyReset()
			case resync:
				m.applyResync()
			case getView:
				t.reply <- m.view()
			case watch:
				m.watchers[t.id] = t.out
				select {
				case t.out <- m.view():
				default:
				}
			case unwatch:
				delete(m.watchers, t.id)
			}
		}
	}
}

func (m *Match) applyStarted(p wire.GameStarted) {
	if p.RoomID != m.roomID {
		return
	}

	me := m.conn.Identity().ConnectionID
	seat := indexOf(p.Players, me)
	if seat < 0 {
		// The local identity must hold a seat; defaulting a marker here
		// would let two clients both play the same side.
		m.log.Error("local identity missing from players list",
			zap.String("roomId", p.RoomID), zap.String("connectionId", me))
		if m.life != nil {
			m.life.SetErr("seat unassigned")
		}
		return
	}

	m.players = append([]wire.PlayerIdentity(nil), p.Players...)
	m.current = indexOf(p.Players, p.CurrentPlayer)
	if m.current < 0 {
		m.log.Warn("current player not in players list, defaulting to seat 0")
		m.current = 0
	}
	if p.Board != nil {
		m.board = p.Board.Clone()
	} else {
		m.board = engine.NewBoard(m.kind)
	}
	if seat == 0 {
		m.marker = engine.MarkerA
	} else {
		m.marker = engine.MarkerB
	}
	m.result = nil
	m.status = StatusPlaying
	if m.life != nil {
		m.life.MarkPlaying(m.roomID)
	}
	m.broadcast()
}

func (m *Match) applyMove(p wire.MoveMade) {
	if m.status != StatusPlaying {
		m.log.Debug("move-made outside playing state, ignored")
		return
	}
	if !m.board.InBounds(p.Row, p.Column) {
		m.log.Error("move-made out of bounds",
			zap.Int("row", p.Row), zap.Int("column", p.Column))
		return
	}

	// The index is authoritative; never recompute the drop position here.
	m.board[p.Row][p.Column] = p.Marker
	next := indexOf(m.players, p.NextPlayerID)
	if next < 0 {
		m.log.Warn("next player not in players list, keeping turn pointer",
			zap.String("nextPlayerId", p.NextPlayerID))
	} else {
		m.current = next
	}
	m.broadcast()
}

func (m *Match) applyOver(p wire.GameOver) {
	if m.status == StatusFinished {
		return
	}
	if p.FinalBoard != nil {
		m.board = p.FinalBoard.Clone()
	}
	m.result = &Terminal{Winner: p.Winner, Board: m.board}
	m.status = StatusFinished
	m.broadcast()
}

func (m *Match) applySubmit(target int) {
	if m.status != StatusPlaying {
		m.log.Info("move dropped, match not in play", zap.Int("target", target))
		return
	}
	me := m.conn.Identity().ConnectionID
	if m.current < 0 || m.current >= len(m.players) || m.players[m.current].ConnectionID != me {
		m.log.Info("move dropped, not this player's turn", zap.Int("target", target))
		return
	}

	if err := m.conn.Emit(m.ctx, wire.CmdMove, wire.Move{RoomID: m.roomID, Column: target}); err != nil {
		m.log.Warn("move submission failed", zap.Error(err))
	}
}

func (m *Match) applyReset() {
	m.players = nil
	m.current = -1
	m.board = nil
	m.result = nil
	m.status = StatusWaiting
	m.broadcast()
}

// applyResync runs after a reconnect. Mid-match the server is asked for a
// fresh snapshot, which arrives as a game-started broadcast.
func (m *Match) applyResync() {
	if m.status != StatusPlaying {
		return
	}
	if err := m.conn.Emit(m.ctx, wire.CmdResyncRoom, wire.ResyncRoom{RoomID: m.roomID}); err != nil {
		m.log.Warn("resync request failed", zap.Error(err))
	}
}

func (m *Match) view() View {
	v := View{
		RoomID:  m.roomID,
		Status:  m.status,
		Players: append([]wire.PlayerIdentity(nil), m.players...),
		Current: m.current,
		Marker:  m.marker,
	}
	if m.board != nil {
		v.Board = m.board.Clone()
	}
	if m.result != nil {
		r := *m.result
		r.Board = r.Board.Clone()
		v.Result = &r
	}
	return v
}

func (m *Match) broadcast() {
	v := m.view()
	for id, ch := range m.watchers {
		select {
		case ch <- v:
		default:
			close(ch)
			delete(m.watchers, id)
		}
	}
}

func indexOf(players []wire.PlayerIdentity, connectionID string) int {
	for i, p := range players {
		if p.ConnectionID == connectionID {
			return i
		}
	}
	return -1
}
