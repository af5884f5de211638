// Package localgame is the single-device variant: same apply-and-detect
// routine as the online mirror, but the authoritative index is computed
// locally and turns strictly alternate between the two seats at the
// screen.
package localgame

import (
	"sync"

	"github.com/casualhall/gameroom/internal/engine"
)

type Game struct {
	mu    sync.Mutex
	kind  engine.Kind
	state engine.State
}

func New(kind engine.Kind) *Game {
	return &Game{kind: kind, state: engine.NewState(kind)}
}

// Placement reports where a move landed and what it did to the game.
type Placement struct {
	Row, Col int
	Marker   engine.Cell
	Result   engine.Result
}

// Play applies the current mover's move at target (a column for the
// column-drop game, a flat cell index for the 3x3 game).
func (g *Game) Play(target int) (Placement, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	row, col, err := engine.Resolve(g.kind, g.state.Board, target)
	if err != nil {
		return Placement{}, err
	}
	mover := g.state.Turn

	next, err := engine.Apply(g.state, target)
	if err != nil {
		return Placement{}, err
	}
	g.state = next

	return Placement{Row: row, Col: col, Marker: mover, Result: next.Result}, nil
}

func (g *Game) Board() engine.Board {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state.Board.Clone()
}

func (g *Game) Turn() engine.Cell {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state.Turn
}

func (g *Game) Result() engine.Result {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state.Result
}

// Reset discards the board and starts over with marker A to move.
func (g *Game) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state = engine.NewState(g.kind)
}
