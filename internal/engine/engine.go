package engine

import "errors"

var ErrGameFinished = errors.New("game already finished")
var ErrBadTarget = errors.New("move target out of range")
var ErrColumnFull = errors.New("column full")
var ErrCellTaken = errors.New("cell already taken")

// Result of evaluating a board after a placement. Winner == Empty with
// Over == true means a draw.
type Result struct {
	Over   bool
	Winner Cell
}

// State is the full local-authority game state. Apply returns a new State
// rather than mutating the receiver so callers can keep prior snapshots.
type State struct {
	Kind   Kind
	Board  Board
	Turn   Cell
	Result Result
}

func NewState(k Kind) State {
	return State{Kind: k, Board: NewBoard(k), Turn: MarkerA}
}

// Resolve maps a move target to the cell it would occupy, without placing
// anything. For the column-drop game the target is a column and the row is
// found by gravity; for the 3x3 game the target is a flat cell index.
func Resolve(k Kind, b Board, target int) (row, col int, err error) {
	switch k {
	case TicTacToe:
		if target < 0 || target >= b.Rows()*b.Cols() {
			return 0, 0, ErrBadTarget
		}
		row, col = target/b.Cols(), target%b.Cols()
		if b[row][col] != Empty {
			return 0, 0, ErrCellTaken
		}
		return row, col, nil
	default:
		if target < 0 || target >= b.Cols() {
			return 0, 0, ErrBadTarget
		}
		for r := b.Rows() - 1; r >= 0; r-- {
			if b[r][target] == Empty {
				return r, target, nil
			}
		}
		return 0, 0, ErrColumnFull
	}
}

// Apply places the current mover's marker at the resolved target, evaluates
// the terminal state, and alternates the turn. Strict alternation: whoever
// holds s.Turn is the mover, there is no seat concept here.
func Apply(s State, target int) (State, error) {
	if s.Result.Over {
		return s, ErrGameFinished
	}

	row, col, err := Resolve(s.Kind, s.Board, target)
	if err != nil {
		return s, err
	}

	next := s
	next.Board = s.Board.Clone()
	next.Board[row][col] = s.Turn
	next.Result = Terminal(s.Kind, next.Board, row, col)
	if !next.Result.Over {
		next.Turn = s.Turn.Other()
	}
	return next, nil
}

// Terminal evaluates the board after a placement at (row, col).
func Terminal(k Kind, b Board, row, col int) Result {
	switch k {
	case TicTacToe:
		if winner, ok := lineWin(b); ok {
			return Result{Over: true, Winner: winner}
		}
	default:
		if winAt(b, row, col, 4) {
			return Result{Over: true, Winner: b[row][col]}
		}
	}
	if b.Full() {
		return Result{Over: true}
	}
	return Result{}
}

// The four axes: horizontal, vertical, diagonal down, diagonal up.
var scanDirs = [4][2]int{{0, 1}, {1, 0}, {1, 1}, {1, -1}}

// winAt reports whether the marker at (row, col) completes a run of at
// least winLen. Counts contiguous same-marker cells extending forward and
// backward along each axis from the placed cell.
func winAt(b Board, row, col, winLen int) bool {
	mark := b[row][col]
	if mark == Empty {
		return false
	}

	for _, d := range scanDirs {
		count := 1

		r, c := row+d[0], col+d[1]
		for b.InBounds(r, c) && b[r][c] == mark {
			count++
			r += d[0]
			c += d[1]
		}

		r, c = row-d[0], col-d[1]
		for b.InBounds(r, c) && b[r][c] == mark {
			count++
			r -= d[0]
			c -= d[1]
		}

		if count >= winLen {
			return true
		}
	}
	return false
}

// The eight winning triples of the 3x3 grid, as flat cell indexes.
var gridLines = [8][3]int{
	{0, 1, 2}, {3, 4, 5}, {6, 7, 8},
	{0, 3, 6}, {1, 4, 7}, {2, 5, 8},
	{0, 4, 8}, {2, 4, 6},
}

func lineWin(b Board) (Cell, bool) {
	cols := b.Cols()
	for _, line := range gridLines {
		a := b[line[0]/cols][line[0]%cols]
		if a == Empty {
			continue
		}
		if a == b[line[1]/cols][line[1]%cols] && a == b[line[2]/cols][line[2]%cols] {
			return a, true
		}
	}
	return Empty, false
}
