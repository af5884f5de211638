package engine

type Cell uint8

const (
	Empty Cell = iota
	MarkerA
	MarkerB
)

func (c Cell) String() string {
	switch c {
	case MarkerA:
		return "A"
	case MarkerB:
		return "B"
	default:
		return "."
	}
}

// Other returns the opposing marker. Empty maps to itself.
func (c Cell) Other() Cell {
	switch c {
	case MarkerA:
		return MarkerB
	case MarkerB:
		return MarkerA
	default:
		return Empty
	}
}

type Kind string

const (
	ConnectFour Kind = "connect4"
	TicTacToe   Kind = "tictactoe"
)

func (k Kind) Dims() (rows, cols int) {
	switch k {
	case TicTacToe:
		return 3, 3
	default:
		return 6, 7
	}
}

// Board is row-major; row 0 is the top row for the column-drop game.
type Board [][]Cell

func NewBoard(k Kind) Board {
	rows, cols := k.Dims()
	b := make(Board, rows)
	for r := range b {
		b[r] = make([]Cell, cols)
	}
	return b
}

func (b Board) Rows() int { return len(b) }

func (b Board) Cols() int {
	if len(b) == 0 {
		return 0
	}
	return len(b[0])
}

func (b Board) InBounds(row, col int) bool {
	return row >= 0 && row < b.Rows() && col >= 0 && col < b.Cols()
}

func (b Board) Clone() Board {
	out := make(Board, len(b))
	for r := range b {
		out[r] = make([]Cell, len(b[r]))
		copy(out[r], b[r])
	}
	return out
}

func (b Board) Full() bool {
	for _, row := range b {
		for _, c := range row {
			if c == Empty {
				return false
			}
		}
	}
	return true
}
