package localgame

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/casualhall/gameroom/internal/engine"
)

func TestPlay_AlternatesAndReportsPlacement(t *testing.T) {
	g := New(engine.ConnectFour)
	require.Equal(t, engine.MarkerA, g.Turn())

	p, err := g.Play(3)
	require.NoError(t, err)
	require.Equal(t, 5, p.Row)
	require.Equal(t, 3, p.Col)
	require.Equal(t, engine.MarkerA, p.Marker)
	require.False(t, p.Result.Over)
	require.Equal(t, engine.MarkerB, g.Turn())

	p, err = g.Play(3)
	require.NoError(t, err)
	require.Equal(t, 4, p.Row, "second drop stacks on the first")
	require.Equal(t, engine.MarkerB, p.Marker)
}

func TestPlay_WinEndsGame(t *testing.T) {
	g := New(engine.ConnectFour)
	// A at columns 0..3, B parked on 6.
	for _, col := range []int{0, 6, 1, 6, 2, 6} {
		_, err := g.Play(col)
		require.NoError(t, err)
	}
	p, err := g.Play(3)
	require.NoError(t, err)
	require.True(t, p.Result.Over)
	require.Equal(t, engine.MarkerA, p.Result.Winner)

	_, err = g.Play(5)
	require.ErrorIs(t, err, engine.ErrGameFinished)
}

func TestPlay_TicTacToeDraw(t *testing.T) {
	g := New(engine.TicTacToe)
	for _, cell := range []int{0, 2, 1, 3, 5, 4, 6, 7} {
		p, err := g.Play(cell)
		require.NoError(t, err)
		require.False(t, p.Result.Over)
	}
	p, err := g.Play(8)
	require.NoError(t, err)
	require.True(t, p.Result.Over)
	require.Equal(t, engine.Empty, p.Result.Winner)
}

func TestPlay_RejectsIllegalTargets(t *testing.T) {
	g := New(engine.TicTacToe)
	_, err := g.Play(4)
	require.NoError(t, err)
	_, err = g.Play(4)
	require.ErrorIs(t, err, engine.ErrCellTaken)
	_, err = g.Play(9)
	require.ErrorIs(t, err, engine.ErrBadTarget)
}

func TestReset_StartsOver(t *testing.T) {
	g := New(engine.ConnectFour)
	_, err := g.Play(0)
	require.NoError(t, err)

	g.Reset()
	require.Equal(t, engine.MarkerA, g.Turn())
	require.Equal(t, engine.Empty, g.Board()[5][0])
	require.False(t, g.Result().Over)
}
