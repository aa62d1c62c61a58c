package whiteboard

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pen(x float64) Stroke {
	return Stroke{Tool: ToolPen, Color: "#000", Width: 2, Points: []Point{{X: x, Y: x}}}
}

func TestBoardUndoRedo(t *testing.T) {
	b := NewBoard(uuid.New(), 0)
	now := time.Now()
	a, err := b.Add(pen(0.1), now)
	require.NoError(t, err)
	_, err = b.Add(pen(0.2), now)
	require.NoError(t, err)

	require.NoError(t, b.Undo())
	snap := b.Snapshot()
	require.Len(t, snap.Strokes, 1)
	assert.Equal(t, a.ID, snap.Strokes[0].ID)
	assert.True(t, snap.CanRedo)

	require.NoError(t, b.Redo())
	assert.Len(t, b.Snapshot().Strokes, 2)
	assert.ErrorIs(t, b.Redo(), ErrNothingToRedo)

	require.NoError(t, b.Undo())
	_, err = b.Add(pen(0.3), now)
	require.NoError(t, err)
	assert.False(t, b.Snapshot().CanRedo, "a new stroke clears redo")
	assert.ErrorIs(t, b.Redo(), ErrNothingToRedo)

	require.NoError(t, b.Undo())
	require.NoError(t, b.Undo())
	assert.ErrorIs(t, b.Undo(), ErrNothingToUndo)
	assert.Empty(t, b.Snapshot().Strokes)
}

func TestBoardClearIsUndoable(t *testing.T) {
	b := NewBoard(uuid.New(), 0)
	now := time.Now()
	for _, x := range []float64{0.1, 0.2, 0.3} {
		_, err := b.Add(pen(x), now)
		require.NoError(t, err)
	}
	v := b.Snapshot().Version

	b.Clear()
	assert.Empty(t, b.Snapshot().Strokes)
	assert.Greater(t, b.Snapshot().Version, v)

	require.NoError(t, b.Undo())
	assert.Len(t, b.Snapshot().Strokes, 3)
	require.NoError(t, b.Redo())
	assert.Empty(t, b.Snapshot().Strokes)
	require.NoError(t, b.Undo())
	assert.Len(t, b.Snapshot().Strokes, 3)

	empty := NewBoard(uuid.New(), 0)
	empty.Clear()
	assert.False(t, empty.Snapshot().CanUndo, "clearing an empty board records nothing")
}

func TestBoardLimitsAndValidation(t *testing.T) {
	b := NewBoard(uuid.New(), 2)
	now := time.Now()
	_, err := b.Add(pen(0.1), now)
	require.NoError(t, err)
	_, err = b.Add(pen(0.2), now)
	require.NoError(t, err)
	_, err = b.Add(pen(0.3), now)
	assert.ErrorIs(t, err, ErrBoardFull)

	invalid := []Stroke{
		{Tool: "spray", Points: []Point{{0, 0}}},
		{Tool: ToolPen},
		{Tool: ToolPen, Points: []Point{{X: 1.5, Y: 0}}},
		{Tool: ToolText, Points: []Point{{0, 0}}},
		{Tool: ToolShape, Shape: "rect", Points: []Point{{0, 0}}},
	}
	for _, s := range invalid {
		_, err := NewBoard(uuid.New(), 0).Add(s, now)
		assert.ErrorIs(t, err, ErrInvalidStroke, "%+v", s)
	}
	_, err = NewBoard(uuid.New(), 0).Add(Stroke{Tool: ToolShape, Shape: "rect", Points: []Point{{0, 0}, {1, 1}}}, now)
	assert.NoError(t, err)
}

func TestBoardRestoreDropsHistory(t *testing.T) {
	b := NewBoard(uuid.New(), 0)
	_, err := b.Add(pen(0.5), time.Now())
	require.NoError(t, err)
	snap := b.Snapshot()

	restored := NewBoard(snap.ClassroomID, 0)
	restored.Restore(snap)
	got := restored.Snapshot()
	assert.Equal(t, snap.Strokes, got.Strokes)
	assert.Equal(t, snap.Version, got.Version)
	assert.False(t, got.CanUndo)
}
