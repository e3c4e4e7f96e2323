package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTileDeterministic(t *testing.T) {
	a := Tile(4, 20, 1000, 0.25, 1, 42)
	b := Tile(4, 20, 1000, 0.25, 1, 42)

	assert.Equal(t, a, b)
}

func TestTileSeedChangesPlacement(t *testing.T) {
	a := Tile(6, 50, 2000, 0.2, 1, 1)
	b := Tile(6, 50, 2000, 0.2, 1, 2)

	assert.NotEqual(t, a, b)
}

func TestTileWithinBounds(t *testing.T) {
	const (
		cells      = 20
		timepoints = 1000
	)

	rects := Tile(4, cells, timepoints, 0.25, 1, 7)
	require.Len(t, rects, 4)

	for _, r := range rects {
		assert.GreaterOrEqual(t, r.CellStart, 0)
		assert.LessOrEqual(t, r.CellEnd, cells)
		assert.GreaterOrEqual(t, r.TimeStart, 0)
		assert.LessOrEqual(t, r.TimeEnd, timepoints)
		assert.Greater(t, r.Cells(), 0)
		assert.Greater(t, r.Timepoints(), 0)
	}
}

func TestTileCoverageScalesArea(t *testing.T) {
	small := Tile(1, 100, 1000, 0.1, 1, 3)[0]
	large := Tile(1, 100, 1000, 0.5, 1, 3)[0]

	assert.Greater(t, large.Cells()*large.Timepoints(), small.Cells()*small.Timepoints())
}

func TestTileDegenerateInputs(t *testing.T) {
	assert.Nil(t, Tile(0, 10, 100, 0.25, 1, 1))
	assert.Nil(t, Tile(4, 0, 100, 0.25, 1, 1))
	assert.Nil(t, Tile(4, 10, 0, 0.25, 1, 1))

	// A single cell still tiles.
	rects := Tile(2, 1, 100, 0.5, 1, 1)
	require.Len(t, rects, 2)
	for _, r := range rects {
		assert.Equal(t, 1, r.Cells())
	}
}
