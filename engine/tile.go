package engine

import "math"

// Rectangle is a half-open (cell, time) window into the dataset.
type Rectangle struct {
	CellStart, CellEnd int
	TimeStart, TimeEnd int
}

// Cells returns the number of cells covered by the window.
func (r Rectangle) Cells() int { return r.CellEnd - r.CellStart }

// Timepoints returns the number of samples covered by the window.
func (r Rectangle) Timepoints() int { return r.TimeEnd - r.TimeStart }

// Numerical Recipes LCG constants; the generator only jitters tile origins,
// so period quality is irrelevant but cross-platform determinism is not.
const (
	lcgMultiplier = 1664525
	lcgIncrement  = 1013904223
)

type lcg struct{ state uint32 }

func (l *lcg) next() float64 {
	l.state = l.state*lcgMultiplier + lcgIncrement

	return float64(l.state) / (1 << 32)
}

// Tile places k subset windows over a cells x timepoints dataset. Each
// window covers roughly the coverage fraction of the total area, shaped by
// the aspect ratio, and is jittered inside a regular grid slot by a seeded
// generator. The same arguments always produce the same rectangles.
func Tile(k, cells, timepoints int, coverage, aspect float64, seed uint32) []Rectangle {
	if k <= 0 || cells <= 0 || timepoints <= 0 {
		return nil
	}
	if coverage <= 0 || coverage > 1 {
		coverage = 0.25
	}
	if aspect <= 0 {
		aspect = 1
	}

	area := coverage * float64(cells) * float64(timepoints)

	// Aspect 1 keeps the window proportional to the dataset shape.
	rectCells := clampInt(int(math.Round(math.Sqrt(area*aspect*float64(cells)/float64(timepoints)))), 1, cells)
	rectTime := clampInt(int(math.Round(area/float64(rectCells))), 1, timepoints)

	gridCols := int(math.Ceil(math.Sqrt(float64(k))))
	gridRows := (k + gridCols - 1) / gridCols
	slotCells := float64(cells) / float64(gridRows)
	slotTime := float64(timepoints) / float64(gridCols)

	rng := &lcg{state: seed}
	rects := make([]Rectangle, 0, k)

	for i := 0; i < k; i++ {
		row := i / gridCols
		col := i % gridCols

		jc := rng.next()
		jt := rng.next()

		roomC := math.Max(slotCells-float64(rectCells), 0)
		roomT := math.Max(slotTime-float64(rectTime), 0)

		c0 := clampInt(int(math.Round(float64(row)*slotCells+jc*roomC)), 0, cells-rectCells)
		t0 := clampInt(int(math.Round(float64(col)*slotTime+jt*roomT)), 0, timepoints-rectTime)

		rects = append(rects, Rectangle{
			CellStart: c0,
			CellEnd:   c0 + rectCells,
			TimeStart: t0,
			TimeEnd:   t0 + rectTime,
		})
	}

	return rects
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}

	return v
}
