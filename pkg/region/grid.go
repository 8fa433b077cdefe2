// Package region partitions the screen into a grid of test target regions.
package region

import (
	"fmt"
	"math/rand"
	"sort"
)

// Rect is an axis-aligned rectangle in screen pixels.
type Rect struct {
	MinX float64 `json:"min_x"`
	MinY float64 `json:"min_y"`
	MaxX float64 `json:"max_x"`
	MaxY float64 `json:"max_y"`
}

// Screen returns the rectangle for a width x height screen at the origin.
func Screen(width, height float64) Rect {
	return Rect{MaxX: width, MaxY: height}
}

// Width returns the horizontal extent.
func (r Rect) Width() float64 { return r.MaxX - r.MinX }

// Height returns the vertical extent.
func (r Rect) Height() float64 { return r.MaxY - r.MinY }

// Area returns Width*Height.
func (r Rect) Area() float64 { return r.Width() * r.Height() }

// Empty reports whether the rectangle has no area.
func (r Rect) Empty() bool { return r.Width() <= 0 || r.Height() <= 0 }

// Contains reports whether (x, y) lies inside the closed rectangle.
func (r Rect) Contains(x, y float64) bool {
	return x >= r.MinX && x <= r.MaxX && y >= r.MinY && y <= r.MaxY
}

// Center returns the centre point.
func (r Rect) Center() (x, y float64) {
	return (r.MinX + r.MaxX) / 2, (r.MinY + r.MaxY) / 2
}

// Region is one tile of the screen partition.
type Region struct {
	ID     int    `json:"id"`
	Row    int    `json:"row"`
	Col    int    `json:"col"`
	Name   string `json:"name"`
	Bounds Rect   `json:"bounds"`
}

// Center returns the centre of the region, used as the calibration target.
func (r Region) Center() (x, y float64) {
	return r.Bounds.Center()
}

// Grid is an immutable rows x cols partition of a screen rectangle.
// Safe for concurrent reads.
type Grid struct {
	rows, cols int
	screen     Rect
	xEdges     []float64 // cols+1 column boundaries
	yEdges     []float64 // rows+1 row boundaries
	regions    []Region
}

// Build partitions screen into rows*cols equal-area cells in row-major order
// with sequential ids starting at 0.
func Build(rows, cols int, screen Rect) (*Grid, error) {
	if rows < 1 || cols < 1 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidGrid, rows, cols)
	}
	if screen.Empty() {
		return nil, fmt.Errorf("%w: empty screen %+v", ErrInvalidGrid, screen)
	}

	g := &Grid{
		rows:    rows,
		cols:    cols,
		screen:  screen,
		xEdges:  edges(screen.MinX, screen.MaxX, cols),
		yEdges:  edges(screen.MinY, screen.MaxY, rows),
		regions: make([]Region, 0, rows*cols),
	}

	for row := 0; row < rows; row++ {
		for col := 0; col < cols; col++ {
			g.regions = append(g.regions, Region{
				ID:   row*cols + col,
				Row:  row,
				Col:  col,
				Name: fmt.Sprintf("R%dC%d", row+1, col+1),
				Bounds: Rect{
					MinX: g.xEdges[col],
					MinY: g.yEdges[row],
					MaxX: g.xEdges[col+1],
					MaxY: g.yEdges[row+1],
				},
			})
		}
	}

	return g, nil
}

// edges splits [lo, hi] into n equal spans. Neighbouring cells share the
// exact same boundary value and the last edge is exactly hi.
func edges(lo, hi float64, n int) []float64 {
	e := make([]float64, n+1)
	span := hi - lo
	for i := 0; i < n; i++ {
		e[i] = lo + span*float64(i)/float64(n)
	}
	e[n] = hi
	return e
}

// Locate returns the region containing (x, y). A point on a shared boundary
// belongs to the region with the smaller row/col index. Points outside the
// grid return false.
func (g *Grid) Locate(x, y float64) (Region, bool) {
	if !g.screen.Contains(x, y) {
		return Region{}, false
	}
	col := sort.SearchFloat64s(g.xEdges[1:], x)
	row := sort.SearchFloat64s(g.yEdges[1:], y)
	return g.regions[row*g.cols+col], true
}

// Region returns the region with the given id.
func (g *Grid) Region(id int) (Region, bool) {
	if id < 0 || id >= len(g.regions) {
		return Region{}, false
	}
	return g.regions[id], true
}

// Has reports whether id names a region in the grid.
func (g *Grid) Has(id int) bool {
	return id >= 0 && id < len(g.regions)
}

// Regions returns a copy of all regions in id order.
func (g *Grid) Regions() []Region {
	out := make([]Region, len(g.regions))
	copy(out, g.regions)
	return out
}

// Rows returns the number of grid rows.
func (g *Grid) Rows() int { return g.rows }

// Cols returns the number of grid columns.
func (g *Grid) Cols() int { return g.cols }

// Len returns rows*cols.
func (g *Grid) Len() int { return len(g.regions) }

// Bounds returns the screen rectangle the grid tiles.
func (g *Grid) Bounds() Rect { return g.screen }

// Sample draws n distinct region ids in random order. n is clamped to the
// number of regions.
func (g *Grid) Sample(n int, rng *rand.Rand) []int {
	if n > len(g.regions) {
		n = len(g.regions)
	}
	if n <= 0 {
		return nil
	}
	return rng.Perm(len(g.regions))[:n]
}
