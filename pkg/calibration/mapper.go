// Package calibration fits the mapping from raw gaze-estimator output to
// screen coordinates.
package calibration

import (
	"fmt"
	"math"

	"github.com/teslashibe/go-eyetouch/pkg/region"
)

// MinAffinePoints is the fewest points an affine fit can use.
const MinAffinePoints = 3

// Point is one correspondence captured while the user looks at a region.
type Point struct {
	TargetRegionID int     `json:"target_region_id"`
	RawX           float64 `json:"raw_x"`
	RawY           float64 `json:"raw_y"`
}

// Transform is an affine map:
//
//	x' = A*x + B*y + C
//	y' = D*x + E*y + F
type Transform struct {
	A, B, C float64
	D, E, F float64
}

// Identity returns the transform that leaves points unchanged.
func Identity() Transform {
	return Transform{A: 1, E: 1}
}

// Apply maps a raw point to screen space.
func (t Transform) Apply(x, y float64) (float64, float64) {
	return t.A*x + t.B*y + t.C, t.D*x + t.E*y + t.F
}

// Mapper accumulates calibration points and owns the fitted transform.
// It is mutated only from the engine's ingestion path; the fitted Transform
// is a value and may be read concurrently once copied out.
type Mapper struct {
	grid      *region.Grid
	minPoints int

	points    []Point
	transform Transform
	fitted    bool
	residual  float64
}

// NewMapper creates a mapper for the grid that fits once minPoints points
// are collected. Callers validate minPoints >= MinAffinePoints; below that
// the fit is always degenerate.
func NewMapper(grid *region.Grid, minPoints int) *Mapper {
	return &Mapper{
		grid:      grid,
		minPoints: minPoints,
		transform: Identity(),
	}
}

// Collect adds one correspondence.
func (m *Mapper) Collect(p Point) error {
	if !m.grid.Has(p.TargetRegionID) {
		return fmt.Errorf("%w: %d", ErrUnknownRegion, p.TargetRegionID)
	}
	if math.IsNaN(p.RawX) || math.IsNaN(p.RawY) || math.IsInf(p.RawX, 0) || math.IsInf(p.RawY, 0) {
		return fmt.Errorf("calibration: raw point (%v, %v) is not finite", p.RawX, p.RawY)
	}
	m.points = append(m.points, p)
	return nil
}

// Fit computes the least-squares affine transform from raw coordinates to the
// centres of the target regions. On success the collected points are
// discarded and the transform is retained until Reset.
func (m *Mapper) Fit() (Transform, error) {
	if len(m.points) < m.minPoints {
		return Transform{}, &InsufficientDataError{Have: len(m.points), Need: m.minPoints}
	}

	t, err := fitAffine(m.points, m.grid)
	if err != nil {
		return Transform{}, err
	}

	m.residual = Residual(t, m.points, m.grid)
	m.transform = t
	m.fitted = true
	m.points = nil
	return t, nil
}

// Apply maps a raw gaze point to screen space. Before any fit it is the
// identity.
func (m *Mapper) Apply(x, y float64) (float64, float64) {
	return m.transform.Apply(x, y)
}

// Reset discards the fitted transform and all collected points.
func (m *Mapper) Reset() {
	m.points = nil
	m.transform = Identity()
	m.fitted = false
	m.residual = 0
}

// Fitted reports whether a transform has been fitted.
func (m *Mapper) Fitted() bool { return m.fitted }

// Transform returns the current transform and whether it was fitted.
func (m *Mapper) Transform() (Transform, bool) { return m.transform, m.fitted }

// Collected returns the number of points gathered since the last Reset or Fit.
func (m *Mapper) Collected() int { return len(m.points) }

// MinPoints returns the configured minimum.
func (m *Mapper) MinPoints() int { return m.minPoints }

// Residual returns the RMS error in pixels of the last fit.
func (m *Mapper) Residual() float64 { return m.residual }

// fitAffine solves each output axis independently on mean-centred inputs,
// which keeps the normal equations well conditioned for pixel-scale values.
func fitAffine(points []Point, grid *region.Grid) (Transform, error) {
	n := float64(len(points))

	var mx, my, msx, msy float64
	for _, p := range points {
		sx, sy := target(p, grid)
		mx += p.RawX
		my += p.RawY
		msx += sx
		msy += sy
	}
	mx, my, msx, msy = mx/n, my/n, msx/n, msy/n

	var suu, svv, suv, sux, svx, suy, svy float64
	for _, p := range points {
		sx, sy := target(p, grid)
		u, v := p.RawX-mx, p.RawY-my
		dx, dy := sx-msx, sy-msy
		suu += u * u
		svv += v * v
		suv += u * v
		sux += u * dx
		svx += v * dx
		suy += u * dy
		svy += v * dy
	}

	det := suu*svv - suv*suv
	if suu == 0 || svv == 0 || det <= 1e-9*suu*svv {
		return Transform{}, ErrDegenerateCalibration
	}

	a := (sux*svv - svx*suv) / det
	b := (svx*suu - sux*suv) / det
	d := (suy*svv - svy*suv) / det
	e := (svy*suu - suy*suv) / det

	return Transform{
		A: a, B: b, C: msx - a*mx - b*my,
		D: d, E: e, F: msy - d*mx - e*my,
	}, nil
}

func target(p Point, grid *region.Grid) (float64, float64) {
	r, _ := grid.Region(p.TargetRegionID)
	return r.Center()
}

// Residual returns the RMS distance between mapped raw points and their
// target region centres.
func Residual(t Transform, points []Point, grid *region.Grid) float64 {
	if len(points) == 0 {
		return 0
	}
	var sum float64
	for _, p := range points {
		x, y := t.Apply(p.RawX, p.RawY)
		tx, ty := target(p, grid)
		sum += (x-tx)*(x-tx) + (y-ty)*(y-ty)
	}
	return math.Sqrt(sum / float64(len(points)))
}
