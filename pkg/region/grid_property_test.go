package region

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestGridTilingProperty verifies that any rows x cols grid tiles its screen.
// Property: union(bounds) == screen, pairwise interiors disjoint
func TestGridTilingProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("grid tiles the screen with no gaps or overlaps", prop.ForAll(
		func(rows, cols int, width, height float64) bool {
			g, err := Build(rows, cols, Screen(width, height))
			if err != nil {
				return false
			}
			return checkTiling(g)
		},
		gen.IntRange(1, 16),
		gen.IntRange(1, 16),
		gen.Float64Range(1, 8000),
		gen.Float64Range(1, 5000),
	))

	properties.Property("every on-screen point has exactly one owner", prop.ForAll(
		func(rows, cols int, fx, fy float64) bool {
			g, err := Build(rows, cols, Screen(1280, 720))
			if err != nil {
				return false
			}
			x, y := fx*1280, fy*720
			r, ok := g.Locate(x, y)
			if !ok || !r.Bounds.Contains(x, y) {
				return false
			}
			// Boundary points go to the smallest row/col, so no region with a
			// smaller id may also contain the point.
			for _, other := range g.Regions()[:r.ID] {
				if other.Bounds.Contains(x, y) {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 10),
		gen.IntRange(1, 10),
		gen.Float64Range(0, 1),
		gen.Float64Range(0, 1),
	))

	properties.TestingRun(t)
}
