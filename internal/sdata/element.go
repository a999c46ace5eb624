package sdata

import (
	"fmt"

	"github.com/paulmach/orb"

	"github.com/spatialbridge/server/internal/transform"
)

// Grid is a channel-first raster: Pix holds C*H*W values in (c, y, x) order.
type Grid struct {
	C, H, W int
	Pix     []float64
}

// At returns the value at (channel, row, col).
func (g *Grid) At(c, y, x int) float64 {
	return g.Pix[(c*g.H+y)*g.W+x]
}

// Raster is a possibly multi-resolution raster. Pyramid[0] is the full
// resolution level; later entries are progressively downscaled.
type Raster struct {
	Pyramid []*Grid
}

// Root returns the full-resolution level.
func (r *Raster) Root() *Grid {
	if len(r.Pyramid) == 0 {
		return nil
	}
	return r.Pyramid[0]
}

// Multiscale reports whether the raster carries more than one pyramid level.
func (r *Raster) Multiscale() bool { return len(r.Pyramid) > 1 }

// PointCloud is a point element: per-point coordinates in (x, y) order plus
// an attribute table with one row per point.
type PointCloud struct {
	X, Y       []float64
	Attributes *Table
}

// Len returns the point count.
func (p *PointCloud) Len() int { return len(p.X) }

// ShapeSet is a shape element: either a polygon set (Geoms holds Polygon or
// MultiPolygon geometries) or a circle set (Centers plus Radii). The two
// representations are mutually exclusive.
type ShapeSet struct {
	Geoms []orb.Geometry

	Centers []orb.Point
	Radii   []float64
}

// IsCircles reports whether the set holds circles rather than polygons.
func (s *ShapeSet) IsCircles() bool { return len(s.Radii) > 0 }

// Len returns the shape count.
func (s *ShapeSet) Len() int {
	if s.IsCircles() {
		return len(s.Centers)
	}
	return len(s.Geoms)
}

// Element is one named unit of spatial data owned by a dataset. Exactly one
// of Raster, Points or Shapes is set, according to Kind.
type Element struct {
	Kind   ElementKind
	Name   string
	Raster *Raster
	Points *PointCloud
	Shapes *ShapeSet

	Transforms *transform.Table
}

// NewElement creates an element with an empty transform table.
func NewElement(kind ElementKind, name string) *Element {
	return &Element{Kind: kind, Name: name, Transforms: transform.NewTable()}
}

// ResolveTransform returns the affine placing the element's coordinates into
// the named coordinate system, already converted to the viewer's (row, col)
// axis order. The second return is false when the element has no transform
// into that system. An empty system name is an error: callers must always
// name the system they are resolving into.
func ResolveTransform(el *Element, system string) (transform.Affine, bool, error) {
	if !el.Kind.Valid() {
		return transform.Affine{}, false, fmt.Errorf("%w: %v", ErrUnsupportedElementKind, el.Kind)
	}
	if system == "" {
		return transform.Affine{}, false, transform.ErrNoCoordinateSystem
	}
	a, ok := el.Transforms.Get(system)
	if !ok {
		return transform.Affine{}, false, nil
	}
	return a.ToRowCol(), true, nil
}
