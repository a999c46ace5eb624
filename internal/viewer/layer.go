// Package viewer holds the renderable layer model: layer construction from
// dataset elements, dataset-identity inheritance for freshly drawn layers,
// and visibility bookkeeping across coordinate-system switches.
package viewer

import (
	"github.com/google/uuid"

	"github.com/spatialbridge/server/internal/sdata"
	"github.com/spatialbridge/server/internal/transform"
)

// Metadata is the bundle attached to every dataset-derived layer. Free
// layers (user-drawn, not yet saved) start with an empty bundle;
// inheritance fills in the dataset identity and commit adds the element
// reference.
type Metadata struct {
	// Dataset is the owning dataset handle. Immutable once set, except via
	// inheritance on dataset-less layers.
	Dataset      *sdata.Dataset
	DatasetIndex int

	// OriginalName is the element name inside the dataset. Renaming the
	// layer never changes it.
	OriginalName string

	// ActiveIn is the set of coordinate systems the layer is meant to be
	// shown in. It grows on coordinate-system switches and shrinks only on
	// an explicit visibility-off toggle.
	ActiveIn map[string]struct{}

	// CurrentCS is the coordinate system selected when the layer's
	// visibility was last evaluated.
	CurrentCS string

	// RowIndexMap maps viewer-local row position to dataset row identity.
	// Maintained for point and shape layers; nil for rasters.
	RowIndexMap []int64

	// RowCounter is the next row identity to mint for viewer-added rows.
	// It only ever increases; freed identities are never reused.
	RowCounter int64

	// Obs is the per-row attribute table aligned 1:1 with RowIndexMap.
	Obs *sdata.Table

	// RegionKey holds the annotation table's instance-key column name for
	// label layers.
	RegionKey string
}

// ActiveInSystems returns the active coordinate systems in no particular
// order.
func (m *Metadata) ActiveInSystems() []string {
	out := make([]string, 0, len(m.ActiveIn))
	for cs := range m.ActiveIn {
		out = append(out, cs)
	}
	return out
}

// Activate adds a coordinate system to the active set.
func (m *Metadata) Activate(system string) {
	if m.ActiveIn == nil {
		m.ActiveIn = make(map[string]struct{})
	}
	m.ActiveIn[system] = struct{}{}
}

// Deactivate removes a coordinate system from the active set.
func (m *Metadata) Deactivate(system string) {
	delete(m.ActiveIn, system)
}

// IsActiveIn reports membership in the active set.
func (m *Metadata) IsActiveIn(system string) bool {
	_, ok := m.ActiveIn[system]
	return ok
}

// RasterPayload is an image or label layer's pixel data, one entry per
// pyramid level, channel axis last.
type RasterPayload struct {
	Levels []*Plane
	RGB    bool
}

// Plane is one pyramid level in (y, x, c) order. Affine places the level's
// pixel grid in render space: the layer placement composed with the level's
// downscale factor relative to the root level.
type Plane struct {
	H, W, C int
	Pix     []float64
	Affine  transform.Affine
}

// At returns the value at (row, col, channel).
func (p *Plane) At(y, x, c int) float64 {
	return p.Pix[(y*p.W+x)*p.C+c]
}

// PointsPayload is a point layer's screen geometry: one (row, col) pair per
// retained point.
type PointsPayload struct {
	RC [][2]float64
}

// ShapesPayload is a shape layer's screen geometry. Polygon sets fill Rings;
// circle sets fill Centers and Sizes (diameter per circle). PointsFallback
// marks a circle set too large to render as shapes, handed to the viewer as
// plain points instead.
type ShapesPayload struct {
	Rings [][][2]float64

	Centers        [][2]float64
	Sizes          []float64
	PointsFallback bool
}

// Len returns the shape count.
func (s *ShapesPayload) Len() int {
	if len(s.Centers) > 0 {
		return len(s.Centers)
	}
	return len(s.Rings)
}

// Layer is the viewer's renderable unit.
type Layer struct {
	ID      string
	Name    string
	Kind    sdata.ElementKind
	Visible bool
	Affine  transform.Affine

	Raster *RasterPayload
	Points *PointsPayload
	Shapes *ShapesPayload

	Meta *Metadata
}

// NewFreeLayer creates a user-drawn layer with no dataset reference.
func NewFreeLayer(name string, kind sdata.ElementKind) *Layer {
	return &Layer{
		ID:      uuid.NewString(),
		Name:    name,
		Kind:    kind,
		Visible: true,
		Affine:  transform.Identity(),
		Meta:    &Metadata{},
	}
}

// IsFree reports whether the layer references no dataset element yet. A
// layer that inherited a dataset identity but has not been committed is
// still free: it has a dataset to commit into, not an element behind it.
func (l *Layer) IsFree() bool {
	return l.Meta == nil || l.Meta.OriginalName == ""
}

// RowCount returns the number of geometry rows the layer holds. Raster
// layers have no row notion and report 0.
func (l *Layer) RowCount() int {
	switch {
	case l.Points != nil:
		return len(l.Points.RC)
	case l.Shapes != nil:
		return l.Shapes.Len()
	default:
		return 0
	}
}
