package viewer

import (
	"fmt"
	"math"
	"math/rand"
	"strings"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/orb/simplify"
	"go.uber.org/zap"

	"github.com/spatialbridge/server/internal/sdata"
	"github.com/spatialbridge/server/internal/transform"
)

// Limits bound the geometry a single layer may carry before the factory
// applies a lossy reduction.
type Limits struct {
	// MaxPoints is the row count above which point elements are uniformly
	// subsampled.
	MaxPoints int
	// MaxShapes is the polygon count above which boundaries are simplified.
	MaxShapes int
	// SimplifyTolerance is the Douglas-Peucker tolerance used when
	// simplifying, in element coordinate units.
	SimplifyTolerance float64
	// MaxCircles is the circle count above which a circle set is handed to
	// the viewer as plain points.
	MaxCircles int
	// SubsampleSeed seeds the subsampling draw so repeated loads of the
	// same element retain the same rows.
	SubsampleSeed int64
}

// DefaultLimits returns the thresholds used when none are configured.
func DefaultLimits() Limits {
	return Limits{
		MaxPoints:         100000,
		MaxShapes:         100,
		SimplifyTolerance: 2,
		MaxCircles:        10000,
	}
}

// FactoryConfig configures a Factory.
type FactoryConfig struct {
	Limits Limits
	Logger *zap.Logger
}

// Factory builds viewer layers from dataset elements: it resolves the
// element's transform into the requested coordinate system, converts the
// payload to the viewer's (row, col) axis order, and fills in the metadata
// bundle.
type Factory struct {
	limits Limits
	logger *zap.Logger
}

// NewFactory creates a Factory.
func NewFactory(cfg FactoryConfig) *Factory {
	if cfg.Limits == (Limits{}) {
		cfg.Limits = DefaultLimits()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Factory{limits: cfg.Limits, logger: cfg.Logger}
}

// AddElement builds a layer for any element kind, dispatching on the
// element's kind. key is the display name shown in the catalog; duplicate
// marks it as carrying a dataset-index suffix that must be stripped before
// the dataset lookup.
func (f *Factory) AddElement(d *sdata.Dataset, datasetIndex int, key, system string, duplicate bool) (*Layer, error) {
	name := originalKey(key, duplicate, datasetIndex)
	el, err := d.Element(name)
	if err != nil {
		return nil, err
	}
	switch el.Kind {
	case sdata.KindImage:
		return f.AddImage(d, datasetIndex, key, system, duplicate)
	case sdata.KindLabels:
		return f.AddLabels(d, datasetIndex, key, system, duplicate)
	case sdata.KindPoints:
		return f.AddPoints(d, datasetIndex, key, system, duplicate)
	case sdata.KindShapes:
		return f.AddShapes(d, datasetIndex, key, system, duplicate)
	default:
		return nil, fmt.Errorf("%w: %v", sdata.ErrUnsupportedElementKind, el.Kind)
	}
}

// AddImage builds an image layer. Multi-resolution elements keep their full
// pyramid; channel counts of 3 or 4 mark the layer color-renderable.
func (f *Factory) AddImage(d *sdata.Dataset, datasetIndex int, key, system string, duplicate bool) (*Layer, error) {
	l, el, err := f.begin(d, datasetIndex, sdata.KindImage, key, system, duplicate)
	if err != nil {
		return nil, err
	}
	l.Raster = buildRaster(el.Raster, l.Affine)
	return l, nil
}

// AddLabels builds a label-mask layer. When the dataset's annotation table
// declares a region key, the rows annotating this element are attached as
// the layer's observation table.
func (f *Factory) AddLabels(d *sdata.Dataset, datasetIndex int, key, system string, duplicate bool) (*Layer, error) {
	l, el, err := f.begin(d, datasetIndex, sdata.KindLabels, key, system, duplicate)
	if err != nil {
		return nil, err
	}
	l.Raster = buildRaster(el.Raster, l.Affine)
	f.attachAnnotation(l, d, el.Name)
	return l, nil
}

// AddPoints builds a point layer. Elements above the point threshold are
// uniformly subsampled to exactly the threshold, keeping relative row order;
// RowIndexMap records the retained original row indices.
func (f *Factory) AddPoints(d *sdata.Dataset, datasetIndex int, key, system string, duplicate bool) (*Layer, error) {
	l, el, err := f.begin(d, datasetIndex, sdata.KindPoints, key, system, duplicate)
	if err != nil {
		return nil, err
	}
	pts := el.Points
	n := pts.Len()

	rows := identityRows(n)
	if n > f.limits.MaxPoints {
		rows = sampleSorted(n, f.limits.MaxPoints, f.limits.SubsampleSeed)
		f.logger.Warn("too many points, subsampling",
			zap.String("element", el.Name),
			zap.Int("rows", n),
			zap.Int("kept", f.limits.MaxPoints))
	}

	rc := make([][2]float64, len(rows))
	xs := make([]float64, len(rows))
	ys := make([]float64, len(rows))
	for i, r := range rows {
		rc[i] = [2]float64{pts.Y[r], pts.X[r]}
		xs[i] = pts.X[r]
		ys[i] = pts.Y[r]
	}
	l.Points = &PointsPayload{RC: rc}
	l.Meta.RowIndexMap = toIdentities(rows)
	l.Meta.RowCounter = int64(n)
	l.Meta.Obs = pointObs(pts, rows, xs, ys)
	return l, nil
}

// AddShapes builds a shape layer. Polygon sets reduce multi-polygons to
// their largest part and simplify boundaries above the shape threshold;
// circle sets become center points with a diameter size encoding.
func (f *Factory) AddShapes(d *sdata.Dataset, datasetIndex int, key, system string, duplicate bool) (*Layer, error) {
	l, el, err := f.begin(d, datasetIndex, sdata.KindShapes, key, system, duplicate)
	if err != nil {
		return nil, err
	}
	s := el.Shapes
	if s.IsCircles() {
		l.Shapes = f.buildCircles(el.Name, s)
	} else {
		l.Shapes = f.buildPolygons(el.Name, s)
	}
	l.Meta.RowIndexMap = toIdentities(identityRows(s.Len()))
	l.Meta.RowCounter = int64(s.Len())
	f.attachAnnotation(l, d, el.Name)
	return l, nil
}

// begin performs the lookup, kind check and transform resolution shared by
// every kind, and returns the partially filled layer.
func (f *Factory) begin(d *sdata.Dataset, datasetIndex int, kind sdata.ElementKind, key, system string, duplicate bool) (*Layer, *sdata.Element, error) {
	name := originalKey(key, duplicate, datasetIndex)
	el, err := d.ElementOfKind(kind, name)
	if err != nil {
		return nil, nil, err
	}
	affine, ok, err := sdata.ResolveTransform(el, system)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, fmt.Errorf("%w: element %q has no transform into %q",
			sdata.ErrElementNotFound, name, system)
	}
	l := &Layer{
		ID:      uuid.NewString(),
		Name:    key,
		Kind:    kind,
		Visible: true,
		Affine:  affine,
		Meta: &Metadata{
			Dataset:      d,
			DatasetIndex: datasetIndex,
			OriginalName: name,
			ActiveIn:     map[string]struct{}{system: {}},
			CurrentCS:    system,
		},
	}
	return l, el, nil
}

func (f *Factory) attachAnnotation(l *Layer, d *sdata.Dataset, elementName string) {
	tab := d.DefaultTable()
	if tab == nil || tab.RegionKey() == "" {
		return
	}
	obs, err := d.AnnotationFor(elementName, tab.Name())
	if err != nil || obs == nil {
		return
	}
	l.Meta.Obs = obs
	l.Meta.RegionKey = tab.InstanceKey()
}

func (f *Factory) buildPolygons(name string, s *sdata.ShapeSet) *ShapesPayload {
	polys := make([]orb.Polygon, len(s.Geoms))
	for i, g := range s.Geoms {
		polys[i] = largestPolygon(g)
	}

	tooMany := len(polys) > f.limits.MaxShapes
	if tooMany {
		f.logger.Warn("too many shapes, simplifying boundaries",
			zap.String("element", name),
			zap.Int("shapes", len(polys)),
			zap.Float64("tolerance", f.limits.SimplifyTolerance))
	}

	out := &ShapesPayload{Rings: make([][][2]float64, len(polys))}
	for i, poly := range polys {
		if tooMany {
			poly = simplify.DouglasPeucker(f.limits.SimplifyTolerance).Polygon(poly)
		}
		if len(poly) == 0 {
			continue
		}
		ring := poly[0]
		rc := make([][2]float64, len(ring))
		for j, pt := range ring {
			rc[j] = [2]float64{pt[1], pt[0]}
		}
		out.Rings[i] = rc
	}
	return out
}

func (f *Factory) buildCircles(name string, s *sdata.ShapeSet) *ShapesPayload {
	out := &ShapesPayload{
		Centers: make([][2]float64, len(s.Centers)),
		Sizes:   make([]float64, len(s.Radii)),
	}
	for i, c := range s.Centers {
		out.Centers[i] = [2]float64{c[1], c[0]}
	}
	for i, r := range s.Radii {
		out.Sizes[i] = 2 * r
	}
	if len(s.Centers) > f.limits.MaxCircles {
		out.PointsFallback = true
		f.logger.Warn("too many circles, rendering as points",
			zap.String("element", name),
			zap.Int("circles", len(s.Centers)))
	}
	return out
}

// largestPolygon reduces a geometry to a single polygon; multi-polygons keep
// only their largest-area part so that each row stays one renderable shape.
func largestPolygon(g orb.Geometry) orb.Polygon {
	switch geom := g.(type) {
	case orb.Polygon:
		return geom
	case orb.MultiPolygon:
		var best orb.Polygon
		bestArea := math.Inf(-1)
		for _, poly := range geom {
			if a := math.Abs(planar.Area(poly)); a > bestArea {
				bestArea = a
				best = poly
			}
		}
		return best
	default:
		return nil
	}
}

func buildRaster(r *sdata.Raster, base transform.Affine) *RasterPayload {
	out := &RasterPayload{}
	root := r.Root()
	for _, g := range r.Pyramid {
		p := &Plane{H: g.H, W: g.W, C: g.C, Pix: make([]float64, len(g.Pix))}
		for y := 0; y < g.H; y++ {
			for x := 0; x < g.W; x++ {
				for c := 0; c < g.C; c++ {
					p.Pix[(y*g.W+x)*g.C+c] = g.At(c, y, x)
				}
			}
		}
		// A pixel at (row, col) of this level sits at the root-level
		// coordinate scaled by the per-axis downscale factor.
		p.Affine = base
		if root != nil && g.H > 0 && g.W > 0 {
			p.Affine = base.Mul(transform.Scale(
				float64(root.H)/float64(g.H),
				float64(root.W)/float64(g.W)))
		}
		out.Levels = append(out.Levels, p)
	}
	if root != nil {
		out.RGB = root.C == 3 || root.C == 4
	}
	return out
}

func pointObs(pts *sdata.PointCloud, rows []int, xs, ys []float64) *sdata.Table {
	obs := sdata.NewTable("points")
	if pts.Attributes != nil {
		sub := pts.Attributes.Subset(rows)
		for _, name := range sub.ColumnNames() {
			col, err := sub.Column(name)
			if err != nil {
				continue
			}
			obs.SetColumn(name, col)
		}
	}
	obs.SetColumn("x", sdata.NewNumericColumn(xs))
	obs.SetColumn("y", sdata.NewNumericColumn(ys))
	return obs
}

// sampleSorted draws exactly k of n row indices uniformly without
// replacement, in increasing order.
func sampleSorted(n, k int, seed int64) []int {
	rng := rand.New(rand.NewSource(seed))
	out := make([]int, 0, k)
	need := k
	for i := 0; i < n && need > 0; i++ {
		if rng.Float64()*float64(n-i) < float64(need) {
			out = append(out, i)
			need--
		}
	}
	return out
}

func identityRows(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

func toIdentities(rows []int) []int64 {
	out := make([]int64, len(rows))
	for i, r := range rows {
		out[i] = int64(r)
	}
	return out
}

// originalKey strips the catalog's dataset-index suffix from a display name
// to recover the element's name inside its dataset.
func originalKey(key string, duplicate bool, datasetIndex int) string {
	if !duplicate {
		return key
	}
	return strings.TrimSuffix(key, fmt.Sprintf("_%d", datasetIndex))
}
