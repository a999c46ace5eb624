// Package track observes viewer layers through their lifecycle: it keeps
// each layer's row index map aligned with viewer edits, caches reconciled
// edit events, validates renames and commits free layers into their dataset.
package track

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/paulmach/orb"
	"go.uber.org/zap"

	"github.com/spatialbridge/server/internal/sdata"
	"github.com/spatialbridge/server/internal/transform"
	"github.com/spatialbridge/server/internal/viewer"
)

// State is a layer's position in the tracking lifecycle.
type State int

const (
	StateUntracked State = iota
	StateTracked
	StateRemoved
)

// EventKind classifies a reconciled edit event.
type EventKind int

const (
	EventAdd EventKind = iota
	EventRemove
	EventChange
)

// Event is one reconciled edit, annotated with dataset row identities
// rather than viewer-local positions.
type Event struct {
	Kind   EventKind
	RowIDs []int64
}

type record struct {
	layer  *viewer.Layer
	state  State
	events []Event
}

// TrackerConfig configures a Tracker.
type TrackerConfig struct {
	Registry *sdata.Registry
	Logger   *zap.Logger
}

// Tracker maintains per-layer edit state. All methods are meant to run on
// the session's command queue; the tracker itself does no locking.
type Tracker struct {
	registry *sdata.Registry
	logger   *zap.Logger
	records  map[string]*record
}

// NewTracker creates a Tracker over the session's dataset registry.
func NewTracker(cfg TrackerConfig) *Tracker {
	if cfg.Registry == nil {
		cfg.Registry = sdata.NewRegistry()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Tracker{
		registry: cfg.Registry,
		logger:   cfg.Logger,
		records:  make(map[string]*record),
	}
}

// StateOf returns the tracking state of a layer.
func (t *Tracker) StateOf(l *viewer.Layer) State {
	if r, ok := t.records[l.ID]; ok {
		return r.state
	}
	return StateUntracked
}

// Events returns the layer's reconciled edit cache in append order.
func (t *Tracker) Events(l *viewer.Layer) []Event {
	r, ok := t.records[l.ID]
	if !ok {
		return nil
	}
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// OnLayerInserted starts tracking a layer that carries a dataset identity,
// whether element-backed or inherited ahead of a commit. Layers without a
// dataset stay untracked. Missing index maps are initialized as the
// identity sequence over the layer's current rows; a layer already tracked
// keeps its record and edit cache.
func (t *Tracker) OnLayerInserted(l *viewer.Layer) {
	if l.Meta == nil || l.Meta.Dataset == nil {
		return
	}
	if _, ok := t.records[l.ID]; ok {
		return
	}
	if l.Meta.RowIndexMap == nil && l.Kind != sdata.KindImage && l.Kind != sdata.KindLabels {
		n := l.RowCount()
		l.Meta.RowIndexMap = make([]int64, n)
		for i := range l.Meta.RowIndexMap {
			l.Meta.RowIndexMap[i] = int64(i)
		}
		if l.Meta.RowCounter < int64(n) {
			l.Meta.RowCounter = int64(n)
		}
	}
	t.records[l.ID] = &record{layer: l, state: StateTracked}
}

// OnLayerRemoved stops tracking a layer and discards its edit cache and
// index map. The dataset is never touched.
func (t *Tracker) OnLayerRemoved(l *viewer.Layer) {
	if r, ok := t.records[l.ID]; ok {
		r.state = StateRemoved
		r.events = nil
	}
	delete(t.records, l.ID)
	if l.Meta != nil {
		l.Meta.RowIndexMap = nil
		l.Meta.Obs = nil
	}
}

// OnRowsRemoved reconciles a viewer-side row removal. Positions are
// processed in descending order so earlier deletions do not shift the
// positions still to be translated; the cached event carries the dataset
// row identities, never the viewer-local positions.
func (t *Tracker) OnRowsRemoved(l *viewer.Layer, positions []int) error {
	r, ok := t.records[l.ID]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotTracked, l.Name)
	}

	sorted := append([]int(nil), positions...)
	sort.Sort(sort.Reverse(sort.IntSlice(sorted)))

	// Translate and validate the whole batch before touching the map, so a
	// stale position leaves the index map exactly as it was.
	m := l.Meta.RowIndexMap
	ids := make([]int64, 0, len(sorted))
	for i, p := range sorted {
		if p < 0 || p >= len(m) {
			return fmt.Errorf("%w: position %d outside map of %d rows",
				ErrStaleIndexMap, p, len(m))
		}
		if i > 0 && p == sorted[i-1] {
			return fmt.Errorf("%w: position %d repeated in batch",
				ErrStaleIndexMap, p)
		}
		ids = append(ids, m[p])
	}
	for _, p := range sorted {
		m = append(m[:p], m[p+1:]...)
	}
	l.Meta.RowIndexMap = m
	r.events = append(r.events, Event{Kind: EventRemove, RowIDs: ids})
	return nil
}

// OnRowsAdded reconciles viewer-side row additions by minting fresh row
// identities from the layer's counter. Identities are never reused.
func (t *Tracker) OnRowsAdded(l *viewer.Layer, count int) error {
	r, ok := t.records[l.ID]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotTracked, l.Name)
	}
	ids := make([]int64, count)
	for i := range ids {
		ids[i] = l.Meta.RowCounter
		l.Meta.RowCounter++
	}
	l.Meta.RowIndexMap = append(l.Meta.RowIndexMap, ids...)
	r.events = append(r.events, Event{Kind: EventAdd, RowIDs: ids})
	return nil
}

// OnRowsChanged reconciles an in-place geometry change. Positions are
// translated read-only; the index map does not move. The viewer drops move
// events for point layers, so those cannot be cached reliably and a
// warning is surfaced instead of silently losing them.
func (t *Tracker) OnRowsChanged(l *viewer.Layer, positions []int) error {
	r, ok := t.records[l.ID]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotTracked, l.Name)
	}
	if l.Kind == sdata.KindPoints {
		t.logger.Warn("move events for point layers are unreliable and are not cached",
			zap.String("layer", l.Name))
		return nil
	}
	m := l.Meta.RowIndexMap
	ids := make([]int64, 0, len(positions))
	for _, p := range positions {
		if p < 0 || p >= len(m) {
			return fmt.Errorf("%w: position %d outside map of %d rows",
				ErrStaleIndexMap, p, len(m))
		}
		ids = append(ids, m[p])
	}
	r.events = append(r.events, Event{Kind: EventChange, RowIDs: ids})
	return nil
}

var disambigSuffix = regexp.MustCompile(`(_\d+|\s*\[\d+\])$`)

// OnLayerRenamed validates a rename and returns the name the layer should
// carry afterwards. A trailing disambiguation suffix is stripped before
// validation. Collisions inside the layer's own dataset revert to the
// previous name; collisions with another dataset's element get the owning
// dataset's index appended. The element's original name never changes.
func (t *Tracker) OnLayerRenamed(l *viewer.Layer, candidate string) string {
	previous := l.Name
	name := disambigSuffix.ReplaceAllString(candidate, "")
	if name == "" {
		t.logger.Warn("rename rejected, empty name after stripping suffix",
			zap.String("layer", previous), zap.String("candidate", candidate))
		return previous
	}

	if !l.IsFree() {
		d := l.Meta.Dataset
		if name != l.Meta.OriginalName && d.HasElement(name) {
			t.logger.Warn("rename rejected, name already used in dataset",
				zap.String("layer", previous),
				zap.String("candidate", name),
				zap.String("dataset", d.Name()))
			return previous
		}
		if t.collidesAcrossDatasets(d, name) {
			suffixed := fmt.Sprintf("%s_%d", name, l.Meta.DatasetIndex)
			t.logger.Info("rename collides with another dataset, appending index",
				zap.String("layer", previous), zap.String("name", suffixed))
			l.Name = suffixed
			return suffixed
		}
	}
	l.Name = name
	return name
}

func (t *Tracker) collidesAcrossDatasets(own *sdata.Dataset, name string) bool {
	for _, d := range t.registry.Datasets() {
		if d == own {
			continue
		}
		if d.HasElement(name) {
			return true
		}
	}
	return false
}

// Save commits a free point or shape layer into the target dataset under
// the layer's display name, with the identity transform in the layer's
// current coordinate system. On success the layer is tracked against the
// new element; the write is atomic, a failed save leaves the dataset
// untouched.
func (t *Tracker) Save(l *viewer.Layer, target *sdata.Dataset) error {
	if !l.IsFree() {
		return fmt.Errorf("%w: %q already references element %q",
			ErrCannotSaveExistingElement, l.Name, l.Meta.OriginalName)
	}
	switch l.Kind {
	case sdata.KindPoints, sdata.KindShapes:
	default:
		return fmt.Errorf("%w: %v", ErrUnsupportedForCommit, l.Kind)
	}
	if l.RowCount() == 0 {
		return fmt.Errorf("%w: layer %q", ErrEmptyGeometry, l.Name)
	}
	system := l.Meta.CurrentCS
	if system == "" {
		return transform.ErrNoCoordinateSystem
	}
	// Viewer geometry lives in render (row, col) space; the committed
	// element stores it mapped back through the layer's placement, and the
	// placement itself becomes the element's transform into the system.
	// Free layers carry the identity placement, so the element lands under
	// the identity transform.
	inv, err := l.Affine.Inverse()
	if err != nil {
		return fmt.Errorf("layer %q placement not invertible: %w", l.Name, err)
	}

	el := sdata.NewElement(l.Kind, l.Name)
	switch l.Kind {
	case sdata.KindPoints:
		el.Points = pointsFromPayload(l.Points, inv)
	case sdata.KindShapes:
		el.Shapes = shapesFromPayload(l.Shapes, inv)
	}
	el.Transforms.Set(system, l.Affine.ToRowCol())
	if err := target.WriteElement(el, system); err != nil {
		return err
	}

	l.Meta.Dataset = target
	l.Meta.DatasetIndex = t.registry.Index(target)
	l.Meta.OriginalName = l.Name
	l.Meta.ActiveIn = map[string]struct{}{system: {}}
	n := l.RowCount()
	l.Meta.RowIndexMap = make([]int64, n)
	for i := range l.Meta.RowIndexMap {
		l.Meta.RowIndexMap[i] = int64(i)
	}
	l.Meta.RowCounter = int64(n)
	t.records[l.ID] = &record{layer: l, state: StateTracked}

	t.logger.Info("layer committed to dataset",
		zap.String("layer", l.Name),
		zap.String("dataset", target.Name()),
		zap.String("system", system),
		zap.Int("rows", n))
	return nil
}

// pointsFromPayload converts viewer (row, col) geometry back to element
// (x, y) coordinates through the inverse placement.
func pointsFromPayload(p *viewer.PointsPayload, inv transform.Affine) *sdata.PointCloud {
	pc := &sdata.PointCloud{
		X: make([]float64, len(p.RC)),
		Y: make([]float64, len(p.RC)),
	}
	for i, rc := range p.RC {
		row, col := inv.Apply(rc[0], rc[1])
		pc.Y[i] = row
		pc.X[i] = col
	}
	return pc
}

func shapesFromPayload(s *viewer.ShapesPayload, inv transform.Affine) *sdata.ShapeSet {
	if len(s.Centers) > 0 {
		out := &sdata.ShapeSet{
			Centers: make([]orb.Point, len(s.Centers)),
			Radii:   make([]float64, len(s.Sizes)),
		}
		for i, c := range s.Centers {
			row, col := inv.Apply(c[0], c[1])
			out.Centers[i] = orb.Point{col, row}
		}
		for i, size := range s.Sizes {
			out.Radii[i] = size / 2
		}
		return out
	}
	out := &sdata.ShapeSet{Geoms: make([]orb.Geometry, 0, len(s.Rings))}
	for _, ring := range s.Rings {
		r := make(orb.Ring, len(ring))
		for i, rc := range ring {
			row, col := inv.Apply(rc[0], rc[1])
			r[i] = orb.Point{col, row}
		}
		out.Geoms = append(out.Geoms, orb.Polygon{r})
	}
	return out
}
