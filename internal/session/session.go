// Package session orchestrates one viewer session: the open datasets, the
// element catalog for the selected coordinate system, the loaded layers and
// the components that keep them consistent.
package session

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/spatialbridge/server/internal/cache"
	"github.com/spatialbridge/server/internal/catalog"
	"github.com/spatialbridge/server/internal/scatter"
	"github.com/spatialbridge/server/internal/sdata"
	"github.com/spatialbridge/server/internal/track"
	"github.com/spatialbridge/server/internal/viewer"
)

// ErrLayerNotFound is returned for operations on unknown layer ids.
var ErrLayerNotFound = fmt.Errorf("layer not found")

// Config configures a Session.
type Config struct {
	Registry *sdata.Registry
	Limits   viewer.Limits
	Plotter  *scatter.Plotter
	Caches   *cache.Manager
	Logger   *zap.Logger
}

// Session owns the per-session state. All entry points run their work on a
// single command queue, so handlers observe events strictly in arrival
// order; public methods additionally serialize on the session mutex to keep
// the single-threaded model when callers arrive concurrently.
type Session struct {
	registry *sdata.Registry
	factory  *viewer.Factory
	tracker  *track.Tracker
	syncer   *viewer.Synchronizer
	queue    *track.Queue
	plotter  *scatter.Plotter
	caches   *cache.Manager
	logger   *zap.Logger

	mu        sync.Mutex
	currentCS string
	cat       *catalog.Catalog
	layers    []*viewer.Layer
}

// New creates a session over the registry's datasets.
func New(cfg Config) *Session {
	if cfg.Registry == nil {
		cfg.Registry = sdata.NewRegistry()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	s := &Session{
		registry: cfg.Registry,
		factory:  viewer.NewFactory(viewer.FactoryConfig{Limits: cfg.Limits, Logger: cfg.Logger}),
		tracker:  track.NewTracker(track.TrackerConfig{Registry: cfg.Registry, Logger: cfg.Logger}),
		syncer:   viewer.NewSynchronizer(cfg.Logger),
		queue:    track.NewQueue(),
		plotter:  cfg.Plotter,
		caches:   cfg.Caches,
		logger:   cfg.Logger,
	}
	return s
}

// CurrentCoordinateSystem returns the coordinate system the session last
// selected, or "" before the first selection.
func (s *Session) CurrentCoordinateSystem() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentCS
}

// CoordinateSystems returns the union of coordinate systems across every
// open dataset, in first-seen order.
func (s *Session) CoordinateSystems() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	seen := make(map[string]struct{})
	for _, d := range s.registry.Datasets() {
		for _, cs := range d.CoordinateSystems() {
			if _, ok := seen[cs]; !ok {
				seen[cs] = struct{}{}
				out = append(out, cs)
			}
		}
	}
	return out
}

// SelectCoordinateSystem switches the session to a coordinate system:
// the element catalog is rebuilt and every loaded layer's visibility and
// affine re-evaluated.
func (s *Session) SelectCoordinateSystem(system string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Submit(func() error {
		s.cat = catalog.Build(s.registry.Datasets(), system)
		s.currentCS = system
		for _, l := range s.layers {
			if l.IsFree() {
				l.Meta.CurrentCS = system
			}
		}
		return s.syncer.SwitchCoordinateSystem(s.layers, system)
	})
}

// Catalog returns the element catalog for the current coordinate system.
func (s *Session) Catalog() *catalog.Catalog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cat
}

// AddElement loads a catalogued element as a layer and starts tracking it.
func (s *Session) AddElement(displayName string) (*viewer.Layer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cat == nil {
		return nil, fmt.Errorf("no coordinate system selected")
	}
	entry, ok := s.cat.Lookup(displayName)
	if !ok {
		return nil, fmt.Errorf("%w: %q not in catalog", sdata.ErrElementNotFound, displayName)
	}
	d, ok := s.registry.At(entry.DatasetIndex)
	if !ok {
		return nil, fmt.Errorf("%w: dataset %d", sdata.ErrElementNotFound, entry.DatasetIndex)
	}

	var layer *viewer.Layer
	err := s.queue.Submit(func() error {
		l, err := s.factory.AddElement(d, entry.DatasetIndex, displayName, s.currentCS, entry.Duplicate)
		if err != nil {
			return err
		}
		s.layers = append(s.layers, l)
		s.tracker.OnLayerInserted(l)
		layer = l
		return nil
	})
	if err != nil {
		return nil, err
	}
	return layer, nil
}

// AddFreeLayer inserts a user-drawn layer with no dataset reference.
func (s *Session) AddFreeLayer(name string, kind sdata.ElementKind) *viewer.Layer {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := viewer.NewFreeLayer(name, kind)
	l.Meta.CurrentCS = s.currentCS
	s.queue.Submit(func() error {
		s.layers = append(s.layers, l)
		s.tracker.OnLayerInserted(l)
		return nil
	})
	return l
}

// Layers returns the loaded layers in insertion order.
func (s *Session) Layers() []*viewer.Layer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*viewer.Layer, len(s.layers))
	copy(out, s.layers)
	return out
}

// Layer returns a loaded layer by id.
func (s *Session) Layer(id string) (*viewer.Layer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.layerLocked(id)
}

func (s *Session) layerLocked(id string) (*viewer.Layer, error) {
	for _, l := range s.layers {
		if l.ID == id {
			return l, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrLayerNotFound, id)
}

// RemoveLayer drops a layer from the session, discarding its tracking
// state. The dataset is never touched.
func (s *Session) RemoveLayer(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, err := s.layerLocked(id)
	if err != nil {
		return err
	}
	return s.queue.Submit(func() error {
		s.tracker.OnLayerRemoved(l)
		for i, got := range s.layers {
			if got == l {
				s.layers = append(s.layers[:i], s.layers[i+1:]...)
				break
			}
		}
		return nil
	})
}

// SetVisibility applies a manual visibility toggle to a layer.
func (s *Session) SetVisibility(id string, visible bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, err := s.layerLocked(id)
	if err != nil {
		return err
	}
	return s.queue.Submit(func() error {
		s.syncer.SetVisibility(l, visible)
		return nil
	})
}

// RenameLayer validates and applies a rename; the returned name is what the
// layer carries afterwards, which may be the previous name on collision or
// an auto-suffixed variant.
func (s *Session) RenameLayer(id, candidate string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, err := s.layerLocked(id)
	if err != nil {
		return "", err
	}
	var accepted string
	err = s.queue.Submit(func() error {
		accepted = s.tracker.OnLayerRenamed(l, candidate)
		return nil
	})
	return accepted, err
}

// SetLayerTable swaps the layer's observation table to another table
// annotating the same element.
func (s *Session) SetLayerTable(id, tableName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, err := s.layerLocked(id)
	if err != nil {
		return err
	}
	if l.Meta.Dataset == nil {
		return fmt.Errorf("%w: layer %q has no dataset", sdata.ErrTableNotFound, l.Name)
	}
	return s.queue.Submit(func() error {
		d := l.Meta.Dataset
		tab, err := d.Table(tableName)
		if err != nil {
			return err
		}
		obs, err := d.AnnotationFor(l.Meta.OriginalName, tableName)
		if err != nil {
			return err
		}
		if obs == nil {
			return fmt.Errorf("%w: table %q does not annotate %q",
				sdata.ErrTableNotFound, tableName, l.Meta.OriginalName)
		}
		l.Meta.Obs = obs
		l.Meta.RegionKey = tab.InstanceKey()
		s.logger.Info("layer annotation table switched",
			zap.String("layer", l.Name), zap.String("table", tableName))
		return nil
	})
}

// RemoveRows reconciles a viewer-side row removal on a tracked layer.
func (s *Session) RemoveRows(id string, positions []int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, err := s.layerLocked(id)
	if err != nil {
		return err
	}
	return s.queue.Submit(func() error {
		return s.tracker.OnRowsRemoved(l, positions)
	})
}

// AddRows reconciles viewer-side row additions on a tracked layer.
func (s *Session) AddRows(id string, count int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, err := s.layerLocked(id)
	if err != nil {
		return err
	}
	return s.queue.Submit(func() error {
		return s.tracker.OnRowsAdded(l, count)
	})
}

// ChangeRows reconciles an in-place geometry change on a tracked layer.
func (s *Session) ChangeRows(id string, positions []int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, err := s.layerLocked(id)
	if err != nil {
		return err
	}
	return s.queue.Submit(func() error {
		return s.tracker.OnRowsChanged(l, positions)
	})
}

// Inherit propagates the single common dataset identity from the selected
// layers onto the dataset-less ones among them.
func (s *Session) Inherit(ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	selected := make([]*viewer.Layer, 0, len(ids))
	for _, id := range ids {
		l, err := s.layerLocked(id)
		if err != nil {
			return err
		}
		selected = append(selected, l)
	}
	return s.queue.Submit(func() error {
		if err := viewer.Inherit(selected, s.logger); err != nil {
			return err
		}
		// Adopted layers become trackable right away so edits ahead of the
		// commit are reconciled.
		for _, l := range selected {
			s.tracker.OnLayerInserted(l)
		}
		return nil
	})
}

// SaveLayer commits a free layer into the dataset at the given index and
// rebuilds the catalog so the new element shows up immediately. It returns
// the element's display name in the refreshed catalog.
func (s *Session) SaveLayer(id string, datasetIndex int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, err := s.layerLocked(id)
	if err != nil {
		return "", err
	}
	target, ok := s.registry.At(datasetIndex)
	if !ok {
		return "", fmt.Errorf("%w: dataset %d", sdata.ErrElementNotFound, datasetIndex)
	}
	var display string
	err = s.queue.Submit(func() error {
		if err := s.tracker.Save(l, target); err != nil {
			return err
		}
		if s.currentCS != "" {
			s.cat = catalog.Build(s.registry.Datasets(), s.currentCS)
			if name, ok := s.cat.DisplayNameFor(l.Meta.OriginalName, datasetIndex); ok {
				display = name
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return display, nil
}

// TrackingState returns the tracker's state for a layer.
func (s *Session) TrackingState(id string) (track.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, err := s.layerLocked(id)
	if err != nil {
		return track.StateUntracked, err
	}
	return s.tracker.StateOf(l), nil
}

// Events returns a layer's reconciled edit cache.
func (s *Session) Events(id string) ([]track.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, err := s.layerLocked(id)
	if err != nil {
		return nil, err
	}
	return s.tracker.Events(l), nil
}

// PlotRequest names the vectors to scatter against each other.
type PlotRequest struct {
	DatasetIndex int    `json:"dataset_index"`
	Table        string `json:"table"`
	XColumn      string `json:"x_column"`
	YColumn      string `json:"y_column"`
	ColorColumn  string `json:"color_column,omitempty"`
	Normalize    bool   `json:"normalize,omitempty"`
}

// Plot extracts the requested vectors and renders a scatter plot, caching
// both the vectors and the rendered image.
func (s *Session) Plot(req PlotRequest) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.plotter == nil {
		return nil, fmt.Errorf("no plotter configured")
	}
	d, ok := s.registry.At(req.DatasetIndex)
	if !ok {
		return nil, fmt.Errorf("%w: dataset %d", sdata.ErrElementNotFound, req.DatasetIndex)
	}

	plotKey := cache.PlotKey(d.Name(), req.Table, req.XColumn, req.YColumn, req.ColorColumn, req.Normalize)
	if s.caches != nil {
		if img, ok := s.caches.GetPlot(plotKey); ok {
			return img, nil
		}
	}

	tab, err := d.Table(req.Table)
	if err != nil {
		return nil, err
	}
	x, err := s.vector(d, tab, req.Table, req.XColumn, req.Normalize)
	if err != nil {
		return nil, err
	}
	y, err := s.vector(d, tab, req.Table, req.YColumn, req.Normalize)
	if err != nil {
		return nil, err
	}
	if x.IsCategorical() || y.IsCategorical() {
		return nil, fmt.Errorf("x and y must be numeric, got categorical")
	}

	plot := scatter.Request{
		X: x.Floats, Y: y.Floats,
		XLabel: req.XColumn, YLabel: req.YColumn,
	}
	if req.ColorColumn != "" {
		c, err := s.vector(d, tab, req.Table, req.ColorColumn, false)
		if err != nil {
			return nil, err
		}
		plot.Color = c
		plot.ColorLabel = req.ColorColumn
	}

	img, err := s.plotter.Plot(plot)
	if err != nil {
		return nil, err
	}
	if s.caches != nil {
		s.caches.SetPlot(plotKey, img)
	}
	return img, nil
}

func (s *Session) vector(d *sdata.Dataset, tab *sdata.Table, table, column string, normalize bool) (*sdata.Vector, error) {
	key := cache.VectorKey(d.Name(), table, column, normalize)
	if s.caches != nil {
		if v, ok := s.caches.GetVector(key); ok {
			return v, nil
		}
	}
	v, err := tab.Vector(column, normalize)
	if err != nil {
		return nil, err
	}
	if s.caches != nil {
		s.caches.SetVector(key, v)
	}
	return v, nil
}

// Lasso resolves a polygon selection over the last plot.
func (s *Session) Lasso(vertices [][2]float64) ([]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.plotter == nil {
		return nil, fmt.Errorf("no plotter configured")
	}
	return s.plotter.LassoSelect(vertices)
}

// ExportSelection writes the last lasso selection into a dataset table as a
// categorical column.
func (s *Session) ExportSelection(datasetIndex int, table, column string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.plotter == nil {
		return fmt.Errorf("no plotter configured")
	}
	d, ok := s.registry.At(datasetIndex)
	if !ok {
		return fmt.Errorf("%w: dataset %d", sdata.ErrElementNotFound, datasetIndex)
	}
	tab, err := d.Table(table)
	if err != nil {
		return err
	}
	return s.plotter.Export(tab, column)
}

// Datasets returns the open datasets in registration order.
func (s *Session) Datasets() []*sdata.Dataset {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registry.Datasets()
}
