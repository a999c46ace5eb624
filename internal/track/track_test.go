package track

import (
	"errors"
	"reflect"
	"testing"

	"github.com/spatialbridge/server/internal/sdata"
	"github.com/spatialbridge/server/internal/transform"
	"github.com/spatialbridge/server/internal/viewer"
)

func trackedPointLayer(t *testing.T, tr *Tracker, d *sdata.Dataset, ids []int64) *viewer.Layer {
	t.Helper()
	l := viewer.NewFreeLayer("test", sdata.KindPoints)
	l.Points = &viewer.PointsPayload{RC: make([][2]float64, len(ids))}
	l.Meta.Dataset = d
	l.Meta.CurrentCS = "global"
	l.Meta.ActiveIn = map[string]struct{}{"global": {}}
	l.Meta.RowIndexMap = append([]int64(nil), ids...)
	l.Meta.RowCounter = 9
	tr.OnLayerInserted(l)
	if tr.StateOf(l) != StateTracked {
		t.Fatal("layer not tracked after insertion")
	}
	return l
}

func TestRemovalTranslation(t *testing.T) {
	tr := NewTracker(TrackerConfig{})
	d := sdata.New("sample")
	l := trackedPointLayer(t, tr, d, []int64{5, 6, 7, 8})

	if err := tr.OnRowsRemoved(l, []int{1, 3}); err != nil {
		t.Fatalf("OnRowsRemoved failed: %v", err)
	}
	if !reflect.DeepEqual(l.Meta.RowIndexMap, []int64{5, 7}) {
		t.Errorf("RowIndexMap = %v, want [5 7]", l.Meta.RowIndexMap)
	}
	events := tr.Events(l)
	if len(events) != 1 || events[0].Kind != EventRemove {
		t.Fatalf("unexpected events: %+v", events)
	}
	if !reflect.DeepEqual(events[0].RowIDs, []int64{8, 6}) {
		t.Errorf("event RowIDs = %v, want dataset identities [8 6]", events[0].RowIDs)
	}
}

func TestAddedRowsMintNewIdentities(t *testing.T) {
	tr := NewTracker(TrackerConfig{})
	d := sdata.New("sample")
	l := trackedPointLayer(t, tr, d, []int64{0, 1, 2})

	if err := tr.OnRowsAdded(l, 2); err != nil {
		t.Fatalf("OnRowsAdded failed: %v", err)
	}
	if !reflect.DeepEqual(l.Meta.RowIndexMap, []int64{0, 1, 2, 9, 10}) {
		t.Errorf("RowIndexMap = %v, want counter-minted identities", l.Meta.RowIndexMap)
	}
	if l.Meta.RowCounter != 11 {
		t.Errorf("RowCounter = %d, want 11", l.Meta.RowCounter)
	}

	// Remove then re-add: freed identities must not come back.
	if err := tr.OnRowsRemoved(l, []int{4}); err != nil {
		t.Fatalf("OnRowsRemoved failed: %v", err)
	}
	if err := tr.OnRowsAdded(l, 1); err != nil {
		t.Fatalf("OnRowsAdded failed: %v", err)
	}
	if got := l.Meta.RowIndexMap[len(l.Meta.RowIndexMap)-1]; got != 11 {
		t.Errorf("re-added row identity = %d, want fresh 11", got)
	}
}

func TestStaleIndexMap(t *testing.T) {
	tr := NewTracker(TrackerConfig{})
	d := sdata.New("sample")
	l := trackedPointLayer(t, tr, d, []int64{0, 1})

	err := tr.OnRowsRemoved(l, []int{5})
	if !errors.Is(err, ErrStaleIndexMap) {
		t.Errorf("expected ErrStaleIndexMap, got %v", err)
	}

	// A rejected batch must leave the map and the edit cache untouched,
	// even when part of the batch would have been valid.
	for _, bad := range [][]int{{0, 5}, {1, 1}} {
		err = tr.OnRowsRemoved(l, bad)
		if !errors.Is(err, ErrStaleIndexMap) {
			t.Errorf("positions %v: expected ErrStaleIndexMap, got %v", bad, err)
		}
		if !reflect.DeepEqual(l.Meta.RowIndexMap, []int64{0, 1}) {
			t.Errorf("positions %v corrupted the map: %v", bad, l.Meta.RowIndexMap)
		}
	}
	if got := tr.Events(l); len(got) != 0 {
		t.Errorf("rejected batches must not cache events, got %+v", got)
	}
}

func TestPointMovesNotCached(t *testing.T) {
	tr := NewTracker(TrackerConfig{})
	d := sdata.New("sample")
	l := trackedPointLayer(t, tr, d, []int64{0, 1})

	if err := tr.OnRowsChanged(l, []int{0}); err != nil {
		t.Fatalf("OnRowsChanged failed: %v", err)
	}
	if got := tr.Events(l); len(got) != 0 {
		t.Errorf("point move must not be cached, got %+v", got)
	}
}

func TestLayerRemovalDiscardsState(t *testing.T) {
	tr := NewTracker(TrackerConfig{})
	d := sdata.New("sample")
	l := trackedPointLayer(t, tr, d, []int64{0, 1})

	tr.OnLayerRemoved(l)
	if tr.StateOf(l) != StateUntracked {
		t.Error("removed layer must not remain tracked")
	}
	if l.Meta.RowIndexMap != nil {
		t.Error("index map must be discarded on removal")
	}
	if d.HasElement("test") {
		t.Error("layer removal must not mutate the dataset")
	}
}

func TestRename(t *testing.T) {
	newDataset := func(t *testing.T, name string, elements ...string) *sdata.Dataset {
		t.Helper()
		d := sdata.New(name)
		for _, n := range elements {
			el := sdata.NewElement(sdata.KindPoints, n)
			el.Points = &sdata.PointCloud{X: []float64{0}, Y: []float64{0}}
			if err := d.WriteElement(el, "global"); err != nil {
				t.Fatalf("WriteElement failed: %v", err)
			}
		}
		return d
	}

	t.Run("collision reverts", func(t *testing.T) {
		d := newDataset(t, "sample", "cells", "nuclei")
		tr := NewTracker(TrackerConfig{Registry: sdata.NewRegistry(d)})
		l := trackedPointLayer(t, tr, d, []int64{0})
		l.Name = "cells"
		l.Meta.OriginalName = "cells"

		if got := tr.OnLayerRenamed(l, "nuclei"); got != "cells" {
			t.Errorf("rename accepted %q, want revert to %q", got, "cells")
		}
		if l.Name != "cells" {
			t.Errorf("layer name = %q, want unchanged", l.Name)
		}
	})

	t.Run("suffix stripped before validation", func(t *testing.T) {
		d := newDataset(t, "sample", "cells")
		tr := NewTracker(TrackerConfig{Registry: sdata.NewRegistry(d)})
		l := trackedPointLayer(t, tr, d, []int64{0})
		l.Name = "cells"
		l.Meta.OriginalName = "cells"

		if got := tr.OnLayerRenamed(l, "cells [1]"); got != "cells" {
			t.Errorf("rename = %q, want suffix stripped back to %q", got, "cells")
		}
	})

	t.Run("cross dataset duplicate auto suffixes", func(t *testing.T) {
		d0 := newDataset(t, "a", "cells")
		d1 := newDataset(t, "b", "vessels")
		tr := NewTracker(TrackerConfig{Registry: sdata.NewRegistry(d0, d1)})
		l := trackedPointLayer(t, tr, d1, []int64{0})
		l.Meta.DatasetIndex = 1
		l.Meta.OriginalName = "vessels"
		l.Name = "vessels"

		if got := tr.OnLayerRenamed(l, "cells"); got != "cells_1" {
			t.Errorf("rename = %q, want auto-suffixed %q", got, "cells_1")
		}
	})
}

func TestCommitRoundTrip(t *testing.T) {
	d := sdata.New("sample")
	tr := NewTracker(TrackerConfig{Registry: sdata.NewRegistry(d)})

	l := viewer.NewFreeLayer("regionA", sdata.KindShapes)
	l.Meta.CurrentCS = "global"
	l.Shapes = &viewer.ShapesPayload{Rings: [][][2]float64{
		{{0, 0}, {0, 4}, {4, 4}, {0, 0}},
		{{10, 10}, {10, 14}, {14, 14}, {10, 10}},
		{{20, 20}, {20, 24}, {24, 24}, {20, 20}},
	}}

	if err := tr.Save(l, d); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	el, err := d.Element("regionA")
	if err != nil {
		t.Fatalf("committed element missing: %v", err)
	}
	if got := el.Shapes.Len(); got != 3 {
		t.Errorf("geometry count = %d, want 3", got)
	}
	a, ok := el.Transforms.Get("global")
	if !ok || !a.IsIdentity() {
		t.Errorf("expected identity transform in global, got ok=%v %+v", ok, a)
	}
	if tr.StateOf(l) != StateTracked {
		t.Error("committed layer must become tracked")
	}
	if !reflect.DeepEqual(l.Meta.RowIndexMap, []int64{0, 1, 2}) {
		t.Errorf("RowIndexMap = %v, want identity", l.Meta.RowIndexMap)
	}

	// Subsequent removal behaves like any tracked edit.
	if err := tr.OnRowsRemoved(l, []int{1}); err != nil {
		t.Fatalf("OnRowsRemoved failed: %v", err)
	}
	if !reflect.DeepEqual(l.Meta.RowIndexMap, []int64{0, 2}) {
		t.Errorf("RowIndexMap = %v, want [0 2]", l.Meta.RowIndexMap)
	}
}

func TestCommitMapsGeometryThroughPlacement(t *testing.T) {
	d := sdata.New("sample")
	tr := NewTracker(TrackerConfig{Registry: sdata.NewRegistry(d)})

	l := viewer.NewFreeLayer("drawn", sdata.KindPoints)
	l.Meta.CurrentCS = "global"
	l.Affine = transform.Scale(2, 4)
	l.Points = &viewer.PointsPayload{RC: [][2]float64{{2, 4}, {6, 8}}}

	if err := tr.Save(l, d); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	el, err := d.Element("drawn")
	if err != nil {
		t.Fatalf("committed element missing: %v", err)
	}

	// Render (row, col) mapped back through the placement inverse.
	if el.Points.Y[0] != 1 || el.Points.X[0] != 1 {
		t.Errorf("point 0 = (%v, %v), want (1, 1)", el.Points.X[0], el.Points.Y[0])
	}
	if el.Points.Y[1] != 3 || el.Points.X[1] != 2 {
		t.Errorf("point 1 = (%v, %v), want (2, 3)", el.Points.X[1], el.Points.Y[1])
	}

	// The element re-resolves into the system under the layer's placement.
	got, ok, err := sdata.ResolveTransform(el, "global")
	if err != nil || !ok {
		t.Fatalf("ResolveTransform failed: ok=%v err=%v", ok, err)
	}
	if got != l.Affine {
		t.Errorf("resolved placement = %+v, want %+v", got, l.Affine)
	}
}

func TestSaveRejections(t *testing.T) {
	d := sdata.New("sample")
	tr := NewTracker(TrackerConfig{Registry: sdata.NewRegistry(d)})

	t.Run("existing element", func(t *testing.T) {
		l := trackedPointLayer(t, tr, d, []int64{0})
		l.Meta.OriginalName = "transcripts"
		err := tr.Save(l, d)
		if !errors.Is(err, ErrCannotSaveExistingElement) {
			t.Errorf("expected ErrCannotSaveExistingElement, got %v", err)
		}
	})

	t.Run("empty geometry", func(t *testing.T) {
		l := viewer.NewFreeLayer("empty", sdata.KindShapes)
		l.Meta.CurrentCS = "global"
		l.Shapes = &viewer.ShapesPayload{}
		err := tr.Save(l, d)
		if !errors.Is(err, ErrEmptyGeometry) {
			t.Errorf("expected ErrEmptyGeometry, got %v", err)
		}
	})

	t.Run("image layer", func(t *testing.T) {
		l := viewer.NewFreeLayer("img", sdata.KindImage)
		l.Meta.CurrentCS = "global"
		err := tr.Save(l, d)
		if !errors.Is(err, ErrUnsupportedForCommit) {
			t.Errorf("expected ErrUnsupportedForCommit, got %v", err)
		}
	})

	t.Run("no coordinate system", func(t *testing.T) {
		l := viewer.NewFreeLayer("drawn", sdata.KindPoints)
		l.Points = &viewer.PointsPayload{RC: [][2]float64{{0, 0}}}
		err := tr.Save(l, d)
		if !errors.Is(err, transform.ErrNoCoordinateSystem) {
			t.Errorf("expected ErrNoCoordinateSystem, got %v", err)
		}
	})
}

func TestQueueOrdering(t *testing.T) {
	q := NewQueue()
	var order []int

	err := q.Submit(func() error {
		order = append(order, 1)
		// Submitted mid-drain: must run after this command returns, not
		// reentrantly.
		q.Submit(func() error {
			order = append(order, 3)
			return nil
		})
		order = append(order, 2)
		return nil
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if !reflect.DeepEqual(order, []int{1, 2, 3}) {
		t.Errorf("execution order = %v, want [1 2 3]", order)
	}
	if q.Pending() != 0 {
		t.Errorf("queue not drained: %d pending", q.Pending())
	}
}

func TestQueueSurfacesErrors(t *testing.T) {
	q := NewQueue()
	sentinel := errors.New("boom")
	err := q.Submit(func() error { return sentinel })
	if !errors.Is(err, sentinel) {
		t.Errorf("expected sentinel error, got %v", err)
	}
}
