package viewer

import (
	"errors"
	"testing"

	"github.com/paulmach/orb"

	"github.com/spatialbridge/server/internal/sdata"
	"github.com/spatialbridge/server/internal/transform"
)

func pointsDataset(t *testing.T, name string, n int, systems ...string) *sdata.Dataset {
	t.Helper()
	d := sdata.New(name)
	el := sdata.NewElement(sdata.KindPoints, "transcripts")
	x := make([]float64, n)
	y := make([]float64, n)
	for i := range x {
		x[i] = float64(i)
		y[i] = float64(2 * i)
	}
	el.Points = &sdata.PointCloud{X: x, Y: y}
	for _, cs := range systems {
		el.Transforms.Set(cs, transform.Identity())
	}
	if err := d.WriteElement(el, ""); err != nil {
		t.Fatalf("WriteElement failed: %v", err)
	}
	return d
}

func TestAddPointsSubsampling(t *testing.T) {
	f := NewFactory(FactoryConfig{Limits: Limits{
		MaxPoints: 1000, MaxShapes: 100, SimplifyTolerance: 2, MaxCircles: 10000,
	}})

	t.Run("above threshold", func(t *testing.T) {
		d := pointsDataset(t, "big", 2500, "global")
		l, err := f.AddPoints(d, 0, "transcripts", "global", false)
		if err != nil {
			t.Fatalf("AddPoints failed: %v", err)
		}
		if got := l.RowCount(); got != 1000 {
			t.Fatalf("row count = %d, want 1000", got)
		}
		if len(l.Meta.RowIndexMap) != 1000 {
			t.Fatalf("RowIndexMap length = %d, want 1000", len(l.Meta.RowIndexMap))
		}
		for i := 1; i < len(l.Meta.RowIndexMap); i++ {
			if l.Meta.RowIndexMap[i] <= l.Meta.RowIndexMap[i-1] {
				t.Fatalf("RowIndexMap not strictly increasing at %d: %d then %d",
					i, l.Meta.RowIndexMap[i-1], l.Meta.RowIndexMap[i])
			}
		}
		if l.Meta.RowCounter != 2500 {
			t.Errorf("RowCounter = %d, want 2500", l.Meta.RowCounter)
		}
	})

	t.Run("below threshold keeps identity map", func(t *testing.T) {
		d := pointsDataset(t, "small", 50, "global")
		l, err := f.AddPoints(d, 0, "transcripts", "global", false)
		if err != nil {
			t.Fatalf("AddPoints failed: %v", err)
		}
		if got := l.RowCount(); got != 50 {
			t.Fatalf("row count = %d, want 50", got)
		}
		for i, id := range l.Meta.RowIndexMap {
			if id != int64(i) {
				t.Fatalf("RowIndexMap[%d] = %d, want identity", i, id)
			}
		}
	})

	t.Run("axis swap", func(t *testing.T) {
		d := pointsDataset(t, "small", 10, "global")
		l, err := f.AddPoints(d, 0, "transcripts", "global", false)
		if err != nil {
			t.Fatalf("AddPoints failed: %v", err)
		}
		// Element coordinates are (x=3, y=6); the viewer row comes first.
		if l.Points.RC[3] != [2]float64{6, 3} {
			t.Errorf("RC[3] = %v, want [6 3]", l.Points.RC[3])
		}
	})

	t.Run("obs carries geometry columns", func(t *testing.T) {
		d := pointsDataset(t, "small", 10, "global")
		l, err := f.AddPoints(d, 0, "transcripts", "global", false)
		if err != nil {
			t.Fatalf("AddPoints failed: %v", err)
		}
		xcol, err := l.Meta.Obs.Column("x")
		if err != nil {
			t.Fatalf("obs missing x column: %v", err)
		}
		if xcol.Floats()[3] != 3 {
			t.Errorf("obs x[3] = %v, want 3", xcol.Floats()[3])
		}
	})

	t.Run("missing element", func(t *testing.T) {
		d := pointsDataset(t, "small", 10, "global")
		_, err := f.AddPoints(d, 0, "nope", "global", false)
		if !errors.Is(err, sdata.ErrElementNotFound) {
			t.Errorf("expected ErrElementNotFound, got %v", err)
		}
	})

	t.Run("absent coordinate system", func(t *testing.T) {
		d := pointsDataset(t, "small", 10, "global")
		_, err := f.AddPoints(d, 0, "transcripts", "aligned", false)
		if !errors.Is(err, sdata.ErrElementNotFound) {
			t.Errorf("expected ErrElementNotFound, got %v", err)
		}
	})
}

func TestSampleSortedDeterminism(t *testing.T) {
	a := sampleSorted(5000, 100, 7)
	b := sampleSorted(5000, 100, 7)
	if len(a) != 100 {
		t.Fatalf("sample length = %d, want 100", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("sample not deterministic at %d: %d vs %d", i, a[i], b[i])
		}
	}
}

func TestAddImageRGB(t *testing.T) {
	f := NewFactory(FactoryConfig{})
	d := sdata.New("sample")
	el := sdata.NewElement(sdata.KindImage, "he_stain")
	// 3 channels, 2x2: channel-first storage.
	pix := make([]float64, 3*2*2)
	for i := range pix {
		pix[i] = float64(i)
	}
	el.Raster = &sdata.Raster{Pyramid: []*sdata.Grid{{C: 3, H: 2, W: 2, Pix: pix}}}
	if err := d.WriteElement(el, "global"); err != nil {
		t.Fatalf("WriteElement failed: %v", err)
	}

	l, err := f.AddImage(d, 0, "he_stain", "global", false)
	if err != nil {
		t.Fatalf("AddImage failed: %v", err)
	}
	if !l.Raster.RGB {
		t.Error("3-channel image should be color-renderable")
	}
	p := l.Raster.Levels[0]
	// Channel-first value at (c=2, y=1, x=0) must land at (y=1, x=0, c=2).
	if got := p.At(1, 0, 2); got != el.Raster.Root().At(2, 1, 0) {
		t.Errorf("channel reorder mismatch: got %v", got)
	}
}

func TestPyramidLevelPlacement(t *testing.T) {
	f := NewFactory(FactoryConfig{})
	d := sdata.New("sample")
	el := sdata.NewElement(sdata.KindImage, "he_stain")
	el.Raster = &sdata.Raster{Pyramid: []*sdata.Grid{
		{C: 1, H: 8, W: 4, Pix: make([]float64, 8*4)},
		{C: 1, H: 4, W: 2, Pix: make([]float64, 4*2)},
	}}
	el.Transforms.Set("global", transform.Scale(3, 3))
	if err := d.WriteElement(el, ""); err != nil {
		t.Fatalf("WriteElement failed: %v", err)
	}

	l, err := f.AddImage(d, 0, "he_stain", "global", false)
	if err != nil {
		t.Fatalf("AddImage failed: %v", err)
	}
	if got := l.Raster.Levels[0].Affine; got != l.Affine {
		t.Errorf("root level placement = %+v, want layer placement %+v", got, l.Affine)
	}
	// A pixel of the half-resolution level covers two root pixels per axis,
	// so its placement is the layer placement composed with that scale.
	want := l.Affine.Mul(transform.Scale(2, 2))
	if got := l.Raster.Levels[1].Affine; got != want {
		t.Errorf("downscaled level placement = %+v, want %+v", got, want)
	}
	row, col := l.Raster.Levels[1].Affine.Apply(1, 1)
	if row != 6 || col != 6 {
		t.Errorf("level pixel (1,1) placed at (%v,%v), want (6,6)", row, col)
	}
}

func TestAddLabelsAnnotation(t *testing.T) {
	f := NewFactory(FactoryConfig{})
	d := sdata.New("sample")
	el := sdata.NewElement(sdata.KindLabels, "cells")
	el.Raster = &sdata.Raster{Pyramid: []*sdata.Grid{{C: 1, H: 1, W: 1, Pix: []float64{0}}}}
	if err := d.WriteElement(el, "global"); err != nil {
		t.Fatalf("WriteElement failed: %v", err)
	}

	tab := sdata.NewTable("obs")
	tab.SetAnnotationKeys("region", "cell_id")
	tab.SetColumn("region", sdata.NewCategoricalColumn([]string{"cells", "other", "cells"}))
	tab.SetColumn("cluster", sdata.NewCategoricalColumn([]string{"a", "b", "c"}))
	d.SetTable(tab)

	l, err := f.AddLabels(d, 0, "cells", "global", false)
	if err != nil {
		t.Fatalf("AddLabels failed: %v", err)
	}
	if l.Meta.Obs == nil || l.Meta.Obs.NRows() != 2 {
		t.Fatalf("expected 2 annotation rows, got %+v", l.Meta.Obs)
	}
	if l.Meta.RegionKey != "cell_id" {
		t.Errorf("RegionKey = %q, want %q", l.Meta.RegionKey, "cell_id")
	}
}

func TestAddShapes(t *testing.T) {
	f := NewFactory(FactoryConfig{Limits: Limits{
		MaxPoints: 100000, MaxShapes: 100, SimplifyTolerance: 2, MaxCircles: 2,
	}})

	t.Run("multipolygon keeps largest part", func(t *testing.T) {
		d := sdata.New("sample")
		el := sdata.NewElement(sdata.KindShapes, "regions")
		small := orb.Polygon{{{0, 0}, {1, 0}, {1, 1}, {0, 0}}}
		big := orb.Polygon{{{10, 10}, {20, 10}, {20, 20}, {10, 20}, {10, 10}}}
		el.Shapes = &sdata.ShapeSet{Geoms: []orb.Geometry{orb.MultiPolygon{small, big}}}
		if err := d.WriteElement(el, "global"); err != nil {
			t.Fatalf("WriteElement failed: %v", err)
		}

		l, err := f.AddShapes(d, 0, "regions", "global", false)
		if err != nil {
			t.Fatalf("AddShapes failed: %v", err)
		}
		if len(l.Shapes.Rings) != 1 {
			t.Fatalf("expected 1 ring, got %d", len(l.Shapes.Rings))
		}
		// The largest part's first vertex (x=10, y=10) arrives swapped.
		if l.Shapes.Rings[0][0] != [2]float64{10, 10} || len(l.Shapes.Rings[0]) != 5 {
			t.Errorf("unexpected ring: %v", l.Shapes.Rings[0])
		}
	})

	t.Run("circles become diameters", func(t *testing.T) {
		d := sdata.New("sample")
		el := sdata.NewElement(sdata.KindShapes, "cells")
		el.Shapes = &sdata.ShapeSet{
			Centers: []orb.Point{{1, 2}},
			Radii:   []float64{3},
		}
		if err := d.WriteElement(el, "global"); err != nil {
			t.Fatalf("WriteElement failed: %v", err)
		}

		l, err := f.AddShapes(d, 0, "cells", "global", false)
		if err != nil {
			t.Fatalf("AddShapes failed: %v", err)
		}
		if l.Shapes.Centers[0] != [2]float64{2, 1} {
			t.Errorf("center = %v, want [2 1]", l.Shapes.Centers[0])
		}
		if l.Shapes.Sizes[0] != 6 {
			t.Errorf("size = %v, want 6", l.Shapes.Sizes[0])
		}
		if l.Shapes.PointsFallback {
			t.Error("small circle set must not fall back to points")
		}
	})

	t.Run("large circle sets fall back to points", func(t *testing.T) {
		d := sdata.New("sample")
		el := sdata.NewElement(sdata.KindShapes, "cells")
		el.Shapes = &sdata.ShapeSet{
			Centers: []orb.Point{{0, 0}, {1, 1}, {2, 2}},
			Radii:   []float64{1, 1, 1},
		}
		if err := d.WriteElement(el, "global"); err != nil {
			t.Fatalf("WriteElement failed: %v", err)
		}

		l, err := f.AddShapes(d, 0, "cells", "global", false)
		if err != nil {
			t.Fatalf("AddShapes failed: %v", err)
		}
		if !l.Shapes.PointsFallback {
			t.Error("expected points fallback above circle threshold")
		}
	})
}

func TestDuplicateKeyLookup(t *testing.T) {
	f := NewFactory(FactoryConfig{})
	d := pointsDataset(t, "second", 10, "global")
	l, err := f.AddPoints(d, 1, "transcripts_1", "global", true)
	if err != nil {
		t.Fatalf("AddPoints with suffixed key failed: %v", err)
	}
	if l.Name != "transcripts_1" {
		t.Errorf("layer name = %q, want display name", l.Name)
	}
	if l.Meta.OriginalName != "transcripts" {
		t.Errorf("OriginalName = %q, want %q", l.Meta.OriginalName, "transcripts")
	}
}

func TestVisibilityMonotonicity(t *testing.T) {
	d := sdata.New("sample")
	el := sdata.NewElement(sdata.KindPoints, "transcripts")
	el.Points = &sdata.PointCloud{X: []float64{0}, Y: []float64{0}}
	el.Transforms.Set("global", transform.Identity())
	el.Transforms.Set("space", transform.Scale(2, 2))
	if err := d.WriteElement(el, ""); err != nil {
		t.Fatalf("WriteElement failed: %v", err)
	}

	f := NewFactory(FactoryConfig{})
	l, err := f.AddPoints(d, 0, "transcripts", "global", false)
	if err != nil {
		t.Fatalf("AddPoints failed: %v", err)
	}
	s := NewSynchronizer(nil)
	layers := []*Layer{l}

	if err := s.SwitchCoordinateSystem(layers, "space"); err != nil {
		t.Fatalf("switch to space failed: %v", err)
	}
	if !l.Visible {
		t.Fatal("layer must be visible in a presentable system")
	}
	if !l.Meta.IsActiveIn("global") || !l.Meta.IsActiveIn("space") {
		t.Fatalf("active set must hold both systems: %v", l.Meta.ActiveInSystems())
	}

	if err := s.SwitchCoordinateSystem(layers, "other"); err != nil {
		t.Fatalf("switch to other failed: %v", err)
	}
	if !l.Visible {
		t.Error("layer still active elsewhere must stay visible")
	}
	if !l.Meta.IsActiveIn("global") || !l.Meta.IsActiveIn("space") {
		t.Errorf("switch must not shrink the active set: %v", l.Meta.ActiveInSystems())
	}
	if l.Meta.CurrentCS != "other" {
		t.Errorf("CurrentCS = %q, want %q", l.Meta.CurrentCS, "other")
	}

	// Manual off in "other" removes only "other", which was never added.
	s.SetVisibility(l, false)
	if l.Visible {
		t.Error("manual toggle must hide the layer")
	}
	if !l.Meta.IsActiveIn("global") || !l.Meta.IsActiveIn("space") {
		t.Errorf("toggle in absent system must not touch other members: %v",
			l.Meta.ActiveInSystems())
	}
	s.SetVisibility(l, true)
	if !l.Visible {
		t.Error("toggle back on must show the layer")
	}
}

func TestInherit(t *testing.T) {
	mk := func(name string, d *sdata.Dataset) *Layer {
		l := NewFreeLayer(name, sdata.KindShapes)
		if d != nil {
			l.Meta.Dataset = d
			l.Meta.OriginalName = name
			l.Meta.CurrentCS = "global"
			l.Meta.ActiveIn = map[string]struct{}{"global": {}}
		}
		return l
	}

	t.Run("ambiguous selection", func(t *testing.T) {
		d0, d1 := sdata.New("a"), sdata.New("b")
		err := Inherit([]*Layer{mk("x", d0), mk("y", d1)}, nil)
		if !errors.Is(err, ErrAmbiguousDatasetSelection) {
			t.Errorf("expected ErrAmbiguousDatasetSelection, got %v", err)
		}
	})

	t.Run("no dataset", func(t *testing.T) {
		err := Inherit([]*Layer{mk("x", nil), mk("y", nil)}, nil)
		if !errors.Is(err, ErrNoDatasetInSelection) {
			t.Errorf("expected ErrNoDatasetInSelection, got %v", err)
		}
	})

	t.Run("single dataset propagates", func(t *testing.T) {
		d := sdata.New("a")
		ref := mk("ref", d)
		free := mk("drawn", nil)
		free.Meta.RowIndexMap = []int64{9}
		free.Meta.RowCounter = 10
		if err := Inherit([]*Layer{ref, free}, nil); err != nil {
			t.Fatalf("Inherit failed: %v", err)
		}
		if free.Meta.Dataset != d {
			t.Fatal("free layer did not adopt the dataset")
		}
		if free.Meta.CurrentCS != "global" || !free.Meta.IsActiveIn("global") {
			t.Errorf("coordinate-system state not propagated: %+v", free.Meta)
		}
		if free.Meta.RowIndexMap != nil || free.Meta.RowCounter != 0 {
			t.Error("bookkeeping seed must be cleared on inheritance")
		}
		if !free.IsFree() {
			t.Error("adopted layer must stay commit-eligible until it is saved")
		}
	})
}
