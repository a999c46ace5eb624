package scatter

import (
	"bytes"
	"errors"
	"math"
	"testing"

	"github.com/spatialbridge/server/internal/sdata"
)

var pngMagic = []byte{0x89, 'P', 'N', 'G'}

func TestPlotContinuous(t *testing.T) {
	p := NewPlotter(Config{Width: 200, Height: 150})
	img, err := p.Plot(Request{
		X:      []float64{0, 1, 2, 3},
		Y:      []float64{0, 1, 4, 9},
		Color:  &sdata.Vector{Name: "expr", Floats: []float64{0, 0.2, 0.7, 1}},
		XLabel: "umap_1",
		YLabel: "umap_2",
	})
	if err != nil {
		t.Fatalf("Plot failed: %v", err)
	}
	if !bytes.HasPrefix(img, pngMagic) {
		t.Error("plot output is not a PNG")
	}
}

func TestPlotContinuousWithNaN(t *testing.T) {
	p := NewPlotter(Config{Width: 200, Height: 150})
	img, err := p.Plot(Request{
		X:     []float64{0, 1, 2},
		Y:     []float64{0, 1, 4},
		Color: &sdata.Vector{Name: "expr", Floats: []float64{0, math.NaN(), 2}},
	})
	if err != nil {
		t.Fatalf("Plot failed: %v", err)
	}
	if !bytes.HasPrefix(img, pngMagic) {
		t.Error("plot output is not a PNG")
	}
}

func TestPlotCategorical(t *testing.T) {
	p := NewPlotter(Config{Width: 200, Height: 150})
	col := sdata.NewCategoricalColumn([]string{"a", "b", "a"})
	img, err := p.Plot(Request{
		X:     []float64{0, 1, 2},
		Y:     []float64{0, 1, 2},
		Color: &sdata.Vector{Name: "cluster", Categories: col.Values(), Palette: col.Colors()},
	})
	if err != nil {
		t.Fatalf("Plot failed: %v", err)
	}
	if !bytes.HasPrefix(img, pngMagic) {
		t.Error("plot output is not a PNG")
	}
}

func TestPlotLengthMismatch(t *testing.T) {
	p := NewPlotter(Config{})
	_, err := p.Plot(Request{X: []float64{0, 1}, Y: []float64{0}})
	if !errors.Is(err, ErrVectorLengthMismatch) {
		t.Errorf("expected ErrVectorLengthMismatch, got %v", err)
	}
}

func TestLassoSelect(t *testing.T) {
	p := NewPlotter(Config{Width: 100, Height: 100})
	// Uniform face color: no color vector at all.
	if _, err := p.Plot(Request{
		X: []float64{1, 5, 9},
		Y: []float64{1, 5, 9},
	}); err != nil {
		t.Fatalf("Plot failed: %v", err)
	}

	// A lasso around the middle point only.
	mask, err := p.LassoSelect([][2]float64{{3, 3}, {7, 3}, {7, 7}, {3, 7}})
	if err != nil {
		t.Fatalf("LassoSelect failed: %v", err)
	}
	want := []bool{false, true, false}
	for i := range want {
		if mask[i] != want[i] {
			t.Errorf("mask[%d] = %v, want %v", i, mask[i], want[i])
		}
	}
}

func TestExport(t *testing.T) {
	p := NewPlotter(Config{Width: 100, Height: 100})
	tab := sdata.NewTable("obs")
	if err := tab.SetColumn("score", sdata.NewNumericColumn([]float64{1, 2, 3})); err != nil {
		t.Fatalf("SetColumn failed: %v", err)
	}

	t.Run("before any lasso", func(t *testing.T) {
		if err := p.Export(tab, "selection"); !errors.Is(err, ErrNoSelectionMade) {
			t.Errorf("expected ErrNoSelectionMade, got %v", err)
		}
	})

	t.Run("after lasso", func(t *testing.T) {
		if _, err := p.Plot(Request{X: []float64{1, 5, 9}, Y: []float64{1, 5, 9}}); err != nil {
			t.Fatalf("Plot failed: %v", err)
		}
		if _, err := p.LassoSelect([][2]float64{{0, 0}, {6, 0}, {6, 6}, {0, 6}}); err != nil {
			t.Fatalf("LassoSelect failed: %v", err)
		}
		if err := p.Export(tab, "selection"); err != nil {
			t.Fatalf("Export failed: %v", err)
		}
		col, err := tab.Column("selection")
		if err != nil {
			t.Fatalf("Column failed: %v", err)
		}
		want := []string{"true", "true", "false"}
		for i, v := range col.Values() {
			if v != want[i] {
				t.Errorf("selection[%d] = %q, want %q", i, v, want[i])
			}
		}
	})
}
