package sdata

import (
	"math"

	"github.com/spatialbridge/server/pkg/colormap"
)

// ColumnKind distinguishes numeric from categorical columns.
type ColumnKind int

const (
	ColumnNumeric ColumnKind = iota
	ColumnCategorical
)

// Column is a single table column, either numeric or categorical. Categorical
// columns track their distinct categories in first-seen order and lazily hold
// a per-category color assignment.
type Column struct {
	kind   ColumnKind
	floats []float64
	values []string

	categories []string
	colors     map[string]string
}

// NewNumericColumn creates a numeric column over the given values.
func NewNumericColumn(values []float64) *Column {
	return &Column{kind: ColumnNumeric, floats: values}
}

// NewCategoricalColumn creates a categorical column; the distinct categories
// are collected in first-seen order.
func NewCategoricalColumn(values []string) *Column {
	c := &Column{kind: ColumnCategorical, values: values}
	seen := make(map[string]struct{})
	for _, v := range values {
		if _, ok := seen[v]; !ok {
			seen[v] = struct{}{}
			c.categories = append(c.categories, v)
		}
	}
	return c
}

// Kind returns the column kind.
func (c *Column) Kind() ColumnKind { return c.kind }

// Len returns the row count.
func (c *Column) Len() int {
	if c.kind == ColumnNumeric {
		return len(c.floats)
	}
	return len(c.values)
}

// Floats returns the numeric values; nil for categorical columns.
func (c *Column) Floats() []float64 { return c.floats }

// Values returns the per-row categorical values; nil for numeric columns.
func (c *Column) Values() []string { return c.values }

// Categories returns the distinct categories in first-seen order.
func (c *Column) Categories() []string { return c.categories }

// Colors returns the per-category color assignment, assigning palette colors
// on first use so that a category keeps its color for the table's lifetime.
func (c *Column) Colors() map[string]string {
	if c.kind != ColumnCategorical {
		return nil
	}
	c.colors = colormap.AssignPalette(c.categories, c.colors)
	return c.colors
}

// SetColor overrides the color for a single category.
func (c *Column) SetColor(category, hex string) {
	if c.kind != ColumnCategorical {
		return
	}
	c.colors = colormap.AssignPalette(c.categories, c.colors)
	c.colors[category] = hex
}

// Subset returns a new column holding the rows at the given positions.
func (c *Column) Subset(rows []int) *Column {
	if c.kind == ColumnNumeric {
		out := make([]float64, len(rows))
		for i, r := range rows {
			out[i] = c.floats[r]
		}
		return NewNumericColumn(out)
	}
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = c.values[r]
	}
	sub := NewCategoricalColumn(out)
	if c.colors != nil {
		sub.colors = colormap.AssignPalette(sub.categories, c.colors)
	}
	return sub
}

// isIntegral reports whether every numeric value is a whole number.
func (c *Column) isIntegral() bool {
	if c.kind != ColumnNumeric {
		return false
	}
	for _, v := range c.floats {
		if v != math.Trunc(v) || math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func minMaxNorm(values []float64) []float64 {
	minV, maxV := math.Inf(1), math.Inf(-1)
	for _, v := range values {
		if math.IsNaN(v) {
			continue
		}
		if v < minV {
			minV = v
		}
		if v > maxV {
			maxV = v
		}
	}
	out := make([]float64, len(values))
	spread := maxV - minV
	if spread == 0 || math.IsInf(minV, 1) {
		for i := range out {
			out[i] = 1
		}
		return out
	}
	for i, v := range values {
		out[i] = (v - minV) / spread
	}
	return out
}
