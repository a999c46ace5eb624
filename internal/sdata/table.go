package sdata

import (
	"fmt"
	"strconv"
)

// Table is an annotation table: a set of equal-length named columns, plus the
// region key and instance key that tie rows to dataset elements. The region
// key column names the element each row annotates; the instance key column
// holds the per-row identity inside that element (e.g. a label value).
type Table struct {
	name        string
	regionKey   string
	instanceKey string

	order []string
	cols  map[string]*Column
	nrows int
}

// NewTable creates an empty table.
func NewTable(name string) *Table {
	return &Table{name: name, cols: make(map[string]*Column)}
}

// Name returns the table name.
func (t *Table) Name() string { return t.name }

// SetAnnotationKeys declares which columns act as region key and instance key.
func (t *Table) SetAnnotationKeys(regionKey, instanceKey string) {
	t.regionKey = regionKey
	t.instanceKey = instanceKey
}

// RegionKey returns the region key column name, or "" when the table does not
// annotate regions.
func (t *Table) RegionKey() string { return t.regionKey }

// InstanceKey returns the instance key column name.
func (t *Table) InstanceKey() string { return t.instanceKey }

// NRows returns the table's row count.
func (t *Table) NRows() int { return t.nrows }

// ColumnNames returns the column names in insertion order.
func (t *Table) ColumnNames() []string {
	out := make([]string, len(t.order))
	copy(out, t.order)
	return out
}

// Column returns the named column.
func (t *Table) Column(name string) (*Column, error) {
	c, ok := t.cols[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q in table %q", ErrColumnNotFound, name, t.name)
	}
	return c, nil
}

// SetColumn adds or replaces a column. All columns must share the same row
// count; the first column added fixes it.
func (t *Table) SetColumn(name string, col *Column) error {
	if len(t.order) > 0 && col.Len() != t.nrows {
		return fmt.Errorf("column %q has %d rows, table %q has %d", name, col.Len(), t.name, t.nrows)
	}
	if _, exists := t.cols[name]; !exists {
		t.order = append(t.order, name)
	}
	t.cols[name] = col
	t.nrows = col.Len()
	return nil
}

// FilterEqual returns the subset of rows whose categorical column equals the
// given value. The returned table shares no row storage with the receiver.
func (t *Table) FilterEqual(column, value string) (*Table, error) {
	col, err := t.Column(column)
	if err != nil {
		return nil, err
	}
	if col.Kind() != ColumnCategorical {
		return nil, fmt.Errorf("column %q is not categorical", column)
	}
	var rows []int
	for i, v := range col.Values() {
		if v == value {
			rows = append(rows, i)
		}
	}
	return t.Subset(rows), nil
}

// Subset returns a new table with only the rows at the given positions.
func (t *Table) Subset(rows []int) *Table {
	out := NewTable(t.name)
	out.regionKey = t.regionKey
	out.instanceKey = t.instanceKey
	for _, name := range t.order {
		out.order = append(out.order, name)
		out.cols[name] = t.cols[name].Subset(rows)
	}
	if len(t.order) > 0 {
		out.nrows = len(rows)
	}
	return out
}

// Vector is an extracted table column prepared for plotting: either a dense
// numeric vector or a per-row categorical vector with its palette.
type Vector struct {
	Name       string
	Floats     []float64
	Categories []string
	Palette    map[string]string
}

// IsCategorical reports whether the vector carries category values.
func (v *Vector) IsCategorical() bool { return v.Categories != nil }

// Vector extracts a column as a plottable vector. Integer-valued numeric
// columns are promoted to categorical when they look like labels: at most two
// distinct values drawn from {0, 1}, or no more than one distinct value per
// hundred rows. When normalize is set, numeric vectors are min-max scaled to
// [0, 1].
func (t *Table) Vector(name string, normalize bool) (*Vector, error) {
	col, err := t.Column(name)
	if err != nil {
		return nil, err
	}

	if col.Kind() == ColumnCategorical {
		return &Vector{
			Name:       name,
			Categories: col.Values(),
			Palette:    col.Colors(),
		}, nil
	}

	if cats, ok := promoteIntegers(col); ok {
		promoted := NewCategoricalColumn(cats)
		return &Vector{
			Name:       name,
			Categories: promoted.Values(),
			Palette:    promoted.Colors(),
		}, nil
	}

	floats := col.Floats()
	if normalize {
		floats = minMaxNorm(floats)
	}
	return &Vector{Name: name, Floats: floats}, nil
}

// promoteIntegers converts an integral numeric column to category strings
// when its distinct-value count is small enough to read as labels.
func promoteIntegers(col *Column) ([]string, bool) {
	if !col.isIntegral() || col.Len() == 0 {
		return nil, false
	}
	distinct := make(map[float64]struct{})
	for _, v := range col.Floats() {
		distinct[v] = struct{}{}
	}
	_, has0 := distinct[0]
	_, has1 := distinct[1]
	boolish := len(distinct) <= 2 && (has0 || has1)
	if !boolish && len(distinct) > col.Len()/100 {
		return nil, false
	}
	out := make([]string, col.Len())
	for i, v := range col.Floats() {
		if boolish {
			out[i] = strconv.FormatBool(v != 0)
		} else {
			out[i] = strconv.FormatInt(int64(v), 10)
		}
	}
	return out, true
}
