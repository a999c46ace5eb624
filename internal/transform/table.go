package transform

import "errors"

// ErrNoCoordinateSystem is returned when a transform is requested without
// naming a coordinate system. Relying on a table's first entry is fragile, so
// the implicit default is opt-in through DefaultSystem only.
var ErrNoCoordinateSystem = errors.New("no coordinate system specified")

type entry struct {
	system string
	affine Affine
}

// Table holds an element's transforms keyed by coordinate-system name,
// preserving insertion order.
type Table struct {
	entries []entry
}

// NewTable returns an empty transform table.
func NewTable() *Table {
	return &Table{}
}

// Set inserts or replaces the transform for a coordinate system. A new system
// is appended, keeping the table's order deterministic.
func (t *Table) Set(system string, a Affine) {
	for i := range t.entries {
		if t.entries[i].system == system {
			t.entries[i].affine = a
			return
		}
	}
	t.entries = append(t.entries, entry{system: system, affine: a})
}

// Get returns the transform for the named coordinate system, or false when
// the element has no transform into that system.
func (t *Table) Get(system string) (Affine, bool) {
	for _, e := range t.entries {
		if e.system == system {
			return e.affine, true
		}
	}
	return Affine{}, false
}

// Has reports whether a transform into the named system exists.
func (t *Table) Has(system string) bool {
	_, ok := t.Get(system)
	return ok
}

// Systems returns the coordinate-system names in insertion order.
func (t *Table) Systems() []string {
	out := make([]string, len(t.entries))
	for i, e := range t.entries {
		out[i] = e.system
	}
	return out
}

// DefaultSystem returns the first coordinate system in insertion order. This
// mirrors how upstream containers pick a transform when none is named; it is
// only stable for as long as the element's transform table is not mutated.
func (t *Table) DefaultSystem() (string, error) {
	if len(t.entries) == 0 {
		return "", ErrNoCoordinateSystem
	}
	return t.entries[0].system, nil
}

// Len returns the number of coordinate systems in the table.
func (t *Table) Len() int {
	return len(t.entries)
}

// Clone returns a deep copy of the table.
func (t *Table) Clone() *Table {
	c := &Table{entries: make([]entry, len(t.entries))}
	copy(c.entries, t.entries)
	return c
}
