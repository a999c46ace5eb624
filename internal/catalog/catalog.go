// Package catalog enumerates the elements presentable in a coordinate
// system across one or more open datasets and assigns each a display name,
// disambiguating names that occur in more than one dataset.
package catalog

import (
	"fmt"

	"github.com/spatialbridge/server/internal/sdata"
)

// Entry records the provenance of one catalog row.
type Entry struct {
	Kind         sdata.ElementKind
	DatasetIndex int
	OriginalName string
	Duplicate    bool
}

// Catalog maps display names to element provenance for one coordinate
// system. Rebuild it on every coordinate-system switch or dataset change;
// it holds no live references beyond dataset indices.
type Catalog struct {
	system  string
	order   []string
	entries map[string]Entry
}

// Build enumerates every element presentable in the given coordinate system,
// in caller-supplied dataset order and each dataset's native element order.
// Element names occurring in more than one dataset get the owning dataset's
// index appended; unique names pass through unchanged.
func Build(datasets []*sdata.Dataset, system string) *Catalog {
	type hit struct {
		kind         sdata.ElementKind
		datasetIndex int
		name         string
	}
	var hits []hit
	count := make(map[string]int)
	for i, d := range datasets {
		for _, el := range d.ElementsInCoordinateSystem(system) {
			hits = append(hits, hit{kind: el.Kind, datasetIndex: i, name: el.Name})
			count[el.Name]++
		}
	}

	c := &Catalog{system: system, entries: make(map[string]Entry, len(hits))}
	for _, h := range hits {
		dup := count[h.name] > 1
		display := h.name
		if dup {
			display = fmt.Sprintf("%s_%d", h.name, h.datasetIndex)
		}
		c.order = append(c.order, display)
		c.entries[display] = Entry{
			Kind:         h.kind,
			DatasetIndex: h.datasetIndex,
			OriginalName: h.name,
			Duplicate:    dup,
		}
	}
	return c
}

// System returns the coordinate system the catalog was built for.
func (c *Catalog) System() string { return c.system }

// DisplayNames returns every display name in enumeration order.
func (c *Catalog) DisplayNames() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// Lookup returns the provenance entry for a display name.
func (c *Catalog) Lookup(display string) (Entry, bool) {
	e, ok := c.entries[display]
	return e, ok
}

// DisplayNameFor returns the display name assigned to an element, given its
// original name and owning dataset index. Used to auto-select an element
// that was just committed.
func (c *Catalog) DisplayNameFor(originalName string, datasetIndex int) (string, bool) {
	if e, ok := c.entries[originalName]; ok && e.DatasetIndex == datasetIndex {
		return originalName, true
	}
	suffixed := fmt.Sprintf("%s_%d", originalName, datasetIndex)
	if _, ok := c.entries[suffixed]; ok {
		return suffixed, true
	}
	return "", false
}

// Len returns the number of catalogued elements.
func (c *Catalog) Len() int { return len(c.order) }
