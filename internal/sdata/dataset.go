package sdata

import (
	"fmt"
	"sync"

	"github.com/spatialbridge/server/internal/transform"
)

// Dataset is a container of named spatial elements and annotation tables.
// Datasets are referenced by pointer identity: two open datasets are the same
// dataset only when they are the same *Dataset.
//
// Element and table storage is mutated only through WriteElement and
// SetTable; readers and the single writer are serialized by the dataset's
// lock, so a commit is never observed half-applied.
type Dataset struct {
	name string

	mu       sync.Mutex
	order    []string
	elements map[string]*Element

	tableOrder []string
	tables     map[string]*Table
}

// New creates an empty dataset.
func New(name string) *Dataset {
	return &Dataset{
		name:     name,
		elements: make(map[string]*Element),
		tables:   make(map[string]*Table),
	}
}

// Name returns the dataset name.
func (d *Dataset) Name() string { return d.name }

// WriteElement installs an element under its name. If the element carries no
// transforms, an identity transform into the given coordinate system is set,
// which is how viewer-authored geometry is committed. Fails with
// ErrNameCollision when the name is taken.
func (d *Dataset) WriteElement(el *Element, system string) error {
	if !el.Kind.Valid() {
		return fmt.Errorf("%w: %v", ErrUnsupportedElementKind, el.Kind)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.elements[el.Name]; exists {
		return fmt.Errorf("%w: element %q in dataset %q", ErrNameCollision, el.Name, d.name)
	}
	if el.Transforms == nil {
		el.Transforms = transform.NewTable()
	}
	if el.Transforms.Len() == 0 && system != "" {
		el.Transforms.Set(system, transform.Identity())
	}
	d.order = append(d.order, el.Name)
	d.elements[el.Name] = el
	return nil
}

// Element returns the element under the given name.
func (d *Dataset) Element(name string) (*Element, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	el, ok := d.elements[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q in dataset %q", ErrElementNotFound, name, d.name)
	}
	return el, nil
}

// ElementOfKind returns the element under the given name, checking its kind.
func (d *Dataset) ElementOfKind(kind ElementKind, name string) (*Element, error) {
	el, err := d.Element(name)
	if err != nil {
		return nil, err
	}
	if el.Kind != kind {
		return nil, fmt.Errorf("%w: %q is %v, not %v", ErrElementNotFound, name, el.Kind, kind)
	}
	return el, nil
}

// HasElement reports whether the dataset holds an element under the name.
func (d *Dataset) HasElement(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.elements[name]
	return ok
}

// Elements returns all elements in insertion order.
func (d *Dataset) Elements() []*Element {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*Element, 0, len(d.order))
	for _, name := range d.order {
		out = append(out, d.elements[name])
	}
	return out
}

// ElementsInCoordinateSystem returns, in insertion order, the elements that
// carry a transform into the named coordinate system.
func (d *Dataset) ElementsInCoordinateSystem(system string) []*Element {
	var out []*Element
	for _, el := range d.Elements() {
		if el.Transforms.Has(system) {
			out = append(out, el)
		}
	}
	return out
}

// CoordinateSystems returns the union of coordinate systems over all
// elements, in first-seen order.
func (d *Dataset) CoordinateSystems() []string {
	var out []string
	seen := make(map[string]struct{})
	for _, el := range d.Elements() {
		for _, cs := range el.Transforms.Systems() {
			if _, ok := seen[cs]; !ok {
				seen[cs] = struct{}{}
				out = append(out, cs)
			}
		}
	}
	return out
}

// SetTable installs or replaces an annotation table under its name.
func (d *Dataset) SetTable(t *Table) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.tables[t.Name()]; !exists {
		d.tableOrder = append(d.tableOrder, t.Name())
	}
	d.tables[t.Name()] = t
}

// Table returns the named annotation table.
func (d *Dataset) Table(name string) (*Table, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.tables[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q in dataset %q", ErrTableNotFound, name, d.name)
	}
	return t, nil
}

// TableNames returns the table names in insertion order.
func (d *Dataset) TableNames() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.tableOrder))
	copy(out, d.tableOrder)
	return out
}

// DefaultTable returns the first annotation table, or nil when the dataset
// has none.
func (d *Dataset) DefaultTable() *Table {
	names := d.TableNames()
	if len(names) == 0 {
		return nil
	}
	t, _ := d.Table(names[0])
	return t
}

// AnnotationFor returns the rows of the named table annotating the given
// element: those whose region key column equals the element name. Returns nil
// when the table does not annotate regions at all.
func (d *Dataset) AnnotationFor(elementName, tableName string) (*Table, error) {
	t, err := d.Table(tableName)
	if err != nil {
		return nil, err
	}
	if t.RegionKey() == "" {
		return nil, nil
	}
	return t.FilterEqual(t.RegionKey(), elementName)
}
