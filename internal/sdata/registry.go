package sdata

// Registry is the ordered set of datasets open in one session. It is
// constructor-injected into the components that need cross-dataset lookups
// so independent sessions can coexist.
type Registry struct {
	datasets []*Dataset
}

// NewRegistry creates a registry over the given datasets, in order.
func NewRegistry(datasets ...*Dataset) *Registry {
	return &Registry{datasets: datasets}
}

// Add appends a dataset and returns its index.
func (r *Registry) Add(d *Dataset) int {
	r.datasets = append(r.datasets, d)
	return len(r.datasets) - 1
}

// Datasets returns the datasets in registration order.
func (r *Registry) Datasets() []*Dataset {
	out := make([]*Dataset, len(r.datasets))
	copy(out, r.datasets)
	return out
}

// At returns the dataset at the given index.
func (r *Registry) At(i int) (*Dataset, bool) {
	if i < 0 || i >= len(r.datasets) {
		return nil, false
	}
	return r.datasets[i], true
}

// Index returns the position of a dataset, or -1 when it is not registered.
func (r *Registry) Index(d *Dataset) int {
	for i, got := range r.datasets {
		if got == d {
			return i
		}
	}
	return -1
}

// Len returns the number of registered datasets.
func (r *Registry) Len() int { return len(r.datasets) }
