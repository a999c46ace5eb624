package track

import "errors"

var (
	// ErrCannotSaveExistingElement is returned when saving a layer that
	// already references a dataset element; update-in-place is not
	// supported.
	ErrCannotSaveExistingElement = errors.New("cannot save existing element")

	// ErrEmptyGeometry is returned when saving a layer with no geometry.
	ErrEmptyGeometry = errors.New("empty geometry")

	// ErrUnsupportedForCommit is returned when saving an image or label
	// layer; only point and shape layers can be committed.
	ErrUnsupportedForCommit = errors.New("unsupported layer kind for commit")

	// ErrStaleIndexMap is returned when a viewer-local position has no
	// entry in the layer's row index map, indicating the dataset changed
	// underneath the viewer.
	ErrStaleIndexMap = errors.New("stale row index map")

	// ErrNotTracked is returned for edit operations on a layer the tracker
	// is not observing.
	ErrNotTracked = errors.New("layer not tracked")
)
