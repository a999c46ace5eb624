package viewer

import "errors"

var (
	// ErrNoDatasetInSelection is returned by Inherit when no selected layer
	// carries a dataset reference.
	ErrNoDatasetInSelection = errors.New("no dataset in selection")

	// ErrAmbiguousDatasetSelection is returned by Inherit when the selected
	// layers reference more than one distinct dataset.
	ErrAmbiguousDatasetSelection = errors.New("ambiguous dataset selection")
)
