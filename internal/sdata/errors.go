package sdata

import "errors"

var (
	// ErrElementNotFound is returned when a dataset has no element under the
	// requested name.
	ErrElementNotFound = errors.New("element not found")

	// ErrUnsupportedElementKind is returned for element kinds outside the
	// supported set (image, labels, points, shapes).
	ErrUnsupportedElementKind = errors.New("unsupported element kind")

	// ErrNameCollision is returned when writing an element or table under a
	// name the dataset already uses.
	ErrNameCollision = errors.New("name collision")

	// ErrTableNotFound is returned when a dataset has no annotation table
	// under the requested name.
	ErrTableNotFound = errors.New("table not found")

	// ErrColumnNotFound is returned when a table has no column under the
	// requested name.
	ErrColumnNotFound = errors.New("column not found")
)
