package sdata

import "fmt"

// ElementKind is the closed set of element kinds a dataset can hold.
type ElementKind int

const (
	KindImage ElementKind = iota
	KindLabels
	KindPoints
	KindShapes
)

// String returns the collection name used for the kind, matching the
// container's on-disk group names.
func (k ElementKind) String() string {
	switch k {
	case KindImage:
		return "images"
	case KindLabels:
		return "labels"
	case KindPoints:
		return "points"
	case KindShapes:
		return "shapes"
	default:
		return fmt.Sprintf("ElementKind(%d)", int(k))
	}
}

// Valid reports whether k is one of the four supported kinds.
func (k ElementKind) Valid() bool {
	return k >= KindImage && k <= KindShapes
}

// ParseKind parses a collection name into an ElementKind.
func ParseKind(s string) (ElementKind, error) {
	switch s {
	case "images":
		return KindImage, nil
	case "labels":
		return KindLabels, nil
	case "points":
		return KindPoints, nil
	case "shapes":
		return KindShapes, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedElementKind, s)
	}
}
