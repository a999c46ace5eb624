package viewer

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/spatialbridge/server/internal/sdata"
)

// Inherit propagates a dataset identity onto the free layers in a
// selection. It requires exactly one distinct dataset among the
// element-backed layers; every free layer of a trackable kind then adopts
// that dataset, the reference layer's coordinate-system state, and a
// cleared bookkeeping seed so the commit path initializes it freshly. The
// adopted layer stays free until it is committed: it gains a dataset to
// save into, never an element reference.
func Inherit(selected []*Layer, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	var ref *Layer
	for _, l := range selected {
		if l.IsFree() {
			continue
		}
		if ref != nil && ref.Meta.Dataset != l.Meta.Dataset {
			return fmt.Errorf("%w: %q and %q belong to different datasets",
				ErrAmbiguousDatasetSelection, ref.Name, l.Name)
		}
		if ref == nil {
			ref = l
		}
	}
	if ref == nil {
		return ErrNoDatasetInSelection
	}

	for _, l := range selected {
		if !l.IsFree() || !trackableKind(l.Kind) {
			continue
		}
		l.Meta.Dataset = ref.Meta.Dataset
		l.Meta.DatasetIndex = ref.Meta.DatasetIndex
		l.Meta.ActiveIn = map[string]struct{}{ref.Meta.CurrentCS: {}}
		l.Meta.CurrentCS = ref.Meta.CurrentCS
		l.Meta.RegionKey = ""
		l.Meta.RowIndexMap = nil
		l.Meta.RowCounter = 0
		logger.Info("layer inherited dataset identity",
			zap.String("layer", l.Name),
			zap.String("from", ref.Name),
			zap.String("dataset", ref.Meta.Dataset.Name()))
	}
	return nil
}

func trackableKind(k sdata.ElementKind) bool {
	switch k {
	case sdata.KindPoints, sdata.KindShapes, sdata.KindLabels:
		return true
	default:
		return false
	}
}
