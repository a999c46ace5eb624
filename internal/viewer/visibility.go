package viewer

import (
	"go.uber.org/zap"

	"github.com/spatialbridge/server/internal/sdata"
)

// Synchronizer keeps layer visibility consistent with the selected
// coordinate system. The active-systems set only grows on switches; it
// shrinks solely through an explicit visibility-off toggle.
type Synchronizer struct {
	logger *zap.Logger
}

// NewSynchronizer creates a Synchronizer.
func NewSynchronizer(logger *zap.Logger) *Synchronizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Synchronizer{logger: logger}
}

// SwitchCoordinateSystem re-evaluates every dataset-derived layer against
// the newly selected system. Layers presentable there become visible, add
// the system to their active set, and refresh their affine. Layers absent
// from the new system stay as they are while any previously active system
// keeps them claimed; they hide only once their active set is empty.
func (s *Synchronizer) SwitchCoordinateSystem(layers []*Layer, newSystem string) error {
	for _, l := range layers {
		if l.IsFree() {
			continue
		}
		el, err := l.Meta.Dataset.Element(l.Meta.OriginalName)
		if err != nil {
			// The element may have been removed out from under us; leave
			// the layer untouched rather than guessing.
			s.logger.Warn("layer element missing during coordinate-system switch",
				zap.String("layer", l.Name), zap.Error(err))
			continue
		}
		affine, ok, err := sdata.ResolveTransform(el, newSystem)
		if err != nil {
			return err
		}
		if ok {
			l.Visible = true
			l.Affine = affine
			l.Meta.Activate(newSystem)
			l.Meta.CurrentCS = newSystem
			continue
		}
		// Not presentable in the new system. The layer keeps its last
		// visibility while some active system still claims it.
		l.Meta.CurrentCS = newSystem
		if len(l.Meta.ActiveIn) == 0 {
			l.Visible = false
		}
	}
	return nil
}

// SetVisibility applies a manual visibility toggle. Turning a layer off
// removes only the currently selected system from its active set; turning
// it back on re-adds it.
func (s *Synchronizer) SetVisibility(l *Layer, visible bool) {
	l.Visible = visible
	if l.Meta == nil || l.Meta.CurrentCS == "" {
		return
	}
	if visible {
		l.Meta.Activate(l.Meta.CurrentCS)
		return
	}
	l.Meta.Deactivate(l.Meta.CurrentCS)
}
