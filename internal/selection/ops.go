package selection

import (
	"fmt"
	"slices"

	"github.com/paulmach/orb"
)

// SelectZone adds the zone with the given id. Unknown ids are ignored.
func (e *Engine) SelectZone(id string, opts ...CallOption) error {
	return e.mutate("select", opts, func() (*State, []Zone, bool) {
		z, ok := e.catalog.Get(id)
		if !ok {
			return nil, nil, false
		}
		return Reduce(e.state, SelectZone{Zone: z}), []Zone{z}, true
	})
}

// DeselectZone removes the zone with the given id.
func (e *Engine) DeselectZone(id string, opts ...CallOption) error {
	return e.mutate("deselect", opts, func() (*State, []Zone, bool) {
		return Reduce(e.state, DeselectZone{ID: id}), nil, false
	})
}

// ToggleZone deselects id when it is selected and selects it otherwise.
func (e *Engine) ToggleZone(id string, opts ...CallOption) error {
	return e.mutate("toggle", opts, func() (*State, []Zone, bool) {
		if e.state.Has(id) {
			return Reduce(e.state, DeselectZone{ID: id}), nil, false
		}
		z, ok := e.catalog.Get(id)
		if !ok {
			return nil, nil, false
		}
		return Reduce(e.state, SelectZone{Zone: z}), []Zone{z}, true
	})
}

// SelectMultiple adds every known id in order. The whole request is
// rejected if the resulting selection violates the constraints.
func (e *Engine) SelectMultiple(ids []string, opts ...CallOption) error {
	return e.mutate("select_multiple", opts, func() (*State, []Zone, bool) {
		zones := e.catalog.Resolve(ids)
		return Reduce(e.state, SelectMultiple{Zones: zones}), zones, true
	})
}

// DeselectMultiple removes every listed id.
func (e *Engine) DeselectMultiple(ids []string, opts ...CallOption) error {
	return e.mutate("deselect_multiple", opts, func() (*State, []Zone, bool) {
		return Reduce(e.state, DeselectMultiple{IDs: ids}), nil, false
	})
}

// ClearSelection empties the selection.
func (e *Engine) ClearSelection(opts ...CallOption) error {
	return e.mutate("clear", opts, func() (*State, []Zone, bool) {
		return Reduce(e.state, ClearSelection{}), nil, false
	})
}

// SelectAll selects every catalog zone. In single mode that leaves the last
// catalog zone selected.
func (e *Engine) SelectAll(opts ...CallOption) error {
	return e.mutate("select_all", opts, func() (*State, []Zone, bool) {
		zones := e.catalog.All()
		return Reduce(e.state, SelectMultiple{Zones: zones}), zones, true
	})
}

// SelectByPredicate selects every catalog zone for which fn returns true.
// fn runs without the engine lock held.
func (e *Engine) SelectByPredicate(fn func(Zone) bool, opts ...CallOption) error {
	catalog, _ := e.snapshot()
	var ids []string
	for _, z := range catalog.All() {
		if fn(z) {
			ids = append(ids, z.ID)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	return e.SelectMultiple(ids, opts...)
}

// SelectAdjacent selects the zones touching or overlapping the zone id once
// it is grown by tolerance. The reference zone itself is not added. Pairs
// the geometry backend cannot evaluate count as not adjacent.
func (e *Engine) SelectAdjacent(id string, tolerance float64, opts ...CallOption) error {
	return e.SelectMultiple(e.adjacentTo(id, tolerance), opts...)
}

func (e *Engine) adjacentTo(id string, tolerance float64) []string {
	catalog, oracle := e.snapshot()
	ref, ok := catalog.Get(id)
	if !ok || ref.Geometry == nil {
		return nil
	}
	grown, err := oracle.Buffer(ref.Geometry, tolerance)
	if err != nil {
		e.log.Debug().Err(err).Str("zone", id).Msg("buffer failed, no adjacent zones")
		return nil
	}

	var ids []string
	for _, z := range catalog.All() {
		if z.ID == id || z.Geometry == nil {
			continue
		}
		if touches(oracle.Intersects(grown, z.Geometry)) || touches(oracle.Overlaps(grown, z.Geometry)) {
			ids = append(ids, z.ID)
		}
	}
	return ids
}

// SelectWithinBounds selects every zone whose centroid lies inside bounds.
func (e *Engine) SelectWithinBounds(bounds orb.Bound, opts ...CallOption) error {
	catalog, oracle := e.snapshot()
	area := bounds.ToPolygon()

	var ids []string
	for _, z := range catalog.All() {
		if z.Geometry == nil {
			continue
		}
		c, err := oracle.Centroid(z.Geometry)
		if err != nil {
			continue
		}
		if touches(oracle.PointInPolygon(c, area)) {
			ids = append(ids, z.ID)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	return e.SelectMultiple(ids, opts...)
}

func touches(ok bool, err error) bool {
	return err == nil && ok
}

// Undo restores the previous history entry. It reports whether anything
// was restored.
func (e *Engine) Undo(opts ...CallOption) (bool, error) {
	return e.replay("undo", opts, (*History).Undo)
}

// Redo re-applies the entry undone last. It reports whether anything was
// restored.
func (e *Engine) Redo(opts ...CallOption) (bool, error) {
	return e.replay("redo", opts, (*History).Redo)
}

func (e *Engine) replay(op string, opts []CallOption, step func(*History) *State) (bool, error) {
	var restored bool
	err := e.mutate(op, opts, func() (*State, []Zone, bool) {
		if e.history == nil {
			return nil, nil, false
		}
		target := step(e.history)
		if target == nil {
			return nil, nil, false
		}
		restored = true
		e.replaying = true
		return Reduce(e.state, RestoreState{State: target}), nil, false
	})
	return restored, err
}

// CanUndo reports whether Undo would restore a state.
func (e *Engine) CanUndo() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.history != nil && e.history.CanUndo()
}

// CanRedo reports whether Redo would restore a state.
func (e *Engine) CanRedo() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.history != nil && e.history.CanRedo()
}

// HistorySize returns the number of recorded snapshots.
func (e *Engine) HistorySize() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.history == nil {
		return 0
	}
	return e.history.Size()
}

// IsZoneSelected reports whether id is selected.
func (e *Engine) IsZoneSelected(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Has(id)
}

// SelectedZones returns the selected zones in selection order. Ids that no
// longer resolve against the catalog are omitted.
func (e *Engine) SelectedZones() []Zone {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.catalog.Resolve(e.state.Order)
}

// State returns a copy of the live state.
func (e *Engine) State() *State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Clone()
}

// SelectionMetrics measures the current selection.
func (e *Engine) SelectionMetrics() Metrics {
	e.mu.Lock()
	zones := e.catalog.Resolve(e.state.Order)
	oracle := e.oracle
	e.mu.Unlock()
	return computeMetrics(zones, oracle)
}

// ValidateSelection checks ids against the active constraints without
// changing anything.
func (e *Engine) ValidateSelection(ids []string) ValidationResult {
	e.mu.Lock()
	zones := e.catalog.Resolve(ids)
	constraints := e.state.Constraints
	oracle := e.oracle
	e.mu.Unlock()
	return Validate(zones, constraints, oracle)
}

// LoadSelection replaces the selection with ids, keeping mode and
// constraints.
func (e *Engine) LoadSelection(ids []string, opts ...CallOption) error {
	return e.mutate("load", opts, func() (*State, []Zone, bool) {
		candidate := e.buildState(NewState(e.state.Mode, e.state.Constraints), ids)
		if candidate.Equal(e.state) {
			return nil, nil, false
		}
		return Reduce(e.state, RestoreState{State: candidate}), e.catalog.Resolve(candidate.Order), true
	})
}

// ExportSelection returns the selected ids in selection order.
func (e *Engine) ExportSelection() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.state.Order)
}

// ResetSelection returns to the configured initial selection and starts a
// fresh history from it.
func (e *Engine) ResetSelection(opts ...CallOption) error {
	return e.mutate("reset", opts, func() (*State, []Zone, bool) {
		next := e.buildState(NewState(e.state.Mode, e.state.Constraints), e.initialIDs)
		if e.history != nil {
			e.history.Clear()
		}
		return next, nil, false
	})
}

// SetMode switches the selection mode. Entering single mode keeps only the
// most recently selected zone.
func (e *Engine) SetMode(mode Mode, opts ...CallOption) error {
	if !mode.Valid() {
		return fmt.Errorf("selection: unknown mode %q", mode)
	}
	return e.mutate("set_mode", opts, func() (*State, []Zone, bool) {
		next := Reduce(e.state, SetMode{Mode: mode})
		if mode == ModeSingle && next.Len() > 1 {
			keep := next.Order[next.Len()-1]
			next = Reduce(next, DeselectMultiple{IDs: slices.DeleteFunc(slices.Clone(next.Order), func(id string) bool {
				return id == keep
			})})
		}
		return next, nil, false
	})
}

// SetConstraints replaces the active constraints. The engine-level maximum
// still applies when c does not set its own. The current selection is not
// re-checked.
func (e *Engine) SetConstraints(c *Constraints, opts ...CallOption) error {
	return e.mutate("set_constraints", opts, func() (*State, []Zone, bool) {
		return Reduce(e.state, SetConstraints{Constraints: c.withMaxSelections(e.maxSelect)}), nil, false
	})
}

// SetZones swaps the zone catalog. Selected ids missing from the new zones
// stay selected but no longer resolve.
func (e *Engine) SetZones(zones []Zone) {
	catalog := NewCatalog(zones)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.catalog = catalog
	if _, ok := catalog.Get(e.hovered); !ok {
		e.hovered = ""
	}
}

// SetHovered records the zone under the pointer. An empty or unknown id
// clears it. Hover is not part of the selection history.
func (e *Engine) SetHovered(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.catalog.Get(id); !ok {
		id = ""
	}
	e.hovered = id
}

// HoveredZone returns the hovered zone, if any.
func (e *Engine) HoveredZone() (Zone, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.hovered == "" {
		return Zone{}, false
	}
	return e.catalog.Get(e.hovered)
}
