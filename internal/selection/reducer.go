package selection

// Action is a selection transition understood by Reduce.
type Action interface {
	isAction()
}

// SelectZone adds one zone. In single mode it replaces the selection.
type SelectZone struct{ Zone Zone }

// DeselectZone removes one zone by id.
type DeselectZone struct{ ID string }

// SelectMultiple appends every zone not yet selected, in input order.
type SelectMultiple struct{ Zones []Zone }

// DeselectMultiple removes every listed id.
type DeselectMultiple struct{ IDs []string }

// ClearSelection empties the selection.
type ClearSelection struct{}

// SetMode changes the mode field only.
type SetMode struct{ Mode Mode }

// SetConstraints replaces the active constraints.
type SetConstraints struct{ Constraints *Constraints }

// RestoreState replaces the state wholesale.
type RestoreState struct{ State *State }

func (SelectZone) isAction() {}
func (DeselectZone) isAction() {}
func (SelectMultiple) isAction() {}
func (DeselectMultiple) isAction() {}
func (ClearSelection) isAction() {}
func (SetMode) isAction() {}
func (SetConstraints) isAction() {}
func (RestoreState) isAction() {}

// Reduce applies action to state and returns the next state. It never
// modifies state; a transition that changes nothing returns state itself
// so callers can detect no-ops by pointer comparison.
func Reduce(state *State, action Action) *State {
	switch a := action.(type) {
	case SelectZone:
		if state.Has(a.Zone.ID) {
			return state
		}
		if state.Mode == ModeSingle {
			next := NewState(state.Mode, state.Constraints)
			return appendIDs(next, a.Zone.ID)
		}
		return appendIDs(state.Clone(), a.Zone.ID)

	case DeselectZone:
		if !state.Has(a.ID) {
			return state
		}
		return removeIDs(state, map[string]struct{}{a.ID: {}})

	case SelectMultiple:
		if len(a.Zones) == 0 {
			return state
		}
		if state.Mode == ModeSingle {
			last := a.Zones[len(a.Zones)-1]
			if state.Len() == 1 && state.Has(last.ID) {
				return state
			}
			next := NewState(state.Mode, state.Constraints)
			return appendIDs(next, last.ID)
		}
		var fresh []string
		seen := make(map[string]struct{}, len(a.Zones))
		for _, z := range a.Zones {
			if state.Has(z.ID) {
				continue
			}
			if _, dup := seen[z.ID]; dup {
				continue
			}
			seen[z.ID] = struct{}{}
			fresh = append(fresh, z.ID)
		}
		if len(fresh) == 0 {
			return state
		}
		return appendIDs(state.Clone(), fresh...)

	case DeselectMultiple:
		drop := make(map[string]struct{}, len(a.IDs))
		for _, id := range a.IDs {
			if state.Has(id) {
				drop[id] = struct{}{}
			}
		}
		if len(drop) == 0 {
			return state
		}
		return removeIDs(state, drop)

	case ClearSelection:
		if state.Len() == 0 && state.LastSelectedID == "" {
			return state
		}
		return NewState(state.Mode, state.Constraints)

	case SetMode:
		if state.Mode == a.Mode {
			return state
		}
		next := state.Clone()
		next.Mode = a.Mode
		return next

	case SetConstraints:
		next := state.Clone()
		next.Constraints = a.Constraints
		return next

	case RestoreState:
		if a.State == nil {
			return state
		}
		return a.State.Clone()
	}
	return state
}

// appendIDs mutates next, which must be a fresh value owned by the caller.
func appendIDs(next *State, ids ...string) *State {
	for _, id := range ids {
		next.SelectedIDs[id] = struct{}{}
		next.Order = append(next.Order, id)
		next.LastSelectedID = id
	}
	return next
}

func removeIDs(state *State, drop map[string]struct{}) *State {
	next := NewState(state.Mode, state.Constraints)
	for _, id := range state.Order {
		if _, gone := drop[id]; gone {
			continue
		}
		next.SelectedIDs[id] = struct{}{}
		next.Order = append(next.Order, id)
	}
	if n := len(next.Order); n > 0 {
		next.LastSelectedID = next.Order[n-1]
	}
	return next
}
