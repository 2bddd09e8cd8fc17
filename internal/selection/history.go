package selection

import "fmt"

// DefaultMaxHistorySize is the snapshot capacity used when none is given.
const DefaultMaxHistorySize = 50

// History is a bounded undo/redo stack of state snapshots. The slice plus
// cursor layout means redo pruning is a reslice and nothing links back.
type History struct {
	entries []*State
	cursor  int
	maxSize int
}

// NewHistory creates an empty history holding at most maxSize snapshots.
func NewHistory(maxSize int) *History {
	if maxSize <= 0 {
		maxSize = DefaultMaxHistorySize
	}
	return &History{cursor: -1, maxSize: maxSize}
}

// Push records state as the newest entry, discarding any redo branch.
func (h *History) Push(state *State) {
	if h.cursor < len(h.entries)-1 {
		h.entries = h.entries[:h.cursor+1]
	}
	h.entries = append(h.entries, state.Clone())
	h.cursor++

	if overflow := len(h.entries) - h.maxSize; overflow > 0 {
		h.entries = append([]*State(nil), h.entries[overflow:]...)
		h.cursor -= overflow
	}
	h.check()
}

// Undo steps back one entry and returns a copy of it, or nil when there is
// nothing to undo.
func (h *History) Undo() *State {
	if !h.CanUndo() {
		return nil
	}
	h.cursor--
	h.check()
	return h.entries[h.cursor].Clone()
}

// Redo steps forward one entry and returns a copy of it, or nil when there
// is nothing to redo.
func (h *History) Redo() *State {
	if !h.CanRedo() {
		return nil
	}
	h.cursor++
	h.check()
	return h.entries[h.cursor].Clone()
}

// CanUndo reports whether Undo would return a state.
func (h *History) CanUndo() bool {
	return h.cursor > 0
}

// CanRedo reports whether Redo would return a state.
func (h *History) CanRedo() bool {
	return h.cursor < len(h.entries)-1
}

// Current returns a copy of the entry under the cursor, or nil when empty.
func (h *History) Current() *State {
	if h.cursor < 0 {
		return nil
	}
	h.check()
	return h.entries[h.cursor].Clone()
}

// Clear drops every entry.
func (h *History) Clear() {
	h.entries = nil
	h.cursor = -1
}

// Size returns the number of stored snapshots.
func (h *History) Size() int {
	return len(h.entries)
}

// check panics if the cursor left the valid range; that can only happen
// through a bug in this type.
func (h *History) check() {
	if len(h.entries) == 0 && h.cursor == -1 {
		return
	}
	if h.cursor < 0 || h.cursor >= len(h.entries) {
		panic(fmt.Sprintf("selection: history cursor %d out of range [0,%d)", h.cursor, len(h.entries)))
	}
}
