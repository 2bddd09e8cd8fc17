package selection

import (
	"fmt"
	"strings"

	"github.com/paulmach/orb"
)

// Zone is a named polygon or multipolygon region supplied by the host.
// Zones are treated as read-only once handed to the engine.
type Zone struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Geometry   orb.Geometry   `json:"-"`
	Properties map[string]any `json:"properties,omitempty"`
	BBox       *orb.Bound     `json:"bbox,omitempty"`
}

// Mode controls how many zones may be selected at once.
type Mode string

const (
	ModeSingle   Mode = "single"
	ModeMultiple Mode = "multiple"
	ModeRange    Mode = "range"
)

// Valid reports whether m is one of the known modes.
func (m Mode) Valid() bool {
	switch m {
	case ModeSingle, ModeMultiple, ModeRange:
		return true
	}
	return false
}

// Source identifies what triggered a selection change.
type Source string

const (
	SourceClick    Source = "click"
	SourceKeyboard Source = "keyboard"
	SourceAPI      Source = "api"
	SourceDraw     Source = "draw"
)

// State is the authoritative selection. Values are never modified after
// they are produced; every transition yields a new *State.
type State struct {
	SelectedIDs    map[string]struct{}
	Order          []string
	LastSelectedID string
	Mode           Mode
	Constraints    *Constraints
}

// NewState returns an empty state in the given mode.
func NewState(mode Mode, constraints *Constraints) *State {
	return &State{
		SelectedIDs: make(map[string]struct{}),
		Order:       []string{},
		Mode:        mode,
		Constraints: constraints,
	}
}

// Has reports whether id is selected.
func (s *State) Has(id string) bool {
	_, ok := s.SelectedIDs[id]
	return ok
}

// Len returns the number of selected zones.
func (s *State) Len() int {
	return len(s.Order)
}

// Clone copies the mutable collections of s. Constraints are shared since
// they are configuration, not selection data.
func (s *State) Clone() *State {
	ids := make(map[string]struct{}, len(s.SelectedIDs))
	for id := range s.SelectedIDs {
		ids[id] = struct{}{}
	}
	order := make([]string, len(s.Order))
	copy(order, s.Order)
	return &State{
		SelectedIDs:    ids,
		Order:          order,
		LastSelectedID: s.LastSelectedID,
		Mode:           s.Mode,
		Constraints:    s.Constraints,
	}
}

// Equal compares selection contents, mode and last selected id.
func (s *State) Equal(other *State) bool {
	if s == other {
		return true
	}
	if s == nil || other == nil {
		return false
	}
	if s.Mode != other.Mode || s.LastSelectedID != other.LastSelectedID || len(s.Order) != len(other.Order) {
		return false
	}
	for i := range s.Order {
		if s.Order[i] != other.Order[i] {
			return false
		}
	}
	if len(s.SelectedIDs) != len(other.SelectedIDs) {
		return false
	}
	for id := range s.SelectedIDs {
		if _, ok := other.SelectedIDs[id]; !ok {
			return false
		}
	}
	return true
}

// Constraints bounds a candidate selection. Nil fields are not checked.
type Constraints struct {
	MaxSelections      *int
	MinSelections      *int
	MaxTotalArea       *float64
	MinTotalArea       *float64
	MaxDistance        *float64
	RequiredProperties map[string]any
	Custom             func(zones []Zone) ValidationResult
}

// withMaxSelections returns constraints carrying max unless they already
// define their own limit.
func (c *Constraints) withMaxSelections(max int) *Constraints {
	if max <= 0 {
		return c
	}
	if c == nil {
		return &Constraints{MaxSelections: &max}
	}
	if c.MaxSelections != nil {
		return c
	}
	merged := *c
	merged.MaxSelections = &max
	return &merged
}

// ValidationResult is the outcome of validating a candidate selection.
type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// ChangeEvent describes one logical change, or one merged batch of changes.
type ChangeEvent struct {
	Added   []Zone `json:"added"`
	Removed []Zone `json:"removed"`
	Current []Zone `json:"current"`
	Source  Source `json:"source"`
}

// ErrorCode classifies selection errors.
type ErrorCode string

const (
	ErrValidationFailed    ErrorCode = "VALIDATION_FAILED"
	ErrMaxSelections       ErrorCode = "MAX_SELECTIONS"
	ErrMinSelections       ErrorCode = "MIN_SELECTIONS"
	ErrConstraintViolation ErrorCode = "CONSTRAINT_VIOLATION"
)

// SelectionError reports a rejected operation. The engine state is left
// untouched whenever one is returned.
type SelectionError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Zone    *Zone     `json:"zone,omitempty"`
	Zones   []Zone    `json:"zones,omitempty"`
}

func (e *SelectionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func newValidationError(result ValidationResult, zones []Zone) *SelectionError {
	err := &SelectionError{
		Code:    ErrValidationFailed,
		Message: strings.Join(result.Errors, "; "),
		Zones:   zones,
	}
	if len(zones) == 1 {
		z := zones[0]
		err.Zone = &z
	}
	return err
}

// Metrics summarises the current selection.
type Metrics struct {
	Count          int     `json:"count"`
	TotalArea      float64 `json:"total_area"`
	TotalPerimeter float64 `json:"total_perimeter"`
	AverageArea    float64 `json:"average_area"`
	Largest        *Zone   `json:"largest,omitempty"`
	Smallest       *Zone   `json:"smallest,omitempty"`
}
