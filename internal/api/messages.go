package api

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/earthring/zoneselect/internal/selection"
	"github.com/earthring/zoneselect/internal/telemetry"
	"github.com/go-playground/validator/v10"
	"github.com/paulmach/orb"
	"github.com/rs/zerolog/log"
)

// Request message types.
const (
	msgSelect             = "select"
	msgDeselect           = "deselect"
	msgToggle             = "toggle"
	msgSelectMultiple     = "select_multiple"
	msgDeselectMultiple   = "deselect_multiple"
	msgClear              = "clear"
	msgSelectAll          = "select_all"
	msgSelectAdjacent     = "select_adjacent"
	msgSelectWithinBounds = "select_within_bounds"
	msgSetMode            = "set_mode"
	msgUndo               = "undo"
	msgRedo               = "redo"
	msgLoad               = "load"
	msgExport             = "export"
	msgReset              = "reset"
	msgMetrics            = "metrics"
	msgValidate           = "validate"
	msgHover              = "hover"
	msgPing               = "ping"
)

// Reply and push message types.
const (
	msgAck              = "ack"
	msgExported         = "export"
	msgMetricsResult    = "metrics"
	msgValidation       = "validation"
	msgPong             = "pong"
	msgError            = "error"
	msgSession          = "session"
	msgSelectionChanged = "selection_changed"
	msgSelectionError   = "selection_error"
	msgCatalogUpdated   = "catalog_updated"
)

var payloadValidator = validator.New()

// callPayload carries the per-call options shared by every mutation.
type callPayload struct {
	Source string `json:"source,omitempty" validate:"omitempty,oneof=click keyboard api draw"`
	Silent bool   `json:"silent,omitempty"`
}

func (p callPayload) options() []selection.CallOption {
	var opts []selection.CallOption
	if p.Source != "" {
		opts = append(opts, selection.WithSource(selection.Source(p.Source)))
	}
	if p.Silent {
		opts = append(opts, selection.Silent())
	}
	return opts
}

type zonePayload struct {
	callPayload
	ZoneID string `json:"zone_id" validate:"required"`
}

type zonesPayload struct {
	callPayload
	ZoneIDs []string `json:"zone_ids" validate:"required,min=1,dive,required"`
}

// loadPayload allows an empty list, which clears the selection.
type loadPayload struct {
	callPayload
	ZoneIDs []string `json:"zone_ids" validate:"dive,required"`
}

type adjacentPayload struct {
	callPayload
	ZoneID    string  `json:"zone_id" validate:"required"`
	Tolerance float64 `json:"tolerance" validate:"gte=0"`
}

type boundsPayload struct {
	callPayload
	MinX float64 `json:"min_x"`
	MinY float64 `json:"min_y"`
	MaxX float64 `json:"max_x" validate:"gtefield=MinX"`
	MaxY float64 `json:"max_y" validate:"gtefield=MinY"`
}

func (p boundsPayload) bound() orb.Bound {
	return orb.Bound{Min: orb.Point{p.MinX, p.MinY}, Max: orb.Point{p.MaxX, p.MaxY}}
}

type modePayload struct {
	callPayload
	Mode string `json:"mode" validate:"required,oneof=single multiple range"`
}

type validatePayload struct {
	ZoneIDs []string `json:"zone_ids" validate:"dive,required"`
}

// hoverPayload clears the hover when ZoneID is empty.
type hoverPayload struct {
	ZoneID string `json:"zone_id"`
}

type ackData struct {
	Selected []string `json:"selected"`
	CanUndo  bool     `json:"can_undo"`
	CanRedo  bool     `json:"can_redo"`
	Hovered  string   `json:"hovered,omitempty"`
	Restored *bool    `json:"restored,omitempty"`
}

type exportData struct {
	ZoneIDs []string `json:"zone_ids"`
}

type sessionData struct {
	SessionID string         `json:"session_id"`
	Protocol  string         `json:"protocol"`
	Mode      selection.Mode `json:"mode"`
	Selected  []string       `json:"selected"`
}

type changeData struct {
	Added   []string         `json:"added"`
	Removed []string         `json:"removed"`
	Current []string         `json:"current"`
	Source  selection.Source `json:"source"`
}

type catalogData struct {
	Zones int `json:"zones"`
}

// payloadError marks a request whose data failed to decode or validate.
type payloadError struct {
	err error
}

func (e *payloadError) Error() string { return e.err.Error() }
func (e *payloadError) Unwrap() error { return e.err }

// decode unmarshals the message data into T and validates it. Missing data
// decodes as the zero payload.
func decode[T any](msg *WebSocketMessage) (T, error) {
	var p T
	if len(msg.Data) > 0 && string(msg.Data) != "null" {
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			return p, &payloadError{err: fmt.Errorf("invalid %s payload: %w", msg.Type, err)}
		}
	}
	if err := payloadValidator.Struct(p); err != nil {
		return p, &payloadError{err: fmt.Errorf("invalid %s payload: %w", msg.Type, err)}
	}
	return p, nil
}

// messageHandler serves one request type and returns the reply type and
// data.
type messageHandler func(sess *session, msg *WebSocketMessage) (string, any, error)

var messageHandlers = map[string]messageHandler{
	msgSelect: zoneOp(func(e *selection.Engine, id string, opts []selection.CallOption) error {
		return e.SelectZone(id, opts...)
	}),
	msgDeselect: zoneOp(func(e *selection.Engine, id string, opts []selection.CallOption) error {
		return e.DeselectZone(id, opts...)
	}),
	msgToggle: zoneOp(func(e *selection.Engine, id string, opts []selection.CallOption) error {
		return e.ToggleZone(id, opts...)
	}),
	msgSelectMultiple: zonesOp(func(e *selection.Engine, ids []string, opts []selection.CallOption) error {
		return e.SelectMultiple(ids, opts...)
	}),
	msgDeselectMultiple: zonesOp(func(e *selection.Engine, ids []string, opts []selection.CallOption) error {
		return e.DeselectMultiple(ids, opts...)
	}),
	msgClear: callOp(func(e *selection.Engine, opts []selection.CallOption) error {
		return e.ClearSelection(opts...)
	}),
	msgSelectAll: callOp(func(e *selection.Engine, opts []selection.CallOption) error {
		return e.SelectAll(opts...)
	}),
	msgReset: callOp(func(e *selection.Engine, opts []selection.CallOption) error {
		return e.ResetSelection(opts...)
	}),
	msgUndo: replayOp(func(e *selection.Engine, opts []selection.CallOption) (bool, error) {
		return e.Undo(opts...)
	}),
	msgRedo: replayOp(func(e *selection.Engine, opts []selection.CallOption) (bool, error) {
		return e.Redo(opts...)
	}),
	msgSelectAdjacent:     handleSelectAdjacent,
	msgSelectWithinBounds: handleSelectWithinBounds,
	msgSetMode:            handleSetMode,
	msgLoad:               handleLoad,
	msgExport:             handleExport,
	msgMetrics:            handleMetrics,
	msgValidate:           handleValidate,
	msgHover:              handleHover,
	msgPing: func(*session, *WebSocketMessage) (string, any, error) {
		return msgPong, nil, nil
	},
}

// handleMessage dispatches one request and sends its reply or error.
func (s *Server) handleMessage(sess *session, msg *WebSocketMessage) {
	handler, ok := messageHandlers[msg.Type]
	if !ok {
		recordMessage("unknown")
		sess.sendError(msg.ID, "UnknownMessageType", fmt.Sprintf("Unknown message type: %s", msg.Type))
		return
	}
	recordMessage(msg.Type)

	replyType, data, err := handler(sess, msg)
	if err != nil {
		sess.sendFailure(msg.ID, err)
		return
	}
	sess.reply(replyType, msg.ID, data)
}

func zoneOp(fn func(*selection.Engine, string, []selection.CallOption) error) messageHandler {
	return func(sess *session, msg *WebSocketMessage) (string, any, error) {
		p, err := decode[zonePayload](msg)
		if err != nil {
			return "", nil, err
		}
		return sess.ack(fn(sess.engine, p.ZoneID, p.options()))
	}
}

func zonesOp(fn func(*selection.Engine, []string, []selection.CallOption) error) messageHandler {
	return func(sess *session, msg *WebSocketMessage) (string, any, error) {
		p, err := decode[zonesPayload](msg)
		if err != nil {
			return "", nil, err
		}
		return sess.ack(fn(sess.engine, p.ZoneIDs, p.options()))
	}
}

func callOp(fn func(*selection.Engine, []selection.CallOption) error) messageHandler {
	return func(sess *session, msg *WebSocketMessage) (string, any, error) {
		p, err := decode[callPayload](msg)
		if err != nil {
			return "", nil, err
		}
		return sess.ack(fn(sess.engine, p.options()))
	}
}

func replayOp(fn func(*selection.Engine, []selection.CallOption) (bool, error)) messageHandler {
	return func(sess *session, msg *WebSocketMessage) (string, any, error) {
		p, err := decode[callPayload](msg)
		if err != nil {
			return "", nil, err
		}
		restored, err := fn(sess.engine, p.options())
		if err != nil {
			return "", nil, err
		}
		data := sess.ackData()
		data.Restored = &restored
		return msgAck, data, nil
	}
}

func handleSelectAdjacent(sess *session, msg *WebSocketMessage) (string, any, error) {
	p, err := decode[adjacentPayload](msg)
	if err != nil {
		return "", nil, err
	}
	return sess.ack(sess.engine.SelectAdjacent(p.ZoneID, p.Tolerance, p.options()...))
}

func handleSelectWithinBounds(sess *session, msg *WebSocketMessage) (string, any, error) {
	p, err := decode[boundsPayload](msg)
	if err != nil {
		return "", nil, err
	}
	return sess.ack(sess.engine.SelectWithinBounds(p.bound(), p.options()...))
}

func handleSetMode(sess *session, msg *WebSocketMessage) (string, any, error) {
	p, err := decode[modePayload](msg)
	if err != nil {
		return "", nil, err
	}
	return sess.ack(sess.engine.SetMode(selection.Mode(p.Mode), p.options()...))
}

func handleLoad(sess *session, msg *WebSocketMessage) (string, any, error) {
	p, err := decode[loadPayload](msg)
	if err != nil {
		return "", nil, err
	}
	return sess.ack(sess.engine.LoadSelection(p.ZoneIDs, p.options()...))
}

func handleExport(sess *session, _ *WebSocketMessage) (string, any, error) {
	return msgExported, exportData{ZoneIDs: nonNil(sess.engine.ExportSelection())}, nil
}

func handleMetrics(sess *session, _ *WebSocketMessage) (string, any, error) {
	return msgMetricsResult, sess.engine.SelectionMetrics(), nil
}

func handleValidate(sess *session, msg *WebSocketMessage) (string, any, error) {
	p, err := decode[validatePayload](msg)
	if err != nil {
		return "", nil, err
	}
	return msgValidation, sess.engine.ValidateSelection(p.ZoneIDs), nil
}

func handleHover(sess *session, msg *WebSocketMessage) (string, any, error) {
	p, err := decode[hoverPayload](msg)
	if err != nil {
		return "", nil, err
	}
	sess.engine.SetHovered(p.ZoneID)
	return msgAck, sess.ackData(), nil
}

// ack turns the outcome of a mutation into an ack reply.
func (s *session) ack(err error) (string, any, error) {
	if err != nil {
		return "", nil, err
	}
	return msgAck, s.ackData(), nil
}

func (s *session) ackData() ackData {
	data := ackData{
		Selected: nonNil(s.engine.ExportSelection()),
		CanUndo:  s.engine.CanUndo(),
		CanRedo:  s.engine.CanRedo(),
	}
	if z, ok := s.engine.HoveredZone(); ok {
		data.Hovered = z.ID
	}
	return data
}

// sendFailure maps err onto an error reply.
func (s *session) sendFailure(id string, err error) {
	var perr *payloadError
	var serr *selection.SelectionError
	switch {
	case errors.As(err, &perr):
		s.sendError(id, "InvalidPayload", perr.Error())
	case errors.As(err, &serr):
		s.sendError(id, string(serr.Code), serr.Message)
	case errors.Is(err, selection.ErrClosed):
		s.sendError(id, "SessionClosed", "Selection session is closed")
	default:
		s.log.Error().Err(err).Msg("selection operation failed")
		s.sendError(id, "OperationFailed", err.Error())
	}
}

// pushChange forwards an engine change notification to the client.
func (s *session) pushChange(evt selection.ChangeEvent) {
	s.reply(msgSelectionChanged, "", changeData{
		Added:   zoneIDs(evt.Added),
		Removed: zoneIDs(evt.Removed),
		Current: zoneIDs(evt.Current),
		Source:  evt.Source,
	})
}

// pushError forwards a rejected operation to the client.
func (s *session) pushError(err *selection.SelectionError) {
	s.reply(msgSelectionError, "", err)
}

func newMessage(msgType, id string, data any) []byte {
	msg := WebSocketMessage{Type: msgType, ID: id}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			log.Error().Err(err).Str("type", msgType).Msg("failed to marshal message data")
		} else {
			msg.Data = raw
		}
	}
	out, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("type", msgType).Msg("failed to marshal message")
	}
	return out
}

func recordMessage(msgType string) {
	telemetry.WSMessages.WithLabelValues(msgType).Inc()
}

func zoneIDs(zones []selection.Zone) []string {
	ids := make([]string, len(zones))
	for i, z := range zones {
		ids[i] = z.ID
	}
	return ids
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
