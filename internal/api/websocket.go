package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/earthring/zoneselect/internal/auth"
	"github.com/earthring/zoneselect/internal/geometry"
	"github.com/earthring/zoneselect/internal/selection"
	"github.com/earthring/zoneselect/internal/telemetry"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	// ProtocolVersion1 is the initial selection protocol version
	ProtocolVersion1 = "zoneselect-v1"

	defaultPingInterval = 30 * time.Second
	pongWait            = 60 * time.Second
	writeTimeout        = 10 * time.Second
	maxMessageSize      = 64 * 1024
	sendBufferSize      = 256
)

// WebSocketMessage is the envelope of every message in both directions.
type WebSocketMessage struct {
	Type string          `json:"type"`
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// WebSocketError is sent when a request cannot be served.
type WebSocketError struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Hub tracks the open selection sessions.
type Hub struct {
	sessions  map[*session]bool
	broadcast chan []byte
	done      chan struct{}
	mu        sync.RWMutex
	stopped   bool
	log       zerolog.Logger
}

// NewHub creates a hub. Call Run to start it.
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		sessions:  make(map[*session]bool),
		broadcast: make(chan []byte, sendBufferSize),
		done:      make(chan struct{}),
		log:       log,
	}
}

// Run fans out broadcasts until ctx is cancelled, then closes every
// session's outbound queue.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			h.stopped = true
			for sess := range h.sessions {
				sess.closeSend()
				delete(h.sessions, sess)
			}
			h.mu.Unlock()
			telemetry.WSSessions.Set(0)
			return

		case message := <-h.broadcast:
			h.mu.Lock()
			for sess := range h.sessions {
				if !sess.enqueue(message) {
					sess.log.Warn().Msg("send buffer full, dropping session")
					sess.closeSend()
					delete(h.sessions, sess)
				}
			}
			telemetry.WSSessions.Set(float64(len(h.sessions)))
			h.mu.Unlock()
		}
	}
}

// add registers sess. It reports false once the hub has stopped.
func (h *Hub) add(sess *session) bool {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return false
	}
	h.sessions[sess] = true
	n := len(h.sessions)
	h.mu.Unlock()
	telemetry.WSSessions.Set(float64(n))
	sess.log.Info().Str("version", sess.version).Msg("websocket session registered")
	return true
}

func (h *Hub) remove(sess *session) {
	h.mu.Lock()
	if _, ok := h.sessions[sess]; ok {
		delete(h.sessions, sess)
		sess.closeSend()
	}
	n := len(h.sessions)
	h.mu.Unlock()
	telemetry.WSSessions.Set(float64(n))
	sess.log.Info().Msg("websocket session unregistered")
}

// Broadcast queues message for every session without blocking. It reports
// false when the hub has stopped or its queue is full; messages queued
// before Run starts are sent once it does.
func (h *Hub) Broadcast(message []byte) bool {
	select {
	case <-h.done:
		return false
	default:
	}
	select {
	case h.broadcast <- message:
		return true
	default:
		h.log.Warn().Int("queued", len(h.broadcast)).Msg("broadcast queue full, dropping message")
		return false
	}
}

// SessionCount returns the number of open sessions.
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

func (h *Hub) forEach(fn func(*session)) {
	h.mu.RLock()
	sessions := make([]*session, 0, len(h.sessions))
	for sess := range h.sessions {
		sessions = append(sessions, sess)
	}
	h.mu.RUnlock()
	for _, sess := range sessions {
		fn(sess)
	}
}

// session is one websocket connection and the selection engine behind it.
type session struct {
	id       string
	conn     *websocket.Conn
	userID   int64
	username string
	version  string
	engine   *selection.Engine
	log      zerolog.Logger

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

// enqueue queues message without blocking. It reports false when the
// queue is full or already closed.
func (s *session) enqueue(message []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.send <- message:
		return true
	default:
		return false
	}
}

func (s *session) closeSend() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.send)
	}
}

func (s *session) reply(msgType, id string, data any) {
	if !s.enqueue(newMessage(msgType, id, data)) {
		s.log.Warn().Str("type", msgType).Msg("dropped outbound message")
	}
}

func (s *session) sendError(id, code, message string) {
	payload, err := json.Marshal(WebSocketError{
		Type:    msgError,
		ID:      id,
		Error:   code,
		Message: message,
		Code:    code,
	})
	if err != nil {
		s.log.Error().Err(err).Msg("failed to marshal error message")
		return
	}
	if !s.enqueue(payload) {
		s.log.Warn().Str("code", code).Msg("dropped error message")
	}
}

// HandleWebSocket authenticates the request, negotiates the protocol
// version and starts a selection session.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := auth.TokenFromRequest(r)
	if token == "" {
		respondWithError(w, http.StatusUnauthorized, "MissingToken", "Authentication token required")
		return
	}
	claims, err := s.jwt.ValidateAccessToken(token)
	if err != nil {
		respondWithError(w, http.StatusUnauthorized, "InvalidToken", "Invalid or expired token")
		return
	}

	requested := r.Header.Get("Sec-WebSocket-Protocol")
	version := negotiateVersion(requested)
	if version == "" {
		respondWithError(w, http.StatusBadRequest, "UnsupportedProtocol", "Unsupported protocol version")
		return
	}
	var responseHeader http.Header
	if requested != "" {
		responseHeader = http.Header{"Sec-WebSocket-Protocol": []string{version}}
	}

	conn, err := s.upgrader.Upgrade(w, r, responseHeader)
	if err != nil {
		s.log.Warn().Err(err).Int64("user_id", claims.UserID).Msg("websocket upgrade failed")
		return
	}

	id := uuid.NewString()
	sess := &session{
		id:       id,
		conn:     conn,
		userID:   claims.UserID,
		username: claims.Username,
		version:  version,
		send:     make(chan []byte, sendBufferSize),
		log: s.log.With().
			Str("session", id).
			Int64("user_id", claims.UserID).
			Str("username", claims.Username).
			Logger(),
	}

	// The catalog read lock spans engine creation and registration so a
	// concurrent SetZones cannot slip in between.
	s.mu.RLock()
	engine, err := s.newEngine(sess, s.zones)
	if err == nil {
		sess.engine = engine
		sess.reply(msgSession, "", s.welcome(sess))
		if !s.hub.add(sess) {
			engine.Close()
			err = fmt.Errorf("server shutting down")
		}
	}
	s.mu.RUnlock()
	if err != nil {
		sess.log.Error().Err(err).Msg("failed to start selection session")
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "selection unavailable"),
			time.Now().Add(writeTimeout))
		_ = conn.Close()
		return
	}

	go sess.writePump()
	go s.readPump(sess)
}

// newEngine builds the selection engine behind sess, restoring the user's
// persisted selection when a store is configured.
func (s *Server) newEngine(sess *session, zones []selection.Zone) (*selection.Engine, error) {
	sc := s.cfg.Selection
	kind := geometry.Planar
	if sc.Geodesic {
		kind = geometry.Geodesic
	}
	batch := sc.BatchUpdates
	lg := sess.log

	cfg := selection.Config{
		Zones:             zones,
		Mode:              selection.Mode(sc.Mode),
		MaxSelections:     sc.MaxSelections,
		MaxHistorySize:    sc.MaxHistorySize,
		BatchUpdates:      &batch,
		Debounce:          sc.Debounce,
		Oracle:            geometry.NewOracle(kind),
		OnSelectionChange: sess.pushChange,
		OnSelectionError:  sess.pushError,
		Logger:            &lg,
	}
	if s.store != nil {
		cfg.PersistKey = SelectionKey(sess.userID)
		cfg.Store = s.store
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.storeTimeout())
	defer cancel()
	return selection.New(ctx, cfg)
}

func (s *Server) welcome(sess *session) sessionData {
	st := sess.engine.State()
	return sessionData{
		SessionID: sess.id,
		Protocol:  sess.version,
		Mode:      st.Mode,
		Selected:  nonNil(st.Order),
	}
}

// negotiateVersion picks the highest mutually supported protocol version.
// An empty request defaults to v1.
func negotiateVersion(requested string) string {
	if requested == "" {
		return ProtocolVersion1
	}

	requestedVersions := strings.Split(requested, ",")
	for i := range requestedVersions {
		requestedVersions[i] = strings.TrimSpace(requestedVersions[i])
	}

	// Highest first.
	supportedVersions := []string{ProtocolVersion1}
	for _, supported := range supportedVersions {
		for _, requested := range requestedVersions {
			if requested == supported {
				return supported
			}
		}
	}

	return ""
}

// readPump handles incoming messages until the connection fails, then
// tears the session down.
func (s *Server) readPump(sess *session) {
	ctx := sess.log.WithContext(context.Background())
	defer func() {
		s.hub.remove(sess)
		sess.engine.Close()
		if err := sess.conn.Close(); err != nil {
			sess.log.Debug().Err(err).Msg("failed to close connection")
		}
	}()

	sess.conn.SetReadLimit(maxMessageSize)
	if err := sess.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		sess.log.Warn().Err(err).Msg("failed to set read deadline")
		return
	}
	sess.conn.SetPongHandler(func(string) error {
		return sess.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := sess.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				sess.log.Warn().Err(err).Msg("websocket error")
			}
			return
		}

		var msg WebSocketMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			sess.sendError("", "InvalidMessageFormat", "Invalid message format")
			continue
		}
		if ok, retry := s.messages.allow(ctx, sess.userID); !ok {
			sess.sendError(msg.ID, "RateLimited", fmt.Sprintf("Too many messages. Retry in %ds.", retry))
			continue
		}
		s.handleMessage(sess, &msg)
	}
}

// writePump drains the outbound queue and keeps the connection alive with
// pings. Messages queued together go out in one frame, newline separated.
func (s *session) writePump() {
	ticker := time.NewTicker(defaultPingInterval)
	defer func() {
		ticker.Stop()
		if err := s.conn.Close(); err != nil {
			s.log.Debug().Err(err).Msg("failed to close connection")
		}
	}()

	for {
		select {
		case message, ok := <-s.send:
			if err := s.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				return
			}
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := s.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			if _, err := w.Write(message); err != nil {
				_ = w.Close()
				return
			}
			n := len(s.send)
			for i := 0; i < n; i++ {
				next, ok := <-s.send
				if !ok {
					break
				}
				if _, err := w.Write([]byte{'\n'}); err != nil {
					_ = w.Close()
					return
				}
				if _, err := w.Write(next); err != nil {
					_ = w.Close()
					return
				}
			}
			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			if err := s.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				return
			}
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
