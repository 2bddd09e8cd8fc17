package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/earthring/zoneselect/internal/auth"
	"github.com/earthring/zoneselect/internal/config"
	"github.com/earthring/zoneselect/internal/selection"
	"github.com/earthring/zoneselect/internal/store"
	"github.com/earthring/zoneselect/internal/testutil"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key-for-testing-only"

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Environment: "test",
			RateLimit:   "1000-M",
		},
		Store: config.StoreConfig{WriteTimeout: time.Second},
		Auth: config.AuthConfig{
			JWTSecret:     testSecret,
			JWTExpiration: 15 * time.Minute,
		},
		Selection: config.SelectionConfig{
			Mode:           "multiple",
			MaxHistorySize: 50,
		},
	}
}

// newTestServer starts srv's hub and an HTTP server in front of it.
func newTestServer(t *testing.T, cfg *config.Config, st selection.Store, zones []selection.Zone) (*Server, *httptest.Server) {
	t.Helper()
	srv, err := NewServer(cfg, st, zones, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go srv.Run(ctx)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

func testToken(t *testing.T, cfg *config.Config, userID int64) string {
	t.Helper()
	token, err := auth.NewJWTService(cfg).GenerateAccessToken(userID, testutil.RandomUsername(), "editor")
	require.NoError(t, err)
	return token
}

// received is a decoded server message. Error replies also fill Code.
type received struct {
	WebSocketMessage
	Code string `json:"code"`
}

// wsClient buffers server messages so tests can wait for a reply or push
// regardless of the order they were queued in.
type wsClient struct {
	t       *testing.T
	conn    *websocket.Conn
	pending []received
}

func dial(t *testing.T, ts *httptest.Server, token string) *wsClient {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?token=" + token
	dialer := websocket.Dialer{Subprotocols: []string{ProtocolVersion1}}
	conn, resp, err := dialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, ProtocolVersion1, conn.Subprotocol())
	t.Cleanup(func() { conn.Close() })
	return &wsClient{t: t, conn: conn}
}

func (c *wsClient) send(msgType, id string, data any) {
	c.t.Helper()
	msg := map[string]any{"type": msgType, "id": id}
	if data != nil {
		msg["data"] = data
	}
	require.NoError(c.t, c.conn.WriteJSON(msg))
}

// find returns and removes the first message matching match, reading more
// frames as needed. Frames may hold several newline separated messages.
func (c *wsClient) find(match func(received) bool) received {
	c.t.Helper()
	for {
		for i, msg := range c.pending {
			if match(msg) {
				c.pending = append(c.pending[:i], c.pending[i+1:]...)
				return msg
			}
		}
		require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, frame, err := c.conn.ReadMessage()
		require.NoError(c.t, err, "waiting for message")
		for _, line := range bytes.Split(frame, []byte{'\n'}) {
			var msg received
			require.NoError(c.t, json.Unmarshal(line, &msg))
			c.pending = append(c.pending, msg)
		}
	}
}

// until waits for the next message of msgType.
func (c *wsClient) until(msgType string) received {
	c.t.Helper()
	return c.find(func(m received) bool { return m.Type == msgType })
}

// reply waits for the reply to request id, which may be an error.
func (c *wsClient) reply(id string) received {
	c.t.Helper()
	return c.find(func(m received) bool { return m.ID == id })
}

func decodeData[T any](t *testing.T, msg received) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(msg.Data, &v), "data of %s", msg.Type)
	return v
}

func TestNegotiateVersion(t *testing.T) {
	tests := []struct {
		name      string
		requested string
		expected  string
	}{
		{"empty string defaults to v1", "", ProtocolVersion1},
		{"v1 requested", ProtocolVersion1, ProtocolVersion1},
		{"multiple versions", "zoneselect-v2, zoneselect-v1", ProtocolVersion1},
		{"unsupported version", "zoneselect-v99", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if result := negotiateVersion(tt.requested); result != tt.expected {
				t.Errorf("negotiateVersion(%q) = %q, want %q", tt.requested, result, tt.expected)
			}
		})
	}
}

func TestHandleWebSocket_Authentication(t *testing.T) {
	cfg := testConfig()
	srv, err := NewServer(cfg, nil, testutil.ZoneGrid(1, 2), zerolog.Nop())
	require.NoError(t, err)
	h := testutil.NewHTTPTestHelper(srv.Handler())

	rr := h.MakeRequest("GET", "/ws", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code, "missing token")

	rr = h.MakeAuthedRequest("GET", "/ws", nil, "not-a-token")
	assert.Equal(t, http.StatusUnauthorized, rr.Code, "invalid token")

	req := httptest.NewRequest("GET", "/ws?token="+testToken(t, cfg, 1), nil)
	req.Header.Set("Sec-WebSocket-Protocol", "zoneselect-v99")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "unsupported protocol")
}

func TestSession_SelectAndUndo(t *testing.T) {
	cfg := testConfig()
	_, ts := newTestServer(t, cfg, nil, testutil.ZoneGrid(1, 4))
	c := dial(t, ts, testToken(t, cfg, 1))

	hello := decodeData[sessionData](t, c.until(msgSession))
	assert.NotEmpty(t, hello.SessionID)
	assert.Equal(t, ProtocolVersion1, hello.Protocol)
	assert.Empty(t, hello.Selected)

	c.send(msgSelect, "1", map[string]any{"zone_id": "z-0-0", "source": "click"})
	ack := decodeData[ackData](t, c.reply("1"))
	assert.Equal(t, []string{"z-0-0"}, ack.Selected)
	assert.True(t, ack.CanUndo)

	changed := decodeData[changeData](t, c.until(msgSelectionChanged))
	assert.Equal(t, []string{"z-0-0"}, changed.Added)
	assert.Equal(t, selection.SourceClick, changed.Source)

	c.send(msgSelectMultiple, "2", map[string]any{"zone_ids": []string{"z-0-1", "z-0-2"}})
	ack = decodeData[ackData](t, c.reply("2"))
	assert.Equal(t, []string{"z-0-0", "z-0-1", "z-0-2"}, ack.Selected)

	c.send(msgUndo, "3", nil)
	ack = decodeData[ackData](t, c.reply("3"))
	require.NotNil(t, ack.Restored)
	assert.True(t, *ack.Restored)
	assert.Equal(t, []string{"z-0-0"}, ack.Selected)
	assert.True(t, ack.CanRedo)

	c.send(msgRedo, "4", nil)
	ack = decodeData[ackData](t, c.reply("4"))
	assert.Equal(t, []string{"z-0-0", "z-0-1", "z-0-2"}, ack.Selected)

	c.send(msgExport, "5", nil)
	exported := c.reply("5")
	assert.Equal(t, msgExported, exported.Type)
	assert.Equal(t, []string{"z-0-0", "z-0-1", "z-0-2"}, decodeData[exportData](t, exported).ZoneIDs)

	c.send(msgMetrics, "6", nil)
	metrics := decodeData[selection.Metrics](t, c.reply("6"))
	assert.Equal(t, 3, metrics.Count)
	assert.InDelta(t, 3.0, metrics.TotalArea, 1e-9)

	c.send(msgClear, "7", nil)
	ack = decodeData[ackData](t, c.reply("7"))
	assert.Empty(t, ack.Selected)
}

func TestSession_SpatialAndModeOps(t *testing.T) {
	cfg := testConfig()
	_, ts := newTestServer(t, cfg, nil, testutil.ZoneGrid(2, 3))
	c := dial(t, ts, testToken(t, cfg, 1))
	c.until(msgSession)

	c.send(msgSelectAdjacent, "1", map[string]any{"zone_id": "z-0-1", "tolerance": 0})
	ack := decodeData[ackData](t, c.reply("1"))
	assert.ElementsMatch(t, []string{"z-0-0", "z-0-2", "z-1-0", "z-1-1", "z-1-2"}, ack.Selected)

	c.send(msgLoad, "2", map[string]any{"zone_ids": []string{}})
	assert.Empty(t, decodeData[ackData](t, c.reply("2")).Selected)

	c.send(msgSelectWithinBounds, "3", map[string]any{"min_x": 0, "min_y": 0, "max_x": 2, "max_y": 1})
	ack = decodeData[ackData](t, c.reply("3"))
	assert.Equal(t, []string{"z-0-0", "z-0-1"}, ack.Selected)

	c.send(msgSetMode, "4", map[string]any{"mode": "single"})
	ack = decodeData[ackData](t, c.reply("4"))
	assert.Equal(t, []string{"z-0-1"}, ack.Selected)

	c.send(msgHover, "5", map[string]any{"zone_id": "z-1-1"})
	assert.Equal(t, "z-1-1", decodeData[ackData](t, c.reply("5")).Hovered)

	c.send(msgValidate, "6", map[string]any{"zone_ids": []string{"z-0-0", "z-0-1"}})
	result := decodeData[selection.ValidationResult](t, c.reply("6"))
	assert.True(t, result.Valid)

	c.send(msgReset, "7", nil)
	ack = decodeData[ackData](t, c.reply("7"))
	assert.Empty(t, ack.Selected)
	assert.False(t, ack.CanUndo)
}

func TestSession_ValidationFailure(t *testing.T) {
	cfg := testConfig()
	cfg.Selection.MaxSelections = 1
	_, ts := newTestServer(t, cfg, nil, testutil.ZoneGrid(1, 2))
	c := dial(t, ts, testToken(t, cfg, 1))
	c.until(msgSession)

	c.send(msgSelect, "1", map[string]any{"zone_id": "z-0-0"})
	require.Equal(t, msgAck, c.reply("1").Type)

	c.send(msgSelect, "2", map[string]any{"zone_id": "z-0-1"})
	pushed := decodeData[selection.SelectionError](t, c.until(msgSelectionError))
	assert.Equal(t, selection.ErrValidationFailed, pushed.Code)
	require.NotNil(t, pushed.Zone)
	assert.Equal(t, "z-0-1", pushed.Zone.ID)

	failure := c.reply("2")
	assert.Equal(t, msgError, failure.Type)
	assert.Equal(t, string(selection.ErrValidationFailed), failure.Code)

	c.send(msgExport, "3", nil)
	assert.Equal(t, []string{"z-0-0"}, decodeData[exportData](t, c.reply("3")).ZoneIDs)
}

func TestSession_ProtocolErrors(t *testing.T) {
	cfg := testConfig()
	_, ts := newTestServer(t, cfg, nil, testutil.ZoneGrid(1, 2))
	c := dial(t, ts, testToken(t, cfg, 1))
	c.until(msgSession)

	tests := []struct {
		name    string
		msgType string
		data    any
		code    string
	}{
		{"unknown type", "teleport", nil, "UnknownMessageType"},
		{"missing zone id", msgSelect, map[string]any{}, "InvalidPayload"},
		{"bad source", msgSelect, map[string]any{"zone_id": "z-0-0", "source": "psychic"}, "InvalidPayload"},
		{"empty multi select", msgSelectMultiple, map[string]any{"zone_ids": []string{}}, "InvalidPayload"},
		{"inverted bounds", msgSelectWithinBounds, map[string]any{"min_x": 2, "max_x": 1}, "InvalidPayload"},
		{"negative tolerance", msgSelectAdjacent, map[string]any{"zone_id": "z-0-0", "tolerance": -1}, "InvalidPayload"},
		{"unknown mode", msgSetMode, map[string]any{"mode": "lasso"}, "InvalidPayload"},
		{"wrong data shape", msgSelect, []int{1}, "InvalidPayload"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c.send(tt.msgType, tt.name, tt.data)
			msg := c.reply(tt.name)
			require.Equal(t, msgError, msg.Type)
			assert.Equal(t, tt.code, msg.Code)
		})
	}

	require.NoError(t, c.conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	msg := c.until(msgError)
	assert.Empty(t, msg.ID)
	assert.Equal(t, "InvalidMessageFormat", msg.Code)
}

func TestSession_RateLimited(t *testing.T) {
	cfg := testConfig()
	cfg.Server.RateLimit = "2-M"
	_, ts := newTestServer(t, cfg, nil, testutil.ZoneGrid(1, 2))
	c := dial(t, ts, testToken(t, cfg, 42))
	c.until(msgSession)

	c.send(msgPing, "1", nil)
	assert.Equal(t, msgPong, c.reply("1").Type)
	c.send(msgPing, "2", nil)
	assert.Equal(t, msgPong, c.reply("2").Type)
	c.send(msgPing, "3", nil)
	limited := c.reply("3")
	assert.Equal(t, msgError, limited.Type)
	assert.Equal(t, "RateLimited", limited.Code)
}

func TestSession_PersistsAcrossSessions(t *testing.T) {
	cfg := testConfig()
	mem := store.NewMemory()
	srv, ts := newTestServer(t, cfg, mem, testutil.ZoneGrid(1, 3))

	first := dial(t, ts, testToken(t, cfg, 5))
	first.until(msgSession)
	first.send(msgSelectMultiple, "1", map[string]any{"zone_ids": []string{"z-0-2", "z-0-0"}})
	require.Equal(t, msgAck, first.reply("1").Type)
	first.conn.Close()

	require.Eventually(t, func() bool {
		ids, err := mem.Get(context.Background(), SelectionKey(5))
		return err == nil && len(ids) == 2
	}, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return srv.Hub().SessionCount() == 0 }, 2*time.Second, 10*time.Millisecond)

	second := dial(t, ts, testToken(t, cfg, 5))
	hello := decodeData[sessionData](t, second.until(msgSession))
	assert.Equal(t, []string{"z-0-2", "z-0-0"}, hello.Selected)

	other := dial(t, ts, testToken(t, cfg, 6))
	assert.Empty(t, decodeData[sessionData](t, other.until(msgSession)).Selected)
}

func TestServer_SetZonesReachesSessions(t *testing.T) {
	cfg := testConfig()
	srv, ts := newTestServer(t, cfg, nil, testutil.ZoneGrid(1, 4))
	c := dial(t, ts, testToken(t, cfg, 1))
	c.until(msgSession)
	require.Eventually(t, func() bool { return srv.Hub().SessionCount() == 1 }, time.Second, 10*time.Millisecond)

	srv.SetZones(testutil.ZoneGrid(1, 2))
	updated := decodeData[catalogData](t, c.until(msgCatalogUpdated))
	assert.Equal(t, 2, updated.Zones)

	c.send(msgSelect, "1", map[string]any{"zone_id": "z-0-3"})
	assert.Empty(t, decodeData[ackData](t, c.reply("1")).Selected, "zone left the catalog")

	c.send(msgSelectAll, "2", nil)
	assert.Equal(t, []string{"z-0-0", "z-0-1"}, decodeData[ackData](t, c.reply("2")).Selected)
}

func TestHub_StopsAcceptingAfterShutdown(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()

	sess := &session{send: make(chan []byte, 1), log: zerolog.Nop()}
	require.True(t, hub.add(sess))
	assert.Equal(t, 1, hub.SessionCount())

	hub.Broadcast([]byte(`{"type":"catalog_updated"}`))
	require.Eventually(t, func() bool { return len(sess.send) == 1 }, time.Second, time.Millisecond)

	cancel()
	<-done
	assert.Equal(t, 0, hub.SessionCount())
	_, open := <-sess.send
	assert.True(t, open, "queued message is still delivered")
	_, open = <-sess.send
	assert.False(t, open, "queue is closed on shutdown")

	assert.False(t, hub.add(&session{send: make(chan []byte, 1), log: zerolog.Nop()}))
	assert.False(t, hub.Broadcast([]byte("late")), "stopped hub refuses broadcasts")
}

func TestHub_BroadcastNeverBlocks(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	for i := 0; i < sendBufferSize; i++ {
		require.True(t, hub.Broadcast([]byte("queued")), "message %d", i)
	}
	assert.False(t, hub.Broadcast([]byte("overflow")))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	require.Eventually(t, func() bool { return hub.Broadcast([]byte("drained")) }, time.Second, time.Millisecond)
}

func TestHub_DropsSlowSessions(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	slow := &session{send: make(chan []byte, 1), log: zerolog.Nop()}
	require.True(t, hub.add(slow))

	hub.Broadcast([]byte("one"))
	hub.Broadcast([]byte("two"))
	require.Eventually(t, func() bool { return hub.SessionCount() == 0 }, time.Second, time.Millisecond)
	assert.False(t, slow.enqueue([]byte("three")))
}
