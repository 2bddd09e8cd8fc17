// Package api serves zone selection sessions over websocket, plus a small
// authenticated HTTP surface for the zone catalog.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/earthring/zoneselect/internal/auth"
	"github.com/earthring/zoneselect/internal/config"
	"github.com/earthring/zoneselect/internal/logger"
	"github.com/earthring/zoneselect/internal/selection"
	"github.com/earthring/zoneselect/internal/telemetry"
	"github.com/gorilla/websocket"
	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	limiter "github.com/ulule/limiter/v3"
)

// upgradeLimit caps websocket handshakes per client IP per minute.
const upgradeLimit = 60

// Server owns the zone catalog, the session hub and the HTTP routes.
type Server struct {
	cfg      *config.Config
	store    selection.Store
	jwt      *auth.JWTService
	hub      *Hub
	rate     limiter.Rate
	messages *messageLimiter
	upgrader websocket.Upgrader
	log      zerolog.Logger

	mu     sync.RWMutex
	zones  []selection.Zone
	reload CatalogLoader
}

// CatalogLoader reads the zone catalog from its source.
type CatalogLoader func(ctx context.Context) ([]selection.Zone, error)

// NewServer builds a server over zones. store may be nil, in which case
// selections are not persisted between sessions.
func NewServer(cfg *config.Config, store selection.Store, zones []selection.Zone, base zerolog.Logger) (*Server, error) {
	rate, err := ParseRate(cfg.Server.RateLimit)
	if err != nil {
		return nil, err
	}
	lg := base.With().Str("component", "api").Logger()
	return &Server{
		cfg:      cfg,
		store:    store,
		jwt:      auth.NewJWTService(cfg),
		hub:      NewHub(lg),
		rate:     rate,
		messages: newMessageLimiter(rate),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(cfg.Server.AllowedOrigins),
		},
		log:   lg,
		zones: zones,
	}, nil
}

// Run drives the session hub until ctx is cancelled. It must be running
// for websocket sessions to be accepted.
func (s *Server) Run(ctx context.Context) error {
	s.hub.Run(ctx)
	return nil
}

// Hub returns the session hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Zones returns the current catalog.
func (s *Server) Zones() []selection.Zone {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.zones
}

// SetZones swaps the catalog and hands it to every open session.
func (s *Server) SetZones(zones []selection.Zone) {
	s.mu.Lock()
	s.zones = zones
	s.hub.forEach(func(sess *session) {
		sess.engine.SetZones(zones)
	})
	s.mu.Unlock()

	s.log.Info().Int("zones", len(zones)).Int("sessions", s.hub.SessionCount()).Msg("zone catalog updated")
	s.hub.Broadcast(newMessage(msgCatalogUpdated, "", catalogData{Zones: len(zones)}))
}

// SetCatalogLoader enables POST /api/catalog/reload for admins.
func (s *Server) SetCatalogLoader(load CatalogLoader) {
	s.mu.Lock()
	s.reload = load
	s.mu.Unlock()
}

// Handler returns the HTTP handler with all routes and middleware.
func (s *Server) Handler() http.Handler {
	userLimit := UserRateLimitMiddleware(int(s.rate.Limit), s.rate.Period)
	authed := func(h http.HandlerFunc) http.Handler {
		return s.jwt.Middleware(userLimit(h))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", telemetry.Handler())
	mux.Handle("GET /api/zones", authed(s.handleListZones))
	mux.Handle("GET /api/zones/{id}", authed(s.handleGetZone))
	mux.Handle("GET /api/selection", authed(s.handleGetSelection))
	mux.Handle("POST /api/catalog/reload", s.jwt.Middleware(auth.RequireRole("admin")(userLimit(http.HandlerFunc(s.handleReloadCatalog)))))
	mux.Handle("GET /ws", RateLimitMiddleware(upgradeLimit, time.Minute)(http.HandlerFunc(s.HandleWebSocket)))

	var h http.Handler = mux
	h = auth.SecurityHeadersMiddleware(s.cfg.Server.IsProduction())(h)
	h = CORSMiddleware(s.cfg.Server.AllowedOrigins)(h)
	h = logger.RequestLogger(s.log)(h)
	return h
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"zones":    len(s.Zones()),
		"sessions": s.hub.SessionCount(),
	})
}

type zoneListResponse struct {
	Zones []selection.Zone `json:"zones"`
	Count int              `json:"count"`
}

func (s *Server) handleListZones(w http.ResponseWriter, r *http.Request) {
	zones := s.Zones()
	if zones == nil {
		zones = []selection.Zone{}
	}
	writeJSON(w, http.StatusOK, zoneListResponse{Zones: zones, Count: len(zones)})
}

// handleGetZone returns one zone as a GeoJSON feature.
func (s *Server) handleGetZone(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	for _, z := range s.Zones() {
		if z.ID != id {
			continue
		}
		feature := geojson.NewFeature(z.Geometry)
		feature.ID = z.ID
		for k, v := range z.Properties {
			feature.Properties[k] = v
		}
		feature.Properties["name"] = z.Name
		if z.BBox != nil {
			feature.BBox = geojson.NewBBox(*z.BBox)
		}
		writeJSON(w, http.StatusOK, feature)
		return
	}
	respondWithError(w, http.StatusNotFound, "ZoneNotFound", "Zone not found")
}

// handleReloadCatalog re-reads the catalog and pushes it to every session.
func (s *Server) handleReloadCatalog(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	load := s.reload
	s.mu.RUnlock()
	if load == nil {
		respondWithError(w, http.StatusNotImplemented, "ReloadUnavailable", "Catalog reload is not configured")
		return
	}

	zones, err := load(r.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("catalog reload failed")
		respondWithError(w, http.StatusInternalServerError, "CatalogLoadFailed", "Failed to load zone catalog")
		return
	}
	s.SetZones(zones)
	writeJSON(w, http.StatusOK, catalogData{Zones: len(zones)})
}

type selectionResponse struct {
	UserID  int64    `json:"user_id"`
	ZoneIDs []string `json:"zone_ids"`
}

// handleGetSelection returns the caller's persisted selection.
func (s *Server) handleGetSelection(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.GetUserID(r)
	resp := selectionResponse{UserID: userID, ZoneIDs: []string{}}
	if s.store == nil {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.storeTimeout())
	defer cancel()
	ids, err := s.store.Get(ctx, SelectionKey(userID))
	if err != nil {
		telemetry.StoreErrors.WithLabelValues("get").Inc()
		s.log.Error().Err(err).Int64("user_id", userID).Msg("failed to read persisted selection")
		respondWithError(w, http.StatusServiceUnavailable, "StoreUnavailable", "Selection store unavailable")
		return
	}
	if ids != nil {
		resp.ZoneIDs = ids
	}
	writeJSON(w, http.StatusOK, resp)
}

// SelectionKey is the store key of a user's persisted selection.
func SelectionKey(userID int64) string {
	return fmt.Sprintf("user:%d", userID)
}

func (s *Server) storeTimeout() time.Duration {
	if s.cfg.Store.WriteTimeout > 0 {
		return s.cfg.Store.WriteTimeout
	}
	return 5 * time.Second
}

// ErrorResponse is the JSON body of every HTTP failure.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func respondWithError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Debug().Err(err).Msg("failed to write response")
	}
}
