// Package server exposes the collector's REST, live WebSocket, and metrics
// surface.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"telemetryhub/internal/hub"
	"telemetryhub/internal/logger"
	"telemetryhub/pkg/models"
)

const maxQueryLimit = 1000

// DeviceReader lists known devices and their history.
type DeviceReader interface {
	ListDeviceIDs(ctx context.Context) ([]string, error)
	QueryTelemetry(ctx context.Context, deviceID string, limit int64) ([]models.TelemetrySample, error)
}

// LatestReader reads the freshness cache.
type LatestReader interface {
	GetLatest(ctx context.Context, deviceID string) (*models.TelemetrySample, error)
}

// Config configures the listener.
type Config struct {
	Addr string
}

// Server serves queries and live subscriptions.
type Server struct {
	http     *http.Server
	store    DeviceReader
	cache    LatestReader
	hub      *hub.Hub
	upgrader websocket.Upgrader
}

// New builds the server and its routes.
func New(cfg Config, store DeviceReader, cache LatestReader, h *hub.Hub) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}

	s := &Server{
		store: store,
		cache: cache,
		hub:   h,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /devices", s.handleDevices)
	mux.HandleFunc("GET /telemetry/{deviceId}", s.handleTelemetry)
	mux.HandleFunc("GET /ws/telemetry", s.handleWS)
	mux.Handle("GET /metrics", promhttp.Handler())

	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Run serves until the listener is closed via Shutdown.
func (s *Server) Run() error {
	logger.Infof("HTTP server listening on %s", s.http.Addr)
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type deviceEntry struct {
	DeviceID string                  `json:"deviceId"`
	Latest   *models.TelemetrySample `json:"latest"`
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	ids, err := s.store.ListDeviceIDs(r.Context())
	if err != nil {
		logger.Errorf("Failed to list devices: %v", err)
		http.Error(w, "failed to list devices", http.StatusInternalServerError)
		return
	}

	out := make([]deviceEntry, 0, len(ids))
	for _, id := range ids {
		latest, err := s.cache.GetLatest(r.Context(), id)
		if err != nil {
			logger.Warnf("Failed to read latest for %s: %v", id, err)
		}
		out = append(out, deviceEntry{DeviceID: id, Latest: latest})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("deviceId")

	limit := int64(100)
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = parsed
	}
	if limit > maxQueryLimit {
		limit = maxQueryLimit
	}

	samples, err := s.store.QueryTelemetry(r.Context(), deviceID, limit)
	if err != nil {
		logger.Errorf("Failed to query telemetry for %s: %v", deviceID, err)
		http.Error(w, "failed to query telemetry", http.StatusInternalServerError)
		return
	}
	if samples == nil {
		samples = []models.TelemetrySample{}
	}
	writeJSON(w, http.StatusOK, samples)
}

// handleWS upgrades the connection and parks it in the hub until the peer
// goes away. Clients are not expected to send anything; the read loop only
// notices disconnects.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warnf("Failed to upgrade websocket: %v", err)
		return
	}

	sub := hub.NewWSSubscriber(conn)
	s.hub.Register(sub)
	defer func() {
		s.hub.Unregister(sub)
		sub.Close()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warnf("Failed to write response: %v", err)
	}
}
