// Package adminapi provides the per-process HTTP introspection surface:
// liveness, Prometheus metrics, and debug snapshots of membership/overlay
// state. It is diagnostic only — nothing in the protocol path depends on
// it being reachable.
package adminapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/driftmesh/overlay/internal/observability"
)

// SeedView exposes read-only seed membership state to the admin API.
type SeedView interface {
	PLSnapshot() []string
}

// PeerView exposes read-only peer overlay state to the admin API.
type PeerView interface {
	NeighborSnapshot() []NeighborView
	PurgedSnapshot() []string
}

// NeighborView is one neighbor's state as rendered by /debug/neighbors.
type NeighborView struct {
	ID    string `json:"id"`
	State string `json:"state"`
}

// Server is the admin HTTP server for either a seed or a peer process.
type Server struct {
	tracer *observability.Tracer
	seed   SeedView
	peer   PeerView
}

// NewServer creates an admin server. seed and peer may each be nil; only
// one is normally set for a given process, but both are accepted so tests
// can exercise either role without a type switch.
func NewServer(tracer *observability.Tracer, seed SeedView, peer PeerView) *Server {
	return &Server{tracer: tracer, seed: seed, peer: peer}
}

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Get("/debug/spans", s.handleSpans)

	if s.seed != nil {
		r.Get("/debug/pl", s.handlePL)
	}
	if s.peer != nil {
		r.Get("/debug/neighbors", s.handleNeighbors)
		r.Get("/debug/purged", s.handlePurged)
	}

	return r
}

func (s *Server) handleSpans(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.tracer.Spans(200))
}

func (s *Server) handlePL(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"pl": s.seed.PLSnapshot()})
}

func (s *Server) handleNeighbors(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"neighbors": s.peer.NeighborSnapshot()})
}

func (s *Server) handlePurged(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"purged": s.peer.PurgedSnapshot()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
