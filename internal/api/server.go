// Package api provides the thin HTTP surface over the engine's core
// contracts: status, detection queries and the live event stream.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/quantarc/signal-engine/internal/breaker"
	"github.com/quantarc/signal-engine/internal/broadcast"
	"github.com/quantarc/signal-engine/internal/cache"
	"github.com/quantarc/signal-engine/internal/detection"
	"github.com/quantarc/signal-engine/internal/ratelimit"
	"github.com/quantarc/signal-engine/internal/scanner"
	"github.com/quantarc/signal-engine/internal/strategy"
	"github.com/quantarc/signal-engine/internal/tracker"
	"github.com/quantarc/signal-engine/pkg/types"
)

// Server is the HTTP/WS front over the engine singletons.
type Server struct {
	logger     *zap.Logger
	router     *mux.Router
	scanner    *scanner.Scanner
	detections *detection.Store
	registry   *strategy.Registry
	trk        *tracker.GradeTracker
	bcast      *broadcast.Broadcaster
	breakers   *breaker.Manager
	cache      *cache.Cache
	limiter    *ratelimit.Limiter
}

// NewServer wires the routes.
func NewServer(
	logger *zap.Logger,
	sc *scanner.Scanner,
	detections *detection.Store,
	registry *strategy.Registry,
	trk *tracker.GradeTracker,
	bcast *broadcast.Broadcaster,
	breakers *breaker.Manager,
	c *cache.Cache,
	limiter *ratelimit.Limiter,
) *Server {
	s := &Server{
		logger:     logger,
		scanner:    sc,
		detections: detections,
		registry:   registry,
		trk:        trk,
		bcast:      bcast,
		breakers:   breakers,
		cache:      c,
		limiter:    limiter,
	}

	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.handleWebSocket)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	v1.HandleFunc("/strategies", s.handleStrategies).Methods(http.MethodGet)
	v1.HandleFunc("/upgrades", s.handleUpgrades).Methods(http.MethodGet)
	v1.HandleFunc("/detections", s.handleDetections).Methods(http.MethodGet)
	v1.HandleFunc("/detections/summary", s.handleDetectionSummary).Methods(http.MethodGet)
	v1.HandleFunc("/detections/{id}/execute", s.handleExecute).Methods(http.MethodPost)
	v1.HandleFunc("/detections/{id}/dismiss", s.handleDismiss).Methods(http.MethodPost)

	s.router = r
	return s
}

// Router returns the handler with CORS applied.
func (s *Server) Router() http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler(s.router)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"scan":        s.scanner.Status(),
		"subscribers": s.bcast.SubscriberCount(),
		"broadcast":   s.bcast.GetStats(),
		"circuits":    s.breakers.AllStats(),
		"cache":       s.cache.GetStats(),
		"rateLimiter": s.limiter.GetStats(),
	})
}

func (s *Server) handleStrategies(w http.ResponseWriter, r *http.Request) {
	metas := make([]strategy.Meta, 0)
	for _, st := range s.registry.List() {
		metas = append(metas, st.Meta())
	}
	s.writeJSON(w, http.StatusOK, metas)
}

func (s *Server) handleUpgrades(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.trk.RecentUpgrades())
}

func (s *Server) handleDetections(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := detection.Filter{
		Status:     types.DetectionStatus(q.Get("status")),
		StrategyID: q.Get("strategy"),
		Symbol:     q.Get("symbol"),
		MinGrade:   types.Grade(q.Get("grade")),
	}
	if limit, err := strconv.Atoi(q.Get("limit")); err == nil {
		filter.Limit = limit
	}
	if offset, err := strconv.Atoi(q.Get("offset")); err == nil {
		filter.Offset = offset
	}
	s.writeJSON(w, http.StatusOK, s.detections.Query(filter))
}

func (s *Server) handleDetectionSummary(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.detections.Summarize())
}

type notesRequest struct {
	Notes string `json:"notes"`
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	s.terminate(w, r, s.detections.Execute)
}

func (s *Server) handleDismiss(w http.ResponseWriter, r *http.Request) {
	s.terminate(w, r, s.detections.Dismiss)
}

func (s *Server) terminate(w http.ResponseWriter, r *http.Request, fn func(id, notes string) (*types.Detection, error)) {
	id := mux.Vars(r)["id"]

	var body notesRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}

	det, err := fn(id, body.Notes)
	if err != nil {
		status := http.StatusConflict
		if errors.Is(err, detection.ErrNotFound) {
			status = http.StatusNotFound
		}
		s.writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, det)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, value interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(value); err != nil {
		s.logger.Error("response encode failed", zap.Error(err))
	}
}
