// Package httpserver is the plain HTTP/JSON ops front door: health,
// cache stats, dependency-graph stats, and dead-letter inspection. It
// never executes a caller's query — that surface is StreamQuery on
// internal/grpcserver, keeping the REST control plane and the gRPC
// data plane on separate listeners with separate failure domains.
package httpserver

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/dataview/dataview/pkg/cache"
	"github.com/dataview/dataview/pkg/invalidate"
	"github.com/dataview/dataview/pkg/jobqueue"
	"github.com/dataview/dataview/pkg/logging"
	"github.com/dataview/dataview/pkg/metrics"
	"github.com/dataview/dataview/pkg/observer"
)

// Server wires the ops endpoints around the components they report on.
// Any field may be nil; handlers degrade to reporting "unavailable"
// rather than panicking, since not every deployment runs every
// component (e.g. a read replica with no job queue).
type Server struct {
	cache      *cache.Cache
	queue      jobqueue.Queue
	deps       *invalidate.Graph
	breakers   *observer.DegradationMonitor
	coord      *observer.Coordinator
	dispatcher *observer.Dispatcher
	metrics    *metrics.Registry
	log        logging.Logger
	startedAt  time.Time
}

// New constructs a Server. Pass nil for any component not wired in this
// deployment.
func New(c *cache.Cache, queue jobqueue.Queue, deps *invalidate.Graph, breakers *observer.DegradationMonitor, coord *observer.Coordinator, dispatcher *observer.Dispatcher, log logging.Logger) *Server {
	if log == nil {
		log = logging.Noop()
	}
	return &Server{
		cache:      c,
		queue:      queue,
		deps:       deps,
		breakers:   breakers,
		coord:      coord,
		dispatcher: dispatcher,
		metrics:    metrics.NewRegistry(),
		log:        log,
		startedAt:  time.Now(),
	}
}

// Routes returns the handler tree, suitable for http.ListenAndServe or
// httptest.NewServer.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/cache/stats", s.handleCacheStats)
	mux.HandleFunc("/cache/clear", s.handleCacheClear)
	mux.HandleFunc("/dependencies/stats", s.handleDependencyStats)
	mux.HandleFunc("/jobs/dlq", s.handleDLQ)
	mux.HandleFunc("/observers/status", s.handleObserverStatus)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed string) bool {
	if r.Method != allowed {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return true
	}
	return false
}
