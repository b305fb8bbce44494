package httpserver

import (
	"net/http"
	"time"

	"github.com/dataview/dataview/pkg/jobqueue"
	"github.com/dataview/dataview/pkg/metrics"
)

// handleMetrics snapshots every component's own counters into the
// well-known series names pkg/metrics declares, so operators have one
// place to scrape rather than hitting /cache/stats, /jobs/dlq, and
// /observers/status separately.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if methodNotAllowed(w, r, http.MethodGet) {
		return
	}
	if s.cache != nil {
		m := s.cache.Metrics()
		s.metrics.Gauge(metrics.CacheHits).Set(m.Hits)
		s.metrics.Gauge(metrics.CacheMisses).Set(m.Misses)
		s.metrics.Gauge(metrics.CacheInvalidations).Set(m.Invalidations)
	}
	if s.dispatcher != nil {
		d := s.dispatcher.Metrics()
		s.metrics.Gauge(metrics.ObserverMatches).Set(d.Dispatched + d.Deduplicated)
		s.metrics.Gauge(metrics.ActionExecutions).Set(d.Dispatched)
		s.metrics.Gauge(metrics.ActionFailures).Set(d.Halted)
	}
	if inspector, ok := s.queue.(jobqueue.DLQInspector); ok {
		if entries, err := inspector.DeadLetters(r.Context()); err == nil {
			s.metrics.Gauge(metrics.DLQSize).Set(int64(len(entries)))
		}
	}
	writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}

type healthResponse struct {
	Status      string  `json:"status"`
	UptimeSecs  float64 `json:"uptime_seconds"`
	Degradation string  `json:"degradation,omitempty"`
	Leader      string  `json:"leader,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:     "ok",
		UptimeSecs: time.Since(s.startedAt).Seconds(),
	}
	if s.breakers != nil {
		resp.Degradation = s.breakers.Overall().String()
	}
	if s.coord != nil {
		if leader, ok := s.coord.Leader(time.Now()); ok {
			resp.Leader = leader
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type cacheStatsResponse struct {
	Enabled       bool    `json:"enabled"`
	Hits          int64   `json:"hits"`
	Misses        int64   `json:"misses"`
	HitRate       float64 `json:"hit_rate"`
	TotalCached   int64   `json:"total_cached"`
	Invalidations int64   `json:"invalidations"`
	Size          int64   `json:"size"`
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	if methodNotAllowed(w, r, http.MethodGet) {
		return
	}
	if s.cache == nil {
		http.Error(w, "cache not configured", http.StatusServiceUnavailable)
		return
	}
	m := s.cache.Metrics()
	writeJSON(w, http.StatusOK, cacheStatsResponse{
		Enabled:       true,
		Hits:          m.Hits,
		Misses:        m.Misses,
		HitRate:       m.HitRate(),
		TotalCached:   m.TotalCached,
		Invalidations: m.Invalidations,
		Size:          m.Size,
	})
}

func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	if methodNotAllowed(w, r, http.MethodPost) {
		return
	}
	if s.cache == nil {
		http.Error(w, "cache not configured", http.StatusServiceUnavailable)
		return
	}
	s.cache.Clear()
	s.log.Info("cache cleared via ops endpoint")
	writeJSON(w, http.StatusOK, map[string]bool{"cleared": true})
}

func (s *Server) handleDependencyStats(w http.ResponseWriter, r *http.Request) {
	if methodNotAllowed(w, r, http.MethodGet) {
		return
	}
	if s.deps == nil {
		http.Error(w, "dependency graph not configured", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Snapshot())
}

type dlqEntryResponse struct {
	JobID     string    `json:"job_id"`
	EventType string    `json:"event_type"`
	Action    string    `json:"action"`
	Attempt   int       `json:"attempt"`
	Reason    string    `json:"reason"`
	At        time.Time `json:"at"`
}

func (s *Server) handleDLQ(w http.ResponseWriter, r *http.Request) {
	if methodNotAllowed(w, r, http.MethodGet) {
		return
	}
	if s.queue == nil {
		http.Error(w, "job queue not configured", http.StatusServiceUnavailable)
		return
	}
	inspector, ok := s.queue.(jobqueue.DLQInspector)
	if !ok {
		http.Error(w, "job queue backend does not support dead-letter inspection", http.StatusNotImplemented)
		return
	}

	entries, err := inspector.DeadLetters(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	out := make([]dlqEntryResponse, len(entries))
	for i, e := range entries {
		out[i] = dlqEntryResponse{
			JobID:     e.Job.ID,
			EventType: e.Job.EventType,
			Action:    e.Job.Action,
			Attempt:   e.Job.Attempt,
			Reason:    e.Reason,
			At:        e.At,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

type observerStatusResponse struct {
	Degradation string   `json:"degradation"`
	Leader      string   `json:"leader,omitempty"`
	Healthy     []string `json:"healthy_members"`
}

func (s *Server) handleObserverStatus(w http.ResponseWriter, r *http.Request) {
	if methodNotAllowed(w, r, http.MethodGet) {
		return
	}
	resp := observerStatusResponse{Healthy: []string{}}
	now := time.Now()
	if s.breakers != nil {
		resp.Degradation = s.breakers.Overall().String()
	}
	if s.coord != nil {
		resp.Healthy = s.coord.Healthy(now)
		if leader, ok := s.coord.Leader(now); ok {
			resp.Leader = leader
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
