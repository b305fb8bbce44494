package httpserver_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/dataview/dataview/internal/httpserver"
	"github.com/dataview/dataview/pkg/cache"
	"github.com/dataview/dataview/pkg/invalidate"
	"github.com/dataview/dataview/pkg/jobqueue"
	"github.com/dataview/dataview/pkg/observer"
)

func TestHTTPServer(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "HTTP Ops Server Suite")
}

var _ = Describe("Server", func() {
	It("reports ok with no optional components wired", func() {
		srv := httpserver.New(nil, nil, nil, nil, nil, nil, nil)
		ts := httptest.NewServer(srv.Routes())
		defer ts.Close()

		resp, err := http.Get(ts.URL + "/health")
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		var body map[string]any
		Expect(json.NewDecoder(resp.Body).Decode(&body)).To(Succeed())
		Expect(body["status"]).To(Equal("ok"))
	})

	It("reports cache stats from a wired cache", func() {
		c, err := cache.New(10, time.Minute, true)
		Expect(err).NotTo(HaveOccurred())
		c.Put("k", cache.Payload{json.RawMessage(`{}`)}, []string{"v1"})
		c.Get("k")
		c.Get("missing")

		srv := httpserver.New(c, nil, nil, nil, nil, nil, nil)
		ts := httptest.NewServer(srv.Routes())
		defer ts.Close()

		resp, err := http.Get(ts.URL + "/cache/stats")
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		var body map[string]any
		Expect(json.NewDecoder(resp.Body).Decode(&body)).To(Succeed())
		Expect(body["hits"]).To(Equal(1.0))
		Expect(body["misses"]).To(Equal(1.0))
	})

	It("returns 503 for cache stats with no cache configured", func() {
		srv := httpserver.New(nil, nil, nil, nil, nil, nil, nil)
		ts := httptest.NewServer(srv.Routes())
		defer ts.Close()

		resp, err := http.Get(ts.URL + "/cache/stats")
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusServiceUnavailable))
	})

	It("lists dead-lettered jobs from a wired queue", func() {
		q := jobqueue.NewMemory()
		ctx := context.Background()
		Expect(q.Enqueue(ctx, jobqueue.Job{ID: "a", MaxAttempts: 0, Backoff: jobqueue.DefaultExponential()})).To(Succeed())
		jobs, err := q.Dequeue(ctx, 1, time.Minute)
		Expect(err).NotTo(HaveOccurred())
		Expect(q.Fail(ctx, jobs[0], nil)).To(Succeed())

		srv := httpserver.New(nil, q, nil, nil, nil, nil, nil)
		ts := httptest.NewServer(srv.Routes())
		defer ts.Close()

		resp, err := http.Get(ts.URL + "/jobs/dlq")
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		var entries []map[string]any
		Expect(json.NewDecoder(resp.Body).Decode(&entries)).To(Succeed())
		Expect(entries).To(HaveLen(1))
		Expect(entries[0]["job_id"]).To(Equal("a"))
	})

	It("reports dependency graph stats from a wired invalidation graph", func() {
		g := invalidate.New()
		Expect(g.AddDependency("order_summary", "orders")).To(Succeed())

		srv := httpserver.New(nil, nil, g, nil, nil, nil, nil)
		ts := httptest.NewServer(srv.Routes())
		defer ts.Close()

		resp, err := http.Get(ts.URL + "/dependencies/stats")
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
	})

	It("reports healthy members and leader from a wired coordinator", func() {
		coord := observer.NewCoordinator()
		now := time.Now()
		coord.Register("listener-b", now)
		coord.Register("listener-a", now)

		srv := httpserver.New(nil, nil, nil, nil, coord, nil, nil)
		ts := httptest.NewServer(srv.Routes())
		defer ts.Close()

		resp, err := http.Get(ts.URL + "/observers/status")
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()

		var body map[string]any
		Expect(json.NewDecoder(resp.Body).Decode(&body)).To(Succeed())
		Expect(body["leader"]).To(Equal("listener-a"))
	})

	It("reports cache and observer counters on /metrics", func() {
		c, err := cache.New(10, time.Minute, true)
		Expect(err).NotTo(HaveOccurred())
		c.Put("k", cache.Payload{json.RawMessage(`{}`)}, []string{"v1"})
		c.Get("k")

		srv := httpserver.New(c, nil, nil, nil, nil, nil, nil)
		ts := httptest.NewServer(srv.Routes())
		defer ts.Close()

		resp, err := http.Get(ts.URL + "/metrics")
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		var body map[string]int64
		Expect(json.NewDecoder(resp.Body).Decode(&body)).To(Succeed())
		Expect(body["cache_hits"]).To(Equal(int64(1)))
	})

	It("rejects the wrong method on cache/clear", func() {
		srv := httpserver.New(nil, nil, nil, nil, nil, nil, nil)
		ts := httptest.NewServer(srv.Routes())
		defer ts.Close()

		resp, err := http.Get(ts.URL + "/cache/clear")
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusMethodNotAllowed))
	})
})
