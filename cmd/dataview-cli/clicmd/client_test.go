package clicmd

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestClicmd(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "CLI Client Suite")
}

var _ = Describe("opsClient", func() {
	It("decodes a successful GET response", func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"hits": 3, "misses": 1}`))
		}))
		defer srv.Close()

		var out cacheStatsResponse
		err := newOpsClient(srv.URL).get(context.Background(), "/cache/stats", &out)
		Expect(err).NotTo(HaveOccurred())
		Expect(out.Hits).To(Equal(int64(3)))
		Expect(out.Misses).To(Equal(int64(1)))
	})

	It("surfaces a non-2xx status as an error", func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "cache not configured", http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		var out cacheStatsResponse
		err := newOpsClient(srv.URL).get(context.Background(), "/cache/stats", &out)
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("cache not configured"))
	})

	It("wraps connection failures with the target address", func() {
		var out cacheStatsResponse
		err := newOpsClient("http://127.0.0.1:1").get(context.Background(), "/cache/stats", &out)
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("unreachable"))
	})
})
