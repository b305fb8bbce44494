package grpcserver_test

import (
	"context"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/dataview/dataview/internal/grpcserver"
	"github.com/dataview/dataview/internal/grpcserver/proto"
	"github.com/dataview/dataview/pkg/observer"
	"github.com/dataview/dataview/pkg/wire"
)

func TestGRPCServer(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "gRPC Server Suite")
}

var _ = Describe("Server.Health", func() {
	It("reports ok without dialing anything", func() {
		s := grpcserver.New(wire.ConnectDescriptor{}, nil, nil, nil)
		resp, err := s.Health(context.Background(), &proto.HealthRequest{})
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Status).To(Equal("ok"))
	})
})

var _ = Describe("Server.ObserverStatus", func() {
	It("reports the leader and degradation from wired components", func() {
		coord := observer.NewCoordinator()
		now := time.Now()
		coord.Register("listener-a", now)

		breaker := observer.NewCircuitBreaker("view-a", observer.BreakerConfig{})
		monitor := observer.NewDegradationMonitor()
		monitor.Track(breaker)

		s := grpcserver.New(wire.ConnectDescriptor{}, coord, monitor, nil)
		resp, err := s.ObserverStatus(context.Background(), &proto.ObserverStatusRequest{})
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Leader).To(Equal("listener-a"))
		Expect(resp.Degradation).To(Equal(observer.Normal.String()))
	})

	It("returns empty status with no components wired", func() {
		s := grpcserver.New(wire.ConnectDescriptor{}, nil, nil, nil)
		resp, err := s.ObserverStatus(context.Background(), &proto.ObserverStatusRequest{})
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.HealthyMembers).To(BeEmpty())
		Expect(resp.Leader).To(BeEmpty())
	})
})

var _ = Describe("Server.StreamQuery", func() {
	It("surfaces a connection failure as an Unavailable gRPC status", func() {
		desc := wire.ConnectDescriptor{Host: "127.0.0.1", Port: 1, Database: "nope", User: "nope"}
		s := grpcserver.New(desc, nil, nil, nil)

		err := s.StreamQuery(&proto.StreamQueryRequest{View: "orders_view", Query: "SELECT data FROM orders_view"}, nil)
		Expect(err).To(HaveOccurred())
		Expect(status.Code(err)).To(Equal(codes.Unavailable))
	})
})
