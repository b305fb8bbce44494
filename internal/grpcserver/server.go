// Package grpcserver is the gRPC operational front door: StreamQuery
// wraps pkg/stream's producer/consumer pipeline as a server-streaming
// RPC, and ObserverStatus reports the observer runtime's coordinator
// and circuit-breaker state. Generated message/stub code lives in
// internal/grpcserver/proto, produced by protoc from dataview.proto and
// never hand-edited.
package grpcserver

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pb "github.com/dataview/dataview/internal/grpcserver/proto"
	"github.com/dataview/dataview/pkg/conn"
	"github.com/dataview/dataview/pkg/dataerr"
	"github.com/dataview/dataview/pkg/logging"
	"github.com/dataview/dataview/pkg/observer"
	"github.com/dataview/dataview/pkg/stream"
	"github.com/dataview/dataview/pkg/wire"
)

// Server implements pb.DataViewServiceServer. Each StreamQuery call
// opens its own wire connection against desc rather than sharing a
// pool, since the from-scratch client is single-query-at-a-time per
// connection (see pkg/conn's Idle/QueryInProgress state machine).
type Server struct {
	pb.UnimplementedDataViewServiceServer

	desc     wire.ConnectDescriptor
	coord    *observer.Coordinator
	breakers *observer.DegradationMonitor
	log      logging.Logger
}

// New constructs a Server that dials desc fresh for every StreamQuery
// call. coord and breakers may be nil when this deployment runs no
// observer runtime.
func New(desc wire.ConnectDescriptor, coord *observer.Coordinator, breakers *observer.DegradationMonitor, log logging.Logger) *Server {
	if log == nil {
		log = logging.Noop()
	}
	return &Server{desc: desc, coord: coord, breakers: breakers, log: log}
}

// Register attaches this Server to grpcServer.
func (s *Server) Register(grpcServer *grpc.Server) {
	pb.RegisterDataViewServiceServer(grpcServer, s)
}

func (s *Server) Health(ctx context.Context, req *pb.HealthRequest) (*pb.HealthResponse, error) {
	return &pb.HealthResponse{Status: "ok"}, nil
}

func (s *Server) StreamQuery(req *pb.StreamQueryRequest, out pb.DataViewService_StreamQueryServer) error {
	transport := wire.NewTransport(s.desc)
	c := conn.New(s.desc, transport, s.log)

	params := map[string]string{"user": s.desc.User}
	if s.desc.Database != "" {
		params["database"] = s.desc.Database
	}
	if err := c.Startup(params); err != nil {
		return grpcError(err)
	}

	opts := stream.Options{
		MaxMemory: req.MaxMemoryBytes,
		SoftWarn:  req.SoftWarnRatio,
		SoftFail:  req.SoftFailRatio,
		Logger:    s.log,
	}
	js, err := stream.StreamingQuery(out.Context(), c, req.Query, opts)
	if err != nil {
		c.Close()
		return grpcError(err)
	}
	defer js.Close()

	for item := range js.Items() {
		if item.Err != nil {
			sendErr := out.Send(&pb.StreamQueryResponse{
				Payload: &pb.StreamQueryResponse_Error{Error: &pb.QueryError{Message: item.Err.Error()}},
			})
			if sendErr != nil {
				return sendErr
			}
			return nil
		}
		if err := out.Send(&pb.StreamQueryResponse{
			Payload: &pb.StreamQueryResponse_Document{Document: &pb.QueryDocument{Json: item.Doc}},
		}); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) ObserverStatus(ctx context.Context, req *pb.ObserverStatusRequest) (*pb.ObserverStatusResponse, error) {
	resp := &pb.ObserverStatusResponse{HealthyMembers: []string{}}
	now := time.Now()
	if s.breakers != nil {
		resp.Degradation = s.breakers.Overall().String()
	}
	if s.coord != nil {
		resp.HealthyMembers = s.coord.Healthy(now)
		if leader, ok := s.coord.Leader(now); ok {
			resp.Leader = leader
		}
	}
	return resp, nil
}

// grpcError maps dataview's error taxonomy onto the nearest gRPC status
// code, so the error kind alone decides what's surfaced to the client
// regardless of which handler produced it.
func grpcError(err error) error {
	switch {
	case dataerr.IsConfigError(err):
		return status.Error(codes.InvalidArgument, err.Error())
	case dataerr.IsAuthenticationError(err):
		return status.Error(codes.Unauthenticated, err.Error())
	case dataerr.IsTransportError(err), dataerr.IsProtocolError(err):
		return status.Error(codes.Unavailable, err.Error())
	case dataerr.IsSQLError(err):
		return status.Error(codes.InvalidArgument, err.Error())
	case dataerr.IsStateError(err):
		return status.Error(codes.FailedPrecondition, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
