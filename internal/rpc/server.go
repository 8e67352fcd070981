package rpc

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/ashureev/bookspirit/internal/dialog"
	"github.com/ashureev/bookspirit/internal/identity"
)

// Service and method names.
const (
	ServiceName         = "bookspirit.v1.Dialog"
	handleMessageMethod = "/" + ServiceName + "/HandleMessage"
)

// DialogServer is the server-side contract of the Dialog service.
type DialogServer interface {
	HandleMessage(ctx context.Context, req *dialog.Request) (*dialog.Reply, error)
}

// Engine is the dialog pipeline.
type Engine interface {
	HandleMessage(ctx context.Context, req dialog.Request) dialog.Reply
}

type dialogServer struct {
	engine Engine
}

func (s *dialogServer) HandleMessage(ctx context.Context, req *dialog.Request) (*dialog.Reply, error) {
	if req == nil || strings.TrimSpace(req.Message) == "" {
		return nil, status.Error(codes.InvalidArgument, "message is required")
	}
	if req.UserID == "" {
		req.UserID = identity.NewAnonID()
	} else if !identity.ValidUserID(req.UserID) {
		return nil, status.Error(codes.InvalidArgument, "invalid user_id")
	}
	reply := s.engine.HandleMessage(ctx, *req)
	return &reply, nil
}

func handleMessageHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(dialog.Request)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DialogServer).HandleMessage(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: handleMessageMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(DialogServer).HandleMessage(ctx, req.(*dialog.Request))
	}
	return interceptor(ctx, in, info, handler)
}

// ServiceDesc describes the Dialog service for registration.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*DialogServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "HandleMessage", Handler: handleMessageHandler},
	},
	Metadata: "bookspirit/v1/dialog",
}

// NewServer builds a gRPC server exposing the Dialog service and the
// standard health service.
func NewServer(engine Engine, logger *slog.Logger, opts ...grpc.ServerOption) *grpc.Server {
	if logger == nil {
		logger = slog.Default()
	}
	opts = append([]grpc.ServerOption{
		grpc.ChainUnaryInterceptor(recoverInterceptor(logger), logInterceptor(logger)),
	}, opts...)

	srv := grpc.NewServer(opts...)
	srv.RegisterService(&ServiceDesc, &dialogServer{engine: engine})

	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)

	return srv
}

func logInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logger.Info("gRPC request",
			"method", info.FullMethod,
			"code", status.Code(err).String(),
			"duration", time.Since(start),
		)
		return resp, err
	}
}

func recoverInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("gRPC handler panicked", "method", info.FullMethod, "panic", fmt.Sprint(r))
				err = status.Error(codes.Internal, "internal error")
			}
		}()
		return handler(ctx, req)
	}
}
