package proto

import (
	"TryOnServer/engine"
	iface "TryOnServer/interface"
	"TryOnServer/logger"
	"TryOnServer/monitor"
	"TryOnServer/session"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const ServiceName = "preview.PreviewService"

// CloseChannel is closed once a client asks the server to shut down.
var CloseChannel chan bool

var closeOnce sync.Once

type PlacementRequest struct {
	Pose           iface.Pose `json:"pose"`
	Scale          *float64   `json:"scale,omitempty"`
	VerticalOffset float64    `json:"verticalOffset"`
	// Frame is optional; when set the keypoints are mapped into surface space first.
	Frame *engine.FrameGeometry `json:"frame,omitempty"`
}

type PlacementResponse struct {
	Ok        bool             `json:"ok"`
	Placement *iface.Placement `json:"placement,omitempty"`
}

type ParamsRequest struct {
	Scale          *float64 `json:"scale,omitempty"`
	VerticalOffset *float64 `json:"verticalOffset,omitempty"`
}

type SelectRequest struct {
	ID string `json:"id"`
}

// PreviewServer is implemented by Server; the descriptor dispatches to it.
type PreviewServer interface {
	ComputePlacement(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SetParams(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SelectGarment(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Status(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Shutdown(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
}

type Server struct {
	Session *session.Session
}

func (s *Server) ComputePlacement(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	monitor.GRPCTotal.Inc()
	var req PlacementRequest
	if err := iface.StructInto(in, &req); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "placement request: %v", err)
	}
	params := iface.GarmentParameters{Scale: 1.0, VerticalOffset: req.VerticalOffset}
	if req.Scale != nil {
		params.Scale = *req.Scale
	}
	pose := req.Pose
	if req.Frame != nil {
		if req.Frame.Width <= 0 || req.Frame.Height <= 0 {
			return nil, status.Errorf(codes.InvalidArgument, "frame size must be positive, got %dx%d", req.Frame.Width, req.Frame.Height)
		}
		pose = engine.PrepareKeypoints(pose, *req.Frame)
	}
	resp := PlacementResponse{}
	if p, ok := engine.ComputePlacement(pose, params); ok {
		resp.Ok = true
		resp.Placement = &p
	}
	return iface.StructFrom(resp)
}

func (s *Server) SetParams(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	monitor.GRPCTotal.Inc()
	var req ParamsRequest
	if err := iface.StructInto(in, &req); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "params request: %v", err)
	}
	if req.Scale != nil {
		s.Session.Garments.SetScale(*req.Scale)
	}
	if req.VerticalOffset != nil {
		s.Session.Garments.SetVerticalOffset(*req.VerticalOffset)
	}
	logger.Log().Info("garment parameters updated over grpc", zap.Any("scale", req.Scale), zap.Any("verticalOffset", req.VerticalOffset))
	return iface.StructFrom(s.Session.State())
}

func (s *Server) SelectGarment(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	monitor.GRPCTotal.Inc()
	var req SelectRequest
	if err := iface.StructInto(in, &req); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "select request: %v", err)
	}
	if err := s.Session.Garments.SelectGarment(req.ID); err != nil {
		if errors.Is(err, iface.ErrUnknownGarment) {
			return nil, status.Error(codes.NotFound, err.Error())
		}
		return nil, status.Error(codes.Internal, err.Error())
	}
	return iface.StructFrom(s.Session.State())
}

func (s *Server) Status(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	monitor.GRPCTotal.Inc()
	return iface.StructFrom(s.Session.State())
}

func (s *Server) Shutdown(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	monitor.GRPCTotal.Inc()
	logger.Log().Warn("shutdown requested over grpc")
	closeOnce.Do(func() {
		if CloseChannel != nil {
			close(CloseChannel)
		}
	})
	return &emptypb.Empty{}, nil
}

func unary[In any](call func(PreviewServer, context.Context, In) (any, error), newIn func() In) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
		in := newIn()
		if err := dec(in); err != nil {
			return nil, err
		}
		return call(srv.(PreviewServer), ctx, in)
	}
}

func newStruct() *structpb.Struct { return &structpb.Struct{} }
func newEmpty() *emptypb.Empty    { return &emptypb.Empty{} }

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*PreviewServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ComputePlacement", Handler: unary(func(s PreviewServer, ctx context.Context, in *structpb.Struct) (any, error) {
			return s.ComputePlacement(ctx, in)
		}, newStruct)},
		{MethodName: "SetParams", Handler: unary(func(s PreviewServer, ctx context.Context, in *structpb.Struct) (any, error) {
			return s.SetParams(ctx, in)
		}, newStruct)},
		{MethodName: "SelectGarment", Handler: unary(func(s PreviewServer, ctx context.Context, in *structpb.Struct) (any, error) {
			return s.SelectGarment(ctx, in)
		}, newStruct)},
		{MethodName: "Status", Handler: unary(func(s PreviewServer, ctx context.Context, in *emptypb.Empty) (any, error) {
			return s.Status(ctx, in)
		}, newEmpty)},
		{MethodName: "Shutdown", Handler: unary(func(s PreviewServer, ctx context.Context, in *emptypb.Empty) (any, error) {
			return s.Shutdown(ctx, in)
		}, newEmpty)},
	},
	Metadata: "preview.proto",
}

// Serve registers the preview service on a new server bound to lis.
func Serve(lis net.Listener, sess *session.Session) *grpc.Server {
	CloseChannel = make(chan bool)
	closeOnce = sync.Once{}
	s := grpc.NewServer(grpc.ConnectionTimeout(5 * time.Second))
	s.RegisterService(&ServiceDesc, &Server{Session: sess})
	go func() {
		logger.Log().Info("grpc server listening", zap.String("addr", lis.Addr().String()))
		if err := s.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			logger.Log().Error("grpc server stopped", zap.Error(err))
		}
	}()
	return s
}

func StartGRPCServer(port int, sess *session.Session) (*grpc.Server, error) {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("listen on %d: %w", port, err)
	}
	return Serve(lis, sess), nil
}
