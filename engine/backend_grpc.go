package engine

import (
	iface "TryOnServer/interface"
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	KeypointServiceName = "keypoint.KeypointService"
	MethodReady         = "/" + KeypointServiceName + "/Ready"
	MethodEstimatePoses = "/" + KeypointServiceName + "/EstimatePoses"
)

// GRPCBackend talks to a remote estimator. Messages are plain Struct/Empty
// so no generated stubs are needed on either side.
type GRPCBackend struct {
	address string
	timeout time.Duration

	mu   sync.Mutex
	conn *grpc.ClientConn
}

func NewGRPCBackend(address string, timeout time.Duration) *GRPCBackend {
	return &GRPCBackend{address: address, timeout: timeout}
}

func (b *GRPCBackend) Init(ctx context.Context) (iface.ModelInfo, error) {
	b.mu.Lock()
	if b.conn == nil {
		conn, err := grpc.NewClient(b.address, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			b.mu.Unlock()
			return iface.ModelInfo{}, fmt.Errorf("dial %s: %w", b.address, err)
		}
		b.conn = conn
	}
	conn := b.conn
	b.mu.Unlock()

	ctx, cancel := b.withTimeout(ctx)
	defer cancel()
	out := &structpb.Struct{}
	if err := conn.Invoke(ctx, MethodReady, &emptypb.Empty{}, out); err != nil {
		return iface.ModelInfo{}, fmt.Errorf("ready check: %w", err)
	}
	var info iface.ModelInfo
	if err := iface.StructInto(out, &info); err != nil {
		return iface.ModelInfo{}, fmt.Errorf("ready response: %w", err)
	}
	return info, nil
}

func (b *GRPCBackend) EstimatePoses(ctx context.Context, img image.Image) ([]iface.Pose, error) {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return nil, errors.New("grpc backend not initialized")
	}
	req, err := newEstimateRequest(img)
	if err != nil {
		return nil, err
	}
	in, err := iface.StructFrom(req)
	if err != nil {
		return nil, err
	}
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()
	out := &structpb.Struct{}
	if err := conn.Invoke(ctx, MethodEstimatePoses, in, out); err != nil {
		return nil, fmt.Errorf("estimate poses: %w", err)
	}
	var resp estimateResponse
	if err := iface.StructInto(out, &resp); err != nil {
		return nil, fmt.Errorf("estimate response: %w", err)
	}
	return resp.Poses, nil
}

func (b *GRPCBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil {
		return nil
	}
	err := b.conn.Close()
	b.conn = nil
	return err
}

func (b *GRPCBackend) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if b.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, b.timeout)
}
