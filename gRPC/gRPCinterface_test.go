package proto

import (
	"TryOnServer/config"
	"TryOnServer/engine"
	"TryOnServer/garment"
	iface "TryOnServer/interface"
	"TryOnServer/monitor"
	"TryOnServer/session"
	"TryOnServer/source"
	"context"
	"image"
	"math"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

type MockBackend struct{}

func (m *MockBackend) Init(ctx context.Context) (iface.ModelInfo, error) {
	return iface.ModelInfo{Ready: true, Model: "mock"}, nil
}

func (m *MockBackend) EstimatePoses(ctx context.Context, img image.Image) ([]iface.Pose, error) {
	return nil, nil
}

func (m *MockBackend) Close() error { return nil }

func method(name string) string {
	return "/" + ServiceName + "/" + name
}

func call(t *testing.T, conn *grpc.ClientConn, name string, req any) (map[string]any, error) {
	t.Helper()
	in, err := iface.StructFrom(req)
	require.NoError(t, err)
	out := &structpb.Struct{}
	if err := conn.Invoke(context.Background(), method(name), in, out); err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}

func TestPreviewService(t *testing.T) {
	garments := garment.NewRegistry()
	require.NoError(t, garments.LoadCatalog(nil))
	sess := session.New(
		source.NewManager(config.CameraConfig{Width: 640, Height: 480}, 960, nil),
		garments,
		engine.NewEstimator(&MockBackend{}),
		33*time.Millisecond, 85,
	)
	require.NoError(t, sess.Init(context.Background()))

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	server := Serve(lis, sess)
	defer server.GracefulStop()

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	before := testutil.ToFloat64(monitor.GRPCTotal)

	t.Run("Test ComputePlacement", func(t *testing.T) {
		out, err := call(t, conn, "ComputePlacement", PlacementRequest{
			Pose: iface.Pose{Keypoints: []iface.Keypoint{
				{Name: iface.LeftShoulder, X: 100, Y: 200, Score: 0.9},
				{Name: iface.RightShoulder, X: 300, Y: 220, Score: 0.8},
			}},
		})
		require.NoError(t, err)
		assert.Equal(t, true, out["ok"])
		p := out["placement"].(map[string]any)
		assert.InDelta(t, 200, p["centerX"], 1e-9)
		assert.InDelta(t, 210, p["centerY"], 1e-9)
		assert.InDelta(t, 560, p["width"], 1e-9)
		assert.InDelta(t, 672, p["height"], 1e-9)
		assert.InDelta(t, -134.4, p["localOffsetY"], 1e-9)
		assert.InDelta(t, math.Atan2(20, 200), p["rotationRadians"], 1e-9)
	})

	t.Run("Test ComputePlacement Low Confidence", func(t *testing.T) {
		out, err := call(t, conn, "ComputePlacement", PlacementRequest{
			Pose: iface.Pose{Keypoints: []iface.Keypoint{
				{Name: iface.LeftShoulder, X: 100, Y: 200, Score: 0.2},
				{Name: iface.RightShoulder, X: 300, Y: 220, Score: 0.9},
			}},
		})
		require.NoError(t, err)
		assert.Equal(t, false, out["ok"])
		assert.Nil(t, out["placement"])
	})

	t.Run("Test ComputePlacement Live Frame", func(t *testing.T) {
		scale := 0.5
		out, err := call(t, conn, "ComputePlacement", PlacementRequest{
			Pose: iface.Pose{Keypoints: []iface.Keypoint{
				{Name: iface.LeftShoulder, X: 100, Y: 200, Score: 0.9},
				{Name: iface.RightShoulder, X: 300, Y: 200, Score: 0.9},
			}},
			Scale: &scale,
			Frame: &engine.FrameGeometry{SourceWidth: 640, SourceHeight: 480, Width: 640, Height: 480, Live: true},
		})
		require.NoError(t, err)
		p := out["placement"].(map[string]any)
		assert.InDelta(t, 440, p["centerX"], 1e-9)
		assert.InDelta(t, 280, p["width"], 1e-9)
	})

	t.Run("Test ComputePlacement Frame Without Size", func(t *testing.T) {
		_, err := call(t, conn, "ComputePlacement", PlacementRequest{
			Pose: iface.Pose{Keypoints: []iface.Keypoint{
				{Name: iface.LeftShoulder, X: 100, Y: 200, Score: 0.9},
				{Name: iface.RightShoulder, X: 300, Y: 200, Score: 0.9},
			}},
			Frame: &engine.FrameGeometry{SourceWidth: 640, SourceHeight: 480, Live: true},
		})
		assert.Equal(t, codes.InvalidArgument, status.Code(err))
	})

	t.Run("Test SetParams", func(t *testing.T) {
		out, err := call(t, conn, "SetParams", map[string]any{"scale": 1.5, "verticalOffset": -12})
		require.NoError(t, err)
		assert.InDelta(t, 1.5, out["scale"], 1e-9)
		assert.InDelta(t, -12, out["verticalOffset"], 1e-9)

		// omitted fields keep their value
		out, err = call(t, conn, "SetParams", map[string]any{"verticalOffset": 4})
		require.NoError(t, err)
		assert.InDelta(t, 1.5, out["scale"], 1e-9)
		assert.InDelta(t, 4, out["verticalOffset"], 1e-9)
	})

	t.Run("Test SelectGarment", func(t *testing.T) {
		out, err := call(t, conn, "SelectGarment", SelectRequest{ID: garment.DefaultID})
		require.NoError(t, err)
		assert.Equal(t, garment.DefaultID, out["garmentId"])

		_, err = call(t, conn, "SelectGarment", SelectRequest{ID: "ghost"})
		assert.Equal(t, codes.NotFound, status.Code(err))
	})

	t.Run("Test Status", func(t *testing.T) {
		out := &structpb.Struct{}
		require.NoError(t, conn.Invoke(context.Background(), method("Status"), &emptypb.Empty{}, out))
		var state iface.SessionState
		require.NoError(t, iface.StructInto(out, &state))
		assert.True(t, state.ModelReady)
		assert.False(t, state.Active)
	})

	t.Run("Test Shutdown", func(t *testing.T) {
		require.NoError(t, conn.Invoke(context.Background(), method("Shutdown"), &emptypb.Empty{}, &emptypb.Empty{}))
		select {
		case <-CloseChannel:
		case <-time.After(time.Second):
			t.Fatal("close channel not signalled")
		}
		// a second request must not panic on the closed channel
		assert.NoError(t, conn.Invoke(context.Background(), method("Shutdown"), &emptypb.Empty{}, &emptypb.Empty{}))
	})

	assert.Greater(t, testutil.ToFloat64(monitor.GRPCTotal), before)
}
