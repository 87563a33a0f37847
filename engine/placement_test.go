package engine

import (
	iface "TryOnServer/interface"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func shoulders(lx, ly, ls, rx, ry, rs float64) iface.Pose {
	return iface.Pose{Keypoints: []iface.Keypoint{
		{Name: "nose", X: 200, Y: 100, Score: 0.95},
		{Name: iface.LeftShoulder, X: lx, Y: ly, Score: ls},
		{Name: iface.RightShoulder, X: rx, Y: ry, Score: rs},
	}}
}

func defaultParams() iface.GarmentParameters {
	return iface.GarmentParameters{Scale: 1.0}
}

func TestComputePlacement(t *testing.T) {
	t.Run("Test Reference Scenario", func(t *testing.T) {
		p, ok := ComputePlacement(shoulders(100, 200, 0.9, 300, 220, 0.9), defaultParams())
		require.True(t, ok)
		assert.InDelta(t, 200, p.CenterX, 1e-9)
		assert.InDelta(t, 210, p.CenterY, 1e-9)
		assert.InDelta(t, math.Atan2(20, 200), p.Rotation, 1e-12)
		assert.InDelta(t, 0.0997, p.Rotation, 1e-4)
		assert.InDelta(t, 560, p.Width, 1e-9)
		assert.InDelta(t, 672, p.Height, 1e-9)
		assert.InDelta(t, -280, p.LocalOffsetX, 1e-9)
		assert.InDelta(t, -134.4, p.LocalOffsetY, 1e-9)
	})

	t.Run("Test Low Confidence", func(t *testing.T) {
		_, ok := ComputePlacement(shoulders(100, 200, 0.9, 300, 220, 0.2), defaultParams())
		assert.False(t, ok)
		_, ok = ComputePlacement(shoulders(100, 200, 0.3, 300, 220, 0.9), defaultParams())
		assert.False(t, ok, "threshold is exclusive")
		_, ok = ComputePlacement(shoulders(100, 200, 0.31, 300, 220, 0.31), defaultParams())
		assert.True(t, ok)
	})

	t.Run("Test Missing Shoulder", func(t *testing.T) {
		pose := iface.Pose{Keypoints: []iface.Keypoint{
			{Name: iface.LeftShoulder, X: 1, Y: 1, Score: 1},
			{Name: "right_hip", X: 2, Y: 2, Score: 1},
		}}
		_, ok := ComputePlacement(pose, defaultParams())
		assert.False(t, ok)
		_, ok = ComputePlacement(iface.Pose{}, defaultParams())
		assert.False(t, ok)
	})

	t.Run("Test Name Match Is Exact", func(t *testing.T) {
		pose := shoulders(100, 200, 0.9, 300, 220, 0.9)
		pose.Keypoints[1].Name = "Left_Shoulder"
		_, ok := ComputePlacement(pose, defaultParams())
		assert.False(t, ok)
	})

	t.Run("Test Scale Is Linear", func(t *testing.T) {
		pose := shoulders(100, 200, 0.9, 300, 220, 0.9)
		one, _ := ComputePlacement(pose, iface.GarmentParameters{Scale: 1})
		two, _ := ComputePlacement(pose, iface.GarmentParameters{Scale: 2})
		assert.InDelta(t, 2*one.Width, two.Width, 1e-9)
		assert.InDelta(t, 2*one.Height, two.Height, 1e-9)
	})

	t.Run("Test Vertical Offset", func(t *testing.T) {
		p, _ := ComputePlacement(shoulders(100, 200, 0.9, 300, 220, 0.9), iface.GarmentParameters{Scale: 1, VerticalOffset: 40})
		assert.InDelta(t, -94.4, p.LocalOffsetY, 1e-9)
		p, _ = ComputePlacement(shoulders(100, 200, 0.9, 300, 220, 0.9), iface.GarmentParameters{Scale: 1, VerticalOffset: -15})
		assert.InDelta(t, -149.4, p.LocalOffsetY, 1e-9)
	})

	t.Run("Test Rotation Follows Pose", func(t *testing.T) {
		base, _ := ComputePlacement(shoulders(100, 200, 0.9, 300, 220, 0.9), defaultParams())
		for _, theta := range []float64{-0.7, 0.1, 0.5, 1.2} {
			rot := func(x, y float64) (float64, float64) {
				dx, dy := x-200, y-210
				return 200 + dx*math.Cos(theta) - dy*math.Sin(theta), 210 + dx*math.Sin(theta) + dy*math.Cos(theta)
			}
			lx, ly := rot(100, 200)
			rx, ry := rot(300, 220)
			p, ok := ComputePlacement(shoulders(lx, ly, 0.9, rx, ry, 0.9), defaultParams())
			require.True(t, ok)
			assert.InDelta(t, base.Rotation+theta, p.Rotation, 1e-9)
		}
	})

	t.Run("Test First Match Wins", func(t *testing.T) {
		pose := shoulders(100, 200, 0.9, 300, 220, 0.9)
		pose.Keypoints = append(pose.Keypoints, iface.Keypoint{Name: iface.LeftShoulder, X: 0, Y: 0, Score: 1})
		p, _ := ComputePlacement(pose, defaultParams())
		assert.InDelta(t, 200, p.CenterX, 1e-9)
	})
}

func TestPrepareKeypoints(t *testing.T) {
	t.Run("Test Mirror", func(t *testing.T) {
		pose := iface.Pose{Keypoints: []iface.Keypoint{{Name: "nose", X: 120, Y: 50, Score: 1}}}
		out := PrepareKeypoints(pose, FrameGeometry{SourceWidth: 640, SourceHeight: 480, Width: 640, Height: 480, Live: true})
		assert.Equal(t, 640.0-120, out.Keypoints[0].X)
		assert.Equal(t, 50.0, out.Keypoints[0].Y)
		assert.Equal(t, 120.0, pose.Keypoints[0].X, "input must not be modified")
	})

	t.Run("Test Static Not Mirrored", func(t *testing.T) {
		pose := iface.Pose{Keypoints: []iface.Keypoint{{Name: "nose", X: 120, Y: 50, Score: 1}}}
		out := PrepareKeypoints(pose, FrameGeometry{SourceWidth: 640, SourceHeight: 480, Width: 640, Height: 480})
		assert.Equal(t, 120.0, out.Keypoints[0].X)
	})

	t.Run("Test Scale To Surface", func(t *testing.T) {
		pose := iface.Pose{Keypoints: []iface.Keypoint{{Name: "nose", X: 1000, Y: 600, Score: 1}}}
		out := PrepareKeypoints(pose, FrameGeometry{SourceWidth: 2000, SourceHeight: 1200, Width: 960, Height: 576})
		assert.InDelta(t, 480, out.Keypoints[0].X, 1e-9)
		assert.InDelta(t, 288, out.Keypoints[0].Y, 1e-9)
		assert.Equal(t, "nose", out.Keypoints[0].Name)
		assert.Equal(t, 1.0, out.Keypoints[0].Score)
	})

	t.Run("Test Scale Then Mirror", func(t *testing.T) {
		pose := iface.Pose{Keypoints: []iface.Keypoint{{X: 100, Y: 100}}}
		out := PrepareKeypoints(pose, FrameGeometry{SourceWidth: 1280, SourceHeight: 960, Width: 640, Height: 480, Live: true})
		assert.InDelta(t, 590, out.Keypoints[0].X, 1e-9)
		assert.InDelta(t, 50, out.Keypoints[0].Y, 1e-9)
	})
}

func TestMirror(t *testing.T) {
	for _, w := range []int{320, 640, 1920} {
		assert.Equal(t, float64(w)-120, Mirror(120, w))
		assert.Equal(t, 120.0, Mirror(Mirror(120, w), w))
	}
}

func TestFirstPose(t *testing.T) {
	_, ok := FirstPose(nil)
	assert.False(t, ok)
	a := shoulders(1, 1, 1, 2, 2, 1)
	b := shoulders(5, 5, 1, 6, 6, 1)
	p, ok := FirstPose([]iface.Pose{a, b})
	require.True(t, ok)
	assert.Equal(t, a, p)
}
