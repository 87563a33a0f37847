package engine

import (
	iface "TryOnServer/interface"
	"math"
)

const (
	// ConfidenceThreshold is exclusive: a shoulder scoring exactly 0.3 is rejected.
	ConfidenceThreshold = 0.3
	// BaseWidthRatio is the garment width per unit of shoulder width, tuned for tops.
	BaseWidthRatio = 2.8
	GarmentAspect  = 1.2
	// LiftRatio shifts the garment up by this fraction of its height so the
	// collar sits above the shoulder line.
	LiftRatio = 0.2
)

// ComputePlacement derives the garment placement from the shoulder keypoints.
// It reports false when either shoulder is missing or not confident enough.
func ComputePlacement(pose iface.Pose, params iface.GarmentParameters) (iface.Placement, bool) {
	left, okL := pose.Find(iface.LeftShoulder)
	right, okR := pose.Find(iface.RightShoulder)
	if !okL || !okR || left.Score <= ConfidenceThreshold || right.Score <= ConfidenceThreshold {
		return iface.Placement{}, false
	}

	shoulderWidth := math.Abs(right.X - left.X)
	width := shoulderWidth * BaseWidthRatio * params.Scale
	height := width * GarmentAspect

	return iface.Placement{
		CenterX:      (left.X + right.X) / 2,
		CenterY:      (left.Y + right.Y) / 2,
		Width:        width,
		Height:       height,
		Rotation:     math.Atan2(right.Y-left.Y, right.X-left.X),
		LocalOffsetX: -width / 2,
		LocalOffsetY: -height*LiftRatio + params.VerticalOffset,
	}, true
}

// FrameGeometry describes where keypoints came from and where they are drawn.
type FrameGeometry struct {
	SourceWidth  int  `json:"sourceWidth"`
	SourceHeight int  `json:"sourceHeight"`
	Width        int  `json:"width"`
	Height       int  `json:"height"`
	Live         bool `json:"live"`
}

// PrepareKeypoints maps keypoints from detection space into output surface
// space: scale first when the sizes differ, then mirror for live capture.
// The input pose is left untouched.
func PrepareKeypoints(pose iface.Pose, g FrameGeometry) iface.Pose {
	sx, sy := 1.0, 1.0
	if g.SourceWidth > 0 && g.SourceHeight > 0 && (g.SourceWidth != g.Width || g.SourceHeight != g.Height) {
		sx = float64(g.Width) / float64(g.SourceWidth)
		sy = float64(g.Height) / float64(g.SourceHeight)
	}
	out := iface.Pose{Keypoints: make([]iface.Keypoint, len(pose.Keypoints))}
	for i, kp := range pose.Keypoints {
		kp.X *= sx
		kp.Y *= sy
		if g.Live {
			kp.X = Mirror(kp.X, g.Width)
		}
		out.Keypoints[i] = kp
	}
	return out
}

// Mirror flips x across a frame of the given width (selfie view).
func Mirror(x float64, frameWidth int) float64 {
	return float64(frameWidth) - x
}

// FirstPose returns the single subject the pipeline tracks.
func FirstPose(poses []iface.Pose) (iface.Pose, bool) {
	if len(poses) == 0 {
		return iface.Pose{}, false
	}
	return poses[0], true
}
