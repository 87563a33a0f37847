package iface

import (
	"context"
	"errors"
	"image"
)

var (
	ErrDeviceAccess   = errors.New("camera device unavailable or access denied")
	ErrInvalidImage   = errors.New("image could not be decoded")
	ErrModelInit      = errors.New("pose model failed to initialize")
	ErrNoSource       = errors.New("no active frame source")
	ErrEstimatorBusy  = errors.New("estimator is busy")
	ErrUnknownGarment = errors.New("garment not in catalog")
)

const (
	LeftShoulder  = "left_shoulder"
	RightShoulder = "right_shoulder"
)

// Keypoint is one named landmark in frame pixels, origin top-left.
type Keypoint struct {
	Name  string  `json:"name"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Score float64 `json:"score"`
}

type Pose struct {
	Keypoints []Keypoint `json:"keypoints"`
}

// Find returns the first keypoint with the exact name.
func (p Pose) Find(name string) (Keypoint, bool) {
	for _, kp := range p.Keypoints {
		if kp.Name == name {
			return kp, true
		}
	}
	return Keypoint{}, false
}

type GarmentParameters struct {
	GarmentID      string
	Image          image.Image
	Scale          float64
	VerticalOffset float64
}

// Placement is the per-cycle affine placement of the garment overlay.
// The overlay is drawn at (LocalOffsetX, LocalOffsetY) after translating to
// the center and rotating by Rotation.
type Placement struct {
	CenterX      float64 `json:"centerX"`
	CenterY      float64 `json:"centerY"`
	Width        float64 `json:"width"`
	Height       float64 `json:"height"`
	Rotation     float64 `json:"rotationRadians"`
	LocalOffsetX float64 `json:"localOffsetX"`
	LocalOffsetY float64 `json:"localOffsetY"`
}

type SessionState struct {
	ModelReady     bool    `json:"modelReady"`
	Active         bool    `json:"active"`
	Live           bool    `json:"live"`
	Generation     uint64  `json:"generation"`
	GarmentID      string  `json:"garmentId"`
	Scale          float64 `json:"scale"`
	VerticalOffset float64 `json:"verticalOffset"`
	LastError      string  `json:"lastError,omitempty"`
}

type ModelInfo struct {
	Ready bool   `json:"ready"`
	Model string `json:"model"`
}

// KeypointBackend is the contract of an external pose estimator.
type KeypointBackend interface {
	Init(ctx context.Context) (ModelInfo, error)
	EstimatePoses(ctx context.Context, img image.Image) ([]Pose, error)
	Close() error
}
