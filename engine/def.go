package engine

import (
	"TryOnServer/config"
	iface "TryOnServer/interface"
	"encoding/base64"
	"fmt"
	"image"
)

// jpeg quality used when shipping frames to a remote estimator
const wireQuality = 90

type estimateRequest struct {
	Image  string `json:"image"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

type estimateResponse struct {
	Poses []iface.Pose `json:"poses"`
}

func newEstimateRequest(img image.Image) (estimateRequest, error) {
	data, err := iface.EncodeJPEG(img, wireQuality)
	if err != nil {
		return estimateRequest{}, fmt.Errorf("encode frame: %w", err)
	}
	b := img.Bounds()
	return estimateRequest{
		Image:  base64.StdEncoding.EncodeToString(data),
		Width:  b.Dx(),
		Height: b.Dy(),
	}, nil
}

// NewBackend builds the keypoint backend selected in the config.
func NewBackend(cfg config.KeypointConfig) (iface.KeypointBackend, error) {
	switch cfg.Backend {
	case "grpc":
		return NewGRPCBackend(cfg.Address, cfg.Timeout()), nil
	case "http":
		return NewHTTPBackend(cfg.Address, cfg.Timeout()), nil
	default:
		return nil, fmt.Errorf("unsupported backend: %s", cfg.Backend)
	}
}
