package engine

import (
	iface "TryOnServer/interface"
	"context"
	"fmt"
	"image"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// HTTPBackend calls an estimator exposing GET /health and POST /estimate.
type HTTPBackend struct {
	client *resty.Client
}

// NewHTTPBackend accepts a bare host:port and assumes plain http for it.
func NewHTTPBackend(baseURL string, timeout time.Duration) *HTTPBackend {
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	return &HTTPBackend{client: client}
}

func (b *HTTPBackend) Init(ctx context.Context) (iface.ModelInfo, error) {
	var info iface.ModelInfo
	resp, err := b.client.R().
		SetContext(ctx).
		SetResult(&info).
		Get("/health")
	if err != nil {
		return iface.ModelInfo{}, fmt.Errorf("health request: %w", err)
	}
	if resp.IsError() {
		return iface.ModelInfo{}, fmt.Errorf("health check returned %s: %s", resp.Status(), resp.String())
	}
	return info, nil
}

func (b *HTTPBackend) EstimatePoses(ctx context.Context, img image.Image) ([]iface.Pose, error) {
	req, err := newEstimateRequest(img)
	if err != nil {
		return nil, err
	}
	var out estimateResponse
	resp, err := b.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		Post("/estimate")
	if err != nil {
		return nil, fmt.Errorf("estimate request: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("estimator returned %s: %s", resp.Status(), resp.String())
	}
	return out.Poses, nil
}

func (b *HTTPBackend) Close() error {
	return nil
}
