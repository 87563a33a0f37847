package source

import (
	"TryOnServer/config"
	iface "TryOnServer/interface"
	"TryOnServer/logger"
	"fmt"
	"image"
	"sync"

	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// Frame is one acquired input. Image holds the source pixels at
// SourceWidth x SourceHeight; Width x Height is the output surface size.
type Frame struct {
	Image        image.Image
	SourceWidth  int
	SourceHeight int
	Width        int
	Height       int
	Live         bool
	Generation   uint64
}

// Capture is the subset of *gocv.VideoCapture the manager needs.
type Capture interface {
	Read(m *gocv.Mat) bool
	Get(prop gocv.VideoCaptureProperties) float64
	Set(prop gocv.VideoCaptureProperties, param float64)
	Close() error
}

type Opener func(device int) (Capture, error)

func OpenCamera(device int) (Capture, error) {
	vc, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return nil, err
	}
	if !vc.IsOpened() {
		_ = vc.Close()
		return nil, fmt.Errorf("device %d did not open", device)
	}
	return vc, nil
}

// Manager owns the single active input: a live camera or one still image.
type Manager struct {
	mu           sync.Mutex
	open         Opener
	camera       config.CameraConfig
	displayWidth int

	capture    Capture
	still      image.Image
	width      int
	height     int
	generation uint64
}

func NewManager(camera config.CameraConfig, displayWidth int, open Opener) *Manager {
	if open == nil {
		open = OpenCamera
	}
	return &Manager{open: open, camera: camera, displayWidth: displayWidth}
}

// StartLiveCapture opens the camera and makes it the active source. On
// failure nothing is left active.
func (m *Manager) StartLiveCapture() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	released := m.releaseLocked()

	c, err := m.open(m.camera.Device)
	if err != nil {
		if released {
			m.generation++
		}
		logger.Log().Warn("camera open failed", zap.Int("device", m.camera.Device), zap.Error(err))
		return fmt.Errorf("%w: %v", iface.ErrDeviceAccess, err)
	}
	c.Set(gocv.VideoCaptureFrameWidth, float64(m.camera.Width))
	c.Set(gocv.VideoCaptureFrameHeight, float64(m.camera.Height))
	w := int(c.Get(gocv.VideoCaptureFrameWidth))
	h := int(c.Get(gocv.VideoCaptureFrameHeight))
	if w <= 0 || h <= 0 {
		// some drivers do not report a size, trust the request
		w, h = m.camera.Width, m.camera.Height
	}
	m.capture = c
	m.width, m.height = w, h
	m.generation++
	logger.Log().Info("live capture started",
		zap.Int("device", m.camera.Device), zap.Int("width", w), zap.Int("height", h), zap.Uint64("generation", m.generation))
	return nil
}

// LoadStaticImage decodes data and, only when that succeeds, replaces the
// active source with it.
func (m *Manager) LoadStaticImage(data []byte) error {
	img, err := iface.DecodeImage(data, false)
	if err != nil {
		return err
	}
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return fmt.Errorf("%w: zero-sized image", iface.ErrInvalidImage)
	}
	w, h := FitWidth(b.Dx(), b.Dy(), m.displayWidth)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.releaseLocked()
	m.still = img
	m.width, m.height = w, h
	m.generation++
	logger.Log().Info("static image loaded",
		zap.Int("naturalWidth", b.Dx()), zap.Int("naturalHeight", b.Dy()),
		zap.Int("width", w), zap.Int("height", h), zap.Uint64("generation", m.generation))
	return nil
}

// ActiveFrame reads a fresh frame from the camera, or returns the still image.
func (m *Manager) ActiveFrame() (Frame, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case m.capture != nil:
		mat := gocv.NewMat()
		defer mat.Close()
		if !m.capture.Read(&mat) || mat.Empty() {
			return Frame{}, false
		}
		img, err := mat.ToImage()
		if err != nil {
			logger.Log().Warn("camera frame conversion failed", zap.Error(err))
			return Frame{}, false
		}
		b := img.Bounds()
		return Frame{
			Image:        img,
			SourceWidth:  b.Dx(),
			SourceHeight: b.Dy(),
			Width:        m.width,
			Height:       m.height,
			Live:         true,
			Generation:   m.generation,
		}, true
	case m.still != nil:
		b := m.still.Bounds()
		return Frame{
			Image:        m.still,
			SourceWidth:  b.Dx(),
			SourceHeight: b.Dy(),
			Width:        m.width,
			Height:       m.height,
			Generation:   m.generation,
		}, true
	}
	return Frame{}, false
}

// Stop releases whatever is held. Safe to call repeatedly.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.releaseLocked() {
		m.generation++
	}
}

func (m *Manager) Generation() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generation
}

func (m *Manager) Active() (active, live bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.capture != nil || m.still != nil, m.capture != nil
}

// Size is the current output surface size, zero when nothing is active.
func (m *Manager) Size() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.width, m.height
}

// releaseLocked closes the camera before returning; it reports whether a
// source was held.
func (m *Manager) releaseLocked() bool {
	held := m.capture != nil || m.still != nil
	if m.capture != nil {
		if err := m.capture.Close(); err != nil {
			logger.Log().Warn("camera close failed", zap.Error(err))
		}
		m.capture = nil
		logger.Log().Info("live capture released")
	}
	m.still = nil
	m.width, m.height = 0, 0
	return held
}

// FitWidth scales natural dimensions down to maxWidth, keeping the aspect
// ratio. Images narrower than maxWidth keep their size.
func FitWidth(width, height, maxWidth int) (int, int) {
	if maxWidth <= 0 || width <= maxWidth {
		return width, height
	}
	scale := float64(maxWidth) / float64(width)
	h := int(float64(height) * scale)
	if h < 1 {
		h = 1
	}
	return maxWidth, h
}
