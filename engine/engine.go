package engine

import (
	iface "TryOnServer/interface"
	"TryOnServer/logger"
	"context"
	"fmt"
	"image"
	"sync"

	"go.uber.org/zap"
)

const (
	UNREGISTERED = 0x0001
	REGISTERED   = 0x0002
	IDLE         = 0x0003
	BUSY         = 0x0004
	ERROR        = 0x0005
)

// Estimator wraps a keypoint backend with the model lifecycle. Only one
// estimate may be outstanding; a second caller gets ErrEstimatorBusy.
type Estimator struct {
	mu           sync.Mutex
	backend      iface.KeypointBackend
	state        int
	info         iface.ModelInfo
	errorMessage string
}

func NewEstimator(backend iface.KeypointBackend) *Estimator {
	e := &Estimator{backend: backend, state: UNREGISTERED}
	if backend != nil {
		e.state = REGISTERED
	}
	return e
}

// Init loads the model. A failure is terminal: the estimator stays in ERROR
// until it is destroyed and recreated.
func (e *Estimator) Init(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.state {
	case UNREGISTERED:
		return fmt.Errorf("%w: no backend registered", iface.ErrModelInit)
	case ERROR:
		return fmt.Errorf("%w: %s", iface.ErrModelInit, e.errorMessage)
	case IDLE, BUSY:
		return nil
	}
	info, err := e.backend.Init(ctx)
	if err == nil && !info.Ready {
		err = fmt.Errorf("backend reported model %q not ready", info.Model)
	}
	if err != nil {
		e.state = ERROR
		e.errorMessage = err.Error()
		logger.Log().Error("pose model init failed", zap.Error(err))
		return fmt.Errorf("%w: %v", iface.ErrModelInit, err)
	}
	e.info = info
	e.state = IDLE
	logger.Log().Info("pose model loaded", zap.String("model", info.Model))
	return nil
}

func (e *Estimator) Estimate(ctx context.Context, img image.Image) (poses []iface.Pose, err error) {
	e.mu.Lock()
	switch e.state {
	case UNREGISTERED, REGISTERED:
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: model not loaded", iface.ErrModelInit)
	case ERROR:
		msg := e.errorMessage
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", iface.ErrModelInit, msg)
	case BUSY:
		e.mu.Unlock()
		return nil, iface.ErrEstimatorBusy
	}
	e.state = BUSY
	backend := e.backend
	e.mu.Unlock()

	defer func() {
		// a panicking backend must not take the preview loop down with it
		if r := recover(); r != nil {
			poses = nil
			err = fmt.Errorf("panic during pose estimate: %v", r)
		}
		e.mu.Lock()
		if e.state == BUSY {
			e.state = IDLE
		}
		e.mu.Unlock()
	}()
	return backend.EstimatePoses(ctx, img)
}

func (e *Estimator) State() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Ready reports whether the model is loaded (busy counts as ready).
func (e *Estimator) Ready() bool {
	s := e.State()
	return s == IDLE || s == BUSY
}

func (e *Estimator) Info() iface.ModelInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.info
}

func (e *Estimator) ErrorMessage() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.errorMessage
}

func (e *Estimator) Destroy() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.backend != nil {
		if err := e.backend.Close(); err != nil {
			logger.Log().Warn("closing keypoint backend", zap.Error(err))
		}
	}
	e.backend = nil
	e.info = iface.ModelInfo{}
	e.errorMessage = ""
	e.state = UNREGISTERED
}
