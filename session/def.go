package session

import (
	"TryOnServer/compositor"
	"TryOnServer/engine"
	"TryOnServer/garment"
	iface "TryOnServer/interface"
	"TryOnServer/logger"
	"TryOnServer/monitor"
	"TryOnServer/source"
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"go.uber.org/zap"
)

type estimateResult struct {
	frame source.Frame
	poses []iface.Pose
	err   error
}

// Session drives the preview cycle: acquire frame, estimate pose, composite.
// The cycle runs on the Run goroutine only; at most one estimate is in flight
// and results from a replaced source are dropped by generation.
type Session struct {
	Sources  *source.Manager
	Garments *garment.Registry
	est      *engine.Estimator
	surface  *compositor.Surface
	interval time.Duration
	log      *zap.Logger

	results  chan estimateResult
	inFlight bool

	mu      sync.RWMutex
	latest  []byte
	lastErr string
	subs    map[string]chan []byte
}

func New(sources *source.Manager, garments *garment.Registry, est *engine.Estimator, interval time.Duration, quality int) *Session {
	return &Session{
		Sources:  sources,
		Garments: garments,
		est:      est,
		surface:  compositor.NewSurface(quality),
		interval: interval,
		log:      logger.Named("session"),
		results:  make(chan estimateResult, 1),
		subs:     map[string]chan []byte{},
	}
}

// Init loads the pose model. On failure capture stays disabled for the
// lifetime of the session.
func (s *Session) Init(ctx context.Context) error {
	if err := s.est.Init(ctx); err != nil {
		s.setErr(err)
		return err
	}
	return nil
}

func (s *Session) StartCapture() error {
	if !s.est.Ready() {
		err := fmt.Errorf("%w: capture disabled, reload required", iface.ErrModelInit)
		s.setErr(err)
		return err
	}
	if err := s.Sources.StartLiveCapture(); err != nil {
		s.setErr(err)
		return err
	}
	s.activated()
	return nil
}

func (s *Session) LoadImage(data []byte) error {
	if err := s.Sources.LoadStaticImage(data); err != nil {
		s.setErr(err)
		return err
	}
	s.activated()
	return nil
}

// activated drops the surface of the replaced source; viewers see nothing
// until the new source completes its first cycle.
func (s *Session) activated() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest = nil
	s.lastErr = ""
}

// StopCapture releases the source and clears the published surface.
func (s *Session) StopCapture() {
	s.Sources.Stop()
	s.mu.Lock()
	s.latest = nil
	s.mu.Unlock()
}

func (s *Session) State() iface.SessionState {
	active, live := s.Sources.Active()
	params := s.Garments.Snapshot()
	s.mu.RLock()
	lastErr := s.lastErr
	s.mu.RUnlock()
	if lastErr == "" && s.est.State() == engine.ERROR {
		lastErr = s.est.ErrorMessage()
	}
	return iface.SessionState{
		ModelReady:     s.est.Ready(),
		Active:         active,
		Live:           live,
		Generation:     s.Sources.Generation(),
		GarmentID:      params.GarmentID,
		Scale:          params.Scale,
		VerticalOffset: params.VerticalOffset,
		LastError:      lastErr,
	}
}

// Run blocks until ctx is done.
func (s *Session) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.log.Info("preview loop started", zap.Duration("interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			s.log.Info("preview loop stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		case res := <-s.results:
			s.handle(res)
		}
	}
}

func (s *Session) tick(ctx context.Context) {
	if s.inFlight {
		return
	}
	frame, ok := s.Sources.ActiveFrame()
	if !ok {
		return
	}
	if !s.est.Ready() {
		s.composite(frame, nil, nil)
		return
	}
	s.inFlight = true
	go func() {
		poses, err := s.est.Estimate(ctx, frame.Image)
		select {
		case s.results <- estimateResult{frame: frame, poses: poses, err: err}:
		case <-ctx.Done():
		}
	}()
}

func (s *Session) handle(res estimateResult) {
	s.inFlight = false
	if res.frame.Generation != s.Sources.Generation() {
		monitor.StaleResults.Inc()
		s.log.Debug("dropping estimate from replaced source",
			zap.Uint64("resultGeneration", res.frame.Generation), zap.Uint64("currentGeneration", s.Sources.Generation()))
		return
	}
	if res.err != nil {
		monitor.EstimateErrors.Inc()
		if !errors.Is(res.err, context.Canceled) {
			s.log.Warn("pose estimate failed, keeping previous surface", zap.Error(res.err))
		}
		return
	}

	params := s.Garments.Snapshot()
	var placement *iface.Placement
	if pose, ok := engine.FirstPose(res.poses); ok {
		prepared := engine.PrepareKeypoints(pose, engine.FrameGeometry{
			SourceWidth:  res.frame.SourceWidth,
			SourceHeight: res.frame.SourceHeight,
			Width:        res.frame.Width,
			Height:       res.frame.Height,
			Live:         res.frame.Live,
		})
		if p, ok := engine.ComputePlacement(prepared, params); ok {
			placement = &p
		}
	}
	if placement == nil {
		monitor.OverlayOmitted.Inc()
	}
	s.composite(res.frame, params.Image, placement)
}

func (s *Session) composite(frame source.Frame, garmentImg image.Image, placement *iface.Placement) {
	img := s.surface.Compose(frame, garmentImg, placement)
	data, err := s.surface.Encode(img)
	if err != nil {
		s.log.Warn("encoding preview surface", zap.Error(err))
		return
	}
	monitor.Cycles.Inc()
	s.publish(frame.Generation, data)
}

func (s *Session) publish(generation uint64, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// the source may have switched while this cycle was drawing
	if generation != s.Sources.Generation() {
		monitor.StaleResults.Inc()
		return
	}
	s.latest = data
	for _, ch := range s.subs {
		// one-slot mailbox: a newer surface replaces an unread one
		select {
		case ch <- data:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- data:
			default:
			}
		}
	}
}

// Latest is the most recent composited JPEG, nil before the first cycle.
func (s *Session) Latest() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest
}

// Frame is Latest for request handlers: it fails with ErrNoSource when
// nothing is active, and returns nil bytes while the first cycle is pending.
func (s *Session) Frame() ([]byte, error) {
	if active, _ := s.Sources.Active(); !active {
		return nil, iface.ErrNoSource
	}
	return s.Latest(), nil
}

// Subscribe registers a viewer; the channel is closed by Unsubscribe or Close.
func (s *Session) Subscribe(id string) <-chan []byte {
	ch := make(chan []byte, 1)
	s.mu.Lock()
	if old, ok := s.subs[id]; ok {
		close(old)
	}
	s.subs[id] = ch
	s.mu.Unlock()
	return ch
}

func (s *Session) Unsubscribe(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.subs[id]; ok {
		close(ch)
		delete(s.subs, id)
	}
}

// Close releases the camera, the model and every viewer. Idempotent.
func (s *Session) Close() {
	s.Sources.Stop()
	s.est.Destroy()
	s.mu.Lock()
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
	s.latest = nil
	s.mu.Unlock()
}

func (s *Session) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		s.lastErr = ""
		return
	}
	s.lastErr = err.Error()
}
