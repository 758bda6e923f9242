// Package simulator is a synthetic depth and color sensor for running the
// pipeline without hardware.
package simulator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"depthview-go/internal/geometry"
	"depthview-go/internal/mapping"
	"depthview-go/internal/sensor"
	"depthview-go/internal/types"
)

// Kinect v2 reliable range.
const (
	DefaultMinReliable = 500
	DefaultMaxReliable = 4500
)

type Source struct {
	system    *geometry.CameraSystem
	scene     Scene
	pool      *sensor.Pool
	fps       float64
	dropEvery int
	poolSize  int
	minMM     uint16
	maxMM     uint16
	logger    zerolog.Logger

	frames       chan *types.FramePair
	availability chan bool

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	skipped int
}

type Option func(*Source)

func WithFPS(fps float64) Option {
	return func(s *Source) {
		if fps > 0 {
			s.fps = fps
		}
	}
}

// WithDropEvery leaves the color frame out of every nth pair.
func WithDropEvery(n int) Option {
	return func(s *Source) { s.dropEvery = n }
}

func WithPoolSize(n int) Option {
	return func(s *Source) {
		if n > 0 {
			s.poolSize = n
		}
	}
}

func WithReliableRange(minMM, maxMM uint16) Option {
	return func(s *Source) {
		s.minMM = minMM
		s.maxMM = maxMM
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Source) {
		s.logger = logger.With().Str("component", "simulator").Logger()
	}
}

func New(system *geometry.CameraSystem, opts ...Option) (*Source, error) {
	if system == nil {
		return nil, errors.New("simulator: nil camera system")
	}
	if err := system.CheckValid(); err != nil {
		return nil, err
	}
	s := &Source{
		system:       system,
		scene:        NewScene(system.DepthDescription()),
		fps:          30,
		poolSize:     3,
		minMM:        DefaultMinReliable,
		maxMM:        DefaultMaxReliable,
		logger:       zerolog.Nop(),
		frames:       make(chan *types.FramePair, 1),
		availability: make(chan bool, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.pool = sensor.NewPool(system.DepthDescription(), system.ColorDescription(), s.poolSize)
	return s, nil
}

func (s *Source) Frames() <-chan *types.FramePair { return s.frames }
func (s *Source) Availability() <-chan bool { return s.availability }
func (s *Source) Geometry() mapping.Geometry { return s.system }
func (s *Source) DepthDescription() types.FrameDescription { return s.system.DepthDescription() }
func (s *Source) ColorDescription() types.FrameDescription { return s.system.ColorDescription() }

// Start begins producing frames until ctx is done or Close is called.
func (s *Source) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.run(ctx)
}

func (s *Source) Close() error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

// Skipped reports ticks lost because every buffer was still lent out.
func (s *Source) Skipped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.skipped
}

func (s *Source) run(ctx context.Context) {
	defer close(s.done)
	defer close(s.frames)
	defer sensor.NotifyAvailability(s.availability, false)

	frameInterval := time.Duration(float64(time.Second) / s.fps)
	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()

	sensor.NotifyAvailability(s.availability, true)
	s.logger.Info().Float64("fps", s.fps).Int("drop_every", s.dropEvery).Msg("simulator started")

	colorToDepth := make([]types.SpacePoint, s.system.ColorDescription().LengthInPixels())
	start := time.Now()
	var seq uint64

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Uint64("frames", seq).Msg("simulator stopped")
			return
		case <-ticker.C:
		}

		b, ok := s.pool.TryGet()
		if !ok {
			s.mu.Lock()
			s.skipped++
			s.mu.Unlock()
			s.logger.Debug().Msg("all buffers in use, skipping tick")
			continue
		}
		seq++
		t := time.Since(start).Seconds()
		pair, err := s.render(seq, t, b, colorToDepth)
		if err != nil {
			s.pool.Put(b)
			s.logger.Error().Err(err).Msg("render failed")
			continue
		}

		select {
		case <-ctx.Done():
			pair.Done()
			return
		case s.frames <- pair:
		}
	}
}

func (s *Source) render(seq uint64, t float64, b *sensor.Buffers, colorToDepth []types.SpacePoint) (*types.FramePair, error) {
	s.scene.RenderDepth(b.Depth, t)
	withColor := s.dropEvery <= 0 || seq%uint64(s.dropEvery) != 0
	if withColor {
		if err := s.system.MapColorFrameToDepthSpace(b.Depth, colorToDepth); err != nil {
			return nil, err
		}
		s.scene.RenderColor(b.Color, colorToDepth, t)
	}
	ts := float64(time.Now().UnixNano()) / 1e9
	return s.pool.Pair(seq, ts, b, true, withColor, s.minMM, s.maxMM), nil
}
