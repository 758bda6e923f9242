// Package session wires a sensor source, the frame synchronizer and the pick
// query into one running pipeline.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"

	"depthview-go/internal/bridge"
	"depthview-go/internal/config"
	"depthview-go/internal/framesync"
	"depthview-go/internal/geometry"
	"depthview-go/internal/ingest"
	"depthview-go/internal/mapping"
	"depthview-go/internal/metrics"
	"depthview-go/internal/output"
	"depthview-go/internal/pick"
	"depthview-go/internal/sensor"
	"depthview-go/internal/simulator"
	"depthview-go/internal/types"
)

// Source kinds reported by Status.
const (
	SourceSimulator = "simulator"
	SourceReplay    = "replay"
	SourceZMQ       = "zmq"
)

type Session struct {
	id      uuid.UUID
	cfg     config.AppConfig
	logger  zerolog.Logger
	metrics *metrics.Manager

	system     *geometry.CameraSystem
	source     sensor.Source
	sourceKind string
	recorder   *output.RawLogWriter
	sync       *framesync.Synchronizer
	picker     *pick.Picker

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu           sync.Mutex
	bridgeStatus *bridge.Status
	closed       bool
}

// Open builds the pipeline described by cfg and starts it. The returned
// session runs until ctx is done or Close is called.
func Open(ctx context.Context, cfg config.AppConfig, logger zerolog.Logger, m *metrics.Manager) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Session{
		id:      uuid.New(),
		cfg:     cfg,
		metrics: m,
	}
	s.logger = logger.With().Str("session", s.id.String()).Logger()

	system, err := s.loadCameraSystem(ctx)
	if err != nil {
		return nil, err
	}
	s.system = system

	ctx, s.cancel = context.WithCancel(ctx)
	if err := s.openSource(ctx); err != nil {
		s.cancel()
		return nil, multierr.Append(err, s.closeRecorder())
	}

	adapter, err := mapping.NewAdapter(s.source.Geometry(), s.depthDescription(), s.colorDescription())
	if err != nil {
		return nil, multierr.Append(err, s.Close())
	}
	s.sync, err = framesync.New(adapter,
		framesync.WithLogger(s.logger),
		framesync.WithMetrics(m),
		framesync.WithMask(cfg.MaskDefault),
		framesync.WithOverflowPolicy(cfg.OverflowPolicy()),
		framesync.WithReliableRange(uint16(cfg.MinReliableMM), uint16(cfg.MaxReliableMM)),
	)
	if err != nil {
		return nil, multierr.Append(err, s.Close())
	}
	s.picker = pick.New(s.sync,
		pick.WithScales(cfg.ColorScale, cfg.DepthScale),
		pick.WithLogger(s.logger),
		pick.WithMetrics(m),
	)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.sync.Run(ctx, s.source.Frames(), s.source.Availability())
	}()

	if cfg.BridgeURL != "" && s.sourceKind == SourceZMQ {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			bridge.Poll(ctx, cfg.BridgeURL, cfg.BridgePollInterval, s.updateBridgeStatus)
		}()
	}

	s.logger.Info().
		Str("source", s.sourceKind).
		Int("depth_width", cfg.DepthWidth).
		Int("depth_height", cfg.DepthHeight).
		Int("color_width", cfg.ColorWidth).
		Int("color_height", cfg.ColorHeight).
		Bool("mask", cfg.MaskDefault).
		Msg("session opened")
	return s, nil
}

func (s *Session) depthDescription() types.FrameDescription {
	return types.FrameDescription{Width: s.cfg.DepthWidth, Height: s.cfg.DepthHeight, BytesPerPixel: types.DepthBytesPerPixel}
}

func (s *Session) colorDescription() types.FrameDescription {
	return types.FrameDescription{Width: s.cfg.ColorWidth, Height: s.cfg.ColorHeight, BytesPerPixel: types.ColorBytesPerPixel}
}

// loadCameraSystem prefers a calibration file, then the bridge, then the
// built-in Kinect v2 parameters.
func (s *Session) loadCameraSystem(ctx context.Context) (*geometry.CameraSystem, error) {
	var system *geometry.CameraSystem
	switch {
	case s.cfg.CalibrationFile != "":
		cs, err := geometry.LoadCameraSystem(s.cfg.CalibrationFile)
		if err != nil {
			return nil, err
		}
		system = cs
	case s.cfg.BridgeURL != "" && !s.cfg.Debug && s.cfg.ReplayPath == "":
		fetchCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		cs, err := bridge.FetchCalibration(fetchCtx, s.cfg.BridgeURL)
		if err != nil {
			s.logger.Warn().Err(err).Msg("bridge calibration unavailable, using defaults")
			cs = geometry.DefaultKinectV2()
		}
		system = cs
	default:
		system = geometry.DefaultKinectV2()
	}

	depth, color := system.DepthDescription(), system.ColorDescription()
	if depth.Width != s.cfg.DepthWidth || depth.Height != s.cfg.DepthHeight ||
		color.Width != s.cfg.ColorWidth || color.Height != s.cfg.ColorHeight {
		return nil, fmt.Errorf("%w: calibration is depth %dx%d color %dx%d, configured depth %dx%d color %dx%d",
			config.ErrInvalidConfig, depth.Width, depth.Height, color.Width, color.Height,
			s.cfg.DepthWidth, s.cfg.DepthHeight, s.cfg.ColorWidth, s.cfg.ColorHeight)
	}
	return system, nil
}

func (s *Session) openSource(ctx context.Context) error {
	ingestOpts := []ingest.Option{
		ingest.WithLogger(s.logger),
		ingest.WithMetrics(s.metrics),
		ingest.WithLogEvery(s.cfg.IngestLogEvery),
	}

	switch {
	case s.cfg.Debug:
		src, err := simulator.New(s.system,
			simulator.WithFPS(s.cfg.DebugFPS),
			simulator.WithDropEvery(s.cfg.DebugDropEvery),
			simulator.WithLogger(s.logger),
		)
		if err != nil {
			return err
		}
		src.Start(ctx)
		s.source, s.sourceKind = src, SourceSimulator
	case s.cfg.ReplayPath != "":
		src, err := ingest.NewReplay(s.cfg.ReplayPath, s.system,
			append(ingestOpts, ingest.WithReplayFPS(s.cfg.ReplayFPS))...)
		if err != nil {
			return err
		}
		src.Start(ctx)
		s.source, s.sourceKind = src, SourceReplay
	default:
		if s.cfg.RawLog {
			recorder, err := output.NewRawLogWriter(s.cfg.RawLogDir, "rawlog")
			if err != nil {
				return fmt.Errorf("open raw log: %w", err)
			}
			s.recorder = recorder
			ingestOpts = append(ingestOpts, ingest.WithRecorder(recorder))
			s.logger.Info().Str("path", recorder.Path()).Msg("recording raw messages")
		}
		src, err := ingest.New(s.cfg.Endpoint, s.system, ingestOpts...)
		if err != nil {
			return err
		}
		if err := src.Start(ctx); err != nil {
			return err
		}
		s.source, s.sourceKind = src, SourceZMQ
	}
	return nil
}

func (s *Session) updateBridgeStatus(status bridge.Status) {
	s.mu.Lock()
	changed := s.bridgeStatus == nil || *s.bridgeStatus != status
	s.bridgeStatus = &status
	s.mu.Unlock()
	if changed {
		s.logger.Info().Str("state", status.State).Bool("available", status.Available).Msg("bridge status")
	}
	s.sync.SetAvailable(status.Available)
}

func (s *Session) ID() string { return s.id.String() }

func (s *Session) Config() config.AppConfig { return s.cfg }

func (s *Session) SourceKind() string { return s.sourceKind }

func (s *Session) Synchronizer() *framesync.Synchronizer { return s.sync }

func (s *Session) Picker() *pick.Picker { return s.picker }

func (s *Session) Latest() *framesync.State { return s.sync.Latest() }

func (s *Session) Updates() <-chan *framesync.State { return s.sync.Updates() }

func (s *Session) MaskEnabled() bool { return s.sync.MaskEnabled() }

func (s *Session) SetMask(enabled bool) { s.sync.SetMask(enabled) }

func (s *Session) ToggleMask() bool { return s.sync.ToggleMask() }

func (s *Session) FromColor(x, y float64) (pick.ColorResult, error) { return s.picker.FromColor(x, y) }

func (s *Session) FromDepth(x, y float64) (pick.DepthResult, error) { return s.picker.FromDepth(x, y) }

func (s *Session) Status() types.StatusSnapshot {
	status := types.StatusSnapshot{
		SessionID:   s.ID(),
		Source:      s.sourceKind,
		Available:   s.sync.Available(),
		MaskEnabled: s.sync.MaskEnabled(),
		Metrics:     s.metrics.Snapshot(),
	}
	counters := s.sync.Counters()
	status.Metrics["ticks_published"] = counters.Published
	status.Metrics["ticks_dropped"] = counters.Dropped
	if st := s.sync.Latest(); st != nil {
		status.LastSeq = st.Seq
		status.LastFrame = st.PublishedAt.Format(time.RFC3339Nano)
		status.DepthStats = st.Stats.Map()
	}
	s.mu.Lock()
	if s.bridgeStatus != nil {
		status.Metrics["bridge_state"] = s.bridgeStatus.State
	}
	s.mu.Unlock()
	return status
}

// Close stops the pipeline and releases the source and the raw log. It is
// safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	var err error
	if s.source != nil {
		err = multierr.Append(err, s.source.Close())
	}
	s.wg.Wait()
	err = multierr.Append(err, s.closeRecorder())
	s.logger.Info().Err(err).Msg("session closed")
	return err
}

func (s *Session) closeRecorder() error {
	if s.recorder == nil {
		return nil
	}
	return s.recorder.Close()
}
