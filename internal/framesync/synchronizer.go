// Package framesync turns sensor frame pairs into published, internally
// consistent frame states.
package framesync

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"depthview-go/internal/metrics"
	"depthview-go/internal/processing"
	"depthview-go/internal/types"
)

// Mapper produces the two per-frame lookup tables.
type Mapper interface {
	DepthDescription() types.FrameDescription
	ColorDescription() types.FrameDescription
	DepthToColor(samples []uint16) ([]types.MappedPoint, error)
	ColorToDepth(rawDepth []byte) ([]types.MappedPoint, error)
}

// Counters are plain totals kept regardless of whether metrics are wired.
type Counters struct {
	Published uint64
	Dropped   uint64
}

// Synchronizer runs one tick per frame pair. Tick and Run must be driven
// from a single goroutine; Latest and the mask controls are safe from any.
type Synchronizer struct {
	mapper   Mapper
	depth    types.FrameDescription
	color    types.FrameDescription
	overflow processing.OverflowPolicy

	minOverride uint16
	maxOverride uint16

	logger  zerolog.Logger
	metrics *metrics.Manager

	latest    atomic.Pointer[State]
	mask      atomic.Bool
	available atomic.Bool
	published atomic.Uint64
	dropped   atomic.Uint64
	updates   chan *State
}

func New(mapper Mapper, opts ...Option) (*Synchronizer, error) {
	if mapper == nil {
		return nil, errors.New("framesync: nil mapper")
	}
	s := &Synchronizer{
		mapper:  mapper,
		depth:   mapper.DepthDescription(),
		color:   mapper.ColorDescription(),
		logger:  zerolog.Nop(),
		updates: make(chan *State, 1),
	}
	s.mask.Store(true)
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Latest returns the most recently published state, or nil before the first
// successful tick.
func (s *Synchronizer) Latest() *State {
	return s.latest.Load()
}

// Updates signals each publication. The channel holds only the newest state;
// a slow reader skips intermediate ticks.
func (s *Synchronizer) Updates() <-chan *State {
	return s.updates
}

func (s *Synchronizer) MaskEnabled() bool { return s.mask.Load() }

func (s *Synchronizer) SetMask(enabled bool) {
	if s.mask.Swap(enabled) != enabled {
		s.logger.Info().Bool("mask", enabled).Msg("color mask changed")
	}
}

// ToggleMask flips the mask and returns the new setting.
func (s *Synchronizer) ToggleMask() bool {
	for {
		current := s.mask.Load()
		if s.mask.CompareAndSwap(current, !current) {
			s.logger.Info().Bool("mask", !current).Msg("color mask changed")
			return !current
		}
	}
}

func (s *Synchronizer) Available() bool { return s.available.Load() }

func (s *Synchronizer) SetAvailable(available bool) {
	if s.available.Swap(available) == available {
		return
	}
	s.metrics.SetSensorAvailable(available)
	if available {
		s.logger.Info().Msg("sensor available")
		return
	}
	s.logger.Warn().Uint64("last_seq", s.lastSeq()).Msg("sensor unavailable, keeping last published frame")
}

func (s *Synchronizer) Counters() Counters {
	return Counters{Published: s.published.Load(), Dropped: s.dropped.Load()}
}

func (s *Synchronizer) lastSeq() uint64 {
	if st := s.latest.Load(); st != nil {
		return st.Seq
	}
	return 0
}

// Run processes frame pairs in arrival order until ctx is done or frames is
// closed. Availability updates may arrive on a separate channel; nil is
// allowed.
func (s *Synchronizer) Run(ctx context.Context, frames <-chan *types.FramePair, availability <-chan bool) {
	for {
		select {
		case <-ctx.Done():
			return
		case available, ok := <-availability:
			if !ok {
				availability = nil
				continue
			}
			s.SetAvailable(available)
		case pair, ok := <-frames:
			if !ok {
				s.drainAvailability(availability)
				return
			}
			_, _ = s.Tick(pair)
		}
	}
}

// drainAvailability applies an update a source sent just before closing its
// frame channel.
func (s *Synchronizer) drainAvailability(availability <-chan bool) {
	for {
		select {
		case available, ok := <-availability:
			if !ok {
				return
			}
			s.SetAvailable(available)
		default:
			return
		}
	}
}

// Tick processes a single frame pair. On success the new state is published
// and returned. On failure nothing is published and the previous state stays
// visible. The pair is released before Tick returns in every case.
func (s *Synchronizer) Tick(pair *types.FramePair) (*State, error) {
	defer pair.Done()
	start := time.Now()

	if pair == nil || pair.Depth == nil || pair.Color == nil {
		return nil, s.drop(pair, metrics.ReasonMissing, ErrFrameMissing)
	}
	if err := s.checkDimensions(pair); err != nil {
		return nil, s.drop(pair, metrics.ReasonDimension, err)
	}

	st, err := s.process(pair)
	if err != nil {
		return nil, s.drop(pair, metrics.ReasonFailed, fmt.Errorf("%w: %w", ErrTickFailed, err))
	}

	st.PublishedAt = time.Now()
	s.latest.Store(st)
	s.published.Add(1)
	s.notify(st)
	s.metrics.RecordTickPublished(st.Seq, time.Since(start), st.Stats.ValidFraction(), st.MaskedPixels)
	s.logger.Debug().Uint64("seq", st.Seq).Dur("took", time.Since(start)).Msg("tick published")
	return st, nil
}

func (s *Synchronizer) drop(pair *types.FramePair, reason string, cause error) error {
	s.dropped.Add(1)
	s.metrics.RecordTickDropped(reason)
	var seq uint64
	if pair != nil {
		seq = pair.Seq
	}
	event := s.logger.Debug()
	if reason == metrics.ReasonFailed {
		event = s.logger.Error()
	}
	event.Err(cause).Uint64("seq", seq).Str("reason", reason).Msg("tick dropped")
	return fmt.Errorf("%w: %w", ErrDropped, cause)
}

func (s *Synchronizer) checkDimensions(pair *types.FramePair) error {
	depth := pair.Depth
	if depth.Description.Width != s.depth.Width || depth.Description.Height != s.depth.Height {
		return fmt.Errorf("%w: depth %dx%d, expected %dx%d", ErrDimensionMismatch,
			depth.Description.Width, depth.Description.Height, s.depth.Width, s.depth.Height)
	}
	if len(depth.Raw) != s.depth.LengthInPixels()*types.DepthBytesPerPixel {
		return fmt.Errorf("%w: depth buffer %d bytes, expected %d", ErrDimensionMismatch,
			len(depth.Raw), s.depth.LengthInPixels()*types.DepthBytesPerPixel)
	}
	color := pair.Color
	if color.Description.Width != s.color.Width || color.Description.Height != s.color.Height {
		return fmt.Errorf("%w: color %dx%d, expected %dx%d", ErrDimensionMismatch,
			color.Description.Width, color.Description.Height, s.color.Width, s.color.Height)
	}
	if len(color.Pixels) != s.color.LengthInPixels()*types.ColorBytesPerPixel {
		return fmt.Errorf("%w: color buffer %d bytes, expected %d", ErrDimensionMismatch,
			len(color.Pixels), s.color.LengthInPixels()*types.ColorBytesPerPixel)
	}
	return nil
}

func (s *Synchronizer) reliableRange(depth *types.DepthFrame) (uint16, uint16) {
	minMM, maxMM := depth.MinReliable, depth.MaxReliable
	if s.minOverride > 0 {
		minMM = s.minOverride
	}
	if s.maxOverride > 0 {
		maxMM = s.maxOverride
	}
	if maxMM == 0 {
		maxMM = math.MaxUint16
	}
	return minMM, maxMM
}

// process builds a complete State from borrowed buffers. Everything it keeps
// is copied, so the pair can be released as soon as it returns.
func (s *Synchronizer) process(pair *types.FramePair) (st *State, err error) {
	defer func() {
		if r := recover(); r != nil {
			st = nil
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	samples, err := processing.CopyDepthSamples(pair.Depth.Raw)
	if err != nil {
		return nil, err
	}
	minMM, maxMM := s.reliableRange(pair.Depth)
	intensity := make([]uint8, s.depth.LengthInPixels())
	if err := processing.DecodeDepthInto(intensity, samples, minMM, maxMM, s.overflow); err != nil {
		return nil, err
	}

	depthToColor, err := s.mapper.DepthToColor(samples)
	if err != nil {
		return nil, err
	}
	colorToDepth, err := s.mapper.ColorToDepth(pair.Depth.Raw)
	if err != nil {
		return nil, err
	}

	color := make([]byte, len(pair.Color.Pixels))
	copy(color, pair.Color.Pixels)
	masked := s.mask.Load()
	maskedPixels := 0
	if masked {
		maskedPixels, err = processing.MaskUnmapped(color, colorToDepth, processing.MaskChannel)
		if err != nil {
			return nil, err
		}
	}

	return &State{
		Seq:          pair.Seq,
		Timestamp:    pair.Timestamp,
		DepthDesc:    s.depth,
		ColorDesc:    s.color,
		Intensity:    intensity,
		Color:        color,
		Depth:        samples,
		DepthToColor: depthToColor,
		ColorToDepth: colorToDepth,
		Masked:       masked,
		MaskedPixels: maskedPixels,
		MinReliable:  minMM,
		MaxReliable:  maxMM,
		Stats:        processing.ComputeDepthStats(samples, minMM, maxMM),
	}, nil
}

func (s *Synchronizer) notify(st *State) {
	select {
	case s.updates <- st:
		return
	default:
	}
	select {
	case <-s.updates:
	default:
	}
	select {
	case s.updates <- st:
	default:
	}
}
