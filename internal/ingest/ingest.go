// Package ingest receives frame pairs from a sensor bridge over ZeroMQ, or
// replays them from a raw log.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"syscall"

	"github.com/pebbe/zmq4"
	"github.com/rs/zerolog"

	"depthview-go/internal/geometry"
	"depthview-go/internal/logging"
	"depthview-go/internal/mapping"
	"depthview-go/internal/sensor"
	"depthview-go/internal/types"
)

// Source is a sensor.Source fed by CBOR messages on a ZeroMQ PULL socket.
// Decoded pairs own their buffers, so releasing them is a no-op.
type Source struct {
	endpoint string
	system   *geometry.CameraSystem
	opts     options
	sampled  zerolog.Logger

	frames       chan *types.FramePair
	availability chan bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(endpoint string, system *geometry.CameraSystem, opts ...Option) (*Source, error) {
	if endpoint == "" {
		return nil, errors.New("ingest: empty endpoint")
	}
	if system == nil {
		return nil, errors.New("ingest: nil camera system")
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Source{
		endpoint:     endpoint,
		system:       system,
		opts:         o,
		sampled:      logging.EveryN(o.logger, o.logEvery),
		frames:       make(chan *types.FramePair, 4),
		availability: make(chan bool, 1),
	}, nil
}

func (s *Source) Frames() <-chan *types.FramePair { return s.frames }

func (s *Source) Availability() <-chan bool { return s.availability }

func (s *Source) Geometry() mapping.Geometry { return s.system }

func (s *Source) DepthDescription() types.FrameDescription { return s.system.DepthDescription() }

func (s *Source) ColorDescription() types.FrameDescription { return s.system.ColorDescription() }

// Start connects the socket and begins receiving until ctx is done or Close
// is called.
func (s *Source) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return errors.New("ingest: already started")
	}

	socket, err := zmq4.NewSocket(zmq4.PULL)
	if err != nil {
		return err
	}
	if err := socket.SetRcvtimeo(s.opts.recvTimeout); err != nil {
		_ = socket.Close()
		return err
	}
	if err := socket.Connect(s.endpoint); err != nil {
		_ = socket.Close()
		return fmt.Errorf("connect %s: %w", s.endpoint, err)
	}
	s.opts.logger.Info().Str("endpoint", s.endpoint).Msg("ingest connected")

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.run(ctx, socket)
	return nil
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

func (s *Source) run(ctx context.Context, socket *zmq4.Socket) {
	defer close(s.done)
	defer close(s.frames)
	defer socket.Close()

	for {
		if ctx.Err() != nil {
			return
		}

		msg, err := socket.RecvBytes(0)
		if err != nil {
			if zmq4.AsErrno(err) == zmq4.Errno(syscall.EAGAIN) {
				continue
			}
			s.sampled.Warn().Err(err).Msg("ingest recv error")
			continue
		}
		if s.opts.recorder != nil {
			if err := s.opts.recorder.Record(msg); err != nil {
				s.sampled.Warn().Err(err).Msg("raw log record failed")
			}
		}

		if !s.handle(ctx, msg) {
			return
		}
	}
}

// handle decodes one message and forwards it. It returns false once ctx is
// done.
func (s *Source) handle(ctx context.Context, payload []byte) bool {
	return dispatch(ctx, payload, s.frames, s.availability, s.opts, s.sampled, func(p *types.FramePair) *types.FramePair { return p })
}

// dispatch is shared by the live source and the replay. adopt turns a
// decoded pair into the pair handed to consumers.
func dispatch(
	ctx context.Context,
	payload []byte,
	frames chan<- *types.FramePair,
	availability chan bool,
	o options,
	sampled zerolog.Logger,
	adopt func(*types.FramePair) *types.FramePair,
) bool {
	msg, err := DecodeMessage(payload)
	if err != nil {
		o.metrics.RecordIngestFailure()
		sampled.Warn().Err(err).Int("size", len(payload)).Msg("ingest decode skipped message")
		return true
	}
	o.metrics.RecordIngestMessage(msg.Type)

	switch msg.Type {
	case TypeAvailability:
		sensor.NotifyAvailability(availability, msg.Available)
		return true
	case TypeFrames:
		pair := adopt(msg.Pair)
		if pair == nil {
			return ctx.Err() == nil
		}
		select {
		case <-ctx.Done():
			pair.Done()
			return false
		case frames <- pair:
			return true
		}
	}
	return true
}
