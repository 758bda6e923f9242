package ingest

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"depthview-go/internal/geometry"
	"depthview-go/internal/logging"
	"depthview-go/internal/mapping"
	"depthview-go/internal/output"
	"depthview-go/internal/sensor"
	"depthview-go/internal/types"
)

// Replay is a sensor.Source that plays back the messages of a raw log at a
// fixed rate. Frames are copied into a small buffer pool, like a driver
// handing out its own buffers.
type Replay struct {
	path    string
	system  *geometry.CameraSystem
	opts    options
	sampled zerolog.Logger
	pool    *sensor.Pool

	frames       chan *types.FramePair
	availability chan bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	played int
}

func NewReplay(path string, system *geometry.CameraSystem, opts ...Option) (*Replay, error) {
	if system == nil {
		return nil, errors.New("replay: nil camera system")
	}
	r, err := output.OpenRawLog(path)
	if err != nil {
		return nil, err
	}
	_ = r.Close()

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Replay{
		path:         path,
		system:       system,
		opts:         o,
		sampled:      logging.EveryN(o.logger, o.logEvery),
		pool:         sensor.NewPool(system.DepthDescription(), system.ColorDescription(), o.poolSize),
		frames:       make(chan *types.FramePair, 1),
		availability: make(chan bool, 1),
	}, nil
}

func (r *Replay) Frames() <-chan *types.FramePair { return r.frames }

func (r *Replay) Availability() <-chan bool { return r.availability }

func (r *Replay) Geometry() mapping.Geometry { return r.system }

func (r *Replay) DepthDescription() types.FrameDescription { return r.system.DepthDescription() }

func (r *Replay) ColorDescription() types.FrameDescription { return r.system.ColorDescription() }

// Played reports how many records have been dispatched.
func (r *Replay) Played() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.played
}

func (r *Replay) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done != nil {
		return
	}
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})
	go r.run(ctx)
}

func (r *Replay) Close() error {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

func (r *Replay) run(ctx context.Context) {
	defer close(r.done)
	defer close(r.frames)
	defer sensor.NotifyAvailability(r.availability, false)

	ticker := time.NewTicker(time.Duration(float64(time.Second) / r.opts.fps))
	defer ticker.Stop()

	sensor.NotifyAvailability(r.availability, true)
	r.opts.logger.Info().Str("path", r.path).Float64("fps", r.opts.fps).Msg("replay started")

	for {
		more, err := r.playOnce(ctx, ticker.C)
		if err != nil {
			r.opts.logger.Error().Err(err).Msg("replay failed")
			return
		}
		if !more || !r.opts.loop {
			r.opts.logger.Info().Int("records", r.Played()).Msg("replay finished")
			return
		}
	}
}

// playOnce walks the log once. It returns false when ctx ended the replay.
func (r *Replay) playOnce(ctx context.Context, tick <-chan time.Time) (bool, error) {
	rawlog, err := output.OpenRawLog(r.path)
	if err != nil {
		return false, err
	}
	defer rawlog.Close()

	for {
		rec, err := rawlog.Next()
		if errors.Is(err, io.EOF) {
			return true, nil
		}
		if err != nil {
			return false, err
		}
		select {
		case <-ctx.Done():
			return false, nil
		case <-tick:
		}
		if !dispatch(ctx, rec.Payload, r.frames, r.availability, r.opts, r.sampled, func(p *types.FramePair) *types.FramePair {
			return r.adopt(ctx, p)
		}) {
			return false, nil
		}
		r.mu.Lock()
		r.played++
		r.mu.Unlock()
	}
}

// adopt copies a decoded pair into pool buffers. Pairs whose sizes do not
// match the pool pass through untouched so the consumer can reject them.
func (r *Replay) adopt(ctx context.Context, p *types.FramePair) *types.FramePair {
	depth, color := r.system.DepthDescription(), r.system.ColorDescription()
	if p.Depth != nil && !sameSize(p.Depth.Description, depth) {
		return p
	}
	if p.Color != nil && !sameSize(p.Color.Description, color) {
		return p
	}

	b, err := r.pool.Get(ctx)
	if err != nil {
		return nil
	}
	var minMM, maxMM uint16
	if p.Depth != nil {
		copy(b.Depth, p.Depth.Raw)
		minMM, maxMM = p.Depth.MinReliable, p.Depth.MaxReliable
	}
	if p.Color != nil {
		copy(b.Color, p.Color.Pixels)
	}
	return r.pool.Pair(p.Seq, p.Timestamp, b, p.Depth != nil, p.Color != nil, minMM, maxMM)
}

func sameSize(a, b types.FrameDescription) bool {
	return a.Width == b.Width && a.Height == b.Height
}
