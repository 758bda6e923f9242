package ingest

import (
	"time"

	"github.com/rs/zerolog"

	"depthview-go/internal/metrics"
)

// Recorder receives every raw message before decoding.
type Recorder interface {
	Record(payload []byte) error
}

type options struct {
	logger      zerolog.Logger
	metrics     *metrics.Manager
	recorder    Recorder
	logEvery    int
	recvTimeout time.Duration
	fps         float64
	loop        bool
	poolSize    int
}

type Option func(*options)

func defaultOptions() options {
	return options{
		logger:      zerolog.Nop(),
		logEvery:    1,
		recvTimeout: 250 * time.Millisecond,
		fps:         30,
		poolSize:    3,
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = logger.With().Str("component", "ingest").Logger()
	}
}

func WithMetrics(m *metrics.Manager) Option {
	return func(o *options) { o.metrics = m }
}

// WithRecorder stores every received message, for example in a raw log.
func WithRecorder(r Recorder) Option {
	return func(o *options) { o.recorder = r }
}

// WithLogEvery logs only one in n receive or decode failures.
func WithLogEvery(n int) Option {
	return func(o *options) {
		if n < 1 {
			n = 1
		}
		o.logEvery = n
	}
}

// WithReplayFPS sets the pace of a Replay.
func WithReplayFPS(fps float64) Option {
	return func(o *options) {
		if fps > 0 {
			o.fps = fps
		}
	}
}

// WithLoop restarts a Replay at the beginning of the log instead of
// stopping at its end.
func WithLoop(loop bool) Option {
	return func(o *options) { o.loop = loop }
}
