// Package pick answers point queries against the latest published frame
// state.
package pick

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"depthview-go/internal/framesync"
	"depthview-go/internal/metrics"
	"depthview-go/internal/types"
)

const (
	SpaceColor = "color"
	SpaceDepth = "depth"
)

// StateSource is satisfied by *framesync.Synchronizer.
type StateSource interface {
	Latest() *framesync.State
}

// Distance is a depth reading in meters. Known is false for unmapped pixels
// and zero samples.
type Distance struct {
	Meters float64 `json:"meters"`
	Known  bool    `json:"known"`
}

func (d Distance) String() string {
	if !d.Known {
		return "Unknown Depth"
	}
	return fmt.Sprintf("%.3f meters", d.Meters)
}

type Coord struct {
	X     int  `json:"x"`
	Y     int  `json:"y"`
	Known bool `json:"known"`
}

func (c Coord) String() string {
	if !c.Known {
		return "Unknown"
	}
	return fmt.Sprintf("X: %d Y: %d", c.X, c.Y)
}

// Pixel is the image pixel a query resolved to after scaling. Clamped is set
// when the scaled input fell outside the image.
type Pixel struct {
	X       int  `json:"x"`
	Y       int  `json:"y"`
	Clamped bool `json:"clamped"`
}

type ColorResult struct {
	Seq        uint64   `json:"seq"`
	Pixel      Pixel    `json:"pixel"`
	Depth      Distance `json:"depth"`
	DepthCoord Coord    `json:"depth_coord"`
}

type DepthResult struct {
	Seq        uint64   `json:"seq"`
	Pixel      Pixel    `json:"pixel"`
	Depth      Distance `json:"depth"`
	ColorCoord Coord    `json:"color_coord"`
}

type Picker struct {
	source     StateSource
	colorScale float64
	depthScale float64
	logger     zerolog.Logger
	metrics    *metrics.Manager
}

type Option func(*Picker)

// WithScales sets the display-to-image factors. Non-positive values keep the
// defaults.
func WithScales(color, depth float64) Option {
	return func(p *Picker) {
		if color > 0 {
			p.colorScale = color
		}
		if depth > 0 {
			p.depthScale = depth
		}
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(p *Picker) {
		p.logger = logger.With().Str("component", "pick").Logger()
	}
}

func WithMetrics(m *metrics.Manager) Option {
	return func(p *Picker) { p.metrics = m }
}

// DefaultColorScale matches a color view shown at a third of sensor size.
const DefaultColorScale = 3

func New(source StateSource, opts ...Option) *Picker {
	p := &Picker{
		source:     source,
		colorScale: DefaultColorScale,
		depthScale: 1,
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// FromColor resolves a point on the color view to its depth and depth pixel.
func (p *Picker) FromColor(x, y float64) (ColorResult, error) {
	st := p.source.Latest()
	if st == nil {
		p.metrics.RecordPick(SpaceColor, "no_frame")
		return ColorResult{}, ErrNoFrame
	}
	px := resolve(x, y, p.colorScale, st.ColorDesc)
	res := ColorResult{Seq: st.Seq, Pixel: px}

	entry, _ := st.ColorToDepthAt(px.X, px.Y)
	if entry.Valid {
		dx, dy := entry.Pixel()
		if d, ok := st.DepthAt(dx, dy); ok {
			res.DepthCoord = Coord{X: dx, Y: dy, Known: true}
			res.Depth = distance(d)
		}
	}
	p.record(SpaceColor, res.Depth.Known)
	p.logger.Debug().Uint64("seq", st.Seq).Int("x", px.X).Int("y", px.Y).
		Stringer("depth", res.Depth).Msg("color pick")
	return res, nil
}

// FromDepth resolves a point on the depth view to its distance and color
// pixel.
func (p *Picker) FromDepth(x, y float64) (DepthResult, error) {
	st := p.source.Latest()
	if st == nil {
		p.metrics.RecordPick(SpaceDepth, "no_frame")
		return DepthResult{}, ErrNoFrame
	}
	px := resolve(x, y, p.depthScale, st.DepthDesc)
	res := DepthResult{Seq: st.Seq, Pixel: px}

	if d, ok := st.DepthAt(px.X, px.Y); ok {
		res.Depth = distance(d)
	}
	entry, _ := st.DepthToColorAt(px.X, px.Y)
	if entry.Valid {
		cx, cy := entry.Pixel()
		if cx >= 0 && cy >= 0 && cx < st.ColorDesc.Width && cy < st.ColorDesc.Height {
			res.ColorCoord = Coord{X: cx, Y: cy, Known: true}
		}
	}
	p.record(SpaceDepth, res.Depth.Known)
	p.logger.Debug().Uint64("seq", st.Seq).Int("x", px.X).Int("y", px.Y).
		Stringer("depth", res.Depth).Msg("depth pick")
	return res, nil
}

func (p *Picker) record(space string, known bool) {
	result := "unknown"
	if known {
		result = "known"
	}
	p.metrics.RecordPick(space, result)
}

func distance(mm uint16) Distance {
	if mm == 0 {
		return Distance{}
	}
	return Distance{Meters: float64(mm) / 1000, Known: true}
}

func resolve(x, y, scale float64, desc types.FrameDescription) Pixel {
	px, cx := scaleAxis(x, scale, desc.Width)
	py, cy := scaleAxis(y, scale, desc.Height)
	return Pixel{X: px, Y: py, Clamped: cx || cy}
}

func scaleAxis(v, scale float64, size int) (int, bool) {
	if size <= 0 {
		return 0, true
	}
	s := math.Floor(v * scale)
	switch {
	case math.IsNaN(s) || s < 0:
		return 0, true
	case s > float64(size-1):
		return size - 1, true
	}
	return int(s), false
}
