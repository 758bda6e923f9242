package types

import "math"

const (
	DepthBytesPerPixel = 2
	ColorBytesPerPixel = 4
)

// FrameDescription describes the fixed geometry of one sensor stream.
type FrameDescription struct {
	Width         int `json:"width" koanf:"width"`
	Height        int `json:"height" koanf:"height"`
	BytesPerPixel int `json:"bytes_per_pixel" koanf:"bytes_per_pixel"`
}

func (d FrameDescription) LengthInPixels() int {
	return d.Width * d.Height
}

func (d FrameDescription) LengthInBytes() int {
	return d.Width * d.Height * d.BytesPerPixel
}

func (d FrameDescription) Stride() int {
	return d.Width * d.BytesPerPixel
}

// DepthFrame is one depth image as delivered by the sensor. Raw holds
// little-endian uint16 samples in millimeters and is only valid until the
// owning FramePair is released.
type DepthFrame struct {
	Description FrameDescription
	Raw         []byte
	MinReliable uint16
	MaxReliable uint16
}

// ColorFrame is one BGRA color image. Pixels is borrowed like DepthFrame.Raw.
type ColorFrame struct {
	Description FrameDescription
	Pixels      []byte
}

// FramePair is the unit delivered per tick. Either frame may be nil when the
// sensor could not supply it in time.
type FramePair struct {
	Seq       uint64
	Timestamp float64
	Depth     *DepthFrame
	Color     *ColorFrame
	Release   func()
}

// Done hands the borrowed buffers back to the source.
func (p *FramePair) Done() {
	if p == nil || p.Release == nil {
		return
	}
	release := p.Release
	p.Release = nil
	release()
}

// SpacePoint is a raw coordinate as produced by a geometry service. An
// infinite or NaN component means the point has no correspondence.
type SpacePoint struct {
	X float32
	Y float32
}

var UnmappedSpacePoint = SpacePoint{X: float32(math.Inf(-1)), Y: float32(math.Inf(-1))}

func (p SpacePoint) IsMapped() bool {
	return !isSentinel(p.X) && !isSentinel(p.Y)
}

func isSentinel(v float32) bool {
	f := float64(v)
	return math.IsInf(f, 0) || math.IsNaN(f)
}

// MappedPoint is a lookup table entry. Valid is false when the pixel has no
// correspondence in the other image space.
type MappedPoint struct {
	X     float32
	Y     float32
	Valid bool
}

var Unmapped = MappedPoint{}

// Pixel floors the point to integer pixel coordinates. Points left of or
// above the image come out negative.
func (p MappedPoint) Pixel() (int, int) {
	return int(math.Floor(float64(p.X))), int(math.Floor(float64(p.Y)))
}
