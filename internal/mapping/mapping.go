// Package mapping adapts an external sensor geometry service into per-frame
// lookup tables with explicit unmapped entries.
package mapping

import (
	"errors"
	"fmt"

	"depthview-go/internal/types"
)

var ErrSizeMismatch = errors.New("mapping size mismatch")

// Geometry is the sensor's coordinate mapping capability. Unmapped outputs
// carry an infinite or NaN component.
type Geometry interface {
	MapDepthFrameToColorSpace(depth []uint16, out []types.SpacePoint) error
	MapColorFrameToDepthSpace(rawDepth []byte, out []types.SpacePoint) error
}

// Adapter holds no per-frame state; both tables are rebuilt on every call.
type Adapter struct {
	geometry Geometry
	depth    types.FrameDescription
	color    types.FrameDescription
}

func NewAdapter(geometry Geometry, depth, color types.FrameDescription) (*Adapter, error) {
	if geometry == nil {
		return nil, errors.New("mapping: nil geometry")
	}
	if depth.LengthInPixels() <= 0 || color.LengthInPixels() <= 0 {
		return nil, fmt.Errorf("mapping: invalid frame sizes depth=%dx%d color=%dx%d",
			depth.Width, depth.Height, color.Width, color.Height)
	}
	return &Adapter{geometry: geometry, depth: depth, color: color}, nil
}

func (a *Adapter) DepthDescription() types.FrameDescription { return a.depth }
func (a *Adapter) ColorDescription() types.FrameDescription { return a.color }

// DepthToColor returns one color-space point per depth pixel.
func (a *Adapter) DepthToColor(samples []uint16) ([]types.MappedPoint, error) {
	n := a.depth.LengthInPixels()
	if len(samples) != n {
		return nil, fmt.Errorf("%w: depth to color got %d samples, want %d", ErrSizeMismatch, len(samples), n)
	}
	raw := make([]types.SpacePoint, n)
	if err := a.geometry.MapDepthFrameToColorSpace(samples, raw); err != nil {
		return nil, fmt.Errorf("map depth to color: %w", err)
	}
	return toMapped(raw), nil
}

// ColorToDepth returns one depth-space point per color pixel, computed from
// the raw little-endian depth buffer.
func (a *Adapter) ColorToDepth(rawDepth []byte) ([]types.MappedPoint, error) {
	want := a.depth.LengthInPixels() * types.DepthBytesPerPixel
	if len(rawDepth) != want {
		return nil, fmt.Errorf("%w: color to depth got %d bytes, want %d", ErrSizeMismatch, len(rawDepth), want)
	}
	raw := make([]types.SpacePoint, a.color.LengthInPixels())
	if err := a.geometry.MapColorFrameToDepthSpace(rawDepth, raw); err != nil {
		return nil, fmt.Errorf("map color to depth: %w", err)
	}
	return toMapped(raw), nil
}

func toMapped(raw []types.SpacePoint) []types.MappedPoint {
	out := make([]types.MappedPoint, len(raw))
	for i, p := range raw {
		if !p.IsMapped() {
			continue
		}
		out[i] = types.MappedPoint{X: p.X, Y: p.Y, Valid: true}
	}
	return out
}
