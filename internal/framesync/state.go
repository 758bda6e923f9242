package framesync

import (
	"time"

	"depthview-go/internal/processing"
	"depthview-go/internal/types"
)

// State is one published tick. Every field comes from the same frame pair
// and nothing mutates a State once it has been published.
type State struct {
	Seq         uint64
	Timestamp   float64
	PublishedAt time.Time

	DepthDesc types.FrameDescription
	ColorDesc types.FrameDescription

	// Intensity is the 8-bit rendering of Depth.
	Intensity []uint8
	// Color is an owned BGRA copy, masked when Masked is set.
	Color []byte
	// Depth is an owned copy of the raw samples in millimeters.
	Depth []uint16

	DepthToColor []types.MappedPoint
	ColorToDepth []types.MappedPoint

	Masked       bool
	MaskedPixels int
	MinReliable  uint16
	MaxReliable  uint16
	Stats        processing.DepthStats
}

// DepthAt returns the raw sample at a depth pixel; ok is false outside the
// frame.
func (s *State) DepthAt(x, y int) (uint16, bool) {
	if s == nil || x < 0 || y < 0 || x >= s.DepthDesc.Width || y >= s.DepthDesc.Height {
		return 0, false
	}
	return s.Depth[y*s.DepthDesc.Width+x], true
}

// ColorToDepthAt returns the color->depth entry at a color pixel.
func (s *State) ColorToDepthAt(x, y int) (types.MappedPoint, bool) {
	if s == nil || x < 0 || y < 0 || x >= s.ColorDesc.Width || y >= s.ColorDesc.Height {
		return types.Unmapped, false
	}
	return s.ColorToDepth[y*s.ColorDesc.Width+x], true
}

// DepthToColorAt returns the depth->color entry at a depth pixel.
func (s *State) DepthToColorAt(x, y int) (types.MappedPoint, bool) {
	if s == nil || x < 0 || y < 0 || x >= s.DepthDesc.Width || y >= s.DepthDesc.Height {
		return types.Unmapped, false
	}
	return s.DepthToColor[y*s.DepthDesc.Width+x], true
}
