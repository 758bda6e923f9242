// Package sensor defines the frame source capability and the buffer
// plumbing shared by the concrete sources.
package sensor

import (
	"depthview-go/internal/mapping"
	"depthview-go/internal/types"
)

// Source delivers frame pairs with buffers it still owns; consumers call
// FramePair.Done once they have copied what they need. Frames is closed when
// the source stops.
type Source interface {
	Frames() <-chan *types.FramePair
	Availability() <-chan bool
	Geometry() mapping.Geometry
	DepthDescription() types.FrameDescription
	ColorDescription() types.FrameDescription
	Close() error
}

// NotifyAvailability replaces any pending value on ch with available. ch
// must be buffered.
func NotifyAvailability(ch chan bool, available bool) {
	for {
		select {
		case ch <- available:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
