package sensor

import (
	"context"
	"sync/atomic"

	"depthview-go/internal/types"
)

// Buffers is one reusable depth and color allocation.
type Buffers struct {
	Depth []byte
	Color []byte
}

// Pool is a fixed set of frame buffers. A buffer handed out with a frame
// pair comes back when the pair is released, so a slow consumer starves the
// producer instead of growing memory.
type Pool struct {
	depth types.FrameDescription
	color types.FrameDescription
	free  chan *Buffers
	out   atomic.Int64
}

func NewPool(depth, color types.FrameDescription, size int) *Pool {
	if size < 1 {
		size = 1
	}
	p := &Pool{depth: depth, color: color, free: make(chan *Buffers, size)}
	for i := 0; i < size; i++ {
		p.free <- &Buffers{
			Depth: make([]byte, depth.LengthInPixels()*types.DepthBytesPerPixel),
			Color: make([]byte, color.LengthInPixels()*types.ColorBytesPerPixel),
		}
	}
	return p
}

// TryGet returns a free buffer set, or false when all are in use.
func (p *Pool) TryGet() (*Buffers, bool) {
	select {
	case b := <-p.free:
		p.out.Add(1)
		return b, true
	default:
		return nil, false
	}
}

// Get waits for a free buffer set.
func (p *Pool) Get(ctx context.Context) (*Buffers, error) {
	select {
	case b := <-p.free:
		p.out.Add(1)
		return b, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Pool) Put(b *Buffers) {
	if b == nil {
		return
	}
	p.out.Add(-1)
	select {
	case p.free <- b:
	default:
	}
}

// InUse reports how many buffer sets are lent out.
func (p *Pool) InUse() int {
	return int(p.out.Load())
}

// Pair wraps b in a frame pair whose Release returns b to the pool. A nil
// frame is left out of the pair so the consumer sees it as missing.
func (p *Pool) Pair(seq uint64, timestamp float64, b *Buffers, withDepth, withColor bool, minReliable, maxReliable uint16) *types.FramePair {
	pair := &types.FramePair{
		Seq:       seq,
		Timestamp: timestamp,
		Release:   func() { p.Put(b) },
	}
	if withDepth {
		pair.Depth = &types.DepthFrame{
			Description: p.depth,
			Raw:         b.Depth,
			MinReliable: minReliable,
			MaxReliable: maxReliable,
		}
	}
	if withColor {
		pair.Color = &types.ColorFrame{Description: p.color, Pixels: b.Color}
	}
	return pair
}
