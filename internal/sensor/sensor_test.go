package sensor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"depthview-go/internal/types"
)

var (
	depthDesc = types.FrameDescription{Width: 4, Height: 2, BytesPerPixel: types.DepthBytesPerPixel}
	colorDesc = types.FrameDescription{Width: 8, Height: 4, BytesPerPixel: types.ColorBytesPerPixel}
)

func TestPoolLendsAndReclaims(t *testing.T) {
	p := NewPool(depthDesc, colorDesc, 2)

	a, ok := p.TryGet()
	require.True(t, ok)
	assert.Len(t, a.Depth, 16)
	assert.Len(t, a.Color, 128)
	b, ok := p.TryGet()
	require.True(t, ok)
	_, ok = p.TryGet()
	assert.False(t, ok, "pool should be exhausted")
	assert.Equal(t, 2, p.InUse())

	pair := p.Pair(5, 1.5, a, true, true, 500, 4500)
	assert.Equal(t, uint64(5), pair.Seq)
	assert.Equal(t, depthDesc, pair.Depth.Description)
	assert.Equal(t, uint16(4500), pair.Depth.MaxReliable)
	pair.Done()
	pair.Done()
	assert.Equal(t, 1, p.InUse())

	again, ok := p.TryGet()
	require.True(t, ok)
	assert.Same(t, a, again)

	p.Put(b)
	p.Put(again)
	assert.Equal(t, 0, p.InUse())
}

func TestPoolPairCanOmitFrames(t *testing.T) {
	p := NewPool(depthDesc, colorDesc, 1)
	b, _ := p.TryGet()
	pair := p.Pair(1, 0, b, true, false, 0, 0)
	assert.NotNil(t, pair.Depth)
	assert.Nil(t, pair.Color)
	pair.Done()
	assert.Equal(t, 0, p.InUse())
}

func TestNotifyAvailabilityKeepsNewest(t *testing.T) {
	ch := make(chan bool, 1)
	NotifyAvailability(ch, true)
	NotifyAvailability(ch, false)
	assert.False(t, <-ch)
	select {
	case <-ch:
		t.Fatal("expected one pending value")
	default:
	}
}

func TestPoolGetWaitsForRelease(t *testing.T) {
	p := NewPool(depthDesc, colorDesc, 1)
	b, err := p.Get(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = p.Get(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	go p.Put(b)
	again, err := p.Get(context.Background())
	require.NoError(t, err)
	assert.Same(t, b, again)
}
