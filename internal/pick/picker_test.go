package pick

import (
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"depthview-go/internal/framesync"
	"depthview-go/internal/types"
)

type staticSource struct {
	mu sync.Mutex
	st *framesync.State
}

func (s *staticSource) Latest() *framesync.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st
}

func (s *staticSource) set(st *framesync.State) {
	s.mu.Lock()
	s.st = st
	s.mu.Unlock()
}

// testState has a 3x2 depth image and a 6x4 color image. Depth pixel (x, y)
// maps to color (2x, 2y) except (0, 0), which has no depth, and (2, 1),
// which lands outside the color image.
func testState(seq uint64) *framesync.State {
	depth := types.FrameDescription{Width: 3, Height: 2, BytesPerPixel: types.DepthBytesPerPixel}
	color := types.FrameDescription{Width: 6, Height: 4, BytesPerPixel: types.ColorBytesPerPixel}
	st := &framesync.State{
		Seq:          seq,
		DepthDesc:    depth,
		ColorDesc:    color,
		Depth:        []uint16{0, 1234, 2500, 800, 4500, 3000},
		DepthToColor: make([]types.MappedPoint, depth.LengthInPixels()),
		ColorToDepth: make([]types.MappedPoint, color.LengthInPixels()),
	}
	for i := range st.DepthToColor {
		x, y := i%depth.Width, i/depth.Width
		st.DepthToColor[i] = types.MappedPoint{X: float32(2*x) + 0.4, Y: float32(2*y) + 0.6, Valid: true}
	}
	st.DepthToColor[0] = types.Unmapped
	st.DepthToColor[5] = types.MappedPoint{X: 7.5, Y: 2, Valid: true}
	for i := range st.ColorToDepth {
		x, y := i%color.Width, i/color.Width
		st.ColorToDepth[i] = types.MappedPoint{X: float32(x/2) + 0.7, Y: float32(y/2) + 0.2, Valid: true}
	}
	st.ColorToDepth[0] = types.Unmapped
	st.ColorToDepth[1] = types.Unmapped
	// Out of range entry; must not index outside the depth buffer.
	st.ColorToDepth[23] = types.MappedPoint{X: 40, Y: 40, Valid: true}
	return st
}

func TestNoFrameYet(t *testing.T) {
	p := New(&staticSource{})
	_, err := p.FromColor(1, 1)
	assert.ErrorIs(t, err, ErrNoFrame)
	res, err := p.FromDepth(1, 1)
	assert.ErrorIs(t, err, ErrNoFrame)
	assert.False(t, res.Depth.Known)
	assert.False(t, res.ColorCoord.Known)
}

func TestFromDepth(t *testing.T) {
	p := New(&staticSource{st: testState(7)})

	res, err := p.FromDepth(1, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), res.Seq)
	assert.Equal(t, Pixel{X: 1, Y: 0}, res.Pixel)
	assert.Equal(t, Distance{Meters: 1.234, Known: true}, res.Depth)
	assert.Equal(t, "1.234 meters", res.Depth.String())
	assert.Equal(t, Coord{X: 2, Y: 0, Known: true}, res.ColorCoord)
	assert.Equal(t, "X: 2 Y: 0", res.ColorCoord.String())

	// Zero sample and unmapped entry.
	res, err = p.FromDepth(0, 0)
	require.NoError(t, err)
	assert.False(t, res.Depth.Known)
	assert.Equal(t, "Unknown Depth", res.Depth.String())
	assert.False(t, res.ColorCoord.Known)
	assert.Equal(t, "Unknown", res.ColorCoord.String())

	// Mapped outside the color image.
	res, err = p.FromDepth(2, 1)
	require.NoError(t, err)
	assert.Equal(t, Distance{Meters: 3, Known: true}, res.Depth)
	assert.False(t, res.ColorCoord.Known)
}

func TestFromColorScalesDisplayCoordinates(t *testing.T) {
	p := New(&staticSource{st: testState(3)}, WithScales(2, 0))

	res, err := p.FromColor(1, 1.9)
	require.NoError(t, err)
	assert.Equal(t, Pixel{X: 2, Y: 3}, res.Pixel)
	assert.Equal(t, Coord{X: 1, Y: 1, Known: true}, res.DepthCoord)
	assert.Equal(t, Distance{Meters: 4.5, Known: true}, res.Depth)

	res, err = p.FromColor(0, 0)
	require.NoError(t, err)
	assert.False(t, res.Depth.Known)
	assert.False(t, res.DepthCoord.Known)
}

func TestFromColorDefaultScale(t *testing.T) {
	p := New(&staticSource{st: testState(1)})
	res, err := p.FromColor(1, 0)
	require.NoError(t, err)
	assert.Equal(t, Pixel{X: 3, Y: 0}, res.Pixel)
	assert.Equal(t, Coord{X: 1, Y: 0, Known: true}, res.DepthCoord)
}

func TestCoordinatesAreClamped(t *testing.T) {
	p := New(&staticSource{st: testState(1)}, WithScales(1, 1))

	cases := []struct {
		x, y float64
		want Pixel
	}{
		{-5, 1, Pixel{X: 0, Y: 1, Clamped: true}},
		{2, 99, Pixel{X: 2, Y: 1, Clamped: true}},
		{math.NaN(), 0, Pixel{X: 0, Y: 0, Clamped: true}},
		{math.Inf(1), math.Inf(-1), Pixel{X: 2, Y: 0, Clamped: true}},
		{2.99, 1.99, Pixel{X: 2, Y: 1}},
	}
	for _, tc := range cases {
		res, err := p.FromDepth(tc.x, tc.y)
		require.NoError(t, err)
		assert.Equal(t, tc.want, res.Pixel, "input (%v, %v)", tc.x, tc.y)
	}

	// Bottom-right color pixel holds an out-of-range entry.
	res, err := p.FromColor(1000, 1000)
	require.NoError(t, err)
	assert.Equal(t, Pixel{X: 5, Y: 3, Clamped: true}, res.Pixel)
	assert.False(t, res.Depth.Known)
	assert.False(t, res.DepthCoord.Known)
}

func TestNegativeFractionalEntriesAreUnknown(t *testing.T) {
	st := testState(1)
	st.DepthToColor[1] = types.MappedPoint{X: -0.6, Y: -0.9, Valid: true}
	st.ColorToDepth[2] = types.MappedPoint{X: -0.7, Y: 0, Valid: true}
	p := New(&staticSource{st: st}, WithScales(1, 1))

	depthRes, err := p.FromDepth(1, 0)
	require.NoError(t, err)
	assert.True(t, depthRes.Depth.Known)
	assert.False(t, depthRes.ColorCoord.Known)
	assert.Equal(t, "Unknown", depthRes.ColorCoord.String())

	colorRes, err := p.FromColor(2, 0)
	require.NoError(t, err)
	assert.False(t, colorRes.DepthCoord.Known)
	assert.False(t, colorRes.Depth.Known)
}

func TestPickReadsOneState(t *testing.T) {
	src := &staticSource{st: testState(1)}
	p := New(src)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				res, err := p.FromDepth(1, 0)
				if err != nil || !res.Depth.Known || res.Depth.Meters != 1.234 {
					t.Errorf("unexpected pick %+v, %v", res, err)
					return
				}
			}
		}()
	}
	for seq := uint64(2); seq < 200; seq++ {
		src.set(testState(seq))
	}
	wg.Wait()
}
