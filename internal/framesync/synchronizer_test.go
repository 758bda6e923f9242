package framesync

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"depthview-go/internal/mapping"
	"depthview-go/internal/processing"
	"depthview-go/internal/types"
)

var (
	testDepth = types.FrameDescription{Width: 4, Height: 2, BytesPerPixel: types.DepthBytesPerPixel}
	testColor = types.FrameDescription{Width: 8, Height: 4, BytesPerPixel: types.ColorBytesPerPixel}
)

// scaleGeometry maps depth pixel (x, y) to color (2x, 2y); zero depth is
// unmapped in both directions.
type scaleGeometry struct {
	err   error
	panic bool
}

func (g *scaleGeometry) MapDepthFrameToColorSpace(depth []uint16, out []types.SpacePoint) error {
	if g.panic {
		panic("geometry exploded")
	}
	for i, d := range depth {
		if d == 0 {
			out[i] = types.UnmappedSpacePoint
			continue
		}
		out[i] = types.SpacePoint{X: float32(2 * (i % testDepth.Width)), Y: float32(2 * (i / testDepth.Width))}
	}
	return g.err
}

func (g *scaleGeometry) MapColorFrameToDepthSpace(raw []byte, out []types.SpacePoint) error {
	samples, err := processing.CopyDepthSamples(raw)
	if err != nil {
		return err
	}
	for i := range out {
		x, y := (i%testColor.Width)/2, (i/testColor.Width)/2
		if samples[y*testDepth.Width+x] == 0 {
			out[i] = types.UnmappedSpacePoint
			continue
		}
		out[i] = types.SpacePoint{X: float32(x), Y: float32(y)}
	}
	return g.err
}

func newTestSynchronizer(t *testing.T, geo mapping.Geometry, opts ...Option) *Synchronizer {
	t.Helper()
	adapter, err := mapping.NewAdapter(geo, testDepth, testColor)
	require.NoError(t, err)
	s, err := New(adapter, opts...)
	require.NoError(t, err)
	return s
}

type pairBuilder struct {
	seq      uint64
	samples  []uint16
	color    []byte
	released *atomic.Int32
}

func newPair(seq uint64, samples []uint16) *pairBuilder {
	color := make([]byte, testColor.LengthInPixels()*4)
	for i := range color {
		color[i] = 200
	}
	return &pairBuilder{seq: seq, samples: samples, color: color, released: &atomic.Int32{}}
}

func (b *pairBuilder) build() *types.FramePair {
	return &types.FramePair{
		Seq:       b.seq,
		Timestamp: float64(b.seq) / 30,
		Depth: &types.DepthFrame{
			Description: testDepth,
			Raw:         processing.DepthBytes(b.samples),
			MinReliable: 500,
			MaxReliable: 4500,
		},
		Color: &types.ColorFrame{
			Description: testColor,
			Pixels:      b.color,
		},
		Release: func() { b.released.Add(1) },
	}
}

func sampleDepth(base uint16) []uint16 {
	return []uint16{0, base, base + 31, base + 62, 400, base, 9000, base}
}

func TestTickPublishesConsistentState(t *testing.T) {
	s := newTestSynchronizer(t, &scaleGeometry{})
	b := newPair(1, sampleDepth(2000))
	pair := b.build()
	raw := pair.Depth.Raw

	st, err := s.Tick(pair)
	require.NoError(t, err)
	require.Same(t, st, s.Latest())
	assert.Equal(t, int32(1), b.released.Load())

	assert.Equal(t, uint64(1), st.Seq)
	assert.Equal(t, sampleDepth(2000), st.Depth)
	assert.Equal(t, []uint8{0, 64, 65, 66, 0, 64, 0, 64}, st.Intensity)
	assert.Equal(t, uint16(500), st.MinReliable)
	assert.Equal(t, uint16(4500), st.MaxReliable)

	d2c, ok := st.DepthToColorAt(1, 0)
	require.True(t, ok)
	assert.Equal(t, types.MappedPoint{X: 2, Y: 0, Valid: true}, d2c)
	d2c, _ = st.DepthToColorAt(0, 0)
	assert.False(t, d2c.Valid)

	// Color pixels over depth pixel (0,0) have no depth and get masked.
	assert.True(t, st.Masked)
	assert.Equal(t, 4, st.MaskedPixels)
	assert.Equal(t, byte(0), st.Color[0])
	assert.Equal(t, byte(200), st.Color[1])
	assert.Equal(t, byte(200), st.Color[2*4])

	// The state owns its buffers.
	for i := range raw {
		raw[i] = 0xff
	}
	b.color[4*4] = 1
	assert.Equal(t, sampleDepth(2000), st.Depth)
	assert.Equal(t, byte(200), st.Color[4*4])

	select {
	case got := <-s.Updates():
		assert.Same(t, st, got)
	default:
		t.Fatal("expected an update signal")
	}
	assert.Equal(t, Counters{Published: 1}, s.Counters())
}

func TestTickWithMaskDisabledLeavesColor(t *testing.T) {
	s := newTestSynchronizer(t, &scaleGeometry{}, WithMask(false))
	b := newPair(1, sampleDepth(2000))
	st, err := s.Tick(b.build())
	require.NoError(t, err)
	assert.False(t, st.Masked)
	assert.Equal(t, 0, st.MaskedPixels)
	assert.Equal(t, b.color, st.Color)

	assert.True(t, s.ToggleMask())
	st, err = s.Tick(newPair(2, sampleDepth(2000)).build())
	require.NoError(t, err)
	assert.True(t, st.Masked)
}

func TestReliableRangeOverride(t *testing.T) {
	s := newTestSynchronizer(t, &scaleGeometry{}, WithReliableRange(1, math.MaxUint16))
	st, err := s.Tick(newPair(1, sampleDepth(2000)).build())
	require.NoError(t, err)
	assert.Equal(t, uint16(math.MaxUint16), st.MaxReliable)
	// 400mm and 9000mm are now inside the range; 9000/31 = 290 wraps to 34.
	assert.Equal(t, uint8(400/31), st.Intensity[4])
	assert.Equal(t, uint8(34), st.Intensity[6])

	s = newTestSynchronizer(t, &scaleGeometry{}, WithReliableRange(1, math.MaxUint16), WithOverflowPolicy(processing.OverflowClamp))
	st, err = s.Tick(newPair(1, sampleDepth(2000)).build())
	require.NoError(t, err)
	assert.Equal(t, uint8(255), st.Intensity[6])
}

func deepCopy(st *State) State {
	c := *st
	c.Intensity = append([]uint8(nil), st.Intensity...)
	c.Color = append([]byte(nil), st.Color...)
	c.Depth = append([]uint16(nil), st.Depth...)
	c.DepthToColor = append([]types.MappedPoint(nil), st.DepthToColor...)
	c.ColorToDepth = append([]types.MappedPoint(nil), st.ColorToDepth...)
	return c
}

func TestDroppedTicksLeaveStateUnchanged(t *testing.T) {
	cases := []struct {
		name   string
		geo    *scaleGeometry
		mutate func(*types.FramePair) *types.FramePair
		want   error
	}{
		{
			name:   "missing color",
			geo:    &scaleGeometry{},
			mutate: func(p *types.FramePair) *types.FramePair { p.Color = nil; return p },
			want:   ErrFrameMissing,
		},
		{
			name:   "missing depth",
			geo:    &scaleGeometry{},
			mutate: func(p *types.FramePair) *types.FramePair { p.Depth = nil; return p },
			want:   ErrFrameMissing,
		},
		{
			name: "depth dimension mismatch",
			geo:  &scaleGeometry{},
			mutate: func(p *types.FramePair) *types.FramePair {
				p.Depth.Description.Width = 3
				return p
			},
			want: ErrDimensionMismatch,
		},
		{
			name: "short depth buffer",
			geo:  &scaleGeometry{},
			mutate: func(p *types.FramePair) *types.FramePair {
				p.Depth.Raw = p.Depth.Raw[:6]
				return p
			},
			want: ErrDimensionMismatch,
		},
		{
			name: "short color buffer",
			geo:  &scaleGeometry{},
			mutate: func(p *types.FramePair) *types.FramePair {
				p.Color.Pixels = p.Color.Pixels[:10]
				return p
			},
			want: ErrDimensionMismatch,
		},
		{
			name:   "mapper error",
			geo:    &scaleGeometry{err: errors.New("mapper offline")},
			mutate: func(p *types.FramePair) *types.FramePair { return p },
			want:   ErrTickFailed,
		},
		{
			name:   "mapper panic",
			geo:    &scaleGeometry{panic: true},
			mutate: func(p *types.FramePair) *types.FramePair { return p },
			want:   ErrTickFailed,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			geo := &scaleGeometry{}
			s := newTestSynchronizer(t, geo)
			first, err := s.Tick(newPair(1, sampleDepth(2000)).build())
			require.NoError(t, err)
			before := deepCopy(first)
			<-s.Updates()

			*geo = *tc.geo
			b := newPair(2, sampleDepth(3000))
			st, err := s.Tick(tc.mutate(b.build()))
			require.Error(t, err)
			assert.Nil(t, st)
			assert.ErrorIs(t, err, ErrDropped)
			assert.ErrorIs(t, err, tc.want)
			assert.Equal(t, int32(1), b.released.Load(), "dropped pair must still be released")

			require.Same(t, first, s.Latest())
			if diff := cmp.Diff(before, *s.Latest()); diff != "" {
				t.Fatalf("published state changed (-before +after):\n%s", diff)
			}
			select {
			case <-s.Updates():
				t.Fatal("dropped tick must not signal renderers")
			default:
			}
			assert.Equal(t, Counters{Published: 1, Dropped: 1}, s.Counters())
		})
	}
}

func TestTickNilPair(t *testing.T) {
	s := newTestSynchronizer(t, &scaleGeometry{})
	_, err := s.Tick(nil)
	assert.ErrorIs(t, err, ErrFrameMissing)
	assert.Nil(t, s.Latest())
}

func TestUpdatesKeepOnlyNewest(t *testing.T) {
	s := newTestSynchronizer(t, &scaleGeometry{})
	for seq := uint64(1); seq <= 3; seq++ {
		_, err := s.Tick(newPair(seq, sampleDepth(2000)).build())
		require.NoError(t, err)
	}
	got := <-s.Updates()
	assert.Equal(t, uint64(3), got.Seq)
	select {
	case <-s.Updates():
		t.Fatal("expected a single pending update")
	default:
	}
}

func TestRunProcessesInOrderAndTracksAvailability(t *testing.T) {
	s := newTestSynchronizer(t, &scaleGeometry{})
	frames := make(chan *types.FramePair)
	availability := make(chan bool, 1)
	done := make(chan struct{})
	go func() {
		s.Run(context.Background(), frames, availability)
		close(done)
	}()

	availability <- true
	require.Eventually(t, s.Available, time.Second, time.Millisecond)

	for seq := uint64(1); seq <= 5; seq++ {
		frames <- newPair(seq, sampleDepth(uint16(1000+seq))).build()
	}
	frames <- &types.FramePair{Seq: 6}

	availability <- false
	require.Eventually(t, func() bool { return !s.Available() }, time.Second, time.Millisecond)
	close(frames)
	<-done

	require.NotNil(t, s.Latest())
	assert.Equal(t, uint64(5), s.Latest().Seq, "unavailable sensor keeps the last published state")
	assert.Equal(t, Counters{Published: 5, Dropped: 1}, s.Counters())
}

func TestRunAppliesAvailabilitySentBeforeClose(t *testing.T) {
	for i := 0; i < 100; i++ {
		s := newTestSynchronizer(t, &scaleGeometry{})
		s.SetAvailable(true)
		frames := make(chan *types.FramePair)
		availability := make(chan bool, 1)
		availability <- false
		close(frames)

		s.Run(context.Background(), frames, availability)
		require.False(t, s.Available(), "run %d", i)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	s := newTestSynchronizer(t, &scaleGeometry{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx, make(chan *types.FramePair), nil)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestConcurrentReadersSeeSingleTick(t *testing.T) {
	s := newTestSynchronizer(t, &scaleGeometry{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	var failures atomic.Int32
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				st := s.Latest()
				if st == nil {
					continue
				}
				// Every sample of tick n is derived from n, so a mix of
				// ticks shows up as disagreeing tables.
				want := sampleDepth(uint16(1000 + st.Seq))
				if diff := cmp.Diff(want, st.Depth); diff != "" {
					failures.Add(1)
				}
				if st.Intensity[1] != processing.DepthIntensity(want[1], st.MinReliable, st.MaxReliable, processing.OverflowWrap) {
					failures.Add(1)
				}
			}
		}()
	}

	for seq := uint64(1); seq <= 200; seq++ {
		_, err := s.Tick(newPair(seq, sampleDepth(uint16(1000+seq))).build())
		require.NoError(t, err)
	}
	cancel()
	wg.Wait()
	assert.Zero(t, failures.Load())
}

func TestSetAvailableIsIdempotent(t *testing.T) {
	s := newTestSynchronizer(t, &scaleGeometry{})
	assert.False(t, s.Available())
	s.SetAvailable(true)
	s.SetAvailable(true)
	assert.True(t, s.Available())
	s.SetMask(false)
	assert.False(t, s.MaskEnabled())
}

func TestNewRejectsNilMapper(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)
}
