package mapping

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"depthview-go/internal/types"
)

type stubGeometry struct {
	depthToColor []types.SpacePoint
	colorToDepth []types.SpacePoint
	err          error
	gotRaw       []byte
}

func (s *stubGeometry) MapDepthFrameToColorSpace(_ []uint16, out []types.SpacePoint) error {
	copy(out, s.depthToColor)
	return s.err
}

func (s *stubGeometry) MapColorFrameToDepthSpace(raw []byte, out []types.SpacePoint) error {
	s.gotRaw = raw
	copy(out, s.colorToDepth)
	return s.err
}

var (
	depthDesc = types.FrameDescription{Width: 2, Height: 1, BytesPerPixel: 2}
	colorDesc = types.FrameDescription{Width: 2, Height: 2, BytesPerPixel: 4}
)

func TestAdapterConvertsSentinels(t *testing.T) {
	negInf := float32(math.Inf(-1))
	nan := float32(math.NaN())
	geo := &stubGeometry{
		depthToColor: []types.SpacePoint{{X: 1.5, Y: 0.25}, {X: negInf, Y: negInf}},
		colorToDepth: []types.SpacePoint{{X: 0, Y: 0}, {X: negInf, Y: 3}, {X: 1, Y: nan}, {X: 1, Y: 0}},
	}
	a, err := NewAdapter(geo, depthDesc, colorDesc)
	require.NoError(t, err)

	d2c, err := a.DepthToColor([]uint16{1000, 0})
	require.NoError(t, err)
	assert.Equal(t, []types.MappedPoint{{X: 1.5, Y: 0.25, Valid: true}, types.Unmapped}, d2c)

	raw := []byte{0xe8, 0x03, 0, 0}
	c2d, err := a.ColorToDepth(raw)
	require.NoError(t, err)
	assert.Equal(t, []types.MappedPoint{
		{X: 0, Y: 0, Valid: true},
		types.Unmapped,
		types.Unmapped,
		{X: 1, Y: 0, Valid: true},
	}, c2d)
	assert.Equal(t, raw, geo.gotRaw, "color to depth must read the raw buffer")
}

func TestAdapterSizeChecks(t *testing.T) {
	a, err := NewAdapter(&stubGeometry{}, depthDesc, colorDesc)
	require.NoError(t, err)
	_, err = a.DepthToColor([]uint16{1})
	assert.ErrorIs(t, err, ErrSizeMismatch)
	_, err = a.ColorToDepth([]byte{1, 2})
	assert.ErrorIs(t, err, ErrSizeMismatch)
}

func TestAdapterPropagatesGeometryErrors(t *testing.T) {
	boom := errors.New("sensor gone")
	a, err := NewAdapter(&stubGeometry{err: boom}, depthDesc, colorDesc)
	require.NoError(t, err)
	_, err = a.DepthToColor([]uint16{1, 2})
	assert.ErrorIs(t, err, boom)
	_, err = a.ColorToDepth([]byte{1, 2, 3, 4})
	assert.ErrorIs(t, err, boom)
}

func TestNewAdapterValidation(t *testing.T) {
	_, err := NewAdapter(nil, depthDesc, colorDesc)
	assert.Error(t, err)
	_, err = NewAdapter(&stubGeometry{}, types.FrameDescription{}, colorDesc)
	assert.Error(t, err)
}
