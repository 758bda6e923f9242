package ingest

import (
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"depthview-go/internal/processing"
	"depthview-go/internal/types"
)

func framePair(seq uint64, depthW, depthH, colorW, colorH int) *types.FramePair {
	samples := make([]uint16, depthW*depthH)
	for i := range samples {
		samples[i] = uint16(1000 + i)
	}
	pixels := make([]byte, colorW*colorH*4)
	for i := range pixels {
		pixels[i] = byte(i)
	}
	return &types.FramePair{
		Seq:       seq,
		Timestamp: 12.5,
		Depth: &types.DepthFrame{
			Description: types.FrameDescription{Width: depthW, Height: depthH, BytesPerPixel: types.DepthBytesPerPixel},
			Raw:         processing.DepthBytes(samples),
			MinReliable: 500,
			MaxReliable: 4500,
		},
		Color: &types.ColorFrame{
			Description: types.FrameDescription{Width: colorW, Height: colorH, BytesPerPixel: types.ColorBytesPerPixel},
			Pixels:      pixels,
		},
	}
}

func TestDecodeFramesMessage(t *testing.T) {
	want := framePair(7, 3, 2, 2, 2)
	payload, err := EncodeFrames(want)
	require.NoError(t, err)

	msg, err := DecodeMessage(payload)
	require.NoError(t, err)
	require.Equal(t, TypeFrames, msg.Type)
	got := msg.Pair
	assert.Equal(t, uint64(7), got.Seq)
	assert.Equal(t, 12.5, got.Timestamp)
	assert.Equal(t, want.Depth.Description, got.Depth.Description)
	assert.Equal(t, want.Depth.Raw, got.Depth.Raw)
	assert.Equal(t, uint16(500), got.Depth.MinReliable)
	assert.Equal(t, uint16(4500), got.Depth.MaxReliable)
	assert.Equal(t, want.Color.Description, got.Color.Description)
	assert.Equal(t, want.Color.Pixels, got.Color.Pixels)

	// The decoded pair does not alias the wire buffer.
	for i := range payload {
		payload[i] = 0
	}
	assert.Equal(t, want.Depth.Raw, got.Depth.Raw)
}

func TestDecodeFramesWithMissingColor(t *testing.T) {
	pair := framePair(1, 2, 2, 2, 2)
	pair.Color = nil
	payload, err := EncodeFrames(pair)
	require.NoError(t, err)

	msg, err := DecodeMessage(payload)
	require.NoError(t, err)
	assert.NotNil(t, msg.Pair.Depth)
	assert.Nil(t, msg.Pair.Color)
}

func TestDecodeAvailabilityMessage(t *testing.T) {
	payload, err := EncodeAvailability(false)
	require.NoError(t, err)
	msg, err := DecodeMessage(payload)
	require.NoError(t, err)
	assert.Equal(t, TypeAvailability, msg.Type)
	assert.False(t, msg.Available)
}

func TestDecodeMessageRejects(t *testing.T) {
	mustMarshal := func(v any) []byte {
		data, err := cbor.Marshal(v)
		require.NoError(t, err)
		return data
	}

	cases := []struct {
		name    string
		payload []byte
		want    error
	}{
		{"garbage", []byte{0xff, 0x00}, ErrMalformed},
		{"unknown type", mustMarshal(map[string]any{"type": "image"}), ErrUnknownType},
		{"availability without flag", mustMarshal(map[string]any{"type": TypeAvailability}), ErrMalformed},
		{"frames without seq", mustMarshal(map[string]any{"type": TypeFrames}), ErrMalformed},
		{"depth as uint8", mustMarshal(map[string]any{
			"type": TypeFrames, "seq": 1,
			"depth": encodeMultiDimArray([]int{1, 2}, tagUint8, []byte{1, 2}),
		}), ErrMalformed},
		{"color without planes", mustMarshal(map[string]any{
			"type": TypeFrames, "seq": 1,
			"color": encodeMultiDimArray([]int{1, 2}, tagUint8, []byte{1, 2}),
		}), ErrMalformed},
		{"depth size mismatch", mustMarshal(map[string]any{
			"type": TypeFrames, "seq": 1,
			"depth": encodeMultiDimArray([]int{2, 2}, tagUint16LE, []byte{1, 2}),
		}), ErrMalformed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeMessage(tc.payload)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}
