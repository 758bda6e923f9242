package ingest

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"depthview-go/internal/types"
)

// Message types sent by the sensor bridge.
const (
	TypeFrames       = "frames"
	TypeAvailability = "availability"
)

var (
	ErrUnknownType = errors.New("unknown message type")
	ErrMalformed   = errors.New("malformed message")
)

// Message is one decoded wire message. Pair is set for frames, Available
// for availability.
type Message struct {
	Type      string
	Pair      *types.FramePair
	Available bool
}

// DecodeMessage parses a CBOR message of the form
//
//	{ "type": "frames", "seq": <uint>, "timestamp": <float>,
//	  "min_reliable": <uint>, "max_reliable": <uint>,
//	  "depth": tag40[[h, w], tag69 bytes], "color": tag40[[h, w, 4], tag64 bytes] }
//	{ "type": "availability", "available": <bool> }
//
// A frames message may leave out depth or color; the pair then carries a nil
// frame. The returned pair owns its buffers.
func DecodeMessage(payload []byte) (Message, error) {
	var msg map[string]any
	if err := cbor.Unmarshal(payload, &msg); err != nil {
		return Message{}, fmt.Errorf("%w: cbor: %w", ErrMalformed, err)
	}

	msgType, _ := msg["type"].(string)
	switch msgType {
	case TypeFrames:
		pair, err := decodeFrames(msg)
		if err != nil {
			return Message{}, err
		}
		return Message{Type: msgType, Pair: pair}, nil
	case TypeAvailability:
		available, ok := msg["available"].(bool)
		if !ok {
			return Message{}, fmt.Errorf("%w: availability without bool", ErrMalformed)
		}
		return Message{Type: msgType, Available: available}, nil
	default:
		return Message{}, fmt.Errorf("%w: %q", ErrUnknownType, msgType)
	}
}

func decodeFrames(msg map[string]any) (*types.FramePair, error) {
	seq, err := toInt(msg["seq"])
	if err != nil || seq < 0 {
		return nil, fmt.Errorf("%w: invalid seq: %v", ErrMalformed, msg["seq"])
	}
	pair := &types.FramePair{Seq: uint64(seq)}
	if raw, ok := msg["timestamp"]; ok {
		if pair.Timestamp, err = toFloat(raw); err != nil {
			return nil, fmt.Errorf("%w: invalid timestamp: %w", ErrMalformed, err)
		}
	}

	if raw, ok := msg["depth"]; ok && raw != nil {
		arr, err := decodeMultiDimArray(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: depth: %w", ErrMalformed, err)
		}
		if len(arr.dims) != 2 || arr.elemTag != tagUint16LE {
			return nil, fmt.Errorf("%w: depth must be a 2D uint16 array", ErrMalformed)
		}
		minMM, _ := toInt(msg["min_reliable"])
		maxMM, _ := toInt(msg["max_reliable"])
		pair.Depth = &types.DepthFrame{
			Description: types.FrameDescription{Width: arr.dims[1], Height: arr.dims[0], BytesPerPixel: types.DepthBytesPerPixel},
			Raw:         arr.data,
			MinReliable: clampUint16(minMM),
			MaxReliable: clampUint16(maxMM),
		}
	}

	if raw, ok := msg["color"]; ok && raw != nil {
		arr, err := decodeMultiDimArray(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: color: %w", ErrMalformed, err)
		}
		if len(arr.dims) != 3 || arr.dims[2] != types.ColorBytesPerPixel || arr.elemTag != tagUint8 {
			return nil, fmt.Errorf("%w: color must be an HxWx4 uint8 array", ErrMalformed)
		}
		pair.Color = &types.ColorFrame{
			Description: types.FrameDescription{Width: arr.dims[1], Height: arr.dims[0], BytesPerPixel: types.ColorBytesPerPixel},
			Pixels:      arr.data,
		}
	}
	return pair, nil
}

// EncodeFrames builds the wire form of a frame pair; nil frames are left
// out.
func EncodeFrames(pair *types.FramePair) ([]byte, error) {
	if pair == nil {
		return nil, errors.New("encode frames: nil pair")
	}
	msg := map[string]any{
		"type":      TypeFrames,
		"seq":       pair.Seq,
		"timestamp": pair.Timestamp,
	}
	if d := pair.Depth; d != nil {
		msg["depth"] = encodeMultiDimArray([]int{d.Description.Height, d.Description.Width}, tagUint16LE, d.Raw)
		msg["min_reliable"] = d.MinReliable
		msg["max_reliable"] = d.MaxReliable
	}
	if c := pair.Color; c != nil {
		msg["color"] = encodeMultiDimArray([]int{c.Description.Height, c.Description.Width, types.ColorBytesPerPixel}, tagUint8, c.Pixels)
	}
	return cbor.Marshal(msg)
}

func EncodeAvailability(available bool) ([]byte, error) {
	return cbor.Marshal(map[string]any{"type": TypeAvailability, "available": available})
}

func clampUint16(v int) uint16 {
	switch {
	case v < 0:
		return 0
	case v > 0xffff:
		return 0xffff
	}
	return uint16(v)
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case uint64:
		return int(n), nil
	case uint32:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("unsupported int type %T", v)
	}
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("unsupported float type %T", v)
	}
}
