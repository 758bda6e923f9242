package processing

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
)

// DepthToByte maps the 0-8000mm working range onto a byte.
const DepthToByte = 8000 / 256

var ErrLengthMismatch = errors.New("buffer length mismatch")

// OverflowPolicy decides what happens to depths whose quotient does not fit
// in a byte (anything past ~7.9m).
type OverflowPolicy int

const (
	// OverflowWrap keeps the low byte, so intensity cycles past 7936mm.
	OverflowWrap OverflowPolicy = iota
	// OverflowClamp saturates at 255.
	OverflowClamp
)

func ParseOverflowPolicy(value string) (OverflowPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "wrap":
		return OverflowWrap, nil
	case "clamp", "saturate":
		return OverflowClamp, nil
	default:
		return OverflowWrap, fmt.Errorf("unknown depth overflow policy %q", value)
	}
}

func (p OverflowPolicy) String() string {
	if p == OverflowClamp {
		return "clamp"
	}
	return "wrap"
}

// DecodeDepth converts depth samples into an 8-bit intensity image of the
// same length. Samples outside [minReliable, maxReliable] become 0.
func DecodeDepth(samples []uint16, minReliable, maxReliable uint16, policy OverflowPolicy) []uint8 {
	out := make([]uint8, len(samples))
	_ = DecodeDepthInto(out, samples, minReliable, maxReliable, policy)
	return out
}

func DecodeDepthInto(dst []uint8, samples []uint16, minReliable, maxReliable uint16, policy OverflowPolicy) error {
	if len(dst) != len(samples) {
		return fmt.Errorf("%w: intensity %d, depth %d", ErrLengthMismatch, len(dst), len(samples))
	}
	for i, d := range samples {
		dst[i] = DepthIntensity(d, minReliable, maxReliable, policy)
	}
	return nil
}

func DepthIntensity(d, minReliable, maxReliable uint16, policy OverflowPolicy) uint8 {
	if d < minReliable || d > maxReliable {
		return 0
	}
	q := d / DepthToByte
	if policy == OverflowClamp && q > math.MaxUint8 {
		return math.MaxUint8
	}
	return uint8(q)
}

// CopyDepthSamples copies a little-endian uint16 buffer into an owned slice.
func CopyDepthSamples(raw []byte) ([]uint16, error) {
	if len(raw)%2 != 0 {
		return nil, fmt.Errorf("%w: odd depth buffer size %d", ErrLengthMismatch, len(raw))
	}
	out := make([]uint16, len(raw)/2)
	for i := range out {
		out[i] = binary.LittleEndian.Uint16(raw[i*2 : i*2+2])
	}
	return out, nil
}

// DepthBytes is the inverse of CopyDepthSamples.
func DepthBytes(samples []uint16) []byte {
	out := make([]byte, len(samples)*2)
	for i, v := range samples {
		binary.LittleEndian.PutUint16(out[i*2:i*2+2], v)
	}
	return out
}
