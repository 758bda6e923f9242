package processing

import (
	"fmt"

	"depthview-go/internal/types"
)

// MaskChannel is the BGRA byte cleared on pixels without depth (blue).
const MaskChannel = 0

// MaskUnmapped zeroes one channel of every color pixel whose color->depth
// entry is unmapped. It returns the number of masked pixels.
func MaskUnmapped(pixels []byte, colorToDepth []types.MappedPoint, channel int) (int, error) {
	if channel < 0 || channel >= types.ColorBytesPerPixel {
		return 0, fmt.Errorf("invalid mask channel %d", channel)
	}
	if len(pixels) != len(colorToDepth)*types.ColorBytesPerPixel {
		return 0, fmt.Errorf("%w: color %d bytes, map %d entries", ErrLengthMismatch, len(pixels), len(colorToDepth))
	}
	masked := 0
	for i, p := range colorToDepth {
		if p.Valid {
			continue
		}
		pixels[i*types.ColorBytesPerPixel+channel] = 0
		masked++
	}
	return masked, nil
}
