package simulator

import (
	"encoding/binary"
	"math"

	"depthview-go/internal/types"
)

// Region labels what a depth pixel sees in the synthetic room.
type Region uint8

const (
	RegionShadow Region = iota
	RegionWall
	RegionFloor
	RegionWindow
	RegionBall
)

const (
	wallMM      = 3500
	windowMM    = 9000
	ballMM      = 1500
	shadowBand  = 8
	orbitPeriod = 4.0 // seconds per ball orbit
)

// Scene is a small room with a window, a floor and a ball that orbits
// horizontally. It is deterministic in the frame time.
type Scene struct {
	width  int
	height int
}

func NewScene(depth types.FrameDescription) Scene {
	return Scene{width: depth.Width, height: depth.Height}
}

func (s Scene) ballCenter(t float64) (float64, float64, float64) {
	w, h := float64(s.width), float64(s.height)
	cx := w/2 + 0.3*w*math.Sin(2*math.Pi*t/orbitPeriod)
	return cx, h / 2, h / 8
}

// Sample returns the region and depth in millimeters at depth pixel (x, y)
// at time t seconds.
func (s Scene) Sample(x, y int, t float64) (Region, uint16) {
	if x < shadowBand {
		return RegionShadow, 0
	}
	cx, cy, r := s.ballCenter(t)
	dx, dy := float64(x)-cx, float64(y)-cy
	if dist2 := dx*dx + dy*dy; dist2 < r*r {
		bulge := math.Sqrt(r*r-dist2) * 4
		return RegionBall, uint16(ballMM - bulge)
	}
	if x >= s.width*4/5 && y < s.height/7 {
		return RegionWindow, windowMM
	}
	floorTop := s.height * 3 / 4
	if y >= floorTop {
		// The floor comes closer toward the bottom of the image.
		rows := float64(y - floorTop)
		return RegionFloor, uint16(wallMM - rows*float64(wallMM-900)/float64(s.height-floorTop))
	}
	return RegionWall, uint16(wallMM + 2*(y-s.height/2))
}

// RenderDepth fills raw with little-endian samples for time t.
func (s Scene) RenderDepth(raw []byte, t float64) {
	for i := 0; i < s.width*s.height && 2*i+1 < len(raw); i++ {
		_, d := s.Sample(i%s.width, i/s.width, t)
		binary.LittleEndian.PutUint16(raw[2*i:], d)
	}
}

var unmappedColor = [4]byte{40, 40, 40, 255}

// RenderColor paints BGRA pixels from the depth pixel each color pixel
// sees, so the color image agrees with the depth image.
func (s Scene) RenderColor(pixels []byte, colorToDepth []types.SpacePoint, t float64) {
	for i, p := range colorToDepth {
		px := pixels[i*4 : i*4+4]
		if !p.IsMapped() {
			copy(px, unmappedColor[:])
			continue
		}
		x, y := int(p.X), int(p.Y)
		region, _ := s.Sample(x, y, t)
		c := regionColor(region, x, y)
		copy(px, c[:])
	}
}

func regionColor(region Region, x, y int) [4]byte {
	switch region {
	case RegionBall:
		return [4]byte{30, 30, 220, 255}
	case RegionWindow:
		return [4]byte{235, 206, 135, 255}
	case RegionFloor:
		return [4]byte{60, 120, 90, 255}
	case RegionWall:
		if (x/16+y/16)%2 == 0 {
			return [4]byte{200, 215, 225, 255}
		}
		return [4]byte{170, 185, 195, 255}
	default:
		return unmappedColor
	}
}
