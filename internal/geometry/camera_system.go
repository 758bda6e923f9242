package geometry

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"depthview-go/internal/types"
)

const orthonormalTolerance = 1e-3

// CameraSystem maps pixels between a depth camera and a color camera. The
// extrinsics take a point in depth camera space (millimeters) to color
// camera space: p_color = R * p_depth + T.
type CameraSystem struct {
	Depth         PinholeIntrinsics `json:"depth_intrinsics"`
	Color         PinholeIntrinsics `json:"color_intrinsics"`
	Rotation      []float64         `json:"rotation"`
	TranslationMM []float64         `json:"translation_mm"`

	rot   [9]float64
	trans r3.Vector
}

// DefaultKinectV2 returns factory-like parameters for a Kinect v2 sensor.
func DefaultKinectV2() *CameraSystem {
	cs := &CameraSystem{
		Depth:         PinholeIntrinsics{Width: 512, Height: 424, Fx: 365.456, Fy: 365.456, Ppx: 254.878, Ppy: 205.395},
		Color:         PinholeIntrinsics{Width: 1920, Height: 1080, Fx: 1081.37, Fy: 1081.37, Ppx: 959.5, Ppy: 539.5},
		Rotation:      []float64{1, 0, 0, 0, 1, 0, 0, 0, 1},
		TranslationMM: []float64{-52, 0, 0},
	}
	if err := cs.CheckValid(); err != nil {
		panic(err)
	}
	return cs
}

// ParseCameraSystem decodes and validates a JSON camera system.
func ParseCameraSystem(data []byte) (*CameraSystem, error) {
	cs := &CameraSystem{}
	if err := json.Unmarshal(data, cs); err != nil {
		return nil, errors.Wrap(err, "error parsing camera system JSON")
	}
	if err := cs.CheckValid(); err != nil {
		return nil, err
	}
	return cs, nil
}

func LoadCameraSystem(path string) (*CameraSystem, error) {
	//nolint:gosec
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "error reading camera system file")
	}
	return ParseCameraSystem(data)
}

// CheckValid validates both intrinsics and the extrinsic rotation, and caches
// the transform used by the mapping loops.
func (cs *CameraSystem) CheckValid() error {
	if cs == nil {
		return newNoIntrinsicsError("camera system does not exist")
	}
	if err := cs.Depth.CheckValid(); err != nil {
		return errors.Wrap(err, "depth camera")
	}
	if err := cs.Color.CheckValid(); err != nil {
		return errors.Wrap(err, "color camera")
	}
	if len(cs.Rotation) == 0 {
		cs.Rotation = []float64{1, 0, 0, 0, 1, 0, 0, 0, 1}
	}
	if len(cs.Rotation) != 9 {
		return errors.Errorf("rotation must have 9 entries, got %d", len(cs.Rotation))
	}
	if len(cs.TranslationMM) == 0 {
		cs.TranslationMM = []float64{0, 0, 0}
	}
	if len(cs.TranslationMM) != 3 {
		return errors.Errorf("translation must have 3 entries, got %d", len(cs.TranslationMM))
	}

	r := mat.NewDense(3, 3, append([]float64(nil), cs.Rotation...))
	if det := mat.Det(r); math.Abs(det-1) > orthonormalTolerance {
		return errors.Errorf("rotation determinant %.6f is not 1", det)
	}
	var rrt mat.Dense
	rrt.Mul(r, r.T())
	if !mat.EqualApprox(&rrt, eye3(), orthonormalTolerance) {
		return errors.New("rotation matrix is not orthonormal")
	}

	copy(cs.rot[:], cs.Rotation)
	cs.trans = r3.Vector{X: cs.TranslationMM[0], Y: cs.TranslationMM[1], Z: cs.TranslationMM[2]}
	return nil
}

func eye3() *mat.Dense {
	return mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
}

func (cs *CameraSystem) DepthDescription() types.FrameDescription {
	return types.FrameDescription{Width: cs.Depth.Width, Height: cs.Depth.Height, BytesPerPixel: types.DepthBytesPerPixel}
}

func (cs *CameraSystem) ColorDescription() types.FrameDescription {
	return types.FrameDescription{Width: cs.Color.Width, Height: cs.Color.Height, BytesPerPixel: types.ColorBytesPerPixel}
}

// DepthToColorPoint transforms a depth-camera point into color camera space.
func (cs *CameraSystem) DepthToColorPoint(p r3.Vector) r3.Vector {
	return r3.Vector{
		X: cs.rot[0]*p.X + cs.rot[1]*p.Y + cs.rot[2]*p.Z + cs.trans.X,
		Y: cs.rot[3]*p.X + cs.rot[4]*p.Y + cs.rot[5]*p.Z + cs.trans.Y,
		Z: cs.rot[6]*p.X + cs.rot[7]*p.Y + cs.rot[8]*p.Z + cs.trans.Z,
	}
}

// ProjectDepthPixel returns the color pixel seen at depth pixel (x, y) with
// depth d millimeters, and the distance along the color camera axis.
func (cs *CameraSystem) ProjectDepthPixel(x, y int, d uint16) (u, v, zc float64, ok bool) {
	if d == 0 {
		return 0, 0, 0, false
	}
	p := cs.DepthToColorPoint(cs.Depth.PixelToPoint(float64(x), float64(y), float64(d)))
	u, v, ok = cs.Color.PointToPixel(p)
	if !ok {
		return 0, 0, 0, false
	}
	return u, v, p.Z, true
}

// MapDepthFrameToColorSpace writes one color-space coordinate per depth
// pixel. Pixels with no depth or landing outside the color image get the
// unmapped sentinel.
func (cs *CameraSystem) MapDepthFrameToColorSpace(depth []uint16, out []types.SpacePoint) error {
	n := cs.Depth.Width * cs.Depth.Height
	if len(depth) != n || len(out) != n {
		return fmt.Errorf("depth to color: expected %d entries, got depth=%d out=%d", n, len(depth), len(out))
	}
	w := cs.Depth.Width
	for i, d := range depth {
		u, v, _, ok := cs.ProjectDepthPixel(i%w, i/w, d)
		if !ok || !cs.Color.Contains(u, v) {
			out[i] = types.UnmappedSpacePoint
			continue
		}
		out[i] = types.SpacePoint{X: float32(u), Y: float32(v)}
	}
	return nil
}

// MapColorFrameToDepthSpace writes one depth-space coordinate per color
// pixel, reading little-endian depth samples straight from rawDepth. Each
// depth pixel is splatted over its footprint in color space; where surfaces
// overlap the nearest one wins.
func (cs *CameraSystem) MapColorFrameToDepthSpace(rawDepth []byte, out []types.SpacePoint) error {
	depthPixels := cs.Depth.Width * cs.Depth.Height
	colorPixels := cs.Color.Width * cs.Color.Height
	if len(rawDepth) != depthPixels*types.DepthBytesPerPixel {
		return fmt.Errorf("color to depth: expected %d depth bytes, got %d", depthPixels*types.DepthBytesPerPixel, len(rawDepth))
	}
	if len(out) != colorPixels {
		return fmt.Errorf("color to depth: expected %d entries, got %d", colorPixels, len(out))
	}

	zbuf := make([]float32, colorPixels)
	for i := range out {
		out[i] = types.UnmappedSpacePoint
		zbuf[i] = float32(math.Inf(1))
	}

	// Half extent of one depth pixel in color pixels at equal distance; a
	// small margin closes seams between neighbours.
	scaleX := 0.5 * cs.Color.Fx / cs.Depth.Fx * 1.05
	scaleY := 0.5 * cs.Color.Fy / cs.Depth.Fy * 1.05

	w := cs.Depth.Width
	cw, ch := cs.Color.Width, cs.Color.Height
	for i := 0; i < depthPixels; i++ {
		d := binary.LittleEndian.Uint16(rawDepth[i*2 : i*2+2])
		x, y := i%w, i/w
		u, v, zc, ok := cs.ProjectDepthPixel(x, y, d)
		if !ok {
			continue
		}
		ratio := float64(d) / zc
		hx, hy := scaleX*ratio, scaleY*ratio
		x0 := max(int(math.Ceil(u-hx)), 0)
		x1 := min(int(math.Floor(u+hx)), cw-1)
		y0 := max(int(math.Ceil(v-hy)), 0)
		y1 := min(int(math.Floor(v+hy)), ch-1)
		if x0 > x1 || y0 > y1 {
			continue
		}
		z := float32(zc)
		for cy := y0; cy <= y1; cy++ {
			row := cy * cw
			for cx := x0; cx <= x1; cx++ {
				idx := row + cx
				if z >= zbuf[idx] {
					continue
				}
				zbuf[idx] = z
				out[idx] = types.SpacePoint{X: float32(x), Y: float32(y)}
			}
		}
	}
	return nil
}
