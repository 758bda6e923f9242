// Package geometry implements the sensor geometry service: pinhole models
// for the depth and color cameras plus the rigid transform between them.
package geometry

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// ErrNoIntrinsics is returned when a camera has no usable intrinsics.
var ErrNoIntrinsics = errors.New("camera intrinsic parameters are not available")

func newNoIntrinsicsError(msg string) error {
	return errors.Wrap(ErrNoIntrinsics, msg)
}

// PinholeIntrinsics holds the parameters of a perspective projection.
type PinholeIntrinsics struct {
	Width  int     `json:"width_px"`
	Height int     `json:"height_px"`
	Fx     float64 `json:"fx"`
	Fy     float64 `json:"fy"`
	Ppx    float64 `json:"ppx"`
	Ppy    float64 `json:"ppy"`
}

func (params *PinholeIntrinsics) CheckValid() error {
	if params == nil {
		return newNoIntrinsicsError("intrinsics do not exist")
	}
	if params.Width <= 0 || params.Height <= 0 {
		return newNoIntrinsicsError(fmt.Sprintf("invalid size (%d, %d)", params.Width, params.Height))
	}
	if params.Fx <= 0 {
		return newNoIntrinsicsError(fmt.Sprintf("invalid focal length Fx = %v", params.Fx))
	}
	if params.Fy <= 0 {
		return newNoIntrinsicsError(fmt.Sprintf("invalid focal length Fy = %v", params.Fy))
	}
	if params.Ppx < 0 || params.Ppy < 0 {
		return newNoIntrinsicsError(fmt.Sprintf("invalid principal point (%v, %v)", params.Ppx, params.Ppy))
	}
	return nil
}

// PixelToPoint back-projects pixel (x, y) at depth z into camera space.
func (params *PinholeIntrinsics) PixelToPoint(x, y, z float64) r3.Vector {
	return r3.Vector{
		X: (x - params.Ppx) / params.Fx * z,
		Y: (y - params.Ppy) / params.Fy * z,
		Z: z,
	}
}

// PointToPixel projects a camera-space point onto the image plane. ok is
// false for points on or behind the camera.
func (params *PinholeIntrinsics) PointToPixel(p r3.Vector) (float64, float64, bool) {
	if p.Z <= 0 {
		return -1, -1, false
	}
	return (p.X/p.Z)*params.Fx + params.Ppx, (p.Y/p.Z)*params.Fy + params.Ppy, true
}

// Contains reports whether continuous pixel coordinates fall on the image.
func (params *PinholeIntrinsics) Contains(x, y float64) bool {
	if math.IsNaN(x) || math.IsNaN(y) {
		return false
	}
	return x >= 0 && y >= 0 && x < float64(params.Width) && y < float64(params.Height)
}
