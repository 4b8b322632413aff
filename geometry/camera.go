// Package geometry converts between ray-depth and plane-depth and builds the per-pixel
// gamma factors used by the occlusion loss.
package geometry

import (
	"errors"
	"fmt"
	"math"

	"go.viam.com/rdk/rimage/transform"
)

// ErrInvalidCamera is returned for zero or negative focal lengths or image sizes.
var ErrInvalidCamera = errors.New("invalid camera")

// MaxRayOffset bounds the tangent offset of a viewing ray. It only matters for
// fields of view close to 180 degrees where the cotangent blows up.
const MaxRayOffset = 1e6

// Projection selects how pixel positions map to viewing rays.
type Projection int

const (
	// Angular interpolates the viewing angle linearly across the field of view.
	// This is how the InteriorNet ray-depth images were converted.
	Angular Projection = iota
	// Pinhole uses the pixel offset from the principal point divided by the focal length.
	Pinhole
)

func (p Projection) String() string {
	switch p {
	case Angular:
		return "angular"
	case Pinhole:
		return "pinhole"
	default:
		return fmt.Sprintf("projection(%d)", int(p))
	}
}

// ParseProjection is the inverse of Projection.String.
func ParseProjection(s string) (Projection, error) {
	switch s {
	case "angular", "":
		return Angular, nil
	case "pinhole":
		return Pinhole, nil
	default:
		return 0, fmt.Errorf("unknown projection %q", s)
	}
}

// Camera is a set of intrinsics plus the projection model used to derive rays.
type Camera struct {
	Intrinsics transform.PinholeCameraIntrinsics
	Model      Projection
}

// NewCamera returns an angular camera with the principal point at the image center.
func NewCamera(width, height int, fx, fy float64) Camera {
	return Camera{
		Intrinsics: transform.PinholeCameraIntrinsics{
			Width:  width,
			Height: height,
			Fx:     fx,
			Fy:     fy,
			Ppx:    float64(width) / 2,
			Ppy:    float64(height) / 2,
		},
		Model: Angular,
	}
}

// WithModel returns a copy of the camera using the given projection.
func (c Camera) WithModel(m Projection) Camera {
	c.Model = m
	return c
}

// Validate rejects cameras that would produce NaN or Inf angles.
func (c Camera) Validate() error {
	in := c.Intrinsics
	if err := in.CheckValid(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidCamera, err)
	}
	// CheckValid accepts NaN and Inf focal lengths, and negative sizes once Ppx and Ppy are moved
	if in.Width < 0 || in.Height < 0 {
		return fmt.Errorf("%w: size %dx%d", ErrInvalidCamera, in.Width, in.Height)
	}
	if !(in.Fx > 0) || math.IsInf(in.Fx, 0) {
		return fmt.Errorf("%w: fx = %v", ErrInvalidCamera, in.Fx)
	}
	if !(in.Fy > 0) || math.IsInf(in.Fy, 0) {
		return fmt.Errorf("%w: fy = %v", ErrInvalidCamera, in.Fy)
	}
	if c.Model != Angular && c.Model != Pinhole {
		return fmt.Errorf("%w: %v", ErrInvalidCamera, c.Model)
	}
	return nil
}

// Offsets returns tx for every column and ty for every row, so that the viewing ray of
// pixel (i, j) is parallel to (tx[j], ty[i], 1).
func (c Camera) Offsets() (tx, ty []float64) {
	in := c.Intrinsics
	switch c.Model {
	case Pinhole:
		tx = make([]float64, in.Width)
		for j := range tx {
			tx[j] = clampOffset((float64(j) - in.Ppx) / in.Fx)
		}
		ty = make([]float64, in.Height)
		for i := range ty {
			ty[i] = clampOffset((float64(i) - in.Ppy) / in.Fy)
		}
	default:
		tx = angularOffsets(in.Width, in.Fx)
		ty = angularOffsets(in.Height, in.Fy)
	}
	return tx, ty
}

// angularOffsets returns cot(gamma) where gamma sweeps the field of view linearly,
// starting at (pi+fov)/2 for index 0 and reaching pi/2 at n/2.
func angularOffsets(n int, f float64) []float64 {
	fov := 2 * math.Atan(float64(n)/(2*f))
	alpha := (math.Pi - fov) / 2
	out := make([]float64, n)
	for k := range out {
		g := alpha + fov*float64(n-k)/float64(n)
		out[k] = clampOffset(cot(g))
	}
	return out
}

// cot avoids dividing by tan, which is exactly what degenerates at pi/2.
func cot(a float64) float64 {
	s := math.Sin(a)
	if s == 0 {
		return math.Inf(1)
	}
	return math.Cos(a) / s
}

func clampOffset(v float64) float64 {
	// cos(pi/2) is not exactly zero in floating point
	if math.IsNaN(v) || math.Abs(v) < 1e-12 {
		return 0
	}
	return math.Max(-MaxRayOffset, math.Min(MaxRayOffset, v))
}
