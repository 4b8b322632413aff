package geometry

import (
	"fmt"
	"image"
	"math"

	"go.viam.com/rdk/utils"
	"gonum.org/v1/gonum/mat"

	"github.com/erh/occdepth/imgutils"
)

// PlaneDepth converts a ray-depth grid (distance along each viewing ray) into plane-depth
// (distance along the optical axis). Zero stays zero.
func PlaneDepth(ray *mat.Dense, cam Camera) (*mat.Dense, error) {
	g, err := CachedGamma(cam)
	if err != nil {
		return nil, err
	}
	return g.ToPlane(ray)
}

// ToPlane divides every pixel of a ray-depth grid by its gamma factor.
func (g *Gamma) ToPlane(ray *mat.Dense) (*mat.Dense, error) {
	return g.scale(ray, func(d, f float64) float64 { return d / f })
}

// ToRay multiplies every pixel of a plane-depth grid by its gamma factor.
func (g *Gamma) ToRay(plane *mat.Dense) (*mat.Dense, error) {
	return g.scale(plane, func(d, f float64) float64 { return d * f })
}

func (g *Gamma) scale(in *mat.Dense, op func(d, f float64) float64) (*mat.Dense, error) {
	h, w := g.Dims()
	if r, c := in.Dims(); r != h || c != w {
		return nil, fmt.Errorf("depth is %dx%d but camera is %dx%d", c, r, w, h)
	}

	out := mat.NewDense(h, w, nil)
	src, dst, gr := in.RawMatrix(), out.RawMatrix(), g.values.RawMatrix()
	utils.ParallelForEachPixel(image.Point{X: w, Y: h}, func(x, y int) {
		d := src.Data[y*src.Stride+x]
		f := gr.Data[y*gr.Stride+x]
		if d == 0 || !(f >= 1) || math.IsInf(f, 0) {
			dst.Data[y*dst.Stride+x] = 0
			return
		}
		v := op(d, f)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			v = 0
		}
		dst.Data[y*dst.Stride+x] = v
	})
	return out, nil
}

// PlaneDepthImage converts a 16-bit millimeter ray-depth image into a 16-bit millimeter
// plane-depth image of the same size.
func PlaneDepthImage(img image.Image, cam Camera) (*image.Gray16, error) {
	ray := imgutils.DepthFromImage(img, 1)
	plane, err := PlaneDepth(ray, cam)
	if err != nil {
		return nil, err
	}
	return imgutils.DepthToGray16(plane, 1), nil
}
