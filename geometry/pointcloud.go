package geometry

import (
	"fmt"
	"image"
	"image/color"

	"github.com/golang/geo/r3"
	"go.viam.com/rdk/pointcloud"
	"gonum.org/v1/gonum/mat"
)

// ToPointCloud back-projects a plane-depth grid in meters into camera coordinates in
// millimeters. Invalid pixels are skipped. If rgb is not nil it must have the grid's size and
// colors the points.
func (g *Gamma) ToPointCloud(plane *mat.Dense, rgb image.Image) (pointcloud.PointCloud, error) {
	h, w := g.Dims()
	if r, c := plane.Dims(); r != h || c != w {
		return nil, fmt.Errorf("depth is %dx%d but camera is %dx%d", c, r, w, h)
	}
	if rgb != nil {
		if b := rgb.Bounds(); b.Dx() != w || b.Dy() != h {
			return nil, fmt.Errorf("color image is %dx%d but camera is %dx%d", b.Dx(), b.Dy(), w, h)
		}
	}

	pc := pointcloud.NewBasicPointCloud(h * w)
	for i := 0; i < h; i++ {
		for j := 0; j < w; j++ {
			d := plane.At(i, j)
			if d <= 0 {
				continue
			}
			p := r3.Vector{X: g.tx[j], Y: g.ty[i], Z: 1}.Mul(d * 1000)

			var data pointcloud.Data
			if rgb != nil {
				b := rgb.Bounds()
				c := color.NRGBAModel.Convert(rgb.At(b.Min.X+j, b.Min.Y+i)).(color.NRGBA)
				data = pointcloud.NewColoredData(c)
			}
			if err := pc.Set(p, data); err != nil {
				return nil, err
			}
		}
	}
	return pc, nil
}
