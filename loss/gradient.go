package loss

import (
	"image"
	"math"

	"go.viam.com/rdk/utils"
	"gonum.org/v1/gonum/mat"
)

// SpatialGradient compares forward differences of prediction and ground truth, horizontally
// and vertically, wherever both ground truth pixels of a difference are valid. The value is
// the mean absolute mismatch over all such pairs of the batch.
func SpatialGradient(pred, gt []*mat.Dense) (Result, error) {
	if err := checkPairs(pred, gt); err != nil {
		return Result{}, err
	}

	type diffs struct {
		rows, cols int
		// sign of the mismatch of the pair starting at a pixel, 0 when the pair is invalid
		h, v []float64
	}

	all := make([]diffs, len(pred))
	total := 0.0
	numPairs := 0
	for idx := range pred {
		rows, cols := pred[idx].Dims()
		p, g := pred[idx].RawMatrix(), gt[idx].RawMatrix()
		d := diffs{rows: rows, cols: cols, h: make([]float64, rows*cols), v: make([]float64, rows*cols)}
		absH := make([]float64, rows*cols)
		absV := make([]float64, rows*cols)
		validH := make([]bool, rows*cols)
		validV := make([]bool, rows*cols)

		utils.ParallelForEachPixel(image.Point{X: cols, Y: rows}, func(x, y int) {
			k := y*cols + x
			gv := g.Data[y*g.Stride+x]
			pv := p.Data[y*p.Stride+x]
			if gv == 0 {
				return
			}
			if x+1 < cols {
				if gn := g.Data[y*g.Stride+x+1]; gn != 0 {
					e := (p.Data[y*p.Stride+x+1] - pv) - (gn - gv)
					d.h[k] = sign(e)
					absH[k] = math.Abs(e)
					validH[k] = true
				}
			}
			if y+1 < rows {
				if gn := g.Data[(y+1)*g.Stride+x]; gn != 0 {
					e := (p.Data[(y+1)*p.Stride+x] - pv) - (gn - gv)
					d.v[k] = sign(e)
					absV[k] = math.Abs(e)
					validV[k] = true
				}
			}
		})

		for k := range absH {
			if validH[k] {
				total += absH[k]
				numPairs++
			}
			if validV[k] {
				total += absV[k]
				numPairs++
			}
		}
		all[idx] = d
	}

	res := Result{Grads: make([]*mat.Dense, len(pred))}
	norm := 0.0
	if numPairs > 0 {
		res.Value = total / float64(numPairs)
		norm = 1 / float64(numPairs)
	}

	for idx, d := range all {
		grad := make([]float64, d.rows*d.cols)
		cols := d.cols
		// each pixel gathers from the pairs it belongs to
		utils.ParallelForEachPixel(image.Point{X: cols, Y: d.rows}, func(x, y int) {
			k := y*cols + x
			s := -d.h[k] - d.v[k]
			if x > 0 {
				s += d.h[k-1]
			}
			if y > 0 {
				s += d.v[k-cols]
			}
			grad[k] = s * norm
		})
		res.Grads[idx] = mat.NewDense(d.rows, cols, grad)
	}

	return res, nil
}

