package loss

import (
	"image"
	"math"

	"go.viam.com/rdk/utils"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// BerHuThreshold is the fraction of the largest residual where berHu switches from L1 to L2.
const BerHuThreshold = 0.2

// BerHu is the reverse Huber loss averaged over all valid pixels of the batch. The switch
// point c is BerHuThreshold times the largest residual of the batch and is held constant
// when differentiating.
func BerHu(pred, gt []*mat.Dense) (Result, error) {
	if err := checkPairs(pred, gt); err != nil {
		return Result{}, err
	}

	residuals := make([][]float64, len(pred))
	valid := make([][]bool, len(pred))
	numValid := 0
	maxResidual := 0.0
	for idx := range pred {
		rows, cols := pred[idx].Dims()
		p, g := pred[idx].RawMatrix(), gt[idx].RawMatrix()
		r := make([]float64, rows*cols)
		ok := make([]bool, rows*cols)
		utils.ParallelForEachPixel(image.Point{X: cols, Y: rows}, func(x, y int) {
			gv := g.Data[y*g.Stride+x]
			if gv == 0 {
				return
			}
			ok[y*cols+x] = true
			r[y*cols+x] = p.Data[y*p.Stride+x] - gv
		})

		for k, v := range r {
			if !ok[k] {
				continue
			}
			numValid++
			// a NaN prediction poisons the batch maximum instead of being skipped
			if a := math.Abs(v); a > maxResidual || math.IsNaN(a) {
				maxResidual = a
			}
		}
		residuals[idx] = r
		valid[idx] = ok
	}

	c := BerHuThreshold * maxResidual
	res := Result{Grads: make([]*mat.Dense, len(pred))}
	total := 0.0
	for idx, r := range residuals {
		rows, cols := pred[idx].Dims()
		ok := valid[idx]
		values := make([]float64, len(r))
		grad := make([]float64, len(r))
		utils.ParallelForEachPixel(image.Point{X: cols, Y: rows}, func(x, y int) {
			k := y*cols + x
			if !ok[k] {
				return
			}
			d := r[k]
			a := math.Abs(d)
			if a <= c {
				values[k] = a
				grad[k] = sign(d)
				return
			}
			values[k] = (a*a + c*c) / (2 * c)
			grad[k] = d / c
		})
		total += floats.Sum(values)

		if numValid > 0 {
			floats.Scale(1/float64(numValid), grad)
		}
		res.Grads[idx] = mat.NewDense(rows, cols, grad)
	}

	if numValid > 0 {
		res.Value = total / float64(numValid)
	}
	return res, nil
}
