// Package refine defines the boundary to the depth refinement network. The network itself
// lives elsewhere; anything that maps occlusion labels and a coarse depth to a refined depth
// of the same size can be plugged in.
package refine

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/erh/occdepth/loss"
)

// Refiner turns a coarse depth prediction into a refined one.
type Refiner interface {
	Refine(occ *loss.Labels, coarse *mat.Dense) (*mat.Dense, error)
}

// Func adapts a function to a Refiner.
type Func func(occ *loss.Labels, coarse *mat.Dense) (*mat.Dense, error)

// Refine calls f and checks the output has the input's shape.
func (f Func) Refine(occ *loss.Labels, coarse *mat.Dense) (*mat.Dense, error) {
	out, err := f(occ, coarse)
	if err != nil {
		return nil, err
	}
	r, c := coarse.Dims()
	if or, oc := out.Dims(); or != r || oc != c {
		return nil, fmt.Errorf("%w: refined depth is %dx%d, coarse is %dx%d", loss.ErrShapeMismatch, oc, or, c, r)
	}
	return out, nil
}

// Identity returns the coarse depth unchanged, the baseline every refiner is compared to.
var Identity Refiner = Func(func(_ *loss.Labels, coarse *mat.Dense) (*mat.Dense, error) {
	return mat.DenseCopyOf(coarse), nil
})
