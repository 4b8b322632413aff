package loss

import (
	"fmt"
	"image"
	"math"

	"github.com/golang/geo/r3"
	"go.viam.com/rdk/utils"
	"gonum.org/v1/gonum/mat"

	"github.com/erh/occdepth/geometry"
)

// DefaultMargin is the smallest depth step, in meters, expected across an occlusion boundary.
const DefaultMargin = 15. / 1000

// minIncidence is the smallest |n . ray| for which the tangent plane intersection is trusted.
const minIncidence = 1e-6

// OcclusionParams configures the occlusion-aware ordering loss.
type OcclusionParams struct {
	// Linear uses Margin as the expected depth step instead of the step derived from the
	// foreground surface normal.
	Linear bool
	Margin float64
	Scale  float64
	// EdgeThreshold is the minimum edge indicator for a pixel to be on a boundary.
	EdgeThreshold float64
	// MaxGap caps the geometric depth step.
	MaxGap float64
}

// DefaultOcclusionParams returns the non-linear loss with a 15mm margin.
func DefaultOcclusionParams() OcclusionParams {
	return OcclusionParams{
		Margin:        DefaultMargin,
		Scale:         1,
		EdgeThreshold: 0.5,
		MaxGap:        1,
	}
}

// Validate rejects parameters that would make the loss meaningless.
func (p OcclusionParams) Validate() error {
	if p.Margin < 0 || math.IsNaN(p.Margin) {
		return fmt.Errorf("margin must be >= 0, got %v", p.Margin)
	}
	if p.Scale < 0 || math.IsNaN(p.Scale) {
		return fmt.Errorf("scale must be >= 0, got %v", p.Scale)
	}
	if !(p.EdgeThreshold > 0) {
		return fmt.Errorf("edge threshold must be > 0, got %v", p.EdgeThreshold)
	}
	if !p.Linear && !(p.MaxGap >= p.Margin) {
		return fmt.Errorf("max gap %v is below the margin %v", p.MaxGap, p.Margin)
	}
	return nil
}

// pixelTerms is what one boundary pixel contributes.
type pixelTerms struct {
	edge  bool
	value float64
	// dFg is the derivative with respect to this pixel's own depth, dBg[k] with respect
	// to the depth of neighbor k.
	dFg float64
	dBg [NumNeighbors]float64
}

// Occlusion penalizes predictions where a labeled foreground pixel is not at least the
// expected step closer to the camera than the background neighbor it occludes. Distances
// are compared along the viewing rays, using gamma to go from plane-depth to ray-depth.
//
// The value is Scale times the mean, over every occlusion-edge pixel of the batch that is
// not on the image border, of the order-weighted mean hinge violation of that pixel's
// foreground/background pairs. Labels, normals and gamma are constants for the gradient.
func Occlusion(pred []*mat.Dense, labels []*Labels, normals []*Normals, gamma *geometry.Gamma, p OcclusionParams) (Result, error) {
	if err := checkOcclusionInputs(pred, labels, normals, gamma, p); err != nil {
		return Result{}, err
	}

	terms := make([][]pixelTerms, len(pred))
	numEdges := 0
	total := 0.0
	for idx := range pred {
		var n *Normals
		if !p.Linear {
			n = normals[idx]
		}
		terms[idx] = occlusionTerms(pred[idx], labels[idx], n, gamma, p)
		for _, t := range terms[idx] {
			if t.edge {
				numEdges++
				total += t.value
			}
		}
	}

	res := Result{Grads: make([]*mat.Dense, len(pred))}
	norm := 0.0
	if numEdges > 0 {
		res.Value = p.Scale * total / float64(numEdges)
		norm = p.Scale / float64(numEdges)
	}

	for idx, ts := range terms {
		rows, cols := pred[idx].Dims()
		grad := make([]float64, rows*cols)
		utils.ParallelForEachPixel(image.Point{X: cols, Y: rows}, func(x, y int) {
			s := ts[y*cols+x].dFg
			for k, off := range neighbors {
				ni, nj := y+off[0], x+off[1]
				if ni < 0 || nj < 0 || ni >= rows || nj >= cols {
					continue
				}
				// neighbor (ni, nj) sees this pixel in the opposite direction
				s += ts[ni*cols+nj].dBg[NumNeighbors-1-k]
			}
			grad[y*cols+x] = s * norm
		})
		res.Grads[idx] = mat.NewDense(rows, cols, grad)
	}

	return res, nil
}

func checkOcclusionInputs(pred []*mat.Dense, labels []*Labels, normals []*Normals, gamma *geometry.Gamma, p OcclusionParams) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if gamma == nil {
		return fmt.Errorf("no gamma matrix")
	}
	if len(labels) != len(pred) {
		return fmt.Errorf("%w: %d predictions, %d labels", ErrShapeMismatch, len(pred), len(labels))
	}
	if !p.Linear && len(normals) != len(pred) {
		return fmt.Errorf("%w: %d predictions, %d normal maps", ErrShapeMismatch, len(pred), len(normals))
	}

	gr, gc := gamma.Dims()
	for idx := range pred {
		rows, cols := pred[idx].Dims()
		if rows != gr || cols != gc {
			return fmt.Errorf("%w: sample %d prediction %dx%d, gamma %dx%d", ErrShapeMismatch, idx, cols, rows, gc, gr)
		}
		l := labels[idx]
		if err := l.Validate(); err != nil {
			return fmt.Errorf("sample %d: %w", idx, err)
		}
		if l.Rows != rows || l.Cols != cols {
			return fmt.Errorf("%w: sample %d prediction %dx%d, labels %dx%d", ErrShapeMismatch, idx, cols, rows, l.Cols, l.Rows)
		}
		if p.Linear {
			continue
		}
		n := normals[idx]
		if n.Rows != rows || n.Cols != cols || len(n.Data) != rows*cols {
			return fmt.Errorf("%w: sample %d prediction %dx%d, normals %dx%d", ErrShapeMismatch, idx, cols, rows, n.Cols, n.Rows)
		}
	}
	return nil
}

// occlusionTerms evaluates every pixel of one sample. normals is nil in linear mode.
func occlusionTerms(pred *mat.Dense, labels *Labels, normals *Normals, gamma *geometry.Gamma, p OcclusionParams) []pixelTerms {
	rows, cols := pred.Dims()
	d := pred.RawMatrix()
	out := make([]pixelTerms, rows*cols)

	utils.ParallelForEachPixel(image.Point{X: cols, Y: rows}, func(x, y int) {
		if x == 0 || y == 0 || x == cols-1 || y == rows-1 {
			return
		}
		if !labels.IsEdge(y, x, p.EdgeThreshold) {
			return
		}

		t := &out[y*cols+x]
		t.edge = true

		gFg := gamma.At(y, x)
		rFg := d.Data[y*d.Stride+x] * gFg

		sumW := 0.0
		for k, off := range neighbors {
			w := labels.Order(y, x, k)
			if !(w > 0) {
				continue
			}
			sumW += w

			qi, qj := y+off[0], x+off[1]
			gBg := gamma.At(qi, qj)
			rBg := d.Data[qi*d.Stride+qj] * gBg

			expected, dExpected := p.Margin, 0.0
			if normals != nil {
				expected, dExpected = geometricStep(gamma, normals.At(y, x), y, x, qi, qj, rFg, gFg, p)
			}

			v := rFg + expected - rBg
			if v <= 0 {
				continue
			}
			t.value += w * v
			t.dFg += w * (gFg + dExpected)
			t.dBg[k] = -w * gBg
		}

		if sumW == 0 {
			return
		}
		t.value /= sumW
		t.dFg /= sumW
		for k := range t.dBg {
			t.dBg[k] /= sumW
		}
	})

	return out
}

// geometricStep extends the foreground surface as a plane through the foreground point and
// returns how much further along the background ray that plane is hit, clamped to
// [Margin, MaxGap], together with its derivative with respect to the foreground plane-depth.
// Grazing or inconsistent geometry falls back to the margin.
func geometricStep(gamma *geometry.Gamma, n r3.Vector, fi, fj, bi, bj int, rFg, gFg float64, p OcclusionParams) (float64, float64) {
	if n.Norm2() == 0 {
		return p.Margin, 0
	}
	a := n.Dot(gamma.Ray(fi, fj))
	b := n.Dot(gamma.Ray(bi, bj))
	if math.Abs(b) < minIncidence {
		return p.Margin, 0
	}
	ratio := a / b
	if !(ratio > 0) || math.IsInf(ratio, 0) {
		return p.Margin, 0
	}

	step := rFg*ratio - rFg
	switch {
	case math.IsNaN(step) || step <= p.Margin:
		return p.Margin, 0
	case step >= p.MaxGap:
		return p.MaxGap, 0
	default:
		return step, (ratio - 1) * gFg
	}
}
