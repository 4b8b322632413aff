// Package loss implements the depth losses used to train the refinement network: a
// berHu regression loss, a spatial gradient loss and the occlusion-aware ordering loss.
//
// Every loss works on a batch of plane-depth grids and returns its value together with
// the gradient of that value with respect to each predicted grid. Ground truth equal to
// zero is invalid and never contributes.
package loss

import (
	"errors"
	"fmt"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// ErrShapeMismatch is returned when grids that must line up pixel for pixel do not.
var ErrShapeMismatch = errors.New("shape mismatch")

// Result is a loss value and its gradient with respect to each prediction in the batch.
type Result struct {
	Value float64
	Grads []*mat.Dense
}

// NumNeighbors is the number of pixel-pair order channels of a label.
const NumNeighbors = 8

// neighbors lists the (row, col) offsets in label channel order:
// top-left, top, top-right, left, right, bottom-left, bottom, bottom-right.
// Neighbor k and neighbor NumNeighbors-1-k point in opposite directions.
var neighbors = [NumNeighbors][2]int{
	{-1, -1}, {-1, 0}, {-1, 1},
	{0, -1}, {0, 1},
	{1, -1}, {1, 0}, {1, 1},
}

// Labels is a channel-last occlusion-orientation label, the layout of the .npy files.
// With 9 channels, channel 0 is the occlusion-edge indicator and channels 1-8 hold the
// order with each neighbor. With 8 channels there is no indicator and the edge is derived
// from the orders. An order > 0 means the pixel occludes that neighbor.
type Labels struct {
	Rows, Cols, Channels int
	Data                 []float64
}

// NewLabels returns an all-zero label grid.
func NewLabels(rows, cols, channels int) *Labels {
	return &Labels{Rows: rows, Cols: cols, Channels: channels, Data: make([]float64, rows*cols*channels)}
}

// Validate checks the channel count and the data length.
func (l *Labels) Validate() error {
	if l.Channels != NumNeighbors && l.Channels != NumNeighbors+1 {
		return fmt.Errorf("labels need %d or %d channels, got %d", NumNeighbors, NumNeighbors+1, l.Channels)
	}
	if len(l.Data) != l.Rows*l.Cols*l.Channels {
		return fmt.Errorf("%w: labels %dx%dx%d hold %d values", ErrShapeMismatch, l.Rows, l.Cols, l.Channels, len(l.Data))
	}
	return nil
}

// At returns channel c of pixel (i, j).
func (l *Labels) At(i, j, c int) float64 {
	return l.Data[(i*l.Cols+j)*l.Channels+c]
}

// Set sets channel c of pixel (i, j).
func (l *Labels) Set(i, j, c int, v float64) {
	l.Data[(i*l.Cols+j)*l.Channels+c] = v
}

// Order returns the occlusion order of pixel (i, j) with neighbor k.
func (l *Labels) Order(i, j, k int) float64 {
	return l.At(i, j, l.Channels-NumNeighbors+k)
}

// SetOrder sets the occlusion order of pixel (i, j) with neighbor k.
func (l *Labels) SetOrder(i, j, k int, v float64) {
	l.Set(i, j, l.Channels-NumNeighbors+k, v)
}

// IsEdge reports whether pixel (i, j) is on an occlusion boundary.
func (l *Labels) IsEdge(i, j int, threshold float64) bool {
	if l.Channels > NumNeighbors {
		return l.At(i, j, 0) >= threshold
	}
	for k := 0; k < NumNeighbors; k++ {
		o := l.Order(i, j, k)
		if o >= threshold || -o >= threshold {
			return true
		}
	}
	return false
}

// Channel copies one channel out as a grid.
func (l *Labels) Channel(c int) *mat.Dense {
	m := mat.NewDense(l.Rows, l.Cols, nil)
	for i := 0; i < l.Rows; i++ {
		for j := 0; j < l.Cols; j++ {
			m.Set(i, j, l.At(i, j, c))
		}
	}
	return m
}

// Normals is a row-major grid of unit surface normals in camera coordinates.
type Normals struct {
	Rows, Cols int
	Data       []r3.Vector
}

// NewNormals returns a grid of zero vectors.
func NewNormals(rows, cols int) *Normals {
	return &Normals{Rows: rows, Cols: cols, Data: make([]r3.Vector, rows*cols)}
}

// At returns the normal at pixel (i, j).
func (n *Normals) At(i, j int) r3.Vector {
	return n.Data[i*n.Cols+j]
}

// Set sets the normal at pixel (i, j).
func (n *Normals) Set(i, j int, v r3.Vector) {
	n.Data[i*n.Cols+j] = v
}

func checkPairs(pred, gt []*mat.Dense) error {
	if len(pred) != len(gt) {
		return fmt.Errorf("%w: %d predictions, %d ground truths", ErrShapeMismatch, len(pred), len(gt))
	}
	for idx := range pred {
		pr, pc := pred[idx].Dims()
		gr, gc := gt[idx].Dims()
		if pr != gr || pc != gc {
			return fmt.Errorf("%w: sample %d prediction %dx%d, ground truth %dx%d", ErrShapeMismatch, idx, pc, pr, gc, gr)
		}
	}
	return nil
}

func sign(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}
