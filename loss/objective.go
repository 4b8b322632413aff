package loss

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/erh/occdepth/geometry"
)

// Batch is a set of aligned samples a loss is evaluated on.
type Batch struct {
	Pred    []*mat.Dense
	GT      []*mat.Dense
	Labels  []*Labels
	Normals []*Normals
}

// Terms are the individual parts of the training objective, unweighted, plus the weighted total.
type Terms struct {
	BerHu     float64
	Gradient  float64
	Occlusion float64
	Total     float64
}

func (t Terms) String() string {
	return fmt.Sprintf("berhu: %0.4f gradient: %0.4f occlusion: %0.4f total: %0.4f", t.BerHu, t.Gradient, t.Occlusion, t.Total)
}

// Objective is the training loss: AlphaDepth * (berHu + gradient) + AlphaOcc * occlusion.
type Objective struct {
	AlphaDepth float64
	AlphaOcc   float64
	Occlusion  OcclusionParams
	Gamma      *geometry.Gamma
}

// Evaluate returns the terms and the gradient of the total with respect to each prediction.
func (o *Objective) Evaluate(b Batch) (Terms, []*mat.Dense, error) {
	berhu, err := BerHu(b.Pred, b.GT)
	if err != nil {
		return Terms{}, nil, err
	}
	grad, err := SpatialGradient(b.Pred, b.GT)
	if err != nil {
		return Terms{}, nil, err
	}
	occ, err := Occlusion(b.Pred, b.Labels, b.Normals, o.Gamma, o.Occlusion)
	if err != nil {
		return Terms{}, nil, err
	}

	t := Terms{BerHu: berhu.Value, Gradient: grad.Value, Occlusion: occ.Value}
	t.Total = o.AlphaDepth*(t.BerHu+t.Gradient) + o.AlphaOcc*t.Occlusion

	grads := make([]*mat.Dense, len(b.Pred))
	for idx := range b.Pred {
		var depth, g mat.Dense
		depth.Add(berhu.Grads[idx], grad.Grads[idx])
		depth.Scale(o.AlphaDepth, &depth)
		g.Scale(o.AlphaOcc, occ.Grads[idx])
		g.Add(&g, &depth)
		grads[idx] = &g
	}

	return t, grads, nil
}
