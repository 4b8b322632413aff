package dataset

import (
	"fmt"

	"github.com/pkg/errors"
	"go.viam.com/rdk/rimage"
	"gonum.org/v1/gonum/mat"

	"github.com/erh/occdepth/imgutils"
	"github.com/erh/occdepth/loss"
	"github.com/erh/occdepth/refine"
)

// Sample is everything needed to evaluate the losses on one image.
type Sample struct {
	Entry   Entry
	DepthGT *mat.Dense
	Coarse  *mat.Dense
	Labels  *loss.Labels
	Normals *loss.Normals
}

// ReadDepthImage reads a 16-bit millimeter depth PNG as meters.
func ReadDepthImage(fn string) (*mat.Dense, error) {
	img, err := rimage.ReadImageFromFile(fn)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read depth %s", fn)
	}
	return imgutils.DepthFromImage(img, imgutils.Millimeters), nil
}

// ReadNormals reads a 16-bit RGB normal map.
func ReadNormals(fn string) (*loss.Normals, error) {
	img, err := rimage.ReadImageFromFile(fn)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read normals %s", fn)
	}
	rows, cols, data := imgutils.NormalsFromImage(img)
	return &loss.Normals{Rows: rows, Cols: cols, Data: data}, nil
}

// Load reads every file of a sample and checks they line up.
func Load(root string, layout Layout, e Entry) (*Sample, error) {
	s := &Sample{Entry: e}
	var err error

	if s.DepthGT, err = ReadDepthImage(layout.DepthPlanePath(root, e)); err != nil {
		return nil, err
	}
	if s.Normals, err = ReadNormals(layout.NormalPath(root, e)); err != nil {
		return nil, err
	}
	if s.Coarse, err = ReadDepthNpy(layout.PredPath(root, e)); err != nil {
		return nil, err
	}
	if s.Labels, err = ReadLabels(layout.LabelPath(root, e)); err != nil {
		return nil, err
	}

	return s, s.Validate()
}

// Validate checks that all grids of the sample have the same size.
func (s *Sample) Validate() error {
	rows, cols := s.DepthGT.Dims()
	if r, c := s.Coarse.Dims(); r != rows || c != cols {
		return fmt.Errorf("%w: %v depth %dx%d, prediction %dx%d", loss.ErrShapeMismatch, s.Entry, cols, rows, c, r)
	}
	if s.Labels.Rows != rows || s.Labels.Cols != cols {
		return fmt.Errorf("%w: %v depth %dx%d, labels %dx%d", loss.ErrShapeMismatch, s.Entry, cols, rows, s.Labels.Cols, s.Labels.Rows)
	}
	if s.Normals.Rows != rows || s.Normals.Cols != cols {
		return fmt.Errorf("%w: %v depth %dx%d, normals %dx%d", loss.ErrShapeMismatch, s.Entry, cols, rows, s.Normals.Cols, s.Normals.Rows)
	}
	return nil
}

// MakeBatch runs the refiner on every sample and lines the results up for the losses.
func MakeBatch(samples []*Sample, r refine.Refiner) (loss.Batch, error) {
	b := loss.Batch{}
	for _, s := range samples {
		pred, err := r.Refine(s.Labels, s.Coarse)
		if err != nil {
			return loss.Batch{}, errors.Wrapf(err, "cannot refine %v", s.Entry)
		}
		b.Pred = append(b.Pred, pred)
		b.GT = append(b.GT, s.DepthGT)
		b.Labels = append(b.Labels, s.Labels)
		b.Normals = append(b.Normals, s.Normals)
	}
	return b, nil
}
