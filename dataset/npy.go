package dataset

import (
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/sbinet/npyio"
	"go.viam.com/utils"
	"gonum.org/v1/gonum/mat"

	"github.com/erh/occdepth/loss"
)

// readNpy reads a C-ordered numeric array of any float or integer dtype as float64.
func readNpy(r io.Reader) ([]int, []float64, error) {
	nr, err := npyio.NewReader(r)
	if err != nil {
		return nil, nil, err
	}
	if nr.Header.Descr.Fortran {
		return nil, nil, fmt.Errorf("fortran ordered arrays are not supported")
	}
	shape := nr.Header.Descr.Shape

	var out []float64
	switch dt := nr.Header.Descr.Type; dt {
	case "<f8":
		if err := nr.Read(&out); err != nil {
			return nil, nil, err
		}
	case "<f4":
		var raw []float32
		if err := nr.Read(&raw); err != nil {
			return nil, nil, err
		}
		out = make([]float64, len(raw))
		for idx, v := range raw {
			out[idx] = float64(v)
		}
	case "|i1":
		var raw []int8
		if err := nr.Read(&raw); err != nil {
			return nil, nil, err
		}
		out = make([]float64, len(raw))
		for idx, v := range raw {
			out[idx] = float64(v)
		}
	case "|u1":
		var raw []uint8
		if err := nr.Read(&raw); err != nil {
			return nil, nil, err
		}
		out = make([]float64, len(raw))
		for idx, v := range raw {
			out[idx] = float64(v)
		}
	case "<i8":
		var raw []int64
		if err := nr.Read(&raw); err != nil {
			return nil, nil, err
		}
		out = make([]float64, len(raw))
		for idx, v := range raw {
			out[idx] = float64(v)
		}
	default:
		return nil, nil, fmt.Errorf("unsupported dtype %s", dt)
	}
	return shape, out, nil
}

func readNpyFile(fn string) ([]int, []float64, error) {
	//nolint:gosec
	f, err := os.Open(fn)
	if err != nil {
		return nil, nil, err
	}
	defer utils.UncheckedErrorFunc(f.Close)

	shape, data, err := readNpy(f)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "cannot read %s", fn)
	}
	return shape, data, nil
}

// ReadLabels reads an H x W x C occlusion-orientation label array.
func ReadLabels(fn string) (*loss.Labels, error) {
	shape, data, err := readNpyFile(fn)
	if err != nil {
		return nil, err
	}
	if len(shape) != 3 {
		return nil, fmt.Errorf("%s: labels need 3 dimensions, got shape %v", fn, shape)
	}
	if shape[0] == 0 || shape[1] == 0 {
		return nil, fmt.Errorf("%s: empty labels, shape %v", fn, shape)
	}
	l := &loss.Labels{Rows: shape[0], Cols: shape[1], Channels: shape[2], Data: data}
	if err := l.Validate(); err != nil {
		return nil, errors.Wrap(err, fn)
	}
	return l, nil
}

// ReadDepthNpy reads an H x W depth array in meters. A leading or trailing dimension of 1 is dropped.
func ReadDepthNpy(fn string) (*mat.Dense, error) {
	shape, data, err := readNpyFile(fn)
	if err != nil {
		return nil, err
	}
	dims := []int{}
	for _, s := range shape {
		if s != 1 {
			dims = append(dims, s)
		}
	}
	if len(dims) != 2 {
		return nil, fmt.Errorf("%s: depth needs 2 dimensions, got shape %v", fn, shape)
	}
	if dims[0] == 0 || dims[1] == 0 {
		return nil, fmt.Errorf("%s: empty depth, shape %v", fn, shape)
	}
	return mat.NewDense(dims[0], dims[1], data), nil
}

// WriteDepthNpy writes a depth grid as a float64 .npy file.
func WriteDepthNpy(fn string, m *mat.Dense) error {
	//nolint:gosec
	f, err := os.Create(fn)
	if err != nil {
		return err
	}
	if err := npyio.Write(f, m); err != nil {
		utils.UncheckedError(f.Close())
		return errors.Wrapf(err, "cannot write %s", fn)
	}
	return f.Close()
}
