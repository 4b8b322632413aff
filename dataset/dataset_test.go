package dataset

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.viam.com/rdk/logging"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"

	"github.com/erh/occdepth/geometry"
	"github.com/erh/occdepth/imgutils"
	"github.com/erh/occdepth/loss"
	"github.com/erh/occdepth/refine"
)

// npyBytes builds a version 1.0 little-endian float64 .npy file.
func npyBytes(shape []int, data []float64) []byte {
	dims := make([]string, len(shape))
	for idx, s := range shape {
		dims[idx] = fmt.Sprintf("%d", s)
	}
	shapeStr := strings.Join(dims, ", ")
	if len(shape) == 1 {
		shapeStr += ","
	}
	header := fmt.Sprintf("{'descr': '<f8', 'fortran_order': False, 'shape': (%s), }", shapeStr)
	for (10+len(header)+1)%64 != 0 {
		header += " "
	}
	header += "\n"

	buf := &bytes.Buffer{}
	buf.WriteString("\x93NUMPY")
	buf.Write([]byte{1, 0})
	binary.Write(buf, binary.LittleEndian, uint16(len(header)))
	buf.WriteString(header)
	binary.Write(buf, binary.LittleEndian, data)
	return buf.Bytes()
}

func writeFile(t *testing.T, fn string, data []byte) {
	t.Helper()
	test.That(t, os.MkdirAll(filepath.Dir(fn), 0o755), test.ShouldBeNil)
	test.That(t, os.WriteFile(fn, data, 0o644), test.ShouldBeNil)
}

func writePNG(t *testing.T, fn string, img image.Image) {
	t.Helper()
	buf := &bytes.Buffer{}
	test.That(t, png.Encode(buf, img), test.ShouldBeNil)
	writeFile(t, fn, buf.Bytes())
}

func depthPNG(w, h int, mm uint16) *image.Gray16 {
	img := image.NewGray16(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray16(x, y, color.Gray16{Y: mm})
		}
	}
	return img
}

func TestParseIndex(t *testing.T) {
	in := ",scene,image\n0,3FO4K5G1L00B_Bedroom,12\n1,3FO4K5G1L00B_Bedroom, 7\n"
	entries, err := ParseIndex(strings.NewReader(in))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, entries, test.ShouldResemble, []Entry{
		{Scene: "3FO4K5G1L00B_Bedroom", Image: 12},
		{Scene: "3FO4K5G1L00B_Bedroom", Image: 7},
	})
	test.That(t, entries[0].String(), test.ShouldEqual, "3FO4K5G1L00B_Bedroom/0012")

	_, err = ParseIndex(strings.NewReader("a,b\n1,2\n"))
	test.That(t, err, test.ShouldNotBeNil)

	_, err = ParseIndex(strings.NewReader("scene,image\nfoo,bar\n"))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "line 2")

	_, err = ParseIndex(strings.NewReader(""))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestReadIndex(t *testing.T) {
	fn := filepath.Join(t.TempDir(), "InteriorNet.txt")
	writeFile(t, fn, []byte("scene,image\nfoo,1\n"))

	entries, err := ReadIndex(fn)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, entries, test.ShouldHaveLength, 1)

	_, err = ReadIndex(filepath.Join(t.TempDir(), "missing.txt"))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestLayoutPaths(t *testing.T) {
	l := DefaultLayout()
	e := Entry{Scene: "foo", Image: 3}

	test.That(t, l.DepthPath("/d", e), test.ShouldEqual, "/d/data/foo_raycastingV2/0003-depth.png")
	test.That(t, l.DepthPlanePath("/d", e), test.ShouldEqual, "/d/data/foo_raycastingV2/0003-depth-plane.png")
	test.That(t, l.NormalPath("/d", e), test.ShouldEqual, "/d/data/foo_raycastingV2/0003-normal.png")
	test.That(t, l.ImagePath("/d", e), test.ShouldEqual, "/d/data/foo_raycastingV2/0003-rgb.png")
	test.That(t, l.LabelPath("/d", e), test.ShouldEqual, "/d/label/foo_raycastingV2/0003-order-pix.npy")
	test.That(t, l.PredPath("/d", e), test.ShouldEqual, "/d/pred/foo/sharpnet_pred/data/3.npy")
}

func TestReadLabels(t *testing.T) {
	dir := t.TempDir()

	data := make([]float64, 2*3*9)
	data[(1*3+2)*9+0] = 1
	data[(1*3+2)*9+1+4] = 1
	fn := filepath.Join(dir, "labels.npy")
	writeFile(t, fn, npyBytes([]int{2, 3, 9}, data))

	l, err := ReadLabels(fn)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, l.Rows, test.ShouldEqual, 2)
	test.That(t, l.Cols, test.ShouldEqual, 3)
	test.That(t, l.Channels, test.ShouldEqual, 9)
	test.That(t, l.IsEdge(1, 2, 0.5), test.ShouldBeTrue)
	test.That(t, l.IsEdge(0, 0, 0.5), test.ShouldBeFalse)
	test.That(t, l.Order(1, 2, 4), test.ShouldEqual, 1.0)

	bad := filepath.Join(dir, "bad.npy")
	writeFile(t, bad, npyBytes([]int{2, 3, 5}, make([]float64, 30)))
	_, err = ReadLabels(bad)
	test.That(t, err, test.ShouldNotBeNil)

	flat := filepath.Join(dir, "flat.npy")
	writeFile(t, flat, npyBytes([]int{6}, make([]float64, 6)))
	_, err = ReadLabels(flat)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestDepthNpy(t *testing.T) {
	dir := t.TempDir()

	m := mat.NewDense(2, 3, []float64{1, 2, 3, 4, 5, 6.5})
	fn := filepath.Join(dir, "pred.npy")
	test.That(t, WriteDepthNpy(fn, m), test.ShouldBeNil)

	back, err := ReadDepthNpy(fn)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, mat.Equal(m, back), test.ShouldBeTrue)

	// a network output with batch and channel dimensions
	chw := filepath.Join(dir, "chw.npy")
	writeFile(t, chw, npyBytes([]int{1, 2, 3, 1}, []float64{1, 2, 3, 4, 5, 6}))
	back, err = ReadDepthNpy(chw)
	test.That(t, err, test.ShouldBeNil)
	r, c := back.Dims()
	test.That(t, r, test.ShouldEqual, 2)
	test.That(t, c, test.ShouldEqual, 3)
	test.That(t, back.At(1, 0), test.ShouldEqual, 4.0)

	cube := filepath.Join(dir, "cube.npy")
	writeFile(t, cube, npyBytes([]int{2, 2, 2}, make([]float64, 8)))
	_, err = ReadDepthNpy(cube)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestEmptyNpy(t *testing.T) {
	dir := t.TempDir()

	empty := filepath.Join(dir, "empty.npy")
	writeFile(t, empty, npyBytes([]int{0, 5}, nil))
	_, err := ReadDepthNpy(empty)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "empty depth")

	emptyLabels := filepath.Join(dir, "labels.npy")
	writeFile(t, emptyLabels, npyBytes([]int{3, 0, 9}, nil))
	_, err = ReadLabels(emptyLabels)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "empty labels")
}

func TestReadNormals(t *testing.T) {
	c := color.RGBA64{R: 12345, G: 54321, B: 1, A: math.MaxUint16}
	img := image.NewRGBA64(image.Rect(0, 0, 3, 2))
	for y := 0; y < 2; y++ {
		for x := 0; x < 3; x++ {
			img.SetRGBA64(x, y, c)
		}
	}
	fn := filepath.Join(t.TempDir(), "0001-normal.png")
	writePNG(t, fn, img)

	n, err := ReadNormals(fn)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, n.Rows, test.ShouldEqual, 2)
	test.That(t, n.Cols, test.ShouldEqual, 3)
	// all 16 bits survive the read
	test.That(t, n.At(1, 2), test.ShouldResemble, imgutils.DecodeNormal(c))
	test.That(t, n.At(1, 2).X, test.ShouldAlmostEqual, 12345.0/math.MaxUint16*2-1)

	_, err = ReadNormals(filepath.Join(t.TempDir(), "missing.png"))
	test.That(t, err, test.ShouldNotBeNil)
}

// writeSample lays out one complete sample of size w x h under root.
func writeSample(t *testing.T, root string, l Layout, e Entry, w, h int) {
	t.Helper()

	writePNG(t, l.DepthPlanePath(root, e), depthPNG(w, h, 2000))

	normals := image.NewRGBA64(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			normals.SetRGBA64(x, y, color.RGBA64{R: 32768, G: 32768, B: 0, A: math.MaxUint16})
		}
	}
	writePNG(t, l.NormalPath(root, e), normals)

	pred := mat.NewDense(h, w, nil)
	for i := 0; i < h; i++ {
		for j := 0; j < w; j++ {
			pred.Set(i, j, 2.1)
		}
	}
	test.That(t, os.MkdirAll(filepath.Dir(l.PredPath(root, e)), 0o755), test.ShouldBeNil)
	test.That(t, WriteDepthNpy(l.PredPath(root, e), pred), test.ShouldBeNil)

	writeFile(t, l.LabelPath(root, e), npyBytes([]int{h, w, 9}, make([]float64, h*w*9)))
}

func TestLoad(t *testing.T) {
	root := t.TempDir()
	l := DefaultLayout()
	e := Entry{Scene: "scene", Image: 1}
	writeSample(t, root, l, e, 4, 3)

	s, err := Load(root, l, e)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, s.DepthGT.At(1, 1), test.ShouldAlmostEqual, 2.0)
	test.That(t, s.Coarse.At(2, 3), test.ShouldEqual, 2.1)
	test.That(t, s.Labels.Channels, test.ShouldEqual, 9)
	test.That(t, s.Normals.Rows, test.ShouldEqual, 3)
	test.That(t, s.Normals.Cols, test.ShouldEqual, 4)
	test.That(t, s.Normals.At(0, 0).Z, test.ShouldAlmostEqual, -1.0)

	b, err := MakeBatch([]*Sample{s, s}, refine.Identity)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, b.Pred, test.ShouldHaveLength, 2)
	test.That(t, b.Labels, test.ShouldHaveLength, 2)
	test.That(t, mat.Equal(b.Pred[0], s.Coarse), test.ShouldBeTrue)

	_, err = Load(root, l, Entry{Scene: "scene", Image: 2})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestLoadMismatch(t *testing.T) {
	root := t.TempDir()
	l := DefaultLayout()
	e := Entry{Scene: "scene", Image: 1}
	writeSample(t, root, l, e, 4, 3)
	test.That(t, WriteDepthNpy(l.PredPath(root, e), mat.NewDense(3, 5, nil)), test.ShouldBeNil)

	_, err := Load(root, l, e)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err, test.ShouldWrap, loss.ErrShapeMismatch)
}

func TestMakeBatchRefineError(t *testing.T) {
	s := &Sample{Entry: Entry{Scene: "x"}, Coarse: mat.NewDense(2, 2, nil)}
	bad := refine.Func(func(_ *loss.Labels, _ *mat.Dense) (*mat.Dense, error) {
		return mat.NewDense(3, 3, nil), nil
	})
	_, err := MakeBatch([]*Sample{s}, bad)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestConvertAll(t *testing.T) {
	logger := logging.NewTestLogger(t)
	root := t.TempDir()
	l := DefaultLayout()
	cam := geometry.NewCamera(4, 4, 600, 600)

	entries := []Entry{{Scene: "a", Image: 0}, {Scene: "a", Image: 1}, {Scene: "b", Image: 0}}
	for _, e := range entries {
		writePNG(t, l.DepthPath(root, e), depthPNG(4, 4, 2000))
	}
	// already converted, left alone
	writePNG(t, l.DepthPlanePath(root, entries[2]), depthPNG(4, 4, 7))

	stats, err := ConvertAll(context.Background(), root, entries, l, cam, 2, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, stats, test.ShouldResemble, ConvertStats{Converted: 2, Skipped: 1})

	plane, err := ReadDepthImage(l.DepthPlanePath(root, entries[0]))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, plane.At(2, 2), test.ShouldAlmostEqual, 2.0)
	test.That(t, plane.At(0, 0), test.ShouldBeLessThan, 2.0)
	test.That(t, plane.At(0, 0), test.ShouldBeGreaterThan, 1.9)

	kept, err := ReadDepthImage(l.DepthPlanePath(root, entries[2]))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, kept.At(0, 0), test.ShouldAlmostEqual, 0.007)

	// second run skips everything
	stats, err = ConvertAll(context.Background(), root, entries, l, cam, 0, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, stats, test.ShouldResemble, ConvertStats{Skipped: 3})
}

func TestConvertAllErrors(t *testing.T) {
	logger := logging.NewTestLogger(t)
	root := t.TempDir()
	l := DefaultLayout()
	cam := geometry.NewCamera(4, 4, 600, 600)

	good := Entry{Scene: "a", Image: 0}
	writePNG(t, l.DepthPath(root, good), depthPNG(4, 4, 1000))
	wrongSize := Entry{Scene: "a", Image: 1}
	writePNG(t, l.DepthPath(root, wrongSize), depthPNG(5, 4, 1000))
	missing := Entry{Scene: "a", Image: 2}

	stats, err := ConvertAll(context.Background(), root, []Entry{good, wrongSize, missing}, l, cam, 3, logger)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, stats, test.ShouldResemble, ConvertStats{Converted: 1, Failed: 2})
	test.That(t, err.Error(), test.ShouldContainSubstring, "0002-depth.png")

	_, err = os.Stat(l.DepthPlanePath(root, good))
	test.That(t, err, test.ShouldBeNil)

	_, err = ConvertAll(context.Background(), root, nil, l, geometry.NewCamera(0, 4, 600, 600), 1, logger)
	test.That(t, err, test.ShouldWrap, geometry.ErrInvalidCamera)
}

func TestPlaneDepthMatchesImage(t *testing.T) {
	cam := geometry.NewCamera(4, 4, 600, 600)
	img, err := geometry.PlaneDepthImage(depthPNG(4, 4, 3000), cam)
	test.That(t, err, test.ShouldBeNil)

	direct, err := geometry.PlaneDepth(imgutils.DepthFromImage(depthPNG(4, 4, 3000), imgutils.Millimeters), cam)
	test.That(t, err, test.ShouldBeNil)

	back := imgutils.DepthFromImage(img, imgutils.Millimeters)
	test.That(t, back.At(0, 0), test.ShouldAlmostEqual, direct.At(0, 0), 1e-3)
}
