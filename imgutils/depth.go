package imgutils

import (
	"image"
	"image/color"
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// Millimeters is the size of one raw unit of the 16-bit depth PNGs, in meters.
const Millimeters = 1.0 / 1000

// DepthFromImage reads a single channel 16-bit image into a grid, multiplying each raw value by unit.
func DepthFromImage(img image.Image, unit float64) *mat.Dense {
	bounds := img.Bounds()
	out := mat.NewDense(bounds.Dy(), bounds.Dx(), nil)

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			g := color.Gray16Model.Convert(img.At(x, y)).(color.Gray16)
			out.Set(y-bounds.Min.Y, x-bounds.Min.X, float64(g.Y)*unit)
		}
	}

	return out
}

// DepthToGray16 is the inverse of DepthFromImage. Values are truncated like a numpy
// astype(uint16) and clamped to [0, 65535], NaN becomes 0.
func DepthToGray16(m *mat.Dense, unit float64) *image.Gray16 {
	rows, cols := m.Dims()
	img := image.NewGray16(image.Rect(0, 0, cols, rows))

	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			img.SetGray16(x, y, color.Gray16{Y: toUint16(m.At(y, x) / unit)})
		}
	}

	return img
}

func toUint16(v float64) uint16 {
	if math.IsNaN(v) || v <= 0 {
		return 0
	}
	if v >= math.MaxUint16 {
		return math.MaxUint16
	}
	// 1999.9999999 is 2000 that lost a bit on the way through the unit conversion
	return uint16(v + 1e-9)
}

// DecodeNormal maps a 16-bit RGB pixel to a vector in [-1, 1]^3, x from red, y from green,
// z from blue.
func DecodeNormal(c color.Color) r3.Vector {
	n := color.RGBA64Model.Convert(c).(color.RGBA64)
	return r3.Vector{
		X: float64(n.R)/math.MaxUint16*2 - 1,
		Y: float64(n.G)/math.MaxUint16*2 - 1,
		Z: float64(n.B)/math.MaxUint16*2 - 1,
	}
}

// NormalsFromImage decodes a normal map row-major.
func NormalsFromImage(img image.Image) (rows, cols int, data []r3.Vector) {
	bounds := img.Bounds()
	rows, cols = bounds.Dy(), bounds.Dx()
	data = make([]r3.Vector, 0, rows*cols)

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			data = append(data, DecodeNormal(img.At(x, y)))
		}
	}

	return rows, cols, data
}

// DepthStats returns the mean of the valid (non zero) pixels and the fraction of pixels that are valid.
func DepthStats(m *mat.Dense) (mean, validFraction float64) {
	rows, cols := m.Dims()

	total := 0.0
	numValid := 0.0

	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			v := m.At(y, x)
			if v == 0 {
				continue
			}
			total += v
			numValid++
		}
	}

	if numValid == 0 {
		return 0, 0
	}
	return total / numValid, numValid / float64(rows*cols)
}
