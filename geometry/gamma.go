package geometry

import (
	"image"
	"math"
	"sync"

	"github.com/golang/geo/r3"
	"go.viam.com/rdk/utils"
	"gonum.org/v1/gonum/mat"
)

// Gamma holds, for every pixel, the factor that turns plane-depth into the distance along
// the viewing ray: ray = plane * gamma. It is never modified after NewGamma returns, so a
// single instance can be shared by any number of goroutines.
type Gamma struct {
	cam    Camera
	tx, ty []float64
	values *mat.Dense
}

// NewGamma computes the gamma matrix for a camera.
func NewGamma(cam Camera) (*Gamma, error) {
	if err := cam.Validate(); err != nil {
		return nil, err
	}
	tx, ty := cam.Offsets()
	h, w := cam.Intrinsics.Height, cam.Intrinsics.Width

	values := mat.NewDense(h, w, nil)
	raw := values.RawMatrix()
	utils.ParallelForEachPixel(image.Point{X: w, Y: h}, func(x, y int) {
		raw.Data[y*raw.Stride+x] = math.Sqrt(1 + tx[x]*tx[x] + ty[y]*ty[y])
	})

	return &Gamma{cam: cam, tx: tx, ty: ty, values: values}, nil
}

// Dims returns rows and columns.
func (g *Gamma) Dims() (int, int) {
	return g.values.Dims()
}

// Camera returns the camera the matrix was built for.
func (g *Gamma) Camera() Camera {
	return g.cam
}

// At returns gamma at row i, column j.
func (g *Gamma) At(i, j int) float64 {
	return g.values.At(i, j)
}

// Matrix returns a copy of the factors.
func (g *Gamma) Matrix() *mat.Dense {
	return mat.DenseCopyOf(g.values)
}

// Ray returns the unit viewing ray through pixel (i, j).
func (g *Gamma) Ray(i, j int) r3.Vector {
	return r3.Vector{X: g.tx[j], Y: g.ty[i], Z: 1}.Mul(1 / g.values.At(i, j))
}

// GammaCache builds each camera's gamma matrix once and hands out the same instance afterwards.
type GammaCache struct {
	mu      sync.Mutex
	entries map[Camera]*Gamma
}

// NewGammaCache returns an empty cache.
func NewGammaCache() *GammaCache {
	return &GammaCache{entries: map[Camera]*Gamma{}}
}

// Get returns the gamma matrix for cam, building it on first use.
func (c *GammaCache) Get(cam Camera) (*Gamma, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if g, ok := c.entries[cam]; ok {
		return g, nil
	}
	g, err := NewGamma(cam)
	if err != nil {
		return nil, err
	}
	c.entries[cam] = g
	return g, nil
}

var defaultCache = NewGammaCache()

// CachedGamma uses a process wide cache.
func CachedGamma(cam Camera) (*Gamma, error) {
	return defaultCache.Get(cam)
}
