// Package occdepth refines monocular depth with occlusion-orientation labels. This package
// holds the configuration every component is built from; the work happens in geometry,
// loss and dataset.
package occdepth

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/pkg/errors"

	"github.com/erh/occdepth/dataset"
	"github.com/erh/occdepth/geometry"
	"github.com/erh/occdepth/loss"
)

// Config is everything a run needs, passed explicitly to each component.
type Config struct {
	Width  int     `json:"width"`
	Height int     `json:"height"`
	Fx     float64 `json:"fx"`
	Fy     float64 `json:"fy"`
	// Projection is the camera model of the plane-depth converter. The training gamma is
	// built with the same model so that plane depth times gamma gives back the ray depth.
	Projection string `json:"projection"`

	AlphaDepth    float64 `json:"alpha_depth"`
	AlphaOcc      float64 `json:"alpha_occ"`
	Linear        bool    `json:"linear"`
	Margin        float64 `json:"margin"`
	OccScale      float64 `json:"occ_scale"`
	EdgeThreshold float64 `json:"edge_threshold"`
	MaxGap        float64 `json:"max_gap"`

	Layout dataset.Layout `json:"layout"`
}

// DefaultConfig matches the InteriorNet setup: 640x480 images, fx = fy = 600, 15mm margin.
func DefaultConfig() Config {
	occ := loss.DefaultOcclusionParams()
	return Config{
		Width:         640,
		Height:        480,
		Fx:            600,
		Fy:            600,
		Projection:    geometry.Angular.String(),
		AlphaDepth:    1,
		AlphaOcc:      1,
		Margin:        occ.Margin,
		OccScale:      occ.Scale,
		EdgeThreshold: occ.EdgeThreshold,
		MaxGap:        occ.MaxGap,
		Layout:        dataset.DefaultLayout(),
	}
}

// ReadConfig reads a JSON file on top of DefaultConfig.
func ReadConfig(fn string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(fn)
	if err != nil {
		return cfg, err
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "cannot parse config %s", fn)
	}
	return cfg, cfg.Validate()
}

// Validate checks the camera and the loss settings.
func (c Config) Validate() error {
	if _, err := c.Camera(); err != nil {
		return err
	}
	if c.AlphaDepth < 0 || c.AlphaOcc < 0 {
		return fmt.Errorf("loss weights must be >= 0, got %v and %v", c.AlphaDepth, c.AlphaOcc)
	}
	return c.OcclusionParams().Validate()
}

// Camera returns the validated camera.
func (c Config) Camera() (geometry.Camera, error) {
	model, err := geometry.ParseProjection(c.Projection)
	if err != nil {
		return geometry.Camera{}, err
	}
	cam := geometry.NewCamera(c.Width, c.Height, c.Fx, c.Fy).WithModel(model)
	return cam, cam.Validate()
}

// OcclusionParams returns the occlusion loss settings.
func (c Config) OcclusionParams() loss.OcclusionParams {
	return loss.OcclusionParams{
		Linear:        c.Linear,
		Margin:        c.Margin,
		Scale:         c.OccScale,
		EdgeThreshold: c.EdgeThreshold,
		MaxGap:        c.MaxGap,
	}
}

// Objective builds the training objective, using the shared gamma matrix of the camera.
func (c Config) Objective() (*loss.Objective, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	cam, err := c.Camera()
	if err != nil {
		return nil, err
	}
	gamma, err := geometry.CachedGamma(cam)
	if err != nil {
		return nil, err
	}
	return &loss.Objective{
		AlphaDepth: c.AlphaDepth,
		AlphaOcc:   c.AlphaOcc,
		Occlusion:  c.OcclusionParams(),
		Gamma:      gamma,
	}, nil
}
