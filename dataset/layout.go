// Package dataset locates and loads InteriorNet style samples: ground truth depth, normals,
// occlusion-orientation labels and a coarse depth prediction per image, plus the offline
// conversion of ray-depth images to plane-depth.
package dataset

import (
	"fmt"
	"path/filepath"
)

// Layout describes where the files of a sample live relative to the dataset root.
type Layout struct {
	GTDir         string `json:"gt_dir"`
	LabelDir      string `json:"label_dir"`
	PredDir       string `json:"pred_dir"`
	LabelName     string `json:"label_name"`
	MethodName    string `json:"method_name"`
	DepthExt      string `json:"depth_ext"`
	DepthPlaneExt string `json:"depth_plane_ext"`
	NormalExt     string `json:"normal_ext"`
	ImageExt      string `json:"image_ext"`
	LabelExt      string `json:"label_ext"`
	PredExt       string `json:"pred_ext"`
}

// DefaultLayout is the InteriorNet layout with raycasted occlusion labels.
func DefaultLayout() Layout {
	return Layout{
		GTDir:         "data",
		LabelDir:      "label",
		PredDir:       "pred",
		LabelName:     "_raycastingV2",
		MethodName:    "sharpnet_pred",
		DepthExt:      "-depth.png",
		DepthPlaneExt: "-depth-plane.png",
		NormalExt:     "-normal.png",
		ImageExt:      "-rgb.png",
		LabelExt:      "-order-pix.npy",
		PredExt:       ".npy",
	}
}

// Entry is one row of the dataset index.
type Entry struct {
	Scene string
	Image int
}

func (e Entry) String() string {
	return fmt.Sprintf("%s/%04d", e.Scene, e.Image)
}

func (l Layout) gtFile(root string, e Entry, ext string) string {
	return filepath.Join(root, l.GTDir, e.Scene+l.LabelName, fmt.Sprintf("%04d%s", e.Image, ext))
}

// DepthPath is the raw ray-depth image.
func (l Layout) DepthPath(root string, e Entry) string {
	return l.gtFile(root, e, l.DepthExt)
}

// DepthPlanePath is the converted plane-depth image next to the raw one.
func (l Layout) DepthPlanePath(root string, e Entry) string {
	return l.gtFile(root, e, l.DepthPlaneExt)
}

// NormalPath is the 16-bit normal map.
func (l Layout) NormalPath(root string, e Entry) string {
	return l.gtFile(root, e, l.NormalExt)
}

// ImagePath is the RGB image.
func (l Layout) ImagePath(root string, e Entry) string {
	return l.gtFile(root, e, l.ImageExt)
}

// LabelPath is the occlusion-orientation label array.
func (l Layout) LabelPath(root string, e Entry) string {
	return filepath.Join(root, l.LabelDir, e.Scene+l.LabelName, fmt.Sprintf("%04d%s", e.Image, l.LabelExt))
}

// PredPath is the coarse depth prediction of MethodName.
func (l Layout) PredPath(root string, e Entry) string {
	return filepath.Join(root, l.PredDir, e.Scene, l.MethodName, "data", fmt.Sprintf("%d%s", e.Image, l.PredExt))
}
