package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v2"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/pointcloud"
	"go.viam.com/rdk/rimage"
	"gonum.org/v1/gonum/mat"

	"github.com/erh/occdepth"
	"github.com/erh/occdepth/dataset"
	"github.com/erh/occdepth/geometry"
	"github.com/erh/occdepth/imgutils"
	"github.com/erh/occdepth/loss"
	"github.com/erh/occdepth/refine"
)

const (
	flagConfig        = "config"
	flagDebug         = "debug"
	flagDataDir       = "data_dir"
	flagCSVFile       = "csv_file"
	flagLabelName     = "label_name"
	flagDepthExt      = "depth_ext"
	flagDepthPlaneExt = "depth_plane_ext"
	flagWorkers       = "workers"
	flagLimit         = "limit"
	flagBatch         = "batch"
	flagScene         = "scene"
	flagImage         = "image"
	flagPred          = "pred"
	flagColor         = "color"
	flagOut           = "out"
)

func main() {
	err := realMain()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func realMain() error {
	app := &cli.App{
		Name:            "occdepth",
		Usage:           "plane-depth preprocessing and occlusion-aware depth losses",
		HideHelpCommand: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Usage:   "load configuration from `FILE`",
			},
			&cli.BoolFlag{
				Name:  flagDebug,
				Usage: "enable debug logging",
			},
			&cli.StringFlag{
				Name:  flagDataDir,
				Value: ".",
				Usage: "dataset root",
			},
			&cli.StringFlag{
				Name:  flagCSVFile,
				Value: "InteriorNet.txt",
				Usage: "index of scene/image pairs, relative to the dataset root",
			},
			&cli.StringFlag{
				Name:  flagLabelName,
				Usage: "suffix of the scene directories, overrides the config",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "plane",
				Usage: "convert ray-depth images to plane-depth images",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: flagDepthExt, Usage: "ray-depth suffix, overrides the config"},
					&cli.StringFlag{Name: flagDepthPlaneExt, Usage: "plane-depth suffix, overrides the config"},
					&cli.IntFlag{Name: flagWorkers, Value: 4, Usage: "conversions at a time"},
				},
				Action: planeAction,
			},
			{
				Name:  "loss",
				Usage: "evaluate the training objective on coarse predictions",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: flagLimit, Usage: "only the first N entries, 0 for all"},
					&cli.IntFlag{Name: flagBatch, Value: 1, Usage: "samples per batch"},
				},
				Action: lossAction,
			},
			{
				Name:  "pcd",
				Usage: "export the plane depth of one image as a point cloud",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: flagScene, Required: true},
					&cli.IntFlag{Name: flagImage, Required: true},
					&cli.BoolFlag{Name: flagPred, Usage: "use the coarse prediction instead of the ground truth"},
					&cli.BoolFlag{Name: flagColor, Usage: "color points from the rgb image"},
					&cli.StringFlag{Name: flagOut, Required: true, Usage: "output .pcd `FILE`"},
				},
				Action: pcdAction,
			},
		},
	}

	return app.Run(os.Args)
}

func newLogger(c *cli.Context) logging.Logger {
	if c.Bool(flagDebug) {
		return logging.NewDebugLogger("occdepth")
	}
	return logging.NewLogger("occdepth")
}

func readConfig(c *cli.Context) (occdepth.Config, error) {
	cfg := occdepth.DefaultConfig()
	if fn := c.String(flagConfig); fn != "" {
		var err error
		cfg, err = occdepth.ReadConfig(fn)
		if err != nil {
			return cfg, err
		}
	}
	if v := c.String(flagLabelName); v != "" {
		cfg.Layout.LabelName = v
	}
	return cfg, cfg.Validate()
}

func readEntries(c *cli.Context) ([]dataset.Entry, error) {
	fn := c.String(flagCSVFile)
	if !filepath.IsAbs(fn) {
		fn = filepath.Join(c.String(flagDataDir), fn)
	}
	return dataset.ReadIndex(fn)
}

func planeAction(c *cli.Context) error {
	logger := newLogger(c)

	cfg, err := readConfig(c)
	if err != nil {
		return err
	}
	if v := c.String(flagDepthExt); v != "" {
		cfg.Layout.DepthExt = v
	}
	if v := c.String(flagDepthPlaneExt); v != "" {
		cfg.Layout.DepthPlaneExt = v
	}
	cam, err := cfg.Camera()
	if err != nil {
		return err
	}

	entries, err := readEntries(c)
	if err != nil {
		return err
	}
	logger.Infof("converting %d images with %v", len(entries), cam.Model)

	_, err = dataset.ConvertAll(c.Context, c.String(flagDataDir), entries, cfg.Layout, cam, c.Int(flagWorkers), logger)
	return err
}

func lossAction(c *cli.Context) error {
	logger := newLogger(c)

	cfg, err := readConfig(c)
	if err != nil {
		return err
	}
	obj, err := cfg.Objective()
	if err != nil {
		return err
	}

	entries, err := readEntries(c)
	if err != nil {
		return err
	}
	if limit := c.Int(flagLimit); limit > 0 && limit < len(entries) {
		entries = entries[:limit]
	}
	batchSize := c.Int(flagBatch)
	if batchSize <= 0 {
		batchSize = 1
	}

	return evaluate(c.Context, c.String(flagDataDir), cfg.Layout, entries, batchSize, obj, logger)
}

func evaluate(
	ctx context.Context,
	root string,
	layout dataset.Layout,
	entries []dataset.Entry,
	batchSize int,
	obj *loss.Objective,
	logger logging.Logger,
) error {
	sum := loss.Terms{}
	batches := 0

	for start := 0; start < len(entries); start += batchSize {
		if err := ctx.Err(); err != nil {
			return err
		}

		end := min(start+batchSize, len(entries))
		samples := []*dataset.Sample{}
		for _, e := range entries[start:end] {
			s, err := dataset.Load(root, layout, e)
			if err != nil {
				return err
			}
			samples = append(samples, s)
		}

		b, err := dataset.MakeBatch(samples, refine.Identity)
		if err != nil {
			return err
		}
		t, _, err := obj.Evaluate(b)
		if err != nil {
			return err
		}
		logger.Infof("%v (%d): %v", entries[start], len(samples), t)

		sum.BerHu += t.BerHu
		sum.Gradient += t.Gradient
		sum.Occlusion += t.Occlusion
		sum.Total += t.Total
		batches++
	}

	if batches == 0 {
		return fmt.Errorf("no entries to evaluate")
	}
	n := float64(batches)
	logger.Infof("mean over %d batches: %v", batches, loss.Terms{
		BerHu:     sum.BerHu / n,
		Gradient:  sum.Gradient / n,
		Occlusion: sum.Occlusion / n,
		Total:     sum.Total / n,
	})
	return nil
}

func pcdAction(c *cli.Context) error {
	logger := newLogger(c)

	cfg, err := readConfig(c)
	if err != nil {
		return err
	}
	cam, err := cfg.Camera()
	if err != nil {
		return err
	}
	gamma, err := geometry.CachedGamma(cam)
	if err != nil {
		return err
	}

	root := c.String(flagDataDir)
	e := dataset.Entry{Scene: c.String(flagScene), Image: c.Int(flagImage)}

	var depth *mat.Dense
	if c.Bool(flagPred) {
		depth, err = dataset.ReadDepthNpy(cfg.Layout.PredPath(root, e))
	} else {
		depth, err = dataset.ReadDepthImage(cfg.Layout.DepthPlanePath(root, e))
	}
	if err != nil {
		return err
	}
	mean, valid := imgutils.DepthStats(depth)
	logger.Infof("%v: mean depth %0.3f m, %0.1f%% valid", e, mean, valid*100)

	var pc pointcloud.PointCloud
	if c.Bool(flagColor) {
		rgb, err := rimage.ReadImageFromFile(cfg.Layout.ImagePath(root, e))
		if err != nil {
			return err
		}
		pc, err = gamma.ToPointCloud(depth, rgb)
		if err != nil {
			return err
		}
	} else {
		pc, err = gamma.ToPointCloud(depth, nil)
		if err != nil {
			return err
		}
	}

	logger.Infof("writing %d points to %s", pc.Size(), c.String(flagOut))
	return writePCToFile(c.String(flagOut), pc)
}

func writePCToFile(fn string, pc pointcloud.PointCloud) error {
	f, err := os.OpenFile(fn, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return pointcloud.ToPCD(pc, f, pointcloud.PCDBinary)
}
