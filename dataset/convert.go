package dataset

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/rimage"
	"golang.org/x/sync/errgroup"

	"github.com/erh/occdepth/geometry"
)

// ConvertStats counts what ConvertAll did.
type ConvertStats struct {
	Converted int
	Skipped   int
	Failed    int
}

// ConvertOne writes the plane-depth image of one entry. It does nothing and returns false if
// the output already exists, which makes a preprocessing run resumable.
func ConvertOne(root string, layout Layout, cam geometry.Camera, e Entry) (bool, error) {
	out := layout.DepthPlanePath(root, e)
	if _, err := os.Stat(out); err == nil {
		return false, nil
	}

	in := layout.DepthPath(root, e)
	img, err := rimage.ReadImageFromFile(in)
	if err != nil {
		return false, errors.Wrapf(err, "cannot read %s", in)
	}

	plane, err := geometry.PlaneDepthImage(img, cam)
	if err != nil {
		return false, errors.Wrapf(err, "cannot convert %s", in)
	}

	if err := rimage.WriteImageToFile(out, plane); err != nil {
		return false, errors.Wrapf(err, "cannot write %s", out)
	}
	if _, err := os.Stat(out); err != nil {
		return false, errors.Wrapf(err, "%s missing after write", out)
	}
	return true, nil
}

// ConvertAll converts every entry with up to workers conversions at a time. A failing entry
// does not stop the others; all failures are returned together.
func ConvertAll(
	ctx context.Context,
	root string,
	entries []Entry,
	layout Layout,
	cam geometry.Camera,
	workers int,
	logger logging.Logger,
) (ConvertStats, error) {
	if err := cam.Validate(); err != nil {
		return ConvertStats{}, err
	}
	if workers <= 0 {
		workers = 1
	}

	start := time.Now()

	var (
		mu    sync.Mutex
		stats ConvertStats
		errs  error
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, e := range entries {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			converted, err := ConvertOne(root, layout, cam, e)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				stats.Failed++
				errs = multierr.Append(errs, err)
				logger.Warnf("%v: %v", e, err)
			case converted:
				stats.Converted++
				logger.Debugf("converted %v", e)
			default:
				stats.Skipped++
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		errs = multierr.Append(errs, err)
	}

	logger.Infof("plane depth: converted %d skipped %d failed %d in %v", stats.Converted, stats.Skipped, stats.Failed, time.Since(start))
	return stats, errs
}
