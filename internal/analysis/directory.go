package analysis

import (
	"context"
	"io"
	"io/fs"
	"path/filepath"
	"runtime"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cassavanet/cassavanet/internal/classifier"
	"github.com/cassavanet/cassavanet/internal/display"
	"github.com/cassavanet/cassavanet/internal/errors"
	"github.com/cassavanet/cassavanet/internal/logger"
	"github.com/cassavanet/cassavanet/internal/preprocess"
)

// DirectoryOptions controls a directory run.
type DirectoryOptions struct {
	Recursive bool
	Workers   int // concurrent decoders, 0 means one per CPU up to 8
	Format    display.Format
}

// DirectoryAnalysis classifies every image file in dir and renders one record
// per file, sorted by path. Files that fail to decode or classify are
// reported in place and do not stop the run.
func DirectoryAnalysis(ctx context.Context, p *Pipeline, dir string, opts DirectoryOptions, w io.Writer) error {
	log := GetLogger().With(logger.String("dir", dir))

	files, err := listImages(dir, opts.Recursive)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return errors.Newf("no image files found in %s", dir).
			Component("analysis").
			Category(errors.CategoryNotFound).
			FileContext(dir, 0).
			Build()
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = min(runtime.NumCPU(), 8)
	}

	start := time.Now()
	records := make([]display.Record, len(files))

	// Decoding runs in parallel; the classifier serializes engine calls.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, path := range files {
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			img, err := preprocess.DecodeFile(path)
			if err != nil {
				records[i] = display.NewRecord(path, classifier.Prediction{}, err)
				return nil
			}
			pred, err := p.Classifier.Classify(img)
			records[i] = display.NewRecord(path, pred, err)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if cerr := canceled(ctx); cerr != nil {
			return cerr
		}
		return err
	}

	failed := 0
	for _, r := range records {
		if r.Error != "" {
			failed++
		}
	}

	log.Info("Directory analysis complete",
		logger.Int("files", len(files)),
		logger.Int("failed", failed),
		logger.Duration("duration", time.Since(start)))

	if err := display.Render(w, opts.Format, records); err != nil {
		return err
	}
	if failed > 0 {
		return errors.Newf("%d of %d images could not be classified", failed, len(files)).
			Component("analysis").
			Category(errors.CategoryProcessing).
			Build()
	}
	return nil
}

// listImages returns the image files under dir in lexical order.
func listImages(dir string, recursive bool) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && !recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if preprocess.IsImageFile(path) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, errors.New(err).
			Component("analysis").
			Category(errors.CategoryFileIO).
			FileContext(dir, 0).
			Build()
	}
	slices.Sort(files)
	return files, nil
}
