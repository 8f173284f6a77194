package camera

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/cassavanet/cassavanet/internal/errors"
	"github.com/cassavanet/cassavanet/internal/logger"
	"github.com/cassavanet/cassavanet/internal/preprocess"
)

// DirWatcher turns image files written into a directory into frames. Files
// that fail to decode are skipped, which also covers files observed while
// they are still being written.
type DirWatcher struct {
	dir string
	log logger.Logger
}

// NewDirWatcher watches dir, which must exist.
func NewDirWatcher(dir string) (*DirWatcher, error) {
	st, err := os.Stat(dir)
	if err != nil {
		return nil, errors.New(fmt.Errorf("watch directory: %w", err)).
			Component("camera").
			Category(errors.CategoryFileIO).
			Context("dir", dir).
			Build()
	}
	if !st.IsDir() {
		return nil, errors.Newf("watch path %s is not a directory", dir).
			Component("camera").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return &DirWatcher{dir: dir, log: GetLogger().With(logger.String("dir", dir))}, nil
}

// Run implements Source.
func (d *DirWatcher) Run(ctx context.Context, out chan<- Frame) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.New(fmt.Errorf("create watcher: %w", err)).
			Component("camera").
			Category(errors.CategoryFileIO).
			Build()
	}
	defer w.Close()

	if err := w.Add(d.dir); err != nil {
		return errors.New(fmt.Errorf("watch %s: %w", d.dir, err)).
			Component("camera").
			Category(errors.CategoryFileIO).
			Build()
	}
	d.log.Info("Watching for frames")

	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			d.log.Warn("Watcher error", logger.Error(err))
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			if !preprocess.IsImageFile(ev.Name) {
				continue
			}
			img, err := preprocess.DecodeFile(ev.Name)
			if err != nil {
				d.log.Debug("Skipping undecodable frame", logger.String("file", filepath.Base(ev.Name)), logger.Error(err))
				continue
			}
			select {
			case out <- Frame{ID: filepath.Base(ev.Name), Image: img, Captured: time.Now()}:
			case <-ctx.Done():
				return nil
			}
		}
	}
}
