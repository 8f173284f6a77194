package analysis

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/cassavanet/cassavanet/internal/api"
	"github.com/cassavanet/cassavanet/internal/camera"
	"github.com/cassavanet/cassavanet/internal/errors"
)

// ServeOptions selects the front ends Serve runs.
type ServeOptions struct {
	HTTP  bool // run the HTTP API
	Watch bool // run the live feed on the configured frame directory
}

// Serve runs the HTTP API and, optionally, the live feed until ctx is done.
// Both front ends share one classifier. Live results are logged and, when
// MQTT is enabled, published.
func Serve(ctx context.Context, p *Pipeline, opts ServeOptions) error {
	if !opts.HTTP && !opts.Watch {
		return errors.Newf("nothing to serve: enable the web server or the live feed").
			Component("analysis").
			Category(errors.CategoryConfiguration).
			Build()
	}

	var srv *api.Server
	if opts.HTTP {
		var err error
		srv, err = api.New(api.ConfigFromSettings(p.Settings), p.Classifier,
			api.WithMetrics(p.Metrics),
			api.WithModelInfo(p.Info))
		if err != nil {
			return err
		}
	}

	var src camera.Source
	if opts.Watch {
		watcher, err := camera.NewDirWatcher(p.Settings.Camera.WatchDir)
		if err != nil {
			return err
		}
		src = watcher
	}

	g, gctx := errgroup.WithContext(ctx)

	if srv != nil {
		g.Go(func() error { return srv.Run(gctx) })
	}

	if src != nil {
		g.Go(func() error {
			feedOpts := append(feedOptions(p), camera.WithHandler(logHandler()))
			pub, stop := startPublisher(gctx, p)
			defer stop()
			if pub != nil {
				feedOpts = append(feedOpts, camera.WithHandler(pub.Handle))
			}
			err := camera.NewFeed(src, p.Classifier, feedOpts...).Run(gctx)
			if err != nil && gctx.Err() != nil {
				return nil
			}
			return err
		})
	}

	return g.Wait()
}
