package analysis

import (
	"context"
	"io"

	"github.com/cassavanet/cassavanet/internal/camera"
	"github.com/cassavanet/cassavanet/internal/display"
	"github.com/cassavanet/cassavanet/internal/logger"
	"github.com/cassavanet/cassavanet/internal/mqtt"
	"github.com/cassavanet/cassavanet/internal/privacy"
	"github.com/cassavanet/cassavanet/internal/worker"
)

// RealtimeAnalysis watches the configured frame directory and classifies new
// frames until ctx is done. Each result is rendered to w and, when MQTT is
// enabled, published.
func RealtimeAnalysis(ctx context.Context, p *Pipeline, format display.Format, w io.Writer) error {
	src, err := camera.NewDirWatcher(p.Settings.Camera.WatchDir)
	if err != nil {
		return err
	}

	opts := feedOptions(p)
	opts = append(opts, camera.WithHandler(printHandler(w, format)))

	pub, stop := startPublisher(ctx, p)
	defer stop()
	if pub != nil {
		opts = append(opts, camera.WithHandler(pub.Handle))
	}

	GetLogger().Info("Watching for frames",
		logger.String("dir", p.Settings.Camera.WatchDir),
		logger.Int("rotation", p.Settings.Camera.Rotation),
		logger.Float64("max_fps", p.Settings.Camera.MaxFPS))

	err = camera.NewFeed(src, p.Classifier, opts...).Run(ctx)
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}

func feedOptions(p *Pipeline) []camera.FeedOption {
	return []camera.FeedOption{
		camera.WithRotation(p.Settings.Camera.Rotation),
		camera.WithMaxFPS(p.Settings.Camera.MaxFPS),
		camera.WithWorkerRecorder(p.Metrics.Worker),
		camera.WithShutdownTimeout(shutdownTimeout),
	}
}

// printHandler renders each live result as it arrives.
func printHandler(w io.Writer, format display.Format) camera.ResultHandler {
	return func(r worker.Result) {
		rec := display.NewRecord(r.Job.ID, r.Prediction, r.Err)
		if err := display.Render(w, format, []display.Record{rec}); err != nil {
			GetLogger().Warn("Failed to render result", logger.Error(err))
		}
	}
}

// logHandler logs each live result.
func logHandler() camera.ResultHandler {
	log := GetLogger().Module("feed")
	return func(r worker.Result) {
		if r.Err != nil {
			log.Warn("Frame classification failed", logger.String("frame", r.Job.ID), logger.Error(r.Err))
			return
		}
		log.Info("Frame classified",
			logger.String("frame", r.Job.ID),
			logger.String("label", r.Prediction.DisplayLabel()),
			logger.Float32("confidence", r.Prediction.Confidence),
			logger.Int64("latency_ms", r.Prediction.Latency.Milliseconds()))
	}
}

// startPublisher connects to the broker when MQTT is enabled. A broker that
// cannot be reached at startup does not stop the feed; every publish then
// fails and is counted. The returned stop function is always safe to call.
func startPublisher(ctx context.Context, p *Pipeline) (*mqtt.Publisher, func()) {
	if !p.Settings.MQTT.Enabled {
		return nil, func() {}
	}
	cfg := mqtt.ConfigFromSettings(p.Settings)
	client := mqtt.NewClient(cfg, p.Metrics.MQTT)
	return newPublisher(ctx, client, cfg, p)
}

func newPublisher(ctx context.Context, client mqtt.Client, cfg mqtt.Config, p *Pipeline) (*mqtt.Publisher, func()) {
	if err := client.Connect(ctx); err != nil {
		GetLogger().Warn("MQTT broker unavailable, predictions will not be published",
			logger.String("broker", privacy.SanitizeBrokerURL(cfg.Broker)),
			logger.Error(err))
	}
	pub := mqtt.NewPublisher(client, cfg, p.Settings.Main.Name, p.Metrics.MQTT)
	return pub, func() {
		pub.Close()
		client.Disconnect()
	}
}
