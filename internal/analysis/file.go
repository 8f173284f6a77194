package analysis

import (
	"context"
	"io"

	"github.com/cassavanet/cassavanet/internal/display"
	"github.com/cassavanet/cassavanet/internal/gallery"
	"github.com/cassavanet/cassavanet/internal/logger"
	"github.com/cassavanet/cassavanet/internal/worker"
)

// FileAnalysis classifies a single image file and renders the prediction to w.
// A failed classification is rendered and also returned.
func FileAnalysis(ctx context.Context, p *Pipeline, path string, format display.Format, w io.Writer) error {
	session := gallery.NewSession(p.Classifier, worker.WithRecorder(p.Metrics.Worker))
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := session.Close(closeCtx); err != nil {
			GetLogger().Warn("Gallery worker did not stop in time", logger.Error(err))
		}
	}()

	if err := session.Select(path); err != nil {
		return err
	}
	if err := session.Predict(); err != nil {
		return err
	}

	select {
	case r := <-session.Results():
		if err := display.Render(w, format, []display.Record{display.NewRecord(path, r.Prediction, r.Err)}); err != nil {
			return err
		}
		return r.Err
	case <-ctx.Done():
		return ErrAnalysisCanceled
	}
}
