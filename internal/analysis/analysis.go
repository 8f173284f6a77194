// Package analysis runs the classifier for the command line front ends:
// single files, directories, a watched frame directory and the HTTP server.
package analysis

import (
	"context"
	"sync"
	"time"

	"github.com/cassavanet/cassavanet/internal/classifier"
	"github.com/cassavanet/cassavanet/internal/conf"
	"github.com/cassavanet/cassavanet/internal/engine"
	"github.com/cassavanet/cassavanet/internal/engine/loader"
	"github.com/cassavanet/cassavanet/internal/errors"
	"github.com/cassavanet/cassavanet/internal/labels"
	"github.com/cassavanet/cassavanet/internal/logger"
	"github.com/cassavanet/cassavanet/internal/observability"
)

// ErrAnalysisCanceled is returned when the analysis is canceled by the user
var ErrAnalysisCanceled = errors.NewStd("analysis canceled")

// shutdownTimeout bounds how long a front end waits for the worker to finish
// the frame in flight.
const shutdownTimeout = 10 * time.Second

var (
	serviceLogger logger.Logger
	initOnce      sync.Once
)

// GetLogger returns the analysis module logger.
func GetLogger() logger.Logger {
	initOnce.Do(func() {
		serviceLogger = logger.Global().Module("analysis")
	})
	return serviceLogger
}

type engineOpener func(conf.ModelSettings, loader.LoadRecorder) (engine.Runtime, error)

// Pipeline is a loaded model with its label table and metrics.
type Pipeline struct {
	Settings   *conf.Settings
	Metrics    *observability.Metrics
	Classifier *classifier.Classifier
	Info       engine.Info
}

// NewPipeline loads the label table and the model named in settings. A model
// that fails to load is fatal: there is no fallback engine.
func NewPipeline(settings *conf.Settings) (*Pipeline, error) {
	return newPipeline(settings, loader.Open)
}

func newPipeline(settings *conf.Settings, open engineOpener) (*Pipeline, error) {
	log := GetLogger()

	m, err := observability.NewMetrics(settings.Model.Type)
	if err != nil {
		return nil, errors.New(err).
			Component("analysis").
			Category(errors.CategoryConfiguration).
			Build()
	}

	table, err := labels.Load(settings.Labels.Path)
	if err != nil {
		log.Error("Failed to load label table", logger.String("path", settings.Labels.Path), logger.Error(err))
		return nil, err
	}

	rt, err := open(settings.Model, m.Classifier)
	if err != nil {
		return nil, err
	}
	info := rt.Info()

	c, err := classifier.New(rt, table,
		classifier.WithInputSize(settings.Model.InputSize),
		classifier.WithRecorder(m.Classifier))
	if err != nil {
		if cerr := rt.Close(); cerr != nil {
			log.Warn("Failed to release engine", logger.Error(cerr))
		}
		m.Classifier.SetModelUnloaded()
		return nil, err
	}

	if table.MaxIndex() >= info.Classes {
		log.Warn("Label table has entries the model never predicts",
			logger.Int("model_classes", info.Classes),
			logger.Int("max_label_index", table.MaxIndex()))
	}

	log.Info("Classifier ready",
		logger.String("engine", info.Type),
		logger.String("model", info.Path),
		logger.Int("classes", info.Classes),
		logger.Int("labels", table.Len()),
		logger.Int("threads", info.Threads))

	return &Pipeline{Settings: settings, Metrics: m, Classifier: c, Info: info}, nil
}

// Close releases the engine.
func (p *Pipeline) Close() error {
	err := p.Classifier.Close()
	p.Metrics.Classifier.SetModelUnloaded()
	return err
}

// WithPipeline loads a pipeline, runs fn with it and releases it afterwards.
func WithPipeline(settings *conf.Settings, fn func(*Pipeline) error) error {
	p, err := NewPipeline(settings)
	if err != nil {
		return err
	}
	defer func() {
		if err := p.Close(); err != nil {
			GetLogger().Warn("Failed to release engine", logger.Error(err))
		}
	}()
	return fn(p)
}

// canceled maps a context error to ErrAnalysisCanceled.
func canceled(ctx context.Context) error {
	if ctx.Err() != nil {
		return ErrAnalysisCanceled
	}
	return nil
}
