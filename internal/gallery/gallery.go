// Package gallery is the selected-image front end: the user picks an image,
// then asks for a prediction that runs on a queue worker.
package gallery

import (
	"context"
	"image"
	"sync"

	"github.com/cassavanet/cassavanet/internal/errors"
	"github.com/cassavanet/cassavanet/internal/logger"
	"github.com/cassavanet/cassavanet/internal/preprocess"
	"github.com/cassavanet/cassavanet/internal/worker"
)

// User-facing messages.
const (
	MsgProcessingError = "Error processing the image"
	MsgNoImage         = "Please upload an image first"
)

// ErrNoImage is returned by Predict when nothing is selected.
var ErrNoImage = &UserError{Message: MsgNoImage}

var (
	serviceLogger logger.Logger
	initOnce      sync.Once
)

// GetLogger returns the gallery module logger.
func GetLogger() logger.Logger {
	initOnce.Do(func() {
		serviceLogger = logger.Global().Module("gallery")
	})
	return serviceLogger
}

// UserError carries a message meant for the user and the underlying cause.
type UserError struct {
	Message string
	Err     error
}

func (e *UserError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *UserError) Unwrap() error { return e.Err }

// Open decodes the image at path. Failures are logged and returned as a
// UserError with MsgProcessingError.
func Open(path string) (image.Image, error) {
	img, err := preprocess.DecodeFile(path)
	if err != nil {
		GetLogger().Error(MsgProcessingError, logger.String("path", path), logger.Error(err))
		return nil, &UserError{Message: MsgProcessingError, Err: err}
	}
	return img, nil
}

// Session holds the current selection and the queue worker predictions run on.
type Session struct {
	worker *worker.Worker

	mu       sync.Mutex
	selected image.Image
	path     string
}

// NewSession starts a session backed by a queue worker. Callers must drain
// Results and call Close.
func NewSession(c worker.Classifier, opts ...worker.Option) *Session {
	opts = append([]worker.Option{worker.WithName("gallery")}, opts...)
	return &Session{worker: worker.New(c, worker.Queue, opts...)}
}

// Select opens path and makes it the current selection. On failure the
// previous selection is kept.
func (s *Session) Select(path string) error {
	img, err := Open(path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.selected = img
	s.path = path
	s.mu.Unlock()

	GetLogger().Debug("Image selected", logger.String("path", path),
		logger.Int("width", img.Bounds().Dx()), logger.Int("height", img.Bounds().Dy()))
	return nil
}

// Selected returns the path of the current selection.
func (s *Session) Selected() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path, s.selected != nil
}

// Predict queues the current selection for classification. Without a
// selection it returns ErrNoImage and nothing runs.
func (s *Session) Predict() error {
	s.mu.Lock()
	img, path := s.selected, s.path
	s.mu.Unlock()

	if img == nil {
		return ErrNoImage
	}
	if err := s.worker.Submit(worker.Job{ID: path, Image: img}); err != nil {
		return errors.New(err).
			Component("gallery").
			Category(errors.CategoryWorker).
			Build()
	}
	return nil
}

// Results delivers predictions in submission order.
func (s *Session) Results() <-chan worker.Result {
	return s.worker.Results()
}

// Close stops the worker; see worker.Worker.Close.
func (s *Session) Close(ctx context.Context) error {
	return s.worker.Close(ctx)
}
