package api

import (
	"context"
	"fmt"
	"image"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/patrickmn/go-cache"

	"github.com/cassavanet/cassavanet/internal/classifier"
	"github.com/cassavanet/cassavanet/internal/engine"
	"github.com/cassavanet/cassavanet/internal/errors"
	"github.com/cassavanet/cassavanet/internal/labels"
	"github.com/cassavanet/cassavanet/internal/logger"
	"github.com/cassavanet/cassavanet/internal/observability"
)

// Classifier is what the handlers need from the classifier.
type Classifier interface {
	Classify(img image.Image) (classifier.Prediction, error)
	Labels() *labels.Table
}

// Server wraps the echo instance and its dependencies.
type Server struct {
	echo       *echo.Echo
	config     *Config
	classifier Classifier
	modelInfo  *engine.Info
	metrics    *observability.Metrics
	results    *cache.Cache
	log        logger.Logger
	startTime  time.Time
}

// ServerOption is a functional option for configuring the Server.
type ServerOption func(*Server)

// WithMetrics enables /metrics and request metrics.
func WithMetrics(m *observability.Metrics) ServerOption {
	return func(s *Server) { s.metrics = m }
}

// WithModelInfo reports the loaded model on the health endpoint.
func WithModelInfo(info engine.Info) ServerOption {
	return func(s *Server) { s.modelInfo = &info }
}

// WithLogger overrides the module logger.
func WithLogger(l logger.Logger) ServerOption {
	return func(s *Server) { s.log = l }
}

// New creates the HTTP server and registers its routes.
func New(cfg *Config, c Classifier, opts ...ServerOption) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid server configuration: %w", err)
	}
	if c == nil {
		return nil, errors.Newf("api: classifier is nil").
			Component("api").
			Category(errors.CategoryConfiguration).
			Build()
	}

	s := &Server{
		config:     cfg,
		classifier: c,
		results:    cache.New(cfg.ResultTTL, 2*cfg.ResultTTL),
		startTime:  time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = GetLogger()
	}

	s.echo = echo.New()
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Server.ReadTimeout = cfg.ReadTimeout
	s.echo.Server.WriteTimeout = cfg.WriteTimeout
	s.echo.Server.IdleTimeout = cfg.IdleTimeout

	s.setupMiddleware()
	s.setupRoutes()

	s.log.Info("HTTP server initialized", logger.String("address", cfg.Listen))
	return s, nil
}

func (s *Server) setupMiddleware() {
	s.echo.Use(echomw.Recover())
	s.echo.Use(newRequestID())
	s.echo.Use(newRequestLogger(s.log))
	if s.metrics != nil {
		s.echo.Use(newMetricsMiddleware(s.metrics.HTTP))
	}
	s.echo.Use(echomw.BodyLimit(fmt.Sprintf("%dB", s.config.MaxUploadSize+(1<<20))))
}

func (s *Server) setupRoutes() {
	v1 := s.echo.Group("/api/v1")
	v1.POST("/classify", s.classify)
	v1.GET("/predictions/:id", s.getPrediction)
	v1.GET("/labels", s.getLabels)
	v1.GET("/health", s.healthCheck)
	v1.GET("/about", s.about)

	if s.metrics != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("Starting HTTP server", logger.String("address", s.config.Listen))
		if err := s.echo.Start(s.config.Listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- errors.New(fmt.Errorf("server error: %w", err)).
				Component("api").
				Category(errors.CategoryHTTP).
				Build()
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	if err := s.Shutdown(); err != nil {
		return err
	}
	return <-errCh
}

// Shutdown stops the server, waiting up to the shutdown timeout for
// in-flight requests.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	s.log.Info("Shutting down HTTP server")
	s.results.Flush()
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}
