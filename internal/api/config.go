// Package api is the HTTP front end: image upload classification, recent
// prediction lookup, label listing, health and Prometheus metrics.
package api

import (
	"sync"
	"time"

	"github.com/cassavanet/cassavanet/internal/conf"
	"github.com/cassavanet/cassavanet/internal/errors"
	"github.com/cassavanet/cassavanet/internal/logger"
)

var (
	serviceLogger logger.Logger
	initOnce      sync.Once
)

// GetLogger returns the api module logger.
func GetLogger() logger.Logger {
	initOnce.Do(func() {
		serviceLogger = logger.Global().Module("api")
	})
	return serviceLogger
}

// Default constants for the HTTP server.
const (
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 30 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
	DefaultResultTTL       = 5 * time.Minute
	DefaultMaxUploadSize   = 10 << 20
)

// Config holds the HTTP server configuration.
type Config struct {
	Listen          string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	ResultTTL       time.Duration // how long a prediction can be fetched by id
	MaxUploadSize   int64         // bytes
	Version         string
	BuildDate       string
}

// DefaultConfig returns a Config with the default timeouts and limits.
func DefaultConfig() *Config {
	return &Config{
		Listen:          ":8080",
		ReadTimeout:     DefaultReadTimeout,
		WriteTimeout:    DefaultWriteTimeout,
		IdleTimeout:     DefaultIdleTimeout,
		ShutdownTimeout: DefaultShutdownTimeout,
		ResultTTL:       DefaultResultTTL,
		MaxUploadSize:   DefaultMaxUploadSize,
	}
}

// ConfigFromSettings creates a Config from the webserver settings section.
func ConfigFromSettings(settings *conf.Settings) *Config {
	cfg := DefaultConfig()
	if settings.WebServer.Listen != "" {
		cfg.Listen = settings.WebServer.Listen
	}
	if settings.WebServer.ResultTTL > 0 {
		cfg.ResultTTL = settings.WebServer.ResultTTL
	}
	if settings.WebServer.MaxUploadSize > 0 {
		cfg.MaxUploadSize = settings.WebServer.MaxUploadSize
	}
	cfg.Version = settings.Version
	cfg.BuildDate = settings.BuildDate
	return cfg
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	var errs []error
	if c.Listen == "" {
		errs = append(errs, errors.NewStd("listen address is required"))
	}
	if c.ResultTTL <= 0 {
		errs = append(errs, errors.NewStd("result ttl must be positive"))
	}
	if c.MaxUploadSize <= 0 {
		errs = append(errs, errors.NewStd("max upload size must be positive"))
	}
	if len(errs) > 0 {
		return errors.New(errors.Join(errs...)).
			Component("api").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return nil
}
