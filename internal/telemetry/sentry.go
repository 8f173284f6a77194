// Package telemetry provides opt-in, privacy-filtered error reporting to Sentry.
package telemetry

import (
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/cassavanet/cassavanet/internal/conf"
	"github.com/cassavanet/cassavanet/internal/errors"
	"github.com/cassavanet/cassavanet/internal/logger"
	"github.com/cassavanet/cassavanet/internal/privacy"
)

var (
	serviceLogger logger.Logger
	initOnce      sync.Once
)

// GetLogger returns the telemetry module logger.
func GetLogger() logger.Logger {
	initOnce.Do(func() {
		serviceLogger = logger.Global().Module("telemetry")
	})
	return serviceLogger
}

// InitSentry initializes the Sentry SDK and installs the Sentry reporter for
// enhanced errors. It is a no-op unless sentry.enabled is set.
func InitSentry(settings *conf.Settings) error {
	log := GetLogger()

	if !settings.Sentry.Enabled {
		log.Debug("Sentry telemetry is disabled (opt-in required)")
		errors.SetTelemetryReporter(nil)
		return nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              settings.Sentry.DSN,
		SampleRate:       1.0,
		Debug:            settings.Sentry.Debug,
		AttachStacktrace: false,
		Environment:      "production",
		ServerName:       "",
		Release:          fmt.Sprintf("cassavanet@%s", settings.Version),
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			return applyPrivacyFilters(event)
		},
	})
	if err != nil {
		return errors.New(fmt.Errorf("sentry initialization failed: %w", err)).
			Component("telemetry").
			Category(errors.CategoryConfiguration).
			Build()
	}

	sentry.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetTag("os", runtime.GOOS)
		scope.SetTag("arch", runtime.GOARCH)
		scope.SetTag("engine", settings.Model.Type)
	})

	errors.SetTelemetryReporter(errors.NewSentryReporter(true))

	log.Info("Sentry telemetry initialized",
		logger.String("release", settings.Version),
		logger.String("engine", settings.Model.Type))
	return nil
}

// Flush waits up to timeout for queued events to be sent.
func Flush(timeout time.Duration) bool {
	if errors.GetTelemetryReporter() == nil {
		return true
	}
	return sentry.Flush(timeout)
}

// applyPrivacyFilters strips host and user identifying data from an event.
func applyPrivacyFilters(event *sentry.Event) *sentry.Event {
	event.User = sentry.User{}
	event.ServerName = ""

	for _, key := range []string{"device", "os", "runtime"} {
		delete(event.Contexts, key)
	}
	for k := range event.Extra {
		if k != "error_type" && k != "component" {
			delete(event.Extra, k)
		}
	}
	delete(event.Tags, "server_name")
	delete(event.Tags, "hostname")

	event.Message = privacy.ScrubMessage(event.Message)
	for i := range event.Exception {
		event.Exception[i].Value = privacy.ScrubMessage(event.Exception[i].Value)
	}

	return event
}
