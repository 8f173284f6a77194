package errors

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"unicode"

	"github.com/getsentry/sentry-go"

	"github.com/cassavanet/cassavanet/internal/privacy"
)

// TelemetryReporter is an interface for reporting errors to telemetry systems
type TelemetryReporter interface {
	ReportError(err *EnhancedError)
	IsEnabled() bool
}

// SentryReporter implements TelemetryReporter for Sentry
type SentryReporter struct {
	enabled bool
}

// NewSentryReporter creates a new Sentry telemetry reporter
func NewSentryReporter(enabled bool) *SentryReporter {
	return &SentryReporter{enabled: enabled}
}

// IsEnabled returns whether Sentry telemetry is enabled
func (sr *SentryReporter) IsEnabled() bool {
	return sr.enabled
}

// ReportError reports an enhanced error to Sentry with file paths and
// secrets scrubbed from the message.
func (sr *SentryReporter) ReportError(ee *EnhancedError) {
	if !sr.enabled || ee.IsReported() {
		return
	}

	event := buildSentryEvent(ee)

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", ee.GetComponent())
		scope.SetTag("category", string(ee.Category))
		scope.SetTag("error_type", fmt.Sprintf("%T", ee.Err))

		for key, value := range ee.GetContext() {
			if s, ok := value.(string); ok {
				value = scrubMessage(s)
			}
			scope.SetContext(key, map[string]any{"value": value})
		}

		scope.SetFingerprint([]string{event.Exception[0].Type, ee.GetComponent(), string(ee.Category)})
		sentry.CaptureEvent(event)
	})

	ee.MarkReported()
}

// buildSentryEvent converts an EnhancedError into a Sentry event whose
// exception type is a readable title such as "Classifier Model Invoke Error".
func buildSentryEvent(ee *EnhancedError) *sentry.Event {
	message := scrubMessage(fmt.Sprintf("[%s] %s", ee.Category, ee.Err.Error()))
	level := getErrorLevel(ee.Category)

	event := sentry.NewEvent()
	event.Message = message
	event.Level = level
	event.Exception = []sentry.Exception{{
		Type:  generateErrorTitle(ee),
		Value: message,
	}}
	return event
}

// generateErrorTitle creates a meaningful error title based on enhanced error context
func generateErrorTitle(ee *EnhancedError) string {
	var parts []string

	if c := ee.GetComponent(); c != "" && c != ComponentUnknown {
		parts = append(parts, titleWords(strings.ReplaceAll(c, "/", " ")))
	}
	if ee.Category != "" {
		parts = append(parts, titleWords(strings.ReplaceAll(string(ee.Category), "-", " "))+" Error")
	}
	if op, ok := ee.GetContext()["operation"].(string); ok && op != "" {
		parts = append(parts, titleWords(strings.ReplaceAll(op, "_", " ")))
	}

	if len(parts) == 0 {
		return fmt.Sprintf("%T", ee.Err)
	}
	return strings.Join(parts, " ")
}

func titleWords(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}

// getErrorLevel returns appropriate Sentry level based on category
func getErrorLevel(category ErrorCategory) sentry.Level {
	switch category {
	case CategoryImageDecode, CategoryMQTTPublish, CategoryMQTTConnect, CategoryHTTP, CategoryFileIO:
		return sentry.LevelWarning
	default:
		return sentry.LevelError
	}
}

var (
	telemetryMu             sync.RWMutex
	globalTelemetryReporter TelemetryReporter
)

// SetTelemetryReporter sets the global telemetry reporter. Passing nil
// disables reporting and re-enables the fast path in Build.
func SetTelemetryReporter(reporter TelemetryReporter) {
	telemetryMu.Lock()
	defer telemetryMu.Unlock()
	globalTelemetryReporter = reporter
	hasActiveReporting.Store(reporter != nil && reporter.IsEnabled())
}

// GetTelemetryReporter returns the current telemetry reporter
func GetTelemetryReporter() TelemetryReporter {
	telemetryMu.RLock()
	defer telemetryMu.RUnlock()
	return globalTelemetryReporter
}

func reportToTelemetry(ee *EnhancedError) {
	if r := GetTelemetryReporter(); r != nil && r.IsEnabled() {
		r.ReportError(ee)
	}
}

var secretRegex = regexp.MustCompile(`(?i)(password|token|api[_-]?key)[=:]\S+`)

// scrubMessage redacts credentials, then hands the message to the privacy
// scrubber for URLs and paths.
func scrubMessage(message string) string {
	return privacy.ScrubMessage(secretRegex.ReplaceAllString(message, "$1=[REDACTED]"))
}
