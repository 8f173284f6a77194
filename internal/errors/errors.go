// Package errors wraps errors with a component, a category and context so
// failures can be grouped in logs, metrics and telemetry.
package errors

import (
	stderrors "errors"
	"fmt"
	"maps"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"time"
)

// ErrorCategory groups errors by what failed.
type ErrorCategory string

const (
	CategoryModelInit     ErrorCategory = "model-initialization"
	CategoryModelLoad     ErrorCategory = "model-loading"
	CategoryModelInvoke   ErrorCategory = "model-invoke"
	CategoryLabelLoad     ErrorCategory = "label-loading"
	CategoryImageDecode   ErrorCategory = "image-decode"
	CategoryProcessing    ErrorCategory = "processing"
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryValidation    ErrorCategory = "validation"
	CategoryWorker        ErrorCategory = "worker-pool"
	CategoryFileIO        ErrorCategory = "file-io"
	CategoryMQTTConnect   ErrorCategory = "mqtt-connection"
	CategoryMQTTPublish   ErrorCategory = "mqtt-publish"
	CategoryHTTP          ErrorCategory = "http-request"
	CategoryNotFound      ErrorCategory = "not-found"
	CategoryGeneric       ErrorCategory = "generic"
)

// ComponentUnknown is used when the component cannot be determined.
const ComponentUnknown = "unknown"

// EnhancedError is an error with a component, a category and context. It is
// immutable once built apart from the reported flag.
type EnhancedError struct {
	Err       error
	Category  ErrorCategory
	Context   map[string]any
	Timestamp time.Time

	component string
	reported  atomic.Bool
}

func (ee *EnhancedError) Error() string {
	return ee.Err.Error()
}

func (ee *EnhancedError) Unwrap() error {
	return ee.Err
}

// Is matches another EnhancedError by category, anything else by the wrapped error.
func (ee *EnhancedError) Is(target error) bool {
	if other, ok := target.(*EnhancedError); ok {
		return ee.Category == other.Category
	}
	return stderrors.Is(ee.Err, target)
}

// GetComponent returns the package the error was built in, e.g. "engine/tflite".
func (ee *EnhancedError) GetComponent() string {
	return ee.component
}

func (ee *EnhancedError) GetCategory() string {
	return string(ee.Category)
}

// GetContext returns a copy of the error context.
func (ee *EnhancedError) GetContext() map[string]any {
	return maps.Clone(ee.Context)
}

// MarkReported records that the error was sent to telemetry.
func (ee *EnhancedError) MarkReported() {
	ee.reported.Store(true)
}

func (ee *EnhancedError) IsReported() bool {
	return ee.reported.Load()
}

// ErrorBuilder assembles an EnhancedError.
type ErrorBuilder struct {
	err       error
	component string
	category  ErrorCategory
	context   map[string]any
}

// New starts an error from err.
func New(err error) *ErrorBuilder {
	return &ErrorBuilder{err: err}
}

// Newf starts an error from a format string.
func Newf(format string, args ...any) *ErrorBuilder {
	return New(fmt.Errorf(format, args...))
}

// Component names the package the error belongs to. Detected from the call
// stack when unset and telemetry is active.
func (eb *ErrorBuilder) Component(component string) *ErrorBuilder {
	eb.component = component
	return eb
}

func (eb *ErrorBuilder) Category(category ErrorCategory) *ErrorBuilder {
	eb.category = category
	return eb
}

// Context adds one key to the error context. Values must not carry user paths
// or credentials.
func (eb *ErrorBuilder) Context(key string, value any) *ErrorBuilder {
	if eb.context == nil {
		eb.context = make(map[string]any)
	}
	eb.context[key] = value
	return eb
}

// ModelContext records the engine and the model file type. The path itself is
// never stored.
func (eb *ErrorBuilder) ModelContext(modelPath, engineType string) *ErrorBuilder {
	eb.Context("model_file", fileKind(modelPath))
	if engineType != "" {
		eb.Context("engine", engineType)
	}
	return eb
}

// FileContext records the extension and a size bucket of an image or label
// file. size 0 means unknown.
func (eb *ErrorBuilder) FileContext(path string, size int64) *ErrorBuilder {
	if path != "" {
		eb.Context("file_extension", fileKind(path))
	}
	if size > 0 {
		eb.Context("file_size", sizeBucket(size))
	}
	return eb
}

// Timing names the failed operation and how long it ran. The operation also
// becomes part of the telemetry title.
func (eb *ErrorBuilder) Timing(operation string, d time.Duration) *ErrorBuilder {
	eb.Context("operation", operation)
	eb.Context("duration_ms", d.Milliseconds())
	return eb
}

func fileKind(path string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	if ext == "" {
		return "none"
	}
	return ext
}

func sizeBucket(size int64) string {
	switch {
	case size < 64<<10:
		return "under-64k"
	case size < 1<<20:
		return "under-1m"
	case size < 16<<20:
		return "under-16m"
	default:
		return "16m-or-more"
	}
}

// Build creates the error and reports it when a telemetry reporter is
// installed. Component and category detection only run in that case.
func (eb *ErrorBuilder) Build() *EnhancedError {
	if eb.err == nil {
		eb.err = stderrors.New("unspecified error")
	}

	reporting := hasActiveReporting.Load()
	if eb.component == "" {
		eb.component = ComponentUnknown
		if reporting {
			eb.component = detectComponent()
		}
	}
	if eb.category == "" {
		eb.category = CategoryGeneric
		if reporting {
			eb.category = detectCategory(eb.err)
		}
	}

	ee := &EnhancedError{
		Err:       eb.err,
		Category:  eb.category,
		Context:   eb.context,
		Timestamp: time.Now(),
		component: eb.component,
	}
	if reporting {
		reportToTelemetry(ee)
	}
	return ee
}

const modulePrefix = "github.com/cassavanet/cassavanet/"

// detectComponent walks the call stack and names the first package outside
// this one.
func detectComponent() string {
	pcs := make([]uintptr, 16)
	n := runtime.Callers(3, pcs)
	frames := runtime.CallersFrames(pcs[:n])

	for {
		frame, more := frames.Next()
		if component := componentFromFunc(frame.Function); component != "" {
			return component
		}
		if !more {
			return ComponentUnknown
		}
	}
}

func componentFromFunc(funcName string) string {
	rest, ok := strings.CutPrefix(funcName, modulePrefix)
	if !ok {
		return ""
	}
	rest = strings.TrimPrefix(rest, "internal/")

	// "engine/tflite.(*Engine).Invoke" -> "engine/tflite"
	slash := strings.LastIndex(rest, "/")
	if dot := strings.Index(rest[slash+1:], "."); dot >= 0 {
		rest = rest[:slash+1+dot]
	}
	if rest == "errors" {
		return ""
	}
	return rest
}

// detectCategory takes the category of a wrapped EnhancedError, or guesses
// one from the message.
func detectCategory(err error) ErrorCategory {
	var inner *EnhancedError
	if stderrors.As(err, &inner) && inner.Category != "" {
		return inner.Category
	}

	msg := strings.ToLower(err.Error())
	has := func(s string) bool { return strings.Contains(msg, s) }
	switch {
	case has("model") && (has("load") || has("read")):
		return CategoryModelLoad
	case has("model"):
		return CategoryModelInit
	case has("label"):
		return CategoryLabelLoad
	case has("decode"), has("image"):
		return CategoryImageDecode
	case has("mqtt"):
		return CategoryMQTTPublish
	case has("invalid"), has("validation"):
		return CategoryValidation
	case has("file"), has("open"):
		return CategoryFileIO
	}
	return CategoryGeneric
}

// NewStd is errors.New from the standard library.
func NewStd(text string) error {
	return stderrors.New(text)
}

func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

func As(err error, target any) bool {
	return stderrors.As(err, target)
}

func Join(errs ...error) error {
	return stderrors.Join(errs...)
}

// IsCategory reports whether err wraps an EnhancedError of the given category.
func IsCategory(err error, category ErrorCategory) bool {
	var ee *EnhancedError
	return As(err, &ee) && ee.Category == category
}

// hasActiveReporting is true while an enabled reporter is installed.
var hasActiveReporting atomic.Bool
