// conf/validate.go

package conf

import (
	"fmt"
	"slices"
	"strings"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidRotations are the clockwise frame rotations the camera front end supports.
var ValidRotations = []int{0, 90, 180, 270}

// ValidOutputFormats are the accepted output.format values.
var ValidOutputFormats = []string{"text", "table", "json", "yaml"}

var validLogLevels = []string{"trace", "debug", "info", "warn", "error"}

// ValidateSettings validates the entire Settings struct and reports every
// problem found, not just the first.
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	ve.Errors = append(ve.Errors, validateModelSettings(&settings.Model)...)
	ve.Errors = append(ve.Errors, validateCameraSettings(&settings.Camera)...)
	ve.Errors = append(ve.Errors, validateWebServerSettings(&settings.WebServer)...)
	ve.Errors = append(ve.Errors, validateMQTTSettings(&settings.MQTT)...)
	ve.Errors = append(ve.Errors, validateLoggingSettings(settings)...)

	if settings.Output.Format != "" && !slices.Contains(ValidOutputFormats, strings.ToLower(settings.Output.Format)) {
		ve.Errors = append(ve.Errors, fmt.Sprintf("output: format must be one of %v, got %q", ValidOutputFormats, settings.Output.Format))
	}

	if settings.Sentry.Enabled && settings.Sentry.DSN == "" {
		ve.Errors = append(ve.Errors, "sentry: dsn is required when sentry is enabled")
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateModelSettings(m *ModelSettings) []string {
	var errs []string

	switch strings.ToLower(m.Type) {
	case EngineTFLite, EngineONNX:
	default:
		errs = append(errs, fmt.Sprintf("model: unknown engine type %q, expected %q or %q", m.Type, EngineTFLite, EngineONNX))
	}

	if m.Path == "" {
		errs = append(errs, "model: path must not be empty")
	}
	if m.InputSize <= 0 {
		errs = append(errs, fmt.Sprintf("model: input size must be positive, got %d", m.InputSize))
	}
	if m.Threads < 0 {
		errs = append(errs, fmt.Sprintf("model: threads must be 0 (auto) or positive, got %d", m.Threads))
	}
	if strings.EqualFold(m.Type, EngineONNX) && (m.ONNX.InputName == "" || m.ONNX.OutputName == "") {
		errs = append(errs, "model: onnx input and output names are required")
	}

	return errs
}

func validateCameraSettings(c *CameraSettings) []string {
	var errs []string

	if !slices.Contains(ValidRotations, c.Rotation) {
		errs = append(errs, fmt.Sprintf("camera: rotation must be one of %v, got %d", ValidRotations, c.Rotation))
	}
	if c.MaxFPS < 0 {
		errs = append(errs, fmt.Sprintf("camera: maxfps must not be negative, got %v", c.MaxFPS))
	}

	return errs
}

func validateWebServerSettings(w *WebServerSettings) []string {
	if !w.Enabled {
		return nil
	}

	var errs []string
	if w.Listen == "" {
		errs = append(errs, "webserver: listen address must not be empty")
	}
	if w.ResultTTL <= 0 {
		errs = append(errs, "webserver: resultttl must be positive")
	}
	if w.MaxUploadSize <= 0 {
		errs = append(errs, "webserver: maxuploadsize must be positive")
	}
	return errs
}

func validateMQTTSettings(m *MQTTSettings) []string {
	if !m.Enabled {
		return nil
	}

	var errs []string
	if m.Broker == "" {
		errs = append(errs, "mqtt: broker is required when mqtt is enabled")
	}
	if m.Topic == "" {
		errs = append(errs, "mqtt: topic is required when mqtt is enabled")
	}
	if m.QoS < 0 || m.QoS > 2 {
		errs = append(errs, fmt.Sprintf("mqtt: qos must be 0, 1 or 2, got %d", m.QoS))
	}
	return errs
}

func validateLoggingSettings(s *Settings) []string {
	var errs []string

	check := func(name, level string) {
		if level != "" && !slices.Contains(validLogLevels, strings.ToLower(level)) {
			errs = append(errs, fmt.Sprintf("logging: invalid %s level %q", name, level))
		}
	}

	check("default", s.Logging.DefaultLevel)
	if s.Logging.Console != nil {
		check("console", s.Logging.Console.Level)
	}
	if s.Logging.FileOutput != nil {
		check("file", s.Logging.FileOutput.Level)
	}
	for module, level := range s.Logging.ModuleLevels {
		check("module "+module, level)
	}

	return errs
}
