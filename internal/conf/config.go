// conf/config.go
package conf

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"

	"github.com/cassavanet/cassavanet/internal/logger"
)

//go:embed config.yaml
var configFiles embed.FS

// EnvPrefix is the prefix for environment overrides, e.g.
// CASSAVANET_MODEL_PATH overrides model.path.
const EnvPrefix = "CASSAVANET"

// Engine types accepted in model.type
const (
	EngineTFLite = "tflite"
	EngineONNX   = "onnx"
)

// ModelSettings contains settings for the inference engine.
type ModelSettings struct {
	Path       string       // path to the model artifact
	Type       string       // engine type, tflite or onnx
	Threads    int          // number of CPU threads, 0 means auto
	UseXNNPACK bool         // use the XNNPACK delegate (tflite only)
	InputSize  int          // square input edge in pixels
	ONNX       ONNXSettings // onnx runtime specific settings
}

// ONNXSettings contains ONNX Runtime specific settings.
type ONNXSettings struct {
	LibraryPath string // path to the onnxruntime shared library, empty for the system default
	InputName   string // model input tensor name
	OutputName  string // model output tensor name
}

// LabelSettings contains settings for the label table.
type LabelSettings struct {
	Path string // path to a labels.json file, empty for the bundled table
}

// CameraSettings contains settings for the live feed front end.
type CameraSettings struct {
	WatchDir string  // directory watched for new frames
	Rotation int     // clockwise sensor rotation applied to every frame
	MaxFPS   float64 // maximum frames per second handed to the classifier, 0 is unlimited
}

// WebServerSettings contains settings for the HTTP front end.
type WebServerSettings struct {
	Enabled       bool
	Listen        string        // listen address, e.g. ":8080"
	ResultTTL     time.Duration // how long a prediction can be fetched by id
	MaxUploadSize int64         // maximum accepted upload size in bytes
}

// MQTTSettings contains settings for publishing predictions.
type MQTTSettings struct {
	Enabled  bool
	Broker   string // e.g. tcp://localhost:1883
	Topic    string
	ClientID string
	Username string
	Password string
	QoS      int
	Retain   bool
}

// OutputSettings contains settings for command line output.
type OutputSettings struct {
	Format string // text, table, json or yaml
}

// SentrySettings contains settings for opt-in error telemetry.
type SentrySettings struct {
	Enabled bool
	DSN     string
	Debug   bool
}

// Settings contains all configuration options.
type Settings struct {
	Debug bool

	Main struct {
		Name string // name of this node, used in MQTT payloads and health output
	}

	Model     ModelSettings
	Labels    LabelSettings
	Camera    CameraSettings
	WebServer WebServerSettings
	MQTT      MQTTSettings
	Output    OutputSettings
	Logging   logger.LoggingConfig
	Sentry    SentrySettings

	Version   string `yaml:"-" mapstructure:"-"`
	BuildDate string `yaml:"-" mapstructure:"-"`
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads the configuration file and environment variables. When
// configFile is empty the default locations are searched and a default
// config.yaml is written to the first of them if none exists.
func Load(configFile string) (*Settings, error) {
	var configPaths []string
	if configFile == "" {
		var err error
		configPaths, err = GetDefaultConfigPaths()
		if err != nil {
			return nil, fmt.Errorf("error getting default config paths: %w", err)
		}
	}
	return load(configFile, configPaths)
}

func load(configFile string, configPaths []string) (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	if err := initViper(configFile, configPaths); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	settings := &Settings{}
	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// initViper initializes viper with default values and reads the configuration file.
func initViper(configFile string, configPaths []string) error {
	setDefaultConfig()

	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading config file %s: %w", configFile, err)
		}
		return nil
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	err := viper.ReadInConfig()
	if err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			return createDefaultConfig(configPaths)
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	return nil
}

// createDefaultConfig writes the embedded default config to the first config path
func createDefaultConfig(configPaths []string) error {
	if len(configPaths) == 0 {
		return fmt.Errorf("no config path to write the default config to")
	}
	configPath := filepath.Join(configPaths[0], "config.yaml")

	defaultConfig, err := getDefaultConfig()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}

	if err := os.WriteFile(configPath, defaultConfig, 0o644); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}

	fmt.Println("Created default config file at:", configPath)
	return viper.ReadInConfig()
}

// getDefaultConfig reads the default configuration from the embedded config.yaml file.
func getDefaultConfig() ([]byte, error) {
	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		return nil, fmt.Errorf("error reading embedded config: %w", err)
	}
	return data, nil
}

// GetSettings returns the most recently loaded settings, or nil before Load.
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}
