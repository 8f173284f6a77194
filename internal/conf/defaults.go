// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("main.name", "cassavanet")

	viper.SetDefault("model.path", "model.tflite")
	viper.SetDefault("model.type", EngineTFLite)
	viper.SetDefault("model.threads", 0)
	viper.SetDefault("model.usexnnpack", true)
	viper.SetDefault("model.inputsize", 224)
	viper.SetDefault("model.onnx.librarypath", "")
	viper.SetDefault("model.onnx.inputname", "input")
	viper.SetDefault("model.onnx.outputname", "output")

	viper.SetDefault("labels.path", "")

	viper.SetDefault("camera.watchdir", "frames")
	viper.SetDefault("camera.rotation", 0)
	viper.SetDefault("camera.maxfps", 5.0)

	viper.SetDefault("webserver.enabled", true)
	viper.SetDefault("webserver.listen", ":8080")
	viper.SetDefault("webserver.resultttl", 5*time.Minute)
	viper.SetDefault("webserver.maxuploadsize", 10<<20)

	viper.SetDefault("mqtt.enabled", false)
	viper.SetDefault("mqtt.broker", "tcp://localhost:1883")
	viper.SetDefault("mqtt.topic", "cassavanet/predictions")
	viper.SetDefault("mqtt.clientid", "cassavanet")
	viper.SetDefault("mqtt.username", "")
	viper.SetDefault("mqtt.password", "")
	viper.SetDefault("mqtt.qos", 0)
	viper.SetDefault("mqtt.retain", false)

	viper.SetDefault("output.format", "text")

	viper.SetDefault("logging.default_level", "info")
	viper.SetDefault("logging.timezone", "Local")
	viper.SetDefault("logging.console.enabled", true)
	viper.SetDefault("logging.console.level", "info")
	viper.SetDefault("logging.file_output.enabled", false)
	viper.SetDefault("logging.file_output.path", "logs/cassavanet.log")
	viper.SetDefault("logging.file_output.level", "info")

	viper.SetDefault("sentry.enabled", false)
	viper.SetDefault("sentry.dsn", "")
	viper.SetDefault("sentry.debug", false)
}
