// Package cmd assembles the cassavanet command line.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cassavanet/cassavanet/cmd/about"
	"github.com/cassavanet/cassavanet/cmd/directory"
	"github.com/cassavanet/cassavanet/cmd/file"
	"github.com/cassavanet/cassavanet/cmd/labels"
	"github.com/cassavanet/cassavanet/cmd/serve"
	"github.com/cassavanet/cassavanet/cmd/watch"
	"github.com/cassavanet/cassavanet/internal/buildinfo"
	"github.com/cassavanet/cassavanet/internal/conf"
	"github.com/cassavanet/cassavanet/internal/logger"
	"github.com/cassavanet/cassavanet/internal/telemetry"
)

// RootCommand creates and returns the root command
func RootCommand(settings *conf.Settings, info *buildinfo.Context) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "cassavanet",
		Short:         "Cassava leaf disease classifier",
		Long:          "Classify cassava leaf photos into four diseases or healthy using a TensorFlow Lite or ONNX model.",
		Version:       info.String(),
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	// Set up the global flags for the root command.
	if err := setupFlags(rootCmd, settings); err != nil {
		panic(err)
	}

	rootCmd.AddCommand(
		file.Command(settings),
		directory.Command(settings),
		watch.Command(settings),
		serve.Command(settings),
		labels.Command(settings),
		about.Command(settings),
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return initialize(settings)
	}

	return rootCmd
}

// initialize runs after flags are parsed and before any subcommand. Flags may
// have changed settings, so they are validated again before logging and
// telemetry are set up.
func initialize(settings *conf.Settings) error {
	if settings.Debug {
		settings.Logging.DefaultLevel = "debug"
		if settings.Logging.Console != nil {
			settings.Logging.Console.Level = "debug"
		}
	}

	if err := conf.ValidateSettings(settings); err != nil {
		return err
	}

	cl, err := logger.NewCentralLogger(&settings.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	logger.SetGlobal(cl)

	return telemetry.InitSentry(settings)
}

// setupFlags defines flags that are global to the command line interface
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings) error {
	flags := rootCmd.PersistentFlags()
	flags.BoolVarP(&settings.Debug, "debug", "d", viper.GetBool("debug"), "Enable debug output")
	flags.StringVarP(&settings.Model.Path, "model", "m", viper.GetString("model.path"), "Path to the model file")
	flags.StringVar(&settings.Model.Type, "engine", viper.GetString("model.type"), "Inference engine: tflite or onnx")
	flags.IntVar(&settings.Model.Threads, "threads", viper.GetInt("model.threads"), "Inference threads, 0 to detect from the CPU")
	flags.StringVar(&settings.Labels.Path, "labels", viper.GetString("labels.path"), "Path to a labels.json file, empty for the bundled table")
	flags.StringVarP(&settings.Output.Format, "format", "f", viper.GetString("output.format"), "Output format: text, table, json, yaml")

	return conf.BindFlags(rootCmd, map[string]string{
		"debug":         "debug",
		"model.path":    "model",
		"model.type":    "engine",
		"model.threads": "threads",
		"labels.path":   "labels",
		"output.format": "format",
	})
}
