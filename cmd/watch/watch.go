package watch

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cassavanet/cassavanet/internal/analysis"
	"github.com/cassavanet/cassavanet/internal/conf"
	"github.com/cassavanet/cassavanet/internal/display"
)

// Command creates a new command for live feed classification.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Classify frames as they arrive in a directory",
		Long: "Watch a directory a camera writes frames to and classify the newest frame whenever the " +
			"classifier is free. Frames that arrive while a prediction is running are replaced by newer ones.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := display.ParseFormat(settings.Output.Format)
			if err != nil {
				return err
			}
			return analysis.WithPipeline(settings, func(p *analysis.Pipeline) error {
				return analysis.RealtimeAnalysis(cmd.Context(), p, format, cmd.OutOrStdout())
			})
		},
	}

	// Set up flags specific to the 'watch' command
	if err := setupFlags(cmd, settings); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
		os.Exit(1)
	}

	return cmd
}

// setupFlags configures flags specific to the watch command.
func setupFlags(cmd *cobra.Command, settings *conf.Settings) error {
	cmd.Flags().StringVar(&settings.Camera.WatchDir, "dir", viper.GetString("camera.watchdir"), "Directory new frames are written to")
	cmd.Flags().IntVar(&settings.Camera.Rotation, "rotation", viper.GetInt("camera.rotation"), "Clockwise sensor rotation: 0, 90, 180 or 270")
	cmd.Flags().Float64Var(&settings.Camera.MaxFPS, "maxfps", viper.GetFloat64("camera.maxfps"), "Maximum frames per second to classify, 0 for unlimited")
	cmd.Flags().BoolVar(&settings.MQTT.Enabled, "mqtt", viper.GetBool("mqtt.enabled"), "Publish predictions to the configured MQTT broker")

	return conf.BindFlags(cmd, map[string]string{
		"camera.watchdir": "dir",
		"camera.rotation": "rotation",
		"camera.maxfps":   "maxfps",
		"mqtt.enabled":    "mqtt",
	})
}
