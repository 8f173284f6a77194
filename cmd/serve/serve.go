package serve

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cassavanet/cassavanet/internal/analysis"
	"github.com/cassavanet/cassavanet/internal/conf"
)

// Command creates a new command running the HTTP API and, optionally, the
// live feed.
func Command(settings *conf.Settings) *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the classification API",
		Long: "Start the HTTP API for uploading leaf photos. With --watch the live feed runs alongside it " +
			"and both share one loaded model.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := analysis.ServeOptions{HTTP: settings.WebServer.Enabled, Watch: watch}
			return analysis.WithPipeline(settings, func(p *analysis.Pipeline) error {
				return analysis.Serve(cmd.Context(), p, opts)
			})
		},
	}

	cmd.Flags().BoolVar(&watch, "watch", false, "Also classify frames written to the camera watch directory")

	if err := setupFlags(cmd, settings); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
		os.Exit(1)
	}

	return cmd
}

// setupFlags configures flags specific to the serve command.
func setupFlags(cmd *cobra.Command, settings *conf.Settings) error {
	cmd.Flags().BoolVar(&settings.WebServer.Enabled, "http", viper.GetBool("webserver.enabled"), "Run the HTTP API")
	cmd.Flags().StringVar(&settings.WebServer.Listen, "listen", viper.GetString("webserver.listen"), "Listen address of the HTTP API")
	cmd.Flags().StringVar(&settings.Camera.WatchDir, "dir", viper.GetString("camera.watchdir"), "Directory new frames are written to")
	cmd.Flags().BoolVar(&settings.MQTT.Enabled, "mqtt", viper.GetBool("mqtt.enabled"), "Publish live predictions to the configured MQTT broker")

	return conf.BindFlags(cmd, map[string]string{
		"webserver.enabled": "http",
		"webserver.listen":  "listen",
		"camera.watchdir":   "dir",
		"mqtt.enabled":      "mqtt",
	})
}
