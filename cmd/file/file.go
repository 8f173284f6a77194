package file

import (
	"github.com/spf13/cobra"

	"github.com/cassavanet/cassavanet/internal/analysis"
	"github.com/cassavanet/cassavanet/internal/conf"
	"github.com/cassavanet/cassavanet/internal/display"
)

// Command creates a new file command for classifying a single image.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "file [image]",
		Short: "Classify an image file",
		Long:  "Classify a single leaf photo and print the prediction, its accuracy and the inference latency.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := display.ParseFormat(settings.Output.Format)
			if err != nil {
				return err
			}
			return analysis.WithPipeline(settings, func(p *analysis.Pipeline) error {
				return analysis.FileAnalysis(cmd.Context(), p, args[0], format, cmd.OutOrStdout())
			})
		},
	}

	return cmd
}
