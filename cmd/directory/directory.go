package directory

import (
	"github.com/spf13/cobra"

	"github.com/cassavanet/cassavanet/internal/analysis"
	"github.com/cassavanet/cassavanet/internal/conf"
	"github.com/cassavanet/cassavanet/internal/display"
)

// Command creates a new cobra.Command for directory analysis.
func Command(settings *conf.Settings) *cobra.Command {
	var opts analysis.DirectoryOptions

	cmd := &cobra.Command{
		Use:   "directory [path]",
		Short: "Classify all images in a directory",
		Long:  "Provide a directory path to classify every .jpg, .png, .gif, .bmp and .webp file within it.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := display.ParseFormat(settings.Output.Format)
			if err != nil {
				return err
			}
			// A directory reads best as a table unless a format was asked for.
			if !cmd.Flags().Changed("format") && format == display.FormatText {
				format = display.FormatTable
			}
			opts.Format = format
			return analysis.WithPipeline(settings, func(p *analysis.Pipeline) error {
				return analysis.DirectoryAnalysis(cmd.Context(), p, args[0], opts, cmd.OutOrStdout())
			})
		},
	}

	setupFlags(cmd, &opts)

	return cmd
}

// setupFlags defines flags specific to the directory command.
func setupFlags(cmd *cobra.Command, opts *analysis.DirectoryOptions) {
	cmd.Flags().BoolVarP(&opts.Recursive, "recursive", "r", false, "Recursively classify subdirectories")
	cmd.Flags().IntVarP(&opts.Workers, "workers", "w", 0, "Concurrent image decoders, 0 for one per CPU up to 8")
}
