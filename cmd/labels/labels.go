package labels

import (
	"github.com/spf13/cobra"

	"github.com/cassavanet/cassavanet/internal/conf"
	"github.com/cassavanet/cassavanet/internal/display"
	"github.com/cassavanet/cassavanet/internal/labels"
)

// Command creates a new cobra.Command to print the label table.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "labels",
		Short: "Print the label table",
		Long:  "Print the class index to disease name table predictions are reported with.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := display.ParseFormat(settings.Output.Format)
			if err != nil {
				return err
			}
			table, err := labels.Load(settings.Labels.Path)
			if err != nil {
				return err
			}
			return display.RenderLabels(cmd.OutOrStdout(), format, table)
		},
	}

	return cmd
}
